package httptransport

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"concord/internal/identity"
	"concord/internal/platform/middleware"
	"concord/internal/refdata"
	"concord/internal/transport/http/shared"
	"concord/pkg/domain"
	domainerrors "concord/pkg/domain-errors"
	"concord/pkg/requestcontext"
)

// IdentityService defines the identity operations the handler needs.
type IdentityService interface {
	Resolve(ctx context.Context, req identity.ResolveRequest) (identity.Resolution, error)
	Withdraw(ctx context.Context, globalID domain.GlobalID) error
	History(ctx context.Context, centerID domain.CenterID, localValue string, idType domain.IdentifierType) ([]identity.ResolutionRecord, error)
}

// ReferenceResolver resolves free-text center names to canonical entries.
type ReferenceResolver interface {
	Resolve(ctx context.Context, raw string) (refdata.Match, error)
}

// IdentityHandler serves identity resolution and subject lifecycle endpoints.
type IdentityHandler struct {
	identity     IdentityService
	centers      ReferenceResolver
	logger       *slog.Logger
	jwtValidator middleware.JWTValidator
}

func NewIdentityHandler(svc IdentityService, centers ReferenceResolver, logger *slog.Logger, jwtValidator middleware.JWTValidator) *IdentityHandler {
	return &IdentityHandler{identity: svc, centers: centers, logger: logger, jwtValidator: jwtValidator}
}

func (h *IdentityHandler) Register(r chi.Router) {
	r.Group(func(r chi.Router) {
		r.Use(middleware.Timeout(30 * time.Second))
		r.Use(middleware.RequireAuth(h.jwtValidator, h.logger))
		r.Post("/identity/resolve", h.handleResolve)
		r.Post("/identity/{globalID}/withdraw", h.handleWithdraw)
		r.Get("/identity/history", h.handleHistory)
	})
}

type resolveRequest struct {
	// Center is the source's free-text center name; it goes through the
	// reference resolver before identity resolution.
	Center     string `json:"center"`
	LocalID    string `json:"local_id"`
	IDType     string `json:"id_type"`
	ExpectedID string `json:"expected_global_id,omitempty"`
}

type resolveResponse struct {
	GlobalID       string  `json:"global_id,omitempty"`
	Strategy       string  `json:"strategy"`
	Confidence     float64 `json:"confidence"`
	RequiresReview bool    `json:"requires_review"`
	Withdrawn      bool    `json:"withdrawn,omitempty"`
	CenterID       int64   `json:"center_id"`
	CenterMatch    string  `json:"center_match"`
}

func (h *IdentityHandler) handleResolve(w http.ResponseWriter, r *http.Request) {
	ctx := actorContext(r)

	var req resolveRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		shared.WriteError(w, domainerrors.New(domainerrors.CodeBadRequest, "invalid request body"))
		return
	}

	match, err := h.centers.Resolve(ctx, req.Center)
	if err != nil {
		h.logger.WarnContext(ctx, "center resolution failed",
			"request_id", middleware.GetRequestID(ctx),
			"center", req.Center,
			"error", err,
		)
		shared.WriteError(w, err)
		return
	}

	resolveReq := identity.ResolveRequest{
		CenterID:   match.Center.ID,
		LocalValue: req.LocalID,
		IDType:     domain.IdentifierType(req.IDType),
	}
	if req.ExpectedID != "" {
		expected, err := domain.ParseGlobalID(req.ExpectedID)
		if err != nil {
			shared.WriteError(w, domainerrors.New(domainerrors.CodeBadRequest, "invalid expected_global_id"))
			return
		}
		resolveReq.ExpectedGlobalID = expected
	}

	resolution, err := h.identity.Resolve(ctx, resolveReq)
	if err != nil {
		h.logger.ErrorContext(ctx, "identity resolution failed",
			"request_id", middleware.GetRequestID(ctx),
			"error", err,
		)
		shared.WriteError(w, err)
		return
	}

	shared.WriteJSON(w, http.StatusOK, resolveResponse{
		GlobalID:       resolution.GlobalID.String(),
		Strategy:       string(resolution.Strategy),
		Confidence:     resolution.Confidence,
		RequiresReview: resolution.RequiresReview,
		Withdrawn:      resolution.Withdrawn,
		CenterID:       int64(match.Center.ID),
		CenterMatch:    string(match.Kind),
	})
}

func (h *IdentityHandler) handleWithdraw(w http.ResponseWriter, r *http.Request) {
	ctx := actorContext(r)

	globalID, err := domain.ParseGlobalID(chi.URLParam(r, "globalID"))
	if err != nil {
		shared.WriteError(w, domainerrors.New(domainerrors.CodeBadRequest, "invalid global id"))
		return
	}

	if err := h.identity.Withdraw(ctx, globalID); err != nil {
		shared.WriteError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *IdentityHandler) handleHistory(w http.ResponseWriter, r *http.Request) {
	ctx := actorContext(r)

	centerID, err := strconv.ParseInt(r.URL.Query().Get("center_id"), 10, 64)
	if err != nil {
		shared.WriteError(w, domainerrors.New(domainerrors.CodeBadRequest, "invalid center_id"))
		return
	}
	localValue := r.URL.Query().Get("local_id")
	idType := r.URL.Query().Get("id_type")
	if localValue == "" || idType == "" {
		shared.WriteError(w, domainerrors.New(domainerrors.CodeBadRequest, "local_id and id_type are required"))
		return
	}

	records, err := h.identity.History(ctx, domain.CenterID(centerID), localValue, domain.IdentifierType(idType))
	if err != nil {
		shared.WriteError(w, err)
		return
	}
	shared.WriteJSON(w, http.StatusOK, map[string]any{"records": records})
}

// actorContext copies the authenticated actor into the request-scoped context
// the services read.
func actorContext(r *http.Request) context.Context {
	ctx := r.Context()
	if actor := middleware.GetActorID(ctx); actor != "" {
		ctx = requestcontext.WithActor(ctx, actor)
	}
	if requestID := middleware.GetRequestID(ctx); requestID != "" {
		ctx = requestcontext.WithRequestID(ctx, requestID)
	}
	return ctx
}
