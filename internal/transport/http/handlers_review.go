package httptransport

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"concord/internal/identity"
	"concord/internal/platform/middleware"
	"concord/internal/transport/http/shared"
	"concord/pkg/domain"
	domainerrors "concord/pkg/domain-errors"
)

// ReviewService exposes the manual review queue.
type ReviewService interface {
	List(ctx context.Context) ([]identity.Subject, error)
	Resolve(ctx context.Context, globalID domain.GlobalID) error
}

// ReviewHandler serves the review queue endpoints.
type ReviewHandler struct {
	review       ReviewService
	logger       *slog.Logger
	jwtValidator middleware.JWTValidator
}

func NewReviewHandler(review ReviewService, logger *slog.Logger, jwtValidator middleware.JWTValidator) *ReviewHandler {
	return &ReviewHandler{review: review, logger: logger, jwtValidator: jwtValidator}
}

func (h *ReviewHandler) Register(r chi.Router) {
	r.Group(func(r chi.Router) {
		r.Use(middleware.Timeout(30 * time.Second))
		r.Use(middleware.RequireAuth(h.jwtValidator, h.logger))
		r.Get("/review", h.handleList)
		r.Post("/review/{globalID}/resolve", h.handleResolve)
	})
}

type reviewSubject struct {
	GlobalID  string            `json:"global_id"`
	CenterID  int64             `json:"center_id"`
	Attrs     map[string]string `json:"attributes,omitempty"`
	Withdrawn bool              `json:"withdrawn,omitempty"`
}

func (h *ReviewHandler) handleList(w http.ResponseWriter, r *http.Request) {
	ctx := actorContext(r)

	flagged, err := h.review.List(ctx)
	if err != nil {
		shared.WriteError(w, err)
		return
	}

	subjects := make([]reviewSubject, 0, len(flagged))
	for _, subject := range flagged {
		subjects = append(subjects, reviewSubject{
			GlobalID:  subject.GlobalID.String(),
			CenterID:  int64(subject.CenterID),
			Attrs:     subject.Attributes,
			Withdrawn: subject.Withdrawn,
		})
	}
	shared.WriteJSON(w, http.StatusOK, map[string]any{"subjects": subjects})
}

func (h *ReviewHandler) handleResolve(w http.ResponseWriter, r *http.Request) {
	ctx := actorContext(r)

	globalID, err := domain.ParseGlobalID(chi.URLParam(r, "globalID"))
	if err != nil {
		shared.WriteError(w, domainerrors.New(domainerrors.CodeBadRequest, "invalid global id"))
		return
	}

	if err := h.review.Resolve(ctx, globalID); err != nil {
		shared.WriteError(w, err)
		return
	}

	h.logger.InfoContext(ctx, "review resolved via api",
		"request_id", middleware.GetRequestID(ctx),
		"global_id", globalID,
	)
	w.WriteHeader(http.StatusNoContent)
}
