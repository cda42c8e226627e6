package httptransport

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"concord/internal/batch"
	"concord/internal/platform/middleware"
	"concord/internal/queue"
	"concord/internal/transport/http/shared"
	"concord/internal/upsert"
	"concord/pkg/domain"
	domainerrors "concord/pkg/domain-errors"
	"concord/pkg/requestcontext"
)

// UpsertService applies single records directly, outside the queue.
type UpsertService interface {
	Apply(ctx context.Context, table string, record upsert.Record, prov upsert.Provenance) (upsert.Outcome, error)
}

// QueueService enqueues fragments and reports batch accounting.
type QueueService interface {
	Enqueue(ctx context.Context, table string, batchID domain.BatchID, source string, payload json.RawMessage) (queue.Entry, error)
	Counts(ctx context.Context, batchID domain.BatchID) (map[queue.Status]int, error)
}

// BatchRunner executes one batch load.
type BatchRunner interface {
	Run(ctx context.Context, batchID domain.BatchID, dryRun bool) (batch.Report, error)
}

// RecordsHandler serves direct record application, fragment enqueueing, and
// batch loads.
type RecordsHandler struct {
	upserts      UpsertService
	queue        QueueService
	batches      BatchRunner
	logger       *slog.Logger
	jwtValidator middleware.JWTValidator
}

func NewRecordsHandler(upserts UpsertService, q QueueService, batches BatchRunner, logger *slog.Logger, jwtValidator middleware.JWTValidator) *RecordsHandler {
	return &RecordsHandler{upserts: upserts, queue: q, batches: batches, logger: logger, jwtValidator: jwtValidator}
}

func (h *RecordsHandler) Register(r chi.Router) {
	r.Group(func(r chi.Router) {
		r.Use(middleware.Timeout(2 * time.Minute))
		r.Use(middleware.RequireAuth(h.jwtValidator, h.logger))
		r.Post("/records/{table}", h.handleApplyRecord)
		r.Post("/fragments", h.handleEnqueue)
		r.Post("/batches/{batchID}/load", h.handleLoadBatch)
		r.Get("/batches/{batchID}/status", h.handleBatchStatus)
	})
}

type applyRecordRequest struct {
	Record upsert.Record `json:"record"`
	Source string        `json:"source"`
}

func (h *RecordsHandler) handleApplyRecord(w http.ResponseWriter, r *http.Request) {
	ctx := actorContext(r)
	table := chi.URLParam(r, "table")

	var req applyRecordRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || len(req.Record) == 0 {
		shared.WriteError(w, domainerrors.New(domainerrors.CodeBadRequest, "invalid request body"))
		return
	}

	prov := upsert.Provenance{
		SourceSystem: req.Source,
		BatchID:      domain.NewBatchID(),
		Actor:        requestcontext.Actor(ctx),
		At:           requestcontext.Now(ctx),
	}
	outcome, err := h.upserts.Apply(ctx, table, req.Record, prov)
	if err != nil {
		h.logger.ErrorContext(ctx, "apply record failed",
			"request_id", middleware.GetRequestID(ctx),
			"table", table,
			"error", err,
		)
		shared.WriteError(w, domainerrors.New(domainerrors.CodeBadRequest, err.Error()))
		return
	}

	shared.WriteJSON(w, http.StatusOK, map[string]any{
		"outcome": outcome.Kind,
		"reason":  outcome.Reason,
		"detail":  outcome.Detail,
	})
}

type enqueueRequest struct {
	Table   string          `json:"table"`
	BatchID string          `json:"batch_id"`
	Source  string          `json:"source"`
	Payload json.RawMessage `json:"payload"`
}

func (h *RecordsHandler) handleEnqueue(w http.ResponseWriter, r *http.Request) {
	ctx := actorContext(r)

	var req enqueueRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		shared.WriteError(w, domainerrors.New(domainerrors.CodeBadRequest, "invalid request body"))
		return
	}
	batchID, err := domain.ParseBatchID(req.BatchID)
	if err != nil {
		shared.WriteError(w, domainerrors.New(domainerrors.CodeBadRequest, "invalid batch_id"))
		return
	}

	entry, err := h.queue.Enqueue(ctx, req.Table, batchID, req.Source, req.Payload)
	if err != nil {
		shared.WriteError(w, err)
		return
	}
	shared.WriteJSON(w, http.StatusAccepted, map[string]any{
		"fragment_id": entry.FragmentID,
		"status":      entry.Status,
	})
}

func (h *RecordsHandler) handleLoadBatch(w http.ResponseWriter, r *http.Request) {
	ctx := actorContext(r)

	batchID, err := domain.ParseBatchID(chi.URLParam(r, "batchID"))
	if err != nil {
		shared.WriteError(w, domainerrors.New(domainerrors.CodeBadRequest, "invalid batch id"))
		return
	}
	dryRun := r.URL.Query().Get("dry_run") == "true"

	report, err := h.batches.Run(ctx, batchID, dryRun)
	if err != nil {
		h.logger.ErrorContext(ctx, "batch load failed",
			"request_id", middleware.GetRequestID(ctx),
			"batch_id", batchID,
			"error", err,
		)
		shared.WriteError(w, err)
		return
	}
	shared.WriteJSON(w, http.StatusOK, report)
}

func (h *RecordsHandler) handleBatchStatus(w http.ResponseWriter, r *http.Request) {
	ctx := actorContext(r)

	batchID, err := domain.ParseBatchID(chi.URLParam(r, "batchID"))
	if err != nil {
		shared.WriteError(w, domainerrors.New(domainerrors.CodeBadRequest, "invalid batch id"))
		return
	}

	counts, err := h.queue.Counts(ctx, batchID)
	if err != nil {
		shared.WriteError(w, err)
		return
	}
	shared.WriteJSON(w, http.StatusOK, map[string]any{
		"batch_id": batchID,
		"counts":   counts,
	})
}
