// Package review exposes the manual review queue: subjects flagged by
// identity conflicts, listed for operators and cleared once resolved.
package review

import (
	"context"
	"errors"
	"log/slog"

	"concord/internal/identity"
	"concord/internal/platform/metrics"
	"concord/pkg/domain"
	domainerrors "concord/pkg/domain-errors"
	"concord/pkg/platform/sentinel"
	"concord/pkg/requestcontext"
)

// Service lists and resolves flagged subjects.
type Service struct {
	subjects identity.SubjectStore
	logger   *slog.Logger
	metrics  *metrics.Metrics
}

func NewService(subjects identity.SubjectStore, logger *slog.Logger, m *metrics.Metrics) (*Service, error) {
	if subjects == nil {
		return nil, errors.New("subject store is required")
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{subjects: subjects, logger: logger, metrics: m}, nil
}

// List returns every subject currently flagged for review.
func (s *Service) List(ctx context.Context) ([]identity.Subject, error) {
	flagged, err := s.subjects.ListFlagged(ctx)
	if err != nil {
		return nil, domainerrors.Wrap(domainerrors.CodeInternal, "list review queue", err)
	}
	s.metrics.SetReviewQueueSize(len(flagged))
	return flagged, nil
}

// Resolve clears a subject's review flag, unblocking automatic registration
// on its identifiers.
func (s *Service) Resolve(ctx context.Context, globalID domain.GlobalID) error {
	subject, err := s.subjects.FindByGlobalID(ctx, globalID)
	if errors.Is(err, sentinel.ErrNotFound) {
		return domainerrors.New(domainerrors.CodeNotFound, "subject not found")
	}
	if err != nil {
		return domainerrors.Wrap(domainerrors.CodeInternal, "load subject", err)
	}
	if !subject.FlaggedForReview {
		return domainerrors.New(domainerrors.CodeConflict, "subject is not flagged for review")
	}

	if err := s.subjects.SetReviewFlag(ctx, globalID, false); err != nil {
		return domainerrors.Wrap(domainerrors.CodeInternal, "clear review flag", err)
	}

	s.logger.InfoContext(ctx, "review resolved",
		"global_id", globalID,
		"actor", requestcontext.Actor(ctx),
	)
	return nil
}
