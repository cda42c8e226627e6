package identity

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/google/uuid"

	"concord/internal/platform/metrics"
	"concord/pkg/domain"
	dErrors "concord/pkg/domain-errors"
	"concord/pkg/platform/sentinel"
	"concord/pkg/requestcontext"
)

// aliasConfidence is reported when a cross-type alias match is used instead of
// an exact natural-key hit.
const aliasConfidence = 0.9

// Config tunes resolver behavior per environment.
type Config struct {
	// CrossTypeAlias enables the de-duplication heuristic that matches a
	// local value registered under a different identifier type at the same
	// center.
	CrossTypeAlias bool
}

// Service resolves local identifiers to global subject identifiers.
type Service struct {
	subjects SubjectStore
	localIDs LocalIdentifierStore
	log      ResolutionLog
	cfg      Config
	logger   *slog.Logger
	metrics  *metrics.Metrics
}

// New constructs the resolver. All stores are required.
func New(subjects SubjectStore, localIDs LocalIdentifierStore, log ResolutionLog, cfg Config, logger *slog.Logger, m *metrics.Metrics) (*Service, error) {
	if subjects == nil {
		return nil, errors.New("subject store is required")
	}
	if localIDs == nil {
		return nil, errors.New("local identifier store is required")
	}
	if log == nil {
		return nil, errors.New("resolution log is required")
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		subjects: subjects,
		localIDs: localIDs,
		log:      log,
		cfg:      cfg,
		logger:   logger,
		metrics:  m,
	}, nil
}

// Resolve maps (center, local value, identifier type) to a global subject id.
//
// The branch order is the correctness backbone: exact match first makes the
// call idempotent; the store's uniqueness constraint plus retry-as-lookup
// closes the concurrent create race. Every call appends exactly one
// ResolutionRecord.
func (s *Service) Resolve(ctx context.Context, req ResolveRequest) (Resolution, error) {
	if req.LocalValue == "" {
		return Resolution{}, dErrors.New(dErrors.CodeInvalidInput, "local value is required")
	}
	if req.IDType == "" {
		return Resolution{}, dErrors.New(dErrors.CodeInvalidInput, "identifier type is required")
	}

	// 1. Exact match on the natural key.
	existing, err := s.localIDs.Find(ctx, req.CenterID, req.LocalValue, req.IDType)
	switch {
	case err == nil:
		if !req.ExpectedGlobalID.IsZero() && req.ExpectedGlobalID != existing.GlobalID {
			return s.conflict(ctx, req, existing)
		}
		return s.exact(ctx, req, existing.GlobalID)
	case errors.Is(err, sentinel.ErrNotFound):
		// fall through to alias / create
	default:
		return Resolution{}, fmt.Errorf("find local identifier: %w", err)
	}

	// 2. Cross-type alias match.
	if s.cfg.CrossTypeAlias {
		res, ok, err := s.aliasMatch(ctx, req)
		if err != nil {
			return Resolution{}, err
		}
		if ok {
			return res, nil
		}
	}

	// 3. Create a new subject and identifier mapping.
	return s.createNew(ctx, req)
}

func (s *Service) exact(ctx context.Context, req ResolveRequest, globalID domain.GlobalID) (Resolution, error) {
	subject, err := s.subjects.FindByGlobalID(ctx, globalID)
	if err != nil {
		return Resolution{}, fmt.Errorf("find subject %s: %w", globalID, err)
	}

	res := Resolution{
		GlobalID:   subject.GlobalID,
		Strategy:   StrategyExact,
		Confidence: 1.0,
		// A flagged subject blocks automatic registration downstream until an
		// operator resolves the review.
		RequiresReview: subject.FlaggedForReview,
		// Withdrawn subjects are still returned as-is; downstream policy
		// decides what to do, the resolver never substitutes a different
		// subject.
		Withdrawn: subject.Withdrawn,
	}
	if err := s.append(ctx, req, res); err != nil {
		return Resolution{}, err
	}
	s.metrics.ObserveResolution(string(StrategyExact))
	return res, nil
}

func (s *Service) aliasMatch(ctx context.Context, req ResolveRequest) (Resolution, bool, error) {
	candidates, err := s.localIDs.FindByValue(ctx, req.CenterID, req.LocalValue)
	if err != nil && !errors.Is(err, sentinel.ErrNotFound) {
		return Resolution{}, false, fmt.Errorf("find identifiers by value: %w", err)
	}
	for _, candidate := range candidates {
		if candidate.IDType == req.IDType {
			continue
		}
		res := Resolution{
			GlobalID:   candidate.GlobalID,
			Strategy:   StrategyAlias,
			Confidence: aliasConfidence,
		}
		if err := s.append(ctx, req, res); err != nil {
			return Resolution{}, false, err
		}
		s.metrics.ObserveResolution(string(StrategyAlias))
		s.logger.InfoContext(ctx, "cross-type alias match",
			"center_id", req.CenterID,
			"id_type", req.IDType,
			"matched_type", candidate.IDType,
			"global_id", candidate.GlobalID,
		)
		return res, true, nil
	}
	return Resolution{}, false, nil
}

func (s *Service) createNew(ctx context.Context, req ResolveRequest) (Resolution, error) {
	now := requestcontext.Now(ctx)
	subject := Subject{
		GlobalID:  domain.GenerateGlobalID(),
		CenterID:  req.CenterID,
		CreatedAt: now,
		CreatedBy: requestcontext.Actor(ctx),
		UpdatedAt: now,
	}
	localID := LocalIdentifier{
		CenterID:   req.CenterID,
		LocalValue: req.LocalValue,
		IDType:     req.IDType,
		GlobalID:   subject.GlobalID,
		CreatedAt:  now,
	}

	err := s.localIDs.Register(ctx, subject, localID)
	if err == nil {
		res := Resolution{
			GlobalID:   subject.GlobalID,
			Strategy:   StrategyCreateNew,
			Confidence: 1.0,
		}
		if err := s.append(ctx, req, res); err != nil {
			return Resolution{}, err
		}
		s.metrics.ObserveResolution(string(StrategyCreateNew))
		return res, nil
	}
	if !errors.Is(err, sentinel.ErrDuplicate) {
		return Resolution{}, fmt.Errorf("register subject: %w", err)
	}

	// Lost a concurrent create race: the uniqueness constraint rejected our
	// insert, so re-query once and adopt the winner's global id instead of
	// creating a duplicate subject.
	winner, err := s.localIDs.Find(ctx, req.CenterID, req.LocalValue, req.IDType)
	if err != nil {
		return Resolution{}, fmt.Errorf("re-query after duplicate create: %w", err)
	}
	s.logger.InfoContext(ctx, "duplicate create race recovered",
		"center_id", req.CenterID,
		"id_type", req.IDType,
		"winner_global_id", winner.GlobalID,
	)
	return s.exact(ctx, req, winner.GlobalID)
}

// conflict handles a stored mapping that disagrees with the caller's expected
// subject. Neither subject is merged or overwritten; both are flagged for
// human review and registration on this identifier stays blocked until an
// operator resolves it.
func (s *Service) conflict(ctx context.Context, req ResolveRequest, existing LocalIdentifier) (Resolution, error) {
	if err := s.subjects.SetReviewFlag(ctx, existing.GlobalID, true); err != nil {
		return Resolution{}, fmt.Errorf("flag existing subject: %w", err)
	}
	if err := s.subjects.SetReviewFlag(ctx, req.ExpectedGlobalID, true); err != nil && !errors.Is(err, sentinel.ErrNotFound) {
		return Resolution{}, fmt.Errorf("flag expected subject: %w", err)
	}

	res := Resolution{
		Strategy:       StrategyConflict,
		RequiresReview: true,
	}
	if err := s.append(ctx, req, res); err != nil {
		return Resolution{}, err
	}
	s.metrics.ObserveResolution(string(StrategyConflict))
	s.logger.WarnContext(ctx, "conflicting identifier",
		"center_id", req.CenterID,
		"id_type", req.IDType,
		"stored_global_id", existing.GlobalID,
		"expected_global_id", req.ExpectedGlobalID,
	)
	return res, nil
}

// append writes the one ResolutionRecord every attempt produces.
func (s *Service) append(ctx context.Context, req ResolveRequest, res Resolution) error {
	record := ResolutionRecord{
		ID:             uuid.New(),
		CenterID:       req.CenterID,
		LocalValue:     req.LocalValue,
		IDType:         req.IDType,
		Strategy:       res.Strategy,
		Confidence:     res.Confidence,
		RequiresReview: res.RequiresReview,
		Actor:          requestcontext.Actor(ctx),
		CreatedAt:      requestcontext.Now(ctx),
	}
	if !res.GlobalID.IsZero() {
		globalID := res.GlobalID
		record.GlobalID = &globalID
	}
	if err := s.log.Append(ctx, record); err != nil {
		return fmt.Errorf("append resolution record: %w", err)
	}
	return nil
}

// Withdraw marks a subject withdrawn. Subjects are never deleted.
func (s *Service) Withdraw(ctx context.Context, globalID domain.GlobalID) error {
	if err := s.subjects.SetWithdrawn(ctx, globalID, true); err != nil {
		if errors.Is(err, sentinel.ErrNotFound) {
			return dErrors.New(dErrors.CodeNotFound, "subject not found")
		}
		return fmt.Errorf("withdraw subject: %w", err)
	}
	return nil
}

// History returns the resolution attempts recorded for one identifier.
func (s *Service) History(ctx context.Context, centerID domain.CenterID, localValue string, idType domain.IdentifierType) ([]ResolutionRecord, error) {
	records, err := s.log.ListByIdentifier(ctx, centerID, localValue, idType)
	if err != nil {
		return nil, fmt.Errorf("list resolution records: %w", err)
	}
	return records, nil
}
