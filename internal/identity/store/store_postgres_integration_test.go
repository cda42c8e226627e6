//go:build integration

package store_test

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/suite"

	"concord/internal/identity"
	"concord/internal/identity/store"
	"concord/pkg/domain"
	"concord/pkg/platform/sentinel"
	"concord/pkg/testutil/containers"
)

type PostgresIdentitySuite struct {
	suite.Suite
	postgres    *containers.PostgresContainer
	subjects    *store.PostgresSubjectStore
	identifiers *store.PostgresLocalIdentifierStore
	log         *store.PostgresResolutionLog
}

func TestPostgresIdentitySuite(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}
	suite.Run(t, new(PostgresIdentitySuite))
}

func (s *PostgresIdentitySuite) SetupSuite() {
	mgr := containers.GetManager()
	s.postgres = mgr.GetPostgres(s.T())
	s.subjects = store.NewPostgresSubjectStore(s.postgres.DB)
	s.identifiers = store.NewPostgresLocalIdentifierStore(s.postgres.DB)
	s.log = store.NewPostgresResolutionLog(s.postgres.DB)
}

func (s *PostgresIdentitySuite) SetupTest() {
	ctx := context.Background()
	err := s.postgres.TruncateTables(ctx,
		"local_identifiers", "subject_attributes", "subjects", "identity_resolution_log")
	s.Require().NoError(err)
}

func (s *PostgresIdentitySuite) newSubject(centerID domain.CenterID) (identity.Subject, identity.LocalIdentifier) {
	now := time.Now().UTC().Truncate(time.Microsecond)
	globalID := domain.GenerateGlobalID()
	subject := identity.Subject{
		GlobalID:  globalID,
		CenterID:  centerID,
		CreatedAt: now,
		CreatedBy: "loader-test",
		UpdatedAt: now,
	}
	localID := identity.LocalIdentifier{
		CenterID:   centerID,
		LocalValue: "GAP-" + globalID.String()[:8],
		IDType:     "consortium_id",
		GlobalID:   globalID,
		CreatedAt:  now,
	}
	return subject, localID
}

func (s *PostgresIdentitySuite) TestRegisterAndFindRoundTrip() {
	ctx := context.Background()
	subject, localID := s.newSubject(1)

	s.Require().NoError(s.identifiers.Register(ctx, subject, localID))

	found, err := s.identifiers.Find(ctx, localID.CenterID, localID.LocalValue, localID.IDType)
	s.Require().NoError(err)
	s.Equal(subject.GlobalID, found.GlobalID)

	stored, err := s.subjects.FindByGlobalID(ctx, subject.GlobalID)
	s.Require().NoError(err)
	s.Equal(subject.CenterID, stored.CenterID)
	s.Equal("loader-test", stored.CreatedBy)
	s.False(stored.Withdrawn)
}

func (s *PostgresIdentitySuite) TestRegisterDuplicateIdentifier() {
	ctx := context.Background()
	subject, localID := s.newSubject(1)
	s.Require().NoError(s.identifiers.Register(ctx, subject, localID))

	// Same (center, value, type) triple under a fresh subject must trip the
	// uniqueness constraint, not silently remap.
	other, _ := s.newSubject(1)
	dup := localID
	dup.GlobalID = other.GlobalID

	err := s.identifiers.Register(ctx, other, dup)
	s.ErrorIs(err, sentinel.ErrDuplicate)

	found, err := s.identifiers.Find(ctx, localID.CenterID, localID.LocalValue, localID.IDType)
	s.Require().NoError(err)
	s.Equal(subject.GlobalID, found.GlobalID, "original mapping must survive")
}

// TestConcurrentRegisterSameIdentifier verifies the check-then-insert race:
// resolvers racing to register the same triple produce exactly one winner and
// losers that can recover by re-reading.
func (s *PostgresIdentitySuite) TestConcurrentRegisterSameIdentifier() {
	ctx := context.Background()
	const goroutines = 20

	var wg sync.WaitGroup
	var wins, duplicates atomic.Int32

	for i := 0; i < goroutines; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()

			subject, localID := s.newSubject(3)
			localID.LocalValue = "RACE-1"

			switch err := s.identifiers.Register(ctx, subject, localID); {
			case err == nil:
				wins.Add(1)
			case err == sentinel.ErrDuplicate:
				duplicates.Add(1)
			}
		}()
	}
	wg.Wait()

	s.Equal(int32(1), wins.Load(), "exactly one registration should win")
	s.Equal(int32(goroutines-1), duplicates.Load())

	_, err := s.identifiers.Find(ctx, 3, "RACE-1", "consortium_id")
	s.Require().NoError(err)
}

func (s *PostgresIdentitySuite) TestFindByValueSpansIdentifierTypes() {
	ctx := context.Background()
	subject, localID := s.newSubject(2)
	s.Require().NoError(s.identifiers.Register(ctx, subject, localID))

	alias := localID
	alias.IDType = "kindred_id"
	// Second row reuses the subject; only the identifier mapping differs.
	_, err := s.postgres.DB.ExecContext(ctx, `
		INSERT INTO local_identifiers (center_id, local_value, id_type, global_id, created_at)
		VALUES ($1, $2, $3, $4, $5)
	`, int64(alias.CenterID), alias.LocalValue, string(alias.IDType), alias.GlobalID.String(), alias.CreatedAt)
	s.Require().NoError(err)

	matches, err := s.identifiers.FindByValue(ctx, localID.CenterID, localID.LocalValue)
	s.Require().NoError(err)
	s.Require().Len(matches, 2)
	s.Equal(domain.IdentifierType("consortium_id"), matches[0].IDType)
	s.Equal(domain.IdentifierType("kindred_id"), matches[1].IDType)

	_, err = s.identifiers.FindByValue(ctx, localID.CenterID, "missing")
	s.ErrorIs(err, sentinel.ErrNotFound)
}

func (s *PostgresIdentitySuite) TestSubjectFlagsAndAttributes() {
	ctx := context.Background()
	subject, localID := s.newSubject(1)
	s.Require().NoError(s.identifiers.Register(ctx, subject, localID))

	s.Require().NoError(s.subjects.SetReviewFlag(ctx, subject.GlobalID, true))
	s.Require().NoError(s.subjects.SetWithdrawn(ctx, subject.GlobalID, true))
	s.Require().NoError(s.subjects.UpdateAttributes(ctx, subject.GlobalID, map[string]string{
		"sex":       "F",
		"birthyear": "1971",
	}))

	flagged, err := s.subjects.ListFlagged(ctx)
	s.Require().NoError(err)
	s.Require().Len(flagged, 1)
	s.Equal(subject.GlobalID, flagged[0].GlobalID)

	stored, err := s.subjects.FindByGlobalID(ctx, subject.GlobalID)
	s.Require().NoError(err)
	s.True(stored.Withdrawn)
	s.True(stored.FlaggedForReview)
	s.Equal("F", stored.Attributes["sex"])

	s.Require().NoError(s.subjects.SetReviewFlag(ctx, subject.GlobalID, false))
	flagged, err = s.subjects.ListFlagged(ctx)
	s.Require().NoError(err)
	s.Empty(flagged)

	err = s.subjects.SetReviewFlag(ctx, domain.GenerateGlobalID(), true)
	s.ErrorIs(err, sentinel.ErrNotFound)
}

func (s *PostgresIdentitySuite) TestResolutionLogAppendAndList() {
	ctx := context.Background()
	now := time.Now().UTC().Truncate(time.Microsecond)
	globalID := domain.GenerateGlobalID()

	records := []identity.ResolutionRecord{
		{
			ID: uuid.New(), CenterID: 5, LocalValue: "GAP-77", IDType: "consortium_id",
			GlobalID: &globalID, Strategy: identity.StrategyCreateNew,
			Confidence: 1.0, Actor: "loader-test", CreatedAt: now,
		},
		{
			// Conflict rows resolve to no subject at all.
			ID: uuid.New(), CenterID: 5, LocalValue: "GAP-77", IDType: "consortium_id",
			GlobalID: nil, Strategy: identity.StrategyConflict,
			Confidence: 0, RequiresReview: true, Actor: "loader-test", CreatedAt: now.Add(time.Second),
		},
	}
	for _, record := range records {
		s.Require().NoError(s.log.Append(ctx, record))
	}

	listed, err := s.log.ListByIdentifier(ctx, 5, "GAP-77", "consortium_id")
	s.Require().NoError(err)
	s.Require().Len(listed, 2)

	s.Equal(identity.StrategyCreateNew, listed[0].Strategy)
	s.Require().NotNil(listed[0].GlobalID)
	s.Equal(globalID, *listed[0].GlobalID)

	s.Equal(identity.StrategyConflict, listed[1].Strategy)
	s.Nil(listed[1].GlobalID)
	s.True(listed[1].RequiresReview)
}
