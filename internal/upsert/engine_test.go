package upsert

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"github.com/stretchr/testify/suite"

	auditstore "concord/internal/audit/store"
	"concord/pkg/domain"
)

// EngineSuite covers the natural-key merge semantics: immutable-field
// protection, no-op detection, strategy enforcement, and the audit trail.
type EngineSuite struct {
	suite.Suite

	store   *MemoryRecordStore
	changes *auditstore.MemoryChangeLog
	engine  *Engine
	prov    Provenance
}

func (s *EngineSuite) SetupTest() {
	registry, err := NewRegistry([]TableConfig{
		{
			Table:           "samples",
			NaturalKey:      []string{"global_id", "niddk_no"},
			ImmutableFields: []string{"created_at"},
			Strategy:        StrategyUpsert,
		},
		{
			Table:      "shipments",
			NaturalKey: []string{"shipment_no"},
			Strategy:   StrategyInsertOnly,
		},
		{
			Table:      "statuses",
			NaturalKey: []string{"global_id"},
			Strategy:   StrategyUpdateOnly,
		},
	})
	s.Require().NoError(err)

	s.store = NewMemoryRecordStore()
	s.changes = auditstore.NewMemoryChangeLog()
	s.engine, err = NewEngine(registry, s.store, s.changes, nil, nil)
	s.Require().NoError(err)
	s.prov = Provenance{
		SourceSystem: "legacy-lims",
		BatchID:      domain.NewBatchID(),
		Actor:        "loader",
		At:           time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC),
	}
}

func TestEngineSuite(t *testing.T) {
	suite.Run(t, new(EngineSuite))
}

func (s *EngineSuite) apply(table string, record Record) Outcome {
	outcome, err := s.engine.Apply(context.Background(), table, record, s.prov)
	s.Require().NoError(err)
	return outcome
}

func (s *EngineSuite) TestInsertThenIdenticalIsSkipped() {
	// Justification: replaying the same extract must be a no-op, not a
	// spurious update that churns audit history.
	record := Record{"global_id": "G1", "niddk_no": "123", "passage_number": 5}

	s.Equal(Inserted, s.apply("samples", record).Kind)
	s.Equal(Skipped, s.apply("samples", record).Kind)
	s.Equal(1, s.store.Count("samples"))
}

func (s *EngineSuite) TestImmutableViolationRejectsWholeRecord() {
	// Justification: a record touching an immutable field must be rejected
	// outright; its mutable changes must not partially merge.
	s.Equal(Inserted, s.apply("samples", Record{
		"global_id": "G1", "niddk_no": "123",
		"passage_number": 5, "created_at": "2024-01-15",
	}).Kind)

	outcome := s.apply("samples", Record{
		"global_id": "G1", "niddk_no": "123",
		"passage_number": 8, "created_at": "2024-01-16",
	})
	s.Equal(Rejected, outcome.Kind)
	s.Equal(ReasonImmutableViolation, outcome.Reason)
	s.Contains(outcome.Detail, "created_at")

	stored, ok := s.store.Get("samples", `"G1"|"123"`)
	s.Require().True(ok)
	s.Equal(5, stored.Fields["passage_number"])
	s.Equal("2024-01-15", stored.Fields["created_at"])
}

func (s *EngineSuite) TestNaturalKeyFieldsAreImplicitlyImmutable() {
	s.Equal(Inserted, s.apply("samples", Record{"global_id": "G1", "niddk_no": "123"}).Kind)

	// Same composite key, different key on file: the lookup misses and the
	// record inserts as a distinct row rather than mutating the key.
	s.Equal(Inserted, s.apply("samples", Record{"global_id": "G1", "niddk_no": "456"}).Kind)
	s.Equal(2, s.store.Count("samples"))
}

func (s *EngineSuite) TestUpdateWritesOnlyChangedFields() {
	s.apply("samples", Record{
		"global_id": "G1", "niddk_no": "123",
		"passage_number": 5, "storage_temp": "-80C",
	})

	outcome := s.apply("samples", Record{
		"global_id": "G1", "niddk_no": "123",
		"passage_number": 8, "storage_temp": "-80C",
	})
	s.Equal(Updated, outcome.Kind)

	events := s.changes.Events()
	s.Require().Len(events, 2)
	update := events[1]
	s.Equal("updated", update.Outcome)
	s.Equal(Record{"passage_number": 8}, Record(update.After))
	s.Equal(Record{"passage_number": 5}, Record(update.Before))
}

func (s *EngineSuite) TestMissingNaturalKeyFieldRejects() {
	outcome := s.apply("samples", Record{"global_id": "G1", "passage_number": 5})
	s.Equal(Rejected, outcome.Kind)
	s.Equal(ReasonMissingNaturalKey, outcome.Reason)
	s.Contains(outcome.Detail, "niddk_no")

	outcome = s.apply("samples", Record{"global_id": "G1", "niddk_no": nil})
	s.Equal(Rejected, outcome.Kind)
	s.Equal(ReasonMissingNaturalKey, outcome.Reason)
}

func (s *EngineSuite) TestInsertOnlyRejectsChangesToExistingRows() {
	s.apply("shipments", Record{"shipment_no": "SH-9", "carrier": "fedex"})

	outcome := s.apply("shipments", Record{"shipment_no": "SH-9", "carrier": "ups"})
	s.Equal(Rejected, outcome.Kind)
	s.Equal(ReasonUpdateForbidden, outcome.Reason)

	// An identical resend is still a clean skip under insert_only.
	s.Equal(Skipped, s.apply("shipments", Record{"shipment_no": "SH-9", "carrier": "fedex"}).Kind)
}

func (s *EngineSuite) TestUpdateOnlyRejectsNewNaturalKeys() {
	outcome := s.apply("statuses", Record{"global_id": "G1", "status": "active"})
	s.Equal(Rejected, outcome.Kind)
	s.Equal(ReasonInsertForbidden, outcome.Reason)
	s.Equal(0, s.store.Count("statuses"))
}

func (s *EngineSuite) TestRejectionDoesNotContaminateBatchNeighbors() {
	s.apply("samples", Record{
		"global_id": "G1", "niddk_no": "123", "created_at": "2024-01-15",
	})

	outcomes, err := s.engine.ApplyBatch(context.Background(), "samples", []Record{
		{"global_id": "G1", "niddk_no": "123", "created_at": "2024-02-01"}, // immutable violation
		{"global_id": "G2", "niddk_no": "456", "passage_number": 1},
	}, s.prov, Options{})
	s.Require().NoError(err)

	s.Equal(Rejected, outcomes[0].Kind)
	s.Equal(Inserted, outcomes[1].Kind)
}

func (s *EngineSuite) TestDuplicateKeysWithinOneBatch() {
	// The second occurrence must observe the first one's insert, not race it.
	outcomes, err := s.engine.ApplyBatch(context.Background(), "samples", []Record{
		{"global_id": "G1", "niddk_no": "123", "passage_number": 5},
		{"global_id": "G1", "niddk_no": "123", "passage_number": 5},
		{"global_id": "G1", "niddk_no": "123", "passage_number": 6},
	}, s.prov, Options{})
	s.Require().NoError(err)

	s.Equal(Inserted, outcomes[0].Kind)
	s.Equal(Skipped, outcomes[1].Kind)
	s.Equal(Updated, outcomes[2].Kind)
	s.Equal(1, s.store.Count("samples"))
}

func (s *EngineSuite) TestDryRunReportsOutcomesWithoutWriting() {
	s.apply("samples", Record{"global_id": "G1", "niddk_no": "123", "passage_number": 5})
	priorEvents := len(s.changes.Events())

	outcomes, err := s.engine.ApplyBatch(context.Background(), "samples", []Record{
		{"global_id": "G1", "niddk_no": "123", "passage_number": 9},
		{"global_id": "G2", "niddk_no": "456"},
	}, s.prov, Options{DryRun: true})
	s.Require().NoError(err)

	s.Equal(Updated, outcomes[0].Kind)
	s.Equal(Inserted, outcomes[1].Kind)

	s.Equal(1, s.store.Count("samples"))
	stored, _ := s.store.Get("samples", `"G1"|"123"`)
	s.Equal(5, stored.Fields["passage_number"])
	s.Len(s.changes.Events(), priorEvents)
}

func (s *EngineSuite) TestEveryOutcomeAppendsOneChangeEvent() {
	s.apply("samples", Record{"global_id": "G1", "niddk_no": "123", "created_at": "2024-01-15"}) // inserted
	s.apply("samples", Record{"global_id": "G1", "niddk_no": "123", "created_at": "2024-01-15"}) // skipped
	s.apply("samples", Record{"global_id": "G1", "niddk_no": "123", "created_at": "2024-02-01"}) // rejected
	s.apply("samples", Record{"global_id": "G1", "niddk_no": "123", "passage_number": 2})        // updated

	events := s.changes.Events()
	s.Require().Len(events, 4)

	kinds := make([]string, len(events))
	for i, event := range events {
		kinds[i] = event.Outcome
		s.Equal("samples", event.Table)
		s.Equal(s.prov.BatchID, event.BatchID)
		s.Equal("legacy-lims", event.Source)
		s.Equal("loader", event.Actor)
	}
	s.Equal([]string{"inserted", "skipped", "rejected", "updated"}, kinds)
	s.Equal(string(ReasonImmutableViolation), events[2].Reason)
}

// failingStore wraps the memory store and fails writes on demand, simulating
// a lost database connection.
type failingStore struct {
	*MemoryRecordStore
	insertErr error
	updateErr error
}

func (f *failingStore) Insert(ctx context.Context, table string, record StoredRecord, prov Provenance) error {
	if f.insertErr != nil {
		return f.insertErr
	}
	return f.MemoryRecordStore.Insert(ctx, table, record, prov)
}

func (f *failingStore) Update(ctx context.Context, table, naturalKey string, changes Record, prov Provenance) error {
	if f.updateErr != nil {
		return f.updateErr
	}
	return f.MemoryRecordStore.Update(ctx, table, naturalKey, changes, prov)
}

func (s *EngineSuite) TestStoreFailureIsAnErrorNotARejection() {
	// Justification: an unreachable database is retryable infrastructure
	// failure. Folding it into a Rejected outcome would disguise it as bad
	// data and nothing would ever retry it.
	record := Record{"global_id": "G1", "niddk_no": "123", "passage_number": 5}

	s.Run("insert failure propagates", func() {
		broken := &failingStore{
			MemoryRecordStore: NewMemoryRecordStore(),
			insertErr:         errors.New("driver: bad connection"),
		}
		engine, err := NewEngine(s.engine.registry, broken, auditstore.NewMemoryChangeLog(), nil, nil)
		s.Require().NoError(err)

		_, err = engine.Apply(context.Background(), "samples", record, s.prov)
		s.Require().Error(err)
		s.Contains(err.Error(), "bad connection")
		s.Equal(0, broken.Count("samples"))
	})

	s.Run("update failure propagates", func() {
		broken := &failingStore{
			MemoryRecordStore: NewMemoryRecordStore(),
			updateErr:         errors.New("driver: bad connection"),
		}
		s.Require().NoError(broken.MemoryRecordStore.Insert(context.Background(), "samples",
			StoredRecord{NaturalKey: `"G1"|"123"`, Fields: Record{"global_id": "G1", "niddk_no": "123", "passage_number": 5}},
			s.prov))
		changes := auditstore.NewMemoryChangeLog()
		engine, err := NewEngine(s.engine.registry, broken, changes, nil, nil)
		s.Require().NoError(err)

		_, err = engine.Apply(context.Background(), "samples",
			Record{"global_id": "G1", "niddk_no": "123", "passage_number": 9}, s.prov)
		s.Require().Error(err)
		s.Contains(err.Error(), "bad connection")
		s.Empty(changes.Events(), "a failed call must not audit outcomes it never produced")
	})
}

func (s *EngineSuite) TestUnknownTableFailsTheCall() {
	_, err := s.engine.Apply(context.Background(), "nonexistent", Record{"id": 1}, s.prov)
	s.Require().Error(err)
	s.Contains(err.Error(), "unknown table")
}

func TestRegistryValidation(t *testing.T) {
	t.Run("rejects unknown strategy", func(t *testing.T) {
		_, err := NewRegistry([]TableConfig{{
			Table: "samples", NaturalKey: []string{"id"}, Strategy: "merge",
		}})
		require.ErrorContains(t, err, "unknown strategy")
	})

	t.Run("rejects empty natural key", func(t *testing.T) {
		_, err := NewRegistry([]TableConfig{{
			Table: "samples", Strategy: StrategyUpsert,
		}})
		require.ErrorContains(t, err, "natural key")
	})

	t.Run("rejects duplicate tables", func(t *testing.T) {
		cfg := TableConfig{Table: "samples", NaturalKey: []string{"id"}, Strategy: StrategyUpsert}
		_, err := NewRegistry([]TableConfig{cfg, cfg})
		require.ErrorContains(t, err, "duplicate table config")
	})
}
