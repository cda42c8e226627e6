//go:build integration

package queue_test

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/suite"

	"concord/internal/queue"
	"concord/pkg/domain"
	"concord/pkg/platform/sentinel"
	"concord/pkg/testutil/containers"
)

type PostgresQueueSuite struct {
	suite.Suite
	postgres *containers.PostgresContainer
	store    *queue.PostgresEntryStore
}

func TestPostgresQueueSuite(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}
	suite.Run(t, new(PostgresQueueSuite))
}

func (s *PostgresQueueSuite) SetupSuite() {
	mgr := containers.GetManager()
	s.postgres = mgr.GetPostgres(s.T())
	s.store = queue.NewPostgresEntryStore(s.postgres.DB)
}

func (s *PostgresQueueSuite) SetupTest() {
	s.Require().NoError(s.postgres.TruncateTables(context.Background(), "validation_queue"))
}

func (s *PostgresQueueSuite) insertPending(batchID domain.BatchID, offset time.Duration) queue.Entry {
	now := time.Now().UTC().Truncate(time.Microsecond).Add(offset)
	entry := queue.Entry{
		FragmentID: domain.NewFragmentID(),
		Table:      "samples",
		BatchID:    batchID,
		Source:     "legacy-lims",
		Payload:    []byte(`{"global_id":"G1"}`),
		Status:     queue.StatusPending,
		CreatedAt:  now,
		UpdatedAt:  now,
	}
	s.Require().NoError(s.store.Insert(context.Background(), entry))
	return entry
}

func (s *PostgresQueueSuite) TestInsertAndFindRoundTrip() {
	ctx := context.Background()
	entry := s.insertPending(domain.NewBatchID(), 0)

	found, err := s.store.Find(ctx, entry.FragmentID)
	s.Require().NoError(err)
	s.Equal(entry.FragmentID, found.FragmentID)
	s.Equal(queue.StatusPending, found.Status)
	s.JSONEq(`{"global_id":"G1"}`, string(found.Payload))

	_, err = s.store.Find(ctx, domain.NewFragmentID())
	s.ErrorIs(err, sentinel.ErrNotFound)
}

func (s *PostgresQueueSuite) TestListByBatchFiltersAndOrders() {
	ctx := context.Background()
	batchID := domain.NewBatchID()
	first := s.insertPending(batchID, 0)
	second := s.insertPending(batchID, time.Second)
	s.insertPending(domain.NewBatchID(), 0) // other batch, must not appear

	s.Require().NoError(s.store.Mark(ctx, second.FragmentID, queue.StatusLoaded, "",
		[]queue.Status{queue.StatusPending}))

	pending, err := s.store.ListByBatch(ctx, batchID, []queue.Status{queue.StatusPending})
	s.Require().NoError(err)
	s.Require().Len(pending, 1)
	s.Equal(first.FragmentID, pending[0].FragmentID)

	all, err := s.store.ListByBatch(ctx, batchID, []queue.Status{queue.StatusPending, queue.StatusLoaded})
	s.Require().NoError(err)
	s.Require().Len(all, 2)
	s.Equal(first.FragmentID, all[0].FragmentID, "insertion order must be preserved")
}

func (s *PostgresQueueSuite) TestMarkGuardsAgainstRegression() {
	ctx := context.Background()
	entry := s.insertPending(domain.NewBatchID(), 0)

	err := s.store.Mark(ctx, entry.FragmentID, queue.StatusFailed, "reason: boom",
		[]queue.Status{queue.StatusPending})
	s.Require().NoError(err)

	// A second transition away from the terminal status must be refused.
	err = s.store.Mark(ctx, entry.FragmentID, queue.StatusLoaded, "",
		[]queue.Status{queue.StatusPending})
	s.ErrorIs(err, sentinel.ErrTerminalState)

	err = s.store.Mark(ctx, domain.NewFragmentID(), queue.StatusLoaded, "",
		[]queue.Status{queue.StatusPending})
	s.ErrorIs(err, sentinel.ErrNotFound)

	found, err := s.store.Find(ctx, entry.FragmentID)
	s.Require().NoError(err)
	s.Equal(queue.StatusFailed, found.Status)
	s.Equal("reason: boom", found.Error)
}

// TestConcurrentMark verifies two loaders racing to finish the same fragment:
// the guarded UPDATE lets exactly one transition win.
func (s *PostgresQueueSuite) TestConcurrentMark() {
	ctx := context.Background()
	entry := s.insertPending(domain.NewBatchID(), 0)
	const goroutines = 10

	var wg sync.WaitGroup
	var wins atomic.Int32

	for i := 0; i < goroutines; i++ {
		wg.Add(1)
		go func(idx int) {
			defer wg.Done()

			status := queue.StatusLoaded
			if idx%2 == 0 {
				status = queue.StatusSkipped
			}
			err := s.store.Mark(ctx, entry.FragmentID, status, "",
				[]queue.Status{queue.StatusPending})
			if err == nil {
				wins.Add(1)
			}
		}(i)
	}
	wg.Wait()

	s.Equal(int32(1), wins.Load(), "exactly one transition should win")
}

func (s *PostgresQueueSuite) TestCountByStatus() {
	ctx := context.Background()
	batchID := domain.NewBatchID()
	loaded := s.insertPending(batchID, 0)
	s.insertPending(batchID, time.Second)
	s.insertPending(batchID, 2*time.Second)

	s.Require().NoError(s.store.Mark(ctx, loaded.FragmentID, queue.StatusLoaded, "",
		[]queue.Status{queue.StatusPending}))

	counts, err := s.store.CountByStatus(ctx, batchID)
	s.Require().NoError(err)
	s.Equal(map[queue.Status]int{
		queue.StatusPending: 2,
		queue.StatusLoaded:  1,
	}, counts)
}
