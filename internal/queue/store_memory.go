package queue

import (
	"context"
	"fmt"
	"slices"
	"sync"
	"time"

	"concord/pkg/domain"
	"concord/pkg/platform/sentinel"
)

var _ EntryStore = (*MemoryEntryStore)(nil)

// MemoryEntryStore is the in-memory EntryStore used by tests and local runs.
type MemoryEntryStore struct {
	mu      sync.RWMutex
	entries map[domain.FragmentID]Entry
	order   []domain.FragmentID
}

func NewMemoryEntryStore() *MemoryEntryStore {
	return &MemoryEntryStore{entries: make(map[domain.FragmentID]Entry)}
}

func (s *MemoryEntryStore) Insert(_ context.Context, entry Entry) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, dup := s.entries[entry.FragmentID]; dup {
		return fmt.Errorf("fragment %s: %w", entry.FragmentID, sentinel.ErrDuplicate)
	}
	s.entries[entry.FragmentID] = entry
	s.order = append(s.order, entry.FragmentID)
	return nil
}

func (s *MemoryEntryStore) Find(_ context.Context, fragmentID domain.FragmentID) (Entry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	entry, ok := s.entries[fragmentID]
	if !ok {
		return Entry{}, fmt.Errorf("fragment %s: %w", fragmentID, sentinel.ErrNotFound)
	}
	return entry, nil
}

func (s *MemoryEntryStore) ListByBatch(_ context.Context, batchID domain.BatchID, statuses []Status) ([]Entry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []Entry
	for _, id := range s.order {
		entry := s.entries[id]
		if entry.BatchID != batchID || !slices.Contains(statuses, entry.Status) {
			continue
		}
		out = append(out, entry)
	}
	return out, nil
}

func (s *MemoryEntryStore) Mark(_ context.Context, fragmentID domain.FragmentID, status Status, errMsg string, allowedFrom []Status) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	entry, ok := s.entries[fragmentID]
	if !ok {
		return fmt.Errorf("fragment %s: %w", fragmentID, sentinel.ErrNotFound)
	}
	if !slices.Contains(allowedFrom, entry.Status) {
		return fmt.Errorf("fragment %s is %s: %w", fragmentID, entry.Status, sentinel.ErrTerminalState)
	}

	entry.Status = status
	entry.Error = errMsg
	entry.UpdatedAt = time.Now().UTC()
	s.entries[fragmentID] = entry
	return nil
}

func (s *MemoryEntryStore) CountByStatus(_ context.Context, batchID domain.BatchID) (map[Status]int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	counts := make(map[Status]int)
	for _, entry := range s.entries {
		if entry.BatchID == batchID {
			counts[entry.Status]++
		}
	}
	return counts, nil
}
