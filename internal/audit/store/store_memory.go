// Package store provides change-log persistence: an in-memory log for tests
// and a PostgreSQL outbox for production.
package store

import (
	"context"
	"sync"

	"github.com/google/uuid"

	"concord/internal/audit"
)

var (
	_ audit.ChangeLog    = (*MemoryChangeLog)(nil)
	_ audit.OutboxReader = (*MemoryChangeLog)(nil)
)

// MemoryChangeLog is an append-only in-memory event log.
type MemoryChangeLog struct {
	mu        sync.RWMutex
	events    []audit.ChangeEvent
	published map[uuid.UUID]bool
}

func NewMemoryChangeLog() *MemoryChangeLog {
	return &MemoryChangeLog{published: make(map[uuid.UUID]bool)}
}

func (l *MemoryChangeLog) Append(_ context.Context, event audit.ChangeEvent) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.events = append(l.events, event)
	return nil
}

func (l *MemoryChangeLog) Unpublished(_ context.Context, limit int) ([]audit.ChangeEvent, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	var out []audit.ChangeEvent
	for _, event := range l.events {
		if l.published[event.ID] {
			continue
		}
		out = append(out, event)
		if len(out) == limit {
			break
		}
	}
	return out, nil
}

func (l *MemoryChangeLog) MarkPublished(_ context.Context, ids []uuid.UUID) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	for _, id := range ids {
		l.published[id] = true
	}
	return nil
}

// Events returns a copy of everything appended, oldest first. Test helper.
func (l *MemoryChangeLog) Events() []audit.ChangeEvent {
	l.mu.RLock()
	defer l.mu.RUnlock()
	out := make([]audit.ChangeEvent, len(l.events))
	copy(out, l.events)
	return out
}
