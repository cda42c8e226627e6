package upsert

import (
	"context"
	"fmt"
	"sync"
)

// MemoryRecordStore is the in-memory RecordStore used by tests and local runs.
type MemoryRecordStore struct {
	mu     sync.RWMutex
	tables map[string]map[string]StoredRecord
}

var _ RecordStore = (*MemoryRecordStore)(nil)

func NewMemoryRecordStore() *MemoryRecordStore {
	return &MemoryRecordStore{tables: make(map[string]map[string]StoredRecord)}
}

func (s *MemoryRecordStore) FindByNaturalKeys(_ context.Context, table string, keys []string) (map[string]StoredRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	found := make(map[string]StoredRecord)
	rows := s.tables[table]
	for _, key := range keys {
		if record, ok := rows[key]; ok {
			found[key] = StoredRecord{NaturalKey: key, Fields: cloneRecord(record.Fields)}
		}
	}
	return found, nil
}

func (s *MemoryRecordStore) Insert(_ context.Context, table string, record StoredRecord, _ Provenance) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	rows, ok := s.tables[table]
	if !ok {
		rows = make(map[string]StoredRecord)
		s.tables[table] = rows
	}
	if _, dup := rows[record.NaturalKey]; dup {
		return fmt.Errorf("duplicate natural key %q in %s", record.NaturalKey, table)
	}
	rows[record.NaturalKey] = StoredRecord{NaturalKey: record.NaturalKey, Fields: cloneRecord(record.Fields)}
	return nil
}

func (s *MemoryRecordStore) Update(_ context.Context, table string, naturalKey string, changes Record, _ Provenance) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	rows := s.tables[table]
	record, ok := rows[naturalKey]
	if !ok {
		return fmt.Errorf("no row with natural key %q in %s", naturalKey, table)
	}
	for field, value := range changes {
		record.Fields[field] = value
	}
	rows[naturalKey] = record
	return nil
}

// Get returns a stored record for test assertions.
func (s *MemoryRecordStore) Get(table, naturalKey string) (StoredRecord, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	record, ok := s.tables[table][naturalKey]
	if !ok {
		return StoredRecord{}, false
	}
	return StoredRecord{NaturalKey: naturalKey, Fields: cloneRecord(record.Fields)}, true
}

// Count returns the number of rows stored for a table.
func (s *MemoryRecordStore) Count(table string) int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.tables[table])
}
