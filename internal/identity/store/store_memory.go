// Package store provides the persistence implementations backing identity
// resolution: an in-memory variant for tests and development, and PostgreSQL
// for production.
package store

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"concord/internal/identity"
	"concord/pkg/domain"
	"concord/pkg/platform/sentinel"
)

// Compile-time contract assertions.
var (
	_ identity.SubjectStore         = (*MemorySubjectStore)(nil)
	_ identity.LocalIdentifierStore = (*MemoryLocalIdentifierStore)(nil)
	_ identity.ResolutionLog        = (*MemoryResolutionLog)(nil)
)

// MemorySubjectStore keeps subjects in a map. It intentionally favors clarity
// over performance.
type MemorySubjectStore struct {
	mu       sync.RWMutex
	subjects map[domain.GlobalID]identity.Subject
}

func NewMemorySubjectStore() *MemorySubjectStore {
	return &MemorySubjectStore{subjects: make(map[domain.GlobalID]identity.Subject)}
}

func (s *MemorySubjectStore) FindByGlobalID(_ context.Context, globalID domain.GlobalID) (identity.Subject, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if subject, ok := s.subjects[globalID]; ok {
		return cloneSubject(subject), nil
	}
	return identity.Subject{}, sentinel.ErrNotFound
}

func (s *MemorySubjectStore) UpdateAttributes(_ context.Context, globalID domain.GlobalID, attrs map[string]string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	subject, ok := s.subjects[globalID]
	if !ok {
		return sentinel.ErrNotFound
	}
	if subject.Attributes == nil {
		subject.Attributes = make(map[string]string, len(attrs))
	}
	for k, v := range attrs {
		subject.Attributes[k] = v
	}
	s.subjects[globalID] = subject
	return nil
}

func (s *MemorySubjectStore) SetReviewFlag(_ context.Context, globalID domain.GlobalID, flagged bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	subject, ok := s.subjects[globalID]
	if !ok {
		return sentinel.ErrNotFound
	}
	subject.FlaggedForReview = flagged
	s.subjects[globalID] = subject
	return nil
}

func (s *MemorySubjectStore) SetWithdrawn(_ context.Context, globalID domain.GlobalID, withdrawn bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	subject, ok := s.subjects[globalID]
	if !ok {
		return sentinel.ErrNotFound
	}
	subject.Withdrawn = withdrawn
	s.subjects[globalID] = subject
	return nil
}

func (s *MemorySubjectStore) ListFlagged(_ context.Context) ([]identity.Subject, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var flagged []identity.Subject
	for _, subject := range s.subjects {
		if subject.FlaggedForReview {
			flagged = append(flagged, cloneSubject(subject))
		}
	}
	sort.Slice(flagged, func(i, j int) bool { return flagged[i].GlobalID < flagged[j].GlobalID })
	return flagged, nil
}

// put is a test hook for seeding subjects without going through Register.
func (s *MemorySubjectStore) put(subject identity.Subject) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.subjects[subject.GlobalID] = subject
}

func cloneSubject(subject identity.Subject) identity.Subject {
	if subject.Attributes != nil {
		attrs := make(map[string]string, len(subject.Attributes))
		for k, v := range subject.Attributes {
			attrs[k] = v
		}
		subject.Attributes = attrs
	}
	return subject
}

// MemoryLocalIdentifierStore keeps the local-to-global mapping in a map keyed
// by the natural key. Register enforces the uniqueness constraint under the
// same lock, mirroring the database constraint it stands in for.
type MemoryLocalIdentifierStore struct {
	mu       sync.RWMutex
	byKey    map[string]identity.LocalIdentifier
	subjects *MemorySubjectStore
}

// NewMemoryLocalIdentifierStore pairs the identifier map with the subject
// store so Register stays atomic across both, like the SQL transaction does.
func NewMemoryLocalIdentifierStore(subjects *MemorySubjectStore) *MemoryLocalIdentifierStore {
	return &MemoryLocalIdentifierStore{
		byKey:    make(map[string]identity.LocalIdentifier),
		subjects: subjects,
	}
}

func naturalKey(centerID domain.CenterID, localValue string, idType domain.IdentifierType) string {
	return fmt.Sprintf("%d|%s|%s", centerID, localValue, idType)
}

func (s *MemoryLocalIdentifierStore) Find(_ context.Context, centerID domain.CenterID, localValue string, idType domain.IdentifierType) (identity.LocalIdentifier, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if localID, ok := s.byKey[naturalKey(centerID, localValue, idType)]; ok {
		return localID, nil
	}
	return identity.LocalIdentifier{}, sentinel.ErrNotFound
}

func (s *MemoryLocalIdentifierStore) FindByValue(_ context.Context, centerID domain.CenterID, localValue string) ([]identity.LocalIdentifier, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var matches []identity.LocalIdentifier
	for _, localID := range s.byKey {
		if localID.CenterID == centerID && localID.LocalValue == localValue {
			matches = append(matches, localID)
		}
	}
	if len(matches) == 0 {
		return nil, sentinel.ErrNotFound
	}
	sort.Slice(matches, func(i, j int) bool { return matches[i].IDType < matches[j].IDType })
	return matches, nil
}

func (s *MemoryLocalIdentifierStore) Register(_ context.Context, subject identity.Subject, localID identity.LocalIdentifier) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	key := naturalKey(localID.CenterID, localID.LocalValue, localID.IDType)
	if _, exists := s.byKey[key]; exists {
		return sentinel.ErrDuplicate
	}
	s.subjects.put(subject)
	s.byKey[key] = localID
	return nil
}

// MemoryResolutionLog is an append-only slice of resolution records.
type MemoryResolutionLog struct {
	mu      sync.RWMutex
	records []identity.ResolutionRecord
}

func NewMemoryResolutionLog() *MemoryResolutionLog {
	return &MemoryResolutionLog{}
}

func (l *MemoryResolutionLog) Append(_ context.Context, record identity.ResolutionRecord) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.records = append(l.records, record)
	return nil
}

func (l *MemoryResolutionLog) ListByIdentifier(_ context.Context, centerID domain.CenterID, localValue string, idType domain.IdentifierType) ([]identity.ResolutionRecord, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	var matches []identity.ResolutionRecord
	for _, record := range l.records {
		if record.CenterID == centerID && record.LocalValue == localValue && record.IDType == idType {
			matches = append(matches, record)
		}
	}
	return matches, nil
}

// All returns every record, oldest first. Test helper.
func (l *MemoryResolutionLog) All() []identity.ResolutionRecord {
	l.mu.RLock()
	defer l.mu.RUnlock()
	out := make([]identity.ResolutionRecord, len(l.records))
	copy(out, l.records)
	return out
}
