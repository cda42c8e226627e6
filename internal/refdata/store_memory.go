package refdata

import (
	"context"
	"sort"
	"sync"

	"concord/pkg/domain"
	"concord/pkg/platform/sentinel"
)

var _ CenterStore = (*MemoryCenterStore)(nil)

// MemoryCenterStore keeps centers in memory for tests and development.
type MemoryCenterStore struct {
	mu      sync.RWMutex
	centers map[domain.CenterID]Center
	nextID  domain.CenterID
}

func NewMemoryCenterStore() *MemoryCenterStore {
	return &MemoryCenterStore{centers: make(map[domain.CenterID]Center), nextID: 1}
}

// Seed inserts a curated center with a fixed id. Test and bootstrap helper.
func (s *MemoryCenterStore) Seed(center Center) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.centers[center.ID] = center
	if center.ID >= s.nextID {
		s.nextID = center.ID + 1
	}
}

func (s *MemoryCenterStore) List(_ context.Context) ([]Center, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]Center, 0, len(s.centers))
	for _, center := range s.centers {
		out = append(out, center)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (s *MemoryCenterStore) FindByNormalizedName(_ context.Context, normalized string) (Center, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	// Scan in id order so duplicate normalized names resolve deterministically.
	ids := make([]domain.CenterID, 0, len(s.centers))
	for id := range s.centers {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	for _, id := range ids {
		if Normalize(s.centers[id].Name) == normalized {
			return s.centers[id], nil
		}
	}
	return Center{}, sentinel.ErrNotFound
}

func (s *MemoryCenterStore) Create(_ context.Context, center Center) (Center, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	center.ID = s.nextID
	s.nextID++
	s.centers[center.ID] = center
	return center, nil
}
