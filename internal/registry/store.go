package registry

import (
	"fmt"
	"sync"

	"shelly2mqtt/internal/core/domain"
)

// Store is the paired-device store the registry rebuilds from. Pairing and
// unpairing mutate the store; the registry only ever reads it.
type Store interface {
	Profiles() ([]domain.DeviceProfile, error)
	Add(profile domain.DeviceProfile) error
	Remove(id string) error
}

// MemoryStore is the in-process store, seeded from configuration and mutated
// through the pairing API.
type MemoryStore struct {
	mu       sync.Mutex
	profiles map[string]domain.DeviceProfile
	order    []string
}

func NewMemoryStore(seed []domain.DeviceProfile) *MemoryStore {
	s := &MemoryStore{profiles: make(map[string]domain.DeviceProfile)}
	for _, p := range seed {
		if _, dup := s.profiles[p.ID]; dup {
			continue
		}
		s.profiles[p.ID] = p
		s.order = append(s.order, p.ID)
	}
	return s
}

func (s *MemoryStore) Profiles() ([]domain.DeviceProfile, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]domain.DeviceProfile, 0, len(s.order))
	for _, id := range s.order {
		out = append(out, s.profiles[id])
	}
	return out, nil
}

func (s *MemoryStore) Add(profile domain.DeviceProfile) error {
	if profile.ID == "" {
		return fmt.Errorf("device profile without id")
	}
	if _, err := domain.ParseCommMode(profile.Mode); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, dup := s.profiles[profile.ID]; dup {
		return fmt.Errorf("device %s already paired", profile.ID)
	}
	s.profiles[profile.ID] = profile
	s.order = append(s.order, profile.ID)
	return nil
}

func (s *MemoryStore) Remove(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.profiles[id]; !ok {
		return fmt.Errorf("device %s not paired", id)
	}
	delete(s.profiles, id)
	for i, v := range s.order {
		if v == id {
			s.order = append(s.order[:i], s.order[i+1:]...)
			break
		}
	}
	return nil
}
