package store

import (
	"context"
	"sync"

	"aeroinsight/internal/identity/models"
	"aeroinsight/internal/platform/config"
	"aeroinsight/pkg/platform/sentinel"
)

// InMemory is a profile store for tests and local development.
type InMemory struct {
	mu       sync.RWMutex
	profiles map[string]models.Profile
}

// NewInMemory returns an empty store.
func NewInMemory() *InMemory {
	return &InMemory{profiles: make(map[string]models.Profile)}
}

// NewSeeded returns a store holding the configured profile seeds.
func NewSeeded(seeds []config.ProfileSeed) *InMemory {
	s := NewInMemory()
	for _, seed := range seeds {
		s.Put(profileFromSeed(seed))
	}
	return s
}

// Put provisions or replaces a profile.
func (s *InMemory) Put(p models.Profile) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.profiles[p.UID] = p
}

// Delete removes a profile.
func (s *InMemory) Delete(uid string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.profiles, uid)
}

func (s *InMemory) FindByUID(_ context.Context, uid string) (*models.Profile, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	p, ok := s.profiles[uid]
	if !ok {
		return nil, sentinel.ErrNotFound
	}
	return &p, nil
}

func profileFromSeed(seed config.ProfileSeed) models.Profile {
	return models.Profile{
		UID:   seed.UID,
		Email: seed.Email,
		Name:  seed.Name,
		Role:  models.ParseRole(seed.Role),
	}
}
