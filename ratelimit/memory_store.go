package ratelimit

import (
	"context"
	"sort"
	"strings"
	"sync"
)

// MemoryStateStore is the in-process governor store, suitable for single
// instance deployments and tests.
type MemoryStateStore struct {
	mu       sync.RWMutex
	windows  map[Key]WindowState
	backoffs map[string]BackoffState
}

func NewMemoryStateStore() *MemoryStateStore {
	return &MemoryStateStore{
		windows:  map[Key]WindowState{},
		backoffs: map[string]BackoffState{},
	}
}

func (s *MemoryStateStore) GetWindow(_ context.Context, key Key) (WindowState, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	state, ok := s.windows[key]
	if !ok {
		return WindowState{}, ErrStateNotFound
	}
	return state, nil
}

func (s *MemoryStateStore) UpsertWindow(_ context.Context, state WindowState) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.windows[state.Key] = state
	return nil
}

func (s *MemoryStateStore) ListWindows(_ context.Context, provider string) ([]WindowState, error) {
	provider = strings.TrimSpace(provider)
	s.mu.RLock()
	defer s.mu.RUnlock()
	states := make([]WindowState, 0)
	for key, state := range s.windows {
		if key.Provider == provider {
			states = append(states, state)
		}
	}
	sort.Slice(states, func(i, j int) bool { return states[i].Key.Class < states[j].Key.Class })
	return states, nil
}

func (s *MemoryStateStore) GetBackoff(_ context.Context, provider string) (BackoffState, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	state, ok := s.backoffs[strings.TrimSpace(provider)]
	if !ok {
		return BackoffState{}, ErrStateNotFound
	}
	return state, nil
}

func (s *MemoryStateStore) UpsertBackoff(_ context.Context, state BackoffState) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.backoffs[strings.TrimSpace(state.Provider)] = state
	return nil
}

var _ StateStore = (*MemoryStateStore)(nil)
