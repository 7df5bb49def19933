package storage

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"sync"

	"github.com/songzhibin97/workflow-canvas/types"
)

// MemoryStorage is an in-memory implementation of StateStore. States are
// kept encoded so callers never share memory with the store.
type MemoryStorage struct {
	states map[string][]byte
	mu     sync.RWMutex
}

// NewMemoryStorage creates a new MemoryStorage instance.
func NewMemoryStorage() *MemoryStorage {
	return &MemoryStorage{states: make(map[string][]byte)}
}

// Get retrieves a state from memory.
func (s *MemoryStorage) Get(ctx context.Context, key string) (types.SavedState, error) {
	return withContext(ctx, func() (types.SavedState, error) {
		s.mu.RLock()
		data, ok := s.states[key]
		s.mu.RUnlock()
		if !ok {
			return types.SavedState{}, fmt.Errorf("%w: key=%s", ErrStateNotFound, key)
		}
		var state types.SavedState
		if err := json.Unmarshal(data, &state); err != nil {
			return types.SavedState{}, fmt.Errorf("failed to unmarshal %s: %w", key, err)
		}
		return state, nil
	})
}

// Save stores a state in memory.
func (s *MemoryStorage) Save(ctx context.Context, key string, state types.SavedState) error {
	if err := validateKey(key); err != nil {
		return err
	}
	return withContextError(ctx, func() error {
		data, err := json.Marshal(state)
		if err != nil {
			return fmt.Errorf("failed to marshal %s: %w", key, err)
		}
		s.mu.Lock()
		defer s.mu.Unlock()
		s.states[key] = data
		return nil
	})
}

// Delete removes a state from memory.
func (s *MemoryStorage) Delete(ctx context.Context, key string) error {
	return withContextError(ctx, func() error {
		s.mu.Lock()
		defer s.mu.Unlock()
		if _, ok := s.states[key]; !ok {
			return fmt.Errorf("%w: key=%s", ErrStateNotFound, key)
		}
		delete(s.states, key)
		return nil
	})
}

// Keys lists the stored keys in order.
func (s *MemoryStorage) Keys(ctx context.Context) ([]string, error) {
	return withContext(ctx, func() ([]string, error) {
		s.mu.RLock()
		defer s.mu.RUnlock()
		keys := make([]string, 0, len(s.states))
		for k := range s.states {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		return keys, nil
	})
}

var (
	_ StateStore = (*MemoryStorage)(nil)
	_ KeyLister  = (*MemoryStorage)(nil)
)
