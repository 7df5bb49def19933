package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"github.com/songzhibin97/workflow-canvas/types"
)

const fileExt = ".json"

// FileStorage keeps one JSON file per key in a directory. Writes go to a
// temporary file that is renamed over the target.
type FileStorage struct {
	dir string
	mu  sync.RWMutex
}

// NewFileStorage uses dir, creating it if needed.
func NewFileStorage(dir string) (*FileStorage, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create state directory: %w", err)
	}
	return &FileStorage{dir: dir}, nil
}

func (s *FileStorage) path(key string) string {
	return filepath.Join(s.dir, key+fileExt)
}

// Get reads a state file.
func (s *FileStorage) Get(ctx context.Context, key string) (types.SavedState, error) {
	if err := validateKey(key); err != nil {
		return types.SavedState{}, err
	}
	return withContext(ctx, func() (types.SavedState, error) {
		s.mu.RLock()
		data, err := os.ReadFile(s.path(key))
		s.mu.RUnlock()
		if errors.Is(err, fs.ErrNotExist) {
			return types.SavedState{}, fmt.Errorf("%w: key=%s", ErrStateNotFound, key)
		} else if err != nil {
			return types.SavedState{}, fmt.Errorf("failed to read %s: %w", key, err)
		}

		var state types.SavedState
		if err := json.Unmarshal(data, &state); err != nil {
			return types.SavedState{}, fmt.Errorf("failed to unmarshal %s: %w", key, err)
		}
		return state, nil
	})
}

// Save writes a state file atomically.
func (s *FileStorage) Save(ctx context.Context, key string, state types.SavedState) error {
	if err := validateKey(key); err != nil {
		return err
	}
	return withContextError(ctx, func() error {
		data, err := json.MarshalIndent(state, "", "  ")
		if err != nil {
			return fmt.Errorf("failed to marshal %s: %w", key, err)
		}

		s.mu.Lock()
		defer s.mu.Unlock()
		tmp, err := os.CreateTemp(s.dir, "."+key+"-*")
		if err != nil {
			return fmt.Errorf("failed to create temp file: %w", err)
		}
		defer os.Remove(tmp.Name())
		if _, err := tmp.Write(data); err != nil {
			tmp.Close()
			return fmt.Errorf("failed to write %s: %w", key, err)
		}
		if err := tmp.Close(); err != nil {
			return fmt.Errorf("failed to write %s: %w", key, err)
		}
		if err := os.Rename(tmp.Name(), s.path(key)); err != nil {
			return fmt.Errorf("failed to replace %s: %w", key, err)
		}
		return nil
	})
}

// Delete removes a state file.
func (s *FileStorage) Delete(ctx context.Context, key string) error {
	if err := validateKey(key); err != nil {
		return err
	}
	return withContextError(ctx, func() error {
		s.mu.Lock()
		defer s.mu.Unlock()
		err := os.Remove(s.path(key))
		if errors.Is(err, fs.ErrNotExist) {
			return fmt.Errorf("%w: key=%s", ErrStateNotFound, key)
		}
		return err
	})
}

// Keys lists the stored keys in order.
func (s *FileStorage) Keys(ctx context.Context) ([]string, error) {
	return withContext(ctx, func() ([]string, error) {
		s.mu.RLock()
		defer s.mu.RUnlock()
		entries, err := os.ReadDir(s.dir)
		if err != nil {
			return nil, fmt.Errorf("failed to list %s: %w", s.dir, err)
		}
		var keys []string
		for _, e := range entries {
			name := e.Name()
			if e.IsDir() || strings.HasPrefix(name, ".") || !strings.HasSuffix(name, fileExt) {
				continue
			}
			keys = append(keys, strings.TrimSuffix(name, fileExt))
		}
		sort.Strings(keys)
		return keys, nil
	})
}

var (
	_ StateStore = (*FileStorage)(nil)
	_ KeyLister  = (*FileStorage)(nil)
)
