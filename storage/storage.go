// Package storage persists canvas snapshots in a key-value store. One key
// holds the current state of one canvas; there is no history.
package storage

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/songzhibin97/workflow-canvas/types"
)

// DefaultStateKey is the well-known key of the workflow canvas state.
const DefaultStateKey = "workflow-positions"

var (
	// ErrStateNotFound indicates nothing is stored under the key.
	ErrStateNotFound = errors.New("state not found")
	// ErrInvalidKey indicates an empty or malformed key.
	ErrInvalidKey = errors.New("invalid state key")
)

// StateStore defines the interface for persisting and retrieving canvas state.
type StateStore interface {
	// Get returns the state under key or ErrStateNotFound.
	Get(ctx context.Context, key string) (types.SavedState, error)

	// Save replaces the state under key.
	Save(ctx context.Context, key string, state types.SavedState) error

	// Delete removes the state under key or returns ErrStateNotFound.
	Delete(ctx context.Context, key string) error
}

// KeyLister is implemented by stores that can enumerate their keys.
type KeyLister interface {
	Keys(ctx context.Context) ([]string, error)
}

// validateKey rejects keys that cannot be stored in every backend.
func validateKey(key string) error {
	if key == "" || strings.ContainsAny(key, "/\\\x00") || key == "." || key == ".." {
		return fmt.Errorf("%w: %q", ErrInvalidKey, key)
	}
	return nil
}

// withContext is a standalone generic helper function.
func withContext[T any](ctx context.Context, fn func() (T, error)) (T, error) {
	var zero T
	select {
	case <-ctx.Done():
		return zero, ctx.Err()
	default:
		return fn()
	}
}

// withContextError handles context cancellation for operations that only return an error.
func withContextError(ctx context.Context, fn func() error) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	default:
		return fn()
	}
}
