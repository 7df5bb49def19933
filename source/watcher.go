package source

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/cespare/xxhash/v2"
	"github.com/songzhibin97/workflow-canvas/types"
)

// DefaultPollInterval is how often a Watcher lists its source.
const DefaultPollInterval = 2 * time.Second

// WatcherOption configures a Watcher.
type WatcherOption func(*Watcher)

// WithInterval sets the poll interval.
func WithInterval(d time.Duration) WatcherOption {
	return func(w *Watcher) {
		if d > 0 {
			w.interval = d
		}
	}
}

// WithFilter narrows what the watcher lists.
func WithFilter(f Filter) WatcherOption {
	return func(w *Watcher) { w.filter = f }
}

// OnChange is called with the new listing whenever its content hash differs
// from the last listing it accepted. An error keeps the previous hash, so the
// same listing is offered again on the next poll.
func OnChange(fn func(ctx context.Context, items []types.ExternalItem) error) WatcherOption {
	return func(w *Watcher) { w.onChange = fn }
}

// OnError is called when listing fails or OnChange rejects a listing. The
// previous hash is kept so the next poll is compared against the last good one.
func OnError(fn func(ctx context.Context, err error)) WatcherOption {
	return func(w *Watcher) { w.onError = fn }
}

// WithWatcherLogger sets the logger.
func WithWatcherLogger(l *slog.Logger) WatcherOption {
	return func(w *Watcher) {
		if l != nil {
			w.logger = l
		}
	}
}

// Watcher polls an ItemSource and reports content changes.
type Watcher struct {
	src      ItemSource
	interval time.Duration
	filter   Filter
	onChange func(ctx context.Context, items []types.ExternalItem) error
	onError  func(ctx context.Context, err error)
	logger   *slog.Logger

	poll   sync.Mutex
	mu     sync.Mutex
	hash   uint64
	seeded bool
}

// NewWatcher creates a watcher over src.
func NewWatcher(src ItemSource, options ...WatcherOption) *Watcher {
	w := &Watcher{
		src:      src,
		interval: DefaultPollInterval,
		logger:   slog.Default(),
	}
	for _, opt := range options {
		opt(w)
	}
	return w
}

// Interval returns the poll interval.
func (w *Watcher) Interval() time.Duration { return w.interval }

// Hash returns the content hash of items.
func Hash(items []types.ExternalItem) (uint64, error) {
	data, err := json.Marshal(items)
	if err != nil {
		return 0, fmt.Errorf("failed to encode items: %w", err)
	}
	return xxhash.Sum64(data), nil
}

// Poll lists the source once. It reports whether the content changed. A
// poll already in flight makes Poll return immediately with no change.
func (w *Watcher) Poll(ctx context.Context) (bool, error) {
	if !w.poll.TryLock() {
		return false, nil
	}
	defer w.poll.Unlock()

	changed, err := w.check(ctx)
	if err == nil {
		return changed, nil
	}
	if ctx.Err() == nil {
		w.logger.Warn("item source poll failed", "error", err)
	}
	if w.onError != nil {
		w.onError(ctx, err)
	}
	return false, err
}

func (w *Watcher) check(ctx context.Context) (bool, error) {
	items, err := w.src.List(ctx, w.filter)
	if err != nil {
		return false, err
	}
	h, err := Hash(items)
	if err != nil {
		return false, err
	}

	w.mu.Lock()
	changed := !w.seeded || h != w.hash
	w.mu.Unlock()
	if !changed {
		return false, nil
	}
	if w.onChange != nil {
		if err := w.onChange(ctx, items); err != nil {
			return false, err
		}
	}
	w.mu.Lock()
	w.hash, w.seeded = h, true
	w.mu.Unlock()
	return true, nil
}

// Run polls immediately and then on every tick until ctx is done.
func (w *Watcher) Run(ctx context.Context) error {
	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	_, _ = w.Poll(ctx)
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			_, _ = w.Poll(ctx)
		}
	}
}
