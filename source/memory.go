package source

import (
	"context"
	"fmt"
	"sync"

	"github.com/google/uuid"
	"github.com/songzhibin97/workflow-canvas/rules"
	"github.com/songzhibin97/workflow-canvas/types"
)

// MemorySource is an in-process item list. It is also the backing store of
// the HTTP service.
type MemorySource struct {
	mu        sync.RWMutex
	items     map[string]types.ExternalItem
	order     []string
	evaluator rules.Evaluator
}

// NewMemorySource creates a source holding items.
func NewMemorySource(items ...types.ExternalItem) *MemorySource {
	s := &MemorySource{
		items:     make(map[string]types.ExternalItem),
		evaluator: rules.NewExprEvaluator(),
	}
	for _, it := range items {
		s.put(it)
	}
	return s
}

func (s *MemorySource) put(it types.ExternalItem) types.ExternalItem {
	if it.ID == "" {
		it.ID = uuid.NewString()
	}
	it = cloneItem(it)
	if _, ok := s.items[it.ID]; !ok {
		s.order = append(s.order, it.ID)
	}
	s.items[it.ID] = it
	return cloneItem(it)
}

// Put inserts or replaces an item. An empty ID is assigned a UUID.
func (s *MemorySource) Put(ctx context.Context, it types.ExternalItem) (types.ExternalItem, error) {
	if err := ctx.Err(); err != nil {
		return types.ExternalItem{}, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.put(it), nil
}

// Get returns one item.
func (s *MemorySource) Get(ctx context.Context, id string) (types.ExternalItem, error) {
	if err := ctx.Err(); err != nil {
		return types.ExternalItem{}, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	it, ok := s.items[id]
	if !ok {
		return types.ExternalItem{}, fmt.Errorf("%w: id=%s", ErrItemNotFound, id)
	}
	return cloneItem(it), nil
}

// Delete removes an item.
func (s *MemorySource) Delete(ctx context.Context, id string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.items[id]; !ok {
		return fmt.Errorf("%w: id=%s", ErrItemNotFound, id)
	}
	delete(s.items, id)
	for i, o := range s.order {
		if o == id {
			s.order = append(s.order[:i], s.order[i+1:]...)
			break
		}
	}
	return nil
}

// List returns the items passing filter in insertion order.
func (s *MemorySource) List(ctx context.Context, filter Filter) ([]types.ExternalItem, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	items := make([]types.ExternalItem, 0, len(s.order))
	for _, id := range s.order {
		items = append(items, cloneItem(s.items[id]))
	}
	s.mu.RUnlock()
	return filter.Apply(s.evaluator, items)
}

// UpdatePosition stores a node position on an item.
func (s *MemorySource) UpdatePosition(ctx context.Context, id string, position types.Point) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	it, ok := s.items[id]
	if !ok {
		return fmt.Errorf("%w: id=%s", ErrItemNotFound, id)
	}
	p := position
	it.Position = &p
	s.items[id] = it
	return nil
}

// Len returns the number of items.
func (s *MemorySource) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.items)
}

var (
	_ ItemSource      = (*MemorySource)(nil)
	_ PositionUpdater = (*MemorySource)(nil)
)
