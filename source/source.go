// Package source provides the external item lists the workflow canvas is
// built from, plus the poller that watches them for changes.
package source

import (
	"context"
	"errors"
	"fmt"

	"github.com/songzhibin97/workflow-canvas/rules"
	"github.com/songzhibin97/workflow-canvas/types"
)

var (
	// ErrItemNotFound indicates no item has the given id.
	ErrItemNotFound = errors.New("item not found")
	// ErrUnavailable wraps failures to reach a remote source.
	ErrUnavailable = errors.New("item source unavailable")
)

// Filter narrows a listing. Page matches items of one page exactly; Expr is
// an expr-lang boolean expression over ItemEnv.
type Filter struct {
	Page string `json:"page,omitempty" yaml:"page"`
	Expr string `json:"filter,omitempty" yaml:"filter"`
}

// IsZero reports whether the filter matches everything.
func (f Filter) IsZero() bool { return f.Page == "" && f.Expr == "" }

// ItemSource lists external items.
type ItemSource interface {
	List(ctx context.Context, filter Filter) ([]types.ExternalItem, error)
}

// PositionUpdater is implemented by sources that store node positions back
// on their items.
type PositionUpdater interface {
	UpdatePosition(ctx context.Context, id string, position types.Point) error
}

// ItemEnv is the environment filter expressions see for an item.
func ItemEnv(it types.ExternalItem) map[string]interface{} {
	env := map[string]interface{}{
		"id":          it.ID,
		"name":        it.Name,
		"returnValue": it.ReturnValue,
		"page":        it.Page,
		"sequence":    it.SortKey(),
		"fields":      it.Fields,
	}
	if it.Fields == nil {
		env["fields"] = map[string]interface{}{}
	}
	return env
}

// Match reports whether it passes the filter.
func (f Filter) Match(ev rules.Evaluator, it types.ExternalItem) (bool, error) {
	if f.Page != "" && it.Page != f.Page {
		return false, nil
	}
	if f.Expr == "" {
		return true, nil
	}
	ok, err := ev.Evaluate(f.Expr, ItemEnv(it))
	if err != nil {
		return false, fmt.Errorf("filter %q on item %s: %w", f.Expr, it.ID, err)
	}
	return ok, nil
}

// Apply returns the items passing the filter, in order.
func (f Filter) Apply(ev rules.Evaluator, items []types.ExternalItem) ([]types.ExternalItem, error) {
	if f.IsZero() {
		return items, nil
	}
	if f.Expr != "" {
		if err := ev.Compile(f.Expr); err != nil {
			return nil, err
		}
	}
	out := make([]types.ExternalItem, 0, len(items))
	for _, it := range items {
		ok, err := f.Match(ev, it)
		if err != nil {
			return nil, err
		}
		if ok {
			out = append(out, it)
		}
	}
	return out, nil
}

// cloneItem copies the pointer and map fields of an item.
func cloneItem(it types.ExternalItem) types.ExternalItem {
	if it.Sequence != nil {
		it.Sequence = types.IntPtr(*it.Sequence)
	}
	if it.Position != nil {
		p := *it.Position
		it.Position = &p
	}
	if it.Fields != nil {
		fields := make(map[string]interface{}, len(it.Fields))
		for k, v := range it.Fields {
			fields[k] = v
		}
		it.Fields = fields
	}
	return it
}
