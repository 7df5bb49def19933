package workflow

import (
	"context"

	"github.com/songzhibin97/workflow-canvas/types"
)

// Action is run when a node is clicked, e.g. to open a property panel.
type Action interface {
	// Execute handles the click synchronously.
	Execute(ctx context.Context, node types.Node) error
}

// ActionFunc is a function adapter for Action.
type ActionFunc func(ctx context.Context, node types.Node) error

// Execute implements the Action interface.
func (f ActionFunc) Execute(ctx context.Context, node types.Node) error {
	return f(ctx, node)
}

// ExecuteAsync runs an action in its own goroutine and reports its error.
func ExecuteAsync(ctx context.Context, action Action, node types.Node) chan error {
	errCh := make(chan error, 1)
	go func() {
		errCh <- action.Execute(ctx, node)
	}()
	return errCh
}
