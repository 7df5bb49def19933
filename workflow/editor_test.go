package workflow

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/songzhibin97/workflow-canvas/events"
	"github.com/songzhibin97/workflow-canvas/interact"
	"github.com/songzhibin97/workflow-canvas/render"
	"github.com/songzhibin97/workflow-canvas/source"
	"github.com/songzhibin97/workflow-canvas/storage"
	"github.com/songzhibin97/workflow-canvas/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func sampleItems() []types.ExternalItem {
	return []types.ExternalItem{
		{ID: "1", Name: "fetch"},
		{ID: "2", Name: "check", ReturnValue: "ok"},
	}
}

// recorder collects published events by type.
type recorder struct {
	mu     sync.Mutex
	events map[string][]events.Event
}

func record(e *Editor) *recorder {
	r := &recorder{events: make(map[string][]events.Event)}
	e.Subscribe(events.Wildcard, events.EventHandlerFunc(func(_ context.Context, ev events.Event) error {
		r.mu.Lock()
		defer r.mu.Unlock()
		r.events[ev.Type] = append(r.events[ev.Type], ev)
		return nil
	}))
	return r
}

func (r *recorder) count(eventType string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.events[eventType])
}

func (r *recorder) waitFor(t *testing.T, eventType string, n int) {
	t.Helper()
	assert.Eventually(t, func() bool { return r.count(eventType) >= n }, time.Second, 5*time.Millisecond, eventType)
}

func newTestEditor(t *testing.T, src source.ItemSource, store storage.StateStore, opts ...Option) *Editor {
	t.Helper()
	opts = append([]Option{WithSaveDelay(20 * time.Millisecond)}, opts...)
	e, err := NewEditor(src, store, opts...)
	require.NoError(t, err)
	t.Cleanup(e.Close)
	return e
}

func nodeOfType(t *testing.T, e *Editor, nt types.NodeType) types.Node {
	t.Helper()
	for _, n := range e.Nodes() {
		if n.Type == nt {
			return n
		}
	}
	t.Fatalf("no %s node", nt)
	return types.Node{}
}

// failingStore fails every write.
type failingStore struct {
	storage.StateStore
}

func (failingStore) Save(context.Context, string, types.SavedState) error {
	return errors.New("disk full")
}

// flakySource fails while err is set.
type flakySource struct {
	mu    sync.Mutex
	items []types.ExternalItem
	err   error
}

func (f *flakySource) List(context.Context, source.Filter) ([]types.ExternalItem, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.items, f.err
}

func TestEditorSync(t *testing.T) {
	ctx := context.Background()
	store := storage.NewMemoryStorage()
	e := newTestEditor(t, source.NewMemorySource(sampleItems()...), store)
	rec := record(e)

	require.NoError(t, e.Sync(ctx))
	assert.Len(t, e.Nodes(), 4)
	edges := e.Edges()
	require.Len(t, edges, 3)
	assert.False(t, edges[0].Dashed)
	assert.True(t, edges[1].Dashed)
	assert.True(t, strings.HasPrefix(edges[0].Path, "M "))

	saved, err := store.Get(ctx, storage.DefaultStateKey)
	require.NoError(t, err)
	assert.Len(t, saved.Items, 4)
	assert.Len(t, saved.Edges, 3)
	require.NotNil(t, saved.Viewport)
	assert.Equal(t, 1.0, saved.Viewport.Scale)

	rec.waitFor(t, EventGraphRebuilt, 1)
	rec.waitFor(t, EventStateSaved, 1)

	// unchanged items do not rebuild
	require.NoError(t, e.Sync(ctx))
	time.Sleep(20 * time.Millisecond)
	assert.Equal(t, 1, rec.count(EventGraphRebuilt))
}

func TestEditorSourceFailureKeepsGraph(t *testing.T) {
	ctx := context.Background()
	src := &flakySource{items: sampleItems()}
	e := newTestEditor(t, src, nil)
	rec := record(e)

	require.NoError(t, e.Sync(ctx))
	before := e.Nodes()

	src.mu.Lock()
	src.err = errors.New("connection refused")
	src.mu.Unlock()

	assert.Error(t, e.Sync(ctx))
	assert.Equal(t, before, e.Nodes())
	rec.waitFor(t, EventSourceFailed, 1)
}

// limitedIDs hands out ids while left is positive.
type limitedIDs struct {
	mu   sync.Mutex
	next uint64
	left int
}

func (l *limitedIDs) NextID() (uint64, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.left <= 0 {
		return 0, errors.New("id space exhausted")
	}
	l.left--
	l.next++
	return l.next, nil
}

func (l *limitedIDs) allow(n int) {
	l.mu.Lock()
	l.left += n
	l.mu.Unlock()
}

func TestEditorRebuildFailureKeepsGraph(t *testing.T) {
	ctx := context.Background()
	src := source.NewMemorySource(sampleItems()...)
	ids := &limitedIDs{left: 5}
	e := newTestEditor(t, src, nil, WithGenerator(ids))
	rec := record(e)

	require.NoError(t, e.Sync(ctx))
	require.Len(t, e.Nodes(), 4)
	require.Len(t, e.Edges(), 3)

	fetch := nodeOfType(t, e, types.NodeTypeAction1)
	e.PointerDown(types.Point{X: 110, Y: 210}, Modifiers{})
	e.PointerMove(types.Point{X: 130, Y: 230})
	_, err := e.PointerUp(types.Point{X: 130, Y: 230}, true)
	require.NoError(t, err)
	before := e.Nodes()

	// rebuilding three items takes five ids; only one is left
	_, err = src.Put(ctx, types.ExternalItem{ID: "3", Name: "ship"})
	require.NoError(t, err)
	err = e.Sync(ctx)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "id space exhausted")
	assert.Equal(t, before, e.Nodes())
	assert.Len(t, e.Edges(), 3)
	selected, ok := e.Selected()
	require.True(t, ok)
	assert.Equal(t, fetch.ID, selected.ID)
	rec.waitFor(t, EventSourceFailed, 1)
	assert.Equal(t, 1, rec.count(EventGraphRebuilt))

	// the same listing is retried once ids are available again
	ids.allow(10)
	require.NoError(t, e.Sync(ctx))
	assert.Len(t, e.Nodes(), 5)
	assert.Len(t, e.Edges(), 4)
	moved := nodeOfType(t, e, types.NodeTypeAction1)
	assert.Equal(t, types.Point{X: 120, Y: 220}, moved.Position)
	rec.waitFor(t, EventGraphRebuilt, 2)
}

func TestEditorDragLinkedNode(t *testing.T) {
	ctx := context.Background()
	src := source.NewMemorySource(sampleItems()...)
	store := storage.NewMemoryStorage()
	e := newTestEditor(t, src, store)
	rec := record(e)
	require.NoError(t, e.Sync(ctx))

	fetch := nodeOfType(t, e, types.NodeTypeAction1)
	require.Equal(t, types.Point{X: 100, Y: 200}, fetch.Position)
	pathBefore := e.Edges()[0].Path

	assert.Equal(t, interact.StateDraggingObject, e.PointerDown(types.Point{X: 110, Y: 210}, Modifiers{}))
	selected, ok := e.Selected()
	require.True(t, ok)
	assert.Equal(t, fetch.ID, selected.ID)
	assert.Equal(t, interact.CursorGrabbing, e.Cursor())

	e.PointerMove(types.Point{X: 160, Y: 260})
	moved, _ := e.Node(fetch.ID)
	assert.Equal(t, types.Point{X: 150, Y: 250}, moved.Position)
	assert.Equal(t, moved.Position, moved.Properties.Position)
	assert.NotEqual(t, pathBefore, e.Edges()[0].Path)

	r, err := e.PointerUp(types.Point{X: 160, Y: 260}, true)
	require.NoError(t, err)
	assert.True(t, r.Moved)
	assert.True(t, e.SavePending())
	rec.waitFor(t, EventNodeMoved, 1)

	assert.Eventually(t, func() bool {
		it, err := src.Get(ctx, "1")
		return err == nil && it.Position != nil && *it.Position == types.Point{X: 150, Y: 250}
	}, time.Second, 5*time.Millisecond)

	saved, err := store.Get(ctx, storage.DefaultStateKey)
	require.NoError(t, err)
	for _, n := range saved.Items {
		if n.ID == fetch.ID {
			assert.Equal(t, types.Point{X: 150, Y: 250}, n.Position)
		}
	}
	assert.Zero(t, rec.count(EventNodeClicked))
}

func TestEditorDebounceRestartsOnMove(t *testing.T) {
	ctx := context.Background()
	store := storage.NewMemoryStorage()
	e := newTestEditor(t, source.NewMemorySource(sampleItems()...), store, WithSaveDelay(80*time.Millisecond))
	require.NoError(t, e.Sync(ctx))
	require.NoError(t, store.Delete(ctx, storage.DefaultStateKey))

	e.PointerDown(types.Point{X: 110, Y: 210}, Modifiers{})
	e.PointerMove(types.Point{X: 120, Y: 210})
	_, err := e.PointerUp(types.Point{X: 120, Y: 210}, true)
	require.NoError(t, err)

	// a second drag before the quiet period ends pushes the save back
	time.Sleep(40 * time.Millisecond)
	e.PointerDown(types.Point{X: 120, Y: 210}, Modifiers{})
	e.PointerMove(types.Point{X: 130, Y: 210})
	time.Sleep(60 * time.Millisecond)
	_, err = store.Get(ctx, storage.DefaultStateKey)
	assert.ErrorIs(t, err, storage.ErrStateNotFound)

	_, err = e.PointerUp(types.Point{X: 130, Y: 210}, true)
	require.NoError(t, err)
	assert.Eventually(t, func() bool {
		_, err := store.Get(ctx, storage.DefaultStateKey)
		return err == nil
	}, time.Second, 5*time.Millisecond)
}

func TestEditorRigidGroupDrag(t *testing.T) {
	ctx := context.Background()
	e := newTestEditor(t, source.NewMemorySource(sampleItems()...), nil)
	require.NoError(t, e.Sync(ctx))

	check := nodeOfType(t, e, types.NodeTypeAction2)
	cont := nodeOfType(t, e, types.NodeTypeContinue)
	rej := nodeOfType(t, e, types.NodeTypeReject)

	grab := check.Position.Add(types.Point{X: 5, Y: 5})
	e.PointerDown(grab, Modifiers{})
	e.PointerMove(grab.Add(types.Point{X: 30, Y: -20}))
	_, err := e.PointerUp(grab.Add(types.Point{X: 30, Y: -20}), true)
	require.NoError(t, err)

	delta := types.Point{X: 30, Y: -20}
	got, _ := e.Node(cont.ID)
	assert.Equal(t, cont.Position.Add(delta), got.Position)
	got, _ = e.Node(rej.ID)
	assert.Equal(t, rej.Position.Add(delta), got.Position)

	t.Run("alone", func(t *testing.T) {
		check, _ := e.Node(check.ID)
		cont, _ := e.Node(cont.ID)
		grab := check.Position.Add(types.Point{X: 5, Y: 5})
		e.PointerDown(grab, Modifiers{Alone: true})
		e.PointerMove(grab.Add(types.Point{X: 10, Y: 10}))
		_, err := e.PointerUp(grab.Add(types.Point{X: 10, Y: 10}), true)
		require.NoError(t, err)

		moved, _ := e.Node(check.ID)
		assert.Equal(t, check.Position.Add(types.Point{X: 10, Y: 10}), moved.Position)
		still, _ := e.Node(cont.ID)
		assert.Equal(t, cont.Position, still.Position)
	})
}

func TestEditorClick(t *testing.T) {
	ctx := context.Background()
	e := newTestEditor(t, source.NewMemorySource(sampleItems()...), nil)
	rec := record(e)
	require.NoError(t, e.Sync(ctx))

	opened := make(chan types.Node, 1)
	require.NoError(t, e.RegisterAction(types.NodeTypeAction1, ActionFunc(func(_ context.Context, n types.Node) error {
		opened <- n
		return nil
	})))
	assert.Error(t, e.RegisterAction("bogus", ActionFunc(nil)))

	fetch := nodeOfType(t, e, types.NodeTypeAction1)
	e.PointerDown(types.Point{X: 120, Y: 220}, Modifiers{})
	r, err := e.PointerUp(types.Point{X: 120, Y: 220}, true)
	require.NoError(t, err)
	assert.False(t, r.Moved)
	assert.False(t, e.SavePending())

	rec.waitFor(t, EventNodeClicked, 1)
	select {
	case n := <-opened:
		assert.Equal(t, fetch.ID, n.ID)
	case <-time.After(time.Second):
		t.Fatal("action not run")
	}
	assert.Zero(t, rec.count(EventNodeMoved))
}

func TestEditorPanAndZoom(t *testing.T) {
	e := newTestEditor(t, source.NewMemorySource(), nil)

	assert.Equal(t, interact.StatePanningCanvas, e.PointerDown(types.Point{X: 10, Y: 10}, Modifiers{}))
	e.PointerMove(types.Point{X: 30, Y: 40})
	_, err := e.PointerUp(types.Point{X: 30, Y: 40}, true)
	require.NoError(t, err)
	assert.Equal(t, types.ViewportState{Scale: 1, OffsetX: 20, OffsetY: 30}, e.Viewport())
	assert.Equal(t, interact.StateIdle, e.State())

	e.Wheel(types.Point{X: 100, Y: 100}, -120)
	assert.Greater(t, e.Viewport().Scale, 1.0)
	e.ResetView()
	assert.Equal(t, types.ViewportState{Scale: 1}, e.Viewport())

	e.ZoomIn(800, 600)
	assert.InDelta(t, 1.2, e.Viewport().Scale, 1e-9)
	e.ZoomOut(800, 600)
	assert.InDelta(t, 1.0, e.Viewport().Scale, 1e-9)
}

func TestEditorToolbarDrop(t *testing.T) {
	ctx := context.Background()
	e := newTestEditor(t, source.NewMemorySource(sampleItems()...), nil)
	rec := record(e)
	require.NoError(t, e.Sync(ctx))
	cont := nodeOfType(t, e, types.NodeTypeContinue)

	_, err := e.ToolbarDown(types.NodeTypeContinue, types.Point{})
	assert.Error(t, err)

	state, err := e.ToolbarDown(types.NodeTypeAction1, types.Point{X: 5, Y: 5})
	require.NoError(t, err)
	assert.Equal(t, interact.StateDraggingFromToolbar, state)
	assert.Equal(t, interact.CursorCopy, e.Cursor())

	r, err := e.PointerUp(types.Point{X: 405, Y: 495}, true)
	require.NoError(t, err)
	require.True(t, r.Dropped)
	assert.Equal(t, types.Point{X: 400, Y: 500}, r.Drop)

	created, ok := e.Selected()
	require.True(t, ok)
	assert.Equal(t, "Action", created.Label)
	assert.Equal(t, types.Point{X: 400, Y: 500}, created.Position)
	assert.Len(t, e.Edges(), 4)
	last := e.Edges()[3]
	assert.Equal(t, cont.ID, last.FromNodeID)
	assert.Equal(t, created.ID, last.ToNodeID)
	rec.waitFor(t, EventNodeCreated, 1)

	// released off canvas drops nothing
	_, err = e.ToolbarDown(types.NodeTypeAction2, types.Point{})
	require.NoError(t, err)
	r, err = e.PointerUp(types.Point{X: 900, Y: 900}, false)
	require.NoError(t, err)
	assert.False(t, r.Dropped)
	assert.Len(t, e.Nodes(), 5)
}

func TestEditorPointerLeave(t *testing.T) {
	ctx := context.Background()
	e := newTestEditor(t, source.NewMemorySource(sampleItems()...), nil)
	require.NoError(t, e.Sync(ctx))

	e.PointerDown(types.Point{X: 110, Y: 210}, Modifiers{})
	e.PointerMove(types.Point{X: 140, Y: 210})
	e.PointerLeave()
	assert.Equal(t, interact.StateIdle, e.State())
	assert.True(t, e.SavePending())

	n := nodeOfType(t, e, types.NodeTypeAction1)
	assert.Equal(t, types.Point{X: 130, Y: 200}, n.Position)
}

func TestEditorPointerLeaveSavesBranchChild(t *testing.T) {
	ctx := context.Background()
	store := storage.NewMemoryStorage()
	e := newTestEditor(t, source.NewMemorySource(sampleItems()...), store)
	require.NoError(t, e.Sync(ctx))

	cont := nodeOfType(t, e, types.NodeTypeContinue)
	require.Equal(t, types.Point{X: 550, Y: 100}, cont.Position)
	require.NotEmpty(t, cont.WorkflowID)

	e.PointerDown(types.Point{X: 560, Y: 110}, Modifiers{})
	e.PointerMove(types.Point{X: 600, Y: 150})
	e.PointerLeave()
	assert.Equal(t, interact.StateIdle, e.State())
	assert.True(t, e.SavePending())

	moved, _ := e.Node(cont.ID)
	require.Equal(t, types.Point{X: 590, Y: 140}, moved.Position)
	assert.Eventually(t, func() bool {
		saved, err := store.Get(ctx, storage.DefaultStateKey)
		if err != nil {
			return false
		}
		for _, n := range saved.Items {
			if n.ID == cont.ID {
				return n.Position == types.Point{X: 590, Y: 140}
			}
		}
		return false
	}, time.Second, 5*time.Millisecond)
}

func TestEditorLoadRepairs(t *testing.T) {
	ctx := context.Background()
	store := storage.NewMemoryStorage()
	require.NoError(t, store.Save(ctx, storage.DefaultStateKey, types.SavedState{
		Items: []types.Node{
			{ID: 1, Label: "fetch", Type: types.NodeTypeAction1, WorkflowID: "1"},
			{ID: 2, Label: "next", Type: types.NodeTypeAction1, Position: types.Point{X: 400, Y: 220}},
		},
		Edges:    []types.EdgeRef{{FromID: 1, ToID: 2}, {FromID: 2, ToID: 9}},
		NextID:   3,
		Viewport: &types.ViewportState{Scale: 2, OffsetX: 10, OffsetY: 20},
	}))

	e := newTestEditor(t, source.NewMemorySource(), store)
	rec := record(e)
	require.NoError(t, e.Load(ctx))

	n, ok := e.Node(1)
	require.True(t, ok)
	assert.Equal(t, types.Point{X: 100, Y: 200}, n.Position)
	assert.Len(t, e.Edges(), 1)
	assert.Equal(t, types.ViewportState{Scale: 2, OffsetX: 10, OffsetY: 20}, e.Viewport())
	rec.waitFor(t, EventStateRepaired, 1)

	saved, err := store.Get(ctx, storage.DefaultStateKey)
	require.NoError(t, err)
	assert.Len(t, saved.Edges, 1)
	assert.Equal(t, types.Point{X: 100, Y: 200}, saved.Items[0].Position)

	t.Run("missing state", func(t *testing.T) {
		empty := newTestEditor(t, source.NewMemorySource(), storage.NewMemoryStorage())
		require.NoError(t, empty.Load(ctx))
		assert.Empty(t, empty.Nodes())
	})
}

func TestEditorBackup(t *testing.T) {
	ctx := context.Background()
	a := newTestEditor(t, source.NewMemorySource(sampleItems()...), nil)
	require.NoError(t, a.Sync(ctx))
	data, err := a.ExportBackup()
	require.NoError(t, err)

	store := storage.NewMemoryStorage()
	b := newTestEditor(t, source.NewMemorySource(), store)

	err = b.ImportBackup(ctx, []byte("{not json"))
	assert.ErrorIs(t, err, ErrMalformedBackup)
	err = b.ImportBackup(ctx, []byte(`{"items":[{"id":1},{"id":1}],"edges":[],"nextId":2}`))
	assert.ErrorIs(t, err, ErrMalformedBackup)
	assert.Empty(t, b.Nodes())
	_, err = store.Get(ctx, storage.DefaultStateKey)
	assert.ErrorIs(t, err, storage.ErrStateNotFound)

	require.NoError(t, b.ImportBackup(ctx, data))
	assert.Equal(t, a.Nodes(), b.Nodes())
	assert.Equal(t, a.Edges(), b.Edges())
	saved, err := store.Get(ctx, storage.DefaultStateKey)
	require.NoError(t, err)
	assert.Len(t, saved.Items, 4)
}

func TestEditorSaveFailure(t *testing.T) {
	ctx := context.Background()
	e := newTestEditor(t, source.NewMemorySource(sampleItems()...), failingStore{storage.NewMemoryStorage()})
	rec := record(e)

	require.NoError(t, e.Sync(ctx))
	assert.Len(t, e.Nodes(), 4)
	rec.waitFor(t, EventSaveFailed, 1)

	err := e.Save(ctx)
	assert.Error(t, err)
	assert.Len(t, e.Snapshot().Items, 4)
}

func TestEditorStartClose(t *testing.T) {
	src := source.NewMemorySource(sampleItems()...)
	e, err := NewEditor(src, nil, WithPollInterval(10*time.Millisecond))
	require.NoError(t, err)

	require.NoError(t, e.Start(context.Background()))
	assert.Error(t, e.Start(context.Background()))
	assert.Eventually(t, func() bool { return len(e.Nodes()) == 4 }, time.Second, 5*time.Millisecond)

	_, err = src.Put(context.Background(), types.ExternalItem{ID: "3", Name: "ship"})
	require.NoError(t, err)
	assert.Eventually(t, func() bool { return len(e.Nodes()) == 5 }, time.Second, 5*time.Millisecond)

	e.Close()
	e.Close()
	assert.ErrorIs(t, e.Save(context.Background()), ErrEditorClosed)
	assert.ErrorIs(t, e.Start(context.Background()), ErrEditorClosed)
}

func TestEditorRender(t *testing.T) {
	ctx := context.Background()
	e := newTestEditor(t, source.NewMemorySource(sampleItems()...), nil)
	require.NoError(t, e.Sync(ctx))
	e.PointerDown(types.Point{X: 110, Y: 210}, Modifiers{})

	rec := &render.Recorder{}
	e.Render(rec)
	// four node boxes plus the selection outline
	assert.Equal(t, 5, rec.Count("rect "))
	assert.Equal(t, 3, rec.Count("cubic "))
	assert.Equal(t, 4, rec.Count("text "))
	assert.Equal(t, 2, rec.Count("dash [6 4]"))
	assert.Equal(t, rec.Count("push"), rec.Count("pop"))
	assert.Contains(t, rec.String(), `text "fetch"`)
}
