// Package workflow is the workflow canvas editor: it builds the node graph
// from an item source, applies pointer gestures, persists positions and
// reports what happened on an event bus.
package workflow

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"image/color"
	"log/slog"
	"sync"
	"time"

	"github.com/songzhibin97/gkit/generator"
	"github.com/songzhibin97/workflow-canvas/events"
	"github.com/songzhibin97/workflow-canvas/geom"
	"github.com/songzhibin97/workflow-canvas/graph"
	"github.com/songzhibin97/workflow-canvas/interact"
	"github.com/songzhibin97/workflow-canvas/render"
	"github.com/songzhibin97/workflow-canvas/source"
	"github.com/songzhibin97/workflow-canvas/storage"
	"github.com/songzhibin97/workflow-canvas/types"
)

// Standard error definitions
var (
	ErrMalformedBackup = errors.New("malformed backup")
	ErrEditorClosed    = errors.New("editor is closed")
)

// Event types
const (
	EventGraphRebuilt  = "graph_rebuilt"
	EventNodeMoved     = "node_moved"
	EventNodeClicked   = "node_clicked"
	EventNodeCreated   = "node_created"
	EventStateSaved    = "state_saved"
	EventSaveFailed    = "save_failed"
	EventSourceFailed  = "source_failed"
	EventStateRepaired = "state_repaired"
)

// Interaction defaults
const (
	DefaultSaveDelay      = 800 * time.Millisecond
	DefaultClickWindow    = 200 * time.Millisecond
	DefaultClickThreshold = 3.0
	DefaultGrid           = 20.0
)

// Modifiers are the keyboard modifiers held during a press.
type Modifiers struct {
	// Alone drags an action2 node without its children.
	Alone bool
}

type options struct {
	logger       *slog.Logger
	gen          generator.Generator
	layout       graph.Layout
	vpOpts       []geom.Option
	grid         float64
	saveDelay    time.Duration
	clickWindow  time.Duration
	pollInterval time.Duration
	key          string
	filter       source.Filter
	busSize      int
	background   color.Color
}

// Option configures an Editor.
type Option func(*options)

func WithLogger(l *slog.Logger) Option {
	return func(o *options) {
		if l != nil {
			o.logger = l
		}
	}
}

// WithGenerator sets the node id generator.
func WithGenerator(gen generator.Generator) Option {
	return func(o *options) { o.gen = gen }
}

func WithLayout(l graph.Layout) Option {
	return func(o *options) { o.layout = l }
}

func WithViewport(opts ...geom.Option) Option {
	return func(o *options) { o.vpOpts = append(o.vpOpts, opts...) }
}

// WithGrid snaps toolbar drops; size <= 0 disables snapping.
func WithGrid(size float64) Option {
	return func(o *options) { o.grid = size }
}

// WithSaveDelay sets the quiet period after a drag before positions are saved.
func WithSaveDelay(d time.Duration) Option {
	return func(o *options) {
		if d > 0 {
			o.saveDelay = d
		}
	}
}

// WithClickWindow sets how long a press may last and still be a click.
func WithClickWindow(d time.Duration) Option {
	return func(o *options) {
		if d > 0 {
			o.clickWindow = d
		}
	}
}

func WithPollInterval(d time.Duration) Option {
	return func(o *options) { o.pollInterval = d }
}

// WithStateKey sets the key the state is stored under.
func WithStateKey(key string) Option {
	return func(o *options) {
		if key != "" {
			o.key = key
		}
	}
}

func WithFilter(f source.Filter) Option {
	return func(o *options) { o.filter = f }
}

// WithEventBuffer sets the event bus buffer size.
func WithEventBuffer(size int) Option {
	return func(o *options) { o.busSize = size }
}

func WithBackground(c color.Color) Option {
	return func(o *options) { o.background = c }
}

// Editor owns one workflow canvas: its graph, viewport, gesture state and
// the wiring to the item source and state store.
type Editor struct {
	mu      sync.Mutex
	src     source.ItemSource
	store   storage.StateStore
	graph   *graph.Graph
	vp      *geom.Viewport
	machine *interact.Machine[uint64]
	clicks  *interact.ClickDetector
	saver   *interact.Debouncer
	watcher *source.Watcher
	bus     *events.EventBus
	logger  *slog.Logger
	key     string
	bg      color.Color

	actions   map[types.NodeType]Action
	actionsMu sync.RWMutex

	selected   uint64
	alone      bool
	dragMoved  bool
	dragTarget uint64
	pointer    types.Point
	dirty      map[uint64]types.Point

	cancel context.CancelFunc
	done   chan struct{}
	closed bool
}

// NewEditor creates an editor over src and store. A nil store keeps state
// in memory only.
func NewEditor(src source.ItemSource, store storage.StateStore, opts ...Option) (*Editor, error) {
	if src == nil {
		return nil, errors.New("item source is required")
	}
	if store == nil {
		store = storage.NewMemoryStorage()
	}
	o := options{
		logger:      slog.Default(),
		layout:      graph.DefaultLayout(),
		grid:        DefaultGrid,
		saveDelay:   DefaultSaveDelay,
		clickWindow: DefaultClickWindow,
		key:         storage.DefaultStateKey,
		background:  color.White,
	}
	for _, opt := range opts {
		opt(&o)
	}

	vp, err := geom.NewViewport(o.vpOpts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create viewport: %w", err)
	}
	gopts := []graph.Option{graph.WithLayout(o.layout)}
	if o.gen != nil {
		gopts = append(gopts, graph.WithGenerator(o.gen))
	}
	busOpts := []events.EventBusOption{events.WithLogger(o.logger)}
	if o.busSize > 0 {
		busOpts = append(busOpts, events.WithBufferSize(o.busSize))
	}

	e := &Editor{
		src:     src,
		store:   store,
		graph:   graph.New(gopts...),
		vp:      vp,
		machine: interact.NewMachine[uint64](vp, o.grid),
		clicks:  interact.NewClickDetector(o.clickWindow, DefaultClickThreshold),
		bus:     events.NewEventBus(busOpts...),
		logger:  o.logger,
		key:     o.key,
		bg:      o.background,
		actions: make(map[types.NodeType]Action),
		dirty:   make(map[uint64]types.Point),
	}
	e.saver = interact.NewDebouncer(o.saveDelay, func() {
		_ = e.Save(context.Background())
	})
	e.watcher = source.NewWatcher(src,
		source.WithInterval(o.pollInterval),
		source.WithFilter(o.filter),
		source.WithWatcherLogger(o.logger),
		source.OnChange(e.apply),
		source.OnError(func(ctx context.Context, err error) {
			e.publish(EventSourceFailed, 0, map[string]interface{}{"error": err.Error()})
		}),
	)
	return e, nil
}

// Subscribe registers a handler for an event type, or all with events.Wildcard.
func (e *Editor) Subscribe(eventType string, handler events.EventHandler) {
	e.bus.Subscribe(eventType, handler)
}

// Bus returns the editor's event bus.
func (e *Editor) Bus() *events.EventBus { return e.bus }

// RegisterAction sets the action run when a node of type t is clicked.
func (e *Editor) RegisterAction(t types.NodeType, action Action) error {
	if !t.Valid() {
		return fmt.Errorf("%w: %q", graph.ErrInvalidNodeType, t)
	}
	if action == nil {
		return errors.New("action is required")
	}
	e.actionsMu.Lock()
	defer e.actionsMu.Unlock()
	e.actions[t] = action
	return nil
}

func (e *Editor) publish(eventType string, nodeID uint64, data map[string]interface{}) {
	err := e.bus.Publish(context.Background(), events.Event{Type: eventType, NodeID: nodeID, Data: data})
	if err != nil && !errors.Is(err, events.ErrNoHandler) {
		e.logger.Debug("event dropped", "event", eventType, "error", err)
	}
}

// Load restores the saved state. A missing state leaves the editor empty.
// Dangling edges and invalid positions are corrected and the corrected
// state is saved straight back.
func (e *Editor) Load(ctx context.Context) error {
	state, err := e.store.Get(ctx, e.key)
	if errors.Is(err, storage.ErrStateNotFound) {
		return nil
	} else if err != nil {
		e.logger.Error("failed to load state", "key", e.key, "error", err)
		return fmt.Errorf("failed to load state: %w", err)
	}

	repaired, err := e.restore(state)
	if err != nil {
		e.logger.Error("stored state is unusable", "key", e.key, "error", err)
		return err
	}
	if repaired {
		return e.Save(ctx)
	}
	return nil
}

// restore prunes, repairs and applies state. It reports whether the state
// needed correcting.
func (e *Editor) restore(state types.SavedState) (bool, error) {
	dropped := graph.PruneEdges(&state)
	repaired := graph.Repair(&state, e.graph.Layout())

	if err := graph.New(graph.WithLayout(e.graph.Layout())).Restore(state); err != nil {
		return false, fmt.Errorf("%w: %v", ErrMalformedBackup, err)
	}

	e.mu.Lock()
	e.machine.Cancel()
	_ = e.graph.Restore(state)
	if state.Viewport != nil {
		e.vp.Restore(*state.Viewport)
	}
	e.selected = 0
	e.dirty = make(map[uint64]types.Point)
	nodes := e.graph.Len()
	e.mu.Unlock()

	if dropped > 0 || repaired {
		e.logger.Warn("corrected stored state", "key", e.key, "dropped_edges", dropped, "repaired", repaired)
		e.publish(EventStateRepaired, 0, map[string]interface{}{"dropped_edges": dropped, "nodes": nodes})
		return true, nil
	}
	return false, nil
}

// Sync polls the item source once and rebuilds the graph when the items
// changed. A failing source leaves the graph as it was.
func (e *Editor) Sync(ctx context.Context) error {
	_, err := e.watcher.Poll(ctx)
	return err
}

// apply rebuilds the graph from items, keeping remembered positions, and
// persists the result. A failed rebuild leaves the graph, the selection and
// any unsaved moves as they were.
func (e *Editor) apply(ctx context.Context, items []types.ExternalItem) error {
	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return ErrEditorClosed
	}
	if err := e.graph.Rebuild(items, e.graph.Positions()); err != nil {
		e.mu.Unlock()
		e.logger.Error("failed to rebuild graph", "items", len(items), "error", err)
		return fmt.Errorf("failed to rebuild graph: %w", err)
	}
	if e.machine.State() == interact.StateDraggingObject {
		e.machine.Cancel()
		e.dragMoved = false
	}
	if _, ok := e.graph.Node(e.selected); !ok {
		e.selected = 0
	}
	e.dirty = make(map[uint64]types.Point)
	nodes, edges := e.graph.Len(), len(e.graph.Edges())
	e.mu.Unlock()

	e.logger.Info("graph rebuilt", "items", len(items), "nodes", nodes, "edges", edges)
	e.publish(EventGraphRebuilt, 0, map[string]interface{}{"items": len(items), "nodes": nodes, "edges": edges})
	_ = e.Save(ctx)
	return nil
}

// Start polls the item source in the background until ctx is done or the
// editor is closed.
func (e *Editor) Start(ctx context.Context) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		return ErrEditorClosed
	}
	if e.cancel != nil {
		return errors.New("editor already started")
	}
	ctx, e.cancel = context.WithCancel(ctx)
	e.done = make(chan struct{})
	go func(done chan struct{}) {
		defer close(done)
		_ = e.watcher.Run(ctx)
	}(e.done)
	return nil
}

// Close stops polling, abandons a pending save and stops the event bus.
func (e *Editor) Close() {
	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return
	}
	e.closed = true
	cancel, done := e.cancel, e.done
	e.mu.Unlock()

	if cancel != nil {
		cancel()
		<-done
	}
	e.saver.Cancel()
	e.bus.Stop()
}

// Save writes the current snapshot and pushes moved positions back to the
// item source. On failure the in-memory state stays authoritative.
func (e *Editor) Save(ctx context.Context) error {
	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return ErrEditorClosed
	}
	vs := e.vp.State()
	state := e.graph.Snapshot(&vs)
	dirty := e.dirty
	e.dirty = make(map[uint64]types.Point)
	e.mu.Unlock()

	if err := e.store.Save(ctx, e.key, state); err != nil {
		e.logger.Error("failed to save state", "key", e.key, "error", err)
		e.publish(EventSaveFailed, 0, map[string]interface{}{"key": e.key, "error": err.Error()})
		e.redirty(dirty)
		return fmt.Errorf("failed to save state: %w", err)
	}
	e.publish(EventStateSaved, 0, map[string]interface{}{"key": e.key, "nodes": len(state.Items)})

	updater, ok := e.src.(source.PositionUpdater)
	if !ok || len(dirty) == 0 {
		return nil
	}
	var failed map[uint64]types.Point
	for id, p := range dirty {
		n, ok := e.Node(id)
		if !ok || n.WorkflowID == "" {
			continue
		}
		if err := updater.UpdatePosition(ctx, n.WorkflowID, p); err != nil {
			e.logger.Warn("failed to update item position", "item", n.WorkflowID, "error", err)
			if failed == nil {
				failed = make(map[uint64]types.Point)
			}
			failed[id] = p
		}
	}
	if len(failed) > 0 {
		e.redirty(failed)
		e.publish(EventSaveFailed, 0, map[string]interface{}{"key": e.key, "positions": len(failed)})
		return fmt.Errorf("failed to update %d item positions", len(failed))
	}
	return nil
}

// redirty puts positions back for the next save unless they moved again.
func (e *Editor) redirty(positions map[uint64]types.Point) {
	e.mu.Lock()
	defer e.mu.Unlock()
	for id, p := range positions {
		if _, ok := e.dirty[id]; !ok {
			e.dirty[id] = p
		}
	}
}

// Snapshot returns the state Save would write.
func (e *Editor) Snapshot() types.SavedState {
	e.mu.Lock()
	defer e.mu.Unlock()
	vs := e.vp.State()
	return e.graph.Snapshot(&vs)
}

// ExportBackup encodes the current snapshot as JSON.
func (e *Editor) ExportBackup() ([]byte, error) {
	return json.MarshalIndent(e.Snapshot(), "", "  ")
}

// ImportBackup replaces the graph with a backup and saves it. Malformed
// data leaves both the graph and the store untouched.
func (e *Editor) ImportBackup(ctx context.Context, data []byte) error {
	var state types.SavedState
	if err := json.Unmarshal(data, &state); err != nil {
		e.logger.Error("failed to import backup", "error", err)
		return fmt.Errorf("%w: %v", ErrMalformedBackup, err)
	}
	if _, err := e.restore(state); err != nil {
		e.logger.Error("failed to import backup", "error", err)
		return err
	}
	return e.Save(ctx)
}

// Node returns a copy of a node.
func (e *Editor) Node(id uint64) (types.Node, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.graph.Node(id)
}

func (e *Editor) Nodes() []types.Node {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.graph.Nodes()
}

func (e *Editor) Edges() []types.Edge {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.graph.Edges()
}

func (e *Editor) Viewport() types.ViewportState {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.vp.State()
}

// State returns the current gesture state.
func (e *Editor) State() interact.State {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.machine.State()
}

// Selected returns the selected node, if any.
func (e *Editor) Selected() (types.Node, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.selected == 0 {
		return types.Node{}, false
	}
	return e.graph.Node(e.selected)
}

// Cursor is the pointer feedback at the last pointer position.
func (e *Editor) Cursor() interact.Cursor {
	e.mu.Lock()
	defer e.mu.Unlock()
	_, hovering := e.graph.HitTest(e.vp.ToWorld(e.pointer))
	return e.machine.Cursor(hovering)
}

// Render paints the canvas.
func (e *Editor) Render(sf render.Surface) {
	e.mu.Lock()
	defer e.mu.Unlock()
	Draw(sf, e.graph, e.vp.State(), e.selected, e.bg)
}

// PointerDown grabs the topmost node under the pointer, or starts panning
// on empty canvas.
func (e *Editor) PointerDown(screen types.Point, mods Modifiers) interact.State {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.pointer = screen
	if e.machine.State() != interact.StateIdle {
		return e.machine.State()
	}
	e.dragMoved = false
	e.alone = mods.Alone
	e.clicks.Press(screen)

	id, ok := e.graph.HitTest(e.vp.ToWorld(screen))
	if !ok {
		e.selected = 0
		return e.machine.PointerDown(screen, nil)
	}
	n, _ := e.graph.Node(id)
	e.selected = id
	return e.machine.PointerDown(screen, &interact.Grab[uint64]{ID: id, Anchor: n.Position})
}

// ToolbarDown starts dragging a new node of type t out of the toolbar.
func (e *Editor) ToolbarDown(t types.NodeType, screen types.Point) (interact.State, error) {
	if t != types.NodeTypeAction1 && t != types.NodeTypeAction2 {
		return interact.StateIdle, fmt.Errorf("%w: %q", graph.ErrInvalidNodeType, t)
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	e.pointer = screen
	return e.machine.ToolbarDown(string(t), screen), nil
}

// drag moves the grabbed node (and its group) to follow the pointer.
func (e *Editor) drag(m interact.Motion[uint64]) {
	n, ok := e.graph.Node(m.Target)
	if !ok {
		return
	}
	delta := m.Position.Sub(n.Position)
	if delta.IsZero() {
		return
	}
	moved, err := e.graph.MoveGroup(m.Target, delta, e.alone)
	if err != nil {
		return
	}
	e.dragMoved = true
	e.dragTarget = m.Target
	for _, id := range moved {
		if c, ok := e.graph.Node(id); ok && c.WorkflowID != "" && !c.Type.IsBranch() {
			e.dirty[id] = c.Position
		}
	}
	e.saver.Restart()
}

// PointerMove pans, drags or moves the toolbar ghost.
func (e *Editor) PointerMove(screen types.Point) interact.Motion[uint64] {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.pointer = screen
	if e.machine.State() == interact.StateIdle {
		return interact.Motion[uint64]{State: interact.StateIdle}
	}
	e.clicks.Move(screen)
	m := e.machine.PointerMove(screen)
	if m.State == interact.StateDraggingObject {
		e.drag(m)
	}
	return m
}

// PointerUp ends the gesture. A short press without movement on a node is
// a click; a finished drag of a linked node schedules a save; a toolbar
// drag released over the canvas creates a node at the drop point.
func (e *Editor) PointerUp(screen types.Point, overCanvas bool) (interact.Release[uint64], error) {
	e.mu.Lock()
	e.pointer = screen
	if e.machine.State() == interact.StateDraggingObject {
		e.drag(e.machine.PointerMove(screen))
	}
	click := e.clicks.Release(screen)
	r := e.machine.PointerUp(screen, overCanvas)

	var (
		node    types.Node
		created bool
		err     error
	)
	switch {
	case r.From == interact.StateDraggingObject && click && !e.dragMoved:
		node, _ = e.graph.Node(r.Target)
	case r.From == interact.StateDraggingObject && e.dragMoved:
		node, _ = e.graph.Node(r.Target)
		if node.WorkflowID != "" {
			e.saver.Trigger()
		}
	case r.Dropped:
		node, err = e.graph.Append(types.NodeType(r.Item), "", r.Drop)
		if err == nil {
			created = true
			e.selected = node.ID
			e.saver.Trigger()
		}
	}
	moved := e.dragMoved
	e.dragMoved = false
	e.mu.Unlock()

	switch {
	case err != nil:
		return r, err
	case created:
		e.publish(EventNodeCreated, node.ID, map[string]interface{}{"type": string(node.Type), "position": node.Position})
	case r.From == interact.StateDraggingObject && moved:
		e.publish(EventNodeMoved, node.ID, map[string]interface{}{"position": node.Position})
	case r.From == interact.StateDraggingObject && click:
		e.clicked(node)
	}
	return r, nil
}

func (e *Editor) clicked(node types.Node) {
	e.publish(EventNodeClicked, node.ID, map[string]interface{}{"type": string(node.Type), "label": node.Label})
	e.actionsMu.RLock()
	action, ok := e.actions[node.Type]
	e.actionsMu.RUnlock()
	if !ok {
		return
	}
	errCh := ExecuteAsync(context.Background(), action, node)
	go func() {
		if err := <-errCh; err != nil {
			e.logger.Warn("node action failed", "node", node.ID, "type", node.Type, "error", err)
		}
	}()
}

// PointerLeave abandons the gesture. Moves already made stay, and a moved
// linked node is still saved.
func (e *Editor) PointerLeave() {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.dragMoved {
		if n, ok := e.graph.Node(e.dragTarget); ok && n.WorkflowID != "" {
			e.saver.Trigger()
		}
	}
	e.dragMoved = false
	e.clicks.Release(e.pointer)
	e.machine.Cancel()
}

// Wheel zooms around the pointer. Negative deltaY (wheel up) zooms in.
func (e *Editor) Wheel(screen types.Point, deltaY float64) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.pointer = screen
	switch {
	case deltaY < 0:
		e.vp.ZoomAt(screen, 1)
	case deltaY > 0:
		e.vp.ZoomAt(screen, -1)
	}
}

// ZoomIn zooms in around the center of a w x h canvas.
func (e *Editor) ZoomIn(w, h float64) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.vp.ZoomAtCenter(w, h, 1)
}

// ZoomOut zooms out around the center of a w x h canvas.
func (e *Editor) ZoomOut(w, h float64) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.vp.ZoomAtCenter(w, h, -1)
}

// ResetView restores the identity viewport.
func (e *Editor) ResetView() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.vp.Reset()
}

// SavePending reports whether a debounced save is scheduled.
func (e *Editor) SavePending() bool {
	return e.saver.Pending()
}
