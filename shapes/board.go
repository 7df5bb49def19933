package shapes

import (
	"errors"
	"fmt"
	"image/color"
	"math"
	"strconv"
	"sync"

	"github.com/songzhibin97/workflow-canvas/geom"
	"github.com/songzhibin97/workflow-canvas/interact"
	"github.com/songzhibin97/workflow-canvas/render"
	"github.com/songzhibin97/workflow-canvas/types"
)

var (
	// ErrShapeNotFound indicates no shape has the given id.
	ErrShapeNotFound = errors.New("shape not found")
	// ErrInvalidKind indicates an unknown shape kind.
	ErrInvalidKind = errors.New("invalid shape kind")
)

const (
	// DefaultBound is the soft limit on placement in world units.
	DefaultBound = 1e6
	// BoardMaxScale is the board's default zoom ceiling.
	BoardMaxScale = 10.0
)

// Board is the generic shape canvas. It owns its viewport and gesture state,
// so several boards can coexist.
type Board struct {
	mu       sync.RWMutex
	vp       *geom.Viewport
	machine  *interact.Machine[string]
	shapes   []Shape
	selected string
	nextID   int
	bound    float64
	grid     float64
	vpOpts   []geom.Option
	bg       color.Color
}

// Option configures a Board.
type Option func(*Board)

// WithGrid snaps toolbar drops to multiples of size.
func WithGrid(size float64) Option {
	return func(b *Board) { b.grid = size }
}

// WithBound sets the soft placement bound; values <= 0 disable it.
func WithBound(bound float64) Option {
	return func(b *Board) { b.bound = bound }
}

// WithViewport passes options to the board's viewport.
func WithViewport(options ...geom.Option) Option {
	return func(b *Board) { b.vpOpts = append(b.vpOpts, options...) }
}

// WithBackground sets the clear color used by Render.
func WithBackground(c color.Color) Option {
	return func(b *Board) { b.bg = c }
}

// NewBoard creates an empty board with a 0.1 to 10 zoom range.
func NewBoard(options ...Option) (*Board, error) {
	b := &Board{
		nextID: 1,
		bound:  DefaultBound,
		vpOpts: []geom.Option{geom.WithScaleRange(geom.DefaultMinScale, BoardMaxScale)},
		bg:     color.White,
	}
	for _, option := range options {
		option(b)
	}
	vp, err := geom.NewViewport(b.vpOpts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create viewport: %w", err)
	}
	b.vp = vp
	b.machine = interact.NewMachine[string](vp, b.grid)
	return b, nil
}

func (b *Board) clampPoint(p types.Point) types.Point {
	if b.bound <= 0 {
		return p
	}
	return types.Point{
		X: math.Max(-b.bound, math.Min(b.bound, p.X)),
		Y: math.Max(-b.bound, math.Min(b.bound, p.Y)),
	}
}

func (b *Board) index(id string) int {
	for i := range b.shapes {
		if b.shapes[i].ID == id {
			return i
		}
	}
	return -1
}

// Add places a new default-sized shape of kind at the world point at and
// selects it.
func (b *Board) Add(kind Kind, at types.Point) (Shape, error) {
	if !kind.Valid() {
		return Shape{}, fmt.Errorf("%w: %q", ErrInvalidKind, kind)
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.add(kind, at), nil
}

func (b *Board) add(kind Kind, at types.Point) Shape {
	s := newShape(strconv.Itoa(b.nextID), kind, b.clampPoint(at))
	b.nextID++
	b.shapes = append(b.shapes, s)
	b.selected = s.ID
	return s
}

// AddShape inserts a fully specified shape on top. An empty ID is assigned.
func (b *Board) AddShape(s Shape) (Shape, error) {
	if !s.Kind.Valid() {
		return Shape{}, fmt.Errorf("%w: %q", ErrInvalidKind, s.Kind)
	}
	if _, err := render.ParseColor(s.Color); err != nil {
		return Shape{}, err
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	if s.ID == "" || b.index(s.ID) >= 0 {
		s.ID = strconv.Itoa(b.nextID)
		b.nextID++
	}
	p := b.clampPoint(s.Anchor())
	s.X, s.Y = p.X, p.Y
	b.shapes = append(b.shapes, s)
	return s, nil
}

// Remove deletes a shape, clearing the selection if it was selected.
func (b *Board) Remove(id string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	i := b.index(id)
	if i < 0 {
		return fmt.Errorf("%w: id=%s", ErrShapeNotFound, id)
	}
	b.shapes = append(b.shapes[:i], b.shapes[i+1:]...)
	if b.selected == id {
		b.selected = ""
	}
	return nil
}

// Select marks a shape as selected; an empty id clears the selection.
func (b *Board) Select(id string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if id != "" && b.index(id) < 0 {
		return fmt.Errorf("%w: id=%s", ErrShapeNotFound, id)
	}
	b.selected = id
	return nil
}

// Selected returns the selected shape, if any.
func (b *Board) Selected() (Shape, bool) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if i := b.index(b.selected); i >= 0 {
		return b.shapes[i], true
	}
	return Shape{}, false
}

// Shapes returns a copy of the shapes in z-order.
func (b *Board) Shapes() []Shape {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return append([]Shape(nil), b.shapes...)
}

func (b *Board) update(id string, fn func(*Shape)) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	i := b.index(id)
	if i < 0 {
		return fmt.Errorf("%w: id=%s", ErrShapeNotFound, id)
	}
	fn(&b.shapes[i])
	return nil
}

// SetColor recolours a shape.
func (b *Board) SetColor(id, c string) error {
	if _, err := render.ParseColor(c); err != nil {
		return err
	}
	return b.update(id, func(s *Shape) { s.Color = c })
}

// SetText changes a shape's label.
func (b *Board) SetText(id, text string) error {
	return b.update(id, func(s *Shape) { s.Text = text })
}

// Clear removes every shape.
func (b *Board) Clear() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.shapes = nil
	b.selected = ""
}

// Viewport returns the board's viewport state.
func (b *Board) Viewport() types.ViewportState {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.vp.State()
}

// State returns the current gesture state.
func (b *Board) State() interact.State {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.machine.State()
}

// PointerDown selects and grabs the topmost shape under the pointer, or
// starts panning on empty canvas.
func (b *Board) PointerDown(screen types.Point) interact.State {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.machine.State() != interact.StateIdle {
		return b.machine.State()
	}
	i := HitTest(b.vp.ToWorld(screen), b.shapes)
	if i < 0 {
		b.selected = ""
		return b.machine.PointerDown(screen, nil)
	}
	s := b.shapes[i]
	b.selected = s.ID
	return b.machine.PointerDown(screen, &interact.Grab[string]{ID: s.ID, Anchor: s.Anchor()})
}

// ToolbarDown starts dragging a new shape of kind out of the toolbar.
func (b *Board) ToolbarDown(kind Kind, screen types.Point) (interact.State, error) {
	if !kind.Valid() {
		return interact.StateIdle, fmt.Errorf("%w: %q", ErrInvalidKind, kind)
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.machine.ToolbarDown(string(kind), screen), nil
}

// PointerMove pans or drags depending on the gesture.
func (b *Board) PointerMove(screen types.Point) interact.Motion[string] {
	b.mu.Lock()
	defer b.mu.Unlock()
	m := b.machine.PointerMove(screen)
	if m.State == interact.StateDraggingObject {
		if i := b.index(m.Target); i >= 0 {
			p := b.clampPoint(m.Position)
			b.shapes[i].X, b.shapes[i].Y = p.X, p.Y
		}
	}
	return m
}

// PointerUp ends the gesture. A toolbar drag released over the canvas adds
// the shape at the drop point and returns it.
func (b *Board) PointerUp(screen types.Point, overCanvas bool) (Shape, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.machine.State() == interact.StateDraggingObject {
		m := b.machine.PointerMove(screen)
		if i := b.index(m.Target); i >= 0 {
			p := b.clampPoint(m.Position)
			b.shapes[i].X, b.shapes[i].Y = p.X, p.Y
		}
	}
	r := b.machine.PointerUp(screen, overCanvas)
	if !r.Dropped {
		return Shape{}, false
	}
	return b.add(Kind(r.Item), r.Drop), true
}

// PointerLeave abandons the gesture; nothing is dropped.
func (b *Board) PointerLeave() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.machine.Cancel()
}

// Wheel zooms around the pointer. Negative deltaY (wheel up) zooms in.
func (b *Board) Wheel(screen types.Point, deltaY float64) {
	b.mu.Lock()
	defer b.mu.Unlock()
	switch {
	case deltaY < 0:
		b.vp.ZoomAt(screen, 1)
	case deltaY > 0:
		b.vp.ZoomAt(screen, -1)
	}
}

// ZoomIn zooms around the center of a w x h canvas.
func (b *Board) ZoomIn(w, h float64) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.vp.ZoomAtCenter(w, h, 1)
}

// ZoomOut zooms out around the center of a w x h canvas.
func (b *Board) ZoomOut(w, h float64) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.vp.ZoomAtCenter(w, h, -1)
}

// ResetView restores the identity viewport.
func (b *Board) ResetView() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.vp.Reset()
}

// Cursor is the pointer feedback at screen.
func (b *Board) Cursor(screen types.Point) interact.Cursor {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.machine.Cursor(HitTest(b.vp.ToWorld(screen), b.shapes) >= 0)
}

// Render paints every shape in z-order under the viewport transform.
func (b *Board) Render(sf render.Surface) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	sf.Clear(b.bg)
	sf.Push()
	sf.Translate(b.vp.OffsetX, b.vp.OffsetY)
	sf.Scale(b.vp.Scale)
	for _, s := range b.shapes {
		s.Draw(sf, s.ID == b.selected, b.vp.Scale)
	}
	sf.Pop()
}
