// Package interact implements the pointer gesture state machine shared by the
// workflow canvas and the shape board, plus the timers around it.
package interact

import (
	"math"

	"github.com/songzhibin97/workflow-canvas/geom"
	"github.com/songzhibin97/workflow-canvas/types"
)

// State is the current gesture.
type State int

const (
	StateIdle State = iota
	StatePanningCanvas
	StateDraggingObject
	StateDraggingFromToolbar
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StatePanningCanvas:
		return "panning"
	case StateDraggingObject:
		return "dragging"
	case StateDraggingFromToolbar:
		return "dragging_toolbar"
	}
	return "unknown"
}

// Cursor is the pointer feedback for a state.
type Cursor string

const (
	CursorDefault  Cursor = "default"
	CursorGrab     Cursor = "grab"
	CursorGrabbing Cursor = "grabbing"
	CursorPointer  Cursor = "pointer"
	CursorMove     Cursor = "move"
	CursorCopy     Cursor = "copy"
)

// Grab describes the object under the pointer at press time.
type Grab[K comparable] struct {
	ID     K
	Anchor types.Point
}

// Motion is the outcome of a pointer move.
type Motion[K comparable] struct {
	State State
	// Target and Position are set while dragging an object: Position is the
	// new world-space anchor of Target.
	Target   K
	Position types.Point
	// Preview is the screen position of the toolbar ghost.
	Preview types.Point
	// Delta is the screen-space movement since the previous event.
	Delta types.Point
}

// Release is the outcome of a pointer release.
type Release[K comparable] struct {
	From   State
	Target K
	// Moved is true when the pointer travelled between press and release.
	Moved bool
	// Dropped is true for a toolbar drag released over the canvas; Drop is
	// the world-space drop point, snapped to the grid.
	Dropped bool
	Drop    types.Point
	Item    string
}

// Machine tracks one pointer gesture at a time.
type Machine[K comparable] struct {
	vp   *geom.Viewport
	grid float64

	state   State
	start   types.Point
	last    types.Point
	moved   bool
	target  K
	grabOff types.Point
	item    string
}

// NewMachine binds a state machine to a viewport. grid <= 0 disables snapping.
func NewMachine[K comparable](vp *geom.Viewport, grid float64) *Machine[K] {
	return &Machine[K]{vp: vp, grid: grid}
}

func (m *Machine[K]) State() State { return m.state }

// Target returns the object being dragged, if any.
func (m *Machine[K]) Target() (K, bool) {
	return m.target, m.state == StateDraggingObject
}

// Item returns the toolbar item being dragged, if any.
func (m *Machine[K]) Item() (string, bool) {
	return m.item, m.state == StateDraggingFromToolbar
}

// PointerDown starts panning when grab is nil, or an object drag otherwise.
// It is ignored unless the machine is idle.
func (m *Machine[K]) PointerDown(screen types.Point, grab *Grab[K]) State {
	if m.state != StateIdle {
		return m.state
	}
	m.start, m.last, m.moved = screen, screen, false
	if grab == nil {
		m.state = StatePanningCanvas
		return m.state
	}
	m.state = StateDraggingObject
	m.target = grab.ID
	m.grabOff = m.vp.ToWorld(screen).Sub(grab.Anchor)
	return m.state
}

// ToolbarDown starts dragging a new item out of the toolbar.
func (m *Machine[K]) ToolbarDown(item string, screen types.Point) State {
	if m.state != StateIdle {
		return m.state
	}
	m.start, m.last, m.moved = screen, screen, false
	m.state = StateDraggingFromToolbar
	m.item = item
	return m.state
}

// PointerMove advances the current gesture.
func (m *Machine[K]) PointerMove(screen types.Point) Motion[K] {
	delta := screen.Sub(m.last)
	m.last = screen
	if delta.X != 0 || delta.Y != 0 {
		m.moved = true
	}

	out := Motion[K]{State: m.state, Delta: delta}
	switch m.state {
	case StatePanningCanvas:
		m.vp.PanBy(delta)
	case StateDraggingObject:
		out.Target = m.target
		out.Position = m.vp.ToWorld(screen).Sub(m.grabOff)
	case StateDraggingFromToolbar:
		out.Preview = screen
	}
	return out
}

// PointerUp ends the gesture and returns the machine to idle.
func (m *Machine[K]) PointerUp(screen types.Point, overCanvas bool) Release[K] {
	if screen != m.last {
		m.PointerMove(screen)
	}
	out := Release[K]{From: m.state, Target: m.target, Moved: m.moved, Item: m.item}
	if m.state == StateDraggingFromToolbar && overCanvas {
		out.Dropped = true
		out.Drop = Snap(m.vp.ToWorld(screen), m.grid)
	}
	m.reset()
	return out
}

// Cancel abandons the gesture, e.g. when the pointer leaves the canvas.
func (m *Machine[K]) Cancel() {
	m.reset()
}

func (m *Machine[K]) reset() {
	var zero K
	m.state = StateIdle
	m.target = zero
	m.item = ""
	m.moved = false
	m.grabOff = types.Point{}
}

// Cursor is the pointer feedback for the current state. hovering tells
// whether an object is under the pointer while idle.
func (m *Machine[K]) Cursor(hovering bool) Cursor {
	switch m.state {
	case StatePanningCanvas, StateDraggingObject:
		return CursorGrabbing
	case StateDraggingFromToolbar:
		return CursorCopy
	}
	if hovering {
		return CursorMove
	}
	return CursorGrab
}

// Snap rounds p to the nearest multiple of grid on both axes.
func Snap(p types.Point, grid float64) types.Point {
	if grid <= 0 {
		return p
	}
	return types.Point{
		X: math.Round(p.X/grid) * grid,
		Y: math.Round(p.Y/grid) * grid,
	}
}
