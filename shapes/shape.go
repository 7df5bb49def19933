// Package shapes is the generic canvas: free-form rectangles, circles,
// triangles and text that can be added, selected, dragged and recoloured
// under a pan/zoom viewport.
package shapes

import (
	"math"

	"github.com/songzhibin97/workflow-canvas/render"
	"github.com/songzhibin97/workflow-canvas/types"
)

// Kind is the geometric variant of a shape.
type Kind string

const (
	KindRectangle Kind = "rectangle"
	KindCircle    Kind = "circle"
	KindTriangle  Kind = "triangle"
	KindText      Kind = "text"
)

// Valid reports whether k is a known kind.
func (k Kind) Valid() bool {
	switch k {
	case KindRectangle, KindCircle, KindTriangle, KindText:
		return true
	}
	return false
}

// Shape is one object on the board. X/Y is the anchor: the top-left corner
// for rectangles and text, the center for circles and the apex for triangles.
type Shape struct {
	ID     string  `json:"id"`
	Kind   Kind    `json:"type"`
	X      float64 `json:"x"`
	Y      float64 `json:"y"`
	Width  float64 `json:"width,omitempty"`
	Height float64 `json:"height,omitempty"`
	Radius float64 `json:"radius,omitempty"`
	Color  string  `json:"color"`
	Text   string  `json:"text,omitempty"`
}

// Anchor returns the shape's reference point.
func (s Shape) Anchor() types.Point { return types.Point{X: s.X, Y: s.Y} }

// Contains reports whether the world point p hits the shape. Triangles are
// tested against their bounding box.
func (s Shape) Contains(p types.Point) bool {
	switch s.Kind {
	case KindRectangle, KindText:
		return p.X >= s.X && p.X <= s.X+s.Width && p.Y >= s.Y && p.Y <= s.Y+s.Height
	case KindCircle:
		return math.Hypot(p.X-s.X, p.Y-s.Y) <= s.Radius
	case KindTriangle:
		return p.X >= s.X-s.Width/2 && p.X <= s.X+s.Width/2 && p.Y >= s.Y && p.Y <= s.Y+s.Height
	}
	return false
}

// HitTest returns the index of the topmost shape containing p, or -1.
func HitTest(p types.Point, shapes []Shape) int {
	for i := len(shapes) - 1; i >= 0; i-- {
		if shapes[i].Contains(p) {
			return i
		}
	}
	return -1
}

// outline traces the shape's outline as a path.
func (s Shape) outline(sf render.Surface) {
	switch s.Kind {
	case KindRectangle, KindText:
		sf.Rect(s.X, s.Y, s.Width, s.Height)
	case KindCircle:
		sf.Arc(s.X, s.Y, s.Radius, 0, 2*math.Pi)
	case KindTriangle:
		sf.MoveTo(s.X, s.Y)
		sf.LineTo(s.X+s.Width/2, s.Y+s.Height)
		sf.LineTo(s.X-s.Width/2, s.Y+s.Height)
		sf.ClosePath()
	}
}

// Draw paints the shape in world space. A selected shape gets an outline
// whose width is divided by scale so it stays constant on screen.
func (s Shape) Draw(sf render.Surface, selected bool, scale float64) {
	sf.SetFill(render.ColorOrBlack(s.Color))
	if s.Kind == KindText {
		sf.Text(s.Text, s.X, s.Y+s.Height*0.8)
	} else {
		s.outline(sf)
		sf.Fill()
	}
	if !selected {
		return
	}
	sf.SetStroke(render.ColorOrBlack(SelectionColor), 2/scale)
	sf.SetDash()
	s.outline(sf)
	sf.Stroke()
}

// Default sizes for shapes added without explicit dimensions.
const (
	DefaultColor   = "#3498db"
	SelectionColor = "#e74c3c"
	DefaultWidth   = 100.0
	DefaultHeight  = 60.0
	DefaultRadius  = 40.0
	TextHeight     = 20.0
)

// newShape builds a shape of kind anchored at p with default sizing.
func newShape(id string, kind Kind, p types.Point) Shape {
	s := Shape{ID: id, Kind: kind, X: p.X, Y: p.Y, Color: DefaultColor}
	switch kind {
	case KindCircle:
		s.Radius = DefaultRadius
	case KindTriangle:
		s.Width, s.Height = DefaultWidth, DefaultHeight*1.5
	case KindText:
		s.Text = "Text"
		s.Width, s.Height = DefaultWidth, TextHeight
	default:
		s.Width, s.Height = DefaultWidth, DefaultHeight
	}
	return s
}
