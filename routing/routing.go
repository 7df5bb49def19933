// Package routing computes the curved arrows drawn between workflow nodes.
package routing

import (
	"math"
	"strconv"
	"strings"

	"github.com/songzhibin97/workflow-canvas/types"
)

// Routing constants.
const (
	HorizontalRatio    = 0.5
	VerticalRatio      = 0.3
	BackwardGap        = 30.0
	ControlFactor      = 0.4
	MinControlDistance = 40.0
	MaxControlDistance = 150.0
)

// Side is a side of a node box.
type Side int

const (
	SideRight Side = iota
	SideBottom
	SideTop
	SideLeft
)

func (s Side) String() string {
	switch s {
	case SideRight:
		return "right"
	case SideBottom:
		return "bottom"
	case SideTop:
		return "top"
	case SideLeft:
		return "left"
	}
	return "unknown"
}

// direction is the outward unit vector of the side.
func (s Side) direction() types.Point {
	switch s {
	case SideRight:
		return types.Point{X: 1}
	case SideBottom:
		return types.Point{Y: 1}
	case SideTop:
		return types.Point{Y: -1}
	default:
		return types.Point{X: -1}
	}
}

// Box is an axis-aligned node rectangle in world space.
type Box struct {
	X, Y, W, H float64
}

func (b Box) Center() types.Point {
	return types.Point{X: b.X + b.W/2, Y: b.Y + b.H/2}
}

// Anchor returns the midpoint of the given side.
func (b Box) Anchor(s Side) types.Point {
	c := b.Center()
	switch s {
	case SideRight:
		return types.Point{X: b.X + b.W, Y: c.Y}
	case SideBottom:
		return types.Point{X: c.X, Y: b.Y + b.H}
	case SideTop:
		return types.Point{X: c.X, Y: b.Y}
	default:
		return types.Point{X: b.X, Y: c.Y}
	}
}

// Contains reports whether p lies inside the box, edges included.
func (b Box) Contains(p types.Point) bool {
	return p.X >= b.X && p.X <= b.X+b.W && p.Y >= b.Y && p.Y <= b.Y+b.H
}

// Path is a single cubic Bezier arrow.
type Path struct {
	Start types.Point
	C1    types.Point
	C2    types.Point
	End   types.Point
	Exit  Side
	Entry Side
}

// ControlDistance scales the control arm with the center distance.
func ControlDistance(distance float64) float64 {
	return math.Min(math.Max(distance*ControlFactor, MinControlDistance), MaxControlDistance)
}

// Sides picks the exit side of from and the entry side of to for a
// center-to-center delta. Rules are evaluated in order; the first match wins.
// A backward edge never enters its target from the left.
func Sides(dx, dy float64) (exit, entry Side) {
	adx, ady := math.Abs(dx), math.Abs(dy)
	switch {
	case dx > 0 && adx > HorizontalRatio*ady:
		return SideRight, SideLeft
	case dy > 0 && ady > VerticalRatio*adx:
		return SideBottom, SideTop
	case dy < 0 && ady > VerticalRatio*adx:
		return SideTop, SideBottom
	case dx < 0:
		if dy > 0 || ady > BackwardGap {
			return SideBottom, SideRight
		}
		return SideTop, SideRight
	default:
		return SideRight, SideLeft
	}
}

// Route computes the arrow from one box to another.
func Route(from, to Box) Path {
	fc, tc := from.Center(), to.Center()
	dx, dy := tc.X-fc.X, tc.Y-fc.Y
	distance := math.Hypot(dx, dy)

	exit, entry := Sides(dx, dy)
	cd := ControlDistance(distance)

	start := from.Anchor(exit)
	end := to.Anchor(entry)
	return Path{
		Start: start,
		C1:    start.Add(exit.direction().Scale(cd)),
		C2:    end.Add(entry.direction().Scale(cd)),
		End:   end,
		Exit:  exit,
		Entry: entry,
	}
}

func formatFloat(f float64) string {
	return strconv.FormatFloat(f, 'f', -1, 64)
}

func writePoint(sb *strings.Builder, p types.Point) {
	sb.WriteString(formatFloat(p.X))
	sb.WriteByte(' ')
	sb.WriteString(formatFloat(p.Y))
}

// String renders the SVG path description "M start C c1, c2, end".
func (p Path) String() string {
	var sb strings.Builder
	sb.WriteString("M ")
	writePoint(&sb, p.Start)
	sb.WriteString(" C ")
	writePoint(&sb, p.C1)
	sb.WriteString(", ")
	writePoint(&sb, p.C2)
	sb.WriteString(", ")
	writePoint(&sb, p.End)
	return sb.String()
}

// At evaluates the curve at t in [0, 1].
func (p Path) At(t float64) types.Point {
	u := 1 - t
	a := u * u * u
	b := 3 * u * u * t
	c := 3 * u * t * t
	d := t * t * t
	return types.Point{
		X: a*p.Start.X + b*p.C1.X + c*p.C2.X + d*p.End.X,
		Y: a*p.Start.Y + b*p.C1.Y + c*p.C2.Y + d*p.End.Y,
	}
}

// Sample returns n+1 evenly spaced points along the curve.
func (p Path) Sample(n int) []types.Point {
	if n < 1 {
		n = 1
	}
	pts := make([]types.Point, 0, n+1)
	for i := 0; i <= n; i++ {
		pts = append(pts, p.At(float64(i)/float64(n)))
	}
	return pts
}

// ArrowHead returns the tip and the two base corners of the arrowhead at End.
// The head points along the tangent from C2 to End.
func (p Path) ArrowHead(size float64) [3]types.Point {
	dir := p.End.Sub(p.C2)
	length := math.Hypot(dir.X, dir.Y)
	if length < 1e-9 {
		dir = p.Entry.direction().Scale(-1)
	} else {
		dir = dir.Scale(1 / length)
	}
	// perpendicular, half-width of the head is half its length
	perp := types.Point{X: -dir.Y, Y: dir.X}.Scale(size / 2)
	base := p.End.Sub(dir.Scale(size))
	return [3]types.Point{p.End, base.Add(perp), base.Sub(perp)}
}
