package render

import (
	"fmt"
	"image/color"
	"strings"
)

// Recorder is a Surface that records every call as a text line.
type Recorder struct {
	Ops []string
}

func (r *Recorder) add(format string, args ...any) {
	r.Ops = append(r.Ops, fmt.Sprintf(format, args...))
}

func colorName(c color.Color) string {
	s, a := cssColor(c)
	if a < 1 {
		return fmt.Sprintf("%s@%.2f", s, a)
	}
	return s
}

func (r *Recorder) Clear(c color.Color)    { r.add("clear %s", colorName(c)) }
func (r *Recorder) Push()                  { r.add("push") }
func (r *Recorder) Pop()                   { r.add("pop") }
func (r *Recorder) Translate(x, y float64) { r.add("translate %g %g", x, y) }
func (r *Recorder) Scale(s float64)        { r.add("scale %g", s) }
func (r *Recorder) SetFill(c color.Color)  { r.add("fill-color %s", colorName(c)) }

func (r *Recorder) SetStroke(c color.Color, width float64) {
	r.add("stroke-color %s %g", colorName(c), width)
}

func (r *Recorder) SetDash(dashes ...float64) { r.add("dash %v", dashes) }
func (r *Recorder) Rect(x, y, w, h float64)   { r.add("rect %g %g %g %g", x, y, w, h) }

func (r *Recorder) Arc(x, y, radius, a1, a2 float64) {
	r.add("arc %g %g %g %g %g", x, y, radius, a1, a2)
}

func (r *Recorder) MoveTo(x, y float64) { r.add("move %g %g", x, y) }
func (r *Recorder) LineTo(x, y float64) { r.add("line %g %g", x, y) }

func (r *Recorder) CubicTo(x1, y1, x2, y2, x, y float64) {
	r.add("cubic %g %g %g %g %g %g", x1, y1, x2, y2, x, y)
}

func (r *Recorder) ClosePath()                  { r.add("close") }
func (r *Recorder) Fill()                       { r.add("fill") }
func (r *Recorder) Stroke()                     { r.add("stroke") }
func (r *Recorder) Text(s string, x, y float64) { r.add("text %q %g %g", s, x, y) }

// Count returns how many recorded lines start with prefix.
func (r *Recorder) Count(prefix string) int {
	n := 0
	for _, op := range r.Ops {
		if strings.HasPrefix(op, prefix) {
			n++
		}
	}
	return n
}

// Reset drops the recording.
func (r *Recorder) Reset() { r.Ops = r.Ops[:0] }

func (r *Recorder) String() string { return strings.Join(r.Ops, "\n") }

var (
	_ Surface = (*Recorder)(nil)
	_ Surface = (*Raster)(nil)
	_ Surface = (*SVG)(nil)
)
