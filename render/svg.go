package render

import (
	"fmt"
	"image/color"
	"io"
	"math"
	"strconv"
	"strings"

	svg "github.com/ajstarks/svgo"
)

// SVG writes vector output through ajstarks/svgo. Each Translate/Scale opens
// a transform group that the matching Pop (or End) closes.
type SVG struct {
	canvas *svg.SVG
	w, h   int
	fill   color.Color
	stroke color.Color
	width  float64
	dashes []float64

	path   strings.Builder
	groups []int
	open   int
	ended  bool
}

// NewSVG starts a w x h document on out. Call End to finish it.
func NewSVG(out io.Writer, w, h int) *SVG {
	s := &SVG{
		canvas: svg.New(out),
		w:      w,
		h:      h,
		fill:   color.Black,
		stroke: color.Black,
		width:  1,
	}
	s.canvas.Start(w, h)
	return s
}

func num(f float64) string {
	return strconv.FormatFloat(f, 'f', -1, 64)
}

func (s *SVG) Clear(c color.Color) {
	fill, opacity := cssColor(c)
	s.canvas.Rect(0, 0, s.w, s.h, fmt.Sprintf("fill:%s;fill-opacity:%s", fill, num(opacity)))
}

func (s *SVG) Push() {
	s.groups = append(s.groups, s.open)
	s.open = 0
}

func (s *SVG) Pop() {
	if len(s.groups) == 0 {
		return
	}
	for ; s.open > 0; s.open-- {
		s.canvas.Gend()
	}
	s.open = s.groups[len(s.groups)-1]
	s.groups = s.groups[:len(s.groups)-1]
}

func (s *SVG) Translate(x, y float64) {
	s.canvas.Gtransform(fmt.Sprintf("translate(%s,%s)", num(x), num(y)))
	s.open++
}

func (s *SVG) Scale(f float64) {
	s.canvas.Gtransform(fmt.Sprintf("scale(%s)", num(f)))
	s.open++
}

func (s *SVG) SetFill(c color.Color) { s.fill = c }

func (s *SVG) SetStroke(c color.Color, width float64) {
	s.stroke = c
	s.width = width
}

func (s *SVG) SetDash(dashes ...float64) {
	s.dashes = append(s.dashes[:0], dashes...)
}

func (s *SVG) cmd(parts ...string) {
	if s.path.Len() > 0 {
		s.path.WriteByte(' ')
	}
	s.path.WriteString(strings.Join(parts, " "))
}

func (s *SVG) Rect(x, y, w, h float64) {
	s.cmd("M", num(x), num(y), "h", num(w), "v", num(h), "h", num(-w), "Z")
}

func (s *SVG) Arc(x, y, r, angle1, angle2 float64) {
	point := func(a float64) (string, string) {
		return num(x + r*math.Cos(a)), num(y + r*math.Sin(a))
	}
	sx, sy := point(angle1)
	s.cmd("M", sx, sy)

	sweep := "1"
	if angle2 < angle1 {
		sweep = "0"
	}
	span := math.Abs(angle2 - angle1)
	if span >= 2*math.Pi {
		// a single arc command cannot draw a full turn
		mx, my := point(angle1 + math.Copysign(math.Pi, angle2-angle1))
		s.cmd("A", num(r), num(r), "0", "0", sweep, mx, my)
		s.cmd("A", num(r), num(r), "0", "0", sweep, sx, sy)
		return
	}
	large := "0"
	if span > math.Pi {
		large = "1"
	}
	ex, ey := point(angle2)
	s.cmd("A", num(r), num(r), "0", large, sweep, ex, ey)
}

func (s *SVG) MoveTo(x, y float64) { s.cmd("M", num(x), num(y)) }

func (s *SVG) LineTo(x, y float64) { s.cmd("L", num(x), num(y)) }

func (s *SVG) CubicTo(x1, y1, x2, y2, x, y float64) {
	s.cmd("C", num(x1), num(y1), num(x2), num(y2), num(x), num(y))
}

func (s *SVG) ClosePath() { s.cmd("Z") }

func (s *SVG) takePath() string {
	d := s.path.String()
	s.path.Reset()
	return d
}

func (s *SVG) Fill() {
	d := s.takePath()
	if d == "" {
		return
	}
	fill, opacity := cssColor(s.fill)
	s.canvas.Path(d, fmt.Sprintf("fill:%s;fill-opacity:%s;stroke:none", fill, num(opacity)))
}

func (s *SVG) Stroke() {
	d := s.takePath()
	if d == "" {
		return
	}
	stroke, opacity := cssColor(s.stroke)
	style := fmt.Sprintf("fill:none;stroke:%s;stroke-opacity:%s;stroke-width:%s", stroke, num(opacity), num(s.width))
	if len(s.dashes) > 0 {
		parts := make([]string, len(s.dashes))
		for i, d := range s.dashes {
			parts[i] = num(d)
		}
		style += ";stroke-dasharray:" + strings.Join(parts, ",")
	}
	s.canvas.Path(d, style)
}

func (s *SVG) Text(t string, x, y float64) {
	fill, opacity := cssColor(s.fill)
	s.canvas.Gtransform(fmt.Sprintf("translate(%s,%s)", num(x), num(y)))
	s.canvas.Text(0, 0, t, fmt.Sprintf("fill:%s;fill-opacity:%s;font-family:monospace;font-size:%spx", fill, num(opacity), num(DefaultFontSize)))
	s.canvas.Gend()
}

// End closes all open groups and the document.
func (s *SVG) End() {
	if s.ended {
		return
	}
	for len(s.groups) > 0 {
		s.Pop()
	}
	for ; s.open > 0; s.open-- {
		s.canvas.Gend()
	}
	s.canvas.End()
	s.ended = true
}
