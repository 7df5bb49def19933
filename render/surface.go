// Package render defines the 2D drawing surface the canvases paint on and
// provides raster, SVG and recording implementations of it.
package render

import (
	"fmt"
	"image/color"
	"strconv"
	"strings"
)

// Surface is a retained-path 2D drawing surface. Path operations accumulate
// until Fill or Stroke consumes them. Coordinates, line widths and dash
// lengths are in the current user space (after Translate/Scale).
type Surface interface {
	Clear(c color.Color)
	Push()
	Pop()
	Translate(x, y float64)
	Scale(s float64)

	SetFill(c color.Color)
	SetStroke(c color.Color, width float64)
	SetDash(dashes ...float64)

	Rect(x, y, w, h float64)
	Arc(x, y, r, angle1, angle2 float64)
	MoveTo(x, y float64)
	LineTo(x, y float64)
	CubicTo(x1, y1, x2, y2, x, y float64)
	ClosePath()

	Fill()
	Stroke()
	Text(s string, x, y float64)
}

var named = map[string]color.RGBA{
	"black":       {0, 0, 0, 255},
	"white":       {255, 255, 255, 255},
	"red":         {231, 76, 60, 255},
	"green":       {46, 204, 113, 255},
	"blue":        {52, 152, 219, 255},
	"orange":      {230, 126, 34, 255},
	"purple":      {155, 89, 182, 255},
	"gray":        {149, 165, 166, 255},
	"grey":        {149, 165, 166, 255},
	"yellow":      {241, 196, 15, 255},
	"transparent": {0, 0, 0, 0},
}

// ParseColor accepts #rgb, #rrggbb, #rrggbbaa and a few names.
func ParseColor(s string) (color.RGBA, error) {
	s = strings.TrimSpace(strings.ToLower(s))
	if c, ok := named[s]; ok {
		return c, nil
	}
	if !strings.HasPrefix(s, "#") {
		return color.RGBA{}, fmt.Errorf("unknown color %q", s)
	}
	hex := s[1:]
	if len(hex) == 3 {
		hex = string([]byte{hex[0], hex[0], hex[1], hex[1], hex[2], hex[2]})
	}
	if len(hex) == 6 {
		hex += "ff"
	}
	if len(hex) != 8 {
		return color.RGBA{}, fmt.Errorf("invalid color %q", s)
	}
	v, err := strconv.ParseUint(hex, 16, 32)
	if err != nil {
		return color.RGBA{}, fmt.Errorf("invalid color %q: %w", s, err)
	}
	return color.RGBA{R: uint8(v >> 24), G: uint8(v >> 16), B: uint8(v >> 8), A: uint8(v)}, nil
}

// ColorOrBlack is ParseColor for drawing code: an unparsable value yields
// opaque black instead of an error.
func ColorOrBlack(s string) color.RGBA {
	c, err := ParseColor(s)
	if err != nil {
		return named["black"]
	}
	return c
}

// cssColor formats c for SVG style attributes.
func cssColor(c color.Color) (string, float64) {
	if c == nil {
		return "none", 1
	}
	n := color.NRGBAModel.Convert(c).(color.NRGBA)
	if n.A == 0 {
		return "none", 1
	}
	return fmt.Sprintf("#%02x%02x%02x", n.R, n.G, n.B), float64(n.A) / 255
}
