package render

import (
	"fmt"
	"image"
	"image/color"
	"io"

	"github.com/fogleman/gg"
	"github.com/golang/freetype/truetype"
	"golang.org/x/image/font"
	"golang.org/x/image/font/gofont/gomono"
)

// DefaultFontSize is the text size used by Raster, in pixels.
const DefaultFontSize = 12.0

// Raster draws onto an in-memory RGBA image through fogleman/gg.
type Raster struct {
	dc     *gg.Context
	fill   color.Color
	stroke color.Color
	width  float64
	dashes []float64
	// gg strokes in device pixels, so the user-space scale is tracked to
	// convert widths and dash lengths.
	scale  float64
	scales []float64
}

// NewRaster creates a w x h raster with a monospace face.
func NewRaster(w, h int) (*Raster, error) {
	dc := gg.NewContext(w, h)
	ttf, err := truetype.Parse(gomono.TTF)
	if err != nil {
		return nil, fmt.Errorf("failed to parse font: %w", err)
	}
	dc.SetFontFace(truetype.NewFace(ttf, &truetype.Options{
		Size:    DefaultFontSize,
		DPI:     72,
		Hinting: font.HintingFull,
	}))
	return &Raster{
		dc:     dc,
		fill:   color.Black,
		stroke: color.Black,
		width:  1,
		scale:  1,
	}, nil
}

func (r *Raster) Clear(c color.Color) {
	r.dc.SetColor(c)
	r.dc.Clear()
}

func (r *Raster) Push() {
	r.dc.Push()
	r.scales = append(r.scales, r.scale)
}

func (r *Raster) Pop() {
	if len(r.scales) == 0 {
		return
	}
	r.dc.Pop()
	r.scale = r.scales[len(r.scales)-1]
	r.scales = r.scales[:len(r.scales)-1]
}

func (r *Raster) Translate(x, y float64) { r.dc.Translate(x, y) }

func (r *Raster) Scale(s float64) {
	r.dc.Scale(s, s)
	r.scale *= s
}

func (r *Raster) SetFill(c color.Color) { r.fill = c }

func (r *Raster) SetStroke(c color.Color, width float64) {
	r.stroke = c
	r.width = width
}

func (r *Raster) SetDash(dashes ...float64) {
	r.dashes = append(r.dashes[:0], dashes...)
}

func (r *Raster) Rect(x, y, w, h float64) { r.dc.DrawRectangle(x, y, w, h) }

func (r *Raster) Arc(x, y, radius, angle1, angle2 float64) {
	r.dc.NewSubPath()
	r.dc.DrawArc(x, y, radius, angle1, angle2)
}

func (r *Raster) MoveTo(x, y float64) { r.dc.MoveTo(x, y) }

func (r *Raster) LineTo(x, y float64) { r.dc.LineTo(x, y) }

func (r *Raster) CubicTo(x1, y1, x2, y2, x, y float64) { r.dc.CubicTo(x1, y1, x2, y2, x, y) }

func (r *Raster) ClosePath() { r.dc.ClosePath() }

func (r *Raster) Fill() {
	r.dc.SetColor(r.fill)
	r.dc.Fill()
}

func (r *Raster) Stroke() {
	r.dc.SetColor(r.stroke)
	r.dc.SetLineWidth(r.width * r.scale)
	if len(r.dashes) > 0 {
		scaled := make([]float64, len(r.dashes))
		for i, d := range r.dashes {
			scaled[i] = d * r.scale
		}
		r.dc.SetDash(scaled...)
	} else {
		r.dc.SetDash()
	}
	r.dc.Stroke()
}

func (r *Raster) Text(s string, x, y float64) {
	r.dc.SetColor(r.fill)
	r.dc.DrawString(s, x, y)
}

// Image returns the rendered image.
func (r *Raster) Image() image.Image { return r.dc.Image() }

// SavePNG writes the image to a file.
func (r *Raster) SavePNG(path string) error { return r.dc.SavePNG(path) }

// EncodePNG writes the image as PNG.
func (r *Raster) EncodePNG(w io.Writer) error { return r.dc.EncodePNG(w) }
