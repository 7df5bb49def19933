// Package geom converts between screen and world coordinates and owns the
// pan/zoom state shared by both canvases.
package geom

import (
	"errors"

	"github.com/songzhibin97/workflow-canvas/types"
)

// Default viewport limits.
const (
	DefaultMinScale      = 0.1
	DefaultMaxScale      = 5.0
	DefaultZoomIntensity = 0.1
	DefaultZoomStep      = 1.2
)

var ErrInvalidScaleRange = errors.New("invalid scale range")

// ToWorld maps a screen point into world space.
func ToWorld(p types.Point, vp *Viewport) types.Point {
	return types.Point{
		X: (p.X - vp.OffsetX) / vp.Scale,
		Y: (p.Y - vp.OffsetY) / vp.Scale,
	}
}

// ToScreen maps a world point into screen space.
func ToScreen(p types.Point, vp *Viewport) types.Point {
	return types.Point{
		X: p.X*vp.Scale + vp.OffsetX,
		Y: p.Y*vp.Scale + vp.OffsetY,
	}
}

// Viewport is the pan/zoom state of one canvas. Scale always stays within
// [MinScale, MaxScale].
type Viewport struct {
	Scale   float64
	OffsetX float64
	OffsetY float64

	minScale      float64
	maxScale      float64
	zoomIntensity float64
	zoomStep      float64
}

// Option configures a Viewport.
type Option func(*Viewport)

// WithScaleRange sets the clamp range for the scale factor.
func WithScaleRange(min, max float64) Option {
	return func(v *Viewport) {
		v.minScale = min
		v.maxScale = max
	}
}

// WithZoomIntensity sets the fraction applied per wheel step.
func WithZoomIntensity(f float64) Option {
	return func(v *Viewport) {
		v.zoomIntensity = f
	}
}

// WithZoomStep sets the multiplier used by the zoom buttons.
func WithZoomStep(f float64) Option {
	return func(v *Viewport) {
		v.zoomStep = f
	}
}

// NewViewport returns an identity viewport.
func NewViewport(options ...Option) (*Viewport, error) {
	v := &Viewport{
		Scale:         1,
		minScale:      DefaultMinScale,
		maxScale:      DefaultMaxScale,
		zoomIntensity: DefaultZoomIntensity,
		zoomStep:      DefaultZoomStep,
	}
	for _, option := range options {
		option(v)
	}
	if v.minScale <= 0 || v.minScale > v.maxScale || v.minScale > 1 || v.maxScale < 1 {
		return nil, ErrInvalidScaleRange
	}
	if v.zoomIntensity <= 0 || v.zoomIntensity >= 1 {
		return nil, errors.New("zoom intensity must be in (0, 1)")
	}
	if v.zoomStep <= 1 {
		return nil, errors.New("zoom step must be greater than 1")
	}
	return v, nil
}

func (v *Viewport) MinScale() float64 { return v.minScale }

func (v *Viewport) MaxScale() float64 { return v.maxScale }

func (v *Viewport) clamp(s float64) float64 {
	if s < v.minScale {
		return v.minScale
	}
	if s > v.maxScale {
		return v.maxScale
	}
	return s
}

// ToWorld maps a screen point through this viewport.
func (v *Viewport) ToWorld(p types.Point) types.Point { return ToWorld(p, v) }

// ToScreen maps a world point through this viewport.
func (v *Viewport) ToScreen(p types.Point) types.Point { return ToScreen(p, v) }

// zoomAround sets a new scale while keeping the world point under anchor fixed.
func (v *Viewport) zoomAround(anchor types.Point, scale float64) {
	world := v.ToWorld(anchor)
	v.Scale = v.clamp(scale)
	v.OffsetX = anchor.X - world.X*v.Scale
	v.OffsetY = anchor.Y - world.Y*v.Scale
}

// ZoomAt zooms one wheel step anchored at a screen point. A positive direction
// zooms in, a negative one zooms out, zero does nothing.
func (v *Viewport) ZoomAt(screen types.Point, direction int) {
	switch {
	case direction > 0:
		v.zoomAround(screen, v.Scale*(1+v.zoomIntensity))
	case direction < 0:
		v.zoomAround(screen, v.Scale*(1-v.zoomIntensity))
	}
}

// ZoomAtCenter zooms one button step anchored at the center of a
// width x height canvas.
func (v *Viewport) ZoomAtCenter(width, height float64, direction int) {
	center := types.Point{X: width / 2, Y: height / 2}
	switch {
	case direction > 0:
		v.zoomAround(center, v.Scale*v.zoomStep)
	case direction < 0:
		v.zoomAround(center, v.Scale/v.zoomStep)
	}
}

// SetScale sets the scale without re-anchoring.
func (v *Viewport) SetScale(s float64) {
	v.Scale = v.clamp(s)
}

// PanBy moves the viewport by a screen-space delta. Panning is unbounded.
func (v *Viewport) PanBy(delta types.Point) {
	v.OffsetX += delta.X
	v.OffsetY += delta.Y
}

// Reset returns to the identity transform.
func (v *Viewport) Reset() {
	v.Scale = 1
	v.OffsetX = 0
	v.OffsetY = 0
}

// State returns the persistable form of the viewport.
func (v *Viewport) State() types.ViewportState {
	return types.ViewportState{Scale: v.Scale, OffsetX: v.OffsetX, OffsetY: v.OffsetY}
}

// Restore applies a persisted state. An unusable scale falls back to 1.
func (v *Viewport) Restore(s types.ViewportState) {
	scale := s.Scale
	if !(scale > 0) || !(types.Point{X: s.OffsetX, Y: s.OffsetY}).IsFinite() {
		v.Reset()
		return
	}
	v.Scale = v.clamp(scale)
	v.OffsetX = s.OffsetX
	v.OffsetY = s.OffsetY
}
