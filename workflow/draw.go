package workflow

import (
	"image/color"

	"github.com/songzhibin97/workflow-canvas/graph"
	"github.com/songzhibin97/workflow-canvas/render"
	"github.com/songzhibin97/workflow-canvas/types"
)

// Node fill colours by type.
var NodeColors = map[types.NodeType]string{
	types.NodeTypeAction1:  "#3498db",
	types.NodeTypeAction2:  "#f39c12",
	types.NodeTypeContinue: "#2ecc71",
	types.NodeTypeReject:   "#e74c3c",
}

const (
	EdgeColor      = "#555555"
	LabelColor     = "#ffffff"
	SelectionColor = "#2c3e50"
	ArrowSize      = 10.0
)

// Draw paints the graph under the viewport transform: edges first, then
// nodes in order. selected (0 for none) gets an outline. Line widths are
// divided by the scale so they stay constant on screen.
func Draw(sf render.Surface, g *graph.Graph, vp types.ViewportState, selected uint64, bg color.Color) {
	scale := vp.Scale
	if scale <= 0 {
		scale = 1
	}
	sf.Clear(bg)
	sf.Push()
	sf.Translate(vp.OffsetX, vp.OffsetY)
	sf.Scale(scale)

	for _, e := range g.Edges() {
		path, ok := g.Route(e)
		if !ok {
			continue
		}
		sf.SetStroke(render.ColorOrBlack(EdgeColor), 2/scale)
		if e.Dashed {
			sf.SetDash(6/scale, 4/scale)
		} else {
			sf.SetDash()
		}
		sf.MoveTo(path.Start.X, path.Start.Y)
		sf.CubicTo(path.C1.X, path.C1.Y, path.C2.X, path.C2.Y, path.End.X, path.End.Y)
		sf.Stroke()

		head := path.ArrowHead(ArrowSize)
		sf.SetFill(render.ColorOrBlack(EdgeColor))
		sf.MoveTo(head[0].X, head[0].Y)
		sf.LineTo(head[1].X, head[1].Y)
		sf.LineTo(head[2].X, head[2].Y)
		sf.ClosePath()
		sf.Fill()
	}

	layout := g.Layout()
	for _, n := range g.Nodes() {
		fill, ok := NodeColors[n.Type]
		if !ok {
			fill = NodeColors[types.NodeTypeAction1]
		}
		sf.SetFill(render.ColorOrBlack(fill))
		sf.Rect(n.Position.X, n.Position.Y, layout.NodeWidth, layout.NodeHeight)
		sf.Fill()

		if n.ID == selected {
			sf.SetStroke(render.ColorOrBlack(SelectionColor), 3/scale)
			sf.SetDash()
			sf.Rect(n.Position.X, n.Position.Y, layout.NodeWidth, layout.NodeHeight)
			sf.Stroke()
		}

		sf.SetFill(render.ColorOrBlack(LabelColor))
		sf.Text(n.Label, n.Position.X+8, n.Position.Y+layout.NodeHeight/2+4)
	}
	sf.Pop()
}

// DrawState restores state into a scratch graph and draws it. state must
// already be pruned and repaired.
func DrawState(sf render.Surface, state types.SavedState, layout graph.Layout, bg color.Color) error {
	g := graph.New(graph.WithLayout(layout))
	if err := g.Restore(state); err != nil {
		return err
	}
	vp := types.ViewportState{Scale: 1}
	if state.Viewport != nil {
		vp = *state.Viewport
	}
	Draw(sf, g, vp, 0, bg)
	return nil
}
