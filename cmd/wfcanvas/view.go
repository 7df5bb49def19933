package main

import (
	"math"
	"strings"

	"github.com/songzhibin97/workflow-canvas/graph"
	"github.com/songzhibin97/workflow-canvas/routing"
	"github.com/songzhibin97/workflow-canvas/types"
)

// One terminal cell covers this many screen pixels.
const (
	cellW = 8.0
	cellH = 16.0
)

// toolbar items in display order; the first row of the terminal.
var toolbar = []struct {
	label string
	kind  types.NodeType
}{
	{"[ Action ]", types.NodeTypeAction1},
	{"[ Condition ]", types.NodeTypeAction2},
}

// toolbarHit returns the toolbar item at column col of the first row.
func toolbarHit(col int) (types.NodeType, bool) {
	x := 1
	for _, item := range toolbar {
		if col >= x && col < x+len(item.label) {
			return item.kind, true
		}
		x += len(item.label) + 2
	}
	return "", false
}

func toolbarLine() string {
	parts := make([]string, len(toolbar))
	for i, item := range toolbar {
		parts[i] = item.label
	}
	return " " + strings.Join(parts, "  ")
}

// cellToScreen maps a terminal cell below the toolbar to the screen pixel
// at its centre.
func cellToScreen(col, row int) types.Point {
	return types.Point{X: float64(col)*cellW + cellW/2, Y: float64(row-1)*cellH + cellH/2}
}

func screenToCell(p types.Point) (int, int) {
	return int(math.Floor(p.X / cellW)), int(math.Floor(p.Y/cellH)) + 1
}

// grid is a character canvas for the area below the toolbar.
type grid struct {
	w, h  int
	cells [][]rune
}

func newGrid(w, h int) *grid {
	g := &grid{w: w, h: h, cells: make([][]rune, h)}
	for i := range g.cells {
		g.cells[i] = []rune(strings.Repeat(" ", w))
	}
	return g
}

// set writes r at a terminal cell; rows start below the toolbar.
func (g *grid) set(col, row int, r rune) {
	row--
	if col < 0 || row < 0 || col >= g.w || row >= g.h {
		return
	}
	g.cells[row][col] = r
}

func (g *grid) text(col, row int, s string) {
	for i, r := range []rune(s) {
		g.set(col+i, row, r)
	}
}

func (g *grid) String() string {
	lines := make([]string, len(g.cells))
	for i, row := range g.cells {
		lines[i] = string(row)
	}
	return strings.Join(lines, "\n")
}

func toScreen(p types.Point, vp types.ViewportState) types.Point {
	return types.Point{X: p.X*vp.Scale + vp.OffsetX, Y: p.Y*vp.Scale + vp.OffsetY}
}

// drawCanvas paints edges then nodes. Dashed edges are sampled sparsely.
func drawCanvas(g *grid, nodes []types.Node, edges []types.Edge, layout graph.Layout, vp types.ViewportState, selected uint64) {
	boxes := make(map[uint64]routing.Box, len(nodes))
	for _, n := range nodes {
		boxes[n.ID] = routing.Box{X: n.Position.X, Y: n.Position.Y, W: layout.NodeWidth, H: layout.NodeHeight}
	}

	for _, e := range edges {
		from, ok := boxes[e.FromNodeID]
		if !ok {
			continue
		}
		to, ok := boxes[e.ToNodeID]
		if !ok {
			continue
		}
		path := routing.Route(from, to)
		pts := path.Sample(64)
		for i, p := range pts {
			if e.Dashed && i%4 >= 2 {
				continue
			}
			col, row := screenToCell(toScreen(p, vp))
			g.set(col, row, '·')
		}
		col, row := screenToCell(toScreen(path.End, vp).Add(outside(path.Entry)))
		g.set(col, row, arrowRune(path.Entry))
	}

	for _, n := range nodes {
		tl := toScreen(n.Position, vp)
		br := toScreen(n.Position.Add(types.Point{X: layout.NodeWidth, Y: layout.NodeHeight}), vp)
		c0, r0 := screenToCell(tl)
		c1, r1 := screenToCell(br)
		if c1 <= c0 {
			c1 = c0 + 1
		}
		if r1 <= r0 {
			r1 = r0 + 1
		}
		h, v := '─', '│'
		if n.ID == selected {
			h, v = '═', '║'
		}
		for c := c0; c <= c1; c++ {
			g.set(c, r0, h)
			g.set(c, r1, h)
		}
		for r := r0; r <= r1; r++ {
			g.set(c0, r, v)
			g.set(c1, r, v)
		}
		for r := r0 + 1; r < r1; r++ {
			for c := c0 + 1; c < c1; c++ {
				g.set(c, r, ' ')
			}
		}
		label := n.Label
		if room := c1 - c0 - 1; room > 0 && len([]rune(label)) > room {
			label = string([]rune(label)[:room])
		}
		g.text(c0+1, (r0+r1)/2, label)
	}
}

// arrowRune points into a box through its entry side.
func arrowRune(entry routing.Side) rune {
	switch entry {
	case routing.SideLeft:
		return '▶'
	case routing.SideRight:
		return '◀'
	case routing.SideTop:
		return '▼'
	}
	return '▲'
}

// outside is one cell away from a box side, in screen pixels.
func outside(side routing.Side) types.Point {
	switch side {
	case routing.SideLeft:
		return types.Point{X: -cellW}
	case routing.SideRight:
		return types.Point{X: cellW}
	case routing.SideTop:
		return types.Point{Y: -cellH}
	}
	return types.Point{Y: cellH}
}
