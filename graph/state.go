package graph

import (
	"fmt"

	"github.com/songzhibin97/workflow-canvas/types"
)

// Snapshot captures nodes, edge references and the next id. viewport may be nil.
func (g *Graph) Snapshot(viewport *types.ViewportState) types.SavedState {
	state := types.SavedState{
		Items:  g.Nodes(),
		Edges:  make([]types.EdgeRef, len(g.edges)),
		NextID: g.nextID,
	}
	for i, e := range g.edges {
		state.Edges[i] = types.EdgeRef{FromID: e.FromNodeID, ToID: e.ToNodeID}
	}
	if viewport != nil {
		vs := *viewport
		state.Viewport = &vs
	}
	return state
}

// Restore replaces the graph with a saved state. The state is expected to
// have been pruned and repaired; edges to unknown nodes are skipped anyway.
func (g *Graph) Restore(state types.SavedState) error {
	g.reset()
	g.positions = make(map[string]types.Point)
	g.nextID = 1
	for i := range state.Items {
		n := state.Items[i]
		if n.ID == 0 {
			return fmt.Errorf("saved node %d has zero id", i)
		}
		if _, dup := g.index[n.ID]; dup {
			return fmt.Errorf("saved node id %d is duplicated", n.ID)
		}
		c := cloneNode(&n)
		c.Properties.Position = c.Position
		g.nodes = append(g.nodes, &c)
		g.index[c.ID] = &c
		if c.ID >= g.nextID {
			g.nextID = c.ID + 1
		}
		g.remember(&c)
	}
	if state.NextID > g.nextID {
		g.nextID = state.NextID
	}
	if adv, ok := g.ids.(interface{ Advance(uint64) }); ok {
		adv.Advance(g.nextID)
	}

	// children lists are trusted only when both ends agree
	for _, n := range g.nodes {
		kids := n.Children[:0]
		for _, c := range n.Children {
			if child, ok := g.index[c]; ok && child.ParentID == n.ID {
				kids = append(kids, c)
			}
		}
		n.Children = kids
	}

	for _, ref := range state.Edges {
		from, ok := g.index[ref.FromID]
		if !ok {
			continue
		}
		to, ok := g.index[ref.ToID]
		if !ok {
			continue
		}
		g.connect(from, to)
	}
	g.tail = g.chainEnd()
	g.Reroute()
	return nil
}

// chainEnd finds the node the chain ends at: the last chain node without a
// solid outgoing edge, falling back to findTail.
func (g *Graph) chainEnd() uint64 {
	out := make(map[uint64]bool, len(g.edges))
	for _, e := range g.edges {
		if !e.Dashed {
			out[e.FromNodeID] = true
		}
	}
	for i := len(g.nodes) - 1; i >= 0; i-- {
		n := g.nodes[i]
		if out[n.ID] || n.Type == types.NodeTypeReject {
			continue
		}
		if n.Type == types.NodeTypeAction2 && g.hasChild(n, types.NodeTypeContinue) {
			continue
		}
		return n.ID
	}
	return g.findTail()
}

// PruneEdges drops edges that reference a node missing from state and
// returns how many were dropped.
func PruneEdges(state *types.SavedState) int {
	ids := make(map[uint64]bool, len(state.Items))
	for _, n := range state.Items {
		ids[n.ID] = true
	}
	kept := state.Edges[:0]
	for _, e := range state.Edges {
		if ids[e.FromID] && ids[e.ToID] {
			kept = append(kept, e)
		}
	}
	dropped := len(state.Edges) - len(kept)
	state.Edges = kept
	return dropped
}

// Repair recomputes missing or invalid positions with the fallback layout
// and raises NextID past every node id. It reports whether state changed.
// Children of a valid parent are placed at the branch offset from it;
// everything else takes the slot of its index among primary nodes.
func Repair(state *types.SavedState, layout Layout) bool {
	changed := false
	byID := make(map[uint64]*types.Node, len(state.Items))
	for i := range state.Items {
		byID[state.Items[i].ID] = &state.Items[i]
	}

	slot := 0
	var children []*types.Node
	for i := range state.Items {
		n := &state.Items[i]
		if n.ParentID != 0 {
			if _, ok := byID[n.ParentID]; ok {
				children = append(children, n)
				continue
			}
		}
		if !n.Position.IsValidPosition() {
			n.Position = layout.Slot(slot)
			changed = true
		}
		slot++
	}
	for _, n := range children {
		if n.Position.IsValidPosition() {
			continue
		}
		n.Position = byID[n.ParentID].Position.Add(layout.BranchOffset(n.Type))
		changed = true
	}

	for i := range state.Items {
		n := &state.Items[i]
		if n.Properties.Position != n.Position {
			n.Properties.Position = n.Position
			changed = true
		}
		if n.ID >= state.NextID {
			state.NextID = n.ID + 1
			changed = true
		}
	}
	return changed
}
