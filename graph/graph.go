// Package graph holds the workflow canvas model: typed nodes built from an
// ordered item list, the derived edges between them and their routed paths.
//
// A Graph is not safe for concurrent use; the owner serializes access.
package graph

import (
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/songzhibin97/gkit/generator"
	"github.com/songzhibin97/workflow-canvas/routing"
	"github.com/songzhibin97/workflow-canvas/types"
)

var (
	// ErrNodeNotFound indicates no node has the given id.
	ErrNodeNotFound = errors.New("node not found")
	// ErrInvalidNodeType indicates a node type that cannot be created here.
	ErrInvalidNodeType = errors.New("invalid node type")
)

// Layout holds the placement constants of the fallback layout.
type Layout struct {
	StartX        float64 `yaml:"start_x" json:"startX"`
	StartY        float64 `yaml:"start_y" json:"startY"`
	Spacing       float64 `yaml:"spacing" json:"spacing"`
	BranchOffsetX float64 `yaml:"branch_offset_x" json:"branchOffsetX"`
	BranchOffsetY float64 `yaml:"branch_offset_y" json:"branchOffsetY"`
	NodeWidth     float64 `yaml:"node_width" json:"nodeWidth"`
	NodeHeight    float64 `yaml:"node_height" json:"nodeHeight"`
}

// DefaultLayout returns the standard left-to-right layout.
func DefaultLayout() Layout {
	return Layout{
		StartX:        100,
		StartY:        200,
		Spacing:       250,
		BranchOffsetX: 200,
		BranchOffsetY: 100,
		NodeWidth:     150,
		NodeHeight:    60,
	}
}

// Slot is the fallback position of the index-th primary node.
func (l Layout) Slot(index int) types.Point {
	return types.Point{X: l.StartX + float64(index)*l.Spacing, Y: l.StartY}
}

// BranchOffset is the offset of a continue or reject child from its parent.
func (l Layout) BranchOffset(t types.NodeType) types.Point {
	if t == types.NodeTypeReject {
		return types.Point{X: l.BranchOffsetX, Y: l.BranchOffsetY}
	}
	return types.Point{X: l.BranchOffsetX, Y: -l.BranchOffsetY}
}

// Sequence is the default id generator: a counter starting at 1.
type Sequence struct {
	mu   sync.Mutex
	next uint64
}

// NewSequence returns a counter whose first id is start (at least 1).
func NewSequence(start uint64) *Sequence {
	if start == 0 {
		start = 1
	}
	return &Sequence{next: start}
}

// NextID implements generator.Generator.
func (s *Sequence) NextID() (uint64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	id := s.next
	s.next++
	return id, nil
}

// Advance makes sure the next id is at least next.
func (s *Sequence) Advance(next uint64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if next > s.next {
		s.next = next
	}
}

var _ generator.Generator = (*Sequence)(nil)

// PositionKey identifies a remembered position across rebuilds.
func PositionKey(workflowID string, t types.NodeType) string {
	return workflowID + "/" + string(t)
}

// Option configures a Graph.
type Option func(*Graph)

// WithLayout overrides the placement constants.
func WithLayout(l Layout) Option {
	return func(g *Graph) { g.layout = l }
}

// WithGenerator overrides the node id generator.
func WithGenerator(gen generator.Generator) Option {
	return func(g *Graph) {
		if gen != nil {
			g.ids = gen
		}
	}
}

// Graph is the node/edge model of the workflow canvas. Node order is the
// z-order: later nodes are drawn on top and hit first.
type Graph struct {
	layout    Layout
	ids       generator.Generator
	nodes     []*types.Node
	index     map[uint64]*types.Node
	edges     []types.Edge
	tail      uint64
	nextID    uint64
	positions map[string]types.Point
}

// New returns an empty graph.
func New(options ...Option) *Graph {
	g := &Graph{
		layout:    DefaultLayout(),
		ids:       NewSequence(1),
		index:     make(map[uint64]*types.Node),
		positions: make(map[string]types.Point),
		nextID:    1,
	}
	for _, option := range options {
		option(g)
	}
	return g
}

// Layout returns the placement constants.
func (g *Graph) Layout() Layout { return g.layout }

// Len returns the number of nodes.
func (g *Graph) Len() int { return len(g.nodes) }

// Tail returns the node new items chain from, if any.
func (g *Graph) Tail() (uint64, bool) { return g.tail, g.tail != 0 }

func (g *Graph) reset() {
	g.nodes = nil
	g.index = make(map[uint64]*types.Node)
	g.edges = nil
	g.tail = 0
}

func (g *Graph) newNode(t types.NodeType, label string, at types.Point, workflowID string, seq int) (*types.Node, error) {
	id, err := g.ids.NextID()
	if err != nil {
		return nil, fmt.Errorf("failed to generate node id: %w", err)
	}
	if id == 0 {
		return nil, errors.New("generator returned zero id")
	}
	if _, ok := g.index[id]; ok {
		return nil, fmt.Errorf("generator returned duplicate id %d", id)
	}
	n := &types.Node{
		ID:         id,
		Label:      label,
		Position:   at,
		Type:       t,
		WorkflowID: workflowID,
		Properties: types.Properties{Position: at, Sequence: seq},
	}
	g.nodes = append(g.nodes, n)
	g.index[id] = n
	if id >= g.nextID {
		g.nextID = id + 1
	}
	g.remember(n)
	return n, nil
}

func (g *Graph) remember(n *types.Node) {
	if n.WorkflowID != "" {
		g.positions[PositionKey(n.WorkflowID, n.Type)] = n.Position
	}
}

func (g *Graph) connect(from, to *types.Node) {
	g.edges = append(g.edges, types.Edge{
		FromNodeID: from.ID,
		ToNodeID:   to.ID,
		Dashed:     types.IsDashedPair(from.Type, to.Type),
	})
}

// place creates a primary node and, for action2, its continue and reject
// children, then chains the primary off the current tail. pick chooses the
// position of every created node given its type and default.
func (g *Graph) place(t types.NodeType, label string, at types.Point, workflowID string, seq int, pick func(types.NodeType, types.Point) types.Point) (*types.Node, error) {
	primary, err := g.newNode(t, label, pick(t, at), workflowID, seq)
	if err != nil {
		return nil, err
	}
	if tail, ok := g.index[g.tail]; ok {
		g.connect(tail, primary)
	}
	g.tail = primary.ID
	if t != types.NodeTypeAction2 {
		return primary, nil
	}
	for _, bt := range []types.NodeType{types.NodeTypeContinue, types.NodeTypeReject} {
		def := primary.Position.Add(g.layout.BranchOffset(bt))
		child, err := g.newNode(bt, branchLabel(bt), pick(bt, def), workflowID, seq)
		if err != nil {
			return nil, err
		}
		child.ParentID = primary.ID
		primary.Children = append(primary.Children, child.ID)
		g.connect(primary, child)
		if bt == types.NodeTypeContinue {
			g.tail = child.ID
		}
	}
	return primary, nil
}

func branchLabel(t types.NodeType) string {
	if t == types.NodeTypeReject {
		return "Reject"
	}
	return "Continue"
}

// Rebuild replaces the graph with nodes built from items. Items are ordered
// by sequence (falling back to their numeric id), stably. A remembered
// position from positions wins over the item's own position, which wins over
// the fallback layout; invalid or (0,0) positions are ignored.
//
// The new graph is built aside and swapped in only when every node was
// created; on error g is left exactly as it was.
func (g *Graph) Rebuild(items []types.ExternalItem, positions map[string]types.Point) error {
	sorted := append([]types.ExternalItem(nil), items...)
	sort.SliceStable(sorted, func(i, j int) bool {
		return sorted[i].Before(sorted[j])
	})

	next := &Graph{
		layout:    g.layout,
		ids:       g.ids,
		index:     make(map[uint64]*types.Node),
		positions: make(map[string]types.Point),
		nextID:    g.nextID,
	}
	if err := next.build(sorted, positions); err != nil {
		return err
	}
	*g = *next
	return nil
}

func (g *Graph) build(sorted []types.ExternalItem, positions map[string]types.Point) error {
	for i, item := range sorted {
		t := types.NodeTypeAction1
		if item.ReturnValue != "" {
			t = types.NodeTypeAction2
		}
		label := item.Name
		if label == "" {
			label = "Item " + item.ID
		}
		pick := func(nt types.NodeType, def types.Point) types.Point {
			if p, ok := positions[PositionKey(item.ID, nt)]; ok && p.IsValidPosition() {
				return p
			}
			if nt == t && item.Position != nil && item.Position.IsValidPosition() {
				return *item.Position
			}
			return def
		}
		primary, err := g.place(t, label, g.layout.Slot(i), item.ID, item.SortKey(), pick)
		if err != nil {
			return err
		}
		if len(item.Fields) > 0 {
			primary.Properties.Extra = make(map[string]interface{}, len(item.Fields))
			for k, v := range item.Fields {
				primary.Properties.Extra[k] = v
			}
		}
		if item.ReturnValue != "" {
			if primary.Properties.Extra == nil {
				primary.Properties.Extra = make(map[string]interface{})
			}
			primary.Properties.Extra["returnValue"] = item.ReturnValue
		}
	}
	g.Reroute()
	return nil
}

// Append creates a node of type t at the given world point and chains it
// to the current tail. Only action1 and action2 can be appended.
func (g *Graph) Append(t types.NodeType, label string, at types.Point) (types.Node, error) {
	if t != types.NodeTypeAction1 && t != types.NodeTypeAction2 {
		return types.Node{}, fmt.Errorf("%w: %q", ErrInvalidNodeType, t)
	}
	if label == "" {
		label = defaultLabel(t)
	}
	n, err := g.place(t, label, at, "", 0, func(_ types.NodeType, p types.Point) types.Point { return p })
	if err != nil {
		return types.Node{}, err
	}
	g.Reroute()
	return cloneNode(n), nil
}

func defaultLabel(t types.NodeType) string {
	if t == types.NodeTypeAction2 {
		return "Condition"
	}
	return "Action"
}

// Remove deletes a node and, for action2, its children, together with all
// incident edges. The chain is bridged over a removed primary node.
func (g *Graph) Remove(id uint64) error {
	n, ok := g.index[id]
	if !ok {
		return fmt.Errorf("%w: id=%d", ErrNodeNotFound, id)
	}
	doomed := map[uint64]bool{id: true}
	for _, c := range n.Children {
		doomed[c] = true
	}

	var sources, targets []uint64
	for _, e := range g.edges {
		if e.Dashed {
			continue
		}
		if e.ToNodeID == id && !doomed[e.FromNodeID] {
			sources = append(sources, e.FromNodeID)
		}
		if doomed[e.FromNodeID] && !doomed[e.ToNodeID] {
			targets = append(targets, e.ToNodeID)
		}
	}
	if n.ParentID != 0 {
		// the chain leaves through a continue child, so it resumes at the parent
		sources = nil
		if _, ok := g.index[n.ParentID]; ok && n.Type == types.NodeTypeContinue {
			sources = []uint64{n.ParentID}
		}
	}

	edges := g.edges[:0]
	for _, e := range g.edges {
		if !doomed[e.FromNodeID] && !doomed[e.ToNodeID] {
			edges = append(edges, e)
		}
	}
	g.edges = edges

	nodes := g.nodes[:0]
	for _, m := range g.nodes {
		if doomed[m.ID] {
			delete(g.index, m.ID)
			continue
		}
		nodes = append(nodes, m)
	}
	for i := len(nodes); i < len(g.nodes); i++ {
		g.nodes[i] = nil
	}
	g.nodes = nodes

	if parent, ok := g.index[n.ParentID]; ok {
		kids := parent.Children[:0]
		for _, c := range parent.Children {
			if c != id {
				kids = append(kids, c)
			}
		}
		parent.Children = kids
	}
	for _, s := range sources {
		for _, t := range targets {
			g.connect(g.index[s], g.index[t])
		}
	}
	if doomed[g.tail] {
		g.tail = g.findTail()
	}
	g.Reroute()
	return nil
}

// findTail picks the most recently created node that can continue the chain.
func (g *Graph) findTail() uint64 {
	for i := len(g.nodes) - 1; i >= 0; i-- {
		n := g.nodes[i]
		switch n.Type {
		case types.NodeTypeAction1:
			return n.ID
		case types.NodeTypeContinue:
			if _, ok := g.index[n.ParentID]; ok || n.ParentID == 0 {
				return n.ID
			}
		case types.NodeTypeAction2:
			if !g.hasChild(n, types.NodeTypeContinue) {
				return n.ID
			}
		}
	}
	return 0
}

func (g *Graph) hasChild(n *types.Node, t types.NodeType) bool {
	for _, c := range n.Children {
		if child, ok := g.index[c]; ok && child.Type == t {
			return true
		}
	}
	return false
}

// Node returns a copy of a node.
func (g *Graph) Node(id uint64) (types.Node, bool) {
	n, ok := g.index[id]
	if !ok {
		return types.Node{}, false
	}
	return cloneNode(n), true
}

// Nodes returns copies of all nodes in z-order.
func (g *Graph) Nodes() []types.Node {
	out := make([]types.Node, len(g.nodes))
	for i, n := range g.nodes {
		out[i] = cloneNode(n)
	}
	return out
}

// Edges returns a copy of the edges with their current paths.
func (g *Graph) Edges() []types.Edge {
	return append([]types.Edge(nil), g.edges...)
}

func cloneNode(n *types.Node) types.Node {
	c := *n
	c.Children = append([]uint64(nil), n.Children...)
	if n.Properties.Extra != nil {
		c.Properties.Extra = make(map[string]interface{}, len(n.Properties.Extra))
		for k, v := range n.Properties.Extra {
			c.Properties.Extra[k] = v
		}
	}
	return c
}

// Box returns the world-space rectangle of a node.
func (g *Graph) Box(id uint64) (routing.Box, bool) {
	n, ok := g.index[id]
	if !ok {
		return routing.Box{}, false
	}
	return g.box(n), true
}

func (g *Graph) box(n *types.Node) routing.Box {
	return routing.Box{X: n.Position.X, Y: n.Position.Y, W: g.layout.NodeWidth, H: g.layout.NodeHeight}
}

// HitTest returns the topmost node whose box contains the world point p.
func (g *Graph) HitTest(p types.Point) (uint64, bool) {
	for i := len(g.nodes) - 1; i >= 0; i-- {
		if g.box(g.nodes[i]).Contains(p) {
			return g.nodes[i].ID, true
		}
	}
	return 0, false
}

// Group returns the ids that move together with id: the node itself and,
// for action2, its children.
func (g *Graph) Group(id uint64) []uint64 {
	n, ok := g.index[id]
	if !ok {
		return nil
	}
	group := []uint64{id}
	if n.Type != types.NodeTypeAction2 {
		return group
	}
	for _, c := range n.Children {
		if _, ok := g.index[c]; ok {
			group = append(group, c)
		}
	}
	return group
}

func (g *Graph) setPosition(n *types.Node, p types.Point) {
	n.Position = p
	n.Properties.Position = p
	g.remember(n)
}

// Move places a single node at to and reroutes.
func (g *Graph) Move(id uint64, to types.Point) error {
	n, ok := g.index[id]
	if !ok {
		return fmt.Errorf("%w: id=%d", ErrNodeNotFound, id)
	}
	g.setPosition(n, to)
	g.Reroute()
	return nil
}

// MoveGroup shifts a node by delta. An action2 drags its children by the
// same delta unless alone is set. It returns the ids that moved.
func (g *Graph) MoveGroup(id uint64, delta types.Point, alone bool) ([]uint64, error) {
	if _, ok := g.index[id]; !ok {
		return nil, fmt.Errorf("%w: id=%d", ErrNodeNotFound, id)
	}
	group := []uint64{id}
	if !alone {
		group = g.Group(id)
	}
	for _, m := range group {
		n := g.index[m]
		g.setPosition(n, n.Position.Add(delta))
	}
	g.Reroute()
	return group, nil
}

// Reroute recomputes the path of every edge from the current positions.
func (g *Graph) Reroute() {
	for i := range g.edges {
		if p, ok := g.Route(g.edges[i]); ok {
			g.edges[i].Path = p.String()
		}
	}
}

// Route computes the routed path of an edge.
func (g *Graph) Route(e types.Edge) (routing.Path, bool) {
	from, ok := g.index[e.FromNodeID]
	if !ok {
		return routing.Path{}, false
	}
	to, ok := g.index[e.ToNodeID]
	if !ok {
		return routing.Path{}, false
	}
	return routing.Route(g.box(from), g.box(to)), true
}

// Positions returns the remembered positions keyed by PositionKey.
func (g *Graph) Positions() map[string]types.Point {
	out := make(map[string]types.Point, len(g.positions))
	for k, v := range g.positions {
		out[k] = v
	}
	return out
}
