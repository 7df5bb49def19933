package types

import (
	"encoding/json"
	"math"
	"strconv"
)

// Point is a world-space (or screen-space) coordinate pair.
type Point struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
}

func (p Point) Add(q Point) Point { return Point{X: p.X + q.X, Y: p.Y + q.Y} }

func (p Point) Sub(q Point) Point { return Point{X: p.X - q.X, Y: p.Y - q.Y} }

func (p Point) Scale(s float64) Point { return Point{X: p.X * s, Y: p.Y * s} }

// IsFinite reports whether both coordinates are real numbers.
func (p Point) IsFinite() bool {
	return !math.IsNaN(p.X) && !math.IsNaN(p.Y) && !math.IsInf(p.X, 0) && !math.IsInf(p.Y, 0)
}

func (p Point) IsZero() bool { return p.X == 0 && p.Y == 0 }

// IsValidPosition reports whether p can be used as a remembered node position.
// The origin is treated as "never placed".
func (p Point) IsValidPosition() bool {
	return p.IsFinite() && !p.IsZero()
}

// NodeType is the kind of a workflow node.
type NodeType string

const (
	NodeTypeAction1  NodeType = "action1"
	NodeTypeAction2  NodeType = "action2"
	NodeTypeContinue NodeType = "continue"
	NodeTypeReject   NodeType = "reject"
)

// IsBranch reports whether the type is one of the children of an action2 node.
func (t NodeType) IsBranch() bool {
	return t == NodeTypeContinue || t == NodeTypeReject
}

func (t NodeType) Valid() bool {
	switch t {
	case NodeTypeAction1, NodeTypeAction2, NodeTypeContinue, NodeTypeReject:
		return true
	}
	return false
}

// Properties holds the well-known node properties plus an extension map.
// It encodes as a single flat JSON object.
type Properties struct {
	Position Point                  `json:"-"`
	Sequence int                    `json:"-"`
	Extra    map[string]interface{} `json:"-"`
}

// MarshalJSON flattens Extra next to the well-known keys.
func (p Properties) MarshalJSON() ([]byte, error) {
	out := make(map[string]interface{}, len(p.Extra)+2)
	for k, v := range p.Extra {
		out[k] = v
	}
	out["position"] = p.Position
	out["sequence"] = p.Sequence
	return json.Marshal(out)
}

// UnmarshalJSON splits well-known keys from the extension map.
func (p *Properties) UnmarshalJSON(data []byte) error {
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	*p = Properties{}
	for k, v := range raw {
		switch k {
		case "position":
			if err := json.Unmarshal(v, &p.Position); err != nil {
				return err
			}
		case "sequence":
			if err := json.Unmarshal(v, &p.Sequence); err != nil {
				return err
			}
		default:
			var val interface{}
			if err := json.Unmarshal(v, &val); err != nil {
				return err
			}
			if p.Extra == nil {
				p.Extra = make(map[string]interface{})
			}
			p.Extra[k] = val
		}
	}
	return nil
}

// Node is a draggable box on the workflow canvas.
type Node struct {
	ID         uint64     `json:"id"`
	Label      string     `json:"label"`
	Position   Point      `json:"position"`
	Type       NodeType   `json:"type"`
	Properties Properties `json:"properties"`
	WorkflowID string     `json:"workflowId,omitempty"`
	ParentID   uint64     `json:"parentId,omitempty"`
	Children   []uint64   `json:"children,omitempty"`
}

// Edge is a derived, directed connection between two nodes.
type Edge struct {
	FromNodeID uint64 `json:"fromNodeId"`
	ToNodeID   uint64 `json:"toNodeId"`
	Path       string `json:"path"`
	Dashed     bool   `json:"dashed"`
}

// IsDashedPair reports whether an edge between the two node types is drawn dashed.
func IsDashedPair(from, to NodeType) bool {
	return from == NodeTypeAction2 && to.IsBranch()
}

// EdgeRef is the persisted form of an edge.
type EdgeRef struct {
	FromID uint64 `json:"fromId"`
	ToID   uint64 `json:"toId"`
}

// ViewportState is the persisted pan/zoom of a canvas.
type ViewportState struct {
	Scale   float64 `json:"scale"`
	OffsetX float64 `json:"offsetX"`
	OffsetY float64 `json:"offsetY"`
}

// SavedState is a serializable snapshot of the workflow canvas.
type SavedState struct {
	Items    []Node         `json:"items"`
	Edges    []EdgeRef      `json:"edges"`
	NextID   uint64         `json:"nextId"`
	Viewport *ViewportState `json:"viewport,omitempty"`
}

// ExternalItem is a record read from the item source.
type ExternalItem struct {
	ID          string                 `json:"id"`
	Sequence    *int                   `json:"sequence,omitempty"`
	Name        string                 `json:"name"`
	ReturnValue string                 `json:"returnValue,omitempty"`
	Position    *Point                 `json:"position,omitempty"`
	Page        string                 `json:"page,omitempty"`
	Fields      map[string]interface{} `json:"fields,omitempty"`
}

// SortKey is the sequence when present, otherwise the numeric id, otherwise
// zero. Use Before for ordering: a zero from an unkeyed item is not a rank.
func (it ExternalItem) SortKey() int {
	k, _ := it.sortKey()
	return k
}

func (it ExternalItem) sortKey() (int, bool) {
	if it.Sequence != nil {
		return *it.Sequence, true
	}
	if n, err := strconv.Atoi(it.ID); err == nil {
		return n, true
	}
	return 0, false
}

// Before orders items by SortKey. Items with neither a sequence nor a numeric
// id (UUIDs, slugs) come after every keyed item and tie among themselves.
func (it ExternalItem) Before(other ExternalItem) bool {
	a, aok := it.sortKey()
	b, bok := other.sortKey()
	if aok != bok {
		return aok
	}
	return aok && a < b
}

// IntPtr is a small helper for building items with a sequence.
func IntPtr(v int) *int { return &v }
