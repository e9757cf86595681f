package spatial

import (
	"sync/atomic"

	"github.com/zeusync/framecore/internal/core/geom"
)

// nodeIDs hands out process-wide node identities. A node keeps its identity
// for the lifetime of the grid and identities are never reused.
var nodeIDs atomic.Uint64

// Node is one cell of the grid.
type Node struct {
	id      uint64
	index   int
	rect    geom.Rect
	members []Occupant

	// delta counts membership changes per occupant since the last baseline.
	// An empty map means the node matches its baseline.
	delta map[uint64]int
}

func newNode(index int, rect geom.Rect) *Node {
	return &Node{
		id:    nodeIDs.Add(1),
		index: index,
		rect:  rect,
	}
}

// ID is unique across every grid built by this process.
func (n *Node) ID() uint64 { return n.id }

// Index is the node's position in its grid: col + row*divisions.
func (n *Node) Index() int { return n.index }

func (n *Node) Rect() geom.Rect { return n.rect }

func (n *Node) Len() int { return len(n.members) }

// Members returns a copy of the occupants in insertion order.
func (n *Node) Members() []Occupant {
	out := make([]Occupant, len(n.members))
	copy(out, n.members)
	return out
}

// Dirty reports whether membership changed since the last Grid.ClearDirty.
func (n *Node) Dirty() bool { return len(n.delta) > 0 }

func (n *Node) has(key uint64) bool {
	for _, m := range n.members {
		if m.SpatialKey() == key {
			return true
		}
	}
	return false
}

func (n *Node) add(o Occupant) {
	n.members = append(n.members, o)
	n.mark(o.SpatialKey(), 1)
}

// remove keeps the remaining members in order so that an insert followed by
// a remove leaves the node exactly as it was.
func (n *Node) remove(key uint64) bool {
	for i, m := range n.members {
		if m.SpatialKey() != key {
			continue
		}
		copy(n.members[i:], n.members[i+1:])
		n.members[len(n.members)-1] = nil
		n.members = n.members[:len(n.members)-1]
		n.mark(key, -1)
		return true
	}
	return false
}

func (n *Node) mark(key uint64, d int) {
	if n.delta == nil {
		n.delta = make(map[uint64]int)
	}
	v := n.delta[key] + d
	if v == 0 {
		delete(n.delta, key)
		return
	}
	n.delta[key] = v
}

func (n *Node) clearDirty() {
	clear(n.delta)
}
