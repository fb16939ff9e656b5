package graph

import (
	"strings"
	"sync/atomic"
)

type VertexID string

type EdgeID string

// Tag is a set of relation kinds carried by an edge.
type Tag uint8

const (
	TagOrder Tag = 1 << iota
	TagColocation
	// TagReplication marks a storage replication link. It is topology, not a
	// constraint, and is only used by storage graphs.
	TagReplication
)

func (t Tag) Has(o Tag) bool {
	return t&o == o && o != 0
}

func (t Tag) String() string {
	if t == 0 {
		return "none"
	}
	var parts []string
	if t.Has(TagOrder) {
		parts = append(parts, "order")
	}
	if t.Has(TagColocation) {
		parts = append(parts, "colocation")
	}
	if t.Has(TagReplication) {
		parts = append(parts, "replication")
	}
	return strings.Join(parts, "+")
}

// Endpoints is a directed (source, destination) pair.
type Endpoints struct {
	Source VertexID
	Dest   VertexID
}

func (e Endpoints) Reversed() Endpoints {
	return Endpoints{Source: e.Dest, Dest: e.Source}
}

// Edge connects two vertices. Its original direction is fixed at creation
// and is what gets persisted; the current direction can be flipped for
// display and is swapped as a whole, so a concurrent reader always sees a
// consistent pair.
type Edge struct {
	id       EdgeID
	original Endpoints
	current  atomic.Pointer[Endpoints]

	// Guarded by the graph lock.
	tags     Tag
	testTags Tag
	testOnly bool
}

func newEdge(id EdgeID, from, to VertexID) *Edge {
	e := &Edge{id: id, original: Endpoints{Source: from, Dest: to}}
	cur := e.original
	e.current.Store(&cur)
	return e
}

func (e *Edge) ID() EdgeID {
	return e.id
}

func (e *Edge) Original() Endpoints {
	return e.original
}

func (e *Edge) Current() Endpoints {
	return *e.current.Load()
}

func (e *Edge) reverse() {
	for {
		cur := e.current.Load()
		next := cur.Reversed()
		if e.current.CompareAndSwap(cur, &next) {
			return
		}
	}
}

func (e *Edge) reset() {
	orig := e.original
	e.current.Store(&orig)
}

func (e *Edge) touches(v VertexID) bool {
	return e.original.Source == v || e.original.Dest == v
}

func (e *Edge) other(v VertexID) VertexID {
	if e.original.Source == v {
		return e.original.Dest
	}
	return e.original.Source
}

// pair is the unordered identity of the two vertices an edge joins.
type pair struct {
	a, b VertexID
}

func pairOf(x, y VertexID) pair {
	if x > y {
		x, y = y, x
	}
	return pair{a: x, b: y}
}
