// Package graph is the directed constraint graph shared by the pollers, the
// render surface and the dry-run simulator.
//
// Every vertex stands for exactly one domain Object and every edge joins a
// pair of vertices at most once, whatever the direction; order and
// colocation between the same two resources share one edge. The vertex and
// edge maps and the per-tag edge indexes are guarded by a single lock held
// only for map updates, never across I/O. Each mutation is applied under
// its own lock acquisition, so the graph is consistent after every single
// add, remove or retag and no edge ever references a missing vertex.
package graph

import (
	"context"
	"reflect"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/luno/jettison/errors"
	"github.com/luno/jettison/j"
)

type Point struct {
	X, Y float64
}

type vertex struct {
	id       VertexID
	obj      Object
	present  bool
	testOnly bool
	pos      *Point
}

type Graph struct {
	name  string
	lock  rwLock
	newID func() string

	vertices map[VertexID]*vertex
	byKey    map[ObjectKey]VertexID
	edges    map[EdgeID]*Edge
	pairs    map[pair]EdgeID
	incident map[VertexID]map[EdgeID]struct{}
	tagged   map[Tag]map[EdgeID]struct{}

	version atomic.Uint64

	subMu sync.Mutex
	subs  map[chan struct{}]struct{}
}

type Option func(*Graph)

// WithLockTimeout bounds how long any operation waits for the graph lock.
func WithLockTimeout(d time.Duration) Option {
	return func(g *Graph) {
		g.lock = newRWLock(d)
	}
}

// WithIDs replaces the vertex and edge id generator.
func WithIDs(f func() string) Option {
	return func(g *Graph) {
		g.newID = f
	}
}

func New(name string, opts ...Option) *Graph {
	g := &Graph{
		name:     name,
		lock:     newRWLock(0),
		newID:    uuid.NewString,
		vertices: make(map[VertexID]*vertex),
		byKey:    make(map[ObjectKey]VertexID),
		edges:    make(map[EdgeID]*Edge),
		pairs:    make(map[pair]EdgeID),
		incident: make(map[VertexID]map[EdgeID]struct{}),
		tagged: map[Tag]map[EdgeID]struct{}{
			TagOrder:       {},
			TagColocation:  {},
			TagReplication: {},
		},
		subs: make(map[chan struct{}]struct{}),
	}
	for _, o := range opts {
		o(g)
	}
	return g
}

func (g *Graph) Name() string {
	return g.name
}

// Version increases with every committed change.
func (g *Graph) Version() uint64 {
	return g.version.Load()
}

// Subscribe returns a channel that receives a signal after changes are
// committed. Signals coalesce; a slow reader sees one pending signal. The
// returned func unsubscribes.
func (g *Graph) Subscribe() (<-chan struct{}, func()) {
	c := make(chan struct{}, 1)
	g.subMu.Lock()
	g.subs[c] = struct{}{}
	g.subMu.Unlock()
	return c, func() {
		g.subMu.Lock()
		delete(g.subs, c)
		g.subMu.Unlock()
	}
}

func (g *Graph) notify() {
	g.subMu.Lock()
	defer g.subMu.Unlock()
	for c := range g.subs {
		select {
		case c <- struct{}{}:
		default:
		}
	}
}

// UpsertVertex maps obj to a vertex, creating one if its key is unknown and
// otherwise exchanging the object held by the existing vertex.
func (g *Graph) UpsertVertex(ctx context.Context, obj Object, present bool) (VertexID, error) {
	var id VertexID
	err := g.write(ctx, func() (bool, error) {
		changed, err := g.upsert(Upsert(obj, present))
		id = g.byKey[obj.Key()]
		return changed, err
	})
	return id, err
}

// RemoveVertex removes the vertex and every edge touching it. Removing an
// unknown key is a no-op.
func (g *Graph) RemoveVertex(ctx context.Context, key ObjectKey) error {
	return g.write(ctx, func() (bool, error) {
		return g.removeVertex(key), nil
	})
}

// AddEdge adds tag to the edge between from and to, creating the edge in the
// from→to direction if the pair is not yet joined in either direction.
func (g *Graph) AddEdge(ctx context.Context, from, to ObjectKey, tag Tag) (EdgeID, error) {
	var id EdgeID
	err := g.write(ctx, func() (bool, error) {
		changed, err := g.addTag(from, to, tag, false)
		if err == nil {
			id = g.pairs[pairOf(g.byKey[from], g.byKey[to])]
		}
		return changed, err
	})
	return id, err
}

// RemoveEdgeTag clears tag from the edge. An edge left without tags is
// deleted.
func (g *Graph) RemoveEdgeTag(ctx context.Context, id EdgeID, tag Tag) error {
	return g.write(ctx, func() (bool, error) {
		e, ok := g.edges[id]
		if !ok {
			return false, nil
		}
		return g.clearTag(e, tag), nil
	})
}

// Reverse flips the current direction of the edge.
func (g *Graph) Reverse(ctx context.Context, id EdgeID) error {
	return g.flip(ctx, id, (*Edge).reverse)
}

// Reset restores the edge's original direction.
func (g *Graph) Reset(ctx context.Context, id EdgeID) error {
	return g.flip(ctx, id, (*Edge).reset)
}

func (g *Graph) flip(ctx context.Context, id EdgeID, f func(*Edge)) error {
	// Only the edge's endpoint pointer changes, so the read lock is enough
	// to keep the edge in the map while it is swapped.
	if err := g.lock.RLock(ctx); err != nil {
		return err
	}
	e, ok := g.edges[id]
	if ok {
		f(e)
		g.version.Add(1)
	}
	g.lock.RUnlock()
	if !ok {
		return errors.Wrap(ErrNotFound, "", j.KV("edge", id))
	}
	g.notify()
	return nil
}

// SetPosition records the advisory position of the object's vertex.
func (g *Graph) SetPosition(ctx context.Context, key ObjectKey, p Point) error {
	return g.write(ctx, func() (bool, error) {
		v, ok := g.vertexByKey(key)
		if !ok {
			return false, errors.Wrap(ErrNotFound, "", j.KV("key", key))
		}
		v.pos = &p
		return true, nil
	})
}

// Positions returns the known position of every real vertex.
func (g *Graph) Positions(ctx context.Context) (map[ObjectKey]Point, error) {
	if err := g.lock.RLock(ctx); err != nil {
		return nil, err
	}
	defer g.lock.RUnlock()

	ret := make(map[ObjectKey]Point)
	for _, v := range g.vertices {
		if v.pos != nil && !v.testOnly {
			ret[v.obj.Key()] = *v.pos
		}
	}
	return ret, nil
}

// EdgesTagged returns the ids of edges carrying tag, sorted.
func (g *Graph) EdgesTagged(ctx context.Context, tag Tag) ([]EdgeID, error) {
	if err := g.lock.RLock(ctx); err != nil {
		return nil, err
	}
	defer g.lock.RUnlock()

	idx := g.tagged[tag]
	ret := make([]EdgeID, 0, len(idx))
	for id := range idx {
		ret = append(ret, id)
	}
	sort.Slice(ret, func(i, j int) bool { return ret[i] < ret[j] })
	return ret, nil
}

// KillOrphans deletes edges left without any tag, then vertices that have no
// real edges, are not anchors, are not reported present and are not new.
// Dry-run tags keep neither an edge nor a vertex alive. It returns the
// number of edges and vertices removed.
func (g *Graph) KillOrphans(ctx context.Context) (int, int, error) {
	var edges, vertices int
	err := g.write(ctx, func() (bool, error) {
		for _, e := range g.edges {
			if e.tags == 0 && e.testTags == 0 {
				g.deleteEdge(e)
				edges++
			}
		}
		for id, v := range g.vertices {
			if v.testOnly || v.present || isAnchored(v.obj) || isNew(v.obj) {
				continue
			}
			if g.hasRealEdge(id) {
				continue
			}
			g.deleteVertex(v)
			vertices++
		}
		return edges+vertices > 0, nil
	})
	return edges, vertices, err
}

// hasRealEdge reports whether any edge of the vertex carries a real tag.
func (g *Graph) hasRealEdge(id VertexID) bool {
	for eid := range g.incident[id] {
		if g.edges[eid].tags != 0 {
			return true
		}
	}
	return false
}

// write runs f under the write lock, bumps the version and notifies
// subscribers if f reports a change.
func (g *Graph) write(ctx context.Context, f func() (bool, error)) error {
	if err := g.lock.Lock(ctx); err != nil {
		return err
	}
	changed, err := f()
	if changed {
		g.version.Add(1)
	}
	g.lock.Unlock()
	if changed {
		g.notify()
	}
	return err
}

func (g *Graph) vertexByKey(k ObjectKey) (*vertex, bool) {
	id, ok := g.byKey[k]
	if !ok {
		return nil, false
	}
	return g.vertices[id], true
}

func (g *Graph) upsert(m Mutation) (bool, error) {
	if m.Object == nil {
		return false, errors.Wrap(ErrInvariant, "upsert without object")
	}
	key := m.Object.Key()
	if v, ok := g.vertexByKey(key); ok {
		changed := v.testOnly || v.present != m.Present || !reflect.DeepEqual(v.obj, m.Object)
		v.obj = m.Object
		v.present = m.Present
		v.testOnly = false
		if v.pos == nil && m.Position != nil {
			p := *m.Position
			v.pos = &p
			changed = true
		}
		return changed, nil
	}
	v := g.createVertex(m.Object)
	v.present = m.Present
	if m.Position != nil {
		p := *m.Position
		v.pos = &p
	}
	return true, nil
}

func (g *Graph) createVertex(obj Object) *vertex {
	v := &vertex{id: VertexID(g.newID()), obj: obj}
	g.vertices[v.id] = v
	g.byKey[obj.Key()] = v.id
	g.incident[v.id] = make(map[EdgeID]struct{})
	return v
}

func (g *Graph) removeVertex(key ObjectKey) bool {
	v, ok := g.vertexByKey(key)
	if !ok {
		return false
	}
	g.deleteVertex(v)
	return true
}

// deleteVertex removes the vertex's edges before the vertex itself.
func (g *Graph) deleteVertex(v *vertex) {
	for eid := range g.incident[v.id] {
		g.deleteEdge(g.edges[eid])
	}
	delete(g.incident, v.id)
	delete(g.byKey, v.obj.Key())
	delete(g.vertices, v.id)
}

func (g *Graph) addTag(from, to ObjectKey, tag Tag, test bool) (bool, error) {
	if tag == 0 {
		return false, errors.Wrap(ErrInvariant, "empty tag")
	}
	src, ok := g.byKey[from]
	if !ok {
		return false, errors.Wrap(ErrInvariant, "edge from unknown vertex", j.KV("key", from))
	}
	dst, ok := g.byKey[to]
	if !ok {
		return false, errors.Wrap(ErrInvariant, "edge to unknown vertex", j.KV("key", to))
	}
	if src == dst {
		return false, errors.Wrap(ErrInvariant, "edge to self", j.KV("key", from))
	}

	e, ok := g.edges[g.pairs[pairOf(src, dst)]]
	if ok && !test && e.tags == 0 && e.original.Source != src {
		// A dry-run edge claimed by a real tag takes the real direction.
		testTags := e.testTags
		g.deleteEdge(e)
		e = g.createEdge(src, dst)
		e.testTags = testTags
	} else if !ok {
		e = g.createEdge(src, dst)
		e.testOnly = test
	}

	if test {
		before := e.testTags
		e.testTags |= tag
		return e.testTags != before || !ok, nil
	}
	before := e.tags
	e.tags |= tag
	e.testOnly = false
	g.index(e)
	return e.tags != before || !ok, nil
}

func (g *Graph) createEdge(src, dst VertexID) *Edge {
	e := newEdge(EdgeID(g.newID()), src, dst)
	g.edges[e.id] = e
	g.pairs[pairOf(src, dst)] = e.id
	g.incident[src][e.id] = struct{}{}
	g.incident[dst][e.id] = struct{}{}
	return e
}

func (g *Graph) removeTag(from, to ObjectKey, tag Tag) bool {
	src, ok := g.byKey[from]
	if !ok {
		return false
	}
	dst, ok := g.byKey[to]
	if !ok {
		return false
	}
	e, ok := g.edges[g.pairs[pairOf(src, dst)]]
	if !ok {
		return false
	}
	return g.clearTag(e, tag)
}

func (g *Graph) clearTag(e *Edge, tag Tag) bool {
	if e.tags&tag == 0 {
		return false
	}
	e.tags &^= tag
	g.index(e)
	if e.tags == 0 {
		if e.testTags == 0 {
			g.deleteEdge(e)
		} else {
			e.testOnly = true
		}
	}
	return true
}

func (g *Graph) index(e *Edge) {
	for t, idx := range g.tagged {
		if e.tags.Has(t) {
			idx[e.id] = struct{}{}
		} else {
			delete(idx, e.id)
		}
	}
}

func (g *Graph) deleteEdge(e *Edge) {
	delete(g.edges, e.id)
	delete(g.pairs, pairOf(e.original.Source, e.original.Dest))
	delete(g.incident[e.original.Source], e.id)
	delete(g.incident[e.original.Dest], e.id)
	for _, idx := range g.tagged {
		delete(idx, e.id)
	}
}
