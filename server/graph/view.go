package graph

import (
	"context"
	"sort"
)

type VertexView struct {
	ID       VertexID
	Object   Object
	Present  bool
	TestOnly bool
	Position *Point
}

type EdgeView struct {
	ID       EdgeID
	Current  Endpoints
	Original Endpoints
	Tags     Tag
	TestTags Tag
	TestOnly bool
}

// View is a point-in-time copy of the graph for readers that must not hold
// the lock, such as the render surface and the reconcilers.
type View struct {
	Graph    string
	Version  uint64
	Vertices []VertexView
	Edges    []EdgeView

	byKey map[ObjectKey]int
	byID  map[VertexID]int
	pairs map[pair]int
}

func (g *Graph) View(ctx context.Context) (View, error) {
	var v View
	err := g.read(ctx, func() {
		v = g.view()
	})
	return v, err
}

func (g *Graph) view() View {
	v := View{
		Graph:    g.name,
		Version:  g.version.Load(),
		Vertices: make([]VertexView, 0, len(g.vertices)),
		Edges:    make([]EdgeView, 0, len(g.edges)),
	}
	for _, vx := range g.vertices {
		vv := VertexView{
			ID:       vx.id,
			Object:   vx.obj,
			Present:  vx.present,
			TestOnly: vx.testOnly,
		}
		if vx.pos != nil {
			p := *vx.pos
			vv.Position = &p
		}
		v.Vertices = append(v.Vertices, vv)
	}
	for _, e := range g.edges {
		v.Edges = append(v.Edges, EdgeView{
			ID:       e.id,
			Current:  e.Current(),
			Original: e.original,
			Tags:     e.tags,
			TestTags: e.testTags,
			TestOnly: e.testOnly,
		})
	}
	v.index()
	return v
}

func (v *View) index() {
	sort.Slice(v.Vertices, func(i, j int) bool {
		return v.Vertices[i].Object.Key() < v.Vertices[j].Object.Key()
	})
	v.byKey = make(map[ObjectKey]int, len(v.Vertices))
	v.byID = make(map[VertexID]int, len(v.Vertices))
	for i, vx := range v.Vertices {
		v.byKey[vx.Object.Key()] = i
		v.byID[vx.ID] = i
	}

	sort.Slice(v.Edges, func(i, j int) bool {
		a, b := v.Edges[i].Original, v.Edges[j].Original
		ka, kb := v.Key(a.Source)+"→"+v.Key(a.Dest), v.Key(b.Source)+"→"+v.Key(b.Dest)
		return ka < kb
	})
	v.pairs = make(map[pair]int, len(v.Edges))
	for i, e := range v.Edges {
		v.pairs[pairOf(e.Original.Source, e.Original.Dest)] = i
	}
}

func (v View) Vertex(k ObjectKey) (VertexView, bool) {
	i, ok := v.byKey[k]
	if !ok {
		return VertexView{}, false
	}
	return v.Vertices[i], true
}

func (v View) VertexByID(id VertexID) (VertexView, bool) {
	i, ok := v.byID[id]
	if !ok {
		return VertexView{}, false
	}
	return v.Vertices[i], true
}

// Key returns the object key of the vertex, or "" if it is not in the view.
func (v View) Key(id VertexID) ObjectKey {
	vx, ok := v.VertexByID(id)
	if !ok {
		return ""
	}
	return vx.Object.Key()
}

// EdgeBetween returns the edge joining a and b in either direction.
func (v View) EdgeBetween(a, b ObjectKey) (EdgeView, bool) {
	va, ok := v.Vertex(a)
	if !ok {
		return EdgeView{}, false
	}
	vb, ok := v.Vertex(b)
	if !ok {
		return EdgeView{}, false
	}
	i, ok := v.pairs[pairOf(va.ID, vb.ID)]
	if !ok {
		return EdgeView{}, false
	}
	return v.Edges[i], true
}

func (v View) successors(id VertexID, visit func(VertexID)) {
	for _, e := range v.Edges {
		if e.Tags != 0 && e.Original.Source == id {
			visit(e.Original.Dest)
		}
	}
}

func (v View) predecessors(id VertexID, visit func(VertexID)) {
	for _, e := range v.Edges {
		if e.Tags != 0 && e.Original.Dest == id {
			visit(e.Original.Source)
		}
	}
}

func (v View) keys(ids map[VertexID]struct{}) []ObjectKey {
	ret := make([]ObjectKey, 0, len(ids))
	for id := range ids {
		if k := v.Key(id); k != "" {
			ret = append(ret, k)
		}
	}
	sort.Slice(ret, func(i, j int) bool { return ret[i] < ret[j] })
	return ret
}

func (v View) AncestorsOf(k ObjectKey) []ObjectKey {
	vx, ok := v.Vertex(k)
	if !ok {
		return nil
	}
	return v.keys(reach(vx.ID, v.predecessors))
}

func (v View) DescendantsOf(k ObjectKey) []ObjectKey {
	vx, ok := v.Vertex(k)
	if !ok {
		return nil
	}
	return v.keys(reach(vx.ID, v.successors))
}

// IsAncestor reports whether p is an ancestor of c.
func (v View) IsAncestor(c, p ObjectKey) bool {
	vc, ok := v.Vertex(c)
	if !ok {
		return false
	}
	vp, ok := v.Vertex(p)
	if !ok {
		return false
	}
	return reaches(vc.ID, vp.ID, v.predecessors)
}

func (v View) CanDepend(parent, child ObjectKey) bool {
	return parent != child && !v.IsAncestor(parent, child)
}
