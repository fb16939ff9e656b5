package graph

import (
	"context"
	"sort"

	"github.com/luno/jettison/errors"
	"github.com/luno/jettison/j"
)

// step visits the neighbours of a vertex along real edges in one direction.
type step func(v VertexID, visit func(VertexID))

// reach returns every vertex reachable from start, excluding start unless it
// lies on a cycle.
func reach(start VertexID, next step) map[VertexID]struct{} {
	seen := make(map[VertexID]struct{})
	stack := []VertexID{start}
	for len(stack) > 0 {
		v := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		next(v, func(n VertexID) {
			if _, ok := seen[n]; ok {
				return
			}
			seen[n] = struct{}{}
			stack = append(stack, n)
		})
	}
	return seen
}

func reaches(start, target VertexID, next step) bool {
	_, ok := reach(start, next)[target]
	return ok
}

func (g *Graph) successors(v VertexID, visit func(VertexID)) {
	for eid := range g.incident[v] {
		e := g.edges[eid]
		if e.tags != 0 && e.original.Source == v {
			visit(e.original.Dest)
		}
	}
}

func (g *Graph) predecessors(v VertexID, visit func(VertexID)) {
	for eid := range g.incident[v] {
		e := g.edges[eid]
		if e.tags != 0 && e.original.Dest == v {
			visit(e.original.Source)
		}
	}
}

func (g *Graph) keys(ids map[VertexID]struct{}) []ObjectKey {
	ret := make([]ObjectKey, 0, len(ids))
	for id := range ids {
		if v, ok := g.vertices[id]; ok {
			ret = append(ret, v.obj.Key())
		}
	}
	sort.Slice(ret, func(i, j int) bool { return ret[i] < ret[j] })
	return ret
}

func (g *Graph) read(ctx context.Context, f func()) error {
	if err := g.lock.RLock(ctx); err != nil {
		return err
	}
	defer g.lock.RUnlock()
	f()
	return nil
}

// AncestorsOf returns the keys of every vertex with a path of constraint
// edges leading to key, in original edge direction.
func (g *Graph) AncestorsOf(ctx context.Context, key ObjectKey) ([]ObjectKey, error) {
	var ret []ObjectKey
	err := g.read(ctx, func() {
		if id, ok := g.byKey[key]; ok {
			ret = g.keys(reach(id, g.predecessors))
		}
	})
	return ret, err
}

// DescendantsOf returns the keys of every vertex reachable from key.
func (g *Graph) DescendantsOf(ctx context.Context, key ObjectKey) ([]ObjectKey, error) {
	var ret []ObjectKey
	err := g.read(ctx, func() {
		if id, ok := g.byKey[key]; ok {
			ret = g.keys(reach(id, g.successors))
		}
	})
	return ret, err
}

// IsAncestor reports whether p is an ancestor of v. Unknown keys are never
// ancestors.
func (g *Graph) IsAncestor(ctx context.Context, v, p ObjectKey) (bool, error) {
	var ret bool
	err := g.read(ctx, func() {
		vid, ok := g.byKey[v]
		if !ok {
			return
		}
		pid, ok := g.byKey[p]
		if !ok {
			return
		}
		ret = reaches(vid, pid, g.predecessors)
	})
	return ret, err
}

// Neighbors returns the keys of vertices sharing a constraint edge with key.
func (g *Graph) Neighbors(ctx context.Context, key ObjectKey) ([]ObjectKey, error) {
	var ret []ObjectKey
	err := g.read(ctx, func() {
		id, ok := g.byKey[key]
		if !ok {
			return
		}
		ids := make(map[VertexID]struct{})
		for eid := range g.incident[id] {
			if e := g.edges[eid]; e.tags != 0 {
				ids[e.other(id)] = struct{}{}
			}
		}
		ret = g.keys(ids)
	})
	return ret, err
}

// CanDepend reports whether an edge parent→child can be added without
// closing a cycle.
func (g *Graph) CanDepend(ctx context.Context, parent, child ObjectKey) (bool, error) {
	if parent == child {
		return false, nil
	}
	isAnc, err := g.IsAncestor(ctx, parent, child)
	if err != nil {
		return false, err
	}
	return !isAnc, nil
}

// AddDependency adds tag to the edge parent→child like AddEdge, but checks
// for a cycle under the same lock acquisition. It fails with ErrCycle if
// child is already an ancestor of parent.
func (g *Graph) AddDependency(ctx context.Context, parent, child ObjectKey, tag Tag) (EdgeID, error) {
	var id EdgeID
	err := g.write(ctx, func() (bool, error) {
		pid, ok := g.byKey[parent]
		if !ok {
			return false, errors.Wrap(ErrNotFound, "", j.KV("key", parent))
		}
		cid, ok := g.byKey[child]
		if !ok {
			return false, errors.Wrap(ErrNotFound, "", j.KV("key", child))
		}
		if pid == cid || reaches(pid, cid, g.predecessors) {
			return false, errors.Wrap(ErrCycle, "", j.MKV{"parent": parent, "child": child})
		}
		changed, err := g.addTag(parent, child, tag, false)
		if err == nil {
			id = g.pairs[pairOf(pid, cid)]
		}
		return changed, err
	})
	return id, err
}
