package ops

import (
	"reflect"
	"sort"

	"github.com/luno/clustermap/server/graph"
	"github.com/luno/clustermap/server/parse"
	"github.com/luno/clustermap/server/registry"
)

var constraintTags = map[parse.ConstraintKind]graph.Tag{
	parse.ConstraintOrder:      graph.TagOrder,
	parse.ConstraintColocation: graph.TagColocation,
}

const serviceTags = graph.TagOrder | graph.TagColocation

// ReconcileServices returns the mutations that bring the service graph in
// line with a cluster status. Vertex upserts come first, then constraint
// tags, then removals, so no tag ever names a vertex that is not there.
//
// Hosts and services the status no longer lists are removed. Dry-run state
// is ignored. Placeholders, services created locally and not yet reported
// by the cluster, and the edges touching either are left alone.
func ReconcileServices(view graph.View, st *parse.ClusterStatus) []graph.Mutation {
	var upserts, tags, removals []graph.Mutation

	hosts := make([]string, 0, len(st.Hosts))
	for h := range st.Hosts {
		hosts = append(hosts, h)
	}
	sort.Strings(hosts)
	for _, h := range hosts {
		obj := graph.HostNode{Name: h, State: st.Hosts[h]}
		if !unchanged(view, obj, true) {
			upserts = append(upserts, graph.Upsert(obj, true))
		}
	}

	keys := make([]parse.ServiceKey, 0, len(st.Resources))
	for k := range st.Resources {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool {
		return keys[i].String() < keys[j].String()
	})
	for _, k := range keys {
		obj := serviceNode(st, st.Resources[k])
		if !unchanged(view, obj, true) {
			upserts = append(upserts, graph.Upsert(obj, true))
		}
	}

	// Order is directed and colocation is not, so a pair carrying both
	// takes the direction of its order constraint. The first constraint of
	// a kind listed for a pair wins.
	type wantEdge struct {
		from, to graph.ObjectKey
		tags     graph.Tag
	}
	var wanted []*wantEdge
	byPair := make(map[[2]graph.ObjectKey]*wantEdge)
	for _, c := range st.Constraints {
		if !st.Has(c.From) || !st.Has(c.To) || c.From == c.To {
			continue
		}
		from, to := graph.ServiceKey(c.From), graph.ServiceKey(c.To)
		tag := constraintTags[c.Kind]
		if tag == 0 {
			continue
		}
		pk := pairKey(from, to)
		w, ok := byPair[pk]
		if !ok {
			w = &wantEdge{from: from, to: to}
			byPair[pk] = w
			wanted = append(wanted, w)
		}
		if w.tags.Has(tag) {
			continue
		}
		if tag == graph.TagOrder {
			w.from, w.to = from, to
		}
		w.tags |= tag
	}

	var drops, adds []graph.Mutation
	recreated := make(map[graph.EdgeID]bool)
	for _, w := range wanted {
		e, ok := view.EdgeBetween(w.from, w.to)
		have := e.Tags & serviceTags
		if ok && have != 0 && w.tags.Has(graph.TagOrder) &&
			view.Key(e.Original.Source) != w.from {
			// An edge keeps the direction it was created with, so a flipped
			// order drops the edge and builds it again.
			for _, tag := range []graph.Tag{graph.TagOrder, graph.TagColocation} {
				if have.Has(tag) {
					drops = append(drops, graph.RemoveTag(w.from, w.to, tag))
				}
			}
			recreated[e.ID] = true
			have = 0
		}
		for _, tag := range []graph.Tag{graph.TagOrder, graph.TagColocation} {
			if w.tags.Has(tag) && !have.Has(tag) {
				adds = append(adds, graph.AddTag(w.from, w.to, tag))
			}
		}
	}
	tags = append(tags, drops...)
	tags = append(tags, adds...)

	for _, e := range view.Edges {
		if recreated[e.ID] {
			continue
		}
		src, dst := view.Key(e.Original.Source), view.Key(e.Original.Dest)
		if !managed(view, st, src) || !managed(view, st, dst) {
			continue
		}
		var want graph.Tag
		if w, ok := byPair[pairKey(src, dst)]; ok {
			want = w.tags
		}
		for _, tag := range []graph.Tag{graph.TagOrder, graph.TagColocation} {
			if e.Tags.Has(tag) && !want.Has(tag) {
				tags = append(tags, graph.RemoveTag(src, dst, tag))
			}
		}
	}

	for _, v := range view.Vertices {
		if v.TestOnly {
			continue
		}
		switch o := v.Object.(type) {
		case graph.HostNode:
			if _, ok := st.Hosts[o.Name]; ok {
				continue
			}
		case graph.ServiceNode:
			if o.Service.New || st.Has(o.Service.Key()) {
				continue
			}
		default:
			continue
		}
		removals = append(removals, graph.Remove(v.Object.Key()))
	}

	ret := make([]graph.Mutation, 0, len(upserts)+len(tags)+len(removals))
	ret = append(ret, upserts...)
	ret = append(ret, tags...)
	return append(ret, removals...)
}

func pairKey(a, b graph.ObjectKey) [2]graph.ObjectKey {
	if a > b {
		a, b = b, a
	}
	return [2]graph.ObjectKey{a, b}
}

func serviceNode(st *parse.ClusterStatus, r parse.ResourceStatus) graph.ServiceNode {
	svc := registry.Service{
		Name:      r.Key.Name,
		ID:        r.Key.ID,
		Kind:      r.Kind,
		Role:      r.Role,
		Container: r.Container,
	}
	if r.Container != nil && !st.Has(*r.Container) {
		svc.Orphaned = true
	}
	return graph.ServiceNode{Service: svc, Host: r.Host, State: r.State}
}

// unchanged reports whether the view already holds obj as a real vertex.
func unchanged(view graph.View, obj graph.Object, present bool) bool {
	v, ok := view.Vertex(obj.Key())
	if !ok || v.TestOnly || v.Present != present {
		return false
	}
	return reflect.DeepEqual(v.Object, obj)
}

// managed reports whether the constraints of the vertex are owned by the
// cluster status: a real service that the cluster reported or will report.
func managed(view graph.View, st *parse.ClusterStatus, k graph.ObjectKey) bool {
	v, ok := view.Vertex(k)
	if !ok || v.TestOnly {
		return false
	}
	s, ok := v.Object.(graph.ServiceNode)
	if !ok {
		return false
	}
	return !s.Service.New || st.Has(s.Service.Key())
}
