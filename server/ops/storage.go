package ops

import (
	"sort"

	"github.com/luno/clustermap/server/graph"
	"github.com/luno/clustermap/server/parse"
)

// ReconcileStorage returns the mutations that bring the storage graph in
// line with the latest storage status of every host. Each host side of a
// replicated volume is a vertex; the two sides are joined by a replication
// edge once both hosts report the volume. Hosts whose replication module is
// not loaded contribute no volumes. Hosts without a status are removed, so a
// sync racing a teardown is undone by the next one.
func ReconcileStorage(view graph.View, statuses map[string]*parse.StorageStatus) []graph.Mutation {
	var upserts, tags, removals []graph.Mutation

	drift := make(map[string]bool)
	for _, h := range ConfigDrift(statuses) {
		drift[h] = true
	}

	hosts := make([]string, 0, len(statuses))
	for h := range statuses {
		hosts = append(hosts, h)
	}
	sort.Strings(hosts)

	want := make(map[graph.ObjectKey]bool)
	wantEdge := make(map[[2]graph.ObjectKey]bool)
	for _, h := range hosts {
		obj := graph.HostNode{Name: h, State: parse.HostOnline}
		if !unchanged(view, obj, true) {
			upserts = append(upserts, graph.Upsert(obj, true))
		}

		st := statuses[h]
		if !st.Loaded {
			continue
		}
		links := make([]parse.Link, 0, len(st.Links))
		for _, l := range st.Links {
			links = append(links, l)
		}
		sort.Slice(links, func(i, j int) bool {
			return links[i].Key.String() < links[j].Key.String()
		})
		for _, l := range links {
			vol := graph.StorageVolumeNode{
				Link:  l.Key,
				Host:  h,
				State: l.State(),
				Role:  l.Role,
				Disk:  l.Disk,
				Drift: drift[h],
			}
			want[vol.Key()] = true
			if !unchanged(view, vol, true) {
				upserts = append(upserts, graph.Upsert(vol, true))
			}
		}
	}

	for _, h := range hosts {
		st := statuses[h]
		if !st.Loaded {
			continue
		}
		for _, l := range st.Links {
			peer, ok := statuses[l.Peer]
			if !ok || !peer.Loaded || l.Peer <= h {
				continue
			}
			if _, ok := peer.Links[l.Key]; !ok {
				continue
			}
			from, to := graph.VolumeKey(l.Key, h), graph.VolumeKey(l.Key, l.Peer)
			wantEdge[[2]graph.ObjectKey{from, to}] = true
		}
	}
	edges := make([][2]graph.ObjectKey, 0, len(wantEdge))
	for e := range wantEdge {
		edges = append(edges, e)
	}
	sort.Slice(edges, func(i, j int) bool {
		return edges[i][0]+edges[i][1] < edges[j][0]+edges[j][1]
	})
	for _, e := range edges {
		if ev, ok := view.EdgeBetween(e[0], e[1]); ok && ev.Tags.Has(graph.TagReplication) {
			continue
		}
		tags = append(tags, graph.AddTag(e[0], e[1], graph.TagReplication))
	}

	for _, e := range view.Edges {
		if !e.Tags.Has(graph.TagReplication) {
			continue
		}
		src, dst := view.Key(e.Original.Source), view.Key(e.Original.Dest)
		if wantEdge[[2]graph.ObjectKey{src, dst}] || wantEdge[[2]graph.ObjectKey{dst, src}] {
			continue
		}
		tags = append(tags, graph.RemoveTag(src, dst, graph.TagReplication))
	}

	for _, v := range view.Vertices {
		if v.TestOnly {
			continue
		}
		switch o := v.Object.(type) {
		case graph.HostNode:
			if _, ok := statuses[o.Name]; !ok {
				removals = append(removals, graph.Remove(o.Key()))
			}
		case graph.StorageVolumeNode:
			if !want[o.Key()] {
				removals = append(removals, graph.Remove(o.Key()))
			}
		}
	}

	ret := make([]graph.Mutation, 0, len(upserts)+len(tags)+len(removals))
	ret = append(ret, upserts...)
	ret = append(ret, tags...)
	return append(ret, removals...)
}

// ReplicationDirection is the direction a replication edge is displayed
// in: from the primary side to the secondary. The edge itself keeps its
// original direction.
func ReplicationDirection(view graph.View, e graph.EdgeView) graph.Endpoints {
	src, _ := view.VertexByID(e.Original.Source)
	dst, _ := view.VertexByID(e.Original.Dest)
	sv, sok := src.Object.(graph.StorageVolumeNode)
	dv, dok := dst.Object.(graph.StorageVolumeNode)
	if !sok || !dok {
		return e.Original
	}
	if dv.Role == "Primary" && sv.Role != "Primary" {
		return e.Original.Reversed()
	}
	return e.Original
}

// ConfigDrift returns the hosts whose replication config fingerprint
// differs from the one most hosts report. If no fingerprint is held by
// more hosts than any other, every host with a fingerprint is returned.
func ConfigDrift(statuses map[string]*parse.StorageStatus) []string {
	counts := make(map[string]int)
	for _, st := range statuses {
		if st.Loaded && st.Fingerprint != "" {
			counts[st.Fingerprint]++
		}
	}
	if len(counts) < 2 {
		return nil
	}

	var (
		best string
		most int
		tied bool
	)
	for fp, n := range counts {
		switch {
		case n > most:
			best, most, tied = fp, n, false
		case n == most:
			tied = true
		}
	}

	var ret []string
	for h, st := range statuses {
		if !st.Loaded || st.Fingerprint == "" {
			continue
		}
		if tied || st.Fingerprint != best {
			ret = append(ret, h)
		}
	}
	sort.Strings(ret)
	return ret
}
