package handlers

import (
	"github.com/luno/clustermap/api"
	"github.com/luno/clustermap/server/graph"
	"github.com/luno/clustermap/server/ops"
)

func renderGraph(view graph.View, statusKnown bool) api.Graph {
	ret := api.Graph{
		Name:        view.Graph,
		Version:     view.Version,
		StatusKnown: statusKnown,
		Vertices:    make([]api.Vertex, 0, len(view.Vertices)),
		Edges:       make([]api.Edge, 0, len(view.Edges)),
	}
	for _, v := range view.Vertices {
		ret.Vertices = append(ret.Vertices, renderVertex(v))
	}
	for _, e := range view.Edges {
		dir := e.Current
		if e.Tags.Has(graph.TagReplication) {
			dir = ops.ReplicationDirection(view, e)
		}
		ret.Edges = append(ret.Edges, api.Edge{
			ID:       string(e.ID),
			From:     string(dir.Source),
			To:       string(dir.Dest),
			Tags:     tagNames(e.Tags),
			TestTags: tagNames(e.TestTags),
			TestOnly: e.TestOnly,
		})
	}
	return ret
}

func renderVertex(v graph.VertexView) api.Vertex {
	ret := api.Vertex{
		ID:       string(v.ID),
		Key:      string(v.Object.Key()),
		Present:  v.Present,
		TestOnly: v.TestOnly,
	}
	if v.Position != nil {
		ret.Position = &api.Point{X: v.Position.X, Y: v.Position.Y}
	}
	switch o := v.Object.(type) {
	case graph.HostNode:
		ret.Kind = api.VertexHost
		ret.Label = o.Name
		ret.State = string(o.State)
	case graph.ServiceNode:
		ret.Kind = api.VertexService
		ret.Label = o.Service.AdminID()
		ret.Host = o.Host
		ret.State = string(o.State)
		ret.Role = string(o.Service.Role)
		ret.New = o.Service.New
		ret.Orphaned = o.Service.Orphaned
	case graph.StorageVolumeNode:
		ret.Kind = api.VertexVolume
		ret.Label = o.Link.String()
		ret.Host = o.Host
		ret.State = string(o.State)
		ret.Role = o.Role
		ret.Disk = o.Disk
		ret.Drift = o.Drift
	case graph.PlaceholderNode:
		ret.Kind = api.VertexPlaceholder
		ret.Label = o.ID
	}
	return ret
}

var tagOrder = []graph.Tag{graph.TagOrder, graph.TagColocation, graph.TagReplication}

func tagNames(t graph.Tag) []string {
	var ret []string
	for _, tag := range tagOrder {
		if t.Has(tag) {
			ret = append(ret, tag.String())
		}
	}
	return ret
}

func parseTag(s string) (graph.Tag, bool) {
	for _, tag := range tagOrder {
		if tag.String() == s {
			return tag, true
		}
	}
	return 0, false
}
