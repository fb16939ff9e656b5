package api

type VertexKind string

const (
	VertexHost        VertexKind = "host"
	VertexService     VertexKind = "service"
	VertexVolume      VertexKind = "volume"
	VertexPlaceholder VertexKind = "placeholder"
)

type Point struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
}

type Vertex struct {
	ID    string     `json:"id"`
	Key   string     `json:"key"`
	Kind  VertexKind `json:"kind"`
	Label string     `json:"label"`

	Host  string `json:"host,omitempty"`
	State string `json:"state,omitempty"`
	Role  string `json:"role,omitempty"`
	Disk  string `json:"disk,omitempty"`

	New      bool `json:"new,omitempty"`
	Orphaned bool `json:"orphaned,omitempty"`
	Drift    bool `json:"drift,omitempty"`
	Present  bool `json:"present"`
	TestOnly bool `json:"test_only,omitempty"`

	Position *Point `json:"position,omitempty"`
}

// Edge is drawn from From to To. For storage graphs that is the
// replication direction, which may differ from the stored one.
type Edge struct {
	ID       string   `json:"id"`
	From     string   `json:"from"`
	To       string   `json:"to"`
	Tags     []string `json:"tags,omitempty"`
	TestTags []string `json:"test_tags,omitempty"`
	TestOnly bool     `json:"test_only,omitempty"`
}

type Graph struct {
	Name    string `json:"name"`
	Version uint64 `json:"version"`

	// StatusKnown is false while no host can be reached; the graph then
	// only shows what was last known.
	StatusKnown bool `json:"status_known"`

	Vertices []Vertex `json:"vertices"`
	Edges    []Edge   `json:"edges"`
}

type WaitGraph struct {
	Version uint64 `json:"version"`
	Changed bool   `json:"changed"`
}

type HostStatus struct {
	Host      string            `json:"host"`
	Reachable bool              `json:"reachable"`
	Stopping  bool              `json:"stopping"`
	Kinds     map[string]bool   `json:"kinds"`
	Pollers   map[string]string `json:"pollers"`
}

type GetHosts struct {
	Hosts []HostStatus `json:"hosts"`
}

type SetPositions struct {
	Positions map[string]Point `json:"positions"`
}

type DryRunVertex struct {
	Kind VertexKind `json:"kind"`

	// Service vertices only.
	Name        string `json:"name,omitempty"`
	ID          string `json:"id,omitempty"`
	ServiceKind string `json:"service_kind,omitempty"`
	Host        string `json:"host,omitempty"`
}

type DryRunEdge struct {
	From string `json:"from"`
	To   string `json:"to"`
	Tag  string `json:"tag"`
}

type DryRun struct {
	Vertices []DryRunVertex `json:"vertices"`
	Edges    []DryRunEdge   `json:"edges"`
}

type DryRunStarted struct {
	Session string `json:"session"`
}
