package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/luno/jettison/jtest"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/luno/clustermap/api"
	"github.com/luno/clustermap/server/graph"
	"github.com/luno/clustermap/server/ops"
	"github.com/luno/clustermap/server/parse"
	"github.com/luno/clustermap/server/snapshot"
)

type testDeps struct {
	services *ops.ServiceGraph
	storage  *ops.StorageGraph

	mu    sync.Mutex
	hosts []ops.HostStatus
}

func (d *testDeps) Services() *ops.ServiceGraph { return d.services }
func (d *testDeps) Storage() *ops.StorageGraph  { return d.storage }

func (d *testDeps) Hosts() []ops.HostStatus {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.hosts
}

func (d *testDeps) StatusKnown() bool {
	return len(d.Hosts()) > 0
}

func (d *testDeps) setHosts(hosts ...ops.HostStatus) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.hosts = hosts
}

func newTestServer(t *testing.T) (*httptest.Server, *testDeps) {
	t.Helper()
	ctx := context.Background()
	d := &testDeps{
		services: ops.NewServiceGraph(ops.NewMemPositions(), time.Minute),
		storage:  ops.NewStorageGraph(ops.NewMemPositions()),
	}
	st, err := parse.ParseClusterStatus([]byte(`
host node1 online
resource web id=1 host=node1 state=running
resource db id=1 host=node1 state=running
order o1 first=web:1 then=db:1
`))
	jtest.RequireNil(t, err)
	jtest.RequireNil(t, d.services.Sync(ctx, st))

	srv := httptest.NewServer(CreateRouter(ctx, d))
	t.Cleanup(srv.Close)
	return srv, d
}

func getJSON(t *testing.T, url string, v any) int {
	t.Helper()
	resp, err := http.Get(url)
	require.NoError(t, err)
	defer resp.Body.Close()
	if resp.StatusCode == http.StatusOK {
		require.NoError(t, json.NewDecoder(resp.Body).Decode(v))
	}
	return resp.StatusCode
}

func postJSON(t *testing.T, url string, v any) *http.Response {
	t.Helper()
	b, err := json.Marshal(v)
	require.NoError(t, err)
	resp, err := http.Post(url, "application/json", bytes.NewReader(b))
	require.NoError(t, err)
	t.Cleanup(func() { _ = resp.Body.Close() })
	return resp
}

func TestGetGraph(t *testing.T) {
	srv, d := newTestServer(t)

	var g api.Graph
	require.Equal(t, http.StatusOK, getJSON(t, srv.URL+"/clustermap/api/graph/services", &g))
	assert.Equal(t, "services", g.Name)
	assert.False(t, g.StatusKnown)
	require.Len(t, g.Vertices, 3)
	assert.Equal(t, api.Vertex{
		ID:      g.Vertices[0].ID,
		Key:     "host/node1",
		Kind:    api.VertexHost,
		Label:   "node1",
		State:   "online",
		Present: true,
	}, g.Vertices[0])
	assert.Equal(t, "res_db_1", g.Vertices[1].Label)
	assert.Equal(t, "res_web_1", g.Vertices[2].Label)

	require.Len(t, g.Edges, 1)
	assert.Equal(t, g.Vertices[2].ID, g.Edges[0].From)
	assert.Equal(t, g.Vertices[1].ID, g.Edges[0].To)
	assert.Equal(t, []string{"order"}, g.Edges[0].Tags)

	d.setHosts(ops.HostStatus{Host: "node1", Reachable: true})
	require.Equal(t, http.StatusOK, getJSON(t, srv.URL+"/clustermap/api/graph/storage", &g))
	assert.Equal(t, "storage", g.Name)
	assert.True(t, g.StatusKnown)
	assert.Empty(t, g.Vertices)

	assert.Equal(t, http.StatusNotFound, getJSON(t, srv.URL+"/clustermap/api/graph/other", &g))
}

func TestWaitGraph(t *testing.T) {
	srv, d := newTestServer(t)
	version := d.services.Graph().Version()

	var w api.WaitGraph
	require.Equal(t, http.StatusOK, getJSON(t, srv.URL+"/clustermap/api/graph/services/wait?version=0", &w))
	assert.True(t, w.Changed)
	assert.Equal(t, version, w.Version)

	done := make(chan api.WaitGraph, 1)
	go func() {
		resp, err := http.Get(srv.URL + "/clustermap/api/graph/services/wait?version=" + strconv.FormatUint(version, 10))
		if err != nil {
			return
		}
		defer resp.Body.Close()
		var w api.WaitGraph
		if json.NewDecoder(resp.Body).Decode(&w) == nil {
			done <- w
		}
	}()

	time.Sleep(10 * time.Millisecond)
	_, err := d.services.AddPlaceholder(context.Background())
	jtest.RequireNil(t, err)

	select {
	case w := <-done:
		assert.True(t, w.Changed)
		assert.Greater(t, w.Version, version)
	case <-time.After(time.Second):
		require.Fail(t, "wait did not return")
	}

	assert.Equal(t, http.StatusBadRequest, getJSON(t, srv.URL+"/clustermap/api/graph/services/wait", &w))
}

func TestSetPositions(t *testing.T) {
	srv, d := newTestServer(t)

	resp := postJSON(t, srv.URL+"/clustermap/api/graph/services/positions", api.SetPositions{
		Positions: map[string]api.Point{
			"host/node1": {X: 3, Y: 4},
			"host/nope":  {X: 1, Y: 1},
		},
	})
	require.Equal(t, http.StatusOK, resp.StatusCode)

	view, err := d.services.Graph().View(context.Background())
	jtest.RequireNil(t, err)
	vx, ok := view.Vertex("host/node1")
	require.True(t, ok)
	require.NotNil(t, vx.Position)
	assert.Equal(t, graph.Point{X: 3, Y: 4}, *vx.Position)

	resp, err = http.Post(srv.URL+"/clustermap/api/graph/services/positions", "text/plain", nil)
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestDryRun(t *testing.T) {
	srv, d := newTestServer(t)
	url := srv.URL + "/clustermap/api/graph/services/dryrun"
	req := api.DryRun{
		Vertices: []api.DryRunVertex{{Kind: api.VertexService, Name: "ip", ID: "1", Host: "node1"}},
		Edges:    []api.DryRunEdge{{From: "svc/ip:1", To: "svc/web:1", Tag: "colocation"}},
	}

	resp := postJSON(t, url, req)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var started api.DryRunStarted
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&started))
	assert.NotEmpty(t, started.Session)

	resp = postJSON(t, url, req)
	assert.Equal(t, http.StatusConflict, resp.StatusCode)

	require.Eventually(t, func() bool {
		var g api.Graph
		getJSON(t, srv.URL+"/clustermap/api/graph/services", &g)
		return len(g.Edges) == 2
	}, time.Second, time.Millisecond)

	resp = postJSON(t, url+"/end", struct{}{})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, ops.DryRunIdle, d.services.DryRun().State())

	var g api.Graph
	require.Equal(t, http.StatusOK, getJSON(t, srv.URL+"/clustermap/api/graph/services", &g))
	assert.Len(t, g.Vertices, 3)
	assert.Len(t, g.Edges, 1)

	resp = postJSON(t, url, api.DryRun{Edges: []api.DryRunEdge{{From: "a", To: "b", Tag: "replication"}}})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp = postJSON(t, srv.URL+"/clustermap/api/graph/storage/dryrun", req)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestGetHosts(t *testing.T) {
	srv, d := newTestServer(t)
	d.setHosts(ops.HostStatus{
		Host:      "node1",
		Reachable: true,
		Kinds:     map[snapshot.Kind]bool{snapshot.KindConnectivity: true},
		Pollers:   map[snapshot.Kind]ops.PollState{snapshot.KindConnectivity: ops.PollSucceeded},
	})

	var resp api.GetHosts
	require.Equal(t, http.StatusOK, getJSON(t, srv.URL+"/clustermap/api/hosts", &resp))
	assert.Equal(t, []api.HostStatus{{
		Host:      "node1",
		Reachable: true,
		Kinds:     map[string]bool{"connectivity": true},
		Pollers:   map[string]string{"connectivity": "succeeded"},
	}}, resp.Hosts)
}

func TestNotFound(t *testing.T) {
	srv, _ := newTestServer(t)
	cli := &http.Client{CheckRedirect: func(*http.Request, []*http.Request) error {
		return http.ErrUseLastResponse
	}}

	resp, err := cli.Get(srv.URL + "/clustermap/api/nope")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)

	resp, err = cli.Get(srv.URL + "/elsewhere")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusTemporaryRedirect, resp.StatusCode)
	assert.Equal(t, "/clustermap/", resp.Header.Get("Location"))
}

func TestDebugRouter(t *testing.T) {
	srv := httptest.NewServer(CreateDebugRouter())
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/debug/ready")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}
