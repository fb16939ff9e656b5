package ops

import (
	"context"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/luno/jettison/jtest"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/luno/clustermap/server/config"
	"github.com/luno/clustermap/server/graph"
	"github.com/luno/clustermap/server/parse"
	"github.com/luno/clustermap/server/remote"
	"github.com/luno/clustermap/server/snapshot"
)

type fakeStream struct {
	onChunk func([]byte)
	sticky  bool

	once sync.Once
	done chan struct{}
	err  error
}

func (s *fakeStream) send(body string) {
	s.onChunk([]byte(body))
}

func (s *fakeStream) end(err error) {
	s.once.Do(func() {
		s.err = err
		close(s.done)
	})
}

func (s *fakeStream) Cancel() {
	if !s.sticky {
		s.end(context.Canceled)
	}
}

func (s *fakeStream) Done() <-chan struct{} { return s.done }
func (s *fakeStream) Err() error            { return s.err }

// fakeExec answers connectivity and storage commands from its maps and
// hands cluster streams to the test.
type fakeExec struct {
	mu      sync.Mutex
	exit    map[string]int
	storage map[string]string
	sticky  bool
	streams map[string]*fakeStream
}

func newFakeExec() *fakeExec {
	return &fakeExec{
		exit:    make(map[string]int),
		storage: make(map[string]string),
		streams: make(map[string]*fakeStream),
	}
}

func (f *fakeExec) Run(ctx context.Context, host, command string, _ time.Duration) (remote.Result, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := ctx.Err(); err != nil {
		return remote.Result{}, err
	}
	if strings.HasPrefix(command, "storage") {
		return remote.Result{Stdout: []byte(f.storage[host])}, nil
	}
	return remote.Result{ExitCode: f.exit[host]}, nil
}

func (f *fakeExec) RunStreaming(ctx context.Context, host, _ string, onChunk func([]byte)) (remote.Handle, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	s := &fakeStream{onChunk: onChunk, sticky: f.sticky, done: make(chan struct{})}
	f.streams[host] = s
	go func() {
		select {
		case <-ctx.Done():
			s.Cancel()
		case <-s.done:
		}
	}()
	return s, nil
}

func (f *fakeExec) setExit(host string, code int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.exit[host] = code
}

func (f *fakeExec) setSticky(sticky bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sticky = sticky
}

func (f *fakeExec) current(host string) *fakeStream {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.streams[host]
}

func (f *fakeExec) stream(t *testing.T, host string) *fakeStream {
	t.Helper()
	require.Eventually(t, func() bool {
		return f.current(host) != nil
	}, time.Second, time.Millisecond)
	return f.current(host)
}

func testConfig(hosts ...string) config.Config {
	return config.Config{
		Cluster: "test",
		Hosts:   hosts,
		Commands: config.Commands{
			Connectivity: "ping {host}",
			Cluster:      "status {cluster}",
		},
		Intervals: config.Intervals{
			Connectivity: 5 * time.Millisecond,
			Storage:      5 * time.Millisecond,
			Cluster:      5 * time.Millisecond,
		},
		Backoff: config.Backoff{Base: time.Millisecond, Max: 5 * time.Millisecond},
	}
}

func newTestMonitor(t *testing.T, cfg config.Config) (*Monitor, *fakeExec) {
	t.Helper()
	fx := newFakeExec()
	m := NewMonitor(cfg, fx, NewServiceGraph(NewMemPositions(), time.Second), NewStorageGraph(NewMemPositions()))
	t.Cleanup(func() {
		m.StopAll(context.Background())
		_ = m.WaitAll(context.Background())
	})
	return m, fx
}

func hostStatus(t *testing.T, m *Monitor, host string) HostStatus {
	t.Helper()
	for _, hs := range m.Hosts() {
		if hs.Host == host {
			return hs
		}
	}
	require.Fail(t, "unknown host", host)
	return HostStatus{}
}

const (
	webFrame = `---start---
host node1 online
resource web id=1 host=node1 state=running
---done---
`
	errorFrame = `---start---
error
---done---
`
)

func TestMonitorClusterStream(t *testing.T) {
	ctx := context.Background()
	m, fx := newTestMonitor(t, testConfig("node1"))
	assert.False(t, m.StatusKnown())

	jtest.RequireNil(t, m.StartHost(ctx, "node1"))
	jtest.RequireNil(t, m.StartHost(ctx, "node1"))

	wctx, cancel := context.WithTimeout(ctx, time.Second)
	defer cancel()
	jtest.RequireNil(t, m.WaitReachable(wctx, "node1"))
	assert.True(t, m.StatusKnown())

	s := fx.stream(t, "node1")
	s.send(webFrame)

	v := viewOf(t, m.Services().Graph())
	assert.Equal(t, []graph.ObjectKey{"host/node1", keyWeb}, vertexKeys(v))
	st, ok := m.ClusterStatus()
	require.True(t, ok)
	assert.True(t, st.Has(parse.ServiceKey{Name: "web", ID: "1"}))
	assert.True(t, hostStatus(t, m, "node1").Kinds[snapshot.KindCluster])

	// An unavailable status keeps the last good one.
	s.send(errorFrame)
	hs := hostStatus(t, m, "node1")
	assert.False(t, hs.Kinds[snapshot.KindCluster])
	assert.True(t, hs.Reachable)
	prev, ok := m.ClusterStatus()
	require.True(t, ok)
	assert.Same(t, st, prev)
	assert.Equal(t, []graph.ObjectKey{"host/node1", keyWeb}, vertexKeys(viewOf(t, m.Services().Graph())))

	// Frames split across chunks.
	s.send("---start---\nhost node1 online\n")
	s.send("resource web id=1 host=node1 state=stopped\n---done---")
	vx, ok := viewOf(t, m.Services().Graph()).Vertex(keyWeb)
	require.True(t, ok)
	assert.Equal(t, parse.StateStopped, vx.Object.(graph.ServiceNode).State)
	assert.True(t, hostStatus(t, m, "node1").Kinds[snapshot.KindCluster])

	// The end of the stream is a failed cycle and the poller restarts it.
	s.end(nil)
	require.Eventually(t, func() bool {
		return fx.current("node1") != s
	}, time.Second, time.Millisecond)
}

func TestMonitorUnreachable(t *testing.T) {
	ctx := context.Background()
	m, fx := newTestMonitor(t, testConfig("node1"))
	fx.setExit("node1", 255)

	jtest.RequireNil(t, m.StartHost(ctx, "node1"))
	require.Eventually(t, func() bool {
		_, ok := hostStatus(t, m, "node1").Kinds[snapshot.KindConnectivity]
		return ok
	}, time.Second, time.Millisecond)

	hs := hostStatus(t, m, "node1")
	assert.False(t, hs.Reachable)
	assert.False(t, m.StatusKnown())

	wctx, cancel := context.WithTimeout(ctx, 20*time.Millisecond)
	defer cancel()
	err := m.WaitReachable(wctx, "node1")
	jtest.Require(t, context.DeadlineExceeded, err)

	fx.setExit("node1", 0)
	wctx, cancel = context.WithTimeout(ctx, time.Second)
	defer cancel()
	jtest.RequireNil(t, m.WaitReachable(wctx, "node1"))
}

func TestMonitorStopHost(t *testing.T) {
	ctx := context.Background()
	m, fx := newTestMonitor(t, testConfig("node1", "node2"))
	fx.setSticky(true)

	jtest.RequireNil(t, m.StartHost(ctx, "node1"))
	jtest.RequireNil(t, m.StartHost(ctx, "node2"))
	s := fx.stream(t, "node1")
	s.send(webFrame)
	n2 := fx.stream(t, "node2")

	// The stream ignores cancellation, so the stop cannot finish yet.
	done := make(chan error, 1)
	go func() { done <- m.StopHost(ctx, "node1") }()
	require.Eventually(t, func() bool {
		return hostStatus(t, m, "node1").Stopping
	}, time.Second, time.Millisecond)

	err := m.StartHost(ctx, "node1")
	jtest.Require(t, ErrHostStopping, err)
	_, ok := viewOf(t, m.Services().Graph()).Vertex("host/node1")
	assert.True(t, ok, "graph is kept until pollers are down")
	assert.False(t, m.AllDown())

	fx.setSticky(false)
	s.end(context.Canceled)
	n2.end(context.Canceled)
	jtest.RequireNil(t, <-done)

	_, ok = viewOf(t, m.Services().Graph()).Vertex("host/node1")
	assert.False(t, ok)
	assert.Len(t, m.Hosts(), 1)
	_, ok = m.clusters.Read(snapshot.Key{Host: "node1", Kind: snapshot.KindCluster})
	assert.False(t, ok)

	err = m.StopHost(ctx, "node1")
	jtest.Require(t, ErrUnknownHost, err)

	jtest.RequireNil(t, m.StartHost(ctx, "node1"))
	assert.Len(t, m.Hosts(), 2)
}

func TestMonitorStopAll(t *testing.T) {
	ctx := context.Background()
	m, _ := newTestMonitor(t, testConfig("node1", "node2"))
	jtest.RequireNil(t, m.StartHost(ctx, "node1"))
	jtest.RequireNil(t, m.StartHost(ctx, "node2"))

	m.StopAll(ctx)
	jtest.RequireNil(t, m.WaitAll(ctx))
	assert.True(t, m.AllDown())
	assert.Empty(t, m.Hosts())
}

func TestMonitorReload(t *testing.T) {
	ctx := context.Background()
	cfg := testConfig("node1", "node2")
	m, _ := newTestMonitor(t, cfg)
	for _, h := range cfg.Hosts {
		jtest.RequireNil(t, m.StartHost(ctx, h))
	}

	jtest.RequireNil(t, m.Reload(ctx, testConfig("node2", "node3")))
	jtest.RequireNil(t, m.WaitAll(ctx))

	var hosts []string
	for _, hs := range m.Hosts() {
		hosts = append(hosts, hs.Host)
	}
	assert.Equal(t, []string{"node2", "node3"}, hosts)
}

func TestMonitorStorage(t *testing.T) {
	ctx := context.Background()
	cfg := testConfig("node1", "node2")
	cfg.Commands.Storage = "storage {host}"
	m, fx := newTestMonitor(t, cfg)
	fx.storage["node1"] = "fingerprint a\nr0/0 peer=node2 cs:Connected ro:Primary/Secondary ds:UpToDate/UpToDate\n"
	fx.storage["node2"] = "fingerprint b\nr0/0 peer=node1 cs:Connected ro:Secondary/Primary ds:UpToDate/UpToDate\n"

	jtest.RequireNil(t, m.StartHost(ctx, "node1"))
	jtest.RequireNil(t, m.StartHost(ctx, "node2"))

	require.Eventually(t, func() bool {
		return len(viewOf(t, m.Storage().Graph()).Edges) == 1
	}, time.Second, time.Millisecond)

	v := viewOf(t, m.Storage().Graph())
	vx, ok := v.Vertex(graph.VolumeKey(parse.LinkKey{Resource: "r0", Volume: "0"}, "node2"))
	require.True(t, ok)
	// Two hosts with different fingerprints tie, so both drift.
	assert.True(t, vx.Object.(graph.StorageVolumeNode).Drift)
	assert.True(t, hostStatus(t, m, "node1").Kinds[snapshot.KindStorage])
}
