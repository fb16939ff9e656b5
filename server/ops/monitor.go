package ops

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/luno/jettison/errors"
	"github.com/luno/jettison/j"
	"github.com/luno/jettison/log"

	"github.com/luno/clustermap/server/config"
	"github.com/luno/clustermap/server/parse"
	"github.com/luno/clustermap/server/remote"
	"github.com/luno/clustermap/server/snapshot"
)

// HostStatus is what is known about one monitored host. Kinds holds the
// result of the latest poll of each status kind; a kind that has not
// finished a poll yet is absent.
type HostStatus struct {
	Host      string
	Reachable bool
	Stopping  bool
	Kinds     map[snapshot.Kind]bool
	Pollers   map[snapshot.Kind]PollState
}

type hostEntry struct {
	pollers *HostPollers
	kinds   map[snapshot.Kind]bool
	stopped chan struct{}
	err     error
}

func (e *hostEntry) reachable() bool {
	for _, ok := range e.kinds {
		if ok {
			return true
		}
	}
	return false
}

// Monitor runs the pollers of every host of a cluster, publishes what they
// read and keeps the service and storage graphs in step with it.
type Monitor struct {
	exec     remote.Exec
	services *ServiceGraph
	storage  *StorageGraph

	conn     *snapshot.Store[time.Duration]
	clusters *snapshot.Store[*parse.ClusterStatus]
	storages *snapshot.Store[*parse.StorageStatus]

	mu      sync.Mutex
	cfg     config.Config
	hosts   map[string]*hostEntry
	changed chan struct{}
}

func NewMonitor(cfg config.Config, exec remote.Exec, services *ServiceGraph, storage *StorageGraph) *Monitor {
	return &Monitor{
		exec:     exec,
		services: services,
		storage:  storage,
		conn:     snapshot.NewStore[time.Duration](),
		clusters: snapshot.NewStore[*parse.ClusterStatus](),
		storages: snapshot.NewStore[*parse.StorageStatus](),
		cfg:      cfg,
		hosts:    make(map[string]*hostEntry),
		changed:  make(chan struct{}),
	}
}

func (m *Monitor) Services() *ServiceGraph {
	return m.services
}

func (m *Monitor) Storage() *StorageGraph {
	return m.storage
}

// ClusterStatus returns the most recent cluster status from any host.
func (m *Monitor) ClusterStatus() (*parse.ClusterStatus, bool) {
	_, e, ok := m.clusters.Latest(snapshot.KindCluster)
	return e.Value, ok
}

// broadcast wakes every waiter. Callers must hold mu.
func (m *Monitor) broadcast() {
	close(m.changed)
	m.changed = make(chan struct{})

	var n int
	for _, e := range m.hosts {
		if e.reachable() {
			n++
		}
	}
	reachableHosts.Set(float64(n))
}

// StartHost starts polling host. The pollers run until ctx is done or the
// host is stopped. Starting a running host is a no-op; starting a host
// that is still stopping fails with ErrHostStopping.
func (m *Monitor) StartHost(ctx context.Context, host string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if e, ok := m.hosts[host]; ok {
		if e.pollers.Stopping() {
			return errors.Wrap(ErrHostStopping, "", j.KV("host", host))
		}
		return nil
	}

	e := &hostEntry{
		kinds:   make(map[snapshot.Kind]bool),
		stopped: make(chan struct{}),
	}
	e.pollers = startPollers(ctx, host, m.pollersFor(host))
	m.hosts[host] = e
	m.broadcast()

	log.Info(ctx, "started host", j.MKV{"host": host, "pollers": len(e.pollers.pollers)})
	return nil
}

// StopHost stops the host's pollers, waits for each of them to finish and
// only then removes the host from the graphs.
func (m *Monitor) StopHost(ctx context.Context, host string) error {
	e, err := m.beginStop(ctx, host)
	if err != nil {
		return err
	}
	select {
	case <-e.stopped:
		return e.err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// StopAll starts stopping every host without waiting.
func (m *Monitor) StopAll(ctx context.Context) {
	for _, h := range m.hostNames() {
		_, _ = m.beginStop(ctx, h)
	}
}

// WaitAll blocks until every host that is stopping has been torn down.
func (m *Monitor) WaitAll(ctx context.Context) error {
	m.mu.Lock()
	var waits []chan struct{}
	for _, e := range m.hosts {
		if e.pollers.Stopping() {
			waits = append(waits, e.stopped)
		}
	}
	m.mu.Unlock()

	for _, c := range waits {
		select {
		case <-c:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return nil
}

// AllDown reports whether no poller of any host is running.
func (m *Monitor) AllDown() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, e := range m.hosts {
		if !e.pollers.Down() {
			return false
		}
	}
	return true
}

func (m *Monitor) beginStop(ctx context.Context, host string) (*hostEntry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	e, ok := m.hosts[host]
	if !ok {
		return nil, errors.Wrap(ErrUnknownHost, "", j.KV("host", host))
	}
	if e.pollers.markStopping() {
		m.broadcast()
		go m.teardown(context.WithoutCancel(ctx), host, e)
	}
	return e, nil
}

func (m *Monitor) teardown(ctx context.Context, host string, e *hostEntry) {
	_ = e.pollers.Stop()

	m.conn.Forget(host)
	m.clusters.Forget(host)
	m.storages.Forget(host)

	err := m.services.TearDownHost(ctx, host)
	if err == nil {
		err = m.storage.TearDownHost(ctx, host)
	}
	if err != nil {
		log.Error(ctx, errors.Wrap(err, "tear down host", j.KV("host", host)))
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	e.err = err
	delete(m.hosts, host)
	close(e.stopped)
	m.broadcast()
	log.Info(ctx, "stopped host", j.KV("host", host))
}

func (m *Monitor) hostNames() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	ret := make([]string, 0, len(m.hosts))
	for h := range m.hosts {
		ret = append(ret, h)
	}
	sort.Strings(ret)
	return ret
}

// Hosts returns the status of every monitored host, by name.
func (m *Monitor) Hosts() []HostStatus {
	m.mu.Lock()
	defer m.mu.Unlock()

	ret := make([]HostStatus, 0, len(m.hosts))
	for h, e := range m.hosts {
		kinds := make(map[snapshot.Kind]bool, len(e.kinds))
		for k, ok := range e.kinds {
			kinds[k] = ok
		}
		ret = append(ret, HostStatus{
			Host:      h,
			Reachable: e.reachable(),
			Stopping:  e.pollers.Stopping(),
			Kinds:     kinds,
			Pollers:   e.pollers.States(),
		})
	}
	sort.Slice(ret, func(i, j int) bool { return ret[i].Host < ret[j].Host })
	return ret
}

// StatusKnown is false when no host is reachable, meaning nothing shown
// reflects the cluster.
func (m *Monitor) StatusKnown() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, e := range m.hosts {
		if e.reachable() {
			return true
		}
	}
	return false
}

// WaitReachable blocks until a poll of host succeeded.
func (m *Monitor) WaitReachable(ctx context.Context, host string) error {
	for {
		m.mu.Lock()
		e, ok := m.hosts[host]
		reachable := ok && e.reachable()
		changed := m.changed
		m.mu.Unlock()

		if !ok {
			return errors.Wrap(ErrUnknownHost, "", j.KV("host", host))
		} else if reachable {
			return nil
		}
		select {
		case <-changed:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

func (m *Monitor) setFlag(host string, kind snapshot.Kind, ok bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	e, found := m.hosts[host]
	if !found {
		return
	}
	prev, had := e.kinds[kind]
	e.kinds[kind] = ok
	if !had || prev != ok {
		m.broadcast()
	}
}

// Reload applies a new config: hosts that were added start, hosts that
// were removed begin stopping. Running hosts keep their pollers.
func (m *Monitor) Reload(ctx context.Context, cfg config.Config) error {
	m.mu.Lock()
	prev := m.cfg
	m.cfg = cfg
	m.mu.Unlock()

	added, removed := config.HostDiff(prev, cfg)
	for _, h := range removed {
		if _, err := m.beginStop(ctx, h); err != nil && !errors.Is(err, ErrUnknownHost) {
			return err
		}
	}
	for _, h := range added {
		if err := m.StartHost(ctx, h); err != nil {
			return err
		}
	}
	log.Info(ctx, "monitor reloaded", j.MKV{"added": len(added), "removed": len(removed)})
	return nil
}
