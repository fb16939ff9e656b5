package ops

import (
	"context"
	"time"

	"github.com/luno/jettison/errors"
	"github.com/luno/jettison/j"
	"github.com/luno/jettison/log"

	"github.com/luno/clustermap/server/parse"
	"github.com/luno/clustermap/server/remote"
	"github.com/luno/clustermap/server/snapshot"
)

var errStreamEnded = errors.New("status stream ended", j.C("ERR_7c0e5a93d1f2b648"))

// pollersFor builds the pollers of every status kind configured for host.
// Callers must hold mu.
func (m *Monitor) pollersFor(host string) []*Poller {
	cfg := m.cfg
	expand := func(cmd string) string {
		return remote.Expand(cmd, host, cfg.Cluster)
	}
	report := func(kind snapshot.Kind) func(bool) {
		return func(ok bool) { m.setFlag(host, kind, ok) }
	}

	var ret []*Poller
	if cfg.Commands.Connectivity != "" {
		c := &connectivityCycle{m: m, host: host, cmd: expand(cfg.Commands.Connectivity), timeout: cfg.Intervals.Connectivity}
		ret = append(ret, newPoller(host, snapshot.KindConnectivity,
			cfg.Intervals.Connectivity, cfg.Backoff, c.run, report(snapshot.KindConnectivity)))
	}
	if cfg.StorageEnabled(host) {
		c := &storageCycle{m: m, host: host, cmd: expand(cfg.Commands.Storage), interval: cfg.Intervals.Storage}
		if cfg.Commands.StorageEvents != "" {
			c.events = expand(cfg.Commands.StorageEvents)
		}
		ret = append(ret, newPoller(host, snapshot.KindStorage,
			cfg.Intervals.Storage, cfg.Backoff, c.run, report(snapshot.KindStorage)))
	}
	if cfg.Commands.Cluster != "" {
		c := &clusterCycle{m: m, host: host, cmd: expand(cfg.Commands.Cluster)}
		ret = append(ret, newPoller(host, snapshot.KindCluster,
			cfg.Intervals.Cluster, cfg.Backoff, c.run, report(snapshot.KindCluster)))
	}
	return ret
}

// Every cycle type is owned by a single poller, which makes it the only
// writer of its snapshot key.

type connectivityCycle struct {
	m       *Monitor
	host    string
	cmd     string
	timeout time.Duration
	seq     uint64
}

func (c *connectivityCycle) run(ctx context.Context, _ func(bool)) error {
	t0 := time.Now()
	res, err := c.m.exec.Run(ctx, c.host, c.cmd, c.timeout)
	if err != nil {
		return err
	}
	if res.ExitCode != 0 {
		return errors.Wrap(remote.ErrTransient, "connectivity check failed", j.MKV{
			"host":      c.host,
			"exit_code": res.ExitCode,
		})
	}
	c.seq++
	publish(c.m.conn, snapshot.Key{Host: c.host, Kind: snapshot.KindConnectivity}, c.seq, time.Since(t0))
	return nil
}

type storageCycle struct {
	m        *Monitor
	host     string
	cmd      string
	events   string
	interval time.Duration
	seq      uint64
}

func (c *storageCycle) key() snapshot.Key {
	return snapshot.Key{Host: c.host, Kind: snapshot.KindStorage}
}

// run reads the full replication status and then, if an event command is
// configured, follows events until the interval is over.
func (c *storageCycle) run(ctx context.Context, report func(bool)) error {
	res, err := c.m.exec.Run(ctx, c.host, c.cmd, c.interval)
	if err != nil {
		return err
	}
	st, err := parse.ParseStorageStatus(res.Stdout)
	if err != nil {
		return errors.Wrap(err, "", j.KV("host", c.host))
	}
	c.apply(ctx, st)
	if c.events == "" {
		return nil
	}
	report(true)

	sctx, cancel := context.WithTimeout(ctx, c.interval)
	defer cancel()

	var lines parse.LineBuffer
	h, err := c.m.exec.RunStreaming(sctx, c.host, c.events, func(b []byte) {
		for _, l := range lines.Write(b) {
			ev, ok := parse.ParseStorageEvent(l)
			if !ok {
				continue
			}
			st = st.Apply(ev)
			c.apply(ctx, st)
		}
	})
	if err != nil {
		return err
	}
	select {
	case <-h.Done():
	case <-sctx.Done():
		h.Cancel()
		<-h.Done()
	}
	if sctx.Err() != nil {
		// Following events for the whole interval is a successful cycle.
		return nil
	}
	if err := h.Err(); err != nil {
		return err
	}
	return nil
}

func (c *storageCycle) apply(ctx context.Context, st *parse.StorageStatus) {
	c.seq++
	publish(c.m.storages, c.key(), c.seq, st)
	if err := c.m.syncStorage(ctx); err != nil {
		log.Error(ctx, errors.Wrap(err, "storage sync", j.KV("host", c.host)))
	}
}

type clusterCycle struct {
	m    *Monitor
	host string
	cmd  string
	seq  uint64
}

// run follows the cluster status stream, publishing and reconciling every
// frame. The stream is expected to run forever, so its end is a failure.
func (c *clusterCycle) run(ctx context.Context, report func(bool)) error {
	var fb parse.FrameBuffer
	h, err := c.m.exec.RunStreaming(ctx, c.host, c.cmd, func(b []byte) {
		_, _ = fb.Write(b)
		for _, f := range fb.Frames() {
			c.frame(ctx, f, report)
		}
	})
	if err != nil {
		return err
	}
	select {
	case <-h.Done():
	case <-ctx.Done():
		h.Cancel()
		<-h.Done()
		return ctx.Err()
	}
	if err := h.Err(); err != nil {
		return err
	}
	return errors.Wrap(errStreamEnded, "", j.KV("host", c.host))
}

func (c *clusterCycle) frame(ctx context.Context, body []byte, report func(bool)) {
	st, err := parse.ParseClusterStatus(body)
	if errors.Is(err, parse.ErrStatusUnavailable) {
		log.Info(ctx, "cluster status unavailable", j.KV("host", c.host))
		report(false)
		return
	} else if err != nil {
		log.Error(ctx, errors.Wrap(err, "cluster status frame", j.KV("host", c.host)))
		return
	}

	c.seq++
	publish(c.m.clusters, snapshot.Key{Host: c.host, Kind: snapshot.KindCluster}, c.seq, st)
	report(true)
	if err := c.m.services.Sync(ctx, st); err != nil {
		log.Error(ctx, errors.Wrap(err, "service sync", j.KV("host", c.host)))
	}
}

func publish[T any](s *snapshot.Store[T], k snapshot.Key, seq uint64, v T) {
	if s.Publish(k, seq, v) {
		snapshotPublishes.WithLabelValues(string(k.Kind)).Inc()
	}
}

// syncStorage reconciles the storage graph with the latest status of
// every host.
func (m *Monitor) syncStorage(ctx context.Context) error {
	all := m.storages.All(snapshot.KindStorage)
	statuses := make(map[string]*parse.StorageStatus, len(all))
	for h, e := range all {
		statuses[h] = e.Value
	}
	return m.storage.Sync(ctx, statuses)
}
