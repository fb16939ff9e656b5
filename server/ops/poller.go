package ops

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/luno/jettison/errors"
	"github.com/luno/jettison/j"
	"github.com/luno/jettison/log"
	"golang.org/x/sync/errgroup"

	"github.com/luno/clustermap/server/config"
	"github.com/luno/clustermap/server/snapshot"
)

type PollState int32

const (
	PollStarting PollState = iota
	PollPolling
	PollSucceeded
	PollFailed
	PollCancelled
)

func (s PollState) String() string {
	switch s {
	case PollStarting:
		return "starting"
	case PollPolling:
		return "polling"
	case PollSucceeded:
		return "succeeded"
	case PollFailed:
		return "failed"
	case PollCancelled:
		return "cancelled"
	default:
		return "unknown"
	}
}

// cycleFunc runs one poll cycle. It may call report while it runs, for
// streams that deliver more than one status per cycle.
type cycleFunc func(ctx context.Context, report func(ok bool)) error

// Poller repeats one kind of status poll against one host until its
// context is cancelled. A successful cycle is followed by the interval, a
// failed one by a backoff that grows with consecutive failures.
type Poller struct {
	host     string
	kind     snapshot.Kind
	interval time.Duration
	backoff  config.Backoff
	cycle    cycleFunc
	report   func(ok bool)

	state    atomic.Int32
	failures int
}

func newPoller(host string, kind snapshot.Kind, interval time.Duration,
	backoff config.Backoff, cycle cycleFunc, report func(bool),
) *Poller {
	return &Poller{
		host:     host,
		kind:     kind,
		interval: interval,
		backoff:  backoff,
		cycle:    cycle,
		report:   report,
	}
}

func (p *Poller) Kind() snapshot.Kind {
	return p.kind
}

func (p *Poller) State() PollState {
	return PollState(p.state.Load())
}

func (p *Poller) setState(s PollState) {
	p.state.Store(int32(s))
}

// Run polls until ctx is cancelled. It always returns nil once the poller
// reached PollCancelled; failures only ever change the reported status.
func (p *Poller) Run(ctx context.Context) error {
	p.setState(PollStarting)
	defer p.setState(PollCancelled)

	for ctx.Err() == nil {
		p.setState(PollPolling)
		err := p.cycle(ctx, p.report)
		if ctx.Err() != nil {
			return nil
		}

		var wait time.Duration
		if err != nil {
			p.failures++
			p.setState(PollFailed)
			p.report(false)
			pollCycles.WithLabelValues(string(p.kind), "failed").Inc()
			wait = p.backoff.Delay(p.failures)
			log.Error(ctx, errors.Wrap(err, "poll failed", j.MKV{
				"host":     p.host,
				"kind":     p.kind,
				"failures": p.failures,
			}))
		} else {
			p.failures = 0
			p.setState(PollSucceeded)
			p.report(true)
			pollCycles.WithLabelValues(string(p.kind), "ok").Inc()
			wait = p.interval
		}

		t := time.NewTimer(wait)
		select {
		case <-t.C:
		case <-ctx.Done():
			t.Stop()
		}
	}
	return nil
}

// HostPollers runs the pollers of one host.
type HostPollers struct {
	host     string
	pollers  []*Poller
	cancel   context.CancelFunc
	eg       *errgroup.Group
	stopping atomic.Bool
}

func startPollers(ctx context.Context, host string, pollers []*Poller) *HostPollers {
	ctx, cancel := context.WithCancel(ctx)
	eg, ctx := errgroup.WithContext(ctx)
	h := &HostPollers{host: host, pollers: pollers, cancel: cancel, eg: eg}
	for _, p := range pollers {
		eg.Go(func() error {
			return p.Run(ctx)
		})
	}
	return h
}

// markStopping flags the host as stopping and reports whether this call
// did so.
func (h *HostPollers) markStopping() bool {
	return h.stopping.CompareAndSwap(false, true)
}

func (h *HostPollers) Stopping() bool {
	return h.stopping.Load()
}

// Stop cancels every poller and blocks until each one has returned.
func (h *HostPollers) Stop() error {
	h.stopping.Store(true)
	h.cancel()
	return h.eg.Wait()
}

// Down reports whether every poller reached PollCancelled.
func (h *HostPollers) Down() bool {
	for _, p := range h.pollers {
		if p.State() != PollCancelled {
			return false
		}
	}
	return true
}

func (h *HostPollers) States() map[snapshot.Kind]PollState {
	ret := make(map[snapshot.Kind]PollState, len(h.pollers))
	for _, p := range h.pollers {
		ret[p.Kind()] = p.State()
	}
	return ret
}
