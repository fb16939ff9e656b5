package ops

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/luno/jettison/errors"
	"github.com/luno/jettison/j"
	"github.com/luno/jettison/log"

	"github.com/luno/clustermap/server/graph"
)

type DryRunState int

const (
	DryRunIdle DryRunState = iota
	DryRunArmed
	DryRunAnimating
)

func (s DryRunState) String() string {
	switch s {
	case DryRunIdle:
		return "idle"
	case DryRunArmed:
		return "armed"
	case DryRunAnimating:
		return "animating"
	default:
		return "unknown"
	}
}

// Proposal is the speculative change shown during a dry run.
type Proposal struct {
	Vertices []graph.Object
	Edges    []ProposedEdge
}

type ProposedEdge struct {
	From, To graph.ObjectKey
	Tag      graph.Tag
}

// DryRun overlays a proposal on a graph for a bounded window. Only one
// session runs per graph; a second Arm fails with ErrDryRunBusy. Whatever
// way a session ends, the overlay is removed before the state returns to
// idle.
type DryRun struct {
	g      *graph.Graph
	window time.Duration

	mu       sync.Mutex
	state    DryRunState
	session  string
	armTimer *time.Timer
	end      chan struct{}
	ended    bool
	idle     chan struct{}
}

func NewDryRun(g *graph.Graph, window time.Duration) *DryRun {
	idle := make(chan struct{})
	close(idle)
	return &DryRun{g: g, window: window, idle: idle}
}

func (d *DryRun) State() DryRunState {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.state
}

// Arm reserves the graph for a new session and returns its id. A session
// that is not animated within the window is disarmed.
func (d *DryRun) Arm(ctx context.Context) (string, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.state != DryRunIdle {
		return "", errors.Wrap(ErrDryRunBusy, "", j.MKV{
			"graph":   d.g.Name(),
			"session": d.session,
		})
	}
	id := uuid.NewString()
	d.state = DryRunArmed
	d.session = id
	d.end = make(chan struct{})
	d.ended = false
	d.idle = make(chan struct{})
	d.armTimer = time.AfterFunc(d.window, func() {
		d.mu.Lock()
		defer d.mu.Unlock()
		if d.session == id && d.state == DryRunArmed {
			d.toIdle()
		}
	})
	log.Info(ctx, "dry run armed", j.MKV{"graph": d.g.Name(), "session": id})
	return id, nil
}

// Animate adds the proposal to the graph as dry-run state and holds it
// until the window elapses, ctx is done or End is called. It then removes
// the overlay and returns the simulator to idle.
func (d *DryRun) Animate(ctx context.Context, session string, p Proposal) error {
	d.mu.Lock()
	if d.state != DryRunArmed || d.session != session {
		d.mu.Unlock()
		return errors.Wrap(ErrDryRunState, "", j.KV("session", session))
	}
	d.armTimer.Stop()
	d.state = DryRunAnimating
	end := d.end
	d.mu.Unlock()

	defer d.finish(ctx)

	for _, v := range p.Vertices {
		if _, err := d.g.AddTestVertex(ctx, v); err != nil {
			return err
		}
	}
	for _, e := range p.Edges {
		err := d.g.AddTestTag(ctx, e.From, e.To, e.Tag)
		if errors.Is(err, graph.ErrInvariant) {
			log.Info(ctx, "skipped dry run edge", j.MKV{"from": e.From, "to": e.To})
			continue
		} else if err != nil {
			return err
		}
	}

	t := time.NewTimer(d.window)
	defer t.Stop()
	select {
	case <-t.C:
	case <-ctx.Done():
	case <-end:
	}
	return nil
}

// finish clears the overlay, retrying lock timeouts, and goes idle.
func (d *DryRun) finish(ctx context.Context) {
	ctx = context.WithoutCancel(ctx)
	for attempt := 1; ; attempt++ {
		err := d.g.ClearTest(ctx)
		if err == nil {
			break
		}
		log.Error(ctx, errors.Wrap(err, "clear dry run", j.KV("attempt", attempt)))
		time.Sleep(min(time.Duration(attempt)*10*time.Millisecond, time.Second))
	}

	d.mu.Lock()
	defer d.mu.Unlock()
	d.toIdle()
}

// End stops the current session, if any, and waits until the overlay is
// gone.
func (d *DryRun) End(ctx context.Context) error {
	d.mu.Lock()
	switch d.state {
	case DryRunArmed:
		d.armTimer.Stop()
		d.toIdle()
	case DryRunAnimating:
		if !d.ended {
			d.ended = true
			close(d.end)
		}
	}
	idle := d.idle
	d.mu.Unlock()

	select {
	case <-idle:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// toIdle must be called with mu held.
func (d *DryRun) toIdle() {
	if d.state == DryRunIdle {
		return
	}
	log.Info(context.Background(), "dry run ended", j.MKV{"graph": d.g.Name(), "session": d.session})
	d.state = DryRunIdle
	d.session = ""
	close(d.idle)
}
