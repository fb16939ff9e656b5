package ops

import (
	"context"
	"reflect"
	"time"

	"github.com/google/uuid"
	"github.com/luno/jettison/errors"
	"github.com/luno/jettison/j"
	"github.com/luno/jettison/log"

	"github.com/luno/clustermap/server/graph"
	"github.com/luno/clustermap/server/parse"
	"github.com/luno/clustermap/server/registry"
)

const (
	ServicesGraphName = "services"
	StorageGraphName  = "storage"
)

// syncedGraph is a graph kept in step with status snapshots, with its
// vertex positions kept in a PositionStore.
type syncedGraph struct {
	g   *graph.Graph
	pos PositionStore
}

func (s *syncedGraph) Graph() *graph.Graph {
	return s.g
}

// sync reconciles the graph with the result of reconcile and sweeps
// orphans. Positions of vertices about to be created are fetched before
// any mutation is applied.
func (s *syncedGraph) sync(ctx context.Context, reconcile func(graph.View) []graph.Mutation) error {
	t0 := time.Now()
	defer func() {
		reconcileDuration.WithLabelValues(s.g.Name()).Observe(time.Since(t0).Seconds())
	}()

	view, err := s.g.View(ctx)
	if err != nil {
		return err
	}
	muts := reconcile(view)
	if len(muts) == 0 {
		return nil
	}

	for i, m := range muts {
		if m.Op != graph.OpUpsertVertex {
			continue
		}
		if _, ok := view.Vertex(m.Object.Key()); ok {
			continue
		}
		p, ok, err := s.pos.Get(ctx, m.Object.Key())
		if err != nil {
			log.Error(ctx, errors.Wrap(err, "position lookup", j.KV("key", m.Object.Key())))
			continue
		}
		if ok {
			muts[i] = m.At(p)
		}
	}

	res, err := s.g.Apply(ctx, muts)
	for op, n := range res.Changed {
		graphMutations.WithLabelValues(s.g.Name(), op.String()).Add(float64(n))
	}
	if err != nil {
		return err
	}

	edges, vertices, err := s.g.KillOrphans(ctx)
	if err != nil {
		return err
	}
	if edges+vertices > 0 {
		log.Info(ctx, "removed orphans", j.MKV{
			"graph":    s.g.Name(),
			"edges":    edges,
			"vertices": vertices,
		})
	}
	return nil
}

// SetPositions records positions chosen by the user and saves them.
// Unknown keys are ignored.
func (s *syncedGraph) SetPositions(ctx context.Context, pos map[graph.ObjectKey]graph.Point) error {
	known := make(map[graph.ObjectKey]graph.Point, len(pos))
	for k, p := range pos {
		err := s.g.SetPosition(ctx, k, p)
		if errors.Is(err, graph.ErrNotFound) {
			continue
		} else if err != nil {
			return err
		}
		known[k] = p
	}
	return s.pos.Save(ctx, known)
}

// SavePositions saves the current position of every vertex.
func (s *syncedGraph) SavePositions(ctx context.Context) error {
	pos, err := s.g.Positions(ctx)
	if err != nil {
		return err
	}
	return s.pos.Save(ctx, pos)
}

// ServiceGraph holds hosts, services, placeholders and the order and
// colocation constraints between them, together with the registry of the
// services it shows.
type ServiceGraph struct {
	syncedGraph
	reg    *registry.Registry
	dryRun *DryRun
}

func NewServiceGraph(pos PositionStore, dryRunWindow time.Duration, opts ...graph.Option) *ServiceGraph {
	g := graph.New(ServicesGraphName, opts...)
	return &ServiceGraph{
		syncedGraph: syncedGraph{g: g, pos: pos},
		reg:         registry.New(),
		dryRun:      NewDryRun(g, dryRunWindow),
	}
}

func (s *ServiceGraph) Registry() *registry.Registry {
	return s.reg
}

func (s *ServiceGraph) DryRun() *DryRun {
	return s.dryRun
}

// Sync brings the graph and the registry in line with a cluster status.
func (s *ServiceGraph) Sync(ctx context.Context, st *parse.ClusterStatus) error {
	err := s.sync(ctx, func(v graph.View) []graph.Mutation {
		return ReconcileServices(v, st)
	})
	if err != nil {
		return err
	}
	return s.syncRegistry(ctx)
}

// syncRegistry registers every service in the graph and drops registered
// services that left it. Local services are only dropped explicitly.
func (s *ServiceGraph) syncRegistry(ctx context.Context) error {
	view, err := s.g.View(ctx)
	if err != nil {
		return err
	}
	inGraph := make(map[parse.ServiceKey]bool)
	for _, v := range view.Vertices {
		sn, ok := v.Object.(graph.ServiceNode)
		if !ok || v.TestOnly {
			continue
		}
		k := sn.Service.Key()
		inGraph[k] = true
		prev, ok := s.reg.ByKey(k)
		switch {
		case !ok:
			s.reg.Register(sn.Service)
		case prev.AdminID() != sn.Service.AdminID():
			s.reg.Exchange(k, sn.Service)
		case !reflect.DeepEqual(prev, sn.Service):
			s.reg.Register(sn.Service)
		}
	}
	for _, svc := range s.reg.All() {
		if !svc.New && !inGraph[svc.Key()] {
			s.reg.Remove(svc.Key())
		}
	}
	return nil
}

// AddNewService adds a service created locally. It gets an id from the
// registry if it has none and stays in the graph until the cluster reports
// it or it is removed.
func (s *ServiceGraph) AddNewService(ctx context.Context, svc registry.Service, host string) (registry.Service, error) {
	svc.New = true
	svc = s.reg.Register(svc)
	_, err := s.g.UpsertVertex(ctx, graph.ServiceNode{
		Service: svc,
		Host:    host,
		State:   parse.StateUnknown,
	}, false)
	if err != nil {
		s.reg.Remove(svc.Key())
		return registry.Service{}, err
	}
	return svc, nil
}

// RemoveNewService drops a local service that was never reported by the
// cluster.
func (s *ServiceGraph) RemoveNewService(ctx context.Context, k parse.ServiceKey) error {
	svc, ok := s.reg.ByKey(k)
	if !ok || !svc.New {
		return errors.Wrap(graph.ErrNotFound, "", j.KV("service", k.String()))
	}
	if err := s.g.RemoveVertex(ctx, graph.ServiceKey(k)); err != nil {
		return err
	}
	s.reg.Remove(k)
	return nil
}

func (s *ServiceGraph) AddPlaceholder(ctx context.Context) (graph.PlaceholderNode, error) {
	ph := graph.PlaceholderNode{ID: uuid.NewString()}
	if _, err := s.g.UpsertVertex(ctx, ph, false); err != nil {
		return graph.PlaceholderNode{}, err
	}
	return ph, nil
}

func (s *ServiceGraph) RemovePlaceholder(ctx context.Context, id string) error {
	return s.g.RemoveVertex(ctx, graph.PlaceholderNode{ID: id}.Key())
}

// AddLocalConstraint adds a constraint created interactively, refusing one
// that would make child an ancestor of itself.
func (s *ServiceGraph) AddLocalConstraint(ctx context.Context, parent, child graph.ObjectKey, tag graph.Tag) error {
	_, err := s.g.AddDependency(ctx, parent, child, tag)
	return err
}

// TearDownHost removes the host's vertex and ends any dry run, once the
// host's pollers have stopped.
func (s *ServiceGraph) TearDownHost(ctx context.Context, host string) error {
	if err := s.dryRun.End(ctx); err != nil {
		return err
	}
	if err := s.g.RemoveVertex(ctx, graph.HostKey(host)); err != nil {
		return err
	}
	_, _, err := s.g.KillOrphans(ctx)
	return err
}

// StorageGraph holds hosts and the replicated volumes on them, joined by
// replication edges.
type StorageGraph struct {
	syncedGraph
}

func NewStorageGraph(pos PositionStore, opts ...graph.Option) *StorageGraph {
	return &StorageGraph{syncedGraph{g: graph.New(StorageGraphName, opts...), pos: pos}}
}

func (s *StorageGraph) Sync(ctx context.Context, statuses map[string]*parse.StorageStatus) error {
	return s.sync(ctx, func(v graph.View) []graph.Mutation {
		return ReconcileStorage(v, statuses)
	})
}

// TearDownHost removes the host and its volumes.
func (s *StorageGraph) TearDownHost(ctx context.Context, host string) error {
	view, err := s.g.View(ctx)
	if err != nil {
		return err
	}
	muts := []graph.Mutation{graph.Remove(graph.HostKey(host))}
	for _, v := range view.Vertices {
		if vol, ok := v.Object.(graph.StorageVolumeNode); ok && vol.Host == host {
			muts = append(muts, graph.Remove(vol.Key()))
		}
	}
	_, err = s.g.Apply(ctx, muts)
	return err
}
