package ops

import (
	"bytes"
	"context"
	"flag"
	"os"
	"path/filepath"
	"sync"

	"github.com/gomodule/redigo/redis"
	"github.com/luno/jettison/errors"
	"github.com/luno/jettison/j"
	"gopkg.in/yaml.v3"

	"github.com/luno/clustermap/server/db"
	"github.com/luno/clustermap/server/graph"
)

var positionsFile = flag.String("positions_file", "", "YAML file to keep vertex positions in when redis is not configured")

// PositionStore keeps the advisory vertex positions of one graph.
type PositionStore interface {
	Get(ctx context.Context, key graph.ObjectKey) (graph.Point, bool, error)
	Save(ctx context.Context, pos map[graph.ObjectKey]graph.Point) error
}

// OpenPositions picks the position store for a graph: redis when a pool is
// given, else the positions file, else memory.
func OpenPositions(pool *redis.Pool, cluster, graphName string) PositionStore {
	switch {
	case pool != nil:
		return NewRedisPositions(pool, cluster, graphName)
	case *positionsFile != "":
		return NewFilePositions(*positionsFile, graphName)
	default:
		return NewMemPositions()
	}
}

type RedisPositions struct {
	pool *redis.Pool
	key  db.PositionsKey
}

func NewRedisPositions(pool *redis.Pool, cluster, graphName string) *RedisPositions {
	return &RedisPositions{pool: pool, key: db.PositionsKey{Cluster: cluster, Graph: graphName}}
}

func (r *RedisPositions) Get(ctx context.Context, key graph.ObjectKey) (graph.Point, bool, error) {
	conn, err := r.pool.GetContext(ctx)
	if err != nil {
		return graph.Point{}, false, errors.Wrap(err, "")
	}
	defer conn.Close()
	return db.GetPosition(ctx, conn, r.key, key)
}

func (r *RedisPositions) Save(ctx context.Context, pos map[graph.ObjectKey]graph.Point) error {
	conn, err := r.pool.GetContext(ctx)
	if err != nil {
		return errors.Wrap(err, "")
	}
	defer conn.Close()
	return db.StorePositions(ctx, conn, r.key, pos)
}

type point struct {
	X float64 `yaml:"x"`
	Y float64 `yaml:"y"`
}

// FilePositions keeps positions in a YAML file shared by every graph, one
// top level key per graph.
type FilePositions struct {
	path  string
	graph string
}

var fileMu sync.Mutex

func NewFilePositions(path, graphName string) *FilePositions {
	return &FilePositions{path: path, graph: graphName}
}

func (f *FilePositions) read() (map[string]map[graph.ObjectKey]point, error) {
	b, err := os.ReadFile(f.path)
	if errors.Is(err, os.ErrNotExist) {
		return make(map[string]map[graph.ObjectKey]point), nil
	} else if err != nil {
		return nil, errors.Wrap(err, "read positions", j.KV("path", f.path))
	}
	all := make(map[string]map[graph.ObjectKey]point)
	if err := yaml.Unmarshal(b, &all); err != nil {
		return nil, errors.Wrap(err, "decode positions", j.KV("path", f.path))
	}
	return all, nil
}

func (f *FilePositions) Get(_ context.Context, key graph.ObjectKey) (graph.Point, bool, error) {
	fileMu.Lock()
	defer fileMu.Unlock()

	all, err := f.read()
	if err != nil {
		return graph.Point{}, false, err
	}
	p, ok := all[f.graph][key]
	return graph.Point{X: p.X, Y: p.Y}, ok, nil
}

func (f *FilePositions) Save(_ context.Context, pos map[graph.ObjectKey]graph.Point) error {
	if len(pos) == 0 {
		return nil
	}
	fileMu.Lock()
	defer fileMu.Unlock()

	all, err := f.read()
	if err != nil {
		return err
	}
	g := all[f.graph]
	if g == nil {
		g = make(map[graph.ObjectKey]point)
		all[f.graph] = g
	}
	for k, p := range pos {
		g[k] = point{X: p.X, Y: p.Y}
	}

	var buf bytes.Buffer
	enc := yaml.NewEncoder(&buf)
	enc.SetIndent(2)
	if err := enc.Encode(all); err != nil {
		return errors.Wrap(err, "encode positions")
	}
	tmp, err := os.CreateTemp(filepath.Dir(f.path), ".positions-*")
	if err != nil {
		return errors.Wrap(err, "write positions", j.KV("path", f.path))
	}
	defer os.Remove(tmp.Name())
	if _, err := tmp.Write(buf.Bytes()); err != nil {
		_ = tmp.Close()
		return errors.Wrap(err, "write positions", j.KV("path", f.path))
	}
	if err := tmp.Close(); err != nil {
		return errors.Wrap(err, "write positions", j.KV("path", f.path))
	}
	return errors.Wrap(os.Rename(tmp.Name(), f.path), "write positions", j.KV("path", f.path))
}

type MemPositions struct {
	mu  sync.RWMutex
	pos map[graph.ObjectKey]graph.Point
}

func NewMemPositions() *MemPositions {
	return &MemPositions{pos: make(map[graph.ObjectKey]graph.Point)}
}

func (m *MemPositions) Get(_ context.Context, key graph.ObjectKey) (graph.Point, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	p, ok := m.pos[key]
	return p, ok, nil
}

func (m *MemPositions) Save(_ context.Context, pos map[graph.ObjectKey]graph.Point) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for k, p := range pos {
		m.pos[k] = p
	}
	return nil
}

var (
	_ PositionStore = (*RedisPositions)(nil)
	_ PositionStore = (*FilePositions)(nil)
	_ PositionStore = (*MemPositions)(nil)
)
