package ops

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/gomodule/redigo/redis"
	"github.com/luno/jettison/jtest"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/luno/clustermap/server/graph"
)

func redisPositions(t *testing.T, cluster, graphName string) (*miniredis.Miniredis, PositionStore) {
	t.Helper()
	s := miniredis.RunT(t)
	pool := newPool(func(ctx context.Context) (redis.Conn, error) {
		return redis.DialContext(ctx, "tcp", s.Addr())
	})
	t.Cleanup(func() { _ = pool.Close() })
	return s, NewRedisPositions(pool, cluster, graphName)
}

func TestPositionStores(t *testing.T) {
	dir := t.TempDir()
	testCases := []struct {
		name  string
		store func(t *testing.T) PositionStore
	}{
		{name: "memory", store: func(*testing.T) PositionStore { return NewMemPositions() }},
		{name: "file", store: func(*testing.T) PositionStore {
			return NewFilePositions(filepath.Join(dir, "positions.yaml"), ServicesGraphName)
		}},
		{name: "redis", store: func(t *testing.T) PositionStore {
			_, s := redisPositions(t, "prod", ServicesGraphName)
			return s
		}},
	}
	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			ctx := context.Background()
			s := tc.store(t)

			_, ok, err := s.Get(ctx, "host/node1")
			jtest.RequireNil(t, err)
			assert.False(t, ok)

			jtest.RequireNil(t, s.Save(ctx, map[graph.ObjectKey]graph.Point{
				"host/node1":     {X: 10, Y: 20},
				"svc/cl_web:web": {X: -1.5, Y: 3},
			}))
			jtest.RequireNil(t, s.Save(ctx, map[graph.ObjectKey]graph.Point{
				"host/node1": {X: 11, Y: 21},
			}))

			p, ok, err := s.Get(ctx, "host/node1")
			jtest.RequireNil(t, err)
			require.True(t, ok)
			assert.Equal(t, graph.Point{X: 11, Y: 21}, p)

			p, ok, err = s.Get(ctx, "svc/cl_web:web")
			jtest.RequireNil(t, err)
			require.True(t, ok)
			assert.Equal(t, graph.Point{X: -1.5, Y: 3}, p)
		})
	}
}

func TestFilePositionsSharedFile(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "positions.yaml")
	services := NewFilePositions(path, ServicesGraphName)
	storage := NewFilePositions(path, StorageGraphName)

	jtest.RequireNil(t, services.Save(ctx, map[graph.ObjectKey]graph.Point{"host/a": {X: 1, Y: 2}}))
	jtest.RequireNil(t, storage.Save(ctx, map[graph.ObjectKey]graph.Point{"host/a": {X: 3, Y: 4}}))

	p, ok, err := services.Get(ctx, "host/a")
	jtest.RequireNil(t, err)
	require.True(t, ok)
	assert.Equal(t, graph.Point{X: 1, Y: 2}, p)

	p, ok, err = storage.Get(ctx, "host/a")
	jtest.RequireNil(t, err)
	require.True(t, ok)
	assert.Equal(t, graph.Point{X: 3, Y: 4}, p)

	entries, err := os.ReadDir(filepath.Dir(path))
	jtest.RequireNil(t, err)
	assert.Len(t, entries, 1)
}

func TestFilePositionsCorrupt(t *testing.T) {
	path := filepath.Join(t.TempDir(), "positions.yaml")
	require.NoError(t, os.WriteFile(path, []byte("services: [1, 2"), 0o644))

	_, _, err := NewFilePositions(path, ServicesGraphName).Get(context.Background(), "host/a")
	assert.Error(t, err)
}

func TestRedisPositionsScoped(t *testing.T) {
	ctx := context.Background()
	s, prod := redisPositions(t, "prod", ServicesGraphName)

	jtest.RequireNil(t, prod.Save(ctx, map[graph.ObjectKey]graph.Point{"host/a": {X: 1, Y: 2}}))
	assert.Equal(t, "1,2", s.HGet("clustermap.positions.prod.services", "host/a"))
}

func TestServiceGraphSavePositions(t *testing.T) {
	ctx := context.Background()
	pos := NewMemPositions()
	sg := NewServiceGraph(pos, 0)
	jtest.RequireNil(t, sg.Sync(ctx, status(t, "host node1 online")))
	jtest.RequireNil(t, sg.Graph().SetPosition(ctx, "host/node1", graph.Point{X: 7, Y: 8}))

	jtest.RequireNil(t, sg.SavePositions(ctx))
	p, ok, err := pos.Get(ctx, "host/node1")
	jtest.RequireNil(t, err)
	require.True(t, ok)
	assert.Equal(t, graph.Point{X: 7, Y: 8}, p)
}
