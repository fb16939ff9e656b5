package config

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/luno/jettison/jtest"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func defaults(c Config) Config {
	return c.withDefaults()
}

func TestDecodeConfig(t *testing.T) {
	testCases := []struct {
		name      string
		yaml      string
		expConfig Config
		expError  bool
	}{
		{name: "empty", expError: true},
		{name: "full",
			yaml: `
cluster: prod
hosts: [node1, node2]
remote: ["ssh", "-o", "BatchMode=yes", "{host}"]
commands:
  connectivity: "true"
  cluster: "status --stream"
  storage: "replication status"
intervals:
  cluster: 1s
backoff: {base: 500ms, max: 10s}
storage_hosts:
  - name: "node*"
lock_timeout: 1s
`,
			expConfig: defaults(Config{
				Cluster: "prod",
				Hosts:   []string{"node1", "node2"},
				Remote:  []string{"ssh", "-o", "BatchMode=yes", "{host}"},
				Commands: Commands{
					Connectivity: "true",
					Cluster:      "status --stream",
					Storage:      "replication status",
				},
				Intervals:    Intervals{Cluster: time.Second},
				Backoff:      Backoff{Base: 500 * time.Millisecond, Max: 10 * time.Second},
				StorageHosts: []Selector{{Name: "node*"}},
				LockTimeout:  time.Second,
			}),
		},
		{name: "unknown field",
			yaml: `
cluster: prod
clusters: [prod]
`,
			expError: true,
		},
		{name: "no commands",
			yaml:     `cluster: prod`,
			expError: true,
		},
		{name: "repeated host",
			yaml: `
cluster: prod
hosts: [a, a]
commands: {cluster: "status"}
`,
			expError: true,
		},
		{name: "events without status",
			yaml: `
cluster: prod
commands: {storage_events: "events"}
`,
			expError: true,
		},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			c, err := decodeConfig([]byte(tc.yaml))
			require.Equal(t, tc.expError, err != nil, "%v", err)
			if tc.expError {
				jtest.Require(t, ErrInvalid, err)
				return
			}
			assert.Equal(t, tc.expConfig, c)
		})
	}
}

func TestMatchWildcard(t *testing.T) {
	testCases := []struct {
		name     string
		s        string
		match    string
		expMatch bool
	}{
		{name: "empty doesn't match exact", s: "", match: "one", expMatch: false},
		{name: "empty matches empty", s: "", match: "", expMatch: true},
		{name: "empty matches *", s: "", match: "*", expMatch: true},
		{name: "exact match", s: "node1", match: "node1", expMatch: true},
		{name: "exact match on partial wildcard", s: "node", match: "node*", expMatch: true},
		{name: "exact non-match", s: "node2", match: "node1", expMatch: false},
		{name: "prefix match", s: "storage-a", match: "stor*", expMatch: true},
		{name: "prefix non-match", s: "stack", match: "stor*", expMatch: false},
		{name: "middle match", s: "db-primary-1", match: "*primary*", expMatch: true},
		{name: "multiple middle match", s: "dc1-db-rack2-node", match: "*db*rack*", expMatch: true},
		{name: "partial match", s: "dc1-db-rck2", match: "*db*rack*", expMatch: false},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.expMatch, matchWildcard(tc.s, tc.match))
		})
	}
}

func TestStorageEnabled(t *testing.T) {
	c := Config{Commands: Commands{Storage: "status"}}
	assert.True(t, c.StorageEnabled("anything"))

	c.StorageHosts = []Selector{{Name: "db*"}, {Prefix: "san-"}}
	assert.True(t, c.StorageEnabled("db1"))
	assert.True(t, c.StorageEnabled("san-3"))
	assert.False(t, c.StorageEnabled("web1"))

	c.Commands.Storage = ""
	assert.False(t, c.StorageEnabled("db1"))
}

func TestBackoffDelay(t *testing.T) {
	b := Backoff{Base: time.Second, Max: 10 * time.Second}
	assert.Equal(t, time.Duration(0), b.Delay(0))
	assert.Equal(t, time.Second, b.Delay(1))
	assert.Equal(t, 2*time.Second, b.Delay(2))
	assert.Equal(t, 8*time.Second, b.Delay(4))
	assert.Equal(t, 10*time.Second, b.Delay(5))
	assert.Equal(t, 10*time.Second, b.Delay(500))
}

func TestHostDiff(t *testing.T) {
	added, removed := HostDiff(
		Config{Hosts: []string{"a", "b", "c"}},
		Config{Hosts: []string{"c", "d", "b"}},
	)
	assert.Equal(t, []string{"d"}, added)
	assert.Equal(t, []string{"a"}, removed)
}

func TestWatch(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "cluster.yaml")
	write := func(s string) {
		require.NoError(t, os.WriteFile(path, []byte(s), 0o644))
	}
	write("cluster: prod\ncommands: {cluster: status}\nhosts: [a]\n")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	got := make(chan Config, 10)
	done := make(chan error, 1)
	go func() {
		done <- Watch(ctx, path, func(c Config) { got <- c })
	}()

	// The watcher may not be registered yet; keep writing until seen.
	deadline := time.After(5 * time.Second)
	tick := time.NewTicker(50 * time.Millisecond)
	defer tick.Stop()
	for {
		select {
		case c := <-got:
			if len(c.Hosts) != 2 {
				continue
			}
			assert.Equal(t, []string{"a", "b"}, c.Hosts)
			cancel()
			jtest.Require(t, context.Canceled, <-done)
			return
		case <-tick.C:
			write("cluster: prod\ncommands: {cluster: status}\nhosts: [a, b]\n")
		case <-deadline:
			t.Fatal("no reload seen")
		}
	}
}
