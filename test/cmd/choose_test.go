package main

import (
	"bytes"
	"context"
	"math/rand"
	"strings"
	"testing"
	"time"

	"github.com/luno/jettison/jtest"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/luno/clustermap/server/parse"
)

func TestChooseWeighted(t *testing.T) {
	r := rand.New(rand.NewSource(1))
	assert.Equal(t, "", ChooseWeighted(r, map[string]int{}))
	assert.Equal(t, "a", ChooseWeighted(r, map[string]int{"a": 1, "b": 0}))

	counts := make(map[string]int)
	for range 1000 {
		counts[ChooseWeighted(r, map[string]int{"a": 9, "b": 1})]++
	}
	assert.Greater(t, counts["a"], counts["b"])
}

func newFake(host string) fake {
	return fake{
		host:  host,
		hosts: []string{"node1", "node2", "node3"},
		r:     rand.New(rand.NewSource(1)),
	}
}

func TestFakeClusterParses(t *testing.T) {
	*failRate = 0
	*interval = time.Millisecond
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	var out bytes.Buffer
	err := newFake("node1").run(ctx, "cluster", &out)
	jtest.Require(t, context.DeadlineExceeded, err)

	frames := parse.SplitFrames(out.Bytes())
	require.NotEmpty(t, frames)
	for _, f := range frames {
		st, err := parse.ParseClusterStatus(f)
		jtest.RequireNil(t, err)
		assert.Len(t, st.Hosts, 3)
		assert.Len(t, st.Resources, len(services))
	}
}

func TestFakeStorageParses(t *testing.T) {
	*failRate = 0
	var out bytes.Buffer
	jtest.RequireNil(t, newFake("node2").run(context.Background(), "storage", &out))

	st, err := parse.ParseStorageStatus(out.Bytes())
	jtest.RequireNil(t, err)
	assert.True(t, st.Loaded)
	require.Len(t, st.Links, 2)
	for k, l := range st.Links {
		assert.NotEqual(t, "node2", l.Peer, k.String())
	}

	ev, ok := parse.ParseStorageEvent(strings.TrimSpace(newFake("node2").storageEvent()))
	assert.True(t, ok)
	assert.NotZero(t, ev.Type)
}

func TestFakeUnknownCommand(t *testing.T) {
	err := newFake("node1").run(context.Background(), "nope", &bytes.Buffer{})
	assert.Error(t, err)
}
