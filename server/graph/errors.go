package graph

import (
	"github.com/luno/jettison/errors"
	"github.com/luno/jettison/j"
)

var (
	// ErrLockTimeout means the graph lock could not be taken in time. The
	// operation had no effect and can be retried.
	ErrLockTimeout = errors.New("graph lock timeout", j.C("ERR_c2d07a5f19e84b36"))

	// ErrInvariant rejects a single mutation that would break the graph,
	// such as an edge to a vertex that does not exist.
	ErrInvariant = errors.New("graph invariant violation", j.C("ERR_5a1e93b7d40c62f8"))

	ErrNotFound = errors.New("graph object not found", j.C("ERR_f7b3c8e2a9165d04"))

	// ErrCycle rejects a constraint whose child is already an ancestor of
	// its parent.
	ErrCycle = errors.New("constraint would create a cycle", j.C("ERR_b5e07c2d9f4316a8"))
)
