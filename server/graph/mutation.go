package graph

import (
	"context"

	"github.com/luno/jettison/errors"
	"github.com/luno/jettison/j"
	"github.com/luno/jettison/log"
)

type Op int

const (
	OpUpsertVertex Op = iota + 1
	OpRemoveVertex
	OpAddTag
	OpRemoveTag
)

func (o Op) String() string {
	switch o {
	case OpUpsertVertex:
		return "upsert_vertex"
	case OpRemoveVertex:
		return "remove_vertex"
	case OpAddTag:
		return "add_tag"
	case OpRemoveTag:
		return "remove_tag"
	default:
		return "unknown"
	}
}

// Mutation is a single graph edit, as produced by the reconcilers.
type Mutation struct {
	Op Op

	// OpUpsertVertex
	Object   Object
	Present  bool
	Position *Point

	// OpRemoveVertex
	Key ObjectKey

	// OpAddTag, OpRemoveTag
	From, To ObjectKey
	Tag      Tag
}

func Upsert(obj Object, present bool) Mutation {
	return Mutation{Op: OpUpsertVertex, Object: obj, Present: present}
}

// At sets the position used if the upsert creates the vertex.
func (m Mutation) At(p Point) Mutation {
	m.Position = &p
	return m
}

func Remove(key ObjectKey) Mutation {
	return Mutation{Op: OpRemoveVertex, Key: key}
}

func AddTag(from, to ObjectKey, tag Tag) Mutation {
	return Mutation{Op: OpAddTag, From: from, To: to, Tag: tag}
}

func RemoveTag(from, to ObjectKey, tag Tag) Mutation {
	return Mutation{Op: OpRemoveTag, From: from, To: to, Tag: tag}
}

type ApplyResult struct {
	// Changed counts mutations that altered the graph, by op.
	Changed map[Op]int
	// Skipped counts mutations rejected as invariant violations.
	Skipped int
}

// Apply applies the mutations in order, each under its own lock
// acquisition. A mutation that would break an invariant is logged and
// skipped. If the lock cannot be taken, Apply stops and returns
// ErrLockTimeout with the mutations before it applied.
func (g *Graph) Apply(ctx context.Context, muts []Mutation) (ApplyResult, error) {
	res := ApplyResult{Changed: make(map[Op]int)}
	var committed bool
	defer func() {
		if committed {
			g.notify()
		}
	}()

	for _, m := range muts {
		if err := g.lock.Lock(ctx); err != nil {
			return res, err
		}
		changed, err := g.apply(m)
		if changed {
			g.version.Add(1)
		}
		g.lock.Unlock()

		if err != nil {
			log.Error(ctx, errors.Wrap(err, "skipped graph mutation", j.MKV{
				"graph": g.name,
				"op":    m.Op.String(),
			}))
			res.Skipped++
			continue
		}
		if changed {
			res.Changed[m.Op]++
			committed = true
		}
	}
	return res, nil
}

func (g *Graph) apply(m Mutation) (bool, error) {
	switch m.Op {
	case OpUpsertVertex:
		return g.upsert(m)
	case OpRemoveVertex:
		return g.removeVertex(m.Key), nil
	case OpAddTag:
		return g.addTag(m.From, m.To, m.Tag, false)
	case OpRemoveTag:
		return g.removeTag(m.From, m.To, m.Tag), nil
	default:
		return false, errors.Wrap(ErrInvariant, "unknown op", j.KV("op", int(m.Op)))
	}
}

// AddTestVertex adds a dry-run vertex for obj unless a vertex for its key
// already exists. It reports whether a vertex was created.
func (g *Graph) AddTestVertex(ctx context.Context, obj Object) (bool, error) {
	var created bool
	err := g.write(ctx, func() (bool, error) {
		if _, ok := g.byKey[obj.Key()]; ok {
			return false, nil
		}
		v := g.createVertex(obj)
		v.testOnly = true
		created = true
		return true, nil
	})
	return created, err
}

// AddTestTag adds a dry-run tag between two vertices. The real tags of an
// existing edge are untouched.
func (g *Graph) AddTestTag(ctx context.Context, from, to ObjectKey, tag Tag) error {
	return g.write(ctx, func() (bool, error) {
		return g.addTag(from, to, tag, true)
	})
}

// ClearTest removes every dry-run tag, edge and vertex. Dry-run objects that
// real mutations have since claimed are kept as real.
func (g *Graph) ClearTest(ctx context.Context) error {
	return g.write(ctx, func() (bool, error) {
		var changed bool
		for _, e := range g.edges {
			if e.testTags == 0 && !e.testOnly {
				continue
			}
			changed = true
			e.testTags = 0
			e.testOnly = false
			if e.tags == 0 {
				g.deleteEdge(e)
			}
		}
		for _, v := range g.vertices {
			if v.testOnly {
				g.deleteVertex(v)
				changed = true
			}
		}
		return changed, nil
	})
}
