// Package snapshot holds the latest successfully parsed status of every
// (host, kind) pair. Each key has a single writer, the poller that owns it,
// and any number of readers. Values are published by swapping a pointer so
// a reader sees either the previous value or the new one, never a mix.
package snapshot

import (
	"sync"
	"sync/atomic"
	"time"
)

type Kind string

const (
	KindConnectivity Kind = "connectivity"
	KindStorage      Kind = "storage"
	KindCluster      Kind = "cluster"
)

type Key struct {
	Host string
	Kind Kind
}

type Entry[T any] struct {
	Seq         uint64
	Value       T
	PublishedAt time.Time
}

type slot[T any] struct {
	p atomic.Pointer[Entry[T]]
}

type Store[T any] struct {
	slots sync.Map // Key -> *slot[T]
	now   func() time.Time
}

func NewStore[T any]() *Store[T] {
	return &Store[T]{now: time.Now}
}

func (s *Store[T]) slot(k Key) *slot[T] {
	if v, ok := s.slots.Load(k); ok {
		return v.(*slot[T])
	}
	v, _ := s.slots.LoadOrStore(k, new(slot[T]))
	return v.(*slot[T])
}

// Publish makes v the current value for k. It returns false and leaves the
// current value in place if seq is not newer than the published one.
func (s *Store[T]) Publish(k Key, seq uint64, v T) bool {
	sl := s.slot(k)
	next := &Entry[T]{Seq: seq, Value: v, PublishedAt: s.now()}
	for {
		cur := sl.p.Load()
		if cur != nil && cur.Seq >= seq {
			return false
		}
		if sl.p.CompareAndSwap(cur, next) {
			return true
		}
	}
}

func (s *Store[T]) Read(k Key) (Entry[T], bool) {
	v, ok := s.slots.Load(k)
	if !ok {
		return Entry[T]{}, false
	}
	e := v.(*slot[T]).p.Load()
	if e == nil {
		return Entry[T]{}, false
	}
	return *e, true
}

// Latest returns the most recently published entry of the given kind across
// all hosts, along with the host that published it.
func (s *Store[T]) Latest(kind Kind) (string, Entry[T], bool) {
	var (
		host  string
		best  *Entry[T]
		found bool
	)
	s.slots.Range(func(key, value any) bool {
		k := key.(Key)
		if k.Kind != kind {
			return true
		}
		e := value.(*slot[T]).p.Load()
		if e == nil {
			return true
		}
		if !found || e.PublishedAt.After(best.PublishedAt) {
			host, best, found = k.Host, e, true
		}
		return true
	})
	if !found {
		return "", Entry[T]{}, false
	}
	return host, *best, true
}

// All returns the current entry for every host that has published the kind.
func (s *Store[T]) All(kind Kind) map[string]Entry[T] {
	ret := make(map[string]Entry[T])
	s.slots.Range(func(key, value any) bool {
		k := key.(Key)
		if k.Kind != kind {
			return true
		}
		if e := value.(*slot[T]).p.Load(); e != nil {
			ret[k.Host] = *e
		}
		return true
	})
	return ret
}

// Forget drops every key of the host. Only call it once the host's pollers
// have stopped.
func (s *Store[T]) Forget(host string) {
	s.slots.Range(func(key, _ any) bool {
		if key.(Key).Host == host {
			s.slots.Delete(key)
		}
		return true
	})
}
