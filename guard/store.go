// Package guard provides small bounded-resource primitives keyed by string:
// a fixed-window rate limiter and a TTL-bounded counter.
//
// Both share one eviction discipline. Keys live in an index plus an intrusive
// recency list; touching a key moves it to the back of the list, and once the
// number of keys exceeds the configured ceiling the least recently touched key
// is evicted from the front. Expired entries are swept at most once per prune
// interval, so the amortized cost of a call stays O(1).
//
// The types are not safe for concurrent use. They assume a single writer;
// callers that share one across goroutines must serialize access.
package guard

import (
	"time"

	list "github.com/bahlo/generic-list-go"
)

// DefaultMaxKeys is the key ceiling used when a config leaves MaxKeys unset.
const DefaultMaxKeys = 5000

type entry[V any] struct {
	value V
	key   string
}

// store is a capacity- and time-bounded map from key to V.
type store[V any] struct {
	index     map[string]*list.Element[*entry[V]]
	recency   *list.List[*entry[V]]
	lastSweep time.Time
	maxKeys   int
	interval  time.Duration
}

func newStore[V any](maxKeys int, interval time.Duration) *store[V] {
	if maxKeys <= 0 {
		maxKeys = DefaultMaxKeys
	}
	return &store[V]{
		index:    make(map[string]*list.Element[*entry[V]]),
		recency:  list.New[*entry[V]](),
		maxKeys:  maxKeys,
		interval: interval,
	}
}

// get returns the entry for key and marks it most recently used.
func (s *store[V]) get(key string) (*entry[V], bool) {
	el, ok := s.index[key]
	if !ok {
		return nil, false
	}
	s.recency.MoveToBack(el)
	return el.Value, true
}

// put inserts a new entry as the most recently used key, evicting from the
// front while the store is over capacity.
func (s *store[V]) put(key string, value V) *entry[V] {
	if el, ok := s.index[key]; ok {
		el.Value.value = value
		s.recency.MoveToBack(el)
		return el.Value
	}
	e := &entry[V]{key: key, value: value}
	s.index[key] = s.recency.PushBack(e)
	for len(s.index) > s.maxKeys {
		s.evictOldest()
	}
	return e
}

func (s *store[V]) evictOldest() {
	front := s.recency.Front()
	if front == nil {
		return
	}
	delete(s.index, front.Value.key)
	s.recency.Remove(front)
}

// sweep removes every entry for which expired reports true. It is a no-op
// unless at least one prune interval has elapsed since the previous sweep.
func (s *store[V]) sweep(now time.Time, expired func(V) bool) {
	if s.interval <= 0 || expired == nil {
		return
	}
	if !s.lastSweep.IsZero() && now.Sub(s.lastSweep) < s.interval {
		return
	}
	s.lastSweep = now
	for el := s.recency.Front(); el != nil; {
		next := el.Next()
		if expired(el.Value.value) {
			delete(s.index, el.Value.key)
			s.recency.Remove(el)
		}
		el = next
	}
}

func (s *store[V]) size() int {
	return len(s.index)
}

func (s *store[V]) clear() {
	s.index = make(map[string]*list.Element[*entry[V]])
	s.recency.Init()
	s.lastSweep = time.Time{}
}
