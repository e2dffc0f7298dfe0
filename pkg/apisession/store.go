// Package apisession keeps per-client state for API handlers. Clients identify
// themselves with an opaque session ID, typically a UUID.
package apisession

import (
	"sort"
	"sync"
	"time"
)

// cleanupInterval is how often Get() triggers lazy eviction of expired entries.
const cleanupInterval = 100

type entry[T any] struct {
	value      *T
	lastAccess time.Time
}

// Store is a typed, thread-safe session store. Each unique session ID maps to
// one instance of T, created on first access via the newFn factory.
// The store only guards the map; callers synchronize access to T.
type Store[T any] struct {
	mu       sync.Mutex
	entries  map[string]*entry[T]
	ttl      time.Duration
	max      int
	newFn    func(id string) *T
	onEvict  func(id string, v *T)
	getCalls int
	now      func() time.Time
}

// Options configures a Store.
type Options[T any] struct {
	// TTL evicts sessions inactive for longer. Zero keeps sessions forever.
	TTL time.Duration
	// Max caps the number of sessions; the least recently used one is
	// evicted to make room. Zero is unbounded.
	Max int
	// OnEvict is called, with the store lock held, for every evicted session.
	OnEvict func(id string, v *T)
}

// New creates a Store. newFn initialises the state of a session ID seen for
// the first time.
func New[T any](newFn func(id string) *T, opts Options[T]) *Store[T] {
	return &Store[T]{
		entries: make(map[string]*entry[T]),
		ttl:     opts.TTL,
		max:     opts.Max,
		newFn:   newFn,
		onEvict: opts.OnEvict,
		now:     time.Now,
	}
}

// Get returns the state for the given session, creating it if needed.
// Each call refreshes the session's last-access timestamp.
func (s *Store[T]) Get(id string) *T {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.getCalls++
	if s.getCalls%cleanupInterval == 0 {
		s.cleanupLocked()
	}

	e, ok := s.entries[id]
	if !ok {
		if s.max > 0 && len(s.entries) >= s.max {
			s.evictOldestLocked()
		}
		e = &entry[T]{value: s.newFn(id)}
		s.entries[id] = e
	}
	e.lastAccess = s.now()
	return e.value
}

// Cleanup evicts all sessions that have been inactive longer than the TTL and
// returns how many were removed.
func (s *Store[T]) Cleanup() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cleanupLocked()
}

func (s *Store[T]) cleanupLocked() int {
	if s.ttl <= 0 {
		return 0
	}
	cutoff := s.now().Add(-s.ttl)
	n := 0
	for id, e := range s.entries {
		if e.lastAccess.Before(cutoff) {
			s.evictLocked(id, e)
			n++
		}
	}
	return n
}

func (s *Store[T]) evictOldestLocked() {
	var oldestID string
	var oldest *entry[T]
	for id, e := range s.entries {
		if oldest == nil || e.lastAccess.Before(oldest.lastAccess) {
			oldestID, oldest = id, e
		}
	}
	if oldest != nil {
		s.evictLocked(oldestID, oldest)
	}
}

func (s *Store[T]) evictLocked(id string, e *entry[T]) {
	delete(s.entries, id)
	if s.onEvict != nil {
		s.onEvict(id, e.value)
	}
}

// Each calls fn for every session in ID order. fn must not call back into the store.
func (s *Store[T]) Each(fn func(id string, v *T)) {
	s.mu.Lock()
	defer s.mu.Unlock()

	ids := make([]string, 0, len(s.entries))
	for id := range s.entries {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	for _, id := range ids {
		fn(id, s.entries[id].value)
	}
}

// Len returns the number of active sessions.
func (s *Store[T]) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.entries)
}
