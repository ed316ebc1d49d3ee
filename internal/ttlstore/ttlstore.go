// Package ttlstore provides a concurrency-safe keyed table with TTL
// expiry and an optional LRU bound. It is the shared backing store for
// the quota windows, conversation memory, and the response cache, so
// each of those stays a thin policy layer instead of carrying its own
// map, lock, and cleanup loop.
package ttlstore

import (
	"container/list"
	"context"
	"hash/fnv"
	"sync"
	"time"
)

const numShards = 16

// Options configures a Table.
type Options struct {
	// TTL is the entry lifetime. Zero disables expiry.
	TTL time.Duration

	// MaxEntries bounds the table size; when exceeded, least recently
	// used entries are evicted. Zero means unbounded. The bound is
	// distributed across shards, so the effective capacity is
	// approximate for small values.
	MaxEntries int

	// TouchOnGet extends an entry's lifetime on read, making TTL an
	// idle timeout rather than an absolute age.
	TouchOnGet bool

	// Now overrides the clock. Nil means time.Now.
	Now func() time.Time
}

// Table is a sharded map of string keys to values of type V.
// All operations on a single key are serialized by its shard lock;
// operations on keys in different shards proceed independently.
type Table[V any] struct {
	shards     [numShards]shard[V]
	ttl        time.Duration
	perShard   int
	touchOnGet bool
	now        func() time.Time
}

type shard[V any] struct {
	mu      sync.Mutex
	entries map[string]*list.Element
	order   *list.List // front = most recently used
}

type entry[V any] struct {
	key     string
	val     V
	expires time.Time // zero means no expiry
}

// New creates a Table with the given options.
func New[V any](opts Options) *Table[V] {
	now := opts.Now
	if now == nil {
		now = time.Now
	}
	perShard := 0
	if opts.MaxEntries > 0 {
		perShard = (opts.MaxEntries + numShards - 1) / numShards
	}
	t := &Table[V]{
		ttl:        opts.TTL,
		perShard:   perShard,
		touchOnGet: opts.TouchOnGet,
		now:        now,
	}
	for i := range t.shards {
		t.shards[i].entries = make(map[string]*list.Element)
		t.shards[i].order = list.New()
	}
	return t
}

func (t *Table[V]) shardFor(key string) *shard[V] {
	h := fnv.New32a()
	h.Write([]byte(key))
	return &t.shards[h.Sum32()%numShards]
}

func (t *Table[V]) expired(e *entry[V], now time.Time) bool {
	return !e.expires.IsZero() && !now.Before(e.expires)
}

// Get returns the live value for key. Expired entries are removed and
// reported as absent.
func (t *Table[V]) Get(key string) (V, bool) {
	var zero V
	s := t.shardFor(key)
	now := t.now()

	s.mu.Lock()
	defer s.mu.Unlock()

	el, ok := s.entries[key]
	if !ok {
		return zero, false
	}
	e := el.Value.(*entry[V])
	if t.expired(e, now) {
		s.order.Remove(el)
		delete(s.entries, key)
		return zero, false
	}
	s.order.MoveToFront(el)
	if t.touchOnGet && t.ttl > 0 {
		e.expires = now.Add(t.ttl)
	}
	return e.val, true
}

// Put inserts or overwrites the value for key, resetting its lifetime.
func (t *Table[V]) Put(key string, val V) {
	s := t.shardFor(key)
	now := t.now()

	s.mu.Lock()
	defer s.mu.Unlock()
	s.put(t, key, val, now)
}

// put stores under an already-held shard lock.
func (s *shard[V]) put(t *Table[V], key string, val V, now time.Time) {
	var expires time.Time
	if t.ttl > 0 {
		expires = now.Add(t.ttl)
	}
	if el, ok := s.entries[key]; ok {
		e := el.Value.(*entry[V])
		e.val = val
		e.expires = expires
		s.order.MoveToFront(el)
		return
	}
	el := s.order.PushFront(&entry[V]{key: key, val: val, expires: expires})
	s.entries[key] = el

	if t.perShard > 0 {
		for len(s.entries) > t.perShard {
			oldest := s.order.Back()
			if oldest == nil {
				break
			}
			s.order.Remove(oldest)
			delete(s.entries, oldest.Value.(*entry[V]).key)
		}
	}
}

// Update atomically applies fn to the value for key. fn receives the
// current live value (the zero value with ok=false when the key is
// absent or expired) and returns the replacement plus keep=false to
// delete the key instead. The whole read-modify-write runs under the
// key's shard lock.
func (t *Table[V]) Update(key string, fn func(val V, ok bool) (V, bool)) {
	s := t.shardFor(key)
	now := t.now()

	s.mu.Lock()
	defer s.mu.Unlock()

	var cur V
	live := false
	if el, ok := s.entries[key]; ok {
		e := el.Value.(*entry[V])
		if t.expired(e, now) {
			s.order.Remove(el)
			delete(s.entries, key)
		} else {
			cur = e.val
			live = true
		}
	}

	next, keep := fn(cur, live)
	if !keep {
		if el, ok := s.entries[key]; ok {
			s.order.Remove(el)
			delete(s.entries, key)
		}
		return
	}
	s.put(t, key, next, now)
}

// Delete removes key if present.
func (t *Table[V]) Delete(key string) {
	s := t.shardFor(key)
	s.mu.Lock()
	defer s.mu.Unlock()
	if el, ok := s.entries[key]; ok {
		s.order.Remove(el)
		delete(s.entries, key)
	}
}

// Len returns the number of stored entries, including any that have
// expired but not yet been swept.
func (t *Table[V]) Len() int {
	n := 0
	for i := range t.shards {
		s := &t.shards[i]
		s.mu.Lock()
		n += len(s.entries)
		s.mu.Unlock()
	}
	return n
}

// Sweep removes all expired entries and returns how many were dropped.
func (t *Table[V]) Sweep() int {
	now := t.now()
	dropped := 0
	for i := range t.shards {
		s := &t.shards[i]
		s.mu.Lock()
		for el := s.order.Back(); el != nil; {
			prev := el.Prev()
			e := el.Value.(*entry[V])
			if t.expired(e, now) {
				s.order.Remove(el)
				delete(s.entries, e.key)
				dropped++
			}
			el = prev
		}
		s.mu.Unlock()
	}
	return dropped
}

// Run sweeps expired entries at the given interval until ctx is
// cancelled. Intended to be started as a goroutine at process start.
func (t *Table[V]) Run(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = time.Minute
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			t.Sweep()
		}
	}
}
