// Package cache deduplicates repeated questions so identical queries
// do not trigger redundant completion calls.
package cache

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strings"
	"time"

	"github.com/askgopher/askgopher/internal/ttlstore"
)

// Fingerprint derives the cache key for a question. The query text is
// case-folded and whitespace-collapsed so trivial reformulations hit
// the same entry. The knowledge generation is folded in so a knowledge
// base refresh implicitly invalidates every prior entry.
func Fingerprint(query string, knowledgeGen uint64) string {
	normalized := strings.Join(strings.Fields(strings.ToLower(query)), " ")
	sum := sha256.Sum256(fmt.Appendf(nil, "%d\x00%s", knowledgeGen, normalized))
	return hex.EncodeToString(sum[:])
}

// Entry is one cached answer.
type Entry struct {
	Response  string
	CreatedAt time.Time
	Hits      int
}

// Cache is a bounded LRU of fingerprinted answers with a TTL safety
// net: entries older than the TTL read as misses even if LRU pressure
// has not evicted them yet. The TTL is measured from creation; hits do
// not extend it.
type Cache struct {
	entries *ttlstore.Table[Entry]
	ttl     time.Duration
	now     func() time.Time
}

// New creates a Cache holding at most maxEntries answers for at most
// ttl each.
func New(maxEntries int, ttl time.Duration) *Cache {
	if maxEntries <= 0 {
		maxEntries = 512
	}
	if ttl <= 0 {
		ttl = time.Hour
	}
	return &Cache{
		// Age is enforced against Entry.CreatedAt below; the table TTL
		// only backs the periodic sweep.
		entries: ttlstore.New[Entry](ttlstore.Options{
			TTL:        ttl,
			MaxEntries: maxEntries,
		}),
		ttl: ttl,
		now: time.Now,
	}
}

// Lookup returns the cached response for a fingerprint, bumping its
// hit counter, or miss. Entries past their TTL are dropped and read as
// misses.
func (c *Cache) Lookup(fingerprint string) (string, bool) {
	var resp string
	hit := false
	now := c.now()
	c.entries.Update(fingerprint, func(e Entry, ok bool) (Entry, bool) {
		if !ok {
			return e, false
		}
		if now.Sub(e.CreatedAt) >= c.ttl {
			return e, false
		}
		e.Hits++
		resp = e.Response
		hit = true
		return e, true
	})
	return resp, hit
}

// Store saves a response under the fingerprint. Storing an existing
// fingerprint overwrites the previous entry.
func (c *Cache) Store(fingerprint, response string) {
	c.entries.Put(fingerprint, Entry{
		Response:  response,
		CreatedAt: c.now().UTC(),
	})
}

// Len returns the current entry count, counting not-yet-swept expired
// entries.
func (c *Cache) Len() int {
	return c.entries.Len()
}

// RunSweeper evicts expired entries at the given interval until ctx is
// cancelled.
func (c *Cache) RunSweeper(ctx context.Context, interval time.Duration) {
	c.entries.Run(ctx, interval)
}
