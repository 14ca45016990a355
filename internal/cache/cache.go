// Package cache holds the bounded in-memory view of the notification stream.
package cache

import (
	"sort"
	"sync"
	"time"

	"github.com/nhle/assetdash/internal/model"
)

// trimRatio is the fraction of maxSize kept after an eviction pass.
const trimRatio = 0.8

// DefaultMaxSize is used when a non-positive capacity is requested.
const DefaultMaxSize = 500

type entry struct {
	rec    model.Notification
	seenAt time.Time
	// seq orders upserts when two entries share a seenAt instant.
	seq uint64
}

// Option configures a Cache.
type Option func(*Cache)

// WithClock overrides the time source used to stamp entries.
func WithClock(now func() time.Time) Option {
	return func(c *Cache) {
		if now != nil {
			c.now = now
		}
	}
}

// Cache is a capacity-bounded store of notifications keyed by ID with an
// incrementally maintained unread counter. It has a single writer (the
// engine loop) but may be read from any goroutine.
type Cache struct {
	mu      sync.RWMutex
	maxSize int
	entries map[string]*entry
	unread  int
	seq     uint64
	now     func() time.Time
}

// New creates an empty cache holding at most maxSize records.
func New(maxSize int, opts ...Option) *Cache {
	if maxSize <= 0 {
		maxSize = DefaultMaxSize
	}
	c := &Cache{
		maxSize: maxSize,
		entries: make(map[string]*entry),
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// MaxSize returns the configured capacity.
func (c *Cache) MaxSize() int {
	return c.maxSize
}

// Upsert inserts n or overwrites the entry with the same ID, adjusting the
// unread counter by the status delta. If the cache grows past its capacity
// the oldest records are evicted in one batch and returned.
func (c *Cache) Upsert(n model.Notification) []model.Notification {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.seq++
	rec := n.Clone()
	if prev, ok := c.entries[n.ID]; ok {
		if prev.rec.IsUnread() && !rec.IsUnread() {
			c.unread--
		} else if !prev.rec.IsUnread() && rec.IsUnread() {
			c.unread++
		}
		prev.rec = rec
		prev.seenAt = c.now()
		prev.seq = c.seq
		return nil
	}

	c.entries[n.ID] = &entry{rec: rec, seenAt: c.now(), seq: c.seq}
	if rec.IsUnread() {
		c.unread++
	}

	if len(c.entries) > c.maxSize {
		return c.trimLocked()
	}
	return nil
}

// trimLocked evicts down to trimRatio of capacity, oldest timestamp first.
// Ties on timestamp evict the least recently seen entry first.
func (c *Cache) trimLocked() []model.Notification {
	target := int(float64(c.maxSize) * trimRatio)
	if target < 1 {
		target = 1
	}

	all := make([]*entry, 0, len(c.entries))
	for _, e := range c.entries {
		all = append(all, e)
	}
	sort.Slice(all, func(i, j int) bool {
		ti, tj := all[i].rec.Timestamp, all[j].rec.Timestamp
		if !ti.Equal(tj) {
			return ti.Before(tj)
		}
		return all[i].seq < all[j].seq
	})

	n := len(all) - target
	evicted := make([]model.Notification, 0, n)
	for _, e := range all[:n] {
		delete(c.entries, e.rec.ID)
		if e.rec.IsUnread() {
			c.unread--
		}
		evicted = append(evicted, e.rec)
	}
	return evicted
}

// Remove deletes the record with the given ID and returns it.
func (c *Cache) Remove(id string) (model.Notification, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	e, ok := c.entries[id]
	if !ok {
		return model.Notification{}, false
	}
	delete(c.entries, id)
	if e.rec.IsUnread() {
		c.unread--
	}
	return e.rec, true
}

// Get returns a copy of the record with the given ID.
func (c *Cache) Get(id string) (model.Notification, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	e, ok := c.entries[id]
	if !ok {
		return model.Notification{}, false
	}
	return e.rec.Clone(), true
}

// Has reports whether a record with the given ID is cached.
func (c *Cache) Has(id string) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	_, ok := c.entries[id]
	return ok
}

// LastSeen returns when the record with the given ID was last upserted.
func (c *Cache) LastSeen(id string) (time.Time, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	e, ok := c.entries[id]
	if !ok {
		return time.Time{}, false
	}
	return e.seenAt, true
}

// SeenBefore reports whether the record was last upserted strictly before t.
// Unknown IDs report false.
func (c *Cache) SeenBefore(id string, t time.Time) bool {
	seen, ok := c.LastSeen(id)
	return ok && seen.Before(t)
}

// All returns copies of every record ordered by timestamp, newest first.
func (c *Cache) All() []model.Notification {
	c.mu.RLock()
	out := make([]model.Notification, 0, len(c.entries))
	for _, e := range c.entries {
		out = append(out, e.rec.Clone())
	}
	c.mu.RUnlock()

	sort.SliceStable(out, func(i, j int) bool {
		if !out[i].Timestamp.Equal(out[j].Timestamp) {
			return out[i].Timestamp.After(out[j].Timestamp)
		}
		return out[i].ID < out[j].ID
	})
	return out
}

// IDs returns the IDs of every cached record in no particular order.
func (c *Cache) IDs() []string {
	c.mu.RLock()
	defer c.mu.RUnlock()

	ids := make([]string, 0, len(c.entries))
	for id := range c.entries {
		ids = append(ids, id)
	}
	return ids
}

// Size returns the number of cached records.
func (c *Cache) Size() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.entries)
}

// UnreadCount returns the number of cached records with status unread.
func (c *Cache) UnreadCount() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.unread
}

// Clear drops every record and resets the unread counter.
func (c *Cache) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries = make(map[string]*entry)
	c.unread = 0
}
