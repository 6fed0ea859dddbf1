// Package recordcache deduplicates CRM record fetches. At most one request is
// in flight per (member, category); resolved envelopes are kept until a
// successful write invalidates them. There is no TTL and no eviction.
package recordcache

import (
	"context"
	"errors"
	"sync"
	"time"

	"go.uber.org/zap"

	"memberportal/api/internal/member"
)

var ErrClosed = errors.New("record cache closed")

// Fetcher performs the underlying network read.
type Fetcher interface {
	Fetch(ctx context.Context, id member.ID, category member.Category) (member.Envelope, error)
}

// Key scopes an entry to one member and one category.
type Key struct {
	Member   member.ID
	Category member.Category
}

// entry is either pending (done open) or resolved (done closed, err nil).
// Failed fetches are removed from the map before done is closed.
type entry struct {
	done      chan struct{}
	env       member.Envelope
	err       error
	fetchedAt time.Time
}

// Cache is safe for concurrent use. One instance serves a whole process.
type Cache struct {
	fetcher Fetcher
	logger  *zap.Logger
	metrics *Metrics

	mu      sync.Mutex
	entries map[Key]*entry
	closed  bool
	// inflight tracks fetch goroutines so Close can wait for them.
	inflight sync.WaitGroup
}

type Option func(*Cache)

func WithLogger(logger *zap.Logger) Option {
	return func(c *Cache) { c.logger = logger }
}

func WithMetrics(metrics *Metrics) Option {
	return func(c *Cache) { c.metrics = metrics }
}

func New(fetcher Fetcher, opts ...Option) *Cache {
	c := &Cache{
		fetcher: fetcher,
		logger:  zap.NewNop(),
		entries: make(map[Key]*entry),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Get returns the envelope for (id, category), fetching it at most once no
// matter how many callers ask concurrently. Each caller waits under its own
// ctx; the shared fetch itself is not cancelled when one caller gives up.
func (c *Cache) Get(ctx context.Context, id member.ID, category member.Category) (member.Envelope, error) {
	key := Key{Member: id, Category: category}

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return member.Envelope{}, ErrClosed
	}
	e, ok := c.entries[key]
	if ok {
		select {
		case <-e.done:
			c.mu.Unlock()
			c.metrics.request(resultHit)
			return e.env, nil
		default:
			c.mu.Unlock()
			c.metrics.request(resultShared)
			return c.wait(ctx, e)
		}
	}

	e = &entry{done: make(chan struct{})}
	c.entries[key] = e
	c.inflight.Add(1)
	c.mu.Unlock()

	c.metrics.request(resultMiss)
	go c.fetch(context.WithoutCancel(ctx), key, e)
	return c.wait(ctx, e)
}

func (c *Cache) wait(ctx context.Context, e *entry) (member.Envelope, error) {
	select {
	case <-e.done:
		return e.env, e.err
	case <-ctx.Done():
		return member.Envelope{}, ctx.Err()
	}
}

func (c *Cache) fetch(ctx context.Context, key Key, e *entry) {
	defer c.inflight.Done()

	env, err := c.fetcher.Fetch(ctx, key.Member, key.Category)

	c.mu.Lock()
	current := c.entries[key] == e
	if err != nil {
		e.err = err
		if current {
			delete(c.entries, key)
		}
	} else {
		e.env = env
		e.fetchedAt = time.Now()
	}
	close(e.done)
	c.mu.Unlock()

	if err != nil {
		c.metrics.failure()
		c.logger.Warn("record fetch failed",
			zap.String("member", key.Member.String()),
			zap.String("category", string(key.Category)),
			zap.Error(err),
		)
		return
	}
	if !current {
		c.logger.Debug("dropping fetch result invalidated while in flight",
			zap.String("member", key.Member.String()),
			zap.String("category", string(key.Category)),
		)
	}
}

// Invalidate drops the resolved or pending entry for (id, category). A fetch
// that is still in flight completes for its waiters but is not stored.
func (c *Cache) Invalidate(id member.ID, category member.Category) {
	key := Key{Member: id, Category: category}
	c.mu.Lock()
	_, ok := c.entries[key]
	delete(c.entries, key)
	c.mu.Unlock()
	if ok {
		c.metrics.invalidated(1)
	}
}

// InvalidateAll drops every entry scoped to id.
func (c *Cache) InvalidateAll(id member.ID) {
	removed := 0
	c.mu.Lock()
	for key := range c.entries {
		if key.Member == id {
			delete(c.entries, key)
			removed++
		}
	}
	c.mu.Unlock()
	c.metrics.invalidated(removed)
}

// Cached reports whether a resolved entry exists for (id, category) and when
// it was fetched.
func (c *Cache) Cached(id member.ID, category member.Category) (time.Time, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	e, ok := c.entries[Key{Member: id, Category: category}]
	if !ok {
		return time.Time{}, false
	}
	select {
	case <-e.done:
		return e.fetchedAt, true
	default:
		return time.Time{}, false
	}
}

// Len returns the number of resolved and pending entries.
func (c *Cache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}

// Close drops every entry, rejects further reads and waits for in-flight
// fetches to finish.
func (c *Cache) Close() {
	c.mu.Lock()
	c.closed = true
	c.entries = make(map[Key]*entry)
	c.mu.Unlock()
	c.inflight.Wait()
}
