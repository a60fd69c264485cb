// Package dedupe defines the interface for idempotency tracking.
package dedupe

import (
	"context"
	"time"

	"github.com/patrickmn/go-cache"
)

// Deduper records seen ids to ensure at-most-once processing.
type Deduper interface {
	// SeenAndRecord atomically checks if id was seen and records it if not.
	// Returns true if id was already seen, false if it was newly recorded.
	SeenAndRecord(ctx context.Context, id string) bool

	// Unrecord forgets id so it can be retried, e.g. after the queue refused it.
	Unrecord(ctx context.Context, id string)

	Size() int64
}

// cacheDeduper remembers ids in a go-cache with a TTL.
type cacheDeduper struct {
	ttl     time.Duration
	cleanup time.Duration
	seen    *cache.Cache
}

// NewInMemoryDeduper creates a TTL-bounded deduper. Ids are kept for an hour by default.
func NewInMemoryDeduper(opts ...Option) Deduper {
	d := &cacheDeduper{
		ttl:     time.Hour,
		cleanup: 10 * time.Minute,
	}
	for _, opt := range opts {
		opt(d)
	}
	ttl := d.ttl
	if ttl <= 0 {
		ttl = cache.NoExpiration
	}
	d.seen = cache.New(ttl, d.cleanup)
	return d
}

// SeenAndRecord relies on Add failing for a live key, which go-cache checks
// and sets under one lock.
func (d *cacheDeduper) SeenAndRecord(_ context.Context, id string) bool {
	return d.seen.Add(id, struct{}{}, cache.DefaultExpiration) != nil
}

func (d *cacheDeduper) Unrecord(_ context.Context, id string) {
	d.seen.Delete(id)
}

// Size counts remembered ids, including expired ones not yet purged.
func (d *cacheDeduper) Size() int64 {
	return int64(d.seen.ItemCount())
}
