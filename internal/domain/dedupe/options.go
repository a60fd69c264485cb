// Package dedupe defines the interface for idempotency tracking.
package dedupe

import "time"

// Option applies a configuration option to the deduper.
type Option func(*cacheDeduper)

// WithTTL sets how long an id is remembered. Zero or negative keeps ids forever.
func WithTTL(ttl time.Duration) Option {
	return func(d *cacheDeduper) {
		d.ttl = ttl
	}
}

// WithCleanupInterval sets how often expired ids are purged.
func WithCleanupInterval(interval time.Duration) Option {
	return func(d *cacheDeduper) {
		if interval > 0 {
			d.cleanup = interval
		}
	}
}
