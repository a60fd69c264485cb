package wager

import (
	"time"

	"github.com/okian/runac/pkg/logger"
)

// Option applies a configuration option to the Engine.
type Option func(*Engine)

// WithDistribution sets the multiplier table.
func WithDistribution(d Distribution) Option {
	return func(e *Engine) {
		if len(d.bins) > 0 {
			e.dist = d
		}
	}
}

// WithSource sets the random source. It must be safe for concurrent use.
func WithSource(src Source) Option {
	return func(e *Engine) {
		if src != nil {
			e.src = src
		}
	}
}

// WithLogger sets a custom logger for the engine.
func WithLogger(l logger.Logger) Option {
	return func(e *Engine) {
		if l != nil {
			e.logger = l
		}
	}
}

// WithClock overrides time.Now, mostly for tests.
func WithClock(now func() time.Time) Option {
	return func(e *Engine) {
		if now != nil {
			e.now = now
		}
	}
}

// WithSlotFunc sets how a resolve time is mapped to a slot id for logs.
func WithSlotFunc(slot func(time.Time) string) Option {
	return func(e *Engine) {
		if slot != nil {
			e.slot = slot
		}
	}
}

// WithIDFunc sets the outcome id generator.
func WithIDFunc(id func() string) Option {
	return func(e *Engine) {
		if id != nil {
			e.newID = id
		}
	}
}
