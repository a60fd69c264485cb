package service

import (
	"time"

	"github.com/okian/runac/internal/adapters/repository"
	"github.com/okian/runac/internal/domain/event"
	"github.com/okian/runac/internal/domain/market"
	"github.com/okian/runac/internal/domain/runbility"
	"github.com/okian/runac/internal/domain/wager"
	"github.com/okian/runac/pkg/logger"
)

// Option applies a configuration option to the Service.
type Option func(*Service)

// WithStore uses store instead of opening one from the config.
// The service takes ownership and closes it on Stop.
func WithStore(store repository.Store) Option {
	return func(s *Service) {
		if store != nil {
			s.store = store
		}
	}
}

// WithTable replaces the runbility table loaded from the config.
func WithTable(t *runbility.Table) Option {
	return func(s *Service) {
		if t != nil {
			s.table = t
		}
	}
}

// WithCalendar replaces the event calendar built from the config.
func WithCalendar(c *event.Calendar) Option {
	return func(s *Service) {
		if c != nil {
			s.calendar = c
		}
	}
}

// WithCatalog replaces the default market catalog.
func WithCatalog(c *market.Catalog) Option {
	return func(s *Service) {
		if c != nil {
			s.catalog = c
		}
	}
}

// WithWagerOptions passes extra options to the wager engine. They are
// applied after the ones derived from the config.
func WithWagerOptions(opts ...wager.Option) Option {
	return func(s *Service) {
		s.wagerOpts = append(s.wagerOpts, opts...)
	}
}

// WithClock sets the clock shared by the calendar, the engine and the store
// the service opens itself.
func WithClock(now func() time.Time) Option {
	return func(s *Service) {
		if now != nil {
			s.now = now
		}
	}
}

// WithLogger sets a custom logger for the service.
func WithLogger(l logger.Logger) Option {
	return func(s *Service) {
		if l != nil {
			s.logger = l
		}
	}
}
