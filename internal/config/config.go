// Package config defines service configuration structures and loading hooks.
//
// Conventions:
// - Provide New(ctx) to build a Config with defaults.
// - Load layers a YAML file and RUNAC_ environment variables on top.
// - Errors are wrapped with this package's sentinels.
package config

import (
	"context"
	"fmt"
	"runtime"
	"slices"
	"time"

	"github.com/go-playground/validator/v10"
)

// Config contains process configuration.
type Config struct {
	// LogLevel controls verbosity: debug, info, warn, error.
	LogLevel string `koanf:"log_level" validate:"oneof=debug info warn warning error"`

	// LogFormat selects the slog handler: text or json.
	LogFormat string `koanf:"log_format" validate:"oneof=text json"`

	// Addr configures the HTTP listen address, e.g. ":8080".
	Addr string `koanf:"addr" validate:"required"`

	// ShutdownTimeoutSeconds bounds graceful HTTP shutdown.
	ShutdownTimeoutSeconds int `koanf:"shutdown_timeout_seconds" validate:"min=1"`

	// StoreDriver selects the persistence backend.
	StoreDriver string `koanf:"store_driver" validate:"oneof=memory sqlite postgres"`

	// SQLitePath is the database file used by the sqlite driver.
	SQLitePath string `koanf:"sqlite_path" validate:"required_if=StoreDriver sqlite"`

	// PostgresDSN is the connection string used by the postgres driver.
	PostgresDSN string `koanf:"postgres_dsn" validate:"required_if=StoreDriver postgres"`

	// GridPath points to a JSON runbility grid. Empty uses the embedded grid.
	GridPath string `koanf:"grid_path"`

	// WagerTable names the multiplier distribution: standard or classic.
	WagerTable string `koanf:"wager_table" validate:"oneof=standard classic"`

	// EventQueueSize bounds the in-memory approval queue.
	EventQueueSize int `koanf:"queue_size" validate:"min=1"`

	// WorkerCount sets the number of approval workers.
	WorkerCount int `koanf:"worker_count" validate:"min=1"`

	// DedupeTTLSeconds is how long an approved record id is remembered.
	DedupeTTLSeconds int `koanf:"dedupe_ttl_seconds" validate:"min=1"`

	// RankingCacheTTLSeconds caches ranking responses. Zero disables caching.
	RankingCacheTTLSeconds int `koanf:"ranking_cache_ttl_seconds" validate:"min=0"`

	// RebuildSchedule is a cron spec for full leaderboard rebuilds. Empty disables it.
	RebuildSchedule string `koanf:"rebuild_schedule"`

	// MaxLeaderboardLimit caps ?limit on ranking endpoints.
	MaxLeaderboardLimit int `koanf:"max_leaderboard_limit" validate:"min=1"`

	// AdminSeqs lists user sequence numbers allowed to moderate.
	AdminSeqs []int64 `koanf:"admin_seqs"`

	// BetRatePerSecond and BetBurst limit bet and buy requests per user.
	BetRatePerSecond float64 `koanf:"bet_rate_per_second" validate:"gt=0"`
	BetBurst         int     `koanf:"bet_burst" validate:"min=1"`

	// Accepted run band.
	MinDistanceKm   float64 `koanf:"min_distance_km" validate:"gt=0"`
	MaxDistanceKm   float64 `koanf:"max_distance_km" validate:"gtfield=MinDistanceKm"`
	MinPaceSecPerKm float64 `koanf:"min_pace_sec_per_km" validate:"gt=0"`
	MaxPaceSecPerKm float64 `koanf:"max_pace_sec_per_km" validate:"gtfield=MinPaceSecPerKm"`

	// GrantPointsOnApproval merges the run's runbility into the point balance on approval.
	GrantPointsOnApproval bool `koanf:"grant_points_on_approval"`

	// EventStart and EventEnd bound the event period (RFC3339). Empty means open.
	EventStart string `koanf:"event_start"`
	EventEnd   string `koanf:"event_end"`

	// EnforceEventWindow rejects bets and purchases outside the event period.
	EnforceEventWindow bool `koanf:"enforce_event_window"`

	// EnforceBettingWindow rejects bets outside the nightly betting window.
	EnforceBettingWindow bool `koanf:"enforce_betting_window"`
}

// New creates a Config populated with defaults.
func New(_ context.Context) *Config {
	return &Config{
		LogLevel:               "info",
		LogFormat:              "text",
		Addr:                   ":9080",
		ShutdownTimeoutSeconds: 10,
		StoreDriver:            "memory",
		SQLitePath:             "runac.db",
		WagerTable:             "standard",
		EventQueueSize:         10_000,
		WorkerCount:            runtime.NumCPU(),
		DedupeTTLSeconds:       3600,
		RankingCacheTTLSeconds: 5,
		RebuildSchedule:        "@every 10m",
		MaxLeaderboardLimit:    100,
		AdminSeqs:              []int64{1},
		BetRatePerSecond:       2,
		BetBurst:               5,
		MinDistanceKm:          0.5,
		MaxDistanceKm:          10,
		MinPaceSecPerKm:        180,
		MaxPaceSecPerKm:        420,
		GrantPointsOnApproval:  true,
		EventStart:             "2025-10-06T00:00:00+09:00",
		EventEnd:               "2025-10-12T23:59:59+09:00",
	}
}

var validate = validator.New(validator.WithRequiredStructEnabled()) //nolint:gochecknoglobals // validator caches struct metadata

// Validate checks field constraints and cross-field invariants.
func (c *Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidConfig, err)
	}
	if _, _, err := c.EventBounds(); err != nil {
		return err
	}
	return nil
}

// EventBounds parses EventStart and EventEnd. Empty values yield zero times.
func (c *Config) EventBounds() (start, end time.Time, err error) {
	if c.EventStart != "" {
		if start, err = time.Parse(time.RFC3339, c.EventStart); err != nil {
			return start, end, fmt.Errorf("%w: event_start: %w", ErrInvalidConfig, err)
		}
	}
	if c.EventEnd != "" {
		if end, err = time.Parse(time.RFC3339, c.EventEnd); err != nil {
			return start, end, fmt.Errorf("%w: event_end: %w", ErrInvalidConfig, err)
		}
	}
	if !start.IsZero() && !end.IsZero() && end.Before(start) {
		return start, end, fmt.Errorf("%w: event_end before event_start", ErrInvalidConfig)
	}
	return start, end, nil
}

// IsAdmin reports whether seq is a configured administrator.
func (c *Config) IsAdmin(seq int64) bool {
	return slices.Contains(c.AdminSeqs, seq)
}

// DedupeTTL returns DedupeTTLSeconds as a duration.
func (c *Config) DedupeTTL() time.Duration {
	return time.Duration(c.DedupeTTLSeconds) * time.Second
}

// RankingCacheTTL returns RankingCacheTTLSeconds as a duration.
func (c *Config) RankingCacheTTL() time.Duration {
	return time.Duration(c.RankingCacheTTLSeconds) * time.Second
}

// ShutdownTimeout returns ShutdownTimeoutSeconds as a duration.
func (c *Config) ShutdownTimeout() time.Duration {
	return time.Duration(c.ShutdownTimeoutSeconds) * time.Second
}
