package service

import (
	"context"
	"fmt"

	"github.com/okian/runac/internal/adapters/repository"
	"github.com/okian/runac/internal/config"
)

// OpenStore opens the store selected by cfg.StoreDriver.
func OpenStore(ctx context.Context, cfg *config.Config, opts ...repository.Option) (repository.Store, error) {
	switch cfg.StoreDriver {
	case "", "memory":
		return repository.NewMemoryStore(opts...), nil
	case "sqlite":
		s, err := repository.NewSQLiteStore(ctx, cfg.SQLitePath, opts...)
		if err != nil {
			return nil, fmt.Errorf("open sqlite store: %w", err)
		}
		return s, nil
	case "postgres":
		s, err := repository.NewPostgresStore(ctx, cfg.PostgresDSN, opts...)
		if err != nil {
			return nil, fmt.Errorf("open postgres store: %w", err)
		}
		return s, nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownDriver, cfg.StoreDriver)
	}
}
