package main

import (
	"context"
	"fmt"

	"github.com/filefortress/filefortress/internal/config"
	"github.com/filefortress/filefortress/internal/infra"
	"github.com/filefortress/filefortress/internal/session"
)

// openStore builds and initializes the configured session backend. The
// returned func releases any connection it opened.
func openStore(ctx context.Context, cfg config.Config) (session.Store, func(), error) {
	var (
		store   session.Store
		closeFn = func() {}
	)

	switch cfg.SessionBackend {
	case config.BackendMemory:
		store = session.NewMemoryStore()
	case config.BackendFile:
		store = session.NewFileStore(cfg.SessionFile, cfg.SessionNamespace)
	case config.BackendRedis:
		client, err := infra.NewRedisClient(ctx, cfg.RedisURL)
		if err != nil {
			return nil, nil, err
		}
		store = session.NewRedisStore(client, cfg.SessionNamespace)
		closeFn = func() { _ = client.Close() }
	case config.BackendPostgres:
		pool, err := infra.NewPostgresPool(ctx, cfg.DatabaseURL)
		if err != nil {
			return nil, nil, err
		}
		store = session.NewPostgresStore(pool, cfg.SessionNamespace)
		closeFn = pool.Close
	default:
		return nil, nil, fmt.Errorf("unknown session backend %q", cfg.SessionBackend)
	}

	if err := store.Init(ctx); err != nil {
		closeFn()
		return nil, nil, fmt.Errorf("init %s session store: %w", cfg.SessionBackend, err)
	}
	return store, closeFn, nil
}
