package storage

import (
	"context"
	"fmt"

	"traffic-router/internal/config"
	"traffic-router/internal/engine"
)

// Store bundles the target repository and traffic counter contracts the
// engine depends on, plus lifecycle hooks for the boundary layer.
type Store interface {
	engine.TargetRepository
	engine.TrafficCounter
	Ping(ctx context.Context) error
	Close()
}

// New builds the backend selected by store.type.
func New(ctx context.Context, cfg config.Config) (Store, error) {
	switch cfg.Store.Type {
	case "redis":
		return NewRedis(cfg), nil
	case "postgres":
		return NewPostgres(ctx, cfg)
	case "memory":
		return NewMemory(), nil
	default:
		return nil, fmt.Errorf("unknown store type %q", cfg.Store.Type)
	}
}
