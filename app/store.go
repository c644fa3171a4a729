package app

import (
	"context"
	"fmt"

	"github.com/gaborage/alioli/config"
	"github.com/gaborage/alioli/logger"
	"github.com/gaborage/alioli/queue"
	"github.com/gaborage/alioli/queue/memory"
	"github.com/gaborage/alioli/queue/mongodb"
	"github.com/gaborage/alioli/queue/redis"
	"github.com/gaborage/alioli/queue/sqlstore"
)

// StoreFactory opens the queue store for a configuration.
type StoreFactory func(ctx context.Context, cfg *config.StoreConfig, log logger.Logger) (queue.Store, error)

// OpenStore is the default StoreFactory. It selects the backend by store.type.
func OpenStore(ctx context.Context, cfg *config.StoreConfig, log logger.Logger) (queue.Store, error) {
	switch cfg.Type {
	case "", config.StoreMemory:
		log.Warn().Msg("Using in-memory queue store; deferred requests do not survive a restart")
		return memory.New(), nil
	case config.StorePostgreSQL, config.StoreOracle:
		dialect, err := sqlstore.ParseDialect(cfg.Type)
		if err != nil {
			return nil, err
		}
		return sqlstore.Open(ctx, dialect, &cfg.Database, log)
	case config.StoreRedis:
		return redis.Open(ctx, &cfg.Redis, log)
	case config.StoreMongoDB:
		return mongodb.Open(ctx, &cfg.Mongo, log)
	default:
		return nil, config.NewInvalidFieldError("store.type", fmt.Sprintf("unsupported store type %q", cfg.Type),
			[]string{config.StoreMemory, config.StorePostgreSQL, config.StoreOracle, config.StoreRedis, config.StoreMongoDB})
	}
}
