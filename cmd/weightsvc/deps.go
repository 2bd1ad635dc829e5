package main

import (
	"context"
	"log/slog"

	"github.com/pkg/errors"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"

	"weightsvc/internal/adapter/memory"
	"weightsvc/internal/adapter/postgres"
	"weightsvc/internal/adapter/redis"
	"weightsvc/internal/adapter/sqlite"
	"weightsvc/internal/cache"
	"weightsvc/internal/config"
	"weightsvc/internal/domain"
	"weightsvc/internal/metrics"
)

// flagKeys maps command-line flags onto configuration keys.
var flagKeys = map[string]string{
	"addr":         "addr",
	"store-driver": "store_driver",
	"cache-driver": "cache_driver",
	"log-level":    "log_level",
	"log-format":   "log_format",
	"queue":        "rabbitmq_queue",
	"max-retries":  "rabbitmq_max_retries",
}

// bindFlags binds the flags of the command being run. Flags the user did not
// set do not override the environment or defaults.
func bindFlags(v *viper.Viper, flags *pflag.FlagSet) error {
	var err error
	flags.VisitAll(func(f *pflag.Flag) {
		if key, ok := flagKeys[f.Name]; ok && err == nil {
			err = v.BindPFlag(key, f)
		}
	})
	return errors.Wrap(err, "bind flags")
}

type closer func() error

func openStore(ctx context.Context, cfg *config.Config, logger *slog.Logger) (domain.Store, closer, error) {
	switch cfg.StoreDriver {
	case config.StorePostgres:
		db, err := postgres.Open(ctx, cfg.DatabaseURL, logger)
		if err != nil {
			return nil, nil, errors.Wrap(err, "open postgres")
		}
		return db, db.Close, nil
	case config.StoreSQLite:
		db, err := sqlite.Open(ctx, cfg.SQLitePath)
		if err != nil {
			return nil, nil, errors.Wrap(err, "open sqlite")
		}
		return db, db.Close, nil
	default:
		logger.Warn("using in-memory store, data is lost on exit")
		return memory.New(), func() error { return nil }, nil
	}
}

func openCache(ctx context.Context, cfg *config.Config, logger *slog.Logger) (domain.Cache, closer) {
	switch cfg.CacheDriver {
	case config.CacheRedis:
		backend := redis.New(redis.Config{
			Addr:      cfg.RedisAddr,
			Password:  cfg.RedisPassword,
			DB:        cfg.RedisDB,
			KeyPrefix: cfg.RedisKeyPrefix,
		})
		if err := backend.Ping(ctx); err != nil {
			// Reads fall through to the store until redis comes back.
			logger.Warn("redis unreachable at startup", "addr", cfg.RedisAddr, "error", err)
		}
		return cache.New(backend, logger), backend.Close
	case config.CacheMemory:
		return cache.New(cache.NewMemory(), logger), func() error { return nil }
	default:
		return cache.Nop{}, func() error { return nil }
	}
}

func newMetrics(logger *slog.Logger) (*metrics.Sink, *sdkmetric.MeterProvider, error) {
	provider := sdkmetric.NewMeterProvider()
	sink, err := metrics.New(provider.Meter("weightsvc"), logger)
	if err != nil {
		return nil, nil, err
	}
	return sink, provider, nil
}
