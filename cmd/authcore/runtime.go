package main

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/pyroalert/authcore"
	"github.com/pyroalert/authcore/audit/kafkasink"
	"github.com/pyroalert/authcore/credential"
	"github.com/pyroalert/authcore/internal/config"
	"github.com/pyroalert/authcore/internal/db"
	"github.com/pyroalert/authcore/internal/logging"
	"github.com/pyroalert/authcore/tokenstore"
)

// runtime owns every connection opened for one command invocation.
type runtime struct {
	cfg    *config.Config
	logger *zap.Logger
	engine *authcore.Engine

	closers []func()
}

func (rt *runtime) Close() {
	for i := len(rt.closers) - 1; i >= 0; i-- {
		rt.closers[i]()
	}
	_ = rt.logger.Sync()
}

// bootstrap wires logger, stores, audit sinks and the Engine. With dev set
// the stores live in an in-process miniredis.
func bootstrap(ctx context.Context, cfg *config.Config, dev bool) (*runtime, error) {
	logger, err := logging.New(cfg.Logging())
	if err != nil {
		return nil, err
	}
	rt := &runtime{cfg: cfg, logger: logger}

	engineCfg, err := cfg.Engine()
	if err != nil {
		return nil, err
	}

	builder := authcore.New().WithConfig(engineCfg).WithLogger(logger)

	if dev {
		mr, err := miniredis.Run()
		if err != nil {
			return nil, fmt.Errorf("start miniredis: %w", err)
		}
		rt.closers = append(rt.closers, mr.Close)
		logger.Warn("dev mode: using in-memory redis, data is lost on exit", zap.String("addr", mr.Addr()))
		rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
		rt.closers = append(rt.closers, func() { _ = rdb.Close() })
		builder.WithRedis(rdb)
	} else {
		rdb, err := connectRedis(ctx, cfg, logger)
		if err != nil {
			rt.Close()
			return nil, err
		}
		if rdb != nil {
			rt.closers = append(rt.closers, func() { _ = rdb.Close() })
			builder.WithRedis(rdb)
		}

		if cfg.StorageDriver == "postgres" {
			pool, err := db.Open(ctx, cfg.DatabaseURL)
			if err != nil {
				rt.Close()
				return nil, err
			}
			rt.closers = append(rt.closers, pool.Close)
			wirePostgres(builder, pool)
		}
	}

	sinks := authcore.MultiSink{authcore.NewZapSink(logger)}
	if brokers := cfg.KafkaBrokerList(); len(brokers) > 0 && cfg.AuditEnabled {
		sink, err := kafkasink.New(brokers, cfg.AuditKafkaTopic, logger)
		if err != nil {
			rt.Close()
			return nil, err
		}
		rt.closers = append(rt.closers, func() { _ = sink.Close() })
		sinks = append(sinks, sink)
	}
	builder.WithAuditSink(sinks)

	engine, err := builder.Build()
	if err != nil {
		rt.Close()
		return nil, err
	}
	// The engine drains its audit queue before the sinks close.
	rt.closers = append(rt.closers, engine.Close)
	rt.engine = engine
	return rt, nil
}

// connectRedis returns nil without error when Redis is unreachable and the
// stores live in Postgres; throttling is then disabled.
func connectRedis(ctx context.Context, cfg *config.Config, logger *zap.Logger) (*redis.Client, error) {
	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
		DB:       cfg.RedisDB,
	})

	pingCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()
	if err := rdb.Ping(pingCtx).Err(); err != nil {
		_ = rdb.Close()
		if cfg.StorageDriver == "redis" {
			return nil, fmt.Errorf("redis %s: %w", cfg.RedisAddr, err)
		}
		logger.Warn("redis unreachable, rate limiting disabled", zap.String("addr", cfg.RedisAddr), zap.Error(err))
		return nil, nil
	}
	return rdb, nil
}

func wirePostgres(builder *authcore.Builder, pool *pgxpool.Pool) {
	builder.WithCredentialStore(credential.NewPostgresStore(pool))
	builder.WithTokenStore(tokenstore.NewPostgresStore(pool))
}

var errDevStorage = errors.New("--dev cannot be combined with STORAGE_DRIVER=postgres")
