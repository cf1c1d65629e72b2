package main

import (
	"context"
	"fmt"
	"log"
	"os/signal"
	"syscall"

	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"
	"go.opentelemetry.io/otel"

	"github.com/homescout/homescout/config"
	"github.com/homescout/homescout/internal/coordinator"
	"github.com/homescout/homescout/internal/queue/streams"
	"github.com/homescout/homescout/internal/session"
	"github.com/homescout/homescout/internal/session/inmemory"
	redis_session "github.com/homescout/homescout/internal/session/redis"
	"github.com/homescout/homescout/internal/store"
	"github.com/homescout/homescout/internal/telemetry"
)

func coordinatorCMD(cfgPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "coordinator",
		Short: "Run the aggregation coordinator",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := config.LoadConfig(*cfgPath)

			ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			rdb, err := connectRedis(ctx, cfg)
			if err != nil {
				return err
			}

			registry := streams.NewSchemaRegistry()
			if err := streams.RegisterBaseSchemas(registry); err != nil {
				return fmt.Errorf("register schemas: %w", err)
			}
			group := cfg.Coordinator.Group
			if group == "" {
				group = streams.GroupCoordinator
			}
			if err := streams.EnsureGroups(ctx, rdb, group, streams.CoordinatorStreams()); err != nil {
				return fmt.Errorf("ensure coordinator groups: %w", err)
			}

			pub := streams.NewPublisher(rdb, registry)
			cons := streams.NewConsumer(rdb, registry, group, cfg.Coordinator.Consumer)
			sessions := sessionStore(cfg, rdb)

			var archive coordinator.Archive
			if cfg.Storage.Postgres.Enabled() {
				st, err := store.New(ctx, cfg.Storage.Postgres)
				if err != nil {
					return fmt.Errorf("archive store: %w", err)
				}
				archive = st
			}

			tele := telemetry.NewTelemetry(cfg.Telemetry)
			defer tele.Shutdown()

			logger := log.New(log.Writer(), "[COORD] ", log.LstdFlags)
			c := coordinator.New(logger, sessions, cons, pub, archive, tele, cfg, otel.Tracer("coordinator"))
			return c.Start(ctx)
		},
	}
}

// connectRedis dials the streams backbone and fails fast when unreachable.
func connectRedis(ctx context.Context, cfg *config.Config) (*redis.Client, error) {
	rdb := redis.NewClient(&redis.Options{
		Addr:     fmt.Sprintf("%s:%s", cfg.Storage.Redis.Host, cfg.Storage.Redis.Port),
		Password: cfg.Storage.Redis.Password,
		DB:       cfg.Storage.Redis.DB,
	})
	if err := rdb.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("redis connection failed (%s:%s): %w", cfg.Storage.Redis.Host, cfg.Storage.Redis.Port, err)
	}
	return rdb, nil
}

func sessionStore(cfg *config.Config, rdb *redis.Client) session.Store {
	if cfg.Session.Backend == "redis" {
		return redis_session.NewStore(rdb)
	}
	return inmemory.NewStore()
}
