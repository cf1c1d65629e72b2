// Package server is the HTTP gateway: it accepts user turns, hands the
// long-polled turn replies back to clients and hosts the operational
// endpoints (session inspection, metrics, sweeper).
package server

import (
	"context"
	"fmt"
	"log"
	"net/http"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"

	"github.com/homescout/homescout/config"
	"github.com/homescout/homescout/internal/queue/streams"
	"github.com/homescout/homescout/internal/session"
	"github.com/homescout/homescout/internal/session/inmemory"
	redis_session "github.com/homescout/homescout/internal/session/redis"
	"github.com/homescout/homescout/internal/store"
	"github.com/homescout/homescout/internal/telemetry"
)

// Run starts the gateway and blocks until the listener stops.
func Run(cfg *config.Config) error {
	e := echo.New()
	e.HideBanner = true
	e.Use(middleware.Recover())
	// Unified HTTP error handler with structured JSON and logging
	baseLogger := log.New(log.Writer(), "[HTTP] ", log.LstdFlags)
	e.HTTPErrorHandler = func(err error, c echo.Context) {
		code := http.StatusInternalServerError
		msg := err.Error()
		if he, ok := err.(*echo.HTTPError); ok {
			code = he.Code
			if he.Message != nil {
				msg = fmt.Sprint(he.Message)
			}
		}
		req := c.Request()
		baseLogger.Printf("%d %s %s from %s: %v", code, req.Method, req.URL.Path, c.RealIP(), err)
		if !c.Response().Committed {
			_ = c.JSON(code, HTTPError{Error: msg})
		}
	}
	origins := cfg.Server.CORSOrigins
	if len(origins) == 0 {
		origins = []string{"*"}
	}
	e.Use(middleware.CORSWithConfig(middleware.CORSConfig{
		AllowOrigins: origins,
		AllowMethods: []string{"GET", "POST", "OPTIONS"},
		AllowHeaders: []string{"Content-Type"},
	}))

	e.GET("/healthz", func(c echo.Context) error { return c.String(http.StatusOK, "ok") })
	e.GET("/metrics", echo.WrapHandler(promhttp.Handler()))
	registerDocs(e)

	ctx := context.Background()

	rdb := redis.NewClient(&redis.Options{
		Addr:     fmt.Sprintf("%s:%s", cfg.Storage.Redis.Host, cfg.Storage.Redis.Port),
		Password: cfg.Storage.Redis.Password,
		DB:       cfg.Storage.Redis.DB,
	})
	if err := rdb.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("redis connection failed (%s:%s): %w", cfg.Storage.Redis.Host, cfg.Storage.Redis.Port, err)
	}

	registry := streams.NewSchemaRegistry()
	if err := streams.RegisterBaseSchemas(registry); err != nil {
		return fmt.Errorf("register schemas: %w", err)
	}
	// The coordinator group is created from "$", so it must exist before the
	// first chat.incoming publish or that message is never delivered to it.
	group := cfg.Coordinator.Group
	if group == "" {
		group = streams.GroupCoordinator
	}
	if err := streams.EnsureGroups(ctx, rdb, group, streams.CoordinatorStreams()); err != nil {
		return fmt.Errorf("ensure coordinator groups: %w", err)
	}
	pub := streams.NewPublisher(rdb, registry)

	var sessions session.Store
	switch cfg.Session.Backend {
	case "redis":
		sessions = redis_session.NewStore(rdb)
	default:
		sessions = inmemory.NewStore()
	}

	var archive *store.Store
	if cfg.Storage.Postgres.Enabled() {
		st, err := store.New(ctx, cfg.Storage.Postgres)
		if err != nil {
			return fmt.Errorf("archive store: %w", err)
		}
		archive = st
	}

	tele := telemetry.NewTelemetry(cfg.Telemetry)
	defer tele.Shutdown()

	api := e.Group("/api")

	ch := &ChatHandler{
		Sessions:  sessions,
		Pub:       pub,
		Rdb:       rdb,
		TTL:       cfg.Session.TTL,
		ReplyWait: cfg.Server.ReplyWait,
		MaxLen:    cfg.Streams.MaxLenApprox,
	}
	ch.Register(api.Group("/chat"))

	sh := &SessionsHandler{Sessions: sessions, Archive: archive}
	sh.Register(api.Group("/sessions"))

	oh := NewOpsHandler(tele)
	oh.Register(api.Group("/ops"))

	sweeper := &Sweeper{
		Sessions: sessions,
		Archive:  archive,
		Rdb:      rdb,
		Schedule: cfg.Session.SweepSchedule,
		Stop:     make(chan struct{}),
	}
	sweeper.Start()
	defer close(sweeper.Stop)

	log.Printf("gateway listening on %s", cfg.Server.Address)
	return e.Start(cfg.Server.Address)
}
