package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.opentelemetry.io/otel"
	"golang.org/x/sync/errgroup"

	"github.com/homescout/homescout/config"
	"github.com/homescout/homescout/internal/agents/community"
	"github.com/homescout/homescout/internal/agents/discovery"
	"github.com/homescout/homescout/internal/agents/geocode"
	"github.com/homescout/homescout/internal/agents/qa"
	"github.com/homescout/homescout/internal/agents/research"
	"github.com/homescout/homescout/internal/agents/scoping"
	"github.com/homescout/homescout/internal/queue/streams"
	"github.com/homescout/homescout/internal/worker"
	"github.com/homescout/homescout/provider"
	"github.com/homescout/homescout/tools/mapbox"
	"github.com/homescout/homescout/tools/web_fetch"
	"github.com/homescout/homescout/tools/web_search"
)

func workerCMD(cfgPath *string) *cobra.Command {
	var agents []string
	cmd := &cobra.Command{
		Use:   "worker",
		Short: "Run stage workers (scoping, research, geocode, discovery, community, qa)",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := config.LoadConfig(*cfgPath)
			if len(agents) > 0 {
				cfg.Worker.Agents = agents
				cfg.Worker = cfg.Worker.Normalize()
			}
			if len(cfg.Worker.Agents) == 0 {
				return fmt.Errorf("no agents configured (worker.agents)")
			}

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

			handlers, err := buildHandlers(cfg)
			if err != nil {
				return err
			}

			var requestStreams []string
			for _, h := range handlers {
				request, _, err := streams.StagePair(h.stage)
				if err != nil {
					return err
				}
				requestStreams = append(requestStreams, request)
			}
			if err := streams.EnsureGroups(ctx, rdb, streams.GroupWorkers, requestStreams); err != nil {
				return fmt.Errorf("ensure worker groups: %w", err)
			}

			pub := streams.NewPublisher(rdb, registry)
			consumerName, err := os.Hostname()
			if err != nil || consumerName == "" {
				consumerName = "worker-1"
			}
			cons := streams.NewConsumer(rdb, registry, streams.GroupWorkers, consumerName)
			meter := otel.Meter("worker")
			tracer := otel.Tracer("worker")

			g, ctx := errgroup.WithContext(ctx)
			for _, h := range handlers {
				logger := log.New(log.Writer(), fmt.Sprintf("[WORKER:%s] ", h.stage), log.LstdFlags)
				w, err := worker.New(logger, cons, pub, h.stage, h.handler, cfg.Streams, meter, tracer)
				if err != nil {
					return err
				}
				g.Go(func() error { return w.Start(ctx) })
			}
			log.Printf("worker hosting %d stages", len(handlers))
			return g.Wait()
		},
	}
	cmd.Flags().StringSliceVar(&agents, "agents", nil, "agents to host (overrides worker.agents)")
	return cmd
}

type stageHandler struct {
	stage   string
	handler worker.HandlerFunc
}

// buildHandlers wires each configured agent to its stage handler, creating
// the shared LLM provider and tools only when an enabled agent needs them.
func buildHandlers(cfg *config.Config) ([]stageHandler, error) {
	need := make(map[string]bool, len(cfg.Worker.Agents))
	for _, name := range cfg.Worker.Agents {
		need[name] = true
	}

	var prov provider.Provider
	if need["scoping"] || need["research"] || need["community"] || need["qa"] {
		p, err := provider.NewProvider(cfg.LLM)
		if err != nil {
			return nil, fmt.Errorf("llm provider: %w", err)
		}
		prov = p
	}

	var searcher web_search.WebSearcher
	if need["research"] || need["community"] {
		apiKey := cfg.Search.SerperAPIKey
		if cfg.Search.Provider == string(web_search.BraveProvider) {
			apiKey = cfg.Search.BraveAPIKey
		}
		s, err := web_search.NewWebSearcher(web_search.Provider(cfg.Search.Provider), apiKey)
		if err != nil {
			return nil, fmt.Errorf("web searcher: %w", err)
		}
		searcher = s
	}

	mb := mapbox.Client{Token: cfg.Mapbox.Token, BaseURL: cfg.Mapbox.BaseURL}

	var out []stageHandler
	for _, name := range cfg.Worker.Agents {
		switch name {
		case "scoping":
			out = append(out, stageHandler{streams.StageScoping, scoping.New(prov).Handle})
		case "research":
			fetcher, err := web_fetch.NewWebFetcher(web_fetch.FetcherType(cfg.Search.Fetcher), cfg.Search.FetchTimeout, cfg.Search.FetchMaxChars)
			if err != nil {
				return nil, fmt.Errorf("page fetcher: %w", err)
			}
			logger := log.New(log.Writer(), "[RESEARCH] ", log.LstdFlags)
			out = append(out, stageHandler{streams.StageSearch, research.New(logger, prov, searcher, fetcher, cfg.Search).Handle})
		case "geocode":
			out = append(out, stageHandler{streams.StageGeocode, geocode.New(mb, cfg.Mapbox.Timeout).Handle})
		case "discovery":
			out = append(out, stageHandler{streams.StagePoi, discovery.New(mb, cfg.Mapbox).Handle})
		case "community":
			// news/article pages render fine without a browser
			fetcher, err := web_fetch.NewWebFetcher(web_fetch.HTTPFetcherType, cfg.Search.FetchTimeout, cfg.Search.FetchMaxChars)
			if err != nil {
				return nil, fmt.Errorf("page fetcher: %w", err)
			}
			logger := log.New(log.Writer(), "[COMMUNITY] ", log.LstdFlags)
			out = append(out, stageHandler{streams.StageCommunity, community.New(logger, prov, searcher, fetcher).Handle})
		case "qa":
			out = append(out, stageHandler{streams.StageQa, qa.New(prov).Handle})
		default:
			return nil, fmt.Errorf("unknown agent %q", name)
		}
	}
	return out, nil
}
