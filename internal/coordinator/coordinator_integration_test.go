package coordinator_test

import (
	"context"
	"encoding/json"
	"io"
	"log"
	"strings"
	"testing"
	"time"

	goredis "github.com/redis/go-redis/v9"
	"github.com/testcontainers/testcontainers-go"
	tcredis "github.com/testcontainers/testcontainers-go/modules/redis"

	"github.com/homescout/homescout/config"
	"github.com/homescout/homescout/internal/coordinator"
	"github.com/homescout/homescout/internal/queue/streams"
	"github.com/homescout/homescout/internal/session/inmemory"
	"github.com/homescout/homescout/models"
)

func startRedis(t *testing.T, ctx context.Context) *goredis.Client {
	t.Helper()
	rc, err := tcredis.RunContainer(ctx, testcontainers.WithImage("docker.io/redis:7-alpine"))
	if err != nil {
		t.Fatalf("failed to start redis: %v", err)
	}
	t.Cleanup(func() { _ = rc.Terminate(context.Background()) })

	uri, err := rc.ConnectionString(ctx)
	if err != nil {
		t.Fatalf("failed to get connection string: %v", err)
	}
	opts, err := goredis.ParseURL(uri)
	if err != nil {
		t.Fatalf("failed to parse redis url: %v", err)
	}
	client := goredis.NewClient(opts)
	t.Cleanup(func() { _ = client.Close() })
	if err := client.Ping(ctx).Err(); err != nil {
		t.Fatalf("redis not reachable: %v", err)
	}
	return client
}

type bus struct {
	client   *goredis.Client
	registry *streams.SchemaRegistry
	pub      *streams.Publisher
	sessions *inmemory.Store
}

// startBus wires a real publisher, consumer groups and a running coordinator
// against the container, mirroring how the serve command assembles them.
func startBus(t *testing.T, ctx context.Context, client *goredis.Client) *bus {
	t.Helper()

	registry := streams.NewSchemaRegistry()
	if err := streams.RegisterBaseSchemas(registry); err != nil {
		t.Fatalf("register schemas: %v", err)
	}
	if err := streams.EnsureGroups(ctx, client, streams.GroupCoordinator, streams.CoordinatorStreams()); err != nil {
		t.Fatalf("ensure coordinator groups: %v", err)
	}
	workerStreams := []string{
		streams.StreamScopeRequest,
		streams.StreamSearchRequest,
		streams.StreamGeocodeRequest,
		streams.StreamPoiRequest,
		streams.StreamCommunityRequest,
		streams.StreamQaRequest,
	}
	if err := streams.EnsureGroups(ctx, client, streams.GroupWorkers, workerStreams); err != nil {
		t.Fatalf("ensure worker groups: %v", err)
	}

	pub := streams.NewPublisher(client, registry)
	cons := streams.NewConsumer(client, registry, streams.GroupCoordinator, "itest-coordinator")
	sessions := inmemory.NewStore()

	cfg := &config.Config{}
	cfg.Streams = config.StreamsConfig{Block: 200 * time.Millisecond}.Normalize()
	cfg.Coordinator = config.CoordinatorConfig{FanoutCap: 5, StageDeadline: 30 * time.Second}
	cfg.Session = config.SessionConfig{Backend: "memory", TTL: time.Hour}

	c := coordinator.New(log.New(io.Discard, "", 0), sessions, cons, pub, nil, nil, cfg, nil)

	runCtx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = c.Start(runCtx)
	}()
	t.Cleanup(func() {
		cancel()
		select {
		case <-done:
		case <-time.After(5 * time.Second):
			t.Log("coordinator did not stop in time")
		}
	})

	return &bus{client: client, registry: registry, pub: pub, sessions: sessions}
}

// runWorker consumes one request stream and answers through the handler, the
// way a stage worker would. The goroutine is stopped and drained on cleanup
// so a slow handler cannot outlive the test. Handler errors fail the test
// without retrying.
func (b *bus) runWorker(t *testing.T, ctx context.Context, stream, name string, handle func(env streams.Envelope) error) {
	t.Helper()
	cons := streams.NewConsumer(b.client, b.registry, streams.GroupWorkers, name)
	wctx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})
	go func() {
		defer close(done)
		for {
			if wctx.Err() != nil {
				return
			}
			msgs, err := cons.Read(wctx, stream, streams.WithBlock(200*time.Millisecond), streams.WithCount(8))
			if err != nil {
				if wctx.Err() != nil {
					return
				}
				continue
			}
			for _, msg := range msgs {
				if err := handle(msg.Envelope); err != nil {
					t.Errorf("%s worker: %v", name, err)
				}
				_ = cons.Ack(wctx, stream, msg.ID)
			}
		}
	}()
	t.Cleanup(func() {
		cancel()
		<-done
	})
}

func awaitReply(t *testing.T, ctx context.Context, client *goredis.Client, stream string, timeout time.Duration) streams.ChatReplyPayload {
	t.Helper()
	res, err := client.XRead(ctx, &goredis.XReadArgs{
		Streams: []string{stream, "0"},
		Count:   1,
		Block:   timeout,
	}).Result()
	if err != nil {
		t.Fatalf("no reply on %s: %v", stream, err)
	}
	raw, ok := res[0].Messages[0].Values["envelope"].(string)
	if !ok {
		t.Fatalf("reply entry missing envelope: %+v", res[0].Messages[0].Values)
	}
	env, err := streams.UnmarshalEnvelope([]byte(raw))
	if err != nil {
		t.Fatalf("decode reply envelope: %v", err)
	}
	var payload streams.ChatReplyPayload
	if err := json.Unmarshal(env.Data, &payload); err != nil {
		t.Fatalf("decode reply payload: %v", err)
	}
	return payload
}

func TestRelayFlowOverRedis(t *testing.T) {
	if testing.Short() {
		t.Skip("requires docker")
	}
	ctx := context.Background()
	client := startRedis(t, ctx)
	b := startBus(t, ctx, client)

	// The scoping worker asks for more detail, echoing the turn tag.
	b.runWorker(t, ctx, streams.StreamScopeRequest, "itest-scoper", func(env streams.Envelope) error {
		var req streams.ScopeRequestPayload
		if err := json.Unmarshal(env.Data, &req); err != nil {
			return err
		}
		result := streams.ScopeResultPayload{
			SessionID: req.SessionID,
			ScopingResult: models.ScopingResult{
				AgentMessage: "Which neighborhood are you interested in?",
			},
		}
		if tag, ok := env.Tag(); ok {
			_, err := b.pub.PublishTagged(ctx, streams.StreamScopeResult, streams.StreamScopeResult, streams.PayloadV1, tag, result)
			return err
		}
		_, err := b.pub.PublishRaw(ctx, streams.StreamScopeResult, streams.StreamScopeResult, streams.PayloadV1, result)
		return err
	})

	replyStream := streams.ReplyStream("it-relay")
	if _, err := b.pub.PublishRaw(ctx, streams.StreamChatIncoming, streams.StreamChatIncoming, streams.PayloadV1, streams.ChatIncomingPayload{
		SessionID:   "it-relay",
		Message:     "looking for a house",
		ReplyStream: replyStream,
	}); err != nil {
		t.Fatalf("publish chat.incoming: %v", err)
	}

	reply := awaitReply(t, ctx, client, replyStream, 15*time.Second)
	if reply.Message != "Which neighborhood are you interested in?" {
		t.Fatalf("unexpected reply %q", reply.Message)
	}
	if reply.Turn != 1 || reply.Partial {
		t.Fatalf("unexpected reply metadata %+v", reply)
	}

	st, ok, err := b.sessions.Get(ctx, "it-relay")
	if err != nil || !ok {
		t.Fatalf("session missing: %v", err)
	}
	if !st.Finalized || len(st.History) != 2 {
		t.Fatalf("unexpected session state %+v", st)
	}
}

func TestSearchFanoutFlowOverRedis(t *testing.T) {
	if testing.Short() {
		t.Skip("requires docker")
	}
	ctx := context.Background()
	client := startRedis(t, ctx)
	b := startBus(t, ctx, client)

	b.runWorker(t, ctx, streams.StreamScopeRequest, "itest-scoper", func(env streams.Envelope) error {
		var req streams.ScopeRequestPayload
		if err := json.Unmarshal(env.Data, &req); err != nil {
			return err
		}
		result := streams.ScopeResultPayload{
			SessionID: req.SessionID,
			ScopingResult: models.ScopingResult{
				IsComplete:   true,
				Requirements: &models.Requirements{Location: "Oakland, CA", Bedrooms: 2},
				AgentMessage: "On it.",
			},
		}
		tag, ok := env.Tag()
		if !ok {
			_, err := b.pub.PublishRaw(ctx, streams.StreamScopeResult, streams.StreamScopeResult, streams.PayloadV1, result)
			return err
		}
		_, err := b.pub.PublishTagged(ctx, streams.StreamScopeResult, streams.StreamScopeResult, streams.PayloadV1, tag, result)
		return err
	})

	b.runWorker(t, ctx, streams.StreamSearchRequest, "itest-researcher", func(env streams.Envelope) error {
		var req streams.SearchRequestPayload
		if err := json.Unmarshal(env.Data, &req); err != nil {
			return err
		}
		_, err := b.pub.PublishRaw(ctx, streams.StreamSearchResult, streams.StreamSearchResult, streams.PayloadV1, streams.SearchResultPayload{
			SessionID: req.SessionID,
			Listings: []models.Listing{
				{Title: "Craftsman near the lake", Address: "500 Grand Ave, Oakland, CA", Price: 725000, Bedrooms: 2, Bathrooms: 1},
				{Title: "Bungalow with garden", Address: "12 Park Blvd, Oakland, CA", Price: 680000, Bedrooms: 2, Bathrooms: 2},
			},
			SearchSummary: "Two matches around Lake Merritt.",
			TotalFound:    2,
		})
		return err
	})

	b.runWorker(t, ctx, streams.StreamGeocodeRequest, "itest-geocoder", func(env streams.Envelope) error {
		tag, ok := env.Tag()
		if !ok {
			t.Error("geocode request without a tag")
			return nil
		}
		_, err := b.pub.PublishTagged(ctx, streams.StreamGeocodeResult, streams.StreamGeocodeResult, streams.PayloadV1, tag, streams.GeocodeResultPayload{
			Latitude:  37.8103,
			Longitude: -122.2490,
		})
		return err
	})

	b.runWorker(t, ctx, streams.StreamPoiRequest, "itest-discoverer", func(env streams.Envelope) error {
		tag, ok := env.Tag()
		if !ok {
			t.Error("poi request without a tag")
			return nil
		}
		var req streams.PoiRequestPayload
		if err := json.Unmarshal(env.Data, &req); err != nil {
			return err
		}
		_, err := b.pub.PublishTagged(ctx, streams.StreamPoiResult, streams.StreamPoiResult, streams.PayloadV1, tag, streams.PoiResultPayload{
			ListingIndex: req.ListingIndex,
			Points:       []models.PoiPoint{{Name: "Blue Bottle Coffee", Category: "cafe", DistanceMeters: 180}},
		})
		return err
	})

	replyStream := streams.ReplyStream("it-search")
	if _, err := b.pub.PublishRaw(ctx, streams.StreamChatIncoming, streams.StreamChatIncoming, streams.PayloadV1, streams.ChatIncomingPayload{
		SessionID:   "it-search",
		Message:     "2 bed near Lake Merritt",
		ReplyStream: replyStream,
	}); err != nil {
		t.Fatalf("publish chat.incoming: %v", err)
	}

	reply := awaitReply(t, ctx, client, replyStream, 30*time.Second)
	for _, want := range []string{
		"Two matches around Lake Merritt.",
		"Found 2 properties",
		"Craftsman near the lake",
		"Bungalow with garden",
		"Blue Bottle Coffee",
	} {
		if !strings.Contains(reply.Message, want) {
			t.Fatalf("reply missing %q:\n%s", want, reply.Message)
		}
	}
	if reply.Partial {
		t.Fatalf("complete flow should not be partial: %+v", reply)
	}

	// Every stage drained: exactly one reply entry on the stream.
	entries, err := client.XLen(ctx, replyStream).Result()
	if err != nil {
		t.Fatalf("xlen: %v", err)
	}
	if entries != 1 {
		t.Fatalf("expected a single reply entry, got %d", entries)
	}

	st, ok, err := b.sessions.Get(ctx, "it-search")
	if err != nil || !ok {
		t.Fatalf("session missing: %v", err)
	}
	if st.ExpectedGeocode != 2 || st.ArrivedGeocode != 2 || st.ArrivedPoi != 2 || !st.Finalized {
		t.Fatalf("unexpected final state %+v", st)
	}
}
