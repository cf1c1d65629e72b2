// Package coordinator is the hub of the pipeline: it routes scoped intents,
// fans sub-tasks out to the stage workers, aggregates tagged sub-responses
// and assembles exactly one reply per completed turn.
package coordinator

import (
	"context"
	"log"
	"sync"
	"time"

	"go.opentelemetry.io/otel/trace"

	"github.com/homescout/homescout/config"
	"github.com/homescout/homescout/internal/queue/streams"
	"github.com/homescout/homescout/internal/session"
	"github.com/homescout/homescout/internal/store"
	"github.com/homescout/homescout/internal/telemetry"
)

// EventPublisher is the write side of the bus; *streams.Publisher satisfies it.
type EventPublisher interface {
	PublishRaw(ctx context.Context, stream, eventType, version string, payload interface{}, opts ...streams.PublishOption) (string, error)
	PublishTagged(ctx context.Context, stream, eventType, version string, tag streams.Tag, payload interface{}, opts ...streams.PublishOption) (string, error)
}

// Consumer is the read side; *streams.Consumer satisfies it.
type Consumer interface {
	ReadStreams(ctx context.Context, names []string, opts ...streams.ConsumerOption) ([]streams.Message, error)
	Ack(ctx context.Context, stream string, ids ...string) error
}

// Archive is the optional Postgres-backed history store. A nil archive means
// chat history and finalized responses are simply not persisted.
type Archive interface {
	ClaimIdempotency(ctx context.Context, scope, key string) (bool, error)
	InsertTurn(ctx context.Context, rec store.TurnRecord) error
	InsertResponse(ctx context.Context, rec store.ResponseRecord) error
}

// Coordinator consumes chat.incoming plus every result stream through one
// blocking group read and drives per-session aggregation state.
type Coordinator struct {
	logger    *log.Logger
	sessions  session.Store
	consumer  Consumer
	publisher EventPublisher
	archive   Archive
	telemetry *telemetry.Telemetry
	tracer    trace.Tracer

	ttl       time.Duration
	fanoutCap int
	deadline  time.Duration
	maxLen    int64
	block     time.Duration
	batch     int64

	mu     sync.Mutex
	timers map[string]*time.Timer
}

// New builds a coordinator. archive may be nil.
func New(logger *log.Logger, sessions session.Store, cons Consumer, pub EventPublisher, archive Archive, tel *telemetry.Telemetry, cfg *config.Config, tracer trace.Tracer) *Coordinator {
	if tracer == nil {
		tracer = trace.NewNoopTracerProvider().Tracer("coordinator")
	}
	return &Coordinator{
		logger:    logger,
		sessions:  sessions,
		consumer:  cons,
		publisher: pub,
		archive:   archive,
		telemetry: tel,
		tracer:    tracer,
		ttl:       cfg.Session.TTL,
		fanoutCap: cfg.Coordinator.FanoutCap,
		deadline:  cfg.Coordinator.StageDeadline,
		maxLen:    cfg.Streams.MaxLenApprox,
		block:     cfg.Streams.Block,
		batch:     cfg.Streams.BatchSize,
		timers:    make(map[string]*time.Timer),
	}
}

// Start blocks, multiplexing every coordinator stream until the context is
// cancelled.
func (c *Coordinator) Start(ctx context.Context) error {
	names := streams.CoordinatorStreams()
	c.logger.Printf("coordinator starting; consuming %d streams", len(names))

	for {
		select {
		case <-ctx.Done():
			c.logger.Printf("coordinator stopping: %v", ctx.Err())
			c.stopTimers()
			return nil
		default:
		}

		msgs, err := c.consumer.ReadStreams(ctx, names, streams.WithBlock(c.block), streams.WithCount(c.batch))
		if err != nil {
			if ctx.Err() != nil {
				c.stopTimers()
				return nil
			}
			c.logger.Printf("error reading streams: %v", err)
			time.Sleep(time.Second)
			continue
		}

		for _, msg := range msgs {
			if err := c.handleMessage(ctx, msg); err != nil {
				c.logger.Printf("error handling %s message %s: %v", msg.Stream, msg.ID, err)
			}
			if err := c.consumer.Ack(ctx, msg.Stream, msg.ID); err != nil {
				c.logger.Printf("warn: failed to ack message %s: %v", msg.ID, err)
			}
		}
	}
}

// handleMessage dispatches one consumed envelope. Redelivered events are
// dropped through the archive's idempotency claim when the archive is
// configured; the per-tag dedup inside the session record covers the rest.
func (c *Coordinator) handleMessage(ctx context.Context, msg streams.Message) error {
	ctx, span := c.tracer.Start(ctx, "coordinator.handle."+msg.Stream)
	defer span.End()

	if c.archive != nil {
		claimed, err := c.archive.ClaimIdempotency(ctx, msg.Envelope.EventType, msg.Envelope.EventID)
		if err != nil {
			c.logger.Printf("warn: idempotency claim failed for %s: %v", msg.Envelope.EventID, err)
		} else if !claimed {
			c.logger.Printf("skip event %s: already processed", msg.Envelope.EventID)
			return nil
		}
	}

	switch msg.Stream {
	case streams.StreamChatIncoming:
		return c.handleChatIncoming(ctx, msg.Envelope)
	case streams.StreamScopeResult:
		return c.handleScopeResult(ctx, msg.Envelope)
	case streams.StreamSearchResult:
		return c.handleSearchResult(ctx, msg.Envelope)
	case streams.StreamGeocodeResult:
		return c.handleGeocodeResult(ctx, msg.Envelope)
	case streams.StreamPoiResult:
		return c.handlePoiResult(ctx, msg.Envelope)
	case streams.StreamCommunityResult:
		return c.handleCommunityResult(ctx, msg.Envelope)
	case streams.StreamQaResult:
		return c.handleQaResult(ctx, msg.Envelope)
	default:
		c.logger.Printf("warn: message on unexpected stream %s", msg.Stream)
		return nil
	}
}
