package worker

import (
	"context"
	"log"
	"time"

	otelmetric "go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"

	"github.com/homescout/homescout/config"
	"github.com/homescout/homescout/internal/queue/streams"
)

// Consumer is the read side of the stream bus a worker needs.
type Consumer interface {
	Read(ctx context.Context, stream string, opts ...streams.ConsumerOption) ([]streams.Message, error)
	Ack(ctx context.Context, stream string, ids ...string) error
}

// Publisher is the write side; *streams.Publisher satisfies it.
type Publisher interface {
	PublishRaw(ctx context.Context, stream, eventType, version string, payload interface{}, opts ...streams.PublishOption) (string, error)
	PublishTagged(ctx context.Context, stream, eventType, version string, tag streams.Tag, payload interface{}, opts ...streams.PublishOption) (string, error)
	Republish(ctx context.Context, stream string, env streams.Envelope, opts ...streams.PublishOption) (string, error)
}

// Out is one event a stage handler wants published. When Tag is set the
// event rides the envelope's typed correlation fields so the coordinator can
// match the sub-response back to its session and index.
type Out struct {
	Stream    string
	EventType string
	Tag       *streams.Tag
	Payload   interface{}
}

// HandlerFunc processes one request envelope for a stage. A returned error
// triggers a retry via republish; stage-level failures that still count as
// arrivals (a geocode miss, a community lookup with no sources) must instead
// be reported inside the result payload.
type HandlerFunc func(ctx context.Context, env streams.Envelope) ([]Out, error)

// Worker consumes one stage's request stream and runs its handler on every
// message. One process typically hosts several workers, one per stage.
type Worker struct {
	logger      *log.Logger
	consumer    Consumer
	publisher   Publisher
	stage       string
	stream      string
	handler     HandlerFunc
	block       time.Duration
	batch       int64
	maxAttempts int
	maxLen      int64
	tracer      trace.Tracer
	handled     otelmetric.Int64Counter
	retried     otelmetric.Int64Counter
	dropped     otelmetric.Int64Counter
}

// New builds a worker for one stage. The request stream is derived from the
// stage name; cfg supplies read batching and the retry ceiling.
func New(logger *log.Logger, cons Consumer, pub Publisher, stage string, handler HandlerFunc, cfg config.StreamsConfig, meter otelmetric.Meter, tracer trace.Tracer) (*Worker, error) {
	request, _, err := streams.StagePair(stage)
	if err != nil {
		return nil, err
	}
	if tracer == nil {
		tracer = trace.NewNoopTracerProvider().Tracer("worker")
	}

	w := &Worker{
		logger:      logger,
		consumer:    cons,
		publisher:   pub,
		stage:       stage,
		stream:      request,
		handler:     handler,
		block:       cfg.Block,
		batch:       int64(cfg.BatchSize),
		maxAttempts: cfg.MaxAttempts,
		maxLen:      cfg.MaxLenApprox,
		tracer:      tracer,
	}
	if meter != nil {
		if w.handled, err = meter.Int64Counter("worker_events_handled"); err != nil {
			logger.Printf("warn: create handled counter failed: %v", err)
		}
		if w.retried, err = meter.Int64Counter("worker_events_retried"); err != nil {
			logger.Printf("warn: create retried counter failed: %v", err)
		}
		if w.dropped, err = meter.Int64Counter("worker_events_dropped"); err != nil {
			logger.Printf("warn: create dropped counter failed: %v", err)
		}
	}
	return w, nil
}

// Stream returns the request stream this worker consumes.
func (w *Worker) Stream() string { return w.stream }

// Start blocks, processing requests until the context is cancelled.
func (w *Worker) Start(ctx context.Context) error {
	w.logger.Printf("stage %s worker starting; consuming stream %s", w.stage, w.stream)
	for {
		select {
		case <-ctx.Done():
			w.logger.Printf("stage %s worker stopping: %v", w.stage, ctx.Err())
			return nil
		default:
		}

		msgs, err := w.consumer.Read(ctx, w.stream, streams.WithBlock(w.block), streams.WithCount(w.batch))
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			w.logger.Printf("error reading stream %s: %v", w.stream, err)
			time.Sleep(time.Second)
			continue
		}
		if len(msgs) == 0 {
			continue
		}

		for _, msg := range msgs {
			w.handleMessage(ctx, msg)
			if err := w.consumer.Ack(ctx, w.stream, msg.ID); err != nil {
				w.logger.Printf("warn: failed to ack message %s: %v", msg.ID, err)
			}
		}
	}
}

// handleMessage runs the handler once and publishes its outputs. Handler
// failures republish the envelope with the attempt counter bumped until the
// ceiling, after which the event is dropped; the coordinator's stage deadline
// covers the lost arrival.
func (w *Worker) handleMessage(ctx context.Context, msg streams.Message) {
	ctx, span := w.tracer.Start(ctx, "worker."+w.stage)
	defer span.End()

	outs, err := w.handler(ctx, msg.Envelope)
	if err != nil {
		if msg.Envelope.Attempt+1 >= w.maxAttempts {
			w.logger.Printf("drop event %s on %s after %d attempts: %v", msg.Envelope.EventID, w.stream, msg.Envelope.Attempt+1, err)
			if w.dropped != nil {
				w.dropped.Add(ctx, 1)
			}
			return
		}
		if _, rerr := w.publisher.Republish(ctx, msg.Stream, msg.Envelope, streams.WithMaxLenApprox(w.maxLen)); rerr != nil {
			w.logger.Printf("error republishing event %s: %v", msg.Envelope.EventID, rerr)
		}
		if w.retried != nil {
			w.retried.Add(ctx, 1)
		}
		return
	}

	for _, out := range outs {
		w.publish(ctx, out)
	}
	if w.handled != nil {
		w.handled.Add(ctx, 1)
	}
}

func (w *Worker) publish(ctx context.Context, out Out) {
	eventType := out.EventType
	if eventType == "" {
		eventType = out.Stream
	}
	var err error
	if out.Tag != nil {
		_, err = w.publisher.PublishTagged(ctx, out.Stream, eventType, streams.PayloadV1, *out.Tag, out.Payload, streams.WithMaxLenApprox(w.maxLen))
	} else {
		_, err = w.publisher.PublishRaw(ctx, out.Stream, eventType, streams.PayloadV1, out.Payload, streams.WithMaxLenApprox(w.maxLen))
	}
	if err != nil {
		w.logger.Printf("error publishing %s to %s: %v", eventType, out.Stream, err)
	}
}
