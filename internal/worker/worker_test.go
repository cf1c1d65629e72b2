package worker

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log"
	"testing"

	"github.com/homescout/homescout/config"
	"github.com/homescout/homescout/internal/queue/streams"
)

type consumerStub struct {
	msgs     []streams.Message
	reads    int
	acked    []string
	onSecond func()
}

func (c *consumerStub) Read(ctx context.Context, stream string, opts ...streams.ConsumerOption) ([]streams.Message, error) {
	c.reads++
	if c.reads == 1 {
		return c.msgs, nil
	}
	if c.onSecond != nil {
		c.onSecond()
	}
	return nil, nil
}

func (c *consumerStub) Ack(ctx context.Context, stream string, ids ...string) error {
	c.acked = append(c.acked, ids...)
	return nil
}

type publishCall struct {
	stream    string
	eventType string
	tag       *streams.Tag
	payload   interface{}
}

type publisherStub struct {
	published   []publishCall
	republished []streams.Envelope
}

func (p *publisherStub) PublishRaw(_ context.Context, stream, eventType, version string, payload interface{}, _ ...streams.PublishOption) (string, error) {
	p.published = append(p.published, publishCall{stream: stream, eventType: eventType, payload: payload})
	return "0-0", nil
}

func (p *publisherStub) PublishTagged(_ context.Context, stream, eventType, version string, tag streams.Tag, payload interface{}, _ ...streams.PublishOption) (string, error) {
	p.published = append(p.published, publishCall{stream: stream, eventType: eventType, tag: &tag, payload: payload})
	return "0-0", nil
}

func (p *publisherStub) Republish(_ context.Context, stream string, env streams.Envelope, _ ...streams.PublishOption) (string, error) {
	p.republished = append(p.republished, env)
	return "0-0", nil
}

func testStreamsConfig() config.StreamsConfig {
	return config.StreamsConfig{}.Normalize()
}

func requestMessage(attempt int) streams.Message {
	return streams.Message{
		Stream: streams.StreamGeocodeRequest,
		ID:     "1-0",
		Envelope: streams.Envelope{
			EventID:        "evt-1",
			EventType:      streams.StreamGeocodeRequest,
			Attempt:        attempt,
			PayloadVersion: streams.PayloadV1,
			SessionID:      "sess-1",
			StageIndex:     streams.IndexRef(2),
			Data:           json.RawMessage(`{"address":"123 Main St"}`),
		},
	}
}

func TestWorkerPublishesHandlerOutputs(t *testing.T) {
	pub := &publisherStub{}
	handler := func(ctx context.Context, env streams.Envelope) ([]Out, error) {
		tag, ok := env.Tag()
		if !ok {
			t.Fatal("expected tagged envelope")
		}
		return []Out{{
			Stream:  streams.StreamGeocodeResult,
			Tag:     &tag,
			Payload: streams.GeocodeResultPayload{Latitude: 37.8, Longitude: -122.27},
		}}, nil
	}
	w, err := New(log.New(io.Discard, "", 0), &consumerStub{}, pub, streams.StageGeocode, handler, testStreamsConfig(), nil, nil)
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	w.handleMessage(context.Background(), requestMessage(0))

	if len(pub.published) != 1 {
		t.Fatalf("expected 1 publish, got %d", len(pub.published))
	}
	call := pub.published[0]
	if call.stream != streams.StreamGeocodeResult || call.eventType != streams.StreamGeocodeResult {
		t.Fatalf("unexpected publish target %+v", call)
	}
	if call.tag == nil || call.tag.SessionID != "sess-1" || call.tag.Index != 2 {
		t.Fatalf("tag not carried through: %+v", call.tag)
	}
	if len(pub.republished) != 0 {
		t.Fatal("success must not republish")
	}
}

func TestWorkerRetriesFailedHandler(t *testing.T) {
	pub := &publisherStub{}
	handler := func(ctx context.Context, env streams.Envelope) ([]Out, error) {
		return nil, errors.New("upstream flaked")
	}
	w, err := New(log.New(io.Discard, "", 0), &consumerStub{}, pub, streams.StageGeocode, handler, testStreamsConfig(), nil, nil)
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	w.handleMessage(context.Background(), requestMessage(0))

	if len(pub.republished) != 1 {
		t.Fatalf("expected 1 republish, got %d", len(pub.republished))
	}
	if pub.republished[0].EventID != "evt-1" {
		t.Fatalf("unexpected envelope republished: %+v", pub.republished[0])
	}
	if len(pub.published) != 0 {
		t.Fatal("failed handler must not publish results")
	}
}

func TestWorkerDropsAfterMaxAttempts(t *testing.T) {
	pub := &publisherStub{}
	handler := func(ctx context.Context, env streams.Envelope) ([]Out, error) {
		return nil, errors.New("still failing")
	}
	cfg := testStreamsConfig()
	w, err := New(log.New(io.Discard, "", 0), &consumerStub{}, pub, streams.StageGeocode, handler, cfg, nil, nil)
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	w.handleMessage(context.Background(), requestMessage(cfg.MaxAttempts-1))

	if len(pub.republished) != 0 {
		t.Fatal("exhausted event must not republish")
	}
	if len(pub.published) != 0 {
		t.Fatal("exhausted event must not publish results")
	}
}

func TestWorkerStartAcksMessages(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cons := &consumerStub{msgs: []streams.Message{requestMessage(0)}, onSecond: cancel}
	pub := &publisherStub{}
	handler := func(ctx context.Context, env streams.Envelope) ([]Out, error) {
		return nil, nil
	}
	w, err := New(log.New(io.Discard, "", 0), cons, pub, streams.StageGeocode, handler, testStreamsConfig(), nil, nil)
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	if err := w.Start(ctx); err != nil {
		t.Fatalf("Start: %v", err)
	}
	if len(cons.acked) != 1 || cons.acked[0] != "1-0" {
		t.Fatalf("expected message acked, got %v", cons.acked)
	}
}

func TestNewRejectsUnknownStage(t *testing.T) {
	_, err := New(log.New(io.Discard, "", 0), &consumerStub{}, &publisherStub{}, "replicate", nil, testStreamsConfig(), nil, nil)
	if err == nil {
		t.Fatal("expected error for unknown stage")
	}
}
