package streams

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// Publisher wraps Redis Stream publishing with schema validation.
type Publisher struct {
	client   *redis.Client
	registry *SchemaRegistry
}

// PublishOption allows configuring Redis XADD behaviour.
type PublishOption func(*redis.XAddArgs)

// WithMaxLenApprox sets an approximate max length for the stream.
func WithMaxLenApprox(maxLen int64) PublishOption {
	return func(args *redis.XAddArgs) {
		if maxLen > 0 {
			args.MaxLen = maxLen
			args.Approx = true
		}
	}
}

// WithID overwrites the auto-generated stream ID (advanced use only).
func WithID(id string) PublishOption {
	return func(args *redis.XAddArgs) {
		if id != "" {
			args.ID = id
		}
	}
}

// NewPublisher creates a Publisher instance.
func NewPublisher(client *redis.Client, registry *SchemaRegistry) *Publisher {
	return &Publisher{client: client, registry: registry}
}

// Publish validates the envelope and appends it to the given Redis stream.
func (p *Publisher) Publish(ctx context.Context, stream string, envelope Envelope, opts ...PublishOption) (string, error) {
	if stream == "" {
		return "", fmt.Errorf("stream name is required")
	}
	if envelope.EventID == "" {
		envelope.EventID = uuid.NewString()
	}
	if envelope.OccurredAt.IsZero() {
		envelope.OccurredAt = time.Now().UTC()
	}
	if err := envelope.ValidateBasic(); err != nil {
		return "", err
	}

	if p.registry != nil {
		if err := p.registry.Validate(envelope.EventType, envelope.PayloadVersion, envelope.Data); err != nil {
			return "", err
		}
	}

	raw, err := envelope.Marshal()
	if err != nil {
		return "", err
	}

	args := &redis.XAddArgs{
		Stream: stream,
		Values: map[string]interface{}{"envelope": raw},
	}
	for _, opt := range opts {
		opt(args)
	}

	id, err := p.client.XAdd(ctx, args).Result()
	if err != nil {
		return "", fmt.Errorf("xadd: %w", err)
	}
	recordStreamMetrics(ctx, envelope.EventType, envelope.Data)
	return id, nil
}

// PublishRaw takes an arbitrary payload and wraps it in an envelope before publishing.
func (p *Publisher) PublishRaw(ctx context.Context, stream, eventType, version string, payload interface{}, opts ...PublishOption) (string, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return "", fmt.Errorf("marshal payload: %w", err)
	}
	env := Envelope{
		EventType:      eventType,
		PayloadVersion: version,
		Data:           data,
	}
	return p.Publish(ctx, stream, env, opts...)
}

// PublishTagged wraps a payload in an envelope carrying the fan-out tag so
// the matching sub-response can be correlated back by session and index.
func (p *Publisher) PublishTagged(ctx context.Context, stream, eventType, version string, tag Tag, payload interface{}, opts ...PublishOption) (string, error) {
	if tag.SessionID == "" {
		return "", fmt.Errorf("tag session id is required")
	}
	if tag.Index < 0 {
		return "", fmt.Errorf("tag index must be >= 0")
	}
	data, err := json.Marshal(payload)
	if err != nil {
		return "", fmt.Errorf("marshal payload: %w", err)
	}
	env := Envelope{
		EventType:      eventType,
		PayloadVersion: version,
		SessionID:      tag.SessionID,
		StageIndex:     IndexRef(tag.Index),
		Data:           data,
	}
	return p.Publish(ctx, stream, env, opts...)
}

// Republish re-publishes a consumed envelope with its attempt counter bumped.
// Used by workers to retry a failed handler without losing the tag.
func (p *Publisher) Republish(ctx context.Context, stream string, env Envelope, opts ...PublishOption) (string, error) {
	env.EventID = uuid.NewString()
	env.Attempt++
	env.OccurredAt = time.Now().UTC()
	return p.Publish(ctx, stream, env, opts...)
}
