// Package geocode resolves one listing address per request through Mapbox
// forward geocoding.
package geocode

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/homescout/homescout/internal/queue/streams"
	"github.com/homescout/homescout/internal/worker"
	"github.com/homescout/homescout/tools/mapbox"
)

// Agent wraps the Mapbox client for the geocode stage.
type Agent struct {
	client  mapbox.Client
	timeout time.Duration
}

// New builds the geocode stage agent.
func New(client mapbox.Client, timeout time.Duration) *Agent {
	return &Agent{client: client, timeout: timeout}
}

// Handle geocodes one fan-out item. Lookup failures are delivered as
// error-carrying results, not handler errors: the aggregator counts them as
// arrivals so a bad address can never stall the turn.
func (a *Agent) Handle(ctx context.Context, env streams.Envelope) ([]worker.Out, error) {
	tag, ok := env.Tag()
	if !ok {
		return nil, fmt.Errorf("geocode request missing correlation tag")
	}
	var req streams.GeocodeRequestPayload
	if err := json.Unmarshal(env.Data, &req); err != nil {
		return nil, fmt.Errorf("unmarshal geocode request: %w", err)
	}

	if a.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, a.timeout)
		defer cancel()
	}

	var payload streams.GeocodeResultPayload
	result, err := a.client.Forward(ctx, req.Address)
	if err != nil {
		payload.Error = err.Error()
	} else {
		payload.Latitude = result.Latitude
		payload.Longitude = result.Longitude
		payload.ResolvedAddress = result.FullAddress
	}

	return []worker.Out{{
		Stream:  streams.StreamGeocodeResult,
		Tag:     &tag,
		Payload: payload,
	}}, nil
}
