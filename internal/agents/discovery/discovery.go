// Package discovery sweeps the configured place categories around a geocoded
// listing through the Mapbox Search Box API.
package discovery

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/homescout/homescout/config"
	"github.com/homescout/homescout/internal/queue/streams"
	"github.com/homescout/homescout/internal/worker"
	"github.com/homescout/homescout/models"
	"github.com/homescout/homescout/tools/mapbox"
)

// Agent wraps the Mapbox client for the poi stage.
type Agent struct {
	client      mapbox.Client
	categories  []string
	perCategory int
	timeout     time.Duration
}

// New builds the discovery stage agent from the mapbox config section.
func New(client mapbox.Client, cfg config.MapboxConfig) *Agent {
	return &Agent{
		client:      client,
		categories:  cfg.Categories,
		perCategory: cfg.CategoryLimit,
		timeout:     cfg.Timeout,
	}
}

// Handle looks up nearby places for one geocoded listing. Individual
// category failures degrade to fewer points; only a total miss is reported,
// and even that as an error-carrying arrival rather than a retry.
func (a *Agent) Handle(ctx context.Context, env streams.Envelope) ([]worker.Out, error) {
	tag, ok := env.Tag()
	if !ok {
		return nil, fmt.Errorf("poi request missing correlation tag")
	}
	var req streams.PoiRequestPayload
	if err := json.Unmarshal(env.Data, &req); err != nil {
		return nil, fmt.Errorf("unmarshal poi request: %w", err)
	}

	if a.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, a.timeout)
		defer cancel()
	}

	payload := streams.PoiResultPayload{ListingIndex: req.ListingIndex, Points: []models.PoiPoint{}}
	points, err := a.client.Nearby(ctx, req.Latitude, req.Longitude, a.categories, a.perCategory)
	if err != nil {
		payload.Error = err.Error()
	} else if points != nil {
		payload.Points = points
	}

	return []worker.Out{{
		Stream:  streams.StreamPoiResult,
		Tag:     &tag,
		Payload: payload,
	}}, nil
}
