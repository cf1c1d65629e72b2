package streams

import (
	"context"
	"encoding/json"
	"log"
	"sync"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	otelmetric "go.opentelemetry.io/otel/metric"
)

var (
	streamMetricsOnce sync.Once
	turnsIncoming     otelmetric.Int64Counter
	fanoutDispatched  otelmetric.Int64Counter
	arrivalsTotal     otelmetric.Int64Counter
	repliesPublished  otelmetric.Int64Counter
	searchBatchSize   otelmetric.Float64Histogram
)

func initStreamMetrics() {
	meter := otel.Meter("homescout/queue/streams")
	var err error
	turnsIncoming, err = meter.Int64Counter(
		"chat_turns_incoming_total",
		otelmetric.WithDescription("User turns entering the pipeline"),
	)
	if err != nil {
		log.Printf("queue streams metrics init: chat_turns_incoming_total: %v", err)
	}
	fanoutDispatched, err = meter.Int64Counter(
		"fanout_subrequests_total",
		otelmetric.WithDescription("Fan-out sub-requests published, by stage"),
	)
	if err != nil {
		log.Printf("queue streams metrics init: fanout_subrequests_total: %v", err)
	}
	arrivalsTotal, err = meter.Int64Counter(
		"fanin_arrivals_total",
		otelmetric.WithDescription("Sub-responses published toward the aggregator, by stage"),
	)
	if err != nil {
		log.Printf("queue streams metrics init: fanin_arrivals_total: %v", err)
	}
	repliesPublished, err = meter.Int64Counter(
		"chat_replies_total",
		otelmetric.WithDescription("Final turn replies published"),
	)
	if err != nil {
		log.Printf("queue streams metrics init: chat_replies_total: %v", err)
	}
	searchBatchSize, err = meter.Float64Histogram(
		"search_batch_listings",
		otelmetric.WithDescription("Listings per search result batch"),
	)
	if err != nil {
		log.Printf("queue streams metrics init: search_batch_listings: %v", err)
	}
}

func recordStreamMetrics(ctx context.Context, eventType string, payload []byte) {
	switch eventType {
	case StreamChatIncoming:
		streamMetricsOnce.Do(initStreamMetrics)
		if turnsIncoming == nil {
			return
		}
		turnsIncoming.Add(contextOrBackground(ctx), 1)
	case StreamGeocodeRequest, StreamPoiRequest:
		streamMetricsOnce.Do(initStreamMetrics)
		if fanoutDispatched == nil {
			return
		}
		stage := StageGeocode
		if eventType == StreamPoiRequest {
			stage = StagePoi
		}
		fanoutDispatched.Add(contextOrBackground(ctx), 1,
			otelmetric.WithAttributes(attribute.String("stage", stage)))
	case StreamGeocodeResult, StreamPoiResult, StreamCommunityResult, StreamQaResult:
		streamMetricsOnce.Do(initStreamMetrics)
		if arrivalsTotal == nil {
			return
		}
		var stage string
		switch eventType {
		case StreamGeocodeResult:
			stage = StageGeocode
		case StreamPoiResult:
			stage = StagePoi
		case StreamCommunityResult:
			stage = StageCommunity
		case StreamQaResult:
			stage = StageQa
		}
		var doc map[string]interface{}
		failed := false
		if err := json.Unmarshal(payload, &doc); err == nil {
			if msg, ok := doc["error"].(string); ok && msg != "" {
				failed = true
			}
		}
		arrivalsTotal.Add(contextOrBackground(ctx), 1, otelmetric.WithAttributes(
			attribute.String("stage", stage),
			attribute.Bool("failed", failed),
		))
	case StreamSearchResult:
		streamMetricsOnce.Do(initStreamMetrics)
		if searchBatchSize == nil {
			return
		}
		var doc map[string]interface{}
		if err := json.Unmarshal(payload, &doc); err != nil {
			return
		}
		if arr, ok := doc["listings"].([]interface{}); ok {
			searchBatchSize.Record(contextOrBackground(ctx), float64(len(arr)))
		}
	case EventTypeChatReply:
		streamMetricsOnce.Do(initStreamMetrics)
		if repliesPublished == nil {
			return
		}
		var doc map[string]interface{}
		partial := false
		if err := json.Unmarshal(payload, &doc); err == nil {
			if p, ok := doc["partial"].(bool); ok {
				partial = p
			}
		}
		repliesPublished.Add(contextOrBackground(ctx), 1,
			otelmetric.WithAttributes(attribute.Bool("partial", partial)))
	}
}

func contextOrBackground(ctx context.Context) context.Context {
	if ctx == nil {
		return context.Background()
	}
	return ctx
}
