package discovery

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"github.com/homescout/homescout/config"
	"github.com/homescout/homescout/internal/queue/streams"
	"github.com/homescout/homescout/tools/mapbox"
)

func poiEnvelope(t *testing.T, payload streams.PoiRequestPayload) streams.Envelope {
	t.Helper()
	data, err := json.Marshal(payload)
	if err != nil {
		t.Fatalf("marshal payload: %v", err)
	}
	return streams.Envelope{
		EventID:        "evt-1",
		EventType:      streams.StreamPoiRequest,
		PayloadVersion: streams.PayloadV1,
		SessionID:      "sess-1",
		StageIndex:     streams.IndexRef(payload.ListingIndex),
		Data:           data,
	}
}

func TestHandleSweepsConfiguredCategories(t *testing.T) {
	var calls int64
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt64(&calls, 1)
		fmt.Fprint(w, `{"features":[{"geometry":{"coordinates":[-122.27,37.80]},"properties":{"name":"Spot","full_address":"1 Place St","distance":100}}]}`)
	}))
	defer srv.Close()

	cfg := config.MapboxConfig{Categories: []string{"school", "park"}, CategoryLimit: 2}
	agent := New(mapbox.Client{Token: "tok", BaseURL: srv.URL}, cfg)

	outs, err := agent.Handle(context.Background(), poiEnvelope(t, streams.PoiRequestPayload{
		Latitude:     37.8044,
		Longitude:    -122.2711,
		ListingIndex: 1,
	}))
	if err != nil {
		t.Fatalf("Handle: %v", err)
	}
	if atomic.LoadInt64(&calls) != 2 {
		t.Fatalf("expected one call per category, got %d", calls)
	}
	if outs[0].Stream != streams.StreamPoiResult || outs[0].Tag == nil || outs[0].Tag.Index != 1 {
		t.Fatalf("unexpected output %+v", outs[0])
	}
	payload := outs[0].Payload.(streams.PoiResultPayload)
	if payload.ListingIndex != 1 || len(payload.Points) != 2 || payload.Error != "" {
		t.Fatalf("unexpected payload %+v", payload)
	}
}

func TestHandleDeliversTotalMissAsArrival(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
	}))
	defer srv.Close()

	cfg := config.MapboxConfig{Categories: []string{"school"}, CategoryLimit: 2}
	agent := New(mapbox.Client{Token: "bad", BaseURL: srv.URL}, cfg)

	outs, err := agent.Handle(context.Background(), poiEnvelope(t, streams.PoiRequestPayload{ListingIndex: 0}))
	if err != nil {
		t.Fatalf("total miss must not be a handler error, got %v", err)
	}
	payload := outs[0].Payload.(streams.PoiResultPayload)
	if payload.Error == "" || len(payload.Points) != 0 {
		t.Fatalf("expected error-carrying arrival, got %+v", payload)
	}
}

func TestHandleRequiresTag(t *testing.T) {
	agent := New(mapbox.Client{Token: "tok"}, config.MapboxConfig{Categories: []string{"school"}})
	env := poiEnvelope(t, streams.PoiRequestPayload{ListingIndex: 0})
	env.SessionID = ""
	if _, err := agent.Handle(context.Background(), env); err == nil {
		t.Fatal("expected error for untagged request")
	}
}
