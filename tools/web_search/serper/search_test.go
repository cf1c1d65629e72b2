package serper

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

func TestDiscoverRestrictsSites(t *testing.T) {
	var gotQuery string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("X-API-KEY") != "key-1" {
			t.Errorf("missing api key header")
		}
		var payload map[string]any
		if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
			t.Errorf("decode payload: %v", err)
		}
		gotQuery, _ = payload["q"].(string)
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"organic":[
			{"title":"123 Main St, Oakland, CA", "link":"https://zillow.com/a", "snippet":"2 bed 2 bath"},
			{"title":"456 Oak Ave, Oakland, CA", "link":"https://redfin.com/b", "snippet":"condo"},
			{"title":"789 Pine Rd", "link":"https://zillow.com/c", "snippet":"3 bed"}
		]}`))
	}))
	defer srv.Close()

	s := Search{ApiKey: "key-1", Endpoint: srv.URL}
	results, err := s.Discover(context.Background(), "Oakland homes for sale", 2, []string{"zillow.com", "redfin.com"}, 0)
	if err != nil {
		t.Fatalf("Discover returned error: %v", err)
	}
	if len(results) != 2 {
		t.Fatalf("expected k to cap results at 2, got %d", len(results))
	}
	if !strings.Contains(gotQuery, "site:zillow.com OR site:redfin.com") {
		t.Fatalf("expected site restriction in query, got %q", gotQuery)
	}
	if results[0].URL != "https://zillow.com/a" {
		t.Fatalf("unexpected first result: %+v", results[0])
	}
}

func TestDiscoverSurfacesErrors(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "no credits", http.StatusPaymentRequired)
	}))
	defer srv.Close()

	s := Search{ApiKey: "key-1", Endpoint: srv.URL}
	if _, err := s.Discover(context.Background(), "anything", 5, nil, 0); err == nil {
		t.Fatalf("expected error for non-200 response")
	}
}

func TestRecencyParam(t *testing.T) {
	cases := map[int]string{0: "", 1: "qdr:d", 5: "qdr:w", 30: "qdr:m", 365: "qdr:y"}
	for days, want := range cases {
		if got := recencyParam(days); got != want {
			t.Fatalf("recencyParam(%d) = %q, want %q", days, got, want)
		}
	}
}
