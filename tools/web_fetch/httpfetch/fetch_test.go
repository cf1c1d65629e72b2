package httpfetch

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

const samplePage = `<!DOCTYPE html>
<html><head><title>123 Main St, Oakland, CA 94601 | Listing</title></head>
<body>
<article>
<h1>123 Main St, Oakland</h1>
<img src="/photos/house-front.jpg">
<img src="https://cdn.example.com/photos/kitchen.jpg">
<img src="https://cdn.example.com/photos/kitchen.jpg">
<img src="data:image/gif;base64,R0lGOD">
<p>Charming 2 bed 2 bath bungalow close to parks and transit. Listed at $749,000 with a refreshed
kitchen, original hardwood floors, and a detached garage that could serve as a home office.</p>
<p>Open house this weekend. Contact the listing agent for a private tour of this Oakland property.</p>
</article>
</body></html>`

func TestExecExtractsTextAndImages(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html")
		_, _ = w.Write([]byte(samplePage))
	}))
	defer srv.Close()

	f := Fetch{Timeout: 5 * time.Second, MaxChars: 10000}
	result, err := f.Exec(context.Background(), srv.URL+"/listing/123-main")
	if err != nil {
		t.Fatalf("Exec returned error: %v", err)
	}
	if result.Status != 200 {
		t.Fatalf("expected status 200, got %d", result.Status)
	}
	if result.Text == "" {
		t.Fatalf("expected extracted text")
	}
	// Absolute, deduped, http(s)-only.
	if len(result.Images) != 2 {
		t.Fatalf("expected 2 images, got %v", result.Images)
	}
	if result.Images[0] != srv.URL+"/photos/house-front.jpg" {
		t.Fatalf("expected relative src resolved against base, got %q", result.Images[0])
	}
	if result.HTMLHash == "" {
		t.Fatalf("expected html hash")
	}
}

func TestExecReportsHTTPStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.NotFound(w, r)
	}))
	defer srv.Close()

	f := Fetch{Timeout: 5 * time.Second, MaxChars: 10000}
	result, err := f.Exec(context.Background(), srv.URL+"/missing")
	if err != nil {
		t.Fatalf("Exec returned error: %v", err)
	}
	if result.Status != 404 {
		t.Fatalf("expected status 404, got %d", result.Status)
	}
	if result.Text != "" {
		t.Fatalf("expected no text for error page, got %q", result.Text)
	}
}

func TestExecRejectsEmptyURL(t *testing.T) {
	f := Fetch{Timeout: time.Second, MaxChars: 100}
	if _, err := f.Exec(context.Background(), "  "); err == nil {
		t.Fatalf("expected error for empty url")
	}
}
