// Package research finds property listings for a completed requirement set:
// site-restricted web search, page fetches, then structured extraction.
package research

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"strings"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/homescout/homescout/config"
	"github.com/homescout/homescout/internal/helpers"
	"github.com/homescout/homescout/internal/queue/streams"
	"github.com/homescout/homescout/internal/worker"
	"github.com/homescout/homescout/models"
	"github.com/homescout/homescout/provider"
	"github.com/homescout/homescout/tools/web_fetch"
	"github.com/homescout/homescout/tools/web_search"
	searchmodels "github.com/homescout/homescout/tools/web_search/models"
)

const (
	// fetchPages bounds full page renders per search; remaining results
	// contribute their snippets only.
	fetchPages = 3
	// imageCap bounds how many listings get a photo attached.
	imageCap = 3
)

// Agent runs the search pipeline for one requirement set.
type Agent struct {
	logger      *log.Logger
	provider    provider.Provider
	searcher    web_search.WebSearcher
	fetcher     web_fetch.WebFetcher
	sites       []string
	maxResults  int
	concurrency int
}

// New builds the research stage agent from the search config section.
func New(logger *log.Logger, prov provider.Provider, searcher web_search.WebSearcher, fetcher web_fetch.WebFetcher, cfg config.SearchConfig) *Agent {
	return &Agent{
		logger:      logger,
		provider:    prov,
		searcher:    searcher,
		fetcher:     fetcher,
		sites:       cfg.Sites,
		maxResults:  cfg.MaxResults,
		concurrency: cfg.FetchConcurrency,
	}
}

// Handle searches for listings matching the requirements. Failures are
// delivered as error-carrying results so the search arrival always lands;
// the coordinator renders the error into the turn reply.
func (a *Agent) Handle(ctx context.Context, env streams.Envelope) ([]worker.Out, error) {
	var req streams.SearchRequestPayload
	if err := json.Unmarshal(env.Data, &req); err != nil {
		return nil, fmt.Errorf("unmarshal search request: %w", err)
	}

	payload := a.search(ctx, req)
	return []worker.Out{{
		Stream:  streams.StreamSearchResult,
		Payload: payload,
	}}, nil
}

func (a *Agent) search(ctx context.Context, req streams.SearchRequestPayload) streams.SearchResultPayload {
	// Listings stays a non-nil slice on every path: the result schema wants
	// an array even when the search errors out.
	payload := streams.SearchResultPayload{SessionID: req.SessionID, Listings: []models.Listing{}}

	query := BuildQuery(req.Requirements)
	a.logger.Printf("search query for session %s: %s", req.SessionID, query)

	results, err := a.searcher.Discover(ctx, query, a.maxResults, a.sites, 0)
	if err != nil {
		payload.Error = fmt.Sprintf("search failed: %v", err)
		return payload
	}
	if len(results) == 0 {
		payload.SearchSummary = "No properties found matching your search. Try adjusting your search terms."
		return payload
	}

	pages := a.fetchPages(ctx, results)

	extraction, err := a.provider.ExtractListings(ctx, req.Requirements, pages)
	if err != nil {
		payload.Error = fmt.Sprintf("listing extraction failed: %v", err)
		return payload
	}

	if extraction.Listings != nil {
		payload.Listings = extraction.Listings
	}
	payload.SearchSummary = extraction.Summary
	payload.TotalFound = len(results)
	payload.Images = attachImages(extraction.Listings, pages)
	return payload
}

// fetchPages renders the first fetchPages results in parallel and falls back
// to the search snippet for the rest (and for any render that fails).
func (a *Agent) fetchPages(ctx context.Context, results []searchmodels.Result) []models.PageExtract {
	pages := make([]models.PageExtract, len(results))
	for i, result := range results {
		pages[i] = models.PageExtract{URL: result.URL, Title: result.Title, Text: result.Snippet}
	}

	eg, egCtx := errgroup.WithContext(ctx)
	if a.concurrency > 0 {
		eg.SetLimit(a.concurrency)
	}
	var mu sync.Mutex
	for i := 0; i < len(results) && i < fetchPages; i++ {
		i := i
		eg.Go(func() error {
			fetched, err := a.fetcher.Exec(egCtx, results[i].URL)
			if err != nil {
				a.logger.Printf("warn: fetch failed for %s: %v", results[i].URL, err)
				return nil
			}
			mu.Lock()
			defer mu.Unlock()
			if strings.TrimSpace(fetched.Text) != "" {
				pages[i].Text = fetched.Text
			}
			if fetched.Title != "" {
				pages[i].Title = fetched.Title
			}
			pages[i].Images = fetched.Images
			return nil
		})
	}
	_ = eg.Wait()
	return pages
}

// attachImages pairs each of the first imageCap listings with a usable photo
// from its own page, matching by URL with a positional fallback.
func attachImages(listings []models.Listing, pages []models.PageExtract) []models.ListingImage {
	byURL := make(map[string][]string, len(pages))
	for _, page := range pages {
		if len(page.Images) == 0 {
			continue
		}
		if key, err := helpers.CanonicalURL(page.URL); err == nil {
			byURL[key] = page.Images
		}
	}

	var images []models.ListingImage
	for i, listing := range listings {
		if i >= imageCap {
			break
		}
		var candidates []string
		if listing.URL != "" {
			if key, err := helpers.CanonicalURL(listing.URL); err == nil {
				candidates = byURL[key]
			}
		}
		if candidates == nil && i < len(pages) {
			candidates = pages[i].Images
		}
		if url := helpers.FirstListingImage(candidates); url != "" {
			images = append(images, models.ListingImage{Index: i, ImageURL: url})
		}
	}
	return images
}

// BuildQuery renders a requirement set as a natural search query.
func BuildQuery(req models.Requirements) string {
	var parts []string
	if req.Bedrooms > 0 {
		parts = append(parts, fmt.Sprintf("%d bedroom", req.Bedrooms))
	}
	if req.Bathrooms > 0 {
		parts = append(parts, fmt.Sprintf("%d bathroom", req.Bathrooms))
	}
	parts = append(parts, "homes for sale")
	if strings.TrimSpace(req.Location) != "" {
		parts = append(parts, "in "+strings.TrimSpace(req.Location))
	}
	switch {
	case req.BudgetMax > 0:
		parts = append(parts, fmt.Sprintf("under $%.0f", req.BudgetMax))
	case req.BudgetMin > 0:
		parts = append(parts, fmt.Sprintf("over $%.0f", req.BudgetMin))
	}
	if strings.TrimSpace(req.AdditionalInfo) != "" {
		parts = append(parts, strings.TrimSpace(req.AdditionalInfo))
	}
	return strings.Join(parts, " ")
}
