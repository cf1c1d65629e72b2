// Package community researches a named location: recent news, school
// quality and housing metrics, scored into an advisory report.
package community

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"strings"

	"github.com/homescout/homescout/internal/queue/streams"
	"github.com/homescout/homescout/internal/worker"
	"github.com/homescout/homescout/models"
	"github.com/homescout/homescout/provider"
	"github.com/homescout/homescout/tools/web_fetch"
	"github.com/homescout/homescout/tools/web_search"
)

const (
	resultsPerQuery = 5
	fetchPerQuery   = 3
	// newsRecencyDays bounds the news sweep; school and housing queries stay
	// unbounded because ratings pages age well.
	newsRecencyDays = 365
)

// Agent gathers sources and asks the LLM provider for the community report.
type Agent struct {
	logger   *log.Logger
	provider provider.Provider
	searcher web_search.WebSearcher
	fetcher  web_fetch.WebFetcher
}

// New builds the community stage agent.
func New(logger *log.Logger, prov provider.Provider, searcher web_search.WebSearcher, fetcher web_fetch.WebFetcher) *Agent {
	return &Agent{logger: logger, provider: prov, searcher: searcher, fetcher: fetcher}
}

// Handle analyzes one location. Source gathering is best-effort: a query
// that fails just contributes no stories, and the provider falls back to
// general knowledge when every sweep came back empty. Only provider failures
// surface, and those as error-carrying arrivals.
func (a *Agent) Handle(ctx context.Context, env streams.Envelope) ([]worker.Out, error) {
	var req streams.CommunityRequestPayload
	if err := json.Unmarshal(env.Data, &req); err != nil {
		return nil, fmt.Errorf("unmarshal community request: %w", err)
	}

	stories := a.gather(ctx, req.LocationName)

	payload := streams.CommunityResultPayload{SessionID: req.SessionID}
	report, err := a.provider.AnalyzeCommunity(ctx, req.LocationName, stories)
	if err != nil {
		payload.Error = err.Error()
	} else {
		payload.Report = &report
	}

	return []worker.Out{{
		Stream:  streams.StreamCommunityResult,
		Payload: payload,
	}}, nil
}

// gather sweeps the three source angles and returns stories in sweep order:
// news first, then schools, then housing.
func (a *Agent) gather(ctx context.Context, location string) []models.StoryExtract {
	sweeps := []struct {
		query   string
		recency int
	}{
		{query: location + " local news community safety crime development", recency: newsRecencyDays},
		{query: location + " schools ratings rankings education quality greatschools niche"},
		{query: location + " housing prices per square foot average home size zillow redfin realtor"},
	}

	var stories []models.StoryExtract
	for _, sweep := range sweeps {
		results, err := a.searcher.Discover(ctx, sweep.query, resultsPerQuery, nil, sweep.recency)
		if err != nil {
			a.logger.Printf("warn: community search failed for %q: %v", sweep.query, err)
			continue
		}
		for i, result := range results {
			text := result.Snippet
			if i < fetchPerQuery {
				if page, err := a.fetcher.Exec(ctx, result.URL); err == nil && strings.TrimSpace(page.Text) != "" {
					text = page.Text
				}
			}
			stories = append(stories, models.StoryExtract{
				Title: result.Title,
				URL:   result.URL,
				Text:  text,
			})
		}
	}
	return stories
}
