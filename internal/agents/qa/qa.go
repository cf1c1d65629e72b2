// Package qa answers free-form questions, grounding the answer in the
// session's current listing corpus through an in-memory search index.
package qa

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	"github.com/blevesearch/bleve"

	"github.com/homescout/homescout/internal/queue/streams"
	"github.com/homescout/homescout/internal/worker"
	"github.com/homescout/homescout/models"
	"github.com/homescout/homescout/provider"
)

// maxContextBlocks caps how many listings ground a single answer.
const maxContextBlocks = 3

// Agent wraps the LLM provider for the qa stage.
type Agent struct {
	provider provider.Provider
}

// New builds the qa stage agent.
func New(prov provider.Provider) *Agent {
	return &Agent{provider: prov}
}

// Handle answers one question. Provider failures become error-carrying
// arrivals; the coordinator renders a fallback reply for them.
func (a *Agent) Handle(ctx context.Context, env streams.Envelope) ([]worker.Out, error) {
	var req streams.QaRequestPayload
	if err := json.Unmarshal(env.Data, &req); err != nil {
		return nil, fmt.Errorf("unmarshal qa request: %w", err)
	}

	blocks, err := retrieve(ctx, req.Question, req.Listings)
	if err != nil {
		// Retrieval is best-effort: answer unassisted rather than fail.
		blocks = nil
	}

	payload := streams.QaResultPayload{SessionID: req.SessionID}
	answer, err := a.provider.Answer(ctx, req.Question, blocks)
	if err != nil {
		payload.Error = err.Error()
	} else {
		payload.Answer = answer
	}

	return []worker.Out{{
		Stream:  streams.StreamQaResult,
		Payload: payload,
	}}, nil
}

type listingDoc struct {
	Title       string `json:"title"`
	Address     string `json:"address"`
	Description string `json:"description"`
}

// retrieve ranks the session's listings against the question and returns the
// best matches as plain-text context blocks. With no hits the first few
// listings stand in, so the model always sees what the session is about.
func retrieve(ctx context.Context, question string, listings []models.Listing) ([]string, error) {
	if len(listings) == 0 {
		return nil, nil
	}

	index, err := bleve.NewMemOnly(bleve.NewIndexMapping())
	if err != nil {
		return nil, fmt.Errorf("open memory index: %w", err)
	}
	defer index.Close()

	for i, listing := range listings {
		doc := listingDoc{Title: listing.Title, Address: listing.Address, Description: listing.Description}
		if err := index.Index(strconv.Itoa(i), doc); err != nil {
			return nil, fmt.Errorf("index listing %d: %w", i, err)
		}
	}

	search := bleve.NewSearchRequest(bleve.NewMatchQuery(question))
	search.Size = maxContextBlocks
	result, err := index.SearchInContext(ctx, search)
	if err != nil {
		return nil, fmt.Errorf("search listings: %w", err)
	}

	var blocks []string
	for _, hit := range result.Hits {
		i, err := strconv.Atoi(hit.ID)
		if err != nil || i < 0 || i >= len(listings) {
			continue
		}
		blocks = append(blocks, listingBlock(listings[i]))
	}
	if len(blocks) == 0 {
		for i := 0; i < len(listings) && i < maxContextBlocks; i++ {
			blocks = append(blocks, listingBlock(listings[i]))
		}
	}
	return blocks, nil
}

func listingBlock(l models.Listing) string {
	var b strings.Builder
	b.WriteString(l.Title)
	if l.Address != "" {
		b.WriteString("\n")
		b.WriteString(l.Address)
	}
	var details []string
	if l.Price > 0 {
		details = append(details, fmt.Sprintf("$%.0f", l.Price))
	}
	if l.Bedrooms > 0 {
		details = append(details, fmt.Sprintf("%d bd", l.Bedrooms))
	}
	if l.Bathrooms > 0 {
		details = append(details, fmt.Sprintf("%d ba", l.Bathrooms))
	}
	if len(details) > 0 {
		b.WriteString("\n")
		b.WriteString(strings.Join(details, " / "))
	}
	if l.Description != "" {
		b.WriteString("\n")
		b.WriteString(l.Description)
	}
	return b.String()
}
