// Package scoping classifies each user turn: general question, complete
// search request, or still gathering requirements.
package scoping

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/homescout/homescout/internal/queue/streams"
	"github.com/homescout/homescout/internal/worker"
	"github.com/homescout/homescout/models"
	"github.com/homescout/homescout/provider"
)

// clarifyFallback stands in when the model's classification cannot be read.
// The turn stays open: the router relays this and waits for the user.
const clarifyFallback = "Could you tell me a little more about what you're looking for? A location and a budget are a great start."

// Agent wraps the LLM provider for the scoping stage.
type Agent struct {
	provider provider.Provider
}

// New builds the scoping stage agent.
func New(prov provider.Provider) *Agent {
	return &Agent{provider: prov}
}

// Handle classifies one user message. Transport failures return an error so
// the worker retries: the scope result is not a counted arrival, and without
// it the turn cannot route at all. An unparseable model reply instead
// degrades to a clarification prompt, because re-asking the model the same
// thing tends to reproduce the same garbage.
func (a *Agent) Handle(ctx context.Context, env streams.Envelope) ([]worker.Out, error) {
	var req streams.ScopeRequestPayload
	if err := json.Unmarshal(env.Data, &req); err != nil {
		return nil, fmt.Errorf("unmarshal scope request: %w", err)
	}

	result, err := a.provider.ScopeTurn(ctx, req.History, req.Message)
	if errors.Is(err, provider.ErrUnparseable) {
		result = models.ScopingResult{AgentMessage: clarifyFallback}
	} else if err != nil {
		return nil, fmt.Errorf("scope turn: %w", err)
	}

	out := worker.Out{
		Stream:  streams.StreamScopeResult,
		Payload: streams.ScopeResultPayload{SessionID: req.SessionID, ScopingResult: result},
	}
	// The coordinator tags scope requests with the turn ordinal; echoing it
	// lets the router drop a classification that belongs to an earlier turn.
	if tag, ok := env.Tag(); ok {
		out.Tag = &tag
	}
	return []worker.Out{out}, nil
}
