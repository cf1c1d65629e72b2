package provider

import (
	"context"
	"errors"

	"github.com/homescout/homescout/config"
	"github.com/homescout/homescout/models"
	openai_provider "github.com/homescout/homescout/provider/openai"
)

// Client represents different LLM providers
type Client string

const (
	OpenAI    Client = "openai"
	Anthropic Client = "anthropic"
)

// ErrUnparseable is returned when the model's reply carries no readable JSON
// payload. Workers treat it as a content failure and fall back rather than
// retry.
var ErrUnparseable = openai_provider.ErrUnparseable

// Provider is the interface that all LLM implementations must satisfy
type Provider interface {
	// ScopeTurn classifies the latest user message against the conversation
	// so far: general question, complete search request, or still gathering.
	ScopeTurn(ctx context.Context, history []models.ChatMessage, message string) (models.ScopingResult, error)
	// ExtractListings turns fetched listing pages into structured listings
	// plus a conversational summary.
	ExtractListings(ctx context.Context, req models.Requirements, pages []models.PageExtract) (models.SearchExtraction, error)
	// AnalyzeCommunity scores a location from news stories.
	AnalyzeCommunity(ctx context.Context, location string, stories []models.StoryExtract) (models.CommunityReport, error)
	// Answer responds to a free-form question given retrieved context blocks.
	Answer(ctx context.Context, question string, contextBlocks []string) (string, error)
}

// NewProvider creates a new LLM client based on the provided configuration
func NewProvider(cfg config.LLMConfig) (Provider, error) {
	switch Client(cfg.Provider) {
	case OpenAI:
		if cfg.APIKey == "" {
			return nil, errors.New("llm.api_key not set")
		}
		return openai_provider.NewOpenAIClient(
			cfg.APIKey,
			cfg.BaseURL,
			cfg.Model,
			cfg.Temperature,
			cfg.MaxTokens,
			cfg.Timeout,
		), nil
	case Anthropic:
		return nil, errors.New("anthropic client not implemented yet")
	default:
		return nil, errors.New("unsupported LLM provider")
	}
}
