package web_search

import (
	"context"

	"github.com/homescout/homescout/tools/web_search/brave"
	"github.com/homescout/homescout/tools/web_search/models"
	"github.com/homescout/homescout/tools/web_search/serper"
)

// WebSearcher finds web pages for a query. The sites list narrows results to
// those domains; recency (in days) restricts result age when the provider
// supports it.
type WebSearcher interface {
	Discover(ctx context.Context, q string, k int, sites []string, recency int) ([]models.Result, error)
}

type Provider string

const (
	SerperProvider Provider = "serper"
	BraveProvider  Provider = "brave"
)

type Error struct{ Msg string }

func (e *Error) Error() string { return e.Msg }

var ErrUnsupportedProvider = &Error{"unsupported provider"}

func NewWebSearcher(provider Provider, apiKey string) (WebSearcher, error) {
	switch provider {
	case SerperProvider:
		return serper.Search{ApiKey: apiKey}, nil
	case BraveProvider:
		return brave.Search{ApiKey: apiKey}, nil
	default:
		return nil, ErrUnsupportedProvider
	}
}
