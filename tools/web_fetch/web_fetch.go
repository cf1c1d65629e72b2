package web_fetch

import (
	"context"
	"time"

	"github.com/homescout/homescout/tools/web_fetch/chromedp"
	"github.com/homescout/homescout/tools/web_fetch/httpfetch"
	"github.com/homescout/homescout/tools/web_fetch/models"
)

const (
	DefaultTimeoutMS = 15000
	MaxCharsDefault  = 20000
)

type WebFetcher interface {
	Exec(ctx context.Context, url string) (models.Result, error)
}

type FetcherType string

const (
	// ChromedpFetcherType renders pages in headless Chrome; listing sites are
	// script-heavy so this is the default.
	ChromedpFetcherType FetcherType = "chromedp"
	// HTTPFetcherType does a plain GET; good enough for news/article pages.
	HTTPFetcherType FetcherType = "http"
)

type Error struct{ Msg string }

func (e *Error) Error() string { return e.Msg }

func NewWebFetcher(fetcherType FetcherType, timeout time.Duration, maxChars int) (WebFetcher, error) {
	if timeout <= 0 {
		timeout = DefaultTimeoutMS * time.Millisecond
	}
	if maxChars <= 0 {
		maxChars = MaxCharsDefault
	}

	switch fetcherType {
	case ChromedpFetcherType:
		return &chromedp.Fetch{Timeout: timeout, MaxChars: maxChars}, nil
	case HTTPFetcherType:
		return &httpfetch.Fetch{Timeout: timeout, MaxChars: maxChars}, nil
	default:
		return nil, &Error{"unsupported fetcher type"}
	}
}
