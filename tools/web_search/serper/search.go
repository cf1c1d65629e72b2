package serper

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"

	"github.com/homescout/homescout/tools/web_search/models"
)

const defaultEndpoint = "https://google.serper.dev/search"

type Search struct {
	ApiKey   string
	Endpoint string // overridable for tests
}

func (s Search) Discover(ctx context.Context, q string, k int, sites []string, recency int) ([]models.Result, error) {
	// https://serper.dev/ docs
	if len(sites) > 0 {
		restricts := make([]string, 0, len(sites))
		for _, site := range sites {
			restricts = append(restricts, "site:"+site)
		}
		q = fmt.Sprintf("%s (%s)", q, strings.Join(restricts, " OR "))
	}
	payload := map[string]any{"q": q, "num": k}
	if tbs := recencyParam(recency); tbs != "" {
		payload["tbs"] = tbs
	}

	body, _ := json.Marshal(payload)
	endpoint := s.Endpoint
	if endpoint == "" {
		endpoint = defaultEndpoint
	}
	req, err := http.NewRequestWithContext(ctx, "POST", endpoint, strings.NewReader(string(body)))
	if err != nil {
		return nil, err
	}
	req.Header.Set("X-API-KEY", s.ApiKey)
	req.Header.Set("Content-Type", "application/json")
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("serper returned status: %d", resp.StatusCode)
	}

	var raw struct {
		Organic []struct {
			Title   string `json:"title"`
			Link    string `json:"link"`
			Snippet string `json:"snippet"`
		} `json:"organic"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&raw); err != nil {
		return nil, err
	}

	var out []models.Result
	for i, item := range raw.Organic {
		if i >= k {
			break
		}
		out = append(out, models.Result{Title: item.Title, URL: item.Link, Snippet: item.Snippet})
	}
	return out, nil
}

// recencyParam maps a day window onto Google's tbs buckets.
func recencyParam(days int) string {
	switch {
	case days <= 0:
		return ""
	case days <= 1:
		return "qdr:d"
	case days <= 7:
		return "qdr:w"
	case days <= 31:
		return "qdr:m"
	default:
		return "qdr:y"
	}
}
