package httpfetch

import (
	"context"
	"crypto/sha1"
	"encoding/hex"
	"errors"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	readability "github.com/go-shiori/go-readability"
	"golang.org/x/net/html"

	"github.com/homescout/homescout/tools/web_fetch/models"
)

// Fetch retrieves pages with a plain HTTP GET, no JS rendering.
type Fetch struct {
	Timeout  time.Duration
	MaxChars int
}

func (f Fetch) Exec(ctx context.Context, pageURL string) (models.Result, error) {
	if strings.TrimSpace(pageURL) == "" {
		return models.Result{}, errors.New("invalid url")
	}

	ctx, cancel := context.WithTimeout(ctx, f.Timeout)
	defer cancel()
	t0 := time.Now()

	req, err := http.NewRequestWithContext(ctx, "GET", pageURL, nil)
	if err != nil {
		return models.Result{}, err
	}
	req.Header.Set("User-Agent", "HomescoutBot/1.0 (+contact@example.com)")
	req.Header.Set("Accept", "text/html,application/xhtml+xml")

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return models.Result{URL: pageURL, Status: 599, RenderMS: int(time.Since(t0) / time.Millisecond)}, nil
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return models.Result{URL: pageURL, Status: resp.StatusCode, RenderMS: int(time.Since(t0) / time.Millisecond)}, nil
	}

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 4<<20))
	if err != nil {
		return models.Result{URL: pageURL, Status: 599, RenderMS: int(time.Since(t0) / time.Millisecond)}, nil
	}
	body := string(raw)

	base := mustParseURL(pageURL)
	images := extractImages(body, base)

	article, err := readability.FromReader(strings.NewReader(body), base)
	if err != nil {
		return models.Result{URL: pageURL, Images: images, Status: resp.StatusCode, RenderMS: int(time.Since(t0) / time.Millisecond)}, nil
	}
	text := article.TextContent
	if len(text) > f.MaxChars {
		text = text[:f.MaxChars]
	}

	sum := sha1.Sum(raw)

	return models.Result{
		URL:         pageURL,
		Title:       strings.TrimSpace(article.Title),
		Byline:      strings.TrimSpace(article.Byline),
		PublishedAt: article.SiteName,
		Text:        strings.TrimSpace(text),
		TopImage:    article.Image,
		Images:      images,
		HTMLHash:    hex.EncodeToString(sum[:]),
		Status:      resp.StatusCode,
		RenderMS:    int(time.Since(t0) / time.Millisecond),
	}, nil
}

// extractImages walks the document and collects absolute img src URLs in
// document order.
func extractImages(body string, base *url.URL) []string {
	doc, err := html.Parse(strings.NewReader(body))
	if err != nil {
		return nil
	}
	var images []string
	seen := make(map[string]struct{})
	var walk func(*html.Node)
	walk = func(n *html.Node) {
		if n.Type == html.ElementNode && n.Data == "img" {
			for _, attr := range n.Attr {
				if attr.Key != "src" || attr.Val == "" {
					continue
				}
				ref, err := url.Parse(attr.Val)
				if err != nil {
					continue
				}
				abs := ref
				if base != nil {
					abs = base.ResolveReference(ref)
				}
				if abs.Scheme != "http" && abs.Scheme != "https" {
					continue
				}
				s := abs.String()
				if _, ok := seen[s]; ok {
					continue
				}
				seen[s] = struct{}{}
				images = append(images, s)
			}
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(doc)
	return images
}

func mustParseURL(raw string) *url.URL {
	u, err := url.Parse(raw)
	if err != nil {
		return &url.URL{}
	}
	return u
}
