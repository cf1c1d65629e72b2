package helpers

import "strings"

// Listing pages are littered with chrome assets; these substrings mark
// images that are never property photos.
var skipImageHints = []string{
	"icon",
	"logo",
	"avatar",
	"badge",
	"button",
	"16x16",
	"32x32",
	"48x48",
	"64x64",
}

// IsUsableListingImage reports whether an image URL plausibly shows the
// property rather than site chrome, sprites or tracking pixels.
func IsUsableListingImage(rawURL string) bool {
	trimmed := strings.TrimSpace(rawURL)
	if trimmed == "" {
		return false
	}
	lower := strings.ToLower(trimmed)
	if !strings.HasPrefix(lower, "http://") && !strings.HasPrefix(lower, "https://") {
		return false
	}
	for _, hint := range skipImageHints {
		if strings.Contains(lower, hint) {
			return false
		}
	}
	return true
}

// FilterListingImages keeps usable photo URLs in document order, deduped,
// capped at limit (0 means no cap).
func FilterListingImages(urls []string, limit int) []string {
	var (
		kept []string
		seen = make(map[string]struct{}, len(urls))
	)
	for _, raw := range urls {
		if !IsUsableListingImage(raw) {
			continue
		}
		key := strings.TrimSpace(raw)
		if _, dup := seen[key]; dup {
			continue
		}
		seen[key] = struct{}{}
		kept = append(kept, key)
		if limit > 0 && len(kept) >= limit {
			break
		}
	}
	return kept
}

// FirstListingImage returns the first usable photo URL, or "" when none
// survive the filter.
func FirstListingImage(urls []string) string {
	for _, raw := range urls {
		if IsUsableListingImage(raw) {
			return strings.TrimSpace(raw)
		}
	}
	return ""
}
