package streams

import "github.com/homescout/homescout/models"

// ChatIncomingPayload enters the pipeline from the gateway: one user turn.
type ChatIncomingPayload struct {
	SessionID   string `json:"session_id"`
	Message     string `json:"message"`
	ReplyStream string `json:"reply_stream"`
}

// ScopeRequestPayload asks the scoping worker to classify one user message
// in the context of the session's conversation so far.
type ScopeRequestPayload struct {
	SessionID string               `json:"session_id"`
	Message   string               `json:"message"`
	History   []models.ChatMessage `json:"history,omitempty"`
}

// ScopeResultPayload is the classification the intent router consumes.
type ScopeResultPayload struct {
	SessionID string `json:"session_id"`
	models.ScopingResult
}

// SearchRequestPayload asks the research worker for a listing batch.
type SearchRequestPayload struct {
	SessionID    string              `json:"session_id"`
	Requirements models.Requirements `json:"requirements"`
}

// SearchResultPayload carries the listing batch back to the aggregator.
type SearchResultPayload struct {
	SessionID     string                `json:"session_id"`
	Listings      []models.Listing      `json:"listings"`
	SearchSummary string                `json:"search_summary"`
	TotalFound    int                   `json:"total_found"`
	Images        []models.ListingImage `json:"images,omitempty"`
	Error         string                `json:"error,omitempty"`
}

// GeocodeRequestPayload is one fan-out item; the tag rides the envelope.
type GeocodeRequestPayload struct {
	Address string `json:"address"`
}

// GeocodeResultPayload is one geocode arrival. An empty Error means success.
type GeocodeResultPayload struct {
	Latitude        float64 `json:"latitude,omitempty"`
	Longitude       float64 `json:"longitude,omitempty"`
	ResolvedAddress string  `json:"resolved_address,omitempty"`
	Error           string  `json:"error,omitempty"`
}

// PoiRequestPayload is one cascaded fan-out item for a geocoded listing.
type PoiRequestPayload struct {
	Latitude     float64 `json:"latitude"`
	Longitude    float64 `json:"longitude"`
	ListingIndex int     `json:"listing_index"`
}

// PoiResultPayload is one POI arrival for a listing index.
type PoiResultPayload struct {
	Points       []models.PoiPoint `json:"points"`
	ListingIndex int               `json:"listing_index"`
	Error        string            `json:"error,omitempty"`
}

// CommunityRequestPayload asks for an analysis of a named location.
type CommunityRequestPayload struct {
	SessionID    string `json:"session_id"`
	LocationName string `json:"location_name"`
}

// CommunityResultPayload carries the advisory community report.
type CommunityResultPayload struct {
	SessionID string                  `json:"session_id"`
	Report    *models.CommunityReport `json:"report,omitempty"`
	Error     string                  `json:"error,omitempty"`
}

// QaRequestPayload asks the qa worker a free-form question. Listings give
// the worker the session's current corpus to ground the answer in.
type QaRequestPayload struct {
	SessionID string           `json:"session_id"`
	Question  string           `json:"question"`
	Listings  []models.Listing `json:"listings,omitempty"`
}

// QaResultPayload is the single-shot answer.
type QaResultPayload struct {
	SessionID string `json:"session_id"`
	Answer    string `json:"answer"`
	Error     string `json:"error,omitempty"`
}

// ChatReplyPayload is the one rendered reply per completed turn.
type ChatReplyPayload struct {
	SessionID string `json:"session_id"`
	Turn      int    `json:"turn"`
	Message   string `json:"message"`
	Partial   bool   `json:"partial,omitempty"`
}
