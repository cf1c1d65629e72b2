package server

import (
	"encoding/json"
	"time"
)

// HTTPError is the error envelope every non-2xx response carries.
type HTTPError struct {
	Error string `json:"error"`
}

// ChatRequest is one user message aimed at a session. An empty session id
// starts a new conversation.
type ChatRequest struct {
	SessionID string `json:"session_id,omitempty"`
	Message   string `json:"message"`
}

// ChatAccepted acknowledges an enqueued turn. Turn is the ordinal the
// coordinator will assign when it picks the message up.
type ChatAccepted struct {
	SessionID string `json:"session_id"`
	Turn      int    `json:"turn"`
}

// ReplyResponse is one turn reply read off the session's reply stream. ID is
// the stream entry id; pass it back as ?after= to wait for the next turn.
type ReplyResponse struct {
	ID        string `json:"id"`
	SessionID string `json:"session_id"`
	Turn      int    `json:"turn"`
	Message   string `json:"message"`
	Partial   bool   `json:"partial,omitempty"`
}

// StageCounters mirrors the aggregation bookkeeping for the current turn.
type StageCounters struct {
	ExpectedSearch    int `json:"expected_search"`
	ArrivedSearch     int `json:"arrived_search"`
	ExpectedGeocode   int `json:"expected_geocode"`
	ArrivedGeocode    int `json:"arrived_geocode"`
	ExpectedPoi       int `json:"expected_poi"`
	ArrivedPoi        int `json:"arrived_poi"`
	ExpectedCommunity int `json:"expected_community"`
	ArrivedCommunity  int `json:"arrived_community"`
	ExpectedQa        int `json:"expected_qa"`
	ArrivedQa         int `json:"arrived_qa"`
}

// SessionResponse is the aggregation snapshot for one session. Deadline is
// the wall-clock bound for the turn's in-flight fan-out, absent when nothing
// is in flight.
type SessionResponse struct {
	ID        string        `json:"id"`
	Turn      int           `json:"turn"`
	Stage     string        `json:"stage"`
	Finalized bool          `json:"finalized"`
	History   int           `json:"history"`
	Counters  StageCounters `json:"counters"`
	Deadline  *time.Time    `json:"deadline,omitempty"`
	CreatedAt time.Time     `json:"created_at"`
	UpdatedAt time.Time     `json:"updated_at"`
	ExpiresAt time.Time     `json:"expires_at"`
}

// TurnResponse is one archived chat message.
type TurnResponse struct {
	Turn      int       `json:"turn"`
	Role      string    `json:"role"`
	Content   string    `json:"content"`
	CreatedAt time.Time `json:"created_at"`
}

// ResponseArchive is one archived finalized reply with its assembled payload.
type ResponseArchive struct {
	SessionID   string          `json:"session_id"`
	Turn        int             `json:"turn"`
	Partial     bool            `json:"partial"`
	ListingURLs []string        `json:"listing_urls,omitempty"`
	Payload     json.RawMessage `json:"payload,omitempty"`
	CreatedAt   time.Time       `json:"created_at"`
}
