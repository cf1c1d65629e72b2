package streams

import (
	"encoding/json"
	"fmt"
	"time"
)

// Envelope represents the canonical message wrapper persisted to Redis Streams.
// SessionID and StageIndex form the correlation tag for fan-out sub-tasks:
// a sub-response is matched back to its session and listing index through
// these typed fields, never through a delimiter-joined identifier.
type Envelope struct {
	EventID        string          `json:"event_id"`
	EventType      string          `json:"event_type"`
	OccurredAt     time.Time       `json:"occurred_at"`
	TraceID        string          `json:"trace_id,omitempty"`
	Attempt        int             `json:"attempt"`
	PayloadVersion string          `json:"payload_version"`
	SessionID      string          `json:"session_id,omitempty"`
	StageIndex     *int            `json:"stage_index,omitempty"`
	Data           json.RawMessage `json:"data"`
}

// Tag identifies one fan-out sub-task: the owning session plus the listing
// index within the dispatched batch.
type Tag struct {
	SessionID string
	Index     int
}

// Key renders a stable string form used for duplicate-arrival bookkeeping.
func (t Tag) Key(stage string) string {
	return fmt.Sprintf("%s/%s/%d", t.SessionID, stage, t.Index)
}

// Tag extracts the correlation tag when both parts are present.
func (e *Envelope) Tag() (Tag, bool) {
	if e.SessionID == "" || e.StageIndex == nil {
		return Tag{}, false
	}
	return Tag{SessionID: e.SessionID, Index: *e.StageIndex}, true
}

// ValidateBasic ensures mandatory envelope fields are present before schema validation.
func (e *Envelope) ValidateBasic() error {
	if e.EventID == "" {
		return fmt.Errorf("event_id is required")
	}
	if e.EventType == "" {
		return fmt.Errorf("event_type is required")
	}
	if e.PayloadVersion == "" {
		return fmt.Errorf("payload_version is required")
	}
	if e.Attempt < 0 {
		return fmt.Errorf("attempt must be >= 0")
	}
	if e.StageIndex != nil && *e.StageIndex < 0 {
		return fmt.Errorf("stage_index must be >= 0")
	}
	if e.OccurredAt.IsZero() {
		e.OccurredAt = time.Now().UTC()
	}
	if len(e.Data) == 0 {
		return fmt.Errorf("data payload is required")
	}
	return nil
}

// Marshal returns the JSON encoding of the envelope.
func (e *Envelope) Marshal() ([]byte, error) {
	if err := e.ValidateBasic(); err != nil {
		return nil, err
	}
	return json.Marshal(e)
}

// UnmarshalEnvelope parses JSON bytes into an Envelope and validates required fields.
func UnmarshalEnvelope(b []byte) (Envelope, error) {
	var env Envelope
	if err := json.Unmarshal(b, &env); err != nil {
		return env, fmt.Errorf("unmarshal envelope: %w", err)
	}
	if err := env.ValidateBasic(); err != nil {
		return env, err
	}
	return env, nil
}

// IndexRef returns a pointer suitable for Envelope.StageIndex.
func IndexRef(i int) *int { return &i }
