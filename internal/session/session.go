package session

import (
	"context"
	"fmt"
	"time"

	"github.com/homescout/homescout/models"
)

// Store is the only shared mutable state in the system. Update runs fn under
// a per-key lock: an increment-and-compare inside fn is one logical operation
// and cannot race with a concurrent arrival for the same session. No lock is
// held across different keys.
type Store interface {
	// Ensure returns the session for id, creating it when absent. An empty
	// id creates a session under a fresh identifier.
	Ensure(ctx context.Context, id string, ttl time.Duration) (*State, error)
	// Get returns a snapshot of the session, ok=false when absent.
	Get(ctx context.Context, id string) (*State, bool, error)
	// Update atomically applies fn to the session (creating it lazily when
	// absent: arrival order of sub-responses is not guaranteed) and returns
	// the post-update snapshot.
	Update(ctx context.Context, id string, ttl time.Duration, fn func(*State) error) (*State, error)
	Delete(ctx context.Context, id string) error
	// Sweep evicts sessions whose TTL expired before now and reports how
	// many were removed.
	Sweep(ctx context.Context, now time.Time) (int, error)
}

// historyLimit bounds the scoping conversation carried per session.
const historyLimit = 20

// State is the aggregation record for one session. Per-turn fields reset
// when a new user turn begins; History, Requirements and the last Search
// outcome carry across turns.
type State struct {
	ID        string    `json:"id"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
	ExpiresAt time.Time `json:"expires_at"`

	Turn          int                  `json:"turn"`
	TurnStartedAt time.Time            `json:"turn_started_at,omitempty"`
	ReplyStream   string               `json:"reply_stream,omitempty"`
	History       []models.ChatMessage `json:"history,omitempty"`

	Requirements *models.Requirements         `json:"requirements,omitempty"`
	Search       *models.SearchOutcome        `json:"search,omitempty"`
	Geocoded     map[int]models.GeocodeRecord `json:"geocoded,omitempty"`
	Pois         map[int]models.PoiSet        `json:"pois,omitempty"`
	Community    *models.CommunityReport      `json:"community,omitempty"`
	Answer       string                       `json:"answer,omitempty"`

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

	SeenTags  map[string]bool `json:"seen_tags,omitempty"`
	Finalized bool            `json:"finalized"`
	Deadline  time.Time       `json:"deadline,omitempty"`
}

// NewState builds an empty session record.
func NewState(id string) *State {
	now := time.Now().UTC()
	return &State{
		ID:        id,
		CreatedAt: now,
		UpdatedAt: now,
		Geocoded:  make(map[int]models.GeocodeRecord),
		Pois:      make(map[int]models.PoiSet),
		SeenTags:  make(map[string]bool),
	}
}

// Touch refreshes the TTL clock.
func (s *State) Touch(ttl time.Duration) {
	now := time.Now().UTC()
	s.UpdatedAt = now
	if ttl > 0 {
		s.ExpiresAt = now.Add(ttl)
	}
}

// Expired reports whether the session's TTL has passed.
func (s *State) Expired(now time.Time) bool {
	return !s.ExpiresAt.IsZero() && now.After(s.ExpiresAt)
}

// BeginTurn starts a fresh user turn: the reply stream is overwritten, the
// turn ordinal advances and every per-turn field resets. History and the
// last known requirements survive so scoping can refine them, and the last
// search outcome survives so follow-up questions can be answered against
// it; a new search dispatch clears it.
func (s *State) BeginTurn(replyStream string) {
	s.Turn++
	s.TurnStartedAt = time.Now().UTC()
	s.ReplyStream = replyStream
	s.Geocoded = make(map[int]models.GeocodeRecord)
	s.Pois = make(map[int]models.PoiSet)
	s.Community = nil
	s.Answer = ""
	s.ExpectedSearch = 0
	s.ArrivedSearch = 0
	s.ExpectedGeocode = 0
	s.ArrivedGeocode = 0
	s.ExpectedPoi = 0
	s.ArrivedPoi = 0
	s.ExpectedCommunity = 0
	s.ArrivedCommunity = 0
	s.ExpectedQa = 0
	s.ArrivedQa = 0
	s.SeenTags = make(map[string]bool)
	s.Finalized = false
	s.Deadline = time.Time{}
}

// ArmDeadline records the wall-clock bound for the turn's in-flight
// fan-out; zero and negative durations leave the turn unbounded.
func (s *State) ArmDeadline(d time.Duration) {
	if d > 0 {
		s.Deadline = time.Now().UTC().Add(d)
	}
}

// AppendHistory records one conversation message, keeping the most recent
// historyLimit entries.
func (s *State) AppendHistory(role, content string) {
	s.History = append(s.History, models.ChatMessage{Role: role, Content: content})
	if len(s.History) > historyLimit {
		s.History = s.History[len(s.History)-historyLimit:]
	}
}

// TagKey renders the bookkeeping key for one sub-response tag.
func TagKey(stage string, index int) string {
	return fmt.Sprintf("%s/%d", stage, index)
}

// MarkSeen records a tag and reports whether it was new. A false return
// means a duplicate delivery that must not be counted again.
func (s *State) MarkSeen(key string) bool {
	if s.SeenTags == nil {
		s.SeenTags = make(map[string]bool)
	}
	if s.SeenTags[key] {
		return false
	}
	s.SeenTags[key] = true
	return true
}

// StagesStarted reports whether this turn dispatched any tracked stage.
func (s *State) StagesStarted() bool {
	return s.ExpectedSearch > 0 || s.ExpectedQa > 0 || s.ExpectedCommunity > 0
}

// TurnComplete is the single completion predicate: every stage that was
// started this turn has fully arrived. The geocode and POI stages belong to
// the search pipeline, so their counters only gate completion while a search
// is in flight or has landed. Zero-width fan-outs are complete by
// construction (arrived >= expected holds at 0 >= 0).
func (s *State) TurnComplete() bool {
	if !s.StagesStarted() {
		return false
	}
	if s.ArrivedSearch < s.ExpectedSearch {
		return false
	}
	if s.ArrivedGeocode < s.ExpectedGeocode {
		return false
	}
	if s.ArrivedPoi < s.ExpectedPoi {
		return false
	}
	if s.ArrivedCommunity < s.ExpectedCommunity {
		return false
	}
	if s.ArrivedQa < s.ExpectedQa {
		return false
	}
	return true
}

// Clone returns a deep copy safe to use outside the store's lock.
func (s *State) Clone() *State {
	if s == nil {
		return nil
	}
	out := *s
	if s.History != nil {
		out.History = make([]models.ChatMessage, len(s.History))
		copy(out.History, s.History)
	}
	if s.Requirements != nil {
		req := *s.Requirements
		out.Requirements = &req
	}
	if s.Search != nil {
		search := *s.Search
		search.Listings = append([]models.Listing(nil), s.Search.Listings...)
		search.Images = append([]models.ListingImage(nil), s.Search.Images...)
		out.Search = &search
	}
	if s.Geocoded != nil {
		out.Geocoded = make(map[int]models.GeocodeRecord, len(s.Geocoded))
		for k, v := range s.Geocoded {
			out.Geocoded[k] = v
		}
	}
	if s.Pois != nil {
		out.Pois = make(map[int]models.PoiSet, len(s.Pois))
		for k, v := range s.Pois {
			set := v
			set.Points = append([]models.PoiPoint(nil), v.Points...)
			out.Pois[k] = set
		}
	}
	if s.Community != nil {
		report := *s.Community
		report.PositiveStories = append([]models.CommunityStory(nil), s.Community.PositiveStories...)
		report.NegativeStories = append([]models.CommunityStory(nil), s.Community.NegativeStories...)
		out.Community = &report
	}
	if s.SeenTags != nil {
		out.SeenTags = make(map[string]bool, len(s.SeenTags))
		for k, v := range s.SeenTags {
			out.SeenTags[k] = v
		}
	}
	return &out
}
