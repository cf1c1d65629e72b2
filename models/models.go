package models

import (
	"errors"
	"strings"
)

// ErrSessionNotFound is returned when a session id resolves to nothing.
var ErrSessionNotFound = errors.New("session not found")

// ChatMessage is one entry of a session's scoping conversation history.
type ChatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// Requirements is the structured search criteria extracted by the scoping
// worker over one or more conversation turns.
type Requirements struct {
	BudgetMin      float64 `json:"budget_min,omitempty"`
	BudgetMax      float64 `json:"budget_max,omitempty"`
	Bedrooms       int     `json:"bedrooms,omitempty"`
	Bathrooms      int     `json:"bathrooms,omitempty"`
	Location       string  `json:"location"`
	AdditionalInfo string  `json:"additional_info,omitempty"`
}

// ScopingResult is the classification the intent router consumes.
type ScopingResult struct {
	IsComplete        bool          `json:"is_complete"`
	IsGeneralQuestion bool          `json:"is_general_question"`
	GeneralQuestion   string        `json:"general_question,omitempty"`
	Requirements      *Requirements `json:"requirements,omitempty"`
	CommunityName     string        `json:"community_name,omitempty"`
	AgentMessage      string        `json:"agent_message"`
}

// Listing is one raw property record from the research worker.
type Listing struct {
	Title       string  `json:"title"`
	Address     string  `json:"address"`
	Price       float64 `json:"price,omitempty"`
	Bedrooms    int     `json:"bedrooms,omitempty"`
	Bathrooms   int     `json:"bathrooms,omitempty"`
	URL         string  `json:"url,omitempty"`
	Description string  `json:"description,omitempty"`
}

// HasAddress reports whether the listing carries something geocodable.
func (l Listing) HasAddress() bool { return strings.TrimSpace(l.Address) != "" }

// ListingImage attaches an image URL to a listing by batch index.
type ListingImage struct {
	Index    int    `json:"index"`
	ImageURL string `json:"image_url"`
}

// GeocodeRecord is a successful forward-geocode for one listing index.
type GeocodeRecord struct {
	Index           int     `json:"index"`
	Latitude        float64 `json:"latitude"`
	Longitude       float64 `json:"longitude"`
	ResolvedAddress string  `json:"resolved_address,omitempty"`
}

// PoiPoint is one nearby place returned by the discovery worker.
type PoiPoint struct {
	Name           string  `json:"name"`
	Category       string  `json:"category"`
	Latitude       float64 `json:"lat"`
	Longitude      float64 `json:"lon"`
	Address        string  `json:"address,omitempty"`
	DistanceMeters float64 `json:"distance_meters,omitempty"`
}

// PoiSet groups the discovery results for one listing index.
type PoiSet struct {
	ListingIndex int        `json:"listing_index"`
	Points       []PoiPoint `json:"points"`
}

// CommunityStory is a sourced news highlight about a community.
type CommunityStory struct {
	Title   string `json:"title"`
	URL     string `json:"url"`
	Summary string `json:"summary,omitempty"`
}

// CommunityReport carries the community-analysis scores and narrative.
// Scores are 0-10 with one decimal; OverallScore is the mean of safety and
// school scores.
type CommunityReport struct {
	LocationName        string           `json:"location_name"`
	OverallScore        float64          `json:"overall_score"`
	SafetyScore         float64          `json:"safety_score"`
	SchoolScore         float64          `json:"school_score"`
	HousingPricePerSqft float64          `json:"housing_price_per_sqft,omitempty"`
	AvgHouseSizeSqft    float64          `json:"avg_house_size_sqft,omitempty"`
	PositiveStories     []CommunityStory `json:"positive_stories,omitempty"`
	NegativeStories     []CommunityStory `json:"negative_stories,omitempty"`
}

// SearchOutcome is everything the research worker produced for one turn.
type SearchOutcome struct {
	Listings      []Listing      `json:"listings"`
	SearchSummary string         `json:"search_summary"`
	TotalFound    int            `json:"total_found"`
	Images        []ListingImage `json:"images,omitempty"`
}

// ImageFor returns the image URL attached to the given listing index.
func (s SearchOutcome) ImageFor(index int) string {
	for _, img := range s.Images {
		if img.Index == index {
			return img.ImageURL
		}
	}
	return ""
}

// SearchExtraction is the LLM's structured read of fetched listing pages.
type SearchExtraction struct {
	Listings []Listing `json:"listings"`
	Summary  string    `json:"summary"`
}

// PageExtract is the readable content of one fetched web page.
type PageExtract struct {
	URL    string   `json:"url"`
	Title  string   `json:"title"`
	Text   string   `json:"text"`
	Images []string `json:"images,omitempty"`
}

// StoryExtract is one fetched news story handed to community analysis.
type StoryExtract struct {
	Title string `json:"title"`
	URL   string `json:"url"`
	Text  string `json:"text"`
}

// EnrichedListing is one merged per-listing record in the final response.
type EnrichedListing struct {
	Index    int            `json:"index"`
	Listing  Listing        `json:"listing"`
	Geocode  *GeocodeRecord `json:"geocode,omitempty"`
	ImageURL string         `json:"image_url,omitempty"`
	Pois     []PoiPoint     `json:"pois"`
}

// FinalResponse is the assembled result of one completed turn.
type FinalResponse struct {
	SessionID     string            `json:"session_id"`
	Turn          int               `json:"turn"`
	SearchSummary string            `json:"search_summary,omitempty"`
	TotalFound    int               `json:"total_found,omitempty"`
	Listings      []EnrichedListing `json:"listings,omitempty"`
	Community     *CommunityReport  `json:"community,omitempty"`
	Answer        string            `json:"answer,omitempty"`
	Message       string            `json:"message"`
	Partial       bool              `json:"partial,omitempty"`
}
