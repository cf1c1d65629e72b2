package mapbox

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strconv"

	"github.com/homescout/homescout/models"
)

const defaultBaseURL = "https://api.mapbox.com"

// ErrNoResult indicates the geocoder matched nothing for the query.
var ErrNoResult = errors.New("no coordinates found for address")

// Client talks to the Mapbox Geocoding v6 and Search Box APIs.
type Client struct {
	Token   string
	BaseURL string // overridable for tests
}

// GeocodeResult is the top forward-geocode hit for an address.
type GeocodeResult struct {
	Latitude    float64
	Longitude   float64
	FullAddress string
}

type featureCollection struct {
	Features []struct {
		Geometry struct {
			Coordinates []float64 `json:"coordinates"`
		} `json:"geometry"`
		Properties struct {
			Name           string  `json:"name"`
			FullAddress    string  `json:"full_address"`
			PlaceFormatted string  `json:"place_formatted"`
			Distance       float64 `json:"distance"`
		} `json:"properties"`
	} `json:"features"`
}

// Forward resolves an address to coordinates using the Geocoding v6 forward
// endpoint, keeping only the top result.
func (c Client) Forward(ctx context.Context, address string) (GeocodeResult, error) {
	params := url.Values{}
	params.Set("q", address)
	params.Set("access_token", c.Token)
	params.Set("limit", "1")
	params.Set("country", "US")

	var raw featureCollection
	if err := c.get(ctx, "/search/geocode/v6/forward", params, &raw); err != nil {
		return GeocodeResult{}, err
	}
	if len(raw.Features) == 0 {
		return GeocodeResult{}, ErrNoResult
	}
	feature := raw.Features[0]
	coords := feature.Geometry.Coordinates
	if len(coords) < 2 {
		return GeocodeResult{}, ErrNoResult
	}
	full := feature.Properties.FullAddress
	if full == "" {
		full = address
	}
	// Mapbox returns [lng, lat]
	return GeocodeResult{Latitude: coords[1], Longitude: coords[0], FullAddress: full}, nil
}

// Category finds places of one category near a coordinate using the Search
// Box category endpoint.
func (c Client) Category(ctx context.Context, category string, latitude, longitude float64, limit int) ([]models.PoiPoint, error) {
	params := url.Values{}
	params.Set("access_token", c.Token)
	// Mapbox uses lon,lat order
	params.Set("proximity", formatCoord(longitude)+","+formatCoord(latitude))
	params.Set("limit", strconv.Itoa(limit))
	params.Set("language", "en")

	var raw featureCollection
	if err := c.get(ctx, "/search/searchbox/v1/category/"+url.PathEscape(category), params, &raw); err != nil {
		return nil, err
	}

	var points []models.PoiPoint
	for _, feature := range raw.Features {
		coords := feature.Geometry.Coordinates
		if len(coords) < 2 {
			continue
		}
		name := feature.Properties.Name
		if name == "" {
			name = "Unknown"
		}
		address := feature.Properties.FullAddress
		if address == "" {
			address = feature.Properties.PlaceFormatted
		}
		points = append(points, models.PoiPoint{
			Name:           name,
			Category:       category,
			Latitude:       coords[1],
			Longitude:      coords[0],
			Address:        address,
			DistanceMeters: feature.Properties.Distance,
		})
	}
	return points, nil
}

// Nearby sweeps the given categories around a coordinate. Categories that
// fail individually degrade to fewer points; an error is returned only when
// every lookup failed and nothing was found.
func (c Client) Nearby(ctx context.Context, latitude, longitude float64, categories []string, perCategory int) ([]models.PoiPoint, error) {
	var (
		points   []models.PoiPoint
		firstErr error
	)
	for _, category := range categories {
		found, err := c.Category(ctx, category, latitude, longitude, perCategory)
		if err != nil {
			if firstErr == nil {
				firstErr = err
			}
			continue
		}
		points = append(points, found...)
	}
	if len(points) == 0 && firstErr != nil {
		return nil, firstErr
	}
	return points, nil
}

func (c Client) get(ctx context.Context, path string, params url.Values, out any) error {
	base := c.BaseURL
	if base == "" {
		base = defaultBaseURL
	}
	req, err := http.NewRequestWithContext(ctx, "GET", base+path+"?"+params.Encode(), nil)
	if err != nil {
		return err
	}
	req.Header.Set("Accept", "application/json")
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("mapbox returned status: %d", resp.StatusCode)
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

func formatCoord(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}
