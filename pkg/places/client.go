// Package places wraps the Google Places and Geocoding APIs for venue
// verification and locality resolution. These are deterministic lookups,
// not generation providers, and are treated as ordinary I/O.
package places

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/rotisserie/eris"
	"golang.org/x/time/rate"

	"github.com/roadmind/strategy-engine/internal/resilience"
)

const (
	defaultBaseURL    = "https://places.googleapis.com/v1"
	defaultGeocodeURL = "https://maps.googleapis.com/maps/api/geocode/json"
)

// Client performs place search and reverse geocoding.
type Client interface {
	TextSearch(ctx context.Context, query string, near LatLng) (*TextSearchResponse, error)
	ReverseGeocode(ctx context.Context, loc LatLng) (*Locality, error)
}

// LatLng is a WGS84 coordinate pair.
type LatLng struct {
	Latitude  float64 `json:"latitude"`
	Longitude float64 `json:"longitude"`
}

// TextSearchResponse is the response from Places Text Search.
type TextSearchResponse struct {
	Places []Place `json:"places"`
}

// Place represents a place returned by the API.
type Place struct {
	DisplayName      DisplayName `json:"displayName"`
	FormattedAddress string      `json:"formattedAddress"`
	Location         LatLng      `json:"location"`
	Rating           float64     `json:"rating"`
	UserRatingCount  int         `json:"userRatingCount"`
	BusinessStatus   string      `json:"businessStatus"`
}

// DisplayName holds the place's display name.
type DisplayName struct {
	Text string `json:"text"`
}

// Locality is the resolved administrative context for a coordinate.
type Locality struct {
	Neighborhood string
	City         string
	State        string
	Formatted    string
}

// Option configures the client.
type Option func(*httpClient)

// WithBaseURL overrides the Places API base URL.
func WithBaseURL(url string) Option {
	return func(c *httpClient) {
		c.baseURL = url
	}
}

// WithGeocodeURL overrides the Geocoding API URL.
func WithGeocodeURL(url string) Option {
	return func(c *httpClient) {
		c.geocodeURL = url
	}
}

// WithHTTPClient overrides the default http.Client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *httpClient) {
		c.http = hc
	}
}

// WithRateLimit sets the requests-per-second limit for API calls.
func WithRateLimit(rps float64) Option {
	return func(c *httpClient) {
		c.limiter = rate.NewLimiter(rate.Limit(rps), int(rps)+1)
	}
}

type httpClient struct {
	apiKey     string
	baseURL    string
	geocodeURL string
	http       *http.Client
	limiter    *rate.Limiter
}

// NewClient creates a places Client.
func NewClient(apiKey string, opts ...Option) Client {
	c := &httpClient{
		apiKey:     apiKey,
		baseURL:    defaultBaseURL,
		geocodeURL: defaultGeocodeURL,
		http:       &http.Client{Timeout: 15 * time.Second},
		limiter:    rate.NewLimiter(10, 11),
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

func (c *httpClient) TextSearch(ctx context.Context, query string, near LatLng) (*TextSearchResponse, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, eris.Wrap(err, "places: rate limit wait")
	}

	reqBody := map[string]any{
		"textQuery": query,
		"locationBias": map[string]any{
			"circle": map[string]any{
				"center": near,
				"radius": 15000.0,
			},
		},
	}
	body, err := json.Marshal(reqBody)
	if err != nil {
		return nil, eris.Wrap(err, "places: marshal request")
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/places:searchText", bytes.NewReader(body))
	if err != nil {
		return nil, eris.Wrap(err, "places: create request")
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("X-Goog-Api-Key", c.apiKey)
	httpReq.Header.Set("X-Goog-FieldMask",
		"places.displayName,places.formattedAddress,places.location,places.rating,places.userRatingCount,places.businessStatus")

	resp, err := c.http.Do(httpReq)
	if err != nil {
		return nil, eris.Wrap(err, "places: send request")
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, eris.Wrap(err, "places: read response")
	}

	if resp.StatusCode != http.StatusOK {
		err := eris.Errorf("places: unexpected status %d: %s", resp.StatusCode, string(respBody))
		if resilience.IsTransientHTTPStatus(resp.StatusCode) {
			return nil, resilience.NewTransientError(err, resp.StatusCode)
		}
		return nil, err
	}

	var result TextSearchResponse
	if err := json.Unmarshal(respBody, &result); err != nil {
		return nil, eris.Wrap(err, "places: unmarshal response")
	}
	return &result, nil
}

// geocodeResponse is the subset of the Geocoding API response we read.
type geocodeResponse struct {
	Status  string `json:"status"`
	Results []struct {
		FormattedAddress  string `json:"formatted_address"`
		AddressComponents []struct {
			LongName string   `json:"long_name"`
			Types    []string `json:"types"`
		} `json:"address_components"`
	} `json:"results"`
}

func (c *httpClient) ReverseGeocode(ctx context.Context, loc LatLng) (*Locality, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, eris.Wrap(err, "places: rate limit wait")
	}

	q := url.Values{}
	q.Set("latlng", fmt.Sprintf("%f,%f", loc.Latitude, loc.Longitude))
	q.Set("key", c.apiKey)

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, c.geocodeURL+"?"+q.Encode(), nil)
	if err != nil {
		return nil, eris.Wrap(err, "places: create geocode request")
	}

	resp, err := c.http.Do(httpReq)
	if err != nil {
		return nil, eris.Wrap(err, "places: send geocode request")
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, eris.Wrap(err, "places: read geocode response")
	}
	if resp.StatusCode != http.StatusOK {
		err := eris.Errorf("places: geocode status %d: %s", resp.StatusCode, string(respBody))
		if resilience.IsTransientHTTPStatus(resp.StatusCode) {
			return nil, resilience.NewTransientError(err, resp.StatusCode)
		}
		return nil, err
	}

	var gc geocodeResponse
	if err := json.Unmarshal(respBody, &gc); err != nil {
		return nil, eris.Wrap(err, "places: unmarshal geocode response")
	}
	if gc.Status != "OK" || len(gc.Results) == 0 {
		return nil, eris.Errorf("places: geocode status %s", gc.Status)
	}

	out := &Locality{Formatted: gc.Results[0].FormattedAddress}
	for _, comp := range gc.Results[0].AddressComponents {
		for _, t := range comp.Types {
			switch t {
			case "neighborhood":
				if out.Neighborhood == "" {
					out.Neighborhood = comp.LongName
				}
			case "locality":
				if out.City == "" {
					out.City = comp.LongName
				}
			case "administrative_area_level_1":
				if out.State == "" {
					out.State = comp.LongName
				}
			}
		}
	}
	return out, nil
}
