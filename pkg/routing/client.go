// Package routing wraps an OSRM-compatible routing service for
// drive-time lookups. Like places, this is deterministic I/O and never
// participates in provider consolidation.
package routing

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/rotisserie/eris"
	"golang.org/x/time/rate"

	"github.com/roadmind/strategy-engine/internal/resilience"
)

const defaultBaseURL = "https://router.project-osrm.org"

// Client computes drive times from an origin to a set of destinations.
type Client interface {
	DriveMinutes(ctx context.Context, origin Coord, destinations []Coord) ([]float64, error)
}

// Coord is a WGS84 coordinate.
type Coord struct {
	Latitude  float64
	Longitude float64
}

// Option configures the client.
type Option func(*httpClient)

// WithBaseURL overrides the default routing service URL.
func WithBaseURL(url string) Option {
	return func(c *httpClient) {
		c.baseURL = url
	}
}

// WithHTTPClient overrides the default http.Client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *httpClient) {
		c.http = hc
	}
}

// WithRateLimit sets the requests-per-second limit.
func WithRateLimit(rps float64) Option {
	return func(c *httpClient) {
		c.limiter = rate.NewLimiter(rate.Limit(rps), int(rps)+1)
	}
}

type httpClient struct {
	baseURL string
	http    *http.Client
	limiter *rate.Limiter
}

// NewClient creates a routing Client.
func NewClient(opts ...Option) Client {
	c := &httpClient{
		baseURL: defaultBaseURL,
		http:    &http.Client{Timeout: 15 * time.Second},
		limiter: rate.NewLimiter(5, 6),
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

// tableResponse is the OSRM /table response subset we read. Durations
// are seconds; null entries mean unroutable pairs.
type tableResponse struct {
	Code      string       `json:"code"`
	Durations [][]*float64 `json:"durations"`
}

// DriveMinutes queries the OSRM table service with the origin as the
// single source. The returned slice is indexed by destination; an
// unroutable destination yields a negative value.
func (c *httpClient) DriveMinutes(ctx context.Context, origin Coord, destinations []Coord) ([]float64, error) {
	if len(destinations) == 0 {
		return nil, nil
	}
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, eris.Wrap(err, "routing: rate limit wait")
	}

	coords := make([]string, 0, len(destinations)+1)
	coords = append(coords, fmt.Sprintf("%f,%f", origin.Longitude, origin.Latitude))
	for _, d := range destinations {
		coords = append(coords, fmt.Sprintf("%f,%f", d.Longitude, d.Latitude))
	}

	reqURL := fmt.Sprintf("%s/table/v1/driving/%s?sources=0&annotations=duration",
		c.baseURL, strings.Join(coords, ";"))

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
	if err != nil {
		return nil, eris.Wrap(err, "routing: create request")
	}

	resp, err := c.http.Do(httpReq)
	if err != nil {
		return nil, eris.Wrap(err, "routing: send request")
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, eris.Wrap(err, "routing: read response")
	}
	if resp.StatusCode != http.StatusOK {
		err := eris.Errorf("routing: unexpected status %d: %s", resp.StatusCode, string(respBody))
		if resilience.IsTransientHTTPStatus(resp.StatusCode) {
			return nil, resilience.NewTransientError(err, resp.StatusCode)
		}
		return nil, err
	}

	var table tableResponse
	if err := json.Unmarshal(respBody, &table); err != nil {
		return nil, eris.Wrap(err, "routing: unmarshal response")
	}
	if table.Code != "Ok" || len(table.Durations) == 0 {
		return nil, eris.Errorf("routing: service code %s", table.Code)
	}

	row := table.Durations[0]
	// Row 0 includes the origin-to-origin cell; destinations start at 1.
	minutes := make([]float64, len(destinations))
	for i := range destinations {
		idx := i + 1
		if idx >= len(row) || row[idx] == nil {
			minutes[i] = -1
			continue
		}
		minutes[i] = *row[idx] / 60
	}
	return minutes, nil
}
