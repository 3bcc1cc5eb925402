package geocoding

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"time"
)

// DefaultEndpoint is the Google Maps Geocoding API.
const DefaultEndpoint = "https://maps.googleapis.com/maps/api/geocode/json"

var (
	ErrNoAPIKey  = errors.New("geocoding: GOOGLE_MAPS_API_KEY is not set")
	ErrNoResults = errors.New("geocoding: no results for address")
)

// Result holds the fields of a geocoding response the backfill needs.
type Result struct {
	Formatted  string  `json:"formatted"`
	PostalCode string  `json:"postal_code"`
	State      string  `json:"state"` // short form, e.g. "CA"
	City       string  `json:"city"`
	Lat        float64 `json:"lat"`
	Lng        float64 `json:"lng"`
}

// Client wraps the Google Maps Geocoding API.
type Client struct {
	apiKey     string
	endpoint   string
	httpClient *http.Client
}

type Option func(*Client)

// WithEndpoint points the client at another server, such as an httptest one.
func WithEndpoint(u string) Option {
	return func(c *Client) { c.endpoint = u }
}

func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.httpClient = hc }
}

func NewClient(apiKey string, opts ...Option) (*Client, error) {
	if apiKey == "" {
		return nil, ErrNoAPIKey
	}
	c := &Client{
		apiKey:   apiKey,
		endpoint: DefaultEndpoint,
		httpClient: &http.Client{
			Timeout: 5 * time.Second,
		},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

type geocodeResponse struct {
	Results      []geocodeResult `json:"results"`
	Status       string          `json:"status"`
	ErrorMessage string          `json:"error_message"`
}

type geocodeResult struct {
	AddressComponents []addressComponent `json:"address_components"`
	FormattedAddress  string             `json:"formatted_address"`
	Geometry          struct {
		Location struct {
			Lat float64 `json:"lat"`
			Lng float64 `json:"lng"`
		} `json:"location"`
	} `json:"geometry"`
}

type addressComponent struct {
	LongName  string   `json:"long_name"`
	ShortName string   `json:"short_name"`
	Types     []string `json:"types"`
}

// Geocode resolves a one-line address to a point.
func (c *Client) Geocode(ctx context.Context, address string) (*Result, error) {
	q := url.Values{}
	q.Set("address", address)
	q.Set("key", c.apiKey)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.endpoint+"?"+q.Encode(), nil)
	if err != nil {
		return nil, fmt.Errorf("creating request: %w", err)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("geocoding request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("geocoding API returned HTTP %d", resp.StatusCode)
	}

	var body geocodeResponse
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return nil, fmt.Errorf("decoding geocoding response: %w", err)
	}

	switch body.Status {
	case "OK":
	case "ZERO_RESULTS":
		return nil, fmt.Errorf("%w: %q", ErrNoResults, address)
	default:
		return nil, fmt.Errorf("geocoding failed: status=%s %s", body.Status, body.ErrorMessage)
	}
	if len(body.Results) == 0 {
		return nil, fmt.Errorf("%w: %q", ErrNoResults, address)
	}

	first := body.Results[0]
	out := &Result{
		Formatted: first.FormattedAddress,
		Lat:       first.Geometry.Location.Lat,
		Lng:       first.Geometry.Location.Lng,
	}
	for _, comp := range first.AddressComponents {
		for _, t := range comp.Types {
			switch t {
			case "postal_code":
				out.PostalCode = comp.ShortName
			case "administrative_area_level_1":
				out.State = comp.ShortName
			case "locality":
				out.City = comp.LongName
			}
		}
	}
	return out, nil
}
