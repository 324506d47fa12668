// Package geocode resolves coordinates into a human readable landmark.
package geocode

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
)

const (
	UnknownLocation    = "Unknown Location"
	AddressUnavailable = "Address unavailable"

	defaultBaseURL = "https://api.mapbox.com"
)

// Geocoder returns a best-effort label for a coordinate. It never fails.
type Geocoder interface {
	Landmark(ctx context.Context, lat, lng float64) string
}

// Mapbox uses the Mapbox places API for reverse lookups.
type Mapbox struct {
	client  *http.Client
	baseURL string
	token   string
}

// NewMapbox creates a Mapbox geocoder. An empty baseURL uses the public API.
func NewMapbox(baseURL, token string) *Mapbox {
	if baseURL == "" {
		baseURL = defaultBaseURL
	}
	return &Mapbox{
		client: &http.Client{
			Timeout:   5 * time.Second,
			Transport: otelhttp.NewTransport(http.DefaultTransport),
		},
		baseURL: strings.TrimRight(baseURL, "/"),
		token:   token,
	}
}

// Landmark looks up the closest point of interest, address or neighborhood.
func (m *Mapbox) Landmark(ctx context.Context, lat, lng float64) string {
	label, err := m.lookup(ctx, lat, lng)
	if err != nil {
		log.Ctx(ctx).Warn().Err(err).Float64("lat", lat).Float64("lng", lng).Msg("Geocoding failed")
		return AddressUnavailable
	}
	if label == "" {
		return UnknownLocation
	}
	return label
}

func (m *Mapbox) lookup(ctx context.Context, lat, lng float64) (string, error) {
	q := url.Values{
		"access_token": {m.token},
		"types":        {"poi,address,neighborhood"},
		"limit":        {"1"},
	}
	target := fmt.Sprintf("%s/geocoding/v5/mapbox.places/%f,%f.json?%s", m.baseURL, lng, lat, q.Encode())

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		return "", err
	}
	resp, err := m.client.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		return "", fmt.Errorf("mapbox returned non-successful status code: %d", resp.StatusCode)
	}

	var body struct {
		Features []struct {
			PlaceName string `json:"place_name"`
		} `json:"features"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return "", err
	}
	if len(body.Features) == 0 {
		return "", nil
	}
	return body.Features[0].PlaceName, nil
}
