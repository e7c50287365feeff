package geocode

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"

	"github.com/rotisserie/eris"
)

const googleGeocodeURL = "https://maps.googleapis.com/maps/api/geocode/json"

// googleGeocodeResponse is the JSON response from the Google Geocoding API.
type googleGeocodeResponse struct {
	Results      []googleResult `json:"results"`
	Status       string         `json:"status"`
	ErrorMessage string         `json:"error_message,omitempty"`
}

type googleResult struct {
	Geometry struct {
		Location struct {
			Lat float64 `json:"lat"`
			Lng float64 `json:"lng"`
		} `json:"location"`
		LocationType string `json:"location_type"`
	} `json:"geometry"`
	FormattedAddress string `json:"formatted_address"`
}

// GoogleProvider geocodes via the Google Geocoding API.
type GoogleProvider struct {
	apiKey string
	opts   httpOptions
}

// NewGoogleProvider creates a GoogleProvider. It is unavailable without a key.
func NewGoogleProvider(apiKey string, opts ...Option) *GoogleProvider {
	return &GoogleProvider{apiKey: apiKey, opts: newHTTPOptions(googleGeocodeURL, 10, opts)}
}

// Name implements Provider.
func (p *GoogleProvider) Name() string { return "google" }

// Available implements Provider.
func (p *GoogleProvider) Available() bool { return p.apiKey != "" }

// Geocode implements Provider.
func (p *GoogleProvider) Geocode(ctx context.Context, query string) (*Result, error) {
	params := url.Values{"address": {query}}
	resp, err := p.call(ctx, params)
	if err != nil {
		return nil, err
	}
	if len(resp.Results) == 0 {
		return &Result{Matched: false, Source: "google"}, nil
	}

	result := resp.Results[0]
	return &Result{
		Latitude:         result.Geometry.Location.Lat,
		Longitude:        result.Geometry.Location.Lng,
		FormattedAddress: result.FormattedAddress,
		Source:           "google",
		Quality:          googleLocationTypeToQuality(result.Geometry.LocationType),
		Matched:          true,
	}, nil
}

// Reverse implements Provider.
func (p *GoogleProvider) Reverse(ctx context.Context, lat, lng float64) (*ReverseResult, error) {
	params := url.Values{"latlng": {fmt.Sprintf("%f,%f", lat, lng)}}
	resp, err := p.call(ctx, params)
	if err != nil {
		return nil, err
	}
	if len(resp.Results) == 0 || resp.Results[0].FormattedAddress == "" {
		return &ReverseResult{Matched: false, Source: "google"}, nil
	}
	return &ReverseResult{Address: resp.Results[0].FormattedAddress, Source: "google", Matched: true}, nil
}

// call performs one request. ZERO_RESULTS is returned as an empty response.
func (p *GoogleProvider) call(ctx context.Context, params url.Values) (*googleGeocodeResponse, error) {
	if p.apiKey == "" {
		return nil, eris.New("geocode: google api key not configured")
	}

	if err := p.opts.limiter.Wait(ctx); err != nil {
		return nil, eris.Wrap(err, "geocode: google rate limit")
	}

	params.Set("key", p.apiKey)
	if p.opts.language != "" {
		params.Set("language", p.opts.language)
	}
	if p.opts.region != "" {
		params.Set("region", p.opts.region)
	}

	reqURL := p.opts.baseURL + "?" + params.Encode()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
	if err != nil {
		return nil, eris.Wrap(err, "geocode: google build request")
	}

	resp, err := p.opts.httpClient.Do(req)
	if err != nil {
		return nil, eris.Wrap(err, "geocode: google request")
	}
	defer resp.Body.Close() //nolint:errcheck

	if resp.StatusCode != http.StatusOK {
		return nil, eris.Errorf("geocode: google returned status %d", resp.StatusCode)
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, eris.Wrap(err, "geocode: google read body")
	}

	var googleResp googleGeocodeResponse
	if err := json.Unmarshal(body, &googleResp); err != nil {
		return nil, eris.Wrap(err, "geocode: google parse response")
	}

	switch googleResp.Status {
	case "OK":
		return &googleResp, nil
	case "ZERO_RESULTS":
		return &googleGeocodeResponse{Status: googleResp.Status}, nil
	default:
		return nil, eris.Errorf("geocode: google status %s: %s", googleResp.Status, googleResp.ErrorMessage)
	}
}

// googleLocationTypeToQuality maps Google's location_type to our quality taxonomy.
func googleLocationTypeToQuality(locType string) string {
	switch strings.ToUpper(locType) {
	case "ROOFTOP":
		return "rooftop"
	case "RANGE_INTERPOLATED":
		return "range"
	case "GEOMETRIC_CENTER":
		return "centroid"
	default:
		return "approximate"
	}
}
