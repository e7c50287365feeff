// Package geocode provides forward and reverse geocoding via Google
// (primary) and OpenStreetMap Nominatim (fallback).
package geocode

import (
	"context"
	"net/http"
	"time"

	"golang.org/x/time/rate"
)

// Client geocodes free-text places and reverse geocodes coordinates.
// A query with no match is not an error: the result has Matched=false.
type Client interface {
	// Geocode resolves a city, postal code or address to a coordinate.
	Geocode(ctx context.Context, query string) (*Result, error)

	// ReverseGeocode resolves a coordinate to a formatted address.
	ReverseGeocode(ctx context.Context, lat, lng float64) (*ReverseResult, error)
}

// Result holds the geocoding output for a query.
type Result struct {
	Latitude         float64 `json:"latitude"`
	Longitude        float64 `json:"longitude"`
	FormattedAddress string  `json:"formatted_address,omitempty"`
	Source           string  `json:"source"`  // "google" or "nominatim"
	Quality          string  `json:"quality"` // "rooftop", "range", "centroid", "approximate"
	Matched          bool    `json:"matched"`
}

// ReverseResult holds the result of a reverse geocode operation.
type ReverseResult struct {
	Address string `json:"address"`
	Source  string `json:"source"`
	Matched bool   `json:"matched"`
}

// Option configures an HTTP-backed provider.
type Option func(*httpOptions)

type httpOptions struct {
	httpClient *http.Client
	limiter    *rate.Limiter
	baseURL    string
	language   string
	region     string
	userAgent  string
}

// WithHTTPClient sets a custom HTTP client.
func WithHTTPClient(hc *http.Client) Option {
	return func(o *httpOptions) {
		o.httpClient = hc
	}
}

// WithRateLimit sets the requests-per-second limit.
func WithRateLimit(rps float64) Option {
	return func(o *httpOptions) {
		burst := int(rps)
		if burst < 1 {
			burst = 1
		}
		o.limiter = rate.NewLimiter(rate.Limit(rps), burst)
	}
}

// WithLimiter sets the rate limiter directly.
func WithLimiter(l *rate.Limiter) Option {
	return func(o *httpOptions) {
		o.limiter = l
	}
}

// WithBaseURL overrides the provider endpoint.
func WithBaseURL(url string) Option {
	return func(o *httpOptions) {
		o.baseURL = url
	}
}

// WithLanguage sets the preferred result language, e.g. "fr".
func WithLanguage(lang string) Option {
	return func(o *httpOptions) {
		o.language = lang
	}
}

// WithRegion biases results toward a country code, e.g. "fr".
func WithRegion(region string) Option {
	return func(o *httpOptions) {
		o.region = region
	}
}

// WithUserAgent sets the User-Agent header. Nominatim requires one.
func WithUserAgent(ua string) Option {
	return func(o *httpOptions) {
		o.userAgent = ua
	}
}

func newHTTPOptions(baseURL string, rps float64, opts []Option) httpOptions {
	o := httpOptions{
		httpClient: &http.Client{Timeout: 10 * time.Second},
		limiter:    rate.NewLimiter(rate.Limit(rps), 1),
		baseURL:    baseURL,
		language:   "fr",
		region:     "fr",
	}
	for _, opt := range opts {
		opt(&o)
	}
	return o
}
