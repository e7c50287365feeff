package geocode

import (
	"context"
	"encoding/json"
	"net/http"
	"net/url"
	"strconv"

	"github.com/rotisserie/eris"
)

const (
	nominatimBaseURL   = "https://nominatim.openstreetmap.org"
	nominatimUserAgent = "site-finder/1.0 (laundromat site analysis)"
)

type nominatimPlace struct {
	Lat         string `json:"lat"`
	Lon         string `json:"lon"`
	DisplayName string `json:"display_name"`
	Class       string `json:"class"`
	Type        string `json:"type"`
	Error       string `json:"error,omitempty"`
}

// NominatimProvider geocodes via the OpenStreetMap Nominatim API. The public
// instance allows one request per second.
type NominatimProvider struct {
	opts httpOptions
}

// NewNominatimProvider creates a NominatimProvider.
func NewNominatimProvider(opts ...Option) *NominatimProvider {
	o := newHTTPOptions(nominatimBaseURL, 1, opts)
	if o.userAgent == "" {
		o.userAgent = nominatimUserAgent
	}
	return &NominatimProvider{opts: o}
}

// Name implements Provider.
func (p *NominatimProvider) Name() string { return "nominatim" }

// Available implements Provider.
func (p *NominatimProvider) Available() bool { return p.opts.baseURL != "" }

// Geocode implements Provider.
func (p *NominatimProvider) Geocode(ctx context.Context, query string) (*Result, error) {
	params := url.Values{
		"q":      {query},
		"format": {"json"},
		"limit":  {"1"},
	}
	if p.opts.region != "" {
		params.Set("countrycodes", p.opts.region)
	}

	var places []nominatimPlace
	if err := p.get(ctx, "/search", params, &places); err != nil {
		return nil, err
	}
	if len(places) == 0 {
		return &Result{Matched: false, Source: "nominatim"}, nil
	}

	lat, latErr := strconv.ParseFloat(places[0].Lat, 64)
	lon, lonErr := strconv.ParseFloat(places[0].Lon, 64)
	if latErr != nil || lonErr != nil {
		return nil, eris.Errorf("geocode: nominatim invalid coordinates %q,%q", places[0].Lat, places[0].Lon)
	}

	return &Result{
		Latitude:         lat,
		Longitude:        lon,
		FormattedAddress: places[0].DisplayName,
		Source:           "nominatim",
		Quality:          nominatimQuality(places[0].Class, places[0].Type),
		Matched:          true,
	}, nil
}

// Reverse implements Provider.
func (p *NominatimProvider) Reverse(ctx context.Context, lat, lng float64) (*ReverseResult, error) {
	params := url.Values{
		"lat":    {strconv.FormatFloat(lat, 'f', 6, 64)},
		"lon":    {strconv.FormatFloat(lng, 'f', 6, 64)},
		"format": {"json"},
	}

	var place nominatimPlace
	if err := p.get(ctx, "/reverse", params, &place); err != nil {
		return nil, err
	}
	if place.Error != "" || place.DisplayName == "" {
		return &ReverseResult{Matched: false, Source: "nominatim"}, nil
	}
	return &ReverseResult{Address: place.DisplayName, Source: "nominatim", Matched: true}, nil
}

func (p *NominatimProvider) get(ctx context.Context, path string, params url.Values, out any) error {
	if err := p.opts.limiter.Wait(ctx); err != nil {
		return eris.Wrap(err, "geocode: nominatim rate limit")
	}

	if p.opts.language != "" {
		params.Set("accept-language", p.opts.language)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.opts.baseURL+path+"?"+params.Encode(), nil)
	if err != nil {
		return eris.Wrap(err, "geocode: nominatim build request")
	}
	req.Header.Set("User-Agent", p.opts.userAgent)

	resp, err := p.opts.httpClient.Do(req)
	if err != nil {
		return eris.Wrap(err, "geocode: nominatim request")
	}
	defer resp.Body.Close() //nolint:errcheck

	if resp.StatusCode != http.StatusOK {
		return eris.Errorf("geocode: nominatim returned status %d", resp.StatusCode)
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return eris.Wrap(err, "geocode: nominatim parse response")
	}
	return nil
}

func nominatimQuality(class, typ string) string {
	switch {
	case class == "building" || class == "amenity" || class == "shop":
		return "rooftop"
	case class == "highway":
		return "range"
	case class == "place" || class == "boundary" || typ == "postcode":
		return "centroid"
	default:
		return "approximate"
	}
}
