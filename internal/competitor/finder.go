// Package competitor finds existing laundromats near a coordinate through
// the Google Places API.
package competitor

import (
	"context"
	"sort"
	"strings"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/site-finder/internal/cache"
	"github.com/sells-group/site-finder/internal/geo"
	"github.com/sells-group/site-finder/internal/metrics"
	"github.com/sells-group/site-finder/internal/model"
	"github.com/sells-group/site-finder/internal/resilience"
	"github.com/sells-group/site-finder/pkg/google"
)

// Cache service names.
const (
	ServicePlaces  = "google_places"
	ServiceDetails = "google_place_details"
)

// DefaultRadiusM is the default competitor search radius in meters.
const DefaultRadiusM = 800.0

const unknownAddress = "Adresse inconnue"

// hit is the cached form of one place returned for a keyword.
type hit struct {
	PlaceID string  `json:"place_id"`
	Name    string  `json:"name"`
	Address string  `json:"address"`
	Lat     float64 `json:"lat"`
	Lng     float64 `json:"lng"`
}

// Finder looks up competitors. It never fails a search: provider errors are
// logged and yield no competitors for that keyword.
type Finder struct {
	places     google.Client
	cache      *cache.Cache
	ttl        time.Duration
	breaker    *resilience.Breaker
	language   string
	region     string
	maxResults int
}

// Option configures a Finder.
type Option func(*Finder)

// WithCache memoizes per-keyword results in c for ttl.
func WithCache(c *cache.Cache, ttl time.Duration) Option {
	return func(f *Finder) {
		f.cache = c
		if ttl > 0 {
			f.ttl = ttl
		}
	}
}

// WithBreaker guards provider calls with b.
func WithBreaker(b *resilience.Breaker) Option {
	return func(f *Finder) { f.breaker = b }
}

// WithLocale sets the language and region codes sent to the provider.
func WithLocale(language, region string) Option {
	return func(f *Finder) {
		f.language = language
		f.region = region
	}
}

// New creates a Finder over a Places client.
func New(places google.Client, opts ...Option) *Finder {
	f := &Finder{
		places:     places,
		ttl:        cache.DefaultTTL,
		language:   "fr",
		region:     "FR",
		maxResults: 20,
	}
	for _, o := range opts {
		o(f)
	}
	return f
}

// Find returns the competitors within radiusM of c matching any keyword,
// sorted by ascending distance. Distances are computed locally from each
// place's coordinate. Places returned for several keywords appear once.
func (f *Finder) Find(ctx context.Context, c model.Coordinate, radiusM float64, keywords []string) []model.Competitor {
	if f == nil || f.places == nil {
		return []model.Competitor{}
	}
	if len(keywords) == 0 {
		keywords = model.DefaultCompetitorKeywords
	}
	log := zap.L().With(zap.String("coordinate", c.String()), zap.Float64("radius_m", radiusM))

	seen := make(map[string]bool)
	var out []model.Competitor
	for _, kw := range keywords {
		kw = strings.TrimSpace(kw)
		if kw == "" {
			continue
		}
		hits, err := f.search(ctx, c, radiusM, kw)
		if err != nil {
			log.Warn("competitor: places search failed", zap.String("keyword", kw), zap.Error(err))
			continue
		}
		for _, h := range hits {
			key := h.PlaceID
			if key == "" {
				key = h.Name + "|" + h.Address
			}
			if seen[key] {
				continue
			}
			pos := model.Coordinate{Latitude: h.Lat, Longitude: h.Lng}
			d := geo.Distance(c, pos)
			if d > radiusM {
				continue
			}
			seen[key] = true
			out = append(out, model.Competitor{
				Name:       h.Name,
				Address:    h.Address,
				Coordinate: pos,
				Distance:   d,
				PlaceID:    h.PlaceID,
			})
		}
	}

	sortByDistance(out)
	if len(out) == 0 {
		log.Debug("competitor: none found")
		return []model.Competitor{}
	}
	return out
}

func (f *Finder) search(ctx context.Context, c model.Coordinate, radiusM float64, keyword string) ([]hit, error) {
	params := map[string]any{"radius": radiusM, "keyword": keyword}
	return cache.GetOrCompute(ctx, f.cache, ServicePlaces, c.String(), params, f.ttl,
		func(ctx context.Context) ([]hit, error) {
			resp, err := resilience.Do(ctx, f.breaker, func(ctx context.Context) (*google.TextSearchResponse, error) {
				return f.places.TextSearch(ctx, google.TextSearchRequest{
					TextQuery:      keyword,
					LanguageCode:   f.language,
					RegionCode:     f.region,
					MaxResultCount: f.maxResults,
					LocationBias: &google.LocationBias{Circle: google.Circle{
						Center: google.LatLng{Latitude: c.Latitude, Longitude: c.Longitude},
						Radius: radiusM,
					}},
				})
			})
			metrics.ObserveExternal(ServicePlaces, err)
			if err != nil {
				return nil, eris.Wrapf(err, "competitor: search %q", keyword)
			}
			return toHits(resp), nil
		})
}

func sortByDistance(cs []model.Competitor) {
	sort.SliceStable(cs, func(i, j int) bool { return cs[i].Distance < cs[j].Distance })
}

func toHits(resp *google.TextSearchResponse) []hit {
	hits := make([]hit, 0, len(resp.Places))
	for _, p := range resp.Places {
		if p.Location == nil {
			continue
		}
		addr := p.FormattedAddress
		if addr == "" {
			addr = unknownAddress
		}
		hits = append(hits, hit{
			PlaceID: p.ID,
			Name:    p.DisplayName.Text,
			Address: addr,
			Lat:     p.Location.Latitude,
			Lng:     p.Location.Longitude,
		})
	}
	return hits
}

// Details returns provider details for one place, or nil when the lookup
// fails. Failures are logged.
func (f *Finder) Details(ctx context.Context, placeID string) *google.Place {
	if f == nil || f.places == nil || placeID == "" {
		return nil
	}
	place, err := cache.GetOrCompute(ctx, f.cache, ServiceDetails, placeID, nil, f.ttl,
		func(ctx context.Context) (*google.Place, error) {
			p, err := resilience.Do(ctx, f.breaker, func(ctx context.Context) (*google.Place, error) {
				return f.places.PlaceDetails(ctx, placeID)
			})
			metrics.ObserveExternal(ServiceDetails, err)
			return p, err
		})
	if err != nil {
		zap.L().Warn("competitor: place details failed", zap.String("place_id", placeID), zap.Error(err))
		return nil
	}
	return place
}
