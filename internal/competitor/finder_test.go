package competitor

import (
	"context"
	"errors"
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/site-finder/internal/cache"
	"github.com/sells-group/site-finder/internal/geo"
	"github.com/sells-group/site-finder/internal/model"
	"github.com/sells-group/site-finder/internal/resilience"
	"github.com/sells-group/site-finder/pkg/google"
	"github.com/sells-group/site-finder/pkg/google/mocks"
)

var origin = model.Coordinate{Latitude: 48.8566, Longitude: 2.3522}

// northOf returns a coordinate meters north of origin.
func northOf(meters float64) model.Coordinate {
	return model.Coordinate{Latitude: origin.Latitude + meters/geo.EarthRadiusM*180/math.Pi, Longitude: origin.Longitude}
}

func place(id, name string, c model.Coordinate) google.Place {
	return google.Place{
		ID:               id,
		DisplayName:      google.DisplayName{Text: name},
		FormattedAddress: name + " address",
		Location:         &google.LatLng{Latitude: c.Latitude, Longitude: c.Longitude},
	}
}

func keywordIs(kw string) any {
	return mock.MatchedBy(func(req google.TextSearchRequest) bool { return req.TextQuery == kw })
}

func TestFind_SortsByLocalDistance(t *testing.T) {
	client := mocks.NewMockClient(t)
	client.On("TextSearch", mock.Anything, keywordIs("laverie")).Return(&google.TextSearchResponse{
		Places: []google.Place{
			place("far", "Lavomatic", northOf(600)),
			place("near", "Laverie du Coin", northOf(150)),
		},
	}, nil)

	f := New(client)
	got := f.Find(context.Background(), origin, 800, []string{"laverie"})

	require.Len(t, got, 2)
	assert.Equal(t, "near", got[0].PlaceID)
	assert.InDelta(t, 150, got[0].Distance, 0.5)
	assert.Equal(t, "far", got[1].PlaceID)
	assert.InDelta(t, 600, got[1].Distance, 0.5)
}

func TestFind_DedupesAcrossKeywordsAndFiltersRadius(t *testing.T) {
	client := mocks.NewMockClient(t)
	client.On("TextSearch", mock.Anything, keywordIs("laverie")).Return(&google.TextSearchResponse{
		Places: []google.Place{place("a", "A", northOf(200)), place("out", "Outside", northOf(1500))},
	}, nil)
	client.On("TextSearch", mock.Anything, keywordIs("pressing")).Return(&google.TextSearchResponse{
		Places: []google.Place{place("a", "A", northOf(200)), place("b", "B", northOf(300))},
	}, nil)

	got := New(client).Find(context.Background(), origin, 800, []string{"laverie", "pressing"})

	require.Len(t, got, 2)
	assert.Equal(t, "a", got[0].PlaceID)
	assert.Equal(t, "b", got[1].PlaceID)
}

func TestFind_EmptyResponse(t *testing.T) {
	client := mocks.NewMockClient(t)
	client.On("TextSearch", mock.Anything, mock.Anything).Return(&google.TextSearchResponse{}, nil)

	got := New(client).Find(context.Background(), origin, 800, []string{"laverie"})
	assert.NotNil(t, got)
	assert.Empty(t, got)
}

func TestFind_ProviderErrorIsSoft(t *testing.T) {
	client := mocks.NewMockClient(t)
	client.On("TextSearch", mock.Anything, keywordIs("laverie")).Return(nil, errors.New("google: unexpected status 500"))
	client.On("TextSearch", mock.Anything, keywordIs("pressing")).Return(&google.TextSearchResponse{
		Places: []google.Place{place("b", "B", northOf(300))},
	}, nil)

	got := New(client).Find(context.Background(), origin, 800, []string{"laverie", "pressing"})
	require.Len(t, got, 1)
	assert.Equal(t, "b", got[0].PlaceID)
}

func TestFind_AllFailuresYieldEmpty(t *testing.T) {
	client := mocks.NewMockClient(t)
	client.On("TextSearch", mock.Anything, mock.Anything).Return(nil, errors.New("timeout"))

	got := New(client).Find(context.Background(), origin, 800, nil)
	assert.Empty(t, got)
	client.AssertNumberOfCalls(t, "TextSearch", len(model.DefaultCompetitorKeywords))
}

func TestFind_OpenBreakerSkipsProvider(t *testing.T) {
	client := mocks.NewMockClient(t)
	client.On("TextSearch", mock.Anything, mock.Anything).Return(nil, errors.New("timeout")).Once()

	b := resilience.NewBreaker("places", resilience.Config{FailureThreshold: 1, ResetTimeout: time.Hour})
	got := New(client, WithBreaker(b)).Find(context.Background(), origin, 800, []string{"laverie", "pressing", "laundromat"})

	assert.Empty(t, got)
	assert.Equal(t, resilience.Open, b.State())
	client.AssertNumberOfCalls(t, "TextSearch", 1)
}

func TestFind_CachesPerKeyword(t *testing.T) {
	client := mocks.NewMockClient(t)
	client.On("TextSearch", mock.Anything, keywordIs("laverie")).Return(&google.TextSearchResponse{
		Places: []google.Place{place("a", "A", northOf(250))},
	}, nil).Once()

	c := cache.New(cache.NewMemoryStore(), cache.WithSweepProbability(0))
	f := New(client, WithCache(c, time.Hour))

	first := f.Find(context.Background(), origin, 800, []string{"laverie"})
	second := f.Find(context.Background(), origin, 800, []string{"laverie"})

	require.Len(t, first, 1)
	assert.Equal(t, first, second)
	client.AssertNumberOfCalls(t, "TextSearch", 1)
}

func TestFind_MissingAddressAndLocation(t *testing.T) {
	noLoc := google.Place{ID: "x", DisplayName: google.DisplayName{Text: "No location"}}
	noAddr := place("y", "No address", northOf(100))
	noAddr.FormattedAddress = ""

	client := mocks.NewMockClient(t)
	client.On("TextSearch", mock.Anything, mock.Anything).Return(&google.TextSearchResponse{
		Places: []google.Place{noLoc, noAddr},
	}, nil)

	got := New(client).Find(context.Background(), origin, 800, []string{"laverie"})
	require.Len(t, got, 1)
	assert.Equal(t, "Adresse inconnue", got[0].Address)
}

func TestFind_NilClient(t *testing.T) {
	got := New(nil).Find(context.Background(), origin, 800, nil)
	assert.Empty(t, got)
}

func TestDetails(t *testing.T) {
	client := mocks.NewMockClient(t)
	client.On("PlaceDetails", mock.Anything, "a").Return(&google.Place{ID: "a", WebsiteURI: "https://a.example"}, nil)
	client.On("PlaceDetails", mock.Anything, "broken").Return(nil, errors.New("404"))

	f := New(client)
	p := f.Details(context.Background(), "a")
	require.NotNil(t, p)
	assert.Equal(t, "https://a.example", p.WebsiteURI)
	assert.Nil(t, f.Details(context.Background(), "broken"))
}
