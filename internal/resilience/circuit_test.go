package resilience

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var errPlaces = errors.New("places: unexpected status 503")

func failing(_ context.Context) (int, error) { return 0, errPlaces }
func ok(_ context.Context) (int, error)      { return 1, nil }

func newTestBreaker(threshold int, reset time.Duration) (*Breaker, *time.Time) {
	now := time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)
	b := NewBreaker("places", Config{FailureThreshold: threshold, ResetTimeout: reset})
	b.now = func() time.Time { return now }
	return b, &now
}

func TestBreaker_ClosedPassesThrough(t *testing.T) {
	b, _ := newTestBreaker(3, time.Minute)
	v, err := Do(context.Background(), b, ok)
	require.NoError(t, err)
	assert.Equal(t, 1, v)
	assert.Equal(t, Closed, b.State())
}

func TestBreaker_OpensAfterThreshold(t *testing.T) {
	b, _ := newTestBreaker(3, time.Minute)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		_, err := Do(ctx, b, failing)
		assert.ErrorIs(t, err, errPlaces)
	}
	assert.Equal(t, Open, b.State())

	_, err := Do(ctx, b, func(context.Context) (int, error) {
		t.Fatal("should not be called while open")
		return 0, nil
	})
	assert.ErrorIs(t, err, ErrCircuitOpen)
}

func TestBreaker_SuccessResetsFailureCount(t *testing.T) {
	b, _ := newTestBreaker(3, time.Minute)
	ctx := context.Background()

	_, _ = Do(ctx, b, failing)
	_, _ = Do(ctx, b, failing)
	_, _ = Do(ctx, b, ok)
	_, _ = Do(ctx, b, failing)
	_, _ = Do(ctx, b, failing)

	assert.Equal(t, Closed, b.State())
}

func TestBreaker_HalfOpenProbeCloses(t *testing.T) {
	b, now := newTestBreaker(1, time.Minute)
	ctx := context.Background()

	_, _ = Do(ctx, b, failing)
	assert.Equal(t, Open, b.State())

	*now = now.Add(time.Minute)
	assert.Equal(t, HalfOpen, b.State())

	v, err := Do(ctx, b, ok)
	require.NoError(t, err)
	assert.Equal(t, 1, v)
	assert.Equal(t, Closed, b.State())
}

func TestBreaker_HalfOpenFailureReopens(t *testing.T) {
	b, now := newTestBreaker(1, time.Minute)
	ctx := context.Background()

	_, _ = Do(ctx, b, failing)
	*now = now.Add(2 * time.Minute)

	_, err := Do(ctx, b, failing)
	assert.ErrorIs(t, err, errPlaces)
	assert.Equal(t, Open, b.State())

	_, err = Do(ctx, b, ok)
	assert.ErrorIs(t, err, ErrCircuitOpen)
}

func TestBreaker_CancellationDoesNotTrip(t *testing.T) {
	b, _ := newTestBreaker(1, time.Minute)
	_, err := Do(context.Background(), b, func(context.Context) (int, error) {
		return 0, context.Canceled
	})
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, Closed, b.State())
}

func TestBreaker_CustomShouldTrip(t *testing.T) {
	b := NewBreaker("geocode", Config{
		FailureThreshold: 1,
		ShouldTrip:       func(err error) bool { return errors.Is(err, errPlaces) },
	})
	_, _ = Do(context.Background(), b, func(context.Context) (int, error) { return 0, errors.New("bad request") })
	assert.Equal(t, Closed, b.State())
	_, _ = Do(context.Background(), b, failing)
	assert.Equal(t, Open, b.State())
}

func TestBreaker_Reset(t *testing.T) {
	b, _ := newTestBreaker(1, time.Hour)
	_, _ = Do(context.Background(), b, failing)
	require.Equal(t, Open, b.State())

	b.Reset()
	assert.Equal(t, Closed, b.State())
}

func TestDo_NilBreaker(t *testing.T) {
	v, err := Do(context.Background(), nil, ok)
	require.NoError(t, err)
	assert.Equal(t, 1, v)
}

func TestBreaker_ConcurrentAccess(t *testing.T) {
	b := NewBreaker("places", Config{FailureThreshold: 1000})
	var wg sync.WaitGroup
	for i := 0; i < 100; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			if i%2 == 0 {
				_, _ = Do(context.Background(), b, ok)
			} else {
				_, _ = Do(context.Background(), b, failing)
			}
		}(i)
	}
	wg.Wait()
	assert.Equal(t, Closed, b.State())
}

func TestBreakers_GetOrCreate(t *testing.T) {
	r := NewBreakers(DefaultConfig())
	a := r.Get("places")
	assert.Same(t, a, r.Get("places"))
	assert.NotSame(t, a, r.Get("geocode"))
	assert.Equal(t, "places", a.Name())

	states := r.States()
	assert.Len(t, states, 2)
	assert.Equal(t, Closed, states["geocode"])
}

func TestFromSettings(t *testing.T) {
	cfg := FromSettings(0, 0)
	assert.Equal(t, DefaultConfig().FailureThreshold, cfg.FailureThreshold)

	cfg = FromSettings(2, 5*time.Second)
	assert.Equal(t, 2, cfg.FailureThreshold)
	assert.Equal(t, 5*time.Second, cfg.ResetTimeout)
}

func TestState_String(t *testing.T) {
	assert.Equal(t, "closed", Closed.String())
	assert.Equal(t, "open", Open.String())
	assert.Equal(t, "half-open", HalfOpen.String())
	assert.Equal(t, "unknown", State(9).String())
}
