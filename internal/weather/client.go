// Package weather fetches daily weather observations from unreliable
// upstream providers behind a uniform retry/fallback contract.
package weather

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/terravine/backend/internal/apperrors"
	"github.com/terravine/backend/internal/logging"
	"github.com/terravine/backend/internal/models"
)

const (
	// DefaultMaxAttempts is the per-provider retry budget.
	DefaultMaxAttempts = 3

	// DefaultBaseDelay is the backoff unit; the delay before attempt
	// n+1 is baseDelay * n (linear, not exponential).
	DefaultBaseDelay = 1000 * time.Millisecond
)

// Contiguous United States bounding box, used to pick the primary
// provider for a coordinate.
const (
	usLatMin = 24.5
	usLatMax = 49.5
	usLonMin = -125.0
	usLonMax = -66.9
)

// Config holds retry and normalization settings for the client.
type Config struct {
	MaxAttempts int
	BaseDelay   time.Duration
	GDDBase     float64
}

// Client produces a uniform daily weather series for a coordinate and
// date range, retrying the region's primary provider with linear
// backoff and falling back to the secondary with an independent retry
// budget.
type Client struct {
	usProvider     Provider
	globalProvider Provider
	maxAttempts    int
	baseDelay      time.Duration
	gddBase        float64

	sleep func(time.Duration)
}

// NewClient creates a Client over the two providers. A nil config
// selects the defaults.
func NewClient(usProvider, globalProvider Provider, cfg *Config) *Client {
	c := &Client{
		usProvider:     usProvider,
		globalProvider: globalProvider,
		maxAttempts:    DefaultMaxAttempts,
		baseDelay:      DefaultBaseDelay,
		gddBase:        DefaultGDDBase,
		sleep:          time.Sleep,
	}
	if cfg != nil {
		if cfg.MaxAttempts > 0 {
			c.maxAttempts = cfg.MaxAttempts
		}
		if cfg.BaseDelay > 0 {
			c.baseDelay = cfg.BaseDelay
		}
		if cfg.GDDBase != 0 {
			c.gddBase = cfg.GDDBase
		}
	}
	return c
}

// SetSleep overrides the backoff sleeper. Tests only.
func (c *Client) SetSleep(sleep func(time.Duration)) {
	c.sleep = sleep
}

// FetchDaily validates the request, tries the region's provider order,
// and normalizes the first successful response. Fails with
// ALL_PROVIDERS_EXHAUSTED carrying per-provider diagnostics when every
// provider spends its retry budget.
func (c *Client) FetchDaily(ctx context.Context, lat, lon float64, start, end time.Time) ([]models.DailyWeather, error) {
	if err := validateRequest(lat, lon, start, end); err != nil {
		return nil, err
	}

	var diagnostics []string
	for _, provider := range c.providerOrder(lat, lon) {
		observations, err := c.fetchWithRetry(ctx, provider, lat, lon, start, end)
		if err != nil {
			diagnostics = append(diagnostics, fmt.Sprintf("%s: %v", provider.Name(), err))
			if ctx.Err() != nil {
				break
			}
			continue
		}

		logging.Info("Weather request served",
			map[string]interface{}{
				"provider": provider.Name(),
				"days":     len(observations),
			})
		return c.normalize(observations), nil
	}

	return nil, apperrors.Newf(apperrors.ErrAllProvidersExhausted,
		"every weather provider failed: %s", strings.Join(diagnostics, "; "))
}

// providerOrder selects the primary provider by a static geographic
// rule: coordinates inside the contiguous US bounding box prefer the
// US provider, everything else prefers the global one.
func (c *Client) providerOrder(lat, lon float64) []Provider {
	if lat >= usLatMin && lat <= usLatMax && lon >= usLonMin && lon <= usLonMax {
		return []Provider{c.usProvider, c.globalProvider}
	}
	return []Provider{c.globalProvider, c.usProvider}
}

// fetchWithRetry attempts a provider up to maxAttempts times with
// linear backoff. A bounded loop, not recursion, so the attempt budget
// is a visible loop invariant.
func (c *Client) fetchWithRetry(ctx context.Context, provider Provider, lat, lon float64, start, end time.Time) ([]Observation, error) {
	var lastErr error
	for attempt := 1; attempt <= c.maxAttempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		observations, err := provider.FetchDaily(ctx, lat, lon, start, end)
		if err == nil {
			return observations, nil
		}
		lastErr = err

		logging.Warn("Weather provider attempt failed",
			map[string]interface{}{
				"provider": provider.Name(),
				"attempt":  attempt,
				"max":      c.maxAttempts,
			})

		if attempt < c.maxAttempts {
			c.sleep(c.baseDelay * time.Duration(attempt))
		}
	}
	return nil, lastErr
}

// normalize converts observations into the canonical daily shape,
// converting Fahrenheit providers to Celsius and recomputing GDD so
// results from different providers are interchangeable.
func (c *Client) normalize(observations []Observation) []models.DailyWeather {
	days := make([]models.DailyWeather, 0, len(observations))
	for _, obs := range observations {
		high, low := obs.TempHigh, obs.TempLow
		if obs.Unit == UnitFahrenheit {
			high = FahrenheitToCelsius(high)
			low = FahrenheitToCelsius(low)
		}
		days = append(days, models.DailyWeather{
			Date:              obs.Date.Format("2006-01-02"),
			TempHighC:         high,
			TempLowC:          low,
			PrecipitationMM:   obs.PrecipitationMM,
			GrowingDegreeDays: GrowingDegreeDays(high, low, c.gddBase),
		})
	}
	return days
}
