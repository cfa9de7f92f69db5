// Package weather fetches daily weather observations from unreliable
// upstream providers behind a uniform retry/fallback contract.
package weather

import (
	"context"
	"time"

	"github.com/terravine/backend/internal/apperrors"
)

// Unit is the temperature unit a provider reports in.
type Unit string

const (
	UnitCelsius    Unit = "celsius"
	UnitFahrenheit Unit = "fahrenheit"
)

// Observation is one raw daily record as returned by a provider,
// before normalization.
type Observation struct {
	Date            time.Time
	TempHigh        float64
	TempLow         float64
	Unit            Unit
	PrecipitationMM float64
}

// Provider fetches daily observations for a coordinate and date range.
// One implementation exists per upstream service.
type Provider interface {
	// Name identifies the provider in logs and diagnostics.
	Name() string

	// FetchDaily performs a single network call. Any non-2xx response
	// or transport error is returned as an error; the fallback client
	// owns retry and backoff.
	FetchDaily(ctx context.Context, lat, lon float64, start, end time.Time) ([]Observation, error)
}

// historicalWindowStart is the earliest date the archive providers
// serve. Requests before it fail validation without a network call.
var historicalWindowStart = time.Date(1940, 1, 1, 0, 0, 0, 0, time.UTC)

// DefaultGDDBase is the base temperature (Celsius) for growing-degree-day
// accumulation in viticulture.
const DefaultGDDBase = 10.0

// GrowingDegreeDays computes the daily GDD metric from Celsius
// temperatures: max(0, (high+low)/2 - base).
func GrowingDegreeDays(highC, lowC, baseC float64) float64 {
	avg := (highC + lowC) / 2
	if avg <= baseC {
		return 0
	}
	return avg - baseC
}

// FahrenheitToCelsius converts a Fahrenheit temperature to Celsius.
func FahrenheitToCelsius(f float64) float64 {
	return (f - 32) * 5 / 9
}

// validateRequest checks coordinates and date range before any network
// call is attempted.
func validateRequest(lat, lon float64, start, end time.Time) error {
	if lat < -90 || lat > 90 {
		return apperrors.Newf(apperrors.ErrInvalid, "latitude out of range: %f", lat)
	}
	if lon < -180 || lon > 180 {
		return apperrors.Newf(apperrors.ErrInvalid, "longitude out of range: %f", lon)
	}
	if !start.Before(end) {
		return apperrors.New(apperrors.ErrInvalid, "start date must be before end date")
	}
	if start.Before(historicalWindowStart) {
		return apperrors.Newf(apperrors.ErrInvalid, "start date before supported historical window (%s)",
			historicalWindowStart.Format("2006-01-02"))
	}
	if end.After(time.Now().UTC().Truncate(24 * time.Hour).Add(24 * time.Hour)) {
		return apperrors.New(apperrors.ErrInvalid, "end date is in the future")
	}
	return nil
}
