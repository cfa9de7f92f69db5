// Package weather fetches daily weather observations from unreliable
// upstream providers behind a uniform retry/fallback contract.
package weather

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/terravine/backend/internal/apperrors"
)

const defaultOpenMeteoBaseURL = "https://archive-api.open-meteo.com/v1/archive"

// OpenMeteoProvider fetches daily observations from the Open-Meteo
// historical archive API. Reports Celsius and millimeters; no API key.
type OpenMeteoProvider struct {
	baseURL    string
	httpClient *http.Client
}

// NewOpenMeteoProvider creates an OpenMeteoProvider. An empty baseURL
// selects the public archive endpoint.
func NewOpenMeteoProvider(baseURL string) *OpenMeteoProvider {
	if baseURL == "" {
		baseURL = defaultOpenMeteoBaseURL
	}
	return &OpenMeteoProvider{
		baseURL: baseURL,
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
	}
}

// Name identifies the provider in logs and diagnostics.
func (p *OpenMeteoProvider) Name() string {
	return "open-meteo"
}

// openMeteoResponse mirrors the archive API's daily block.
type openMeteoResponse struct {
	Daily struct {
		Time             []string  `json:"time"`
		TemperatureMax   []float64 `json:"temperature_2m_max"`
		TemperatureMin   []float64 `json:"temperature_2m_min"`
		PrecipitationSum []float64 `json:"precipitation_sum"`
	} `json:"daily"`
}

// FetchDaily performs a single archive API call.
func (p *OpenMeteoProvider) FetchDaily(ctx context.Context, lat, lon float64, start, end time.Time) ([]Observation, error) {
	params := url.Values{}
	params.Set("latitude", fmt.Sprintf("%.4f", lat))
	params.Set("longitude", fmt.Sprintf("%.4f", lon))
	params.Set("start_date", start.Format("2006-01-02"))
	params.Set("end_date", end.Format("2006-01-02"))
	params.Set("daily", "temperature_2m_max,temperature_2m_min,precipitation_sum")
	params.Set("timezone", "UTC")

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.baseURL+"?"+params.Encode(), nil)
	if err != nil {
		return nil, err
	}

	resp, err := p.httpClient.Do(req)
	if err != nil {
		return nil, apperrors.Wrap(apperrors.ErrTransientNetwork, "open-meteo request failed", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		body, _ := io.ReadAll(resp.Body)
		return nil, apperrors.Newf(apperrors.ErrTransientNetwork,
			"open-meteo returned status %d: %s", resp.StatusCode, string(body))
	}

	var payload openMeteoResponse
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return nil, apperrors.Wrap(apperrors.ErrTransientNetwork, "failed to parse open-meteo response", err)
	}

	daily := payload.Daily
	if len(daily.TemperatureMax) != len(daily.Time) || len(daily.TemperatureMin) != len(daily.Time) {
		return nil, apperrors.New(apperrors.ErrTransientNetwork, "open-meteo response has mismatched series lengths")
	}

	observations := make([]Observation, 0, len(daily.Time))
	for i, day := range daily.Time {
		date, err := time.Parse("2006-01-02", day)
		if err != nil {
			return nil, apperrors.Wrap(apperrors.ErrTransientNetwork, "open-meteo returned malformed date", err)
		}
		obs := Observation{
			Date:     date,
			TempHigh: daily.TemperatureMax[i],
			TempLow:  daily.TemperatureMin[i],
			Unit:     UnitCelsius,
		}
		if i < len(daily.PrecipitationSum) {
			obs.PrecipitationMM = daily.PrecipitationSum[i]
		}
		observations = append(observations, obs)
	}
	return observations, nil
}

var _ Provider = (*OpenMeteoProvider)(nil)
