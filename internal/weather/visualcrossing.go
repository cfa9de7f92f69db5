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

const defaultVisualCrossingBaseURL = "https://weather.visualcrossing.com/VisualCrossingWebServices/rest/services/timeline"

// inchesToMM converts precipitation reported in inches.
const inchesToMM = 25.4

// VisualCrossingProvider fetches daily observations from the Visual
// Crossing timeline API. Reports Fahrenheit and inches (US unit group);
// the fallback client normalizes both.
type VisualCrossingProvider struct {
	baseURL    string
	apiKey     string
	httpClient *http.Client
}

// NewVisualCrossingProvider creates a VisualCrossingProvider. An empty
// baseURL selects the public timeline endpoint.
func NewVisualCrossingProvider(baseURL, apiKey string) *VisualCrossingProvider {
	if baseURL == "" {
		baseURL = defaultVisualCrossingBaseURL
	}
	return &VisualCrossingProvider{
		baseURL: baseURL,
		apiKey:  apiKey,
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
	}
}

// Name identifies the provider in logs and diagnostics.
func (p *VisualCrossingProvider) Name() string {
	return "visual-crossing"
}

// visualCrossingResponse mirrors the timeline API's days block.
type visualCrossingResponse struct {
	Days []struct {
		Datetime string  `json:"datetime"`
		TempMax  float64 `json:"tempmax"`
		TempMin  float64 `json:"tempmin"`
		Precip   float64 `json:"precip"`
	} `json:"days"`
}

// FetchDaily performs a single timeline API call.
func (p *VisualCrossingProvider) FetchDaily(ctx context.Context, lat, lon float64, start, end time.Time) ([]Observation, error) {
	endpoint := fmt.Sprintf("%s/%.4f,%.4f/%s/%s", p.baseURL, lat, lon,
		start.Format("2006-01-02"), end.Format("2006-01-02"))

	params := url.Values{}
	params.Set("unitGroup", "us")
	params.Set("include", "days")
	params.Set("contentType", "json")
	if p.apiKey != "" {
		params.Set("key", p.apiKey)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint+"?"+params.Encode(), nil)
	if err != nil {
		return nil, err
	}

	resp, err := p.httpClient.Do(req)
	if err != nil {
		return nil, apperrors.Wrap(apperrors.ErrTransientNetwork, "visual-crossing request failed", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		body, _ := io.ReadAll(resp.Body)
		return nil, apperrors.Newf(apperrors.ErrTransientNetwork,
			"visual-crossing returned status %d: %s", resp.StatusCode, string(body))
	}

	var payload visualCrossingResponse
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return nil, apperrors.Wrap(apperrors.ErrTransientNetwork, "failed to parse visual-crossing response", err)
	}

	observations := make([]Observation, 0, len(payload.Days))
	for _, day := range payload.Days {
		date, err := time.Parse("2006-01-02", day.Datetime)
		if err != nil {
			return nil, apperrors.Wrap(apperrors.ErrTransientNetwork, "visual-crossing returned malformed date", err)
		}
		observations = append(observations, Observation{
			Date:            date,
			TempHigh:        day.TempMax,
			TempLow:         day.TempMin,
			Unit:            UnitFahrenheit,
			PrecipitationMM: day.Precip * inchesToMM,
		})
	}
	return observations, nil
}

var _ Provider = (*VisualCrossingProvider)(nil)
