// Package models provides data model definitions for the vinesync core.
package models

// DailyWeather is one normalized daily observation. All temperatures
// are Celsius regardless of which upstream provider supplied them.
type DailyWeather struct {
	Date              string  `json:"date"` // YYYY-MM-DD
	TempHighC         float64 `json:"temp_high_c"`
	TempLowC          float64 `json:"temp_low_c"`
	PrecipitationMM   float64 `json:"precipitation_mm"`
	GrowingDegreeDays float64 `json:"growing_degree_days"`
}
