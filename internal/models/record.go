// Package models provides data model definitions for the vinesync core.
package models

import "encoding/json"

// RemoteRecord is the backend's view of a record: an id plus a version
// marker used only for conflict comparison.
type RemoteRecord struct {
	ID           string          `json:"id"`
	ResourceType ResourceType    `json:"resource_type"`
	Payload      json.RawMessage `json:"payload"`
	Version      int             `json:"version"`
	UpdatedAt    int64           `json:"updated_at"`
}

// Activity is a field activity record (spraying, pruning, harvest...).
type Activity struct {
	ID         string `json:"id"`
	VineyardID string `json:"vineyard_id"`
	Kind       string `json:"kind"`
	Notes      string `json:"notes"`
	Date       string `json:"date"`
	Version    int    `json:"version"`
	UpdatedAt  int64  `json:"updated_at"`
}

// Vineyard is a managed plot with a coordinate used for weather lookups.
type Vineyard struct {
	ID        string  `json:"id"`
	Name      string  `json:"name"`
	Latitude  float64 `json:"latitude"`
	Longitude float64 `json:"longitude"`
	Version   int     `json:"version"`
	UpdatedAt int64   `json:"updated_at"`
}
