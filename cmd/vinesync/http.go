package main

import (
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/terravine/backend/internal/apperrors"
	"github.com/terravine/backend/internal/logging"
	"github.com/terravine/backend/internal/models"
)

func writeJSON(w http.ResponseWriter, status int, body interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		logging.Error("Failed to write response", err, nil)
	}
}

func writeRaw(w http.ResponseWriter, status int, payload []byte) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if _, err := w.Write(payload); err != nil {
		logging.Error("Failed to write response", err, nil)
	}
}

// writeError maps error codes onto HTTP statuses and emits the code so
// clients can branch on it.
func writeError(w http.ResponseWriter, err error) {
	code := apperrors.CodeOf(err)
	status := http.StatusInternalServerError
	switch code {
	case apperrors.ErrInvalid:
		status = http.StatusBadRequest
	case apperrors.ErrNotFound:
		status = http.StatusNotFound
	case apperrors.ErrStorageUnavailable, apperrors.ErrTransientNetwork,
		apperrors.ErrAllProvidersExhausted:
		status = http.StatusServiceUnavailable
	case apperrors.ErrConflict:
		status = http.StatusConflict
	}
	writeJSON(w, status, map[string]interface{}{
		"code":  code,
		"error": err.Error(),
	})
}

func parseCoordinates(latStr, lonStr string) (float64, float64, error) {
	lat, err := strconv.ParseFloat(latStr, 64)
	if err != nil {
		return 0, 0, apperrors.New(apperrors.ErrInvalid, "lat must be a number")
	}
	lon, err := strconv.ParseFloat(lonStr, 64)
	if err != nil {
		return 0, 0, apperrors.New(apperrors.ErrInvalid, "lon must be a number")
	}
	return lat, lon, nil
}

// cacheOwner resolves the cache-owning vineyard for a queued action:
// the record itself for vineyard mutations, the payload's vineyard_id
// for activities. Empty when the payload names no vineyard.
func cacheOwner(action *models.QueuedAction) string {
	if action.ResourceType == models.ResourceVineyard {
		return action.RecordID
	}
	var fields struct {
		VineyardID string `json:"vineyard_id"`
	}
	if err := json.Unmarshal(action.Payload, &fields); err != nil {
		return ""
	}
	return fields.VineyardID
}

// validateAction checks a queued-action submission before it is stored.
func validateAction(action *models.QueuedAction) error {
	switch action.Method {
	case models.MethodCreate, models.MethodUpdate, models.MethodDelete:
	default:
		return apperrors.Newf(apperrors.ErrInvalid, "unknown method: %s", action.Method)
	}
	switch action.ResourceType {
	case models.ResourceActivity, models.ResourceVineyard:
	default:
		return apperrors.Newf(apperrors.ErrInvalid, "unknown resource type: %s", action.ResourceType)
	}
	if action.RecordID == "" {
		return apperrors.New(apperrors.ErrInvalid, "record_id is required")
	}
	if len(action.Payload) == 0 {
		return apperrors.New(apperrors.ErrInvalid, "payload is required")
	}
	switch action.Strategy {
	case "":
		action.Strategy = models.StrategyServerWins
	case models.StrategyServerWins, models.StrategyClientWins, models.StrategyManual:
	default:
		return apperrors.Newf(apperrors.ErrInvalid, "unknown conflict strategy: %s", action.Strategy)
	}
	return nil
}
