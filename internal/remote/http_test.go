package remote

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/terravine/backend/internal/apperrors"
	"github.com/terravine/backend/internal/models"
)

// TestGetRecord tests fetching an existing record.
func TestGetRecord(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/activitys/A1" {
			t.Errorf("Unexpected path: %s", r.URL.Path)
		}
		if r.Header.Get("Authorization") != "Bearer token-1" {
			t.Errorf("Missing auth header")
		}
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"id":"A1","payload":{"kind":"pruning"},"version":2,"updated_at":1700000000}`))
	}))
	defer server.Close()

	b := NewHTTPBackend(server.URL, "token-1")
	record, err := b.Get(context.Background(), models.ResourceActivity, "A1")
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}

	if record.ID != "A1" || record.Version != 2 {
		t.Errorf("Unexpected record: %+v", record)
	}
	if record.ResourceType != models.ResourceActivity {
		t.Errorf("Expected resource type filled in, got %s", record.ResourceType)
	}
}

// TestGetMissingRecord tests the 404 -> ErrNotFound mapping.
func TestGetMissingRecord(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.NotFound(w, r)
	}))
	defer server.Close()

	b := NewHTTPBackend(server.URL, "")
	_, err := b.Get(context.Background(), models.ResourceActivity, "missing")
	if err != ErrNotFound {
		t.Errorf("Expected ErrNotFound, got %v", err)
	}
}

// TestServerErrorIsTransient tests the 5xx classification.
func TestServerErrorIsTransient(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "boom", http.StatusInternalServerError)
	}))
	defer server.Close()

	b := NewHTTPBackend(server.URL, "")
	_, err := b.Get(context.Background(), models.ResourceVineyard, "V1")
	if !apperrors.Is(err, apperrors.ErrTransientNetwork) {
		t.Errorf("Expected TRANSIENT_NETWORK, got %v", err)
	}
}

// TestCreatePostsPayload tests record creation round trip.
func TestCreatePostsPayload(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost || r.URL.Path != "/api/vineyards" {
			t.Errorf("Unexpected request: %s %s", r.Method, r.URL.Path)
		}
		var body map[string]interface{}
		json.NewDecoder(r.Body).Decode(&body)
		if body["id"] != "V1" {
			t.Errorf("Expected payload to carry the record id, got %v", body)
		}
		w.Write([]byte(`{"id":"V1","version":1,"updated_at":1700000000}`))
	}))
	defer server.Close()

	b := NewHTTPBackend(server.URL, "")
	record, err := b.Create(context.Background(), models.ResourceVineyard, json.RawMessage(`{"id":"V1","name":"North Block"}`))
	if err != nil {
		t.Fatalf("Create failed: %v", err)
	}
	if record.ID != "V1" {
		t.Errorf("Unexpected record: %+v", record)
	}
}

// TestDeleteMissingRecordSucceeds tests delete idempotence.
func TestDeleteMissingRecordSucceeds(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.NotFound(w, r)
	}))
	defer server.Close()

	b := NewHTTPBackend(server.URL, "")
	if err := b.Delete(context.Background(), models.ResourceActivity, "gone"); err != nil {
		t.Errorf("Expected delete of missing record to succeed, got %v", err)
	}
}
