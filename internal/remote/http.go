// Package remote defines the remote backend interface the sync engine
// drains the queue against, plus its REST/JSON binding.
package remote

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/terravine/backend/internal/apperrors"
	"github.com/terravine/backend/internal/models"
)

// HTTPBackend implements Backend over REST/JSON. Resource collections
// live at {base}/api/{resourceType}s, records at .../{id}.
type HTTPBackend struct {
	baseURL    string
	authToken  string
	httpClient *http.Client
}

// NewHTTPBackend creates an HTTPBackend for the given server.
func NewHTTPBackend(baseURL, authToken string) *HTTPBackend {
	return &HTTPBackend{
		baseURL:   baseURL,
		authToken: authToken,
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
			Transport: &http.Transport{
				MaxIdleConns:    10,
				IdleConnTimeout: 30 * time.Second,
			},
		},
	}
}

// Get fetches a record by id, or ErrNotFound.
func (b *HTTPBackend) Get(ctx context.Context, resourceType models.ResourceType, id string) (*models.RemoteRecord, error) {
	resp, err := b.do(ctx, http.MethodGet, b.recordURL(resourceType, id), nil)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return nil, ErrNotFound
	}
	if err := checkStatus(resp); err != nil {
		return nil, err
	}
	return decodeRecord(resp.Body, resourceType)
}

// Create inserts a record; the payload carries the record id so the
// server can upsert rather than duplicate.
func (b *HTTPBackend) Create(ctx context.Context, resourceType models.ResourceType, payload json.RawMessage) (*models.RemoteRecord, error) {
	resp, err := b.do(ctx, http.MethodPost, b.collectionURL(resourceType), payload)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if err := checkStatus(resp); err != nil {
		return nil, err
	}
	return decodeRecord(resp.Body, resourceType)
}

// Update overwrites the record with the given id.
func (b *HTTPBackend) Update(ctx context.Context, resourceType models.ResourceType, id string, payload json.RawMessage) (*models.RemoteRecord, error) {
	resp, err := b.do(ctx, http.MethodPut, b.recordURL(resourceType, id), payload)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return nil, ErrNotFound
	}
	if err := checkStatus(resp); err != nil {
		return nil, err
	}
	return decodeRecord(resp.Body, resourceType)
}

// Delete removes the record with the given id. Deleting a record that
// is already gone succeeds.
func (b *HTTPBackend) Delete(ctx context.Context, resourceType models.ResourceType, id string) error {
	resp, err := b.do(ctx, http.MethodDelete, b.recordURL(resourceType, id), nil)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound || resp.StatusCode == http.StatusNoContent {
		return nil
	}
	return checkStatus(resp)
}

func (b *HTTPBackend) collectionURL(resourceType models.ResourceType) string {
	return fmt.Sprintf("%s/api/%ss", b.baseURL, resourceType)
}

func (b *HTTPBackend) recordURL(resourceType models.ResourceType, id string) string {
	return fmt.Sprintf("%s/api/%ss/%s", b.baseURL, resourceType, id)
}

// do builds and executes a request. Transport failures are transient.
func (b *HTTPBackend) do(ctx context.Context, method, url string, payload json.RawMessage) (*http.Response, error) {
	var body io.Reader
	if payload != nil {
		body = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, url, body)
	if err != nil {
		return nil, err
	}
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if b.authToken != "" {
		req.Header.Set("Authorization", "Bearer "+b.authToken)
	}

	resp, err := b.httpClient.Do(req)
	if err != nil {
		return nil, apperrors.Wrap(apperrors.ErrTransientNetwork, "backend request failed", err)
	}
	return resp, nil
}

// checkStatus classifies non-2xx responses. 5xx is transient; other
// statuses are internal errors the caller should not retry blindly.
func checkStatus(resp *http.Response) error {
	if resp.StatusCode >= 200 && resp.StatusCode <= 299 {
		return nil
	}
	body, _ := io.ReadAll(resp.Body)
	if resp.StatusCode >= 500 {
		return apperrors.Newf(apperrors.ErrTransientNetwork,
			"backend returned status %d: %s", resp.StatusCode, string(body))
	}
	return apperrors.Newf(apperrors.ErrInternal,
		"backend returned status %d: %s", resp.StatusCode, string(body))
}

// decodeRecord parses a record response.
func decodeRecord(r io.Reader, resourceType models.ResourceType) (*models.RemoteRecord, error) {
	var record models.RemoteRecord
	if err := json.NewDecoder(r).Decode(&record); err != nil {
		return nil, apperrors.Wrap(apperrors.ErrTransientNetwork, "failed to parse backend response", err)
	}
	if record.ResourceType == "" {
		record.ResourceType = resourceType
	}
	return &record, nil
}

var _ Backend = (*HTTPBackend)(nil)
