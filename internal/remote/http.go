// Package remote defines the boundary to the shared remote store.
package remote

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/habitsync/habitsync/internal/models"
)

// HTTPConfig holds remote store connection configuration.
type HTTPConfig struct {
	// BaseURL is the REST endpoint root, e.g. https://sync.example.com/v1.
	BaseURL string

	// WSURL is the websocket change-feed endpoint. Empty disables Subscribe.
	WSURL string

	// Token returns the bearer token for the current session. Nil means
	// unauthenticated requests.
	Token func(ctx context.Context) (string, error)

	// Timeout bounds individual requests. Zero means 30 seconds.
	Timeout time.Duration
}

// HTTPStore implements Store against a REST record service with a
// websocket change feed.
type HTTPStore struct {
	config     *HTTPConfig
	httpClient *http.Client
}

// NewHTTPStore creates an HTTPStore.
func NewHTTPStore(config *HTTPConfig) *HTTPStore {
	timeout := config.Timeout
	if timeout == 0 {
		timeout = 30 * time.Second
	}
	return &HTTPStore{
		config: config,
		httpClient: &http.Client{
			Timeout: timeout,
			Transport: &http.Transport{
				MaxIdleConns:    10,
				IdleConnTimeout: 30 * time.Second,
			},
		},
	}
}

// Upsert writes a record keyed by id.
func (s *HTTPStore) Upsert(ctx context.Context, table models.Table, rec models.Record) error {
	payload, err := models.Encode(rec)
	if err != nil {
		return err
	}

	path := fmt.Sprintf("/tables/%s/records/%s", table, url.PathEscape(rec.RecordID()))
	return s.do(ctx, http.MethodPut, path, payload, nil)
}

// Delete removes a record by id, scoped to the owning user.
func (s *HTTPStore) Delete(ctx context.Context, table models.Table, id, userID string) error {
	path := fmt.Sprintf("/tables/%s/records/%s?user_id=%s", table, url.PathEscape(id), url.QueryEscape(userID))
	err := s.do(ctx, http.MethodDelete, path, nil, nil)
	if IsMissingTable(err) {
		// Deleting from a table that does not exist remotely is a no-op.
		return nil
	}
	return err
}

// Select fetches the user's full collection for a table.
func (s *HTTPStore) Select(ctx context.Context, table models.Table, userID string) ([]models.Record, error) {
	path := fmt.Sprintf("/tables/%s/records?user_id=%s", table, url.QueryEscape(userID))

	var body json.RawMessage
	if err := s.do(ctx, http.MethodGet, path, nil, &body); err != nil {
		if IsMissingTable(err) {
			return []models.Record{}, nil
		}
		return nil, err
	}
	if len(body) == 0 {
		return []models.Record{}, nil
	}
	return models.DecodeList(table, body)
}

// Subscribe streams change notifications over the websocket feed.
func (s *HTTPStore) Subscribe(ctx context.Context, table models.Table, userID string) (<-chan ChangeEvent, error) {
	if s.config.WSURL == "" {
		return nil, fmt.Errorf("change feed not configured")
	}
	feed := newWSFeed(s.config, table, userID)
	return feed.run(ctx)
}

// do executes one authenticated JSON request. A 404 carrying the service's
// missing-table marker maps to ErrMissingTable.
func (s *HTTPStore) do(ctx context.Context, method, path string, body []byte, out *json.RawMessage) error {
	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}

	req, err := http.NewRequestWithContext(ctx, method, s.config.BaseURL+path, reader)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")

	if s.config.Token != nil {
		token, err := s.config.Token(ctx)
		if err != nil {
			return fmt.Errorf("token: %w", err)
		}
		if token != "" {
			req.Header.Set("Authorization", "Bearer "+token)
		}
	}

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("%s %s failed: %w", method, path, err)
	}
	defer resp.Body.Close()

	respBody, _ := io.ReadAll(resp.Body)

	switch {
	case resp.StatusCode == http.StatusNotFound:
		return fmt.Errorf("%w: %s", ErrMissingTable, path)
	case resp.StatusCode >= 400:
		return &StatusError{StatusCode: resp.StatusCode, Body: string(respBody)}
	}

	if out != nil {
		*out = json.RawMessage(respBody)
	}
	return nil
}
