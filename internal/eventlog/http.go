// Package eventlog provides the client for the append-only sync event log.
package eventlog

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/habitsync/habitsync/internal/models"
	"github.com/habitsync/habitsync/internal/remote"
)

// HTTPLog is the remote-backed Log implementation speaking to the event
// service alongside the record store.
type HTTPLog struct {
	baseURL    string
	token      func(ctx context.Context) (string, error)
	httpClient *http.Client
}

// NewHTTPLog creates an HTTPLog rooted at baseURL.
func NewHTTPLog(baseURL string, token func(ctx context.Context) (string, error)) *HTTPLog {
	return &HTTPLog{
		baseURL: baseURL,
		token:   token,
		httpClient: &http.Client{
			Timeout: 15 * time.Second,
		},
	}
}

// Append adds one event.
func (l *HTTPLog) Append(ctx context.Context, event models.SyncEvent) error {
	payload, err := json.Marshal(event)
	if err != nil {
		return err
	}
	_, err = l.do(ctx, http.MethodPost, "/events", payload)
	return err
}

// QueryWindow returns events for the record within [from, to].
func (l *HTTPLog) QueryWindow(ctx context.Context, table models.Table, recordID string, from, to time.Time) ([]models.SyncEvent, error) {
	path := fmt.Sprintf("/events?table=%s&record_id=%s&from=%d&to=%d",
		table, url.QueryEscape(recordID), from.UnixMilli(), to.UnixMilli())

	body, err := l.do(ctx, http.MethodGet, path, nil)
	if err != nil {
		if remote.IsMissingTable(err) {
			return nil, nil
		}
		return nil, err
	}

	var events []models.SyncEvent
	if err := json.Unmarshal(body, &events); err != nil {
		return nil, fmt.Errorf("decode events: %w", err)
	}
	return events, nil
}

// Prune deletes events older than the cutoff and reports the count.
func (l *HTTPLog) Prune(ctx context.Context, olderThan time.Time) (int, error) {
	path := "/events?before=" + strconv.FormatInt(olderThan.UnixMilli(), 10)

	body, err := l.do(ctx, http.MethodDelete, path, nil)
	if err != nil {
		if remote.IsMissingTable(err) {
			return 0, nil
		}
		return 0, err
	}

	var result struct {
		Pruned int `json:"pruned"`
	}
	if len(body) > 0 {
		if err := json.Unmarshal(body, &result); err != nil {
			return 0, nil
		}
	}
	return result.Pruned, nil
}

func (l *HTTPLog) do(ctx context.Context, method, path string, payload []byte) ([]byte, error) {
	var reader io.Reader
	if payload != nil {
		reader = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, l.baseURL+path, reader)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")

	if l.token != nil {
		token, err := l.token(ctx)
		if err != nil {
			return nil, fmt.Errorf("token: %w", err)
		}
		if token != "" {
			req.Header.Set("Authorization", "Bearer "+token)
		}
	}

	resp, err := l.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%s %s failed: %w", method, path, err)
	}
	defer resp.Body.Close()

	body, _ := io.ReadAll(resp.Body)

	switch {
	case resp.StatusCode == http.StatusNotFound:
		return nil, fmt.Errorf("%w: %s", remote.ErrMissingTable, path)
	case resp.StatusCode >= 400:
		return nil, &remote.StatusError{StatusCode: resp.StatusCode, Body: string(body)}
	}
	return body, nil
}
