// Package remote defines the boundary to the shared remote store: a
// table-oriented record service reachable over a network that can fail.
// The concrete service is abstract; callers only rely on upsert, delete,
// select, subscribe, and on errors being classifiable.
package remote

import (
	"context"
	"encoding/json"
	"errors"

	"github.com/habitsync/habitsync/internal/models"
)

// ChangeType classifies a remote change notification.
type ChangeType string

const (
	ChangeInsert ChangeType = "INSERT"
	ChangeUpdate ChangeType = "UPDATE"
	ChangeDelete ChangeType = "DELETE"
)

// ChangeEvent is a push notification for a single record mutation observed
// on the remote store. New is set for INSERT/UPDATE, Old for DELETE; either
// may carry the full record payload.
type ChangeEvent struct {
	Type  ChangeType      `json:"event_type"`
	Table models.Table    `json:"table"`
	New   json.RawMessage `json:"new,omitempty"`
	Old   json.RawMessage `json:"old,omitempty"`
}

// RecordID extracts the affected record id, preferring the new payload.
func (e *ChangeEvent) RecordID() string {
	for _, raw := range []json.RawMessage{e.New, e.Old} {
		if len(raw) == 0 {
			continue
		}
		var probe struct {
			ID string `json:"id"`
		}
		if err := json.Unmarshal(raw, &probe); err == nil && probe.ID != "" {
			return probe.ID
		}
	}
	return ""
}

// Record decodes the event's record payload for its table.
func (e *ChangeEvent) Record() (models.Record, error) {
	raw := e.New
	if len(raw) == 0 {
		raw = e.Old
	}
	if len(raw) == 0 {
		return nil, errors.New("change event has no payload")
	}
	return models.Decode(e.Table, raw)
}

// Store is the remote store boundary.
type Store interface {
	// Upsert writes a record keyed by id, replacing any existing version.
	Upsert(ctx context.Context, table models.Table, rec models.Record) error

	// Delete removes a record by id, scoped to the owning user.
	Delete(ctx context.Context, table models.Table, id, userID string) error

	// Select fetches the user's full collection for a table. A missing
	// table yields an empty result, not an error.
	Select(ctx context.Context, table models.Table, userID string) ([]models.Record, error)

	// Subscribe streams change notifications for a table until ctx is
	// cancelled. The channel is closed on cancellation or feed failure.
	Subscribe(ctx context.Context, table models.Table, userID string) (<-chan ChangeEvent, error)
}
