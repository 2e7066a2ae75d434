// Package eventlog provides the client for the append-only sync event log.
// Events record every successful remote write plus duplicate and conflict
// detections; the log is an audit trail and the duplicate detector's
// cross-device source of truth, never a replay mechanism.
package eventlog

import (
	"context"
	"time"

	"github.com/habitsync/habitsync/internal/logging"
	"github.com/habitsync/habitsync/internal/models"
	"github.com/habitsync/habitsync/internal/uuid"
)

// Log is the event log storage boundary.
type Log interface {
	// Append adds one event. Events are immutable once appended.
	Append(ctx context.Context, event models.SyncEvent) error

	// QueryWindow returns events for the record within [from, to].
	QueryWindow(ctx context.Context, table models.Table, recordID string, from, to time.Time) ([]models.SyncEvent, error)

	// Prune deletes events older than the cutoff and reports the count.
	Prune(ctx context.Context, olderThan time.Time) (int, error)
}

// Client wraps a Log with best-effort append semantics: log failures are
// logged, never propagated, because the event log must not affect the
// write path's outcome.
type Client struct {
	log Log
}

// NewClient creates a Client over the given backing log.
func NewClient(log Log) *Client {
	return &Client{log: log}
}

// NewEvent builds a SyncEvent stamped with a fresh id and the current time.
func NewEvent(eventType models.EventType, table models.Table, recordID, deviceID, userID string) models.SyncEvent {
	return models.SyncEvent{
		ID:        uuid.New(),
		EventType: eventType,
		TableName: table,
		RecordID:  recordID,
		DeviceID:  deviceID,
		UserID:    userID,
		Timestamp: time.Now().UnixMilli(),
	}
}

// Record appends the event best-effort.
func (c *Client) Record(ctx context.Context, event models.SyncEvent) {
	if err := c.log.Append(ctx, event); err != nil {
		logging.Warn("Failed to append sync event",
			map[string]interface{}{
				"event_type": string(event.EventType),
				"table":      string(event.TableName),
				"record_id":  event.RecordID,
				"error":      err.Error(),
			})
	}
}

// QueryWindow returns events for the record within [from, to].
func (c *Client) QueryWindow(ctx context.Context, table models.Table, recordID string, from, to time.Time) ([]models.SyncEvent, error) {
	return c.log.QueryWindow(ctx, table, recordID, from, to)
}

// Prune deletes events older than the cutoff.
func (c *Client) Prune(ctx context.Context, olderThan time.Time) (int, error) {
	return c.log.Prune(ctx, olderThan)
}
