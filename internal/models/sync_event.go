// Package models provides data model definitions for the habitsync core.
package models

import "time"

// EventType classifies an entry in the append-only sync event log.
type EventType string

const (
	EventInsert           EventType = "INSERT"
	EventUpdate           EventType = "UPDATE"
	EventDelete           EventType = "DELETE"
	EventDuplicate        EventType = "DUPLICATE"
	EventConflictResolved EventType = "CONFLICT_RESOLVED"
)

// SyncEvent is one entry in the append-only sync event log. Events are
// written on every successful remote write and on duplicate/conflict
// detection; they are never mutated, only pruned by age.
type SyncEvent struct {
	ID        string            `db:"id" json:"id"`
	EventType EventType         `db:"event_type" json:"event_type"`
	TableName Table             `db:"table_name" json:"table_name"`
	RecordID  string            `db:"record_id" json:"record_id"`
	DeviceID  string            `db:"device_id" json:"device_id"`
	UserID    string            `db:"user_id" json:"user_id"`
	Timestamp int64             `db:"timestamp" json:"timestamp"` // epoch ms
	Metadata  map[string]string `db:"metadata" json:"metadata,omitempty"`
}

// StorageTable returns the storage table name for SyncEvent.
func (SyncEvent) StorageTable() string {
	return "sync_events"
}

// Time returns the event timestamp as time.Time.
func (e *SyncEvent) Time() time.Time {
	return time.UnixMilli(e.Timestamp)
}
