// Package models provides data model definitions for the habitsync core.
package models

import (
	"encoding/json"
	"time"
)

// OperationType is the kind of pending write held in the operation queue.
type OperationType string

const (
	OpCreate OperationType = "create"
	OpUpdate OperationType = "update"
	OpDelete OperationType = "delete"
)

// QueueEntry is a pending write created while offline or after a remote
// failure. The whole queue is persisted to the local cache on every
// mutation so entries survive process restarts.
type QueueEntry struct {
	ID        string          `db:"id" json:"id"`
	Type      OperationType   `db:"type" json:"type"`
	Table     Table           `db:"table" json:"table"`
	Data      json.RawMessage `db:"data" json:"data"`
	Timestamp int64           `db:"timestamp" json:"timestamp"` // epoch ms
	Retries   int             `db:"retries" json:"retries"`
}

// StorageTable returns the storage table name for QueueEntry.
func (QueueEntry) StorageTable() string {
	return "op_queue"
}

// Time returns the enqueue timestamp as time.Time.
func (e *QueueEntry) Time() time.Time {
	return time.UnixMilli(e.Timestamp)
}
