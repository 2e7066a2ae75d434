// Package models provides data model definitions for the habitsync core.
package models

import "time"

// Winner names which side of a conflict was kept.
type Winner string

const (
	WinnerLocal  Winner = "local"
	WinnerRemote Winner = "remote"
)

// ConflictLog records a resolved concurrent edit for audit. It is not a
// first-class persisted entity; resolutions reach the event log as
// CONFLICT_RESOLVED events carrying these fields as metadata.
type ConflictLog struct {
	RecordID   string `json:"record_id"`
	Table      Table  `json:"table"`
	Winner     Winner `json:"winner"`
	Reason     string `json:"reason"`
	ResolvedAt int64  `json:"resolved_at"` // epoch ms
}

// ResolvedTime returns the resolution instant as time.Time.
func (c *ConflictLog) ResolvedTime() time.Time {
	return time.UnixMilli(c.ResolvedAt)
}
