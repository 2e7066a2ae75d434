// Package models provides data model definitions for the habitsync core.
package models

import "time"

// DeviceState tracks per-device sync bookkeeping. The device id itself is
// an opaque tiebreaker, never a security credential.
type DeviceState struct {
	DeviceID   string `json:"device_id"`
	LastSyncAt int64  `json:"last_sync_at,omitempty"` // epoch ms, 0 = never
	CreatedAt  int64  `json:"created_at"`
}

// LastSyncTime returns the last successful sync as time.Time, zero if the
// device has never synced.
func (d *DeviceState) LastSyncTime() time.Time {
	if d.LastSyncAt == 0 {
		return time.Time{}
	}
	return time.UnixMilli(d.LastSyncAt)
}
