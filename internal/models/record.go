// Package models provides data model definitions for the habitsync core.
package models

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/habitsync/habitsync/internal/uuid"
)

// Envelope carries the sync metadata every synchronized record embeds.
// Timestamps are RFC3339 strings on the wire; comparisons go through
// CreatedTime/UpdatedTime.
type Envelope struct {
	ID        string `json:"id"`
	UserID    string `json:"user_id,omitempty"`
	DeviceID  string `json:"device_id,omitempty"`
	CreatedAt string `json:"created_at"`
	UpdatedAt string `json:"updated_at"`
}

// RecordID returns the record's globally unique id within its table.
func (e *Envelope) RecordID() string { return e.ID }

// Owner returns the owning user id, empty for unauthenticated records.
func (e *Envelope) Owner() string { return e.UserID }

// Device returns the id of the device that last wrote the record.
func (e *Envelope) Device() string { return e.DeviceID }

// CreatedTime parses the creation timestamp. Zero time on malformed input.
func (e *Envelope) CreatedTime() time.Time { return parseTime(e.CreatedAt) }

// UpdatedTime parses the last-mutation timestamp, falling back to the
// creation timestamp when absent or malformed.
func (e *Envelope) UpdatedTime() time.Time {
	if t := parseTime(e.UpdatedAt); !t.IsZero() {
		return t
	}
	return e.CreatedTime()
}

// Stamp marks the record as written by the given user and device at the
// given instant. CreatedAt is set only when still empty.
func (e *Envelope) Stamp(userID, deviceID string, at time.Time) {
	if userID != "" {
		e.UserID = userID
	}
	if deviceID != "" {
		e.DeviceID = deviceID
	}
	ts := at.UTC().Format(time.RFC3339Nano)
	if e.CreatedAt == "" {
		e.CreatedAt = ts
	}
	e.UpdatedAt = ts
}

// validateEnvelope enforces the invariants common to all records.
func (e *Envelope) validateEnvelope() error {
	if e.ID == "" {
		return fmt.Errorf("missing record id")
	}
	if !uuid.IsValid(e.ID) {
		return fmt.Errorf("non-canonical record id: %q", e.ID)
	}
	return nil
}

func parseTime(s string) time.Time {
	if s == "" {
		return time.Time{}
	}
	if t, err := time.Parse(time.RFC3339Nano, s); err == nil {
		return t
	}
	if t, err := time.Parse(time.RFC3339, s); err == nil {
		return t
	}
	return time.Time{}
}

// Record is the interface every synchronized entity satisfies. Concrete
// types form a closed set matching the Table enum.
type Record interface {
	Table() Table
	RecordID() string
	Owner() string
	Device() string
	CreatedTime() time.Time
	UpdatedTime() time.Time
	Stamp(userID, deviceID string, at time.Time)
	Validate() error
}

// Decode unmarshals a raw payload into the concrete record type for the
// table. Unknown tables are rejected.
func Decode(table Table, data []byte) (Record, error) {
	var rec Record
	switch table {
	case TableActivities:
		rec = &ActivityRecord{}
	case TableHabits:
		rec = &HabitRecord{}
	case TableCompletions:
		rec = &CompletionRecord{}
	case TableCycleData:
		rec = &CycleRecord{}
	case TableReflections:
		rec = &ReflectionRecord{}
	default:
		return nil, fmt.Errorf("unknown table: %q", table)
	}
	if err := json.Unmarshal(data, rec); err != nil {
		return nil, fmt.Errorf("decode %s record: %w", table, err)
	}
	return rec, nil
}

// DecodeList unmarshals a JSON array of records for the table.
func DecodeList(table Table, data []byte) ([]Record, error) {
	var raws []json.RawMessage
	if err := json.Unmarshal(data, &raws); err != nil {
		return nil, fmt.Errorf("decode %s collection: %w", table, err)
	}
	records := make([]Record, 0, len(raws))
	for _, raw := range raws {
		rec, err := Decode(table, raw)
		if err != nil {
			return nil, err
		}
		records = append(records, rec)
	}
	return records, nil
}

// Encode marshals a record to its wire form.
func Encode(rec Record) (json.RawMessage, error) {
	data, err := json.Marshal(rec)
	if err != nil {
		return nil, fmt.Errorf("encode %s record: %w", rec.Table(), err)
	}
	return data, nil
}

// EncodeList marshals a record slice to a JSON array. A nil slice encodes
// as an empty array, not null.
func EncodeList(records []Record) (json.RawMessage, error) {
	if records == nil {
		records = []Record{}
	}
	data, err := json.Marshal(records)
	if err != nil {
		return nil, fmt.Errorf("encode collection: %w", err)
	}
	return data, nil
}
