// Package models provides data model definitions for the habitsync core.
package models

import "fmt"

// ActivityRecord is a single tracked activity on a given day.
type ActivityRecord struct {
	Envelope
	Name            string `json:"name"`
	Category        string `json:"category"`
	Date            string `json:"date"` // YYYY-MM-DD
	DurationMinutes int    `json:"duration_minutes,omitempty"`
	Note            string `json:"note,omitempty"`
}

// Table returns the table this record belongs to.
func (ActivityRecord) Table() Table { return TableActivities }

// Validate checks the fields a remote write requires. Records failing
// validation can never sync and must be dropped, not retried.
func (a *ActivityRecord) Validate() error {
	if err := a.validateEnvelope(); err != nil {
		return err
	}
	if a.Name == "" {
		return fmt.Errorf("activity missing name")
	}
	if a.Category == "" {
		return fmt.Errorf("activity missing category")
	}
	if err := validateDate(a.Date); err != nil {
		return fmt.Errorf("activity date: %w", err)
	}
	return nil
}
