// Package models provides data model definitions for the habitsync core.
package models

import "fmt"

// ReflectionRecord is a free-form daily journal entry.
type ReflectionRecord struct {
	Envelope
	Date string `json:"date"` // YYYY-MM-DD
	Mood string `json:"mood,omitempty"`
	Text string `json:"text,omitempty"`
}

// Table returns the table this record belongs to.
func (ReflectionRecord) Table() Table { return TableReflections }

// Validate checks the fields a remote write requires.
func (r *ReflectionRecord) Validate() error {
	if err := r.validateEnvelope(); err != nil {
		return err
	}
	if err := validateDate(r.Date); err != nil {
		return fmt.Errorf("reflection date: %w", err)
	}
	return nil
}
