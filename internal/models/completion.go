// Package models provides data model definitions for the habitsync core.
package models

import (
	"fmt"
	"time"
)

// CompletionRecord marks a habit as done on a given day.
type CompletionRecord struct {
	Envelope
	HabitID string `json:"habit_id"`
	Date    string `json:"date"` // YYYY-MM-DD
	Count   int    `json:"count,omitempty"`
}

// Table returns the table this record belongs to.
func (CompletionRecord) Table() Table { return TableCompletions }

// Validate checks the fields a remote write requires.
func (c *CompletionRecord) Validate() error {
	if err := c.validateEnvelope(); err != nil {
		return err
	}
	if c.HabitID == "" {
		return fmt.Errorf("completion missing habit_id")
	}
	if err := validateDate(c.Date); err != nil {
		return fmt.Errorf("completion date: %w", err)
	}
	if c.Count < 0 {
		return fmt.Errorf("completion count must be >= 0, got %d", c.Count)
	}
	return nil
}

// validateDate checks a YYYY-MM-DD day string.
func validateDate(s string) error {
	if s == "" {
		return fmt.Errorf("missing date")
	}
	if _, err := time.Parse("2006-01-02", s); err != nil {
		return fmt.Errorf("not a YYYY-MM-DD date: %q", s)
	}
	return nil
}
