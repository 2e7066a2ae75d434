// Package models provides data model definitions for the habitsync core.
package models

import "fmt"

// CycleRecord is a menstrual-cycle tracking snapshot for a day.
type CycleRecord struct {
	Envelope
	Date     string   `json:"date"` // YYYY-MM-DD
	Flow     string   `json:"flow,omitempty"`
	Symptoms []string `json:"symptoms,omitempty"`
	Note     string   `json:"note,omitempty"`
}

// Table returns the table this record belongs to.
func (CycleRecord) Table() Table { return TableCycleData }

// Validate checks the fields a remote write requires.
func (c *CycleRecord) Validate() error {
	if err := c.validateEnvelope(); err != nil {
		return err
	}
	if err := validateDate(c.Date); err != nil {
		return fmt.Errorf("cycle date: %w", err)
	}
	return nil
}
