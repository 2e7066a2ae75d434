// Package models provides data model definitions for the habitsync core.
package models

import "fmt"

// HabitRecord is a recurring habit definition.
type HabitRecord struct {
	Envelope
	Name         string   `json:"name"`
	Icon         string   `json:"icon,omitempty"`
	Color        string   `json:"color,omitempty"`
	ScheduleDays []string `json:"schedule_days,omitempty"` // mon..sun
	TargetPerDay int      `json:"target_per_day,omitempty"`
	Archived     bool     `json:"archived,omitempty"`
}

// Table returns the table this record belongs to.
func (HabitRecord) Table() Table { return TableHabits }

// Validate checks the fields a remote write requires.
func (h *HabitRecord) Validate() error {
	if err := h.validateEnvelope(); err != nil {
		return err
	}
	if h.Name == "" {
		return fmt.Errorf("habit missing name")
	}
	return nil
}
