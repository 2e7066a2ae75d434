// Package models provides data model definitions for the habitsync core.
package models

import "fmt"

// Table identifies a synchronized collection. The set is closed: sync code
// dispatches on this enum, never on free-form table strings.
type Table string

const (
	TableActivities  Table = "activities"
	TableHabits      Table = "habits"
	TableCompletions Table = "habit_completions"
	TableCycleData   Table = "cycle_data"
	TableReflections Table = "reflections"
)

// AllTables returns every synchronized table in canonical order.
func AllTables() []Table {
	return []Table{
		TableActivities,
		TableHabits,
		TableCompletions,
		TableCycleData,
		TableReflections,
	}
}

// Valid reports whether t names a known synchronized table.
func (t Table) Valid() bool {
	switch t {
	case TableActivities, TableHabits, TableCompletions, TableCycleData, TableReflections:
		return true
	}
	return false
}

// ParseTable converts a string into a Table, rejecting unknown names.
func ParseTable(s string) (Table, error) {
	t := Table(s)
	if !t.Valid() {
		return "", fmt.Errorf("unknown table: %q", s)
	}
	return t, nil
}

// CollectionKey returns the canonical local-cache key holding the table's
// record collection.
func (t Table) CollectionKey() string {
	return "habitsync:collection:" + string(t)
}
