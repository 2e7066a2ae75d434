// Package cache provides the device-local key-value cache.
package cache

import (
	"github.com/habitsync/habitsync/internal/models"
)

// Collections provides typed access to the per-table record collections
// stored in a Store as JSON arrays under canonical keys.
type Collections struct {
	store Store
}

// NewCollections binds collection helpers to a store.
func NewCollections(store Store) *Collections {
	return &Collections{store: store}
}

// Load returns the cached collection for table, empty when absent.
func (c *Collections) Load(table models.Table) ([]models.Record, error) {
	raw, ok, err := c.store.Get(table.CollectionKey())
	if err != nil {
		return nil, err
	}
	if !ok || raw == "" {
		return []models.Record{}, nil
	}
	return models.DecodeList(table, []byte(raw))
}

// Save replaces the cached collection for table.
func (c *Collections) Save(table models.Table, records []models.Record) error {
	data, err := models.EncodeList(records)
	if err != nil {
		return err
	}
	return c.store.Set(table.CollectionKey(), string(data))
}

// Get returns the record with the given id from table's collection.
func (c *Collections) Get(table models.Table, id string) (models.Record, bool, error) {
	records, err := c.Load(table)
	if err != nil {
		return nil, false, err
	}
	for _, rec := range records {
		if rec.RecordID() == id {
			return rec, true, nil
		}
	}
	return nil, false, nil
}

// Upsert inserts or replaces a record by id within table's collection and
// persists the collection. Within a single process this is last-write-wins
// by construction: there are no local concurrent writers.
func (c *Collections) Upsert(table models.Table, rec models.Record) error {
	records, err := c.Load(table)
	if err != nil {
		return err
	}
	replaced := false
	for i, existing := range records {
		if existing.RecordID() == rec.RecordID() {
			records[i] = rec
			replaced = true
			break
		}
	}
	if !replaced {
		records = append(records, rec)
	}
	return c.Save(table, records)
}

// Delete removes a record by id from table's collection. Deleting an absent
// id is a no-op.
func (c *Collections) Delete(table models.Table, id string) error {
	records, err := c.Load(table)
	if err != nil {
		return err
	}
	kept := records[:0]
	for _, rec := range records {
		if rec.RecordID() != id {
			kept = append(kept, rec)
		}
	}
	return c.Save(table, kept)
}

// Store exposes the underlying key-value store for non-collection keys.
func (c *Collections) Store() Store {
	return c.store
}
