// Package eventlog provides the client for the append-only sync event log.
package eventlog

import (
	"context"
	"sync"
	"time"

	"github.com/habitsync/habitsync/internal/models"
)

// MemoryLog is an in-process Log used offline and in tests.
type MemoryLog struct {
	mu     sync.RWMutex
	events []models.SyncEvent
}

// NewMemoryLog creates an empty MemoryLog.
func NewMemoryLog() *MemoryLog {
	return &MemoryLog{}
}

// Append adds one event.
func (l *MemoryLog) Append(_ context.Context, event models.SyncEvent) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.events = append(l.events, event)
	return nil
}

// QueryWindow returns events for the record within [from, to].
func (l *MemoryLog) QueryWindow(_ context.Context, table models.Table, recordID string, from, to time.Time) ([]models.SyncEvent, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()

	var matched []models.SyncEvent
	for _, event := range l.events {
		if event.TableName != table || event.RecordID != recordID {
			continue
		}
		ts := event.Time()
		if ts.Before(from) || ts.After(to) {
			continue
		}
		matched = append(matched, event)
	}
	return matched, nil
}

// Prune deletes events older than the cutoff and reports the count.
func (l *MemoryLog) Prune(_ context.Context, olderThan time.Time) (int, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	kept := l.events[:0]
	pruned := 0
	for _, event := range l.events {
		if event.Time().Before(olderThan) {
			pruned++
			continue
		}
		kept = append(kept, event)
	}
	l.events = kept
	return pruned, nil
}

// Len returns the number of stored events.
func (l *MemoryLog) Len() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return len(l.events)
}

// All returns a copy of every stored event, oldest first.
func (l *MemoryLog) All() []models.SyncEvent {
	l.mu.RLock()
	defer l.mu.RUnlock()
	out := make([]models.SyncEvent, len(l.events))
	copy(out, l.events)
	return out
}
