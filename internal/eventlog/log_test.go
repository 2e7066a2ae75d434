// Package eventlog provides unit tests for the sync event log client.
package eventlog

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/habitsync/habitsync/internal/models"
)

func TestMemoryLogQueryWindow(t *testing.T) {
	log := NewMemoryLog()
	ctx := context.Background()
	base := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)

	in := NewEvent(models.EventInsert, models.TableHabits, "r1", "dA", "u1")
	in.Timestamp = base.UnixMilli()
	out := NewEvent(models.EventInsert, models.TableHabits, "r1", "dB", "u1")
	out.Timestamp = base.Add(time.Minute).UnixMilli()
	other := NewEvent(models.EventInsert, models.TableHabits, "r2", "dA", "u1")
	other.Timestamp = base.UnixMilli()

	for _, e := range []models.SyncEvent{in, out, other} {
		if err := log.Append(ctx, e); err != nil {
			t.Fatalf("Append failed: %v", err)
		}
	}

	events, err := log.QueryWindow(ctx, models.TableHabits, "r1", base.Add(-10*time.Second), base.Add(10*time.Second))
	if err != nil {
		t.Fatalf("QueryWindow failed: %v", err)
	}
	if len(events) != 1 {
		t.Fatalf("Expected 1 event in window, got %d", len(events))
	}
	if events[0].DeviceID != "dA" {
		t.Errorf("Expected dA's event, got %+v", events[0])
	}
}

func TestMemoryLogPrune(t *testing.T) {
	log := NewMemoryLog()
	ctx := context.Background()
	now := time.Now()

	old := NewEvent(models.EventInsert, models.TableHabits, "r1", "dA", "u1")
	old.Timestamp = now.Add(-48 * time.Hour).UnixMilli()
	fresh := NewEvent(models.EventUpdate, models.TableHabits, "r1", "dA", "u1")
	fresh.Timestamp = now.UnixMilli()

	log.Append(ctx, old)
	log.Append(ctx, fresh)

	pruned, err := log.Prune(ctx, now.Add(-24*time.Hour))
	if err != nil {
		t.Fatalf("Prune failed: %v", err)
	}
	if pruned != 1 {
		t.Errorf("Expected 1 pruned event, got %d", pruned)
	}
	if log.Len() != 1 {
		t.Errorf("Expected 1 remaining event, got %d", log.Len())
	}
}

// failingLog always fails Append.
type failingLog struct{ MemoryLog }

func (f *failingLog) Append(context.Context, models.SyncEvent) error {
	return errors.New("log unavailable")
}

func TestClientRecordIsBestEffort(t *testing.T) {
	client := NewClient(&failingLog{})

	// Must not panic or propagate the failure.
	client.Record(context.Background(), NewEvent(models.EventInsert, models.TableHabits, "r1", "dA", "u1"))
}

func TestNewEventStampsIdentityAndTime(t *testing.T) {
	before := time.Now().UnixMilli()
	event := NewEvent(models.EventConflictResolved, models.TableActivities, "r9", "dB", "u2")
	after := time.Now().UnixMilli()

	if event.ID == "" {
		t.Error("Expected event id to be set")
	}
	if event.Timestamp < before || event.Timestamp > after {
		t.Errorf("Timestamp %d outside [%d, %d]", event.Timestamp, before, after)
	}
	if event.EventType != models.EventConflictResolved || event.TableName != models.TableActivities {
		t.Errorf("Event fields wrong: %+v", event)
	}
}
