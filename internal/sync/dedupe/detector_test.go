package dedupe

import (
	"context"
	"testing"
	"time"

	"github.com/habitsync/habitsync/internal/eventlog"
	"github.com/habitsync/habitsync/internal/models"
	"github.com/habitsync/habitsync/internal/uuid"
)

func TestFirstEventIsClean(t *testing.T) {
	d := NewDetector(nil, nil)
	ctx := context.Background()

	if d.IsDuplicate(ctx, models.TableHabits, uuid.New(), "device_a", "u1", time.Now()) {
		t.Error("Expected first event for a record to be clean")
	}
	if d.Len() != 1 {
		t.Errorf("Expected clean event to be registered, cache size %d", d.Len())
	}
}

func TestRepeatWithinTTLIsDuplicate(t *testing.T) {
	d := NewDetector(nil, nil)
	ctx := context.Background()
	id := uuid.New()
	now := time.Now()

	if d.IsDuplicate(ctx, models.TableHabits, id, "device_a", "u1", now) {
		t.Fatal("First event must be clean")
	}
	if !d.IsDuplicate(ctx, models.TableHabits, id, "device_a", "u1", now.Add(100*time.Millisecond)) {
		t.Error("Expected repeat from same device within TTL to be a duplicate")
	}
}

func TestRecencyCacheExpires(t *testing.T) {
	d := NewDetector(nil, nil)
	ctx := context.Background()
	id := uuid.New()

	base := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	current := base
	d.now = func() time.Time { return current }

	if d.IsDuplicate(ctx, models.TableHabits, id, "device_a", "u1", base) {
		t.Fatal("First event must be clean")
	}

	current = base.Add(recencyTTL + time.Second)
	if d.IsDuplicate(ctx, models.TableHabits, id, "device_a", "u1", current) {
		t.Error("Expected event after TTL expiry to be clean")
	}
}

func TestSweepEvictsExpiredEntries(t *testing.T) {
	d := NewDetector(nil, nil)
	ctx := context.Background()

	base := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	current := base
	d.now = func() time.Time { return current }

	d.IsDuplicate(ctx, models.TableHabits, uuid.New(), "device_a", "u1", base)
	current = base.Add(2 * time.Minute)
	d.IsDuplicate(ctx, models.TableHabits, uuid.New(), "device_a", "u1", current)

	current = base.Add(recencyTTL + time.Minute)
	d.sweep()
	if d.Len() != 1 {
		t.Errorf("Expected sweep to keep only the unexpired entry, cache size %d", d.Len())
	}
}

func TestCrossDeviceNearSimultaneousCreate(t *testing.T) {
	log := eventlog.NewMemoryLog()
	events := eventlog.NewClient(log)
	d := NewDetector(events, nil)
	ctx := context.Background()

	id := uuid.New()
	base := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)

	// Device A already created the record 100ms ago.
	first := eventlog.NewEvent(models.EventInsert, models.TableCompletions, id, "device_a", "u1")
	first.Timestamp = base.UnixMilli()
	if err := log.Append(ctx, first); err != nil {
		t.Fatalf("Append failed: %v", err)
	}

	if !d.IsDuplicate(ctx, models.TableCompletions, id, "device_b", "u1", base.Add(100*time.Millisecond)) {
		t.Error("Expected near-simultaneous create from another device to be a duplicate")
	}

	// A DUPLICATE audit event must have been recorded.
	all := log.All()
	found := false
	for _, ev := range all {
		if ev.EventType == models.EventDuplicate && ev.RecordID == id {
			found = true
		}
	}
	if !found {
		t.Error("Expected a DUPLICATE event in the log")
	}
}

func TestCrossDeviceFarApartIsClean(t *testing.T) {
	log := eventlog.NewMemoryLog()
	d := NewDetector(eventlog.NewClient(log), nil)
	ctx := context.Background()

	id := uuid.New()
	base := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)

	first := eventlog.NewEvent(models.EventInsert, models.TableCompletions, id, "device_a", "u1")
	first.Timestamp = base.UnixMilli()
	if err := log.Append(ctx, first); err != nil {
		t.Fatalf("Append failed: %v", err)
	}

	// 8s apart: inside the query window but beyond the duplicate delta.
	if d.IsDuplicate(ctx, models.TableCompletions, id, "device_b", "u1", base.Add(8*time.Second)) {
		t.Error("Expected creates 8s apart to be treated as distinct")
	}
}

func TestSameDeviceLogEventsIgnored(t *testing.T) {
	log := eventlog.NewMemoryLog()
	d := NewDetector(eventlog.NewClient(log), nil)
	ctx := context.Background()

	id := uuid.New()
	base := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)

	first := eventlog.NewEvent(models.EventInsert, models.TableCompletions, id, "device_a", "u1")
	first.Timestamp = base.UnixMilli()
	if err := log.Append(ctx, first); err != nil {
		t.Fatalf("Append failed: %v", err)
	}

	// The cross-device check must not flag a device against its own
	// prior log entries; the recency cache covers that case.
	if d.crossDeviceDuplicate(ctx, models.TableCompletions, id, "device_a", base.Add(time.Second)) {
		t.Error("Expected same-device log entry to be ignored by the cross-device check")
	}
}

func TestForgetAllowsRecreate(t *testing.T) {
	d := NewDetector(nil, nil)
	ctx := context.Background()
	id := uuid.New()
	now := time.Now()

	d.IsDuplicate(ctx, models.TableHabits, id, "device_a", "u1", now)
	d.Forget(models.TableHabits, id)

	if d.IsDuplicate(ctx, models.TableHabits, id, "device_a", "u1", now.Add(time.Second)) {
		t.Error("Expected record to be clean after Forget")
	}
}

func TestStartStopIdempotent(t *testing.T) {
	d := NewDetector(nil, nil)
	d.Start()
	d.Start()
	d.Stop()
	d.Stop()
}
