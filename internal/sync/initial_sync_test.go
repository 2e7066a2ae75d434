package sync

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/habitsync/habitsync/internal/bus"
	"github.com/habitsync/habitsync/internal/models"
	"github.com/habitsync/habitsync/internal/uuid"
)

func habitAt(id, deviceID, name string, updated time.Time) *models.HabitRecord {
	return &models.HabitRecord{
		Envelope: models.Envelope{
			ID:        id,
			UserID:    "u1",
			DeviceID:  deviceID,
			CreatedAt: updated.Add(-time.Hour).UTC().Format(time.RFC3339Nano),
			UpdatedAt: updated.UTC().Format(time.RFC3339Nano),
		},
		Name: name,
	}
}

func TestInitialSyncMergesUnion(t *testing.T) {
	rig := newTestRig(t, "device_a")
	rig.provider.Login("u1")
	ctx := context.Background()
	base := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)

	// Local knows records 1,2,3; remote knows 3,4,5. Record 3's remote
	// copy is clearly newer.
	shared := uuid.New()
	localOnly := []string{uuid.New(), uuid.New()}
	remoteOnly := []string{uuid.New(), uuid.New()}

	locals := []models.Record{
		habitAt(localOnly[0], "device_a", "one", base),
		habitAt(localOnly[1], "device_a", "two", base),
		habitAt(shared, "device_a", "three stale", base),
	}
	if err := rig.engine.collections.Save(models.TableHabits, locals); err != nil {
		t.Fatalf("Save failed: %v", err)
	}
	rig.remote.Upsert(ctx, models.TableHabits, habitAt(shared, "device_b", "three fresh", base.Add(time.Minute)))
	rig.remote.Upsert(ctx, models.TableHabits, habitAt(remoteOnly[0], "device_b", "four", base))
	rig.remote.Upsert(ctx, models.TableHabits, habitAt(remoteOnly[1], "device_b", "five", base))
	rig.remote.upserts = 0

	report, err := rig.engine.InitialSync(ctx, "u1")
	if err != nil {
		t.Fatalf("InitialSync failed: %v", err)
	}
	if report.Skipped {
		t.Fatal("First sync must not be skipped")
	}

	merged, err := rig.engine.collections.Load(models.TableHabits)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if len(merged) != 5 {
		t.Fatalf("Expected union of 5 records locally, got %d", len(merged))
	}
	if rig.remote.count(models.TableHabits) != 5 {
		t.Errorf("Expected union of 5 records remotely, got %d", rig.remote.count(models.TableHabits))
	}

	// The shared record took the newer remote version.
	rec, ok, _ := rig.engine.collections.Get(models.TableHabits, shared)
	if !ok {
		t.Fatal("Shared record missing after merge")
	}
	if rec.(*models.HabitRecord).Name != "three fresh" {
		t.Errorf("Expected newer remote version to win, got %q", rec.(*models.HabitRecord).Name)
	}
}

func TestInitialSyncLocalWinsNearTie(t *testing.T) {
	rig := newTestRig(t, "device_a")
	rig.provider.Login("u1")
	ctx := context.Background()
	base := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)

	id := uuid.New()
	local := habitAt(id, "device_a", "local edit", base)
	remoteVer := habitAt(id, "device_z", "remote edit", base.Add(800*time.Millisecond))

	rig.engine.collections.Save(models.TableHabits, []models.Record{local})
	rig.remote.Upsert(ctx, models.TableHabits, remoteVer)

	if _, err := rig.engine.InitialSync(ctx, "u1"); err != nil {
		t.Fatalf("InitialSync failed: %v", err)
	}

	rec, _, _ := rig.engine.collections.Get(models.TableHabits, id)
	if rec.(*models.HabitRecord).Name != "local edit" {
		t.Errorf("Near-simultaneous login merge must keep the local edit, got %q", rec.(*models.HabitRecord).Name)
	}
}

func TestInitialSyncStampsOwnerlessRecords(t *testing.T) {
	rig := newTestRig(t, "device_a")
	rig.provider.Login("u1")
	ctx := context.Background()

	// A record created before login has no owner.
	orphan := &models.HabitRecord{
		Envelope: models.Envelope{
			ID:        uuid.New(),
			CreatedAt: time.Now().UTC().Format(time.RFC3339Nano),
		},
		Name: "pre-login",
	}
	rig.engine.collections.Save(models.TableHabits, []models.Record{orphan})

	if _, err := rig.engine.InitialSync(ctx, "u1"); err != nil {
		t.Fatalf("InitialSync failed: %v", err)
	}

	rec, _, _ := rig.engine.collections.Get(models.TableHabits, orphan.ID)
	if rec.Owner() != "u1" {
		t.Errorf("Expected orphan record claimed by the user, owner %q", rec.Owner())
	}
	if !rig.remote.has(models.TableHabits, orphan.ID) {
		t.Error("Expected orphan record uploaded")
	}
}

func TestInitialSyncRunsOncePerUser(t *testing.T) {
	rig := newTestRig(t, "device_a")
	rig.provider.Login("u1")
	ctx := context.Background()

	if _, err := rig.engine.InitialSync(ctx, "u1"); err != nil {
		t.Fatalf("InitialSync failed: %v", err)
	}
	fetches := rig.remote.selects

	report, err := rig.engine.InitialSync(ctx, "u1")
	if err != nil {
		t.Fatalf("Second InitialSync failed: %v", err)
	}
	if !report.Skipped {
		t.Error("Expected second sync for the same user to be skipped")
	}
	if rig.remote.selects != fetches {
		t.Errorf("Expected no further remote fetches, got %d extra", rig.remote.selects-fetches)
	}
}

func TestInitialSyncOverlappingLoginRunsOnce(t *testing.T) {
	rig := newTestRig(t, "device_a")
	rig.provider.Login("u1")

	// Two concurrent logins for the same user: exactly one merge runs,
	// the other sees the claimed guard and skips.
	var wg sync.WaitGroup
	skipped := make(chan bool, 2)
	for i := 0; i < 2; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			report, err := rig.engine.InitialSync(context.Background(), "u1")
			if err != nil {
				t.Errorf("InitialSync failed: %v", err)
			}
			skipped <- report.Skipped
		}()
	}
	wg.Wait()
	close(skipped)

	ran := 0
	for s := range skipped {
		if !s {
			ran++
		}
	}
	if ran != 1 {
		t.Errorf("Expected exactly one sync to run, got %d", ran)
	}
	if want := len(models.AllTables()); rig.remote.selects != want {
		t.Errorf("Expected %d remote fetches, got %d", want, rig.remote.selects)
	}
}

func TestInitialSyncRunsAgainAfterForget(t *testing.T) {
	rig := newTestRig(t, "device_a")
	rig.provider.Login("u1")
	ctx := context.Background()

	rig.engine.InitialSync(ctx, "u1")
	rig.engine.ForgetUser("u1")

	report, err := rig.engine.InitialSync(ctx, "u1")
	if err != nil {
		t.Fatalf("InitialSync after ForgetUser failed: %v", err)
	}
	if report.Skipped {
		t.Error("Expected sync to run again after ForgetUser")
	}
}

func TestInitialSyncDegradesOnRemoteFailure(t *testing.T) {
	rig := newTestRig(t, "device_a")
	rig.provider.Login("u1")
	ctx := context.Background()

	local := habitAt(uuid.New(), "device_a", "kept", time.Now())
	rig.engine.collections.Save(models.TableHabits, []models.Record{local})
	rig.remote.failSelect = errors.New("remote down")

	report, err := rig.engine.InitialSync(ctx, "u1")
	if err != nil {
		t.Fatalf("Expected degraded sync, not failure: %v", err)
	}
	if len(report.Degraded) != len(models.AllTables()) {
		t.Errorf("Expected every table degraded, got %d", len(report.Degraded))
	}

	records, _ := rig.engine.collections.Load(models.TableHabits)
	if len(records) != 1 {
		t.Errorf("Local data must survive a degraded sync, got %d records", len(records))
	}
}

func TestInitialSyncPublishesSingleCompletion(t *testing.T) {
	rig := newTestRig(t, "device_a")
	rig.provider.Login("u1")

	ch, unsub := rig.bus.Subscribe(bus.TopicSyncComplete)
	defer unsub()

	if _, err := rig.engine.InitialSync(context.Background(), "u1"); err != nil {
		t.Fatalf("InitialSync failed: %v", err)
	}

	select {
	case <-ch:
	case <-time.After(time.Second):
		t.Fatal("Expected a sync-complete event")
	}
	select {
	case ev := <-ch:
		t.Errorf("Expected exactly one sync-complete event, got extra %+v", ev)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestInitialSyncBuildsActivityDateIndex(t *testing.T) {
	rig := newTestRig(t, "device_a")
	rig.provider.Login("u1")
	ctx := context.Background()
	now := time.Now()

	act := &models.ActivityRecord{
		Envelope: models.Envelope{
			ID:        uuid.New(),
			UserID:    "u1",
			DeviceID:  "device_a",
			CreatedAt: now.UTC().Format(time.RFC3339Nano),
			UpdatedAt: now.UTC().Format(time.RFC3339Nano),
		},
		Name:     "swim",
		Category: "fitness",
		Date:     "2026-03-01",
	}
	rig.engine.collections.Save(models.TableActivities, []models.Record{act})

	if _, err := rig.engine.InitialSync(ctx, "u1"); err != nil {
		t.Fatalf("InitialSync failed: %v", err)
	}

	raw, ok, err := rig.store.Get("habitsync:activities_by_date")
	if err != nil || !ok {
		t.Fatalf("Expected activity date index, ok=%v err=%v", ok, err)
	}
	if raw == "" || raw == "{}" {
		t.Errorf("Expected index to contain the activity, got %q", raw)
	}
}
