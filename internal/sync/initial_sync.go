package sync

import (
	"context"
	"encoding/json"

	"github.com/habitsync/habitsync/internal/bus"
	"github.com/habitsync/habitsync/internal/cache"
	apperrors "github.com/habitsync/habitsync/internal/errors"
	"github.com/habitsync/habitsync/internal/logging"
	"github.com/habitsync/habitsync/internal/models"
	"github.com/habitsync/habitsync/internal/remote"
	"github.com/habitsync/habitsync/internal/sync/conflict"
)

// SyncReport summarizes one initial sync pass.
type SyncReport struct {
	UserID    string
	Merged    int // records updated locally from the remote
	Uploaded  int // local-only records pushed to the remote
	Conflicts int
	Skipped   bool // already synced for this user
	Degraded  []models.Table
}

// InitialSync merges the local cache with the remote store for the given
// user. It runs at most once per user per session; a later login by the
// same user reuses the realtime feed instead. The merge is a union by
// record id. Records on both sides go through conflict resolution where a
// tie favors the local version, so an edit made just before login is
// never silently lost.
func (e *Engine) InitialSync(ctx context.Context, userID string) (SyncReport, error) {
	report := SyncReport{UserID: userID}

	if e.remote == nil {
		report.Skipped = true
		return report, nil
	}

	// The guard is claimed before the fetch so an overlapping login for
	// the same user skips instead of running a second merge. A failed
	// sync releases it so the next login retries.
	e.mu.Lock()
	if e.syncedUsers[userID] {
		e.mu.Unlock()
		report.Skipped = true
		return report, nil
	}
	e.syncedUsers[userID] = true
	e.mu.Unlock()

	logging.Info("Initial sync started", map[string]interface{}{"user_id": userID})

	for _, table := range models.AllTables() {
		if err := ctx.Err(); err != nil {
			e.ForgetUser(userID)
			return report, err
		}
		if err := e.syncTable(ctx, table, userID, &report); err != nil {
			e.ForgetUser(userID)
			return report, err
		}
	}

	if err := e.projectActivityIndex(); err != nil {
		logging.Warn("Activity date index rebuild failed",
			map[string]interface{}{"error": err.Error()})
	}

	logging.Info("Initial sync complete",
		map[string]interface{}{
			"user_id":  userID,
			"merged":   report.Merged,
			"uploaded": report.Uploaded,
			"degraded": len(report.Degraded),
		})

	// One completion event per sync, after every table is durably saved.
	if e.bus != nil {
		tables := make([]string, 0, len(models.AllTables()))
		for _, t := range models.AllTables() {
			tables = append(tables, string(t))
		}
		degraded := make([]string, 0, len(report.Degraded))
		for _, t := range report.Degraded {
			degraded = append(degraded, string(t))
		}
		e.bus.Publish(bus.Event{
			Topic: bus.TopicSyncComplete,
			Payload: map[string]interface{}{
				"user_id":   userID,
				"tables":    tables,
				"merged":    report.Merged,
				"uploaded":  report.Uploaded,
				"conflicts": report.Conflicts,
				"degraded":  degraded,
			},
		})
	}
	return report, nil
}

// ForgetUser clears the once-per-session guard, typically on logout.
func (e *Engine) ForgetUser(userID string) {
	e.mu.Lock()
	delete(e.syncedUsers, userID)
	e.mu.Unlock()
}

// syncTable merges one table. A remote fetch failure degrades to
// local-only data rather than failing the whole sync.
func (e *Engine) syncTable(ctx context.Context, table models.Table, userID string, report *SyncReport) error {
	local, err := e.collections.Load(table)
	if err != nil {
		return apperrors.Wrap(apperrors.ErrSyncFailed, "Failed to load local collection", err)
	}

	remoteRecords, err := e.remote.Select(ctx, table, userID)
	if err != nil {
		if remote.IsMissingTable(err) {
			remoteRecords = nil
		} else {
			report.Degraded = append(report.Degraded, table)
			logging.Warn("Remote fetch failed, keeping local data",
				map[string]interface{}{"table": string(table), "error": err.Error()})
			return e.adoptLocal(table, local, userID)
		}
	}

	byID := make(map[string]models.Record, len(remoteRecords))
	for _, rec := range remoteRecords {
		byID[rec.RecordID()] = rec
	}

	merged := make([]models.Record, 0, len(local)+len(remoteRecords))
	seen := make(map[string]bool, len(local))
	changed := false

	for _, loc := range local {
		id := loc.RecordID()
		seen[id] = true

		rem, onRemote := byID[id]
		if !onRemote {
			// Local-only: claim for the user and push up.
			if loc.Owner() == "" {
				loc.Stamp(userID, e.deviceID, loc.UpdatedTime())
				changed = true
			}
			merged = append(merged, loc)
			e.upload(ctx, table, loc, report)
			continue
		}

		if sameVersion(loc, rem) {
			merged = append(merged, loc)
			continue
		}

		res := e.resolver.ResolveInitial(ctx, table, loc, rem)
		out, err := conflict.Merge(loc, rem, res.Winner)
		if err != nil {
			out = res.Record
		}
		merged = append(merged, out)
		changed = true
		report.Conflicts++
		if res.Winner == models.WinnerRemote {
			report.Merged++
		} else {
			// Local won, so the remote copy is stale and gets
			// overwritten.
			e.upload(ctx, table, out, report)
		}
	}

	for _, rem := range remoteRecords {
		if seen[rem.RecordID()] {
			continue
		}
		merged = append(merged, rem)
		report.Merged++
		changed = true
	}

	if changed || len(merged) != len(local) {
		if err := e.collections.Save(table, merged); err != nil {
			return apperrors.Wrap(apperrors.ErrSyncFailed, "Failed to save merged collection", err)
		}
	}
	return nil
}

// adoptLocal stamps ownerless local records for the user when the remote
// is unreachable, so a later drain can push them.
func (e *Engine) adoptLocal(table models.Table, local []models.Record, userID string) error {
	changed := false
	for _, rec := range local {
		if rec.Owner() == "" {
			rec.Stamp(userID, e.deviceID, rec.UpdatedTime())
			changed = true
		}
	}
	if !changed {
		return nil
	}
	return e.collections.Save(table, local)
}

// upload pushes one record to the remote, queueing it on failure.
func (e *Engine) upload(ctx context.Context, table models.Table, rec models.Record, report *SyncReport) {
	if err := rec.Validate(); err != nil {
		logging.Warn("Skipping invalid local record during sync",
			map[string]interface{}{"table": string(table), "record_id": rec.RecordID(), "error": err.Error()})
		return
	}
	if err := e.remote.Upsert(ctx, table, rec); err != nil {
		if remote.IsMissingTable(err) {
			return
		}
		e.enqueueRecord(models.OpCreate, table, rec)
		return
	}
	if e.metrics != nil {
		e.metrics.IncRemoteWrites()
	}
	report.Uploaded++
}

// sameVersion reports whether two records are the same version by device
// and timestamp.
func sameVersion(a, b models.Record) bool {
	return a.Device() == b.Device() && a.UpdatedTime().Equal(b.UpdatedTime())
}

// projectActivityIndex rebuilds the by-date activity lookup the UI reads.
func (e *Engine) projectActivityIndex() error {
	records, err := e.collections.Load(models.TableActivities)
	if err != nil {
		return err
	}

	byDate := make(map[string][]string)
	for _, rec := range records {
		act, ok := rec.(*models.ActivityRecord)
		if !ok {
			continue
		}
		byDate[act.Date] = append(byDate[act.Date], act.RecordID())
	}

	data, err := json.Marshal(byDate)
	if err != nil {
		return err
	}
	return e.collections.Store().Set(cache.KeyActivitiesByDay, string(data))
}
