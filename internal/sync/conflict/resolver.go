// Package conflict provides conflict resolution for multi-device
// synchronization using last-write-wins with a deterministic tiebreak.
package conflict

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/habitsync/habitsync/internal/eventlog"
	"github.com/habitsync/habitsync/internal/logging"
	"github.com/habitsync/habitsync/internal/metrics"
	"github.com/habitsync/habitsync/internal/models"
)

// simultaneityWindow is the timestamp delta under which two versions are
// treated as effectively simultaneous and the tiebreak applies.
const simultaneityWindow = time.Second

// Resolution is the outcome of resolving one conflict.
type Resolution struct {
	Winner models.Winner
	Record models.Record // the winning version
	Reason string
	Log    models.ConflictLog
}

// Resolver decides between two versions of a record. Resolutions are
// deterministic: every replica given the same pair picks the same winner
// without coordination.
type Resolver struct {
	events  *eventlog.Client
	metrics *metrics.Metrics
	now     func() time.Time
}

// NewResolver creates a Resolver. events may be nil when audit logging is
// not wanted (tests).
func NewResolver(events *eventlog.Client, m *metrics.Metrics) *Resolver {
	return &Resolver{
		events:  events,
		metrics: m,
		now:     time.Now,
	}
}

// Resolve applies the realtime rule: beyond the simultaneity window the
// later timestamp wins outright; inside it the lexicographically greater
// device id wins. localDeviceID fills in for a local version missing its
// device stamp.
func (r *Resolver) Resolve(ctx context.Context, table models.Table, local, remote models.Record, localDeviceID string) Resolution {
	localTime := local.UpdatedTime()
	remoteTime := remote.UpdatedTime()
	delta := localTime.Sub(remoteTime)
	if delta < 0 {
		delta = -delta
	}

	var res Resolution
	if delta > simultaneityWindow {
		if localTime.After(remoteTime) {
			res = r.outcome(table, local, remote, models.WinnerLocal, "last_write_wins")
		} else {
			res = r.outcome(table, local, remote, models.WinnerRemote, "last_write_wins")
		}
	} else {
		localDevice := local.Device()
		if localDevice == "" {
			localDevice = localDeviceID
		}
		remoteDevice := remote.Device()

		switch {
		case localDevice > remoteDevice:
			res = r.outcome(table, local, remote, models.WinnerLocal, "device_id_tiebreak")
		case remoteDevice > localDevice:
			res = r.outcome(table, local, remote, models.WinnerRemote, "device_id_tiebreak")
		default:
			// Same device within the window: the versions are two
			// observations of the same write; keep the later one.
			if localTime.After(remoteTime) {
				res = r.outcome(table, local, remote, models.WinnerLocal, "same_device_latest")
			} else {
				res = r.outcome(table, local, remote, models.WinnerRemote, "same_device_latest")
			}
		}
	}

	r.record(ctx, res)
	return res
}

// ResolveInitial applies the initial-sync rule: last-write-wins beyond the
// window, but inside it the local version wins. A user who just edited
// offline and then logs in must not silently lose that edit to a
// coincidentally-timed remote write. This deliberately differs from the
// realtime rule above.
func (r *Resolver) ResolveInitial(ctx context.Context, table models.Table, local, remote models.Record) Resolution {
	localTime := local.UpdatedTime()
	remoteTime := remote.UpdatedTime()
	delta := localTime.Sub(remoteTime)
	if delta < 0 {
		delta = -delta
	}

	var res Resolution
	switch {
	case delta > simultaneityWindow && remoteTime.After(localTime):
		res = r.outcome(table, local, remote, models.WinnerRemote, "last_write_wins")
	case delta > simultaneityWindow:
		res = r.outcome(table, local, remote, models.WinnerLocal, "last_write_wins")
	default:
		res = r.outcome(table, local, remote, models.WinnerLocal, "initial_sync_local_wins")
	}

	r.record(ctx, res)
	return res
}

func (r *Resolver) outcome(table models.Table, local, remote models.Record, winner models.Winner, reason string) Resolution {
	rec := remote
	if winner == models.WinnerLocal {
		rec = local
	}
	return Resolution{
		Winner: winner,
		Record: rec,
		Reason: reason,
		Log: models.ConflictLog{
			RecordID:   rec.RecordID(),
			Table:      table,
			Winner:     winner,
			Reason:     reason,
			ResolvedAt: r.now().UnixMilli(),
		},
	}
}

// record logs the resolution for audit.
func (r *Resolver) record(ctx context.Context, res Resolution) {
	if r.metrics != nil {
		r.metrics.IncConflicts(res.Winner == models.WinnerLocal)
	}

	logging.Info("Conflict resolved",
		map[string]interface{}{
			"table":     string(res.Log.Table),
			"record_id": res.Log.RecordID,
			"winner":    string(res.Winner),
			"reason":    res.Reason,
		})

	if r.events == nil {
		return
	}
	event := eventlog.NewEvent(models.EventConflictResolved, res.Log.Table, res.Log.RecordID,
		res.Record.Device(), res.Record.Owner())
	event.Metadata = map[string]string{
		"winner": string(res.Winner),
		"reason": res.Reason,
	}
	r.events.Record(ctx, event)
}

// Merge folds two versions into one record: it starts from the loser's
// full field set, then overwrites every field that differs with the
// winner's value. Fields only the loser carries survive; conflicting
// fields always defer to the winner.
func Merge(local, remote models.Record, winner models.Winner) (models.Record, error) {
	if local.Table() != remote.Table() {
		return nil, fmt.Errorf("cannot merge across tables: %s vs %s", local.Table(), remote.Table())
	}

	win, lose := remote, local
	if winner == models.WinnerLocal {
		win, lose = local, remote
	}

	winMap, err := toMap(win)
	if err != nil {
		return nil, err
	}
	loseMap, err := toMap(lose)
	if err != nil {
		return nil, err
	}

	merged := loseMap
	for k, v := range winMap {
		merged[k] = v
	}

	data, err := json.Marshal(merged)
	if err != nil {
		return nil, fmt.Errorf("encode merged record: %w", err)
	}
	return models.Decode(win.Table(), data)
}

func toMap(rec models.Record) (map[string]json.RawMessage, error) {
	data, err := models.Encode(rec)
	if err != nil {
		return nil, err
	}
	var m map[string]json.RawMessage
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("flatten record: %w", err)
	}
	return m, nil
}
