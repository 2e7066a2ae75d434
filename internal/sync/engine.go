// Package sync implements the core write path and synchronization flows:
// cache-first persistence with best-effort remote replication, queue-backed
// offline recovery, login-time merge, and realtime change routing.
package sync

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/habitsync/habitsync/internal/auth"
	"github.com/habitsync/habitsync/internal/bus"
	"github.com/habitsync/habitsync/internal/cache"
	apperrors "github.com/habitsync/habitsync/internal/errors"
	"github.com/habitsync/habitsync/internal/eventlog"
	"github.com/habitsync/habitsync/internal/logging"
	"github.com/habitsync/habitsync/internal/metrics"
	"github.com/habitsync/habitsync/internal/models"
	"github.com/habitsync/habitsync/internal/remote"
	"github.com/habitsync/habitsync/internal/sync/conflict"
	"github.com/habitsync/habitsync/internal/sync/dedupe"
	"github.com/habitsync/habitsync/internal/sync/queue"
)

// Outcome reports how far a write propagated.
type Outcome string

const (
	// StoredLocal means the write reached the local cache only.
	StoredLocal Outcome = "local"
	// StoredBoth means the write reached the local cache and either
	// reached the remote or is queued with guaranteed delivery.
	StoredBoth Outcome = "local+remote"
)

// Result is the outcome of one Persist or Delete call. Err carries a
// remote failure that will not resolve by retrying; the local write
// already succeeded when Err is set.
type Result struct {
	Outcome  Outcome
	RecordID string
	Queued   bool
	Warning  string
	Err      error
}

// Deps bundles the engine's collaborators.
type Deps struct {
	Collections *cache.Collections
	Remote      remote.Store
	Queue       *queue.Queue
	Events      *eventlog.Client
	Resolver    *conflict.Resolver
	Detector    *dedupe.Detector
	Bus         *bus.Bus
	Metrics     *metrics.Metrics
	Auth        auth.Provider
	DeviceID    string
}

// Engine is the write path. Every mutation lands in the local cache first;
// remote replication is best-effort and falls back to the operation queue,
// so a user-visible write is never lost to a network failure.
type Engine struct {
	collections *cache.Collections
	remote      remote.Store
	queue       *queue.Queue
	events      *eventlog.Client
	resolver    *conflict.Resolver
	detector    *dedupe.Detector
	bus         *bus.Bus
	metrics     *metrics.Metrics
	auth        auth.Provider
	deviceID    string
	now         func() time.Time

	mu          sync.Mutex
	online      bool
	syncedUsers map[string]bool
}

// NewEngine creates an Engine and wires the queue's retry timers to
// trigger drains.
func NewEngine(deps Deps) *Engine {
	e := &Engine{
		collections: deps.Collections,
		remote:      deps.Remote,
		queue:       deps.Queue,
		events:      deps.Events,
		resolver:    deps.Resolver,
		detector:    deps.Detector,
		bus:         deps.Bus,
		metrics:     deps.Metrics,
		auth:        deps.Auth,
		deviceID:    deps.DeviceID,
		now:         time.Now,
		online:      true,
		syncedUsers: make(map[string]bool),
	}
	if e.queue != nil {
		e.queue.OnRetryReady(func() {
			go e.DrainQueue(context.Background())
		})
	}
	return e
}

// DeviceID returns the stable identity of this device.
func (e *Engine) DeviceID() string { return e.deviceID }

// SetOnline flips the connectivity state. Coming back online kicks off a
// queue drain.
func (e *Engine) SetOnline(online bool) {
	e.mu.Lock()
	was := e.online
	e.online = online
	e.mu.Unlock()

	if was == online {
		return
	}
	e.publishStatus(online)
	if online {
		go e.DrainQueue(context.Background())
	}
}

// Online reports the current connectivity state.
func (e *Engine) Online() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.online
}

// Persist writes a record cache-first, then replicates it to the remote.
// The record must carry a valid id; Stamp metadata is applied here. A
// failed local write is the only fatal outcome. Remote failures queue the
// operation for replay and are reported through the Result.
func (e *Engine) Persist(ctx context.Context, table models.Table, rec models.Record) (Result, error) {
	userID, loggedIn := e.auth.CurrentUser()
	rec.Stamp(userID, e.deviceID, e.now())

	if err := rec.Validate(); err != nil {
		return Result{}, apperrors.Wrap(apperrors.ErrValidation, "Record failed validation", err)
	}

	res := Result{RecordID: rec.RecordID()}

	_, existed, err := e.collections.Get(table, rec.RecordID())
	if err != nil {
		return Result{}, err
	}
	if err := e.collections.Upsert(table, rec); err != nil {
		// The cache is the source of truth. If it cannot be written
		// the operation failed outright.
		return Result{}, err
	}
	if e.metrics != nil {
		e.metrics.IncLocalWrites()
	}
	res.Outcome = StoredLocal
	defer e.publishRecord(table, rec.RecordID(), eventTypeFor(existed))

	if !loggedIn || e.remote == nil {
		// Local-only mode. The record picks up an owner and reaches
		// the remote during the next login's initial sync, if a remote
		// is ever configured.
		return res, nil
	}

	opType := models.OpCreate
	if existed {
		opType = models.OpUpdate
	}

	if !e.Online() {
		// The caller's write is safe and will reach the remote via the
		// queue, so this is not reported as a failure.
		e.enqueueRecord(opType, table, rec)
		res.Outcome = StoredBoth
		res.Queued = true
		res.Warning = "offline, queued for sync"
		return res, nil
	}

	if err := e.remote.Upsert(ctx, table, rec); err != nil {
		return e.remoteWriteFailed(res, opType, table, rec, err), nil
	}

	if e.metrics != nil {
		e.metrics.IncRemoteWrites()
	}
	res.Outcome = StoredBoth
	e.logEvent(ctx, eventTypeFor(existed), table, rec.RecordID(), userID)
	return res, nil
}

// Delete removes a record cache-first, then from the remote.
func (e *Engine) Delete(ctx context.Context, table models.Table, id string) (Result, error) {
	userID, loggedIn := e.auth.CurrentUser()
	res := Result{RecordID: id}

	if err := e.collections.Delete(table, id); err != nil {
		return Result{}, err
	}
	if e.detector != nil {
		e.detector.Forget(table, id)
	}
	if e.metrics != nil {
		e.metrics.IncLocalWrites()
	}
	res.Outcome = StoredLocal
	defer e.publishRecord(table, id, string(models.EventDelete))

	if !loggedIn || e.remote == nil {
		return res, nil
	}

	payload := []byte(fmt.Sprintf(`{"id":%q,"user_id":%q}`, id, userID))

	if !e.Online() {
		e.queue.Enqueue(models.OpDelete, table, payload)
		res.Outcome = StoredBoth
		res.Queued = true
		res.Warning = "offline, queued for sync"
		return res, nil
	}

	if err := e.remote.Delete(ctx, table, id, userID); err != nil {
		if remote.IsMissingTable(err) {
			// Nothing remote to delete.
			res.Outcome = StoredBoth
			return res, nil
		}
		e.queue.Enqueue(models.OpDelete, table, payload)
		res.Queued = true
		if remote.IsTransient(err) {
			res.Outcome = StoredBoth
			res.Warning = "remote unavailable, queued for sync"
			logging.Warn("Remote delete failed, queued",
				map[string]interface{}{"table": string(table), "record_id": id, "error": err.Error()})
		} else {
			res.Err = apperrors.Wrap(apperrors.ErrRemotePermanent, "Remote rejected delete", err)
		}
		return res, nil
	}

	if e.metrics != nil {
		e.metrics.IncRemoteDeletes()
	}
	res.Outcome = StoredBoth
	e.logEvent(ctx, string(models.EventDelete), table, id, userID)
	return res, nil
}

// remoteWriteFailed classifies the failure, queues the operation, and
// fills in the result.
func (e *Engine) remoteWriteFailed(res Result, opType models.OperationType, table models.Table, rec models.Record, err error) Result {
	if remote.IsMissingTable(err) {
		// The remote simply does not host this table yet. Not a
		// failure and not worth queueing.
		logging.Debug("Remote table missing, record kept local",
			map[string]interface{}{"table": string(table), "record_id": rec.RecordID()})
		res.Warning = "remote table missing"
		return res
	}

	e.enqueueRecord(opType, table, rec)
	res.Queued = true

	if remote.IsTransient(err) {
		// The queue guarantees delivery, so the caller still sees the
		// write reaching both sides.
		res.Outcome = StoredBoth
		res.Warning = "remote unavailable, queued for sync"
		logging.Warn("Remote write failed, queued",
			map[string]interface{}{
				"table":     string(table),
				"record_id": rec.RecordID(),
				"error":     err.Error(),
			})
		return res
	}

	res.Err = apperrors.Wrap(apperrors.ErrRemotePermanent, "Remote rejected write", err)
	logging.Error("Remote rejected write", err,
		map[string]interface{}{"table": string(table), "record_id": rec.RecordID()})
	return res
}

func (e *Engine) enqueueRecord(opType models.OperationType, table models.Table, rec models.Record) {
	data, err := models.Encode(rec)
	if err != nil {
		logging.Error("Failed to encode record for queue", err,
			map[string]interface{}{"table": string(table), "record_id": rec.RecordID()})
		return
	}
	e.queue.Enqueue(opType, table, data)
}

// DrainQueue replays queued operations against the remote. It is a no-op
// while offline, logged out, or running without a remote, and only one
// drain runs at a time.
func (e *Engine) DrainQueue(ctx context.Context) (queue.Report, error) {
	if e.remote == nil || !e.Online() {
		return queue.Report{}, nil
	}
	if _, loggedIn := e.auth.CurrentUser(); !loggedIn {
		return queue.Report{}, nil
	}

	report, err := e.queue.Process(ctx, e.applyQueued)
	if err != nil {
		if apperrors.Is(err, apperrors.ErrSyncInProgress) {
			return queue.Report{}, nil
		}
		return report, err
	}
	if report.Replayed > 0 {
		logging.Info("Queue drain complete",
			map[string]interface{}{
				"replayed":  report.Replayed,
				"dropped":   report.Dropped,
				"remaining": report.Remaining,
			})
	}
	return report, nil
}

// applyQueued replays one queued operation.
func (e *Engine) applyQueued(ctx context.Context, entry models.QueueEntry) error {
	switch entry.Type {
	case models.OpCreate, models.OpUpdate:
		rec, err := models.Decode(entry.Table, entry.Data)
		if err != nil {
			return err
		}
		if err := e.remote.Upsert(ctx, entry.Table, rec); err != nil {
			if remote.IsMissingTable(err) {
				return nil
			}
			return err
		}
		if e.metrics != nil {
			e.metrics.IncRemoteWrites()
		}
		// The replayed event keeps the original operation type so the
		// duplicate detector's cross-device tier still sees creations.
		eventType := models.EventUpdate
		if entry.Type == models.OpCreate {
			eventType = models.EventInsert
		}
		e.logEvent(ctx, string(eventType), entry.Table, rec.RecordID(), rec.Owner())
		return nil

	case models.OpDelete:
		var payload struct {
			ID     string `json:"id"`
			UserID string `json:"user_id"`
		}
		if err := json.Unmarshal(entry.Data, &payload); err != nil {
			return err
		}
		if err := e.remote.Delete(ctx, entry.Table, payload.ID, payload.UserID); err != nil {
			if remote.IsMissingTable(err) {
				return nil
			}
			return err
		}
		if e.metrics != nil {
			e.metrics.IncRemoteDeletes()
		}
		e.logEvent(ctx, string(models.EventDelete), entry.Table, payload.ID, payload.UserID)
		return nil

	default:
		return apperrors.New(apperrors.ErrValidation, "Unknown operation type "+string(entry.Type))
	}
}

func (e *Engine) logEvent(ctx context.Context, eventType string, table models.Table, recordID, userID string) {
	if e.events == nil {
		return
	}
	e.events.Record(ctx, eventlog.NewEvent(models.EventType(eventType), table, recordID, e.deviceID, userID))
}

func (e *Engine) publishRecord(table models.Table, recordID, eventType string) {
	if e.bus == nil {
		return
	}
	e.bus.Publish(bus.Event{
		Topic:     bus.TopicRecordUpdated,
		EventType: eventType,
		Table:     table,
		RecordID:  recordID,
	})
}

func (e *Engine) publishStatus(online bool) {
	if e.bus == nil {
		return
	}
	status := "offline"
	if online {
		status = "online"
	}
	e.bus.Publish(bus.Event{
		Topic:     bus.TopicSyncStatus,
		EventType: status,
		Payload:   map[string]interface{}{"pending": e.queue.Pending()},
	})
}

func eventTypeFor(existed bool) string {
	if existed {
		return string(models.EventUpdate)
	}
	return string(models.EventInsert)
}
