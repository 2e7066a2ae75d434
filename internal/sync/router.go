package sync

import (
	"context"
	"sync"

	"github.com/habitsync/habitsync/internal/eventlog"
	"github.com/habitsync/habitsync/internal/logging"
	"github.com/habitsync/habitsync/internal/models"
	"github.com/habitsync/habitsync/internal/remote"
	"github.com/habitsync/habitsync/internal/sync/conflict"
)

// Router subscribes to the remote change feed for every table and applies
// other devices' writes to the local cache. Only one user's feed is active
// at a time; starting a new user tears the previous subscriptions down.
type Router struct {
	engine *Engine

	mu     sync.Mutex
	cancel context.CancelFunc
	wg     sync.WaitGroup
	userID string
}

// NewRouter creates a Router over the engine's stores.
func NewRouter(engine *Engine) *Router {
	return &Router{engine: engine}
}

// Start subscribes to change feeds for the user. Any previous user's
// subscriptions are stopped first. A table whose subscription fails is
// logged and skipped; the other tables still stream.
func (r *Router) Start(ctx context.Context, userID string) {
	r.Stop()

	ctx, cancel := context.WithCancel(ctx)

	r.mu.Lock()
	r.cancel = cancel
	r.userID = userID
	r.mu.Unlock()

	for _, table := range models.AllTables() {
		ch, err := r.engine.remote.Subscribe(ctx, table, userID)
		if err != nil {
			logging.Warn("Change feed subscription failed",
				map[string]interface{}{"table": string(table), "error": err.Error()})
			continue
		}
		r.wg.Add(1)
		go r.consume(ctx, table, userID, ch)
	}

	logging.Info("Realtime change router started", map[string]interface{}{"user_id": userID})
}

// Stop cancels all subscriptions and waits for feed goroutines to exit.
func (r *Router) Stop() {
	r.mu.Lock()
	cancel := r.cancel
	r.cancel = nil
	r.userID = ""
	r.mu.Unlock()

	if cancel == nil {
		return
	}
	cancel()
	r.wg.Wait()
}

func (r *Router) consume(ctx context.Context, table models.Table, userID string, ch <-chan remote.ChangeEvent) {
	defer r.wg.Done()
	for ev := range ch {
		r.handle(ctx, table, userID, ev)
	}
}

func (r *Router) handle(ctx context.Context, table models.Table, userID string, ev remote.ChangeEvent) {
	recordID := ev.RecordID()
	if recordID == "" {
		return
	}

	e := r.engine

	if ev.Type == remote.ChangeDelete {
		if err := e.collections.Delete(table, recordID); err != nil {
			logging.Error("Failed to apply remote delete", err,
				map[string]interface{}{"table": string(table), "record_id": recordID})
			return
		}
		if e.detector != nil {
			e.detector.Forget(table, recordID)
		}
		device := ""
		if old, err := ev.Record(); err == nil {
			device = old.Device()
		}
		r.observe(ctx, models.EventDelete, table, recordID, device, userID)
		e.publishRecord(table, recordID, string(models.EventDelete))
		return
	}

	incoming, err := ev.Record()
	if err != nil {
		logging.Warn("Dropping undecodable change event",
			map[string]interface{}{"table": string(table), "record_id": recordID, "error": err.Error()})
		return
	}

	// Writes from this device echo back through the feed; the cache
	// already has them.
	if incoming.Device() == e.deviceID {
		return
	}

	if ev.Type == remote.ChangeInsert && e.detector != nil {
		if e.detector.IsDuplicate(ctx, table, recordID, incoming.Device(), userID, incoming.UpdatedTime()) {
			return
		}
	}

	local, exists, err := e.collections.Get(table, recordID)
	if err != nil {
		logging.Error("Failed to read local record", err,
			map[string]interface{}{"table": string(table), "record_id": recordID})
		return
	}

	apply := incoming
	if exists && !sameVersion(local, incoming) {
		res := e.resolver.Resolve(ctx, table, local, incoming, e.deviceID)
		merged, err := conflict.Merge(local, incoming, res.Winner)
		if err != nil {
			merged = res.Record
		}
		apply = merged
	}

	if err := e.collections.Upsert(table, apply); err != nil {
		logging.Error("Failed to apply remote change", err,
			map[string]interface{}{"table": string(table), "record_id": recordID})
		return
	}

	if table == models.TableActivities {
		if err := e.projectActivityIndex(); err != nil {
			logging.Warn("Activity date index rebuild failed",
				map[string]interface{}{"error": err.Error()})
		}
	}

	r.observe(ctx, models.EventType(ev.Type), table, recordID, incoming.Device(), userID)
	e.publishRecord(table, recordID, string(ev.Type))
}

// observe appends an audit event for a change applied from the feed. The
// event carries the originating device so the duplicate detector keys on
// the writer, not on this observer.
func (r *Router) observe(ctx context.Context, eventType models.EventType, table models.Table, recordID, device, userID string) {
	e := r.engine
	if e.events == nil {
		return
	}
	event := eventlog.NewEvent(eventType, table, recordID, device, userID)
	event.Metadata = map[string]string{"observed_by": e.deviceID}
	e.events.Record(ctx, event)
}

// ActiveUser returns the user whose feeds are currently routed, if any.
func (r *Router) ActiveUser() (string, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.userID, r.userID != ""
}
