// Package queue implements the durable offline operation queue. Writes
// that cannot reach the remote are appended here and replayed later; the
// full queue is persisted to the local cache on every mutation so pending
// operations survive restarts.
package queue

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/habitsync/habitsync/internal/cache"
	apperrors "github.com/habitsync/habitsync/internal/errors"
	"github.com/habitsync/habitsync/internal/logging"
	"github.com/habitsync/habitsync/internal/metrics"
	"github.com/habitsync/habitsync/internal/models"
	"github.com/habitsync/habitsync/internal/uuid"
)

// Applier replays one queued operation against the remote. A nil return
// removes the entry; an error schedules a retry.
type Applier func(ctx context.Context, entry models.QueueEntry) error

// Options configures queue capacity and retry behavior.
type Options struct {
	MaxSize    int
	MaxRetries int
	BaseDelay  time.Duration
	MaxDelay   time.Duration
}

// DefaultOptions mirrors the config defaults.
func DefaultOptions() Options {
	return Options{
		MaxSize:    1000,
		MaxRetries: 3,
		BaseDelay:  5 * time.Second,
		MaxDelay:   5 * time.Minute,
	}
}

// Report summarizes one Process pass.
type Report struct {
	Replayed  int
	Retried   int
	Dropped   int
	Deferred  int
	Remaining int
}

// Queue is a FIFO of pending remote writes with capped exponential retry.
type Queue struct {
	store   cache.Store
	metrics *metrics.Metrics
	opts    Options
	now     func() time.Time

	// onRetry is invoked when a backoff timer elapses, signaling that a
	// deferred entry is ready for another Process pass.
	onRetry func()

	mu          sync.Mutex
	entries     []models.QueueEntry
	nextAttempt map[string]time.Time
	timers      map[string]*time.Timer
	draining    bool
}

// New creates a Queue backed by the given cache, restoring any entries a
// previous process persisted.
func New(store cache.Store, m *metrics.Metrics, opts Options) (*Queue, error) {
	if opts.MaxRetries <= 0 {
		opts.MaxRetries = 3
	}
	if opts.BaseDelay <= 0 {
		opts.BaseDelay = 5 * time.Second
	}
	q := &Queue{
		store:       store,
		metrics:     m,
		opts:        opts,
		now:         time.Now,
		nextAttempt: make(map[string]time.Time),
		timers:      make(map[string]*time.Timer),
	}
	if err := q.restore(); err != nil {
		return nil, err
	}
	return q, nil
}

// OnRetryReady registers the callback fired when a backoff timer elapses.
func (q *Queue) OnRetryReady(fn func()) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.onRetry = fn
}

func (q *Queue) restore() error {
	raw, ok, err := q.store.Get(cache.KeyOpQueue)
	if err != nil {
		return apperrors.Wrap(apperrors.ErrCache, "Failed to load operation queue", err)
	}
	if !ok || raw == "" {
		return nil
	}
	var entries []models.QueueEntry
	if err := json.Unmarshal([]byte(raw), &entries); err != nil {
		// A corrupt queue must not brick startup. Start empty and
		// keep the bad payload out of the way.
		logging.ErrorWithCode("Discarding corrupt operation queue",
			string(apperrors.ErrCacheCorrupt), err)
		return q.persistLocked()
	}
	q.entries = entries
	return nil
}

// persistLocked writes the whole queue back to the cache. Callers hold q.mu.
func (q *Queue) persistLocked() error {
	data, err := json.Marshal(q.entries)
	if err != nil {
		return apperrors.Wrap(apperrors.ErrCache, "Failed to encode operation queue", err)
	}
	if q.entries == nil {
		data = []byte("[]")
	}
	if err := q.store.Set(cache.KeyOpQueue, string(data)); err != nil {
		return apperrors.Wrap(apperrors.ErrCache, "Failed to persist operation queue", err)
	}
	return nil
}

// Enqueue appends a pending operation and returns its id. Enqueue never
// fails: persistence errors are logged and the entry stays in memory, and
// when the queue is at capacity the oldest entry is evicted first.
func (q *Queue) Enqueue(opType models.OperationType, table models.Table, data json.RawMessage) string {
	entry := models.QueueEntry{
		ID:        uuid.New(),
		Type:      opType,
		Table:     table,
		Data:      data,
		Timestamp: q.now().UnixMilli(),
	}

	q.mu.Lock()
	if q.opts.MaxSize > 0 && len(q.entries) >= q.opts.MaxSize {
		evicted := q.entries[0]
		q.entries = q.entries[1:]
		delete(q.nextAttempt, evicted.ID)
		q.cancelTimerLocked(evicted.ID)
		logging.ErrorWithCode("Operation queue full, evicting oldest entry",
			string(apperrors.ErrQueueFull), nil,
			map[string]interface{}{
				"evicted_id": evicted.ID,
				"table":      string(evicted.Table),
			})
	}
	q.entries = append(q.entries, entry)
	if err := q.persistLocked(); err != nil {
		logging.Warn("Queue persistence failed, entry held in memory only",
			map[string]interface{}{"entry_id": entry.ID, "error": err.Error()})
	}
	q.mu.Unlock()

	if q.metrics != nil {
		q.metrics.IncQueued()
	}
	logging.Info("Operation queued",
		map[string]interface{}{
			"entry_id": entry.ID,
			"type":     string(opType),
			"table":    string(table),
		})
	return entry.ID
}

// Pending reports the number of queued operations.
func (q *Queue) Pending() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.entries)
}

// Entries returns a copy of the queued operations in FIFO order.
func (q *Queue) Entries() []models.QueueEntry {
	q.mu.Lock()
	defer q.mu.Unlock()
	out := make([]models.QueueEntry, len(q.entries))
	copy(out, q.entries)
	return out
}

// Process replays queued operations in FIFO order. Only one pass runs at
// a time; a concurrent call returns ErrSyncInProgress. Entries under a
// backoff delay are skipped this pass. Entries that fail validation are
// poison and dropped immediately; entries whose applier fails are retried
// with exponential backoff until MaxRetries, then dropped.
func (q *Queue) Process(ctx context.Context, apply Applier) (Report, error) {
	q.mu.Lock()
	if q.draining {
		q.mu.Unlock()
		return Report{}, apperrors.New(apperrors.ErrSyncInProgress, "Queue drain already in progress")
	}
	q.draining = true
	snapshot := make([]models.QueueEntry, len(q.entries))
	copy(snapshot, q.entries)
	q.mu.Unlock()

	defer func() {
		q.mu.Lock()
		q.draining = false
		q.mu.Unlock()
	}()

	var report Report
	for _, entry := range snapshot {
		if err := ctx.Err(); err != nil {
			break
		}

		q.mu.Lock()
		at, deferred := q.nextAttempt[entry.ID]
		q.mu.Unlock()
		if deferred && q.now().Before(at) {
			report.Deferred++
			continue
		}

		if err := validate(entry); err != nil {
			q.drop(entry.ID)
			report.Dropped++
			if q.metrics != nil {
				q.metrics.IncDroppedPoison()
			}
			logging.ErrorWithCode("Dropping invalid queued operation",
				string(apperrors.ErrValidation), err,
				map[string]interface{}{
					"entry_id": entry.ID,
					"table":    string(entry.Table),
				})
			continue
		}

		if err := apply(ctx, entry); err != nil {
			q.fail(entry, err, &report)
			continue
		}

		q.drop(entry.ID)
		report.Replayed++
		if q.metrics != nil {
			q.metrics.IncReplayed()
		}
	}

	report.Remaining = q.Pending()
	return report, nil
}

// validate checks that a queued operation could ever succeed remotely.
func validate(entry models.QueueEntry) error {
	if !entry.Table.Valid() {
		return apperrors.New(apperrors.ErrUnknownTable, "Unknown table "+string(entry.Table))
	}
	if entry.Type == models.OpDelete {
		var payload struct {
			ID string `json:"id"`
		}
		if err := json.Unmarshal(entry.Data, &payload); err != nil {
			return apperrors.Wrap(apperrors.ErrValidation, "Malformed delete payload", err)
		}
		if !uuid.IsValid(payload.ID) {
			return apperrors.New(apperrors.ErrValidation, "Delete payload missing record id")
		}
		return nil
	}
	rec, err := models.Decode(entry.Table, entry.Data)
	if err != nil {
		return apperrors.Wrap(apperrors.ErrValidation, "Malformed queued record", err)
	}
	return rec.Validate()
}

func (q *Queue) fail(entry models.QueueEntry, cause error, report *Report) {
	q.mu.Lock()
	idx := q.indexLocked(entry.ID)
	if idx < 0 {
		q.mu.Unlock()
		return
	}
	q.entries[idx].Retries++
	retries := q.entries[idx].Retries

	if retries >= q.opts.MaxRetries {
		q.entries = append(q.entries[:idx], q.entries[idx+1:]...)
		delete(q.nextAttempt, entry.ID)
		q.cancelTimerLocked(entry.ID)
		if err := q.persistLocked(); err != nil {
			logging.Warn("Queue persistence failed", map[string]interface{}{"error": err.Error()})
		}
		q.mu.Unlock()

		report.Dropped++
		if q.metrics != nil {
			q.metrics.IncDroppedExhausted()
		}
		logging.ErrorWithCode("Dropping operation after retry limit",
			string(apperrors.ErrSyncFailed), cause,
			map[string]interface{}{
				"entry_id": entry.ID,
				"table":    string(entry.Table),
				"retries":  retries,
			})
		return
	}

	delay := q.backoff(retries)
	q.nextAttempt[entry.ID] = q.now().Add(delay)
	q.cancelTimerLocked(entry.ID)
	q.timers[entry.ID] = time.AfterFunc(delay, q.retryReady)
	if err := q.persistLocked(); err != nil {
		logging.Warn("Queue persistence failed", map[string]interface{}{"error": err.Error()})
	}
	q.mu.Unlock()

	report.Retried++
	logging.Warn("Queued operation failed, will retry",
		map[string]interface{}{
			"entry_id": entry.ID,
			"retries":  retries,
			"delay":    delay.String(),
			"error":    cause.Error(),
		})
}

func (q *Queue) retryReady() {
	q.mu.Lock()
	fn := q.onRetry
	q.mu.Unlock()
	if fn != nil {
		fn()
	}
}

// backoff computes the delay before attempt retries+1: base*2^(retries-1),
// capped at MaxDelay.
func (q *Queue) backoff(retries int) time.Duration {
	delay := q.opts.BaseDelay
	for i := 1; i < retries; i++ {
		delay *= 2
		if q.opts.MaxDelay > 0 && delay >= q.opts.MaxDelay {
			return q.opts.MaxDelay
		}
	}
	if q.opts.MaxDelay > 0 && delay > q.opts.MaxDelay {
		delay = q.opts.MaxDelay
	}
	return delay
}

func (q *Queue) indexLocked(id string) int {
	for i := range q.entries {
		if q.entries[i].ID == id {
			return i
		}
	}
	return -1
}

func (q *Queue) drop(id string) {
	q.mu.Lock()
	defer q.mu.Unlock()
	idx := q.indexLocked(id)
	if idx < 0 {
		return
	}
	q.entries = append(q.entries[:idx], q.entries[idx+1:]...)
	delete(q.nextAttempt, id)
	q.cancelTimerLocked(id)
	if err := q.persistLocked(); err != nil {
		logging.Warn("Queue persistence failed", map[string]interface{}{"error": err.Error()})
	}
}

func (q *Queue) cancelTimerLocked(id string) {
	if t, ok := q.timers[id]; ok {
		t.Stop()
		delete(q.timers, id)
	}
}

// Clear removes every queued operation and cancels pending retry timers.
func (q *Queue) Clear() error {
	q.mu.Lock()
	defer q.mu.Unlock()
	for id := range q.timers {
		q.timers[id].Stop()
	}
	q.timers = make(map[string]*time.Timer)
	q.nextAttempt = make(map[string]time.Time)
	q.entries = nil
	return q.persistLocked()
}

// ClearFailed removes only entries that have failed at least once,
// cancelling their retry timers. Fresh entries stay queued.
func (q *Queue) ClearFailed() error {
	q.mu.Lock()
	defer q.mu.Unlock()

	kept := q.entries[:0]
	removed := 0
	for _, entry := range q.entries {
		if entry.Retries > 0 {
			delete(q.nextAttempt, entry.ID)
			q.cancelTimerLocked(entry.ID)
			removed++
			continue
		}
		kept = append(kept, entry)
	}
	q.entries = kept
	if removed == 0 {
		return nil
	}
	logging.Info("Cleared failed operations", map[string]interface{}{"removed": removed})
	return q.persistLocked()
}

// Close cancels pending retry timers without touching queued entries.
func (q *Queue) Close() {
	q.mu.Lock()
	defer q.mu.Unlock()
	for id := range q.timers {
		q.timers[id].Stop()
	}
	q.timers = make(map[string]*time.Timer)
}
