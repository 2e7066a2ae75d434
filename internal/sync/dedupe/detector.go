// Package dedupe detects duplicate record creations across devices. Two
// layers back the check: a short-lived in-memory recency cache for events
// this process already saw, and the shared event log for creations another
// device performed near-simultaneously.
package dedupe

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/habitsync/habitsync/internal/eventlog"
	"github.com/habitsync/habitsync/internal/logging"
	"github.com/habitsync/habitsync/internal/metrics"
	"github.com/habitsync/habitsync/internal/models"
)

const (
	// recencyTTL is how long a seen record stays in the local cache.
	recencyTTL = 5 * time.Minute

	// sweepInterval is how often expired cache entries are removed.
	sweepInterval = time.Minute

	// logWindow is the event-log query radius around the incoming
	// event's timestamp.
	logWindow = 10 * time.Second

	// duplicateDelta is the cross-device timestamp gap under which two
	// creations of the same record count as one.
	duplicateDelta = 5 * time.Second
)

// Detector tracks recently seen record events and answers whether an
// incoming one is a duplicate of something already processed.
type Detector struct {
	events  *eventlog.Client
	metrics *metrics.Metrics
	now     func() time.Time

	mu   sync.Mutex
	seen map[string]time.Time

	stopCh  chan struct{}
	stopped sync.WaitGroup
	running bool
}

// NewDetector creates a Detector. events may be nil, which disables the
// cross-device check and keeps only the local recency cache.
func NewDetector(events *eventlog.Client, m *metrics.Metrics) *Detector {
	return &Detector{
		events:  events,
		metrics: m,
		now:     time.Now,
		seen:    make(map[string]time.Time),
	}
}

func key(table models.Table, recordID, deviceID string) string {
	return fmt.Sprintf("%s:%s:%s", table, recordID, deviceID)
}

// Start launches the background sweeper that evicts expired cache
// entries. Calling Start on a running detector is a no-op.
func (d *Detector) Start() {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.running {
		return
	}
	d.running = true
	d.stopCh = make(chan struct{})
	d.stopped.Add(1)
	go d.sweepLoop(d.stopCh)
}

// Stop halts the sweeper and waits for it to exit.
func (d *Detector) Stop() {
	d.mu.Lock()
	if !d.running {
		d.mu.Unlock()
		return
	}
	d.running = false
	close(d.stopCh)
	d.mu.Unlock()
	d.stopped.Wait()
}

func (d *Detector) sweepLoop(stopCh chan struct{}) {
	defer d.stopped.Done()
	ticker := time.NewTicker(sweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-stopCh:
			return
		case <-ticker.C:
			d.sweep()
		}
	}
}

func (d *Detector) sweep() {
	cutoff := d.now().Add(-recencyTTL)
	d.mu.Lock()
	defer d.mu.Unlock()
	for k, at := range d.seen {
		if at.Before(cutoff) {
			delete(d.seen, k)
		}
	}
}

// IsDuplicate reports whether an incoming event for the record is a
// repeat of one already handled. A clean event is registered in the
// recency cache so later repeats are caught locally; duplicates are
// logged to the event log for audit.
func (d *Detector) IsDuplicate(ctx context.Context, table models.Table, recordID, deviceID, userID string, at time.Time) bool {
	k := key(table, recordID, deviceID)

	d.mu.Lock()
	seenAt, ok := d.seen[k]
	if ok && d.now().Sub(seenAt) <= recencyTTL {
		d.mu.Unlock()
		d.flag(ctx, table, recordID, deviceID, userID, "recency_cache")
		return true
	}
	d.mu.Unlock()

	if d.crossDeviceDuplicate(ctx, table, recordID, deviceID, at) {
		d.flag(ctx, table, recordID, deviceID, userID, "event_log")
		return true
	}

	d.mu.Lock()
	d.seen[k] = d.now()
	d.mu.Unlock()
	return false
}

// crossDeviceDuplicate queries the shared event log for a creation of the
// same record from another device close enough in time to be the same
// user action performed twice.
func (d *Detector) crossDeviceDuplicate(ctx context.Context, table models.Table, recordID, deviceID string, at time.Time) bool {
	if d.events == nil {
		return false
	}

	events, err := d.events.QueryWindow(ctx, table, recordID, at.Add(-logWindow), at.Add(logWindow))
	if err != nil {
		// The log is advisory. On failure let the event through
		// rather than stall the sync path.
		logging.Warn("Duplicate check query failed",
			map[string]interface{}{
				"table":     string(table),
				"record_id": recordID,
				"error":     err.Error(),
			})
		return false
	}

	for _, ev := range events {
		if ev.EventType != models.EventInsert {
			continue
		}
		if ev.DeviceID == deviceID {
			continue
		}
		delta := at.Sub(ev.Time())
		if delta < 0 {
			delta = -delta
		}
		if delta < duplicateDelta {
			return true
		}
	}
	return false
}

func (d *Detector) flag(ctx context.Context, table models.Table, recordID, deviceID, userID, source string) {
	if d.metrics != nil {
		d.metrics.IncDuplicates()
	}
	logging.Info("Duplicate event dropped",
		map[string]interface{}{
			"table":     string(table),
			"record_id": recordID,
			"device_id": deviceID,
			"source":    source,
		})
	if d.events == nil {
		return
	}
	event := eventlog.NewEvent(models.EventDuplicate, table, recordID, deviceID, userID)
	event.Metadata = map[string]string{"source": source}
	d.events.Record(ctx, event)
}

// Forget drops the record from the recency cache. Used after a delete so
// a legitimate re-creation is not mistaken for a repeat.
func (d *Detector) Forget(table models.Table, recordID string) {
	prefix := fmt.Sprintf("%s:%s:", table, recordID)
	d.mu.Lock()
	defer d.mu.Unlock()
	for k := range d.seen {
		if len(k) >= len(prefix) && k[:len(prefix)] == prefix {
			delete(d.seen, k)
		}
	}
}

// Len reports the recency cache size.
func (d *Detector) Len() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.seen)
}
