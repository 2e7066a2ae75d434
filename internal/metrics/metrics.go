// Package metrics provides in-process counters for the sync subsystem.
// Counters feed the sync-status event and the admin snapshot; nothing is
// exported off-device.
package metrics

import "sync/atomic"

// Metrics holds the sync counters. All methods are safe for concurrent use.
type Metrics struct {
	localWrites      atomic.Int64
	remoteWrites     atomic.Int64
	remoteDeletes    atomic.Int64
	queued           atomic.Int64
	replayed         atomic.Int64
	droppedPoison    atomic.Int64
	droppedExhausted atomic.Int64
	duplicates       atomic.Int64
	conflictsLocal   atomic.Int64
	conflictsRemote  atomic.Int64
	busDrops         atomic.Int64
}

// New creates a zeroed Metrics.
func New() *Metrics {
	return &Metrics{}
}

func (m *Metrics) IncLocalWrites()      { m.localWrites.Add(1) }
func (m *Metrics) IncRemoteWrites()     { m.remoteWrites.Add(1) }
func (m *Metrics) IncRemoteDeletes()    { m.remoteDeletes.Add(1) }
func (m *Metrics) IncQueued()           { m.queued.Add(1) }
func (m *Metrics) IncReplayed()         { m.replayed.Add(1) }
func (m *Metrics) IncDroppedPoison()    { m.droppedPoison.Add(1) }
func (m *Metrics) IncDroppedExhausted() { m.droppedExhausted.Add(1) }
func (m *Metrics) IncDuplicates()       { m.duplicates.Add(1) }
func (m *Metrics) IncBusDrops()         { m.busDrops.Add(1) }

// IncConflicts counts a resolution by winning side.
func (m *Metrics) IncConflicts(localWon bool) {
	if localWon {
		m.conflictsLocal.Add(1)
	} else {
		m.conflictsRemote.Add(1)
	}
}

// Snapshot returns the current counter values.
func (m *Metrics) Snapshot() map[string]int64 {
	return map[string]int64{
		"local_writes":         m.localWrites.Load(),
		"remote_writes":        m.remoteWrites.Load(),
		"remote_deletes":       m.remoteDeletes.Load(),
		"queued":               m.queued.Load(),
		"replayed":             m.replayed.Load(),
		"dropped_poison":       m.droppedPoison.Load(),
		"dropped_exhausted":    m.droppedExhausted.Load(),
		"duplicates":           m.duplicates.Load(),
		"conflicts_local_won":  m.conflictsLocal.Load(),
		"conflicts_remote_won": m.conflictsRemote.Load(),
		"bus_drops":            m.busDrops.Load(),
	}
}
