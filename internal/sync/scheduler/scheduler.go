// Package scheduler provides background scheduling for queue drains and
// event log retention.
package scheduler

import (
	"context"
	"sync"
	"time"

	"github.com/habitsync/habitsync/internal/device"
	apperrors "github.com/habitsync/habitsync/internal/errors"
	"github.com/habitsync/habitsync/internal/eventlog"
	"github.com/habitsync/habitsync/internal/logging"
	syncpkg "github.com/habitsync/habitsync/internal/sync"
)

// Config holds scheduler configuration.
type Config struct {
	DrainInterval     time.Duration // How often to replay the operation queue
	RetentionInterval time.Duration // How often to prune the event log
	RetentionWindow   time.Duration // How long events are kept
}

// DefaultConfig returns default scheduler configuration.
func DefaultConfig() *Config {
	return &Config{
		DrainInterval:     time.Minute,
		RetentionInterval: 6 * time.Hour,
		RetentionWindow:   30 * 24 * time.Hour,
	}
}

// Scheduler runs the periodic background work the sync core needs: queue
// drains while online and event log pruning.
type Scheduler struct {
	engine            *syncpkg.Engine
	events            *eventlog.Client
	device            *device.Manager
	drainInterval     time.Duration
	retentionInterval time.Duration
	retentionWindow   time.Duration

	stopCh          chan struct{}
	wg              sync.WaitGroup
	mu              sync.RWMutex
	isRunning       bool
	lastDrainTime   time.Time
	drainInProgress bool
	pruneInProgress bool
}

// New creates a Scheduler. device may be nil when last-sync tracking is
// not wanted.
func New(engine *syncpkg.Engine, events *eventlog.Client, dev *device.Manager, config *Config) *Scheduler {
	if config == nil {
		config = DefaultConfig()
	}
	return &Scheduler{
		engine:            engine,
		events:            events,
		device:            dev,
		drainInterval:     config.DrainInterval,
		retentionInterval: config.RetentionInterval,
		retentionWindow:   config.RetentionWindow,
		stopCh:            make(chan struct{}),
	}
}

// Start starts the background loops. A stopped scheduler can be started
// again.
func (s *Scheduler) Start(ctx context.Context) {
	s.mu.Lock()
	if s.isRunning {
		s.mu.Unlock()
		return
	}
	s.isRunning = true
	// A fresh channel per run; the previous one was closed by Stop.
	s.stopCh = make(chan struct{})
	stopCh := s.stopCh
	s.mu.Unlock()

	s.wg.Add(2)
	go s.drainLoop(ctx, stopCh)
	go s.retentionLoop(ctx, stopCh)

	logging.Info("Background sync scheduler started", nil)
}

// Stop stops the background loops gracefully.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	if !s.isRunning {
		s.mu.Unlock()
		return
	}
	s.isRunning = false
	stopCh := s.stopCh
	s.mu.Unlock()

	close(stopCh)
	s.wg.Wait()

	logging.Info("Background sync scheduler stopped", nil)
}

// drainLoop replays the operation queue on a fixed interval. The engine
// itself skips the work while offline or logged out.
func (s *Scheduler) drainLoop(ctx context.Context, stopCh <-chan struct{}) {
	defer s.wg.Done()

	ticker := time.NewTicker(s.drainInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-stopCh:
			return
		case <-ticker.C:
			s.mu.RLock()
			busy := s.drainInProgress
			s.mu.RUnlock()
			if busy {
				logging.Debug("Queue drain already in progress, skipping", nil)
				continue
			}
			go s.runDrain(ctx)
		}
	}
}

// retentionLoop prunes the event log on a fixed interval.
func (s *Scheduler) retentionLoop(ctx context.Context, stopCh <-chan struct{}) {
	defer s.wg.Done()

	ticker := time.NewTicker(s.retentionInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-stopCh:
			return
		case <-ticker.C:
			go s.runPrune(ctx)
		}
	}
}

// runDrain executes one queue drain.
func (s *Scheduler) runDrain(ctx context.Context) {
	s.mu.Lock()
	if s.drainInProgress {
		s.mu.Unlock()
		return
	}
	s.drainInProgress = true
	s.mu.Unlock()

	defer func() {
		s.mu.Lock()
		s.drainInProgress = false
		s.mu.Unlock()
	}()

	drainCtx, cancel := context.WithTimeout(ctx, 5*time.Minute)
	defer cancel()

	report, err := s.engine.DrainQueue(drainCtx)
	if err != nil {
		logging.ErrorWithCode("Scheduled queue drain failed", string(apperrors.ErrSyncFailed), err, nil)
		return
	}

	s.mu.Lock()
	s.lastDrainTime = time.Now()
	s.mu.Unlock()

	if report.Replayed > 0 && s.device != nil {
		if err := s.device.MarkSynced(time.Now()); err != nil {
			logging.Warn("Failed to record last sync time",
				map[string]interface{}{"error": err.Error()})
		}
	}
}

// runPrune deletes events older than the retention window.
func (s *Scheduler) runPrune(ctx context.Context) {
	s.mu.Lock()
	if s.pruneInProgress {
		s.mu.Unlock()
		return
	}
	s.pruneInProgress = true
	s.mu.Unlock()

	defer func() {
		s.mu.Lock()
		s.pruneInProgress = false
		s.mu.Unlock()
	}()

	if s.events == nil {
		return
	}

	pruneCtx, cancel := context.WithTimeout(ctx, time.Minute)
	defer cancel()

	cutoff := time.Now().Add(-s.retentionWindow)
	pruned, err := s.events.Prune(pruneCtx, cutoff)
	if err != nil {
		logging.Warn("Event log prune failed",
			map[string]interface{}{"error": err.Error()})
		return
	}
	if pruned > 0 {
		logging.Info("Event log pruned",
			map[string]interface{}{"pruned": pruned, "cutoff": cutoff.Format(time.RFC3339)})
	}
}

// TriggerDrain starts an immediate queue drain. Returns false if a drain
// is already running.
func (s *Scheduler) TriggerDrain(ctx context.Context) bool {
	s.mu.RLock()
	busy := s.drainInProgress
	s.mu.RUnlock()
	if busy {
		return false
	}
	go s.runDrain(ctx)
	return true
}

// Status describes the scheduler's current state.
type Status struct {
	IsRunning       bool
	DrainInProgress bool
	PruneInProgress bool
	LastDrainTime   *time.Time
}

// GetStatus returns the current status of the scheduler.
func (s *Scheduler) GetStatus() Status {
	s.mu.RLock()
	defer s.mu.RUnlock()

	status := Status{
		IsRunning:       s.isRunning,
		DrainInProgress: s.drainInProgress,
		PruneInProgress: s.pruneInProgress,
	}
	if !s.lastDrainTime.IsZero() {
		t := s.lastDrainTime
		status.LastDrainTime = &t
	}
	return status
}

// IsRunning returns whether the scheduler is running.
func (s *Scheduler) IsRunning() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.isRunning
}
