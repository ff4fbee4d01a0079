// Package callbackscheduler implements the periodic sweep that moves due
// callbacks from the Queue Store's callback structure back onto the
// primary queue, per spec §4.8. It is deliberately the simplest of the
// three background loops: no transactional batch/PO state change, no
// event publication (the batch_retry event was already published when
// the callback was requested), just an atomic queue-to-queue migration.
package callbackscheduler

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"go.mongodb.org/mongo-driver/mongo"

	"go.poresolve.tech/internal/common/leader"
	"go.poresolve.tech/internal/common/repository"
	"go.poresolve.tech/internal/domain/batch"
	"go.poresolve.tech/internal/queuestore"
)

// Config tunes the sweep loop (spec §6 env vars).
type Config struct {
	PollInterval time.Duration
	BatchSize    int64

	LeaderElection LeaderElectionConfig
}

// LeaderElectionConfig mirrors internal/common/leader.ElectorConfig, kept
// as its own type so callers don't need to import the leader package
// (same convention as internal/dispatcher.LeaderElectionConfig).
type LeaderElectionConfig struct {
	Enabled         bool
	InstanceID      string
	TTL             time.Duration
	RefreshInterval time.Duration
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		PollInterval: 5 * time.Second,
		BatchSize:    50,
	}
}

// Scheduler owns the dependencies needed to drain due callbacks.
type Scheduler struct {
	config *Config

	queue   *queuestore.Store
	batches *batch.Repository

	leaderElector *leader.LeaderElector

	ctx       context.Context
	cancel    context.CancelFunc
	wg        sync.WaitGroup
	running   bool
	runningMu sync.Mutex
}

// Deps bundles the repositories and clients the scheduler composes.
type Deps struct {
	Queue   *queuestore.Store
	Batches *batch.Repository
}

// New creates a callback scheduler. leaderDB may be nil to disable leader
// election (e.g. in tests or single-instance deployments).
func New(deps Deps, cfg *Config, leaderDB *mongo.Database) *Scheduler {
	if cfg == nil {
		cfg = DefaultConfig()
	}

	ctx, cancel := context.WithCancel(context.Background())

	s := &Scheduler{
		config:  cfg,
		queue:   deps.Queue,
		batches: deps.Batches,
		ctx:     ctx,
		cancel:  cancel,
	}

	if cfg.LeaderElection.Enabled && leaderDB != nil {
		electorConfig := &leader.ElectorConfig{
			InstanceID:      cfg.LeaderElection.InstanceID,
			LockName:        "callback-scheduler-leader",
			TTL:             cfg.LeaderElection.TTL,
			RefreshInterval: cfg.LeaderElection.RefreshInterval,
		}
		if electorConfig.TTL == 0 {
			electorConfig.TTL = 30 * time.Second
		}
		if electorConfig.RefreshInterval == 0 {
			electorConfig.RefreshInterval = 10 * time.Second
		}
		if electorConfig.InstanceID == "" {
			electorConfig.InstanceID = leader.DefaultElectorConfig("callback-scheduler-leader").InstanceID
		}
		s.leaderElector = leader.NewLeaderElector(leaderDB, electorConfig)
	}

	return s
}

// Start launches the sweep loop.
func (s *Scheduler) Start() {
	s.runningMu.Lock()
	if s.running {
		s.runningMu.Unlock()
		slog.Warn("Callback scheduler already running")
		return
	}
	s.running = true
	s.runningMu.Unlock()

	if s.leaderElector != nil {
		if err := s.leaderElector.Start(s.ctx); err != nil {
			slog.Error("Failed to start callback scheduler leader election", "error", err)
		}
	}

	s.wg.Add(1)
	go s.sweepLoop()

	slog.Info("Callback scheduler started",
		"pollInterval", s.config.PollInterval,
		"batchSize", s.config.BatchSize,
		"leaderElection", s.leaderElector != nil)
}

// Stop drains the sweep loop and releases the leader lock if held.
func (s *Scheduler) Stop() {
	s.runningMu.Lock()
	if !s.running {
		s.runningMu.Unlock()
		return
	}
	s.running = false
	s.runningMu.Unlock()

	s.cancel()
	s.wg.Wait()

	if s.leaderElector != nil {
		s.leaderElector.Stop()
	}
	slog.Info("Callback scheduler stopped")
}

// IsPrimary reports whether this instance should act (leader election
// disabled means every instance is primary).
func (s *Scheduler) IsPrimary() bool {
	if s.leaderElector == nil {
		return true
	}
	return s.leaderElector.IsPrimary()
}

func (s *Scheduler) sweepLoop() {
	defer s.wg.Done()

	ticker := time.NewTicker(s.config.PollInterval)
	defer ticker.Stop()

	s.SweepOnce(s.ctx)

	for {
		select {
		case <-s.ctx.Done():
			return
		case <-ticker.C:
			s.SweepOnce(s.ctx)
		}
	}
}

// SweepOnce migrates every currently-due callback, per spec §4.8.
// Exported so a manual admin trigger can force an out-of-band sweep, the
// same convention as internal/dispatcher.PollOnce.
func (s *Scheduler) SweepOnce(ctx context.Context) {
	if !s.IsPrimary() {
		return
	}

	due, err := s.queue.DueCallbacks(ctx, time.Now(), s.config.BatchSize)
	if err != nil {
		slog.Error("Callback scheduler failed to list due callbacks", "error", err)
		return
	}

	for _, batchID := range due {
		if err := s.migrate(ctx, batchID); err != nil {
			slog.Error("Callback scheduler failed to migrate due callback", "batchId", batchID, "error", err)
		}
	}
}

// migrate atomically removes a batch from the callback structure and,
// only if the Durable Store still shows it QUEUED, re-adds it to the
// primary queue at its priority score. A batch some other actor already
// moved past QUEUED (completed, re-dispatched, deleted) is dropped
// without re-queuing (spec §4.8).
func (s *Scheduler) migrate(ctx context.Context, batchID string) error {
	b, err := s.batches.FindByID(ctx, batchID)
	if err != nil && !errors.Is(err, repository.ErrNotFound) {
		return err
	}

	requeue, score := shouldRequeue(b)

	moved, err := s.queue.MigrateCallback(ctx, batchID, requeue, score)
	if err != nil {
		return err
	}
	if !moved {
		return nil
	}

	if requeue {
		slog.Info("Migrated due callback to primary queue", "batchId", batchID)
	} else {
		slog.Info("Dropped due callback for batch no longer queued", "batchId", batchID)
	}
	return nil
}

// shouldRequeue is the pure decision behind migrate: a nil batch (already
// deleted) or one whose status has moved past QUEUED is dropped; only a
// still-QUEUED batch is requeued, at its own priority score.
func shouldRequeue(b *batch.SupplierBatch) (bool, float64) {
	if b == nil || b.Status != batch.StatusQueued {
		return false, 0
	}
	return true, float64(b.PriorityScore())
}
