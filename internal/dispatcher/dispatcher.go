// Package dispatcher implements the poll loop that pulls queued batches off
// the Queue Store, claims their supplier, places the Agent Provider call,
// and records the outcome. It implements the nine-step algorithm of spec
// §4.6, grounded on internal/scheduler's poll-loop/stale-recovery shape.
package dispatcher

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"go.mongodb.org/mongo-driver/mongo"

	"go.poresolve.tech/internal/agentprovider"
	"go.poresolve.tech/internal/common/leader"
	"go.poresolve.tech/internal/common/metrics"
	"go.poresolve.tech/internal/common/repository"
	"go.poresolve.tech/internal/domain/agentrun"
	"go.poresolve.tech/internal/domain/batch"
	"go.poresolve.tech/internal/domain/batchlog"
	"go.poresolve.tech/internal/domain/purchaseorder"
	"go.poresolve.tech/internal/domain/supplier"
	"go.poresolve.tech/internal/eventbus"
	"go.poresolve.tech/internal/queuestore"
)

// Sentinel errors for the manual trigger-call endpoint (spec §6
// `POST /batches/{id}/trigger-call`).
var (
	ErrBatchNotQueued        = errors.New("batch is not queued")
	ErrProviderNotConfigured = errors.New("agent provider not configured")
)

// Config tunes the poll loop and retry behavior (spec §6 env vars).
type Config struct {
	PollInterval         time.Duration
	MaxConcurrentCalls   int
	MaxAttempts          int
	SupplierRequeueDelay time.Duration
	StaleThreshold       time.Duration
	StaleCheckInterval   time.Duration
	AppURL               string

	LeaderElection LeaderElectionConfig
}

// LeaderElectionConfig mirrors internal/common/leader.ElectorConfig, kept
// as its own type so callers don't need to import the leader package.
type LeaderElectionConfig struct {
	Enabled         bool
	InstanceID      string
	TTL             time.Duration
	RefreshInterval time.Duration
}

// DefaultConfig returns sensible defaults, matching spec §6's named knobs.
func DefaultConfig() *Config {
	return &Config{
		PollInterval:         5 * time.Second,
		MaxConcurrentCalls:   5,
		MaxAttempts:          batch.DefaultMaxAttempts,
		SupplierRequeueDelay: batch.SupplierContentionDelay,
		StaleThreshold:       batch.StaleProcessingThreshold,
		StaleCheckInterval:   60 * time.Second,
	}
}

// Dispatcher owns the dependencies needed to drain the primary queue.
type Dispatcher struct {
	config *Config

	queue     *queuestore.Store
	batches   *batch.Repository
	pos       *purchaseorder.Repository
	suppliers *supplier.Repository
	agentRuns *agentrun.Repository
	logs      *batchlog.Repository
	bus       *eventbus.Bus
	provider  *agentprovider.Client

	leaderElector *leader.LeaderElector

	ctx       context.Context
	cancel    context.CancelFunc
	wg        sync.WaitGroup
	running   bool
	runningMu sync.Mutex
}

// Deps bundles the repositories and clients the dispatcher composes.
type Deps struct {
	Queue     *queuestore.Store
	Batches   *batch.Repository
	POs       *purchaseorder.Repository
	Suppliers *supplier.Repository
	AgentRuns *agentrun.Repository
	Logs      *batchlog.Repository
	Bus       *eventbus.Bus
	Provider  *agentprovider.Client
}

// New creates a dispatcher. leaderDB may be nil to disable leader election
// (e.g. in tests or single-instance deployments).
func New(deps Deps, cfg *Config, leaderDB *mongo.Database) *Dispatcher {
	if cfg == nil {
		cfg = DefaultConfig()
	}

	ctx, cancel := context.WithCancel(context.Background())

	d := &Dispatcher{
		config:    cfg,
		queue:     deps.Queue,
		batches:   deps.Batches,
		pos:       deps.POs,
		suppliers: deps.Suppliers,
		agentRuns: deps.AgentRuns,
		logs:      deps.Logs,
		bus:       deps.Bus,
		provider:  deps.Provider,
		ctx:       ctx,
		cancel:    cancel,
	}

	if cfg.LeaderElection.Enabled && leaderDB != nil {
		electorConfig := &leader.ElectorConfig{
			InstanceID:      cfg.LeaderElection.InstanceID,
			LockName:        "dispatcher-leader",
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
			electorConfig.InstanceID = leader.DefaultElectorConfig("dispatcher-leader").InstanceID
		}
		d.leaderElector = leader.NewLeaderElector(leaderDB, electorConfig)
	}

	return d
}

// Start launches the poll loop and the stale-recovery sweep.
func (d *Dispatcher) Start() {
	d.runningMu.Lock()
	if d.running {
		d.runningMu.Unlock()
		slog.Warn("Dispatcher already running")
		return
	}
	d.running = true
	d.runningMu.Unlock()

	if d.leaderElector != nil {
		if err := d.leaderElector.Start(d.ctx); err != nil {
			slog.Error("Failed to start dispatcher leader election", "error", err)
		}
	}

	d.wg.Add(2)
	go d.pollLoop()
	go d.staleRecoveryLoop()

	slog.Info("Dispatcher started",
		"pollInterval", d.config.PollInterval,
		"maxConcurrentCalls", d.config.MaxConcurrentCalls,
		"leaderElection", d.leaderElector != nil)
}

// Stop drains the loops and releases the leader lock if held.
func (d *Dispatcher) Stop() {
	d.runningMu.Lock()
	if !d.running {
		d.runningMu.Unlock()
		return
	}
	d.running = false
	d.runningMu.Unlock()

	d.cancel()
	d.wg.Wait()

	if d.leaderElector != nil {
		d.leaderElector.Stop()
	}
	slog.Info("Dispatcher stopped")
}

// IsPrimary reports whether this instance should act (leader election
// disabled means every instance is primary).
func (d *Dispatcher) IsPrimary() bool {
	if d.leaderElector == nil {
		return true
	}
	return d.leaderElector.IsPrimary()
}

func (d *Dispatcher) pollLoop() {
	defer d.wg.Done()

	ticker := time.NewTicker(d.config.PollInterval)
	defer ticker.Stop()

	d.PollOnce(d.ctx)
	d.refreshDepthMetrics()

	for {
		select {
		case <-d.ctx.Done():
			return
		case <-ticker.C:
			d.PollOnce(d.ctx)
			d.refreshDepthMetrics()
		}
	}
}

// refreshDepthMetrics samples queue depth once per poll cycle regardless of
// leadership, so non-primary instances still report what they observe.
func (d *Dispatcher) refreshDepthMetrics() {
	if err := d.queue.RefreshDepthMetrics(d.ctx); err != nil {
		slog.Warn("Dispatcher failed to refresh queue depth metrics", "error", err)
	}
}

// PollOnce drains up to MaxConcurrentCalls batches from the primary queue.
// Exported so a manual "trigger dispatch" admin endpoint (spec §6) can
// force an out-of-band poll.
func (d *Dispatcher) PollOnce(ctx context.Context) {
	if !d.IsPrimary() {
		return
	}

	start := time.Now()
	defer func() {
		metrics.DispatcherLoopDuration.Observe(time.Since(start).Seconds())
	}()

	for i := 0; i < d.config.MaxConcurrentCalls; i++ {
		batchID, ok, err := d.queue.PopMin(ctx)
		if err != nil {
			slog.Error("Dispatcher failed to pop primary queue", "error", err)
			return
		}
		if !ok {
			return
		}
		if err := d.processBatch(ctx, batchID); err != nil {
			slog.Error("Dispatcher failed to process batch", "batchId", batchID, "error", err)
		}
	}
}

// processBatch implements spec §4.6 steps 2-9 for a single popped batch.
func (d *Dispatcher) processBatch(ctx context.Context, batchID string) error {
	b, err := d.batches.FindByID(ctx, batchID)
	if errors.Is(err, repository.ErrNotFound) {
		slog.Warn("Dispatcher popped batch with no matching row", "batchId", batchID)
		return d.queue.Complete(ctx, batchID)
	}
	if err != nil {
		return fmt.Errorf("load popped batch %s: %w", batchID, err)
	}

	// Step 3: another actor already moved this batch past QUEUED (e.g. a
	// concurrent reconciler webhook); drop it from the processing set.
	if b.Status != batch.StatusQueued {
		return d.queue.Complete(ctx, batchID)
	}

	// Step 4: a batch carrying a future ScheduledFor shouldn't have been
	// in the primary queue at all (it belongs in the callback structure
	// until due); migrate it there instead of dispatching early.
	if b.ScheduledFor != nil && b.ScheduledFor.After(time.Now()) {
		if err := d.queue.ScheduleCallback(ctx, b.ID, *b.ScheduledFor); err != nil {
			return fmt.Errorf("reschedule future batch %s: %w", b.ID, err)
		}
		return d.queue.Complete(ctx, b.ID)
	}

	// Step 5: enforce at-most-one-in-flight-call-per-supplier.
	claimed, err := d.queue.ClaimSupplier(ctx, b.SupplierID)
	if err != nil {
		return fmt.Errorf("claim supplier %s: %w", b.SupplierID, err)
	}
	if !claimed {
		return d.deferForSupplierContention(ctx, b)
	}

	dispatched := false
	defer func() {
		if !dispatched {
			if err := d.queue.ReleaseSupplier(ctx, b.SupplierID); err != nil {
				slog.Error("Dispatcher failed to release supplier after aborted dispatch",
					"supplierId", b.SupplierID, "batchId", b.ID, "error", err)
			}
		}
	}()

	// Step 6: transactionally move batch + member POs to IN_PROGRESS.
	advanced, err := d.batches.CompareAndSwapStatus(ctx, b.ID, batch.StatusQueued, batch.StatusInProgress, func(x *batch.SupplierBatch) {
		x.AttemptCount++
	})
	if err != nil {
		return fmt.Errorf("advance batch %s to in-progress: %w", b.ID, err)
	}
	if !advanced {
		// Lost the race to another dispatcher instance.
		return d.queue.Complete(ctx, b.ID)
	}
	b.AttemptCount++
	if _, err := d.pos.TransitionStatusForBatch(ctx, b.ID, []purchaseorder.Status{purchaseorder.StatusQueued, purchaseorder.StatusPending}, purchaseorder.StatusInProgress); err != nil {
		return fmt.Errorf("advance batch %s POs to in-progress: %w", b.ID, err)
	}

	req, err := d.buildRequest(ctx, b)
	if err != nil {
		return fmt.Errorf("build agent provider request for batch %s: %w", b.ID, err)
	}

	// Step 7: invoke the Agent Provider.
	resp, callErr := d.provider.PlaceCall(ctx, req)
	if callErr != nil || resp == nil || !resp.Success {
		metrics.DispatcherBatchesDispatched.WithLabelValues("rejected").Inc()
		return d.handleDispatchFailure(ctx, b, callErr, resp)
	}

	// Step 8: dispatch succeeded; the supplier lock now belongs to the
	// in-flight call and is released by the Webhook Reconciler on
	// call_complete, not here.
	dispatched = true
	metrics.DispatcherBatchesDispatched.WithLabelValues("success").Inc()
	return d.handleDispatchSuccess(ctx, b, resp)
}

// TriggerCall implements the manual dispatch endpoint (spec §6 `POST
// /batches/{id}/trigger-call`): drives a single QUEUED batch through the
// same claim/advance/call path as processBatch, outside the poll loop's
// queue pop, with optional one-off contact overrides. The batch's id may
// still sit in the primary queue's sorted set afterward; the next poll
// pops it, finds it no longer QUEUED, and drops it, the same self-healing
// cleanup processBatch already relies on for any out-of-band status
// change (step 3).
func (d *Dispatcher) TriggerCall(ctx context.Context, batchID string, override agentprovider.ContactOverride) (runID, externalURL string, err error) {
	if d.provider == nil || !d.provider.Configured() {
		return "", "", ErrProviderNotConfigured
	}

	b, err := d.batches.FindByID(ctx, batchID)
	if err != nil {
		return "", "", err
	}
	if b.Status != batch.StatusQueued {
		return "", "", ErrBatchNotQueued
	}

	claimed, err := d.queue.ClaimSupplier(ctx, b.SupplierID)
	if err != nil {
		return "", "", fmt.Errorf("claim supplier %s: %w", b.SupplierID, err)
	}
	if !claimed {
		return "", "", fmt.Errorf("%w: supplier already has an in-flight call", ErrBatchNotQueued)
	}

	dispatched := false
	defer func() {
		if !dispatched {
			if releaseErr := d.queue.ReleaseSupplier(ctx, b.SupplierID); releaseErr != nil {
				slog.Error("Dispatcher failed to release supplier after aborted manual trigger",
					"supplierId", b.SupplierID, "batchId", b.ID, "error", releaseErr)
			}
		}
	}()

	advanced, err := d.batches.CompareAndSwapStatus(ctx, b.ID, batch.StatusQueued, batch.StatusInProgress, func(x *batch.SupplierBatch) {
		x.AttemptCount++
	})
	if err != nil {
		return "", "", fmt.Errorf("advance batch %s to in-progress: %w", b.ID, err)
	}
	if !advanced {
		return "", "", ErrBatchNotQueued
	}
	b.AttemptCount++
	if _, err := d.pos.TransitionStatusForBatch(ctx, b.ID, []purchaseorder.Status{purchaseorder.StatusQueued, purchaseorder.StatusPending}, purchaseorder.StatusInProgress); err != nil {
		return "", "", fmt.Errorf("advance batch %s POs to in-progress: %w", b.ID, err)
	}

	req, err := d.buildRequest(ctx, b)
	if err != nil {
		return "", "", fmt.Errorf("build agent provider request for batch %s: %w", b.ID, err)
	}
	req.Contact = override

	resp, callErr := d.provider.PlaceCall(ctx, req)
	if callErr != nil || resp == nil || !resp.Success {
		metrics.DispatcherBatchesDispatched.WithLabelValues("rejected").Inc()
		reason := "dispatch error"
		if callErr != nil {
			reason = callErr.Error()
		} else if resp != nil && resp.Error != "" {
			reason = resp.Error
		}
		if failErr := d.handleDispatchFailure(ctx, b, callErr, resp); failErr != nil {
			slog.Error("Dispatcher failed to revert batch after manual trigger failure", "batchId", b.ID, "error", failErr)
		}
		return "", "", fmt.Errorf("place call for batch %s: %s", b.ID, reason)
	}

	dispatched = true
	metrics.DispatcherBatchesDispatched.WithLabelValues("success").Inc()
	if err := d.handleDispatchSuccess(ctx, b, resp); err != nil {
		return "", "", fmt.Errorf("record manual trigger success for batch %s: %w", b.ID, err)
	}

	return resp.RunID, resp.ExternalURL, nil
}

// deferForSupplierContention implements step 5's "requeue" branch: move
// the batch into the callback structure so it's retried shortly without
// busy-looping the primary queue (spec §4.6 step 5, §8 scenario 2).
func (d *Dispatcher) deferForSupplierContention(ctx context.Context, b *batch.SupplierBatch) error {
	at := time.Now().Add(d.config.SupplierRequeueDelay)
	if err := d.queue.ScheduleCallback(ctx, b.ID, at); err != nil {
		return fmt.Errorf("defer contended batch %s: %w", b.ID, err)
	}
	return d.queue.Complete(ctx, b.ID)
}

// buildRequest assembles the Agent Provider payload from the batch's
// supplier and member POs.
func (d *Dispatcher) buildRequest(ctx context.Context, b *batch.SupplierBatch) (agentprovider.Request, error) {
	s, err := d.suppliers.FindByID(ctx, b.SupplierID)
	if err != nil {
		return agentprovider.Request{}, fmt.Errorf("load supplier %s: %w", b.SupplierID, err)
	}
	pos, err := d.pos.FindByBatchID(ctx, b.ID)
	if err != nil {
		return agentprovider.Request{}, fmt.Errorf("load POs for batch %s: %w", b.ID, err)
	}

	return mapRequest(s, pos, b, d.config.AppURL+"/webhooks/agent"), nil
}

// mapRequest is the pure translation from domain rows to the Agent
// Provider's wire request, kept separate from buildRequest so it can be
// exercised without a live repository.
func mapRequest(s *supplier.Supplier, pos []*purchaseorder.PurchaseOrder, b *batch.SupplierBatch, callbackURL string) agentprovider.Request {
	entries := make([]agentprovider.POEntry, len(pos))
	for i, po := range pos {
		entry := agentprovider.POEntry{
			ExternalID: po.ExternalID,
			PONumber:   po.PONumber,
			POLine:     po.POLine,
			ActionType: string(po.ActionType),
			DueDate:    po.DueDate.Format(time.RFC3339),
			ValueCents: int64(po.CalculatedTotalValue),
		}
		if po.RecommendedDate != nil {
			entry.RecommendedDate = po.RecommendedDate.Format(time.RFC3339)
		}
		entries[i] = entry
	}

	return agentprovider.Request{
		BatchID:      b.ID,
		SupplierID:   s.ID,
		SupplierName: s.Name,
		Phone:        s.Phone,
		Email:        s.Email,
		POs:          entries,
		CallbackURL:  callbackURL,
		Attempt:      b.AttemptCount,
	}
}

// handleDispatchSuccess implements step 8: record the run, stamp the
// batch with the provider's run identity, and announce it.
func (d *Dispatcher) handleDispatchSuccess(ctx context.Context, b *batch.SupplierBatch, resp *agentprovider.Response) error {
	run := &agentrun.AgentRun{
		BatchID:    b.ID,
		ExternalID: resp.RunID,
		Status:     agentrun.StatusInProgress,
		Attempt:    b.AttemptCount,
		StartedAt:  time.Now(),
	}
	if err := d.agentRuns.Insert(ctx, run); err != nil {
		return fmt.Errorf("record agent run for batch %s: %w", b.ID, err)
	}

	b.ExternalID = resp.RunID
	b.ExternalURL = resp.ExternalURL
	if err := d.batches.Update(ctx, b); err != nil {
		return fmt.Errorf("stamp batch %s with run identity: %w", b.ID, err)
	}

	d.appendLog(ctx, b.ID, batchlog.TypeStatusChange, batchlog.LevelInfo, "Call placed with agent provider", map[string]any{
		"runId":       resp.RunID,
		"externalUrl": resp.ExternalURL,
		"attempt":     b.AttemptCount,
	})
	d.publishPipeline(eventbus.EventBatchStarted, b.ID, b.SupplierID, map[string]any{
		"runId":       resp.RunID,
		"externalUrl": resp.ExternalURL,
	})

	return d.queue.Complete(ctx, b.ID)
}

// handleDispatchFailure implements step 9 verbatim: a trigger failure (the
// call could never be placed) reverts batch and POs to QUEUED and
// decrements attemptCount back off, so a failed trigger does not consume
// a retry attempt (spec §9 design note, confirmed by §8 scenario 5's
// worked example: "attemptCount = 0 (after decrement)"). The batch only
// ever reaches a terminal FAILED status via the Webhook Reconciler's
// call_complete handling, never from the dispatcher itself.
func (d *Dispatcher) handleDispatchFailure(ctx context.Context, b *batch.SupplierBatch, callErr error, resp *agentprovider.Response) error {
	reason := "dispatch error"
	if callErr != nil {
		reason = callErr.Error()
	} else if resp != nil && resp.Error != "" {
		reason = resp.Error
	}

	if _, err := d.batches.CompareAndSwapStatus(ctx, b.ID, batch.StatusInProgress, batch.StatusQueued, func(x *batch.SupplierBatch) {
		if x.AttemptCount > 0 {
			x.AttemptCount--
		}
		x.LastOutcome = reason
	}); err != nil {
		return fmt.Errorf("revert batch %s to queued: %w", b.ID, err)
	}
	if _, err := d.pos.TransitionStatusForBatch(ctx, b.ID, []purchaseorder.Status{purchaseorder.StatusInProgress}, purchaseorder.StatusQueued); err != nil {
		return fmt.Errorf("revert batch %s POs to queued: %w", b.ID, err)
	}

	d.appendLog(ctx, b.ID, batchlog.TypeStatusChange, batchlog.LevelWarn, "Dispatch trigger failed", map[string]any{
		"reason": reason,
	})
	d.publishPipeline(eventbus.EventBatchCompleted, b.ID, b.SupplierID, map[string]any{
		"outcome": "failed",
		"reason":  reason,
	})

	return d.queue.Requeue(ctx, b.ID, float64(b.PriorityScore()))
}

func (d *Dispatcher) appendLog(ctx context.Context, batchID string, t batchlog.Type, level batchlog.Level, message string, data map[string]any) {
	entry := &batchlog.BatchLog{BatchID: batchID, Type: t, Level: level, Message: message, Data: data}
	if err := d.logs.Append(ctx, entry); err != nil {
		slog.Error("Dispatcher failed to append batch log", "batchId", batchID, "error", err)
		return
	}
	if d.bus == nil {
		return
	}
	if err := d.bus.PublishBatchLog(batchID, eventbus.Envelope{
		Type:    eventbus.EventType(t),
		BatchID: batchID,
		Data:    data,
		TS:      time.Now().UnixMilli(),
	}); err != nil {
		slog.Warn("Dispatcher failed to publish batch log event", "batchId", batchID, "error", err)
	}
}

func (d *Dispatcher) publishPipeline(eventType eventbus.EventType, batchID, supplierID string, data map[string]any) {
	if d.bus == nil {
		return
	}
	if err := d.bus.PublishPipeline(eventbus.Envelope{
		Type:       eventType,
		BatchID:    batchID,
		SupplierID: supplierID,
		Data:       data,
		TS:         time.Now().UnixMilli(),
	}); err != nil {
		slog.Warn("Dispatcher failed to publish pipeline event", "batchId", batchID, "error", err)
	}
}

func (d *Dispatcher) staleRecoveryLoop() {
	defer d.wg.Done()

	ticker := time.NewTicker(d.config.StaleCheckInterval)
	defer ticker.Stop()

	for {
		select {
		case <-d.ctx.Done():
			return
		case <-ticker.C:
			d.recoverStaleBatches()
		}
	}
}

// recoverStaleBatches implements the supplemented stale-recovery sweep
// (SPEC_FULL §3): batches stuck IN_PROGRESS past StaleThreshold (e.g. the
// dispatcher instance holding their supplier lock crashed mid-call) are
// reverted to QUEUED and re-enqueued, and their supplier lock released.
func (d *Dispatcher) recoverStaleBatches() {
	if !d.IsPrimary() {
		return
	}

	ctx, cancel := context.WithTimeout(d.ctx, 30*time.Second)
	defer cancel()

	stale, err := d.batches.FindStaleProcessing(ctx, d.config.StaleThreshold)
	if err != nil {
		slog.Error("Dispatcher failed to scan for stale batches", "error", err)
		return
	}

	for _, b := range stale {
		ok, err := d.batches.CompareAndSwapStatus(ctx, b.ID, batch.StatusInProgress, batch.StatusQueued, func(x *batch.SupplierBatch) {
			x.LastOutcome = "recovered from stale in-progress"
		})
		if err != nil {
			slog.Error("Dispatcher failed to recover stale batch", "batchId", b.ID, "error", err)
			continue
		}
		if !ok {
			continue
		}
		if _, err := d.pos.TransitionStatusForBatch(ctx, b.ID, []purchaseorder.Status{purchaseorder.StatusInProgress}, purchaseorder.StatusQueued); err != nil {
			slog.Error("Dispatcher failed to revert stale batch POs", "batchId", b.ID, "error", err)
		}
		if err := d.queue.ReleaseSupplier(ctx, b.SupplierID); err != nil {
			slog.Error("Dispatcher failed to release supplier for stale batch", "batchId", b.ID, "error", err)
		}
		if err := d.queue.Requeue(ctx, b.ID, float64(b.PriorityScore())); err != nil {
			slog.Error("Dispatcher failed to re-enqueue stale batch", "batchId", b.ID, "error", err)
		}
		d.appendLog(ctx, b.ID, batchlog.TypeStatusChange, batchlog.LevelWarn, "Recovered from stale in-progress state", nil)
		metrics.DispatcherStaleBatchesRecovered.Inc()
	}

	if len(stale) > 0 {
		slog.Warn("Recovered stale in-progress batches", "count", len(stale))
	}
}
