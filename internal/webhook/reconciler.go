package webhook

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"go.poresolve.tech/internal/common/repository"
	"go.poresolve.tech/internal/domain/activitylog"
	"go.poresolve.tech/internal/domain/agentrun"
	"go.poresolve.tech/internal/domain/batch"
	"go.poresolve.tech/internal/domain/batchlog"
	"go.poresolve.tech/internal/domain/conflict"
	"go.poresolve.tech/internal/domain/purchaseorder"
	"go.poresolve.tech/internal/eventbus"
	"go.poresolve.tech/internal/queuestore"
)

// Reconciler applies agent provider webhook events to the batch and PO
// state machines. Every handler is idempotent on re-delivery: a duplicate
// event finds its target already in (or past) the state it would have
// produced, and is a no-op (spec §4.7, §9).
type Reconciler struct {
	batches      *batch.Repository
	pos          *purchaseorder.Repository
	agentRuns    *agentrun.Repository
	logs         *batchlog.Repository
	conflicts    *conflict.Repository
	activityLogs *activitylog.Repository
	queue        *queuestore.Store
	bus          *eventbus.Bus
}

// Deps bundles the repositories and clients the reconciler composes.
type Deps struct {
	Batches      *batch.Repository
	POs          *purchaseorder.Repository
	AgentRuns    *agentrun.Repository
	Logs         *batchlog.Repository
	Conflicts    *conflict.Repository
	ActivityLogs *activitylog.Repository
	Queue        *queuestore.Store
	Bus          *eventbus.Bus
}

// NewReconciler creates a webhook reconciler.
func NewReconciler(deps Deps) *Reconciler {
	return &Reconciler{
		batches:      deps.Batches,
		pos:          deps.POs,
		agentRuns:    deps.AgentRuns,
		logs:         deps.Logs,
		conflicts:    deps.Conflicts,
		activityLogs: deps.ActivityLogs,
		queue:        deps.Queue,
		bus:          deps.Bus,
	}
}

// HandleEvent dispatches an inbound event to its state transition, per the
// taxonomy of spec §4.7. An unrecognized event type is logged as a
// warning and accepted (not failed), so the provider doesn't retry an
// event this reconciler deliberately doesn't implement (spec §9
// propagation policy).
func (r *Reconciler) HandleEvent(ctx context.Context, ev Event) error {
	if ev.BatchID == "" {
		return fmt.Errorf("webhook event %q missing batch_id", ev.Type)
	}

	switch ev.Type {
	case EventTypeLog:
		return r.handleLog(ctx, ev)
	case EventTypePOResolved:
		return r.handlePOResolved(ctx, ev)
	case EventTypeCallbackRequested:
		return r.handleCallbackRequested(ctx, ev)
	case EventTypeEscalation:
		return r.handleEscalation(ctx, ev)
	case EventTypeCallComplete:
		return r.handleCallComplete(ctx, ev)
	default:
		slog.Warn("Webhook reconciler received unknown event type", "type", ev.Type, "batchId", ev.BatchID)
		return nil
	}
}

// poOutcomeStatus maps a PO-level outcome string to its target status, the
// pure decision behind both `log` (with a po_id) and `po_resolved` events.
func poOutcomeStatus(outcome string) (purchaseorder.Status, bool) {
	switch outcome {
	case "success":
		return purchaseorder.StatusCompleted, true
	case "rejected":
		return purchaseorder.StatusFailed, true
	default:
		return "", false
	}
}

// callCompleteStatus maps a call_complete outcome to its terminal (or
// requeue) batch status, per spec §4.7's call_complete mapping.
func callCompleteStatus(outcome string) (batch.Status, bool) {
	switch outcome {
	case "success":
		return batch.StatusCompleted, true
	case "partial":
		return batch.StatusPartial, true
	case "failed":
		return batch.StatusFailed, true
	case "callback":
		return batch.StatusQueued, true
	default:
		return "", false
	}
}

// handleLog appends a BatchLog entry and, if the event carries a po_id
// with a recognized outcome, resolves that PO and checks whether the
// batch has reached completion (spec §4.7 `log`).
func (r *Reconciler) handleLog(ctx context.Context, ev Event) error {
	level := batchlog.LevelInfo
	if ev.Level != "" {
		level = batchlog.Level(ev.Level)
	}
	r.appendLog(ctx, ev.BatchID, batchlog.TypeLog, level, ev.Message, ev.Data)

	if ev.POID == "" {
		return nil
	}
	if _, ok := poOutcomeStatus(ev.POOutcome); !ok {
		return nil
	}

	_, applied, err := r.resolvePO(ctx, ev.POID, ev.POOutcome)
	if err != nil {
		return fmt.Errorf("resolve po %s from log event: %w", ev.POID, err)
	}
	if !applied {
		return nil
	}
	return r.checkBatchCompletion(ctx, ev.BatchID)
}

// handlePOResolved applies the same PO-level transition as handleLog but
// additionally records the prior dueDate in the audit log (spec §4.7
// `po_resolved`).
func (r *Reconciler) handlePOResolved(ctx context.Context, ev Event) error {
	if ev.POID == "" {
		return fmt.Errorf("po_resolved event for batch %s missing po_id", ev.BatchID)
	}

	prior, err := r.pos.FindByID(ctx, ev.POID)
	if errors.Is(err, repository.ErrNotFound) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("load po %s for po_resolved: %w", ev.POID, err)
	}
	priorDueDate := prior.DueDate

	po, applied, err := r.resolvePO(ctx, ev.POID, ev.Outcome)
	if err != nil {
		return fmt.Errorf("resolve po %s from po_resolved event: %w", ev.POID, err)
	}
	if !applied {
		return nil
	}

	r.recordActivity(ctx, activitylog.EntityTypePO, po.ID, "po_resolved", map[string]any{
		"outcome":      ev.Outcome,
		"priorDueDate": priorDueDate,
		"dueDate":      po.DueDate,
	})

	return r.checkBatchCompletion(ctx, ev.BatchID)
}

// resolvePO conditionally advances a PO to the status implied by outcome.
// Returns applied=false without error when the PO is missing, already
// terminal, or the outcome isn't recognized — each is a legitimate no-op
// rather than a failure, preserving idempotence on re-delivery.
func (r *Reconciler) resolvePO(ctx context.Context, poID, outcome string) (*purchaseorder.PurchaseOrder, bool, error) {
	po, err := r.pos.FindByID(ctx, poID)
	if errors.Is(err, repository.ErrNotFound) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	if po.Status.IsTerminal() {
		return po, false, nil
	}

	target, ok := poOutcomeStatus(outcome)
	if !ok {
		return po, false, nil
	}

	expected := po.Status
	applied, err := r.pos.CompareAndUpdateStatus(ctx, po.ID, expected, target, func(p *purchaseorder.PurchaseOrder) {
		if target == purchaseorder.StatusCompleted {
			p.ResolveDate()
		}
	})
	if err != nil {
		return po, false, err
	}
	if !applied {
		return po, false, nil
	}

	po.Status = target
	if target == purchaseorder.StatusCompleted {
		po.ResolveDate()
	}
	return po, true, nil
}

// checkBatchCompletion transitions a batch to COMPLETED once none of its
// POs remain QUEUED or IN_PROGRESS (spec §4.7 `log`/`po_resolved`
// completion check).
func (r *Reconciler) checkBatchCompletion(ctx context.Context, batchID string) error {
	open, err := r.pos.CountOpenForBatch(ctx, batchID)
	if err != nil {
		return fmt.Errorf("count open pos for batch %s: %w", batchID, err)
	}
	if open > 0 {
		return nil
	}

	b, err := r.batches.FindByID(ctx, batchID)
	if errors.Is(err, repository.ErrNotFound) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("load batch %s for completion check: %w", batchID, err)
	}
	if b.Status.IsTerminal() {
		return nil
	}

	now := time.Now()
	expected := b.Status
	ok, err := r.batches.CompareAndSwapStatus(ctx, batchID, expected, batch.StatusCompleted, func(x *batch.SupplierBatch) {
		x.CompletedAt = &now
	})
	if err != nil {
		return fmt.Errorf("complete batch %s: %w", batchID, err)
	}
	if !ok {
		return nil
	}

	if err := r.queue.Complete(ctx, batchID); err != nil {
		slog.Error("Webhook reconciler failed to drop completed batch from processing set", "batchId", batchID, "error", err)
	}
	if err := r.queue.ReleaseSupplier(ctx, b.SupplierID); err != nil {
		slog.Error("Webhook reconciler failed to release supplier on batch completion", "batchId", batchID, "error", err)
	}

	r.appendLog(ctx, batchID, batchlog.TypeStatusChange, batchlog.LevelSuccess, "All POs resolved, batch complete", nil)
	r.publishPipeline(eventbus.EventBatchCompleted, batchID, b.SupplierID, map[string]any{"outcome": "success"})
	return nil
}

// handleCallbackRequested reverts an in-flight batch back to QUEUED with a
// scheduled retry, per spec §4.7 `callback_requested`. Idempotent: a
// redelivered callback_requested only applies if the batch is still
// IN_PROGRESS; once it has already been requeued the CAS is a no-op.
func (r *Reconciler) handleCallbackRequested(ctx context.Context, ev Event) error {
	if ev.ScheduledFor == nil {
		return fmt.Errorf("callback_requested event for batch %s missing scheduled_for", ev.BatchID)
	}
	scheduledFor := *ev.ScheduledFor

	ok, err := r.batches.CompareAndSwapStatus(ctx, ev.BatchID, batch.StatusInProgress, batch.StatusQueued, func(x *batch.SupplierBatch) {
		x.ScheduledFor = &scheduledFor
		x.AttemptCount++
	})
	if err != nil {
		return fmt.Errorf("requeue batch %s for callback: %w", ev.BatchID, err)
	}
	if !ok {
		return nil
	}

	b, err := r.batches.FindByID(ctx, ev.BatchID)
	if err != nil {
		return fmt.Errorf("load batch %s after callback requeue: %w", ev.BatchID, err)
	}

	if err := r.queue.ScheduleCallback(ctx, ev.BatchID, scheduledFor); err != nil {
		return fmt.Errorf("enqueue callback for batch %s: %w", ev.BatchID, err)
	}
	if err := r.queue.ReleaseSupplier(ctx, b.SupplierID); err != nil {
		slog.Error("Webhook reconciler failed to release supplier for callback", "batchId", ev.BatchID, "error", err)
	}

	r.appendLog(ctx, ev.BatchID, batchlog.TypeStatusChange, batchlog.LevelInfo, "Agent requested callback", map[string]any{
		"scheduledFor": scheduledFor,
	})
	r.publishPipeline(eventbus.EventBatchRetry, ev.BatchID, b.SupplierID, map[string]any{"scheduledFor": scheduledFor})
	return nil
}

// handleEscalation records a Conflict (if PO-scoped) and an ActivityLog
// entry, mirrored to the batch's live channel at warning level. It never
// changes batch status (spec §4.7 `escalation`).
func (r *Reconciler) handleEscalation(ctx context.Context, ev Event) error {
	details := map[string]any{"message": ev.Message, "reason": ev.Reason}

	if ev.POID != "" {
		if err := r.conflicts.Insert(ctx, &conflict.Conflict{
			PurchaseOrderID: ev.POID,
			ConflictType:    conflict.TypeEscalation,
			ConflictDetails: details,
		}); err != nil {
			return fmt.Errorf("record escalation conflict for po %s: %w", ev.POID, err)
		}
		r.recordActivity(ctx, activitylog.EntityTypePO, ev.POID, "escalation", details)
	} else {
		r.recordActivity(ctx, activitylog.EntityTypeBatch, ev.BatchID, "escalation", details)
	}

	r.appendLog(ctx, ev.BatchID, batchlog.TypeLog, batchlog.LevelWarn, ev.Message, details)
	return nil
}

// handleCallComplete applies the terminal (or requeue) transition at the
// end of a call attempt, per spec §4.7 `call_complete`. Idempotent: a
// batch already in a terminal status, or already at the event's target
// status, is left untouched.
func (r *Reconciler) handleCallComplete(ctx context.Context, ev Event) error {
	target, ok := callCompleteStatus(ev.Outcome)
	if !ok {
		return fmt.Errorf("call_complete event for batch %s carries unknown outcome %q", ev.BatchID, ev.Outcome)
	}

	b, err := r.batches.FindByID(ctx, ev.BatchID)
	if errors.Is(err, repository.ErrNotFound) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("load batch %s for call_complete: %w", ev.BatchID, err)
	}
	if b.Status.IsTerminal() || b.Status == target {
		return nil
	}

	now := time.Now()
	expected := b.Status
	ok2, err := r.batches.CompareAndSwapStatus(ctx, ev.BatchID, expected, target, func(x *batch.SupplierBatch) {
		if target == batch.StatusQueued {
			x.ScheduledFor = ev.ScheduledFor
		} else {
			x.CompletedAt = &now
		}
	})
	if err != nil {
		return fmt.Errorf("apply call_complete to batch %s: %w", ev.BatchID, err)
	}
	if !ok2 {
		return nil
	}

	if ev.RunID != "" {
		run, err := r.agentRuns.FindByExternalID(ctx, ev.RunID)
		if err != nil {
			slog.Error("Webhook reconciler failed to load agent run", "runId", ev.RunID, "error", err)
		} else if run != nil {
			run.Complete(ev.Outcome, now)
			if err := r.agentRuns.Update(ctx, run); err != nil {
				slog.Error("Webhook reconciler failed to update agent run", "runId", run.ID, "error", err)
			}
		}
	}

	if err := r.queue.Complete(ctx, ev.BatchID); err != nil {
		slog.Error("Webhook reconciler failed to drop batch from processing set", "batchId", ev.BatchID, "error", err)
	}
	if err := r.queue.ReleaseSupplier(ctx, b.SupplierID); err != nil {
		slog.Error("Webhook reconciler failed to release supplier on call_complete", "batchId", ev.BatchID, "error", err)
	}

	if target == batch.StatusQueued {
		if ev.ScheduledFor != nil {
			if err := r.queue.ScheduleCallback(ctx, ev.BatchID, *ev.ScheduledFor); err != nil {
				slog.Error("Webhook reconciler failed to schedule callback from call_complete", "batchId", ev.BatchID, "error", err)
			}
		} else if err := r.queue.Requeue(ctx, ev.BatchID, float64(b.PriorityScore())); err != nil {
			slog.Error("Webhook reconciler failed to requeue batch from call_complete", "batchId", ev.BatchID, "error", err)
		}
		r.publishPipeline(eventbus.EventBatchRetry, ev.BatchID, b.SupplierID, map[string]any{"outcome": ev.Outcome})
	} else {
		r.publishPipeline(eventbus.EventBatchCompleted, ev.BatchID, b.SupplierID, map[string]any{"outcome": ev.Outcome})
	}

	r.appendLog(ctx, ev.BatchID, batchlog.TypeStatusChange, batchlog.LevelInfo, "Call completed", map[string]any{"outcome": ev.Outcome})
	return nil
}

func (r *Reconciler) appendLog(ctx context.Context, batchID string, t batchlog.Type, level batchlog.Level, message string, data map[string]any) {
	entry := &batchlog.BatchLog{BatchID: batchID, Type: t, Level: level, Message: message, Data: data}
	if err := r.logs.Append(ctx, entry); err != nil {
		slog.Error("Webhook reconciler failed to append batch log", "batchId", batchID, "error", err)
		return
	}
	if r.bus == nil {
		return
	}
	if err := r.bus.PublishBatchLog(batchID, eventbus.Envelope{
		Type:    eventbus.EventType(t),
		BatchID: batchID,
		Data:    data,
		TS:      time.Now().UnixMilli(),
	}); err != nil {
		slog.Warn("Webhook reconciler failed to publish batch log event", "batchId", batchID, "error", err)
	}
}

func (r *Reconciler) publishPipeline(eventType eventbus.EventType, batchID, supplierID string, data map[string]any) {
	if r.bus == nil {
		return
	}
	if err := r.bus.PublishPipeline(eventbus.Envelope{
		Type:       eventType,
		BatchID:    batchID,
		SupplierID: supplierID,
		Data:       data,
		TS:         time.Now().UnixMilli(),
	}); err != nil {
		slog.Warn("Webhook reconciler failed to publish pipeline event", "batchId", batchID, "error", err)
	}
}

func (r *Reconciler) recordActivity(ctx context.Context, entityType activitylog.EntityType, entityID, action string, details map[string]any) {
	if r.activityLogs == nil {
		return
	}
	entry := &activitylog.ActivityLog{
		EntityType: entityType,
		EntityID:   entityID,
		Action:     action,
		Details:    details,
	}
	if err := r.activityLogs.Record(ctx, entry); err != nil {
		slog.Error("Webhook reconciler failed to record activity log", "entityId", entityID, "action", action, "error", err)
	}
}
