// Package batchbuilder groups classified purchase orders by supplier into
// SupplierBatch rows, persists and links them, and pushes them onto the
// primary queue. It implements the six-step algorithm of spec §4.5.
package batchbuilder

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"go.poresolve.tech/internal/domain/batch"
	"go.poresolve.tech/internal/domain/classifier"
	"go.poresolve.tech/internal/domain/money"
	"go.poresolve.tech/internal/domain/purchaseorder"
	"go.poresolve.tech/internal/eventbus"
	"go.poresolve.tech/internal/queuestore"
)

// Builder owns the dependencies needed to turn classified POs into queued
// batches: the PO and batch repositories, the queue store, and the event
// bus for the batch_queued pipeline event.
type Builder struct {
	poRepo         *purchaseorder.Repository
	batchRepo      *batch.Repository
	queue          *queuestore.Store
	bus            *eventbus.Bus
	maxPOsPerBatch int
}

// New creates a batch builder. maxPOsPerBatch defaults to
// batch.MaxPOsPerBatch when zero.
func New(poRepo *purchaseorder.Repository, batchRepo *batch.Repository, queue *queuestore.Store, bus *eventbus.Bus, maxPOsPerBatch int) *Builder {
	if maxPOsPerBatch <= 0 {
		maxPOsPerBatch = batch.MaxPOsPerBatch
	}
	return &Builder{
		poRepo:         poRepo,
		batchRepo:      batchRepo,
		queue:          queue,
		bus:            bus,
		maxPOsPerBatch: maxPOsPerBatch,
	}
}

// Result reports how many batches were created vs. abandoned.
type Result struct {
	Created   []*batch.SupplierBatch
	Abandoned int
}

// Build groups pos by supplier, splits each supplier's POs into windows of
// at most maxPOsPerBatch, creates and links a SupplierBatch row per window
// (highest-value batches first), and enqueues each created batch.
func (b *Builder) Build(ctx context.Context, pos []*purchaseorder.PurchaseOrder) (Result, error) {
	proposals := b.propose(pos)

	// Step 4: sort all proposed batches by totalValue descending so
	// highest-value batches are created (and therefore reach the queue)
	// first.
	sort.SliceStable(proposals, func(i, j int) bool {
		return proposals[i].totalValue > proposals[j].totalValue
	})

	var result Result
	for _, p := range proposals {
		created, err := b.createAndLink(ctx, p)
		if err != nil {
			return result, err
		}
		if created == nil {
			result.Abandoned++
			continue
		}
		result.Created = append(result.Created, created)

		if err := b.enqueue(ctx, created); err != nil {
			return result, err
		}
	}
	return result, nil
}

// proposedBatch is a not-yet-persisted candidate batch definition.
type proposedBatch struct {
	supplierID  string
	pos         []*purchaseorder.PurchaseOrder
	actionTypes []classifier.ActionType
	totalValue  money.Cents
}

// propose implements steps 1-3: group by supplier, sort each supplier's
// POs by value descending, split into windows of at most maxPOsPerBatch.
func (b *Builder) propose(pos []*purchaseorder.PurchaseOrder) []*proposedBatch {
	bySupplier := make(map[string][]*purchaseorder.PurchaseOrder)
	var order []string
	for _, po := range pos {
		if _, seen := bySupplier[po.SupplierID]; !seen {
			order = append(order, po.SupplierID)
		}
		bySupplier[po.SupplierID] = append(bySupplier[po.SupplierID], po)
	}

	var proposals []*proposedBatch
	for _, supplierID := range order {
		group := bySupplier[supplierID]
		sort.SliceStable(group, func(i, j int) bool {
			return group[i].CalculatedTotalValue > group[j].CalculatedTotalValue
		})

		for start := 0; start < len(group); start += b.maxPOsPerBatch {
			end := start + b.maxPOsPerBatch
			if end > len(group) {
				end = len(group)
			}
			window := group[start:end]

			var total money.Cents
			var rawTypes []classifier.ActionType
			for _, po := range window {
				total += po.CalculatedTotalValue
				rawTypes = append(rawTypes, po.ActionType)
			}
			actionTypes := batch.ActionTypeSet(rawTypes)

			proposals = append(proposals, &proposedBatch{
				supplierID:  supplierID,
				pos:         window,
				actionTypes: actionTypes,
				totalValue:  total,
			})
		}
	}
	return proposals
}

// createAndLink implements step 5: create the batch row, then atomically
// link its member POs; abandon (delete) the row if linkage affects zero
// POs, since every proposed member may have been claimed by a concurrent
// upload in the interim.
func (b *Builder) createAndLink(ctx context.Context, p *proposedBatch) (*batch.SupplierBatch, error) {
	newBatch := &batch.SupplierBatch{
		SupplierID:  p.supplierID,
		Status:      batch.StatusQueued,
		ActionTypes: p.actionTypes,
		TotalValue:  p.totalValue,
		POCount:     len(p.pos),
		Priority:    int64(p.totalValue.Negate()),
	}
	if err := b.batchRepo.Insert(ctx, newBatch); err != nil {
		return nil, fmt.Errorf("insert proposed batch for supplier %s: %w", p.supplierID, err)
	}

	externalIDs := make([]string, len(p.pos))
	for i, po := range p.pos {
		externalIDs[i] = po.ExternalID
	}

	linked, err := b.poRepo.LinkUnassignedToBatch(ctx, newBatch.ID, externalIDs)
	if err != nil {
		return nil, fmt.Errorf("link POs to batch %s: %w", newBatch.ID, err)
	}
	if linked == 0 {
		slog.Info("Abandoning proposed batch: no unassigned POs to link",
			"batchId", newBatch.ID, "supplierId", p.supplierID)
		if err := b.batchRepo.Delete(ctx, newBatch.ID); err != nil {
			return nil, fmt.Errorf("delete abandoned batch %s: %w", newBatch.ID, err)
		}
		return nil, nil
	}

	newBatch.POCount = int(linked)
	return newBatch, nil
}

// enqueue implements step 6: push the batch onto the primary queue and
// publish a batch_queued pipeline event.
func (b *Builder) enqueue(ctx context.Context, created *batch.SupplierBatch) error {
	if err := b.queue.Enqueue(ctx, created.ID, float64(created.Priority)); err != nil {
		return fmt.Errorf("enqueue batch %s: %w", created.ID, err)
	}

	if b.bus == nil {
		return nil
	}
	err := b.bus.PublishPipeline(eventbus.Envelope{
		Type:       eventbus.EventBatchQueued,
		BatchID:    created.ID,
		SupplierID: created.SupplierID,
		Data: map[string]any{
			"totalValue":  created.TotalValue.Float64(),
			"poCount":     created.POCount,
			"actionTypes": created.ActionTypes,
		},
		TS: time.Now().UnixMilli(),
	})
	if err != nil {
		slog.Warn("Failed to publish batch_queued event", "batchId", created.ID, "error", err)
	}
	return nil
}
