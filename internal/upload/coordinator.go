package upload

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"go.poresolve.tech/internal/batchbuilder"
	"go.poresolve.tech/internal/domain/classifier"
	"go.poresolve.tech/internal/domain/conflict"
	"go.poresolve.tech/internal/domain/purchaseorder"
	"go.poresolve.tech/internal/domain/supplier"
	"go.poresolve.tech/internal/domain/uploadjob"
	"go.poresolve.tech/internal/eventbus"
)

// Coordinator drives a parsed spreadsheet through the suppliers → pos →
// batches → queuing → complete stages of spec §4.9, publishing progress to
// the job record and the job's SSE subject as it goes.
type Coordinator struct {
	jobs      *uploadjob.Repository
	suppliers *supplier.Repository
	pos       *purchaseorder.Repository
	conflicts *conflict.Repository
	builder   *batchbuilder.Builder
	bus       *eventbus.Bus

	chunkSize int
	// parallelism bounds how many chunks' worth of batch creation run
	// concurrently within the batches stage (spec §4.9 "chunks of ~50 in
	// parallel").
	parallelism int
}

// Deps bundles the repositories and collaborators the coordinator composes.
type Deps struct {
	Jobs      *uploadjob.Repository
	Suppliers *supplier.Repository
	POs       *purchaseorder.Repository
	Conflicts *conflict.Repository
	Builder   *batchbuilder.Builder
	Bus       *eventbus.Bus
}

// New creates an upload job coordinator. chunkSize defaults to 50
// (BATCH_PROCESSING_CHUNK_SIZE) when zero; parallelism defaults to 4.
func New(deps Deps, chunkSize, parallelism int) *Coordinator {
	if chunkSize <= 0 {
		chunkSize = 50
	}
	if parallelism <= 0 {
		parallelism = 4
	}
	return &Coordinator{
		jobs:        deps.Jobs,
		suppliers:   deps.Suppliers,
		pos:         deps.POs,
		conflicts:   deps.Conflicts,
		builder:     deps.Builder,
		bus:         deps.Bus,
		chunkSize:   chunkSize,
		parallelism: parallelism,
	}
}

// Process runs the background portion of an upload job: rows have already
// been parsed and classified is applied here (spec §4.9 says parsing and
// classification happen synchronously in the upload endpoint before the
// background job starts, but classification is pure and cheap enough to
// fold into this single pass without changing observable stage timing).
// Errors are recorded on the job via Fail rather than returned to a caller
// — this runs detached in a goroutine kicked off by the HTTP handler.
func (c *Coordinator) Process(ctx context.Context, jobID string, rows []Row) {
	summary, err := c.run(ctx, jobID, rows)
	if err != nil {
		slog.Error("Upload job failed", "jobId", jobID, "error", err)
		if ferr := c.jobs.Fail(ctx, jobID, err.Error()); ferr != nil {
			slog.Error("Failed to record upload job failure", "jobId", jobID, "error", ferr)
		}
		c.publishProgress(jobID, "error", uploadjob.Progress{Stage: uploadjob.StageComplete, Message: err.Error()})
		return
	}

	if cerr := c.jobs.Complete(ctx, jobID, summary); cerr != nil {
		slog.Error("Failed to record upload job completion", "jobId", jobID, "error", cerr)
	}
	c.publishProgress(jobID, "complete", uploadjob.Progress{Stage: uploadjob.StageComplete, Current: 1, Total: 1})
}

func (c *Coordinator) run(ctx context.Context, jobID string, rows []Row) (uploadjob.ResultSummary, error) {
	var summary uploadjob.ResultSummary

	supplierIDs, err := c.resolveSuppliers(ctx, jobID, rows)
	if err != nil {
		return summary, fmt.Errorf("resolve suppliers: %w", err)
	}
	summary.SuppliersCreated = len(supplierIDs)

	pos, posSummary, err := c.resolvePOs(ctx, jobID, rows, supplierIDs)
	if err != nil {
		return summary, fmt.Errorf("resolve pos: %w", err)
	}
	summary.POsCreated = posSummary.POsCreated
	summary.POsUpdated = posSummary.POsUpdated
	summary.ConflictsFound = posSummary.ConflictsFound
	summary.RowsSkipped = posSummary.RowsSkipped

	created, err := c.buildBatches(ctx, jobID, pos)
	if err != nil {
		return summary, fmt.Errorf("build batches: %w", err)
	}
	summary.BatchesCreated = created

	return summary, nil
}

// resolveSuppliers implements the `suppliers` stage: upsert every distinct
// supplier referenced by the upload, keyed by supplierNumber.
func (c *Coordinator) resolveSuppliers(ctx context.Context, jobID string, rows []Row) (map[string]string, error) {
	c.reportStage(ctx, jobID, uploadjob.StageSuppliers, 0, len(rows), "")

	seen := make(map[string]string)
	var processed int
	for _, r := range rows {
		if r.SupplierNumber == "" {
			continue
		}
		if _, ok := seen[r.SupplierNumber]; ok {
			processed++
			continue
		}

		s := &supplier.Supplier{
			SupplierNumber: r.SupplierNumber,
			Name:           r.SupplierName,
			Phone:          r.Phone,
			Email:          r.Email,
			Facility:       r.Facility,
			Active:         true,
		}
		if err := c.suppliers.Upsert(ctx, s); err != nil {
			return nil, fmt.Errorf("upsert supplier %s: %w", r.SupplierNumber, err)
		}
		seen[r.SupplierNumber] = s.ID
		processed++

		if processed%25 == 0 {
			c.reportStage(ctx, jobID, uploadjob.StageSuppliers, processed, len(rows), "")
		}
	}
	c.reportStage(ctx, jobID, uploadjob.StageSuppliers, len(rows), len(rows), "")
	return seen, nil
}

type poSummary struct {
	POsCreated     int
	POsUpdated     int
	ConflictsFound int
	RowsSkipped    int
}

// resolvePOs implements the `pos` stage: classify every row, build or
// re-classify its PurchaseOrder, and record a Conflict when a re-upload's
// sensitive fields differ from the stored copy (spec §4.5).
func (c *Coordinator) resolvePOs(ctx context.Context, jobID string, rows []Row, supplierIDs map[string]string) ([]*purchaseorder.PurchaseOrder, poSummary, error) {
	c.reportStage(ctx, jobID, uploadjob.StagePOs, 0, len(rows), "")

	var summary poSummary
	candidates := make([]*purchaseorder.PurchaseOrder, 0, len(rows))
	newRows := make(map[string]Row, len(rows))

	for _, r := range rows {
		classification, ok := classifier.Classify(classifier.Row{
			DueDate:         r.DueDate,
			RecommendedDate: r.RecommendedDate,
		})
		if !ok {
			summary.RowsSkipped++
			continue
		}

		externalID := purchaseorder.ExternalIDOf(r.PONumber, r.POLine)
		po := &purchaseorder.PurchaseOrder{
			ExternalID:           externalID,
			PONumber:             r.PONumber,
			POLine:               r.POLine,
			SupplierID:           supplierIDs[r.SupplierNumber],
			ActionType:           classification.ActionType,
			Status:               purchaseorder.StatusPending,
			DueDate:              r.DueDate,
			RecommendedDate:      r.RecommendedDate,
			CalculatedTotalValue: r.TotalValue,
		}
		candidates = append(candidates, po)
		newRows[externalID] = r
	}

	bulkResult, err := c.pos.BulkInsertSkipDuplicates(ctx, candidates)
	if err != nil {
		return nil, summary, fmt.Errorf("bulk insert pos: %w", err)
	}
	summary.POsCreated = bulkResult.Inserted

	resolved := make([]*purchaseorder.PurchaseOrder, 0, len(candidates))
	for _, po := range candidates {
		if po.ID != "" {
			resolved = append(resolved, po)
		}
	}

	for _, existing := range bulkResult.Existing {
		r, ok := newRows[existing.ExternalID]
		if !ok {
			continue
		}

		priorDueDate := existing.DueDate
		priorRecommended := existing.RecommendedDate
		priorValue := existing.CalculatedTotalValue

		existing.DueDate = r.DueDate
		existing.RecommendedDate = r.RecommendedDate
		existing.CalculatedTotalValue = r.TotalValue
		existing.SupplierID = supplierIDs[r.SupplierNumber]

		classification, ok := classifier.Classify(classifier.Row{
			DueDate:         r.DueDate,
			RecommendedDate: r.RecommendedDate,
		})
		if !ok {
			summary.RowsSkipped++
			continue
		}
		existing.ActionType = classification.ActionType

		if existing.FieldsDiffer(&priorDueDate, priorRecommended, priorValue) {
			if err := c.conflicts.Insert(ctx, &conflict.Conflict{
				PurchaseOrderID: existing.ID,
				ConflictType:    diffConflictType(priorDueDate, r.DueDate, priorRecommended, r.RecommendedDate),
				ConflictDetails: map[string]any{
					"priorDueDate":         priorDueDate,
					"dueDate":              r.DueDate,
					"priorRecommendedDate": priorRecommended,
					"recommendedDate":      r.RecommendedDate,
					"priorValue":           priorValue.Float64(),
					"value":                r.TotalValue.Float64(),
				},
			}); err != nil {
				return nil, summary, fmt.Errorf("record conflict for po %s: %w", existing.ID, err)
			}
			summary.ConflictsFound++
		}

		if err := c.pos.Update(ctx, existing); err != nil {
			return nil, summary, fmt.Errorf("update re-uploaded po %s: %w", existing.ID, err)
		}
		if err := c.pos.ClearBatchLink(ctx, existing.ID); err != nil {
			return nil, summary, fmt.Errorf("clear batch link for re-uploaded po %s: %w", existing.ID, err)
		}
		summary.POsUpdated++
		resolved = append(resolved, existing)
	}

	c.reportStage(ctx, jobID, uploadjob.StagePOs, len(rows), len(rows), "")
	return resolved, summary, nil
}

// diffConflictType picks the most specific conflict type for a re-upload
// diff: a value change is reported distinctly from a date change, and a
// due-date change takes precedence over a recommended-date-only change
// when both occurred, matching the Conflict entity's single-type shape.
func diffConflictType(priorDue, due time.Time, priorRec, rec *time.Time) conflict.Type {
	if !priorDue.Equal(due) {
		return conflict.TypeDueDateChanged
	}
	if (priorRec == nil) != (rec == nil) || (priorRec != nil && rec != nil && !priorRec.Equal(*rec)) {
		return conflict.TypeRecommendedDateChanged
	}
	return conflict.TypeValueChanged
}

// buildBatches implements the `batches`/`queuing` stages: split the
// resolved POs into chunks of chunkSize and run the batch builder over
// each chunk, up to parallelism chunks concurrently (spec §4.9).
func (c *Coordinator) buildBatches(ctx context.Context, jobID string, pos []*purchaseorder.PurchaseOrder) (int, error) {
	if len(pos) == 0 {
		c.reportStage(ctx, jobID, uploadjob.StageBatches, 0, 0, "")
		c.reportStage(ctx, jobID, uploadjob.StageQueuing, 0, 0, "")
		return 0, nil
	}

	var chunks [][]*purchaseorder.PurchaseOrder
	for start := 0; start < len(pos); start += c.chunkSize {
		end := start + c.chunkSize
		if end > len(pos) {
			end = len(pos)
		}
		chunks = append(chunks, pos[start:end])
	}

	c.reportStage(ctx, jobID, uploadjob.StageBatches, 0, len(chunks), "")

	var (
		mu        sync.Mutex
		created   int
		firstErr  error
		processed int
		sem       = make(chan struct{}, c.parallelism)
		wg        sync.WaitGroup
	)

	for _, chunk := range chunks {
		chunk := chunk
		wg.Add(1)
		sem <- struct{}{}
		go func() {
			defer wg.Done()
			defer func() { <-sem }()

			result, err := c.builder.Build(ctx, chunk)

			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				if firstErr == nil {
					firstErr = err
				}
				return
			}
			created += len(result.Created)
			processed++
			c.reportStage(ctx, jobID, uploadjob.StageBatches, processed, len(chunks), "")
		}()
	}
	wg.Wait()

	if firstErr != nil {
		return created, firstErr
	}

	c.reportStage(ctx, jobID, uploadjob.StageQueuing, len(chunks), len(chunks), "")
	return created, nil
}

func (c *Coordinator) reportStage(ctx context.Context, jobID string, stage uploadjob.Stage, current, total int, message string) {
	progress := uploadjob.Progress{Stage: stage, Current: current, Total: total, Message: message}
	if err := c.jobs.UpdateProgress(ctx, jobID, progress); err != nil {
		slog.Error("Failed to persist upload job progress", "jobId", jobID, "stage", stage, "error", err)
	}
	c.publishProgress(jobID, "progress", progress)
}

func (c *Coordinator) publishProgress(jobID, eventType string, progress uploadjob.Progress) {
	if c.bus == nil {
		return
	}
	err := c.bus.PublishUploadProgress(jobID, eventbus.Envelope{
		Type:    eventbus.EventType(eventType),
		BatchID: jobID,
		Data: map[string]any{
			"stage":   progress.Stage,
			"current": progress.Current,
			"total":   progress.Total,
			"message": progress.Message,
		},
		TS: time.Now().UnixMilli(),
	})
	if err != nil {
		slog.Warn("Failed to publish upload progress event", "jobId", jobID, "error", err)
	}
}
