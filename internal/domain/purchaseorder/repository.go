package purchaseorder

import (
	"context"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"go.poresolve.tech/internal/common/repository"
	"go.poresolve.tech/internal/common/tsid"
)

// Repository persists purchase orders.
type Repository struct {
	collection *mongo.Collection
}

// NewRepository creates a purchase order repository over the given database.
func NewRepository(db *mongo.Database) *Repository {
	return &Repository{collection: db.Collection("purchase_orders")}
}

// FindByExternalID finds a PO by its reload-stable externalId.
func (r *Repository) FindByExternalID(ctx context.Context, externalID string) (*PurchaseOrder, error) {
	return repository.Instrument(ctx, "purchase_orders", "find_by_external_id", func() (*PurchaseOrder, error) {
		var po PurchaseOrder
		err := r.collection.FindOne(ctx, bson.M{"externalId": externalID}).Decode(&po)
		if err == mongo.ErrNoDocuments {
			return nil, nil
		}
		if err != nil {
			return nil, err
		}
		return &po, nil
	})
}

// FindByID finds a PO by internal ID.
func (r *Repository) FindByID(ctx context.Context, id string) (*PurchaseOrder, error) {
	return repository.Instrument(ctx, "purchase_orders", "find_by_id", func() (*PurchaseOrder, error) {
		var po PurchaseOrder
		err := r.collection.FindOne(ctx, bson.M{"_id": id}).Decode(&po)
		if err == mongo.ErrNoDocuments {
			return nil, repository.ErrNotFound
		}
		if err != nil {
			return nil, err
		}
		return &po, nil
	})
}

// FindByBatchID returns every PO currently linked to a batch.
func (r *Repository) FindByBatchID(ctx context.Context, batchID string) ([]*PurchaseOrder, error) {
	return repository.Instrument(ctx, "purchase_orders", "find_by_batch_id", func() ([]*PurchaseOrder, error) {
		cursor, err := r.collection.Find(ctx, bson.M{"batchId": batchID})
		if err != nil {
			return nil, err
		}
		defer cursor.Close(ctx)

		var pos []*PurchaseOrder
		if err := cursor.All(ctx, &pos); err != nil {
			return nil, err
		}
		return pos, nil
	})
}

// Insert creates a new PO row, assigning ID and timestamps.
func (r *Repository) Insert(ctx context.Context, po *PurchaseOrder) error {
	return repository.InstrumentVoid(ctx, "purchase_orders", "insert", func() error {
		po.ID = tsid.Generate()
		now := time.Now()
		po.CreatedAt = now
		po.UpdatedAt = now
		_, err := r.collection.InsertOne(ctx, po)
		return err
	})
}

// Update persists the full PO document (used by re-upload and reconciler
// transitions that touch several fields at once).
func (r *Repository) Update(ctx context.Context, po *PurchaseOrder) error {
	return repository.InstrumentVoid(ctx, "purchase_orders", "update", func() error {
		po.UpdatedAt = time.Now()
		_, err := r.collection.UpdateByID(ctx, po.ID, bson.M{"$set": po})
		return err
	})
}

// ClearBatchLink unsets batchId and resets status to QUEUED, the
// re-upload path's "joins a new batch" step (spec §4.5).
func (r *Repository) ClearBatchLink(ctx context.Context, id string) error {
	return repository.InstrumentVoid(ctx, "purchase_orders", "clear_batch_link", func() error {
		_, err := r.collection.UpdateByID(ctx, id, bson.M{
			"$set":   bson.M{"status": StatusQueued, "updatedAt": time.Now()},
			"$unset": bson.M{"batchId": ""},
		})
		return err
	})
}

// LinkUnassignedToBatch atomically links every externalId currently
// unbatched (batchId IS NULL) into the given batch, per the Durable
// Store's "create batch and atomically link a set of unassigned POs"
// requirement. Returns the number of POs actually linked; callers must
// abandon the batch if this is zero (spec §4.5 step 5).
func (r *Repository) LinkUnassignedToBatch(ctx context.Context, batchID string, externalIDs []string) (int64, error) {
	return repository.Instrument(ctx, "purchase_orders", "link_unassigned_to_batch", func() (int64, error) {
		filter := bson.M{
			"externalId": bson.M{"$in": externalIDs},
			"batchId":    bson.M{"$exists": false},
		}
		update := bson.M{"$set": bson.M{
			"batchId":   batchID,
			"status":    StatusQueued,
			"updatedAt": time.Now(),
		}}
		result, err := r.collection.UpdateMany(ctx, filter, update)
		if err != nil {
			return 0, err
		}
		return result.ModifiedCount, nil
	})
}

// TransitionStatusForBatch conditionally advances every PO in `fromStatuses`
// that belongs to the batch into `to`, mirroring the Dispatcher's
// transactional "set batch + member POs to IN_PROGRESS" step (spec §4.6
// step 6). Uses an expected-status filter so it is safe to call
// concurrently with a reconciler update on an individual PO.
func (r *Repository) TransitionStatusForBatch(ctx context.Context, batchID string, fromStatuses []Status, to Status) (int64, error) {
	return repository.Instrument(ctx, "purchase_orders", "transition_status_for_batch", func() (int64, error) {
		filter := bson.M{
			"batchId": batchID,
			"status":  bson.M{"$in": fromStatuses},
		}
		update := bson.M{"$set": bson.M{"status": to, "updatedAt": time.Now()}}
		result, err := r.collection.UpdateMany(ctx, filter, update)
		if err != nil {
			return 0, err
		}
		return result.ModifiedCount, nil
	})
}

// CountOpenForBatch counts POs linked to the batch still in QUEUED or
// IN_PROGRESS, used by the reconciler to decide whether a batch has
// reached terminal completion (spec §4.7).
func (r *Repository) CountOpenForBatch(ctx context.Context, batchID string) (int64, error) {
	return repository.Instrument(ctx, "purchase_orders", "count_open_for_batch", func() (int64, error) {
		return r.collection.CountDocuments(ctx, bson.M{
			"batchId": batchID,
			"status":  bson.M{"$in": []Status{StatusQueued, StatusInProgress}},
		})
	})
}

// CompareAndUpdateStatus conditionally sets a PO's status, only applying
// if the persisted status currently equals `expected`. Returns false
// (no error) if the expected status didn't match, making reconciler
// transitions idempotent on webhook re-delivery (spec §4.7, §9).
func (r *Repository) CompareAndUpdateStatus(ctx context.Context, id string, expected, to Status, mutate func(po *PurchaseOrder)) (bool, error) {
	return repository.Instrument(ctx, "purchase_orders", "compare_and_update_status", func() (bool, error) {
		var po PurchaseOrder
		err := r.collection.FindOne(ctx, bson.M{"_id": id, "status": expected}).Decode(&po)
		if err == mongo.ErrNoDocuments {
			return false, nil
		}
		if err != nil {
			return false, err
		}

		po.Status = to
		if mutate != nil {
			mutate(&po)
		}
		po.UpdatedAt = time.Now()

		result, err := r.collection.UpdateOne(ctx,
			bson.M{"_id": id, "status": expected},
			bson.M{"$set": po},
		)
		if err != nil {
			return false, err
		}
		return result.ModifiedCount == 1, nil
	})
}

// BulkUpsertResult reports per-row outcomes of a bulk insert.
type BulkUpsertResult struct {
	Inserted int
	Existing []*PurchaseOrder
}

// BulkInsertSkipDuplicates inserts every PO whose externalId isn't
// already present, returning the existing rows for externalIds that were
// skipped so the caller can drive re-upload reclassification (spec §4.1,
// §4.5).
func (r *Repository) BulkInsertSkipDuplicates(ctx context.Context, pos []*PurchaseOrder) (BulkUpsertResult, error) {
	return repository.Instrument(ctx, "purchase_orders", "bulk_insert_skip_duplicates", func() (BulkUpsertResult, error) {
		var result BulkUpsertResult

		externalIDs := make([]string, len(pos))
		for i, po := range pos {
			externalIDs[i] = po.ExternalID
		}

		cursor, err := r.collection.Find(ctx, bson.M{"externalId": bson.M{"$in": externalIDs}})
		if err != nil {
			return result, err
		}
		var existing []*PurchaseOrder
		if err := cursor.All(ctx, &existing); err != nil {
			return result, err
		}
		cursor.Close(ctx)

		existingByExternalID := make(map[string]*PurchaseOrder, len(existing))
		for _, e := range existing {
			existingByExternalID[e.ExternalID] = e
		}

		var toInsert []interface{}
		now := time.Now()
		for _, po := range pos {
			if _, found := existingByExternalID[po.ExternalID]; found {
				result.Existing = append(result.Existing, existingByExternalID[po.ExternalID])
				continue
			}
			po.ID = tsid.Generate()
			po.CreatedAt = now
			po.UpdatedAt = now
			toInsert = append(toInsert, po)
		}

		if len(toInsert) > 0 {
			insertResult, err := r.collection.InsertMany(ctx, toInsert, options.InsertMany().SetOrdered(false))
			if err != nil {
				return result, err
			}
			result.Inserted = len(insertResult.InsertedIDs)
		}

		return result, nil
	})
}

// Clear deletes every purchase order row, for the operator /reset
// endpoint (spec §6 "clears queues and batch/conflict/PO/supplier tables").
func (r *Repository) Clear(ctx context.Context) error {
	return repository.InstrumentVoid(ctx, "purchase_orders", "clear", func() error {
		_, err := r.collection.DeleteMany(ctx, bson.M{})
		return err
	})
}

// ListFilter filters the PO listing, used by batch detail views.
type ListFilter struct {
	SupplierID string
	Status     Status
}
