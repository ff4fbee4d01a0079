package batch

import (
	"context"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"go.poresolve.tech/internal/common/repository"
	"go.poresolve.tech/internal/common/tsid"
)

// Repository persists supplier batches.
type Repository struct {
	collection *mongo.Collection
}

// NewRepository creates a batch repository over the given database.
func NewRepository(db *mongo.Database) *Repository {
	return &Repository{collection: db.Collection("supplier_batches")}
}

// Insert creates a new batch row, assigning ID and timestamps.
func (r *Repository) Insert(ctx context.Context, b *SupplierBatch) error {
	return repository.InstrumentVoid(ctx, "supplier_batches", "insert", func() error {
		b.ID = tsid.Generate()
		now := time.Now()
		b.CreatedAt = now
		b.UpdatedAt = now
		if b.MaxAttempts == 0 {
			b.MaxAttempts = DefaultMaxAttempts
		}
		_, err := r.collection.InsertOne(ctx, b)
		return err
	})
}

// FindByID finds a batch by internal ID.
func (r *Repository) FindByID(ctx context.Context, id string) (*SupplierBatch, error) {
	return repository.Instrument(ctx, "supplier_batches", "find_by_id", func() (*SupplierBatch, error) {
		var b SupplierBatch
		err := r.collection.FindOne(ctx, bson.M{"_id": id}).Decode(&b)
		if err == mongo.ErrNoDocuments {
			return nil, repository.ErrNotFound
		}
		if err != nil {
			return nil, err
		}
		return &b, nil
	})
}

// Update persists the full batch document.
func (r *Repository) Update(ctx context.Context, b *SupplierBatch) error {
	return repository.InstrumentVoid(ctx, "supplier_batches", "update", func() error {
		b.UpdatedAt = time.Now()
		_, err := r.collection.UpdateByID(ctx, b.ID, bson.M{"$set": b})
		return err
	})
}

// Delete removes a batch row outright. Used to abandon a proposed batch
// when its PO linkage affects zero rows (spec §4.5 step 5: "if the link
// affected zero POs, the batch is abandoned (not created)").
func (r *Repository) Delete(ctx context.Context, id string) error {
	return repository.InstrumentVoid(ctx, "supplier_batches", "delete", func() error {
		_, err := r.collection.DeleteOne(ctx, bson.M{"_id": id})
		return err
	})
}

// CompareAndSwapStatus conditionally transitions status only if the
// persisted status currently equals `expected`, per spec §9's optimistic
// concurrency requirement ("UPDATE … WHERE id = ? AND status = expected").
// Returns false (no error) on a lost race.
func (r *Repository) CompareAndSwapStatus(ctx context.Context, id string, expected, to Status, mutate func(b *SupplierBatch)) (bool, error) {
	return repository.Instrument(ctx, "supplier_batches", "compare_and_swap_status", func() (bool, error) {
		var b SupplierBatch
		err := r.collection.FindOne(ctx, bson.M{"_id": id, "status": expected}).Decode(&b)
		if err == mongo.ErrNoDocuments {
			return false, nil
		}
		if err != nil {
			return false, err
		}

		b.Status = to
		if mutate != nil {
			mutate(&b)
		}
		b.UpdatedAt = time.Now()

		result, err := r.collection.UpdateOne(ctx,
			bson.M{"_id": id, "status": expected},
			bson.M{"$set": b},
		)
		if err != nil {
			return false, err
		}
		return result.ModifiedCount == 1, nil
	})
}

// ListFilter filters/paginates/sorts the batch listing (spec §4.10, §6).
type ListFilter struct {
	Status     Status
	ActionType string
	Search     string
	Page       int
	Limit      int
	Sort       string
	Order      string
}

// ListPage returns a page of batches matching the filter plus the total
// matching count. Search matches against the batch's own externalId or
// id, since the batch row doesn't embed a supplier name to search against
// directly; callers wanting to search by supplier name should resolve the
// supplier id via supplier.Repository.Search first.
func (r *Repository) ListPage(ctx context.Context, filter ListFilter) ([]*SupplierBatch, int64, error) {
	type page struct {
		batches []*SupplierBatch
		total   int64
	}

	result, err := repository.Instrument(ctx, "supplier_batches", "list_page", func() (page, error) {
		query := bson.M{}
		if filter.Status != "" {
			query["status"] = filter.Status
		}
		if filter.ActionType != "" {
			query["actionTypes"] = filter.ActionType
		}
		if filter.Search != "" {
			query["$or"] = bson.A{
				bson.M{"externalId": bson.M{"$regex": filter.Search, "$options": "i"}},
				bson.M{"_id": bson.M{"$regex": filter.Search, "$options": "i"}},
			}
		}

		sortField := "createdAt"
		switch filter.Sort {
		case "totalValue", "priority", "createdAt":
			sortField = filter.Sort
		}
		sortDir := -1
		if filter.Order == "asc" {
			sortDir = 1
		}

		limit := int64(filter.Limit)
		if limit <= 0 || limit > 100 {
			limit = 20
		}
		skip := int64(0)
		if filter.Page > 0 {
			skip = int64(filter.Page) * limit
		}

		opts := options.Find().
			SetSort(bson.D{{Key: sortField, Value: sortDir}}).
			SetSkip(skip).
			SetLimit(limit)

		cursor, err := r.collection.Find(ctx, query, opts)
		if err != nil {
			return page{}, err
		}
		defer cursor.Close(ctx)

		var batches []*SupplierBatch
		if err := cursor.All(ctx, &batches); err != nil {
			return page{}, err
		}

		total, err := r.collection.CountDocuments(ctx, query)
		if err != nil {
			return page{}, err
		}

		return page{batches: batches, total: total}, nil
	})
	if err != nil {
		return nil, 0, err
	}
	return result.batches, result.total, nil
}

// StatsByStatus aggregates batch counts and summed value grouped by
// status, per the Stats & Query API (spec §4.10).
type StatusStat struct {
	Status     Status      `bson:"_id" json:"status"`
	Count      int64       `bson:"count" json:"count"`
	TotalValue int64       `bson:"totalValue" json:"totalValue"`
}

func (r *Repository) StatsByStatus(ctx context.Context) ([]StatusStat, error) {
	return repository.Instrument(ctx, "supplier_batches", "stats_by_status", func() ([]StatusStat, error) {
		pipeline := mongo.Pipeline{
			bson.D{{Key: "$group", Value: bson.D{
				{Key: "_id", Value: "$status"},
				{Key: "count", Value: bson.D{{Key: "$sum", Value: 1}}},
				{Key: "totalValue", Value: bson.D{{Key: "$sum", Value: "$totalValue"}}},
			}}},
		}
		cursor, err := r.collection.Aggregate(ctx, pipeline)
		if err != nil {
			return nil, err
		}
		defer cursor.Close(ctx)

		var stats []StatusStat
		if err := cursor.All(ctx, &stats); err != nil {
			return nil, err
		}
		return stats, nil
	})
}

// ListBySupplier returns every batch belonging to a supplier, most recent
// first, for the supplier detail view (spec §6 `GET /suppliers/{id}`).
func (r *Repository) ListBySupplier(ctx context.Context, supplierID string, limit int64) ([]*SupplierBatch, error) {
	return repository.Instrument(ctx, "supplier_batches", "list_by_supplier", func() ([]*SupplierBatch, error) {
		opts := options.Find().SetSort(bson.D{{Key: "createdAt", Value: -1}})
		if limit > 0 {
			opts.SetLimit(limit)
		}
		cursor, err := r.collection.Find(ctx, bson.M{"supplierId": supplierID}, opts)
		if err != nil {
			return nil, err
		}
		defer cursor.Close(ctx)

		var batches []*SupplierBatch
		if err := cursor.All(ctx, &batches); err != nil {
			return nil, err
		}
		return batches, nil
	})
}

// Clear deletes every batch row, for the operator /reset endpoint (spec
// §6 "clears queues and batch/conflict/PO/supplier tables").
func (r *Repository) Clear(ctx context.Context) error {
	return repository.InstrumentVoid(ctx, "supplier_batches", "clear", func() error {
		_, err := r.collection.DeleteMany(ctx, bson.M{})
		return err
	})
}

// FindStaleProcessing finds batches that have sat IN_PROGRESS longer than
// threshold, grounded on the stale-recovery sweep (SPEC_FULL §3).
func (r *Repository) FindStaleProcessing(ctx context.Context, threshold time.Duration) ([]*SupplierBatch, error) {
	return repository.Instrument(ctx, "supplier_batches", "find_stale_processing", func() ([]*SupplierBatch, error) {
		cutoff := time.Now().Add(-threshold)
		cursor, err := r.collection.Find(ctx, bson.M{
			"status":    StatusInProgress,
			"updatedAt": bson.M{"$lt": cutoff},
		})
		if err != nil {
			return nil, err
		}
		defer cursor.Close(ctx)

		var batches []*SupplierBatch
		if err := cursor.All(ctx, &batches); err != nil {
			return nil, err
		}
		return batches, nil
	})
}
