package supplier

import (
	"context"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"go.poresolve.tech/internal/common/repository"
	"go.poresolve.tech/internal/common/tsid"
)

// Repository persists suppliers.
type Repository struct {
	collection *mongo.Collection
}

// NewRepository creates a supplier repository over the given database.
func NewRepository(db *mongo.Database) *Repository {
	return &Repository{collection: db.Collection("suppliers")}
}

// Upsert inserts or updates a supplier keyed by SupplierNumber, per the
// Durable Store's "upsert supplier by supplierNumber" requirement.
func (r *Repository) Upsert(ctx context.Context, s *Supplier) error {
	return repository.InstrumentVoid(ctx, "suppliers", "upsert", func() error {
		now := time.Now()
		s.UpdatedAt = now

		filter := bson.M{"supplierNumber": s.SupplierNumber}
		update := bson.M{
			"$set": bson.M{
				"name":      s.Name,
				"phone":     s.Phone,
				"email":     s.Email,
				"facility":  s.Facility,
				"active":    s.Active,
				"updatedAt": now,
			},
			"$setOnInsert": bson.M{
				"_id":            tsid.Generate(),
				"supplierNumber": s.SupplierNumber,
				"createdAt":      now,
			},
		}

		opts := options.Update().SetUpsert(true)
		result, err := r.collection.UpdateOne(ctx, filter, update, opts)
		if err != nil {
			return err
		}

		if result.UpsertedID != nil {
			s.ID = result.UpsertedID.(string)
			s.CreatedAt = now
		} else {
			existing, err := r.FindByNumber(ctx, s.SupplierNumber)
			if err == nil && existing != nil {
				s.ID = existing.ID
				s.CreatedAt = existing.CreatedAt
			}
		}
		return nil
	})
}

// FindByID finds a supplier by internal ID.
func (r *Repository) FindByID(ctx context.Context, id string) (*Supplier, error) {
	return repository.Instrument(ctx, "suppliers", "find_by_id", func() (*Supplier, error) {
		var s Supplier
		err := r.collection.FindOne(ctx, bson.M{"_id": id}).Decode(&s)
		if err == mongo.ErrNoDocuments {
			return nil, repository.ErrNotFound
		}
		if err != nil {
			return nil, err
		}
		return &s, nil
	})
}

// FindByNumber finds a supplier by its external supplierNumber.
func (r *Repository) FindByNumber(ctx context.Context, supplierNumber string) (*Supplier, error) {
	return repository.Instrument(ctx, "suppliers", "find_by_number", func() (*Supplier, error) {
		var s Supplier
		err := r.collection.FindOne(ctx, bson.M{"supplierNumber": supplierNumber}).Decode(&s)
		if err == mongo.ErrNoDocuments {
			return nil, nil
		}
		if err != nil {
			return nil, err
		}
		return &s, nil
	})
}

// SearchParams filters and paginates supplier listing (§4.10, §6 /suppliers).
type SearchParams struct {
	Search    string
	Page      int
	Limit     int
	SortBy    string
	SortOrder string
}

// Search returns a page of suppliers matching the given filters, plus the
// total matching count for pagination.
func (r *Repository) Search(ctx context.Context, params SearchParams) ([]*Supplier, int64, error) {
	filter := bson.M{}
	if params.Search != "" {
		filter["$or"] = bson.A{
			bson.M{"name": bson.M{"$regex": params.Search, "$options": "i"}},
			bson.M{"supplierNumber": bson.M{"$regex": params.Search, "$options": "i"}},
		}
	}

	type page struct {
		suppliers []*Supplier
		total     int64
	}

	result, err := repository.Instrument(ctx, "suppliers", "search", func() (page, error) {
		sortField := "name"
		switch params.SortBy {
		case "supplierNumber", "createdAt":
			sortField = params.SortBy
		}
		sortDir := 1
		if params.SortOrder == "desc" {
			sortDir = -1
		}

		limit := int64(params.Limit)
		if limit <= 0 || limit > 100 {
			limit = 20
		}
		skip := int64(0)
		if params.Page > 0 {
			skip = int64(params.Page) * limit
		}

		opts := options.Find().
			SetSort(bson.D{{Key: sortField, Value: sortDir}}).
			SetSkip(skip).
			SetLimit(limit)

		cursor, err := r.collection.Find(ctx, filter, opts)
		if err != nil {
			return page{}, err
		}
		defer cursor.Close(ctx)

		var suppliers []*Supplier
		if err := cursor.All(ctx, &suppliers); err != nil {
			return page{}, err
		}

		total, err := r.collection.CountDocuments(ctx, filter)
		if err != nil {
			return page{}, err
		}

		return page{suppliers: suppliers, total: total}, nil
	})
	if err != nil {
		return nil, 0, err
	}
	return result.suppliers, result.total, nil
}

// Clear deletes every supplier row, for the operator /reset endpoint
// (spec §6 "clears queues and batch/conflict/PO/supplier tables").
func (r *Repository) Clear(ctx context.Context) error {
	return repository.InstrumentVoid(ctx, "suppliers", "clear", func() error {
		_, err := r.collection.DeleteMany(ctx, bson.M{})
		return err
	})
}
