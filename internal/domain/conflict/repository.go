package conflict

import (
	"context"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/google/uuid"

	"go.poresolve.tech/internal/common/repository"
)

// Repository persists PO re-upload conflicts.
type Repository struct {
	collection *mongo.Collection
}

// NewRepository creates a conflict repository over the given database.
func NewRepository(db *mongo.Database) *Repository {
	return &Repository{collection: db.Collection("conflicts")}
}

// Insert records a new conflict.
func (r *Repository) Insert(ctx context.Context, c *Conflict) error {
	return repository.InstrumentVoid(ctx, "conflicts", "insert", func() error {
		c.ID = uuid.NewString()
		c.CreatedAt = time.Now()
		_, err := r.collection.InsertOne(ctx, c)
		return err
	})
}

// CountUnresolved returns the number of unresolved conflicts, used by
// the re-upload idempotence law (spec §8: re-uploading an identical
// spreadsheet twice leaves the conflict count at zero).
func (r *Repository) CountUnresolved(ctx context.Context) (int64, error) {
	return repository.Instrument(ctx, "conflicts", "count_unresolved", func() (int64, error) {
		return r.collection.CountDocuments(ctx, bson.M{"resolved": false})
	})
}

// Clear deletes every conflict row, for the operator /reset endpoint
// (spec §6 "clears queues and batch/conflict/PO/supplier tables").
func (r *Repository) Clear(ctx context.Context) error {
	return repository.InstrumentVoid(ctx, "conflicts", "clear", func() error {
		_, err := r.collection.DeleteMany(ctx, bson.M{})
		return err
	})
}

// ListForPO returns conflicts recorded against a PO.
func (r *Repository) ListForPO(ctx context.Context, poID string) ([]*Conflict, error) {
	return repository.Instrument(ctx, "conflicts", "list_for_po", func() ([]*Conflict, error) {
		opts := options.Find().SetSort(bson.D{{Key: "createdAt", Value: -1}})
		cursor, err := r.collection.Find(ctx, bson.M{"purchaseOrderId": poID}, opts)
		if err != nil {
			return nil, err
		}
		defer cursor.Close(ctx)

		var conflicts []*Conflict
		if err := cursor.All(ctx, &conflicts); err != nil {
			return nil, err
		}
		return conflicts, nil
	})
}
