package activitylog

import (
	"context"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/google/uuid"

	"go.poresolve.tech/internal/common/repository"
)

// Repository persists activity log entries.
type Repository struct {
	collection *mongo.Collection
}

// NewRepository creates an activity log repository over the given database.
func NewRepository(db *mongo.Database) *Repository {
	return &Repository{collection: db.Collection("activity_logs")}
}

// Record appends a new audit entry.
func (r *Repository) Record(ctx context.Context, entry *ActivityLog) error {
	return repository.InstrumentVoid(ctx, "activity_logs", "record", func() error {
		entry.ID = uuid.NewString()
		entry.OccurredAt = time.Now()
		_, err := r.collection.InsertOne(ctx, entry)
		return err
	})
}

// ListForEntity returns audit entries for a given entity, newest first.
func (r *Repository) ListForEntity(ctx context.Context, entityType EntityType, entityID string, limit int64) ([]*ActivityLog, error) {
	return repository.Instrument(ctx, "activity_logs", "list_for_entity", func() ([]*ActivityLog, error) {
		opts := options.Find().SetSort(bson.D{{Key: "occurredAt", Value: -1}})
		if limit > 0 {
			opts.SetLimit(limit)
		}
		cursor, err := r.collection.Find(ctx, bson.M{"entityType": entityType, "entityId": entityID}, opts)
		if err != nil {
			return nil, err
		}
		defer cursor.Close(ctx)

		var entries []*ActivityLog
		if err := cursor.All(ctx, &entries); err != nil {
			return nil, err
		}
		return entries, nil
	})
}
