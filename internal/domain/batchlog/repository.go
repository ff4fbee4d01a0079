package batchlog

import (
	"context"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"go.poresolve.tech/internal/common/repository"
	"go.poresolve.tech/internal/common/tsid"
)

// Repository persists batch log entries.
type Repository struct {
	collection *mongo.Collection
}

// NewRepository creates a batch log repository over the given database.
func NewRepository(db *mongo.Database) *Repository {
	return &Repository{collection: db.Collection("batch_logs")}
}

// Append records a new log entry.
func (r *Repository) Append(ctx context.Context, entry *BatchLog) error {
	return repository.InstrumentVoid(ctx, "batch_logs", "append", func() error {
		entry.ID = tsid.Generate()
		entry.OccurredAt = time.Now()
		_, err := r.collection.InsertOne(ctx, entry)
		return err
	})
}

// ListForBatch returns a batch's log entries in chronological order,
// for batch detail views and SSE reconnect reconciliation (spec §4.3).
func (r *Repository) ListForBatch(ctx context.Context, batchID string, limit int64) ([]*BatchLog, error) {
	return repository.Instrument(ctx, "batch_logs", "list_for_batch", func() ([]*BatchLog, error) {
		opts := options.Find().SetSort(bson.D{{Key: "occurredAt", Value: 1}})
		if limit > 0 {
			opts.SetLimit(limit)
		}
		cursor, err := r.collection.Find(ctx, bson.M{"batchId": batchID}, opts)
		if err != nil {
			return nil, err
		}
		defer cursor.Close(ctx)

		var entries []*BatchLog
		if err := cursor.All(ctx, &entries); err != nil {
			return nil, err
		}
		return entries, nil
	})
}
