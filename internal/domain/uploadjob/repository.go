package uploadjob

import (
	"context"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"

	"go.poresolve.tech/internal/common/repository"
	"go.poresolve.tech/internal/common/tsid"
)

// Repository persists upload job progress records. The backing collection
// carries a TTL index on createdAt (see mongo/indexes.go) so stale jobs
// self-expire regardless of whether a caller ever polls them to completion.
type Repository struct {
	collection *mongo.Collection
}

// NewRepository creates an upload job repository over the given database.
func NewRepository(db *mongo.Database) *Repository {
	return &Repository{collection: db.Collection("upload_jobs")}
}

// Create inserts a new job in StatusPending.
func (r *Repository) Create(ctx context.Context) (*UploadJob, error) {
	return repository.Instrument(ctx, "upload_jobs", "create", func() (*UploadJob, error) {
		now := time.Now()
		job := &UploadJob{
			ID:        tsid.Generate(),
			Status:    StatusPending,
			Progress:  Progress{Stage: StageParsing},
			CreatedAt: now,
			UpdatedAt: now,
		}
		if _, err := r.collection.InsertOne(ctx, job); err != nil {
			return nil, err
		}
		return job, nil
	})
}

// FindByID loads a job by id.
func (r *Repository) FindByID(ctx context.Context, id string) (*UploadJob, error) {
	return repository.Instrument(ctx, "upload_jobs", "find_by_id", func() (*UploadJob, error) {
		var job UploadJob
		err := r.collection.FindOne(ctx, bson.M{"_id": id}).Decode(&job)
		if err != nil {
			return nil, err
		}
		return &job, nil
	})
}

// UpdateProgress advances a job's stage and position within it.
func (r *Repository) UpdateProgress(ctx context.Context, id string, progress Progress) error {
	return repository.InstrumentVoid(ctx, "upload_jobs", "update_progress", func() error {
		_, err := r.collection.UpdateOne(ctx,
			bson.M{"_id": id},
			bson.M{"$set": bson.M{
				"status":    StatusProcessing,
				"progress":  progress,
				"updatedAt": time.Now(),
			}},
		)
		return err
	})
}

// Complete marks a job done with its result summary.
func (r *Repository) Complete(ctx context.Context, id string, result ResultSummary) error {
	return repository.InstrumentVoid(ctx, "upload_jobs", "complete", func() error {
		_, err := r.collection.UpdateOne(ctx,
			bson.M{"_id": id},
			bson.M{"$set": bson.M{
				"status":    StatusComplete,
				"progress":  Progress{Stage: StageComplete},
				"result":    result,
				"updatedAt": time.Now(),
			}},
		)
		return err
	})
}

// Fail marks a job errored with a message.
func (r *Repository) Fail(ctx context.Context, id string, message string) error {
	return repository.InstrumentVoid(ctx, "upload_jobs", "fail", func() error {
		_, err := r.collection.UpdateOne(ctx,
			bson.M{"_id": id},
			bson.M{"$set": bson.M{
				"status":       StatusError,
				"errorMessage": message,
				"updatedAt":    time.Now(),
			}},
		)
		return err
	})
}
