package agentrun

import (
	"context"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"go.poresolve.tech/internal/common/repository"
	"go.poresolve.tech/internal/common/tsid"
)

// Repository persists agent runs.
type Repository struct {
	collection *mongo.Collection
}

// NewRepository creates an agent run repository over the given database.
func NewRepository(db *mongo.Database) *Repository {
	return &Repository{collection: db.Collection("agent_runs")}
}

// Insert creates a new run row, assigning ID.
func (r *Repository) Insert(ctx context.Context, run *AgentRun) error {
	return repository.InstrumentVoid(ctx, "agent_runs", "insert", func() error {
		run.ID = tsid.Generate()
		_, err := r.collection.InsertOne(ctx, run)
		return err
	})
}

// Update persists the full run document.
func (r *Repository) Update(ctx context.Context, run *AgentRun) error {
	return repository.InstrumentVoid(ctx, "agent_runs", "update", func() error {
		_, err := r.collection.UpdateByID(ctx, run.ID, bson.M{"$set": run})
		return err
	})
}

// FindByExternalID finds the run the Agent Provider is referring to in a
// webhook event, by the externalId it returned at dispatch time.
func (r *Repository) FindByExternalID(ctx context.Context, externalID string) (*AgentRun, error) {
	return repository.Instrument(ctx, "agent_runs", "find_by_external_id", func() (*AgentRun, error) {
		var run AgentRun
		err := r.collection.FindOne(ctx, bson.M{"externalId": externalID}).Decode(&run)
		if err == mongo.ErrNoDocuments {
			return nil, nil
		}
		if err != nil {
			return nil, err
		}
		return &run, nil
	})
}

// FindLatestForBatch returns the most recent run for a batch.
func (r *Repository) FindLatestForBatch(ctx context.Context, batchID string) (*AgentRun, error) {
	return repository.Instrument(ctx, "agent_runs", "find_latest_for_batch", func() (*AgentRun, error) {
		opts := options.FindOne().SetSort(bson.D{{Key: "startedAt", Value: -1}})
		var run AgentRun
		err := r.collection.FindOne(ctx, bson.M{"batchId": batchID}, opts).Decode(&run)
		if err == mongo.ErrNoDocuments {
			return nil, nil
		}
		if err != nil {
			return nil, err
		}
		return &run, nil
	})
}

// ListForBatch returns every run recorded for a batch, newest first, for
// batch detail views (spec §6 GET /batches/{id}).
func (r *Repository) ListForBatch(ctx context.Context, batchID string, limit int64) ([]*AgentRun, error) {
	return repository.Instrument(ctx, "agent_runs", "list_for_batch", func() ([]*AgentRun, error) {
		opts := options.Find().SetSort(bson.D{{Key: "startedAt", Value: -1}})
		if limit > 0 {
			opts.SetLimit(limit)
		}
		cursor, err := r.collection.Find(ctx, bson.M{"batchId": batchID}, opts)
		if err != nil {
			return nil, err
		}
		defer cursor.Close(ctx)

		var runs []*AgentRun
		if err := cursor.All(ctx, &runs); err != nil {
			return nil, err
		}
		return runs, nil
	})
}
