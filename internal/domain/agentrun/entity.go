// Package agentrun holds the AgentRun entity: one record per call attempt
// placed against a batch through the Agent Provider.
package agentrun

import "time"

// Status mirrors the Agent Provider's view of an in-flight or completed run.
type Status string

const (
	StatusInProgress Status = "IN_PROGRESS"
	StatusCompleted  Status = "COMPLETED"
	StatusFailed     Status = "FAILED"
)

// AgentRun is one call attempt on a batch.
// Collection: agent_runs
type AgentRun struct {
	ID         string        `bson:"_id" json:"id"`
	BatchID    string        `bson:"batchId" json:"batchId"`
	ExternalID string        `bson:"externalId" json:"externalId"`
	Status     Status        `bson:"status" json:"status"`
	Outcome    string        `bson:"outcome,omitempty" json:"outcome,omitempty"`
	Attempt    int           `bson:"attempt" json:"attempt"`
	StartedAt  time.Time     `bson:"startedAt" json:"startedAt"`
	EndedAt    *time.Time    `bson:"endedAt,omitempty" json:"endedAt,omitempty"`
	Duration   time.Duration `bson:"durationMs" json:"durationMs"`
}

// Complete marks the run ended, recording outcome and duration.
func (a *AgentRun) Complete(outcome string, at time.Time) {
	a.EndedAt = &at
	a.Outcome = outcome
	a.Status = StatusCompleted
	a.Duration = at.Sub(a.StartedAt)
}
