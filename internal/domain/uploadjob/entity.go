// Package uploadjob holds the UploadJob entity: an ephemeral record
// tracking a background spreadsheet-ingest job.
package uploadjob

import "time"

// Status is the job's overall state.
type Status string

const (
	StatusPending    Status = "pending"
	StatusProcessing Status = "processing"
	StatusComplete   Status = "complete"
	StatusError      Status = "error"
)

// Stage is the job's current pipeline stage.
type Stage string

const (
	StageParsing  Stage = "parsing"
	StageSuppliers Stage = "suppliers"
	StagePOs      Stage = "pos"
	StageBatches  Stage = "batches"
	StageQueuing  Stage = "queuing"
	StageComplete Stage = "complete"
)

// TTL bounds the lifetime of an upload job record regardless of outcome
// (spec §3: "UploadJob (ephemeral, ≤ 1h TTL)").
const TTL = time.Hour

// Progress reports the job's position within its current stage.
type Progress struct {
	Stage   Stage  `bson:"stage" json:"stage"`
	Current int    `bson:"current" json:"current"`
	Total   int    `bson:"total" json:"total"`
	Message string `bson:"message,omitempty" json:"message,omitempty"`
}

// ResultSummary is published on successful completion.
type ResultSummary struct {
	SuppliersCreated int `bson:"suppliersCreated" json:"suppliersCreated"`
	POsCreated       int `bson:"posCreated" json:"posCreated"`
	POsUpdated       int `bson:"posUpdated" json:"posUpdated"`
	ConflictsFound   int `bson:"conflictsFound" json:"conflictsFound"`
	BatchesCreated   int `bson:"batchesCreated" json:"batchesCreated"`
	RowsSkipped      int `bson:"rowsSkipped" json:"rowsSkipped"`
}

// UploadJob tracks a background spreadsheet-ingest job.
// Collection: upload_jobs
type UploadJob struct {
	ID           string         `bson:"_id" json:"id"`
	Status       Status         `bson:"status" json:"status"`
	Progress     Progress       `bson:"progress" json:"progress"`
	Result       *ResultSummary `bson:"result,omitempty" json:"result,omitempty"`
	ErrorMessage string         `bson:"errorMessage,omitempty" json:"errorMessage,omitempty"`
	CreatedAt    time.Time      `bson:"createdAt" json:"createdAt"`
	UpdatedAt    time.Time      `bson:"updatedAt" json:"updatedAt"`
}

// Fail transitions the job to error and records the message.
func (j *UploadJob) Fail(message string) {
	j.Status = StatusError
	j.ErrorMessage = message
}
