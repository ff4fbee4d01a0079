// Package batch holds the SupplierBatch entity: a unit of dispatch work
// representing one supplier's bundle of POs to resolve in a single call.
package batch

import (
	"time"

	"go.poresolve.tech/internal/domain/classifier"
	"go.poresolve.tech/internal/domain/money"
)

// Status is the batch's position in its lifecycle (spec §4.7).
type Status string

const (
	StatusQueued     Status = "QUEUED"
	StatusInProgress Status = "IN_PROGRESS"
	StatusCompleted  Status = "COMPLETED"
	StatusFailed     Status = "FAILED"
	StatusPartial    Status = "PARTIAL"
)

// IsTerminal reports whether the status is one of the lifecycle's
// terminal states, per spec §8's invariant on the supplier-exclusion set.
func (s Status) IsTerminal() bool {
	return s == StatusCompleted || s == StatusFailed || s == StatusPartial
}

// MaxPOsPerBatch is the default cap on POs per batch (spec §3, §6
// MAX_POS_PER_BATCH env var, overridable via config).
const MaxPOsPerBatch = 10

// DefaultMaxAttempts is the default dispatch retry budget (spec §3).
const DefaultMaxAttempts = 5

// SupplierContentionDelay is the re-queue delay applied when a batch's
// supplier is already in-flight (spec §4.6 step 5, §8 scenario 2).
const SupplierContentionDelay = 30 * time.Second

// StaleProcessingThreshold bounds how long a batch may sit IN_PROGRESS
// (measured from its updatedAt) before the stale-recovery sweep reclaims
// it (SPEC_FULL §3 supplemented feature). The sweep selects by batch
// status only; a processing-set entry whose batch is not IN_PROGRESS is
// not reclaimed by it.
const StaleProcessingThreshold = 20 * time.Minute

// SupplierBatch is a unit of dispatch work: one supplier's bundle of POs.
// Collection: supplier_batches
type SupplierBatch struct {
	ID            string                  `bson:"_id" json:"id"`
	SupplierID    string                  `bson:"supplierId" json:"supplierId"`
	Status        Status                  `bson:"status" json:"status"`
	ActionTypes   []classifier.ActionType `bson:"actionTypes" json:"actionTypes"`
	TotalValue    money.Cents             `bson:"totalValue" json:"totalValue"`
	POCount       int                     `bson:"poCount" json:"poCount"`
	Priority      int64                   `bson:"priority" json:"priority"`
	AttemptCount  int                     `bson:"attemptCount" json:"attemptCount"`
	MaxAttempts   int                     `bson:"maxAttempts" json:"maxAttempts"`
	ScheduledFor  *time.Time              `bson:"scheduledFor,omitempty" json:"scheduledFor,omitempty"`
	ExternalID    string                  `bson:"externalId,omitempty" json:"externalId,omitempty"`
	ExternalURL   string                  `bson:"externalUrl,omitempty" json:"externalUrl,omitempty"`
	LastOutcome   string                  `bson:"lastOutcome,omitempty" json:"lastOutcome,omitempty"`
	CompletedAt   *time.Time              `bson:"completedAt,omitempty" json:"completedAt,omitempty"`
	CreatedAt     time.Time               `bson:"createdAt" json:"createdAt"`
	UpdatedAt     time.Time               `bson:"updatedAt" json:"updatedAt"`
}

// PriorityScore returns the primary-queue score: negative total value, so
// a pop-min yields the highest-value batch first (spec §4.2).
func (b *SupplierBatch) PriorityScore() int64 {
	return int64(b.TotalValue.Negate())
}

// HasAttemptsRemaining reports whether the batch can still be retried.
func (b *SupplierBatch) HasAttemptsRemaining() bool {
	return b.AttemptCount < b.MaxAttempts
}

// ActionTypeSet collapses a slice of classified action types into the
// distinct set appearing in a batch, used by the Batch Builder (spec
// §4.5 step 3: "actionTypes = set of variants present").
func ActionTypeSet(types []classifier.ActionType) []classifier.ActionType {
	seen := make(map[classifier.ActionType]bool, len(types))
	var out []classifier.ActionType
	for _, t := range types {
		if !seen[t] {
			seen[t] = true
			out = append(out, t)
		}
	}
	return out
}
