// Package purchaseorder holds the PurchaseOrder (PO) entity: a single
// order line awaiting resolution via CANCEL, EXPEDITE, or PUSH_OUT.
package purchaseorder

import (
	"fmt"
	"time"

	"go.poresolve.tech/internal/domain/classifier"
	"go.poresolve.tech/internal/domain/money"
)

// Status is the PO's position in its lifecycle (spec §4.7).
type Status string

const (
	StatusPending    Status = "PENDING"
	StatusQueued     Status = "QUEUED"
	StatusInProgress Status = "IN_PROGRESS"
	StatusCompleted  Status = "COMPLETED"
	StatusFailed     Status = "FAILED"
	StatusConflict   Status = "CONFLICT"
)

// PurchaseOrder is a single order line awaiting resolution.
// Collection: purchase_orders
type PurchaseOrder struct {
	ID                   string              `bson:"_id" json:"id"`
	ExternalID           string              `bson:"externalId" json:"externalId"`
	PONumber             string              `bson:"poNumber" json:"poNumber"`
	POLine               string              `bson:"poLine" json:"poLine"`
	SupplierID           string              `bson:"supplierId" json:"supplierId"`
	ActionType           classifier.ActionType `bson:"actionType" json:"actionType"`
	Status               Status              `bson:"status" json:"status"`
	DueDate              time.Time           `bson:"dueDate" json:"dueDate"`
	OriginalDueDate      *time.Time          `bson:"originalDueDate,omitempty" json:"originalDueDate,omitempty"`
	RecommendedDate      *time.Time          `bson:"recommendedDate,omitempty" json:"recommendedDate,omitempty"`
	CalculatedTotalValue money.Cents         `bson:"calculatedTotalValue" json:"calculatedTotalValue"`
	BatchID              *string             `bson:"batchId,omitempty" json:"batchId,omitempty"`
	CreatedAt            time.Time           `bson:"createdAt" json:"createdAt"`
	UpdatedAt            time.Time           `bson:"updatedAt" json:"updatedAt"`
}

// IsTerminal reports whether the status is one of the lifecycle's terminal
// states, which stay terminal on re-delivery of a webhook event unless an
// operator reset clears them (spec §4.7 state machine).
func (s Status) IsTerminal() bool {
	return s == StatusCompleted || s == StatusFailed
}

// ExternalIDOf composes the reload-stable external identifier from a
// (poNumber, poLine) pair, per spec §3.
func ExternalIDOf(poNumber, poLine string) string {
	return fmt.Sprintf("%s-%s", poNumber, poLine)
}

// IsLinkedTo reports whether the PO belongs to the given batch.
func (p *PurchaseOrder) IsLinkedTo(batchID string) bool {
	return p.BatchID != nil && *p.BatchID == batchID
}

// ResolveDate copies RecommendedDate into DueDate, preserving the old
// value in OriginalDueDate, applied when a PO is marked COMPLETED with an
// EXPEDITE or PUSH_OUT action (spec §4.7 `log`/`po_resolved` handling).
func (p *PurchaseOrder) ResolveDate() {
	if p.RecommendedDate == nil {
		return
	}
	if p.ActionType != classifier.ActionExpedite && p.ActionType != classifier.ActionPushOut {
		return
	}
	old := p.DueDate
	p.OriginalDueDate = &old
	p.DueDate = *p.RecommendedDate
}

// FieldsDiffer reports whether any re-upload-sensitive field differs from
// the given prior values, used to decide whether a Conflict should be
// recorded on re-upload (spec §4.5).
func (p *PurchaseOrder) FieldsDiffer(priorDueDate, priorRecommendedDate *time.Time, priorValue money.Cents) bool {
	if p.CalculatedTotalValue != priorValue {
		return true
	}
	if !sameDate(&p.DueDate, priorDueDate) {
		return true
	}
	if !sameDate(p.RecommendedDate, priorRecommendedDate) {
		return true
	}
	return false
}

func sameDate(a, b *time.Time) bool {
	if a == nil || b == nil {
		return a == b
	}
	return a.Equal(*b)
}
