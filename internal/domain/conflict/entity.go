// Package conflict holds the Conflict entity: an advisory record noting
// that a re-uploaded PO had materially different fields from the stored
// copy, or that the agent provider escalated a PO it could not resolve.
package conflict

import "time"

// Type names what kind of field changed across the re-upload, or that the
// conflict originated from an agent provider escalation rather than a
// re-upload diff.
type Type string

const (
	TypeDueDateChanged         Type = "DUE_DATE_CHANGED"
	TypeRecommendedDateChanged Type = "RECOMMENDED_DATE_CHANGED"
	TypeValueChanged           Type = "VALUE_CHANGED"
	TypeEscalation             Type = "ESCALATION"
)

// Conflict is an advisory record of a divergent re-upload.
// Collection: conflicts
type Conflict struct {
	ID              string         `bson:"_id" json:"id"`
	PurchaseOrderID string         `bson:"purchaseOrderId" json:"purchaseOrderId"`
	ConflictType    Type           `bson:"conflictType" json:"conflictType"`
	ConflictDetails map[string]any `bson:"conflictDetails" json:"conflictDetails"`
	Resolved        bool           `bson:"resolved" json:"resolved"`
	Resolution      string         `bson:"resolution,omitempty" json:"resolution,omitempty"`
	CreatedAt       time.Time      `bson:"createdAt" json:"createdAt"`
}
