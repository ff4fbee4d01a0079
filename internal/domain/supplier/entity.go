// Package supplier holds the Supplier entity: the external party a batch
// of purchase orders is dispatched to.
package supplier

import "time"

// Supplier is the durable identity a batch of POs is dispatched against.
// Collection: suppliers
type Supplier struct {
	ID             string    `bson:"_id" json:"id"`
	SupplierNumber string    `bson:"supplierNumber" json:"supplierNumber"`
	Name           string    `bson:"name" json:"name"`
	Phone          string    `bson:"phone,omitempty" json:"phone,omitempty"`
	Email          string    `bson:"email,omitempty" json:"email,omitempty"`
	Facility       string    `bson:"facility,omitempty" json:"facility,omitempty"`
	Active         bool      `bson:"active" json:"active"`
	CreatedAt      time.Time `bson:"createdAt" json:"createdAt"`
	UpdatedAt      time.Time `bson:"updatedAt" json:"updatedAt"`
}

// Code returns the supplier's external identifier, matching the teacher's
// convention of a dedicated accessor over the raw field for entities
// keyed by a business code rather than their internal ID.
func (s *Supplier) Code() string {
	return s.SupplierNumber
}

// ContactOverride describes dispatch-time overrides of a supplier's
// default contact fields.
type ContactOverride struct {
	Phone string `json:"phoneOverride,omitempty"`
	Email string `json:"emailOverride,omitempty"`
}

// ResolvePhone returns the override phone if set, otherwise the
// supplier's own phone.
func (s *Supplier) ResolvePhone(override ContactOverride) string {
	if override.Phone != "" {
		return override.Phone
	}
	return s.Phone
}

// ResolveEmail returns the override email if set, otherwise the
// supplier's own email.
func (s *Supplier) ResolveEmail(override ContactOverride) string {
	if override.Email != "" {
		return override.Email
	}
	return s.Email
}
