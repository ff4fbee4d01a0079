package dispatcher

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"go.poresolve.tech/internal/domain/batch"
	"go.poresolve.tech/internal/domain/classifier"
	"go.poresolve.tech/internal/domain/money"
	"go.poresolve.tech/internal/domain/purchaseorder"
	"go.poresolve.tech/internal/domain/supplier"
)

func TestSupplierBatch_AttemptCountRoundTripsThroughDispatchAndFailure(t *testing.T) {
	b := &batch.SupplierBatch{AttemptCount: 0}

	// Step 6: dispatcher begins an attempt.
	b.AttemptCount++
	assert.Equal(t, 1, b.AttemptCount)

	// Step 9: a trigger failure backs the attempt back off (spec §8
	// scenario 5: "attemptCount = 0 (after decrement)").
	if b.AttemptCount > 0 {
		b.AttemptCount--
	}
	assert.Equal(t, 0, b.AttemptCount)
}

func TestSupplierBatch_AttemptCountNeverGoesNegative(t *testing.T) {
	b := &batch.SupplierBatch{AttemptCount: 0}
	if b.AttemptCount > 0 {
		b.AttemptCount--
	}
	assert.Equal(t, 0, b.AttemptCount)
}

func TestMapRequest_TranslatesSupplierAndPOs(t *testing.T) {
	due := time.Date(2026, 8, 5, 0, 0, 0, 0, time.UTC)
	recommended := due.AddDate(0, 0, 7)

	s := &supplier.Supplier{ID: "s1", Name: "Acme", Phone: "555-0100", Email: "ap@acme.test"}
	b := &batch.SupplierBatch{ID: "b1", SupplierID: "s1", AttemptCount: 2}
	pos := []*purchaseorder.PurchaseOrder{
		{
			ExternalID:           "PO1-1",
			PONumber:             "PO1",
			POLine:               "1",
			ActionType:           classifier.ActionPushOut,
			DueDate:              due,
			RecommendedDate:      &recommended,
			CalculatedTotalValue: money.Cents(12345),
		},
	}

	req := mapRequest(s, pos, b, "http://app.test/webhooks/agent")

	assert.Equal(t, "b1", req.BatchID)
	assert.Equal(t, "s1", req.SupplierID)
	assert.Equal(t, "Acme", req.SupplierName)
	assert.Equal(t, "http://app.test/webhooks/agent", req.CallbackURL)
	assert.Equal(t, 2, req.Attempt)
	require.Len(t, req.POs, 1)
	assert.Equal(t, "PO1-1", req.POs[0].ExternalID)
	assert.Equal(t, string(classifier.ActionPushOut), req.POs[0].ActionType)
	assert.Equal(t, int64(12345), req.POs[0].ValueCents)
	assert.NotEmpty(t, req.POs[0].RecommendedDate)
}

func TestMapRequest_OmitsRecommendedDateWhenNil(t *testing.T) {
	s := &supplier.Supplier{ID: "s1", Name: "Acme"}
	b := &batch.SupplierBatch{ID: "b1", SupplierID: "s1"}
	pos := []*purchaseorder.PurchaseOrder{
		{ExternalID: "PO1-1", ActionType: classifier.ActionCancel, CalculatedTotalValue: money.Cents(500)},
	}

	req := mapRequest(s, pos, b, "http://app.test/webhooks/agent")

	require.Len(t, req.POs, 1)
	assert.Empty(t, req.POs[0].RecommendedDate)
}
