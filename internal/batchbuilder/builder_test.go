package batchbuilder

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"go.poresolve.tech/internal/domain/classifier"
	"go.poresolve.tech/internal/domain/money"
	"go.poresolve.tech/internal/domain/purchaseorder"
)

func po(supplierID, externalID string, value int64, actionType classifier.ActionType) *purchaseorder.PurchaseOrder {
	return &purchaseorder.PurchaseOrder{
		ExternalID:           externalID,
		SupplierID:           supplierID,
		ActionType:           actionType,
		CalculatedTotalValue: money.Cents(value),
	}
}

func TestPropose_SplitsIntoWindowsOfMaxSize(t *testing.T) {
	b := New(nil, nil, nil, nil, 2)

	pos := []*purchaseorder.PurchaseOrder{
		po("s1", "p1", 100, classifier.ActionCancel),
		po("s1", "p2", 300, classifier.ActionCancel),
		po("s1", "p3", 200, classifier.ActionCancel),
	}

	proposals := b.propose(pos)
	require.Len(t, proposals, 2)
	assert.Len(t, proposals[0].pos, 2)
	assert.Len(t, proposals[1].pos, 1)
}

func TestPropose_SortsPOsByValueDescendingWithinSupplier(t *testing.T) {
	b := New(nil, nil, nil, nil, 10)

	pos := []*purchaseorder.PurchaseOrder{
		po("s1", "p1", 100, classifier.ActionCancel),
		po("s1", "p2", 300, classifier.ActionCancel),
		po("s1", "p3", 200, classifier.ActionCancel),
	}

	proposals := b.propose(pos)
	require.Len(t, proposals, 1)
	assert.Equal(t, "p2", proposals[0].pos[0].ExternalID)
	assert.Equal(t, "p3", proposals[0].pos[1].ExternalID)
	assert.Equal(t, "p1", proposals[0].pos[2].ExternalID)
}

func TestPropose_GroupsDistinctSuppliersSeparately(t *testing.T) {
	b := New(nil, nil, nil, nil, 10)

	pos := []*purchaseorder.PurchaseOrder{
		po("s1", "p1", 100, classifier.ActionCancel),
		po("s2", "p2", 300, classifier.ActionExpedite),
	}

	proposals := b.propose(pos)
	require.Len(t, proposals, 2)
	suppliers := map[string]bool{proposals[0].supplierID: true, proposals[1].supplierID: true}
	assert.True(t, suppliers["s1"])
	assert.True(t, suppliers["s2"])
}

func TestBuild_EmptyInputProducesNoBatches(t *testing.T) {
	b := New(nil, nil, nil, nil, 10)
	result, err := b.Build(context.Background(), nil)
	require.NoError(t, err)
	assert.Empty(t, result.Created)
	assert.Zero(t, result.Abandoned)
}
