package callbackscheduler

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"go.poresolve.tech/internal/domain/batch"
)

func TestShouldRequeue_NilBatchIsDropped(t *testing.T) {
	requeue, score := shouldRequeue(nil)
	assert.False(t, requeue)
	assert.Zero(t, score)
}

func TestShouldRequeue_NonQueuedBatchIsDropped(t *testing.T) {
	for _, status := range []batch.Status{
		batch.StatusInProgress,
		batch.StatusCompleted,
		batch.StatusFailed,
		batch.StatusPartial,
	} {
		b := &batch.SupplierBatch{Status: status}
		requeue, score := shouldRequeue(b)
		assert.False(t, requeue, "status %q", status)
		assert.Zero(t, score, "status %q", status)
	}
}

func TestShouldRequeue_QueuedBatchRequeuesAtItsPriorityScore(t *testing.T) {
	b := &batch.SupplierBatch{Status: batch.StatusQueued, TotalValue: 1000}
	requeue, score := shouldRequeue(b)
	assert.True(t, requeue)
	assert.Equal(t, float64(b.PriorityScore()), score)
}
