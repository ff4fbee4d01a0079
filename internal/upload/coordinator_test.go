package upload

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"go.poresolve.tech/internal/domain/conflict"
)

func d(y int, m time.Month, day int) time.Time {
	return time.Date(y, m, day, 0, 0, 0, 0, time.UTC)
}

func TestDiffConflictType_DueDateChangeWins(t *testing.T) {
	prior := d(2025, 1, 10)
	rec := d(2025, 1, 20)
	got := diffConflictType(prior, d(2025, 1, 11), &rec, &rec)
	assert.Equal(t, conflict.TypeDueDateChanged, got)
}

func TestDiffConflictType_RecommendedDateChange(t *testing.T) {
	due := d(2025, 1, 10)
	priorRec := d(2025, 1, 20)
	newRec := d(2025, 1, 25)
	got := diffConflictType(due, due, &priorRec, &newRec)
	assert.Equal(t, conflict.TypeRecommendedDateChanged, got)
}

func TestDiffConflictType_RecommendedNowNil(t *testing.T) {
	due := d(2025, 1, 10)
	priorRec := d(2025, 1, 20)
	got := diffConflictType(due, due, &priorRec, nil)
	assert.Equal(t, conflict.TypeRecommendedDateChanged, got)
}

func TestDiffConflictType_FallsBackToValue(t *testing.T) {
	due := d(2025, 1, 10)
	rec := d(2025, 1, 20)
	got := diffConflictType(due, due, &rec, &rec)
	assert.Equal(t, conflict.TypeValueChanged, got)
}
