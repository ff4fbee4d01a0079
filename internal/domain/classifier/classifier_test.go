package classifier

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func date(y int, m time.Month, d int) time.Time {
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

func TestClassify_NilRecommendedIsCancel(t *testing.T) {
	c, ok := Classify(Row{DueDate: date(2025, 1, 15)})
	require.True(t, ok)
	assert.Equal(t, ActionCancel, c.ActionType)
	assert.Equal(t, 0, c.DaysDiff)
}

func TestClassify_EqualDatesSkipped(t *testing.T) {
	rec := date(2025, 1, 15)
	_, ok := Classify(Row{DueDate: date(2025, 1, 15), RecommendedDate: &rec})
	assert.False(t, ok)
}

func TestClassify_EqualDatesDifferentWallClockStillSkipped(t *testing.T) {
	due := time.Date(2025, 1, 15, 23, 0, 0, 0, time.UTC)
	rec := time.Date(2025, 1, 15, 1, 0, 0, 0, time.UTC)
	_, ok := Classify(Row{DueDate: due, RecommendedDate: &rec})
	assert.False(t, ok)
}

func TestClassify_EarlierIsExpedite(t *testing.T) {
	rec := date(2025, 1, 10)
	c, ok := Classify(Row{DueDate: date(2025, 1, 15), RecommendedDate: &rec})
	require.True(t, ok)
	assert.Equal(t, ActionExpedite, c.ActionType)
	assert.Equal(t, -5, c.DaysDiff)
}

func TestClassify_LaterIsPushOut(t *testing.T) {
	rec := date(2025, 2, 1)
	c, ok := Classify(Row{DueDate: date(2025, 1, 15), RecommendedDate: &rec})
	require.True(t, ok)
	assert.Equal(t, ActionPushOut, c.ActionType)
	assert.Equal(t, 17, c.DaysDiff)
}
