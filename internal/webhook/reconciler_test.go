package webhook

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"go.poresolve.tech/internal/domain/batch"
	"go.poresolve.tech/internal/domain/purchaseorder"
)

func TestPoOutcomeStatus(t *testing.T) {
	cases := []struct {
		outcome string
		want    purchaseorder.Status
		ok      bool
	}{
		{"success", purchaseorder.StatusCompleted, true},
		{"rejected", purchaseorder.StatusFailed, true},
		{"partial", "", false},
		{"", "", false},
	}
	for _, c := range cases {
		got, ok := poOutcomeStatus(c.outcome)
		assert.Equal(t, c.ok, ok, "outcome %q", c.outcome)
		assert.Equal(t, c.want, got, "outcome %q", c.outcome)
	}
}

func TestCallCompleteStatus(t *testing.T) {
	cases := []struct {
		outcome string
		want    batch.Status
		ok      bool
	}{
		{"success", batch.StatusCompleted, true},
		{"partial", batch.StatusPartial, true},
		{"failed", batch.StatusFailed, true},
		{"callback", batch.StatusQueued, true},
		{"rejected", "", false},
	}
	for _, c := range cases {
		got, ok := callCompleteStatus(c.outcome)
		assert.Equal(t, c.ok, ok, "outcome %q", c.outcome)
		assert.Equal(t, c.want, got, "outcome %q", c.outcome)
	}
}

func TestEvent_UnmarshalsScheduledCallback(t *testing.T) {
	raw := `{
		"event_type": "callback_requested",
		"batch_id": "b1",
		"scheduled_for": "2026-08-05T12:00:00Z"
	}`

	var ev Event
	require.NoError(t, json.Unmarshal([]byte(raw), &ev))

	assert.Equal(t, EventTypeCallbackRequested, ev.Type)
	assert.Equal(t, "b1", ev.BatchID)
	require.NotNil(t, ev.ScheduledFor)
	assert.True(t, ev.ScheduledFor.Equal(time.Date(2026, 8, 5, 12, 0, 0, 0, time.UTC)))
}

func TestEvent_UnmarshalsPOResolved(t *testing.T) {
	raw := `{"event_type": "po_resolved", "batch_id": "b1", "po_id": "po1", "outcome": "success"}`

	var ev Event
	require.NoError(t, json.Unmarshal([]byte(raw), &ev))

	assert.Equal(t, EventTypePOResolved, ev.Type)
	assert.Equal(t, "po1", ev.POID)
	assert.Equal(t, "success", ev.Outcome)
}

func TestEvent_UnmarshalsLogWithPOOutcome(t *testing.T) {
	raw := `{"event_type": "log", "batch_id": "b1", "run_id": "run1", "po_id": "po1", "po_outcome": "success", "message": "call wrapped up"}`

	var ev Event
	require.NoError(t, json.Unmarshal([]byte(raw), &ev))

	assert.Equal(t, EventTypeLog, ev.Type)
	assert.Equal(t, "run1", ev.RunID)
	assert.Equal(t, "po1", ev.POID)
	assert.Equal(t, "success", ev.POOutcome)
	assert.Empty(t, ev.Outcome)
}
