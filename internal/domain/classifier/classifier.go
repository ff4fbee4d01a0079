// Package classifier maps an uploaded purchase-order row to an action
// variant by comparing its recommended date against its due date. The
// mapping is pure and deterministic: same input, same output, no I/O.
package classifier

import "time"

// ActionType is the resolution requested from the supplier.
type ActionType string

const (
	// ActionCancel withdraws the order entirely.
	ActionCancel ActionType = "CANCEL"
	// ActionExpedite asks the supplier to deliver earlier than due date.
	ActionExpedite ActionType = "EXPEDITE"
	// ActionPushOut accepts a later delivery than due date.
	ActionPushOut ActionType = "PUSH_OUT"
)

// Row is the minimal shape the classifier needs from an uploaded PO line.
type Row struct {
	DueDate         time.Time
	RecommendedDate *time.Time
}

// Classification is the classifier's verdict for a row.
type Classification struct {
	ActionType ActionType
	DaysDiff   int
}

// Skipped is returned via the bool result, not as a zero Classification,
// so callers can't mistake a zero-day EXPEDITE for a skip.

// Classify maps a row to an action type and day-difference, or reports
// that the row needs no action.
//
//   - RecommendedDate == nil                -> CANCEL, daysDiff=0
//   - RecommendedDate == DueDate (day)      -> skip
//   - RecommendedDate <  DueDate            -> EXPEDITE, daysDiff<0
//   - RecommendedDate >  DueDate            -> PUSH_OUT, daysDiff>0
func Classify(row Row) (Classification, bool) {
	if row.RecommendedDate == nil {
		return Classification{ActionType: ActionCancel, DaysDiff: 0}, true
	}

	due := truncateToDay(row.DueDate)
	recommended := truncateToDay(*row.RecommendedDate)

	if due.Equal(recommended) {
		return Classification{}, false
	}

	diff := daysBetween(due, recommended)

	if recommended.Before(due) {
		return Classification{ActionType: ActionExpedite, DaysDiff: diff}, true
	}
	return Classification{ActionType: ActionPushOut, DaysDiff: diff}, true
}

// truncateToDay drops the wall-clock time component, comparing calendar
// dates only, in the timestamp's own location rather than normalizing
// across timezones.
func truncateToDay(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, t.Location())
}

// daysBetween returns recommended-minus-due in whole days (negative when
// recommended is earlier).
func daysBetween(due, recommended time.Time) int {
	return int(recommended.Sub(due).Hours() / 24)
}
