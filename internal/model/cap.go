package model

import "time"

// CapStatus is the state of a corrective action plan item.
type CapStatus string

const (
	CapOpen    CapStatus = "Open"
	CapClosed  CapStatus = "Closed"
	CapOverdue CapStatus = "Overdue"
)

// CapEntry is a corrective action item derived from a raw data row. Status is
// computed for a specific evaluation date and is never persisted as input.
type CapEntry struct {
	RecordID    string     `json:"record_id"`
	Reference   string     `json:"reference"`
	Owner       string     `json:"owner"`
	Description string     `json:"description"`
	Due         *time.Time `json:"due,omitempty"`
	Status      CapStatus  `json:"status"`
	DaysOverdue int        `json:"days_overdue"`
}

// CapStatusAt returns the effective status of a CAP with the given due date
// and recorded state at evaluation time at. An item is overdue when it is not
// closed and its due date lies strictly before the evaluation day.
func CapStatusAt(due *time.Time, closed bool, at time.Time) (CapStatus, int) {
	if closed {
		return CapClosed, 0
	}
	if due == nil {
		return CapOpen, 0
	}
	dueDay := truncateDay(*due)
	atDay := truncateDay(at)
	if dueDay.Before(atDay) {
		return CapOverdue, int(atDay.Sub(dueDay).Hours() / 24)
	}
	return CapOpen, 0
}

func truncateDay(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}
