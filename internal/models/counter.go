package models

import "time"

type CounterStatus string

const (
	CounterActive      CounterStatus = "ACTIVE"
	CounterOnBreak     CounterStatus = "ON_BREAK"
	CounterUnavailable CounterStatus = "UNAVAILABLE"
	CounterClosed      CounterStatus = "CLOSED"
)

// Counter is a physical service point. Break metadata is set iff the
// status is ON_BREAK.
type Counter struct {
	Name                  string        `json:"name"`
	Status                CounterStatus `json:"status"`
	DailyLimit            int           `json:"daily_limit"`
	BreakStartedAt        *time.Time    `json:"break_started_at,omitempty"`
	BreakReason           string        `json:"break_reason,omitempty"`
	EstimatedBreakMinutes int           `json:"estimated_break_minutes,omitempty"`
	CreatedAt             time.Time     `json:"created_at"`
}

// BreakLog is one break interval for a counter. At most one row per
// counter has a nil End.
type BreakLog struct {
	BreakID          string     `json:"break_id"`
	Counter          string     `json:"counter"`
	Start            time.Time  `json:"start"`
	End              *time.Time `json:"end,omitempty"`
	Reason           string     `json:"reason,omitempty"`
	EstimatedMinutes int        `json:"estimated_minutes,omitempty"`
	ActualMinutes    int        `json:"actual_minutes,omitempty"`
}
