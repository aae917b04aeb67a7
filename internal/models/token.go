package models

import "time"

type TokenStatus string

const (
	StatusWaiting     TokenStatus = "WAITING"
	StatusServing     TokenStatus = "SERVING"
	StatusCompleted   TokenStatus = "COMPLETED"
	StatusDropped     TokenStatus = "DROPPED"
	StatusRescheduled TokenStatus = "RESCHEDULED"
)

// OpenStatuses are the statuses that make a token count as "active" for
// the one-open-token-per-requester rule.
var OpenStatuses = []TokenStatus{StatusWaiting, StatusServing}

type Token struct {
	TokenID             string      `json:"token_id"`
	Code                string      `json:"code"`
	Counter             string      `json:"counter"`
	RequesterID         string      `json:"requester_id"`
	Number              int         `json:"number"`
	Status              TokenStatus `json:"status"`
	ServiceDate         string      `json:"service_date"`
	CreatedAt           time.Time   `json:"created_at"`
	ServedAt            *time.Time  `json:"served_at,omitempty"`
	CompletedAt         *time.Time  `json:"completed_at,omitempty"`
	Rescheduled         bool        `json:"rescheduled"`
	OriginalServiceDate string      `json:"original_service_date,omitempty"`
}

// DateKey is the canonical service-date encoding used as a storage key.
const DateKey = "2006-01-02"

func ServiceDate(t time.Time) string {
	return t.Format(DateKey)
}
