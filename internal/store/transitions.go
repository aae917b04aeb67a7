package store

import "qms/token-service/internal/models"

var transitionMap = map[models.TokenStatus][]models.TokenStatus{
	models.StatusWaiting:     {models.StatusServing, models.StatusDropped, models.StatusRescheduled},
	models.StatusServing:     {models.StatusCompleted, models.StatusDropped},
	models.StatusRescheduled: {models.StatusWaiting},
}

// ValidTransition reports whether a token may move from one status to
// another. COMPLETED and DROPPED are terminal; RESCHEDULED only returns
// to WAITING via next-day re-creation.
func ValidTransition(from, to models.TokenStatus) bool {
	for _, allowed := range transitionMap[from] {
		if allowed == to {
			return true
		}
	}
	return false
}
