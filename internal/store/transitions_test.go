package store

import (
	"testing"

	"qms/token-service/internal/models"
)

func TestValidTransition(t *testing.T) {
	cases := []struct {
		from  models.TokenStatus
		to    models.TokenStatus
		valid bool
	}{
		{models.StatusWaiting, models.StatusServing, true},
		{models.StatusWaiting, models.StatusDropped, true},
		{models.StatusWaiting, models.StatusRescheduled, true},
		{models.StatusWaiting, models.StatusCompleted, false},
		{models.StatusServing, models.StatusCompleted, true},
		{models.StatusServing, models.StatusDropped, true},
		{models.StatusServing, models.StatusWaiting, false},
		{models.StatusServing, models.StatusRescheduled, false},
		{models.StatusRescheduled, models.StatusWaiting, true},
		{models.StatusRescheduled, models.StatusServing, false},
		{models.StatusCompleted, models.StatusWaiting, false},
		{models.StatusCompleted, models.StatusServing, false},
		{models.StatusDropped, models.StatusWaiting, false},
		{models.StatusDropped, models.StatusCompleted, false},
	}

	for _, tt := range cases {
		if got := ValidTransition(tt.from, tt.to); got != tt.valid {
			t.Fatalf("ValidTransition(%q, %q)=%v, want %v", tt.from, tt.to, got, tt.valid)
		}
	}
}

func TestClassify(t *testing.T) {
	cases := []struct {
		err  error
		want Class
	}{
		{ErrOutsideHours, ClassPolicyViolation},
		{ErrActiveTokenExists, ClassPolicyViolation},
		{ErrNoCounterAvailable, ClassPolicyViolation},
		{ErrDailyLimitReached, ClassPolicyViolation},
		{ErrInvalidState, ClassInvalidState},
		{ErrNoWaitingTokens, ClassNotFound},
		{ErrNoServingToken, ClassNotFound},
		{ErrTokenNotFound, ClassNotFound},
		{ErrCounterNotFound, ClassNotFound},
		{ErrConflict, ClassConflict},
	}

	for _, tt := range cases {
		if got := Classify(tt.err); got != tt.want {
			t.Fatalf("Classify(%v)=%v, want %v", tt.err, got, tt.want)
		}
	}
}
