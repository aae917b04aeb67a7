package store

import "errors"

var (
	ErrCounterNotFound    = errors.New("counter not found")
	ErrTokenNotFound      = errors.New("token not found")
	ErrNoWaitingTokens    = errors.New("no waiting tokens")
	ErrNoServingToken     = errors.New("no token currently being served")
	ErrInvalidState       = errors.New("invalid state for this action")
	ErrActiveTokenExists  = errors.New("requester already has an active token")
	ErrOutsideHours       = errors.New("outside working hours")
	ErrNoCounterAvailable = errors.New("no counter available")
	ErrDailyLimitReached  = errors.New("daily token limit reached")
	ErrConflict           = errors.New("storage write conflict")
)

// Class buckets the sentinel errors by how callers are expected to
// react to them.
type Class int

const (
	ClassInternal Class = iota
	ClassPolicyViolation
	ClassInvalidState
	ClassNotFound
	ClassConflict
)

func Classify(err error) Class {
	switch {
	case errors.Is(err, ErrOutsideHours),
		errors.Is(err, ErrActiveTokenExists),
		errors.Is(err, ErrNoCounterAvailable),
		errors.Is(err, ErrDailyLimitReached):
		return ClassPolicyViolation
	case errors.Is(err, ErrInvalidState):
		return ClassInvalidState
	case errors.Is(err, ErrCounterNotFound),
		errors.Is(err, ErrTokenNotFound),
		errors.Is(err, ErrNoWaitingTokens),
		errors.Is(err, ErrNoServingToken):
		return ClassNotFound
	case errors.Is(err, ErrConflict):
		return ClassConflict
	default:
		return ClassInternal
	}
}
