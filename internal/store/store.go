package store

import (
	"context"
	"time"

	"qms/token-service/internal/models"
)

type CreateTokenInput struct {
	TokenID             string
	Counter             string
	RequesterID         string
	Number              int
	Code                string
	ServiceDate         string
	CreatedAt           time.Time
	Rescheduled         bool
	OriginalServiceDate string
}

// CounterStore holds the fixed set of service points.
type CounterStore interface {
	GetCounter(ctx context.Context, name string) (models.Counter, error)
	ListCounters(ctx context.Context) ([]models.Counter, error)
	// UpdateCounter replaces the mutable fields of the counter row
	// keyed by Name.
	UpdateCounter(ctx context.Context, counter models.Counter) error
	// EnsureCounter creates the counter if absent; existing rows are
	// left untouched.
	EnsureCounter(ctx context.Context, name string, dailyLimit int) error
}

// SequenceStore issues per-(counter, service-date) token numbers.
type SequenceStore interface {
	// NextTokenNumber atomically increments and returns the sequence
	// for the pair, creating it at 1 on first use. Implementations
	// using optimistic concurrency return ErrConflict on a lost race;
	// callers retry.
	NextTokenNumber(ctx context.Context, counter, date string) (int, error)
	// SeedSequence sets the last-issued number for the pair so that
	// subsequent NextTokenNumber calls continue after it.
	SeedSequence(ctx context.Context, counter, date string, last int) error
}

// RotationStore remembers which counter got the previous token each day.
type RotationStore interface {
	// LastAssigned returns ok=false when no token has been issued for
	// the date yet.
	LastAssigned(ctx context.Context, date string) (string, bool, error)
	SetLastAssigned(ctx context.Context, date, counter string) error
}

type TokenStore interface {
	// CreateToken inserts the token only if the requester holds no
	// WAITING or SERVING token for the service date; otherwise it
	// fails with ErrActiveTokenExists and writes nothing.
	CreateToken(ctx context.Context, input CreateTokenInput) (models.Token, error)
	// CreateTokens inserts a batch unconditionally (reschedule
	// re-creation; the uniqueness rule was already enforced when the
	// originals were issued).
	CreateTokens(ctx context.Context, inputs []CreateTokenInput) ([]models.Token, error)
	GetToken(ctx context.Context, tokenID string) (models.Token, error)
	// ActiveTokenForRequester returns the newest token for the
	// requester in one of the given statuses, ok=false when none.
	ActiveTokenForRequester(ctx context.Context, requesterID, date string, statuses []models.TokenStatus) (models.Token, bool, error)
	// ListWaiting returns WAITING tokens for the counter/date ordered
	// by token number ascending.
	ListWaiting(ctx context.Context, counter, date string) ([]models.Token, error)
	// ServingToken returns the SERVING token for the counter/date,
	// ok=false when none. If stale data holds several, the most
	// recently served one wins.
	ServingToken(ctx context.Context, counter, date string) (models.Token, bool, error)
	// TransitionToken moves the token from one status to another,
	// stamping served_at or completed_at as appropriate. It fails with
	// ErrInvalidState when the row is no longer in the from status,
	// making concurrent double-transitions lose cleanly.
	TransitionToken(ctx context.Context, tokenID string, from, to models.TokenStatus, at time.Time) (models.Token, error)
	ListByCounterDate(ctx context.Context, counter, date string) ([]models.Token, error)
	// ListRecentCompleted returns up to limit COMPLETED tokens for the
	// counter/date, most recently completed first.
	ListRecentCompleted(ctx context.Context, counter, date string, limit int) ([]models.Token, error)
	CountByCounterDate(ctx context.Context, counter, date string) (int, error)
	// ListRequesterTokens returns the requester's full history, newest
	// service date first.
	ListRequesterTokens(ctx context.Context, requesterID string) ([]models.Token, error)
}

type BreakLogStore interface {
	OpenBreakLog(ctx context.Context, counter string, start time.Time, reason string, estimatedMinutes int) (models.BreakLog, error)
	// CloseBreakLog closes the open break row for the counter and
	// records the actual duration. Closing when no row is open fails
	// with ErrInvalidState.
	CloseBreakLog(ctx context.Context, counter string, end time.Time) (models.BreakLog, error)
}

// Store is the full storage contract the engine is constructed with.
type Store interface {
	CounterStore
	SequenceStore
	RotationStore
	TokenStore
	BreakLogStore
}
