package queue

import (
	"context"

	"qms/token-service/internal/store"
)

// Rotation alternates token assignment across the configured counters,
// persisting the last-assigned counter per service date so the
// alternation survives restarts.
type Rotation struct {
	state    store.RotationStore
	counters []string
}

func NewRotation(state store.RotationStore, counters []string) *Rotation {
	return &Rotation{state: state, counters: counters}
}

// Select returns the counter the next token should go to: the successor
// of the last-assigned counter, or the first configured counter when no
// token has been issued for the date yet.
func (r *Rotation) Select(ctx context.Context, date string) (string, error) {
	last, ok, err := r.state.LastAssigned(ctx, date)
	if err != nil {
		return "", err
	}
	if !ok {
		return r.counters[0], nil
	}
	for i, counter := range r.counters {
		if counter == last {
			return r.counters[(i+1)%len(r.counters)], nil
		}
	}
	return r.counters[0], nil
}

// Alternatives returns the remaining counters in rotation order after
// the preferred one, used as fallbacks when the preferred counter is
// not accepting tokens.
func (r *Rotation) Alternatives(preferred string) []string {
	var rest []string
	start := 0
	for i, counter := range r.counters {
		if counter == preferred {
			start = i
			break
		}
	}
	for offset := 1; offset < len(r.counters); offset++ {
		rest = append(rest, r.counters[(start+offset)%len(r.counters)])
	}
	return rest
}

// Commit records the counter that actually received the token.
func (r *Rotation) Commit(ctx context.Context, date, counter string) error {
	return r.state.SetLastAssigned(ctx, date, counter)
}
