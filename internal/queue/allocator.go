package queue

import (
	"context"
	"errors"
	"time"

	"qms/token-service/internal/store"
)

// Allocator issues per-(counter, service-date) token numbers. The
// underlying SequenceStore increment is atomic; stores that lose an
// optimistic-concurrency race report store.ErrConflict and the
// allocator retries with backoff up to a fixed bound before giving up.
type Allocator struct {
	sequences store.SequenceStore
	attempts  int
	backoff   time.Duration
}

func NewAllocator(sequences store.SequenceStore, attempts int, backoff time.Duration) *Allocator {
	if attempts <= 0 {
		attempts = 3
	}
	if backoff <= 0 {
		backoff = 20 * time.Millisecond
	}
	return &Allocator{sequences: sequences, attempts: attempts, backoff: backoff}
}

func (a *Allocator) Next(ctx context.Context, counter, date string) (int, error) {
	var lastErr error
	for attempt := 0; attempt < a.attempts; attempt++ {
		if attempt > 0 {
			select {
			case <-time.After(a.backoff * time.Duration(attempt)):
			case <-ctx.Done():
				return 0, ctx.Err()
			}
		}
		number, err := a.sequences.NextTokenNumber(ctx, counter, date)
		if err == nil {
			return number, nil
		}
		if !errors.Is(err, store.ErrConflict) {
			return 0, err
		}
		lastErr = err
	}
	return 0, lastErr
}
