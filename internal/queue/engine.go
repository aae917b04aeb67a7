// Package queue owns the token lifecycle: issuance with counter
// rotation and sequence allocation, counter-staff actions with
// auto-advance, end-of-day disposition, and break handling. All state
// lives behind the store contract; the engine is safe for concurrent
// callers because each store call is individually atomic.
package queue

import (
	"context"
	"fmt"
	"log"
	"time"

	"qms/token-service/internal/hours"
	"qms/token-service/internal/models"
	"qms/token-service/internal/notify"
	"qms/token-service/internal/store"
)

const (
	positionAlertWindow   = 4
	completionAlertWindow = 5
)

type Engine struct {
	store     store.Store
	allocator *Allocator
	rotation  *Rotation
	hours     hours.Policy
	fanout    *notify.Fanout
	now       func() time.Time
}

type Config struct {
	// Counters in rotation order; the first one receives the first
	// token of each day.
	Counters         []string
	SequenceAttempts int
	SequenceBackoff  time.Duration

	// Location is the facility timezone the working hour bounds are
	// expressed in. Defaults to UTC.
	Location *time.Location
}

func New(st store.Store, policy hours.Policy, fanout *notify.Fanout, cfg Config) *Engine {
	counters := cfg.Counters
	if len(counters) == 0 {
		counters = []string{"A", "B"}
	}
	loc := cfg.Location
	if loc == nil {
		loc = time.UTC
	}
	return &Engine{
		store:     st,
		allocator: NewAllocator(st, cfg.SequenceAttempts, cfg.SequenceBackoff),
		rotation:  NewRotation(st, counters),
		hours:     policy,
		fanout:    fanout,
		now:       func() time.Time { return time.Now().In(loc) },
	}
}

// Generate issues a new WAITING token for the requester, assigned by
// rotation to the next accepting counter.
func (e *Engine) Generate(ctx context.Context, requesterID string) (models.Token, error) {
	now := e.now()
	if !e.hours.IsOpen(now) {
		return models.Token{}, store.ErrOutsideHours
	}
	date := models.ServiceDate(now)

	// Cheap pre-check so a duplicate request does not burn a sequence
	// number; the insert below re-checks atomically.
	if _, active, err := e.store.ActiveTokenForRequester(ctx, requesterID, date, models.OpenStatuses); err != nil {
		return models.Token{}, err
	} else if active {
		return models.Token{}, store.ErrActiveTokenExists
	}

	preferred, err := e.rotation.Select(ctx, date)
	if err != nil {
		return models.Token{}, err
	}
	counter, err := e.pickAcceptingCounter(ctx, preferred, date)
	if err != nil {
		return models.Token{}, err
	}

	number, err := e.allocator.Next(ctx, counter, date)
	if err != nil {
		return models.Token{}, err
	}

	token, err := e.store.CreateToken(ctx, store.CreateTokenInput{
		Counter:     counter,
		RequesterID: requesterID,
		Number:      number,
		Code:        TokenCode(counter, number),
		ServiceDate: date,
		CreatedAt:   now,
	})
	if err != nil {
		return models.Token{}, err
	}

	// The token is already persisted. A failed rotation update only
	// skews which counter the next request prefers, so it must not
	// surface as a failure that strands the requester's open token.
	if err := e.rotation.Commit(ctx, date, counter); err != nil {
		log.Printf("rotation commit error counter=%s date=%s: %v", counter, date, err)
	}

	log.Printf("token generated code=%s requester=%s counter=%s", token.Code, requesterID, counter)

	waiting, serving := e.queueState(ctx, counter, date)
	e.fanout.QueueUpdate(counter, notify.Event{
		TokenCode:        token.Code,
		Status:           models.StatusWaiting,
		WaitingCount:     waiting,
		CurrentlyServing: serving,
		Message:          "New token " + token.Code + " added to queue",
	})
	return token, nil
}

func (e *Engine) pickAcceptingCounter(ctx context.Context, preferred, date string) (string, error) {
	accepting, err := e.CounterAccepting(ctx, preferred, date)
	if err != nil {
		return "", err
	}
	if accepting {
		return preferred, nil
	}
	for _, fallback := range e.rotation.Alternatives(preferred) {
		accepting, err := e.CounterAccepting(ctx, fallback, date)
		if err != nil {
			return "", err
		}
		if accepting {
			return fallback, nil
		}
	}
	return "", store.ErrNoCounterAvailable
}

// CounterAccepting reports whether the counter is ACTIVE and under its
// daily issuance limit for the date.
func (e *Engine) CounterAccepting(ctx context.Context, name, date string) (bool, error) {
	counter, err := e.store.GetCounter(ctx, name)
	if err != nil {
		return false, err
	}
	if counter.Status != models.CounterActive {
		return false, nil
	}
	issued, err := e.store.CountByCounterDate(ctx, name, date)
	if err != nil {
		return false, err
	}
	return issued < counter.DailyLimit, nil
}

// CallNext promotes the lowest-numbered WAITING token to SERVING.
func (e *Engine) CallNext(ctx context.Context, counterName string) (models.Token, error) {
	counter, err := e.store.GetCounter(ctx, counterName)
	if err != nil {
		return models.Token{}, err
	}
	if counter.Status != models.CounterActive {
		return models.Token{}, store.ErrInvalidState
	}
	token, err := e.advance(ctx, counterName, models.ServiceDate(e.now()))
	if err != nil {
		return models.Token{}, err
	}
	return token, nil
}

// advance is the shared serve-next step used by CallNext and by the
// auto-advance after Complete/Drop. It fails with ErrNoWaitingTokens
// when the queue is empty.
func (e *Engine) advance(ctx context.Context, counterName, date string) (models.Token, error) {
	waiting, err := e.store.ListWaiting(ctx, counterName, date)
	if err != nil {
		return models.Token{}, err
	}
	if len(waiting) == 0 {
		return models.Token{}, store.ErrNoWaitingTokens
	}

	token, err := e.store.TransitionToken(ctx, waiting[0].TokenID, models.StatusWaiting, models.StatusServing, e.now())
	if err != nil {
		return models.Token{}, err
	}
	remaining := waiting[1:]

	log.Printf("token serving code=%s counter=%s waiting=%d", token.Code, counterName, len(remaining))

	e.fanout.QueueUpdate(counterName, notify.Event{
		TokenCode:        token.Code,
		Status:           models.StatusServing,
		WaitingCount:     len(remaining),
		CurrentlyServing: token.Code,
		Message:          "Counter " + counterName + " is now serving " + token.Code,
	})
	e.sendPositionalAlerts(counterName, token, remaining)
	return token, nil
}

func (e *Engine) sendPositionalAlerts(counterName string, called models.Token, remaining []models.Token) {
	if len(remaining) == 0 {
		return
	}
	next := remaining[0]
	e.fanout.Personal(next.RequesterID, notify.Event{
		Kind:             notify.KindYourTurn,
		TokenCode:        next.Code,
		Counter:          counterName,
		Status:           models.StatusWaiting,
		WaitingCount:     len(remaining),
		CurrentlyServing: called.Code,
		Position:         0,
		Message:          "You're next! Please head to Counter " + counterName,
	})
	for i := 1; i < len(remaining) && i < positionAlertWindow; i++ {
		e.fanout.Personal(remaining[i].RequesterID, notify.Event{
			Kind:             notify.KindPositionAlert,
			TokenCode:        remaining[i].Code,
			Counter:          counterName,
			Status:           models.StatusWaiting,
			WaitingCount:     len(remaining),
			CurrentlyServing: called.Code,
			Position:         i,
			Message:          "Your turn is coming soon! You're within the next 4 in queue.",
		})
	}
}

// Complete finishes the token currently being served at the counter and
// auto-advances to the next waiting one.
func (e *Engine) Complete(ctx context.Context, counterName string) (models.Token, error) {
	return e.finishServing(ctx, counterName, models.StatusCompleted)
}

// Drop marks the currently served token a no-show and auto-advances.
func (e *Engine) Drop(ctx context.Context, counterName string) (models.Token, error) {
	return e.finishServing(ctx, counterName, models.StatusDropped)
}

func (e *Engine) finishServing(ctx context.Context, counterName string, to models.TokenStatus) (models.Token, error) {
	if _, err := e.store.GetCounter(ctx, counterName); err != nil {
		return models.Token{}, err
	}
	date := models.ServiceDate(e.now())

	serving, ok, err := e.store.ServingToken(ctx, counterName, date)
	if err != nil {
		return models.Token{}, err
	}
	if !ok {
		return models.Token{}, store.ErrNoServingToken
	}

	token, err := e.store.TransitionToken(ctx, serving.TokenID, models.StatusServing, to, e.now())
	if err != nil {
		return models.Token{}, err
	}

	verb := "completed"
	if to == models.StatusDropped {
		verb = "dropped"
	}
	log.Printf("token %s code=%s counter=%s", verb, token.Code, counterName)

	waiting, err := e.store.ListWaiting(ctx, counterName, date)
	if err != nil {
		waiting = nil
	}
	e.sendCompletionAlerts(counterName, waiting)
	e.fanout.QueueUpdate(counterName, notify.Event{
		TokenCode:    token.Code,
		Status:       to,
		WaitingCount: len(waiting),
		Message:      "Token " + token.Code + " " + verb + " at Counter " + counterName,
	})

	// Auto-advance; an empty queue is not an error here.
	if _, err := e.advance(ctx, counterName, date); err != nil && err != store.ErrNoWaitingTokens {
		log.Printf("auto-advance error counter=%s: %v", counterName, err)
	}
	return token, nil
}

func (e *Engine) sendCompletionAlerts(counterName string, waiting []models.Token) {
	for i := 0; i < len(waiting) && i < completionAlertWindow; i++ {
		e.fanout.Personal(waiting[i].RequesterID, notify.Event{
			Kind:         notify.KindTokenAheadDone,
			TokenCode:    waiting[i].Code,
			Counter:      counterName,
			Status:       models.StatusWaiting,
			WaitingCount: len(waiting),
			Position:     i,
			Message:      fmt.Sprintf("A token just finished ahead of you. Position: %d", i+1),
		})
	}
}

// Cancel drops the requester's own WAITING or SERVING token. Unlike a
// staff Drop, cancelling a SERVING token does not auto-advance the
// counter.
func (e *Engine) Cancel(ctx context.Context, requesterID string) (models.Token, error) {
	date := models.ServiceDate(e.now())
	token, ok, err := e.store.ActiveTokenForRequester(ctx, requesterID, date, models.OpenStatuses)
	if err != nil {
		return models.Token{}, err
	}
	if !ok {
		return models.Token{}, store.ErrTokenNotFound
	}

	dropped, err := e.store.TransitionToken(ctx, token.TokenID, token.Status, models.StatusDropped, e.now())
	if err != nil {
		return models.Token{}, err
	}

	log.Printf("token cancelled code=%s requester=%s", dropped.Code, requesterID)

	waiting, serving := e.queueState(ctx, dropped.Counter, date)
	e.fanout.QueueUpdate(dropped.Counter, notify.Event{
		TokenCode:        dropped.Code,
		Status:           models.StatusDropped,
		WaitingCount:     waiting,
		CurrentlyServing: serving,
		Message:          "Token " + dropped.Code + " was cancelled by student",
	})
	return dropped, nil
}

// StopAndReschedule closes the counter for the day and carries its
// waiting tokens over to tomorrow: originals become RESCHEDULED, fresh
// WAITING tokens numbered 1..N are created for tomorrow in the same
// relative order, and tomorrow's sequence is seeded to N.
func (e *Engine) StopAndReschedule(ctx context.Context, counterName string) (int, error) {
	counter, err := e.store.GetCounter(ctx, counterName)
	if err != nil {
		return 0, err
	}
	now := e.now()
	today := models.ServiceDate(now)
	tomorrow := models.ServiceDate(now.AddDate(0, 0, 1))

	waiting, err := e.store.ListWaiting(ctx, counterName, today)
	if err != nil {
		return 0, err
	}

	inputs := make([]store.CreateTokenInput, 0, len(waiting))
	for i, token := range waiting {
		if _, err := e.store.TransitionToken(ctx, token.TokenID, models.StatusWaiting, models.StatusRescheduled, now); err != nil {
			return 0, err
		}
		number := i + 1
		inputs = append(inputs, store.CreateTokenInput{
			Counter:             counterName,
			RequesterID:         token.RequesterID,
			Number:              number,
			Code:                TokenCode(counterName, number),
			ServiceDate:         tomorrow,
			CreatedAt:           now,
			Rescheduled:         true,
			OriginalServiceDate: today,
		})
	}
	if len(inputs) > 0 {
		if _, err := e.store.CreateTokens(ctx, inputs); err != nil {
			return 0, err
		}
	}
	if err := e.store.SeedSequence(ctx, counterName, tomorrow, len(inputs)); err != nil {
		return 0, err
	}

	counter.Status = models.CounterClosed
	if err := e.store.UpdateCounter(ctx, counter); err != nil {
		return 0, err
	}

	log.Printf("counter stopped counter=%s rescheduled=%d date=%s", counterName, len(inputs), tomorrow)
	return len(inputs), nil
}

// StopAndExpire closes the counter for the day and drops all its
// waiting tokens outright.
func (e *Engine) StopAndExpire(ctx context.Context, counterName string) (int, error) {
	counter, err := e.store.GetCounter(ctx, counterName)
	if err != nil {
		return 0, err
	}
	now := e.now()
	today := models.ServiceDate(now)

	waiting, err := e.store.ListWaiting(ctx, counterName, today)
	if err != nil {
		return 0, err
	}
	for _, token := range waiting {
		if _, err := e.store.TransitionToken(ctx, token.TokenID, models.StatusWaiting, models.StatusDropped, now); err != nil {
			return 0, err
		}
	}

	counter.Status = models.CounterClosed
	if err := e.store.UpdateCounter(ctx, counter); err != nil {
		return 0, err
	}

	log.Printf("counter stopped counter=%s expired=%d", counterName, len(waiting))
	return len(waiting), nil
}

// StartBreak puts the counter ON_BREAK and opens a break log row.
func (e *Engine) StartBreak(ctx context.Context, counterName, reason string, estimatedMinutes int) error {
	counter, err := e.store.GetCounter(ctx, counterName)
	if err != nil {
		return err
	}
	if counter.Status == models.CounterOnBreak {
		return store.ErrInvalidState
	}
	now := e.now()

	counter.Status = models.CounterOnBreak
	counter.BreakStartedAt = &now
	counter.BreakReason = reason
	counter.EstimatedBreakMinutes = estimatedMinutes
	if err := e.store.UpdateCounter(ctx, counter); err != nil {
		return err
	}
	if _, err := e.store.OpenBreakLog(ctx, counterName, now, reason, estimatedMinutes); err != nil {
		return err
	}

	log.Printf("counter break started counter=%s reason=%q", counterName, reason)

	minutes := estimatedMinutes
	if minutes <= 0 {
		minutes = 15
	}
	resume := now.Add(time.Duration(minutes) * time.Minute).Format("15:04")
	message := "Counter " + counterName + " is now on break. Resumes at " + resume

	e.notifyBreakChange(ctx, counterName, notify.KindCounterBreak, message)
	return nil
}

// EndBreak returns the counter to ACTIVE and closes its break log.
func (e *Engine) EndBreak(ctx context.Context, counterName string) error {
	counter, err := e.store.GetCounter(ctx, counterName)
	if err != nil {
		return err
	}
	if counter.Status != models.CounterOnBreak {
		return store.ErrInvalidState
	}
	now := e.now()

	counter.Status = models.CounterActive
	counter.BreakStartedAt = nil
	counter.BreakReason = ""
	counter.EstimatedBreakMinutes = 0
	if err := e.store.UpdateCounter(ctx, counter); err != nil {
		return err
	}
	if breakLog, err := e.store.CloseBreakLog(ctx, counterName, now); err != nil {
		log.Printf("close break log error counter=%s: %v", counterName, err)
	} else {
		log.Printf("counter break ended counter=%s minutes=%d", counterName, breakLog.ActualMinutes)
	}

	e.notifyBreakChange(ctx, counterName, notify.KindCounterResume, "Counter "+counterName+" has resumed service")
	return nil
}

func (e *Engine) notifyBreakChange(ctx context.Context, counterName string, kind notify.Kind, message string) {
	date := models.ServiceDate(e.now())
	waiting, err := e.store.ListWaiting(ctx, counterName, date)
	if err != nil {
		waiting = nil
	}
	e.fanout.QueueUpdate(counterName, notify.Event{
		WaitingCount: len(waiting),
		Message:      message,
	})
	for _, token := range waiting {
		e.fanout.Personal(token.RequesterID, notify.Event{
			Kind:         kind,
			TokenCode:    token.Code,
			Counter:      counterName,
			Status:       models.StatusWaiting,
			WaitingCount: len(waiting),
			Message:      message,
		})
	}
}

// UpdateCounterStatus is the admin override for a counter's state.
func (e *Engine) UpdateCounterStatus(ctx context.Context, counterName string, status models.CounterStatus) error {
	counter, err := e.store.GetCounter(ctx, counterName)
	if err != nil {
		return err
	}
	counter.Status = status
	if status != models.CounterOnBreak {
		counter.BreakStartedAt = nil
		counter.BreakReason = ""
		counter.EstimatedBreakMinutes = 0
	}
	return e.store.UpdateCounter(ctx, counter)
}

// UpdateDailyLimit changes a counter's daily issuance cap.
func (e *Engine) UpdateDailyLimit(ctx context.Context, counterName string, limit int) error {
	if limit < 1 || limit > 200 {
		return store.ErrInvalidState
	}
	counter, err := e.store.GetCounter(ctx, counterName)
	if err != nil {
		return err
	}
	counter.DailyLimit = limit
	return e.store.UpdateCounter(ctx, counter)
}

// ActiveToken returns the requester's current open token for today and
// its zero-based position among waiting tokens on its counter.
func (e *Engine) ActiveToken(ctx context.Context, requesterID string) (models.Token, int, error) {
	date := models.ServiceDate(e.now())
	statuses := append([]models.TokenStatus{}, models.OpenStatuses...)
	statuses = append(statuses, models.StatusRescheduled)
	token, ok, err := e.store.ActiveTokenForRequester(ctx, requesterID, date, statuses)
	if err != nil {
		return models.Token{}, 0, err
	}
	if !ok {
		return models.Token{}, 0, store.ErrTokenNotFound
	}
	position, err := e.Position(ctx, token)
	if err != nil {
		return models.Token{}, 0, err
	}
	return token, position, nil
}

// Position counts how many waiting tokens precede this one on its
// counter. Non-waiting tokens are position 0.
func (e *Engine) Position(ctx context.Context, token models.Token) (int, error) {
	if token.Status != models.StatusWaiting {
		return 0, nil
	}
	waiting, err := e.store.ListWaiting(ctx, token.Counter, token.ServiceDate)
	if err != nil {
		return 0, err
	}
	position := 0
	for _, other := range waiting {
		if other.Number < token.Number {
			position++
		}
	}
	return position, nil
}

type HistoryEntry struct {
	Token          models.Token `json:"token"`
	WaitMinutes    *int64       `json:"wait_minutes,omitempty"`
	ServiceMinutes *int64       `json:"service_minutes,omitempty"`
}

// History returns the requester's tokens newest first with derived
// wait and service durations.
func (e *Engine) History(ctx context.Context, requesterID string) ([]HistoryEntry, error) {
	tokens, err := e.store.ListRequesterTokens(ctx, requesterID)
	if err != nil {
		return nil, err
	}
	entries := make([]HistoryEntry, 0, len(tokens))
	for _, token := range tokens {
		entry := HistoryEntry{Token: token}
		if token.ServedAt != nil {
			wait := int64(token.ServedAt.Sub(token.CreatedAt).Minutes())
			entry.WaitMinutes = &wait
			if token.CompletedAt != nil {
				service := int64(token.CompletedAt.Sub(*token.ServedAt).Minutes())
				entry.ServiceMinutes = &service
			}
		}
		entries = append(entries, entry)
	}
	return entries, nil
}

func (e *Engine) queueState(ctx context.Context, counterName, date string) (int, string) {
	waiting, err := e.store.ListWaiting(ctx, counterName, date)
	if err != nil {
		return 0, ""
	}
	serving := ""
	if token, ok, err := e.store.ServingToken(ctx, counterName, date); err == nil && ok {
		serving = token.Code
	}
	return len(waiting), serving
}

// TokenCode renders the externally visible "{counter}-{number:03d}"
// code.
func TokenCode(counter string, number int) string {
	return fmt.Sprintf("%s-%03d", counter, number)
}
