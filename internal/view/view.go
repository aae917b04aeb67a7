// Package view builds read-only queue snapshots for display boards and
// polling clients.
package view

import (
	"context"
	"time"

	"qms/token-service/internal/models"
	"qms/token-service/internal/stats"
	"qms/token-service/internal/store"
)

type CounterSnapshot struct {
	Counter          string               `json:"counter"`
	Status           models.CounterStatus `json:"status"`
	Date             string               `json:"date"`
	CurrentlyServing string               `json:"currently_serving,omitempty"`
	NextWaiting      string               `json:"next_waiting,omitempty"`
	WaitingCount     int                  `json:"waiting_count"`
	ServedCount      int                  `json:"served_count"`
	IssuedCount      int                  `json:"issued_count"`
	DailyLimit       int                  `json:"daily_limit"`
	AvgServiceTime   float64              `json:"avg_service_time_minutes"`
	// EstimatedWaitForNew is the wait in minutes a requester joining
	// now would see, behind every currently waiting token.
	EstimatedWaitForNew int         `json:"estimated_wait_for_new_minutes"`
	Trend               stats.Trend `json:"trend"`
	BreakReason         string      `json:"break_reason,omitempty"`
	BreakResumesAt      string      `json:"break_resumes_at,omitempty"`
}

type Snapshot struct {
	Date         string            `json:"date"`
	Counters     []CounterSnapshot `json:"counters"`
	TotalWaiting int               `json:"total_waiting"`
}

type Builder struct {
	store store.Store
	stats *stats.Calculator
	now   func() time.Time
}

func NewBuilder(st store.Store, calc *stats.Calculator, loc *time.Location) *Builder {
	if loc == nil {
		loc = time.UTC
	}
	return &Builder{
		store: st,
		stats: calc,
		now:   func() time.Time { return time.Now().In(loc) },
	}
}

// Counter builds the snapshot for a single counter.
func (b *Builder) Counter(ctx context.Context, name string) (CounterSnapshot, error) {
	now := b.now()
	return b.counterAt(ctx, name, now, models.ServiceDate(now))
}

func (b *Builder) counterAt(ctx context.Context, name string, now time.Time, date string) (CounterSnapshot, error) {
	counter, err := b.store.GetCounter(ctx, name)
	if err != nil {
		return CounterSnapshot{}, err
	}

	snapshot := CounterSnapshot{
		Counter:        counter.Name,
		Status:         counter.Status,
		Date:           date,
		DailyLimit:     counter.DailyLimit,
		AvgServiceTime: b.stats.AverageServiceTime(ctx, name, date),
		Trend:          b.stats.ServiceTrend(ctx, name, now),
	}

	tokens, err := b.store.ListByCounterDate(ctx, name, date)
	if err != nil {
		return CounterSnapshot{}, err
	}
	snapshot.IssuedCount = len(tokens)
	nextNumber := 0
	for _, token := range tokens {
		switch token.Status {
		case models.StatusCompleted:
			snapshot.ServedCount++
		case models.StatusWaiting:
			snapshot.WaitingCount++
			if nextNumber == 0 || token.Number < nextNumber {
				nextNumber = token.Number
				snapshot.NextWaiting = token.Code
			}
		case models.StatusServing:
			snapshot.CurrentlyServing = token.Code
		}
	}

	snapshot.EstimatedWaitForNew = b.stats.EstimatedWait(ctx, name, date, snapshot.WaitingCount)

	if counter.Status == models.CounterOnBreak && counter.BreakStartedAt != nil {
		snapshot.BreakReason = counter.BreakReason
		minutes := counter.EstimatedBreakMinutes
		if minutes <= 0 {
			minutes = 15
		}
		snapshot.BreakResumesAt = counter.BreakStartedAt.Add(time.Duration(minutes) * time.Minute).Format("15:04")
	}
	return snapshot, nil
}

// All builds snapshots for every known counter plus the grand total of
// waiting tokens.
func (b *Builder) All(ctx context.Context) (Snapshot, error) {
	now := b.now()
	date := models.ServiceDate(now)

	counters, err := b.store.ListCounters(ctx)
	if err != nil {
		return Snapshot{}, err
	}

	out := Snapshot{Date: date, Counters: make([]CounterSnapshot, 0, len(counters))}
	for _, counter := range counters {
		snapshot, err := b.counterAt(ctx, counter.Name, now, date)
		if err != nil {
			return Snapshot{}, err
		}
		out.Counters = append(out.Counters, snapshot)
		out.TotalWaiting += snapshot.WaitingCount
	}
	return out, nil
}
