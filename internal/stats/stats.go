// Package stats derives wait-time estimates from recently completed
// tokens. Every function here degrades to a default instead of failing;
// statistics must never break a queue operation.
package stats

import (
	"context"
	"log"
	"math"
	"time"

	"qms/token-service/internal/models"
	"qms/token-service/internal/store"
)

type Trend string

const (
	TrendFaster Trend = "FASTER"
	TrendSlower Trend = "SLOWER"
	TrendStable Trend = "STABLE"
)

type Calculator struct {
	store store.TokenStore

	// SampleSize completed tokens feed the moving average.
	SampleSize int
	// DefaultMinutes is used when no completed samples exist yet.
	DefaultMinutes float64
	// TrendThreshold is the minimum day-over-day change that counts as
	// a real trend.
	TrendThreshold time.Duration
}

func NewCalculator(st store.TokenStore, sampleSize int, defaultMinutes float64, trendThreshold time.Duration) *Calculator {
	if sampleSize <= 0 {
		sampleSize = 10
	}
	if defaultMinutes <= 0 {
		defaultMinutes = 5.0
	}
	if trendThreshold <= 0 {
		trendThreshold = 30 * time.Second
	}
	return &Calculator{
		store:          st,
		SampleSize:     sampleSize,
		DefaultMinutes: defaultMinutes,
		TrendThreshold: trendThreshold,
	}
}

// AverageServiceTime returns the mean served-to-completed duration in
// minutes over the counter's most recent completions for the date.
func (c *Calculator) AverageServiceTime(ctx context.Context, counter, date string) float64 {
	avg, ok := c.average(ctx, counter, date)
	if !ok {
		return c.DefaultMinutes
	}
	return avg
}

func (c *Calculator) average(ctx context.Context, counter, date string) (float64, bool) {
	completed, err := c.store.ListRecentCompleted(ctx, counter, date, c.SampleSize)
	if err != nil {
		log.Printf("stats query error counter=%s date=%s: %v", counter, date, err)
		return 0, false
	}
	var total time.Duration
	var samples int
	for _, token := range completed {
		if token.ServedAt == nil || token.CompletedAt == nil {
			continue
		}
		total += token.CompletedAt.Sub(*token.ServedAt)
		samples++
	}
	if samples == 0 {
		return 0, false
	}
	return total.Minutes() / float64(samples), true
}

// EstimatedWait converts the number of tokens ahead of a requester
// into whole minutes. Position 0 is next up and waits nothing.
func (c *Calculator) EstimatedWait(ctx context.Context, counter, date string, position int) int {
	if position <= 0 {
		return 0
	}
	avg := c.AverageServiceTime(ctx, counter, date)
	return int(math.Ceil(float64(position) * avg))
}

// ServiceTrend compares today's average against yesterday's. Both days
// fall back to the default average when they have no samples, so a busy
// today against an empty yesterday still registers as a trend.
func (c *Calculator) ServiceTrend(ctx context.Context, counter string, now time.Time) Trend {
	today := c.AverageServiceTime(ctx, counter, models.ServiceDate(now))
	yesterday := c.AverageServiceTime(ctx, counter, models.ServiceDate(now.AddDate(0, 0, -1)))
	delta := time.Duration((today - yesterday) * float64(time.Minute))
	switch {
	case delta < -c.TrendThreshold:
		return TrendFaster
	case delta > c.TrendThreshold:
		return TrendSlower
	default:
		return TrendStable
	}
}
