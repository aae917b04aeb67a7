package stats

import (
	"context"
	"fmt"
	"testing"
	"time"

	"qms/token-service/internal/models"
	"qms/token-service/internal/store"
	"qms/token-service/internal/store/memory"
)

var statsClock = time.Date(2026, 9, 1, 11, 0, 0, 0, time.UTC)

func completeToken(t *testing.T, st *memory.Store, counter, date string, number int, serviceMinutes int, completedAt time.Time) {
	t.Helper()
	ctx := context.Background()
	created, err := st.CreateTokens(ctx, []store.CreateTokenInput{{
		Counter:     counter,
		RequesterID: fmt.Sprintf("student-%s-%d", date, number),
		Number:      number,
		Code:        fmt.Sprintf("%s-%03d", counter, number),
		ServiceDate: date,
		CreatedAt:   completedAt.Add(-time.Hour),
	}})
	if err != nil {
		t.Fatalf("create token: %v", err)
	}
	servedAt := completedAt.Add(-time.Duration(serviceMinutes) * time.Minute)
	if _, err := st.TransitionToken(ctx, created[0].TokenID, models.StatusWaiting, models.StatusServing, servedAt); err != nil {
		t.Fatalf("serve token: %v", err)
	}
	if _, err := st.TransitionToken(ctx, created[0].TokenID, models.StatusServing, models.StatusCompleted, completedAt); err != nil {
		t.Fatalf("complete token: %v", err)
	}
}

func TestAverageServiceTimeDefault(t *testing.T) {
	calc := NewCalculator(memory.NewStore(), 10, 5.0, 30*time.Second)

	avg := calc.AverageServiceTime(context.Background(), "A", "2026-09-01")
	if avg != 5.0 {
		t.Fatalf("expected default 5.0 minutes, got %v", avg)
	}
}

func TestAverageServiceTimeMean(t *testing.T) {
	st := memory.NewStore()
	date := models.ServiceDate(statsClock)
	completeToken(t, st, "A", date, 1, 3, statsClock.Add(-20*time.Minute))
	completeToken(t, st, "A", date, 2, 5, statsClock.Add(-10*time.Minute))

	calc := NewCalculator(st, 10, 5.0, 30*time.Second)
	avg := calc.AverageServiceTime(context.Background(), "A", date)
	if avg != 4.0 {
		t.Fatalf("expected mean 4.0 minutes, got %v", avg)
	}
}

func TestAverageServiceTimeUsesMostRecentSamples(t *testing.T) {
	st := memory.NewStore()
	date := models.ServiceDate(statsClock)
	// Two old slow completions pushed out of the window by three
	// recent fast ones.
	completeToken(t, st, "A", date, 1, 60, statsClock.Add(-90*time.Minute))
	completeToken(t, st, "A", date, 2, 60, statsClock.Add(-80*time.Minute))
	for i := 0; i < 3; i++ {
		completeToken(t, st, "A", date, 3+i, 4, statsClock.Add(-time.Duration(30-i)*time.Minute))
	}

	calc := NewCalculator(st, 3, 5.0, 30*time.Second)
	avg := calc.AverageServiceTime(context.Background(), "A", date)
	if avg != 4.0 {
		t.Fatalf("expected windowed mean 4.0 minutes, got %v", avg)
	}
}

func TestEstimatedWait(t *testing.T) {
	st := memory.NewStore()
	date := models.ServiceDate(statsClock)
	completeToken(t, st, "A", date, 1, 4, statsClock.Add(-10*time.Minute))

	calc := NewCalculator(st, 10, 5.0, 30*time.Second)
	cases := []struct {
		position int
		want     int
	}{
		{0, 0},
		{1, 4},
		{2, 8},
		{-3, 0},
	}
	for _, tt := range cases {
		if got := calc.EstimatedWait(context.Background(), "A", date, tt.position); got != tt.want {
			t.Fatalf("EstimatedWait(position=%d)=%d, want %d", tt.position, got, tt.want)
		}
	}
}

func TestEstimatedWaitRoundsUp(t *testing.T) {
	st := memory.NewStore()
	date := models.ServiceDate(statsClock)
	completeToken(t, st, "A", date, 1, 3, statsClock.Add(-20*time.Minute))
	completeToken(t, st, "A", date, 2, 4, statsClock.Add(-10*time.Minute))

	calc := NewCalculator(st, 10, 5.0, 30*time.Second)
	// avg 3.5 minutes, position 3 -> ceil(10.5) = 11
	if got := calc.EstimatedWait(context.Background(), "A", date, 3); got != 11 {
		t.Fatalf("expected 11 minutes, got %d", got)
	}
}

func TestServiceTrend(t *testing.T) {
	cases := []struct {
		name      string
		today     int
		yesterday int
		want      Trend
	}{
		{"faster", 3, 6, TrendFaster},
		{"slower", 8, 4, TrendSlower},
		{"stable", 5, 5, TrendStable},
	}

	for _, tt := range cases {
		t.Run(tt.name, func(t *testing.T) {
			st := memory.NewStore()
			today := models.ServiceDate(statsClock)
			yesterday := models.ServiceDate(statsClock.AddDate(0, 0, -1))
			completeToken(t, st, "A", today, 1, tt.today, statsClock.Add(-10*time.Minute))
			completeToken(t, st, "A", yesterday, 1, tt.yesterday, statsClock.AddDate(0, 0, -1))

			calc := NewCalculator(st, 10, 5.0, 30*time.Second)
			if got := calc.ServiceTrend(context.Background(), "A", statsClock); got != tt.want {
				t.Fatalf("expected %s, got %s", tt.want, got)
			}
		})
	}
}

func TestServiceTrendFallsBackToDefaultForEmptyDay(t *testing.T) {
	cases := []struct {
		name  string
		today int
		want  Trend
	}{
		{"slow today vs default", 10, TrendSlower},
		{"fast today vs default", 3, TrendFaster},
	}

	for _, tt := range cases {
		t.Run(tt.name, func(t *testing.T) {
			st := memory.NewStore()
			today := models.ServiceDate(statsClock)
			completeToken(t, st, "A", today, 1, tt.today, statsClock.Add(-10*time.Minute))

			calc := NewCalculator(st, 10, 5.0, 30*time.Second)
			if got := calc.ServiceTrend(context.Background(), "A", statsClock); got != tt.want {
				t.Fatalf("expected %s against empty yesterday, got %s", tt.want, got)
			}
		})
	}
}

func TestServiceTrendExactThresholdIsStable(t *testing.T) {
	st := memory.NewStore()
	today := models.ServiceDate(statsClock)
	yesterday := models.ServiceDate(statsClock.AddDate(0, 0, -1))
	completeToken(t, st, "A", today, 1, 6, statsClock.Add(-10*time.Minute))
	completeToken(t, st, "A", yesterday, 1, 5, statsClock.AddDate(0, 0, -1))

	calc := NewCalculator(st, 10, 5.0, time.Minute)
	if got := calc.ServiceTrend(context.Background(), "A", statsClock); got != TrendStable {
		t.Fatalf("delta equal to the threshold should be STABLE, got %s", got)
	}
}
