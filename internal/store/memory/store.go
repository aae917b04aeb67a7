// Package memory implements the store contract with mutex-guarded maps.
// It backs the engine tests and the dev mode of cmd/token-service.
package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"qms/token-service/internal/models"
	"qms/token-service/internal/store"

	"github.com/google/uuid"
)

type Store struct {
	mu        sync.Mutex
	counters  map[string]models.Counter
	sequences map[string]int
	rotation  map[string]string
	tokens    map[string]models.Token
	breaks    []models.BreakLog
}

func NewStore() *Store {
	return &Store{
		counters:  make(map[string]models.Counter),
		sequences: make(map[string]int),
		rotation:  make(map[string]string),
		tokens:    make(map[string]models.Token),
	}
}

func seqKey(counter, date string) string {
	return counter + "|" + date
}

func (s *Store) GetCounter(ctx context.Context, name string) (models.Counter, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	counter, ok := s.counters[name]
	if !ok {
		return models.Counter{}, store.ErrCounterNotFound
	}
	return counter, nil
}

func (s *Store) ListCounters(ctx context.Context) ([]models.Counter, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	names := make([]string, 0, len(s.counters))
	for name := range s.counters {
		names = append(names, name)
	}
	sort.Strings(names)
	counters := make([]models.Counter, 0, len(names))
	for _, name := range names {
		counters = append(counters, s.counters[name])
	}
	return counters, nil
}

func (s *Store) UpdateCounter(ctx context.Context, counter models.Counter) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	existing, ok := s.counters[counter.Name]
	if !ok {
		return store.ErrCounterNotFound
	}
	counter.CreatedAt = existing.CreatedAt
	s.counters[counter.Name] = counter
	return nil
}

func (s *Store) EnsureCounter(ctx context.Context, name string, dailyLimit int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.counters[name]; ok {
		return nil
	}
	s.counters[name] = models.Counter{
		Name:       name,
		Status:     models.CounterActive,
		DailyLimit: dailyLimit,
		CreatedAt:  time.Now().UTC(),
	}
	return nil
}

func (s *Store) NextTokenNumber(ctx context.Context, counter, date string) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	key := seqKey(counter, date)
	s.sequences[key]++
	return s.sequences[key], nil
}

func (s *Store) SeedSequence(ctx context.Context, counter, date string, last int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sequences[seqKey(counter, date)] = last
	return nil
}

func (s *Store) LastAssigned(ctx context.Context, date string) (string, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	counter, ok := s.rotation[date]
	return counter, ok, nil
}

func (s *Store) SetLastAssigned(ctx context.Context, date, counter string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.rotation[date] = counter
	return nil
}

func (s *Store) CreateToken(ctx context.Context, input store.CreateTokenInput) (models.Token, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, token := range s.tokens {
		if token.RequesterID != input.RequesterID || token.ServiceDate != input.ServiceDate {
			continue
		}
		if token.Status == models.StatusWaiting || token.Status == models.StatusServing {
			return models.Token{}, store.ErrActiveTokenExists
		}
	}
	token := buildToken(input)
	s.tokens[token.TokenID] = token
	return token, nil
}

func (s *Store) CreateTokens(ctx context.Context, inputs []store.CreateTokenInput) ([]models.Token, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	tokens := make([]models.Token, 0, len(inputs))
	for _, input := range inputs {
		token := buildToken(input)
		s.tokens[token.TokenID] = token
		tokens = append(tokens, token)
	}
	return tokens, nil
}

func buildToken(input store.CreateTokenInput) models.Token {
	tokenID := input.TokenID
	if tokenID == "" {
		tokenID = uuid.NewString()
	}
	createdAt := input.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now().UTC()
	}
	return models.Token{
		TokenID:             tokenID,
		Code:                input.Code,
		Counter:             input.Counter,
		RequesterID:         input.RequesterID,
		Number:              input.Number,
		Status:              models.StatusWaiting,
		ServiceDate:         input.ServiceDate,
		CreatedAt:           createdAt,
		Rescheduled:         input.Rescheduled,
		OriginalServiceDate: input.OriginalServiceDate,
	}
}

func (s *Store) GetToken(ctx context.Context, tokenID string) (models.Token, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	token, ok := s.tokens[tokenID]
	if !ok {
		return models.Token{}, store.ErrTokenNotFound
	}
	return token, nil
}

func (s *Store) ActiveTokenForRequester(ctx context.Context, requesterID, date string, statuses []models.TokenStatus) (models.Token, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var latest models.Token
	found := false
	for _, token := range s.tokens {
		if token.RequesterID != requesterID || token.ServiceDate != date {
			continue
		}
		if !statusIn(token.Status, statuses) {
			continue
		}
		if !found || token.CreatedAt.After(latest.CreatedAt) {
			latest = token
			found = true
		}
	}
	return latest, found, nil
}

func (s *Store) ListWaiting(ctx context.Context, counter, date string) ([]models.Token, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var waiting []models.Token
	for _, token := range s.tokens {
		if token.Counter == counter && token.ServiceDate == date && token.Status == models.StatusWaiting {
			waiting = append(waiting, token)
		}
	}
	sort.Slice(waiting, func(i, j int) bool { return waiting[i].Number < waiting[j].Number })
	return waiting, nil
}

func (s *Store) ServingToken(ctx context.Context, counter, date string) (models.Token, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var latest models.Token
	found := false
	for _, token := range s.tokens {
		if token.Counter != counter || token.ServiceDate != date || token.Status != models.StatusServing {
			continue
		}
		if !found || servedAfter(token, latest) {
			latest = token
			found = true
		}
	}
	return latest, found, nil
}

func servedAfter(a, b models.Token) bool {
	if a.ServedAt == nil {
		return false
	}
	if b.ServedAt == nil {
		return true
	}
	return a.ServedAt.After(*b.ServedAt)
}

func (s *Store) TransitionToken(ctx context.Context, tokenID string, from, to models.TokenStatus, at time.Time) (models.Token, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	token, ok := s.tokens[tokenID]
	if !ok {
		return models.Token{}, store.ErrTokenNotFound
	}
	if token.Status != from || !store.ValidTransition(from, to) {
		return models.Token{}, store.ErrInvalidState
	}
	token.Status = to
	switch to {
	case models.StatusServing:
		stamp := at
		token.ServedAt = &stamp
	case models.StatusCompleted, models.StatusDropped:
		stamp := at
		token.CompletedAt = &stamp
	}
	s.tokens[tokenID] = token
	return token, nil
}

func (s *Store) ListByCounterDate(ctx context.Context, counter, date string) ([]models.Token, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var tokens []models.Token
	for _, token := range s.tokens {
		if token.Counter == counter && token.ServiceDate == date {
			tokens = append(tokens, token)
		}
	}
	sort.Slice(tokens, func(i, j int) bool { return tokens[i].Number < tokens[j].Number })
	return tokens, nil
}

func (s *Store) ListRecentCompleted(ctx context.Context, counter, date string, limit int) ([]models.Token, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var completed []models.Token
	for _, token := range s.tokens {
		if token.Counter == counter && token.ServiceDate == date && token.Status == models.StatusCompleted {
			completed = append(completed, token)
		}
	}
	sort.Slice(completed, func(i, j int) bool {
		return completedAfter(completed[i], completed[j])
	})
	if limit > 0 && len(completed) > limit {
		completed = completed[:limit]
	}
	return completed, nil
}

func completedAfter(a, b models.Token) bool {
	if a.CompletedAt == nil {
		return false
	}
	if b.CompletedAt == nil {
		return true
	}
	return a.CompletedAt.After(*b.CompletedAt)
}

func (s *Store) CountByCounterDate(ctx context.Context, counter, date string) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	count := 0
	for _, token := range s.tokens {
		if token.Counter == counter && token.ServiceDate == date {
			count++
		}
	}
	return count, nil
}

func (s *Store) ListRequesterTokens(ctx context.Context, requesterID string) ([]models.Token, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var tokens []models.Token
	for _, token := range s.tokens {
		if token.RequesterID == requesterID {
			tokens = append(tokens, token)
		}
	}
	sort.Slice(tokens, func(i, j int) bool {
		if tokens[i].ServiceDate != tokens[j].ServiceDate {
			return tokens[i].ServiceDate > tokens[j].ServiceDate
		}
		return tokens[i].CreatedAt.After(tokens[j].CreatedAt)
	})
	return tokens, nil
}

func (s *Store) OpenBreakLog(ctx context.Context, counter string, start time.Time, reason string, estimatedMinutes int) (models.BreakLog, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	breakLog := models.BreakLog{
		BreakID:          uuid.NewString(),
		Counter:          counter,
		Start:            start,
		Reason:           reason,
		EstimatedMinutes: estimatedMinutes,
	}
	s.breaks = append(s.breaks, breakLog)
	return breakLog, nil
}

func (s *Store) CloseBreakLog(ctx context.Context, counter string, end time.Time) (models.BreakLog, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := len(s.breaks) - 1; i >= 0; i-- {
		if s.breaks[i].Counter != counter || s.breaks[i].End != nil {
			continue
		}
		closed := end
		s.breaks[i].End = &closed
		s.breaks[i].ActualMinutes = int(end.Sub(s.breaks[i].Start).Minutes())
		return s.breaks[i], nil
	}
	return models.BreakLog{}, store.ErrInvalidState
}

func statusIn(status models.TokenStatus, statuses []models.TokenStatus) bool {
	for _, candidate := range statuses {
		if candidate == status {
			return true
		}
	}
	return false
}
