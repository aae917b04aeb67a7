package postgres

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"qms/token-service/internal/models"
	"qms/token-service/internal/store"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

type Store struct {
	pool *pgxpool.Pool
}

func NewStore(pool *pgxpool.Pool) *Store {
	return &Store{pool: pool}
}

const counterColumns = "name, status, daily_limit, break_started_at, break_reason, estimated_break_minutes, created_at"

func (s *Store) GetCounter(ctx context.Context, name string) (models.Counter, error) {
	row := s.pool.QueryRow(ctx, `
		SELECT `+counterColumns+`
		FROM counters
		WHERE name = $1
	`, name)
	counter, err := scanCounter(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return models.Counter{}, store.ErrCounterNotFound
		}
		return models.Counter{}, err
	}
	return counter, nil
}

func (s *Store) ListCounters(ctx context.Context) ([]models.Counter, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT `+counterColumns+`
		FROM counters
		ORDER BY name ASC
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var counters []models.Counter
	for rows.Next() {
		counter, err := scanCounter(rows)
		if err != nil {
			return nil, err
		}
		counters = append(counters, counter)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return counters, nil
}

func (s *Store) UpdateCounter(ctx context.Context, counter models.Counter) error {
	tag, err := s.pool.Exec(ctx, `
		UPDATE counters
		SET status = $1,
			daily_limit = $2,
			break_started_at = $3,
			break_reason = $4,
			estimated_break_minutes = $5
		WHERE name = $6
	`, string(counter.Status), counter.DailyLimit, counter.BreakStartedAt,
		nullIfEmpty(counter.BreakReason), counter.EstimatedBreakMinutes, counter.Name)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return store.ErrCounterNotFound
	}
	return nil
}

func (s *Store) EnsureCounter(ctx context.Context, name string, dailyLimit int) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO counters (name, status, daily_limit, created_at)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (name) DO NOTHING
	`, name, string(models.CounterActive), dailyLimit, time.Now().UTC())
	return err
}

func (s *Store) NextTokenNumber(ctx context.Context, counter, date string) (int, error) {
	var next int
	row := s.pool.QueryRow(ctx, `
		INSERT INTO daily_sequences (counter, service_date, last_number)
		VALUES ($1, $2, 1)
		ON CONFLICT (counter, service_date)
		DO UPDATE SET last_number = daily_sequences.last_number + 1
		RETURNING last_number
	`, counter, date)
	if err := row.Scan(&next); err != nil {
		return 0, err
	}
	return next, nil
}

func (s *Store) SeedSequence(ctx context.Context, counter, date string, last int) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO daily_sequences (counter, service_date, last_number)
		VALUES ($1, $2, $3)
		ON CONFLICT (counter, service_date)
		DO UPDATE SET last_number = $3
	`, counter, date, last)
	return err
}

func (s *Store) LastAssigned(ctx context.Context, date string) (string, bool, error) {
	var counter string
	row := s.pool.QueryRow(ctx, `
		SELECT last_counter
		FROM rotation_state
		WHERE service_date = $1
	`, date)
	if err := row.Scan(&counter); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return "", false, nil
		}
		return "", false, err
	}
	return counter, true, nil
}

func (s *Store) SetLastAssigned(ctx context.Context, date, counter string) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO rotation_state (service_date, last_counter)
		VALUES ($1, $2)
		ON CONFLICT (service_date)
		DO UPDATE SET last_counter = $2
	`, date, counter)
	return err
}

const tokenColumns = "token_id, code, counter, requester_id, number, status, service_date, created_at, served_at, completed_at, rescheduled, original_service_date"

func (s *Store) CreateToken(ctx context.Context, input store.CreateTokenInput) (models.Token, error) {
	input = fillTokenDefaults(input)

	// The insert and the no-open-token precondition are one statement,
	// so two concurrent generates for the same requester cannot both
	// pass the check before either inserts.
	row := s.pool.QueryRow(ctx, `
		INSERT INTO tokens (token_id, code, counter, requester_id, number, status, service_date, created_at, rescheduled, original_service_date)
		SELECT $1, $2, $3, $4, $5, $6, $7, $8, $9, $10
		WHERE NOT EXISTS (
			SELECT 1 FROM tokens
			WHERE requester_id = $4 AND service_date = $7 AND status IN ('WAITING', 'SERVING')
		)
		RETURNING `+tokenColumns+`
	`, input.TokenID, input.Code, input.Counter, input.RequesterID, input.Number,
		string(models.StatusWaiting), input.ServiceDate, input.CreatedAt,
		input.Rescheduled, nullIfEmpty(input.OriginalServiceDate))
	token, err := scanToken(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return models.Token{}, store.ErrActiveTokenExists
		}
		return models.Token{}, err
	}
	return token, nil
}

func (s *Store) CreateTokens(ctx context.Context, inputs []store.CreateTokenInput) ([]models.Token, error) {
	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return nil, err
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback(ctx)
		}
	}()

	tokens := make([]models.Token, 0, len(inputs))
	for _, input := range inputs {
		input = fillTokenDefaults(input)
		row := tx.QueryRow(ctx, `
			INSERT INTO tokens (token_id, code, counter, requester_id, number, status, service_date, created_at, rescheduled, original_service_date)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
			RETURNING `+tokenColumns+`
		`, input.TokenID, input.Code, input.Counter, input.RequesterID, input.Number,
			string(models.StatusWaiting), input.ServiceDate, input.CreatedAt,
			input.Rescheduled, nullIfEmpty(input.OriginalServiceDate))
		var token models.Token
		token, err = scanToken(row)
		if err != nil {
			return nil, err
		}
		tokens = append(tokens, token)
	}

	if err = tx.Commit(ctx); err != nil {
		return nil, err
	}
	return tokens, nil
}

func fillTokenDefaults(input store.CreateTokenInput) store.CreateTokenInput {
	if input.TokenID == "" {
		input.TokenID = uuid.NewString()
	}
	if input.CreatedAt.IsZero() {
		input.CreatedAt = time.Now().UTC()
	}
	return input
}

func (s *Store) GetToken(ctx context.Context, tokenID string) (models.Token, error) {
	row := s.pool.QueryRow(ctx, `
		SELECT `+tokenColumns+`
		FROM tokens
		WHERE token_id = $1
	`, tokenID)
	token, err := scanToken(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return models.Token{}, store.ErrTokenNotFound
		}
		return models.Token{}, err
	}
	return token, nil
}

func (s *Store) ActiveTokenForRequester(ctx context.Context, requesterID, date string, statuses []models.TokenStatus) (models.Token, bool, error) {
	states := make([]string, 0, len(statuses))
	for _, status := range statuses {
		states = append(states, string(status))
	}
	row := s.pool.QueryRow(ctx, `
		SELECT `+tokenColumns+`
		FROM tokens
		WHERE requester_id = $1 AND service_date = $2 AND status = ANY($3)
		ORDER BY created_at DESC
		LIMIT 1
	`, requesterID, date, states)
	token, err := scanToken(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return models.Token{}, false, nil
		}
		return models.Token{}, false, err
	}
	return token, true, nil
}

func (s *Store) ListWaiting(ctx context.Context, counter, date string) ([]models.Token, error) {
	return s.listTokens(ctx, `
		SELECT `+tokenColumns+`
		FROM tokens
		WHERE counter = $1 AND service_date = $2 AND status = 'WAITING'
		ORDER BY number ASC
	`, counter, date)
}

func (s *Store) ServingToken(ctx context.Context, counter, date string) (models.Token, bool, error) {
	row := s.pool.QueryRow(ctx, `
		SELECT `+tokenColumns+`
		FROM tokens
		WHERE counter = $1 AND service_date = $2 AND status = 'SERVING'
		ORDER BY served_at DESC NULLS LAST
		LIMIT 1
	`, counter, date)
	token, err := scanToken(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return models.Token{}, false, nil
		}
		return models.Token{}, false, err
	}
	return token, true, nil
}

func (s *Store) TransitionToken(ctx context.Context, tokenID string, from, to models.TokenStatus, at time.Time) (models.Token, error) {
	if !store.ValidTransition(from, to) {
		return models.Token{}, store.ErrInvalidState
	}

	stampColumn := ""
	switch to {
	case models.StatusServing:
		stampColumn = ", served_at = $4"
	case models.StatusCompleted, models.StatusDropped:
		stampColumn = ", completed_at = $4"
	}

	query := `
		UPDATE tokens
		SET status = $1` + stampColumn + `
		WHERE token_id = $2 AND status = $3
		RETURNING ` + tokenColumns
	args := []interface{}{string(to), tokenID, string(from)}
	if stampColumn != "" {
		args = append(args, at)
	}

	row := s.pool.QueryRow(ctx, query, args...)
	token, err := scanToken(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			if _, getErr := s.GetToken(ctx, tokenID); errors.Is(getErr, store.ErrTokenNotFound) {
				return models.Token{}, store.ErrTokenNotFound
			}
			return models.Token{}, store.ErrInvalidState
		}
		return models.Token{}, err
	}
	return token, nil
}

func (s *Store) ListByCounterDate(ctx context.Context, counter, date string) ([]models.Token, error) {
	return s.listTokens(ctx, `
		SELECT `+tokenColumns+`
		FROM tokens
		WHERE counter = $1 AND service_date = $2
		ORDER BY number ASC
	`, counter, date)
}

func (s *Store) ListRecentCompleted(ctx context.Context, counter, date string, limit int) ([]models.Token, error) {
	if limit <= 0 {
		limit = 10
	}
	return s.listTokens(ctx, `
		SELECT `+tokenColumns+`
		FROM tokens
		WHERE counter = $1 AND service_date = $2 AND status = 'COMPLETED'
		ORDER BY completed_at DESC NULLS LAST
		LIMIT $3
	`, counter, date, limit)
}

func (s *Store) CountByCounterDate(ctx context.Context, counter, date string) (int, error) {
	var count int
	row := s.pool.QueryRow(ctx, `
		SELECT COUNT(*)
		FROM tokens
		WHERE counter = $1 AND service_date = $2
	`, counter, date)
	if err := row.Scan(&count); err != nil {
		return 0, err
	}
	return count, nil
}

func (s *Store) ListRequesterTokens(ctx context.Context, requesterID string) ([]models.Token, error) {
	return s.listTokens(ctx, `
		SELECT `+tokenColumns+`
		FROM tokens
		WHERE requester_id = $1
		ORDER BY service_date DESC, created_at DESC
	`, requesterID)
}

func (s *Store) OpenBreakLog(ctx context.Context, counter string, start time.Time, reason string, estimatedMinutes int) (models.BreakLog, error) {
	breakLog := models.BreakLog{
		BreakID:          uuid.NewString(),
		Counter:          counter,
		Start:            start,
		Reason:           reason,
		EstimatedMinutes: estimatedMinutes,
	}
	_, err := s.pool.Exec(ctx, `
		INSERT INTO break_logs (break_id, counter, break_start, reason, estimated_minutes)
		VALUES ($1, $2, $3, $4, $5)
	`, breakLog.BreakID, counter, start, nullIfEmpty(reason), estimatedMinutes)
	if err != nil {
		return models.BreakLog{}, err
	}
	return breakLog, nil
}

func (s *Store) CloseBreakLog(ctx context.Context, counter string, end time.Time) (models.BreakLog, error) {
	var breakLog models.BreakLog
	var reasonNull sql.NullString
	var endNull sql.NullTime
	row := s.pool.QueryRow(ctx, `
		UPDATE break_logs
		SET break_end = $1,
			actual_minutes = EXTRACT(EPOCH FROM ($1 - break_start))::int / 60
		WHERE break_id = (
			SELECT break_id FROM break_logs
			WHERE counter = $2 AND break_end IS NULL
			ORDER BY break_start DESC
			LIMIT 1
		)
		RETURNING break_id, counter, break_start, break_end, reason, estimated_minutes, actual_minutes
	`, end, counter)
	if err := row.Scan(&breakLog.BreakID, &breakLog.Counter, &breakLog.Start, &endNull,
		&reasonNull, &breakLog.EstimatedMinutes, &breakLog.ActualMinutes); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return models.BreakLog{}, store.ErrInvalidState
		}
		return models.BreakLog{}, err
	}
	if endNull.Valid {
		closed := endNull.Time
		breakLog.End = &closed
	}
	breakLog.Reason = reasonNull.String
	return breakLog, nil
}

func (s *Store) listTokens(ctx context.Context, query string, args ...interface{}) ([]models.Token, error) {
	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var tokens []models.Token
	for rows.Next() {
		token, err := scanToken(rows)
		if err != nil {
			return nil, err
		}
		tokens = append(tokens, token)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return tokens, nil
}

func scanToken(row pgx.Row) (models.Token, error) {
	var token models.Token
	var status string
	var servedAtNull sql.NullTime
	var completedAtNull sql.NullTime
	var originalDateNull sql.NullString
	if err := row.Scan(&token.TokenID, &token.Code, &token.Counter, &token.RequesterID,
		&token.Number, &status, &token.ServiceDate, &token.CreatedAt,
		&servedAtNull, &completedAtNull, &token.Rescheduled, &originalDateNull); err != nil {
		return models.Token{}, err
	}
	token.Status = models.TokenStatus(status)
	if servedAtNull.Valid {
		served := servedAtNull.Time
		token.ServedAt = &served
	}
	if completedAtNull.Valid {
		completed := completedAtNull.Time
		token.CompletedAt = &completed
	}
	if originalDateNull.Valid {
		token.OriginalServiceDate = originalDateNull.String
	}
	return token, nil
}

func scanCounter(row pgx.Row) (models.Counter, error) {
	var counter models.Counter
	var status string
	var breakStartedNull sql.NullTime
	var breakReasonNull sql.NullString
	var estimatedNull sql.NullInt64
	if err := row.Scan(&counter.Name, &status, &counter.DailyLimit,
		&breakStartedNull, &breakReasonNull, &estimatedNull, &counter.CreatedAt); err != nil {
		return models.Counter{}, err
	}
	counter.Status = models.CounterStatus(status)
	if breakStartedNull.Valid {
		started := breakStartedNull.Time
		counter.BreakStartedAt = &started
	}
	counter.BreakReason = breakReasonNull.String
	counter.EstimatedBreakMinutes = int(estimatedNull.Int64)
	return counter, nil
}

func nullIfEmpty(value string) interface{} {
	if value == "" {
		return nil
	}
	return value
}
