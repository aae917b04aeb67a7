package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"qms/token-service/internal/models"
	"qms/token-service/internal/queue"
	"qms/token-service/internal/stats"
	"qms/token-service/internal/store"
	"qms/token-service/internal/store/memory"
	"qms/token-service/internal/view"
)

type fakeEngine struct {
	generateFn    func(ctx context.Context, requesterID string) (models.Token, error)
	callNextFn    func(ctx context.Context, counter string) (models.Token, error)
	completeFn    func(ctx context.Context, counter string) (models.Token, error)
	dropFn        func(ctx context.Context, counter string) (models.Token, error)
	cancelFn      func(ctx context.Context, requesterID string) (models.Token, error)
	rescheduleFn  func(ctx context.Context, counter string) (int, error)
	expireFn      func(ctx context.Context, counter string) (int, error)
	startBreakFn  func(ctx context.Context, counter, reason string, estimatedMinutes int) error
	endBreakFn    func(ctx context.Context, counter string) error
	setStatusFn   func(ctx context.Context, counter string, status models.CounterStatus) error
	setLimitFn    func(ctx context.Context, counter string, limit int) error
	activeTokenFn func(ctx context.Context, requesterID string) (models.Token, int, error)
	historyFn     func(ctx context.Context, requesterID string) ([]queue.HistoryEntry, error)
}

func (f fakeEngine) Generate(ctx context.Context, requesterID string) (models.Token, error) {
	if f.generateFn == nil {
		return models.Token{}, nil
	}
	return f.generateFn(ctx, requesterID)
}

func (f fakeEngine) CallNext(ctx context.Context, counter string) (models.Token, error) {
	if f.callNextFn == nil {
		return models.Token{}, nil
	}
	return f.callNextFn(ctx, counter)
}

func (f fakeEngine) Complete(ctx context.Context, counter string) (models.Token, error) {
	if f.completeFn == nil {
		return models.Token{}, nil
	}
	return f.completeFn(ctx, counter)
}

func (f fakeEngine) Drop(ctx context.Context, counter string) (models.Token, error) {
	if f.dropFn == nil {
		return models.Token{}, nil
	}
	return f.dropFn(ctx, counter)
}

func (f fakeEngine) Cancel(ctx context.Context, requesterID string) (models.Token, error) {
	if f.cancelFn == nil {
		return models.Token{}, nil
	}
	return f.cancelFn(ctx, requesterID)
}

func (f fakeEngine) StopAndReschedule(ctx context.Context, counter string) (int, error) {
	if f.rescheduleFn == nil {
		return 0, nil
	}
	return f.rescheduleFn(ctx, counter)
}

func (f fakeEngine) StopAndExpire(ctx context.Context, counter string) (int, error) {
	if f.expireFn == nil {
		return 0, nil
	}
	return f.expireFn(ctx, counter)
}

func (f fakeEngine) StartBreak(ctx context.Context, counter, reason string, estimatedMinutes int) error {
	if f.startBreakFn == nil {
		return nil
	}
	return f.startBreakFn(ctx, counter, reason, estimatedMinutes)
}

func (f fakeEngine) EndBreak(ctx context.Context, counter string) error {
	if f.endBreakFn == nil {
		return nil
	}
	return f.endBreakFn(ctx, counter)
}

func (f fakeEngine) UpdateCounterStatus(ctx context.Context, counter string, status models.CounterStatus) error {
	if f.setStatusFn == nil {
		return nil
	}
	return f.setStatusFn(ctx, counter, status)
}

func (f fakeEngine) UpdateDailyLimit(ctx context.Context, counter string, limit int) error {
	if f.setLimitFn == nil {
		return nil
	}
	return f.setLimitFn(ctx, counter, limit)
}

func (f fakeEngine) ActiveToken(ctx context.Context, requesterID string) (models.Token, int, error) {
	if f.activeTokenFn == nil {
		return models.Token{}, 0, store.ErrTokenNotFound
	}
	return f.activeTokenFn(ctx, requesterID)
}

func (f fakeEngine) History(ctx context.Context, requesterID string) ([]queue.HistoryEntry, error) {
	if f.historyFn == nil {
		return nil, nil
	}
	return f.historyFn(ctx, requesterID)
}

type fakeSnapshots struct {
	counterFn func(ctx context.Context, name string) (view.CounterSnapshot, error)
	allFn     func(ctx context.Context) (view.Snapshot, error)
}

func (f fakeSnapshots) Counter(ctx context.Context, name string) (view.CounterSnapshot, error) {
	if f.counterFn == nil {
		return view.CounterSnapshot{}, nil
	}
	return f.counterFn(ctx, name)
}

func (f fakeSnapshots) All(ctx context.Context) (view.Snapshot, error) {
	if f.allFn == nil {
		return view.Snapshot{}, nil
	}
	return f.allFn(ctx)
}

func testCalc() *stats.Calculator {
	return stats.NewCalculator(memory.NewStore(), 10, 5.0, 30*time.Second)
}

func waitingToken(code string) models.Token {
	return models.Token{
		TokenID:     "token-1",
		Code:        code,
		Counter:     "A",
		RequesterID: "student-1",
		Number:      1,
		Status:      models.StatusWaiting,
		ServiceDate: "2026-09-01",
		CreatedAt:   time.Date(2026, 9, 1, 10, 0, 0, 0, time.UTC),
	}
}

func TestCreateTokenSuccess(t *testing.T) {
	engine := fakeEngine{
		generateFn: func(ctx context.Context, requesterID string) (models.Token, error) {
			token := waitingToken("A-001")
			token.RequesterID = requesterID
			return token, nil
		},
		activeTokenFn: func(ctx context.Context, requesterID string) (models.Token, int, error) {
			return waitingToken("A-001"), 0, nil
		},
	}
	h := NewHandler(engine, fakeSnapshots{}, testCalc())

	body, _ := json.Marshal(map[string]string{"requester_id": "student-1"})
	req := httptest.NewRequest(http.MethodPost, "/api/tokens", bytes.NewReader(body))
	resp := httptest.NewRecorder()

	h.Routes().ServeHTTP(resp, req)

	if resp.Code != http.StatusCreated {
		t.Fatalf("expected status 201, got %d", resp.Code)
	}

	var got tokenResponse
	if err := json.NewDecoder(resp.Body).Decode(&got); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if got.Code != "A-001" || got.Status != models.StatusWaiting {
		t.Fatalf("unexpected token response: %+v", got)
	}
	if got.EstimatedWaitMinutes != 0 {
		t.Fatalf("expected no wait at the front of the queue, got %d", got.EstimatedWaitMinutes)
	}
}

func TestCreateTokenMissingRequester(t *testing.T) {
	h := NewHandler(fakeEngine{}, fakeSnapshots{}, testCalc())

	body, _ := json.Marshal(map[string]string{"requester_id": "  "})
	req := httptest.NewRequest(http.MethodPost, "/api/tokens", bytes.NewReader(body))
	resp := httptest.NewRecorder()

	h.Routes().ServeHTTP(resp, req)

	if resp.Code != http.StatusBadRequest {
		t.Fatalf("expected status 400, got %d", resp.Code)
	}
}

func TestCreateTokenDuplicateConflict(t *testing.T) {
	engine := fakeEngine{
		generateFn: func(ctx context.Context, requesterID string) (models.Token, error) {
			return models.Token{}, store.ErrActiveTokenExists
		},
	}
	h := NewHandler(engine, fakeSnapshots{}, testCalc())

	body, _ := json.Marshal(map[string]string{"requester_id": "student-1"})
	req := httptest.NewRequest(http.MethodPost, "/api/tokens", bytes.NewReader(body))
	resp := httptest.NewRecorder()

	h.Routes().ServeHTTP(resp, req)

	if resp.Code != http.StatusConflict {
		t.Fatalf("expected status 409, got %d", resp.Code)
	}
	var got errorResponse
	if err := json.NewDecoder(resp.Body).Decode(&got); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if got.Error.Code != "active_token_exists" {
		t.Fatalf("unexpected error code %q", got.Error.Code)
	}
}

func TestCreateTokenOutsideHours(t *testing.T) {
	engine := fakeEngine{
		generateFn: func(ctx context.Context, requesterID string) (models.Token, error) {
			return models.Token{}, store.ErrOutsideHours
		},
	}
	h := NewHandler(engine, fakeSnapshots{}, testCalc())

	body, _ := json.Marshal(map[string]string{"requester_id": "student-1"})
	req := httptest.NewRequest(http.MethodPost, "/api/tokens", bytes.NewReader(body))
	resp := httptest.NewRecorder()

	h.Routes().ServeHTTP(resp, req)

	if resp.Code != http.StatusConflict {
		t.Fatalf("expected status 409, got %d", resp.Code)
	}
}

func TestActiveTokenNoContent(t *testing.T) {
	h := NewHandler(fakeEngine{}, fakeSnapshots{}, testCalc())

	req := httptest.NewRequest(http.MethodGet, "/api/tokens/active?requester_id=student-1", nil)
	resp := httptest.NewRecorder()

	h.Routes().ServeHTTP(resp, req)

	if resp.Code != http.StatusNoContent {
		t.Fatalf("expected status 204, got %d", resp.Code)
	}
}

func TestActiveTokenWithEstimate(t *testing.T) {
	engine := fakeEngine{
		activeTokenFn: func(ctx context.Context, requesterID string) (models.Token, int, error) {
			return waitingToken("A-003"), 2, nil
		},
	}
	h := NewHandler(engine, fakeSnapshots{}, testCalc())

	req := httptest.NewRequest(http.MethodGet, "/api/tokens/active?requester_id=student-1", nil)
	resp := httptest.NewRecorder()

	h.Routes().ServeHTTP(resp, req)

	if resp.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d", resp.Code)
	}
	var got tokenResponse
	if err := json.NewDecoder(resp.Body).Decode(&got); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if got.Position != 2 {
		t.Fatalf("expected position 2, got %d", got.Position)
	}
	// Empty stats backend falls back to the 5 minute default per slot.
	if got.EstimatedWaitMinutes != 10 {
		t.Fatalf("expected estimate 10 minutes, got %d", got.EstimatedWaitMinutes)
	}
}

func TestCancelTokenNotFound(t *testing.T) {
	engine := fakeEngine{
		cancelFn: func(ctx context.Context, requesterID string) (models.Token, error) {
			return models.Token{}, store.ErrTokenNotFound
		},
	}
	h := NewHandler(engine, fakeSnapshots{}, testCalc())

	body, _ := json.Marshal(map[string]string{"requester_id": "student-1"})
	req := httptest.NewRequest(http.MethodPost, "/api/tokens/cancel", bytes.NewReader(body))
	resp := httptest.NewRecorder()

	h.Routes().ServeHTTP(resp, req)

	if resp.Code != http.StatusNotFound {
		t.Fatalf("expected status 404, got %d", resp.Code)
	}
}

func TestCallNextSuccess(t *testing.T) {
	engine := fakeEngine{
		callNextFn: func(ctx context.Context, counter string) (models.Token, error) {
			token := waitingToken("A-001")
			token.Status = models.StatusServing
			return token, nil
		},
	}
	h := NewHandler(engine, fakeSnapshots{}, testCalc())

	req := httptest.NewRequest(http.MethodPost, "/api/counters/A/actions/call-next", bytes.NewReader(nil))
	resp := httptest.NewRecorder()

	h.Routes().ServeHTTP(resp, req)

	if resp.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d", resp.Code)
	}
}

func TestCallNextEmptyQueue(t *testing.T) {
	engine := fakeEngine{
		callNextFn: func(ctx context.Context, counter string) (models.Token, error) {
			return models.Token{}, store.ErrNoWaitingTokens
		},
	}
	h := NewHandler(engine, fakeSnapshots{}, testCalc())

	req := httptest.NewRequest(http.MethodPost, "/api/counters/A/actions/call-next", bytes.NewReader(nil))
	resp := httptest.NewRecorder()

	h.Routes().ServeHTTP(resp, req)

	if resp.Code != http.StatusConflict {
		t.Fatalf("expected status 409, got %d", resp.Code)
	}
	var got errorResponse
	if err := json.NewDecoder(resp.Body).Decode(&got); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if got.Error.Code != "queue_empty" {
		t.Fatalf("unexpected error code %q", got.Error.Code)
	}
}

func TestStopRescheduleReturnsCount(t *testing.T) {
	engine := fakeEngine{
		rescheduleFn: func(ctx context.Context, counter string) (int, error) {
			return 4, nil
		},
	}
	h := NewHandler(engine, fakeSnapshots{}, testCalc())

	req := httptest.NewRequest(http.MethodPost, "/api/counters/A/actions/stop-reschedule", bytes.NewReader(nil))
	resp := httptest.NewRecorder()

	h.Routes().ServeHTTP(resp, req)

	if resp.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d", resp.Code)
	}
	var got map[string]int
	if err := json.NewDecoder(resp.Body).Decode(&got); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if got["rescheduled"] != 4 {
		t.Fatalf("unexpected body: %v", got)
	}
}

func TestBreakStartValidation(t *testing.T) {
	h := NewHandler(fakeEngine{}, fakeSnapshots{}, testCalc())

	body, _ := json.Marshal(map[string]interface{}{"reason": "lunch", "estimated_minutes": -1})
	req := httptest.NewRequest(http.MethodPost, "/api/counters/A/actions/break-start", bytes.NewReader(body))
	resp := httptest.NewRecorder()

	h.Routes().ServeHTTP(resp, req)

	if resp.Code != http.StatusBadRequest {
		t.Fatalf("expected status 400, got %d", resp.Code)
	}
}

func TestCounterStatusValidation(t *testing.T) {
	h := NewHandler(fakeEngine{}, fakeSnapshots{}, testCalc())

	body, _ := json.Marshal(map[string]string{"status": "NAPPING"})
	req := httptest.NewRequest(http.MethodPost, "/api/counters/A/actions/status", bytes.NewReader(body))
	resp := httptest.NewRecorder()

	h.Routes().ServeHTTP(resp, req)

	if resp.Code != http.StatusBadRequest {
		t.Fatalf("expected status 400, got %d", resp.Code)
	}
}

func TestDailyLimitValidation(t *testing.T) {
	h := NewHandler(fakeEngine{}, fakeSnapshots{}, testCalc())

	for _, limit := range []int{0, 201} {
		body, _ := json.Marshal(map[string]int{"daily_limit": limit})
		req := httptest.NewRequest(http.MethodPost, "/api/counters/A/actions/limit", bytes.NewReader(body))
		resp := httptest.NewRecorder()

		h.Routes().ServeHTTP(resp, req)

		if resp.Code != http.StatusBadRequest {
			t.Fatalf("limit %d: expected status 400, got %d", limit, resp.Code)
		}
	}
}

func TestSnapshotAll(t *testing.T) {
	snapshots := fakeSnapshots{
		allFn: func(ctx context.Context) (view.Snapshot, error) {
			return view.Snapshot{
				Date:         "2026-09-01",
				TotalWaiting: 7,
				Counters: []view.CounterSnapshot{
					{Counter: "A", WaitingCount: 4},
					{Counter: "B", WaitingCount: 3},
				},
			}, nil
		},
	}
	h := NewHandler(fakeEngine{}, snapshots, testCalc())

	req := httptest.NewRequest(http.MethodGet, "/api/queue/snapshot", nil)
	resp := httptest.NewRecorder()

	h.Routes().ServeHTTP(resp, req)

	if resp.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d", resp.Code)
	}
	var got view.Snapshot
	if err := json.NewDecoder(resp.Body).Decode(&got); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if got.TotalWaiting != 7 || len(got.Counters) != 2 {
		t.Fatalf("unexpected snapshot: %+v", got)
	}
}

func TestSnapshotSingleCounter(t *testing.T) {
	snapshots := fakeSnapshots{
		counterFn: func(ctx context.Context, name string) (view.CounterSnapshot, error) {
			if name != "B" {
				t.Fatalf("expected counter B, got %s", name)
			}
			return view.CounterSnapshot{Counter: name, WaitingCount: 3}, nil
		},
	}
	h := NewHandler(fakeEngine{}, snapshots, testCalc())

	req := httptest.NewRequest(http.MethodGet, "/api/queue/snapshot?counter=B", nil)
	resp := httptest.NewRecorder()

	h.Routes().ServeHTTP(resp, req)

	if resp.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d", resp.Code)
	}
}

func TestMethodNotAllowed(t *testing.T) {
	h := NewHandler(fakeEngine{}, fakeSnapshots{}, testCalc())

	req := httptest.NewRequest(http.MethodGet, "/api/tokens", nil)
	resp := httptest.NewRecorder()

	h.Routes().ServeHTTP(resp, req)

	if resp.Code != http.StatusMethodNotAllowed {
		t.Fatalf("expected status 405, got %d", resp.Code)
	}
}
