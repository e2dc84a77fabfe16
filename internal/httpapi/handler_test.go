package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"mediqueue/internal/models"
	"mediqueue/internal/store"
	"mediqueue/internal/throttle"

	"github.com/google/uuid"
)

type fakeStore struct {
	createFn     func(ctx context.Context, input store.CreateTicketInput) (models.Ticket, error)
	getTicketFn  func(ctx context.Context, ticketID string) (models.Ticket, error)
	callNextFn   func(ctx context.Context, input store.CallNextInput) (models.Ticket, error)
	resolveFn    func(ctx context.Context, input store.ResolveInput) (models.Ticket, error)
	deleteFn     func(ctx context.Context, ticketID string, hard bool) error
	snapshotFn   func(ctx context.Context) ([]store.QueueEntry, error)
	nowCallingFn func(ctx context.Context) (models.Ticket, bool, error)
	recapFn      func(ctx context.Context, limit int) ([]models.Ticket, error)
	statsFn      func(ctx context.Context) (store.DailyStats, error)
	outboxFn     func(ctx context.Context, after time.Time, limit int) ([]store.OutboxEvent, error)
	sessionFn    func(ctx context.Context, sessionID string) (store.Session, error)
}

func (f fakeStore) CreateTicket(ctx context.Context, input store.CreateTicketInput) (models.Ticket, error) {
	if f.createFn == nil {
		return models.Ticket{}, nil
	}
	return f.createFn(ctx, input)
}

func (f fakeStore) GetTicket(ctx context.Context, ticketID string) (models.Ticket, error) {
	if f.getTicketFn == nil {
		return models.Ticket{}, nil
	}
	return f.getTicketFn(ctx, ticketID)
}

func (f fakeStore) CallNext(ctx context.Context, input store.CallNextInput) (models.Ticket, error) {
	if f.callNextFn == nil {
		return models.Ticket{}, nil
	}
	return f.callNextFn(ctx, input)
}

func (f fakeStore) ResolveTicket(ctx context.Context, input store.ResolveInput) (models.Ticket, error) {
	if f.resolveFn == nil {
		return models.Ticket{}, nil
	}
	return f.resolveFn(ctx, input)
}

func (f fakeStore) DeleteTicket(ctx context.Context, ticketID string, hard bool) error {
	if f.deleteFn == nil {
		return nil
	}
	return f.deleteFn(ctx, ticketID, hard)
}

func (f fakeStore) RoomAvailable(ctx context.Context, roomID string) (bool, error) {
	return true, nil
}

func (f fakeStore) FindAvailableRoom(ctx context.Context, areaID string) (models.Room, error) {
	return models.Room{}, nil
}

func (f fakeStore) QueueSnapshot(ctx context.Context) ([]store.QueueEntry, error) {
	if f.snapshotFn == nil {
		return nil, nil
	}
	return f.snapshotFn(ctx)
}

func (f fakeStore) NowCalling(ctx context.Context) (models.Ticket, bool, error) {
	if f.nowCallingFn == nil {
		return models.Ticket{}, false, nil
	}
	return f.nowCallingFn(ctx)
}

func (f fakeStore) Recap(ctx context.Context, limit int) ([]models.Ticket, error) {
	if f.recapFn == nil {
		return nil, nil
	}
	return f.recapFn(ctx, limit)
}

func (f fakeStore) Stats(ctx context.Context) (store.DailyStats, error) {
	if f.statsFn == nil {
		return store.DailyStats{}, nil
	}
	return f.statsFn(ctx)
}

func (f fakeStore) ResolveArea(ctx context.Context, areaID string) (models.Area, error) {
	return models.Area{}, nil
}

func (f fakeStore) ResolveRoom(ctx context.Context, roomID string) (models.Room, error) {
	return models.Room{}, nil
}

func (f fakeStore) ResolvePatient(ctx context.Context, patientID string) (models.Patient, error) {
	return models.Patient{}, nil
}

func (f fakeStore) ListOutboxEvents(ctx context.Context, after time.Time, limit int) ([]store.OutboxEvent, error) {
	if f.outboxFn == nil {
		return nil, nil
	}
	return f.outboxFn(ctx, after, limit)
}

func (f fakeStore) GetSession(ctx context.Context, sessionID string) (store.Session, error) {
	if f.sessionFn == nil {
		return store.Session{}, store.ErrSessionNotFound
	}
	return f.sessionFn(ctx, sessionID)
}

func postJSON(t *testing.T, handler http.Handler, path string, payload any) *httptest.ResponseRecorder {
	t.Helper()
	body, err := json.Marshal(payload)
	if err != nil {
		t.Fatalf("marshal payload: %v", err)
	}
	req := httptest.NewRequest(http.MethodPost, path, bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	return rec
}

func decodeErrorCode(t *testing.T, rec *httptest.ResponseRecorder) string {
	t.Helper()
	var resp errorResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode error response: %v (body %q)", err, rec.Body.String())
	}
	return resp.Error.Code
}

func TestCreateTicketOK(t *testing.T) {
	areaID := uuid.NewString()
	handler := NewHandler(fakeStore{
		createFn: func(ctx context.Context, input store.CreateTicketInput) (models.Ticket, error) {
			if input.AreaID != areaID {
				t.Fatalf("area_id = %q, want %q", input.AreaID, areaID)
			}
			return models.Ticket{TicketID: uuid.NewString(), SequenceNumber: 7, AreaID: areaID, Status: models.StatusWaiting}, nil
		},
	}, Options{}).Routes()

	rec := postJSON(t, handler, "/api/tickets", map[string]string{"area_id": areaID})
	if rec.Code != http.StatusCreated {
		t.Fatalf("status = %d, want 201 (body %s)", rec.Code, rec.Body.String())
	}
	var ticket models.Ticket
	if err := json.Unmarshal(rec.Body.Bytes(), &ticket); err != nil {
		t.Fatalf("decode ticket: %v", err)
	}
	if ticket.SequenceNumber != 7 {
		t.Fatalf("sequence = %d, want 7", ticket.SequenceNumber)
	}
}

func TestCreateTicketValidation(t *testing.T) {
	handler := NewHandler(fakeStore{}, Options{}).Routes()

	cases := []struct {
		name    string
		payload map[string]string
		code    string
	}{
		{"missing ids", map[string]string{}, "invalid_request"},
		{"both ids", map[string]string{"area_id": uuid.NewString(), "room_id": uuid.NewString()}, "invalid_request"},
		{"bad area id", map[string]string{"area_id": "not-a-uuid"}, "invalid_request"},
		{"bad room id", map[string]string{"room_id": "nope"}, "invalid_request"},
		{"bad patient id", map[string]string{"area_id": uuid.NewString(), "patient_id": "nope"}, "invalid_request"},
		{"unknown field", map[string]string{"area_id": uuid.NewString(), "extra": "x"}, "invalid_json"},
	}
	for _, tt := range cases {
		rec := postJSON(t, handler, "/api/tickets", tt.payload)
		if rec.Code != http.StatusBadRequest {
			t.Fatalf("%s: status = %d, want 400", tt.name, rec.Code)
		}
		if code := decodeErrorCode(t, rec); code != tt.code {
			t.Fatalf("%s: code = %q, want %q", tt.name, code, tt.code)
		}
	}
}

func TestCreateTicketNoRoomAvailable(t *testing.T) {
	handler := NewHandler(fakeStore{
		createFn: func(ctx context.Context, input store.CreateTicketInput) (models.Ticket, error) {
			return models.Ticket{}, store.ErrNoRoomAvailable
		},
	}, Options{}).Routes()

	rec := postJSON(t, handler, "/api/tickets", map[string]string{"area_id": uuid.NewString()})
	if rec.Code != http.StatusConflict {
		t.Fatalf("status = %d, want 409", rec.Code)
	}
	if code := decodeErrorCode(t, rec); code != "no_room_available" {
		t.Fatalf("code = %q, want no_room_available", code)
	}
}

func TestCallNextQueueEmpty(t *testing.T) {
	handler := NewHandler(fakeStore{
		callNextFn: func(ctx context.Context, input store.CallNextInput) (models.Ticket, error) {
			return models.Ticket{}, store.ErrNoTicketWaiting
		},
	}, Options{}).Routes()

	rec := postJSON(t, handler, "/api/rooms/call-next", map[string]string{"room_id": uuid.NewString()})
	if rec.Code != http.StatusConflict {
		t.Fatalf("status = %d, want 409", rec.Code)
	}
	if code := decodeErrorCode(t, rec); code != "queue_empty" {
		t.Fatalf("code = %q, want queue_empty", code)
	}
}

func TestTicketActionRoutes(t *testing.T) {
	ticketID := uuid.NewString()
	var gotOutcome string
	handler := NewHandler(fakeStore{
		resolveFn: func(ctx context.Context, input store.ResolveInput) (models.Ticket, error) {
			gotOutcome = input.Outcome
			return models.Ticket{TicketID: input.TicketID, Status: models.StatusAttended}, nil
		},
	}, Options{}).Routes()

	cases := []struct {
		action  string
		outcome string
	}{
		{"attend", store.OutcomeAttended},
		{"cancel", store.OutcomeCancelled},
		{"no-show", store.OutcomeNoShow},
	}
	for _, tt := range cases {
		rec := postJSON(t, handler, "/api/tickets/"+ticketID+"/actions/"+tt.action, map[string]string{})
		if rec.Code != http.StatusOK {
			t.Fatalf("%s: status = %d, want 200 (body %s)", tt.action, rec.Code, rec.Body.String())
		}
		if gotOutcome != tt.outcome {
			t.Fatalf("%s: outcome = %q, want %q", tt.action, gotOutcome, tt.outcome)
		}
	}

	rec := postJSON(t, handler, "/api/tickets/"+ticketID+"/actions/promote", map[string]string{})
	if rec.Code != http.StatusNotFound {
		t.Fatalf("unknown action status = %d, want 404", rec.Code)
	}
}

func TestTicketActionInvalidTransition(t *testing.T) {
	handler := NewHandler(fakeStore{
		resolveFn: func(ctx context.Context, input store.ResolveInput) (models.Ticket, error) {
			return models.Ticket{}, store.ErrInvalidTransition
		},
	}, Options{}).Routes()

	rec := postJSON(t, handler, "/api/tickets/"+uuid.NewString()+"/actions/attend", map[string]string{})
	if rec.Code != http.StatusConflict {
		t.Fatalf("status = %d, want 409", rec.Code)
	}
	if code := decodeErrorCode(t, rec); code != "invalid_transition" {
		t.Fatalf("code = %q, want invalid_transition", code)
	}
}

func TestDeleteTicket(t *testing.T) {
	var gotHard bool
	handler := NewHandler(fakeStore{
		deleteFn: func(ctx context.Context, ticketID string, hard bool) error {
			gotHard = hard
			return nil
		},
	}, Options{}).Routes()

	req := httptest.NewRequest(http.MethodDelete, "/api/tickets/"+uuid.NewString()+"?hard=true", nil)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	if rec.Code != http.StatusNoContent {
		t.Fatalf("status = %d, want 204", rec.Code)
	}
	if !gotHard {
		t.Fatal("hard flag not propagated")
	}

	req = httptest.NewRequest(http.MethodDelete, "/api/tickets/"+uuid.NewString()+"?hard=maybe", nil)
	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("bad hard flag status = %d, want 400", rec.Code)
	}
}

func TestNowCallingEmpty(t *testing.T) {
	handler := NewHandler(fakeStore{}, Options{}).Routes()

	req := httptest.NewRequest(http.MethodGet, "/api/queue/calling", nil)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	if rec.Code != http.StatusNoContent {
		t.Fatalf("status = %d, want 204", rec.Code)
	}
}

func TestRecapUsesDefaultLimit(t *testing.T) {
	var gotLimit int
	handler := NewHandler(fakeStore{
		recapFn: func(ctx context.Context, limit int) ([]models.Ticket, error) {
			gotLimit = limit
			return nil, nil
		},
	}, Options{RecapLimit: 8}).Routes()

	req := httptest.NewRequest(http.MethodGet, "/api/queue/recap", nil)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	if gotLimit != 8 {
		t.Fatalf("limit = %d, want configured default 8", gotLimit)
	}
	if rec.Body.String() != "[]\n" {
		t.Fatalf("empty recap body = %q, want []", rec.Body.String())
	}

	req = httptest.NewRequest(http.MethodGet, "/api/queue/recap?limit=0", nil)
	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("limit=0 status = %d, want 400", rec.Code)
	}
}

func TestQueueSnapshotEndpoint(t *testing.T) {
	handler := NewHandler(fakeStore{
		snapshotFn: func(ctx context.Context) ([]store.QueueEntry, error) {
			return []store.QueueEntry{
				{SequenceNumber: 1, RoomNumber: 2, AreaName: "Cardiology", Status: models.StatusCalling},
				{SequenceNumber: 2, RoomNumber: 1, AreaName: "Cardiology", Status: models.StatusWaiting},
			}, nil
		},
	}, Options{}).Routes()

	req := httptest.NewRequest(http.MethodGet, "/api/queue", nil)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	var entries []store.QueueEntry
	if err := json.Unmarshal(rec.Body.Bytes(), &entries); err != nil {
		t.Fatalf("decode entries: %v", err)
	}
	if len(entries) != 2 || entries[0].Status != models.StatusCalling {
		t.Fatalf("entries = %+v", entries)
	}
}

func TestAuthMiddleware(t *testing.T) {
	staffToken := "staff-token"
	patientToken := "patient-token"
	st := fakeStore{
		sessionFn: func(ctx context.Context, sessionID string) (store.Session, error) {
			switch sessionID {
			case staffToken:
				return store.Session{SessionID: sessionID, Staff: true, ExpiresAt: time.Now().Add(time.Hour)}, nil
			case patientToken:
				return store.Session{SessionID: sessionID, Staff: false, ExpiresAt: time.Now().Add(time.Hour)}, nil
			default:
				return store.Session{}, store.ErrSessionNotFound
			}
		},
	}
	handler := AuthMiddleware(st, NewHandler(st, Options{}).Routes())

	// Staff endpoint without a session.
	rec := postJSON(t, handler, "/api/rooms/call-next", map[string]string{"room_id": uuid.NewString()})
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("anonymous call-next status = %d, want 401", rec.Code)
	}

	// Staff endpoint with a non-staff session.
	body, _ := json.Marshal(map[string]string{"room_id": uuid.NewString()})
	req := httptest.NewRequest(http.MethodPost, "/api/rooms/call-next", bytes.NewReader(body))
	req.Header.Set("Authorization", "Bearer "+patientToken)
	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	if rec.Code != http.StatusForbidden {
		t.Fatalf("patient call-next status = %d, want 403", rec.Code)
	}

	// Staff endpoint with a staff session.
	req = httptest.NewRequest(http.MethodPost, "/api/rooms/call-next", bytes.NewReader(body))
	req.Header.Set("Authorization", "Bearer "+staffToken)
	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("staff call-next status = %d, want 200 (body %s)", rec.Code, rec.Body.String())
	}

	// Ticket submission stays public.
	rec = postJSON(t, handler, "/api/tickets", map[string]string{"area_id": uuid.NewString()})
	if rec.Code != http.StatusCreated {
		t.Fatalf("public submit status = %d, want 201", rec.Code)
	}

	// Queue view stays public.
	req = httptest.NewRequest(http.MethodGet, "/api/queue", nil)
	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("public queue status = %d, want 200", rec.Code)
	}

	// Unknown paths reach the router and 404 rather than demanding a session.
	req = httptest.NewRequest(http.MethodGet, "/api/rooms", nil)
	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	if rec.Code != http.StatusNotFound {
		t.Fatalf("unknown path status = %d, want 404", rec.Code)
	}
}

func TestThrottleMiddleware(t *testing.T) {
	gate := throttle.NewMemoryGate(10 * time.Second)
	handler := ThrottleMiddleware(gate, NewHandler(fakeStore{}, Options{}).Routes())

	payload := map[string]string{"area_id": uuid.NewString()}

	rec := postJSON(t, handler, "/api/tickets", payload)
	if rec.Code != http.StatusCreated {
		t.Fatalf("first submit status = %d, want 201", rec.Code)
	}

	rec = postJSON(t, handler, "/api/tickets", payload)
	if rec.Code != http.StatusTooManyRequests {
		t.Fatalf("second submit status = %d, want 429", rec.Code)
	}
	if rec.Header().Get("Retry-After") == "" {
		t.Fatal("Retry-After header missing")
	}
	if code := decodeErrorCode(t, rec); code != "too_many_requests" {
		t.Fatalf("code = %q, want too_many_requests", code)
	}

	// Reads are never throttled.
	req := httptest.NewRequest(http.MethodGet, "/api/queue", nil)
	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("queue view status = %d, want 200", rec.Code)
	}
}

func TestRateLimiterCapsBursts(t *testing.T) {
	limiter := NewRateLimiter(RateLimitConfig{PerMinute: 60, Burst: 2})
	t.Cleanup(limiter.Close)
	handler := limiter.Middleware(NewHandler(fakeStore{}, Options{}).Routes())

	var last int
	for i := 0; i < 3; i++ {
		req := httptest.NewRequest(http.MethodGet, "/api/queue", nil)
		req.RemoteAddr = "203.0.113.9:1234"
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, req)
		last = rec.Code
	}
	if last != http.StatusTooManyRequests {
		t.Fatalf("third burst request status = %d, want 429", last)
	}
}
