package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"qms/shop-queue/internal/hub"
	"qms/shop-queue/internal/models"
	"qms/shop-queue/internal/queue"
	"qms/shop-queue/internal/store"

	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	testShopID   = "7f1c2a52-2f51-4a61-9d43-6c6b1f0f5a01"
	testTicketID = "0c4b6f0e-7d8a-4a3e-9d3c-2a8e4f3b1c02"
	testBarberID = "5d2e8c1a-9b7f-4e6d-8c5b-3a1f2e4d6c03"
	testService  = "9a8b7c6d-5e4f-4a3b-8c2d-1e0f9a8b7c04"
)

type fakeQueue struct {
	createWalkInFn func(ctx context.Context, in queue.WalkInInput) (models.Ticket, error)
	createApptFn   func(ctx context.Context, in queue.AppointmentInput) (models.Ticket, error)
	assignFn       func(ctx context.Context, ticketID, barberID string) (models.Ticket, error)
	completeFn     func(ctx context.Context, ticketID string) (models.Ticket, error)
	cancelFn       func(ctx context.Context, ticketID string) (models.Ticket, error)
	presenceFn     func(ctx context.Context, barberID string, present bool) (models.Barber, error)
	recalcFn       func(ctx context.Context, shopID string) error
	snapshotFn     func(ctx context.Context, shopID string) (queue.Snapshot, error)
	getTicketFn    func(ctx context.Context, ticketID string) (models.Ticket, error)
	auditFn        func(ctx context.Context, ticketID string) ([]models.AuditLogEntry, error)
}

func (f fakeQueue) CreateWalkInTicket(ctx context.Context, in queue.WalkInInput) (models.Ticket, error) {
	if f.createWalkInFn == nil {
		return models.Ticket{}, nil
	}
	return f.createWalkInFn(ctx, in)
}

func (f fakeQueue) CreateAppointment(ctx context.Context, in queue.AppointmentInput) (models.Ticket, error) {
	if f.createApptFn == nil {
		return models.Ticket{}, nil
	}
	return f.createApptFn(ctx, in)
}

func (f fakeQueue) AssignBarber(ctx context.Context, ticketID, barberID string) (models.Ticket, error) {
	if f.assignFn == nil {
		return models.Ticket{}, nil
	}
	return f.assignFn(ctx, ticketID, barberID)
}

func (f fakeQueue) CompleteTicket(ctx context.Context, ticketID string) (models.Ticket, error) {
	if f.completeFn == nil {
		return models.Ticket{}, nil
	}
	return f.completeFn(ctx, ticketID)
}

func (f fakeQueue) CancelTicket(ctx context.Context, ticketID string) (models.Ticket, error) {
	if f.cancelFn == nil {
		return models.Ticket{}, nil
	}
	return f.cancelFn(ctx, ticketID)
}

func (f fakeQueue) SetBarberPresence(ctx context.Context, barberID string, present bool) (models.Barber, error) {
	if f.presenceFn == nil {
		return models.Barber{}, nil
	}
	return f.presenceFn(ctx, barberID, present)
}

func (f fakeQueue) RecalculateShopQueue(ctx context.Context, shopID string) error {
	if f.recalcFn == nil {
		return nil
	}
	return f.recalcFn(ctx, shopID)
}

func (f fakeQueue) GetQueueSnapshot(ctx context.Context, shopID string) (queue.Snapshot, error) {
	if f.snapshotFn == nil {
		return queue.Snapshot{ShopID: shopID}, nil
	}
	return f.snapshotFn(ctx, shopID)
}

func (f fakeQueue) GetTicket(ctx context.Context, ticketID string) (models.Ticket, error) {
	if f.getTicketFn == nil {
		return models.Ticket{}, nil
	}
	return f.getTicketFn(ctx, ticketID)
}

func (f fakeQueue) ListTicketAudit(ctx context.Context, ticketID string) ([]models.AuditLogEntry, error) {
	if f.auditFn == nil {
		return nil, nil
	}
	return f.auditFn(ctx, ticketID)
}

func newTestHandler(q Queue) http.Handler {
	logger, _ := test.NewNullLogger()
	return NewHandler(q, Options{Hub: hub.New(logger), Logger: logger}).Routes()
}

func doRequest(t *testing.T, h http.Handler, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, bytes.NewBufferString(body))
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Request-ID", "req-1")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func decodeError(t *testing.T, rec *httptest.ResponseRecorder) errorResponse {
	t.Helper()
	var resp errorResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	return resp
}

func TestCreateWalkInTicket(t *testing.T) {
	var got queue.WalkInInput
	h := newTestHandler(fakeQueue{
		createWalkInFn: func(_ context.Context, in queue.WalkInInput) (models.Ticket, error) {
			got = in
			return models.Ticket{TicketID: testTicketID, ShopID: in.ShopID, Status: models.StatusWaiting, Position: 1}, nil
		},
	})

	body := fmt.Sprintf(`{"service_id":%q,"customer_name":"  Ana  ","customer_phone":"08123456789"}`, testService)
	rec := doRequest(t, h, http.MethodPost, "/api/shops/"+testShopID+"/tickets", body)

	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	assert.Equal(t, testShopID, got.ShopID)
	assert.Equal(t, testService, got.ServiceID)
	assert.Equal(t, "Ana", got.CustomerName)
	var ticket models.Ticket
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &ticket))
	assert.Equal(t, testTicketID, ticket.TicketID)
	assert.Equal(t, 1, ticket.Position)
}

func TestCreateWalkInTicketRejectsBadInput(t *testing.T) {
	h := newTestHandler(fakeQueue{
		createWalkInFn: func(context.Context, queue.WalkInInput) (models.Ticket, error) {
			t.Fatal("queue must not be called")
			return models.Ticket{}, nil
		},
	})

	tests := []struct {
		name string
		path string
		body string
		code string
	}{
		{"shop id not uuid", "/api/shops/main/tickets", fmt.Sprintf(`{"service_id":%q,"customer_name":"A"}`, testService), "invalid_request"},
		{"unknown field", "/api/shops/" + testShopID + "/tickets", `{"service_id":"x","customer_name":"A","vip":true}`, "invalid_json"},
		{"missing name", "/api/shops/" + testShopID + "/tickets", fmt.Sprintf(`{"service_id":%q}`, testService), "invalid_request"},
		{"bad phone", "/api/shops/" + testShopID + "/tickets", fmt.Sprintf(`{"service_id":%q,"customer_name":"A","customer_phone":"12ab"}`, testService), "invalid_request"},
		{"bad request id", "/api/shops/" + testShopID + "/tickets", fmt.Sprintf(`{"service_id":%q,"customer_name":"A","request_id":"again"}`, testService), "invalid_request"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := doRequest(t, h, http.MethodPost, tt.path, tt.body)
			assert.Equal(t, http.StatusBadRequest, rec.Code)
			resp := decodeError(t, rec)
			assert.Equal(t, tt.code, resp.Error.Code)
			assert.Equal(t, "req-1", resp.RequestID)
		})
	}
}

func TestCreateAppointment(t *testing.T) {
	slot := time.Date(2026, 3, 2, 15, 0, 0, 0, time.UTC)
	var got queue.AppointmentInput
	h := newTestHandler(fakeQueue{
		createApptFn: func(_ context.Context, in queue.AppointmentInput) (models.Ticket, error) {
			got = in
			return models.Ticket{TicketID: testTicketID, Status: models.StatusPending}, nil
		},
	})

	body := fmt.Sprintf(`{"service_id":%q,"customer_name":"A","preferred_barber_id":%q,"scheduled_for":"2026-03-02T15:00:00Z"}`, testService, testBarberID)
	rec := doRequest(t, h, http.MethodPost, "/api/shops/"+testShopID+"/appointments", body)

	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	assert.True(t, slot.Equal(got.ScheduledFor))
	assert.Equal(t, testBarberID, got.PreferredBarberID)

	rec = doRequest(t, h, http.MethodPost, "/api/shops/"+testShopID+"/appointments", fmt.Sprintf(`{"service_id":%q,"customer_name":"A"}`, testService))
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestTicketActionsMapErrors(t *testing.T) {
	tests := []struct {
		name   string
		err    error
		status int
		code   string
	}{
		{"not found", store.ErrTicketNotFound, http.StatusNotFound, "ticket_not_found"},
		{"invalid state", fmt.Errorf("%w: cannot complete a waiting ticket", store.ErrInvalidState), http.StatusConflict, "invalid_state"},
		{"stale", store.ErrStaleTicket, http.StatusConflict, "stale_ticket"},
		{"busy", store.ErrBarberBusy, http.StatusConflict, "barber_busy"},
		{"unavailable", store.ErrBarberUnavailable, http.StatusConflict, "barber_unavailable"},
		{"no capacity", store.ErrNoCapacity, http.StatusConflict, "no_capacity"},
		{"validation", fmt.Errorf("%w: ticket id is required", store.ErrInvalidInput), http.StatusBadRequest, "invalid_request"},
		{"storage", errors.New("connection reset"), http.StatusInternalServerError, "internal_error"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newTestHandler(fakeQueue{
				completeFn: func(context.Context, string) (models.Ticket, error) {
					return models.Ticket{}, tt.err
				},
			})
			rec := doRequest(t, h, http.MethodPost, "/api/tickets/"+testTicketID+"/complete", "")
			assert.Equal(t, tt.status, rec.Code)
			assert.Equal(t, tt.code, decodeError(t, rec).Error.Code)
		})
	}
}

func TestAssignBarber(t *testing.T) {
	var gotTicket, gotBarber string
	h := newTestHandler(fakeQueue{
		assignFn: func(_ context.Context, ticketID, barberID string) (models.Ticket, error) {
			gotTicket, gotBarber = ticketID, barberID
			return models.Ticket{TicketID: ticketID, Status: models.StatusInProgress}, nil
		},
	})

	rec := doRequest(t, h, http.MethodPost, "/api/tickets/"+testTicketID+"/assign", fmt.Sprintf(`{"barber_id":%q}`, testBarberID))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, testTicketID, gotTicket)
	assert.Equal(t, testBarberID, gotBarber)

	rec = doRequest(t, h, http.MethodPost, "/api/tickets/"+testTicketID+"/assign", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Empty(t, gotBarber)

	rec = doRequest(t, h, http.MethodPost, "/api/tickets/"+testTicketID+"/assign", `{"barber_id":"b1"}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestBarberPresence(t *testing.T) {
	var got *bool
	h := newTestHandler(fakeQueue{
		presenceFn: func(_ context.Context, barberID string, present bool) (models.Barber, error) {
			got = &present
			return models.Barber{BarberID: barberID, IsPresent: present}, nil
		},
	})

	rec := doRequest(t, h, http.MethodPut, "/api/barbers/"+testBarberID+"/presence", `{"is_present":false}`)
	require.Equal(t, http.StatusOK, rec.Code)
	require.NotNil(t, got)
	assert.False(t, *got)

	rec = doRequest(t, h, http.MethodPut, "/api/barbers/"+testBarberID+"/presence", `{}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestSnapshotAndRecalculate(t *testing.T) {
	recalculated := ""
	h := newTestHandler(fakeQueue{
		recalcFn: func(_ context.Context, shopID string) error {
			recalculated = shopID
			return nil
		},
		snapshotFn: func(_ context.Context, shopID string) (queue.Snapshot, error) {
			if shopID != testShopID {
				return queue.Snapshot{}, store.ErrShopNotFound
			}
			return queue.Snapshot{ShopID: shopID, BarberLines: []queue.BarberLine{{BarberID: testBarberID, Wait: 15}}}, nil
		},
	})

	rec := doRequest(t, h, http.MethodPost, "/api/shops/"+testShopID+"/queue/recalculate", "")
	assert.Equal(t, http.StatusNoContent, rec.Code)
	assert.Equal(t, testShopID, recalculated)

	rec = doRequest(t, h, http.MethodGet, "/api/shops/"+testShopID+"/queue", "")
	require.Equal(t, http.StatusOK, rec.Code)
	var snapshot queue.Snapshot
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &snapshot))
	require.Len(t, snapshot.BarberLines, 1)
	assert.Equal(t, 15, snapshot.BarberLines[0].Wait)

	rec = doRequest(t, h, http.MethodGet, "/api/shops/"+testTicketID+"/queue", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestTicketAuditReturnsEmptyList(t *testing.T) {
	h := newTestHandler(fakeQueue{})
	rec := doRequest(t, h, http.MethodGet, "/api/tickets/"+testTicketID+"/audit", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"entries":[]}`, rec.Body.String())
}

func TestMethodNotAllowed(t *testing.T) {
	h := newTestHandler(fakeQueue{})
	rec := doRequest(t, h, http.MethodGet, "/api/tickets/"+testTicketID+"/complete", "")
	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)
}

func TestRateLimiterPerIPAndShop(t *testing.T) {
	limiter := NewRateLimiter(RateLimitConfig{IPPerMinute: 1, IPBurst: 1, ShopPerMinute: 1, ShopBurst: 1})
	h := limiter.Middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	send := func(ip, path string) int {
		req := httptest.NewRequest(http.MethodGet, path, nil)
		req.RemoteAddr = ip + ":5000"
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, req)
		return rec.Code
	}

	assert.Equal(t, http.StatusOK, send("10.0.0.1", "/healthz"))
	assert.Equal(t, http.StatusTooManyRequests, send("10.0.0.1", "/healthz"))
	assert.Equal(t, http.StatusOK, send("10.0.0.2", "/api/shops/"+testShopID+"/queue"))
	assert.Equal(t, http.StatusTooManyRequests, send("10.0.0.3", "/api/shops/"+testShopID+"/queue"))
}

func TestLoggingMiddlewareRecordsStatus(t *testing.T) {
	logger, hook := test.NewNullLogger()
	h := LoggingMiddleware(logger, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusConflict)
	}))

	h.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodPost, "/api/tickets/x/complete", nil))

	require.Len(t, hook.AllEntries(), 1)
	assert.Equal(t, http.StatusConflict, hook.LastEntry().Data["status"])
	assert.Equal(t, "/api/tickets/x/complete", hook.LastEntry().Data["path"])
}

func TestStreamPushesSnapshots(t *testing.T) {
	logger, _ := test.NewNullLogger()
	displays := hub.New(logger)
	handler := NewHandler(fakeQueue{}, Options{Hub: displays, Logger: logger})
	server := httptest.NewServer(LoggingMiddleware(logger, handler.Routes()))
	defer server.Close()

	url := "ws" + strings.TrimPrefix(server.URL, "http") + "/api/shops/" + testShopID + "/stream"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	defer conn.Close()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(5*time.Second)))

	var env hub.Envelope
	require.NoError(t, conn.ReadJSON(&env))
	assert.Equal(t, hub.EventQueueSnapshot, env.Type)

	require.Eventually(t, func() bool { return displays.Clients(testShopID) == 1 }, 5*time.Second, 10*time.Millisecond)
	require.NoError(t, displays.Publish(context.Background(), queue.Snapshot{ShopID: testShopID, GeneralLineWait: intPtr(25)}))

	require.NoError(t, conn.ReadJSON(&env))
	var snapshot queue.Snapshot
	require.NoError(t, json.Unmarshal(env.Payload, &snapshot))
	require.NotNil(t, snapshot.GeneralLineWait)
	assert.Equal(t, 25, *snapshot.GeneralLineWait)
}

type fakeLatest struct {
	payload []byte
	err     error
}

func (f fakeLatest) Latest(context.Context, string) ([]byte, error) {
	return f.payload, f.err
}

func dialStream(t *testing.T, options Options, q Queue) *websocket.Conn {
	t.Helper()
	handler := NewHandler(q, options)
	server := httptest.NewServer(handler.Routes())
	t.Cleanup(server.Close)

	url := "ws" + strings.TrimPrefix(server.URL, "http") + "/api/shops/" + testShopID + "/stream"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close() })
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(5*time.Second)))
	return conn
}

func TestStreamSeedsFromLatestSnapshot(t *testing.T) {
	logger, _ := test.NewNullLogger()
	stored, err := hub.EncodeSnapshot(queue.Snapshot{ShopID: testShopID, GeneralLineWait: intPtr(40)})
	require.NoError(t, err)
	q := fakeQueue{snapshotFn: func(context.Context, string) (queue.Snapshot, error) {
		return queue.Snapshot{}, errors.New("queue should not be read")
	}}

	conn := dialStream(t, Options{Hub: hub.New(logger), Latest: fakeLatest{payload: stored}, Logger: logger}, q)

	var env hub.Envelope
	require.NoError(t, conn.ReadJSON(&env))
	var snapshot queue.Snapshot
	require.NoError(t, json.Unmarshal(env.Payload, &snapshot))
	require.NotNil(t, snapshot.GeneralLineWait)
	assert.Equal(t, 40, *snapshot.GeneralLineWait)
}

func TestStreamFallsBackWhenLatestFails(t *testing.T) {
	logger, hook := test.NewNullLogger()
	q := fakeQueue{snapshotFn: func(_ context.Context, shopID string) (queue.Snapshot, error) {
		return queue.Snapshot{ShopID: shopID, GeneralLineWait: intPtr(15)}, nil
	}}

	conn := dialStream(t, Options{Hub: hub.New(logger), Latest: fakeLatest{err: errors.New("redis down")}, Logger: logger}, q)

	var env hub.Envelope
	require.NoError(t, conn.ReadJSON(&env))
	var snapshot queue.Snapshot
	require.NoError(t, json.Unmarshal(env.Payload, &snapshot))
	require.NotNil(t, snapshot.GeneralLineWait)
	assert.Equal(t, 15, *snapshot.GeneralLineWait)
	warned := false
	for _, entry := range hook.AllEntries() {
		warned = warned || entry.Message == "latest snapshot unavailable"
	}
	assert.True(t, warned)
}

func intPtr(v int) *int { return &v }
