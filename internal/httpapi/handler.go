package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"
	"time"

	"qms/shop-queue/internal/hub"
	"qms/shop-queue/internal/metrics"
	"qms/shop-queue/internal/models"
	"qms/shop-queue/internal/queue"
	"qms/shop-queue/internal/store"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

// Queue is the lifecycle surface the HTTP layer drives.
type Queue interface {
	CreateWalkInTicket(ctx context.Context, in queue.WalkInInput) (models.Ticket, error)
	CreateAppointment(ctx context.Context, in queue.AppointmentInput) (models.Ticket, error)
	AssignBarber(ctx context.Context, ticketID, barberID string) (models.Ticket, error)
	CompleteTicket(ctx context.Context, ticketID string) (models.Ticket, error)
	CancelTicket(ctx context.Context, ticketID string) (models.Ticket, error)
	SetBarberPresence(ctx context.Context, barberID string, present bool) (models.Barber, error)
	RecalculateShopQueue(ctx context.Context, shopID string) error
	GetQueueSnapshot(ctx context.Context, shopID string) (queue.Snapshot, error)
	GetTicket(ctx context.Context, ticketID string) (models.Ticket, error)
	ListTicketAudit(ctx context.Context, ticketID string) ([]models.AuditLogEntry, error)
}

// SnapshotSource yields the last snapshot payload broadcast for a shop, or
// nil when none is known.
type SnapshotSource interface {
	Latest(ctx context.Context, shopID string) ([]byte, error)
}

type Handler struct {
	queue  Queue
	hub    *hub.Hub
	latest SnapshotSource
	logger logrus.FieldLogger
}

type Options struct {
	// Hub enables the websocket stream route when set.
	Hub *hub.Hub
	// Latest seeds new stream clients with the last broadcast frame so they
	// start from the same state as the rest of the relay.
	Latest SnapshotSource
	Logger logrus.FieldLogger
}

type createTicketRequest struct {
	RequestID         string `json:"request_id"`
	ServiceID         string `json:"service_id"`
	CustomerName      string `json:"customer_name"`
	CustomerPhone     string `json:"customer_phone"`
	PreferredBarberID string `json:"preferred_barber_id"`
}

type createAppointmentRequest struct {
	createTicketRequest
	ScheduledFor time.Time `json:"scheduled_for"`
}

type assignRequest struct {
	BarberID string `json:"barber_id"`
}

type presenceRequest struct {
	IsPresent *bool `json:"is_present"`
}

type errorResponse struct {
	RequestID string        `json:"request_id"`
	Error     responseError `json:"error"`
}

type responseError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

func NewHandler(q Queue, options Options) *Handler {
	logger := options.Logger
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	return &Handler{queue: q, hub: options.Hub, latest: options.Latest, logger: logger}
}

func (h *Handler) Routes() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /healthz", h.handleHealth)
	mux.Handle("GET /metrics", metrics.Handler())
	mux.HandleFunc("POST /api/shops/{shopID}/tickets", h.handleCreateWalkIn)
	mux.HandleFunc("POST /api/shops/{shopID}/appointments", h.handleCreateAppointment)
	mux.HandleFunc("GET /api/shops/{shopID}/queue", h.handleSnapshot)
	mux.HandleFunc("POST /api/shops/{shopID}/queue/recalculate", h.handleRecalculate)
	if h.hub != nil {
		mux.HandleFunc("GET /api/shops/{shopID}/stream", h.handleStream)
	}
	mux.HandleFunc("GET /api/tickets/{ticketID}", h.handleGetTicket)
	mux.HandleFunc("GET /api/tickets/{ticketID}/audit", h.handleTicketAudit)
	mux.HandleFunc("POST /api/tickets/{ticketID}/assign", h.handleAssign)
	mux.HandleFunc("POST /api/tickets/{ticketID}/complete", h.handleComplete)
	mux.HandleFunc("POST /api/tickets/{ticketID}/cancel", h.handleCancel)
	mux.HandleFunc("PUT /api/barbers/{barberID}/presence", h.handlePresence)
	return mux
}

func (h *Handler) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
}

func (h *Handler) handleCreateWalkIn(w http.ResponseWriter, r *http.Request) {
	requestID := requestIDFrom(r)
	shopID, ok := pathUUID(w, r, requestID, "shopID")
	if !ok {
		return
	}
	var req createTicketRequest
	if !decodeJSON(w, r, requestID, &req) {
		return
	}
	if !validateTicketRequest(w, requestID, &req) {
		return
	}

	ticket, err := h.queue.CreateWalkInTicket(h.actorContext(r), queue.WalkInInput{
		ShopID:            shopID,
		ServiceID:         req.ServiceID,
		CustomerName:      req.CustomerName,
		CustomerPhone:     req.CustomerPhone,
		PreferredBarberID: req.PreferredBarberID,
		RequestID:         req.RequestID,
	})
	if err != nil {
		h.writeMappedError(w, requestID, err)
		return
	}
	writeJSON(w, http.StatusCreated, ticket)
}

func (h *Handler) handleCreateAppointment(w http.ResponseWriter, r *http.Request) {
	requestID := requestIDFrom(r)
	shopID, ok := pathUUID(w, r, requestID, "shopID")
	if !ok {
		return
	}
	var req createAppointmentRequest
	if !decodeJSON(w, r, requestID, &req) {
		return
	}
	if !validateTicketRequest(w, requestID, &req.createTicketRequest) {
		return
	}
	if req.ScheduledFor.IsZero() {
		writeError(w, requestID, http.StatusBadRequest, "invalid_request", "scheduled_for is required")
		return
	}

	ticket, err := h.queue.CreateAppointment(h.actorContext(r), queue.AppointmentInput{
		ShopID:            shopID,
		ServiceID:         req.ServiceID,
		CustomerName:      req.CustomerName,
		CustomerPhone:     req.CustomerPhone,
		PreferredBarberID: req.PreferredBarberID,
		RequestID:         req.RequestID,
		ScheduledFor:      req.ScheduledFor,
	})
	if err != nil {
		h.writeMappedError(w, requestID, err)
		return
	}
	writeJSON(w, http.StatusCreated, ticket)
}

func validateTicketRequest(w http.ResponseWriter, requestID string, req *createTicketRequest) bool {
	req.RequestID = strings.TrimSpace(req.RequestID)
	req.ServiceID = strings.TrimSpace(req.ServiceID)
	req.CustomerName = strings.TrimSpace(req.CustomerName)
	req.CustomerPhone = strings.TrimSpace(req.CustomerPhone)
	req.PreferredBarberID = strings.TrimSpace(req.PreferredBarberID)

	if req.ServiceID == "" || req.CustomerName == "" {
		writeError(w, requestID, http.StatusBadRequest, "invalid_request", "service_id and customer_name are required")
		return false
	}
	if !isValidUUID(req.ServiceID) {
		writeError(w, requestID, http.StatusBadRequest, "invalid_request", "service_id must be a UUID")
		return false
	}
	if req.RequestID != "" && !isValidUUID(req.RequestID) {
		writeError(w, requestID, http.StatusBadRequest, "invalid_request", "request_id must be a UUID when provided")
		return false
	}
	if req.PreferredBarberID != "" && !isValidUUID(req.PreferredBarberID) {
		writeError(w, requestID, http.StatusBadRequest, "invalid_request", "preferred_barber_id must be a UUID when provided")
		return false
	}
	if req.CustomerPhone != "" && !isValidPhone(req.CustomerPhone) {
		writeError(w, requestID, http.StatusBadRequest, "invalid_request", "customer_phone must be 8-16 digits")
		return false
	}
	return true
}

func (h *Handler) handleSnapshot(w http.ResponseWriter, r *http.Request) {
	requestID := requestIDFrom(r)
	shopID, ok := pathUUID(w, r, requestID, "shopID")
	if !ok {
		return
	}
	snapshot, err := h.queue.GetQueueSnapshot(r.Context(), shopID)
	if err != nil {
		h.writeMappedError(w, requestID, err)
		return
	}
	writeJSON(w, http.StatusOK, snapshot)
}

func (h *Handler) handleRecalculate(w http.ResponseWriter, r *http.Request) {
	requestID := requestIDFrom(r)
	shopID, ok := pathUUID(w, r, requestID, "shopID")
	if !ok {
		return
	}
	if err := h.queue.RecalculateShopQueue(h.actorContext(r), shopID); err != nil {
		h.writeMappedError(w, requestID, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) handleGetTicket(w http.ResponseWriter, r *http.Request) {
	requestID := requestIDFrom(r)
	ticketID, ok := pathUUID(w, r, requestID, "ticketID")
	if !ok {
		return
	}
	ticket, err := h.queue.GetTicket(r.Context(), ticketID)
	if err != nil {
		h.writeMappedError(w, requestID, err)
		return
	}
	writeJSON(w, http.StatusOK, ticket)
}

func (h *Handler) handleTicketAudit(w http.ResponseWriter, r *http.Request) {
	requestID := requestIDFrom(r)
	ticketID, ok := pathUUID(w, r, requestID, "ticketID")
	if !ok {
		return
	}
	entries, err := h.queue.ListTicketAudit(r.Context(), ticketID)
	if err != nil {
		h.writeMappedError(w, requestID, err)
		return
	}
	if entries == nil {
		entries = []models.AuditLogEntry{}
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"entries": entries})
}

func (h *Handler) handleAssign(w http.ResponseWriter, r *http.Request) {
	requestID := requestIDFrom(r)
	ticketID, ok := pathUUID(w, r, requestID, "ticketID")
	if !ok {
		return
	}
	var req assignRequest
	if !decodeJSON(w, r, requestID, &req) {
		return
	}
	req.BarberID = strings.TrimSpace(req.BarberID)
	if req.BarberID != "" && !isValidUUID(req.BarberID) {
		writeError(w, requestID, http.StatusBadRequest, "invalid_request", "barber_id must be a UUID when provided")
		return
	}
	ticket, err := h.queue.AssignBarber(h.actorContext(r), ticketID, req.BarberID)
	if err != nil {
		h.writeMappedError(w, requestID, err)
		return
	}
	writeJSON(w, http.StatusOK, ticket)
}

func (h *Handler) handleComplete(w http.ResponseWriter, r *http.Request) {
	h.handleTicketAction(w, r, h.queue.CompleteTicket)
}

func (h *Handler) handleCancel(w http.ResponseWriter, r *http.Request) {
	h.handleTicketAction(w, r, h.queue.CancelTicket)
}

func (h *Handler) handleTicketAction(w http.ResponseWriter, r *http.Request, action func(context.Context, string) (models.Ticket, error)) {
	requestID := requestIDFrom(r)
	ticketID, ok := pathUUID(w, r, requestID, "ticketID")
	if !ok {
		return
	}
	ticket, err := action(h.actorContext(r), ticketID)
	if err != nil {
		h.writeMappedError(w, requestID, err)
		return
	}
	writeJSON(w, http.StatusOK, ticket)
}

func (h *Handler) handlePresence(w http.ResponseWriter, r *http.Request) {
	requestID := requestIDFrom(r)
	barberID, ok := pathUUID(w, r, requestID, "barberID")
	if !ok {
		return
	}
	var req presenceRequest
	if !decodeJSON(w, r, requestID, &req) {
		return
	}
	if req.IsPresent == nil {
		writeError(w, requestID, http.StatusBadRequest, "invalid_request", "is_present is required")
		return
	}
	barber, err := h.queue.SetBarberPresence(h.actorContext(r), barberID, *req.IsPresent)
	if err != nil {
		h.writeMappedError(w, requestID, err)
		return
	}
	writeJSON(w, http.StatusOK, barber)
}

func (h *Handler) actorContext(r *http.Request) context.Context {
	return queue.WithActor(r.Context(), strings.TrimSpace(r.Header.Get("X-Actor")))
}

func requestIDFrom(r *http.Request) string {
	return strings.TrimSpace(r.Header.Get("X-Request-ID"))
}

func pathUUID(w http.ResponseWriter, r *http.Request, requestID, name string) (string, bool) {
	value := r.PathValue(name)
	if !isValidUUID(value) {
		writeError(w, requestID, http.StatusBadRequest, "invalid_request", name+" must be a UUID")
		return "", false
	}
	return value, true
}

// decodeJSON reads a single JSON object. An empty body leaves dst zeroed.
func decodeJSON(w http.ResponseWriter, r *http.Request, requestID string, dst interface{}) bool {
	decoder := json.NewDecoder(io.LimitReader(r.Body, 1<<20))
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(dst); err != nil && !errors.Is(err, io.EOF) {
		writeError(w, requestID, http.StatusBadRequest, "invalid_json", "invalid JSON payload")
		return false
	}
	return true
}

func isValidUUID(value string) bool {
	_, err := uuid.Parse(value)
	return err == nil
}

func isValidPhone(value string) bool {
	if len(value) < 8 || len(value) > 16 {
		return false
	}
	for _, r := range value {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}

func (h *Handler) writeMappedError(w http.ResponseWriter, requestID string, err error) {
	status, code, message := mapError(err)
	if status == http.StatusInternalServerError {
		h.logger.WithField("request_id", requestID).WithError(err).Error("request failed")
	}
	writeError(w, requestID, status, code, message)
}

func mapError(err error) (int, string, string) {
	switch {
	case errors.Is(err, store.ErrShopNotFound):
		return http.StatusNotFound, "shop_not_found", "shop not found"
	case errors.Is(err, store.ErrTicketNotFound):
		return http.StatusNotFound, "ticket_not_found", "ticket not found"
	case errors.Is(err, store.ErrBarberNotFound):
		return http.StatusNotFound, "barber_not_found", "barber not found"
	case errors.Is(err, store.ErrServiceNotFound):
		return http.StatusNotFound, "service_not_found", "service not found"
	case errors.Is(err, store.ErrInvalidState):
		return http.StatusConflict, "invalid_state", "ticket state does not allow this action"
	case errors.Is(err, store.ErrStaleTicket):
		return http.StatusConflict, "stale_ticket", "ticket was modified concurrently, reload and retry"
	case errors.Is(err, store.ErrBarberBusy):
		return http.StatusConflict, "barber_busy", "barber is already serving a ticket"
	case errors.Is(err, store.ErrBarberUnavailable):
		return http.StatusConflict, "barber_unavailable", "barber is not present"
	case errors.Is(err, store.ErrCapacity):
		return http.StatusConflict, "no_capacity", "no barber available"
	case errors.Is(err, store.ErrValidation):
		return http.StatusBadRequest, "invalid_request", err.Error()
	case errors.Is(err, store.ErrNotFound):
		return http.StatusNotFound, "not_found", "not found"
	case errors.Is(err, store.ErrConflict):
		return http.StatusConflict, "conflict", "conflict"
	default:
		return http.StatusInternalServerError, "internal_error", "internal server error"
	}
}

func writeError(w http.ResponseWriter, requestID string, status int, code, message string) {
	writeJSON(w, status, errorResponse{
		RequestID: requestID,
		Error: responseError{
			Code:    code,
			Message: message,
		},
	})
}

func writeJSON(w http.ResponseWriter, status int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if payload == nil {
		return
	}
	_ = json.NewEncoder(w).Encode(payload)
}
