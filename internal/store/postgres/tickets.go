package postgres

import (
	"context"
	"errors"
	"time"

	"qms/shop-queue/internal/models"
	"qms/shop-queue/internal/store"

	"github.com/jackc/pgx/v5"
)

const ticketColumns = `
	ticket_id, ticket_number, shop_id, service_id, barber_id, preferred_barber_id,
	request_id, customer_name, customer_phone, type, status, position,
	estimated_wait_minutes, scheduled_for, created_at, queued_at, updated_at,
	started_at, completed_at, cancelled_at, version, seq`

const activeStatuses = `('pending', 'waiting', 'in_progress')`

func scanTicket(row pgx.Row) (models.Ticket, error) {
	var (
		ticket    models.Ticket
		requestID *string
		queuedAt  *time.Time
	)
	err := row.Scan(
		&ticket.TicketID, &ticket.TicketNumber, &ticket.ShopID, &ticket.ServiceID,
		&ticket.BarberID, &ticket.PreferredBarberID, &requestID, &ticket.CustomerName,
		&ticket.CustomerPhone, &ticket.Type, &ticket.Status, &ticket.Position,
		&ticket.EstimatedWaitTime, &ticket.ScheduledFor, &ticket.CreatedAt, &queuedAt,
		&ticket.UpdatedAt, &ticket.StartedAt, &ticket.CompletedAt, &ticket.CancelledAt,
		&ticket.Version, &ticket.Seq,
	)
	if err != nil {
		return models.Ticket{}, err
	}
	if requestID != nil {
		ticket.RequestID = *requestID
	}
	if queuedAt != nil {
		ticket.QueuedAt = *queuedAt
	}
	return ticket, nil
}

func (q queries) GetTicket(ctx context.Context, ticketID string) (models.Ticket, error) {
	ticket, err := scanTicket(q.db.QueryRow(ctx, `SELECT `+ticketColumns+` FROM tickets WHERE ticket_id = $1`, ticketID))
	if errors.Is(err, pgx.ErrNoRows) {
		return models.Ticket{}, store.ErrTicketNotFound
	}
	return ticket, err
}

func (q queries) FindTicketByRequestID(ctx context.Context, shopID, requestID string) (models.Ticket, bool, error) {
	ticket, err := scanTicket(q.db.QueryRow(ctx, `
		SELECT `+ticketColumns+`
		FROM tickets
		WHERE shop_id = $1 AND request_id = $2
	`, shopID, requestID))
	if errors.Is(err, pgx.ErrNoRows) {
		return models.Ticket{}, false, nil
	}
	if err != nil {
		return models.Ticket{}, false, err
	}
	return ticket, true, nil
}

func (q queries) ListActiveTickets(ctx context.Context, shopID string) ([]models.Ticket, error) {
	rows, err := q.db.Query(ctx, `
		SELECT `+ticketColumns+`
		FROM tickets
		WHERE shop_id = $1 AND status IN `+activeStatuses+`
		ORDER BY created_at, seq
	`, shopID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var tickets []models.Ticket
	for rows.Next() {
		ticket, err := scanTicket(rows)
		if err != nil {
			return nil, err
		}
		tickets = append(tickets, ticket)
	}
	return tickets, rows.Err()
}

func (q queries) InsertTicket(ctx context.Context, ticket models.Ticket) (models.Ticket, error) {
	inserted, err := scanTicket(q.db.QueryRow(ctx, `
		INSERT INTO tickets (
			ticket_id, ticket_number, shop_id, service_id, barber_id, preferred_barber_id,
			request_id, customer_name, customer_phone, type, status, position,
			estimated_wait_minutes, scheduled_for, created_at, queued_at, updated_at, version
		) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,$17,1)
		RETURNING `+ticketColumns,
		ticket.TicketID, ticket.TicketNumber, ticket.ShopID, ticket.ServiceID, ticket.BarberID,
		ticket.PreferredBarberID, nullIfEmpty(ticket.RequestID), ticket.CustomerName, ticket.CustomerPhone,
		ticket.Type, ticket.Status, ticket.Position, ticket.EstimatedWaitTime, ticket.ScheduledFor,
		ticket.CreatedAt, nullIfZero(ticket.QueuedAt), ticket.UpdatedAt,
	))
	return inserted, wrap("insert ticket", err)
}

// UpdateTicket writes every mutable field of ticket when the stored row is
// still active and at expectedVersion.
func (q queries) UpdateTicket(ctx context.Context, ticket models.Ticket, expectedVersion int) (models.Ticket, error) {
	updated, err := scanTicket(q.db.QueryRow(ctx, `
		UPDATE tickets
		SET barber_id = $2,
			preferred_barber_id = $3,
			status = $4,
			position = $5,
			estimated_wait_minutes = $6,
			queued_at = $7,
			updated_at = $8,
			started_at = $9,
			completed_at = $10,
			cancelled_at = $11,
			version = version + 1
		WHERE ticket_id = $1 AND version = $12 AND status IN `+activeStatuses+`
		RETURNING `+ticketColumns,
		ticket.TicketID, ticket.BarberID, ticket.PreferredBarberID, ticket.Status, ticket.Position,
		ticket.EstimatedWaitTime, nullIfZero(ticket.QueuedAt), ticket.UpdatedAt, ticket.StartedAt,
		ticket.CompletedAt, ticket.CancelledAt, expectedVersion,
	))
	switch {
	case err == nil:
		return updated, nil
	case isUniqueViolation(err, barberServingIndex):
		return models.Ticket{}, store.ErrBarberBusy
	case errors.Is(err, pgx.ErrNoRows):
		if _, getErr := q.GetTicket(ctx, ticket.TicketID); getErr != nil {
			return models.Ticket{}, getErr
		}
		return models.Ticket{}, store.ErrStaleTicket
	default:
		return models.Ticket{}, err
	}
}
