package store

import (
	"context"
	"time"

	"qms/shop-queue/internal/models"
)

// QueueUpdate carries the recomputed queue fields of one ticket.
type QueueUpdate struct {
	TicketID          string
	Position          int
	EstimatedWaitTime *int
}

// Queries is the read/write surface available inside a shop unit of work.
type Queries interface {
	GetShop(ctx context.Context, shopID string) (models.Shop, error)
	GetBarber(ctx context.Context, barberID string) (models.Barber, error)
	ListBarbers(ctx context.Context, shopID string) ([]models.Barber, error)
	GetService(ctx context.Context, serviceID string) (models.Service, error)
	ListServices(ctx context.Context, shopID string) ([]models.Service, error)
	GetTicket(ctx context.Context, ticketID string) (models.Ticket, error)
	FindTicketByRequestID(ctx context.Context, shopID, requestID string) (models.Ticket, bool, error)
	ListActiveTickets(ctx context.Context, shopID string) ([]models.Ticket, error)
	NextTicketNumber(ctx context.Context, shopID, serviceID string) (int64, error)
	InsertTicket(ctx context.Context, ticket models.Ticket) (models.Ticket, error)
	// UpdateTicket persists ticket if its stored version still equals
	// expectedVersion and returns it with the bumped version. A mismatch
	// yields ErrStaleTicket.
	UpdateTicket(ctx context.Context, ticket models.Ticket, expectedVersion int) (models.Ticket, error)
	UpdateBarber(ctx context.Context, barber models.Barber) (models.Barber, error)
	// SaveQueueState writes positions and estimates for one shop atomically.
	SaveQueueState(ctx context.Context, shopID string, updates []QueueUpdate) error
}

// AuditSink appends audit entries. Implementations assign Seq, PrevHash
// and Hash.
type AuditSink interface {
	AppendAudit(ctx context.Context, entry models.AuditLogEntry) (models.AuditLogEntry, error)
}

type Store interface {
	Queries
	AuditSink
	// InShop runs fn with every other InShop call for the same shop excluded.
	// Writes made through q are committed only when fn returns nil.
	InShop(ctx context.Context, shopID string, fn func(ctx context.Context, q Queries) error) error
	// View runs fn against one consistent, committed view of the shop. fn
	// must only read through q.
	View(ctx context.Context, shopID string, fn func(ctx context.Context, q Queries) error) error
	// ActiveShopIDs lists shops with waiting or in-progress tickets, or with
	// pending appointments scheduled at or before pendingBefore.
	ActiveShopIDs(ctx context.Context, pendingBefore time.Time) ([]string, error)
	ListAudit(ctx context.Context, ticketID string) ([]models.AuditLogEntry, error)
}
