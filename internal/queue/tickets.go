package queue

import (
	"context"
	"fmt"
	"strings"
	"time"

	"qms/shop-queue/internal/models"
	"qms/shop-queue/internal/store"

	"github.com/google/uuid"
)

const (
	actionCreateWalkIn      = "create_walk_in"
	actionCreateAppointment = "create_appointment"
)

type WalkInInput struct {
	ShopID            string
	ServiceID         string
	CustomerName      string
	CustomerPhone     string
	PreferredBarberID string
	// RequestID makes creation idempotent: a repeat returns the ticket the
	// first call created.
	RequestID string
}

type AppointmentInput struct {
	ShopID            string
	ServiceID         string
	CustomerName      string
	CustomerPhone     string
	PreferredBarberID string
	RequestID         string
	ScheduledFor      time.Time
}

func (m *Manager) CreateWalkInTicket(ctx context.Context, in WalkInInput) (models.Ticket, error) {
	if err := validateCustomer(in.ShopID, in.ServiceID, in.CustomerName); err != nil {
		return models.Ticket{}, err
	}
	return m.createTicket(ctx, actionCreateWalkIn, newTicket{
		shopID:            in.ShopID,
		serviceID:         in.ServiceID,
		customerName:      strings.TrimSpace(in.CustomerName),
		customerPhone:     strings.TrimSpace(in.CustomerPhone),
		preferredBarberID: in.PreferredBarberID,
		requestID:         in.RequestID,
		ticketType:        models.TypeWalkIn,
	})
}

// CreateAppointment books a future slot. The ticket starts pending and is
// promoted in the same unit of work when its slot is already within reach.
func (m *Manager) CreateAppointment(ctx context.Context, in AppointmentInput) (models.Ticket, error) {
	if err := validateCustomer(in.ShopID, in.ServiceID, in.CustomerName); err != nil {
		return models.Ticket{}, err
	}
	if in.ScheduledFor.IsZero() {
		return models.Ticket{}, fmt.Errorf("%w: scheduled time is required", store.ErrInvalidInput)
	}
	if !in.ScheduledFor.After(m.clock.Now()) {
		return models.Ticket{}, fmt.Errorf("%w: scheduled time must be in the future", store.ErrInvalidInput)
	}
	scheduled := in.ScheduledFor.UTC()
	return m.createTicket(ctx, actionCreateAppointment, newTicket{
		shopID:            in.ShopID,
		serviceID:         in.ServiceID,
		customerName:      strings.TrimSpace(in.CustomerName),
		customerPhone:     strings.TrimSpace(in.CustomerPhone),
		preferredBarberID: in.PreferredBarberID,
		requestID:         in.RequestID,
		ticketType:        models.TypeAppointment,
		scheduledFor:      &scheduled,
	})
}

type newTicket struct {
	shopID            string
	serviceID         string
	customerName      string
	customerPhone     string
	preferredBarberID string
	requestID         string
	ticketType        string
	scheduledFor      *time.Time
}

func (m *Manager) createTicket(ctx context.Context, action string, in newTicket) (models.Ticket, error) {
	var created models.Ticket
	active, err := m.run(ctx, action, in.shopID, func(ctx context.Context, q store.Queries, now time.Time) ([]change, error) {
		shop, err := q.GetShop(ctx, in.shopID)
		if err != nil {
			return nil, err
		}
		if !shop.Active {
			return nil, store.ErrShopNotFound
		}
		if in.requestID != "" {
			existing, ok, err := q.FindTicketByRequestID(ctx, in.shopID, in.requestID)
			if err != nil {
				return nil, err
			}
			if ok {
				created = existing
				return nil, nil
			}
		}

		service, err := q.GetService(ctx, in.serviceID)
		if err != nil {
			return nil, err
		}
		if service.ShopID != in.shopID || !service.Active {
			return nil, store.ErrServiceNotFound
		}
		if in.preferredBarberID != "" {
			barber, err := q.GetBarber(ctx, in.preferredBarberID)
			if err != nil {
				return nil, err
			}
			if barber.ShopID != in.shopID {
				return nil, store.ErrBarberNotFound
			}
			if !barber.IsActive {
				return nil, store.ErrBarberUnavailable
			}
		}

		number, err := q.NextTicketNumber(ctx, in.shopID, in.serviceID)
		if err != nil {
			return nil, fmt.Errorf("next ticket number: %w", err)
		}
		ticket := models.Ticket{
			TicketID:      uuid.NewString(),
			TicketNumber:  fmt.Sprintf("%s-%03d", service.Code, number),
			ShopID:        in.shopID,
			ServiceID:     in.serviceID,
			RequestID:     in.requestID,
			CustomerName:  in.customerName,
			CustomerPhone: in.customerPhone,
			Type:          in.ticketType,
			ScheduledFor:  in.scheduledFor,
			CreatedAt:     now,
			UpdatedAt:     now,
		}
		if in.preferredBarberID != "" {
			preferred := in.preferredBarberID
			ticket.PreferredBarberID = &preferred
		}
		if in.ticketType == models.TypeAppointment {
			ticket.Status = models.StatusPending
		} else {
			ticket.Status = models.StatusWaiting
			ticket.QueuedAt = now
		}

		created, err = q.InsertTicket(ctx, ticket)
		if err != nil {
			return nil, fmt.Errorf("insert ticket: %w", err)
		}
		return []change{{ticket: created, actor: actorFrom(ctx, models.ActorStaff)}}, nil
	})
	if err != nil {
		return models.Ticket{}, err
	}
	if current, ok := active[created.TicketID]; ok {
		return current, nil
	}
	return created, nil
}

func validateCustomer(shopID, serviceID, customerName string) error {
	switch {
	case shopID == "":
		return fmt.Errorf("%w: shop id is required", store.ErrInvalidInput)
	case serviceID == "":
		return fmt.Errorf("%w: service id is required", store.ErrInvalidInput)
	case strings.TrimSpace(customerName) == "":
		return fmt.Errorf("%w: customer name is required", store.ErrInvalidInput)
	}
	return nil
}

// AssignBarber starts service of a waiting ticket. An empty barberID picks
// the ticket's preferred barber when idle, else the first idle barber.
func (m *Manager) AssignBarber(ctx context.Context, ticketID, barberID string) (models.Ticket, error) {
	return m.transition(ctx, store.ActionAssign, ticketID, func(ctx context.Context, q store.Queries, ticket *models.Ticket, now time.Time) error {
		barbers, err := q.ListBarbers(ctx, ticket.ShopID)
		if err != nil {
			return fmt.Errorf("list barbers: %w", err)
		}
		tickets, err := q.ListActiveTickets(ctx, ticket.ShopID)
		if err != nil {
			return fmt.Errorf("list active tickets: %w", err)
		}
		busy := make(map[string]bool)
		for _, t := range tickets {
			if t.Status == models.StatusInProgress {
				busy[t.AssignedBarber()] = true
			}
		}

		var chosen string
		if barberID == "" {
			chosen = pickBarber(barbers, busy, ticket.Preferred())
			if chosen == "" {
				return store.ErrNoCapacity
			}
		} else {
			barber, err := q.GetBarber(ctx, barberID)
			if err != nil {
				return err
			}
			if barber.ShopID != ticket.ShopID {
				return store.ErrBarberNotFound
			}
			if !barber.Available() {
				return store.ErrBarberUnavailable
			}
			if busy[barberID] {
				return store.ErrBarberBusy
			}
			chosen = barberID
		}

		ticket.BarberID = &chosen
		ticket.StartedAt = &now
		return nil
	})
}

// pickBarber returns preferred when it is free, otherwise the first free
// barber by id. barbers is ordered by id.
func pickBarber(barbers []models.Barber, busy map[string]bool, preferred string) string {
	var first string
	for _, barber := range barbers {
		if !barber.Available() || busy[barber.BarberID] {
			continue
		}
		if barber.BarberID == preferred {
			return preferred
		}
		if first == "" {
			first = barber.BarberID
		}
	}
	return first
}

func (m *Manager) CompleteTicket(ctx context.Context, ticketID string) (models.Ticket, error) {
	return m.transition(ctx, store.ActionComplete, ticketID, func(_ context.Context, _ store.Queries, ticket *models.Ticket, now time.Time) error {
		ticket.CompletedAt = &now
		return nil
	})
}

func (m *Manager) CancelTicket(ctx context.Context, ticketID string) (models.Ticket, error) {
	return m.transition(ctx, store.ActionCancel, ticketID, func(_ context.Context, _ store.Queries, ticket *models.Ticket, now time.Time) error {
		ticket.CancelledAt = &now
		return nil
	})
}

type mutateFunc func(ctx context.Context, q store.Queries, ticket *models.Ticket, now time.Time) error

// transition applies action to the ticket under its shop's unit of work.
// The guard is checked against the ticket as read inside the unit, and the
// write is rejected if anything else touched the ticket in between.
func (m *Manager) transition(ctx context.Context, action, ticketID string, mutate mutateFunc) (models.Ticket, error) {
	if ticketID == "" {
		return models.Ticket{}, fmt.Errorf("%w: ticket id is required", store.ErrInvalidInput)
	}
	target, ok := store.TargetStatus(action)
	if !ok {
		return models.Ticket{}, fmt.Errorf("%w: unknown action %q", store.ErrInvalidInput, action)
	}
	current, err := m.store.GetTicket(ctx, ticketID)
	if err != nil {
		return models.Ticket{}, err
	}

	var updated models.Ticket
	active, err := m.run(ctx, action, current.ShopID, func(ctx context.Context, q store.Queries, now time.Time) ([]change, error) {
		ticket, err := q.GetTicket(ctx, ticketID)
		if err != nil {
			return nil, err
		}
		if !store.ValidTransition(action, ticket.Status) {
			return nil, fmt.Errorf("%w: cannot %s a %s ticket", store.ErrInvalidState, action, ticket.Status)
		}
		expected := ticket.Version
		from := ticket.Status
		if err := mutate(ctx, q, &ticket, now); err != nil {
			return nil, err
		}
		ticket.Status = target
		ticket.UpdatedAt = now
		if target != models.StatusWaiting {
			ticket.Position = 0
			ticket.EstimatedWaitTime = nil
		}
		updated, err = q.UpdateTicket(ctx, ticket, expected)
		if err != nil {
			return nil, err
		}
		return []change{{ticket: updated, from: from, actor: actorFrom(ctx, models.ActorStaff)}}, nil
	})
	if err != nil {
		return models.Ticket{}, err
	}
	if current, ok := active[updated.TicketID]; ok {
		return current, nil
	}
	return updated, nil
}

func (m *Manager) GetTicket(ctx context.Context, ticketID string) (models.Ticket, error) {
	if ticketID == "" {
		return models.Ticket{}, fmt.Errorf("%w: ticket id is required", store.ErrInvalidInput)
	}
	return m.store.GetTicket(ctx, ticketID)
}

// ListTicketAudit returns the ticket's audit trail oldest first.
func (m *Manager) ListTicketAudit(ctx context.Context, ticketID string) ([]models.AuditLogEntry, error) {
	if _, err := m.GetTicket(ctx, ticketID); err != nil {
		return nil, err
	}
	return m.store.ListAudit(ctx, ticketID)
}

// VerifyTicketAudit checks the hash chain of the ticket's audit trail.
func (m *Manager) VerifyTicketAudit(ctx context.Context, ticketID string) error {
	entries, err := m.ListTicketAudit(ctx, ticketID)
	if err != nil {
		return err
	}
	return store.VerifyChain(entries)
}
