package queue

import (
	"context"
	"fmt"
	"time"

	"qms/shop-queue/internal/models"
	"qms/shop-queue/internal/store"
)

const actionPresence = "presence"

// SetBarberPresence marks a barber present or absent. A barber leaving puts
// every ticket they were serving back in line with no barber; the ticket
// keeps its original place in the line.
func (m *Manager) SetBarberPresence(ctx context.Context, barberID string, present bool) (models.Barber, error) {
	if barberID == "" {
		return models.Barber{}, fmt.Errorf("%w: barber id is required", store.ErrInvalidInput)
	}
	current, err := m.store.GetBarber(ctx, barberID)
	if err != nil {
		return models.Barber{}, err
	}

	var updated models.Barber
	_, err = m.run(ctx, actionPresence, current.ShopID, func(ctx context.Context, q store.Queries, now time.Time) ([]change, error) {
		barber, err := q.GetBarber(ctx, barberID)
		if err != nil {
			return nil, err
		}
		if barber.IsPresent != present {
			barber.IsPresent = present
			barber.UpdatedAt = now
			if barber, err = q.UpdateBarber(ctx, barber); err != nil {
				return nil, fmt.Errorf("update barber: %w", err)
			}
		}
		updated = barber
		if present {
			return nil, nil
		}

		tickets, err := q.ListActiveTickets(ctx, barber.ShopID)
		if err != nil {
			return nil, fmt.Errorf("list active tickets: %w", err)
		}
		requeueTo, _ := store.TargetStatus(store.ActionRequeue)
		var changes []change
		for _, ticket := range tickets {
			if ticket.Status != models.StatusInProgress || ticket.AssignedBarber() != barberID {
				continue
			}
			if !store.ValidTransition(store.ActionRequeue, ticket.Status) {
				continue
			}
			expected := ticket.Version
			ticket.Status = requeueTo
			ticket.BarberID = nil
			ticket.StartedAt = nil
			ticket.UpdatedAt = now
			requeued, err := q.UpdateTicket(ctx, ticket, expected)
			if err != nil {
				return nil, fmt.Errorf("requeue ticket %s: %w", ticket.TicketID, err)
			}
			changes = append(changes, change{
				ticket: requeued,
				from:   models.StatusInProgress,
				actor:  models.ActorSystem,
				reason: "barber absent",
			})
		}
		return changes, nil
	})
	if err != nil {
		return models.Barber{}, err
	}
	return updated, nil
}
