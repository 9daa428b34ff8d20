package queue

import (
	"context"
	"fmt"
	"sort"
	"time"

	"qms/shop-queue/internal/estimator"
	"qms/shop-queue/internal/metrics"
	"qms/shop-queue/internal/models"
	"qms/shop-queue/internal/store"
)

const actionRecalculate = "recalculate"

type refreshState struct {
	tickets  map[string]models.Ticket
	promoted []change
}

// RecalculateShopQueue promotes due appointments and rewrites positions and
// estimates for shopID. Running it twice without an intervening mutation
// leaves the same values in place.
func (m *Manager) RecalculateShopQueue(ctx context.Context, shopID string) error {
	if shopID == "" {
		return fmt.Errorf("%w: shop id is required", store.ErrInvalidInput)
	}
	_, err := m.run(ctx, actionRecalculate, shopID, func(context.Context, store.Queries, time.Time) ([]change, error) {
		return nil, nil
	})
	metrics.RecordRecalculation(err)
	return err
}

// ActiveShopIDs lists the shops a recalculation pass at now has work for.
func (m *Manager) ActiveShopIDs(ctx context.Context) ([]string, error) {
	return m.store.ActiveShopIDs(ctx, m.clock.Now().Add(m.promoter.Floor()))
}

// refresh re-derives the queue of shopID from storage: due appointments are
// promoted, waiting positions recompacted and every active ticket's
// estimate rewritten.
func (m *Manager) refresh(ctx context.Context, q store.Queries, shopID string, now time.Time) (refreshState, error) {
	tickets, err := q.ListActiveTickets(ctx, shopID)
	if err != nil {
		return refreshState{}, fmt.Errorf("list active tickets: %w", err)
	}
	barbers, err := q.ListBarbers(ctx, shopID)
	if err != nil {
		return refreshState{}, fmt.Errorf("list barbers: %w", err)
	}
	services, err := q.ListServices(ctx, shopID)
	if err != nil {
		return refreshState{}, fmt.Errorf("list services: %w", err)
	}
	byID := make(map[string]models.Service, len(services))
	for _, service := range services {
		byID[service.ServiceID] = service
	}

	snapshot := estimator.Snapshot{Now: now, Tickets: tickets, Barbers: barbers, Services: byID}
	compactPositions(snapshot.Tickets)
	result := estimator.Estimate(snapshot)

	promoteTo, _ := store.TargetStatus(store.ActionPromote)
	var promoted []change
	for _, due := range m.promoter.Due(snapshot.Tickets, now, result) {
		if !store.ValidTransition(store.ActionPromote, due.Status) {
			continue
		}
		from := due.Status
		due.Status = promoteTo
		due.QueuedAt = now
		due.UpdatedAt = now
		updated, err := q.UpdateTicket(ctx, due, due.Version)
		if err != nil {
			return refreshState{}, fmt.Errorf("promote ticket %s: %w", due.TicketID, err)
		}
		replaceTicket(snapshot.Tickets, updated)
		promoted = append(promoted, change{
			ticket: updated,
			from:   from,
			actor:  models.ActorScheduler,
			reason: "appointment due",
		})
	}
	if len(promoted) > 0 {
		metrics.RecordPromotions(len(promoted))
		compactPositions(snapshot.Tickets)
		result = estimator.Estimate(snapshot)
	}

	updates := make([]store.QueueUpdate, 0, len(snapshot.Tickets))
	active := make(map[string]models.Ticket, len(snapshot.Tickets))
	for _, ticket := range snapshot.Tickets {
		ticket.EstimatedWaitTime = nil
		if ticket.Status == models.StatusWaiting {
			ticket.EstimatedWaitTime = result.Estimates[ticket.TicketID]
		}
		updates = append(updates, store.QueueUpdate{
			TicketID:          ticket.TicketID,
			Position:          ticket.Position,
			EstimatedWaitTime: ticket.EstimatedWaitTime,
		})
		active[ticket.TicketID] = ticket
	}
	if err := q.SaveQueueState(ctx, shopID, updates); err != nil {
		return refreshState{}, fmt.Errorf("save queue state: %w", err)
	}
	for i := range promoted {
		promoted[i].ticket = active[promoted[i].ticket.TicketID]
	}
	return refreshState{tickets: active, promoted: promoted}, nil
}

// compactPositions numbers waiting tickets 1..N in line order and zeroes
// the position of every other ticket.
func compactPositions(tickets []models.Ticket) {
	var waiting []*models.Ticket
	for i := range tickets {
		if tickets[i].Status == models.StatusWaiting {
			waiting = append(waiting, &tickets[i])
			continue
		}
		tickets[i].Position = 0
	}
	sort.SliceStable(waiting, func(i, j int) bool {
		return lineBefore(*waiting[i], *waiting[j])
	})
	for i, ticket := range waiting {
		ticket.Position = i + 1
	}
}

// lineBefore orders the waiting line: by time of entry, then slot for
// appointments promoted together, then creation order.
func lineBefore(a, b models.Ticket) bool {
	if !a.QueuedAt.Equal(b.QueuedAt) {
		return a.QueuedAt.Before(b.QueuedAt)
	}
	as, bs := slotOf(a), slotOf(b)
	if !as.Equal(bs) {
		return as.Before(bs)
	}
	if !a.CreatedAt.Equal(b.CreatedAt) {
		return a.CreatedAt.Before(b.CreatedAt)
	}
	return a.Seq < b.Seq
}

func slotOf(t models.Ticket) time.Time {
	if t.ScheduledFor == nil {
		return time.Time{}
	}
	return *t.ScheduledFor
}

func replaceTicket(tickets []models.Ticket, updated models.Ticket) {
	for i := range tickets {
		if tickets[i].TicketID == updated.TicketID {
			tickets[i] = updated
			return
		}
	}
}
