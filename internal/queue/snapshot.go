package queue

import (
	"context"
	"fmt"
	"sort"
	"time"

	"qms/shop-queue/internal/estimator"
	"qms/shop-queue/internal/models"
	"qms/shop-queue/internal/store"
)

type Snapshot struct {
	ShopID      string    `json:"shop_id"`
	GeneratedAt time.Time `json:"generated_at"`
	// Tickets are in_progress first, then the waiting line, then pending
	// appointments by slot.
	Tickets []models.Ticket `json:"tickets"`
	// EstimatedWaitTimes are the persisted estimates of the waiting tickets.
	EstimatedWaitTimes map[string]*int `json:"estimated_wait_times"`
	// GeneralLineWait is what a new customer taking any barber would wait.
	GeneralLineWait *int         `json:"general_line_wait"`
	BarberLines     []BarberLine `json:"barber_lines"`
}

type BarberLine struct {
	BarberID        string `json:"barber_id"`
	Name            string `json:"name"`
	Wait            int    `json:"wait"`
	Waiting         int    `json:"waiting"`
	ServingTicketID string `json:"serving_ticket_id,omitempty"`
	// GeneralLineFaster is informational only.
	GeneralLineFaster bool `json:"general_line_faster"`
}

// GetQueueSnapshot reads the shop's queue as last persisted. It never
// recalculates, so it serves the last stored estimates while a refresh lags.
func (m *Manager) GetQueueSnapshot(ctx context.Context, shopID string) (Snapshot, error) {
	if shopID == "" {
		return Snapshot{}, fmt.Errorf("%w: shop id is required", store.ErrInvalidInput)
	}
	var (
		tickets  []models.Ticket
		barbers  []models.Barber
		services []models.Service
	)
	err := m.store.View(ctx, shopID, func(ctx context.Context, q store.Queries) error {
		var err error
		if tickets, err = q.ListActiveTickets(ctx, shopID); err != nil {
			return fmt.Errorf("list active tickets: %w", err)
		}
		if barbers, err = q.ListBarbers(ctx, shopID); err != nil {
			return fmt.Errorf("list barbers: %w", err)
		}
		if services, err = q.ListServices(ctx, shopID); err != nil {
			return fmt.Errorf("list services: %w", err)
		}
		return nil
	})
	if err != nil {
		return Snapshot{}, err
	}
	byID := make(map[string]models.Service, len(services))
	for _, service := range services {
		byID[service.ServiceID] = service
	}

	now := m.clock.Now()
	sortForDisplay(tickets)
	snapshot := Snapshot{
		ShopID:             shopID,
		GeneratedAt:        now,
		Tickets:            tickets,
		EstimatedWaitTimes: make(map[string]*int),
	}
	if snapshot.Tickets == nil {
		snapshot.Tickets = []models.Ticket{}
	}
	for _, ticket := range tickets {
		if ticket.Status == models.StatusWaiting {
			snapshot.EstimatedWaitTimes[ticket.TicketID] = ticket.EstimatedWaitTime
		}
	}

	live := estimator.Estimate(estimator.Snapshot{Now: now, Tickets: tickets, Barbers: barbers, Services: byID})
	snapshot.GeneralLineWait = live.GeneralWait
	snapshot.BarberLines = []BarberLine{}
	for _, barber := range barbers {
		if !barber.Available() {
			continue
		}
		line := BarberLine{BarberID: barber.BarberID, Name: barber.Name, Wait: live.BarberWaits[barber.BarberID]}
		for _, ticket := range tickets {
			switch {
			case ticket.Status == models.StatusWaiting && ticket.Preferred() == barber.BarberID:
				line.Waiting++
			case ticket.Status == models.StatusInProgress && ticket.AssignedBarber() == barber.BarberID:
				line.ServingTicketID = ticket.TicketID
			}
		}
		line.GeneralLineFaster = live.GeneralWait != nil && *live.GeneralWait < line.Wait
		snapshot.BarberLines = append(snapshot.BarberLines, line)
	}
	return snapshot, nil
}

var statusRank = map[string]int{
	models.StatusInProgress: 0,
	models.StatusWaiting:    1,
	models.StatusPending:    2,
}

func sortForDisplay(tickets []models.Ticket) {
	sort.SliceStable(tickets, func(i, j int) bool {
		a, b := tickets[i], tickets[j]
		if statusRank[a.Status] != statusRank[b.Status] {
			return statusRank[a.Status] < statusRank[b.Status]
		}
		switch a.Status {
		case models.StatusWaiting:
			if a.Position != b.Position {
				return a.Position < b.Position
			}
		case models.StatusPending:
			if !slotOf(a).Equal(slotOf(b)) {
				return slotOf(a).Before(slotOf(b))
			}
		case models.StatusInProgress:
			if a.StartedAt != nil && b.StartedAt != nil && !a.StartedAt.Equal(*b.StartedAt) {
				return a.StartedAt.Before(*b.StartedAt)
			}
		}
		return a.Seq < b.Seq
	})
}
