// Package promoter decides when a pending appointment joins the live line.
package promoter

import (
	"sort"
	"time"

	"qms/shop-queue/internal/estimator"
	"qms/shop-queue/internal/models"
	"qms/shop-queue/internal/store"
)

// DefaultFloor is the minimum lead time an appointment is promoted ahead of
// its slot.
const DefaultFloor = 30 * time.Minute

type Promoter struct {
	floor time.Duration
}

func New(floor time.Duration) Promoter {
	if floor <= 0 {
		floor = DefaultFloor
	}
	return Promoter{floor: floor}
}

func (p Promoter) Floor() time.Duration {
	if p.floor <= 0 {
		return DefaultFloor
	}
	return p.floor
}

// EffectiveWait is how far ahead of its slot the ticket should enter the
// line given the shop's current estimates.
func (p Promoter) EffectiveWait(ticket models.Ticket, current estimator.Result) time.Duration {
	var wait *int
	if preferred := ticket.Preferred(); preferred != "" {
		wait = current.BarberWait(preferred)
	} else {
		wait = current.GeneralWait
	}
	if wait == nil {
		return p.Floor()
	}
	effective := time.Duration(*wait) * time.Minute
	if effective < p.Floor() {
		return p.Floor()
	}
	return effective
}

func (p Promoter) ShouldPromote(ticket models.Ticket, now time.Time, current estimator.Result) bool {
	if !store.ValidTransition(store.ActionPromote, ticket.Status) {
		return false
	}
	if ticket.ScheduledFor == nil {
		return true
	}
	return ticket.ScheduledFor.Sub(now) <= p.EffectiveWait(ticket, current)
}

// Due returns the pending tickets to promote now, earliest slot first.
func (p Promoter) Due(tickets []models.Ticket, now time.Time, current estimator.Result) []models.Ticket {
	var due []models.Ticket
	for _, ticket := range tickets {
		if p.ShouldPromote(ticket, now, current) {
			due = append(due, ticket)
		}
	}
	sortBySlot(due)
	return due
}

func sortBySlot(tickets []models.Ticket) {
	sort.SliceStable(tickets, func(i, j int) bool {
		return slotBefore(tickets[i], tickets[j])
	})
}

func slotBefore(a, b models.Ticket) bool {
	if a.ScheduledFor == nil || b.ScheduledFor == nil {
		return a.ScheduledFor == nil && b.ScheduledFor != nil
	}
	if !a.ScheduledFor.Equal(*b.ScheduledFor) {
		return a.ScheduledFor.Before(*b.ScheduledFor)
	}
	if !a.CreatedAt.Equal(b.CreatedAt) {
		return a.CreatedAt.Before(b.CreatedAt)
	}
	return a.Seq < b.Seq
}
