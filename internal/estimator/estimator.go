// Package estimator computes per-ticket wait estimates for one shop by
// simulating its queue over the barbers currently present.
//
// Waiting tickets are taken in position order and handed to whichever
// barber frees up first; a barber already serving starts busy for the
// remainder of that service. Tickets that asked for a specific barber are
// estimated on that barber's own line only.
package estimator

import (
	"container/heap"
	"sort"
	"time"

	"qms/shop-queue/internal/models"
)

type Snapshot struct {
	Now      time.Time
	Tickets  []models.Ticket
	Barbers  []models.Barber
	Services map[string]models.Service
}

type Result struct {
	// Estimates holds minutes until service for every waiting ticket, nil
	// when no barber can take it.
	Estimates map[string]*int
	// GeneralWait is the wait a new customer would face when willing to take
	// any barber. Nil when no barber is present.
	GeneralWait *int
	// BarberWaits is the wait on each present barber's own line.
	BarberWaits map[string]int
}

// BarberWait returns the barber-scoped wait, or nil if the barber is absent.
func (r Result) BarberWait(barberID string) *int {
	wait, ok := r.BarberWaits[barberID]
	if !ok {
		return nil
	}
	return &wait
}

func Estimate(s Snapshot) Result {
	result := Result{
		Estimates:   make(map[string]*int),
		BarberWaits: make(map[string]int),
	}

	busy := make(map[string]int)
	for _, barber := range s.Barbers {
		if barber.Available() {
			busy[barber.BarberID] = 0
		}
	}

	var waiting []models.Ticket
	for _, ticket := range s.Tickets {
		switch ticket.Status {
		case models.StatusInProgress:
			barberID := ticket.AssignedBarber()
			if _, ok := busy[barberID]; ok {
				busy[barberID] += remainingMinutes(ticket, s.durationOf(ticket), s.Now)
			}
		case models.StatusWaiting:
			waiting = append(waiting, ticket)
		}
	}
	sort.SliceStable(waiting, func(i, j int) bool {
		if waiting[i].Position != waiting[j].Position {
			return waiting[i].Position < waiting[j].Position
		}
		if !waiting[i].CreatedAt.Equal(waiting[j].CreatedAt) {
			return waiting[i].CreatedAt.Before(waiting[j].CreatedAt)
		}
		return waiting[i].Seq < waiting[j].Seq
	})

	lines := make(map[string]int, len(busy))
	general := make(slotHeap, 0, len(busy))
	for barberID, offset := range busy {
		lines[barberID] = offset
		general = append(general, slot{barberID: barberID, busyUntil: offset})
	}
	heap.Init(&general)

	for _, ticket := range waiting {
		duration := s.durationOf(ticket)
		if preferred := ticket.Preferred(); preferred != "" {
			offset, ok := lines[preferred]
			if !ok {
				result.Estimates[ticket.TicketID] = nil
				continue
			}
			result.Estimates[ticket.TicketID] = intPtr(offset)
			lines[preferred] = offset + duration
			continue
		}
		if general.Len() == 0 {
			result.Estimates[ticket.TicketID] = nil
			continue
		}
		next := heap.Pop(&general).(slot)
		result.Estimates[ticket.TicketID] = intPtr(next.busyUntil)
		next.busyUntil += duration
		heap.Push(&general, next)
	}

	if general.Len() > 0 {
		result.GeneralWait = intPtr(general[0].busyUntil)
	}
	for barberID, offset := range lines {
		result.BarberWaits[barberID] = offset
	}
	return result
}

func (s Snapshot) durationOf(ticket models.Ticket) int {
	service, ok := s.Services[ticket.ServiceID]
	if !ok || service.Duration < 0 {
		return 0
	}
	return service.Duration
}

// remainingMinutes is the service time left on an in-progress ticket,
// rounded up to whole minutes and floored at zero.
func remainingMinutes(ticket models.Ticket, duration int, now time.Time) int {
	started := ticket.UpdatedAt
	if ticket.StartedAt != nil {
		started = *ticket.StartedAt
	}
	remaining := time.Duration(duration)*time.Minute - now.Sub(started)
	if remaining <= 0 {
		return 0
	}
	return int((remaining + time.Minute - 1) / time.Minute)
}

func intPtr(v int) *int {
	return &v
}

type slot struct {
	barberID  string
	busyUntil int
}

type slotHeap []slot

func (h slotHeap) Len() int { return len(h) }

func (h slotHeap) Less(i, j int) bool {
	if h[i].busyUntil != h[j].busyUntil {
		return h[i].busyUntil < h[j].busyUntil
	}
	return h[i].barberID < h[j].barberID
}

func (h slotHeap) Swap(i, j int) { h[i], h[j] = h[j], h[i] }

func (h *slotHeap) Push(x any) { *h = append(*h, x.(slot)) }

func (h *slotHeap) Pop() any {
	old := *h
	n := len(old)
	item := old[n-1]
	*h = old[:n-1]
	return item
}
