// Package memory is an in-process implementation of store.Store. It is safe
// for concurrent use and is intended for tests and local development.
package memory

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"qms/shop-queue/internal/models"
	"qms/shop-queue/internal/store"
)

type Store struct {
	mu        sync.RWMutex
	shops     map[string]models.Shop
	barbers   map[string]models.Barber
	services  map[string]models.Service
	tickets   map[string]models.Ticket
	sequences map[string]int64
	audit     map[string][]models.AuditLogEntry
	lastSeq   int64

	locksMu sync.Mutex
	locks   map[string]*sync.Mutex
}

var _ store.Store = (*Store)(nil)

func New() *Store {
	return &Store{
		shops:     make(map[string]models.Shop),
		barbers:   make(map[string]models.Barber),
		services:  make(map[string]models.Service),
		tickets:   make(map[string]models.Ticket),
		sequences: make(map[string]int64),
		audit:     make(map[string][]models.AuditLogEntry),
		locks:     make(map[string]*sync.Mutex),
	}
}

// Reference data ------------------------------------------------------------

func (s *Store) AddShop(shop models.Shop) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.shops[shop.ShopID] = shop
}

func (s *Store) AddBarber(barber models.Barber) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.barbers[barber.BarberID] = barber
}

func (s *Store) AddService(service models.Service) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.services[service.ServiceID] = service
}

func (s *Store) GetShop(_ context.Context, shopID string) (models.Shop, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	shop, ok := s.shops[shopID]
	if !ok {
		return models.Shop{}, store.ErrShopNotFound
	}
	return shop, nil
}

func (s *Store) GetBarber(_ context.Context, barberID string) (models.Barber, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	barber, ok := s.barbers[barberID]
	if !ok {
		return models.Barber{}, store.ErrBarberNotFound
	}
	return barber, nil
}

func (s *Store) ListBarbers(_ context.Context, shopID string) ([]models.Barber, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var barbers []models.Barber
	for _, barber := range s.barbers {
		if barber.ShopID == shopID {
			barbers = append(barbers, barber)
		}
	}
	sort.Slice(barbers, func(i, j int) bool { return barbers[i].BarberID < barbers[j].BarberID })
	return barbers, nil
}

func (s *Store) UpdateBarber(_ context.Context, barber models.Barber) (models.Barber, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.barbers[barber.BarberID]; !ok {
		return models.Barber{}, store.ErrBarberNotFound
	}
	s.barbers[barber.BarberID] = barber
	return barber, nil
}

func (s *Store) GetService(_ context.Context, serviceID string) (models.Service, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	service, ok := s.services[serviceID]
	if !ok {
		return models.Service{}, store.ErrServiceNotFound
	}
	return service, nil
}

func (s *Store) ListServices(_ context.Context, shopID string) ([]models.Service, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var services []models.Service
	for _, service := range s.services {
		if service.ShopID == shopID {
			services = append(services, service)
		}
	}
	sort.Slice(services, func(i, j int) bool { return services[i].ServiceID < services[j].ServiceID })
	return services, nil
}

// Tickets -------------------------------------------------------------------

func (s *Store) GetTicket(_ context.Context, ticketID string) (models.Ticket, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	ticket, ok := s.tickets[ticketID]
	if !ok {
		return models.Ticket{}, store.ErrTicketNotFound
	}
	return cloneTicket(ticket), nil
}

func (s *Store) FindTicketByRequestID(_ context.Context, shopID, requestID string) (models.Ticket, bool, error) {
	if requestID == "" {
		return models.Ticket{}, false, nil
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, ticket := range s.tickets {
		if ticket.ShopID == shopID && ticket.RequestID == requestID {
			return cloneTicket(ticket), true, nil
		}
	}
	return models.Ticket{}, false, nil
}

func (s *Store) ListActiveTickets(_ context.Context, shopID string) ([]models.Ticket, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var tickets []models.Ticket
	for _, ticket := range s.tickets {
		if ticket.ShopID == shopID && ticket.IsActive() {
			tickets = append(tickets, cloneTicket(ticket))
		}
	}
	sort.Slice(tickets, func(i, j int) bool {
		if !tickets[i].CreatedAt.Equal(tickets[j].CreatedAt) {
			return tickets[i].CreatedAt.Before(tickets[j].CreatedAt)
		}
		return tickets[i].Seq < tickets[j].Seq
	})
	return tickets, nil
}

func (s *Store) NextTicketNumber(_ context.Context, shopID, serviceID string) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	key := sequenceKey(shopID, serviceID)
	s.sequences[key]++
	return s.sequences[key], nil
}

func (s *Store) InsertTicket(_ context.Context, ticket models.Ticket) (models.Ticket, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.tickets[ticket.TicketID]; exists {
		return models.Ticket{}, fmt.Errorf("ticket %s already exists", ticket.TicketID)
	}
	s.lastSeq++
	ticket.Seq = s.lastSeq
	ticket.Version = 1
	s.tickets[ticket.TicketID] = cloneTicket(ticket)
	return cloneTicket(ticket), nil
}

func (s *Store) UpdateTicket(_ context.Context, ticket models.Ticket, expectedVersion int) (models.Ticket, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	current, ok := s.tickets[ticket.TicketID]
	if !ok {
		return models.Ticket{}, store.ErrTicketNotFound
	}
	if current.Version != expectedVersion {
		return models.Ticket{}, store.ErrStaleTicket
	}
	ticket.Seq = current.Seq
	ticket.Version = expectedVersion + 1
	s.tickets[ticket.TicketID] = cloneTicket(ticket)
	return cloneTicket(ticket), nil
}

func (s *Store) SaveQueueState(_ context.Context, shopID string, updates []store.QueueUpdate) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, update := range updates {
		ticket, ok := s.tickets[update.TicketID]
		if !ok || ticket.ShopID != shopID || ticket.IsTerminal() {
			continue
		}
		ticket.Position = update.Position
		ticket.EstimatedWaitTime = copyInt(update.EstimatedWaitTime)
		s.tickets[update.TicketID] = ticket
	}
	return nil
}

func (s *Store) ActiveShopIDs(_ context.Context, pendingBefore time.Time) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	seen := make(map[string]struct{})
	for _, ticket := range s.tickets {
		switch ticket.Status {
		case models.StatusWaiting, models.StatusInProgress:
			seen[ticket.ShopID] = struct{}{}
		case models.StatusPending:
			if ticket.ScheduledFor == nil || !ticket.ScheduledFor.After(pendingBefore) {
				seen[ticket.ShopID] = struct{}{}
			}
		}
	}
	ids := make([]string, 0, len(seen))
	for id := range seen {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids, nil
}

// Audit ---------------------------------------------------------------------

func (s *Store) AppendAudit(_ context.Context, entry models.AuditLogEntry) (models.AuditLogEntry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var last models.AuditLogEntry
	if chain := s.audit[entry.TicketID]; len(chain) > 0 {
		last = chain[len(chain)-1]
	}
	entry = store.ChainEntry(last, entry)
	s.audit[entry.TicketID] = append(s.audit[entry.TicketID], entry)
	return entry, nil
}

func (s *Store) ListAudit(_ context.Context, ticketID string) ([]models.AuditLogEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	chain := s.audit[ticketID]
	out := make([]models.AuditLogEntry, len(chain))
	copy(out, chain)
	return out, nil
}

// Units of work -------------------------------------------------------------

// InShop serialises fn against other units of work on the same shop and
// restores the shop's tickets, barbers and sequences if fn fails.
func (s *Store) InShop(ctx context.Context, shopID string, fn func(ctx context.Context, q store.Queries) error) error {
	lock := s.shopLock(shopID)
	lock.Lock()
	defer lock.Unlock()

	if _, err := s.GetShop(ctx, shopID); err != nil {
		return err
	}

	saved := s.saveShop(shopID)
	if err := fn(ctx, s); err != nil {
		s.restoreShop(shopID, saved)
		return err
	}
	return nil
}

// View holds the shop lock while fn reads, so it never observes a unit of
// work that may still be rolled back.
func (s *Store) View(ctx context.Context, shopID string, fn func(ctx context.Context, q store.Queries) error) error {
	lock := s.shopLock(shopID)
	lock.Lock()
	defer lock.Unlock()

	if _, err := s.GetShop(ctx, shopID); err != nil {
		return err
	}
	return fn(ctx, s)
}

func (s *Store) shopLock(shopID string) *sync.Mutex {
	s.locksMu.Lock()
	defer s.locksMu.Unlock()
	lock, ok := s.locks[shopID]
	if !ok {
		lock = &sync.Mutex{}
		s.locks[shopID] = lock
	}
	return lock
}

type shopState struct {
	tickets   map[string]models.Ticket
	barbers   map[string]models.Barber
	sequences map[string]int64
}

func (s *Store) saveShop(shopID string) shopState {
	s.mu.RLock()
	defer s.mu.RUnlock()
	state := shopState{
		tickets:   make(map[string]models.Ticket),
		barbers:   make(map[string]models.Barber),
		sequences: make(map[string]int64),
	}
	for id, ticket := range s.tickets {
		if ticket.ShopID == shopID {
			state.tickets[id] = cloneTicket(ticket)
		}
	}
	for id, barber := range s.barbers {
		if barber.ShopID == shopID {
			state.barbers[id] = barber
		}
	}
	prefix := shopID + "|"
	for key, seq := range s.sequences {
		if strings.HasPrefix(key, prefix) {
			state.sequences[key] = seq
		}
	}
	return state
}

func (s *Store) restoreShop(shopID string, state shopState) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for id, ticket := range s.tickets {
		if ticket.ShopID == shopID {
			if _, keep := state.tickets[id]; !keep {
				delete(s.tickets, id)
			}
		}
	}
	for id, ticket := range state.tickets {
		s.tickets[id] = ticket
	}
	for id, barber := range state.barbers {
		s.barbers[id] = barber
	}
	prefix := shopID + "|"
	for key := range s.sequences {
		if strings.HasPrefix(key, prefix) {
			if _, keep := state.sequences[key]; !keep {
				delete(s.sequences, key)
			}
		}
	}
	for key, seq := range state.sequences {
		s.sequences[key] = seq
	}
}

func sequenceKey(shopID, serviceID string) string {
	return shopID + "|" + serviceID
}

func cloneTicket(t models.Ticket) models.Ticket {
	t.BarberID = copyString(t.BarberID)
	t.PreferredBarberID = copyString(t.PreferredBarberID)
	t.EstimatedWaitTime = copyInt(t.EstimatedWaitTime)
	t.ScheduledFor = copyTime(t.ScheduledFor)
	t.StartedAt = copyTime(t.StartedAt)
	t.CompletedAt = copyTime(t.CompletedAt)
	t.CancelledAt = copyTime(t.CancelledAt)
	return t
}

func copyString(v *string) *string {
	if v == nil {
		return nil
	}
	c := *v
	return &c
}

func copyInt(v *int) *int {
	if v == nil {
		return nil
	}
	c := *v
	return &c
}

func copyTime(v *time.Time) *time.Time {
	if v == nil {
		return nil
	}
	c := *v
	return &c
}
