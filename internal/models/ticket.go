package models

import "time"

type Ticket struct {
	TicketID          string     `json:"ticket_id"`
	TicketNumber      string     `json:"ticket_number"`
	ShopID            string     `json:"shop_id"`
	ServiceID         string     `json:"service_id"`
	BarberID          *string    `json:"barber_id,omitempty"`
	PreferredBarberID *string    `json:"preferred_barber_id,omitempty"`
	RequestID         string     `json:"request_id,omitempty"`
	CustomerName      string     `json:"customer_name"`
	CustomerPhone     string     `json:"customer_phone,omitempty"`
	Type              string     `json:"type"`
	Status            string     `json:"status"`
	Position          int        `json:"position"`
	EstimatedWaitTime *int       `json:"estimated_wait_time"`
	ScheduledFor      *time.Time `json:"scheduled_for,omitempty"`
	CreatedAt         time.Time  `json:"created_at"`
	// QueuedAt orders the waiting line: creation time for walk-ins,
	// promotion time for appointments. Zero while pending.
	QueuedAt    time.Time  `json:"queued_at"`
	UpdatedAt   time.Time  `json:"updated_at"`
	StartedAt   *time.Time `json:"started_at,omitempty"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
	CancelledAt *time.Time `json:"cancelled_at,omitempty"`
	Version     int        `json:"version"`
	// Seq is assigned on insert and grows with every ticket stored. It
	// orders tickets created within the same instant.
	Seq int64 `json:"seq"`
}

const (
	StatusPending    = "pending"
	StatusWaiting    = "waiting"
	StatusInProgress = "in_progress"
	StatusCompleted  = "completed"
	StatusCancelled  = "cancelled"
)

const (
	TypeWalkIn      = "walk-in"
	TypeAppointment = "appointment"
)

// IsTerminal reports whether no further transition may touch the ticket.
func (t Ticket) IsTerminal() bool {
	return t.Status == StatusCompleted || t.Status == StatusCancelled
}

// IsActive reports whether the ticket still takes part in queue computation.
func (t Ticket) IsActive() bool {
	return t.Status == StatusPending || t.Status == StatusWaiting || t.Status == StatusInProgress
}

// Preferred returns the preferred barber id or "" for the general line.
func (t Ticket) Preferred() string {
	if t.PreferredBarberID == nil {
		return ""
	}
	return *t.PreferredBarberID
}

// AssignedBarber returns the serving barber id or "".
func (t Ticket) AssignedBarber() string {
	if t.BarberID == nil {
		return ""
	}
	return *t.BarberID
}
