package models

import "time"

type AuditLogEntry struct {
	EntryID    string    `json:"entry_id"`
	ShopID     string    `json:"shop_id"`
	TicketID   string    `json:"ticket_id"`
	Seq        int       `json:"seq"`
	FromStatus string    `json:"from_status"`
	ToStatus   string    `json:"to_status"`
	Actor      string    `json:"actor"`
	Reason     string    `json:"reason,omitempty"`
	OccurredAt time.Time `json:"occurred_at"`
	PrevHash   string    `json:"prev_hash"`
	Hash       string    `json:"hash"`
}

const (
	ActorStaff     = "staff"
	ActorCustomer  = "customer"
	ActorSystem    = "system"
	ActorScheduler = "scheduler"
)
