package models

import "time"

type Shop struct {
	ShopID    string    `json:"shop_id"`
	Slug      string    `json:"slug"`
	Name      string    `json:"name"`
	Timezone  string    `json:"timezone"`
	Active    bool      `json:"active"`
	CreatedAt time.Time `json:"created_at"`
}

type Barber struct {
	BarberID  string    `json:"barber_id"`
	ShopID    string    `json:"shop_id"`
	Name      string    `json:"name"`
	IsActive  bool      `json:"is_active"`
	IsPresent bool      `json:"is_present"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Available reports whether the barber may be handed a ticket.
func (b Barber) Available() bool {
	return b.IsActive && b.IsPresent
}
