package store

import "errors"

// Error categories. Every specific error below unwraps to exactly one of them.
var (
	ErrValidation = errors.New("validation failed")
	ErrNotFound   = errors.New("not found")
	ErrConflict   = errors.New("conflict")
	ErrCapacity   = errors.New("no capacity")
)

var (
	ErrInvalidInput      = categorized("invalid input", ErrValidation)
	ErrShopNotFound      = categorized("shop not found", ErrNotFound)
	ErrTicketNotFound    = categorized("ticket not found", ErrNotFound)
	ErrBarberNotFound    = categorized("barber not found", ErrNotFound)
	ErrServiceNotFound   = categorized("service not found", ErrNotFound)
	ErrInvalidState      = categorized("invalid ticket state", ErrConflict)
	ErrStaleTicket       = categorized("ticket modified concurrently", ErrConflict)
	ErrBarberBusy        = categorized("barber already serving a ticket", ErrConflict)
	ErrBarberUnavailable = categorized("barber not available", ErrCapacity)
	ErrNoCapacity        = categorized("no barber available", ErrCapacity)
)

type categoryError struct {
	msg  string
	kind error
}

func categorized(msg string, kind error) error {
	return &categoryError{msg: msg, kind: kind}
}

func (e *categoryError) Error() string { return e.msg }

func (e *categoryError) Unwrap() error { return e.kind }
