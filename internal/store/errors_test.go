package store

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestErrorCategories(t *testing.T) {
	cases := []struct {
		err  error
		kind error
	}{
		{ErrInvalidInput, ErrValidation},
		{ErrShopNotFound, ErrNotFound},
		{ErrTicketNotFound, ErrNotFound},
		{ErrBarberNotFound, ErrNotFound},
		{ErrServiceNotFound, ErrNotFound},
		{ErrInvalidState, ErrConflict},
		{ErrStaleTicket, ErrConflict},
		{ErrBarberBusy, ErrConflict},
		{ErrBarberUnavailable, ErrCapacity},
		{ErrNoCapacity, ErrCapacity},
	}
	for _, tc := range cases {
		wrapped := fmt.Errorf("assign ticket: %w", tc.err)
		assert.ErrorIs(t, wrapped, tc.err)
		assert.ErrorIs(t, wrapped, tc.kind, tc.err.Error())
	}
	assert.False(t, errors.Is(ErrTicketNotFound, ErrConflict))
	assert.False(t, errors.Is(ErrTicketNotFound, ErrBarberNotFound))
}
