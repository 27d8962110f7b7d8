package payment

import (
	"errors"
	"fmt"

	"legalbot/internal/domain"
)

var (
	ErrUnknownProvider = errors.New("unknown payment provider")
	ErrCheckoutFailed  = errors.New("failed to get checkout URL")
	ErrRefundFailed    = errors.New("provider refund failed")
)

// Error is a typed provider-adapter failure. The payment row stays in its
// prior state, so the same operation can be retried with the same payment id.
type Error struct {
	Op       string
	Provider domain.PaymentProvider
	Err      error
}

func (e *Error) Error() string {
	return fmt.Sprintf("payment %s via %s: %v", e.Op, e.Provider, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }
