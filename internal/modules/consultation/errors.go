package consultation

import "errors"

var (
	// ErrCancellationDeadline is returned when the 24h pre-slot cutoff has
	// passed.
	ErrCancellationDeadline = errors.New("cancellation deadline passed")

	// ErrSlotUnavailable covers slots outside working hours or in the past.
	ErrSlotUnavailable = errors.New("slot is not available for booking")
)
