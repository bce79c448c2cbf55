package link

import (
	"errors"

	"github.com/nmdm/nmdm/internal/core/quota"
)

var (
	// ErrCapacityExceeded reports that a write did not fully fit in the
	// pending output buffer.
	ErrCapacityExceeded = errors.New("output buffer full")

	// ErrNoDataAvailable reports that no input is queued.
	ErrNoDataAvailable = errors.New("no data available")

	// ErrInvalidRate reports a rate that cannot be represented; the previous
	// configuration is kept.
	ErrInvalidRate = quota.ErrInvalidRate

	// ErrPairBusy reports that a pair still holds unread or unsent data.
	ErrPairBusy = errors.New("pair busy")

	// ErrClosed reports an operation on a destroyed pair.
	ErrClosed = errors.New("pair closed")

	// ErrInvalidSignal reports an attempt to drive an input-only modem line.
	ErrInvalidSignal = errors.New("invalid modem signal")
)
