package tca9548

import (
	"errors"
	"fmt"
)

// ErrBusBusy is returned when another channel currently holds the upstream bus.
// Nothing has been written to the bus when it is returned.
var ErrBusBusy = errors.New("tca9548: bus is busy (used by another channel)")

var ErrAlreadySplit = errors.New("tca9548: multiplexer channels already split")
var ErrClosed = errors.New("tca9548: multiplexer closed")
var ErrUnknownOperation = errors.New("tca9548: unknown operation kind")
var ErrInvalidAddress = errors.New("tca9548: invalid 7-bit address")
var ErrSpeedUnsupported = errors.New("tca9548: upstream bus does not support speed changes")

// IOError reports a failure of the upstream bus. Err is the transport error as
// returned by the Bus implementation.
type IOError struct {
	// Op is one of "reset", "select", "transaction", "deselect" or "speed".
	Op string
	// Channel is -1 for operations not tied to a channel.
	Channel int
	Address byte
	Err     error
}

func (e *IOError) Error() string {
	if e.Channel < 0 {
		return fmt.Sprintf("tca9548: %s at %#x failed: %v", e.Op, e.Address, e.Err)
	}
	return fmt.Sprintf("tca9548: channel %d %s at %#x failed: %v", e.Channel, e.Op, e.Address, e.Err)
}

func (e *IOError) Unwrap() error {
	return e.Err
}
