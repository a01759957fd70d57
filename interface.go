package tca9548

import (
	"context"
	"errors"
	"sync"
)

const deselectAll byte = 0x00

// sharedInterface owns the upstream bus. All access goes through mx which is
// only ever acquired with TryLock on the transaction path: contention fails
// fast with ErrBusBusy instead of queueing.
type sharedInterface struct {
	mx      sync.Mutex
	bus     Bus
	address byte
	closed  bool
	config  MuxOpts
}

func newSharedInterface(bus Bus, address byte, config MuxOpts) *sharedInterface {
	return &sharedInterface{
		bus:     bus,
		address: address,
		config:  config,
	}
}

// guarded runs f holding the bus without touching the channel selection.
func (s *sharedInterface) guarded(f func(bus Bus) error) error {
	if !s.mx.TryLock() {
		return ErrBusBusy
	}
	defer s.mx.Unlock()
	if s.closed {
		return ErrClosed
	}
	return f(s.bus)
}

// runOnChannel selects channel, runs f and deselects all channels again.
//
// When f fails the deselect write is skipped and the channel stays selected,
// unless DeselectOnFailure is set. Use Mux.Reset to recover.
func (s *sharedInterface) runOnChannel(ctx context.Context, channel int, f func(ctx context.Context, bus Bus) error) error {
	return s.guarded(func(bus Bus) error {
		log := s.config.Logger
		err := bus.WriteToAddr(ctx, s.address, []byte{1 << uint(channel)})
		if err != nil {
			return &IOError{Op: "select", Channel: channel, Address: s.address, Err: err}
		}
		log.Debug("mux channel selected", "mux", s.address, "channel", channel)

		err = f(ctx, bus)
		if err != nil {
			ioErr := &IOError{Op: "transaction", Channel: channel, Address: s.address, Err: err}
			if !s.config.DeselectOnFailure {
				log.Debug("transaction failed, channel left selected", "mux", s.address, "channel", channel, "error", err)
				return ioErr
			}
			derr := bus.WriteToAddr(ctx, s.address, []byte{deselectAll})
			if derr != nil {
				// deselect first so errors.As reports the mux left selected
				return errors.Join(&IOError{Op: "deselect", Channel: channel, Address: s.address, Err: derr}, ioErr)
			}
			return ioErr
		}

		err = bus.WriteToAddr(ctx, s.address, []byte{deselectAll})
		if err != nil {
			return &IOError{Op: "deselect", Channel: channel, Address: s.address, Err: err}
		}
		log.Debug("mux channel deselected", "mux", s.address, "channel", channel)
		return nil
	})
}

func (s *sharedInterface) close() error {
	s.mx.Lock()
	defer s.mx.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	if c, ok := s.bus.(interface{ Close() error }); ok {
		return c.Close()
	}
	return nil
}
