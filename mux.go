package tca9548

import (
	"context"
	"fmt"
	"log/slog"
	"sync/atomic"
)

// DefaultAddress is the mux address with A0..A2 tied low.
const DefaultAddress = 0x70

const NumChannels = 8

type MuxOpts struct {
	Logger *slog.Logger
	// DeselectOnFailure makes the mux write the deselect byte even when the
	// channel transaction failed. Off by default: a failed transaction leaves
	// its channel selected.
	DeselectOnFailure bool
}

type MuxOpt func(*MuxOpts)

func WithLogger(logger *slog.Logger) MuxOpt {
	return func(o *MuxOpts) {
		o.Logger = logger
	}
}

func WithDeselectOnFailure() MuxOpt {
	return func(o *MuxOpts) {
		o.DeselectOnFailure = true
	}
}

// Mux represents a single TCA9548 chip.
// See: https://www.ti.com/lit/ds/symlink/tca9548a.pdf
//
// Usage: create with New, call Split once and hand the channels to device
// drivers. Channels must not be used after the Mux is closed.
type Mux struct {
	iface *sharedInterface
	split atomic.Bool
}

// New deselects all channels of the mux at address and takes ownership of bus.
func New(ctx context.Context, bus Bus, address byte, opts ...MuxOpt) (*Mux, error) {
	if address > 0x7F {
		return nil, fmt.Errorf("%w: %#x", ErrInvalidAddress, address)
	}
	config := MuxOpts{
		Logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(&config)
	}
	if config.Logger == nil {
		config.Logger = slog.Default()
	}
	err := bus.WriteToAddr(ctx, address, []byte{deselectAll})
	if err != nil {
		return nil, &IOError{Op: "reset", Channel: -1, Address: address, Err: err}
	}
	config.Logger.Debug("mux initialized", "mux", address)
	return &Mux{iface: newSharedInterface(bus, address, config)}, nil
}

// Split returns the eight channel buses. It succeeds only once per Mux so a
// single set of channels exists; later calls return ErrAlreadySplit.
func (m *Mux) Split() (Channels, error) {
	var chans Channels
	if !m.split.CompareAndSwap(false, true) {
		return chans, ErrAlreadySplit
	}
	for i := range chans {
		chans[i] = &Channel{num: i, iface: m.iface}
	}
	return chans, nil
}

// Reset deselects all channels. It is subject to the same busy rules as
// channel transactions.
func (m *Mux) Reset(ctx context.Context) error {
	return m.iface.guarded(func(bus Bus) error {
		err := bus.WriteToAddr(ctx, m.iface.address, []byte{deselectAll})
		if err != nil {
			return &IOError{Op: "reset", Channel: -1, Address: m.iface.address, Err: err}
		}
		return nil
	})
}

// Close waits for an in-flight transaction, invalidates all channels and
// closes the upstream bus if it is closable.
func (m *Mux) Close() error {
	return m.iface.close()
}

func (m *Mux) Address() byte {
	return m.iface.address
}

func (m *Mux) String() string {
	return fmt.Sprintf("tca9548@%#x", m.iface.address)
}
