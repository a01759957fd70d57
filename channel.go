package tca9548

import (
	"context"
	"fmt"

	"periph.io/x/conn/v3/i2c"
	"periph.io/x/conn/v3/physic"
	"tinygo.org/x/drivers"
)

var (
	_ i2c.Bus     = &Channel{}
	_ drivers.I2C = &Channel{}
)

// Channels holds the eight downstream buses, indexed by channel number.
type Channels [NumChannels]*Channel

// Channel is one downstream bus of the mux. Every transaction selects the
// channel, runs and deselects it again. If another channel is in the middle
// of a transaction the call fails with ErrBusBusy.
type Channel struct {
	num   int
	iface *sharedInterface
}

func (c *Channel) Number() int {
	return c.num
}

// Transaction runs ops against the device at address on this channel.
// Errors are either ErrBusBusy, ErrClosed or an *IOError wrapping the
// upstream bus error.
func (c *Channel) Transaction(ctx context.Context, address byte, ops ...Operation) error {
	return c.iface.runOnChannel(ctx, c.num, func(ctx context.Context, bus Bus) error {
		return bus.Transaction(ctx, address, ops)
	})
}

func (c *Channel) WriteToAddr(ctx context.Context, address byte, buffer []byte) error {
	return c.Transaction(ctx, address, Write(buffer))
}

func (c *Channel) ReadFromAddr(ctx context.Context, address byte, buffer []byte) error {
	return c.Transaction(ctx, address, Read(buffer))
}

// Release is a no-op; the channel never holds the bus between calls.
func (c *Channel) Release(ctx context.Context) error {
	return nil
}

// Tx makes the channel usable by periph and tinygo device drivers.
func (c *Channel) Tx(addr uint16, w, r []byte) error {
	if addr > 0x7F {
		return fmt.Errorf("%w: %#x (10-bit addressing not supported)", ErrInvalidAddress, addr)
	}
	var ops []Operation
	if len(w) > 0 {
		ops = append(ops, Write(w))
	}
	if len(r) > 0 {
		ops = append(ops, Read(r))
	}
	return c.Transaction(context.Background(), byte(addr), ops...)
}

// SetSpeed changes the upstream bus clock, which affects all channels.
func (c *Channel) SetSpeed(f physic.Frequency) error {
	return c.iface.guarded(func(bus Bus) error {
		s, ok := bus.(interface{ SetSpeed(physic.Frequency) error })
		if !ok {
			return fmt.Errorf("%w: %T", ErrSpeedUnsupported, bus)
		}
		err := s.SetSpeed(f)
		if err != nil {
			return &IOError{Op: "speed", Channel: c.num, Address: c.iface.address, Err: err}
		}
		return nil
	})
}

func (c *Channel) String() string {
	return fmt.Sprintf("tca9548@%#x/%d", c.iface.address, c.num)
}
