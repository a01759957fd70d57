// Package gobotbus runs the multiplexer on any gobot platform exposing an
// i2c.Connector, e.g. the NanoPi NEO adaptor.
package gobotbus

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"gobot.io/x/gobot/v2/drivers/i2c"

	"github.com/mklimuk/tca9548"
)

var _ tca9548.Bus = &Bus{}

type BusOpts struct {
	// BusNumber selects the platform bus; negative means the connector default.
	BusNumber int
}

type BusOpt func(*BusOpts)

func WithBusNumber(n int) BusOpt {
	return func(o *BusOpts) {
		o.BusNumber = n
	}
}

// Bus opens one gobot connection per device address on first use and keeps it
// until Close. Gobot connections have no repeated start so a write followed by
// a read is sent as two transfers.
type Bus struct {
	mx        sync.Mutex
	connector i2c.Connector
	busNr     int
	conns     map[byte]i2c.Connection
}

func New(connector i2c.Connector, opts ...BusOpt) *Bus {
	config := BusOpts{BusNumber: -1}
	for _, opt := range opts {
		opt(&config)
	}
	busNr := config.BusNumber
	if busNr < 0 {
		busNr = connector.DefaultI2cBus()
	}
	return &Bus{
		connector: connector,
		busNr:     busNr,
		conns:     make(map[byte]i2c.Connection),
	}
}

func (b *Bus) connection(address byte) (i2c.Connection, error) {
	if conn, ok := b.conns[address]; ok {
		return conn, nil
	}
	conn, err := b.connector.GetI2cConnection(int(address), b.busNr)
	if err != nil {
		return nil, fmt.Errorf("could not open connection to %x on bus %d: %w", address, b.busNr, err)
	}
	b.conns[address] = conn
	return conn, nil
}

func (b *Bus) WriteToAddr(ctx context.Context, address byte, buffer []byte) error {
	b.mx.Lock()
	defer b.mx.Unlock()
	conn, err := b.connection(address)
	if err != nil {
		return err
	}
	return write(conn, address, buffer)
}

func (b *Bus) Transaction(ctx context.Context, address byte, ops []tca9548.Operation) error {
	b.mx.Lock()
	defer b.mx.Unlock()
	conn, err := b.connection(address)
	if err != nil {
		return err
	}
	return tca9548.ForEachTx(ops, func(w, r []byte) error {
		if len(w) > 0 {
			if err := write(conn, address, w); err != nil {
				return err
			}
		}
		if len(r) > 0 {
			n, err := conn.Read(r)
			if err != nil {
				return fmt.Errorf("could not read from %x: %w", address, err)
			}
			if n != len(r) {
				return fmt.Errorf("short read from %x: %d of %d", address, n, len(r))
			}
		}
		return nil
	})
}

func write(conn i2c.Connection, address byte, buffer []byte) error {
	n, err := conn.Write(buffer)
	if err != nil {
		return fmt.Errorf("could not write to %x: %w", address, err)
	}
	if n != len(buffer) {
		return fmt.Errorf("short write to %x: %d of %d", address, n, len(buffer))
	}
	return nil
}

func (b *Bus) Close() error {
	b.mx.Lock()
	defer b.mx.Unlock()
	var errs []error
	for addr, conn := range b.conns {
		if err := conn.Close(); err != nil {
			errs = append(errs, fmt.Errorf("could not close connection to %x: %w", addr, err))
		}
		delete(b.conns, addr)
	}
	return errors.Join(errs...)
}

func (b *Bus) String() string {
	return fmt.Sprintf("gobot i2c bus %d", b.busNr)
}
