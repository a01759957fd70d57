// Package sim provides an in-memory upstream bus with a TCA9548 and devices
// behind it. It records everything written to it and can be used without any
// hardware, both in tests and for dry runs of the cli.
package sim

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/mklimuk/tca9548"
)

// ErrNoDevice is returned when no device acknowledges an address.
var ErrNoDevice = errors.New("sim: no device acknowledged the address")

// Upstream is the channel key for devices sitting next to the mux.
const Upstream = -1

type RecordKind string

const (
	RecordWrite       RecordKind = "write"
	RecordTransaction RecordKind = "transaction"
)

type Record struct {
	Kind    RecordKind
	Address byte
	// Data holds the written bytes for RecordWrite.
	Data []byte
	// Ops holds a copy of the operations for RecordTransaction, read buffers
	// as they were after the transaction.
	Ops []tca9548.Operation
}

// WriteBehaviorFunc overrides the simulated result of WriteToAddr.
type WriteBehaviorFunc func(ctx context.Context, address byte, buffer []byte) error

// TransactionBehaviorFunc overrides the simulated result of Transaction.
type TransactionBehaviorFunc func(ctx context.Context, address byte, ops []tca9548.Operation) error

type BusOpts struct {
	MuxAddress          byte
	WriteBehavior       WriteBehaviorFunc
	TransactionBehavior TransactionBehaviorFunc
	Logger              *slog.Logger
}

type BusOpt func(*BusOpts)

func WithMuxAddress(address byte) BusOpt {
	return func(o *BusOpts) {
		o.MuxAddress = address
	}
}

func WithWriteBehavior(f WriteBehaviorFunc) BusOpt {
	return func(o *BusOpts) {
		o.WriteBehavior = f
	}
}

func WithTransactionBehavior(f TransactionBehaviorFunc) BusOpt {
	return func(o *BusOpts) {
		o.TransactionBehavior = f
	}
}

func WithLogger(logger *slog.Logger) BusOpt {
	return func(o *BusOpts) {
		o.Logger = logger
	}
}

type Bus struct {
	mx       sync.Mutex
	config   BusOpts
	selected byte
	devices  map[int]map[byte][]byte
	records  []Record
	closed   bool
}

var _ tca9548.Bus = &Bus{}

func New(opts ...BusOpt) *Bus {
	config := BusOpts{
		MuxAddress: tca9548.DefaultAddress,
		Logger:     slog.Default(),
	}
	for _, opt := range opts {
		opt(&config)
	}
	return &Bus{
		config:  config,
		devices: make(map[int]map[byte][]byte),
	}
}

// AddDevice places a device on channel (or Upstream). Reads from the device
// return data repeated to fill the buffer.
func (b *Bus) AddDevice(channel int, address byte, data ...byte) {
	b.mx.Lock()
	defer b.mx.Unlock()
	if b.devices[channel] == nil {
		b.devices[channel] = make(map[byte][]byte)
	}
	b.devices[channel][address] = data
}

func (b *Bus) WriteToAddr(ctx context.Context, address byte, buffer []byte) error {
	b.mx.Lock()
	b.records = append(b.records, Record{Kind: RecordWrite, Address: address, Data: clone(buffer)})
	behavior := b.config.WriteBehavior
	b.mx.Unlock()

	b.config.Logger.Debug("sim write", "address", address, "data", fmt.Sprintf("% x", buffer))
	if behavior != nil {
		return behavior(ctx, address, buffer)
	}

	b.mx.Lock()
	defer b.mx.Unlock()
	if address == b.config.MuxAddress && len(buffer) > 0 {
		b.selected = buffer[len(buffer)-1]
		return nil
	}
	if _, ok := b.lookup(address); !ok {
		return fmt.Errorf("%w: %#x", ErrNoDevice, address)
	}
	return nil
}

func (b *Bus) Transaction(ctx context.Context, address byte, ops []tca9548.Operation) error {
	b.mx.Lock()
	behavior := b.config.TransactionBehavior
	b.mx.Unlock()

	var err error
	if behavior != nil {
		err = behavior(ctx, address, ops)
	} else {
		err = b.transact(address, ops)
	}

	b.mx.Lock()
	b.records = append(b.records, Record{Kind: RecordTransaction, Address: address, Ops: cloneOps(ops)})
	b.mx.Unlock()
	b.config.Logger.Debug("sim transaction", "address", address, "ops", len(ops), "error", err)
	return err
}

func (b *Bus) transact(address byte, ops []tca9548.Operation) error {
	b.mx.Lock()
	defer b.mx.Unlock()
	data, ok := b.lookup(address)
	if !ok {
		return fmt.Errorf("%w: %#x", ErrNoDevice, address)
	}
	for _, op := range ops {
		if op.Kind != tca9548.OpRead || len(data) == 0 {
			continue
		}
		for i := range op.Buf {
			op.Buf[i] = data[i%len(data)]
		}
	}
	return nil
}

// lookup finds a device visible with the current mux selection. Caller holds mx.
func (b *Bus) lookup(address byte) ([]byte, bool) {
	if data, ok := b.devices[Upstream][address]; ok {
		return data, true
	}
	for ch := 0; ch < tca9548.NumChannels; ch++ {
		if b.selected&(1<<uint(ch)) == 0 {
			continue
		}
		if data, ok := b.devices[ch][address]; ok {
			return data, true
		}
	}
	return nil, false
}

// Selected returns the last select byte written to the mux.
func (b *Bus) Selected() byte {
	b.mx.Lock()
	defer b.mx.Unlock()
	return b.selected
}

func (b *Bus) Records() []Record {
	b.mx.Lock()
	defer b.mx.Unlock()
	res := make([]Record, len(b.records))
	copy(res, b.records)
	return res
}

// MuxWrites returns the bytes written to the mux address, in order.
func (b *Bus) MuxWrites() []byte {
	b.mx.Lock()
	defer b.mx.Unlock()
	var res []byte
	for _, r := range b.records {
		if r.Kind == RecordWrite && r.Address == b.config.MuxAddress {
			res = append(res, r.Data...)
		}
	}
	return res
}

func (b *Bus) ClearRecords() {
	b.mx.Lock()
	defer b.mx.Unlock()
	b.records = nil
}

func (b *Bus) Close() error {
	b.mx.Lock()
	defer b.mx.Unlock()
	b.closed = true
	return nil
}

func (b *Bus) Closed() bool {
	b.mx.Lock()
	defer b.mx.Unlock()
	return b.closed
}

func (b *Bus) String() string {
	return "sim"
}

func clone(buf []byte) []byte {
	if buf == nil {
		return nil
	}
	res := make([]byte, len(buf))
	copy(res, buf)
	return res
}

func cloneOps(ops []tca9548.Operation) []tca9548.Operation {
	res := make([]tca9548.Operation, len(ops))
	for i, op := range ops {
		res[i] = tca9548.Operation{Kind: op.Kind, Buf: clone(op.Buf)}
	}
	return res
}
