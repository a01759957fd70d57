package tca9548

import (
	"context"
)

type AddressableReader interface {
	ReadFromAddr(ctx context.Context, address byte, buffer []byte) error
}

type AddressableWriter interface {
	WriteToAddr(ctx context.Context, address byte, buffer []byte) error
}

type Transactor interface {
	Transaction(ctx context.Context, address byte, ops []Operation) error
}

// Bus is the upstream I2C bus the multiplexer sits on. Once handed to New it is
// owned by the Mux and must not be used directly by anybody else.
type Bus interface {
	AddressableWriter
	Transactor
}

type OpKind byte

const (
	OpWrite OpKind = iota
	OpRead
)

func (k OpKind) String() string {
	switch k {
	case OpRead:
		return "read"
	case OpWrite:
		return "write"
	default:
		return "unknown"
	}
}

// Operation is a single step of an I2C transaction. Read operations fill Buf,
// write operations send it.
type Operation struct {
	Kind OpKind
	Buf  []byte
}

func Read(buf []byte) Operation {
	return Operation{Kind: OpRead, Buf: buf}
}

func Write(buf []byte) Operation {
	return Operation{Kind: OpWrite, Buf: buf}
}

// ForEachTx walks ops and calls tx once per bus transfer. A write immediately
// followed by a read is merged into a single call so transports supporting
// repeated start can issue them without releasing the bus.
func ForEachTx(ops []Operation, tx func(w, r []byte) error) error {
	for i := 0; i < len(ops); i++ {
		op := ops[i]
		switch op.Kind {
		case OpWrite:
			if i+1 < len(ops) && ops[i+1].Kind == OpRead {
				if err := tx(op.Buf, ops[i+1].Buf); err != nil {
					return err
				}
				i++
				continue
			}
			if err := tx(op.Buf, nil); err != nil {
				return err
			}
		case OpRead:
			if err := tx(nil, op.Buf); err != nil {
				return err
			}
		default:
			return ErrUnknownOperation
		}
	}
	return nil
}
