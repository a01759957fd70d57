package adapter

import (
	"context"
	"encoding/binary"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/karalabe/hid"
	"periph.io/x/conn/v3/physic"

	"github.com/mklimuk/tca9548"
	"github.com/mklimuk/tca9548/muxctx"
)

const VendorID = 0x04D8
const ProductID = 0x00DD

const reportSize = 64

// A single report carries at most this many bytes of I2C payload.
const transferMax = 60

// MCP2221 HID commands
const (
	cmdStatusSetParams    = 0x10
	cmdGetI2CData         = 0x40
	cmdWriteData          = 0x90
	cmdReadData           = 0x91
	cmdReadDataRepeated   = 0x93
	cmdWriteDataNoStop    = 0x94
	paramCancelTransfer   = 0x10
	paramSetSpeed         = 0x20
	respGetI2CDataError   = 0x41
	respEngineBusy        = 0x01
	respInvalidDataLength = 127
	clockFrequency        = 12 * physic.MegaHertz
)

// I2C engine states reported at offset 8 of the status response
const (
	stateIdle            = 0x00
	stateStartTimeout    = 0x12
	stateRepStartTimeout = 0x17
	stateAddrTimeout     = 0x23
	stateAddrNACK        = 0x25
	stateWriteTimeout    = 0x44
	stateWritingNoStop   = 0x45
	stateReadTimeout     = 0x52
	stateStopTimeout     = 0x62
)

const engineRetry = 5

var ErrAdapterBusy = errors.New("I2C engine is busy (command not completed)")
var ErrCommandFailed = errors.New("command failed")
var ErrDeviceNotFound = errors.New("MCP2221 device not found")
var ErrNACK = errors.New("I2C address not acknowledged")
var ErrTimeout = errors.New("I2C engine timeout")
var ErrTransferTooLong = errors.New("read exceeds a single report")

var _ tca9548.Bus = &MCP2221{}

// MCP2221 is a Microchip USB to I2C bridge used as the upstream bus.
// See: https://ww1.microchip.com/downloads/en/DeviceDoc/MCP2221-Data-Sheet-20005565D.pdf
type MCP2221 struct {
	mx           sync.Mutex
	dev          bridge
	request      []byte
	response     []byte
	pollInterval time.Duration
}

// bridge exchanges one HID report with the chip.
type bridge interface {
	Exchange(ctx context.Context, request, response []byte) error
}

type MCP2221Status struct {
	I2CState               int    `yaml:"i2c_state"`
	I2CDataBufferCounter   int    `yaml:"i2c_data_buffer_counter"`
	I2CSpeedDivider        int    `yaml:"i2c_speed_divider"`
	I2CTimeout             int    `yaml:"i2c_timeout"`
	CurrentAddress         string `yaml:"current_address"`
	LastWriteRequestedSize uint16 `yaml:"last_write_requested_size"`
	LastWriteSentSize      uint16 `yaml:"last_write_sent_size"`
	ReadPending            int    `yaml:"read_pending"`
}

func NewMCP2221() *MCP2221 {
	return newMCP2221(&hidBridge{responseWait: 50 * time.Millisecond})
}

func newMCP2221(dev bridge) *MCP2221 {
	return &MCP2221{
		dev:          dev,
		request:      make([]byte, reportSize),
		response:     make([]byte, reportSize),
		pollInterval: time.Millisecond,
	}
}

// Init cancels any transfer left over by a previous process.
func (d *MCP2221) Init(ctx context.Context) error {
	_, err := d.ReleaseBus(ctx)
	return err
}

func (d *MCP2221) WriteToAddr(ctx context.Context, address byte, buffer []byte) error {
	d.mx.Lock()
	defer d.mx.Unlock()
	return d.write(ctx, cmdWriteData, address, buffer)
}

func (d *MCP2221) ReadFromAddr(ctx context.Context, address byte, buffer []byte) error {
	d.mx.Lock()
	defer d.mx.Unlock()
	return d.read(ctx, cmdReadData, address, buffer)
}

// Transaction sends a write followed by a read without releasing the bus in between.
func (d *MCP2221) Transaction(ctx context.Context, address byte, ops []tca9548.Operation) error {
	d.mx.Lock()
	defer d.mx.Unlock()
	return tca9548.ForEachTx(ops, func(w, r []byte) error {
		switch {
		case len(w) > 0 && len(r) > 0:
			err := d.write(ctx, cmdWriteDataNoStop, address, w)
			if err != nil {
				return err
			}
			return d.read(ctx, cmdReadDataRepeated, address, r)
		case len(r) > 0:
			return d.read(ctx, cmdReadData, address, r)
		default:
			return d.write(ctx, cmdWriteData, address, w)
		}
	})
}

// write sends buffer in report sized chunks, each carrying the full transfer
// length, and waits for the engine to finish the transfer.
func (d *MCP2221) write(ctx context.Context, cmd byte, address byte, buffer []byte) error {
	pos := 0
	for {
		end := min(pos+transferMax, len(buffer))
		err := d.writeChunk(ctx, cmd, address, len(buffer), buffer[pos:end])
		if err != nil {
			return err
		}
		pos = end
		if pos >= len(buffer) {
			break
		}
	}
	return d.awaitWrite(ctx, cmd, address)
}

func (d *MCP2221) writeChunk(ctx context.Context, cmd byte, address byte, total int, chunk []byte) error {
	for i := 0; i < engineRetry; i++ {
		d.resetBuffers()
		d.request[0] = cmd
		binary.LittleEndian.PutUint16(d.request[1:3], uint16(total))
		d.request[3] = address << 1
		copy(d.request[4:], chunk)
		err := d.send(ctx)
		if err != nil {
			return fmt.Errorf("write to %x failed: %w", address, err)
		}
		if d.response[1] != respEngineBusy {
			return nil
		}
		slog.Debug("adapter busy", "address", address)
		err = d.pause(ctx)
		if err != nil {
			return err
		}
	}
	return ErrAdapterBusy
}

// awaitWrite polls the engine state until the write has left the bridge.
func (d *MCP2221) awaitWrite(ctx context.Context, cmd byte, address byte) error {
	for i := 0; i < engineRetry; i++ {
		d.resetBuffers()
		d.request[0] = cmdStatusSetParams
		err := d.send(ctx)
		if err != nil {
			return fmt.Errorf("status request failed: %w", err)
		}
		state := d.response[8]
		switch {
		case state == stateIdle:
			return nil
		case state == stateWritingNoStop && cmd == cmdWriteDataNoStop:
			return nil
		case state == stateAddrNACK:
			return errors.Join(fmt.Errorf("write to %x: %w", address, ErrNACK), d.cancel(ctx))
		case timedOut(state):
			return errors.Join(fmt.Errorf("write to %x (state %#x): %w", address, state, ErrTimeout), d.cancel(ctx))
		}
		err = d.pause(ctx)
		if err != nil {
			return err
		}
	}
	return ErrAdapterBusy
}

func timedOut(state byte) bool {
	switch state {
	case stateStartTimeout, stateRepStartTimeout, stateAddrTimeout, stateWriteTimeout, stateReadTimeout, stateStopTimeout:
		return true
	}
	return false
}

func (d *MCP2221) pause(ctx context.Context) error {
	select {
	case <-time.After(d.pollInterval):
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// cancel frees the engine after a failed transfer.
func (d *MCP2221) cancel(ctx context.Context) error {
	d.resetBuffers()
	d.request[0] = cmdStatusSetParams
	d.request[2] = paramCancelTransfer
	err := d.send(ctx)
	if err != nil {
		return fmt.Errorf("cancel request failed: %w", err)
	}
	return nil
}

func (d *MCP2221) read(ctx context.Context, cmd byte, address byte, buffer []byte) error {
	if len(buffer) > transferMax {
		return fmt.Errorf("%w: %d bytes", ErrTransferTooLong, len(buffer))
	}
	d.resetBuffers()
	d.request[0] = cmd
	binary.LittleEndian.PutUint16(d.request[1:3], uint16(len(buffer)))
	d.request[3] = address<<1 + 1
	err := d.send(ctx)
	if err != nil {
		return fmt.Errorf("bus read from %x failed: %w", address, err)
	}
	if d.response[1] == respEngineBusy {
		return ErrAdapterBusy
	}
	resetBuffer(d.request)
	resetBuffer(d.response)
	d.request[0] = cmdGetI2CData
	err = d.send(ctx)
	if err != nil {
		return fmt.Errorf("error getting read data from adapter: %w", err)
	}
	if d.response[1] == respGetI2CDataError {
		return fmt.Errorf("error reading the I2C slave data from the I2C engine")
	}
	if d.response[3] == respInvalidDataLength || int(d.response[3]) != len(buffer) {
		return fmt.Errorf("invalid data size byte; expected %d, got %d", len(buffer), d.response[3])
	}
	copy(buffer, d.response[4:])
	return nil
}

// SetSpeed sets the I2C clock. The bridge supports 50kHz to 400kHz.
func (d *MCP2221) SetSpeed(f physic.Frequency) error {
	div, err := speedDivider(f)
	if err != nil {
		return err
	}
	d.mx.Lock()
	defer d.mx.Unlock()
	d.resetBuffers()
	d.request[0] = cmdStatusSetParams
	d.request[3] = paramSetSpeed
	d.request[4] = div
	err = d.send(context.Background())
	if err != nil {
		return fmt.Errorf("set speed request failed: %w", err)
	}
	if d.response[3] != paramSetSpeed {
		return ErrCommandFailed
	}
	return nil
}

func speedDivider(f physic.Frequency) (byte, error) {
	if f < 50*physic.KiloHertz || f > 400*physic.KiloHertz {
		return 0, fmt.Errorf("unsupported I2C speed %s", f)
	}
	return byte(clockFrequency/f - 3), nil
}

func (d *MCP2221) Status(ctx context.Context) (*MCP2221Status, error) {
	d.mx.Lock()
	defer d.mx.Unlock()
	d.resetBuffers()
	d.request[0] = cmdStatusSetParams
	err := d.send(ctx)
	if err != nil {
		return nil, fmt.Errorf("status request failed: %w", err)
	}
	return bufferToStatus(d.response), nil
}

func bufferToStatus(buffer []byte) *MCP2221Status {
	/*
		9: Lower byte (16-bit value) of the requested I2C transfer length
		10: Higher byte (16-bit value) of the requested I2C transfer length
		11:	Lower byte (16-bit value) of the already transferred (through I2C) number of bytes
		12:	Higher byte (16-bit value) of the already transferred (through I2C) number of bytes
		13:	Internal I2C data buffer counter
		14: Current I2C communication speed divider value
		15: Current I2C timeout value
		16:	Lower byte (16-bit value) of the I2C address being used
		17:	Higher byte (16-bit value) of the I2C address being used
	*/
	status := &MCP2221Status{
		I2CState:             int(buffer[8]),
		I2CDataBufferCounter: int(buffer[13]),
		I2CSpeedDivider:      int(buffer[14]),
		I2CTimeout:           int(buffer[15]),
		ReadPending:          int(buffer[25]),
		CurrentAddress:       hex.EncodeToString(buffer[16:18]),
	}
	status.LastWriteRequestedSize = binary.LittleEndian.Uint16(buffer[9:11])
	status.LastWriteSentSize = binary.LittleEndian.Uint16(buffer[11:13])
	return status
}

// Release cancels the current transfer and frees the bridge's I2C engine.
func (d *MCP2221) Release(ctx context.Context) error {
	_, err := d.ReleaseBus(ctx)
	return err
}

func (d *MCP2221) ReleaseBus(ctx context.Context) (*MCP2221Status, error) {
	d.mx.Lock()
	defer d.mx.Unlock()
	err := d.cancel(ctx)
	if err != nil {
		return nil, err
	}
	return bufferToStatus(d.response), nil
}

func (d *MCP2221) String() string {
	return "mcp2221"
}

// send exchanges d.request for d.response.
func (d *MCP2221) send(ctx context.Context) error {
	verbose := muxctx.IsVerbose(ctx)
	if verbose {
		slog.Debug("sending message to adapter", "request", "\n"+hex.Dump(d.request))
	}
	err := d.dev.Exchange(ctx, d.request, d.response)
	if err != nil {
		return err
	}
	if verbose {
		slog.Debug("read message from adapter", "response", "\n"+hex.Dump(d.response))
	}
	return nil
}

// hidBridge opens the USB device for every report.
type hidBridge struct {
	responseWait time.Duration
}

func (b *hidBridge) Exchange(ctx context.Context, request, response []byte) error {
	dev, err := open(ctx)
	if err != nil {
		return err
	}
	defer func() {
		err := dev.Close()
		if err != nil {
			slog.Debug("could not close adapter", "error", err)
		}
	}()
	n, err := dev.Write(request)
	if err != nil {
		return fmt.Errorf("could not write request: %w", err)
	}
	if n != reportSize {
		return fmt.Errorf("short write: %d", n)
	}
	time.Sleep(b.responseWait)
	n, err = dev.Read(response)
	if err != nil {
		return fmt.Errorf("could not read response: %w", err)
	}
	if n != reportSize {
		return fmt.Errorf("short read: %d", n)
	}
	return nil
}

func open(ctx context.Context) (*hid.Device, error) {
	devs := hid.Enumerate(VendorID, ProductID)
	if len(devs) == 0 {
		return nil, ErrDeviceNotFound
	}
	id, ok := muxctx.DeviceID(ctx)
	if !ok {
		if len(devs) > 1 {
			return nil, fmt.Errorf("ambiguous device identification (%d devices attached)", len(devs))
		}
		id = 0
	}
	if id < 0 || id >= len(devs) {
		return nil, fmt.Errorf("no device with id %d", id)
	}
	dev, err := devs[id].Open()
	if err != nil {
		return nil, fmt.Errorf("error opening device: %w", err)
	}
	return dev, nil
}

func (d *MCP2221) resetBuffers() {
	resetBuffer(d.request)
	resetBuffer(d.response)
}

func resetBuffer(buf []byte) {
	for i := range buf {
		buf[i] = 0x00
	}
}
