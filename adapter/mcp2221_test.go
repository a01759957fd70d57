package adapter

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"periph.io/x/conn/v3/physic"

	"github.com/mklimuk/tca9548"
)

// scriptedBridge records requests and answers with queued responses, zeros
// once the queue is empty.
type scriptedBridge struct {
	requests  [][]byte
	responses [][]byte
}

func (b *scriptedBridge) Exchange(ctx context.Context, request, response []byte) error {
	b.requests = append(b.requests, append([]byte(nil), request...))
	if len(b.responses) > 0 {
		copy(response, b.responses[0])
		b.responses = b.responses[1:]
	}
	return nil
}

func response(offset int, value byte) []byte {
	r := make([]byte, reportSize)
	r[offset] = value
	return r
}

func newScripted(responses ...[]byte) (*MCP2221, *scriptedBridge) {
	b := &scriptedBridge{responses: responses}
	d := newMCP2221(b)
	d.pollInterval = 0
	return d, b
}

func TestMCP2221_BufferToStatus(t *testing.T) {
	buf := make([]byte, reportSize)
	buf[8] = 0x25
	buf[9], buf[10] = 0x05, 0x01
	buf[11], buf[12] = 0x03, 0x00
	buf[13] = 2
	buf[14] = 117
	buf[15] = 8
	buf[16], buf[17] = 0xE0, 0x00
	buf[25] = 1

	status := bufferToStatus(buf)
	assert.Equal(t, &MCP2221Status{
		I2CState:               0x25,
		I2CDataBufferCounter:   2,
		I2CSpeedDivider:        117,
		I2CTimeout:             8,
		CurrentAddress:         "e000",
		LastWriteRequestedSize: 0x0105,
		LastWriteSentSize:      3,
		ReadPending:            1,
	}, status)
}

func TestMCP2221_SpeedDivider(t *testing.T) {
	tests := []struct {
		name     string
		given    physic.Frequency
		expected byte
		err      bool
	}{
		{"standard mode", 100 * physic.KiloHertz, 117, false},
		{"fast mode", 400 * physic.KiloHertz, 27, false},
		{"too slow", 10 * physic.KiloHertz, 0, true},
		{"too fast", physic.MegaHertz, 0, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			div, err := speedDivider(tt.given)
			if tt.err {
				assert.Error(t, err)
				return
			}
			assert.NoError(t, err)
			assert.Equal(t, tt.expected, div)
		})
	}
}

func TestMCP2221_WriteShort(t *testing.T) {
	d, b := newScripted()
	err := d.WriteToAddr(context.Background(), 0x70, []byte{0x04})
	require.NoError(t, err)
	require.Len(t, b.requests, 2)
	assert.Equal(t, []byte{cmdWriteData, 0x01, 0x00, 0xE0, 0x04}, b.requests[0][:5])
	assert.Equal(t, byte(cmdStatusSetParams), b.requests[1][0])
}

func TestMCP2221_WriteLongIsChunked(t *testing.T) {
	data := make([]byte, 70)
	for i := range data {
		data[i] = byte(i + 1)
	}
	d, b := newScripted()
	err := d.WriteToAddr(context.Background(), 0x48, data)
	require.NoError(t, err)

	require.Len(t, b.requests, 3)
	first, second := b.requests[0], b.requests[1]
	assert.Equal(t, []byte{cmdWriteData, 70, 0, 0x90}, first[:4])
	assert.Equal(t, data[:60], first[4:])
	assert.Equal(t, []byte{cmdWriteData, 70, 0, 0x90}, second[:4])
	assert.Equal(t, data[60:], second[4:14])
	assert.Equal(t, make([]byte, 50), second[14:])
	assert.Equal(t, byte(cmdStatusSetParams), b.requests[2][0])
}

func TestMCP2221_WriteNACK(t *testing.T) {
	d, b := newScripted(response(1, 0x00), response(8, stateAddrNACK))
	err := d.WriteToAddr(context.Background(), 0x70, []byte{0x01})
	assert.ErrorIs(t, err, ErrNACK)
	require.Len(t, b.requests, 3)
	cancel := b.requests[2]
	assert.Equal(t, byte(cmdStatusSetParams), cancel[0])
	assert.Equal(t, byte(paramCancelTransfer), cancel[2])
}

func TestMCP2221_WriteTimeout(t *testing.T) {
	d, _ := newScripted(response(1, 0x00), response(8, stateAddrTimeout))
	err := d.WriteToAddr(context.Background(), 0x70, []byte{0x01})
	assert.ErrorIs(t, err, ErrTimeout)
}

func TestMCP2221_WriteWaitsForEngine(t *testing.T) {
	d, b := newScripted(response(1, 0x00), response(8, 0x41), response(8, 0x41))
	err := d.WriteToAddr(context.Background(), 0x70, []byte{0x01})
	require.NoError(t, err)
	assert.Len(t, b.requests, 4)
}

func TestMCP2221_WriteBusy(t *testing.T) {
	busy := make([][]byte, engineRetry)
	for i := range busy {
		busy[i] = response(1, respEngineBusy)
	}
	d, b := newScripted(busy...)
	err := d.WriteToAddr(context.Background(), 0x70, []byte{0x01})
	assert.ErrorIs(t, err, ErrAdapterBusy)
	assert.Len(t, b.requests, engineRetry)
}

func TestMCP2221_ReadTooLong(t *testing.T) {
	d, b := newScripted()
	err := d.ReadFromAddr(context.Background(), 0x48, make([]byte, 61))
	assert.ErrorIs(t, err, ErrTransferTooLong)
	assert.Empty(t, b.requests)
}

func TestMCP2221_NoStopWriteKeepsBus(t *testing.T) {
	data := response(3, 1)
	data[4] = 0xAB
	d, b := newScripted(response(1, 0x00), response(8, stateWritingNoStop), response(1, 0x00), data)
	buf := make([]byte, 1)
	err := d.Transaction(context.Background(), 0x48, []tca9548.Operation{tca9548.Write([]byte{0x00}), tca9548.Read(buf)})
	require.NoError(t, err)
	assert.Equal(t, byte(0xAB), buf[0])
	require.Len(t, b.requests, 4)
	assert.Equal(t, byte(cmdWriteDataNoStop), b.requests[0][0])
	assert.Equal(t, byte(cmdReadDataRepeated), b.requests[2][0])
	assert.Equal(t, byte(cmdGetI2CData), b.requests[3][0])
}

func TestMCP2221_MuxSelectNACK(t *testing.T) {
	d, _ := newScripted()
	mux, err := tca9548.New(context.Background(), d, tca9548.DefaultAddress)
	require.NoError(t, err)
	chans, err := mux.Split()
	require.NoError(t, err)

	d.dev.(*scriptedBridge).responses = [][]byte{response(1, 0x00), response(8, stateAddrNACK)}
	err = chans[2].WriteToAddr(context.Background(), 0x48, []byte{0x01})
	assert.ErrorIs(t, err, ErrNACK)
	var ioErr *tca9548.IOError
	require.True(t, errors.As(err, &ioErr))
	assert.Equal(t, "select", ioErr.Op)
}
