package i2c

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"periph.io/x/conn/v3/i2c/i2ctest"

	"github.com/mklimuk/tca9548"
)

func TestGenericBus_Transaction(t *testing.T) {
	tests := []struct {
		name string
		ops  []tca9548.Operation
		io   []i2ctest.IO
	}{
		{
			name: "write then read is one transfer",
			ops:  []tca9548.Operation{tca9548.Write([]byte{0x00}), tca9548.Read(make([]byte, 2))},
			io:   []i2ctest.IO{{Addr: 0x48, W: []byte{0x00}, R: []byte{0x19, 0x80}}},
		},
		{
			name: "two writes are two transfers",
			ops:  []tca9548.Operation{tca9548.Write([]byte{0x01}), tca9548.Write([]byte{0x02, 0x03})},
			io: []i2ctest.IO{
				{Addr: 0x48, W: []byte{0x01}},
				{Addr: 0x48, W: []byte{0x02, 0x03}},
			},
		},
		{
			name: "plain read",
			ops:  []tca9548.Operation{tca9548.Read(make([]byte, 1))},
			io:   []i2ctest.IO{{Addr: 0x48, R: []byte{0x7F}}},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			pb := &i2ctest.Playback{Ops: tt.io, DontPanic: true}
			bus := NewBus(pb)
			err := bus.Transaction(context.Background(), 0x48, tt.ops)
			require.NoError(t, err)
			require.NoError(t, bus.Close())
		})
	}
}

func TestGenericBus_ReadFillsBuffer(t *testing.T) {
	pb := &i2ctest.Playback{Ops: []i2ctest.IO{{Addr: 0x48, W: []byte{0x00}, R: []byte{0x19, 0x80}}}, DontPanic: true}
	bus := NewBus(pb)
	buf := make([]byte, 2)
	err := bus.Transaction(context.Background(), 0x48, []tca9548.Operation{tca9548.Write([]byte{0x00}), tca9548.Read(buf)})
	require.NoError(t, err)
	assert.Equal(t, []byte{0x19, 0x80}, buf)
}

func TestGenericBus_MuxEnvelope(t *testing.T) {
	pb := &i2ctest.Playback{
		Ops: []i2ctest.IO{
			{Addr: 0x70, W: []byte{0x00}},
			{Addr: 0x70, W: []byte{0x08}},
			{Addr: 0x48, W: []byte{0x00}, R: []byte{0x19}},
			{Addr: 0x70, W: []byte{0x00}},
		},
		DontPanic: true,
	}
	ctx := context.Background()
	mux, err := tca9548.New(ctx, NewBus(pb), tca9548.DefaultAddress)
	require.NoError(t, err)
	chans, err := mux.Split()
	require.NoError(t, err)
	buf := make([]byte, 1)
	err = chans[3].Transaction(ctx, 0x48, tca9548.Write([]byte{0x00}), tca9548.Read(buf))
	require.NoError(t, err)
	assert.Equal(t, byte(0x19), buf[0])
	require.NoError(t, mux.Close())
}

func TestGenericBus_Errors(t *testing.T) {
	pb := &i2ctest.Playback{Ops: []i2ctest.IO{{Addr: 0x48, W: []byte{0x01}}}, DontPanic: true}
	bus := NewBus(pb)
	err := bus.WriteToAddr(context.Background(), 0x49, []byte{0x01})
	assert.Error(t, err)
}
