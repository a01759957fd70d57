package muxctx

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestVerbose(t *testing.T) {
	ctx := context.Background()
	assert.False(t, IsVerbose(ctx))
	assert.True(t, IsVerbose(SetVerbose(ctx, true)))
	assert.False(t, IsVerbose(SetVerbose(ctx, false)))
}

func TestDeviceID(t *testing.T) {
	_, ok := DeviceID(context.Background())
	assert.False(t, ok)
	id, ok := DeviceID(SetDeviceID(context.Background(), 2))
	assert.True(t, ok)
	assert.Equal(t, 2, id)
}
