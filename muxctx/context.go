// Package muxctx carries per-call debugging switches through context.
package muxctx

import "context"

type ctxIndex int

const (
	ctxIndexVerbose ctxIndex = iota
	ctxIndexDeviceID
)

// IsVerbose reports whether transports should dump raw frames.
func IsVerbose(ctx context.Context) bool {
	val, ok := ctx.Value(ctxIndexVerbose).(bool)
	return ok && val
}

func SetVerbose(ctx context.Context, value bool) context.Context {
	return context.WithValue(ctx, ctxIndexVerbose, value)
}

// DeviceID returns the index of the USB bridge to talk to when several are attached.
func DeviceID(ctx context.Context) (int, bool) {
	val, ok := ctx.Value(ctxIndexDeviceID).(int)
	return val, ok
}

func SetDeviceID(ctx context.Context, id int) context.Context {
	return context.WithValue(ctx, ctxIndexDeviceID, id)
}
