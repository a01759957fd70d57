package tca9548

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// Addresses outside this range are reserved by the I2C specification.
const (
	scanFirstAddress byte = 0x08
	scanLastAddress  byte = 0x77
)

type ScanResult struct {
	Channel   int
	Addresses []byte
}

type ScanOpts struct {
	RetryLimit int
	Backoff    time.Duration
}

type ScanOpt func(*ScanOpts)

func WithScanRetry(limit int, backoff time.Duration) ScanOpt {
	return func(o *ScanOpts) {
		o.RetryLimit = limit
		o.Backoff = backoff
	}
}

// Scan probes every valid device address on every channel with a single byte
// read. The mux address itself answers on all channels and is skipped.
func (c Channels) Scan(ctx context.Context, opts ...ScanOpt) ([]ScanResult, error) {
	config := ScanOpts{
		RetryLimit: 3,
		Backoff:    5 * time.Millisecond,
	}
	for _, opt := range opts {
		opt(&config)
	}
	res := make([]ScanResult, 0, len(c))
	buf := make([]byte, 1)
	for _, ch := range c {
		if ch == nil {
			continue
		}
		found := ScanResult{Channel: ch.num, Addresses: []byte{}}
		for addr := scanFirstAddress; addr <= scanLastAddress; addr++ {
			if addr == ch.iface.address {
				continue
			}
			err := Retry(ctx, config.RetryLimit, config.Backoff, func(ctx context.Context) error {
				return ch.ReadFromAddr(ctx, addr, buf)
			})
			if err == nil {
				found.Addresses = append(found.Addresses, addr)
				continue
			}
			var ioErr *IOError
			if errors.As(err, &ioErr) && ioErr.Op == "transaction" {
				if ch.iface.config.DeselectOnFailure {
					continue
				}
				// no device acknowledged; make sure the channel is released before moving on
				err = Retry(ctx, config.RetryLimit, config.Backoff, func(ctx context.Context) error {
					return ch.iface.guarded(func(bus Bus) error {
						return bus.WriteToAddr(ctx, ch.iface.address, []byte{deselectAll})
					})
				})
				if err != nil {
					return res, fmt.Errorf("could not deselect channel %d after probing %#x: %w", ch.num, addr, err)
				}
				continue
			}
			return res, fmt.Errorf("could not probe channel %d address %#x: %w", ch.num, addr, err)
		}
		res = append(res, found)
	}
	return res, nil
}
