package tca9548

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// Retry calls fn up to limit times while it fails with ErrBusBusy, sleeping
// backoff between attempts. Any other error is returned immediately.
func Retry(ctx context.Context, limit int, backoff time.Duration, fn func(ctx context.Context) error) error {
	if limit < 1 {
		limit = 1
	}
	var err error
	for i := limit; i > 0; i-- {
		err = fn(ctx)
		if err == nil {
			return nil
		}
		if !errors.Is(err, ErrBusBusy) {
			return err
		}
		if i == 1 {
			break
		}
		timer := time.NewTimer(backoff)
		select {
		case <-timer.C:
		case <-ctx.Done():
			timer.Stop()
			return fmt.Errorf("retry interrupted: %w", ctx.Err())
		}
	}
	return fmt.Errorf("retry limit reached: %w", err)
}
