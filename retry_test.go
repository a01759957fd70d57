package tca9548_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/mklimuk/tca9548"
)

func TestRetry(t *testing.T) {
	nack := errors.New("nack")
	tests := []struct {
		name          string
		results       []error
		limit         int
		expectedCalls int
		expectedErr   error
	}{
		{"success first time", []error{nil}, 3, 1, nil},
		{"busy then success", []error{tca9548.ErrBusBusy, tca9548.ErrBusBusy, nil}, 3, 3, nil},
		{"other errors are not retried", []error{nack}, 3, 1, nack},
		{"limit reached", []error{tca9548.ErrBusBusy, tca9548.ErrBusBusy}, 2, 2, tca9548.ErrBusBusy},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			calls := 0
			err := tca9548.Retry(context.Background(), tt.limit, time.Millisecond, func(ctx context.Context) error {
				res := tt.results[calls]
				calls++
				return res
			})
			assert.Equal(t, tt.expectedCalls, calls)
			if tt.expectedErr == nil {
				assert.NoError(t, err)
				return
			}
			assert.ErrorIs(t, err, tt.expectedErr)
		})
	}
}

func TestRetry_ContextCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	calls := 0
	err := tca9548.Retry(ctx, 10, time.Hour, func(ctx context.Context) error {
		calls++
		cancel()
		return tca9548.ErrBusBusy
	})
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, 1, calls)
}
