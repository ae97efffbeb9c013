package retry

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestDoSucceedsAfterFailures(t *testing.T) {
	calls := 0
	err := Do(context.Background(), "test", 5, time.Millisecond, func(ctx context.Context) error {
		calls++
		if calls < 3 {
			return errors.New("not yet")
		}
		return nil
	})
	require.NoError(t, err)
	require.Equal(t, 3, calls)
}

func TestDoReturnsLastErrorAfterExhaustion(t *testing.T) {
	calls := 0
	err := Do(context.Background(), "test", 4, time.Millisecond, func(ctx context.Context) error {
		calls++
		return errors.New("still down")
	})
	require.EqualError(t, err, "still down")
	require.Equal(t, 4, calls)
}

func TestDoStopsOnCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	calls := 0
	err := Do(ctx, "test", 10, 50*time.Millisecond, func(ctx context.Context) error {
		calls++
		cancel()
		return errors.New("down")
	})
	require.Error(t, err)
	require.Equal(t, 1, calls)
}
