package retry

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func fastConfig(retries int) Config {
	return Config{
		MaxRetries:  retries,
		InitialWait: time.Millisecond,
		MaxWait:     5 * time.Millisecond,
		Multiplier:  2.0,
	}
}

func TestDo(t *testing.T) {
	t.Run("succeeds after transient failures", func(t *testing.T) {
		calls := 0
		var retried []int
		err := Do(context.Background(), fastConfig(3), func(ctx context.Context) error {
			calls++
			if calls < 3 {
				return errors.New("not yet")
			}
			return nil
		}, func(attempt int, wait time.Duration, err error) {
			retried = append(retried, attempt)
		})

		require.NoError(t, err)
		assert.Equal(t, 3, calls)
		assert.Equal(t, []int{1, 2}, retried)
	})

	t.Run("gives up after max retries", func(t *testing.T) {
		calls := 0
		boom := errors.New("boom")
		err := Do(context.Background(), fastConfig(2), func(ctx context.Context) error {
			calls++
			return boom
		}, nil)

		assert.ErrorIs(t, err, boom)
		assert.Equal(t, 3, calls)
	})

	t.Run("stops on permanent error", func(t *testing.T) {
		calls := 0
		bad := errors.New("bad credentials")
		err := Do(context.Background(), fastConfig(5), func(ctx context.Context) error {
			calls++
			return Permanent(bad)
		}, nil)

		assert.Equal(t, bad, err)
		assert.Equal(t, 1, calls)
	})

	t.Run("honours context cancellation", func(t *testing.T) {
		ctx, cancel := context.WithCancel(context.Background())
		cfg := Config{MaxRetries: 5, InitialWait: time.Second, MaxWait: time.Second, Multiplier: 1}
		err := Do(ctx, cfg, func(ctx context.Context) error {
			cancel()
			return errors.New("fail")
		}, nil)

		assert.ErrorIs(t, err, context.Canceled)
	})
}

func TestBackoffBounds(t *testing.T) {
	cfg := Config{InitialWait: 100 * time.Millisecond, MaxWait: time.Second, Multiplier: 2}

	for attempt := 0; attempt < 10; attempt++ {
		d := Backoff(attempt, cfg)
		assert.GreaterOrEqual(t, d, cfg.InitialWait)
		assert.LessOrEqual(t, d, time.Duration(float64(cfg.MaxWait)*1.25))
	}
}
