package monitor

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/oicur0t/tradealert/internal/alert"
	"github.com/oicur0t/tradealert/pkg/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

type blockingDispatcher struct {
	release  chan struct{}
	inFlight atomic.Int32
	peak     atomic.Int32
}

func (b *blockingDispatcher) Dispatch(ctx context.Context, event models.TradeEvent) (alert.Delivery, error) {
	n := b.inFlight.Add(1)
	for {
		peak := b.peak.Load()
		if n <= peak || b.peak.CompareAndSwap(peak, n) {
			break
		}
	}
	<-b.release
	b.inFlight.Add(-1)
	return alert.Delivery{Attempts: 1}, nil
}

func TestOutboxBoundsInFlightAndDrainsOnClose(t *testing.T) {
	d := &blockingDispatcher{release: make(chan struct{})}

	var (
		mu      sync.Mutex
		results []string
	)
	outbox := NewOutbox(d, 2, 16, zaptest.NewLogger(t), func(event models.TradeEvent, _ alert.Delivery, err error) {
		assert.NoError(t, err)
		mu.Lock()
		defer mu.Unlock()
		results = append(results, event.ID)
	})
	outbox.Start(context.Background())

	for _, id := range []string{"a", "b", "c", "d", "e"} {
		require.True(t, outbox.Enqueue(models.TradeEvent{ID: id, Sender: "Boomtard"}))
	}

	require.Eventually(t, func() bool { return d.inFlight.Load() == 2 }, time.Second, 5*time.Millisecond)
	close(d.release)
	outbox.Close()

	assert.LessOrEqual(t, d.peak.Load(), int32(2))
	assert.ElementsMatch(t, []string{"a", "b", "c", "d", "e"}, results)
	assert.False(t, outbox.Enqueue(models.TradeEvent{ID: "late"}))

	outbox.Close()
}

type ctxDispatcher struct {
	calls atomic.Int32
}

func (c *ctxDispatcher) Dispatch(ctx context.Context, event models.TradeEvent) (alert.Delivery, error) {
	c.calls.Add(1)
	<-ctx.Done()
	return alert.Delivery{}, fmt.Errorf("%w: %w", alert.ErrTransport, ctx.Err())
}

func TestOutboxCloseCancelsAfterDrainTimeout(t *testing.T) {
	d := &ctxDispatcher{}

	var (
		mu   sync.Mutex
		errs []error
	)
	outbox := NewOutbox(d, 1, 16, zaptest.NewLogger(t), func(_ models.TradeEvent, _ alert.Delivery, err error) {
		mu.Lock()
		defer mu.Unlock()
		errs = append(errs, err)
	})
	outbox.drainTimeout = 50 * time.Millisecond
	outbox.Start(context.Background())

	for _, id := range []string{"a", "b", "c"} {
		require.True(t, outbox.Enqueue(models.TradeEvent{ID: id}))
	}
	require.Eventually(t, func() bool { return d.calls.Load() == 1 }, time.Second, 5*time.Millisecond)

	start := time.Now()
	outbox.Close()

	assert.Less(t, time.Since(start), time.Second)
	assert.Equal(t, int32(1), d.calls.Load())
	require.Len(t, errs, 3)
	for _, err := range errs {
		assert.ErrorIs(t, err, alert.ErrTransport)
	}
}
