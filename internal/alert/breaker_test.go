package alert

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/oicur0t/tradealert/pkg/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

type fakeClock struct {
	now time.Time
}

func (c *fakeClock) Now() time.Time { return c.now }

func (c *fakeClock) Advance(d time.Duration) { c.now = c.now.Add(d) }

func newTestBreaker(t *testing.T, threshold int) (*CircuitBreaker, *fakeClock) {
	t.Helper()
	clock := &fakeClock{now: time.Date(2024, 12, 20, 22, 0, 0, 0, time.UTC)}
	cb := NewCircuitBreaker(threshold, time.Minute, zaptest.NewLogger(t))
	cb.now = clock.Now
	return cb, clock
}

func TestCircuitBreakerOpensAfterConsecutiveFailures(t *testing.T) {
	cb, _ := newTestBreaker(t, 3)

	cb.recordFailure()
	cb.recordFailure()
	cb.recordSuccess()
	cb.recordFailure()
	cb.recordFailure()
	assert.True(t, cb.allow())
	assert.Equal(t, breakerClosed, cb.currentState())

	cb.recordFailure()
	assert.Equal(t, breakerOpen, cb.currentState())
	assert.False(t, cb.allow())
}

func TestCircuitBreakerAdmitsOneTrialAfterCooldown(t *testing.T) {
	t.Run("successful trial closes", func(t *testing.T) {
		cb, clock := newTestBreaker(t, 1)
		cb.recordFailure()
		require.False(t, cb.allow())

		clock.Advance(time.Minute)
		assert.True(t, cb.allow())
		assert.Equal(t, breakerHalfOpen, cb.currentState())
		assert.False(t, cb.allow(), "only one trial while half open")

		cb.recordSuccess()
		assert.Equal(t, breakerClosed, cb.currentState())
		assert.True(t, cb.allow())
	})

	t.Run("failed trial reopens for a full cooldown", func(t *testing.T) {
		cb, clock := newTestBreaker(t, 2)
		cb.recordFailure()
		cb.recordFailure()

		clock.Advance(time.Minute)
		require.True(t, cb.allow())
		cb.recordFailure()
		assert.Equal(t, breakerOpen, cb.currentState())

		clock.Advance(30 * time.Second)
		assert.False(t, cb.allow())
		clock.Advance(30 * time.Second)
		assert.True(t, cb.allow())
	})

	t.Run("abandoned trial frees the slot", func(t *testing.T) {
		cb, clock := newTestBreaker(t, 1)
		cb.recordFailure()

		clock.Advance(time.Minute)
		require.True(t, cb.allow())
		cb.release()

		assert.True(t, cb.allow())
	})
}

func TestDispatchClientErrorClosesHalfOpenBreaker(t *testing.T) {
	var status atomic.Int32
	status.Store(http.StatusBadGateway)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(int(status.Load()))
	}))
	defer srv.Close()

	tokens := &fakeTokens{pair: &models.TokenPair{AccessToken: "a1", RefreshToken: "r1"}}
	d := newDispatcher(t, srv.URL, tokens)
	clock := &fakeClock{now: time.Now()}
	d.circuitBreaker.now = clock.Now

	for i := 0; i < breakerThreshold; i++ {
		_, _ = d.Dispatch(context.Background(), event)
	}
	require.Equal(t, breakerOpen, d.circuitBreaker.currentState())

	clock.Advance(breakerCooldown)
	status.Store(http.StatusBadRequest)
	_, err := d.Dispatch(context.Background(), event)

	assert.ErrorIs(t, err, ErrTransport)
	assert.Equal(t, breakerClosed, d.circuitBreaker.currentState())
}
