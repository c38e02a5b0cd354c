package monitor

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/oicur0t/tradealert/internal/alert"
	"github.com/oicur0t/tradealert/pkg/models"
	"go.uber.org/zap"
)

// Dispatcher delivers one trade event
type Dispatcher interface {
	Dispatch(ctx context.Context, event models.TradeEvent) (alert.Delivery, error)
}

// DefaultDrainTimeout bounds how long Close lets queued deliveries finish
const DefaultDrainTimeout = 2 * time.Second

// ResultFunc receives the outcome of every dispatched event
type ResultFunc func(event models.TradeEvent, delivery alert.Delivery, err error)

// Outbox accepts trade events and dispatches them concurrently, at most
// maxInFlight at a time. Completion order is not detection order.
type Outbox struct {
	dispatcher   Dispatcher
	maxInFlight  int
	drainTimeout time.Duration
	logger       *zap.Logger
	onResult     ResultFunc

	eventChan chan models.TradeEvent
	done      chan struct{}
	ctx       context.Context
	cancel    context.CancelFunc

	mu     sync.RWMutex
	closed bool
}

// NewOutbox creates a new outbox
func NewOutbox(dispatcher Dispatcher, maxInFlight, queueSize int, logger *zap.Logger, onResult ResultFunc) *Outbox {
	if maxInFlight < 1 {
		maxInFlight = 1
	}
	return &Outbox{
		dispatcher:   dispatcher,
		maxInFlight:  maxInFlight,
		drainTimeout: DefaultDrainTimeout,
		logger:       logger,
		onResult:     onResult,
		eventChan:    make(chan models.TradeEvent, queueSize),
		done:         make(chan struct{}),
	}
}

// Start begins dispatching. Deliveries use a child of ctx that Close
// cancels once the drain timeout passes.
func (o *Outbox) Start(ctx context.Context) {
	o.ctx, o.cancel = context.WithCancel(ctx)
	go o.run(o.ctx)
}

// Enqueue hands an event to the outbox. It blocks while the queue is full
// and returns false once the outbox is closed.
func (o *Outbox) Enqueue(event models.TradeEvent) bool {
	o.mu.RLock()
	defer o.mu.RUnlock()

	if o.closed {
		return false
	}
	o.eventChan <- event
	return true
}

// Close stops accepting events and waits until every queued and in-flight
// event has an outcome. Deliveries still pending after the drain timeout are
// cancelled, and events not yet dispatched are reported as a transport
// failure without a request.
func (o *Outbox) Close() {
	o.mu.Lock()
	if o.closed {
		o.mu.Unlock()
		<-o.done
		return
	}
	o.closed = true
	close(o.eventChan)
	o.mu.Unlock()

	timer := time.NewTimer(o.drainTimeout)
	defer timer.Stop()

	select {
	case <-o.done:
	case <-timer.C:
		o.logger.Warn("Outbox drain timed out, cancelling pending deliveries",
			zap.Duration("timeout", o.drainTimeout))
		o.cancel()
		<-o.done
	}
	o.cancel()
}

func (o *Outbox) run(ctx context.Context) {
	defer close(o.done)

	slots := make(chan struct{}, o.maxInFlight)
	var wg sync.WaitGroup

	for event := range o.eventChan {
		slots <- struct{}{}
		if ctx.Err() != nil {
			<-slots
			o.onResult(event, alert.Delivery{}, fmt.Errorf("%w: monitoring stopped", alert.ErrTransport))
			continue
		}
		wg.Add(1)

		go func(event models.TradeEvent) {
			defer func() {
				<-slots
				wg.Done()
			}()

			delivery, err := o.dispatcher.Dispatch(ctx, event)
			o.onResult(event, delivery, err)
		}(event)
	}

	wg.Wait()
	o.logger.Debug("Outbox drained")
}
