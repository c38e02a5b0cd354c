// Package monitor runs a monitoring session: it tails the client log,
// classifies each new line and dispatches trade alerts, reporting every
// outcome as an Event.
package monitor

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/oicur0t/tradealert/internal/alert"
	"github.com/oicur0t/tradealert/internal/classifier"
	"github.com/oicur0t/tradealert/internal/config"
	"github.com/oicur0t/tradealert/internal/tailer"
	"github.com/oicur0t/tradealert/pkg/models"
	"go.uber.org/zap"
)

const eventBufferSize = 256

// AuthState is the view of the token store the monitor needs
type AuthState interface {
	IsAuthenticated(ctx context.Context) bool
	Subscribe() (<-chan bool, func())
}

// DispatcherFactory builds the dispatcher for a session's settings
type DispatcherFactory func(settings config.Settings) Dispatcher

// Options configures a Monitor
type Options struct {
	Settings       config.Settings
	MaxInFlight    int
	QueueSize      int
	SenderCooldown time.Duration
	// DrainTimeout bounds how long Stop waits for queued deliveries.
	// Defaults to DefaultDrainTimeout.
	DrainTimeout time.Duration
	// Filesystem defaults to the local disk
	Filesystem tailer.Filesystem
}

// Monitor owns the monitoring session. Restart replaces the session, so
// cursor and stats start over.
type Monitor struct {
	opts          Options
	newDispatcher DispatcherFactory
	auth          AuthState
	logger        *zap.Logger

	events      chan Event
	unsubscribe func()
	authDone    chan struct{}

	mu       sync.Mutex
	settings config.Settings
	session  *session
}

// New creates a monitor. Auth state changes are forwarded as events until Close.
func New(opts Options, newDispatcher DispatcherFactory, auth AuthState, logger *zap.Logger) *Monitor {
	if opts.QueueSize < 1 {
		opts.QueueSize = eventBufferSize
	}

	m := &Monitor{
		opts:          opts,
		newDispatcher: newDispatcher,
		auth:          auth,
		logger:        logger,
		events:        make(chan Event, eventBufferSize),
		authDone:      make(chan struct{}),
		settings:      opts.Settings,
	}

	updates, unsubscribe := auth.Subscribe()
	m.unsubscribe = unsubscribe
	go m.forwardAuth(updates)

	return m
}

// Events returns the event stream. Events are dropped when nobody reads them.
func (m *Monitor) Events() <-chan Event {
	return m.events
}

// Start begins a new session with the current settings. Deliveries run on
// ctx. Starting a running monitor does nothing.
func (m *Monitor) Start(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.session != nil {
		return nil
	}

	s := newSession(m, m.settings)
	if err := s.start(ctx); err != nil {
		return err
	}
	m.session = s

	m.logger.Info("Monitoring started",
		zap.String("file", m.settings.LogFilePath),
		zap.String("endpoint", m.settings.NotificationEndpoint))
	return nil
}

// Stop ends the session. Events already detected get until the drain timeout
// to be delivered. Whatever is still pending is cancelled. Every event has
// been reported when Stop returns. Safe to call in any state.
func (m *Monitor) Stop() {
	m.mu.Lock()
	s := m.session
	m.session = nil
	m.mu.Unlock()

	if s == nil {
		return
	}
	s.stop()
	m.logger.Info("Monitoring stopped")
}

// Restart stops the session, applies settings and starts a fresh one
func (m *Monitor) Restart(ctx context.Context, settings config.Settings) error {
	m.Stop()

	m.mu.Lock()
	m.settings = settings
	m.mu.Unlock()

	return m.Start(ctx)
}

// Settings returns the settings the next or current session uses
func (m *Monitor) Settings() config.Settings {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.settings
}

// IsRunning reports whether a session is active
func (m *Monitor) IsRunning() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.session != nil && m.session.tailer.IsRunning()
}

// IsAuthenticated reports whether a token pair is held
func (m *Monitor) IsAuthenticated(ctx context.Context) bool {
	return m.auth.IsAuthenticated(ctx)
}

// Stats returns the counters of the current session. Without a session the
// snapshot is zero.
func (m *Monitor) Stats() models.StatsSnapshot {
	m.mu.Lock()
	s := m.session
	m.mu.Unlock()

	if s == nil {
		return models.StatsSnapshot{}
	}
	return s.stats.Snapshot(s.tailer.BytesRead())
}

// Close stops the session and the auth forwarding
func (m *Monitor) Close() {
	m.Stop()
	m.unsubscribe()
	<-m.authDone
}

func (m *Monitor) forwardAuth(updates <-chan bool) {
	defer close(m.authDone)
	for authenticated := range updates {
		m.logger.Info("Authentication state changed", zap.Bool("authenticated", authenticated))
		m.emit(Event{Type: EventAuthChanged, Authenticated: authenticated})
	}
}

func (m *Monitor) emit(event Event) {
	if event.Time.IsZero() {
		event.Time = time.Now()
	}
	select {
	case m.events <- event:
	default:
		m.logger.Debug("Event buffer full, dropping event", zap.String("type", string(event.Type)))
	}
}

// report turns a dispatch outcome into a log entry and a trade event
func (m *Monitor) report(event models.TradeEvent, delivery alert.Delivery, err error) {
	fields := []zap.Field{
		zap.String("event_id", event.ID),
		zap.String("player", event.Sender),
	}

	switch {
	case err == nil:
		m.logger.Info("Trade alert delivered", append(fields,
			zap.Int("attempts", delivery.Attempts),
			zap.Bool("refreshed", delivery.Refreshed))...)
	case errors.Is(err, ErrSuppressed):
		m.logger.Info("Trade alert suppressed by sender cooldown", fields...)
	case errors.Is(err, alert.ErrNotAuthenticated):
		m.logger.Warn("Not authenticated, trade shown locally only", fields...)
	default:
		m.logger.Warn("Trade alert not delivered", append(fields,
			zap.String("kind", alert.Kind(err)),
			zap.Error(err))...)
	}

	m.emit(Event{
		Type:    EventTrade,
		TradeID: event.ID,
		Player:  event.Sender,
		Message: event.Message,
		Err:     err,
	})
}

// session is one start..stop lifetime: tailer, stats, outbox and cooldown
type session struct {
	monitor  *Monitor
	tailer   *tailer.Tailer
	outbox   *Outbox
	stats    *RunningStats
	cooldown *SenderCooldown
}

func newSession(m *Monitor, settings config.Settings) *session {
	s := &session{
		monitor:  m,
		stats:    NewRunningStats(),
		cooldown: NewSenderCooldown(m.opts.SenderCooldown),
	}
	s.outbox = NewOutbox(m.newDispatcher(settings), m.opts.MaxInFlight, m.opts.QueueSize, m.logger, m.report)
	if m.opts.DrainTimeout > 0 {
		s.outbox.drainTimeout = m.opts.DrainTimeout
	}
	s.tailer = tailer.New(settings.LogFilePath, settings.PollInterval, m.opts.Filesystem, m.logger, s)
	return s
}

func (s *session) start(ctx context.Context) error {
	s.outbox.Start(ctx)
	if err := s.tailer.Start(ctx); err != nil {
		s.outbox.Close()
		return fmt.Errorf("failed to start tailer: %w", err)
	}
	return nil
}

func (s *session) stop() {
	s.tailer.Stop()
	s.outbox.Close()
}

// HandleLine classifies one new log line
func (s *session) HandleLine(line string) {
	s.stats.recordLine()

	match, ok := classifier.Classify(line)
	if !ok {
		return
	}

	event := models.TradeEvent{
		ID:         uuid.NewString(),
		Sender:     match.Sender,
		Message:    match.Message,
		RawLine:    line,
		DetectedAt: time.Now(),
		Listing:    match.Listing,
	}
	s.stats.recordTrade(event.Sender)

	logger := s.monitor.logger
	logger.Info("Trade whisper detected",
		zap.String("event_id", event.ID),
		zap.String("player", event.Sender),
		zap.String("message", event.Message))

	if !s.cooldown.Allow(event.Sender) {
		s.monitor.report(event, alert.Delivery{}, ErrSuppressed)
		return
	}

	if !s.outbox.Enqueue(event) {
		logger.Warn("Session stopped, trade not dispatched", zap.String("event_id", event.ID))
		s.monitor.report(event, alert.Delivery{}, fmt.Errorf("%w: monitoring stopped", alert.ErrTransport))
	}
}

// HandleError reports a transient poll failure
func (s *session) HandleError(err error) {
	s.monitor.emit(Event{Type: EventError, Message: err.Error(), Err: err})
}
