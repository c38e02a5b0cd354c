// Package alert delivers trade events to the bot server's notification endpoint.
package alert

import (
	"bytes"
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/goccy/go-json"
	"github.com/oicur0t/tradealert/internal/auth"
	"github.com/oicur0t/tradealert/pkg/models"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

const (
	breakerThreshold = 5
	breakerCooldown  = 30 * time.Second
	maxErrorBody     = 64 << 10
)

// TokenSource is the view of the token store the dispatcher needs
type TokenSource interface {
	Get(ctx context.Context) *models.TokenPair
	Refresh(ctx context.Context) (*models.TokenPair, error)
}

// Options configures a Dispatcher
type Options struct {
	Endpoint      string
	Timeout       time.Duration
	TLSConfig     *tls.Config
	RatePerMinute int
	Burst         int
}

// Delivery describes a successful dispatch
type Delivery struct {
	StatusCode int
	Attempts   int
	Refreshed  bool
}

// Dispatcher sends trade alerts with the current access token. A 401 triggers
// one token refresh and one retry.
type Dispatcher struct {
	endpoint       string
	httpClient     *http.Client
	tokens         TokenSource
	limiter        *rate.Limiter
	circuitBreaker *CircuitBreaker
	logger         *zap.Logger
}

// NewDispatcher creates a new dispatcher
func NewDispatcher(opts Options, tokens TokenSource, logger *zap.Logger) *Dispatcher {
	return NewDispatcherWithClient(opts, NewHTTPClient(opts.TLSConfig, opts.Timeout), tokens, logger)
}

// NewDispatcherWithClient creates a dispatcher using httpClient
func NewDispatcherWithClient(opts Options, httpClient *http.Client, tokens TokenSource, logger *zap.Logger) *Dispatcher {
	var limiter *rate.Limiter
	if opts.RatePerMinute > 0 {
		burst := opts.Burst
		if burst < 1 {
			burst = 1
		}
		limiter = rate.NewLimiter(rate.Limit(float64(opts.RatePerMinute)/60), burst)
	}

	return &Dispatcher{
		endpoint:       opts.Endpoint,
		httpClient:     httpClient,
		tokens:         tokens,
		limiter:        limiter,
		circuitBreaker: NewCircuitBreaker(breakerThreshold, breakerCooldown, logger),
		logger:         logger,
	}
}

// NewHTTPClient builds the client shared by delivery and refresh calls
func NewHTTPClient(tlsConfig *tls.Config, timeout time.Duration) *http.Client {
	return &http.Client{
		Transport: &http.Transport{
			Proxy:               http.ProxyFromEnvironment,
			TLSClientConfig:     tlsConfig,
			MaxIdleConns:        100,
			MaxIdleConnsPerHost: 10,
			IdleConnTimeout:     90 * time.Second,
		},
		Timeout: timeout,
	}
}

type errorBody struct {
	Error   string `json:"error"`
	Message string `json:"message"`
}

type attemptResult int

const (
	attemptDelivered attemptResult = iota
	attemptUnauthorized
	attemptUnreachable
	attemptFailed
)

// Dispatch delivers one event. The returned error wraps exactly one of
// ErrNotAuthenticated, ErrSessionExpired, ErrRecipientUnreachable or
// ErrTransport. Retry state is local to the call.
func (d *Dispatcher) Dispatch(ctx context.Context, event models.TradeEvent) (Delivery, error) {
	pair := d.tokens.Get(ctx)
	if pair == nil {
		return Delivery{}, ErrNotAuthenticated
	}

	body, err := json.Marshal(models.AlertPayload{Player: event.Sender, Message: event.Message})
	if err != nil {
		return Delivery{}, fmt.Errorf("%w: failed to marshal payload: %w", ErrTransport, err)
	}

	if d.limiter != nil {
		if err := d.limiter.Wait(ctx); err != nil {
			return Delivery{}, fmt.Errorf("%w: %w", ErrTransport, err)
		}
	}

	if !d.circuitBreaker.allow() {
		return Delivery{}, fmt.Errorf("%w: circuit breaker is open, server may be down", ErrTransport)
	}

	delivery := Delivery{Attempts: 1}
	result, status, err := d.send(ctx, pair.AccessToken, body)
	delivery.StatusCode = status
	d.settle(ctx, status)

	if result == attemptUnauthorized {
		d.logger.Info("Access token rejected, refreshing",
			zap.String("event_id", event.ID))

		refreshed, refreshErr := d.tokens.Refresh(ctx)
		if refreshErr != nil {
			if errors.Is(refreshErr, auth.ErrRefreshInvalid) {
				return delivery, fmt.Errorf("%w: %w", ErrSessionExpired, refreshErr)
			}
			return delivery, fmt.Errorf("%w: token refresh: %w", ErrTransport, refreshErr)
		}

		delivery.Refreshed = true
		delivery.Attempts++
		if !d.circuitBreaker.allow() {
			return delivery, fmt.Errorf("%w: circuit breaker is open, server may be down", ErrTransport)
		}
		result, status, err = d.send(ctx, refreshed.AccessToken, body)
		delivery.StatusCode = status
		d.settle(ctx, status)

		if result == attemptUnauthorized {
			return delivery, fmt.Errorf("%w: access token rejected after refresh", ErrSessionExpired)
		}
	}

	if result == attemptDelivered {
		return delivery, nil
	}
	return delivery, err
}

// settle feeds one attempt's outcome to the circuit breaker. Any HTTP answer
// below 500 shows the server is up. An attempt abandoned by ctx says nothing
// about the server.
func (d *Dispatcher) settle(ctx context.Context, status int) {
	switch {
	case status == 0 && ctx.Err() != nil:
		d.circuitBreaker.release()
	case status == 0 || status >= 500:
		d.circuitBreaker.recordFailure()
	default:
		d.circuitBreaker.recordSuccess()
	}
}

// send makes a single delivery request
func (d *Dispatcher) send(ctx context.Context, accessToken string, body []byte) (attemptResult, int, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, d.endpoint, bytes.NewReader(body))
	if err != nil {
		return attemptFailed, 0, fmt.Errorf("%w: failed to create request: %w", ErrTransport, err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+accessToken)

	resp, err := d.httpClient.Do(req)
	if err != nil {
		d.logger.Warn("Request failed", zap.Error(err))
		return attemptFailed, 0, fmt.Errorf("%w: request failed: %w", ErrTransport, err)
	}
	defer resp.Body.Close()

	data, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))

	switch {
	case resp.StatusCode >= 200 && resp.StatusCode < 300:
		return attemptDelivered, resp.StatusCode, nil

	case resp.StatusCode == http.StatusUnauthorized:
		return attemptUnauthorized, resp.StatusCode, fmt.Errorf("%w: unauthorized", ErrSessionExpired)

	case resp.StatusCode >= 400 && resp.StatusCode < 500:
		reason := errorReason(data)
		if strings.Contains(strings.ToLower(reason), "cannot send messages") {
			return attemptUnreachable, resp.StatusCode, fmt.Errorf("%w: %s", ErrRecipientUnreachable, reason)
		}
		return attemptFailed, resp.StatusCode, fmt.Errorf("%w: status %d: %s", ErrTransport, resp.StatusCode, reason)

	default:
		return attemptFailed, resp.StatusCode, fmt.Errorf("%w: server error: %d", ErrTransport, resp.StatusCode)
	}
}

func errorReason(data []byte) string {
	var body errorBody
	if err := json.Unmarshal(data, &body); err == nil {
		if body.Error != "" {
			return body.Error
		}
		if body.Message != "" {
			return body.Message
		}
	}
	return strings.TrimSpace(string(data))
}
