package auth

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"

	"github.com/goccy/go-json"
	"github.com/oicur0t/tradealert/pkg/models"
	"go.uber.org/zap"
)

var (
	// ErrRefreshInvalid means the refresh token was rejected. Stored credentials are cleared.
	ErrRefreshInvalid = errors.New("refresh token invalid")
	// ErrRefreshUnavailable means the request never got an answer. Credentials are kept.
	ErrRefreshUnavailable = errors.New("token refresh unavailable")
)

// Refresher exchanges a refresh token for a new pair
type Refresher interface {
	Refresh(ctx context.Context, refreshToken string) (*models.TokenPair, error)
}

type refreshRequest struct {
	RefreshToken string `json:"refresh_token"`
}

type refreshResponse struct {
	Tokens *models.TokenPair `json:"tokens"`
	models.TokenPair
}

// HTTPRefresher calls the bot server's refresh endpoint
type HTTPRefresher struct {
	endpoint   string
	httpClient *http.Client
	logger     *zap.Logger
}

// NewHTTPRefresher creates a refresher for endpoint
func NewHTTPRefresher(endpoint string, httpClient *http.Client, logger *zap.Logger) *HTTPRefresher {
	return &HTTPRefresher{
		endpoint:   endpoint,
		httpClient: httpClient,
		logger:     logger,
	}
}

// Refresh posts {refresh_token} and decodes the new pair. Any non-2xx answer
// is ErrRefreshInvalid. Only a request that got no response is ErrRefreshUnavailable.
func (r *HTTPRefresher) Refresh(ctx context.Context, refreshToken string) (*models.TokenPair, error) {
	body, err := json.Marshal(refreshRequest{RefreshToken: refreshToken})
	if err != nil {
		return nil, fmt.Errorf("failed to marshal refresh request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, r.endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("failed to create refresh request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := r.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrRefreshUnavailable, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		r.logger.Warn("Refresh token rejected", zap.Int("status_code", resp.StatusCode))
		return nil, fmt.Errorf("%w: status %d", ErrRefreshInvalid, resp.StatusCode)
	}

	data, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrRefreshUnavailable, err)
	}

	var decoded refreshResponse
	if err := json.Unmarshal(data, &decoded); err != nil {
		return nil, fmt.Errorf("%w: malformed refresh response: %v", ErrRefreshInvalid, err)
	}

	pair := decoded.Tokens
	if pair == nil {
		pair = &decoded.TokenPair
	}
	if pair.AccessToken == "" {
		return nil, fmt.Errorf("%w: refresh response without access token", ErrRefreshInvalid)
	}
	if pair.RefreshToken == "" {
		pair.RefreshToken = refreshToken
	}
	return pair, nil
}
