// Package auth owns the token pair used to reach the bot server.
package auth

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/goccy/go-json"
	"github.com/oicur0t/tradealert/internal/kvstore"
	"github.com/oicur0t/tradealert/pkg/models"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"
)

// TokenKey is the storage key of the persisted pair
const TokenKey = "discord_tokens"

// TokenStore is the single source of truth for the current token pair.
// Concurrent refreshes share one network call.
type TokenStore struct {
	kv        kvstore.Store
	refresher Refresher
	logger    *zap.Logger

	mu     sync.RWMutex
	loaded bool
	pair   *models.TokenPair

	group singleflight.Group

	subMu       sync.Mutex
	subscribers map[chan bool]struct{}
}

// NewTokenStore creates a token store persisting into kv
func NewTokenStore(kv kvstore.Store, refresher Refresher, logger *zap.Logger) *TokenStore {
	return &TokenStore{
		kv:          kv,
		refresher:   refresher,
		logger:      logger,
		subscribers: make(map[chan bool]struct{}),
	}
}

// Get returns a copy of the current pair, or nil when unauthenticated.
// The first call loads the persisted pair.
func (s *TokenStore) Get(ctx context.Context) *models.TokenPair {
	s.mu.RLock()
	if s.loaded {
		pair := s.pair.Clone()
		s.mu.RUnlock()
		return pair
	}
	s.mu.RUnlock()

	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.loaded {
		s.pair = s.load(ctx)
		s.loaded = true
	}
	return s.pair.Clone()
}

// load must be called with mu held
func (s *TokenStore) load(ctx context.Context) *models.TokenPair {
	data, err := s.kv.Get(ctx, TokenKey)
	if err != nil {
		if !errors.Is(err, kvstore.ErrNotFound) {
			s.logger.Warn("Failed to load stored tokens, treating as signed out", zap.Error(err))
		}
		return nil
	}

	var pair models.TokenPair
	if err := json.Unmarshal(data, &pair); err != nil {
		s.logger.Warn("Stored tokens are malformed, treating as signed out", zap.Error(err))
		return nil
	}
	if !pair.Valid() {
		return nil
	}

	s.logger.Info("Loaded stored tokens", zap.String("owner", pair.OwnerIdentity))
	return &pair
}

// Save replaces the current pair and persists it. A nil or incomplete pair
// signs out and removes the persisted value. Subscribers are notified when
// the authenticated state is reported.
func (s *TokenStore) Save(ctx context.Context, pair *models.TokenPair) error {
	if !pair.Valid() {
		pair = nil
	}

	s.mu.Lock()
	s.pair = pair.Clone()
	s.loaded = true
	s.mu.Unlock()

	err := s.persist(ctx, pair)
	s.broadcast(pair != nil)
	return err
}

func (s *TokenStore) persist(ctx context.Context, pair *models.TokenPair) error {
	if pair == nil {
		if err := s.kv.Remove(ctx, TokenKey); err != nil {
			return fmt.Errorf("failed to remove stored tokens: %w", err)
		}
		return nil
	}

	data, err := json.Marshal(pair)
	if err != nil {
		return fmt.Errorf("failed to marshal tokens: %w", err)
	}
	if err := s.kv.Set(ctx, TokenKey, data); err != nil {
		return fmt.Errorf("failed to store tokens: %w", err)
	}
	return nil
}

// Refresh exchanges the stored refresh token for a new pair. If a refresh is
// already in flight the caller waits for its result instead of starting
// another. An invalid refresh token signs out and returns ErrRefreshInvalid.
func (s *TokenStore) Refresh(ctx context.Context) (*models.TokenPair, error) {
	ch := s.group.DoChan("refresh", func() (interface{}, error) {
		// detached so one caller's cancellation does not fail the others
		return s.doRefresh(context.WithoutCancel(ctx))
	})

	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case res := <-ch:
		if res.Err != nil {
			return nil, res.Err
		}
		return res.Val.(*models.TokenPair).Clone(), nil
	}
}

func (s *TokenStore) doRefresh(ctx context.Context) (*models.TokenPair, error) {
	current := s.Get(ctx)
	if current == nil || current.RefreshToken == "" {
		if err := s.Save(ctx, nil); err != nil {
			s.logger.Warn("Failed to clear tokens", zap.Error(err))
		}
		return nil, fmt.Errorf("%w: no refresh token stored", ErrRefreshInvalid)
	}

	s.logger.Info("Refreshing access token")

	pair, err := s.refresher.Refresh(ctx, current.RefreshToken)
	if err != nil {
		if errors.Is(err, ErrRefreshInvalid) {
			s.logger.Warn("Refresh token rejected, signing out", zap.Error(err))
			if saveErr := s.Save(ctx, nil); saveErr != nil {
				s.logger.Warn("Failed to clear tokens", zap.Error(saveErr))
			}
		} else {
			s.logger.Warn("Token refresh failed", zap.Error(err))
		}
		return nil, err
	}

	if pair.OwnerIdentity == "" {
		pair.OwnerIdentity = current.OwnerIdentity
	}
	if err := s.Save(ctx, pair); err != nil {
		// the new pair is in memory; persistence failure only affects the next run
		s.logger.Error("Failed to persist refreshed tokens", zap.Error(err))
	}

	s.logger.Info("Access token refreshed")
	return pair.Clone(), nil
}

// IsAuthenticated reports whether a pair is held
func (s *TokenStore) IsAuthenticated(ctx context.Context) bool {
	return s.Get(ctx) != nil
}

// Subscribe returns a channel receiving the authenticated state after every
// Save. Slow subscribers miss intermediate values. Call the returned func to
// unsubscribe.
func (s *TokenStore) Subscribe() (<-chan bool, func()) {
	ch := make(chan bool, 1)

	s.subMu.Lock()
	s.subscribers[ch] = struct{}{}
	s.subMu.Unlock()

	return ch, func() {
		s.subMu.Lock()
		defer s.subMu.Unlock()
		if _, ok := s.subscribers[ch]; ok {
			delete(s.subscribers, ch)
			close(ch)
		}
	}
}

func (s *TokenStore) broadcast(authenticated bool) {
	s.subMu.Lock()
	defer s.subMu.Unlock()

	for ch := range s.subscribers {
		// keep only the latest state
		select {
		case <-ch:
		default:
		}
		select {
		case ch <- authenticated:
		default:
		}
	}
}
