// Package status serves the local HTTP surface used by the UI: health,
// session stats and the end of the OAuth handshake.
package status

import (
	"context"
	"encoding/base64"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/goccy/go-json"
	"github.com/oicur0t/tradealert/pkg/models"
	"go.uber.org/zap"
)

// Session is the monitor as seen by the status server
type Session interface {
	IsRunning() bool
	IsAuthenticated(ctx context.Context) bool
	Stats() models.StatsSnapshot
}

// TokenSaver stores the pair received from the OAuth handshake
type TokenSaver interface {
	Save(ctx context.Context, pair *models.TokenPair) error
}

// Handler handles HTTP requests
type Handler struct {
	session Session
	tokens  TokenSaver
	logger  *zap.Logger
}

// NewHandler creates a new HTTP handler
func NewHandler(session Session, tokens TokenSaver, logger *zap.Logger) *Handler {
	return &Handler{
		session: session,
		tokens:  tokens,
		logger:  logger,
	}
}

// Routes returns the routed handler wrapped in the middleware chain
func (h *Handler) Routes(requestsPerMinute, burst int) http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /v1/health", h.Health)
	mux.HandleFunc("GET /v1/stats", h.Stats)
	mux.HandleFunc("GET /auth/callback", NavigationOnly(h.logger, h.AuthCallback))
	mux.HandleFunc("POST /v1/auth/logout", SameOriginOnly(h.logger, h.Logout))

	var handler http.Handler = mux
	handler = RateLimitMiddleware(requestsPerMinute, burst, h.logger)(handler)
	handler = LoggingMiddleware(h.logger)(handler)
	handler = RecoveryMiddleware(h.logger)(handler)
	return handler
}

type errorResponse struct {
	Error     string `json:"error"`
	RequestID string `json:"request_id,omitempty"`
}

type healthResponse struct {
	Status        string `json:"status"`
	Running       bool   `json:"running"`
	Authenticated bool   `json:"authenticated"`
}

// Health handles health check requests
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, healthResponse{
		Status:        "healthy",
		Running:       h.session.IsRunning(),
		Authenticated: h.session.IsAuthenticated(r.Context()),
	})
}

// Stats returns the current session counters
func (h *Handler) Stats(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.session.Stats())
}

type callbackUser struct {
	ID       string `json:"id"`
	Username string `json:"username"`
}

type callbackData struct {
	Tokens *models.TokenPair `json:"tokens"`
	User   *callbackUser     `json:"user"`
	Error  string            `json:"error"`
}

// AuthCallback receives the outcome of the OAuth handshake. The bot server
// redirects here with ?data=<base64 json {tokens,user}> or ?error=<base64 json {error}>.
func (h *Handler) AuthCallback(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query()

	if encoded := query.Get("error"); encoded != "" {
		var data callbackData
		if err := decodeParam(encoded, &data); err != nil {
			data.Error = "unreadable error from bot server"
		}
		h.logger.Warn("Authentication failed", zap.String("reason", data.Error))
		writePage(w, http.StatusBadRequest, "Authentication failed! You can close this window.")
		return
	}

	encoded := query.Get("data")
	if encoded == "" {
		writePage(w, http.StatusBadRequest, "Authentication failed! No data received.")
		return
	}

	var data callbackData
	if err := decodeParam(encoded, &data); err != nil {
		h.logger.Warn("Malformed auth callback", zap.Error(err))
		writePage(w, http.StatusBadRequest, "Authentication failed! You can close this window.")
		return
	}
	if !data.Tokens.Valid() {
		h.logger.Warn("Auth callback without tokens")
		writePage(w, http.StatusBadRequest, "Authentication failed! No tokens received.")
		return
	}

	pair := data.Tokens.Clone()
	if data.User != nil {
		pair.OwnerIdentity = data.User.Username
		if pair.OwnerIdentity == "" {
			pair.OwnerIdentity = data.User.ID
		}
	}

	if err := h.tokens.Save(r.Context(), pair); err != nil {
		h.logger.Error("Failed to save tokens", zap.Error(err))
		writePage(w, http.StatusInternalServerError, "Authentication failed! Tokens could not be stored.")
		return
	}

	h.logger.Info("Authenticated", zap.String("owner", pair.OwnerIdentity))
	writePage(w, http.StatusOK, "Authentication successful! You can close this window.")
}

// Logout signs out
func (h *Handler) Logout(w http.ResponseWriter, r *http.Request) {
	if err := h.tokens.Save(r.Context(), nil); err != nil {
		h.logger.Error("Failed to clear tokens", zap.Error(err))
		writeJSON(w, http.StatusInternalServerError, errorResponse{Error: "failed to clear tokens"})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "signed_out"})
}

// NewServer builds the status HTTP server
func NewServer(addr string, handler http.Handler) *http.Server {
	return &http.Server{
		Addr:              addr,
		Handler:           handler,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       10 * time.Second,
		WriteTimeout:      10 * time.Second,
	}
}

func decodeParam(encoded string, v interface{}) error {
	// unescaped '+' in the redirect arrives as a space
	encoded = strings.ReplaceAll(strings.TrimSpace(encoded), " ", "+")

	var raw []byte
	var err error
	for _, enc := range []*base64.Encoding{base64.StdEncoding, base64.URLEncoding, base64.RawStdEncoding, base64.RawURLEncoding} {
		raw, err = enc.DecodeString(encoded)
		if err == nil {
			break
		}
	}
	if err != nil {
		return fmt.Errorf("failed to decode base64: %w", err)
	}

	if err := json.Unmarshal(raw, v); err != nil {
		return fmt.Errorf("failed to decode json: %w", err)
	}
	return nil
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writePage(w http.ResponseWriter, status int, message string) {
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.WriteHeader(status)
	fmt.Fprintf(w, "<html><body>%s</body></html>\n", message)
}
