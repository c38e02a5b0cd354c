package alert

import "errors"

// Delivery outcomes other than success. Each is terminal for the event.
var (
	// ErrNotAuthenticated means no token pair is held. No request was made.
	ErrNotAuthenticated = errors.New("not authenticated")
	// ErrSessionExpired means the session could not be renewed after a 401
	ErrSessionExpired = errors.New("session expired")
	// ErrRecipientUnreachable means the provider refuses to message the recipient
	ErrRecipientUnreachable = errors.New("recipient cannot receive messages")
	// ErrTransport covers network failures and any other non-success response
	ErrTransport = errors.New("delivery failed")
)

// Kind returns a short name for a delivery error, for logs and events
func Kind(err error) string {
	switch {
	case err == nil:
		return "delivered"
	case errors.Is(err, ErrNotAuthenticated):
		return "not_authenticated"
	case errors.Is(err, ErrSessionExpired):
		return "session_expired"
	case errors.Is(err, ErrRecipientUnreachable):
		return "recipient_unreachable"
	default:
		return "transport_error"
	}
}
