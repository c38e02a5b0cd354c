package monitor

import (
	"errors"
	"time"
)

// EventType names what an Event reports
type EventType string

const (
	EventTrade       EventType = "trade"
	EventError       EventType = "error"
	EventAuthChanged EventType = "authChanged"
)

// ErrSuppressed is the outcome of a trade held back by the sender cooldown
var ErrSuppressed = errors.New("suppressed by sender cooldown")

// Event is a notification for the UI or shell around the monitor.
// Trade events carry the delivery outcome in Err, nil when delivered.
type Event struct {
	Type          EventType
	TradeID       string
	Player        string
	Message       string
	Err           error
	Authenticated bool
	Time          time.Time
}
