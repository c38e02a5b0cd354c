package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// TradeEvent is one detected trade whisper
type TradeEvent struct {
	ID         string    `json:"id"`
	Sender     string    `json:"player"`
	Message    string    `json:"message"`
	RawLine    string    `json:"raw_line"`
	DetectedAt time.Time `json:"detected_at"`
	Listing    *Listing  `json:"listing,omitempty"`
}

// Listing holds the fields of a whisper generated by the trade site template
type Listing struct {
	Item     string          `json:"item"`
	Amount   decimal.Decimal `json:"amount"`
	Currency string          `json:"currency"`
	League   string          `json:"league"`
	StashTab string          `json:"stash_tab,omitempty"`
	Left     int             `json:"left,omitempty"`
	Top      int             `json:"top,omitempty"`
}

// AlertPayload is the body sent to the notification endpoint
type AlertPayload struct {
	Player  string `json:"player"`
	Message string `json:"message"`
}
