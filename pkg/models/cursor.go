package models

import "time"

// LogCursor tracks the reading position of the tailed file
type LogCursor struct {
	FilePath     string    `json:"file_path"`
	Offset       int64     `json:"offset"`
	LastPollTime time.Time `json:"last_poll_time"`
}

// StatsSnapshot is a read-only copy of the running counters of a session
type StatsSnapshot struct {
	StartTime           time.Time `json:"start_time"`
	TotalLinesProcessed int64     `json:"total_lines_processed"`
	TotalBytesRead      int64     `json:"total_bytes_read"`
	TradeMessagesFound  int64     `json:"trade_messages_found"`
	UniqueSenders       int       `json:"unique_senders"`
	LinesPerSecond      float64   `json:"lines_per_second"`
}
