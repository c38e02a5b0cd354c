package monitor

import (
	"sync"
	"time"
)

// SenderCooldown suppresses repeat alerts from one sender inside a time
// window. A zero window allows everything.
type SenderCooldown struct {
	window time.Duration
	now    func() time.Time

	mu   sync.Mutex
	last map[string]time.Time
}

// NewSenderCooldown creates a cooldown policy
func NewSenderCooldown(window time.Duration) *SenderCooldown {
	return &SenderCooldown{
		window: window,
		now:    time.Now,
		last:   make(map[string]time.Time),
	}
}

// Allow reports whether an alert from sender may go out now, and records it if so
func (c *SenderCooldown) Allow(sender string) bool {
	if c.window <= 0 {
		return true
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.now()
	if last, ok := c.last[sender]; ok && now.Sub(last) < c.window {
		return false
	}
	c.last[sender] = now

	for name, at := range c.last {
		if now.Sub(at) >= c.window {
			delete(c.last, name)
		}
	}
	return true
}
