package dispatch

import (
	"sync"
	"time"
)

// Throttle rate-limits outbound notifications per channel so a flapping
// sensor cannot flood a webhook endpoint.
type Throttle struct {
	mu   sync.Mutex
	last map[string]time.Time
}

func NewThrottle() *Throttle {
	return &Throttle{last: make(map[string]time.Time)}
}

func (t *Throttle) Allow(key string, cooldown time.Duration) bool {
	if cooldown <= 0 {
		return true
	}
	now := time.Now().UTC()
	t.mu.Lock()
	defer t.mu.Unlock()
	if ts, ok := t.last[key]; ok {
		if now.Sub(ts) < cooldown {
			return false
		}
	}
	t.last[key] = now
	return true
}
