package conversation

import (
	"sync"
	"time"
)

// LocalClock hands out strictly increasing millisecond stamps for one client.
// They order that client's own sends on screen and nothing else.
type LocalClock struct {
	mu   sync.Mutex
	now  func() time.Time
	last int64
}

func NewLocalClock(now func() time.Time) *LocalClock {
	if now == nil {
		now = time.Now
	}
	return &LocalClock{now: now}
}

func (c *LocalClock) Next() int64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	ms := c.now().UnixMilli()
	if ms <= c.last {
		ms = c.last + 1
	}
	c.last = ms
	return ms
}
