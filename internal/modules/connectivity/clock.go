package connectivity

import (
	"context"
	"sync"
	"time"
)

// SystemClock reads the host clock. Time reads report unset until the first
// Sync.
type SystemClock struct {
	mu     sync.Mutex
	synced bool
	now    func() time.Time
}

func NewSystemClock() *SystemClock {
	return &SystemClock{now: time.Now}
}

func (c *SystemClock) Now() (uint32, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.synced {
		return 0, false
	}
	return uint32(c.now().Unix()), true
}

func (c *SystemClock) Sync(context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.synced = true
	return nil
}
