package host

import (
	"sync"
	"time"
)

// BlockClock 为每次提交分配单调递增的高度与不回退的秒级时间戳。
type BlockClock struct {
	mu     sync.Mutex
	height uint64
	time   uint64
	now    func() time.Time
}

// NewBlockClock 从已提交的高度与时间恢复。now 为 nil 时使用系统时钟。
func NewBlockClock(height, last uint64, now func() time.Time) *BlockClock {
	if now == nil {
		now = time.Now
	}
	return &BlockClock{height: height, time: last, now: now}
}

// Peek 返回下一个块的高度与时间，不推进时钟。
func (c *BlockClock) Peek() (uint64, uint64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	t := uint64(c.now().Unix())
	if t < c.time {
		t = c.time
	}
	return c.height + 1, t
}

// Advance 在调用提交后推进时钟。
func (c *BlockClock) Advance(height, t uint64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if height > c.height {
		c.height = height
	}
	if t > c.time {
		c.time = t
	}
}

// Current 返回最近一次提交的高度与时间。
func (c *BlockClock) Current() (uint64, uint64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.height, c.time
}
