package cellio

import (
	"math"
	"sync"
	"time"
)

const epsilon = 1e-6

// changeFilter remembers the last reported value of each point for a TTL so
// unchanged readings are not reported again.
type changeFilter struct {
	mu   sync.Mutex
	ttl  time.Duration
	now  func() time.Time
	data map[string]entry
}

type entry struct {
	v  float64
	at time.Time
}

func newChangeFilter(ttl time.Duration) *changeFilter {
	if ttl <= 0 {
		ttl = time.Hour
	}
	return &changeFilter{ttl: ttl, now: time.Now, data: make(map[string]entry)}
}

// Changed reports whether v differs from the remembered value of key, or the
// remembered value expired. A changed value becomes the new remembered value.
func (c *changeFilter) Changed(key string, v float64) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	now := c.now()
	if e, ok := c.data[key]; ok && now.Sub(e.at) <= c.ttl && floatsEqual(e.v, v) {
		return false
	}
	c.data[key] = entry{v: v, at: now}
	return true
}

func floatsEqual(a, b float64) bool {
	return math.Abs(a-b) <= epsilon*math.Max(1, math.Max(math.Abs(a), math.Abs(b)))
}
