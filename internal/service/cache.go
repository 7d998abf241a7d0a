package service

import (
	"sync"
	"time"

	"github.com/GoPolymarket/polysignal/internal/model"
)

const DefaultSignalTTL = 5 * time.Minute

// SignalCache holds the most recent ranked signals until they go stale.
type SignalCache struct {
	mu        sync.RWMutex
	ttl       time.Duration
	signals   []model.RiskScoredSignal
	updatedAt time.Time
	now       func() time.Time
}

func NewSignalCache(ttl time.Duration) *SignalCache {
	if ttl <= 0 {
		ttl = DefaultSignalTTL
	}
	return &SignalCache{ttl: ttl, now: time.Now}
}

func (c *SignalCache) Set(signals []model.RiskScoredSignal) {
	cp := make([]model.RiskScoredSignal, len(signals))
	copy(cp, signals)
	c.mu.Lock()
	c.signals = cp
	c.updatedAt = c.now()
	c.mu.Unlock()
}

// Get returns a copy of the cached signals and when they were stored; ok is false when
// nothing is cached or the entry has expired.
func (c *SignalCache) Get() ([]model.RiskScoredSignal, time.Time, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.updatedAt.IsZero() || c.now().Sub(c.updatedAt) > c.ttl {
		return nil, c.updatedAt, false
	}
	out := make([]model.RiskScoredSignal, len(c.signals))
	copy(out, c.signals)
	return out, c.updatedAt, true
}
