package market

import (
	"math"
	"sort"
	"sync"
	"time"

	"github.com/GoPolymarket/polysignal/internal/pkg/apperrors"
)

const DefaultHistoryCapacity = 200

// series is a fixed-capacity ring of prices for one market, oldest first when read.
type series struct {
	prices      []float64
	next        int
	full        bool
	lastUpdated time.Time
}

func (s *series) push(p float64, capacity int) {
	if !s.full {
		s.prices = append(s.prices, p)
		if len(s.prices) == capacity {
			s.full = true
		}
		return
	}
	s.prices[s.next] = p
	s.next = (s.next + 1) % capacity
}

func (s *series) ordered() []float64 {
	out := make([]float64, 0, len(s.prices))
	if !s.full {
		return append(out, s.prices...)
	}
	out = append(out, s.prices[s.next:]...)
	return append(out, s.prices[:s.next]...)
}

// HistoryStore keeps the most recent prices per market for regime detection.
// Safe for concurrent use.
type HistoryStore struct {
	mu       sync.RWMutex
	capacity int
	markets  map[string]*series
}

func NewHistoryStore(capacity int) *HistoryStore {
	if capacity <= 1 {
		capacity = DefaultHistoryCapacity
	}
	return &HistoryStore{
		capacity: capacity,
		markets:  make(map[string]*series),
	}
}

// Append adds prices, most recent last. Prices must be finite and in [0,1].
func (h *HistoryStore) Append(marketID string, prices ...float64) error {
	if marketID == "" {
		return apperrors.Preconditionf("market id is required")
	}
	for _, p := range prices {
		if math.IsNaN(p) || math.IsInf(p, 0) || p < 0 || p > 1 {
			return apperrors.Preconditionf("price %v for %s outside [0,1]", p, marketID)
		}
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	s, ok := h.markets[marketID]
	if !ok {
		s = &series{prices: make([]float64, 0, h.capacity)}
		h.markets[marketID] = s
	}
	for _, p := range prices {
		s.push(p, h.capacity)
	}
	s.lastUpdated = time.Now()
	return nil
}

// Series returns a copy of the stored prices, most recent last; nil when unknown.
func (h *HistoryStore) Series(marketID string) []float64 {
	h.mu.RLock()
	defer h.mu.RUnlock()
	s, ok := h.markets[marketID]
	if !ok {
		return nil
	}
	return s.ordered()
}

// LastUpdated reports when the market last received a price.
func (h *HistoryStore) LastUpdated(marketID string) (time.Time, bool) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	s, ok := h.markets[marketID]
	if !ok {
		return time.Time{}, false
	}
	return s.lastUpdated, true
}

func (h *HistoryStore) Markets() []string {
	h.mu.RLock()
	defer h.mu.RUnlock()
	ids := make([]string, 0, len(h.markets))
	for id := range h.markets {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// Snapshot copies every series, keyed by market id.
func (h *HistoryStore) Snapshot() map[string][]float64 {
	h.mu.RLock()
	defer h.mu.RUnlock()
	out := make(map[string][]float64, len(h.markets))
	for id, s := range h.markets {
		out[id] = s.ordered()
	}
	return out
}
