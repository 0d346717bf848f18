package service

import (
	"sync"

	"fundarb/internal/domain/model"
)

// DefaultHistoryCapacity 最近机会窗口大小
const DefaultHistoryCapacity = 100

// OpportunityHistory bounded rolling buffer, oldest first, newest last.
type OpportunityHistory struct {
	mu    sync.RWMutex
	cap   int
	items []model.Opportunity
}

func NewOpportunityHistory(capacity int) *OpportunityHistory {
	if capacity <= 0 {
		capacity = DefaultHistoryCapacity
	}
	return &OpportunityHistory{cap: capacity, items: make([]model.Opportunity, 0, capacity)}
}

// Append adds the batch in order and evicts the oldest beyond capacity.
func (h *OpportunityHistory) Append(batch []model.Opportunity) {
	if len(batch) == 0 {
		return
	}
	h.mu.Lock()
	defer h.mu.Unlock()

	h.items = append(h.items, batch...)
	if over := len(h.items) - h.cap; over > 0 {
		kept := make([]model.Opportunity, h.cap)
		copy(kept, h.items[over:])
		h.items = kept
	}
}

// Snapshot returns a copy, oldest first.
func (h *OpportunityHistory) Snapshot() []model.Opportunity {
	h.mu.RLock()
	defer h.mu.RUnlock()
	out := make([]model.Opportunity, len(h.items))
	copy(out, h.items)
	return out
}

// BySymbol recent opportunities for one pair, oldest first.
func (h *OpportunityHistory) BySymbol(symbol string) []model.Opportunity {
	h.mu.RLock()
	defer h.mu.RUnlock()
	var out []model.Opportunity
	for _, o := range h.items {
		if o.Symbol == symbol {
			out = append(out, o)
		}
	}
	return out
}

func (h *OpportunityHistory) Len() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.items)
}
