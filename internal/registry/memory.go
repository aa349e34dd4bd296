package registry

import (
	"context"
	"sync"

	"github.com/stp258/serp/internal/fixed"
	"github.com/stp258/serp/internal/ledger"
)

type memoryRegistry struct {
	mu     sync.RWMutex
	prices map[ledger.CurrencyID]fixed.Price
}

// NewMemory constructs an in-memory registry for tests and development.
func NewMemory() Registry {
	return &memoryRegistry{prices: make(map[ledger.CurrencyID]fixed.Price)}
}

func (r *memoryRegistry) Get(_ context.Context, currency ledger.CurrencyID) (fixed.Price, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	p, ok := r.prices[currency]
	if !ok {
		return fixed.Zero, ErrNotFound
	}
	return p, nil
}

func (r *memoryRegistry) Set(_ context.Context, currency ledger.CurrencyID, price fixed.Price) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.prices[currency] = price
	return nil
}
