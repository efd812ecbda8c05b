// Package ticker maintains the in-memory cache of live funding/mark/index
// prices, kept fresh by a background poller.
//
// LOCK ORDERING:
// 1. Cache.mu (map-wide lock, guards the symbol->entry map itself)
// 2. entry.mu (per-entry lock, guards one entry's fields)
//
// Never acquire Cache.mu while holding an entry.mu. Reads that only need
// one entry take the map lock just long enough to grab the entry pointer,
// release it, then lock the entry.
package ticker

import (
	"sort"
	"sync"

	"fundingarb/internal/core"

	"github.com/shopspring/decimal"
)

type entry struct {
	mu   sync.RWMutex
	data core.FundingRateData
}

// Cache is the symbol->latest-snapshot map the poller publishes into and
// every strategy component reads from.
type Cache struct {
	mu      sync.RWMutex
	entries map[string]*entry

	priceMu sync.RWMutex
	prices  map[string]priceEntry
}

type priceEntry struct {
	price       decimal.Decimal
	updatedAtMs int64
}

// NewCache builds an empty cache.
func NewCache() *Cache {
	return &Cache{
		entries: make(map[string]*entry),
		prices:  make(map[string]priceEntry),
	}
}

// Put upserts a symbol's funding/mark/index snapshot, and publishes the
// mark price under the perp symbol plus the index price under the derived
// spot symbol into the price side of the cache.
func (c *Cache) Put(data core.FundingRateData) {
	c.mu.Lock()
	e, ok := c.entries[data.Symbol]
	if !ok {
		e = &entry{}
		c.entries[data.Symbol] = e
	}
	c.mu.Unlock()

	e.mu.Lock()
	e.data = data
	e.mu.Unlock()

	c.publishPrice(data.Symbol, data.MarkPrice, data.UpdatedAtMs)
	if !data.IndexPrice.IsZero() {
		c.publishPrice(core.SpotSymbol(data.Symbol), data.IndexPrice, data.UpdatedAtMs)
	}
}

func (c *Cache) publishPrice(symbol string, price decimal.Decimal, updatedAtMs int64) {
	c.priceMu.Lock()
	c.prices[symbol] = priceEntry{price: price, updatedAtMs: updatedAtMs}
	c.priceMu.Unlock()
}

// GetFundingRate returns the latest snapshot for symbol, if present.
func (c *Cache) GetFundingRate(symbol string) (core.FundingRateData, bool) {
	c.mu.RLock()
	e, ok := c.entries[symbol]
	c.mu.RUnlock()
	if !ok {
		return core.FundingRateData{}, false
	}

	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.data, true
}

// GetAllFundingRates returns every cached snapshot sorted descending by rate.
func (c *Cache) GetAllFundingRates() []core.FundingRateData {
	c.mu.RLock()
	entries := make([]*entry, 0, len(c.entries))
	for _, e := range c.entries {
		entries = append(entries, e)
	}
	c.mu.RUnlock()

	out := make([]core.FundingRateData, 0, len(entries))
	for _, e := range entries {
		e.mu.RLock()
		out = append(out, e.data)
		e.mu.RUnlock()
	}

	sort.Slice(out, func(i, j int) bool {
		return out[i].Rate.GreaterThan(out[j].Rate)
	})
	return out
}

// GetPrice returns the last published price for symbol.
func (c *Cache) GetPrice(symbol string) (decimal.Decimal, bool) {
	c.priceMu.RLock()
	defer c.priceMu.RUnlock()
	p, ok := c.prices[symbol]
	if !ok {
		return decimal.Zero, false
	}
	return p.price, true
}

// IsStale reports whether symbol's price is missing or older than maxAgeMs.
func (c *Cache) IsStale(symbol string, maxAgeMs int64, nowMs int64) bool {
	c.priceMu.RLock()
	p, ok := c.prices[symbol]
	c.priceMu.RUnlock()
	if !ok {
		return true
	}
	return nowMs-p.updatedAtMs > maxAgeMs
}
