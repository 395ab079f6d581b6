// Package market builds per-symbol snapshots for the analyst stage.
package market

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"github.com/MintTrader/MinTrader/internal/model"
)

type Provider interface {
	Snapshot(ctx context.Context, symbol string) (*model.Snapshot, error)
}

// Cache remembers the latest snapshot per symbol for the cycle. It also quotes
// prices to the paper broker so fills match what the analysts saw.
type Cache struct {
	source Provider
	ttl    time.Duration

	mu    sync.Mutex
	items map[string]cached
}

type cached struct {
	snap    *model.Snapshot
	fetched time.Time
}

func NewCache(source Provider, ttl time.Duration) *Cache {
	return &Cache{source: source, ttl: ttl, items: make(map[string]cached)}
}

func (c *Cache) Snapshot(ctx context.Context, symbol string) (*model.Snapshot, error) {
	c.mu.Lock()
	item, ok := c.items[symbol]
	c.mu.Unlock()
	if ok && time.Since(item.fetched) < c.ttl {
		return item.snap, nil
	}

	snap, err := c.source.Snapshot(ctx, symbol)
	if err != nil {
		return nil, err
	}

	c.mu.Lock()
	c.items[symbol] = cached{snap: snap, fetched: time.Now()}
	c.mu.Unlock()
	return snap, nil
}

// Quote returns the last price of the cached snapshot, fetching one if needed.
func (c *Cache) Quote(ctx context.Context, symbol string) (decimal.Decimal, error) {
	snap, err := c.Snapshot(ctx, symbol)
	if err != nil {
		return decimal.Zero, err
	}
	if !snap.LastPrice.IsPositive() {
		return decimal.Zero, fmt.Errorf("no price for %s", symbol)
	}
	return snap.LastPrice, nil
}

// Prices returns last prices of every cached snapshot.
func (c *Cache) Prices() map[string]decimal.Decimal {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make(map[string]decimal.Decimal, len(c.items))
	for sym, item := range c.items {
		out[sym] = item.snap.LastPrice
	}
	return out
}

func pctChange(last, past float64) float64 {
	if past == 0 {
		return 0
	}
	return (last - past) / past * 100
}
