package market

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/MintTrader/MinTrader/internal/broker"
	"github.com/MintTrader/MinTrader/internal/model"
	"github.com/MintTrader/MinTrader/internal/moex"
)

type countingProvider struct {
	calls int
	snap  *model.Snapshot
	err   error
}

func (p *countingProvider) Snapshot(ctx context.Context, symbol string) (*model.Snapshot, error) {
	p.calls++
	if p.err != nil {
		return nil, p.err
	}
	s := *p.snap
	s.Symbol = symbol
	return &s, nil
}

func TestCache_ReusesSnapshotWithinTTL(t *testing.T) {
	src := &countingProvider{snap: &model.Snapshot{LastPrice: decimal.NewFromInt(50)}}
	c := NewCache(src, time.Minute)

	_, err := c.Snapshot(context.Background(), "SBER")
	require.NoError(t, err)
	price, err := c.Quote(context.Background(), "SBER")
	require.NoError(t, err)

	assert.True(t, price.Equal(decimal.NewFromInt(50)))
	assert.Equal(t, 1, src.calls)
	assert.Contains(t, c.Prices(), "SBER")
}

func TestCache_QuoteWithoutPrice(t *testing.T) {
	c := NewCache(&countingProvider{snap: &model.Snapshot{}}, time.Minute)
	_, err := c.Quote(context.Background(), "SBER")
	assert.Error(t, err)

	c = NewCache(&countingProvider{err: errors.New("iss down")}, time.Minute)
	_, err = c.Quote(context.Background(), "SBER")
	assert.Error(t, err)
}

func TestCloseDaysAgo(t *testing.T) {
	now := time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)
	candles := []moex.Candle{
		{Begin: time.Date(2026, 3, 2, 0, 0, 0, 0, time.UTC), Close: 100},
		{Begin: time.Date(2026, 3, 6, 0, 0, 0, 0, time.UTC), Close: 104},
		{Begin: time.Date(2026, 3, 9, 0, 0, 0, 0, time.UTC), Close: 108},
		{Begin: time.Date(2026, 3, 10, 0, 0, 0, 0, time.UTC), Close: 110},
	}

	assert.Equal(t, 108.0, closeDaysAgo(candles, now, 1))
	assert.Equal(t, 104.0, closeDaysAgo(candles, now, 3))
	assert.Equal(t, 100.0, closeDaysAgo(candles, now, 7))
	assert.Equal(t, 100.0, closeDaysAgo(candles, now, 30))
	assert.Equal(t, 0.0, closeDaysAgo(nil, now, 1))
}

func TestPctChange(t *testing.T) {
	assert.InDelta(t, 10.0, pctChange(110, 100), 1e-9)
	assert.Equal(t, 0.0, pctChange(110, 0))
}

type fakeCandles struct{}

func (fakeCandles) FetchCandleSnapshot(ctx context.Context, ticker string) (*broker.CandleSnapshot, error) {
	return &broker.CandleSnapshot{Ticker: ticker, Lot: 10, LastPrice: 110, Price1dAgo: 100, Price3dAgo: 110, Price1wAgo: 55}, nil
}

func TestTinkoffSource_MergesNews(t *testing.T) {
	news := &countingProvider{snap: &model.Snapshot{
		News:         []string{"Сбербанк объявил дивиденды"},
		Fundamentals: map[string]string{"lot_size": "1", "name": "Сбербанк"},
	}}
	src := NewTinkoffSource(fakeCandles{}, news)

	snap, err := src.Snapshot(context.Background(), "SBER")
	require.NoError(t, err)
	assert.InDelta(t, 10.0, snap.Change1d, 1e-9)
	assert.InDelta(t, 0.0, snap.Change3d, 1e-9)
	assert.InDelta(t, 100.0, snap.Change1w, 1e-9)
	assert.Equal(t, []string{"Сбербанк объявил дивиденды"}, snap.News)
	assert.Equal(t, "10", snap.Fundamentals["lot_size"])
	assert.Equal(t, "Сбербанк", snap.Fundamentals["name"])
}
