package market

import (
	"context"
	"strconv"
	"time"

	"github.com/shopspring/decimal"

	"github.com/MintTrader/MinTrader/internal/broker"
	"github.com/MintTrader/MinTrader/internal/model"
)

// CandleFetcher is the part of the Tinkoff client that reads candles.
type CandleFetcher interface {
	FetchCandleSnapshot(ctx context.Context, ticker string) (*broker.CandleSnapshot, error)
}

// TinkoffSource prices symbols from T-Invest hourly candles and borrows news from another source.
type TinkoffSource struct {
	candles CandleFetcher
	news    Provider
}

func NewTinkoffSource(candles CandleFetcher, news Provider) *TinkoffSource {
	return &TinkoffSource{candles: candles, news: news}
}

func (s *TinkoffSource) Snapshot(ctx context.Context, symbol string) (*model.Snapshot, error) {
	cs, err := s.candles.FetchCandleSnapshot(ctx, symbol)
	if err != nil {
		return nil, err
	}

	snap := &model.Snapshot{
		Symbol:    symbol,
		AsOf:      time.Now().UTC(),
		LastPrice: decimal.NewFromFloat(cs.LastPrice),
		Change1d:  pctChange(cs.LastPrice, cs.Price1dAgo),
		Change3d:  pctChange(cs.LastPrice, cs.Price3dAgo),
		Change1w:  pctChange(cs.LastPrice, cs.Price1wAgo),
		Volume24h: cs.Volume24h,
		Fundamentals: map[string]string{
			"lot_size": strconv.FormatInt(cs.Lot, 10),
		},
	}

	if s.news != nil {
		if extra, err := s.news.Snapshot(ctx, symbol); err == nil {
			snap.News = extra.News
			for k, v := range extra.Fundamentals {
				if _, ok := snap.Fundamentals[k]; !ok {
					snap.Fundamentals[k] = v
				}
			}
		}
	}

	return snap, nil
}
