package broker

import (
	"context"
	"fmt"
	"time"

	pb "github.com/russianinvestments/invest-api-go-sdk/proto"
)

type CandleSnapshot struct {
	Ticker        string
	InstrumentUID string
	Lot           int64
	LastPrice     float64
	Price1dAgo    float64
	Price3dAgo    float64
	Price1wAgo    float64
	Volume24h     float64
}

// FetchCandleSnapshot reads a week of hourly candles for the ticker.
func (tc *TinkoffClient) FetchCandleSnapshot(ctx context.Context, ticker string) (*CandleSnapshot, error) {
	return callWithContext(ctx, func() (*CandleSnapshot, error) {
		return tc.fetchOneTicker(ticker)
	})
}

func (tc *TinkoffClient) fetchOneTicker(ticker string) (*CandleSnapshot, error) {
	inst, err := tc.ResolveInstrument(ticker)
	if err != nil {
		return nil, err
	}

	now := time.Now()
	from := now.Add(-7 * 24 * time.Hour)

	md := tc.Client.NewMarketDataServiceClient()
	resp, err := md.GetCandles(
		inst.UID,
		pb.CandleInterval_CANDLE_INTERVAL_HOUR,
		from, now,
		pb.GetCandlesRequest_CANDLE_SOURCE_EXCHANGE,
		0,
	)
	if err != nil {
		return nil, fmt.Errorf("get candles %s: %w", ticker, err)
	}

	candles := resp.GetCandles()
	if len(candles) == 0 {
		return nil, fmt.Errorf("no candles for %s", ticker)
	}

	return &CandleSnapshot{
		Ticker:        ticker,
		InstrumentUID: inst.UID,
		Lot:           inst.Lot,
		LastPrice:     findCloseAtOffset(candles, now, 0),
		Price1dAgo:    findCloseAtOffset(candles, now, 24*time.Hour),
		Price3dAgo:    findCloseAtOffset(candles, now, 3*24*time.Hour),
		Price1wAgo:    findCloseAtOffset(candles, now, 7*24*time.Hour),
		Volume24h:     sumVolume24h(candles, now),
	}, nil
}

// findCloseAtOffset finds the close price of the candle closest to (now - offset).
func findCloseAtOffset(candles []*pb.HistoricCandle, now time.Time, offset time.Duration) float64 {
	target := now.Add(-offset)
	var bestCandle *pb.HistoricCandle
	var bestDiff time.Duration

	for _, c := range candles {
		t := c.GetTime().AsTime()
		diff := absDuration(t.Sub(target))
		if bestCandle == nil || diff < bestDiff {
			bestCandle = c
			bestDiff = diff
		}
	}

	if bestCandle == nil {
		return 0
	}
	return bestCandle.GetClose().ToFloat()
}

func sumVolume24h(candles []*pb.HistoricCandle, now time.Time) float64 {
	cutoff := now.Add(-24 * time.Hour)
	var total float64
	for _, c := range candles {
		if c.GetTime().AsTime().After(cutoff) {
			total += float64(c.GetVolume())
		}
	}
	return total
}

func absDuration(d time.Duration) time.Duration {
	if d < 0 {
		return -d
	}
	return d
}
