package broker

import (
	"fmt"
	"sync"
)

// Instrument is the part of the instrument card the adapter needs.
type Instrument struct {
	UID    string
	Ticker string
	Lot    int64
}

var (
	instrumentCache sync.Map // instrumentUID -> ticker
	tickerCache     sync.Map // ticker -> Instrument
)

func (tc *TinkoffClient) resolveInstrumentUID(uid string) (string, error) {
	if cached, ok := instrumentCache.Load(uid); ok {
		return cached.(string), nil
	}

	instruments := tc.Client.NewInstrumentsServiceClient()
	resp, err := instruments.InstrumentByUid(uid)
	if err != nil {
		return "", fmt.Errorf("instrument by uid %s: %w", uid, err)
	}

	ticker := resp.GetInstrument().GetTicker()
	instrumentCache.Store(uid, ticker)
	return ticker, nil
}

// ResolveInstrument finds the instrument card for a ticker, including its lot size.
func (tc *TinkoffClient) ResolveInstrument(ticker string) (Instrument, error) {
	if cached, ok := tickerCache.Load(ticker); ok {
		return cached.(Instrument), nil
	}

	instruments := tc.Client.NewInstrumentsServiceClient()
	resp, err := instruments.FindInstrument(ticker)
	if err != nil {
		return Instrument{}, fmt.Errorf("find instrument %s: %w", ticker, err)
	}

	var uid string
	for _, inst := range resp.GetInstruments() {
		if inst.GetTicker() == ticker {
			uid = inst.GetUid()
			break
		}
	}
	if uid == "" && len(resp.GetInstruments()) > 0 {
		uid = resp.GetInstruments()[0].GetUid()
	}
	if uid == "" {
		return Instrument{}, fmt.Errorf("instrument not found: %s", ticker)
	}

	card, err := instruments.InstrumentByUid(uid)
	if err != nil {
		return Instrument{}, fmt.Errorf("instrument by uid %s: %w", uid, err)
	}

	inst := Instrument{
		UID:    uid,
		Ticker: ticker,
		Lot:    int64(card.GetInstrument().GetLot()),
	}
	if inst.Lot <= 0 {
		inst.Lot = 1
	}

	instrumentCache.Store(uid, ticker)
	tickerCache.Store(ticker, inst)
	return inst, nil
}
