package broker

import (
	"context"
	"fmt"

	pb "github.com/russianinvestments/invest-api-go-sdk/proto"
	"github.com/shopspring/decimal"
)

type PortfolioInfo struct {
	TotalRub     float64
	AvailableRub float64
	Positions    []PositionInfo
}

type PositionInfo struct {
	Ticker        string
	InstrumentUID string
	Figi          string
	Quantity      float64
	AvgPrice      float64
	CurrentPrice  float64
	PnL           float64
}

func (tc *TinkoffClient) GetPortfolio() (*PortfolioInfo, error) {
	accountID := tc.AccountID()
	currency := pb.PortfolioRequest_RUB

	var resp interface {
		GetTotalAmountPortfolio() *pb.MoneyValue
		GetTotalAmountCurrencies() *pb.MoneyValue
		GetPositions() []*pb.PortfolioPosition
	}

	if tc.Config.IsSandbox() {
		sandbox := tc.Client.NewSandboxServiceClient()
		r, err := sandbox.GetSandboxPortfolio(accountID, currency)
		if err != nil {
			return nil, fmt.Errorf("get sandbox portfolio: %w", err)
		}
		resp = r.PortfolioResponse
	} else {
		ops := tc.Client.NewOperationsServiceClient()
		r, err := ops.GetPortfolio(accountID, currency)
		if err != nil {
			return nil, fmt.Errorf("get portfolio: %w", err)
		}
		resp = r.PortfolioResponse
	}

	info := &PortfolioInfo{}
	if total := resp.GetTotalAmountPortfolio(); total != nil {
		info.TotalRub = total.ToFloat()
	}
	if currencies := resp.GetTotalAmountCurrencies(); currencies != nil {
		info.AvailableRub = currencies.ToFloat()
	}

	for _, pos := range resp.GetPositions() {
		if pos.GetInstrumentType() == "currency" {
			continue
		}
		pi := PositionInfo{
			InstrumentUID: pos.GetInstrumentUid(),
			Figi:          pos.GetFigi(),
		}
		if ticker, err := tc.resolveInstrumentUID(pi.InstrumentUID); err == nil {
			pi.Ticker = ticker
		}
		if q := pos.GetQuantity(); q != nil {
			pi.Quantity = q.ToFloat()
		}
		if ap := pos.GetAveragePositionPrice(); ap != nil {
			pi.AvgPrice = ap.ToFloat()
		}
		if cp := pos.GetCurrentPrice(); cp != nil {
			pi.CurrentPrice = cp.ToFloat()
		}
		if ey := pos.GetExpectedYield(); ey != nil {
			pi.PnL = ey.ToFloat()
		}
		info.Positions = append(info.Positions, pi)
	}

	return info, nil
}

// Positions returns broker holdings in shares.
func (tc *TinkoffClient) Positions(ctx context.Context) ([]Position, error) {
	info, err := callWithContext(ctx, tc.GetPortfolio)
	if err != nil {
		return nil, err
	}

	out := make([]Position, 0, len(info.Positions))
	for _, p := range info.Positions {
		if p.Ticker == "" || p.Quantity == 0 {
			continue
		}
		out = append(out, Position{
			Symbol:   p.Ticker,
			Quantity: int64(p.Quantity),
			AvgPrice: decimal.NewFromFloat(p.AvgPrice),
		})
	}
	return out, nil
}
