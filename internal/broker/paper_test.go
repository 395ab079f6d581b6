package broker

import (
	"context"
	"errors"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/MintTrader/MinTrader/internal/logger"
	"github.com/MintTrader/MinTrader/internal/model"
)

type staticQuoter map[string]decimal.Decimal

func (q staticQuoter) Quote(ctx context.Context, symbol string) (decimal.Decimal, error) {
	p, ok := q[symbol]
	if !ok {
		return decimal.Zero, errors.New("no quote")
	}
	return p, nil
}

func TestPaperBroker_FillsAndDeduplicates(t *testing.T) {
	ctx := context.Background()
	b := NewPaperBroker(staticQuoter{"SBER": decimal.NewFromInt(50)}, logger.Discard())

	req := OrderRequest{Symbol: "SBER", Side: model.SideBuy, Quantity: 10, ClientOrderID: "abc"}
	first, err := b.SubmitOrder(ctx, req)
	require.NoError(t, err)
	assert.Equal(t, model.OrderFilled, first.Status)
	assert.Equal(t, int64(10), first.FilledQuantity)
	assert.True(t, first.AvgPrice.Equal(decimal.NewFromInt(50)))

	second, err := b.SubmitOrder(ctx, req)
	require.NoError(t, err)
	assert.Equal(t, first.BrokerOrderID, second.BrokerOrderID)
	assert.Equal(t, 1, b.Submissions())

	positions, err := b.Positions(ctx)
	require.NoError(t, err)
	require.Len(t, positions, 1)
	assert.Equal(t, int64(10), positions[0].Quantity)
}

func TestPaperBroker_SellClosesSeededPosition(t *testing.T) {
	ctx := context.Background()
	b := NewPaperBroker(staticQuoter{"GAZP": decimal.NewFromInt(120)}, logger.Discard())
	b.Seed(map[string]model.Position{"GAZP": {Symbol: "GAZP", Quantity: 5, AverageCost: decimal.NewFromInt(100)}})

	res, err := b.SubmitOrder(ctx, OrderRequest{Symbol: "GAZP", Side: model.SideSell, Quantity: 5, ClientOrderID: "x"})
	require.NoError(t, err)
	assert.Equal(t, model.OrderFilled, res.Status)

	positions, err := b.Positions(ctx)
	require.NoError(t, err)
	assert.Empty(t, positions)
}

func TestPaperBroker_NoQuote(t *testing.T) {
	b := NewPaperBroker(staticQuoter{}, logger.Discard())
	_, err := b.SubmitOrder(context.Background(), OrderRequest{Symbol: "LKOH", Side: model.SideBuy, Quantity: 1, ClientOrderID: "y"})
	assert.Error(t, err)
	assert.Equal(t, 0, b.Submissions())
}

func TestStatusFromFill(t *testing.T) {
	assert.Equal(t, model.OrderFilled, statusFromFill(10, 10))
	assert.Equal(t, model.OrderPartial, statusFromFill(10, 4))
	assert.Equal(t, model.OrderRejected, statusFromFill(10, 0))
}

func TestLotFill(t *testing.T) {
	tests := []struct {
		name      string
		requested int64
		lot       int64
		executed  int64
		filled    int64
		status    model.OrderStatus
	}{
		{"whole lots", 20, 10, 2, 20, model.OrderFilled},
		{"rounded down to one lot", 15, 10, 1, 10, model.OrderPartial},
		{"nothing executed", 15, 10, 0, 0, model.OrderRejected},
		{"single share lot", 7, 1, 7, 7, model.OrderFilled},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			filled, status := lotFill(tt.requested, tt.lot, tt.executed)
			assert.Equal(t, tt.filled, filled)
			assert.Equal(t, tt.status, status)
		})
	}
}
