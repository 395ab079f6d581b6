// Package broker submits orders to an execution venue.
package broker

import (
	"context"

	"github.com/shopspring/decimal"

	"github.com/MintTrader/MinTrader/internal/model"
)

// OrderRequest is a market order sized in shares. ClientOrderID is the idempotency key:
// resubmitting the same id must not create a second order.
type OrderRequest struct {
	Symbol        string
	Side          model.OrderSide
	Quantity      int64
	ClientOrderID string
}

type OrderResult struct {
	Status         model.OrderStatus
	FilledQuantity int64
	AvgPrice       decimal.Decimal
	BrokerOrderID  string
	Reason         string
}

// Position is the broker's view of a holding, in shares.
type Position struct {
	Symbol   string
	Quantity int64
	AvgPrice decimal.Decimal
}

type Broker interface {
	SubmitOrder(ctx context.Context, req OrderRequest) (*OrderResult, error)
	Positions(ctx context.Context) ([]Position, error)
}

// statusFromFill derives the order status from requested and filled quantity.
func statusFromFill(requested, filled int64) model.OrderStatus {
	switch {
	case filled <= 0:
		return model.OrderRejected
	case filled < requested:
		return model.OrderPartial
	default:
		return model.OrderFilled
	}
}
