package broker

import (
	"context"
	"fmt"

	"github.com/russianinvestments/invest-api-go-sdk/investgo"
	pb "github.com/russianinvestments/invest-api-go-sdk/proto"
	"github.com/shopspring/decimal"

	"github.com/MintTrader/MinTrader/internal/model"
)

// SubmitOrder places a market order. Shares are converted to whole lots; the client
// order id is sent as the API order_id, which the exchange gateway deduplicates.
func (tc *TinkoffClient) SubmitOrder(ctx context.Context, req OrderRequest) (*OrderResult, error) {
	inst, err := callWithContext(ctx, func() (Instrument, error) {
		return tc.ResolveInstrument(req.Symbol)
	})
	if err != nil {
		return nil, err
	}

	lots := req.Quantity / inst.Lot
	if lots <= 0 {
		return &OrderResult{
			Status: model.OrderRejected,
			Reason: fmt.Sprintf("quantity %d below lot size %d", req.Quantity, inst.Lot),
		}, nil
	}

	direction := pb.OrderDirection_ORDER_DIRECTION_BUY
	if req.Side == model.SideSell {
		direction = pb.OrderDirection_ORDER_DIRECTION_SELL
	}

	resp, err := callWithContext(ctx, func() (*investgo.PostOrderResponse, error) {
		return tc.postOrder(inst.UID, lots, direction, req.ClientOrderID)
	})
	if err != nil {
		return nil, fmt.Errorf("%s order %s: %w", req.Side, req.Symbol, err)
	}

	filled, status := lotFill(req.Quantity, inst.Lot, resp.GetLotsExecuted())
	result := &OrderResult{
		BrokerOrderID:  resp.GetOrderId(),
		FilledQuantity: filled,
		Status:         status,
	}
	if ep := resp.GetExecutedOrderPrice(); ep != nil {
		result.AvgPrice = decimal.NewFromFloat(ep.ToFloat())
	}

	switch resp.GetExecutionReportStatus() {
	case pb.OrderExecutionReportStatus_EXECUTION_REPORT_STATUS_NEW:
		if filled == 0 {
			result.Status = model.OrderPending
		}
	case pb.OrderExecutionReportStatus_EXECUTION_REPORT_STATUS_REJECTED,
		pb.OrderExecutionReportStatus_EXECUTION_REPORT_STATUS_CANCELLED:
		if filled == 0 {
			result.Reason = resp.GetExecutionReportStatus().String()
		}
	}

	tc.Logger.Info("order submitted",
		"symbol", req.Symbol,
		"side", req.Side,
		"lots", lots,
		"filled", filled,
		"status", result.Status,
		"client_order_id", req.ClientOrderID)

	return result, nil
}

// lotFill converts executed lots to shares and grades them against the shares
// requested, so an order rounded down to whole lots reports partial.
func lotFill(requested, lot, lotsExecuted int64) (int64, model.OrderStatus) {
	filled := lotsExecuted * lot
	return filled, statusFromFill(requested, filled)
}

func (tc *TinkoffClient) postOrder(uid string, lots int64, direction pb.OrderDirection, orderID string) (*investgo.PostOrderResponse, error) {
	req := &investgo.PostOrderRequestShort{
		InstrumentId: uid,
		Quantity:     lots,
		AccountId:    tc.AccountID(),
		OrderType:    pb.OrderType_ORDER_TYPE_MARKET,
		OrderId:      orderID,
	}

	if tc.Config.IsSandbox() {
		sandbox := tc.Client.NewSandboxServiceClient()
		return sandbox.PostSandboxOrder(&investgo.PostOrderRequest{
			InstrumentId: req.InstrumentId,
			Quantity:     req.Quantity,
			Direction:    direction,
			AccountId:    req.AccountId,
			OrderType:    req.OrderType,
			OrderId:      req.OrderId,
		})
	}

	orders := tc.Client.NewOrdersServiceClient()
	if direction == pb.OrderDirection_ORDER_DIRECTION_SELL {
		return orders.Sell(req)
	}
	return orders.Buy(req)
}
