package broker

import (
	"context"
	"fmt"
	"sync"

	"github.com/shopspring/decimal"

	"github.com/MintTrader/MinTrader/internal/logger"
	"github.com/MintTrader/MinTrader/internal/model"
)

// Quoter supplies the fill price for paper orders.
type Quoter interface {
	Quote(ctx context.Context, symbol string) (decimal.Decimal, error)
}

// PaperBroker fills market orders in full at the quoted price. Orders are
// deduplicated on ClientOrderID like the real venue.
type PaperBroker struct {
	quoter Quoter
	log    *logger.Logger

	mu          sync.Mutex
	orders      map[string]OrderResult
	positions   map[string]Position
	seq         int
	submissions int
}

func NewPaperBroker(quoter Quoter, log *logger.Logger) *PaperBroker {
	return &PaperBroker{
		quoter:    quoter,
		log:       log,
		orders:    make(map[string]OrderResult),
		positions: make(map[string]Position),
	}
}

// Seed loads holdings, typically from the persisted portfolio.
func (p *PaperBroker) Seed(positions map[string]model.Position) {
	p.mu.Lock()
	defer p.mu.Unlock()
	for sym, pos := range positions {
		p.positions[sym] = Position{Symbol: sym, Quantity: pos.Quantity, AvgPrice: pos.AverageCost}
	}
}

func (p *PaperBroker) SubmitOrder(ctx context.Context, req OrderRequest) (*OrderResult, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	p.mu.Lock()
	if prev, ok := p.orders[req.ClientOrderID]; ok {
		p.mu.Unlock()
		p.log.Info("paper order deduplicated", "symbol", req.Symbol, "client_order_id", req.ClientOrderID)
		return &prev, nil
	}
	p.mu.Unlock()

	price, err := p.quoter.Quote(ctx, req.Symbol)
	if err != nil {
		return nil, fmt.Errorf("quote %s: %w", req.Symbol, err)
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	// a concurrent submit may have won while quoting
	if prev, ok := p.orders[req.ClientOrderID]; ok {
		return &prev, nil
	}

	p.seq++
	p.submissions++
	result := OrderResult{
		Status:         model.OrderFilled,
		FilledQuantity: req.Quantity,
		AvgPrice:       price,
		BrokerOrderID:  fmt.Sprintf("paper-%d", p.seq),
	}
	if req.Quantity <= 0 || !price.IsPositive() {
		result.Status = model.OrderRejected
		result.FilledQuantity = 0
		result.Reason = "no price or zero quantity"
	}
	p.orders[req.ClientOrderID] = result

	if result.FilledQuantity > 0 {
		p.applyFill(req.Symbol, req.Side, result.FilledQuantity, price)
	}

	p.log.Info("paper order filled",
		"symbol", req.Symbol,
		"side", req.Side,
		"quantity", result.FilledQuantity,
		"price", price.StringFixed(2),
		"client_order_id", req.ClientOrderID)

	return &result, nil
}

func (p *PaperBroker) applyFill(symbol string, side model.OrderSide, qty int64, price decimal.Decimal) {
	pos := p.positions[symbol]
	pos.Symbol = symbol
	if side == model.SideBuy {
		cost := pos.AvgPrice.Mul(decimal.NewFromInt(pos.Quantity)).Add(price.Mul(decimal.NewFromInt(qty)))
		pos.Quantity += qty
		pos.AvgPrice = cost.Div(decimal.NewFromInt(pos.Quantity))
	} else {
		pos.Quantity -= qty
	}
	if pos.Quantity <= 0 {
		delete(p.positions, symbol)
		return
	}
	p.positions[symbol] = pos
}

func (p *PaperBroker) Positions(ctx context.Context) ([]Position, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	p.mu.Lock()
	defer p.mu.Unlock()

	out := make([]Position, 0, len(p.positions))
	for _, pos := range p.positions {
		out = append(out, pos)
	}
	return out, nil
}

// Submissions counts orders that reached the book, excluding deduplicated resubmits.
func (p *PaperBroker) Submissions() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.submissions
}
