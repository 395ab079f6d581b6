// Package agent defines the reasoning capability every pipeline role shares.
package agent

import (
	"context"
	"fmt"

	"github.com/MintTrader/MinTrader/internal/model"
)

type Role string

const (
	RoleMarketAnalyst      Role = "market_analyst"
	RoleFundamentalAnalyst Role = "fundamental_analyst"
	RoleSentimentAnalyst   Role = "sentiment_analyst"
	RoleNewsAnalyst        Role = "news_analyst"
	RoleBull               Role = "bull"
	RoleBear               Role = "bear"
	RoleTrader             Role = "trader"
	RoleRisk               Role = "risk"
)

// AnalystRole maps an analyst dimension to its role.
func AnalystRole(dim model.Dimension) (Role, error) {
	switch dim {
	case model.DimensionMarket:
		return RoleMarketAnalyst, nil
	case model.DimensionFundamental:
		return RoleFundamentalAnalyst, nil
	case model.DimensionSentiment:
		return RoleSentimentAnalyst, nil
	case model.DimensionNews:
		return RoleNewsAnalyst, nil
	default:
		return "", fmt.Errorf("unknown analyst dimension %q", dim)
	}
}

// Request carries the structured context a role is allowed to see.
type Request struct {
	Role      Role
	Symbol    string
	Snapshot  *model.Snapshot
	Reports   []model.AnalystReport
	Turns     []model.Turn
	Thesis    *model.Thesis
	Decision  *model.Decision
	Positions []model.Position
	CashShare float64
	// Memory is the symbol's last committed decision and held position.
	Memory *model.SymbolMemory
}

type Response struct {
	Stance     model.Stance
	Confidence float64
	Argument   string
	Findings   []string
	// Quantity is an optional size suggestion from the risk role.
	Quantity int64
}

type Agent interface {
	Invoke(ctx context.Context, req Request) (Response, error)
}

// Func adapts a function to Agent.
type Func func(ctx context.Context, req Request) (Response, error)

func (f Func) Invoke(ctx context.Context, req Request) (Response, error) {
	return f(ctx, req)
}

// Set resolves the agent for each role; roles without an entry fall back to Default.
type Set struct {
	Default Agent
	Roles   map[Role]Agent
}

func (s *Set) For(role Role) Agent {
	if a, ok := s.Roles[role]; ok {
		return a
	}
	return s.Default
}
