package agent

import (
	"context"
	"fmt"

	"github.com/MintTrader/MinTrader/internal/ai"
	"github.com/MintTrader/MinTrader/internal/logger"
	"github.com/MintTrader/MinTrader/internal/model"
)

// Completer is the part of ai.Client the LLM agent needs.
type Completer interface {
	Ask(ctx context.Context, system, user string) (*ai.Reply, error)
}

// LLMAgent serves every role through one chat model, switching the system prompt per role.
type LLMAgent struct {
	client Completer
	logger *logger.Logger
}

func NewLLMAgent(client Completer, log *logger.Logger) *LLMAgent {
	return &LLMAgent{client: client, logger: log}
}

func (a *LLMAgent) Invoke(ctx context.Context, req Request) (Response, error) {
	system, err := ai.SystemPrompt(string(req.Role))
	if err != nil {
		return Response{}, err
	}

	user := ai.BuildUserPrompt(ai.PromptInput{
		Role:      string(req.Role),
		Symbol:    req.Symbol,
		Snapshot:  req.Snapshot,
		Reports:   req.Reports,
		Turns:     req.Turns,
		Thesis:    req.Thesis,
		Decision:  req.Decision,
		Positions: req.Positions,
		CashShare: req.CashShare,
		Memory:    req.Memory,
	})

	reply, err := a.client.Ask(ctx, system, user)
	if err != nil {
		return Response{}, fmt.Errorf("%s on %s: %w", req.Role, req.Symbol, err)
	}

	a.logger.Debug("agent reply", "role", req.Role, "symbol", req.Symbol,
		"stance", reply.Stance, "confidence", reply.Confidence)

	return Response{
		Stance:     model.ParseStance(reply.Stance),
		Confidence: reply.Confidence,
		Argument:   reply.Argument,
		Findings:   reply.Findings,
		Quantity:   reply.Quantity,
	}, nil
}
