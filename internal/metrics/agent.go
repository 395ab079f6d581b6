package metrics

import (
	"context"
	"time"

	"github.com/MintTrader/MinTrader/internal/agent"
)

// Instrument wraps an agent so every call is counted and timed under its role.
func Instrument(a agent.Agent) agent.Agent {
	return agent.Func(func(ctx context.Context, req agent.Request) (agent.Response, error) {
		start := time.Now()
		resp, err := a.Invoke(ctx, req)
		RecordAgentCall(string(req.Role), time.Since(start), err)
		return resp, err
	})
}
