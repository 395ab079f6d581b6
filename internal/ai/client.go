package ai

import (
	"context"
	"errors"
	"fmt"
	"time"

	openai "github.com/sashabaranov/go-openai"
	"golang.org/x/time/rate"

	"github.com/MintTrader/MinTrader/internal/config"
	"github.com/MintTrader/MinTrader/internal/logger"
	"github.com/MintTrader/MinTrader/internal/retry"
)

// Client talks to any OpenAI-compatible chat endpoint (OpenAI, DeepSeek, Ollama).
type Client struct {
	client  *openai.Client
	model   string
	timeout time.Duration
	limiter *rate.Limiter
	logger  *logger.Logger
}

func NewClient(cfg *config.Config, log *logger.Logger) *Client {
	ocfg := openai.DefaultConfig(cfg.AI.APIKey)
	if cfg.AI.BaseURL != "" {
		ocfg.BaseURL = cfg.AI.BaseURL
	}

	perSecond := float64(cfg.AI.RequestsPerMinute) / 60
	return &Client{
		client:  openai.NewClientWithConfig(ocfg),
		model:   cfg.AI.Model,
		timeout: cfg.AITimeout(),
		limiter: rate.NewLimiter(rate.Limit(perSecond), 1),
		logger:  log.With("provider", cfg.AI.Provider, "model", cfg.AI.Model),
	}
}

// Complete sends one system+user exchange and returns the raw assistant text.
func (c *Client) Complete(ctx context.Context, system, user string) (string, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return "", fmt.Errorf("wait rate limiter: %w", err)
	}

	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	start := time.Now()
	resp, err := c.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model: c.model,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleSystem, Content: system},
			{Role: openai.ChatMessageRoleUser, Content: user},
		},
		Temperature: 0.2,
	})
	if err != nil {
		return "", fmt.Errorf("chat completion: %w", classify(err))
	}

	if len(resp.Choices) == 0 {
		return "", retry.MarkTransient(fmt.Errorf("model returned no choices"))
	}

	raw := resp.Choices[0].Message.Content
	c.logger.Debug("AI response", "length", len(raw), "elapsed", time.Since(start))
	return raw, nil
}

// Ask completes the exchange and parses the reply.
func (c *Client) Ask(ctx context.Context, system, user string) (*Reply, error) {
	raw, err := c.Complete(ctx, system, user)
	if err != nil {
		return nil, err
	}
	reply, err := ParseReply(raw)
	if err != nil {
		// malformed output is usually a one-off; let the caller retry
		return nil, retry.MarkTransient(fmt.Errorf("parse AI response: %w", err))
	}
	return reply, nil
}

// classify marks rate limits, server errors and timeouts as transient.
func classify(err error) error {
	var apiErr *openai.APIError
	if errors.As(err, &apiErr) {
		if apiErr.HTTPStatusCode == 429 || apiErr.HTTPStatusCode >= 500 {
			return retry.MarkTransient(err)
		}
		return err
	}
	var reqErr *openai.RequestError
	if errors.As(err, &reqErr) {
		if reqErr.HTTPStatusCode == 429 || reqErr.HTTPStatusCode >= 500 {
			return retry.MarkTransient(err)
		}
		return err
	}
	return err
}
