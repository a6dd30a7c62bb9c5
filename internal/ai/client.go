package ai

import (
	"context"
	"fmt"
	"time"
)

type ClientConfig struct {
	Model   string
	Timeout int
}

// Client binds a generation provider to a model and a per-call timeout.
// There is no mid-call cancellation beyond the timeout: once issued, a
// generation runs to completion or deadline.
type Client struct {
	provider IGenProvider
	cfg      ClientConfig
}

func NewClient(provider IGenProvider, cfg ClientConfig) *Client {
	return &Client{provider: provider, cfg: cfg}
}

func (c *Client) Chat(ctx context.Context, system string, msgs []ChatMessage, opts GenOptions) (*GenResult, error) {
	if c.provider == nil {
		return nil, ErrUnavailable
	}
	if len(msgs) == 0 {
		return nil, fmt.Errorf("no messages to send")
	}
	if c.cfg.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, time.Duration(c.cfg.Timeout)*time.Second)
		defer cancel()
	}
	return c.provider.Chat(ctx, c.cfg.Model, system, msgs, opts)
}
