package fetch

import (
	"context"
	"fmt"

	"go.uber.org/zap"
)

// Chain tries strategies in order, returning the first success. Per-strategy
// failures are logged and swallowed; the last error is returned only when
// every strategy fails.
type Chain struct {
	strategies []Strategy
	logger     *zap.Logger
}

// NewChain creates a Chain over the given strategies. Order matters: the
// first strategy is the preferred one.
func NewChain(logger *zap.Logger, strategies ...Strategy) *Chain {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Chain{strategies: strategies, logger: logger}
}

// Len reports how many strategies the chain holds.
func (c *Chain) Len() int {
	return len(c.strategies)
}

// Fetch iterates the strategies until one succeeds.
func (c *Chain) Fetch(ctx context.Context, req Request) (Result, error) {
	if len(c.strategies) == 0 {
		return Result{}, fmt.Errorf("no fetch strategies configured")
	}
	var lastErr error
	for _, s := range c.strategies {
		res, err := s.Fetch(ctx, req)
		if err == nil {
			return res, nil
		}
		lastErr = err
		if ctx.Err() != nil {
			return Result{}, lastErr
		}
		c.logger.Debug("fetch strategy failed, trying next",
			zap.String("strategy", s.Name()),
			zap.Int("page", req.Page),
			zap.Error(err),
		)
	}
	return Result{}, lastErr
}
