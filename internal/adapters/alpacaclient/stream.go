package alpacaclient

import (
	"context"
	"errors"
	"fmt"

	"altBarsBot/internal/domain"
	"altBarsBot/internal/ports"

	"github.com/alpacahq/alpaca-trade-api-go/v3/marketdata/stream"
)

// StreamTrades subscribes to trade prints for symbols over a single stocks stream.
// The SDK reconnects on its own; the returned channel closes once it terminates for good.
func (c *Client) StreamTrades(ctx context.Context, symbols []string, handler func(tick domain.Tick), errHandler func(err error)) (<-chan struct{}, error) {
	op := "StreamTrades"
	if len(symbols) == 0 {
		return nil, fmt.Errorf("%s: %w: no symbols given", op, ports.ErrInvalidRequest)
	}
	if handler == nil || errHandler == nil {
		return nil, fmt.Errorf("%s: %w: handler and errHandler are required", op, ports.ErrInvalidRequest)
	}

	client := stream.NewStocksClient(c.feed,
		stream.WithCredentials(c.apiKey, c.apiSecret),
		stream.WithReconnectSettings(c.maxReconnectAttempts, c.reconnectDelay),
		stream.WithTrades(func(t stream.Trade) { handler(translateTrade(t)) }, symbols...),
	)

	c.logger.Info(ctx, op+": Connecting trade stream...", map[string]interface{}{"symbols": symbols, "feed": c.feed})
	if err := client.Connect(ctx); err != nil {
		return nil, c.handleError(ctx, fmt.Errorf("%w: %w", ports.ErrConnectionFailed, err), op, ports.ErrNotFound)
	}
	c.logger.Info(ctx, op+": Trade stream established.", map[string]interface{}{"symbols": symbols})

	doneCh := make(chan struct{})
	go func() {
		defer close(doneCh)
		err := <-client.Terminated()
		if err != nil && !errors.Is(err, context.Canceled) && ctx.Err() == nil {
			errHandler(c.handleError(ctx, fmt.Errorf("%w: %w", ports.ErrConnectionFailed, err), op+" WebSocket", ports.ErrNotFound))
			return
		}
		c.logger.Info(ctx, op+": Trade stream stopped.", map[string]interface{}{"symbols": symbols})
	}()
	return doneCh, nil
}
