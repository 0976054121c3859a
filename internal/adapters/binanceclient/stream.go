package binanceclient

import (
	"context"
	"fmt"
	"sync"
	"time"

	"altBarsBot/internal/domain"
	"altBarsBot/internal/ports"

	"github.com/adshao/go-binance/v2/futures"
	"github.com/jpillora/backoff"
)

const maxReconnectDelay = time.Minute

// StreamTrades subscribes to aggregate trades for every symbol, one WebSocket per symbol.
// Each connection is re-established with exponential backoff until ctx is cancelled or the
// attempts are exhausted. The returned channel closes when every connection loop has exited.
func (c *Client) StreamTrades(ctx context.Context, symbols []string, handler func(tick domain.Tick), errHandler func(err error)) (<-chan struct{}, error) {
	if len(symbols) == 0 {
		return nil, fmt.Errorf("StreamTrades: %w: no symbols given", ports.ErrInvalidRequest)
	}
	if handler == nil || errHandler == nil {
		return nil, fmt.Errorf("StreamTrades: %w: handler and errHandler are required", ports.ErrInvalidRequest)
	}

	var wg sync.WaitGroup
	for _, symbol := range symbols {
		wg.Add(1)
		go func(symbol string) {
			defer wg.Done()
			c.streamSymbol(ctx, symbol, handler, errHandler)
		}(symbol)
	}

	doneCh := make(chan struct{})
	go func() {
		wg.Wait()
		c.logger.Info(ctx, "StreamTrades: All trade streams stopped, closing done channel.", map[string]interface{}{"symbols": symbols})
		close(doneCh)
	}()
	return doneCh, nil
}

// newReconnectBackoff doubles the wait after each failed attempt, starting at base.
func newReconnectBackoff(base time.Duration) *backoff.Backoff {
	return &backoff.Backoff{Min: base, Max: maxReconnectDelay, Factor: 2}
}

func (c *Client) streamSymbol(ctx context.Context, symbol string, handler func(tick domain.Tick), errHandler func(err error)) {
	op := "StreamTrades"
	fields := map[string]interface{}{"symbol": symbol}

	binanceHandler := func(event *futures.WsAggTradeEvent) {
		tick, err := translateAggTrade(event, c.lotSize)
		if err != nil {
			c.logger.Error(ctx, err, op+": Failed to translate aggregate trade event", fields)
			return
		}
		handler(tick)
	}

	binanceErrHandler := func(err error) {
		translatedErr := c.handleError(ctx, err, op+" WebSocket")
		c.logger.Warn(ctx, op+": WebSocket error reported", map[string]interface{}{"symbol": symbol, "error": translatedErr})
		errHandler(translatedErr)
	}

	retry := newReconnectBackoff(c.reconnectDelay)
	for {
		if ctx.Err() != nil {
			c.logger.Info(ctx, op+": Context cancelled, stopping connection attempts.", fields)
			return
		}

		c.logger.Info(ctx, op+": Attempting WebSocket connection...", map[string]interface{}{"symbol": symbol, "attempt": int(retry.Attempt()) + 1})
		innerDoneCh, innerStopCh, connectErr := futures.WsAggTradeServe(symbol, binanceHandler, binanceErrHandler)
		if connectErr != nil {
			err := c.handleError(ctx, connectErr, op+" connection attempt")
			if int(retry.Attempt())+1 >= c.maxReconnectAttempts {
				c.logger.Error(ctx, connectErr, op+": Max reconnection attempts exceeded, giving up.", map[string]interface{}{"symbol": symbol, "maxAttempts": c.maxReconnectAttempts})
				errHandler(err)
				return
			}

			delay := retry.Duration()
			c.logger.Info(ctx, op+": Connection failed, retrying...", map[string]interface{}{"symbol": symbol, "attempt": int(retry.Attempt()) + 1, "delay": delay.String()})
			select {
			case <-time.After(delay):
				continue
			case <-ctx.Done():
				c.logger.Info(ctx, op+": Context cancelled during backoff.", fields)
				return
			}
		}

		c.logger.Info(ctx, op+": WebSocket connection established.", fields)
		retry.Reset()

		select {
		case <-innerDoneCh:
			c.logger.Warn(ctx, op+": WebSocket connection closed unexpectedly. Reconnecting...", fields)
		case <-ctx.Done():
			c.logger.Info(ctx, op+": Context cancelled, stopping WebSocket.", fields)
			close(innerStopCh)
			<-innerDoneCh
			return
		}
	}
}
