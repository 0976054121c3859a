package ports

import (
	"context"

	"altBarsBot/internal/domain"
)

// BrokerGateway defines the order and account operations the strategy needs from a broker.
// Every call is a blocking round-trip; timeouts and retries are the adapter's concern.
type BrokerGateway interface {
	// GetPosition returns the open position for symbol, or ErrPositionNotFound.
	GetPosition(ctx context.Context, symbol string) (*domain.Position, error)

	// SubmitOrder places a market order for qty units.
	SubmitOrder(ctx context.Context, symbol string, qty int64, side domain.OrderSide) (*domain.Order, error)

	// GetOrder returns the current state of an order, or ErrOrderNotFound.
	GetOrder(ctx context.Context, symbol, orderID string) (*domain.Order, error)

	// CancelOrder cancels an open order.
	// Returns ErrOrderNotFound if it does not exist and ErrOrderNotCancelable if it already reached a final state.
	CancelOrder(ctx context.Context, symbol, orderID string) error

	// CancelOpenOrders cancels every open order for symbol.
	CancelOpenOrders(ctx context.Context, symbol string) error

	// ClosePosition liquidates the whole position for symbol at market, or returns ErrPositionNotFound.
	ClosePosition(ctx context.Context, symbol string) error

	// GetClock returns the trading session state.
	GetClock(ctx context.Context) (*domain.Clock, error)
}

// MarketDataClient serves historical market statistics.
type MarketDataClient interface {
	// GetDailyBars returns up to days daily summaries for symbol, oldest first.
	GetDailyBars(ctx context.Context, symbol string, days int) ([]domain.DailyBar, error)
}

// TickSource streams live trade prints.
type TickSource interface {
	// StreamTrades subscribes to trades for symbols and calls handler for every print.
	// The returned channel is closed once the stream has stopped for good.
	StreamTrades(ctx context.Context, symbols []string, handler func(tick domain.Tick), errHandler func(err error)) (doneCh <-chan struct{}, err error)
}
