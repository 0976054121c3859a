// Package alpacaclient adapts the Alpaca trading, market data and streaming APIs to the ports interfaces.
package alpacaclient

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"altBarsBot/internal/domain"
	"altBarsBot/internal/metrics"
	"altBarsBot/internal/ports"

	"github.com/alpacahq/alpaca-trade-api-go/v3/alpaca"
	"github.com/alpacahq/alpaca-trade-api-go/v3/marketdata"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

const baseURLPaper = "https://paper-api.alpaca.markets"

// Client implements ports.BrokerGateway, ports.MarketDataClient and ports.TickSource for Alpaca equities.
type Client struct {
	trading              *alpaca.Client
	data                 *marketdata.Client
	apiKey               string
	apiSecret            string
	feed                 marketdata.Feed
	logger               ports.Logger
	reconnectDelay       time.Duration
	maxReconnectAttempts int
	now                  func() time.Time
}

// Config holds configuration specific to the Alpaca adapter.
type Config struct {
	APIKey               string
	SecretKey            string
	BaseURL              string // Trading endpoint; empty means paper trading
	Feed                 string // Market data feed, "iex" or "sip"
	Logger               ports.Logger
	ReconnectDelay       time.Duration
	MaxReconnectAttempts int
}

// New creates a new Alpaca adapter.
func New(cfg Config) (*Client, error) {
	if cfg.Logger == nil {
		return nil, fmt.Errorf("%w: logger is required for Alpaca client", ports.ErrConfiguration)
	}
	if cfg.APIKey == "" || cfg.SecretKey == "" {
		return nil, fmt.Errorf("%w: Alpaca API key and secret are required", ports.ErrConfiguration)
	}
	feed := marketdata.Feed(cfg.Feed)
	switch feed {
	case "":
		feed = marketdata.IEX
	case marketdata.IEX, marketdata.SIP:
	default:
		return nil, fmt.Errorf("%w: unknown market data feed %q", ports.ErrConfiguration, cfg.Feed)
	}

	baseURL := cfg.BaseURL
	if baseURL == "" {
		baseURL = baseURLPaper
	}
	cfg.Logger.Info(context.Background(), "Alpaca client configured", map[string]interface{}{"baseURL": baseURL, "feed": feed})

	reconnectDelay := cfg.ReconnectDelay
	if reconnectDelay <= 0 {
		reconnectDelay = 1 * time.Second
	}
	maxAttempts := cfg.MaxReconnectAttempts
	if maxAttempts <= 0 {
		maxAttempts = 10
	}

	return &Client{
		trading: alpaca.NewClient(alpaca.ClientOpts{
			APIKey:    cfg.APIKey,
			APISecret: cfg.SecretKey,
			BaseURL:   baseURL,
		}),
		data: marketdata.NewClient(marketdata.ClientOpts{
			APIKey:    cfg.APIKey,
			APISecret: cfg.SecretKey,
			Feed:      feed,
		}),
		apiKey:               cfg.APIKey,
		apiSecret:            cfg.SecretKey,
		feed:                 feed,
		logger:               cfg.Logger,
		reconnectDelay:       reconnectDelay,
		maxReconnectAttempts: maxAttempts,
		now:                  time.Now,
	}, nil
}

// mapStatusCode maps an Alpaca HTTP status to a ports error. notFound is the error a 404 means
// for the resource the operation addresses.
func mapStatusCode(status int, operation string, notFound error) error {
	switch {
	case status == http.StatusNotFound:
		return notFound
	case status == http.StatusUnprocessableEntity && operation == "CancelOrder":
		return ports.ErrOrderNotCancelable
	case status == http.StatusUnprocessableEntity:
		return ports.ErrInvalidRequest
	case status == http.StatusForbidden && operation == "SubmitOrder":
		return ports.ErrInsufficientFunds
	case status == http.StatusUnauthorized, status == http.StatusForbidden:
		return ports.ErrAuthenticationFailed
	case status == http.StatusTooManyRequests:
		return ports.ErrRateLimited
	case status >= http.StatusInternalServerError:
		return ports.ErrBrokerUnavailable
	default:
		return ports.ErrUnknown
	}
}

// handleError translates Alpaca API errors into standardized ports errors.
func (c *Client) handleError(ctx context.Context, err error, operation string, notFound error) error {
	if err == nil {
		return nil
	}
	metrics.BrokerErrorsTotal.WithLabelValues(operation).Inc()
	fields := map[string]interface{}{"operation": operation, "originalError": err.Error()}

	var apiErr *alpaca.APIError
	var finalErr error
	switch {
	case errors.As(err, &apiErr):
		fields["statusCode"] = apiErr.StatusCode
		fields["apiErrorMessage"] = apiErr.Message
		finalErr = fmt.Errorf("%s failed: %w: %w", operation, mapStatusCode(apiErr.StatusCode, operation, notFound), err)
	case errors.Is(err, context.DeadlineExceeded):
		finalErr = fmt.Errorf("%s failed: %w: %w", operation, ports.ErrTimeout, err)
	case errors.Is(err, context.Canceled):
		finalErr = fmt.Errorf("%s operation canceled: %w: %w", operation, ports.ErrContextCanceled, err)
	default:
		finalErr = fmt.Errorf("%s failed: %w: %w", operation, ports.ErrUnknown, err)
	}

	c.logger.Error(ctx, err, fmt.Sprintf("%s failed", operation), fields)
	return finalErr
}

// GetClock returns the exchange session state.
func (c *Client) GetClock(ctx context.Context) (*domain.Clock, error) {
	clock, err := c.trading.GetClock()
	if err != nil {
		return nil, c.handleError(ctx, err, "GetClock", ports.ErrNotFound)
	}
	return &domain.Clock{
		Timestamp: clock.Timestamp,
		IsOpen:    clock.IsOpen,
		NextOpen:  clock.NextOpen,
		NextClose: clock.NextClose,
	}, nil
}

// GetPosition returns the open position for symbol.
func (c *Client) GetPosition(ctx context.Context, symbol string) (*domain.Position, error) {
	op := "GetPosition"
	pos, err := c.trading.GetPosition(symbol)
	if err != nil {
		return nil, c.handleError(ctx, err, op, ports.ErrPositionNotFound)
	}
	out := translatePosition(pos)
	if out == nil {
		return nil, fmt.Errorf("%s %s: %w", op, symbol, ports.ErrPositionNotFound)
	}
	return out, nil
}

// SubmitOrder places a day market order for qty shares.
func (c *Client) SubmitOrder(ctx context.Context, symbol string, qty int64, side domain.OrderSide) (*domain.Order, error) {
	op := "SubmitOrder"
	quantity := decimal.NewFromInt(qty)
	order, err := c.trading.PlaceOrder(alpaca.PlaceOrderRequest{
		Symbol:        symbol,
		Qty:           &quantity,
		Side:          orderSide(side),
		Type:          alpaca.Market,
		TimeInForce:   alpaca.Day,
		ClientOrderID: uuid.NewString(),
	})
	if err != nil {
		return nil, c.handleError(ctx, err, op, ports.ErrNotFound)
	}
	out := translateOrder(order)
	c.logger.Info(ctx, op+" successful", map[string]interface{}{"symbol": symbol, "side": side, "qty": qty, "orderID": out.ID, "status": out.Status})
	return out, nil
}

// GetOrder returns the current state of an order.
func (c *Client) GetOrder(ctx context.Context, symbol, orderID string) (*domain.Order, error) {
	order, err := c.trading.GetOrder(orderID)
	if err != nil {
		return nil, c.handleError(ctx, err, "GetOrder", ports.ErrOrderNotFound)
	}
	return translateOrder(order), nil
}

// CancelOrder cancels an open order.
func (c *Client) CancelOrder(ctx context.Context, symbol, orderID string) error {
	op := "CancelOrder"
	c.logger.Debug(ctx, "Attempting to cancel order", map[string]interface{}{"symbol": symbol, "orderID": orderID})
	if err := c.trading.CancelOrder(orderID); err != nil {
		return c.handleError(ctx, err, op, ports.ErrOrderNotFound)
	}
	c.logger.Info(ctx, op+" successful", map[string]interface{}{"symbol": symbol, "orderID": orderID})
	return nil
}

// CancelOpenOrders cancels every open order for symbol.
func (c *Client) CancelOpenOrders(ctx context.Context, symbol string) error {
	op := "CancelOpenOrders"
	orders, err := c.trading.GetOrders(alpaca.GetOrdersRequest{
		Status:  "open",
		Symbols: []string{symbol},
	})
	if err != nil {
		return c.handleError(ctx, err, op, ports.ErrNotFound)
	}

	var errs []error
	for _, o := range orders {
		if err := c.CancelOrder(ctx, symbol, o.ID); err != nil &&
			!errors.Is(err, ports.ErrOrderNotFound) && !errors.Is(err, ports.ErrOrderNotCancelable) {
			errs = append(errs, err)
		}
	}
	if len(errs) > 0 {
		return fmt.Errorf("%s %s: %w", op, symbol, errors.Join(errs...))
	}
	c.logger.Info(ctx, op+" successful", map[string]interface{}{"symbol": symbol, "canceled": len(orders)})
	return nil
}

// ClosePosition liquidates the whole position at market.
func (c *Client) ClosePosition(ctx context.Context, symbol string) error {
	op := "ClosePosition"
	order, err := c.trading.ClosePosition(symbol, alpaca.ClosePositionRequest{})
	if err != nil {
		return c.handleError(ctx, err, op, ports.ErrPositionNotFound)
	}
	c.logger.Info(ctx, op+" successful", map[string]interface{}{"symbol": symbol, "orderID": order.ID})
	return nil
}

// GetDailyBars returns the last days completed daily bars for symbol, oldest first.
func (c *Client) GetDailyBars(ctx context.Context, symbol string, days int) ([]domain.DailyBar, error) {
	op := "GetDailyBars"
	if days <= 0 {
		return nil, fmt.Errorf("%s: %w: days must be positive, got %d", op, ports.ErrInvalidRequest, days)
	}
	// Completed days only: the range ends at today's UTC midnight, before today's bar.
	end := c.now().UTC().Truncate(24 * time.Hour)
	// Weekends and holidays: ask for twice the calendar span plus a week.
	start := end.AddDate(0, 0, -(2*days + 7))

	bars, err := c.data.GetBars(symbol, marketdata.GetBarsRequest{
		TimeFrame: marketdata.OneDay,
		Start:     start,
		End:       end,
	})
	if err != nil {
		return nil, c.handleError(ctx, err, op, ports.ErrNotFound)
	}
	return translateDailyBars(bars, days), nil
}
