package binanceclient

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"altBarsBot/internal/domain"
	"altBarsBot/internal/metrics"
	"altBarsBot/internal/ports"

	"github.com/adshao/go-binance/v2/common"
	"github.com/adshao/go-binance/v2/futures"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

const (
	// Base URLs
	baseURLProduction = "https://fapi.binance.com"
	baseURLTestnet    = "https://testnet.binancefuture.com"
)

// Client implements ports.BrokerGateway, ports.MarketDataClient and ports.TickSource
// for Binance USD-M futures.
type Client struct {
	futuresClient        *futures.Client
	logger               ports.Logger
	reconnectDelay       time.Duration
	maxReconnectAttempts int
	lotSize              decimal.Decimal
	sessionOpen          time.Duration
	sessionClose         time.Duration
}

// Config holds configuration specific to the Binance client adapter.
type Config struct {
	APIKey               string
	SecretKey            string
	UseTestnet           bool
	Logger               ports.Logger
	ReconnectDelay       time.Duration // Reconnect delay (e.g., 1 * time.Second)
	MaxReconnectAttempts int           // Max attempts before giving up
	LotSize              float64       // Contract quantity of one integer unit, e.g. 0.001
	SessionOpen          time.Duration // Daily session start as an offset from UTC midnight
	SessionClose         time.Duration // Daily session end; equal to SessionOpen for a 24h session
}

// New creates a new Binance client adapter.
func New(cfg Config) (*Client, error) {
	if cfg.Logger == nil {
		return nil, fmt.Errorf("%w: logger is required for Binance client", ports.ErrConfiguration)
	}
	if cfg.LotSize <= 0 {
		return nil, fmt.Errorf("%w: lot size must be positive, got %v", ports.ErrConfiguration, cfg.LotSize)
	}
	if cfg.SessionOpen < 0 || cfg.SessionOpen >= 24*time.Hour || cfg.SessionClose < 0 || cfg.SessionClose >= 24*time.Hour {
		return nil, fmt.Errorf("%w: session times must fall within one day", ports.ErrConfiguration)
	}
	if cfg.APIKey == "" || cfg.SecretKey == "" {
		cfg.Logger.Warn(context.Background(), "APIKey or SecretKey is empty. Client will only work for public endpoints.")
	}

	client := futures.NewClient(cfg.APIKey, cfg.SecretKey)

	// Set BaseURL directly instead of using global futures.UseTestnet
	if cfg.UseTestnet {
		client.BaseURL = baseURLTestnet
		cfg.Logger.Info(context.Background(), "Binance client configured for Testnet", map[string]interface{}{"baseURL": client.BaseURL})
	} else {
		client.BaseURL = baseURLProduction
		cfg.Logger.Info(context.Background(), "Binance client configured for Production", map[string]interface{}{"baseURL": client.BaseURL})
	}

	// Default reconnect settings if not provided
	reconnectDelay := cfg.ReconnectDelay
	if reconnectDelay <= 0 {
		reconnectDelay = 1 * time.Second
	}
	maxAttempts := cfg.MaxReconnectAttempts
	if maxAttempts <= 0 {
		maxAttempts = 10
	}

	return &Client{
		futuresClient:        client,
		logger:               cfg.Logger,
		reconnectDelay:       reconnectDelay,
		maxReconnectAttempts: maxAttempts,
		lotSize:              decimal.NewFromFloat(cfg.LotSize),
		sessionOpen:          cfg.SessionOpen,
		sessionClose:         cfg.SessionClose,
	}, nil
}

// mapAPIError maps Binance API error codes to ports errors.
func mapAPIError(code int64) error {
	switch code {
	case -1003: // Too many requests
		return ports.ErrRateLimited
	case -1021: // Timestamp for this request is outside of the recvWindow
		return ports.ErrTimeout
	case -1022, -2014, -2015: // Bad signature, API-key format, key/IP/permissions
		return ports.ErrAuthenticationFailed
	case -1101, -1102, -1103, -1104, -1105, -1106, -1111, -1115, -1116, -1117, -1120, -1121, -1125, -1127, -1128, -1130, -4003, -4014, -4015:
		return ports.ErrInvalidRequest
	case -2010, -2022: // New order rejected, ReduceOnly order rejected
		return ports.ErrOrderPlacementFailed
	case -2011: // Cancel rejected: the order already reached a final state
		return ports.ErrOrderNotCancelable
	case -2013: // Order does not exist
		return ports.ErrOrderNotFound
	case -2019, -3005, -3041, -4047: // Margin or balance insufficient
		return ports.ErrInsufficientFunds
	case -4044: // Position not found
		return ports.ErrPositionNotFound
	default:
		return ports.ErrUnknown
	}
}

// handleError translates common Binance API errors into standardized ports errors.
func (c *Client) handleError(ctx context.Context, err error, operation string) error {
	if err == nil {
		return nil
	}
	metrics.BrokerErrorsTotal.WithLabelValues(operation).Inc()

	fields := map[string]interface{}{"operation": operation, "originalError": err.Error()}

	var apiErr *common.APIError
	if errors.As(err, &apiErr) {
		fields["apiErrorCode"] = apiErr.Code
		fields["apiErrorMessage"] = apiErr.Message
		finalErr := fmt.Errorf("%s failed: %w: %w", operation, mapAPIError(apiErr.Code), err)
		c.logger.Error(ctx, err, fmt.Sprintf("%s failed with API error", operation), fields)
		return finalErr
	}

	// Handle non-API errors (network, context cancellation, etc.)
	var finalErr error
	if errors.Is(err, context.DeadlineExceeded) {
		finalErr = fmt.Errorf("%s failed: %w: %w", operation, ports.ErrTimeout, err)
	} else if errors.Is(err, context.Canceled) {
		finalErr = fmt.Errorf("%s operation canceled: %w: %w", operation, ports.ErrContextCanceled, err)
	} else if strings.Contains(err.Error(), "use of closed network connection") ||
		strings.Contains(err.Error(), "connection refused") ||
		strings.Contains(err.Error(), "connection reset by peer") {
		finalErr = fmt.Errorf("%s failed: %w: %w", operation, ports.ErrConnectionFailed, err)
	} else {
		finalErr = fmt.Errorf("%s failed: %w: %w", operation, ports.ErrUnknown, err)
	}

	c.logger.Error(ctx, err, fmt.Sprintf("%s failed", operation), fields)
	return finalErr
}

// GetServerTime returns the exchange clock.
func (c *Client) GetServerTime(ctx context.Context) (time.Time, error) {
	op := "GetServerTime"
	serverTimeMs, err := c.futuresClient.NewServerTimeService().Do(ctx)
	if err != nil {
		return time.Time{}, c.handleError(ctx, err, op)
	}
	return time.UnixMilli(serverTimeMs).UTC(), nil
}

// GetClock derives the session state from the exchange time and the configured daily session.
func (c *Client) GetClock(ctx context.Context) (*domain.Clock, error) {
	now, err := c.GetServerTime(ctx)
	if err != nil {
		return nil, err
	}
	clock := sessionClock(now, c.sessionOpen, c.sessionClose)
	return &clock, nil
}

// GetPosition returns the open position for symbol in lots.
func (c *Client) GetPosition(ctx context.Context, symbol string) (*domain.Position, error) {
	op := "GetPosition"
	positions, err := c.futuresClient.NewGetPositionRiskService().Symbol(symbol).Do(ctx)
	if err != nil {
		return nil, c.handleError(ctx, err, op)
	}
	for _, p := range positions {
		pos, err := translatePosition(p, c.lotSize)
		if err != nil {
			return nil, c.handleError(ctx, err, op)
		}
		if pos != nil {
			return pos, nil
		}
	}
	c.logger.Debug(ctx, op+": No position found for symbol", map[string]interface{}{"symbol": symbol})
	return nil, fmt.Errorf("%s %s: %w", op, symbol, ports.ErrPositionNotFound)
}

// SubmitOrder places a market order for qty lots.
func (c *Client) SubmitOrder(ctx context.Context, symbol string, qty int64, side domain.OrderSide) (*domain.Order, error) {
	op := "SubmitOrder"
	quantity := decimal.NewFromInt(qty).Mul(c.lotSize).String()
	clientID := uuid.NewString()

	order, err := c.futuresClient.NewCreateOrderService().
		Symbol(symbol).
		Side(futures.SideType(side)).
		Type(futures.OrderTypeMarket).
		Quantity(quantity).
		NewClientOrderID(clientID).
		Do(ctx)
	if err != nil {
		return nil, c.handleError(ctx, err, op)
	}

	resp := translateCreateOrder(order, qty)
	c.logger.Info(ctx, op+" successful", map[string]interface{}{"symbol": symbol, "side": side, "quantity": quantity, "orderID": resp.ID, "status": resp.Status})
	return resp, nil
}

// GetOrder returns the current state of an order.
func (c *Client) GetOrder(ctx context.Context, symbol, orderID string) (*domain.Order, error) {
	op := "GetOrder"
	id, err := strconv.ParseInt(orderID, 10, 64)
	if err != nil {
		return nil, fmt.Errorf("%s: %w: order id %q: %w", op, ports.ErrInvalidRequest, orderID, err)
	}
	order, err := c.futuresClient.NewGetOrderService().Symbol(symbol).OrderID(id).Do(ctx)
	if err != nil {
		return nil, c.handleError(ctx, err, op)
	}
	return translateOrder(order, c.lotSize), nil
}

// CancelOrder cancels an open order.
func (c *Client) CancelOrder(ctx context.Context, symbol, orderID string) error {
	op := "CancelOrder"
	id, err := strconv.ParseInt(orderID, 10, 64)
	if err != nil {
		return fmt.Errorf("%s: %w: order id %q: %w", op, ports.ErrInvalidRequest, orderID, err)
	}
	c.logger.Debug(ctx, "Attempting to cancel order", map[string]interface{}{"symbol": symbol, "orderID": orderID})

	res, err := c.futuresClient.NewCancelOrderService().Symbol(symbol).OrderID(id).Do(ctx)
	if err != nil {
		return c.handleError(ctx, err, op)
	}
	c.logger.Info(ctx, op+" successful", map[string]interface{}{"symbol": symbol, "orderID": orderID, "status": res.Status})
	return nil
}

// CancelOpenOrders cancels every open order for symbol.
func (c *Client) CancelOpenOrders(ctx context.Context, symbol string) error {
	op := "CancelOpenOrders"
	if err := c.futuresClient.NewCancelAllOpenOrdersService().Symbol(symbol).Do(ctx); err != nil {
		return c.handleError(ctx, err, op)
	}
	c.logger.Info(ctx, op+" successful", map[string]interface{}{"symbol": symbol})
	return nil
}

// ClosePosition flattens the position with a reduce-only market order on the opposite side.
func (c *Client) ClosePosition(ctx context.Context, symbol string) error {
	op := "ClosePosition"
	positions, err := c.futuresClient.NewGetPositionRiskService().Symbol(symbol).Do(ctx)
	if err != nil {
		return c.handleError(ctx, err, op)
	}

	var amount decimal.Decimal
	for _, p := range positions {
		amt, err := decimal.NewFromString(p.PositionAmt)
		if err != nil {
			return c.handleError(ctx, fmt.Errorf("could not parse position amount '%s': %w", p.PositionAmt, err), op)
		}
		if !amt.IsZero() {
			amount = amt
			break
		}
	}
	if amount.IsZero() {
		return fmt.Errorf("%s %s: %w", op, symbol, ports.ErrPositionNotFound)
	}

	side := futures.SideTypeSell
	if amount.IsNegative() {
		side = futures.SideTypeBuy
	}
	order, err := c.futuresClient.NewCreateOrderService().
		Symbol(symbol).
		Side(side).
		Type(futures.OrderTypeMarket).
		Quantity(amount.Abs().String()).
		ReduceOnly(true).
		NewClientOrderID(uuid.NewString()).
		Do(ctx)
	if err != nil {
		return c.handleError(ctx, err, op)
	}
	c.logger.Info(ctx, op+" successful", map[string]interface{}{"symbol": symbol, "side": side, "quantity": amount.Abs().String(), "orderID": order.OrderID})
	return nil
}

// GetDailyBars returns the last days completed daily klines, oldest first, with volume in lots.
func (c *Client) GetDailyBars(ctx context.Context, symbol string, days int) ([]domain.DailyBar, error) {
	op := "GetDailyBars"
	if days <= 0 {
		return nil, fmt.Errorf("%s: %w: days must be positive, got %d", op, ports.ErrInvalidRequest, days)
	}
	klines, err := c.futuresClient.NewKlinesService().Symbol(symbol).Interval("1d").Limit(days + 1).Do(ctx)
	if err != nil {
		return nil, c.handleError(ctx, err, op)
	}
	klines = completedKlines(klines, time.Now(), days)

	out := make([]domain.DailyBar, 0, len(klines))
	for _, k := range klines {
		day, err := translateDailyKline(k, c.lotSize)
		if err != nil {
			return nil, c.handleError(ctx, fmt.Errorf("failed to translate daily kline: %w", err), op)
		}
		out = append(out, day)
	}
	return out, nil
}
