package alpacaclient

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"testing"
	"time"

	"altBarsBot/internal/domain"
	"altBarsBot/internal/ports"

	"github.com/alpacahq/alpaca-trade-api-go/v3/alpaca"
	"github.com/alpacahq/alpaca-trade-api-go/v3/marketdata"
	"github.com/alpacahq/alpaca-trade-api-go/v3/marketdata/stream"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type nopLogger struct{}

func (nopLogger) Debug(context.Context, string, ...map[string]interface{})        {}
func (nopLogger) Info(context.Context, string, ...map[string]interface{})         {}
func (nopLogger) Warn(context.Context, string, ...map[string]interface{})         {}
func (nopLogger) Error(context.Context, error, string, ...map[string]interface{}) {}

func TestNew(t *testing.T) {
	_, err := New(Config{APIKey: "k", SecretKey: "s"})
	assert.ErrorIs(t, err, ports.ErrConfiguration)

	_, err = New(Config{Logger: nopLogger{}})
	assert.ErrorIs(t, err, ports.ErrConfiguration)

	_, err = New(Config{Logger: nopLogger{}, APIKey: "k", SecretKey: "s", Feed: "otc"})
	assert.ErrorIs(t, err, ports.ErrConfiguration)

	c, err := New(Config{Logger: nopLogger{}, APIKey: "k", SecretKey: "s"})
	require.NoError(t, err)
	assert.Equal(t, marketdata.IEX, c.feed)
	assert.Equal(t, time.Second, c.reconnectDelay)
	assert.Equal(t, 10, c.maxReconnectAttempts)
}

func TestMapStatusCode(t *testing.T) {
	tests := []struct {
		status    int
		operation string
		notFound  error
		want      error
	}{
		{http.StatusNotFound, "GetPosition", ports.ErrPositionNotFound, ports.ErrPositionNotFound},
		{http.StatusNotFound, "GetOrder", ports.ErrOrderNotFound, ports.ErrOrderNotFound},
		{http.StatusUnprocessableEntity, "CancelOrder", ports.ErrOrderNotFound, ports.ErrOrderNotCancelable},
		{http.StatusUnprocessableEntity, "SubmitOrder", ports.ErrNotFound, ports.ErrInvalidRequest},
		{http.StatusForbidden, "SubmitOrder", ports.ErrNotFound, ports.ErrInsufficientFunds},
		{http.StatusForbidden, "GetClock", ports.ErrNotFound, ports.ErrAuthenticationFailed},
		{http.StatusUnauthorized, "GetClock", ports.ErrNotFound, ports.ErrAuthenticationFailed},
		{http.StatusTooManyRequests, "GetOrder", ports.ErrOrderNotFound, ports.ErrRateLimited},
		{http.StatusBadGateway, "GetOrder", ports.ErrOrderNotFound, ports.ErrBrokerUnavailable},
		{http.StatusTeapot, "GetOrder", ports.ErrOrderNotFound, ports.ErrUnknown},
	}
	for _, tt := range tests {
		t.Run(fmt.Sprintf("%s_%d", tt.operation, tt.status), func(t *testing.T) {
			assert.Equal(t, tt.want, mapStatusCode(tt.status, tt.operation, tt.notFound))
		})
	}
}

func TestHandleError(t *testing.T) {
	c, err := New(Config{Logger: nopLogger{}, APIKey: "k", SecretKey: "s"})
	require.NoError(t, err)
	ctx := context.Background()

	assert.NoError(t, c.handleError(ctx, nil, "GetOrder", ports.ErrOrderNotFound))

	err = c.handleError(ctx, &alpaca.APIError{StatusCode: http.StatusNotFound, Message: "position does not exist"}, "ClosePosition", ports.ErrPositionNotFound)
	assert.ErrorIs(t, err, ports.ErrPositionNotFound)
	var apiErr *alpaca.APIError
	assert.True(t, errors.As(err, &apiErr))

	err = c.handleError(ctx, context.DeadlineExceeded, "GetClock", ports.ErrNotFound)
	assert.ErrorIs(t, err, ports.ErrTimeout)

	err = c.handleError(ctx, errors.New("boom"), "GetClock", ports.ErrNotFound)
	assert.ErrorIs(t, err, ports.ErrUnknown)
}

func TestTranslateOrder(t *testing.T) {
	qty := decimal.NewFromInt(25)
	submitted := time.Date(2024, 3, 1, 15, 0, 0, 0, time.UTC)
	order := translateOrder(&alpaca.Order{
		ID:            "abc",
		ClientOrderID: "cid",
		Symbol:        "AAPL",
		Qty:           &qty,
		Side:          alpaca.Sell,
		Status:        "filled",
		SubmittedAt:   submitted,
	})
	assert.Equal(t, "abc", order.ID)
	assert.Equal(t, domain.Sell, order.Side)
	assert.Equal(t, int64(25), order.Qty)
	assert.Equal(t, domain.OrderStatusFilled, order.Status)
	assert.Equal(t, submitted, order.SubmittedAt)

	order = translateOrder(&alpaca.Order{ID: "n", Side: alpaca.Buy, Status: "accepted"})
	assert.Equal(t, domain.Buy, order.Side)
	assert.Zero(t, order.Qty)
	assert.False(t, order.Status.IsTerminal())

	assert.Equal(t, alpaca.Sell, orderSide(domain.Sell))
	assert.Equal(t, alpaca.Buy, orderSide(domain.Buy))
}

func TestTranslatePosition(t *testing.T) {
	pos := translatePosition(&alpaca.Position{Symbol: "AAPL", Side: "short", Qty: decimal.NewFromInt(-30)})
	require.NotNil(t, pos)
	assert.Equal(t, domain.SideShort, pos.Side)
	assert.InDelta(t, 30, pos.Qty, 1e-9)

	pos = translatePosition(&alpaca.Position{Symbol: "AAPL", Side: "long", Qty: decimal.NewFromInt(5)})
	require.NotNil(t, pos)
	assert.Equal(t, domain.SideLong, pos.Side)

	assert.Nil(t, translatePosition(&alpaca.Position{Symbol: "AAPL", Qty: decimal.Zero}))
	assert.Nil(t, translatePosition(nil))
}

func TestTranslateTrade(t *testing.T) {
	ts := time.Date(2024, 3, 1, 15, 0, 0, 0, time.UTC)
	tick := translateTrade(stream.Trade{Symbol: "AAPL", Price: 180.25, Size: 300, Timestamp: ts})
	assert.Equal(t, domain.Tick{Symbol: "AAPL", Price: 180.25, Size: 300, Timestamp: ts}, tick)
}

func TestTranslateDailyBars(t *testing.T) {
	day := func(d int) time.Time { return time.Date(2024, 3, d, 5, 0, 0, 0, time.UTC) }
	bars := []marketdata.Bar{
		{Timestamp: day(1), Volume: 100, TradeCount: 10, VWAP: 2},
		{Timestamp: day(4), Volume: 200, TradeCount: 20, VWAP: 3},
		{Timestamp: day(5), Volume: 300, TradeCount: 30, VWAP: 4},
	}

	out := translateDailyBars(bars, 2)
	require.Len(t, out, 2)
	assert.Equal(t, day(4), out[0].Date)
	assert.InDelta(t, 200, out[0].Volume, 1e-9)
	assert.InDelta(t, 600, out[0].DollarValue, 1e-9)
	assert.InDelta(t, 20, out[0].TradeCount, 1e-9)
	assert.Equal(t, day(5), out[1].Date)

	assert.Len(t, translateDailyBars(bars, 10), 3)
	assert.Empty(t, translateDailyBars(nil, 5))
}

func TestGetDailyBarsRejectsNonPositiveDays(t *testing.T) {
	c, err := New(Config{Logger: nopLogger{}, APIKey: "k", SecretKey: "s"})
	require.NoError(t, err)
	_, err = c.GetDailyBars(context.Background(), "AAPL", 0)
	assert.ErrorIs(t, err, ports.ErrInvalidRequest)
}

func TestStreamTradesValidation(t *testing.T) {
	c, err := New(Config{Logger: nopLogger{}, APIKey: "k", SecretKey: "s"})
	require.NoError(t, err)
	_, err = c.StreamTrades(context.Background(), nil, func(domain.Tick) {}, func(error) {})
	assert.ErrorIs(t, err, ports.ErrInvalidRequest)
	_, err = c.StreamTrades(context.Background(), []string{"AAPL"}, nil, func(error) {})
	assert.ErrorIs(t, err, ports.ErrInvalidRequest)
}
