package binanceclient

import (
	"errors"
	"fmt"
	"strconv"
	"time"

	"altBarsBot/internal/domain"

	"github.com/adshao/go-binance/v2/futures"
	"github.com/shopspring/decimal"
)

const day = 24 * time.Hour

// sessionClock places now relative to a daily session [open, close) given as offsets from UTC
// midnight. A close at or before the open wraps past midnight; equal offsets mean a 24h session.
func sessionClock(now time.Time, open, close time.Duration) domain.Clock {
	now = now.UTC()
	length := close - open
	if length <= 0 {
		length += day
	}
	midnight := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, time.UTC)

	for _, start := range []time.Time{midnight.Add(open - day), midnight.Add(open)} {
		end := start.Add(length)
		if !now.Before(start) && now.Before(end) {
			return domain.Clock{Timestamp: now, IsOpen: true, NextOpen: start.Add(day), NextClose: end}
		}
	}

	next := midnight.Add(open)
	if !next.After(now) {
		next = next.Add(day)
	}
	return domain.Clock{Timestamp: now, IsOpen: false, NextOpen: next, NextClose: next.Add(length)}
}

func orderStatus(s futures.OrderStatusType) domain.OrderStatus {
	switch s {
	case futures.OrderStatusTypeNew:
		return domain.OrderStatusNew
	case futures.OrderStatusTypePartiallyFilled:
		return domain.OrderStatusPartiallyFilled
	case futures.OrderStatusTypeFilled:
		return domain.OrderStatusFilled
	case futures.OrderStatusTypeCanceled:
		return domain.OrderStatusCanceled
	case futures.OrderStatusTypeExpired:
		return domain.OrderStatusExpired
	case futures.OrderStatusTypeRejected:
		return domain.OrderStatusRejected
	default:
		return domain.OrderStatus(s)
	}
}

func toLots(quantity string, lotSize decimal.Decimal) (int64, error) {
	q, err := decimal.NewFromString(quantity)
	if err != nil {
		return 0, fmt.Errorf("parsing quantity '%s': %w", quantity, err)
	}
	return q.Div(lotSize).Round(0).IntPart(), nil
}

func translateCreateOrder(order *futures.CreateOrderResponse, qty int64) *domain.Order {
	return &domain.Order{
		ID:            strconv.FormatInt(order.OrderID, 10),
		ClientOrderID: order.ClientOrderID,
		Symbol:        order.Symbol,
		Side:          domain.OrderSide(order.Side),
		Qty:           qty,
		Status:        orderStatus(order.Status),
		SubmittedAt:   time.UnixMilli(order.UpdateTime).UTC(),
	}
}

func translateOrder(order *futures.Order, lotSize decimal.Decimal) *domain.Order {
	qty, _ := toLots(order.OrigQuantity, lotSize) // Zero on a malformed quantity
	return &domain.Order{
		ID:            strconv.FormatInt(order.OrderID, 10),
		ClientOrderID: order.ClientOrderID,
		Symbol:        order.Symbol,
		Side:          domain.OrderSide(order.Side),
		Qty:           qty,
		Status:        orderStatus(order.Status),
		SubmittedAt:   time.UnixMilli(order.Time).UTC(),
	}
}

// translatePosition returns nil for a flat position.
func translatePosition(p *futures.PositionRisk, lotSize decimal.Decimal) (*domain.Position, error) {
	if p == nil {
		return nil, nil
	}
	amt, err := decimal.NewFromString(p.PositionAmt)
	if err != nil {
		return nil, fmt.Errorf("could not parse position amount '%s': %w", p.PositionAmt, err)
	}
	if amt.IsZero() {
		return nil, nil
	}
	side := domain.SideLong
	if amt.IsNegative() {
		side = domain.SideShort
	}
	return &domain.Position{
		Symbol: p.Symbol,
		Side:   side,
		Qty:    amt.Abs().Div(lotSize).InexactFloat64(),
	}, nil
}

func translateAggTrade(event *futures.WsAggTradeEvent, lotSize decimal.Decimal) (domain.Tick, error) {
	if event == nil {
		return domain.Tick{}, errors.New("received nil aggregate trade event")
	}
	price, err := strconv.ParseFloat(event.Price, 64)
	if err != nil {
		return domain.Tick{}, fmt.Errorf("parsing trade price '%s': %w", event.Price, err)
	}
	size, err := toLots(event.Quantity, lotSize)
	if err != nil {
		return domain.Tick{}, err
	}
	return domain.Tick{
		Symbol:    event.Symbol,
		Price:     price,
		Size:      size,
		Timestamp: time.UnixMilli(event.TradeTime).UTC(),
	}, nil
}

func translateDailyKline(k *futures.Kline, lotSize decimal.Decimal) (domain.DailyBar, error) {
	if k == nil {
		return domain.DailyBar{}, errors.New("received nil historical kline")
	}
	volume, err := decimal.NewFromString(k.Volume)
	if err != nil {
		return domain.DailyBar{}, fmt.Errorf("parsing volume '%s': %w", k.Volume, err)
	}
	quote, err := strconv.ParseFloat(k.QuoteAssetVolume, 64)
	if err != nil {
		return domain.DailyBar{}, fmt.Errorf("parsing quote volume '%s': %w", k.QuoteAssetVolume, err)
	}
	return domain.DailyBar{
		Date:        time.UnixMilli(k.OpenTime).UTC(),
		Volume:      volume.Div(lotSize).InexactFloat64(),
		DollarValue: quote,
		TradeCount:  float64(k.TradeNum),
	}, nil
}

// completedKlines drops the kline still in progress at now and keeps the last days.
func completedKlines(klines []*futures.Kline, now time.Time, days int) []*futures.Kline {
	if n := len(klines); n > 0 && klines[n-1] != nil && klines[n-1].CloseTime >= now.UnixMilli() {
		klines = klines[:n-1]
	}
	if len(klines) > days {
		klines = klines[len(klines)-days:]
	}
	return klines
}
