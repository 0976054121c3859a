package alpacaclient

import (
	"altBarsBot/internal/domain"

	"github.com/alpacahq/alpaca-trade-api-go/v3/alpaca"
	"github.com/alpacahq/alpaca-trade-api-go/v3/marketdata"
	"github.com/alpacahq/alpaca-trade-api-go/v3/marketdata/stream"
)

func orderSide(side domain.OrderSide) alpaca.Side {
	if side == domain.Sell {
		return alpaca.Sell
	}
	return alpaca.Buy
}

func translateOrder(o *alpaca.Order) *domain.Order {
	out := &domain.Order{
		ID:            o.ID,
		ClientOrderID: o.ClientOrderID,
		Symbol:        o.Symbol,
		Side:          domain.Buy,
		Status:        domain.OrderStatus(o.Status),
		SubmittedAt:   o.SubmittedAt,
	}
	if o.Side == alpaca.Sell {
		out.Side = domain.Sell
	}
	if o.Qty != nil {
		out.Qty = o.Qty.IntPart()
	}
	return out
}

// translatePosition returns nil for a flat position.
func translatePosition(p *alpaca.Position) *domain.Position {
	if p == nil || p.Qty.IsZero() {
		return nil
	}
	side := domain.SideLong
	if p.Side == "short" || p.Qty.IsNegative() {
		side = domain.SideShort
	}
	return &domain.Position{
		Symbol: p.Symbol,
		Side:   side,
		Qty:    p.Qty.Abs().InexactFloat64(),
	}
}

func translateTrade(t stream.Trade) domain.Tick {
	return domain.Tick{
		Symbol:    t.Symbol,
		Price:     t.Price,
		Size:      int64(t.Size),
		Timestamp: t.Timestamp.UTC(),
	}
}

// translateDailyBars keeps the most recent days bars.
func translateDailyBars(bars []marketdata.Bar, days int) []domain.DailyBar {
	if len(bars) > days {
		bars = bars[len(bars)-days:]
	}
	out := make([]domain.DailyBar, 0, len(bars))
	for _, b := range bars {
		out = append(out, domain.DailyBar{
			Date:        b.Timestamp.UTC(),
			Volume:      float64(b.Volume),
			DollarValue: b.VWAP * float64(b.Volume),
			TradeCount:  float64(b.TradeCount),
		})
	}
	return out
}
