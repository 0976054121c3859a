package domain

import (
	"fmt"
	"strconv"
	"time"
)

// BarType selects which cumulative counter closes an alternative bar.
type BarType string

const (
	TickBar   BarType = "tick_bar"
	VolumeBar BarType = "volume_bar"
	DollarBar BarType = "dollar_bar"
)

// ParseBarType validates a bar type name.
func ParseBarType(s string) (BarType, error) {
	switch BarType(s) {
	case TickBar, VolumeBar, DollarBar:
		return BarType(s), nil
	default:
		return "", fmt.Errorf("%q is not a valid bar type, expected %q, %q or %q", s, TickBar, VolumeBar, DollarBar)
	}
}

// Counters holds the six running statistics of a bar under construction.
type Counters struct {
	Tick           int64
	Volume         int64
	DollarValue    float64
	BuyTick        int64
	BuyVolume      int64
	BuyDollarValue float64
}

// Add records one trade. Buy-side counters move only when buy is true.
func (c *Counters) Add(price float64, size int64, buy bool) {
	dollars := price * float64(size)
	c.Tick++
	c.Volume += size
	c.DollarValue += dollars
	if buy {
		c.BuyTick++
		c.BuyVolume += size
		c.BuyDollarValue += dollars
	}
}

// Metric returns the counter tracked by the given bar type.
func (c Counters) Metric(t BarType) float64 {
	switch t {
	case VolumeBar:
		return float64(c.Volume)
	case DollarBar:
		return c.DollarValue
	default:
		return float64(c.Tick)
	}
}

// BarHeader is the column order used wherever bars are stored.
var BarHeader = []string{
	"timestamp",
	"symbol",
	"open",
	"high",
	"low",
	"close",
	"vwap",
	"cum_tick",
	"cum_volume",
	"cum_dollar_value",
	"cum_buy_tick",
	"cum_buy_volume",
	"cum_buy_dollar_value",
}

// Bar is a completed alternative bar. It is never modified after it is emitted.
type Bar struct {
	Timestamp time.Time // Timestamp of the tick that completed the bar
	Symbol    string
	Open      float64
	High      float64
	Low       float64
	Close     float64
	VWAP      float64
	Counters
}

// Record renders the bar in BarHeader order.
func (b Bar) Record() []string {
	return []string{
		b.Timestamp.UTC().Format(time.RFC3339Nano),
		b.Symbol,
		formatFloat(b.Open),
		formatFloat(b.High),
		formatFloat(b.Low),
		formatFloat(b.Close),
		formatFloat(b.VWAP),
		strconv.FormatInt(b.Tick, 10),
		strconv.FormatInt(b.Volume, 10),
		formatFloat(b.DollarValue),
		strconv.FormatInt(b.BuyTick, 10),
		strconv.FormatInt(b.BuyVolume, 10),
		formatFloat(b.BuyDollarValue),
	}
}

func formatFloat(f float64) string {
	return strconv.FormatFloat(f, 'f', -1, 64)
}

// DailyBar summarises one trading day of activity for an instrument.
type DailyBar struct {
	Date        time.Time
	Volume      float64 // Traded volume, in the same unit as Tick.Size
	DollarValue float64 // Traded notional
	TradeCount  float64 // Number of trades
}
