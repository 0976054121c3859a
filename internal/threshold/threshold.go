// Package threshold derives bar thresholds from recent daily trading activity.
package threshold

import (
	"context"
	"errors"
	"fmt"
	"math"

	"altBarsBot/internal/domain"
	"altBarsBot/internal/metrics"
	"altBarsBot/internal/ports"
	"altBarsBot/internal/strategy/indicators"
)

const (
	DefaultSpanDays   = 5
	DefaultBarsPerDay = 50
)

// ErrNoHistory is returned when no daily bars were available for an instrument.
var ErrNoHistory = errors.New("no daily history")

// DailyMetric returns the daily statistic that matches a bar type's threshold counter.
func DailyMetric(day domain.DailyBar, barType domain.BarType) float64 {
	switch barType {
	case domain.VolumeBar:
		return day.Volume
	case domain.DollarBar:
		return day.DollarValue
	default:
		return day.TradeCount
	}
}

// Compute returns the exponentially weighted mean of the daily metric divided by barsPerDay,
// floored and never below 1. days must be ordered oldest first.
func Compute(days []domain.DailyBar, barType domain.BarType, span int, barsPerDay int) (int64, error) {
	if _, err := domain.ParseBarType(string(barType)); err != nil {
		return 0, fmt.Errorf("%w: %w", ports.ErrConfiguration, err)
	}
	if span < 1 || barsPerDay < 1 {
		return 0, fmt.Errorf("%w: span (%d) and bars per day (%d) must be positive", ports.ErrConfiguration, span, barsPerDay)
	}
	if len(days) == 0 {
		return 0, ErrNoHistory
	}

	values := make([]float64, len(days))
	for i, d := range days {
		values[i] = DailyMetric(d, barType)
	}
	avg, err := indicators.EWMA(values, float64(span))
	if err != nil {
		return 0, err
	}

	threshold := int64(math.Floor(avg / float64(barsPerDay)))
	if threshold < 1 {
		threshold = 1
	}
	return threshold, nil
}

// Resolver picks the threshold for each instrument at the start of a session.
type Resolver struct {
	data       ports.MarketDataClient
	span       int
	barsPerDay int
	logger     ports.Logger
}

// NewResolver creates a resolver. Zero span or barsPerDay fall back to the defaults.
func NewResolver(data ports.MarketDataClient, span, barsPerDay int, logger ports.Logger) (*Resolver, error) {
	if data == nil || logger == nil {
		return nil, fmt.Errorf("%w: market data client and logger are required for threshold resolver", ports.ErrConfiguration)
	}
	if span == 0 {
		span = DefaultSpanDays
	}
	if barsPerDay == 0 {
		barsPerDay = DefaultBarsPerDay
	}
	if span < 1 || barsPerDay < 1 {
		return nil, fmt.Errorf("%w: span (%d) and bars per day (%d) must be positive", ports.ErrConfiguration, span, barsPerDay)
	}
	return &Resolver{data: data, span: span, barsPerDay: barsPerDay, logger: logger}, nil
}

// Resolve returns fixed when it is positive, otherwise the dynamic threshold from the last span days.
func (r *Resolver) Resolve(ctx context.Context, symbol string, barType domain.BarType, fixed int64) (int64, error) {
	fields := map[string]interface{}{"symbol": symbol, "barType": barType}
	if fixed > 0 {
		fields["threshold"] = fixed
		r.logger.Info(ctx, "Using fixed threshold", fields)
		metrics.Thresholds.WithLabelValues(symbol, string(barType)).Set(float64(fixed))
		return fixed, nil
	}

	days, err := r.data.GetDailyBars(ctx, symbol, r.span)
	if err != nil {
		return 0, fmt.Errorf("daily bars for %s: %w", symbol, err)
	}
	threshold, err := Compute(days, barType, r.span, r.barsPerDay)
	if err != nil {
		return 0, fmt.Errorf("threshold for %s: %w", symbol, err)
	}

	fields["threshold"] = threshold
	fields["days"] = len(days)
	fields["span"] = r.span
	fields["barsPerDay"] = r.barsPerDay
	r.logger.Info(ctx, "Computed dynamic threshold", fields)
	metrics.Thresholds.WithLabelValues(symbol, string(barType)).Set(float64(threshold))
	return threshold, nil
}
