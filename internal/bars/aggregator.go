// Package bars turns a stream of trade ticks into tick, volume or dollar bars.
package bars

import (
	"context"
	"fmt"

	"altBarsBot/internal/domain"
	"altBarsBot/internal/metrics"
	"altBarsBot/internal/ports"
)

// Aggregator accumulates ticks for one (instrument, bar type) pair and emits a bar
// every time the tracked counter reaches the threshold.
//
// An Aggregator is not safe for concurrent use; the caller delivers one tick at a time.
type Aggregator struct {
	barType   domain.BarType
	threshold int64
	pending   int64 // Replacement threshold waiting for the current bar to complete (0 = none)
	sink      ports.BarSink
	logger    ports.Logger

	hasPrev   bool
	prevPrice float64 // Last seen price; survives bar resets

	prices   []float64
	volumes  []int64
	counters domain.Counters
}

// NewAggregator creates an aggregator for the given bar type and threshold.
func NewAggregator(barType domain.BarType, threshold int64, sink ports.BarSink, logger ports.Logger) (*Aggregator, error) {
	if _, err := domain.ParseBarType(string(barType)); err != nil {
		return nil, fmt.Errorf("%w: %w", ports.ErrConfiguration, err)
	}
	if threshold <= 0 {
		return nil, fmt.Errorf("%w: threshold must be positive, got %d", ports.ErrConfiguration, threshold)
	}
	if sink == nil || logger == nil {
		return nil, fmt.Errorf("%w: sink and logger are required for aggregator", ports.ErrConfiguration)
	}
	return &Aggregator{
		barType:   barType,
		threshold: threshold,
		sink:      sink,
		logger:    logger,
	}, nil
}

// BarType returns the bar type this aggregator builds.
func (a *Aggregator) BarType() domain.BarType { return a.barType }

// Threshold returns the threshold in force for the bar being accumulated.
func (a *Aggregator) Threshold() int64 { return a.threshold }

// Pending returns a staged threshold that takes effect after the current bar, or 0.
func (a *Aggregator) Pending() int64 { return a.pending }

// Counters returns the running counters of the partial bar.
func (a *Aggregator) Counters() domain.Counters { return a.counters }

// SetThreshold replaces the threshold. While a bar is partially accumulated the new
// value is staged and applied when that bar completes.
func (a *Aggregator) SetThreshold(threshold int64) error {
	if threshold <= 0 {
		return fmt.Errorf("%w: threshold must be positive, got %d", ports.ErrConfiguration, threshold)
	}
	if a.counters.Tick == 0 {
		a.threshold = threshold
		a.pending = 0
		return nil
	}
	a.pending = threshold
	return nil
}

// Aggregate adds one tick and returns the completed bar, or nil if the threshold was not reached.
// The tick must satisfy domain.Tick.Valid.
func (a *Aggregator) Aggregate(ctx context.Context, tick domain.Tick) (*domain.Bar, error) {
	sign := a.tickSign(tick.Price)

	a.prices = append(a.prices, tick.Price)
	a.volumes = append(a.volumes, tick.Size)
	a.counters.Add(tick.Price, tick.Size, sign > 0)

	if a.counters.Metric(a.barType) < float64(a.threshold) {
		return nil, nil
	}

	vwap, err := a.vwap()
	if err != nil {
		return nil, err
	}

	bar := &domain.Bar{
		Timestamp: tick.Timestamp,
		Symbol:    tick.Symbol,
		Open:      a.prices[0],
		High:      a.prices[0],
		Low:       a.prices[0],
		Close:     tick.Price,
		VWAP:      vwap,
		Counters:  a.counters,
	}
	for _, p := range a.prices[1:] {
		if p > bar.High {
			bar.High = p
		}
		if p < bar.Low {
			bar.Low = p
		}
	}

	if err := a.sink.Append(ctx, *bar); err != nil {
		metrics.SinkErrorsTotal.WithLabelValues(bar.Symbol, string(a.barType)).Inc()
		a.logger.Error(ctx, err, "Failed to append bar to store", map[string]interface{}{
			"symbol":  bar.Symbol,
			"barType": a.barType,
			"close":   bar.Close,
		})
	}

	a.reset()
	return bar, nil
}

// tickSign classifies the trade with the tick rule. The first tick ever seen is neutral.
func (a *Aggregator) tickSign(price float64) int {
	if !a.hasPrev {
		a.hasPrev = true
		a.prevPrice = price
		return 0
	}
	sign := 0
	switch {
	case price > a.prevPrice:
		sign = 1
	case price < a.prevPrice:
		sign = -1
	}
	a.prevPrice = price
	return sign
}

func (a *Aggregator) vwap() (float64, error) {
	var notional float64
	var volume int64
	for i, p := range a.prices {
		notional += p * float64(a.volumes[i])
		volume += a.volumes[i]
	}
	if volume == 0 {
		return 0, fmt.Errorf("vwap over %d ticks: %w", len(a.prices), ports.ErrDivisionUndefined)
	}
	return notional / float64(volume), nil
}

// reset clears the partial bar. The previous price is kept for the tick rule.
func (a *Aggregator) reset() {
	a.prices = nil
	a.volumes = nil
	a.counters = domain.Counters{}
	if a.pending > 0 {
		a.threshold = a.pending
		a.pending = 0
	}
}
