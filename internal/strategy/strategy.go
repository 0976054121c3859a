// Package strategy implements the Bollinger breakout engine that trades one instrument
// from its stream of alternative bars.
package strategy

import (
	"context"
	"errors"
	"fmt"
	"time"

	"altBarsBot/internal/domain"
	"altBarsBot/internal/metrics"
	"altBarsBot/internal/ports"
	"altBarsBot/internal/risk"
	"altBarsBot/internal/strategy/indicators"
)

const (
	defaultBandWidth           = 2.0
	defaultVolatilityFrequency = time.Hour
	defaultWindowCapacity      = 1000
)

// State is the signal-generation state of an engine.
type State string

const (
	StateCollecting State = "collecting" // Not enough closes for the band yet
	StateActive     State = "active"     // Band signals are evaluated on every bar
)

// Config holds parameters for one instrument's engine.
type Config struct {
	Symbol              string
	BarType             domain.BarType
	TakeProfitMult      float64       // Take-profit distance in multiples of volatility
	StopLossMult        float64       // Stop-loss distance in multiples of volatility
	Qty                 int64         // Units per order
	WindowSize          int           // Bollinger period
	WindowCapacity      int           // Closes retained for volatility, at least WindowSize+1
	BandWidth           float64       // Standard deviations either side of the mean, 2 if zero
	EntryCutoff         time.Duration // No new entries when less than this remains before the close
	VolatilityFrequency time.Duration // Bucket size for volatility, one hour if zero
}

// PositionState is the engine's view of its position. Levels is set iff Side is not SideNone.
type PositionState struct {
	Side        domain.PositionSide
	OpenOrderID string
	Levels      *risk.Levels
}

// Engine turns completed bars into entries and ticks into exits for one instrument.
// It is not safe for concurrent use.
type Engine struct {
	cfg    Config
	broker ports.BrokerGateway
	logger ports.Logger

	state  State
	window *indicators.Window
	pos    PositionState
}

// New creates an engine and seeds its window from history when enough closes were recorded.
// history may be nil.
func New(ctx context.Context, cfg Config, broker ports.BrokerGateway, history ports.HistoryLoader, logger ports.Logger) (*Engine, error) {
	if broker == nil || logger == nil {
		return nil, fmt.Errorf("%w: broker and logger are required for strategy", ports.ErrConfiguration)
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	if cfg.BandWidth == 0 {
		cfg.BandWidth = defaultBandWidth
	}
	if cfg.VolatilityFrequency == 0 {
		cfg.VolatilityFrequency = defaultVolatilityFrequency
	}
	if cfg.WindowCapacity == 0 {
		cfg.WindowCapacity = defaultWindowCapacity
	}
	if cfg.WindowCapacity < cfg.WindowSize+1 {
		cfg.WindowCapacity = cfg.WindowSize + 1
	}

	e := &Engine{
		cfg:    cfg,
		broker: broker,
		logger: logger,
		state:  StateCollecting,
		window: indicators.NewWindow(cfg.WindowCapacity),
		pos:    PositionState{Side: domain.SideNone},
	}
	e.seed(ctx, history)
	return e, nil
}

func (c Config) validate() error {
	var errs []error
	if c.Symbol == "" {
		errs = append(errs, errors.New("symbol is required"))
	}
	if _, err := domain.ParseBarType(string(c.BarType)); err != nil {
		errs = append(errs, err)
	}
	if c.TakeProfitMult <= 0 || c.StopLossMult <= 0 {
		errs = append(errs, errors.New("take profit and stop loss multiples must be positive"))
	}
	if c.Qty <= 0 {
		errs = append(errs, errors.New("quantity must be positive"))
	}
	if c.WindowSize < 2 {
		errs = append(errs, fmt.Errorf("window size must be at least 2, got %d", c.WindowSize))
	}
	if c.EntryCutoff < 0 || c.BandWidth < 0 || c.VolatilityFrequency < 0 || c.WindowCapacity < 0 {
		errs = append(errs, errors.New("durations, band width and window capacity cannot be negative"))
	}
	if len(errs) > 0 {
		return fmt.Errorf("%w: strategy %s: %w", ports.ErrConfiguration, c.Symbol, errors.Join(errs...))
	}
	return nil
}

func (e *Engine) seed(ctx context.Context, history ports.HistoryLoader) {
	fields := map[string]interface{}{
		"symbol":         e.cfg.Symbol,
		"barType":        e.cfg.BarType,
		"windowSize":     e.cfg.WindowSize,
		"windowCapacity": e.window.Cap(),
	}
	if history == nil {
		e.logger.Info(ctx, "No bar history configured, collecting", fields)
		return
	}
	points, err := history.LoadCloses(ctx, e.cfg.Symbol, e.cfg.BarType)
	if err != nil {
		e.logger.Error(ctx, err, "Failed to load bar history, collecting", fields)
		return
	}
	fields["historyPoints"] = len(points)
	if len(points) < e.cfg.WindowSize+1 {
		e.logger.Info(ctx, "Not enough bar history, collecting", fields)
		return
	}
	for _, p := range points[len(points)-e.cfg.WindowSize:] {
		e.window.Push(p)
	}
	e.state = StateActive
	e.logger.Info(ctx, "Seeded window from bar history", fields)
}

// Symbol returns the instrument this engine trades.
func (e *Engine) Symbol() string { return e.cfg.Symbol }

// State returns the signal-generation state.
func (e *Engine) State() State { return e.state }

// Position returns a copy of the position state.
func (e *Engine) Position() PositionState {
	p := e.pos
	if p.Levels != nil {
		levels := *p.Levels
		p.Levels = &levels
	}
	return p
}

// OnBar appends the bar's close to the window and enters on a band breakout.
func (e *Engine) OnBar(ctx context.Context, bar domain.Bar) error {
	e.window.Push(domain.PricePoint{Timestamp: bar.Timestamp, Price: bar.Close})

	if e.state == StateCollecting {
		if e.window.Len() <= e.cfg.WindowSize {
			return nil
		}
		e.state = StateActive
		e.logger.Info(ctx, "Window filled, strategy active", map[string]interface{}{
			"symbol": e.cfg.Symbol,
			"closes": e.window.Len(),
		})
	}

	n := e.window.Len()
	prevBand, err := indicators.BandAt(e.window, n-2, e.cfg.WindowSize, e.cfg.BandWidth)
	if err != nil {
		return fmt.Errorf("previous band for %s: %w", e.cfg.Symbol, err)
	}
	curBand, err := indicators.BandAt(e.window, n-1, e.cfg.WindowSize, e.cfg.BandWidth)
	if err != nil {
		return fmt.Errorf("current band for %s: %w", e.cfg.Symbol, err)
	}
	prev, cur := e.window.At(n-2).Price, bar.Close

	e.logger.Debug(ctx, "Band evaluated", map[string]interface{}{
		"symbol":    e.cfg.Symbol,
		"prevClose": prev,
		"close":     cur,
		"upper":     curBand.Upper,
		"lower":     curBand.Lower,
	})

	switch {
	case prev <= prevBand.Upper && cur > curBand.Upper:
		return e.Enter(ctx, domain.SideLong)
	case prev >= prevBand.Lower && cur < curBand.Lower:
		return e.Enter(ctx, domain.SideShort)
	default:
		return nil
	}
}

// CheckRisk liquidates the position when price has reached its stop-loss or take-profit.
// It does nothing when no position is held.
func (e *Engine) CheckRisk(ctx context.Context, price float64) error {
	if e.pos.Side == domain.SideNone {
		return nil
	}
	if _, err := e.syncPosition(ctx); err != nil {
		e.logger.Warn(ctx, "Skipping risk check, position sync failed", map[string]interface{}{
			"symbol": e.cfg.Symbol,
			"error":  err.Error(),
		})
		return err
	}
	if e.pos.Side == domain.SideNone || e.pos.Levels == nil {
		return nil
	}

	reason, hit := e.pos.Levels.Breached(e.pos.Side, price)
	if !hit {
		return nil
	}
	e.logger.Info(ctx, "Exit level reached", map[string]interface{}{
		"symbol":     e.cfg.Symbol,
		"side":       e.pos.Side,
		"price":      price,
		"stopLoss":   e.pos.Levels.StopLoss,
		"takeProfit": e.pos.Levels.TakeProfit,
		"reason":     reason,
	})
	return e.Liquidate(ctx, reason)
}

// Enter opens (or adds to) a position in the given direction. An opposite position is
// closed first. Nothing is placed close to the session end.
func (e *Engine) Enter(ctx context.Context, side domain.PositionSide) error {
	op := "Enter"
	if side != domain.SideLong && side != domain.SideShort {
		return fmt.Errorf("%s: invalid side %q", op, side)
	}
	fields := map[string]interface{}{"symbol": e.cfg.Symbol, "side": side}
	// Volatility needs two returns; check before touching the broker.
	if e.window.Len() < 3 {
		fields["windowLen"] = e.window.Len()
		e.logger.Warn(ctx, op+": Not enough closes, entry skipped", fields)
		return fmt.Errorf("%s %s: %w", op, e.cfg.Symbol, indicators.ErrInsufficientData)
	}

	brokerPos, err := e.syncPosition(ctx)
	if err != nil {
		e.logger.Error(ctx, err, op+": Failed to sync position, entry skipped", fields)
		return fmt.Errorf("%s %s: %w", op, e.cfg.Symbol, err)
	}

	current := e.pos.Side
	if brokerPos != nil {
		current = brokerPos.Side
	}
	if current == side.Opposite() {
		e.logger.Info(ctx, op+": Reversing position", fields)
		if err := e.Liquidate(ctx, domain.CloseReasonReversal); err != nil {
			return fmt.Errorf("%s %s: reversal aborted: %w", op, e.cfg.Symbol, err)
		}
	}

	lastClose := e.window.At(e.window.Len() - 1).Price
	vol, err := indicators.Volatility(e.window.Last(e.window.Len()), e.cfg.VolatilityFrequency, e.cfg.WindowSize)
	if err != nil {
		e.logger.Warn(ctx, op+": Volatility unavailable, entry skipped", fields)
		return fmt.Errorf("%s %s: %w", op, e.cfg.Symbol, err)
	}
	levels, err := risk.NewLevels(side, lastClose, e.cfg.TakeProfitMult, e.cfg.StopLossMult, vol)
	if err != nil {
		e.logger.Warn(ctx, op+": Cannot derive exit levels, entry skipped", fields)
		return fmt.Errorf("%s %s: %w", op, e.cfg.Symbol, err)
	}

	clock, err := e.broker.GetClock(ctx)
	if err != nil {
		e.logger.Error(ctx, err, op+": Failed to query clock, entry skipped", fields)
		return fmt.Errorf("%s %s: %w", op, e.cfg.Symbol, err)
	}
	if !clock.IsOpen || clock.UntilClose() < e.cfg.EntryCutoff {
		fields["untilClose"] = clock.UntilClose().String()
		e.logger.Info(ctx, op+": Entry suppressed near session close", fields)
		return nil
	}

	if err := e.cancelPending(ctx); err != nil {
		e.logger.Error(ctx, err, op+": Failed to cancel pending order, entry skipped", fields)
		return fmt.Errorf("%s %s: %w", op, e.cfg.Symbol, err)
	}

	orderSide := side.EntryOrderSide()
	order, err := e.broker.SubmitOrder(ctx, e.cfg.Symbol, e.cfg.Qty, orderSide)
	if err != nil {
		e.logger.Error(ctx, err, op+": Failed to submit order", fields)
		return fmt.Errorf("%s %s: %w", op, e.cfg.Symbol, err)
	}

	e.pos = PositionState{Side: side, OpenOrderID: order.ID, Levels: &levels}
	metrics.OrdersTotal.WithLabelValues(e.cfg.Symbol, string(orderSide)).Inc()

	fields["orderID"] = order.ID
	fields["qty"] = e.cfg.Qty
	fields["lastClose"] = lastClose
	fields["volatility"] = vol
	fields["stopLoss"] = levels.StopLoss
	fields["takeProfit"] = levels.TakeProfit
	e.logger.Info(ctx, op+": Order submitted", fields)
	return nil
}

// Liquidate cancels the pending order and closes the whole position. State is only
// cleared once the broker confirms the position is gone.
func (e *Engine) Liquidate(ctx context.Context, reason domain.CloseReason) error {
	op := "Liquidate"
	fields := map[string]interface{}{"symbol": e.cfg.Symbol, "side": e.pos.Side, "reason": reason}

	if err := e.cancelPending(ctx); err != nil {
		e.logger.Warn(ctx, op+": Failed to cancel pending order, closing anyway", map[string]interface{}{
			"symbol":  e.cfg.Symbol,
			"orderID": e.pos.OpenOrderID,
			"error":   err.Error(),
		})
	}

	err := e.broker.ClosePosition(ctx, e.cfg.Symbol)
	switch {
	case err == nil:
		e.logger.Info(ctx, op+": Position closed", fields)
	case errors.Is(err, ports.ErrPositionNotFound):
		e.logger.Debug(ctx, op+": No position at broker, already flat", fields)
	default:
		e.logger.Error(ctx, err, op+": Failed to close position", fields)
		return fmt.Errorf("%s %s: %w", op, e.cfg.Symbol, err)
	}

	if e.pos.Side != domain.SideNone || err == nil {
		metrics.LiquidationsTotal.WithLabelValues(e.cfg.Symbol, string(reason)).Inc()
	}
	e.clear()
	return nil
}

// Flatten cancels every open order for the instrument and closes any position, whether or
// not the engine believes one is open.
func (e *Engine) Flatten(ctx context.Context, reason domain.CloseReason) error {
	if err := e.broker.CancelOpenOrders(ctx, e.cfg.Symbol); err != nil {
		e.logger.Warn(ctx, "Flatten: Failed to cancel open orders", map[string]interface{}{
			"symbol": e.cfg.Symbol,
			"error":  err.Error(),
		})
	}
	return e.Liquidate(ctx, reason)
}

// syncPosition fetches the broker position. When the broker has none while the engine
// holds one, state is cleared unless the entry order is still working.
func (e *Engine) syncPosition(ctx context.Context) (*domain.Position, error) {
	pos, err := e.broker.GetPosition(ctx, e.cfg.Symbol)
	if err == nil {
		if e.pos.Side != domain.SideNone && pos.Side != e.pos.Side {
			e.logger.Warn(ctx, "Broker position side differs from local state", map[string]interface{}{
				"symbol":     e.cfg.Symbol,
				"localSide":  e.pos.Side,
				"brokerSide": pos.Side,
			})
		}
		return pos, nil
	}
	if !errors.Is(err, ports.ErrPositionNotFound) {
		return nil, err
	}
	if e.pos.Side == domain.SideNone {
		return nil, nil
	}

	if e.pos.OpenOrderID != "" {
		order, orderErr := e.broker.GetOrder(ctx, e.cfg.Symbol, e.pos.OpenOrderID)
		if orderErr == nil && !order.Status.IsTerminal() {
			e.logger.Debug(ctx, "Entry order still working", map[string]interface{}{
				"symbol":  e.cfg.Symbol,
				"orderID": order.ID,
				"status":  order.Status,
			})
			return nil, nil
		}
	}

	e.logger.Info(ctx, "Position closed outside the engine, clearing state", map[string]interface{}{
		"symbol": e.cfg.Symbol,
		"side":   e.pos.Side,
	})
	e.clear()
	return nil, nil
}

// cancelPending cancels the tracked order. Orders that are gone or already final count as cancelled.
func (e *Engine) cancelPending(ctx context.Context) error {
	if e.pos.OpenOrderID == "" {
		return nil
	}
	err := e.broker.CancelOrder(ctx, e.cfg.Symbol, e.pos.OpenOrderID)
	if err != nil && !errors.Is(err, ports.ErrOrderNotFound) && !errors.Is(err, ports.ErrOrderNotCancelable) {
		return err
	}
	e.pos.OpenOrderID = ""
	return nil
}

func (e *Engine) clear() {
	e.pos = PositionState{Side: domain.SideNone}
}
