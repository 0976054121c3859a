package app

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"altBarsBot/config"
	"altBarsBot/internal/bars"
	"altBarsBot/internal/domain"
	"altBarsBot/internal/metrics"
	"altBarsBot/internal/ports"
	"altBarsBot/internal/strategy"
	"altBarsBot/internal/threshold"
)

const (
	tickBufferSize      = 4096
	streamShutdownGrace = 5 * time.Second
)

// pipeline is the per-instrument processing chain. engine is nil when trading is disabled.
type pipeline struct {
	instrument config.Instrument
	aggregator *bars.Aggregator
	engine     *strategy.Engine
}

// TradingService wires the tick stream to one aggregator and strategy engine per instrument.
// All pipeline state is owned by the goroutine running Start.
type TradingService struct {
	cfg      *config.Config
	logger   ports.Logger
	broker   ports.BrokerGateway
	ticks    ports.TickSource
	store    ports.BarStore
	resolver *threshold.Resolver

	pipelines map[string]*pipeline
	order     []string // Symbols in configuration order

	sessionClose time.Time // Close of the session being traded
	liquidated   bool      // LiquidateAll already ran for this session
}

// NewTradingService creates a new application service instance. broker may be nil when
// trading is disabled; it is then only used to follow the session clock.
func NewTradingService(
	cfg *config.Config,
	logger ports.Logger,
	broker ports.BrokerGateway,
	data ports.MarketDataClient,
	ticks ports.TickSource,
	store ports.BarStore,
) (*TradingService, error) {
	if cfg == nil || logger == nil || data == nil || ticks == nil || store == nil {
		return nil, fmt.Errorf("%w: missing required dependencies for TradingService", ports.ErrConfiguration)
	}
	if cfg.TradingEnabled && broker == nil {
		return nil, fmt.Errorf("%w: a broker gateway is required when trading is enabled", ports.ErrConfiguration)
	}
	if len(cfg.Instruments) == 0 {
		return nil, fmt.Errorf("%w: no instruments configured", ports.ErrConfiguration)
	}
	if cfg.ClockPollInterval <= 0 {
		return nil, fmt.Errorf("%w: clock poll interval must be positive", ports.ErrConfiguration)
	}

	resolver, err := threshold.NewResolver(data, cfg.ThresholdSpanDays, cfg.BarsPerDay, logger)
	if err != nil {
		return nil, err
	}

	return &TradingService{
		cfg:       cfg,
		logger:    logger,
		broker:    broker,
		ticks:     ticks,
		store:     store,
		resolver:  resolver,
		pipelines: make(map[string]*pipeline, len(cfg.Instruments)),
	}, nil
}

// Start runs the service until ctx is cancelled, a shutdown signal arrives or the tick stream stops.
func (s *TradingService) Start(ctx context.Context) error {
	s.logger.Info(ctx, "Starting Trading Service...", map[string]interface{}{
		"instruments":    len(s.cfg.Instruments),
		"tradingEnabled": s.cfg.TradingEnabled,
	})

	// Create a context that can be canceled by signals
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	// Handle graceful shutdown
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigCh)
	go func() {
		select {
		case sig := <-sigCh:
			s.logger.Info(ctx, "Received shutdown signal", map[string]interface{}{"signal": sig.String()})
			cancel()
		case <-ctx.Done():
		}
	}()

	// --- Initialization Steps ---
	if s.cfg.TradingEnabled {
		clock, err := s.waitForOpen(ctx)
		if err != nil {
			if ctx.Err() != nil {
				s.logger.Info(ctx, "Shutdown requested before market open")
				return nil
			}
			return err
		}
		s.sessionClose = clock.NextClose
	}

	if err := s.setup(ctx); err != nil {
		return err
	}

	if s.cfg.TradingEnabled {
		// Leftover exposure from a previous run is closed before the first signal.
		if err := s.flattenAll(ctx, domain.CloseReasonStartup); err != nil {
			return fmt.Errorf("failed to flatten positions at startup: %w", err)
		}
	}

	// --- Start Trade Stream ---
	tickCh := make(chan domain.Tick, tickBufferSize)
	handler := func(tick domain.Tick) {
		select {
		case tickCh <- tick:
		case <-ctx.Done():
		}
	}
	doneCh, err := s.ticks.StreamTrades(ctx, s.order, handler, s.handleStreamError)
	if err != nil {
		s.logger.Error(ctx, err, "Failed to start trade stream")
		return fmt.Errorf("failed to start trade stream: %w", err)
	}
	s.logger.Info(ctx, "Trade stream started", map[string]interface{}{"symbols": s.order})

	return s.run(ctx, tickCh, doneCh)
}

// run is the dispatcher loop. Ticks and clock polls are handled on this goroutine only.
func (s *TradingService) run(ctx context.Context, tickCh <-chan domain.Tick, doneCh <-chan struct{}) error {
	ticker := time.NewTicker(s.cfg.ClockPollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			s.logger.Info(ctx, "Main context cancelled, initiating shutdown...")
			select {
			case <-doneCh:
				s.logger.Info(ctx, "Trade stream shut down gracefully")
			case <-time.After(streamShutdownGrace):
				s.logger.Warn(ctx, "Timeout waiting for trade stream to shut down")
			}
			s.logger.Info(ctx, "Trading Service stopped.")
			return nil
		case <-doneCh:
			if ctx.Err() != nil {
				s.logger.Info(ctx, "Trade stream stopped on shutdown")
				return nil
			}
			err := errors.New("trade stream stopped unexpectedly")
			s.logger.Error(ctx, err, "Trade stream stopped")
			return err
		case tick := <-tickCh:
			if err := s.HandleTick(ctx, tick); err != nil {
				return err
			}
		case <-ticker.C:
			s.onClock(ctx)
		}
	}
}

// setup resolves thresholds and builds every pipeline.
func (s *TradingService) setup(ctx context.Context) error {
	for _, inst := range s.cfg.Instruments {
		th, err := s.resolver.Resolve(ctx, inst.Symbol, inst.BarType, inst.Threshold)
		if err != nil {
			s.logger.Error(ctx, err, "Failed to resolve bar threshold", map[string]interface{}{"symbol": inst.Symbol, "barType": inst.BarType})
			return fmt.Errorf("threshold for %s: %w", inst.Symbol, err)
		}

		agg, err := bars.NewAggregator(inst.BarType, th, s.store.Sink(inst.BarType), s.logger)
		if err != nil {
			return fmt.Errorf("aggregator for %s: %w", inst.Symbol, err)
		}
		p := &pipeline{instrument: inst, aggregator: agg}

		if s.cfg.TradingEnabled {
			p.engine, err = strategy.New(ctx, strategy.Config{
				Symbol:         inst.Symbol,
				BarType:        inst.BarType,
				TakeProfitMult: inst.TakeProfit,
				StopLossMult:   inst.StopLoss,
				Qty:            inst.Qty,
				WindowSize:     inst.WindowSize,
				WindowCapacity: s.cfg.WindowCapacity,
				EntryCutoff:    s.cfg.EntryCutoff,
			}, s.broker, s.store, s.logger)
			if err != nil {
				return fmt.Errorf("strategy for %s: %w", inst.Symbol, err)
			}
		}

		s.pipelines[inst.Symbol] = p
		s.order = append(s.order, inst.Symbol)
		s.logger.Info(ctx, "Pipeline ready", map[string]interface{}{
			"symbol":    inst.Symbol,
			"barType":   inst.BarType,
			"threshold": th,
			"trading":   p.engine != nil,
		})
	}
	return nil
}

// HandleTick runs one trade print through its instrument's pipeline: aggregate, check the
// exit levels at the tick price, then deliver a completed bar to the strategy.
// Only an undefined VWAP is returned as an error; it means the aggregator state is corrupt.
func (s *TradingService) HandleTick(ctx context.Context, tick domain.Tick) error {
	if !tick.Valid() {
		metrics.TicksDiscarded.WithLabelValues(tick.Symbol).Inc()
		s.logger.Debug(ctx, "Discarding invalid tick", map[string]interface{}{"symbol": tick.Symbol, "price": tick.Price, "size": tick.Size})
		return nil
	}
	p, ok := s.pipelines[tick.Symbol]
	if !ok {
		metrics.TicksDiscarded.WithLabelValues(tick.Symbol).Inc()
		s.logger.Debug(ctx, "Discarding tick for unconfigured symbol", map[string]interface{}{"symbol": tick.Symbol})
		return nil
	}
	metrics.TicksTotal.WithLabelValues(tick.Symbol).Inc()

	bar, err := p.aggregator.Aggregate(ctx, tick)
	if err != nil {
		s.logger.Error(ctx, err, "Aggregation failed", map[string]interface{}{"symbol": tick.Symbol})
		if errors.Is(err, ports.ErrDivisionUndefined) {
			return fmt.Errorf("aggregating %s: %w", tick.Symbol, err)
		}
		return nil
	}

	if p.engine != nil {
		if err := p.engine.CheckRisk(ctx, tick.Price); err != nil {
			s.logger.Debug(ctx, "Risk check did not complete", map[string]interface{}{"symbol": tick.Symbol, "error": err.Error()})
		}
	}
	if bar == nil {
		return nil
	}

	metrics.BarsTotal.WithLabelValues(bar.Symbol, string(p.instrument.BarType)).Inc()
	s.logger.Debug(ctx, "Bar completed", map[string]interface{}{
		"symbol":  bar.Symbol,
		"barType": p.instrument.BarType,
		"close":   bar.Close,
		"vwap":    bar.VWAP,
		"ticks":   bar.Tick,
	})
	if p.engine != nil {
		if err := p.engine.OnBar(ctx, *bar); err != nil {
			s.logger.Debug(ctx, "Bar signal not acted on", map[string]interface{}{"symbol": bar.Symbol, "error": err.Error()})
		}
	}
	return nil
}

// onClock polls the session clock: it starts a new session once the close moves forward and
// flattens everything shortly before the close. Collect-only mode only follows sessions, and
// without a broker it keeps the startup thresholds.
func (s *TradingService) onClock(ctx context.Context) {
	if s.broker == nil {
		return
	}
	clock, err := s.broker.GetClock(ctx)
	if err != nil {
		s.logger.Warn(ctx, "Clock poll failed", map[string]interface{}{"error": err.Error()})
		return
	}
	if !clock.IsOpen {
		return
	}

	if !clock.NextClose.Equal(s.sessionClose) {
		if !s.sessionClose.IsZero() {
			s.ResetSession(ctx)
		}
		s.sessionClose = clock.NextClose
	}

	if s.cfg.TradingEnabled && !s.liquidated && clock.UntilClose() <= s.cfg.LiquidateBeforeClose {
		s.logger.Info(ctx, "Session close approaching, liquidating", map[string]interface{}{"untilClose": clock.UntilClose().String()})
		if err := s.LiquidateAll(ctx); err != nil {
			s.logger.Error(ctx, err, "Liquidation before close incomplete, will retry")
		}
	}
}

// LiquidateAll flattens every instrument ahead of the session close. It is marked done for the
// session only when every instrument was flattened.
func (s *TradingService) LiquidateAll(ctx context.Context) error {
	if err := s.flattenAll(ctx, domain.CloseReasonMarketClose); err != nil {
		return err
	}
	s.liquidated = true
	return nil
}

// ResetSession re-arms the session liquidation and refreshes dynamic thresholds.
// A threshold that cannot be recomputed keeps its previous value.
func (s *TradingService) ResetSession(ctx context.Context) {
	s.liquidated = false
	for _, symbol := range s.order {
		p := s.pipelines[symbol]
		th, err := s.resolver.Resolve(ctx, symbol, p.instrument.BarType, p.instrument.Threshold)
		if err != nil {
			s.logger.Warn(ctx, "Keeping previous threshold", map[string]interface{}{
				"symbol":    symbol,
				"threshold": p.aggregator.Threshold(),
				"error":     err.Error(),
			})
			continue
		}
		if err := p.aggregator.SetThreshold(th); err != nil {
			s.logger.Warn(ctx, "Rejected new threshold", map[string]interface{}{"symbol": symbol, "threshold": th, "error": err.Error()})
		}
	}
	s.logger.Info(ctx, "New session started")
}

func (s *TradingService) flattenAll(ctx context.Context, reason domain.CloseReason) error {
	var errs []error
	for _, symbol := range s.order {
		p := s.pipelines[symbol]
		if p.engine == nil {
			continue
		}
		if err := p.engine.Flatten(ctx, reason); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// waitForOpen blocks until the broker reports an open session.
func (s *TradingService) waitForOpen(ctx context.Context) (*domain.Clock, error) {
	for {
		clock, err := s.broker.GetClock(ctx)
		if err != nil {
			s.logger.Error(ctx, err, "Failed to query market clock")
			return nil, fmt.Errorf("failed to query market clock: %w", err)
		}
		if clock.IsOpen {
			s.logger.Info(ctx, "Market is open", map[string]interface{}{"nextClose": clock.NextClose})
			return clock, nil
		}

		wait := clock.UntilOpen()
		if wait <= 0 || wait > s.cfg.ClockPollInterval {
			wait = s.cfg.ClockPollInterval
		}
		s.logger.Info(ctx, "Waiting for market open", map[string]interface{}{"nextOpen": clock.NextOpen, "recheckIn": wait.String()})
		select {
		case <-time.After(wait):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
}

// handleStreamError handles errors reported by the trade stream. Reconnection is the adapter's job.
func (s *TradingService) handleStreamError(err error) {
	s.logger.Error(context.Background(), err, "Trade stream error reported")
}
