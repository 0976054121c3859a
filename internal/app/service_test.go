package app

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"altBarsBot/config"
	"altBarsBot/internal/domain"
	"altBarsBot/internal/ports"
	"altBarsBot/internal/strategy"
)

// Mock implementations
type mockLogger struct {
	mu        sync.Mutex
	infoMsgs  []string
	warnMsgs  []string
	errorMsgs []string
}

func (m *mockLogger) Debug(ctx context.Context, msg string, fields ...map[string]interface{}) {}

func (m *mockLogger) Info(ctx context.Context, msg string, fields ...map[string]interface{}) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.infoMsgs = append(m.infoMsgs, msg)
}

func (m *mockLogger) Warn(ctx context.Context, msg string, fields ...map[string]interface{}) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.warnMsgs = append(m.warnMsgs, msg)
}

func (m *mockLogger) Error(ctx context.Context, err error, msg string, fields ...map[string]interface{}) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.errorMsgs = append(m.errorMsgs, msg)
}

func (m *mockLogger) errors() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]string(nil), m.errorMsgs...)
}

var sessionStart = time.Date(2024, 3, 1, 15, 0, 0, 0, time.UTC)

func openClock(untilClose time.Duration) domain.Clock {
	return domain.Clock{
		Timestamp: sessionStart,
		IsOpen:    true,
		NextOpen:  sessionStart.Add(24 * time.Hour),
		NextClose: sessionStart.Add(untilClose),
	}
}

type mockBroker struct {
	mu        sync.Mutex
	clocks    []domain.Clock // Served in order; the last one repeats
	clockErr  error
	closeErr  error
	cancelAll map[string]int
	closes    map[string]int
	positions map[string]*domain.Position
	calls     []string // "submit <symbol>" and "close <symbol>", in call order
}

func newMockBroker(clocks ...domain.Clock) *mockBroker {
	if len(clocks) == 0 {
		clocks = []domain.Clock{openClock(2 * time.Hour)}
	}
	return &mockBroker{
		clocks:    clocks,
		cancelAll: map[string]int{},
		closes:    map[string]int{},
		positions: map[string]*domain.Position{},
	}
}

func (m *mockBroker) GetPosition(ctx context.Context, symbol string) (*domain.Position, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	pos, ok := m.positions[symbol]
	if !ok {
		return nil, ports.ErrPositionNotFound
	}
	p := *pos
	return &p, nil
}

// SubmitOrder fills immediately.
func (m *mockBroker) SubmitOrder(ctx context.Context, symbol string, qty int64, side domain.OrderSide) (*domain.Order, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls = append(m.calls, "submit "+symbol)
	posSide := domain.SideLong
	if side == domain.Sell {
		posSide = domain.SideShort
	}
	m.positions[symbol] = &domain.Position{Symbol: symbol, Side: posSide, Qty: float64(qty)}
	return &domain.Order{ID: "1", Symbol: symbol, Side: side, Qty: qty, Status: domain.OrderStatusFilled}, nil
}

func (m *mockBroker) GetOrder(ctx context.Context, symbol, orderID string) (*domain.Order, error) {
	return nil, ports.ErrOrderNotFound
}

func (m *mockBroker) CancelOrder(ctx context.Context, symbol, orderID string) error { return nil }

func (m *mockBroker) CancelOpenOrders(ctx context.Context, symbol string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.cancelAll[symbol]++
	return nil
}

func (m *mockBroker) ClosePosition(ctx context.Context, symbol string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closes[symbol]++
	m.calls = append(m.calls, "close "+symbol)
	if m.closeErr != nil {
		return m.closeErr
	}
	if _, ok := m.positions[symbol]; !ok {
		return ports.ErrPositionNotFound
	}
	delete(m.positions, symbol)
	return nil
}

func (m *mockBroker) GetClock(ctx context.Context) (*domain.Clock, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.clockErr != nil {
		return nil, m.clockErr
	}
	c := m.clocks[0]
	if len(m.clocks) > 1 {
		m.clocks = m.clocks[1:]
	}
	return &c, nil
}

func (m *mockBroker) setClocks(clocks ...domain.Clock) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.clocks = clocks
}

func (m *mockBroker) takeCalls() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	calls := m.calls
	m.calls = nil
	return calls
}

func (m *mockBroker) cancelAllCount(symbol string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.cancelAll[symbol]
}

type mockData struct {
	mu   sync.Mutex
	days map[string][]domain.DailyBar
	err  error
}

func (m *mockData) GetDailyBars(ctx context.Context, symbol string, days int) ([]domain.DailyBar, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return nil, m.err
	}
	return m.days[symbol], nil
}

type mockStream struct {
	handler  func(domain.Tick)
	started  chan struct{}
	startErr error
	done     chan struct{}
	symbols  []string
}

func newMockStream() *mockStream {
	return &mockStream{started: make(chan struct{}), done: make(chan struct{})}
}

func (m *mockStream) StreamTrades(ctx context.Context, symbols []string, handler func(tick domain.Tick), errHandler func(err error)) (<-chan struct{}, error) {
	if m.startErr != nil {
		return nil, m.startErr
	}
	m.handler = handler
	m.symbols = symbols
	go func() {
		<-ctx.Done()
		select {
		case <-m.done:
		default:
			close(m.done)
		}
	}()
	close(m.started)
	return m.done, nil
}

type memoryStore struct {
	mu      sync.Mutex
	bars    map[domain.BarType][]domain.Bar
	history map[string][]domain.PricePoint
}

type memorySink struct {
	store   *memoryStore
	barType domain.BarType
}

func (s memorySink) Append(ctx context.Context, bar domain.Bar) error {
	s.store.mu.Lock()
	defer s.store.mu.Unlock()
	s.store.bars[s.barType] = append(s.store.bars[s.barType], bar)
	return nil
}

func newMemoryStore() *memoryStore {
	return &memoryStore{bars: map[domain.BarType][]domain.Bar{}, history: map[string][]domain.PricePoint{}}
}

func (m *memoryStore) Sink(barType domain.BarType) ports.BarSink {
	return memorySink{store: m, barType: barType}
}

func (m *memoryStore) LoadCloses(ctx context.Context, symbol string, barType domain.BarType) ([]domain.PricePoint, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]domain.PricePoint(nil), m.history[symbol]...), nil
}

func (m *memoryStore) Close() error { return nil }

func (m *memoryStore) count(barType domain.BarType) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.bars[barType])
}

func testInstrument(symbol string, threshold int64) config.Instrument {
	return config.Instrument{
		Symbol:     symbol,
		BarType:    domain.TickBar,
		Qty:        10,
		WindowSize: 10,
		TakeProfit: 2,
		StopLoss:   1,
		Threshold:  threshold,
	}
}

func testConfig(trading bool, instruments ...config.Instrument) *config.Config {
	return &config.Config{
		Instruments:          instruments,
		TradingEnabled:       trading,
		BarsPerDay:           50,
		ThresholdSpanDays:    5,
		EntryCutoff:          30 * time.Minute,
		LiquidateBeforeClose: 10 * time.Minute,
		ClockPollInterval:    10 * time.Millisecond,
		WindowCapacity:       100,
	}
}

type fixture struct {
	svc    *TradingService
	logger *mockLogger
	broker *mockBroker
	data   *mockData
	stream *mockStream
	store  *memoryStore
}

func newFixture(t *testing.T, cfg *config.Config) *fixture {
	t.Helper()
	f := &fixture{
		logger: &mockLogger{},
		broker: newMockBroker(),
		data:   &mockData{days: map[string][]domain.DailyBar{}},
		stream: newMockStream(),
		store:  newMemoryStore(),
	}
	svc, err := NewTradingService(cfg, f.logger, f.broker, f.data, f.stream, f.store)
	require.NoError(t, err)
	f.svc = svc
	return f
}

func tick(symbol string, price float64) domain.Tick {
	return domain.Tick{Symbol: symbol, Price: price, Size: 1, Timestamp: sessionStart}
}

func TestNewTradingService(t *testing.T) {
	logger := &mockLogger{}
	data := &mockData{}
	stream := newMockStream()
	store := newMemoryStore()
	cfg := testConfig(true, testInstrument("AAPL", 3))

	_, err := NewTradingService(nil, logger, newMockBroker(), data, stream, store)
	assert.ErrorIs(t, err, ports.ErrConfiguration)

	_, err = NewTradingService(cfg, logger, nil, data, stream, store)
	assert.ErrorIs(t, err, ports.ErrConfiguration, "trading requires a broker")

	_, err = NewTradingService(testConfig(false, testInstrument("AAPL", 3)), logger, nil, data, stream, store)
	assert.NoError(t, err, "collect-only mode runs without a broker")

	_, err = NewTradingService(testConfig(true), logger, newMockBroker(), data, stream, store)
	assert.ErrorIs(t, err, ports.ErrConfiguration, "no instruments")

	badPoll := testConfig(true, testInstrument("AAPL", 3))
	badPoll.ClockPollInterval = 0
	_, err = NewTradingService(badPoll, logger, newMockBroker(), data, stream, store)
	assert.ErrorIs(t, err, ports.ErrConfiguration)
}

func TestSetupThresholds(t *testing.T) {
	f := newFixture(t, testConfig(true, testInstrument("AAPL", 3), testInstrument("AMZN", 0)))
	f.data.days["AMZN"] = []domain.DailyBar{{TradeCount: 5000}}

	require.NoError(t, f.svc.setup(context.Background()))

	assert.Equal(t, []string{"AAPL", "AMZN"}, f.svc.order)
	assert.Equal(t, int64(3), f.svc.pipelines["AAPL"].aggregator.Threshold())
	assert.Equal(t, int64(100), f.svc.pipelines["AMZN"].aggregator.Threshold())
	assert.NotNil(t, f.svc.pipelines["AAPL"].engine)
}

func TestSetupFailsWithoutHistory(t *testing.T) {
	f := newFixture(t, testConfig(true, testInstrument("AAPL", 0)))
	f.data.err = errors.New("data api down")

	err := f.svc.setup(context.Background())
	require.Error(t, err)
	assert.Contains(t, f.logger.errors(), "Failed to resolve bar threshold")
}

func TestHandleTick(t *testing.T) {
	f := newFixture(t, testConfig(false, testInstrument("AAPL", 3)))
	ctx := context.Background()
	require.NoError(t, f.svc.setup(ctx))
	assert.Nil(t, f.svc.pipelines["AAPL"].engine, "collect-only pipelines have no engine")

	t.Run("invalid and unknown ticks are discarded", func(t *testing.T) {
		require.NoError(t, f.svc.HandleTick(ctx, domain.Tick{Symbol: "AAPL", Price: 0, Size: 5}))
		require.NoError(t, f.svc.HandleTick(ctx, domain.Tick{Symbol: "AAPL", Price: 10, Size: 0}))
		require.NoError(t, f.svc.HandleTick(ctx, tick("MSFT", 10)))
		assert.Zero(t, f.svc.pipelines["AAPL"].aggregator.Counters().Tick)
	})

	t.Run("bar is stored at the threshold", func(t *testing.T) {
		for _, p := range []float64{10, 11, 9} {
			require.NoError(t, f.svc.HandleTick(ctx, tick("AAPL", p)))
		}
		assert.Equal(t, 1, f.store.count(domain.TickBar))
		assert.Zero(t, f.svc.pipelines["AAPL"].aggregator.Counters().Tick)
	})
}

// flatCloses alternates between 100 and 100.1 inside one hour so the seeded engine is active
// with a small, non-zero volatility.
func flatCloses(n int) []domain.PricePoint {
	start := time.Date(2024, 2, 29, 10, 0, 0, 0, time.UTC)
	points := make([]domain.PricePoint, n)
	for i := range points {
		price := 100.0
		if i%2 == 1 {
			price = 100.1
		}
		points[i] = domain.PricePoint{Timestamp: start.Add(time.Duration(i) * time.Minute), Price: price}
	}
	return points
}

func TestHandleTick_RiskCheckedBeforeSignal(t *testing.T) {
	f := newFixture(t, testConfig(true, testInstrument("AAPL", 3)))
	f.store.history["AAPL"] = flatCloses(11)
	ctx := context.Background()
	require.NoError(t, f.svc.setup(ctx))
	p := f.svc.pipelines["AAPL"]
	require.NotNil(t, p.engine)
	require.Equal(t, strategy.StateActive, p.engine.State())

	require.NoError(t, p.engine.Enter(ctx, domain.SideLong))
	require.Equal(t, []string{"submit AAPL"}, f.broker.takeCalls())
	levels := p.engine.Position().Levels
	require.NotNil(t, levels)

	t.Run("exit level checked on a tick that completes no bar", func(t *testing.T) {
		require.NoError(t, f.svc.HandleTick(ctx, tick("AAPL", levels.TakeProfit+1)))

		assert.Equal(t, int64(1), p.aggregator.Counters().Tick, "bar still open")
		assert.Zero(t, f.store.count(domain.TickBar))
		assert.Equal(t, []string{"close AAPL"}, f.broker.takeCalls())
		assert.Equal(t, domain.SideNone, p.engine.Position().Side)
	})

	t.Run("exit precedes entry on a bar-completing tick", func(t *testing.T) {
		require.NoError(t, p.engine.Enter(ctx, domain.SideLong))
		require.Equal(t, []string{"submit AAPL"}, f.broker.takeCalls())
		levels := p.engine.Position().Levels
		require.NotNil(t, levels)

		require.NoError(t, f.svc.HandleTick(ctx, tick("AAPL", 100)))
		assert.Empty(t, f.broker.takeCalls(), "price inside the levels")

		// Breaches the target and breaks out above the band.
		breakout := 120.0
		require.Greater(t, breakout, levels.TakeProfit)
		require.NoError(t, f.svc.HandleTick(ctx, tick("AAPL", breakout)))

		assert.Equal(t, 1, f.store.count(domain.TickBar))
		assert.Equal(t, []string{"close AAPL", "submit AAPL"}, f.broker.takeCalls())
		pos := p.engine.Position()
		assert.Equal(t, domain.SideLong, pos.Side)
		require.NotNil(t, pos.Levels)
		assert.Greater(t, pos.Levels.TakeProfit, breakout, "levels re-derived from the new close")
	})
}

func TestLiquidateAllAndResetSession(t *testing.T) {
	f := newFixture(t, testConfig(true, testInstrument("AAPL", 3), testInstrument("AMZN", 0)))
	f.data.days["AMZN"] = []domain.DailyBar{{TradeCount: 5000}}
	ctx := context.Background()
	require.NoError(t, f.svc.setup(ctx))
	f.svc.sessionClose = sessionStart.Add(2 * time.Hour)

	// Far from the close nothing happens.
	f.broker.setClocks(openClock(2 * time.Hour))
	f.svc.onClock(ctx)
	assert.Zero(t, f.broker.cancelAllCount("AAPL"))

	// Inside the liquidation window every instrument is flattened once.
	f.broker.setClocks(domain.Clock{Timestamp: sessionStart.Add(115 * time.Minute), IsOpen: true, NextClose: sessionStart.Add(2 * time.Hour)})
	f.svc.onClock(ctx)
	f.svc.onClock(ctx)
	assert.Equal(t, 1, f.broker.cancelAllCount("AAPL"))
	assert.Equal(t, 1, f.broker.cancelAllCount("AMZN"))
	assert.True(t, f.svc.liquidated)

	// Closed market: nothing changes.
	f.broker.setClocks(domain.Clock{Timestamp: sessionStart.Add(3 * time.Hour), NextOpen: sessionStart.Add(24 * time.Hour)})
	f.svc.onClock(ctx)
	assert.True(t, f.svc.liquidated)

	// Next session: thresholds are refreshed and liquidation re-armed.
	f.data.mu.Lock()
	f.data.days["AMZN"] = []domain.DailyBar{{TradeCount: 10000}}
	f.data.mu.Unlock()
	next := sessionStart.Add(24 * time.Hour)
	f.broker.setClocks(domain.Clock{Timestamp: next, IsOpen: true, NextClose: next.Add(6 * time.Hour)})
	f.svc.onClock(ctx)

	assert.False(t, f.svc.liquidated)
	assert.Equal(t, next.Add(6*time.Hour), f.svc.sessionClose)
	assert.Equal(t, int64(200), f.svc.pipelines["AMZN"].aggregator.Threshold())
	assert.Equal(t, int64(3), f.svc.pipelines["AAPL"].aggregator.Threshold())
}

func TestCollectOnlyFollowsSessions(t *testing.T) {
	f := newFixture(t, testConfig(false, testInstrument("AMZN", 0)))
	f.data.days["AMZN"] = []domain.DailyBar{{TradeCount: 5000}}
	ctx := context.Background()
	require.NoError(t, f.svc.setup(ctx))
	require.Nil(t, f.svc.pipelines["AMZN"].engine)

	// First open poll adopts the session; inside the liquidation window nothing is closed.
	f.broker.setClocks(domain.Clock{Timestamp: sessionStart.Add(115 * time.Minute), IsOpen: true, NextClose: sessionStart.Add(2 * time.Hour)})
	f.svc.onClock(ctx)
	assert.Equal(t, sessionStart.Add(2*time.Hour), f.svc.sessionClose)
	assert.Zero(t, f.broker.cancelAllCount("AMZN"))
	assert.Empty(t, f.broker.takeCalls())
	assert.False(t, f.svc.liquidated)

	f.data.mu.Lock()
	f.data.days["AMZN"] = []domain.DailyBar{{TradeCount: 15000}}
	f.data.mu.Unlock()
	next := sessionStart.Add(24 * time.Hour)
	f.broker.setClocks(domain.Clock{Timestamp: next, IsOpen: true, NextClose: next.Add(6 * time.Hour)})
	f.svc.onClock(ctx)

	assert.Equal(t, int64(300), f.svc.pipelines["AMZN"].aggregator.Threshold())
	assert.Contains(t, f.logger.infoMsgs, "New session started")
}

func TestCollectOnlyWithoutBrokerKeepsThresholds(t *testing.T) {
	data := &mockData{days: map[string][]domain.DailyBar{"AMZN": {{TradeCount: 5000}}}}
	svc, err := NewTradingService(testConfig(false, testInstrument("AMZN", 0)), &mockLogger{}, nil, data, newMockStream(), newMemoryStore())
	require.NoError(t, err)
	ctx := context.Background()
	require.NoError(t, svc.setup(ctx))

	data.days["AMZN"] = []domain.DailyBar{{TradeCount: 15000}}
	require.NotPanics(t, func() { svc.onClock(ctx) })
	assert.Equal(t, int64(100), svc.pipelines["AMZN"].aggregator.Threshold())
}

func TestResetSessionKeepsThresholdOnError(t *testing.T) {
	f := newFixture(t, testConfig(true, testInstrument("AMZN", 0)))
	f.data.days["AMZN"] = []domain.DailyBar{{TradeCount: 5000}}
	ctx := context.Background()
	require.NoError(t, f.svc.setup(ctx))

	f.data.err = errors.New("data api down")
	f.svc.ResetSession(ctx)
	assert.Equal(t, int64(100), f.svc.pipelines["AMZN"].aggregator.Threshold())
	assert.Contains(t, f.logger.warnMsgs, "Keeping previous threshold")
}

func TestLiquidateAllFailureIsRetried(t *testing.T) {
	f := newFixture(t, testConfig(true, testInstrument("AAPL", 3)))
	ctx := context.Background()
	require.NoError(t, f.svc.setup(ctx))

	f.broker.closeErr = ports.ErrBrokerUnavailable
	err := f.svc.LiquidateAll(ctx)
	assert.ErrorIs(t, err, ports.ErrBrokerUnavailable)
	assert.False(t, f.svc.liquidated)

	f.broker.closeErr = nil
	require.NoError(t, f.svc.LiquidateAll(ctx))
	assert.True(t, f.svc.liquidated)
}

func TestWaitForOpen(t *testing.T) {
	f := newFixture(t, testConfig(true, testInstrument("AAPL", 3)))
	closed := domain.Clock{Timestamp: sessionStart, NextOpen: sessionStart.Add(time.Millisecond), NextClose: sessionStart.Add(time.Hour)}
	f.broker.setClocks(closed, closed, openClock(time.Hour))

	clock, err := f.svc.waitForOpen(context.Background())
	require.NoError(t, err)
	assert.True(t, clock.IsOpen)

	f.broker.clockErr = ports.ErrConnectionFailed
	_, err = f.svc.waitForOpen(context.Background())
	assert.ErrorIs(t, err, ports.ErrConnectionFailed)
}

func TestStart(t *testing.T) {
	f := newFixture(t, testConfig(true, testInstrument("AAPL", 2)))
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	errCh := make(chan error, 1)
	go func() { errCh <- f.svc.Start(ctx) }()

	select {
	case <-f.stream.started:
	case <-time.After(2 * time.Second):
		t.Fatal("trade stream was not started")
	}
	assert.Equal(t, []string{"AAPL"}, f.stream.symbols)
	assert.Equal(t, 1, f.broker.cancelAllCount("AAPL"), "startup flattens leftover exposure")

	for _, p := range []float64{100, 101, 102, 103} {
		f.stream.handler(tick("AAPL", p))
	}
	assert.Eventually(t, func() bool { return f.store.count(domain.TickBar) == 2 }, 2*time.Second, 5*time.Millisecond)

	cancel()
	select {
	case err := <-errCh:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("service did not stop")
	}
}

func TestStartStreamStopsUnexpectedly(t *testing.T) {
	f := newFixture(t, testConfig(false, testInstrument("AAPL", 2)))
	close(f.stream.done)

	err := f.svc.Start(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "trade stream stopped unexpectedly")
}

func TestStartStreamFailure(t *testing.T) {
	f := newFixture(t, testConfig(false, testInstrument("AAPL", 2)))
	f.stream.startErr = ports.ErrConnectionFailed

	err := f.svc.Start(context.Background())
	assert.ErrorIs(t, err, ports.ErrConnectionFailed)
}
