package threshold

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"altBarsBot/internal/domain"
	"altBarsBot/internal/ports"
)

type mockLogger struct {
	infoMsgs []string
}

func (m *mockLogger) Debug(ctx context.Context, msg string, fields ...map[string]interface{}) {}
func (m *mockLogger) Info(ctx context.Context, msg string, fields ...map[string]interface{}) {
	m.infoMsgs = append(m.infoMsgs, msg)
}
func (m *mockLogger) Warn(ctx context.Context, msg string, fields ...map[string]interface{}) {}
func (m *mockLogger) Error(ctx context.Context, err error, msg string, fields ...map[string]interface{}) {
}

type mockMarketData struct {
	mock.Mock
}

func (m *mockMarketData) GetDailyBars(ctx context.Context, symbol string, days int) ([]domain.DailyBar, error) {
	args := m.Called(ctx, symbol, days)
	bars, _ := args.Get(0).([]domain.DailyBar)
	return bars, args.Error(1)
}

func constantDays(n int, volume, dollars, trades float64) []domain.DailyBar {
	days := make([]domain.DailyBar, n)
	start := time.Date(2024, 2, 26, 0, 0, 0, 0, time.UTC)
	for i := range days {
		days[i] = domain.DailyBar{Date: start.AddDate(0, 0, i), Volume: volume, DollarValue: dollars, TradeCount: trades}
	}
	return days
}

func TestCompute(t *testing.T) {
	days := constantDays(5, 2_500_020, 450_000_010, 60_010)

	tests := []struct {
		name    string
		days    []domain.DailyBar
		barType domain.BarType
		want    int64
		wantErr error
	}{
		{name: "volume bars", days: days, barType: domain.VolumeBar, want: 50_000},
		{name: "dollar bars", days: days, barType: domain.DollarBar, want: 9_000_000},
		{name: "tick bars", days: days, barType: domain.TickBar, want: 1_200},
		{name: "floored", days: constantDays(3, 149, 0, 0), barType: domain.VolumeBar, want: 2},
		{name: "never below one", days: constantDays(3, 10, 0, 0), barType: domain.VolumeBar, want: 1},
		{name: "no history", days: nil, barType: domain.VolumeBar, wantErr: ErrNoHistory},
		{name: "bad bar type", days: days, barType: "time_bar", wantErr: ports.ErrConfiguration},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := Compute(tt.days, tt.barType, 5, 50)
			if tt.wantErr != nil {
				assert.ErrorIs(t, err, tt.wantErr)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestCompute_WeightsRecentDays(t *testing.T) {
	days := constantDays(5, 0, 0, 0)
	for i := range days {
		days[i].Volume = float64(i+1) * 1000
	}
	// span 5: weights 1, 2/3, 4/9, 8/27, 16/81 from the newest day back
	num := 5000 + 4000*2.0/3 + 3000*4.0/9 + 2000*8.0/27 + 1000*16.0/81
	den := 1 + 2.0/3 + 4.0/9 + 8.0/27 + 16.0/81

	got, err := Compute(days, domain.VolumeBar, 5, 10)
	require.NoError(t, err)
	assert.Equal(t, int64(num/den/10), got)
	assert.Greater(t, got, int64(300), "recent days weigh more than the plain mean")
}

func TestCompute_InvalidParameters(t *testing.T) {
	days := constantDays(5, 1000, 0, 0)
	_, err := Compute(days, domain.VolumeBar, 0, 50)
	assert.ErrorIs(t, err, ports.ErrConfiguration)
	_, err = Compute(days, domain.VolumeBar, 5, 0)
	assert.ErrorIs(t, err, ports.ErrConfiguration)
}

func TestResolver(t *testing.T) {
	ctx := context.Background()

	t.Run("fixed threshold skips market data", func(t *testing.T) {
		data := &mockMarketData{}
		r, err := NewResolver(data, 0, 0, &mockLogger{})
		require.NoError(t, err)

		got, err := r.Resolve(ctx, "AAPL", domain.VolumeBar, 5000)
		require.NoError(t, err)
		assert.Equal(t, int64(5000), got)
		data.AssertNotCalled(t, "GetDailyBars", mock.Anything, mock.Anything, mock.Anything)
	})

	t.Run("dynamic threshold uses span days", func(t *testing.T) {
		data := &mockMarketData{}
		data.On("GetDailyBars", mock.Anything, "TSLA", DefaultSpanDays).
			Return(constantDays(5, 1_000_010, 0, 0), nil)
		logger := &mockLogger{}
		r, err := NewResolver(data, 0, 0, logger)
		require.NoError(t, err)

		got, err := r.Resolve(ctx, "TSLA", domain.VolumeBar, 0)
		require.NoError(t, err)
		assert.Equal(t, int64(20_000), got)
		assert.Contains(t, logger.infoMsgs, "Computed dynamic threshold")
		data.AssertExpectations(t)
	})

	t.Run("market data failure", func(t *testing.T) {
		data := &mockMarketData{}
		data.On("GetDailyBars", mock.Anything, "AMZN", 3).
			Return(nil, ports.ErrRateLimited)
		r, err := NewResolver(data, 3, 20, &mockLogger{})
		require.NoError(t, err)

		_, err = r.Resolve(ctx, "AMZN", domain.TickBar, 0)
		assert.ErrorIs(t, err, ports.ErrRateLimited)
	})

	t.Run("constructor validation", func(t *testing.T) {
		_, err := NewResolver(nil, 5, 50, &mockLogger{})
		assert.ErrorIs(t, err, ports.ErrConfiguration)
		_, err = NewResolver(&mockMarketData{}, -1, 50, &mockLogger{})
		assert.True(t, errors.Is(err, ports.ErrConfiguration))
	})
}
