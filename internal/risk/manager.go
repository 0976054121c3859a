// Package risk derives volatility-scaled stop-loss and take-profit levels.
package risk

import (
	"fmt"
	"math"

	"altBarsBot/internal/domain"
)

// Levels are the exit prices of an open position.
type Levels struct {
	StopLoss   float64
	TakeProfit float64
}

// NewLevels computes exit levels around lastClose. The distance of each level is
// lastClose · multiplier · volatility; a long position has its target above and stop below,
// a short position the reverse.
func NewLevels(side domain.PositionSide, lastClose, takeProfitMult, stopLossMult, volatility float64) (Levels, error) {
	if side != domain.SideLong && side != domain.SideShort {
		return Levels{}, fmt.Errorf("cannot compute levels for side %q", side)
	}
	if math.IsNaN(volatility) || math.IsInf(volatility, 0) || volatility <= 0 {
		return Levels{}, fmt.Errorf("volatility %v is not usable", volatility)
	}
	if lastClose <= 0 {
		return Levels{}, fmt.Errorf("last close %v must be positive", lastClose)
	}
	isLong := side == domain.SideLong
	return Levels{
		StopLoss:   GetStopLoss(lastClose, stopLossMult*volatility, isLong),
		TakeProfit: GetTakeProfit(lastClose, takeProfitMult*volatility, isLong),
	}, nil
}

// GetStopLoss calculates the stop loss price for a position
func GetStopLoss(entryPrice, fraction float64, isLong bool) float64 {
	if isLong {
		return entryPrice - entryPrice*fraction
	}
	return entryPrice + entryPrice*fraction
}

// GetTakeProfit calculates the take profit price for a position
func GetTakeProfit(entryPrice, fraction float64, isLong bool) float64 {
	if isLong {
		return entryPrice + entryPrice*fraction
	}
	return entryPrice - entryPrice*fraction
}

// Breached reports whether price has reached either level, and which one.
// Touching a level counts as reaching it.
func (l Levels) Breached(side domain.PositionSide, price float64) (domain.CloseReason, bool) {
	switch side {
	case domain.SideLong:
		if price <= l.StopLoss {
			return domain.CloseReasonStopLoss, true
		}
		if price >= l.TakeProfit {
			return domain.CloseReasonTakeProfit, true
		}
	case domain.SideShort:
		if price >= l.StopLoss {
			return domain.CloseReasonStopLoss, true
		}
		if price <= l.TakeProfit {
			return domain.CloseReasonTakeProfit, true
		}
	}
	return "", false
}
