package domain

// OrderSide represents the side of an order (BUY or SELL).
type OrderSide string

const (
	Buy  OrderSide = "BUY"
	Sell OrderSide = "SELL"
)

// PositionSide represents the direction of an open position.
type PositionSide string

const (
	SideNone  PositionSide = "none"
	SideLong  PositionSide = "long"
	SideShort PositionSide = "short"
)

// Opposite returns the reverse direction. SideNone has no opposite and is returned unchanged.
func (s PositionSide) Opposite() PositionSide {
	switch s {
	case SideLong:
		return SideShort
	case SideShort:
		return SideLong
	default:
		return SideNone
	}
}

// EntryOrderSide returns the order side that opens (or adds to) a position of this direction.
func (s PositionSide) EntryOrderSide() OrderSide {
	if s == SideShort {
		return Sell
	}
	return Buy
}

// CloseReason indicates why a position was closed.
type CloseReason string

const (
	CloseReasonStopLoss    CloseReason = "SL"
	CloseReasonTakeProfit  CloseReason = "TP"
	CloseReasonReversal    CloseReason = "REVERSAL"     // Opposite signal fired while the position was open
	CloseReasonMarketClose CloseReason = "MARKET_CLOSE" // Position closed due to approaching market close
	CloseReasonStartup     CloseReason = "STARTUP"      // Leftover exposure flattened before trading starts
)
