package domain

import "time"

// Position is the broker's view of an open position.
type Position struct {
	Symbol string       // Trading symbol
	Side   PositionSide // long or short
	Qty    float64      // Absolute position size
}

// OrderStatus is the lifecycle state of an order as reported by the broker.
type OrderStatus string

const (
	OrderStatusNew             OrderStatus = "new"
	OrderStatusAccepted        OrderStatus = "accepted"
	OrderStatusPendingNew      OrderStatus = "pending_new"
	OrderStatusPartiallyFilled OrderStatus = "partially_filled"
	OrderStatusFilled          OrderStatus = "filled"
	OrderStatusCanceled        OrderStatus = "canceled"
	OrderStatusExpired         OrderStatus = "expired"
	OrderStatusRejected        OrderStatus = "rejected"
)

// IsTerminal reports whether the order can no longer change.
func (s OrderStatus) IsTerminal() bool {
	switch s {
	case OrderStatusFilled, OrderStatusCanceled, OrderStatusExpired, OrderStatusRejected:
		return true
	default:
		return false
	}
}

// Order is a submitted order.
type Order struct {
	ID            string // Broker order ID
	ClientOrderID string // Our own ID, sent with the order
	Symbol        string
	Side          OrderSide
	Qty           int64
	Status        OrderStatus
	SubmittedAt   time.Time
}

// Clock is the trading session state reported by the broker.
type Clock struct {
	Timestamp time.Time
	IsOpen    bool
	NextOpen  time.Time
	NextClose time.Time
}

// UntilClose returns the time left before the next session close.
func (c Clock) UntilClose() time.Duration {
	return c.NextClose.Sub(c.Timestamp)
}

// UntilOpen returns the time left before the next session open.
func (c Clock) UntilOpen() time.Duration {
	return c.NextOpen.Sub(c.Timestamp)
}
