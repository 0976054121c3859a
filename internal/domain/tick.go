package domain

import "time"

// Tick represents one executed trade print for an instrument.
type Tick struct {
	Symbol    string    // Trading symbol (e.g., "AAPL")
	Price     float64   // Execution price
	Size      int64     // Executed quantity, in shares or exchange lots
	Timestamp time.Time // Exchange timestamp of the trade
}

// Valid reports whether the tick can be fed to an aggregator.
func (t Tick) Valid() bool {
	return t.Price > 0 && t.Size > 0
}

// PricePoint is a single timestamped closing price.
type PricePoint struct {
	Timestamp time.Time
	Price     float64
}
