package ports

import (
	"context"

	"altBarsBot/internal/domain"
)

// BarSink durably records completed bars, append-only.
type BarSink interface {
	// Append stores one bar. Columns follow domain.BarHeader.
	Append(ctx context.Context, bar domain.Bar) error
}

// HistoryLoader reads back previously recorded bars.
type HistoryLoader interface {
	// LoadCloses returns the closing prices recorded for symbol/barType, oldest first.
	// An empty slice (not an error) is returned when nothing has been recorded yet.
	LoadCloses(ctx context.Context, symbol string, barType domain.BarType) ([]domain.PricePoint, error)
}

// BarReader serves recorded bars back for reporting. Stores that cannot query by
// instrument do not implement it.
type BarReader interface {
	// FindBars returns up to limit of the most recent bars for symbol/barType, oldest first.
	FindBars(ctx context.Context, symbol string, barType domain.BarType, limit int) ([]domain.Bar, error)
	// CountBars returns how many bars were recorded for symbol/barType.
	CountBars(ctx context.Context, symbol string, barType domain.BarType) (int, error)
}

// BarStore persists bars of every type and serves them back as history.
type BarStore interface {
	HistoryLoader

	// Sink returns the append-only sink for bars of one type.
	Sink(barType domain.BarType) BarSink

	// Close releases the underlying files or connections.
	Close() error
}
