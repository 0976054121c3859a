package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"altBarsBot/internal/domain"
	"altBarsBot/internal/ports"

	_ "github.com/mattn/go-sqlite3" // SQLite driver
)

var (
	_ ports.BarStore  = (*Repository)(nil)
	_ ports.BarReader = (*Repository)(nil)
)

// Repository implements the ports.BarStore and ports.BarReader interfaces using SQLite.
type Repository struct {
	db     *sql.DB
	logger ports.Logger
}

// Config holds configuration for the SQLite repository.
type Config struct {
	DBPath string
	Logger ports.Logger
}

// NewRepository creates a new SQLite repository instance.
func NewRepository(cfg Config) (*Repository, error) {
	if cfg.Logger == nil {
		return nil, fmt.Errorf("%w: logger is required for SQLite repository", ports.ErrConfiguration)
	}
	dbPath := cfg.DBPath
	if dbPath == "" {
		dbPath = "./data/bars.db" // Default path
	}

	// Create data directory if it doesn't exist
	if err := os.MkdirAll(filepath.Dir(dbPath), 0755); err != nil {
		err = fmt.Errorf("failed to create data directory '%s': %w", filepath.Dir(dbPath), err)
		cfg.Logger.Error(context.Background(), err, "SQLite repository initialization failed")
		return nil, err
	}

	// Open database connection
	db, err := sql.Open("sqlite3", dbPath+"?_journal_mode=WAL&_busy_timeout=5000") // WAL mode for better concurrency
	if err != nil {
		err = fmt.Errorf("%w: failed to open database at '%s': %w", ports.ErrDBConnection, dbPath, err)
		cfg.Logger.Error(context.Background(), err, "SQLite repository initialization failed")
		return nil, err
	}

	// Test the connection
	if err := db.Ping(); err != nil {
		db.Close()
		err = fmt.Errorf("%w: failed to ping database at '%s': %w", ports.ErrDBConnection, dbPath, err)
		cfg.Logger.Error(context.Background(), err, "SQLite repository initialization failed")
		return nil, err
	}

	// A single connection serialises writers from every aggregator.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(time.Hour)

	cfg.Logger.Info(context.Background(), "SQLite database connection established", map[string]interface{}{"path": dbPath})

	repo := &Repository{db: db, logger: cfg.Logger}
	if err := repo.initializeSchema(context.Background()); err != nil {
		db.Close()
		err = fmt.Errorf("failed to initialize database schema: %w", err)
		cfg.Logger.Error(context.Background(), err, "SQLite repository initialization failed")
		return nil, err
	}
	return repo, nil
}

// initializeSchema creates tables if they don't exist.
func (r *Repository) initializeSchema(ctx context.Context) error {
	const schema = `
	CREATE TABLE IF NOT EXISTS bars (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		bar_type TEXT NOT NULL,
		symbol TEXT NOT NULL,
		ts INTEGER NOT NULL, -- unix nanoseconds of the completing tick
		open REAL NOT NULL,
		high REAL NOT NULL,
		low REAL NOT NULL,
		close REAL NOT NULL,
		vwap REAL NOT NULL,
		cum_tick INTEGER NOT NULL,
		cum_volume INTEGER NOT NULL,
		cum_dollar_value REAL NOT NULL,
		cum_buy_tick INTEGER NOT NULL,
		cum_buy_volume INTEGER NOT NULL,
		cum_buy_dollar_value REAL NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_bars_symbol_type_ts ON bars (symbol, bar_type, ts);
	`
	_, err := r.db.ExecContext(ctx, schema)
	if err != nil {
		return fmt.Errorf("failed to execute schema initialization: %w", err)
	}
	return nil
}

// Close closes the database connection.
func (r *Repository) Close() error {
	if r.db != nil {
		r.logger.Info(context.Background(), "Closing SQLite database connection")
		return r.db.Close()
	}
	return nil
}

type barSink struct {
	repo    *Repository
	barType domain.BarType
}

func (s barSink) Append(ctx context.Context, bar domain.Bar) error {
	return s.repo.CreateBar(ctx, s.barType, bar)
}

// Sink returns the sink for bars of one type.
func (r *Repository) Sink(barType domain.BarType) ports.BarSink {
	return barSink{repo: r, barType: barType}
}

// CreateBar saves one completed bar.
func (r *Repository) CreateBar(ctx context.Context, barType domain.BarType, bar domain.Bar) error {
	const query = `
	INSERT INTO bars (bar_type, symbol, ts, open, high, low, close, vwap,
	                  cum_tick, cum_volume, cum_dollar_value, cum_buy_tick, cum_buy_volume, cum_buy_dollar_value)
	VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`

	_, err := r.db.ExecContext(ctx, query,
		string(barType), bar.Symbol, bar.Timestamp.UnixNano(), bar.Open, bar.High, bar.Low, bar.Close, bar.VWAP,
		bar.Tick, bar.Volume, bar.DollarValue, bar.BuyTick, bar.BuyVolume, bar.BuyDollarValue)
	if err != nil {
		return fmt.Errorf("%w: failed to insert %s for symbol %s: %w", ports.ErrWriteFailed, barType, bar.Symbol, err)
	}
	return nil
}

// FindBars returns up to limit of the most recent bars for symbol, oldest first.
func (r *Repository) FindBars(ctx context.Context, symbol string, barType domain.BarType, limit int) ([]domain.Bar, error) {
	const query = `
	SELECT symbol, ts, open, high, low, close, vwap,
	       cum_tick, cum_volume, cum_dollar_value, cum_buy_tick, cum_buy_volume, cum_buy_dollar_value
	FROM (
		SELECT * FROM bars WHERE symbol = ? AND bar_type = ? ORDER BY ts DESC, id DESC LIMIT ?
	) ORDER BY ts ASC, id ASC`

	rows, err := r.db.QueryContext(ctx, query, symbol, string(barType), limit)
	if err != nil {
		return nil, fmt.Errorf("%w: failed to query %s for symbol %s: %w", ports.ErrQueryFailed, barType, symbol, err)
	}
	defer rows.Close()

	bars := make([]domain.Bar, 0)
	for rows.Next() {
		bar, err := scanBar(rows)
		if err != nil {
			return nil, fmt.Errorf("%w: failed to scan bar during FindBars: %w", ports.ErrQueryFailed, err)
		}
		bars = append(bars, bar)
	}
	if err = rows.Err(); err != nil {
		return nil, fmt.Errorf("%w: error iterating bar rows: %w", ports.ErrQueryFailed, err)
	}
	return bars, nil
}

// LoadCloses returns every recorded close for symbol, oldest first.
func (r *Repository) LoadCloses(ctx context.Context, symbol string, barType domain.BarType) ([]domain.PricePoint, error) {
	const query = `SELECT ts, close FROM bars WHERE symbol = ? AND bar_type = ? ORDER BY ts ASC, id ASC`

	rows, err := r.db.QueryContext(ctx, query, symbol, string(barType))
	if err != nil {
		return nil, fmt.Errorf("%w: failed to query closes for symbol %s: %w", ports.ErrQueryFailed, symbol, err)
	}
	defer rows.Close()

	var points []domain.PricePoint
	for rows.Next() {
		var ts int64
		var price float64
		if err := rows.Scan(&ts, &price); err != nil {
			return nil, fmt.Errorf("%w: failed to scan close: %w", ports.ErrQueryFailed, err)
		}
		points = append(points, domain.PricePoint{Timestamp: time.Unix(0, ts).UTC(), Price: price})
	}
	if err = rows.Err(); err != nil {
		return nil, fmt.Errorf("%w: error iterating close rows: %w", ports.ErrQueryFailed, err)
	}
	r.logger.Debug(ctx, "Loaded bar history", map[string]interface{}{"symbol": symbol, "barType": barType, "points": len(points)})
	return points, nil
}

// CountBars returns how many bars were recorded for symbol.
func (r *Repository) CountBars(ctx context.Context, symbol string, barType domain.BarType) (int, error) {
	const query = `SELECT COUNT(*) FROM bars WHERE symbol = ? AND bar_type = ?`
	var count int
	if err := r.db.QueryRowContext(ctx, query, symbol, string(barType)).Scan(&count); err != nil {
		return 0, fmt.Errorf("%w: failed to count bars for symbol %s: %w", ports.ErrQueryFailed, symbol, err)
	}
	return count, nil
}

// scanner defines an interface compatible with *sql.Row and *sql.Rows.
type scanner interface {
	Scan(dest ...interface{}) error
}

// scanBar scans a row into a domain.Bar struct.
func scanBar(s scanner) (domain.Bar, error) {
	var b domain.Bar
	var ts int64
	err := s.Scan(
		&b.Symbol, &ts, &b.Open, &b.High, &b.Low, &b.Close, &b.VWAP,
		&b.Tick, &b.Volume, &b.DollarValue, &b.BuyTick, &b.BuyVolume, &b.BuyDollarValue)
	if err != nil {
		return domain.Bar{}, err
	}
	b.Timestamp = time.Unix(0, ts).UTC()
	return b, nil
}
