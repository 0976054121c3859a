// Package csvstore keeps completed bars in one CSV file per bar type, shared by all instruments.
package csvstore

import (
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"sync"
	"time"

	"altBarsBot/internal/domain"
	"altBarsBot/internal/ports"
)

// Config holds configuration for the CSV store.
type Config struct {
	Dir    string
	Logger ports.Logger
}

type fileWriter struct {
	file   *os.File
	writer *csv.Writer
}

// Store implements ports.BarStore on CSV files named <bar_type>.csv under Dir.
type Store struct {
	dir    string
	logger ports.Logger

	mu      sync.Mutex // Guards writers and serialises file access
	writers map[domain.BarType]*fileWriter
}

// New creates the data directory if needed and returns a store.
func New(cfg Config) (*Store, error) {
	if cfg.Dir == "" || cfg.Logger == nil {
		return nil, fmt.Errorf("%w: directory and logger are required for csv store", ports.ErrConfiguration)
	}
	if err := os.MkdirAll(cfg.Dir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create data directory %s: %w", cfg.Dir, err)
	}
	cfg.Logger.Info(context.Background(), "CSV bar store ready", map[string]interface{}{"dir": cfg.Dir})
	return &Store{dir: cfg.Dir, logger: cfg.Logger, writers: make(map[domain.BarType]*fileWriter)}, nil
}

// Path returns the file holding bars of the given type.
func (s *Store) Path(barType domain.BarType) string {
	return filepath.Join(s.dir, string(barType)+".csv")
}

type sink struct {
	store   *Store
	barType domain.BarType
}

func (k sink) Append(ctx context.Context, bar domain.Bar) error {
	return k.store.append(bar, k.barType)
}

// Sink returns the sink for bars of one type.
func (s *Store) Sink(barType domain.BarType) ports.BarSink {
	return sink{store: s, barType: barType}
}

func (s *Store) append(bar domain.Bar, barType domain.BarType) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	fw, err := s.writerFor(barType)
	if err != nil {
		return err
	}
	if err := fw.writer.Write(bar.Record()); err != nil {
		return fmt.Errorf("%w: %s: %w", ports.ErrWriteFailed, s.Path(barType), err)
	}
	fw.writer.Flush()
	if err := fw.writer.Error(); err != nil {
		return fmt.Errorf("%w: %s: %w", ports.ErrWriteFailed, s.Path(barType), err)
	}
	return nil
}

// writerFor opens the file for appending on first use, writing the header if the file is empty.
// Caller must hold s.mu.
func (s *Store) writerFor(barType domain.BarType) (*fileWriter, error) {
	if fw, ok := s.writers[barType]; ok {
		return fw, nil
	}
	path := s.Path(barType)
	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, fmt.Errorf("%w: open %s: %w", ports.ErrWriteFailed, path, err)
	}
	info, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("%w: stat %s: %w", ports.ErrWriteFailed, path, err)
	}

	w := csv.NewWriter(f)
	if info.Size() == 0 {
		if err := w.Write(domain.BarHeader); err != nil {
			f.Close()
			return nil, fmt.Errorf("%w: header %s: %w", ports.ErrWriteFailed, path, err)
		}
		w.Flush()
		if err := w.Error(); err != nil {
			f.Close()
			return nil, fmt.Errorf("%w: header %s: %w", ports.ErrWriteFailed, path, err)
		}
	}

	fw := &fileWriter{file: f, writer: w}
	s.writers[barType] = fw
	return fw, nil
}

// LoadCloses reads the closes recorded for symbol, oldest first. A missing file yields no points.
func (s *Store) LoadCloses(ctx context.Context, symbol string, barType domain.BarType) ([]domain.PricePoint, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	path := s.Path(barType)
	f, err := os.Open(path)
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("%w: open %s: %w", ports.ErrQueryFailed, path, err)
	}
	defer f.Close()

	r := csv.NewReader(f)
	header, err := r.Read()
	if errors.Is(err, io.EOF) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("%w: header %s: %w", ports.ErrQueryFailed, path, err)
	}
	tsCol, symCol, closeCol := -1, -1, -1
	for i, name := range header {
		switch name {
		case "timestamp":
			tsCol = i
		case "symbol":
			symCol = i
		case "close":
			closeCol = i
		}
	}
	if tsCol < 0 || symCol < 0 || closeCol < 0 {
		return nil, fmt.Errorf("%w: %s lacks timestamp, symbol or close column", ports.ErrQueryFailed, path)
	}

	var points []domain.PricePoint
	for line := 2; ; line++ {
		rec, err := r.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("%w: %s line %d: %w", ports.ErrQueryFailed, path, line, err)
		}
		if rec[symCol] != symbol {
			continue
		}
		ts, err := time.Parse(time.RFC3339Nano, rec[tsCol])
		if err != nil {
			return nil, fmt.Errorf("%w: %s line %d: %w", ports.ErrQueryFailed, path, line, err)
		}
		price, err := strconv.ParseFloat(rec[closeCol], 64)
		if err != nil {
			return nil, fmt.Errorf("%w: %s line %d: %w", ports.ErrQueryFailed, path, line, err)
		}
		points = append(points, domain.PricePoint{Timestamp: ts, Price: price})
	}

	s.logger.Debug(ctx, "Loaded bar history", map[string]interface{}{
		"symbol":  symbol,
		"barType": barType,
		"points":  len(points),
	})
	return points, nil
}

// Close flushes and closes every open file.
func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	var errs []error
	for bt, fw := range s.writers {
		fw.writer.Flush()
		if err := fw.writer.Error(); err != nil {
			errs = append(errs, err)
		}
		if err := fw.file.Close(); err != nil {
			errs = append(errs, err)
		}
		delete(s.writers, bt)
	}
	return errors.Join(errs...)
}
