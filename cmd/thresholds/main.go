// Command thresholds prints the bar threshold each configured instrument would use today,
// along with what the bar store has recorded for it.
package main

import (
	"context"
	"fmt"
	"io"
	"log"
	"os"
	"text/tabwriter"
	"time"

	"altBarsBot/config"
	"altBarsBot/internal/bootstrap"
	"altBarsBot/internal/ports"
	"altBarsBot/internal/threshold"
)

func main() {
	cfg, err := config.LoadConfig()
	if err != nil {
		log.Fatalf("FATAL: Failed to load configuration: %v", err)
	}

	appLogger := bootstrap.NewLogger(cfg)
	defer func() { _ = appLogger.Sync() }()

	market, err := bootstrap.NewMarket(cfg, appLogger)
	if err != nil {
		log.Fatalf("FATAL: Failed to initialize broker client: %v", err)
	}
	resolver, err := threshold.NewResolver(market.Data, cfg.ThresholdSpanDays, cfg.BarsPerDay, appLogger)
	if err != nil {
		log.Fatalf("FATAL: Failed to initialize threshold resolver: %v", err)
	}

	store, err := bootstrap.NewBarStore(cfg, appLogger)
	if err != nil {
		log.Fatalf("FATAL: Failed to initialize bar store: %v", err)
	}
	defer func() { _ = store.Close() }()
	reader, _ := store.(ports.BarReader)

	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()

	if failed := report(ctx, os.Stdout, cfg.Instruments, resolver, reader, appLogger); failed {
		_ = store.Close()
		_ = appLogger.Sync()
		os.Exit(1)
	}
}

// report writes one row per instrument and reports whether any threshold failed to resolve.
// reader may be nil, in which case the recorded columns show "-".
func report(ctx context.Context, out io.Writer, instruments []config.Instrument, resolver *threshold.Resolver, reader ports.BarReader, logger ports.Logger) bool {
	w := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "SYMBOL\tBAR TYPE\tTHRESHOLD\tSOURCE\tRECORDED\tLAST CLOSE\tLAST BAR")
	failed := false
	for _, inst := range instruments {
		source := "dynamic"
		if inst.Threshold > 0 {
			source = "fixed"
		}
		recorded, lastClose, lastAt := recordedColumns(ctx, reader, inst, logger)

		th, err := resolver.Resolve(ctx, inst.Symbol, inst.BarType, inst.Threshold)
		if err != nil {
			logger.Error(ctx, err, "Failed to resolve threshold", map[string]interface{}{"symbol": inst.Symbol})
			fmt.Fprintf(w, "%s\t%s\t-\terror: %v\t%s\t%s\t%s\n", inst.Symbol, inst.BarType, err, recorded, lastClose, lastAt)
			failed = true
			continue
		}
		fmt.Fprintf(w, "%s\t%s\t%d\t%s\t%s\t%s\t%s\n", inst.Symbol, inst.BarType, th, source, recorded, lastClose, lastAt)
	}
	_ = w.Flush()
	return failed
}

func recordedColumns(ctx context.Context, reader ports.BarReader, inst config.Instrument, logger ports.Logger) (count, lastClose, lastAt string) {
	count, lastClose, lastAt = "-", "-", "-"
	if reader == nil {
		return
	}
	fields := map[string]interface{}{"symbol": inst.Symbol, "barType": inst.BarType}
	n, err := reader.CountBars(ctx, inst.Symbol, inst.BarType)
	if err != nil {
		logger.Warn(ctx, "Failed to count recorded bars", fields)
		return
	}
	count = fmt.Sprintf("%d", n)
	last, err := reader.FindBars(ctx, inst.Symbol, inst.BarType, 1)
	if err != nil {
		logger.Warn(ctx, "Failed to read latest bar", fields)
		return
	}
	if len(last) == 1 {
		lastClose = fmt.Sprintf("%.4f", last[0].Close)
		lastAt = last[0].Timestamp.UTC().Format(time.RFC3339)
	}
	return
}
