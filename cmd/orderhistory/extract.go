package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/mattn/go-isatty"
	"github.com/schollz/progressbar/v3"
	"github.com/spf13/cobra"

	"github.com/aluiziolira/go-order-history/config"
	"github.com/aluiziolira/go-order-history/models"
	"github.com/aluiziolira/go-order-history/pipeline"
	"github.com/aluiziolira/go-order-history/scraper"
	"github.com/aluiziolira/go-order-history/session"
)

func extractCmd() *cobra.Command {
	defaults := config.DefaultConfig()
	cmd := &cobra.Command{
		Use:   "extract",
		Short: "Export purchases made between two dates",
		Example: `  orderhistory extract --start 2021-08-17 --end 2021-09-18
  orderhistory extract --start 2020-01-01 --end 2020-12-31 --format sqlite --output out/2020.db`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg := loadConfig(v)
			if err := cfg.Validate(); err != nil {
				return fmt.Errorf("invalid configuration: %w", err)
			}
			return runExtract(cmd.Context(), cfg, cmd.OutOrStdout())
		},
	}

	flags := cmd.Flags()
	flags.String("start", "", "First purchase date to include (YYYY-MM-DD)")
	flags.String("end", "", "Last purchase date to include (YYYY-MM-DD)")
	flags.StringP("output", "o", defaults.OutputFile, "Output file path")
	flags.StringP("format", "f", defaults.OutputFormat, "Output format: csv, json, dual, or sqlite")
	flags.Int("max-pages", defaults.MaxPages, "Fail when a year has more listing pages than this (0 for no limit)")
	flags.Int("retries", defaults.MaxRetries, "Retry a failed extraction this many times with a fresh session")
	flags.Duration("retry-backoff", defaults.RetryBackoff, "Initial wait before a retry")
	flags.Duration("retry-backoff-max", defaults.RetryBackoffMax, "Maximum wait before a retry")
	for _, name := range []string{"start", "end", "output", "format", "max-pages", "retries", "retry-backoff", "retry-backoff-max"} {
		_ = v.BindPFlag(name, flags.Lookup(name))
	}
	return cmd
}

func runExtract(ctx context.Context, cfg *config.Config, out io.Writer) error {
	r, err := cfg.DateRange()
	if err != nil {
		return err
	}

	writer, err := createWriter(cfg.OutputFormat, cfg.OutputFile)
	if err != nil {
		return fmt.Errorf("create writer: %w", err)
	}
	defer func() {
		if err := writer.Close(); err != nil {
			slog.Error("close writer", slog.Any("error", err))
		}
	}()

	metrics := scraper.NewMetrics()
	stopMetrics := startMetricsServer(cfg.MetricsAddr, metrics.Registry)
	defer stopMetrics()

	slog.Info("starting extraction",
		slog.String("range", r.String()),
		slog.String("driver", cfg.Driver),
		slog.String("profile", cfg.Profile),
	)

	var (
		records []models.PurchaseRecord
		summary models.ExtractionSummary
	)
	for attempt := 0; ; attempt++ {
		records, summary, err = extractOnce(ctx, cfg, r, metrics)
		if err == nil || attempt >= cfg.MaxRetries || !retryable(err) || ctx.Err() != nil {
			break
		}
		delay := cfg.Backoff(attempt + 1)
		slog.Warn("extraction failed, retrying with a fresh session",
			slog.Int("attempt", attempt+1),
			slog.Duration("delay", delay),
			slog.Any("error", err),
		)
		select {
		case <-time.After(delay):
		case <-ctx.Done():
		}
	}
	if err != nil {
		return fmt.Errorf("extract %s: %w", r, err)
	}

	p := pipeline.NewPipeline(writer, cfg)
	p.Start(1)
	if cfg.Verbose {
		p.StartMetricsReporting(10 * time.Second)
	}
	if err := p.Process(records); err != nil {
		_ = p.Close()
		return fmt.Errorf("queue records: %w", err)
	}
	if err := p.Close(); err != nil {
		return fmt.Errorf("pipeline shutdown: %w", err)
	}
	if len(records) > 0 {
		if err := writer.Validate(); err != nil {
			return fmt.Errorf("output validation: %w", err)
		}
	}

	printSummary(out, summary, p.GetMetrics(), cfg.OutputFile)
	return nil
}

// extractOnce runs one extraction on a browser of its own.
func extractOnce(ctx context.Context, cfg *config.Config, r models.DateRange, metrics *scraper.Metrics) ([]models.PurchaseRecord, models.ExtractionSummary, error) {
	b, err := openBrowser(ctx, cfg)
	if err != nil {
		return nil, models.ExtractionSummary{}, fmt.Errorf("open browser: %w", err)
	}
	defer func() {
		if err := b.Close(); err != nil {
			slog.Warn("close browser", slog.Any("error", err))
		}
	}()

	sess := session.New(b, session.Credentials{Email: cfg.Email, Password: cfg.Password}, session.DefaultLayout(cfg.BaseURL))
	opts := []scraper.Option{
		scraper.WithLayout(layoutFor(cfg)),
		scraper.WithMetrics(metrics),
		scraper.WithMaxPages(cfg.MaxPages),
		scraper.WithDedupeSize(cfg.DedupeMaxSize),
	}
	if bar := newYearBar(r); bar != nil {
		defer bar.Close()
		opts = append(opts, scraper.WithProgress(func(year, done, _ int) {
			bar.Describe(fmt.Sprintf("%d done", year))
			_ = bar.Set(done)
		}))
	}

	s := scraper.New(b, sess, opts...)
	records, err := s.Extract(ctx, r)
	return records, s.Summary(), err
}

func layoutFor(cfg *config.Config) scraper.Layout {
	layout := scraper.DefaultLayout(cfg.BaseURL)
	layout.DateLayout = cfg.DateLayout
	return layout
}

// retryable reports whether a fresh session could plausibly succeed.
func retryable(err error) bool {
	if errors.Is(err, session.ErrMissingCredentials) || errors.Is(err, session.ErrLoginFailed) {
		return false
	}
	var nav scraper.ErrNavigation
	var notFound scraper.ErrElementNotFound
	return errors.As(err, &nav) || errors.As(err, &notFound)
}

// newYearBar returns a progress bar over the planned years, or nil when
// stderr is not a terminal.
func newYearBar(r models.DateRange) *progressbar.ProgressBar {
	if !isatty.IsTerminal(os.Stderr.Fd()) {
		return nil
	}
	years, err := scraper.Years(r)
	if err != nil {
		return nil
	}
	return progressbar.NewOptions(len(years),
		progressbar.OptionSetWriter(os.Stderr),
		progressbar.OptionEnableColorCodes(true),
		progressbar.OptionShowCount(),
		progressbar.OptionSetWidth(30),
		progressbar.OptionSetDescription("[cyan]walking order history[reset]"),
		progressbar.OptionClearOnFinish(),
	)
}

func createWriter(format, filename string) (pipeline.OutputWriter, error) {
	switch format {
	case "json":
		return pipeline.NewJSONWriter(filename)
	case "csv":
		return pipeline.NewCSVWriter(filename)
	case "dual":
		jsonFilename := strings.TrimSuffix(filename, ".csv") + ".jsonl"
		return pipeline.NewDualWriter(filename, jsonFilename)
	case "sqlite":
		return pipeline.NewSQLiteWriter(filename)
	default:
		return nil, fmt.Errorf("unsupported format: %s", format)
	}
}

func printSummary(w io.Writer, summary models.ExtractionSummary, metrics map[string]interface{}, outputFile string) {
	separator := "--------------------------------------------------"
	fmt.Fprintln(w, "\n"+separator)
	fmt.Fprintln(w, "Extraction complete")

	written := int64(0)
	if processed, ok := metrics["processed_records"].(int64); ok {
		written = processed
	}

	fmt.Fprintf(w, "  Range:         %s\n", summary.Range)
	fmt.Fprintf(w, "  Years:         %v\n", summary.Years)
	fmt.Fprintf(w, "  Pages:         %d\n", summary.PageCount)
	fmt.Fprintf(w, "  Records:       %d\n", summary.RecordCount)
	fmt.Fprintf(w, "  Written:       %d\n", written)
	if len(summary.GroupsByOutcome) > 0 {
		fmt.Fprintf(w, "  Orders:        %v\n", summary.GroupsByOutcome)
	}
	if summary.DuplicateOrders > 0 {
		fmt.Fprintf(w, "  Duplicates:    %d\n", summary.DuplicateOrders)
	}
	if valErrors, ok := metrics["validation_errors"].(map[string]int); ok && len(valErrors) > 0 {
		fmt.Fprintf(w, "  Validation:    %v\n", valErrors)
	}
	fmt.Fprintf(w, "  Duration:      %v\n", summary.Duration().Round(time.Millisecond))
	fmt.Fprintf(w, "  Output file:   %s\n", outputFile)
	fmt.Fprintln(w, separator)
}
