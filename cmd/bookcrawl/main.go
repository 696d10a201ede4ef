package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"sort"
	"strings"
	"syscall"
	"time"

	"github.com/aluiziolira/bookcrawl/config"
	"github.com/aluiziolira/bookcrawl/models"
	"github.com/aluiziolira/bookcrawl/pipeline"
	"github.com/aluiziolira/bookcrawl/scraper"
	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := newRootCommand().ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, err)
		stop()
		os.Exit(1)
	}
}

func newRootCommand() *cobra.Command {
	defaults := config.DefaultConfig()
	v := config.NewViper()
	var configFile string

	cmd := &cobra.Command{
		Use:   "bookcrawl",
		Short: "Crawl the books.toscrape.com catalogue into a CSV file",
		Long: `bookcrawl walks the paginated catalogue of books.toscrape.com one page
at a time and saves title, price and rating of every listing.

Flags take precedence over SCRAPER_* environment variables (SCRAPER_PAGES,
SCRAPER_OUTPUT, ...), which take precedence over a YAML file given with --config.`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			if configFile != "" {
				v.SetConfigFile(configFile)
				if err := v.ReadInConfig(); err != nil {
					return fmt.Errorf("read config file: %w", err)
				}
			}
			return run(cmd.Context(), config.Load(v), cmd.OutOrStdout())
		},
	}

	flags := cmd.Flags()
	flags.StringVar(&configFile, "config", "", "YAML config file")
	flags.String(config.KeyMode, defaults.Mode, "Pagination mode: follow (next links) or template (numbered pages)")
	flags.String(config.KeyBaseURL, defaults.BaseURL, "Catalogue root URL")
	flags.IntP(config.KeyPages, "p", defaults.MaxPages, "Maximum pages to fetch (-1 for no limit)")
	flags.String(config.KeyOnFetchError, defaults.OnFetchError, "On a failed page: stop or skip (template mode)")
	flags.Duration(config.KeyDelayMin, defaults.DelayMin, "Minimum pause between pages")
	flags.Duration(config.KeyDelayMax, defaults.DelayMax, "Maximum pause between pages")
	flags.Duration(config.KeyTimeout, defaults.Timeout, "Per-request timeout")
	flags.Int(config.KeyMaxRetries, defaults.Retry.MaxRetries, "Retries after the first attempt")
	flags.Duration(config.KeyRetryBackoff, defaults.Retry.BackoffFactor, "Backoff factor; retry n waits factor*2^(n-1), the first retry is immediate")
	flags.Duration(config.KeyRetryBackoffMax, defaults.Retry.BackoffMax, "Upper bound for a single backoff")
	flags.IntSlice(config.KeyRetryStatuses, defaults.Retry.RetryableStatuses, "HTTP statuses worth retrying")
	flags.StringSlice(config.KeyCurrencyPrefixes, defaults.CurrencyPrefixes, "Prefixes stripped from prices")
	flags.StringP(config.KeyOutput, "o", defaults.OutputFile, "Output file path")
	flags.String(config.KeyFormat, defaults.OutputFormat, "Output format: csv, json, or dual")
	flags.Bool(config.KeyDetailed, defaults.DetailedColumns, "Add rating_value and page columns")
	flags.Int(config.KeyBatchSize, defaults.BatchSize, "Rows buffered before each write")
	flags.Int(config.KeyVisitedCache, defaults.VisitedCacheSize, "Page URLs remembered for cycle detection")
	flags.String(config.KeyUserAgent, defaults.UserAgent, "User-Agent header")
	flags.BoolP(config.KeyVerbose, "v", false, "Enable verbose logging")
	flags.Bool(config.KeyRespectRobots, false, "Respect robots.txt directives")
	flags.String(config.KeyMetricsAddr, "", "Prometheus metrics listen address (e.g. :9090)")
	_ = cmd.MarkFlagFilename("config", "yaml", "yml")

	if err := v.BindPFlags(flags); err != nil {
		panic(err)
	}
	return cmd
}

func run(ctx context.Context, cfg *config.Config, out io.Writer) error {
	logger, level := newLogger(cfg.Verbose)
	slog.SetDefault(logger)
	slog.SetLogLoggerLevel(level.Level())

	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}

	crawler, err := scraper.NewCrawler(cfg)
	if err != nil {
		return fmt.Errorf("initialising crawler: %w", err)
	}

	writer, err := pipeline.NewWriter(cfg.OutputFormat, cfg.OutputFile, cfg.DetailedColumns)
	if err != nil {
		return fmt.Errorf("creating writer: %w", err)
	}
	sink := pipeline.NewSink(writer, cfg.BatchSize)
	outputPath := pipeline.OutputPath(cfg.OutputFormat, cfg.OutputFile)

	metricsServer := startMetricsServer(cfg.MetricsAddr, crawler.Metrics)
	defer stopMetricsServer(metricsServer)

	stopNotice := context.AfterFunc(ctx, func() {
		slog.Info("shutdown signal received, finishing the current page")
	})
	defer stopNotice()

	result, runErr := crawler.Run(ctx, sink)
	closeErr := sink.Close()

	switch {
	case runErr != nil:
		if result != nil {
			printSummary(out, result, sink, outputPath)
		}
		return fmt.Errorf("crawl failed: %w", runErr)
	case closeErr != nil:
		return fmt.Errorf("writing output: %w", closeErr)
	}

	if err := writer.Validate(); err != nil {
		return fmt.Errorf("output validation failed: %w", err)
	}

	fmt.Fprintf(out, "Saved %d books to %s\n", sink.Count(), outputPath)
	printSummary(out, result, sink, outputPath)
	return nil
}

func startMetricsServer(addr string, metrics *scraper.Metrics) *http.Server {
	if addr == "" || metrics == nil {
		return nil
	}

	server := &http.Server{
		Addr:              addr,
		Handler:           promhttp.HandlerFor(metrics.Registry, promhttp.HandlerOpts{}),
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("metrics server failed", slog.Any("error", err))
		}
	}()
	slog.Info("metrics server enabled", slog.String("addr", addr))
	return server
}

func stopMetricsServer(server *http.Server) {
	if server == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := server.Shutdown(ctx); err != nil {
		slog.Error("metrics server shutdown failed", slog.Any("error", err))
	}
}

func printSummary(out io.Writer, result *models.CrawlResult, sink *pipeline.Sink, outputFile string) {
	t := table.NewWriter()
	t.SetOutputMirror(out)
	t.SetStyle(table.StyleRounded)
	t.SetTitle("Crawl " + result.RunID)
	t.AppendHeader(table.Row{"Metric", "Value"})
	t.AppendRows([]table.Row{
		{"Stop reason", result.StopReason},
		{"Pages", fmt.Sprintf("%d of %d attempted", result.PageCount, result.PagesAttempted)},
		{"Requests", result.RequestCount},
		{"Retries", result.RetryCount},
		{"Records extracted", result.RecordCount},
		{"Rows written", sink.Count()},
		{"Listings skipped", result.SkippedCount},
		{"Failed pages", len(result.FailedURLs)},
	})
	if len(result.ErrorsByType) > 0 {
		t.AppendRow(table.Row{"Error types", formatCounts(result.ErrorsByType)})
	}
	if validation, ok := sink.GetMetrics()["validation_errors"].(map[string]int); ok && len(validation) > 0 {
		t.AppendRow(table.Row{"Rows dropped", formatCounts(validation)})
	}
	t.AppendSeparator()
	t.AppendRow(table.Row{"Duration", result.Duration().Round(time.Millisecond)})
	t.AppendRow(table.Row{"Output file", outputFile})
	t.Render()
}

func formatCounts(counts map[string]int) string {
	keys := make([]string, 0, len(counts))
	for k := range counts {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		parts = append(parts, fmt.Sprintf("%s=%d", k, counts[k]))
	}
	return strings.Join(parts, " ")
}

func newLogger(verbose bool) (*slog.Logger, *slog.LevelVar) {
	level := &slog.LevelVar{}
	if verbose {
		level.Set(slog.LevelDebug)
	} else {
		level.Set(slog.LevelInfo)
	}

	opts := &slog.HandlerOptions{Level: level}
	var handler slog.Handler
	if isTerminal(os.Stderr) {
		handler = slog.NewTextHandler(os.Stderr, opts)
	} else {
		handler = slog.NewJSONHandler(os.Stderr, opts)
	}

	return slog.New(handler), level
}

func isTerminal(f *os.File) bool {
	info, err := f.Stat()
	if err != nil {
		return false
	}
	return (info.Mode() & os.ModeCharDevice) != 0
}
