package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/jedib0t/go-pretty/v6/table"
	"go.uber.org/zap"

	"github.com/david/grant-pipeline/internal/ai"
	"github.com/david/grant-pipeline/internal/config"
	"github.com/david/grant-pipeline/internal/db"
	"github.com/david/grant-pipeline/internal/ingest"
	"github.com/david/grant-pipeline/internal/logging"
)

func main() {
	configPath := flag.String("config", "config.yaml", "Path to config file (optional)")
	sourceID := flag.String("source", "", "Source ID to ingest (e.g. mass_dese); empty runs all active sources")
	noAI := flag.Bool("no-ai", false, "Store source fields only, without model enrichment")
	skipSweep := flag.Bool("skip-sweep", false, "Do not run the lifecycle sweep afterwards")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "config: %v\n", err)
		os.Exit(1)
	}
	logger, err := logging.New(cfg.Log.Level, cfg.Log.Format)
	if err != nil {
		fmt.Fprintf(os.Stderr, "logger: %v\n", err)
		os.Exit(1)
	}
	defer func() { _ = logger.Sync() }()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, logger, *sourceID, !*noAI, !*skipSweep); err != nil {
		logger.Error("ingestion aborted", zap.Error(err))
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg *config.Config, logger *zap.Logger, sourceID string, useAI, sweep bool) error {
	reg, err := ingest.LoadRegistry(cfg.Ingest.SourcesFile)
	if err != nil {
		return err
	}
	for i := range reg.Sources {
		if reg.Sources[i].Fetch.TimeoutSeconds == 0 {
			reg.Sources[i].Fetch.TimeoutSeconds = int(cfg.Ingest.FetchTimeout.Seconds())
		}
	}
	sources, err := ingest.BuildSources(reg, sourceID, ingest.SourceDeps{Logger: logger})
	if err != nil {
		return err
	}

	if err := db.Migrate(cfg.DatabaseURL, logger); err != nil {
		return err
	}
	pool, err := db.Connect(ctx, cfg.DatabaseURL)
	if err != nil {
		return fmt.Errorf("%w: %v", ingest.ErrStoreUnavailable, err)
	}
	defer pool.Close()
	store := db.NewStore(pool)

	opts := ingest.PipelineOptions{Runs: store, BatchSize: cfg.Ingest.BatchSize}
	if useAI {
		enricher, err := newEnricher(ctx, cfg, logger)
		if err != nil {
			return err
		}
		opts.Enricher = enricher
	}
	if opts.Embedder, err = ai.NewEmbedder(cfg.LLM, cfg.Embed); err != nil {
		return err
	}

	p := ingest.NewPipeline(store, opts, logger)
	results, runErr := p.RunAll(ctx, sources)
	printReport(results)
	if runErr != nil {
		return runErr
	}

	if sweep {
		stats, err := ingest.NewSweeper(store, logger).Sweep(ctx, ingest.SweepOptions{})
		if err != nil {
			return fmt.Errorf("lifecycle sweep: %w", err)
		}
		fmt.Printf("Sweep: %d checked, %d closed, %d archived, %d errors\n",
			stats.Checked, stats.Closed, stats.Archived, stats.Errors)
	}
	return nil
}

// newEnricher wraps the configured model with the Redis completion cache when
// REDIS_URL is set. An unreachable cache is logged and skipped.
func newEnricher(ctx context.Context, cfg *config.Config, logger *zap.Logger) (*ai.Orchestrator, error) {
	model, err := ai.NewModel(cfg.LLM, logger)
	if err != nil {
		return nil, err
	}
	if cfg.RedisURL != "" {
		rdb, err := db.NewRedisClient(ctx, cfg.RedisURL)
		if err != nil {
			logger.Warn("completion cache unavailable", zap.Error(err))
		} else {
			model = ai.NewCachedModel(model, rdb, cfg.CacheTTL, "grant-pipeline", logger)
		}
	}
	return ai.NewOrchestrator(model, logger), nil
}

func printReport(results []ingest.SourceResult) {
	t := table.NewWriter()
	t.SetOutputMirror(os.Stdout)
	t.AppendHeader(table.Row{"Source", "Found", "Created", "Updated", "Skipped", "Errors", "Enriched", "Delisted", "Result"})

	ok := 0
	var total ingest.RunStats
	for _, r := range results {
		result := "ok"
		if r.Err != nil {
			result = r.Err.Error()
		} else {
			ok++
		}
		s := r.Stats
		t.AppendRow(table.Row{r.ID, s.Found, s.Created, s.Updated, s.Skipped, s.Errors, s.Enriched, s.Delisted, result})
		total.Found += s.Found
		total.Created += s.Created
		total.Updated += s.Updated
		total.Skipped += s.Skipped
		total.Errors += s.Errors
		total.Enriched += s.Enriched
		total.Delisted += s.Delisted
	}
	t.AppendFooter(table.Row{
		fmt.Sprintf("%d/%d ok", ok, len(results)),
		total.Found, total.Created, total.Updated, total.Skipped, total.Errors, total.Enriched, total.Delisted, "",
	})
	t.Render()
}
