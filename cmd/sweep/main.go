package main

import (
	"context"
	"flag"
	"fmt"
	"os"

	"github.com/jedib0t/go-pretty/v6/table"
	"go.uber.org/zap"

	"github.com/david/grant-pipeline/internal/config"
	"github.com/david/grant-pipeline/internal/db"
	"github.com/david/grant-pipeline/internal/ingest"
	"github.com/david/grant-pipeline/internal/logging"
)

func main() {
	configPath := flag.String("config", "config.yaml", "Path to config file (optional)")
	source := flag.String("source", "", "Limit to one source: a registry id (mass_dese) or a stored source value (doe.mass.edu)")
	dryRun := flag.Bool("dry-run", false, "Report transitions without writing them")
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

	ctx := context.Background()
	pool, err := db.Connect(ctx, cfg.DatabaseURL)
	if err != nil {
		logger.Fatal("failed to connect to database", zap.Error(err))
	}
	defer pool.Close()

	record := *source
	if record != "" {
		if reg, err := ingest.LoadRegistry(cfg.Ingest.SourcesFile); err == nil {
			if sc, ok := reg.Find(record); ok {
				record = sc.Record
			}
		}
	}

	stats, err := ingest.NewSweeper(db.NewStore(pool), logger).Sweep(ctx, ingest.SweepOptions{Source: record, DryRun: *dryRun})
	if err != nil {
		logger.Fatal("sweep failed", zap.Error(err))
	}

	scope := record
	if scope == "" {
		scope = "all sources"
	}
	t := table.NewWriter()
	t.SetOutputMirror(os.Stdout)
	t.SetTitle(fmt.Sprintf("Lifecycle sweep (%s, dry run: %t)", scope, *dryRun))
	t.AppendHeader(table.Row{"Checked", "Closed", "Archived", "Errors"})
	t.AppendRow(table.Row{stats.Checked, stats.Closed, stats.Archived, stats.Errors})
	t.Render()

	if stats.Errors > 0 {
		os.Exit(1)
	}
}
