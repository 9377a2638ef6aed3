package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/jedib0t/go-pretty/v6/table"
	"go.uber.org/zap"

	"github.com/david/grant-pipeline/internal/config"
	"github.com/david/grant-pipeline/internal/db"
	"github.com/david/grant-pipeline/internal/logging"
)

func main() {
	configPath := flag.String("config", "config.yaml", "Path to config file (optional)")
	limit := flag.Int("limit", 10, "Number of runs to show")
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

	ctx := context.Background()
	pool, err := db.Connect(ctx, cfg.DatabaseURL)
	if err != nil {
		logger.Fatal("failed to connect to database", zap.Error(err))
	}
	defer pool.Close()

	runs, err := db.NewStore(pool).RecentRuns(ctx, *limit)
	if err != nil {
		logger.Fatal("failed to list runs", zap.Error(err))
	}

	t := table.NewWriter()
	t.SetOutputMirror(os.Stdout)
	t.AppendHeader(table.Row{"Source", "Status", "Found", "Created", "Updated", "Skipped", "Errors", "Enriched", "Duration", "Started At"})

	for _, r := range runs {
		duration := "Running..."
		if r.CompletedAt != nil {
			duration = r.Duration().Round(time.Second).String()
		}
		t.AppendRow(table.Row{
			r.SourceID, r.Status, r.Found, r.Created, r.Updated, r.Skipped, r.Errors, r.Enriched,
			duration, r.StartedAt.Local().Format("2006-01-02 15:04:05"),
		})
	}
	t.Render()
}
