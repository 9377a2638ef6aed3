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
	"github.com/david/grant-pipeline/internal/logging"
)

func main() {
	configPath := flag.String("config", "config.yaml", "Path to config file (optional)")
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
		logger.Fatal("unable to connect to database", zap.Error(err))
	}
	defer pool.Close()

	sum, err := db.NewStore(pool).Summary(ctx)
	if err != nil {
		logger.Fatal("summary query failed", zap.Error(err))
	}

	fmt.Printf("Total opportunities: %d\n", sum.Total)
	fmt.Printf("Added today: %d\n", sum.AddedToday)

	for _, group := range []struct {
		title  string
		counts []db.Count
	}{
		{"By source", sum.BySource},
		{"By status", sum.ByStatus},
	} {
		t := table.NewWriter()
		t.SetOutputMirror(os.Stdout)
		t.SetTitle(group.title)
		t.AppendHeader(table.Row{"Value", "Count"})
		for _, c := range group.counts {
			t.AppendRow(table.Row{c.Value, c.Count})
		}
		t.Render()
	}
}
