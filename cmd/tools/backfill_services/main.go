package main

import (
	"context"
	"flag"
	"fmt"
	"os"

	"go.uber.org/zap"

	"github.com/david/grant-pipeline/internal/config"
	"github.com/david/grant-pipeline/internal/db"
	"github.com/david/grant-pipeline/internal/logging"
	"github.com/david/grant-pipeline/internal/models"
)

func main() {
	configPath := flag.String("config", "config.yaml", "Path to config file (optional)")
	service := flag.String("service", string(models.ServiceK12Education), "Service tag to add")
	apply := flag.Bool("apply", false, "Write the tag; without it only the affected records are counted")
	flag.Parse()

	svc, ok := models.ParseService(*service)
	if !ok {
		fmt.Fprintf(os.Stderr, "unknown service %q\n", *service)
		os.Exit(1)
	}

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

	n, err := db.NewStore(pool).AddService(ctx, svc, *apply)
	if err != nil {
		logger.Fatal("backfill failed", zap.Error(err))
	}

	if *apply {
		fmt.Printf("Tagged %d records with %s\n", n, svc)
		return
	}
	fmt.Printf("%d records lack %s (dry run, pass -apply to write)\n", n, svc)
}
