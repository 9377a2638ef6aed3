package ingest

import (
	"fmt"
	"net/http"

	"go.uber.org/zap"
)

// SourceDeps are the collaborators shared by every source built from the registry.
type SourceDeps struct {
	// Client replaces the guarded HTTP client, for tests.
	Client *http.Client
	Logger *zap.Logger
}

// sourceBuilder maps a strategy (from sources.yaml) to its Source implementation.
type sourceBuilder func(cfg SourceConfig, fetcher *HTTPFetcher, logger *zap.Logger) (Source, error)

var builders = map[string]sourceBuilder{
	"api_grants_gov": newGrantsGovSource,
	"html_table":     newDESESource,
	"html_links":     newPageSource,
}

// BuildSource constructs the Source for one configuration entry.
func BuildSource(cfg SourceConfig, deps SourceDeps) (Source, error) {
	build, ok := builders[cfg.Strategy]
	if !ok {
		return nil, fmt.Errorf("strategy not found: %s", cfg.Strategy)
	}

	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	logger = logger.Named("source." + cfg.ID)

	var fetcher *HTTPFetcher
	if deps.Client != nil {
		fetcher = NewHTTPFetcherWithClient(deps.Client, cfg.Fetch)
	} else {
		fetcher = NewHTTPFetcher(cfg.Fetch)
	}
	return build(cfg, fetcher, logger)
}

// BuildSources builds the active sources of reg, or only the one named by id.
func BuildSources(reg *Registry, id string, deps SourceDeps) ([]Source, error) {
	configs := reg.Active()
	if id != "" {
		cfg, ok := reg.Find(id)
		if !ok {
			return nil, fmt.Errorf("unknown source %q", id)
		}
		configs = []SourceConfig{cfg}
	}

	sources := make([]Source, 0, len(configs))
	for _, cfg := range configs {
		src, err := BuildSource(cfg, deps)
		if err != nil {
			return nil, fmt.Errorf("source %s: %w", cfg.ID, err)
		}
		sources = append(sources, src)
	}
	return sources, nil
}
