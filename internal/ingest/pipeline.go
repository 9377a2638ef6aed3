package ingest

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/david/grant-pipeline/internal/ai"
	"github.com/david/grant-pipeline/internal/db"
	"github.com/david/grant-pipeline/internal/models"
)

const DefaultBatchSize = 5

// RunStats are the aggregate outcomes of one source run.
type RunStats struct {
	Found    int
	Created  int
	Updated  int
	Skipped  int
	Errors   int
	Enriched int
	Delisted int
}

func (s *RunStats) record(o Outcome) {
	switch o.Kind {
	case OutcomeCreated:
		s.Created++
	case OutcomeUpdated:
		s.Updated++
	case OutcomeSkipped:
		s.Skipped++
	case OutcomeFailed:
		s.Errors++
	}
	if o.Enriched {
		s.Enriched++
	}
}

// Pipeline drives sources through the gate, enrichment and the upsert adapter.
// Records are handled one at a time; only the model call is batched.
type Pipeline struct {
	store     Store
	runs      RunLog
	enricher  Enricher
	upserter  *Upserter
	sweeper   *Sweeper
	batchSize int
	logger    *zap.Logger
	now       func() time.Time
}

type PipelineOptions struct {
	// Runs records each source run; nil disables run bookkeeping.
	Runs RunLog
	// Enricher may be nil, in which case records are stored from source data only.
	Enricher  Enricher
	Embedder  ai.Embedder
	BatchSize int
}

func NewPipeline(store Store, opts PipelineOptions, logger *zap.Logger) *Pipeline {
	if opts.BatchSize <= 0 {
		opts.BatchSize = DefaultBatchSize
	}
	return &Pipeline{
		store:     store,
		runs:      opts.Runs,
		enricher:  opts.Enricher,
		upserter:  NewUpserter(store, opts.Embedder, logger),
		sweeper:   NewSweeper(store, logger),
		batchSize: opts.BatchSize,
		logger:    logger.Named("pipeline"),
		now:       time.Now,
	}
}

// pending is a record that passed the gate and waits for its batch.
type pending struct {
	raw      RawRecord
	prior    *models.Opportunity
	decision GateDecision
}

func (p pending) aiInput() map[string]any {
	if p.raw.AIInput != nil {
		return p.raw.AIInput
	}
	in := make(map[string]any, len(p.raw.Fields))
	for k, v := range p.raw.Fields {
		in[k] = v
	}
	return in
}

// RunSource ingests one source and records the run. Only ErrStoreUnavailable and
// listing failures are returned; per-record failures are counted in the stats.
func (p *Pipeline) RunSource(ctx context.Context, src Source) (RunStats, error) {
	log := p.logger.With(zap.String("source", src.ID()))
	start := time.Now()
	runID := p.startRun(ctx, src.ID(), log)

	log.Info("starting ingestion")
	stats, err := p.runSource(ctx, src, log)

	p.finishRun(ctx, runID, stats, err, time.Since(start), log)
	fields := []zap.Field{
		zap.Int("found", stats.Found),
		zap.Int("created", stats.Created),
		zap.Int("updated", stats.Updated),
		zap.Int("skipped", stats.Skipped),
		zap.Int("errors", stats.Errors),
		zap.Int("enriched", stats.Enriched),
		zap.Int("delisted", stats.Delisted),
		zap.Duration("took", time.Since(start)),
	}
	if err != nil {
		log.Error("ingestion failed", append(fields, zap.Error(err))...)
	} else {
		log.Info("ingestion finished", fields...)
	}
	return stats, err
}

func (p *Pipeline) runSource(ctx context.Context, src Source, log *zap.Logger) (RunStats, error) {
	var stats RunStats
	tmpl := src.Template()

	items, err := src.Listing(ctx)
	if err != nil {
		return stats, fmt.Errorf("listing %s: %w", src.ID(), err)
	}
	stats.Found = len(items)
	log.Info("listing fetched", zap.Int("items", len(items)))

	seen := make(map[string]bool, len(items))
	batch := make([]pending, 0, p.batchSize)

	for _, item := range items {
		if err := ctx.Err(); err != nil {
			return stats, err
		}
		if item.ID != "" {
			seen[item.ID] = true
		}

		raw, err := src.Detail(ctx, item)
		if errors.Is(err, ErrSkipItem) {
			stats.record(Skipped(err.Error()))
			log.Info("skipping listed item", zap.String("url", item.URL), zap.Error(err))
			continue
		}
		if err != nil {
			stats.Errors++
			log.Warn("detail fetch failed", zap.String("url", item.URL), zap.Error(err))
			continue
		}
		seen[raw.Key.SourceGrantID] = true
		itemLog := log.With(zap.Stringer("key", raw.Key))

		prior, err := p.lookup(ctx, tmpl, raw)
		if err != nil {
			stats.Errors++
			itemLog.Error("lookup failed", zap.Error(err))
			if err := p.checkStore(ctx); err != nil {
				return stats, err
			}
			continue
		}

		decision := Decide(raw, prior)
		if decision.Verdict == Skip {
			stats.record(Skipped(decision.Reason))
			itemLog.Debug("unchanged, skipping", zap.String("reason", decision.Reason))
			continue
		}

		// stale records are dropped before they cost a model call
		if c := Reconcile(tmpl, raw, prior, nil, p.reconcileOptions()); c.SkipReason != "" {
			stats.record(Skipped(c.SkipReason))
			itemLog.Info("skipping", zap.String("reason", c.SkipReason))
			continue
		}

		batch = append(batch, pending{raw: raw, prior: prior, decision: decision})
		if len(batch) >= p.batchSize {
			if err := p.flush(ctx, tmpl, batch, &stats, log); err != nil {
				return stats, err
			}
			batch = batch[:0]
		}
	}
	if err := p.flush(ctx, tmpl, batch, &stats, log); err != nil {
		return stats, err
	}

	if src.FullListing() {
		if len(items) == 0 {
			log.Warn("empty listing, not closing delisted records")
			return stats, nil
		}
		n, err := p.sweeper.CloseDelisted(ctx, tmpl.Source, seen, p.now())
		stats.Delisted = n
		if err != nil {
			log.Warn("closing delisted records failed", zap.Error(err))
		}
	}
	return stats, nil
}

// flush enriches a batch and writes its records one by one.
func (p *Pipeline) flush(ctx context.Context, tmpl Template, batch []pending, stats *RunStats, log *zap.Logger) error {
	if len(batch) == 0 {
		return nil
	}

	enrich := p.enricher != nil && tmpl.Kind != ""
	var enrichments []ai.Enrichment
	if enrich {
		inputs := make([]map[string]any, len(batch))
		for i, b := range batch {
			inputs[i] = b.aiInput()
		}
		enrichments = p.enricher.Enrich(ctx, tmpl.Kind, inputs)
	}

	for i, b := range batch {
		itemLog := log.With(zap.Stringer("key", b.raw.Key))

		var aiFields Fields
		enriched := false
		if i < len(enrichments) && enrichments[i].OK {
			aiFields = enrichments[i].Fields
			enriched = true
		}

		cand := Reconcile(tmpl, b.raw, b.prior, aiFields, p.reconcileOptions())
		for _, f := range cand.Dropped {
			itemLog.Warn("dropping unknown field", zap.String("field", f))
		}
		if enrich && !enriched {
			// stored without its new fingerprint so the next run tries again
			cand = cand.WithoutFingerprint()
			itemLog.Warn("enrichment failed, storing source fields only")
		}

		out := p.upserter.Upsert(ctx, cand, b.prior, b.decision)
		out.Enriched = enriched && (out.Kind == OutcomeCreated || out.Kind == OutcomeUpdated)
		stats.record(out)

		switch out.Kind {
		case OutcomeFailed:
			itemLog.Error("persisting failed", zap.Error(out.Err))
			if err := p.checkStore(ctx); err != nil {
				return err
			}
		case OutcomeSkipped:
			itemLog.Info("skipped", zap.String("reason", out.Reason))
		default:
			itemLog.Info("upserted", zap.Stringer("outcome", out.Kind), zap.Int64("id", out.ID), zap.Bool("enriched", out.Enriched))
		}
	}
	return nil
}

func (p *Pipeline) lookup(ctx context.Context, tmpl Template, raw RawRecord) (*models.Opportunity, error) {
	prior, err := p.store.FindByKey(ctx, raw.Key)
	if err != nil || prior != nil || !tmpl.LookupByURL || raw.URL == "" {
		return prior, err
	}
	return p.store.FindByURL(ctx, raw.Key.Source, CanonicalizeURL(raw.URL))
}

// checkStore tells a failed record apart from a lost connection.
func (p *Pipeline) checkStore(ctx context.Context) error {
	if err := p.store.Ping(ctx); err != nil {
		return fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	return nil
}

func (p *Pipeline) reconcileOptions() ReconcileOptions {
	return ReconcileOptions{Now: p.now()}
}

func (p *Pipeline) startRun(ctx context.Context, sourceID string, log *zap.Logger) string {
	if p.runs == nil {
		return ""
	}
	runID, err := p.runs.StartRun(ctx, sourceID)
	if err != nil {
		log.Warn("failed to create ingest run", zap.Error(err))
		return ""
	}
	return runID
}

func (p *Pipeline) finishRun(ctx context.Context, runID string, stats RunStats, runErr error, took time.Duration, log *zap.Logger) {
	if p.runs == nil || runID == "" {
		return
	}

	status := db.RunCompleted
	if runErr != nil || (stats.Found > 0 && stats.Errors > 0 && stats.Created+stats.Updated+stats.Skipped == 0) {
		status = db.RunFailed
	}
	details := map[string]any{
		"duration_ms": took.Milliseconds(),
		"delisted":    stats.Delisted,
	}
	if runErr != nil {
		details["error"] = runErr.Error()
	}

	// the run row is written even when ctx was cancelled
	ctx = context.WithoutCancel(ctx)
	err := p.runs.FinishRun(ctx, runID, db.RunResult{
		Status:   status,
		Found:    stats.Found,
		Created:  stats.Created,
		Updated:  stats.Updated,
		Skipped:  stats.Skipped,
		Errors:   stats.Errors,
		Enriched: stats.Enriched,
		Details:  details,
	})
	if err != nil {
		log.Warn("failed to update ingest run", zap.String("run_id", runID), zap.Error(err))
	}
}

// SourceResult is one entry of a RunAll report.
type SourceResult struct {
	ID    string
	Stats RunStats
	Err   error
}

// RunAll runs every source in order, continuing past failed sources. It only
// returns an error when the store became unavailable.
func (p *Pipeline) RunAll(ctx context.Context, sources []Source) ([]SourceResult, error) {
	results := make([]SourceResult, 0, len(sources))
	for _, src := range sources {
		stats, err := p.RunSource(ctx, src)
		results = append(results, SourceResult{ID: src.ID(), Stats: stats, Err: err})
		if errors.Is(err, ErrStoreUnavailable) {
			return results, err
		}
		if ctx.Err() != nil {
			return results, ctx.Err()
		}
	}

	ok := 0
	for _, r := range results {
		if r.Err == nil {
			ok++
		}
	}
	p.logger.Info("all sources finished", zap.Int("succeeded", ok), zap.Int("total", len(results)))
	return results, nil
}
