package ingest

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/david/grant-pipeline/internal/ai"
	"github.com/david/grant-pipeline/internal/db"
	"github.com/david/grant-pipeline/internal/models"
)

var pipelineNow = time.Date(2025, 10, 5, 9, 0, 0, 0, time.UTC)

func newTestPipeline(store Store, runs RunLog, enr Enricher, batch int) *Pipeline {
	p := NewPipeline(store, PipelineOptions{Runs: runs, Enricher: enr, BatchSize: batch}, zap.NewNop())
	p.now = func() time.Time { return pipelineNow }
	return p
}

// grantSource builds a source with n records titled "G1".."Gn".
func grantSource(n int) *listSource {
	src := &listSource{
		id:      "grants_gov",
		tmpl:    Template{Source: "grants.gov", Fields: Fields{"state_code": "US"}, Kind: ai.KindGrant},
		records: make(map[string]RawRecord),
	}
	for i := 1; i <= n; i++ {
		id := fmt.Sprintf("ED-%03d", i)
		src.items = append(src.items, ListingItem{ID: id})
		src.records[id] = RawRecord{
			Key:         models.NaturalKey{Source: "grants.gov", SourceGrantID: id},
			URL:         "https://www.grants.gov/search-results-detail/" + id,
			Fields:      Fields{"title": fmt.Sprintf("G%d", i), "close_date": "2025-12-01"},
			LastUpdated: "2025-09-01",
		}
	}
	return src
}

func TestRunSourceCreatesThenSkipsUnchanged(t *testing.T) {
	store := newMemStore()
	runs := &memRunLog{}
	enr := &scriptedEnricher{fields: map[string]Fields{
		"G1": {"description_summary": "one", "relevance_score": 90},
		"G2": {"description_summary": "two", "category": []any{"stem_education"}},
	}}
	p := newTestPipeline(store, runs, enr, 5)
	src := grantSource(2)

	stats, err := p.RunSource(context.Background(), src)
	require.NoError(t, err)
	assert.Equal(t, RunStats{Found: 2, Created: 2, Enriched: 2}, stats)

	g1 := store.get(models.NaturalKey{Source: "grants.gov", SourceGrantID: "ED-001"})
	require.NotNil(t, g1)
	assert.Equal(t, "one", g1.DescriptionSummary)
	assert.Equal(t, 90, *g1.RelevanceScore)
	assert.Equal(t, "US", g1.StateCode)
	assert.Equal(t, models.StatusPosted, g1.Status)
	assert.Equal(t, []models.Category{models.CategoryOther}, g1.Category)
	require.NotNil(t, g1.LastUpdated)
	assert.Equal(t, "2025-09-01", FormatDate(g1.LastUpdated))

	stats, err = p.RunSource(context.Background(), src)
	require.NoError(t, err)
	assert.Equal(t, RunStats{Found: 2, Skipped: 2}, stats)
	assert.Len(t, enr.calls, 1, "unchanged records never reach the model")

	require.Len(t, runs.finished, 2)
	assert.Equal(t, db.RunCompleted, runs.finished["run-1"].Status)
	assert.Equal(t, 2, runs.finished["run-1"].Created)
	assert.Equal(t, 2, runs.finished["run-2"].Skipped)
}

func TestRunSourceBatchesModelCalls(t *testing.T) {
	enr := &scriptedEnricher{}
	p := newTestPipeline(newMemStore(), nil, enr, 2)

	stats, err := p.RunSource(context.Background(), grantSource(5))
	require.NoError(t, err)
	assert.Equal(t, 5, stats.Created)

	require.Len(t, enr.calls, 3)
	assert.Len(t, enr.calls[0], 2)
	assert.Len(t, enr.calls[1], 2)
	assert.Len(t, enr.calls[2], 1)
	assert.Equal(t, "G5", enr.calls[2][0]["title"])
}

func TestRunSourceRetriesUnenrichedRecords(t *testing.T) {
	store := newMemStore()
	enr := &scriptedEnricher{fail: map[string]bool{"G1": true}}
	p := newTestPipeline(store, nil, enr, 5)
	src := grantSource(2)

	stats, err := p.RunSource(context.Background(), src)
	require.NoError(t, err)
	assert.Equal(t, RunStats{Found: 2, Created: 2, Enriched: 1}, stats)

	g1 := store.get(models.NaturalKey{Source: "grants.gov", SourceGrantID: "ED-001"})
	require.NotNil(t, g1)
	assert.Equal(t, "G1", g1.Title, "source fields are stored even without enrichment")
	assert.Nil(t, g1.LastUpdated, "the fingerprint is withheld")

	enr.fail = nil
	stats, err = p.RunSource(context.Background(), src)
	require.NoError(t, err)
	assert.Equal(t, RunStats{Found: 2, Updated: 1, Skipped: 1, Enriched: 1}, stats)
	require.Len(t, enr.calls, 2)
	assert.Len(t, enr.calls[1], 1)
}

func TestRunSourceSkipsStaleBeforeEnrichment(t *testing.T) {
	store := newMemStore()
	enr := &scriptedEnricher{}
	p := newTestPipeline(store, nil, enr, 5)

	src := grantSource(1)
	rec := src.records["ED-001"]
	rec.Fields = Fields{"title": "G1", "fiscal_year": 2023}
	src.records["ED-001"] = rec

	stats, err := p.RunSource(context.Background(), src)
	require.NoError(t, err)
	assert.Equal(t, RunStats{Found: 1, Skipped: 1}, stats)
	assert.Empty(t, enr.calls)
	assert.Empty(t, store.all())
}

func TestRunSourceCountsDetailFailures(t *testing.T) {
	runs := &memRunLog{}
	p := newTestPipeline(newMemStore(), runs, nil, 5)
	src := grantSource(3)
	src.detailErr = map[string]error{
		"ED-001": errors.New("502 bad gateway"),
		"ED-002": fmt.Errorf("%w: no fiscal year", ErrSkipItem),
	}

	stats, err := p.RunSource(context.Background(), src)
	require.NoError(t, err)
	assert.Equal(t, RunStats{Found: 3, Created: 1, Skipped: 1, Errors: 1}, stats)
	assert.Equal(t, db.RunCompleted, runs.finished["run-1"].Status)
}

func TestRunSourceMarksRunFailedWithoutSuccesses(t *testing.T) {
	runs := &memRunLog{}
	p := newTestPipeline(newMemStore(), runs, nil, 5)
	src := grantSource(1)
	src.detailErr = map[string]error{"ED-001": errors.New("timeout")}

	_, err := p.RunSource(context.Background(), src)
	require.NoError(t, err)
	assert.Equal(t, db.RunFailed, runs.finished["run-1"].Status)
}

func TestRunSourceAbortsWhenStoreIsGone(t *testing.T) {
	store := newMemStore()
	store.lookupErr = errors.New("connection reset")
	store.pingErr = errors.New("connection refused")
	runs := &memRunLog{}
	p := newTestPipeline(store, runs, nil, 5)

	results, err := p.RunAll(context.Background(), []Source{grantSource(3), grantSource(1)})
	require.ErrorIs(t, err, ErrStoreUnavailable)
	require.Len(t, results, 1, "later sources are not attempted")
	assert.Equal(t, 1, results[0].Stats.Errors)
	assert.Equal(t, db.RunFailed, runs.finished["run-1"].Status)
}

func TestRunSourceContinuesPastRecordFailures(t *testing.T) {
	store := newMemStore()
	store.insertErr = errors.New("value too long")
	p := newTestPipeline(store, nil, nil, 5)

	stats, err := p.RunSource(context.Background(), grantSource(2))
	require.NoError(t, err)
	assert.Equal(t, 2, stats.Errors)
}

func TestRunAllContinuesPastFailedSources(t *testing.T) {
	p := newTestPipeline(newMemStore(), nil, nil, 5)
	broken := &listSource{id: "broken", listErr: errors.New("listing page moved")}

	results, err := p.RunAll(context.Background(), []Source{broken, grantSource(1)})
	require.NoError(t, err)
	require.Len(t, results, 2)
	assert.ErrorContains(t, results[0].Err, "listing page moved")
	assert.NoError(t, results[1].Err)
	assert.Equal(t, 1, results[1].Stats.Created)
}

func TestRunSourceClosesDelistedRecords(t *testing.T) {
	store := newMemStore()
	gone := store.put(models.Opportunity{Source: "doe.mass.edu", SourceGrantID: "0999", Status: models.StatusPosted, CloseDate: date(2025, 10, 1)})

	src := &listSource{
		id:    "mass_dese",
		tmpl:  Template{Source: "doe.mass.edu"},
		full:  true,
		items: []ListingItem{{ID: "0304"}},
		records: map[string]RawRecord{"0304": {
			Key:    models.NaturalKey{Source: "doe.mass.edu", SourceGrantID: "0304"},
			Fields: Fields{"title": "FY26 Title I", "close_date": "2025-12-01"},
		}},
	}
	p := newTestPipeline(store, nil, nil, 5)

	stats, err := p.RunSource(context.Background(), src)
	require.NoError(t, err)
	assert.Equal(t, 1, stats.Delisted)
	assert.Equal(t, models.StatusClosed, store.records[gone].Status)

	// an empty listing is treated as a broken page, not as everything delisted
	other := store.put(models.Opportunity{Source: "doe.mass.edu", SourceGrantID: "0888", Status: models.StatusPosted, CloseDate: date(2025, 10, 1)})
	src.items = nil
	stats, err = p.RunSource(context.Background(), src)
	require.NoError(t, err)
	assert.Zero(t, stats.Delisted)
	assert.Equal(t, models.StatusPosted, store.records[other].Status)
}

func TestLookupFallsBackToURL(t *testing.T) {
	store := newMemStore()
	id := store.put(models.Opportunity{Source: "nysed.gov", SourceGrantID: "legacy-id", URL: "https://www.nysed.gov/grants/smart-start", Status: models.StatusPosted})
	p := newTestPipeline(store, nil, nil, 5)

	raw := RawRecord{
		Key: models.NaturalKey{Source: "nysed.gov", SourceGrantID: urlGrantID("https://www.nysed.gov/grants/smart-start")},
		URL: "https://www.nysed.gov/grants/smart-start/?utm_source=news",
	}
	prior, err := p.lookup(context.Background(), Template{LookupByURL: true}, raw)
	require.NoError(t, err)
	require.NotNil(t, prior)
	assert.Equal(t, id, prior.ID)

	prior, err = p.lookup(context.Background(), Template{}, raw)
	require.NoError(t, err)
	assert.Nil(t, prior)
}
