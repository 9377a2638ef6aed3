package ingest

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/david/grant-pipeline/internal/ai"
	"github.com/david/grant-pipeline/internal/db"
	"github.com/david/grant-pipeline/internal/models"
)

// TestPostgresRoundTrip runs the pipeline and the sweep against a real database.
// It needs DATABASE_URL pointing at a Postgres with the vector extension.
func TestPostgresRoundTrip(t *testing.T) {
	dbURL := os.Getenv("DATABASE_URL")
	if dbURL == "" {
		t.Skip("DATABASE_URL not set, skipping integration test")
	}

	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()

	pool, err := db.Connect(ctx, dbURL)
	if err != nil {
		t.Skipf("Database not reachable, skipping integration test: %v", err)
	}
	t.Cleanup(pool.Close)

	logger := zap.NewNop()
	require.NoError(t, db.Migrate(dbURL, logger))

	source := "it-" + uuid.NewString()[:8]
	t.Cleanup(func() {
		_, _ = pool.Exec(context.Background(), "DELETE FROM opportunities WHERE source = $1", source)
		_, _ = pool.Exec(context.Background(), "DELETE FROM ingest_runs WHERE source_id = $1", source)
	})

	store := db.NewStore(pool)
	src := &listSource{
		id:    source,
		tmpl:  Template{Source: source, Fields: Fields{"state_code": "MA", "services": []any{"k12_education"}}, Kind: ai.KindDetail},
		full:  true,
		items: []ListingItem{{ID: "0304"}, {ID: "0101"}},
		records: map[string]RawRecord{
			"0304": {
				Key:         models.NaturalKey{Source: source, SourceGrantID: "0304"},
				URL:         "https://www.doe.mass.edu/grants/2026/0304",
				Fields:      Fields{"title": "FY26 Title I", "close_date": "2025-12-01", "award_max": "$50,000"},
				LastUpdated: "2025-09-19",
			},
			"0101": {
				Key:     models.NaturalKey{Source: source, SourceGrantID: "0101"},
				Fields:  Fields{"title": "FY26 Literacy", "close_date": "2025-10-01"},
				Content: "<dl><dt>Purpose:</dt><dd>Reading</dd></dl>",
			},
		},
	}
	enr := &scriptedEnricher{fields: map[string]Fields{
		"FY26 Title I": {"description_summary": "Funds schools.", "category": []any{"equity_and_inclusion"}},
	}}
	p := NewPipeline(store, PipelineOptions{Runs: store, Enricher: enr, Embedder: &fakeEmbedder{}}, logger)
	p.now = func() time.Time { return pipelineNow }

	stats, err := p.RunSource(ctx, src)
	require.NoError(t, err)
	assert.Equal(t, 2, stats.Created)

	titleI, err := store.FindByKey(ctx, models.NaturalKey{Source: source, SourceGrantID: "0304"})
	require.NoError(t, err)
	require.NotNil(t, titleI)
	assert.Equal(t, "Funds schools.", titleI.DescriptionSummary)
	assert.Equal(t, []models.Category{"equity_and_inclusion"}, titleI.Category)
	assert.Equal(t, int64(50000), *titleI.AwardMax)
	assert.Equal(t, "2025-09-19", FormatDate(titleI.LastUpdated))

	byURL, err := store.FindByURL(ctx, source, "https://www.doe.mass.edu/grants/2026/0304")
	require.NoError(t, err)
	require.NotNil(t, byURL)
	assert.Equal(t, titleI.ID, byURL.ID)

	// unchanged second run, with 0101 gone from the listing
	src.items = src.items[:1]
	stats, err = p.RunSource(ctx, src)
	require.NoError(t, err)
	assert.Equal(t, 1, stats.Skipped)
	assert.Equal(t, 1, stats.Delisted)

	literacy, err := store.FindByKey(ctx, models.NaturalKey{Source: source, SourceGrantID: "0101"})
	require.NoError(t, err)
	assert.Equal(t, models.StatusClosed, literacy.Status)

	s := NewSweeper(store, logger)
	s.now = func() time.Time { return time.Date(2025, 12, 5, 0, 0, 0, 0, time.UTC) }
	sweep, err := s.Sweep(ctx, SweepOptions{Source: source})
	require.NoError(t, err)
	assert.Equal(t, 1, sweep.Closed)

	runs, err := store.RecentRuns(ctx, 50)
	require.NoError(t, err)
	var mine int
	for _, r := range runs {
		if r.SourceID == source {
			mine++
			assert.Equal(t, db.RunCompleted, r.Status)
		}
	}
	assert.Equal(t, 2, mine)
}
