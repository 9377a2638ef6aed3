package ingest

import (
	"context"
	"errors"
	"time"

	"github.com/david/grant-pipeline/internal/db"
	"github.com/david/grant-pipeline/internal/models"
)

// ErrStoreUnavailable aborts a run when the store stops answering.
var ErrStoreUnavailable = errors.New("store unavailable")

// Store is the persistence the pipeline and the sweep need. Find methods return
// nil, nil when there is no record.
type Store interface {
	FindByKey(ctx context.Context, key models.NaturalKey) (*models.Opportunity, error)
	FindByURL(ctx context.Context, source, url string) (*models.Opportunity, error)
	Begin(ctx context.Context) (db.Tx, error)
	ListForSweep(ctx context.Context, source string, today time.Time) ([]models.Opportunity, error)
	ListPosted(ctx context.Context, source string) ([]models.Opportunity, error)
	SetStatus(ctx context.Context, id int64, from, to models.Status) (bool, error)
	Ping(ctx context.Context) error
}

// RunLog records one row per source run.
type RunLog interface {
	StartRun(ctx context.Context, sourceID string) (string, error)
	FinishRun(ctx context.Context, runID string, res db.RunResult) error
}

var (
	_ Store  = (*db.Store)(nil)
	_ RunLog = (*db.Store)(nil)
)
