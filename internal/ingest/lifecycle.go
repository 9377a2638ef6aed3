package ingest

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/david/grant-pipeline/internal/models"
)

// NextStatus is the date-driven lifecycle rule. ok is false when the record keeps
// its status. Archiving wins over closing.
func NextStatus(o *models.Opportunity, today time.Time) (models.Status, bool) {
	today = calendarDay(today)
	passed := func(t *time.Time) bool {
		return t != nil && truncateToDate(t.UTC()).Before(today)
	}

	switch o.Status {
	case models.StatusPosted, models.StatusForecasted, models.StatusClosed:
		if passed(o.ArchiveDate) {
			return models.StatusArchived, true
		}
	}
	switch o.Status {
	case models.StatusPosted, models.StatusForecasted:
		if passed(o.CloseDate) {
			return models.StatusClosed, true
		}
	}
	return o.Status, false
}

// calendarDay is the date of t in its own location, as UTC midnight.
func calendarDay(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

type SweepOptions struct {
	// Source limits the sweep to one source; empty sweeps all.
	Source string
	// DryRun reports transitions without writing them.
	DryRun bool
}

type SweepStats struct {
	Checked  int
	Archived int
	Closed   int
	Errors   int
}

// Sweeper runs the lifecycle rules over stored records.
type Sweeper struct {
	store  Store
	logger *zap.Logger
	now    func() time.Time
}

func NewSweeper(store Store, logger *zap.Logger) *Sweeper {
	return &Sweeper{store: store, logger: logger.Named("sweep"), now: time.Now}
}

// Sweep applies NextStatus to every candidate. Each write is guarded by the status
// the record was read with, so a second sweep over unchanged data writes nothing.
func (s *Sweeper) Sweep(ctx context.Context, opts SweepOptions) (SweepStats, error) {
	var stats SweepStats
	today := calendarDay(s.now())

	records, err := s.store.ListForSweep(ctx, opts.Source, today)
	if err != nil {
		return stats, err
	}

	for i := range records {
		o := &records[i]
		stats.Checked++

		next, ok := NextStatus(o, today)
		if !ok {
			continue
		}

		log := s.logger.With(
			zap.Int64("id", o.ID),
			zap.Stringer("key", o.Key()),
			zap.String("from", string(o.Status)),
			zap.String("to", string(next)))

		if opts.DryRun {
			log.Info("would transition")
			stats.count(next)
			continue
		}

		changed, err := s.store.SetStatus(ctx, o.ID, o.Status, next)
		if err != nil {
			stats.Errors++
			log.Error("status update failed", zap.Error(err))
			continue
		}
		if !changed {
			log.Debug("status changed concurrently, leaving as is")
			continue
		}
		log.Info("status transitioned")
		stats.count(next)
	}

	s.logger.Info("sweep finished",
		zap.String("source", opts.Source),
		zap.Bool("dry_run", opts.DryRun),
		zap.Int("checked", stats.Checked),
		zap.Int("archived", stats.Archived),
		zap.Int("closed", stats.Closed),
		zap.Int("errors", stats.Errors))
	return stats, nil
}

func (st *SweepStats) count(next models.Status) {
	switch next {
	case models.StatusArchived:
		st.Archived++
	case models.StatusClosed:
		st.Closed++
	}
}

// CloseDelisted closes posted records of source that the latest full listing did
// not include and whose close date is today or earlier. seen holds the
// source_grant_ids of that listing.
func (s *Sweeper) CloseDelisted(ctx context.Context, source string, seen map[string]bool, today time.Time) (int, error) {
	today = calendarDay(today)
	posted, err := s.store.ListPosted(ctx, source)
	if err != nil {
		return 0, err
	}

	closed := 0
	var errs int
	for _, o := range posted {
		if seen[o.SourceGrantID] || o.CloseDate == nil || truncateToDate(o.CloseDate.UTC()).After(today) {
			continue
		}
		changed, err := s.store.SetStatus(ctx, o.ID, models.StatusPosted, models.StatusClosed)
		if err != nil {
			errs++
			s.logger.Error("closing delisted record failed", zap.Stringer("key", o.Key()), zap.Error(err))
			continue
		}
		if changed {
			closed++
			s.logger.Info("closed delisted record", zap.Stringer("key", o.Key()), zap.String("title", o.Title))
		}
	}
	if errs > 0 {
		return closed, fmt.Errorf("closing delisted %s records: %d failures", source, errs)
	}
	return closed, nil
}
