package ingest

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/david/grant-pipeline/internal/ai"
	"github.com/david/grant-pipeline/internal/db"
	"github.com/david/grant-pipeline/internal/models"
)

// Upserter writes reconciled candidates, one transaction per record.
type Upserter struct {
	store    Store
	embedder ai.Embedder
	logger   *zap.Logger
}

// NewUpserter builds an Upserter. embedder may be nil.
func NewUpserter(store Store, embedder ai.Embedder, logger *zap.Logger) *Upserter {
	return &Upserter{store: store, embedder: embedder, logger: logger.Named("upsert")}
}

// Upsert creates the record when prior is nil and otherwise writes only the
// candidate's fields over it. A gate skip never writes.
func (u *Upserter) Upsert(ctx context.Context, cand Candidate, prior *models.Opportunity, decision GateDecision) Outcome {
	if decision.Verdict == Skip {
		return Skipped(decision.Reason)
	}
	if cand.SkipReason != "" {
		return Skipped(cand.SkipReason)
	}

	tx, err := u.store.Begin(ctx)
	if err != nil {
		return Failed(err)
	}

	var out Outcome
	if prior == nil {
		out = u.insert(ctx, tx, cand)
	} else {
		out = u.update(ctx, tx, cand, prior)
	}

	if out.Kind == OutcomeFailed {
		if rbErr := tx.Rollback(ctx); rbErr != nil {
			u.logger.Warn("rollback failed", zap.Stringer("key", cand.Key), zap.Error(rbErr))
		}
		return out
	}
	if err := tx.Commit(ctx); err != nil {
		return Failed(fmt.Errorf("commit %s: %w", cand.Key, err))
	}
	return out
}

func (u *Upserter) insert(ctx context.Context, tx db.Tx, cand Candidate) Outcome {
	o := &models.Opportunity{Source: cand.Key.Source, SourceGrantID: cand.Key.SourceGrantID}
	applyFields(o, cand.Fields)
	o.RawText = Project(o)
	o.Embedding = u.embed(ctx, cand.Key, o.RawText)

	id, err := tx.Insert(ctx, o)
	if err != nil {
		return Failed(err)
	}
	return Created(id)
}

func (u *Upserter) update(ctx context.Context, tx db.Tx, cand Candidate, prior *models.Opportunity) Outcome {
	merged := *prior
	applyFields(&merged, cand.Fields)
	rawText := Project(&merged)

	fields := make(map[string]any, len(cand.Fields)+2)
	for k, v := range cand.Fields {
		fields[k] = v
	}
	fields["raw_text"] = rawText
	if rawText != prior.RawText {
		if vec := u.embed(ctx, cand.Key, rawText); vec != nil {
			fields["embedding"] = vec
		}
	}

	if err := tx.UpdateFields(ctx, prior.ID, fields); err != nil {
		return Failed(err)
	}
	return Updated(prior.ID)
}

// embed never fails the record; a missing vector is refreshed on the next write.
func (u *Upserter) embed(ctx context.Context, key models.NaturalKey, text string) []float32 {
	if u.embedder == nil || text == "" {
		return nil
	}
	vec, err := u.embedder.Embed(ctx, text)
	if err != nil {
		u.logger.Warn("embedding failed", zap.Stringer("key", key), zap.Error(err))
		return nil
	}
	return vec
}
