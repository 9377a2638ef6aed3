package ai

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"go.uber.org/zap"
)

// Enrichment is the model output for one input item. OK is false when neither the
// batch call nor the individual retry produced usable fields for it.
type Enrichment struct {
	Index  int
	Fields map[string]any
	OK     bool
}

// forgetter is implemented by caching models that can drop a bad cached answer.
type forgetter interface {
	Forget(ctx context.Context, prompt string)
}

type Orchestrator struct {
	model  Model
	logger *zap.Logger
}

func NewOrchestrator(model Model, logger *zap.Logger) *Orchestrator {
	return &Orchestrator{model: model, logger: logger.Named("ai")}
}

// Enrich returns exactly len(items) results in input order. It calls the model once for the
// whole batch and falls back to one call per item for anything the batch did not cover.
func (o *Orchestrator) Enrich(ctx context.Context, kind PromptKind, items []map[string]any) []Enrichment {
	results := make([]Enrichment, len(items))
	for i := range results {
		results[i].Index = i
	}
	if len(items) == 0 {
		return results
	}

	start := time.Now()
	objects, err := o.batchAttempt(ctx, kind, items)
	if err != nil {
		o.logger.Warn("batch extraction failed, falling back to individual calls",
			zap.Int("batch", len(items)),
			zap.Error(err))
	} else {
		assignBatch(results, objects)
	}

	missing := 0
	for i := range results {
		if results[i].OK {
			continue
		}
		missing++
		fields, err := o.itemAttempt(ctx, kind, items[i], i)
		if err != nil {
			o.logger.Warn("individual extraction failed",
				zap.Int("index", i),
				zap.Error(err))
			continue
		}
		results[i].Fields = fields
		results[i].OK = true
	}

	enriched := 0
	for _, r := range results {
		if r.OK {
			enriched++
		}
	}
	o.logger.Info("enrichment finished",
		zap.String("kind", string(kind)),
		zap.Int("batch", len(items)),
		zap.Int("individual_calls", missing),
		zap.Int("enriched", enriched),
		zap.Duration("elapsed", time.Since(start)))
	return results
}

func (o *Orchestrator) batchAttempt(ctx context.Context, kind PromptKind, items []map[string]any) (objects []map[string]any, err error) {
	defer func() {
		if r := recover(); r != nil {
			objects, err = nil, fmt.Errorf("panic in batch extraction: %v", r)
		}
	}()

	prompt, err := BatchPrompt(kind, items)
	if err != nil {
		return nil, err
	}
	resp, err := o.model.Complete(ctx, prompt)
	if err != nil {
		return nil, err
	}
	objects, err = ParseJSONArray(resp)
	if err != nil {
		o.forget(ctx, prompt)
		return nil, err
	}
	if len(objects) == 0 {
		o.forget(ctx, prompt)
		return nil, fmt.Errorf("batch response has no usable items")
	}
	return objects, nil
}

func (o *Orchestrator) itemAttempt(ctx context.Context, kind PromptKind, item map[string]any, index int) (fields map[string]any, err error) {
	defer func() {
		if r := recover(); r != nil {
			fields, err = nil, fmt.Errorf("panic in item extraction: %v", r)
		}
	}()

	prompt, err := ItemPrompt(kind, item, index)
	if err != nil {
		return nil, err
	}
	resp, err := o.model.Complete(ctx, prompt)
	if err != nil {
		return nil, err
	}
	obj, err := ParseJSONObject(resp)
	if err != nil {
		o.forget(ctx, prompt)
		return nil, err
	}
	delete(obj, "index")
	return obj, nil
}

func (o *Orchestrator) forget(ctx context.Context, prompt string) {
	if f, ok := o.model.(forgetter); ok {
		f.Forget(ctx, prompt)
	}
}

// assignBatch places response objects by their index field when it is valid and unique,
// then places objects without a usable index by array position into still-free slots.
// Objects whose index collides with another are dropped, so the slots they claimed
// are retried individually.
func assignBatch(results []Enrichment, objects []map[string]any) {
	n := len(results)
	claimed := make(map[int]int)
	counts := make(map[int]int)
	for _, obj := range objects {
		if idx, ok := objectIndex(obj, n); ok {
			counts[idx]++
		}
	}

	for pos, obj := range objects {
		if idx, ok := objectIndex(obj, n); ok && counts[idx] == 1 {
			claimed[idx] = pos
		}
	}
	for pos, obj := range objects {
		if _, ok := objectIndex(obj, n); ok || pos >= n {
			continue
		}
		if _, taken := claimed[pos]; taken {
			continue
		}
		claimed[pos] = pos
	}

	for idx, pos := range claimed {
		fields := objects[pos]
		delete(fields, "index")
		results[idx].Fields = fields
		results[idx].OK = true
	}
}

func objectIndex(obj map[string]any, n int) (int, bool) {
	var idx int
	switch v := obj["index"].(type) {
	case float64:
		if v != float64(int(v)) {
			return 0, false
		}
		idx = int(v)
	case string:
		parsed, err := strconv.Atoi(v)
		if err != nil {
			return 0, false
		}
		idx = parsed
	default:
		return 0, false
	}
	if idx < 0 || idx >= n {
		return 0, false
	}
	return idx, true
}
