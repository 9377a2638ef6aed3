// Package ai wraps the language model providers used to enrich opportunities and
// orchestrates batch and per-item extraction over them.
package ai

import (
	"context"
	"errors"
	"fmt"
)

// ErrNoCompletion is returned by every Model when an attempt produced no usable text.
// Callers treat it as "no enrichment this attempt", never as a fatal condition.
var ErrNoCompletion = errors.New("no completion")

// Model is a single request/response text completion capability.
type Model interface {
	Complete(ctx context.Context, prompt string) (string, error)
}

// Embedder turns text into a vector for the search projection.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
}

func noCompletion(provider string, cause error) error {
	if cause == nil {
		return fmt.Errorf("%s: %w", provider, ErrNoCompletion)
	}
	return fmt.Errorf("%s: %w: %v", provider, ErrNoCompletion, cause)
}
