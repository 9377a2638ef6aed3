package ai

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

// scriptedModel answers batch and item prompts with separate functions and counts calls.
type scriptedModel struct {
	mu        sync.Mutex
	batch     func(prompt string) (string, error)
	item      func(index int) (string, error)
	calls     int
	forgotten []string
}

func (m *scriptedModel) Complete(_ context.Context, prompt string) (string, error) {
	m.mu.Lock()
	m.calls++
	m.mu.Unlock()

	if strings.HasPrefix(prompt, "IMPORTANT: Return ONLY a valid JSON array") {
		return m.batch(prompt)
	}
	for i := 0; i < 100; i++ {
		if strings.Contains(prompt, fmt.Sprintf("- index: %d\n", i)) {
			return m.item(i)
		}
	}
	return "", fmt.Errorf("unrecognized prompt")
}

func (m *scriptedModel) Forget(_ context.Context, prompt string) {
	m.forgotten = append(m.forgotten, prompt)
}

func items(n int) []map[string]any {
	out := make([]map[string]any, n)
	for i := range out {
		out[i] = map[string]any{"title": fmt.Sprintf("Grant %d", i), "description": "text"}
	}
	return out
}

func summaryJSON(index int) string {
	b, _ := json.Marshal(map[string]any{
		"index":               index,
		"description_summary": fmt.Sprintf("summary %d", index),
		"relevance_score":     50 + index,
	})
	return string(b)
}

func TestEnrich_BatchSuccess(t *testing.T) {
	model := &scriptedModel{
		batch: func(string) (string, error) {
			return "[" + summaryJSON(0) + "," + summaryJSON(1) + "," + summaryJSON(2) + "]", nil
		},
		item: func(int) (string, error) { return "", fmt.Errorf("unexpected individual call") },
	}
	o := NewOrchestrator(model, zap.NewNop())

	got := o.Enrich(context.Background(), KindGrant, items(3))
	require.Len(t, got, 3)
	for i, r := range got {
		assert.True(t, r.OK)
		assert.Equal(t, i, r.Index)
		assert.Equal(t, fmt.Sprintf("summary %d", i), r.Fields["description_summary"])
		assert.NotContains(t, r.Fields, "index")
	}
	assert.Equal(t, 1, model.calls)
}

func TestEnrich_OutOfOrderIndicesAreRealigned(t *testing.T) {
	model := &scriptedModel{
		batch: func(string) (string, error) {
			return "[" + summaryJSON(2) + "," + summaryJSON(0) + "," + summaryJSON(1) + "]", nil
		},
		item: func(int) (string, error) { return "", fmt.Errorf("unexpected individual call") },
	}
	got := NewOrchestrator(model, zap.NewNop()).Enrich(context.Background(), KindGrant, items(3))

	for i, r := range got {
		require.True(t, r.OK)
		assert.Equal(t, fmt.Sprintf("summary %d", i), r.Fields["description_summary"])
	}
}

func TestEnrich_DuplicateIndicesAreRetriedIndividually(t *testing.T) {
	model := &scriptedModel{
		batch: func(string) (string, error) {
			return `[{"index":0,"description_summary":"a"},{"index":0,"description_summary":"b"},` +
				`{"description_summary":"positional"}]`, nil
		},
		item: func(i int) (string, error) {
			if i == 2 {
				return "", fmt.Errorf("unexpected retry of %d", i)
			}
			return summaryJSON(i), nil
		},
	}
	got := NewOrchestrator(model, zap.NewNop()).Enrich(context.Background(), KindGrant, items(3))

	require.Len(t, got, 3)
	assert.Equal(t, "summary 0", got[0].Fields["description_summary"])
	assert.Equal(t, "summary 1", got[1].Fields["description_summary"], "a colliding object is not placed by position")
	assert.Equal(t, "positional", got[2].Fields["description_summary"])
	assert.Equal(t, 3, model.calls)
}

func TestEnrich_UnparseableBatchFallsBackToIndividual(t *testing.T) {
	model := &scriptedModel{
		batch: func(string) (string, error) {
			return "I'm sorry, I can only describe these grants in prose.", nil
		},
		item: func(i int) (string, error) {
			switch i {
			case 0, 2, 4:
				return summaryJSON(i), nil
			case 1:
				return "not json at all", nil
			default:
				return "", fmt.Errorf("model: %w", ErrNoCompletion)
			}
		},
	}
	o := NewOrchestrator(model, zap.NewNop())

	got := o.Enrich(context.Background(), KindGrant, items(5))
	require.Len(t, got, 5)

	var ok []int
	for _, r := range got {
		if r.OK {
			ok = append(ok, r.Index)
		}
	}
	assert.Equal(t, []int{0, 2, 4}, ok)
	assert.Nil(t, got[1].Fields)
	assert.Equal(t, 6, model.calls)
	// the bad batch answer and the bad item answer are both evicted
	assert.Len(t, model.forgotten, 2)
}

func TestEnrich_PartialBatchRetriesOnlyMissing(t *testing.T) {
	model := &scriptedModel{
		batch: func(string) (string, error) {
			return "[" + summaryJSON(0) + "," + summaryJSON(2) + "]", nil
		},
		item: func(i int) (string, error) {
			if i != 1 {
				return "", fmt.Errorf("unexpected retry of %d", i)
			}
			return summaryJSON(1), nil
		},
	}
	got := NewOrchestrator(model, zap.NewNop()).Enrich(context.Background(), KindDetail, items(3))

	for _, r := range got {
		assert.True(t, r.OK)
	}
	assert.Equal(t, 2, model.calls)
}

func TestEnrich_PanicIsContained(t *testing.T) {
	model := &scriptedModel{
		batch: func(string) (string, error) { panic("boom") },
		item: func(i int) (string, error) {
			if i == 0 {
				panic("boom again")
			}
			return summaryJSON(i), nil
		},
	}
	got := NewOrchestrator(model, zap.NewNop()).Enrich(context.Background(), KindPage, items(2))

	assert.False(t, got[0].OK)
	assert.True(t, got[1].OK)
}

func TestEnrich_Empty(t *testing.T) {
	model := &scriptedModel{}
	got := NewOrchestrator(model, zap.NewNop()).Enrich(context.Background(), KindGrant, nil)
	assert.Empty(t, got)
	assert.Zero(t, model.calls)
}

func TestBatchPrompt_TruncatesAndIndexes(t *testing.T) {
	long := strings.Repeat("x", MaxDescriptionChars+500)
	prompt, err := BatchPrompt(KindGrant, []map[string]any{{"description": long}, {"title": "b"}})
	require.NoError(t, err)

	assert.NotContains(t, prompt, strings.Repeat("x", MaxDescriptionChars+1))
	assert.Contains(t, prompt, `"index": 1`)
	assert.Contains(t, prompt, "stem_education")
}
