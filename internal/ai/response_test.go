package ai

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseJSONArray(t *testing.T) {
	tests := []struct {
		name    string
		input   string
		want    int
		wantErr error
	}{
		{"plain array", `[{"index":0},{"index":1}]`, 2, nil},
		{"code fence", "```json\n[{\"index\":0}]\n```", 1, nil},
		{"surrounding prose", "Here are the results:\n[{\"index\":0}]\nLet me know.", 1, nil},
		{"non-object elements skipped", `[{"index":0}, 3, "x", null]`, 1, nil},
		{"no bracket", `{"index":0}`, 0, ErrNoJSONArray},
		{"explanation only", "I could not process these grants.", 0, ErrNoJSONArray},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ParseJSONArray(tt.input)
			if tt.wantErr != nil {
				assert.True(t, errors.Is(err, tt.wantErr), "got %v", err)
				return
			}
			require.NoError(t, err)
			assert.Len(t, got, tt.want)
		})
	}
}

func TestParseJSONArray_Malformed(t *testing.T) {
	_, err := ParseJSONArray(`[{"index":0,}`)
	assert.Error(t, err)

	_, err = ParseJSONArray(`results: ] then [`)
	assert.Error(t, err)
}

func TestParseJSONObject(t *testing.T) {
	obj, err := ParseJSONObject("```json\n{\"relevance_score\": 80, \"extra\": {\"note\": \"a } b\"}}\n```")
	require.NoError(t, err)
	assert.Equal(t, float64(80), obj["relevance_score"])

	obj, err = ParseJSONObject(`Sure! {"index": 2, "description_summary": "x"} Hope that helps.`)
	require.NoError(t, err)
	assert.Equal(t, "x", obj["description_summary"])

	obj, err = ParseJSONObject(`[{"description_summary": "only"}]`)
	require.NoError(t, err)
	assert.Equal(t, "only", obj["description_summary"])

	_, err = ParseJSONObject("no json here")
	assert.Error(t, err)

	_, err = ParseJSONObject("null")
	assert.Error(t, err)
}

func TestTruncate(t *testing.T) {
	assert.Equal(t, "abc", truncate("abcdef", 3))
	assert.Equal(t, "abc", truncate("abc", 10))
	// "é" is two bytes; cutting inside it backs off to the rune start.
	assert.Equal(t, "a", truncate("aé", 2))
}
