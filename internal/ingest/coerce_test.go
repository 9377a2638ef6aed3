package ingest

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/david/grant-pipeline/internal/models"
)

func TestCoerceField(t *testing.T) {
	other := []models.Category{models.CategoryOther}
	day := func(y int, m time.Month, d int) time.Time { return time.Date(y, m, d, 0, 0, 0, 0, time.UTC) }

	tests := []struct {
		name   string
		field  string
		in     any
		want   any
		wantOK bool
	}{
		{"relevance above range", "relevance_score", 150, nil, true},
		{"relevance below range", "relevance_score", -5, nil, true},
		{"relevance numeric string", "relevance_score", "73", 73, true},
		{"relevance text", "relevance_score", "abc", nil, true},
		{"relevance float truncated", "relevance_score", 88.9, 88, true},
		{"relevance json number", "relevance_score", json.Number("100"), 100, true},
		{"relevance bounds inclusive", "relevance_score", 0, 0, true},

		{"category split into characters", "category", []any{"O", "t", "h", "e", "r"}, other, true},
		{"category empty", "category", []any{}, other, true},
		{"category all invalid", "category", []any{"robotics", "space"}, other, true},
		{"category nil", "category", nil, other, true},
		{"category dedupes and keeps order", "category",
			[]any{"stem_education", "made_up", "STEM Education", "Other"},
			[]models.Category{"stem_education", models.CategoryOther}, true},

		{"bool yes", "cost_sharing", "yes", true, true},
		{"bool one", "cost_sharing", "1", true, true},
		{"bool upper true", "cost_sharing", "TRUE", true, true},
		{"bool no", "cost_sharing", "no", false, true},
		{"bool unknown text", "cost_sharing", "maybe", false, true},
		{"bool numeric", "cost_sharing", 1.0, true, true},
		{"bool nil", "cost_sharing", nil, nil, true},

		{"attachments not a list", "attachments", "x", []models.Attachment{}, true},
		{"attachments keeps entries with a url", "attachments",
			[]any{
				map[string]any{"name": " RFP ", "url": "https://example.org/rfp.pdf"},
				map[string]any{"name": "missing url"},
				"junk",
			},
			[]models.Attachment{{Name: "RFP", URL: "https://example.org/rfp.pdf"}}, true},

		{"date dashed timestamp", "close_date", "2025-10-05-00-00-00", day(2025, 10, 5), true},
		{"date rolls over in utc", "close_date", "Oct 5, 2025 11:30:00 PM EDT", day(2025, 10, 6), true},
		{"date free form", "close_date", "5-Oct-2025", day(2025, 10, 5), true},
		{"date unparseable", "close_date", "Invalid Date", nil, true},

		{"money none", "award_max", "None", nil, true},
		{"money formatted", "award_max", "$1,500", int64(1500), true},

		{"status spelled loosely", "status", " Posted ", models.StatusPosted, true},
		{"status unknown", "status", "pending review", nil, false},
		{"funding type unknown", "funding_type", "crowdfunded", nil, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := coerceField(tt.field, tt.in)
			require.Equal(t, tt.wantOK, ok)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestCoerceFieldUnknownName(t *testing.T) {
	_, ok := coerceField("mood", "happy")
	assert.False(t, ok)
}
