package models_test

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/david/grant-pipeline/internal/models"
)

func TestParseStatus(t *testing.T) {
	tests := []struct {
		in   string
		want models.Status
		ok   bool
	}{
		{"posted", models.StatusPosted, true},
		{" Posted ", models.StatusPosted, true},
		{"forecasted", models.StatusForecasted, true},
		{"closed", models.StatusClosed, true},
		{"archived", models.StatusArchived, true},
		{"archive", models.StatusArchived, true},
		{"open", "", false},
		{"", "", false},
	}
	for _, tt := range tests {
		got, ok := models.ParseStatus(tt.in)
		assert.Equal(t, tt.ok, ok, "input %q", tt.in)
		assert.Equal(t, tt.want, got, "input %q", tt.in)
	}
}

func TestParseFundingType(t *testing.T) {
	got, ok := models.ParseFundingType("Federal")
	assert.True(t, ok)
	assert.Equal(t, models.FundingFederal, got)

	_, ok = models.ParseFundingType("foundation")
	assert.False(t, ok)
}

func TestParseCategory(t *testing.T) {
	got, ok := models.ParseCategory("STEM Education")
	assert.True(t, ok)
	assert.Equal(t, models.Category("stem_education"), got)

	got, ok = models.ParseCategory("Other")
	assert.True(t, ok)
	assert.Equal(t, models.CategoryOther, got)

	_, ok = models.ParseCategory("robotics")
	assert.False(t, ok)
}

func TestCategoriesTaxonomySize(t *testing.T) {
	assert.Len(t, models.Categories, 31)
	assert.Equal(t, models.CategoryOther, models.Categories[len(models.Categories)-1])
}

func TestParseService(t *testing.T) {
	got, ok := models.ParseService("k12-education")
	assert.True(t, ok)
	assert.Equal(t, models.ServiceK12Education, got)
}
