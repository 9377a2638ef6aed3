package ingest

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/david/grant-pipeline/internal/models"
)

func TestParseDate(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"2025-10-05", "2025-10-05"},
		{"10/05/2025", "2025-10-05"},
		{"1/7/2026", "2026-01-07"},
		{"October 5, 2025", "2025-10-05"},
		{"Monday, January 6, 2025", "2025-01-06"},
		{"Sep 19, 2025 10:54:20 AM EDT", "2025-09-19"},
		{"2025-10-05T18:30:00Z", "2025-10-05"},
		{"Last Updated: March 3, 2025", "2025-03-03"},
		{"Posted on 12/01/2025", "2025-12-01"},
		{"Applications due by Jan 15th, 2026 at noon", "2026-01-15"},
		{"due 14 February 2026", "2026-02-14"},
		{"Sunday, October 5, 2025", "2025-10-05"},
		{"Oct 5, 2025 12:00:00 AM EDT", "2025-10-05"},
		{"Oct 5, 2025 11:30:00 PM EDT", "2025-10-06"},
		{"2025-10-05-00-00-00", "2025-10-05"},
		{"2025/10/05", "2025-10-05"},
		{"5-Oct-2025", "2025-10-05"},
		{"10-05-2025", "2025-10-05"},
		{"Sept 30th, 2025", "2025-09-30"},
		{"Deadline extended to 2025/11/14 (5 p.m.)", "2025-11-14"},
		{"", ""},
		{"rolling", ""},
		{"Invalid Date", ""},
		{"2026", ""},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			assert.Equal(t, tt.want, FormatDate(ParseDate(tt.in)))
		})
	}
}

func TestParseMoney(t *testing.T) {
	n := func(v int64) *int64 { return &v }
	tests := []struct {
		name string
		in   any
		want *int64
	}{
		{"dollar string", "$1,500,000", n(1500000)},
		{"usd suffix", "250000 USD", n(250000)},
		{"fraction truncated", 12.9, n(12)},
		{"int", 500, n(500)},
		{"json number", json.Number("75000"), n(75000)},
		{"none literal", "None", nil},
		{"negative", -5, nil},
		{"text", "varies", nil},
		{"nil", nil, nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, ParseMoney(tt.in))
		})
	}
}

func TestParseFiscalYear(t *testing.T) {
	assert.Equal(t, 2026, parseFiscalYear("FY26 Title I, Part A"))
	assert.Equal(t, 2026, parseFiscalYear("FY2026: Summer Meals"))
	assert.Equal(t, 2027, parseFiscalYear("fy 27 Literacy"))
	assert.Equal(t, 2025, parseFiscalYear("2025 Innovation Grant"))
	assert.Equal(t, 0, parseFiscalYear("26 schools"))
	assert.Equal(t, 0, parseFiscalYear("Title I"))
}

func TestNormalizeFundCode(t *testing.T) {
	assert.Equal(t, "123-456-789", normalizeFundCode("123/456;789"))
	assert.Equal(t, "140-274", normalizeFundCode("140, 274"))
	assert.Equal(t, "0304", normalizeFundCode(" 0304 "))
}

func TestCanonicalizeURL(t *testing.T) {
	assert.Equal(t, "https://example.com/grants?id=3",
		CanonicalizeURL("HTTPS://Example.COM/grants/?utm_source=x&id=3&fbclid=y#top"))
	assert.Equal(t, "https://example.com/", CanonicalizeURL("https://example.com/"))

	id := urlGrantID("https://www.nysed.gov/grants/smart-start?utm_medium=email")
	assert.Len(t, id, 32)
	assert.Equal(t, id, urlGrantID("https://WWW.nysed.gov/grants/smart-start/"))
}

func TestResolveURL(t *testing.T) {
	assert.Equal(t, "https://www.doe.mass.edu/grants/2026/0304/rfp.pdf",
		resolveURL("https://www.doe.mass.edu/grants/2026/0304/", "rfp.pdf"))
	assert.Equal(t, "https://www.doe.mass.edu/forms/x.docx",
		resolveURL("https://www.doe.mass.edu/grants/2026/0304", "/forms/x.docx"))
}

func TestFindSolicitationURL(t *testing.T) {
	links := []models.Attachment{
		{Name: "Program overview", URL: "https://a.org/overview.pdf"},
		{Name: "Apply online", URL: "https://a.org/apply"},
		{Name: "Request for Proposals (RFP)", URL: "https://a.org/docs/RFP-2026.PDF"},
		{Name: "Solicitation", URL: "https://a.org/docs/sol.docx"},
	}
	assert.Equal(t, "https://a.org/docs/RFP-2026.PDF", findSolicitationURL(links))
	assert.Empty(t, findSolicitationURL(links[:2]))
}

func TestIsPDF(t *testing.T) {
	assert.True(t, isPDF("application/pdf", "https://a.org/doc"))
	assert.True(t, isPDF("", "https://a.org/doc.pdf?v=2"))
	assert.True(t, isPDF("application/octet-stream", "https://a.org/doc.PDF"))
	assert.False(t, isPDF("text/html; charset=utf-8", "https://a.org/doc.pdf"))
}

func TestExtractPDFTextRejectsGarbage(t *testing.T) {
	_, err := extractPDFText([]byte("not a pdf"))
	require.Error(t, err)
}

func TestProject(t *testing.T) {
	ft := models.FundingState
	o := &models.Opportunity{
		Source:      "doe.mass.edu",
		Title:       "FY26 Title I",
		Agency:      "DESE",
		FundingType: &ft,
		Category:    []models.Category{"stem_education", models.CategoryOther},
		FiscalYear:  intPtr(2026),
		CloseDate:   date(2025, 10, 31),
		Status:      models.StatusPosted,
		Attachments: []models.Attachment{{Name: "RFP", URL: "https://x/rfp.pdf"}},
		Extra:       map[string]any{"match": "10%", "rounds": 2},
	}

	want := "Title: FY26 Title I\n" +
		"Source: doe.mass.edu\n" +
		"Agency: DESE\n" +
		"Funding Type: state\n" +
		"Category: stem_education, other\n" +
		"Fiscal Year: 2026\n" +
		"Close Date: 2025-10-31\n" +
		"Attachment: RFP https://x/rfp.pdf\n" +
		"match: 10%\n" +
		"rounds: 2"
	assert.Equal(t, want, Project(o))
	assert.NotContains(t, Project(o), "posted", "status is not part of the projection")
}
