package ai

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/david/grant-pipeline/internal/models"
)

// PromptKind selects which fields the model is asked to produce.
type PromptKind string

const (
	// KindGrant asks for summaries, relevance and extra details of API records.
	KindGrant PromptKind = "grant"
	// KindDetail adds award range, contacts and attachments for scraped detail pages.
	KindDetail PromptKind = "detail"
	// KindPage is a full structured extraction from a page's text.
	KindPage PromptKind = "page"
)

// ParsePromptKind accepts the kind names used in source configuration.
func ParsePromptKind(s string) (PromptKind, bool) {
	k := PromptKind(strings.ToLower(strings.TrimSpace(s)))
	if _, ok := kindFields[k]; ok {
		return k, true
	}
	return "", false
}

// Input limits applied before a record is serialized into a prompt.
const (
	MaxDescriptionChars = 2000
	MaxEligibilityChars = 1000
	MaxPageTextChars    = 12000
)

var truncateLimits = map[string]int{
	"description": MaxDescriptionChars,
	"eligibility": MaxEligibilityChars,
	"page_text":   MaxPageTextChars,
}

const relevanceRubric = `- relevance_score: Integer 0-100 reflecting relevance to U.S. public school districts:
  * 90-100: Specifically targets K-12 schools, LEAs, or districts
  * 70-89: Education-related, commonly applicable to schools
  * 40-69: Schools technically eligible, broader focus
  * 0-39: Minimal relevance to districts`

var kindFields = map[PromptKind]string{
	KindGrant: `- description_summary: Brief summary of the grant purpose, focused on school district relevance
- eligibility_summary: Who can apply; state explicitly whether public school districts, LEAs or K-12 schools are eligible
- extra: Additional relevant details as a JSON object
- category: List of 1-3 values from the category list below
` + relevanceRubric,

	KindDetail: `- description_summary: Brief summary of the grant purpose, focused on school district relevance
- eligibility_summary: Who can apply; state explicitly whether public school districts, LEAs or K-12 schools are eligible
- award_min, award_max, total_funding_amount: Whole dollar amounts or null
- contact_name, contact_phone: Program contact or null
- attachments: List of {"name": "...", "url": "..."} for linked documents
- extra: Additional relevant details as a JSON object
- category: List of 1-3 values from the category list below
` + relevanceRubric,

	KindPage: `- title: Official grant or program name
- description: Full description of the opportunity
- description_summary: Brief summary of the grant purpose, focused on school district relevance
- agency: Funding organization
- eligibility: Eligibility text as written
- eligibility_summary: Who can apply; state explicitly whether public school districts, LEAs or K-12 schools are eligible
- post_date, close_date: Dates as YYYY-MM-DD or null
- fiscal_year: Integer or null
- award_min, award_max, total_funding_amount: Whole dollar amounts or null
- contact_name, contact_email, contact_phone: Program contact or null
- status: One of forecasted, posted, closed
- attachments: List of {"name": "...", "url": "..."} for linked documents
- extra: Additional relevant details as a JSON object
- category: List of 1-3 values from the category list below
` + relevanceRubric,
}

func categoryList() string {
	names := make([]string, len(models.Categories))
	for i, c := range models.Categories {
		names[i] = string(c)
	}
	return strings.Join(names, ", ")
}

func prepareItem(item map[string]any, index int) map[string]any {
	out := make(map[string]any, len(item)+1)
	for k, v := range item {
		if s, ok := v.(string); ok {
			if limit, ok := truncateLimits[k]; ok && len(s) > limit {
				v = truncate(s, limit)
			}
		}
		out[k] = v
	}
	out["index"] = index
	return out
}

// truncate cuts s to at most limit bytes without splitting a UTF-8 sequence.
func truncate(s string, limit int) string {
	if len(s) <= limit {
		return s
	}
	cut := limit
	for cut > 0 && !isRuneStart(s[cut]) {
		cut--
	}
	return s[:cut]
}

func isRuneStart(b byte) bool { return b&0xC0 != 0x80 }

// BatchPrompt serializes items into one request that must be answered with a JSON array.
func BatchPrompt(kind PromptKind, items []map[string]any) (string, error) {
	prepared := make([]map[string]any, len(items))
	for i, item := range items {
		prepared[i] = prepareItem(item, i)
	}
	data, err := json.MarshalIndent(prepared, "", "  ")
	if err != nil {
		return "", fmt.Errorf("marshal batch: %w", err)
	}

	return fmt.Sprintf(`IMPORTANT: Return ONLY a valid JSON array starting with [ and ending with ]. No text before or after it.

You are processing %d grant opportunities. For each one, produce a JSON object.

Input data:
%s

For each input create an object with these fields:
- index: The input's index value, copied exactly
%s

Allowed categories: %s

Process the inputs in the order given.`, len(items), data, kindFields[kind], categoryList()), nil
}

// ItemPrompt asks for a single JSON object describing one item.
func ItemPrompt(kind PromptKind, item map[string]any, index int) (string, error) {
	data, err := json.MarshalIndent(prepareItem(item, index), "", "  ")
	if err != nil {
		return "", fmt.Errorf("marshal item: %w", err)
	}

	return fmt.Sprintf(`Extract key information about this single grant opportunity into one JSON object (not an array).

Grant data:
%s

Fields:
- index: %d
%s

Allowed categories: %s

Return ONLY the JSON object.`, data, index, kindFields[kind], categoryList()), nil
}
