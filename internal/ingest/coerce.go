package ingest

import (
	"encoding/json"
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/david/grant-pipeline/internal/models"
)

// coerceFunc normalizes an untrusted value into the field's canonical Go type.
// A nil result is an explicit null. ok=false rejects the value, so the field is
// left out of the candidate and the stored value is kept.
type coerceFunc func(v any) (out any, ok bool)

type fieldSpec struct {
	coerce coerceFunc
	assign func(o *models.Opportunity, v any)
}

// fieldRegistry is the single dispatch table for every column a source or the
// model may set. Canonical value types: string, int, int64, bool, time.Time,
// models enums, []models.Category, []models.Service, []models.Attachment, map[string]any.
var fieldRegistry = map[string]fieldSpec{
	"title":               {coerceText, func(o *models.Opportunity, v any) { o.Title = asString(v) }},
	"description":         {coerceText, func(o *models.Opportunity, v any) { o.Description = asString(v) }},
	"description_summary": {coerceText, func(o *models.Opportunity, v any) { o.DescriptionSummary = asString(v) }},
	"agency":              {coerceText, func(o *models.Opportunity, v any) { o.Agency = asString(v) }},
	"funding_instrument":  {coerceText, func(o *models.Opportunity, v any) { o.FundingInstrument = asString(v) }},
	"state_code":          {coerceText, func(o *models.Opportunity, v any) { o.StateCode = asString(v) }},
	"eligibility":         {coerceText, func(o *models.Opportunity, v any) { o.Eligibility = asString(v) }},
	"eligibility_summary": {coerceText, func(o *models.Opportunity, v any) { o.EligibilitySummary = asString(v) }},
	"contact_name":        {coerceText, func(o *models.Opportunity, v any) { o.ContactName = asString(v) }},
	"contact_email":       {coerceText, func(o *models.Opportunity, v any) { o.ContactEmail = asString(v) }},
	"contact_phone":       {coerceText, func(o *models.Opportunity, v any) { o.ContactPhone = asString(v) }},
	"url":                 {coerceText, func(o *models.Opportunity, v any) { o.URL = asString(v) }},
	"solicitation_url":    {coerceText, func(o *models.Opportunity, v any) { o.SolicitationURL = asString(v) }},
	"content_hash":        {coerceText, func(o *models.Opportunity, v any) { o.ContentHash = asString(v) }},

	"post_date":    {coerceDate, func(o *models.Opportunity, v any) { o.PostDate = asTime(v) }},
	"close_date":   {coerceDate, func(o *models.Opportunity, v any) { o.CloseDate = asTime(v) }},
	"archive_date": {coerceDate, func(o *models.Opportunity, v any) { o.ArchiveDate = asTime(v) }},
	"last_updated": {coerceDate, func(o *models.Opportunity, v any) { o.LastUpdated = asTime(v) }},

	"award_min":            {coerceMoney, func(o *models.Opportunity, v any) { o.AwardMin = asInt64(v) }},
	"award_max":            {coerceMoney, func(o *models.Opportunity, v any) { o.AwardMax = asInt64(v) }},
	"total_funding_amount": {coerceMoney, func(o *models.Opportunity, v any) { o.TotalFundingAmount = asInt64(v) }},

	"fiscal_year":     {coerceFiscalYear, func(o *models.Opportunity, v any) { o.FiscalYear = asInt(v) }},
	"relevance_score": {coerceRelevance, func(o *models.Opportunity, v any) { o.RelevanceScore = asInt(v) }},
	"cost_sharing": {coerceBool, func(o *models.Opportunity, v any) {
		if b, ok := v.(bool); ok {
			o.CostSharing = &b
			return
		}
		o.CostSharing = nil
	}},

	"category": {coerceCategories, func(o *models.Opportunity, v any) {
		cats, _ := v.([]models.Category)
		o.Category = cats
	}},
	"services": {coerceServices, func(o *models.Opportunity, v any) {
		services, _ := v.([]models.Service)
		o.Services = services
	}},
	"attachments": {coerceAttachments, func(o *models.Opportunity, v any) {
		atts, _ := v.([]models.Attachment)
		o.Attachments = atts
	}},
	"extra": {coerceExtra, func(o *models.Opportunity, v any) {
		extra, _ := v.(map[string]any)
		o.Extra = extra
	}},
	"status": {coerceStatus, func(o *models.Opportunity, v any) {
		if s, ok := v.(models.Status); ok {
			o.Status = s
		}
	}},
	"funding_type": {coerceFundingType, func(o *models.Opportunity, v any) {
		if ft, ok := v.(models.FundingType); ok {
			o.FundingType = &ft
			return
		}
		o.FundingType = nil
	}},
}

// fieldAliases maps spellings used by upstream payloads and model output onto columns.
var fieldAliases = map[string]string{
	"award_ceiling":     "award_max",
	"award_floor":       "award_min",
	"estimated_funding": "total_funding_amount",
	"deadline":          "close_date",
	"categories":        "category",
}

// canonicalField resolves an input key to a registered column name.
func canonicalField(name string) (string, bool) {
	key := strings.ToLower(strings.TrimSpace(name))
	if alias, ok := fieldAliases[key]; ok {
		key = alias
	}
	_, ok := fieldRegistry[key]
	return key, ok
}

// coerceField runs the registered coercion for a column.
func coerceField(name string, v any) (any, bool) {
	entry, ok := fieldRegistry[name]
	if !ok {
		return nil, false
	}
	return entry.coerce(v)
}

// applyFields assigns coerced values onto o through the registry.
func applyFields(o *models.Opportunity, fields Fields) {
	for name, v := range fields {
		if entry, ok := fieldRegistry[name]; ok {
			entry.assign(o, v)
		}
	}
}

func coerceText(v any) (any, bool) {
	switch x := v.(type) {
	case nil:
		return nil, true
	case string:
		s := strings.TrimSpace(x)
		if s == "" {
			return nil, true
		}
		return s, true
	case float64, int, int64, bool, json.Number:
		return fmt.Sprint(x), true
	}
	return nil, false
}

func coerceDate(v any) (any, bool) {
	switch x := v.(type) {
	case time.Time:
		return truncateToDate(x.UTC()), true
	case *time.Time:
		if x != nil {
			return truncateToDate(x.UTC()), true
		}
	case string:
		if t := ParseDate(x); t != nil {
			return *t, true
		}
	}
	return nil, true
}

func coerceMoney(v any) (any, bool) {
	if n := ParseMoney(v); n != nil {
		return *n, true
	}
	return nil, true
}

// toInteger truncates numeric input toward zero; strings may carry a fraction.
func toInteger(v any) (int, bool) {
	switch x := v.(type) {
	case int:
		return x, true
	case int64:
		return int(x), true
	case float64:
		if math.IsNaN(x) || math.IsInf(x, 0) {
			return 0, false
		}
		return int(math.Trunc(x)), true
	case json.Number:
		f, err := x.Float64()
		if err != nil {
			return 0, false
		}
		return toInteger(f)
	case string:
		s := strings.TrimSpace(x)
		if n, err := strconv.Atoi(s); err == nil {
			return n, true
		}
		if f, err := strconv.ParseFloat(s, 64); err == nil {
			return toInteger(f)
		}
	}
	return 0, false
}

// coerceRelevance discards out-of-range scores instead of clamping them.
func coerceRelevance(v any) (any, bool) {
	n, ok := toInteger(v)
	if !ok || n < 0 || n > 100 {
		return nil, true
	}
	return n, true
}

func coerceFiscalYear(v any) (any, bool) {
	if s, ok := v.(string); ok {
		if fy := parseFiscalYear(s); fy != 0 {
			return fy, true
		}
		return nil, true
	}
	n, ok := toInteger(v)
	if !ok || n < 1900 || n > 2200 {
		return nil, true
	}
	return n, true
}

func coerceBool(v any) (any, bool) {
	switch x := v.(type) {
	case nil:
		return nil, true
	case bool:
		return x, true
	case string:
		switch strings.ToLower(strings.TrimSpace(x)) {
		case "true", "yes", "1":
			return true, true
		}
		return false, true
	case float64:
		return x == 1, true
	case int:
		return x == 1, true
	}
	return false, true
}

// coerceCategories validates against the taxonomy, repairing arrays that were
// split into single characters, and never returns an empty list.
func coerceCategories(v any) (any, bool) {
	var values []string
	switch x := v.(type) {
	case string:
		values = []string{x}
	case []string:
		values = x
	case []models.Category:
		for _, c := range x {
			values = append(values, string(c))
		}
	case []any:
		for _, elem := range x {
			if s, ok := elem.(string); ok {
				values = append(values, s)
			}
		}
	}

	if isCharSplit(values) {
		values = []string{strings.Join(values, "")}
	}

	var out []models.Category
	seen := make(map[models.Category]bool)
	for _, s := range values {
		c, ok := models.ParseCategory(s)
		if !ok || seen[c] {
			continue
		}
		seen[c] = true
		out = append(out, c)
	}
	if len(out) == 0 {
		out = []models.Category{models.CategoryOther}
	}
	return out, true
}

func isCharSplit(values []string) bool {
	if len(values) < 2 {
		return false
	}
	for _, s := range values {
		if len([]rune(s)) != 1 {
			return false
		}
	}
	return true
}

func coerceServices(v any) (any, bool) {
	var values []string
	switch x := v.(type) {
	case string:
		values = []string{x}
	case []string:
		values = x
	case []models.Service:
		return x, true
	case []any:
		for _, elem := range x {
			if s, ok := elem.(string); ok {
				values = append(values, s)
			}
		}
	default:
		return nil, false
	}

	var out []models.Service
	for _, s := range values {
		if sv, ok := models.ParseService(s); ok {
			out = append(out, sv)
		}
	}
	if len(out) == 0 {
		return nil, false
	}
	return out, true
}

func coerceAttachments(v any) (any, bool) {
	out := []models.Attachment{}
	switch x := v.(type) {
	case []models.Attachment:
		return x, true
	case []any:
		for _, elem := range x {
			m, ok := elem.(map[string]any)
			if !ok {
				continue
			}
			url, _ := m["url"].(string)
			name, _ := m["name"].(string)
			url = strings.TrimSpace(url)
			if url == "" {
				continue
			}
			out = append(out, models.Attachment{Name: strings.TrimSpace(name), URL: url})
		}
	}
	return out, true
}

func coerceExtra(v any) (any, bool) {
	switch x := v.(type) {
	case nil:
		return nil, true
	case map[string]any:
		return x, true
	case string:
		var m map[string]any
		if err := json.Unmarshal([]byte(x), &m); err == nil && m != nil {
			return m, true
		}
	}
	return nil, false
}

func coerceStatus(v any) (any, bool) {
	switch x := v.(type) {
	case models.Status:
		return x, true
	case string:
		if s, ok := models.ParseStatus(x); ok {
			return s, true
		}
	}
	return nil, false
}

func coerceFundingType(v any) (any, bool) {
	switch x := v.(type) {
	case models.FundingType:
		return x, true
	case string:
		if ft, ok := models.ParseFundingType(x); ok {
			return ft, true
		}
	}
	return nil, false
}

func asString(v any) string {
	s, _ := v.(string)
	return s
}

func asTime(v any) *time.Time {
	if t, ok := v.(time.Time); ok {
		return &t
	}
	return nil
}

func asInt64(v any) *int64 {
	if n, ok := v.(int64); ok {
		return &n
	}
	return nil
}

func asInt(v any) *int {
	if n, ok := v.(int); ok {
		return &n
	}
	return nil
}
