package ingest

import (
	"reflect"
	"time"

	"github.com/david/grant-pipeline/internal/models"
)

// Fields the model always wins on, unless the source template pins them.
var aiAuthoritative = map[string]bool{
	"description_summary": true,
	"eligibility_summary": true,
	"relevance_score":     true,
	"extra":               true,
	"category":            true,
}

// Fields the model may only fill when the source left them absent or null.
var aiFillOnly = map[string]bool{
	"award_min":            true,
	"award_max":            true,
	"total_funding_amount": true,
	"contact_name":         true,
	"contact_phone":        true,
	"attachments":          true,
}

type ReconcileOptions struct {
	// Now drives the stale fiscal year rule.
	Now time.Time
}

// Candidate is the merged, coerced record ready for the upsert adapter.
type Candidate struct {
	Key         models.NaturalKey
	URL         string
	Fields      Fields
	Fingerprint Fingerprint
	// Dropped lists input fields that are not part of the schema, prefixed with
	// their origin ("raw." or "ai.").
	Dropped []string
	// SkipReason is set when the record should not be stored this cycle.
	SkipReason string
}

// WithoutFingerprint strips the fingerprint columns so the stored record still
// looks changed on the next run.
func (c Candidate) WithoutFingerprint() Candidate {
	fields := make(Fields, len(c.Fields))
	for k, v := range c.Fields {
		if k == "last_updated" || k == "content_hash" {
			continue
		}
		fields[k] = v
	}
	c.Fields = fields
	c.Fingerprint = Fingerprint{}
	return c
}

// Reconcile merges template defaults, raw source fields and model fields, in that
// order of precedence, into one candidate. Fields absent from every input are left
// out so the stored value is kept on update.
func Reconcile(tmpl Template, raw RawRecord, prior *models.Opportunity, aiFields Fields, opts ReconcileOptions) Candidate {
	c := Candidate{Key: raw.Key, URL: raw.URL, Fields: Fields{}}
	locked := make(map[string]bool, len(tmpl.Fields))

	for k, v := range tmpl.Fields {
		name, ok := canonicalField(k)
		if !ok {
			c.Dropped = append(c.Dropped, "template."+k)
			continue
		}
		if out, ok := coerceField(name, v); ok {
			c.Fields[name] = out
			locked[name] = true
		}
	}

	for k, v := range raw.Fields {
		name, ok := canonicalField(k)
		if !ok {
			c.Dropped = append(c.Dropped, "raw."+k)
			continue
		}
		out, ok := coerceField(name, v)
		if !ok {
			continue
		}
		if out == nil && c.Fields[name] != nil {
			continue
		}
		c.Fields[name] = out
	}

	if _, ok := c.Fields["url"]; !ok && raw.URL != "" {
		c.Fields["url"] = raw.URL
	}

	fillable := make(map[string]bool, len(aiFillOnly)+len(tmpl.AIFill))
	for k := range aiFillOnly {
		fillable[k] = true
	}
	for _, k := range tmpl.AIFill {
		fillable[k] = true
	}

	for k, v := range aiFields {
		name, ok := canonicalField(k)
		if !ok {
			c.Dropped = append(c.Dropped, "ai."+k)
			continue
		}
		if locked[name] {
			continue
		}
		switch {
		case aiAuthoritative[name]:
			if out, ok := coerceField(name, v); ok {
				c.Fields[name] = out
			}
		case fillable[name]:
			if cur, present := c.Fields[name]; present && !isEmptyValue(cur) {
				continue
			}
			if out, ok := coerceField(name, v); ok && !isEmptyValue(out) {
				c.Fields[name] = out
			}
		}
	}

	c.Fingerprint = FingerprintOf(raw)
	if c.Fingerprint.LastUpdated != "" {
		c.Fields["last_updated"] = *ParseDate(c.Fingerprint.LastUpdated)
	}
	if c.Fingerprint.ContentHash != "" {
		c.Fields["content_hash"] = c.Fingerprint.ContentHash
	}

	if prior == nil {
		if _, ok := c.Fields["category"]; !ok {
			c.Fields["category"] = []models.Category{models.CategoryOther}
		}
		if _, ok := c.Fields["status"]; !ok {
			c.Fields["status"] = models.StatusPosted
		}
	}

	c.SkipReason = staleReason(c.Fields, prior, opts.Now)
	return c
}

// staleReason skips records with no close date whose fiscal year already ended.
func staleReason(fields Fields, prior *models.Opportunity, now time.Time) string {
	if now.IsZero() {
		return ""
	}

	closeDate, present := fields["close_date"]
	if !present && prior != nil && prior.CloseDate != nil {
		closeDate = *prior.CloseDate
	}
	if closeDate != nil {
		return ""
	}

	fy, present := fields["fiscal_year"]
	if !present && prior != nil && prior.FiscalYear != nil {
		fy = *prior.FiscalYear
	}
	if year, ok := fy.(int); ok && year < now.Year() {
		return "stale fiscal year"
	}
	return ""
}

func isEmptyValue(v any) bool {
	if v == nil {
		return true
	}
	rv := reflect.ValueOf(v)
	switch rv.Kind() {
	case reflect.Slice, reflect.Map:
		return rv.Len() == 0
	}
	return false
}
