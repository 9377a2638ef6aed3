package ingest

import (
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/araddon/dateparse"
)

// dateLayouts are tried in order. Layouts carrying a zone are normalized to UTC
// before truncation.
var dateLayouts = []string{
	"2006-01-02",
	time.RFC3339,
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05",
	"2006-01-02-15-04-05",
	"01/02/2006",
	"1/2/2006",
	"January 2, 2006",
	"Monday, January 2, 2006",
	"Jan 2, 2006 3:04:05 PM MST",
	"Jan 2, 2006 3:04:05 PM",
	"Jan 2, 2006",
	"January 2 2006",
	"2 January 2006",
	"02 Jan 2006",
	"January 2, 2006 3:04 PM",
	"01/02/2006 3:04 PM",
}

// usZones maps abbreviations time.Parse cannot resolve on its own.
var usZones = map[string]int{
	"EST": -5, "EDT": -4,
	"CST": -6, "CDT": -5,
	"MST": -7, "MDT": -6,
	"PST": -8, "PDT": -7,
	"UTC": 0, "GMT": 0,
}

const monthPattern = `(?:jan(?:uary)?|feb(?:ruary)?|mar(?:ch)?|apr(?:il)?|may|june?|july?|aug(?:ust)?|sept?(?:ember)?|oct(?:ober)?|nov(?:ember)?|dec(?:ember)?)\.?`

var (
	weekdayPrefix = regexp.MustCompile(`(?i)^(monday|tuesday|wednesday|thursday|friday|saturday|sunday|mon|tue|tues|wed|thu|thur|thurs|fri|sat|sun)\.?,?\s+`)

	// dateSpanRe finds date-shaped fragments inside prose such as
	// "Applications due by Jan 15th, 2026 at noon".
	dateSpanRe = regexp.MustCompile(`(?i)\b(?:` +
		`\d{4}[-/.]\d{1,2}[-/.]\d{1,2}` +
		`|\d{1,2}[-/.]\d{1,2}[-/.]\d{4}` +
		`|\d{1,2}[- ]` + monthPattern + `[- ,]\s*\d{4}` +
		`|` + monthPattern + `\s+\d{1,2}(?:st|nd|rd|th)?,?\s+\d{4}` +
		`)\b`)

	ordinalSuffix = regexp.MustCompile(`(?i)\b(\d{1,2})(?:st|nd|rd|th)\b`)
	septAbbrev    = regexp.MustCompile(`(?i)\bsept\b`)
	numericDashed = regexp.MustCompile(`^(\d{1,2})-(\d{1,2})-(\d{4})$`)
	allDigits     = regexp.MustCompile(`^\d+$`)
)

// ParseDate turns heterogeneous source text into a calendar date (midnight UTC).
// Unparseable input yields nil.
func ParseDate(text string) *time.Time {
	text = cleanDateString(text)
	if text == "" {
		return nil
	}

	if t, ok := parseWithLayouts(text); ok {
		return t
	}
	if stripped := weekdayPrefix.ReplaceAllString(text, ""); stripped != text {
		if t, ok := parseWithLayouts(stripped); ok {
			return t
		}
	}
	if t, ok := parseFreeForm(text); ok {
		return t
	}
	return nil
}

// FormatDate renders a date the way it is stored and shown to the model.
func FormatDate(t *time.Time) string {
	if t == nil {
		return ""
	}
	return t.Format("2006-01-02")
}

func parseWithLayouts(text string) (*time.Time, bool) {
	for _, layout := range dateLayouts {
		t, err := time.Parse(layout, text)
		if err != nil {
			continue
		}
		t = resolveZone(t)
		d := truncateToDate(t.UTC())
		return &d, true
	}
	return nil, false
}

// resolveZone replaces the zero-offset placeholder zone time.Parse fabricates for
// abbreviations like EDT with the real offset.
func resolveZone(t time.Time) time.Time {
	name, offset := t.Zone()
	if offset != 0 {
		return t
	}
	hours, ok := usZones[strings.ToUpper(name)]
	if !ok || hours == 0 {
		return t
	}
	loc := time.FixedZone(name, hours*3600)
	return time.Date(t.Year(), t.Month(), t.Day(), t.Hour(), t.Minute(), t.Second(), t.Nanosecond(), loc)
}

func truncateToDate(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
}

// parseFreeForm hands each date-shaped span inside text, then the whole text, to
// dateparse. Bare digit runs are refused: dateparse reads them as years or unix
// timestamps.
func parseFreeForm(text string) (*time.Time, bool) {
	candidates := append(dateSpanRe.FindAllString(text, -1), text)
	for _, c := range candidates {
		c = prepareFreeForm(c)
		if c == "" || allDigits.MatchString(c) {
			continue
		}
		t, err := parseAnyUTC(c)
		if err != nil {
			continue
		}
		d := truncateToDate(resolveZone(t).UTC())
		return &d, true
	}
	return nil, false
}

// parseAnyUTC reads zone-less text as UTC. dateparse panics on some malformed
// input.
func parseAnyUTC(s string) (t time.Time, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("dateparse %q: %v", s, r)
		}
	}()
	return dateparse.ParseIn(s, time.UTC)
}

// prepareFreeForm rewrites spellings dateparse does not accept: ordinals,
// "Sept" and month-first dashed dates.
func prepareFreeForm(s string) string {
	s = strings.TrimSpace(strings.TrimRight(s, ".,;"))
	s = ordinalSuffix.ReplaceAllString(s, "$1")
	s = septAbbrev.ReplaceAllString(s, "Sep")
	return numericDashed.ReplaceAllString(s, "$1/$2/$3")
}

// cleanDateString removes common labels and normalizes meridiem spellings.
func cleanDateString(s string) string {
	s = normalizeSpace(s)
	prefixes := []string{
		"Closing date:", "Deadline:", "Due date:", "Date due:", "Posted on", "Posted:",
		"Last Updated:", "Last updated", "Expires:",
	}
	lower := strings.ToLower(s)
	for _, p := range prefixes {
		if strings.HasPrefix(lower, strings.ToLower(p)) {
			s = strings.TrimSpace(s[len(p):])
			lower = strings.ToLower(s)
		}
	}
	s = strings.NewReplacer("a.m.", "AM", "p.m.", "PM", " am", " AM", " pm", " PM").Replace(s)
	return strings.TrimSpace(s)
}

// normalizeSpace collapses multiple spaces into one and trims the string.
func normalizeSpace(s string) string {
	return strings.Join(strings.Fields(s), " ")
}
