package ingest

import (
	"crypto/sha256"
	"encoding/hex"
	"html"
	"strings"

	"github.com/microcosm-cc/bluemonday"

	"github.com/david/grant-pipeline/internal/models"
)

type Verdict int

const (
	Process Verdict = iota
	Skip
)

func (v Verdict) String() string {
	if v == Skip {
		return "skip"
	}
	return "process"
}

type GateDecision struct {
	Verdict Verdict
	Reason  string
}

// Fingerprint is what a record is compared on between crawls.
type Fingerprint struct {
	LastUpdated string // canonical YYYY-MM-DD, empty when the source has none
	ContentHash string
}

var stripPolicy = bluemonday.StrictPolicy()

// HTMLToText strips all markup and collapses whitespace.
func HTMLToText(raw string) string {
	// tag boundaries become word boundaries
	text := stripPolicy.Sanitize(strings.ReplaceAll(raw, "<", " <"))
	return normalizeSpace(html.UnescapeString(text))
}

// ContentHash is the SHA-256 of the normalized text of raw content.
func ContentHash(content string) string {
	sum := sha256.Sum256([]byte(HTMLToText(content)))
	return hex.EncodeToString(sum[:])
}

// FingerprintOf computes the fingerprint a raw record would be stored with.
func FingerprintOf(raw RawRecord) Fingerprint {
	var fp Fingerprint
	if raw.LastUpdated != "" {
		fp.LastUpdated = FormatDate(ParseDate(raw.LastUpdated))
	}
	if raw.Content != "" {
		fp.ContentHash = ContentHash(raw.Content)
	}
	return fp
}

// Decide is the change-detection gate. It only skips on a positive match; anything
// ambiguous is processed.
func Decide(raw RawRecord, prior *models.Opportunity) GateDecision {
	if prior == nil {
		return GateDecision{Process, "new record"}
	}

	if raw.LastUpdated != "" {
		observed := ParseDate(raw.LastUpdated)
		if observed == nil {
			return GateDecision{Process, "unparseable last-updated"}
		}
		if prior.LastUpdated == nil {
			return GateDecision{Process, "no stored last-updated"}
		}
		if observed.Equal(truncateToDate(prior.LastUpdated.UTC())) {
			return GateDecision{Skip, "last-updated unchanged"}
		}
		return GateDecision{Process, "last-updated changed"}
	}

	if raw.Content != "" {
		if prior.ContentHash != "" && prior.ContentHash == ContentHash(raw.Content) {
			return GateDecision{Skip, "content unchanged"}
		}
		return GateDecision{Process, "content changed"}
	}

	return GateDecision{Process, "no fingerprint"}
}
