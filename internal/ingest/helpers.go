package ingest

import (
	"crypto/sha256"
	"encoding/hex"
	"net/url"
	"regexp"
	"strconv"
	"strings"
)

var fiscalYearRe = regexp.MustCompile(`(?i)^\s*(?:FY\s*)?(\d{4}|\d{2})\b`)

// parseFiscalYear reads a leading fiscal year: "FY2026", "FY26 Title I", "2026".
// Two-digit years are in the 2000s. Returns 0 when there is none.
func parseFiscalYear(s string) int {
	m := fiscalYearRe.FindStringSubmatch(s)
	if m == nil {
		return 0
	}
	// a bare two-digit number is not a year
	if len(m[1]) == 2 && !strings.HasPrefix(strings.ToUpper(strings.TrimSpace(s)), "FY") {
		return 0
	}
	n, err := strconv.Atoi(m[1])
	if err != nil {
		return 0
	}
	if len(m[1]) == 2 {
		n += 2000
	}
	if n < 1900 || n > 2200 {
		return 0
	}
	return n
}

var fundCodeSep = regexp.MustCompile(`[/,;]`)

// normalizeFundCode joins multi-code entries: "123/456;789" becomes "123-456-789".
func normalizeFundCode(raw string) string {
	raw = strings.TrimSpace(raw)
	if len(raw) <= 4 {
		return raw
	}
	var parts []string
	for _, p := range fundCodeSep.Split(raw, -1) {
		if p = strings.TrimSpace(p); p != "" {
			parts = append(parts, p)
		}
	}
	return strings.Join(parts, "-")
}

// CanonicalizeURL removes common tracking parameters to ensure stable URLs.
func CanonicalizeURL(rawURL string) string {
	u, err := url.Parse(strings.TrimSpace(rawURL))
	if err != nil {
		return rawURL
	}

	u.Scheme = strings.ToLower(u.Scheme)
	u.Host = strings.ToLower(u.Host)
	u.Fragment = ""

	q := u.Query()
	for k := range q {
		if strings.HasPrefix(k, "utm_") {
			q.Del(k)
		}
	}
	for _, p := range []string{"fbclid", "gclid", "mc_cid", "mc_eid", "mkt_tok", "ref", "session", "s_cid"} {
		q.Del(p)
	}
	u.RawQuery = q.Encode()

	if u.Path != "/" {
		u.Path = strings.TrimSuffix(u.Path, "/")
	}
	return u.String()
}

// urlGrantID derives a stable source_grant_id for sources without their own ids.
func urlGrantID(rawURL string) string {
	sum := sha256.Sum256([]byte(CanonicalizeURL(rawURL)))
	return hex.EncodeToString(sum[:])[:32]
}

// resolveURL makes href absolute against base. Unparseable input is returned as is.
func resolveURL(base, href string) string {
	href = strings.TrimSpace(href)
	b, err := url.Parse(base)
	if err != nil {
		return href
	}
	h, err := url.Parse(href)
	if err != nil {
		return href
	}
	return b.ResolveReference(h).String()
}
