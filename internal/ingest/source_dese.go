package ingest

import (
	"context"
	"fmt"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"go.uber.org/zap"

	"github.com/david/grant-pipeline/internal/models"
)

// DESESource reads a state agency's current-grants table. Each row links to a
// detail page keyed by fiscal year and fund code.
type DESESource struct {
	cfg     SourceConfig
	tmpl    Template
	fetcher *HTTPFetcher
	logger  *zap.Logger
}

func newDESESource(cfg SourceConfig, fetcher *HTTPFetcher, logger *zap.Logger) (Source, error) {
	if cfg.ListURL == "" || cfg.Selectors.Table == "" {
		return nil, fmt.Errorf("html_table needs list_url and selectors.table")
	}
	if cfg.BaseURL == "" {
		cfg.BaseURL = strings.TrimRight(resolveURL(cfg.ListURL, "/"), "/")
	}
	return &DESESource{cfg: cfg, tmpl: cfg.template(false), fetcher: fetcher, logger: logger}, nil
}

func (s *DESESource) ID() string         { return s.cfg.ID }
func (s *DESESource) Template() Template { return s.tmpl }
func (s *DESESource) FullListing() bool  { return true }

// table columns
const (
	colFundCode = 0
	colTitle    = 1
	colPosted   = 2
	colDue      = 3
	colType     = 4
	colUnit     = 6
	colContact  = 7
	minCells    = 8
)

func (s *DESESource) Listing(ctx context.Context) ([]ListingItem, error) {
	doc, err := s.fetchDocument(ctx, s.cfg.ListURL)
	if err != nil {
		return nil, err
	}

	table := doc.Find(s.cfg.Selectors.Table).First()
	if table.Length() == 0 {
		return nil, fmt.Errorf("grants table %q not found on %s", s.cfg.Selectors.Table, s.cfg.ListURL)
	}

	var items []ListingItem
	table.Find("tr").Each(func(i int, row *goquery.Selection) {
		if i == 0 {
			return
		}
		cells := row.Find("td, th")
		if cells.Length() < minCells {
			return
		}
		cell := func(n int) string { return normalizeSpace(cells.Eq(n).Text()) }

		fundCode := normalizeFundCode(cell(colFundCode))
		if fundCode == "" {
			return
		}
		title := cell(colTitle)
		fields := Fields{
			"title":         title,
			"post_date":     cell(colPosted),
			"close_date":    cell(colDue),
			"agency":        cell(colUnit),
			"contact_email": contactEmail(cells.Eq(colContact)),
		}

		item := ListingItem{ID: fundCode, Ref: cell(colType), Title: title, Fields: fields}
		if fy := parseFiscalYear(title); fy != 0 {
			fields["fiscal_year"] = fy
			item.URL = fmt.Sprintf("%s/grants/%d/%s", strings.TrimRight(s.cfg.BaseURL, "/"), fy, fundCode)
		}
		items = append(items, item)
	})
	return items, nil
}

// contactEmail prefers a mailto target over the visible text.
func contactEmail(cell *goquery.Selection) string {
	if href, ok := cell.Find(`a[href^="mailto:"]`).First().Attr("href"); ok {
		addr := strings.TrimPrefix(href, "mailto:")
		if i := strings.IndexByte(addr, '?'); i >= 0 {
			addr = addr[:i]
		}
		return strings.TrimSpace(addr)
	}
	return normalizeSpace(cell.Text())
}

func (s *DESESource) Detail(ctx context.Context, item ListingItem) (RawRecord, error) {
	if item.URL == "" {
		return RawRecord{}, fmt.Errorf("%w: %s has no fiscal year in its title", ErrSkipItem, item.ID)
	}

	doc, err := s.fetchDocument(ctx, item.URL)
	if err != nil {
		return RawRecord{}, err
	}

	fields := make(Fields, len(item.Fields)+3)
	for k, v := range item.Fields {
		fields[k] = v
	}
	fields["url"] = item.URL

	details := s.definitionList(doc)
	if v, ok := details["Purpose:"]; ok {
		fields["description"] = v
	}
	if v, ok := details["Eligibility:"]; ok {
		fields["eligibility"] = v
	}

	raw := RawRecord{
		Key:    models.NaturalKey{Source: s.tmpl.Source, SourceGrantID: item.ID},
		URL:    item.URL,
		Fields: fields,
	}

	lastUpdated := normalizeSpace(doc.Find("p#last-updated-date").First().Text())
	lastUpdated = strings.TrimSpace(strings.TrimPrefix(lastUpdated, "Last Updated:"))
	if lastUpdated != "" {
		raw.LastUpdated = lastUpdated
	} else {
		content := s.cfg.Selectors.Content
		if content == "" {
			content = "dl"
		}
		raw.Content, _ = doc.Find(content).First().Html()
	}

	raw.AIInput = map[string]any{
		"grant_id":      item.ID,
		"title":         fields["title"],
		"description":   fields["description"],
		"agency":        fields["agency"],
		"post_date":     fields["post_date"],
		"close_date":    fields["close_date"],
		"fiscal_year":   fields["fiscal_year"],
		"contact_email": fields["contact_email"],
		"grant_type":    item.Ref,
		"eligibility":   fields["eligibility"],
		"details":       details,
		"url":           item.URL,
	}
	return raw, nil
}

// definitionList flattens the first <dl> into label -> text. Link targets other
// than mailto are appended as "name (url)".
func (s *DESESource) definitionList(doc *goquery.Document) map[string]string {
	details := make(map[string]string)
	dl := doc.Find("dl").First()
	dts := dl.Find("dt")
	dds := dl.Find("dd")

	for i := 0; i < dts.Length() && i < dds.Length(); i++ {
		key := normalizeSpace(dts.Eq(i).Text())
		dd := dds.Eq(i)

		var links []string
		dd.Find("a[href]").Each(func(_ int, a *goquery.Selection) {
			href, _ := a.Attr("href")
			if strings.HasPrefix(href, "mailto:") {
				return
			}
			links = append(links, normalizeSpace(a.Text())+" ("+resolveURL(s.cfg.BaseURL, href)+")")
		})

		text := normalizeSpace(dd.Text())
		if len(links) > 0 {
			text = strings.TrimSpace(text + " " + strings.Join(links, " "))
		}
		details[key] = text
	}
	return details
}

func (s *DESESource) fetchDocument(ctx context.Context, rawURL string) (*goquery.Document, error) {
	fetched, err := s.fetcher.Fetch(ctx, rawURL)
	if err != nil {
		return nil, err
	}
	defer fetched.Body.Close()

	doc, err := goquery.NewDocumentFromReader(fetched.Body)
	if err != nil {
		return nil, fmt.Errorf("parsing %s: %w", rawURL, err)
	}
	s.logger.Debug("fetched page", zap.String("url", fetched.URL), zap.Int("status", fetched.StatusCode))
	return doc, nil
}
