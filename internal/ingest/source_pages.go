package ingest

import (
	"context"
	"fmt"
	"io"
	"net/url"
	"path"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"go.uber.org/zap"

	"github.com/david/grant-pipeline/internal/models"
)

const maxPageLinks = 40

// PageSource handles sites without structured data. Detail pages come from a
// crawled listing page and/or a fixed seed list; the model extracts the fields
// from each page's text.
type PageSource struct {
	cfg     SourceConfig
	tmpl    Template
	fetcher *HTTPFetcher
	links   *LinkCollector
	logger  *zap.Logger
}

func newPageSource(cfg SourceConfig, fetcher *HTTPFetcher, logger *zap.Logger) (Source, error) {
	if cfg.ListURL == "" && len(cfg.Seeds) == 0 {
		return nil, fmt.Errorf("html_links needs list_url or seed_urls")
	}
	return &PageSource{
		cfg:     cfg,
		tmpl:    cfg.template(true),
		fetcher: fetcher,
		links:   &LinkCollector{Client: fetcher.Client(), Selectors: cfg.Selectors, Fetch: cfg.Fetch},
		logger:  logger,
	}, nil
}

func (s *PageSource) ID() string         { return s.cfg.ID }
func (s *PageSource) Template() Template { return s.tmpl }
func (s *PageSource) FullListing() bool  { return false }

func (s *PageSource) Listing(ctx context.Context) ([]ListingItem, error) {
	var items []ListingItem
	seen := make(map[string]bool)
	add := func(rawURL, title, date string) {
		u := CanonicalizeURL(rawURL)
		if u == "" || seen[u] {
			return
		}
		seen[u] = true
		item := ListingItem{ID: urlGrantID(u), URL: u, Title: title, Fields: Fields{}}
		if date != "" {
			item.Fields["post_date"] = date
		}
		items = append(items, item)
	}

	if s.cfg.ListURL != "" {
		links, err := s.links.Collect(ctx, s.cfg.ListURL)
		if err != nil {
			return nil, err
		}
		s.logger.Info("collected links", zap.String("list_url", s.cfg.ListURL), zap.Int("links", len(links)))
		for _, l := range links {
			add(l.URL, l.Title, l.Date)
		}
	}
	for _, seed := range s.cfg.Seeds {
		add(seed, "", "")
	}
	return items, nil
}

func (s *PageSource) Detail(ctx context.Context, item ListingItem) (RawRecord, error) {
	doc, err := s.fetcher.Fetch(ctx, item.URL)
	if err != nil {
		return RawRecord{}, err
	}
	defer doc.Body.Close()

	var page pageContent
	if isPDF(doc.ContentType, doc.URL) {
		page, err = readPDFPage(doc.Body)
	} else {
		page, err = s.readHTMLPage(doc.Body, doc.URL)
	}
	if err != nil {
		return RawRecord{}, fmt.Errorf("reading %s: %w", item.URL, err)
	}
	if page.Text == "" {
		return RawRecord{}, fmt.Errorf("%w: %s has no text", ErrSkipItem, item.URL)
	}

	fields := Fields{"url": item.URL}
	title := page.Title
	if title == "" {
		title = item.Title
	}
	if title != "" {
		fields["title"] = title
	}
	for k, v := range item.Fields {
		fields[k] = v
	}
	if sol := findSolicitationURL(page.Links); sol != "" {
		fields["solicitation_url"] = sol
	}

	aiInput := map[string]any{
		"url":       item.URL,
		"page_text": page.Text,
		"links":     page.Links,
	}
	if date, ok := item.Fields["post_date"]; ok {
		aiInput["post_date"] = date
	}

	return RawRecord{
		Key:     models.NaturalKey{Source: s.tmpl.Source, SourceGrantID: item.ID},
		URL:     item.URL,
		Fields:  fields,
		Content: page.Text,
		AIInput: aiInput,
	}, nil
}

type pageContent struct {
	Title string
	Text  string
	Links []models.Attachment
}

func readPDFPage(body io.Reader) (pageContent, error) {
	data, err := io.ReadAll(io.LimitReader(body, maxPDFBytes))
	if err != nil {
		return pageContent{}, fmt.Errorf("pdf read failed: %w", err)
	}
	text, err := extractPDFText(data)
	if err != nil {
		return pageContent{}, fmt.Errorf("pdf text extraction failed: %w", err)
	}
	return pageContent{Text: text}, nil
}

func (s *PageSource) readHTMLPage(body io.Reader, pageURL string) (pageContent, error) {
	doc, err := goquery.NewDocumentFromReader(body)
	if err != nil {
		return pageContent{}, err
	}
	page := pageContent{Title: normalizeSpace(doc.Find("h1").First().Text())}
	if page.Title == "" {
		page.Title = normalizeSpace(doc.Find("title").First().Text())
	}
	doc.Find("script, style, noscript, nav, footer").Remove()

	var sel *goquery.Selection
	if s.cfg.Selectors.Content != "" {
		sel = doc.Find(s.cfg.Selectors.Content).First()
	}
	if sel == nil || sel.Length() == 0 {
		sel = doc.Find("body")
	}

	html, err := sel.Html()
	if err != nil {
		return pageContent{}, err
	}
	page.Text = HTMLToText(html)

	seen := make(map[string]bool)
	sel.Find("a[href]").EachWithBreak(func(_ int, a *goquery.Selection) bool {
		href, _ := a.Attr("href")
		href = strings.TrimSpace(href)
		if href == "" || strings.HasPrefix(href, "#") || strings.HasPrefix(href, "mailto:") || strings.HasPrefix(href, "javascript:") {
			return true
		}
		abs := resolveURL(pageURL, href)
		if seen[abs] {
			return true
		}
		seen[abs] = true
		page.Links = append(page.Links, models.Attachment{Name: normalizeSpace(a.Text()), URL: abs})
		return len(page.Links) < maxPageLinks
	})
	return page, nil
}

var (
	solicitationExts     = map[string]bool{".pdf": true, ".doc": true, ".docx": true, ".rtf": true}
	solicitationKeywords = []string{
		"rfp", "request for proposal", "solicitation", "nofo", "funding opportunity announcement",
		"full announcement", "guideline", "application",
	}
)

// findSolicitationURL returns the first document link whose text names a
// solicitation, or "".
func findSolicitationURL(links []models.Attachment) string {
	for _, l := range links {
		u, err := url.Parse(l.URL)
		if err != nil || !solicitationExts[strings.ToLower(path.Ext(u.Path))] {
			continue
		}
		name := strings.ToLower(l.Name)
		for _, kw := range solicitationKeywords {
			if strings.Contains(name, kw) {
				return l.URL
			}
		}
	}
	return ""
}
