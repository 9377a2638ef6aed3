package ingest

import (
	"context"
	"fmt"
	"net/http"
	"regexp"
	"strings"
	"time"

	"github.com/gocolly/colly/v2"
)

// ListedLink is a detail link found on a listing page.
type ListedLink struct {
	URL   string
	Title string
	// Date is the raw date text shown next to the link, if any.
	Date string
}

// LinkCollector crawls one listing page with Colly and collects detail links.
type LinkCollector struct {
	Client    *http.Client // nil uses Colly's own client
	Selectors SelectorConfig
	Fetch     FetchConfig
}

var postedPrefix = regexp.MustCompile(`(?i)^\s*posted(?:\s+on)?\s*[:\-–—]?\s*`)

// buildCollector creates a configured Colly collector.
func (lc *LinkCollector) buildCollector(ctx context.Context) *colly.Collector {
	ua := lc.Fetch.UserAgent
	if ua == "" {
		ua = defaultUserAgent
	}
	c := colly.NewCollector(
		colly.UserAgent(ua),
		colly.MaxBodySize(10*1024*1024),
		colly.DetectCharset(),
		colly.StdlibContext(ctx),
	)
	if lc.Client != nil {
		c.SetClient(lc.Client)
	} else {
		c.SetRequestTimeout(lc.Fetch.timeout())
	}
	if lc.Fetch.RateLimitRPS > 0 {
		c.Limit(&colly.LimitRule{
			DomainGlob:  "*",
			Parallelism: 1,
			Delay:       time.Duration(float64(time.Second) / lc.Fetch.RateLimitRPS),
		})
	}
	if lc.Fetch.AcceptLanguage != "" {
		c.OnRequest(func(r *colly.Request) {
			r.Headers.Set("Accept-Language", lc.Fetch.AcceptLanguage)
		})
	}
	return c
}

// Collect visits listURL and returns the links inside each container, in page
// order and without duplicates. Each link carries the first date found in its
// container, with a leading "Posted on" removed.
func (lc *LinkCollector) Collect(ctx context.Context, listURL string) ([]ListedLink, error) {
	container := lc.Selectors.Container
	if container == "" {
		container = "body"
	}
	linkSel := lc.Selectors.Link
	if linkSel == "" {
		linkSel = "a[href]"
	}

	var (
		links    []ListedLink
		visitErr error
	)
	seen := make(map[string]bool)

	c := lc.buildCollector(ctx)
	c.OnHTML(container, func(e *colly.HTMLElement) {
		var date string
		if lc.Selectors.Date != "" {
			date = postedPrefix.ReplaceAllString(normalizeSpace(e.DOM.Find(lc.Selectors.Date).First().Text()), "")
		}

		e.ForEach(linkSel, func(_ int, a *colly.HTMLElement) {
			href := strings.TrimSpace(a.Attr("href"))
			if href == "" || strings.HasPrefix(href, "#") || strings.HasPrefix(href, "mailto:") || strings.HasPrefix(href, "javascript:") {
				return
			}
			if lc.Selectors.LinkContains != "" && !strings.Contains(href, lc.Selectors.LinkContains) {
				return
			}
			abs := CanonicalizeURL(a.Request.AbsoluteURL(href))
			if abs == "" || seen[abs] {
				return
			}
			seen[abs] = true
			links = append(links, ListedLink{URL: abs, Title: normalizeSpace(a.Text), Date: date})
		})
	})
	c.OnError(func(r *colly.Response, err error) {
		visitErr = fmt.Errorf("%s: status %d: %w", r.Request.URL, r.StatusCode, err)
	})

	if err := c.Visit(listURL); err != nil && visitErr == nil {
		visitErr = fmt.Errorf("visit %s: %w", listURL, err)
	}
	c.Wait()

	if visitErr != nil {
		return nil, visitErr
	}
	return links, nil
}
