package ingest

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/netip"
	"net/url"
	"strings"
	"sync"
	"time"
)

const defaultUserAgent = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36"

// ranges not covered by netip's own classification
var blockedPrefixes = []netip.Prefix{
	netip.MustParsePrefix("100.64.0.0/10"), // carrier-grade NAT
	netip.MustParsePrefix("192.0.0.0/24"),
	netip.MustParsePrefix("198.18.0.0/15"),
}

// HTTPFetcher fetches source pages and API payloads. Requests to the same host are
// spaced by the configured rate. A failed request is not retried: the record is
// picked up again on the next run.
type HTTPFetcher struct {
	client         *http.Client
	acceptLanguage string
	userAgent      string
	interval       time.Duration
	maxBody        int64

	mu   sync.Mutex
	next map[string]time.Time
}

// NewHTTPFetcher builds a fetcher whose transport refuses private addresses.
func NewHTTPFetcher(cfg FetchConfig) *HTTPFetcher {
	transport := &http.Transport{
		Proxy:                 http.ProxyFromEnvironment,
		DialContext:           safeDialContext,
		ForceAttemptHTTP2:     true,
		MaxIdleConns:          100,
		IdleConnTimeout:       90 * time.Second,
		TLSHandshakeTimeout:   10 * time.Second,
		ExpectContinueTimeout: 1 * time.Second,
	}
	if cfg.ProxyURL != "" {
		if proxyURL, err := url.Parse(cfg.ProxyURL); err == nil {
			transport.Proxy = http.ProxyURL(proxyURL)
		}
	}

	return NewHTTPFetcherWithClient(&http.Client{
		Timeout:       cfg.timeout(),
		Transport:     transport,
		CheckRedirect: safeCheckRedirect,
	}, cfg)
}

// NewHTTPFetcherWithClient uses client as is.
func NewHTTPFetcherWithClient(client *http.Client, cfg FetchConfig) *HTTPFetcher {
	f := &HTTPFetcher{
		client:         client,
		acceptLanguage: cfg.AcceptLanguage,
		userAgent:      cfg.UserAgent,
		maxBody:        cfg.maxBody(),
		next:           make(map[string]time.Time),
	}
	if f.acceptLanguage == "" {
		f.acceptLanguage = "en-US,en;q=0.5"
	}
	if f.userAgent == "" {
		f.userAgent = defaultUserAgent
	}
	if cfg.RateLimitRPS > 0 {
		f.interval = time.Duration(float64(time.Second) / cfg.RateLimitRPS)
	}
	return f
}

// Client is the underlying client, shared with the link collector.
func (f *HTTPFetcher) Client() *http.Client { return f.client }

// wait blocks until host may be requested again.
func (f *HTTPFetcher) wait(ctx context.Context, host string) error {
	if f.interval <= 0 {
		return nil
	}

	f.mu.Lock()
	now := time.Now()
	at := f.next[host]
	if at.Before(now) {
		at = now
	}
	f.next[host] = at.Add(f.interval)
	f.mu.Unlock()

	if d := time.Until(at); d > 0 {
		t := time.NewTimer(d)
		defer t.Stop()
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-t.C:
		}
	}
	return nil
}

func (f *HTTPFetcher) do(ctx context.Context, req *http.Request) (*http.Response, error) {
	if err := f.wait(ctx, req.URL.Host); err != nil {
		return nil, err
	}
	req.Header.Set("User-Agent", f.userAgent)
	req.Header.Set("Accept-Language", f.acceptLanguage)

	resp, err := f.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to execute request: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		resp.Body.Close()
		return nil, fmt.Errorf("%s %s: unexpected status code %d: %s",
			req.Method, req.URL, resp.StatusCode, strings.TrimSpace(string(body)))
	}
	// reads past the cap fail with *http.MaxBytesError
	resp.Body = http.MaxBytesReader(nil, resp.Body, f.maxBody)
	return resp, nil
}

// Fetch GETs rawURL. The caller closes the document body.
func (f *HTTPFetcher) Fetch(ctx context.Context, rawURL string) (*FetchedDocument, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Accept", "text/html,application/xhtml+xml,application/xml;q=0.9,application/pdf;q=0.8,*/*;q=0.7")
	req.Header.Set("Cache-Control", "no-cache")

	resp, err := f.do(ctx, req)
	if err != nil {
		return nil, err
	}
	return &FetchedDocument{
		URL:         resp.Request.URL.String(),
		StatusCode:  resp.StatusCode,
		ContentType: resp.Header.Get("Content-Type"),
		Body:        resp.Body,
		FetchedAt:   time.Now(),
		Headers:     resp.Header,
	}, nil
}

// PostJSON posts payload as JSON and decodes the response into out.
func (f *HTTPFetcher) PostJSON(ctx context.Context, rawURL string, payload, out any) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshaling request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, rawURL, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")

	resp, err := f.do(ctx, req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decoding %s response: %w", rawURL, err)
	}
	return nil
}

// safeDialContext refuses to connect when the host resolves to a private address.
func safeDialContext(ctx context.Context, network, addr string) (net.Conn, error) {
	host, _, err := net.SplitHostPort(addr)
	if err != nil {
		return nil, err
	}
	if err := checkPublicHost(ctx, host); err != nil {
		return nil, err
	}
	d := &net.Dialer{Timeout: 30 * time.Second, KeepAlive: 30 * time.Second}
	return d.DialContext(ctx, network, addr)
}

// checkPublicHost resolves host and fails if any of its addresses is private.
func checkPublicHost(ctx context.Context, host string) error {
	ips, err := net.DefaultResolver.LookupIP(ctx, "ip", host)
	if err != nil {
		return err
	}
	if len(ips) == 0 {
		return fmt.Errorf("%s resolved to no addresses", host)
	}
	for _, ip := range ips {
		if isPrivateIP(ip) {
			return fmt.Errorf("blocked private IP: %s", ip)
		}
	}
	return nil
}

// isPrivateIP reports loopback, link-local, multicast, unspecified and private
// ranges, including IPv4-mapped IPv6 forms.
func isPrivateIP(ip net.IP) bool {
	addr, ok := netip.AddrFromSlice(ip)
	if !ok {
		return true
	}
	addr = addr.Unmap()
	if addr.IsLoopback() || addr.IsPrivate() || addr.IsUnspecified() || addr.IsMulticast() ||
		addr.IsLinkLocalUnicast() || addr.IsLinkLocalMulticast() {
		return true
	}
	for _, prefix := range blockedPrefixes {
		if prefix.Contains(addr) {
			return true
		}
	}
	return false
}

// safeCheckRedirect caps redirects at 10 and applies the dial rules to the target.
func safeCheckRedirect(req *http.Request, via []*http.Request) error {
	if len(via) >= 10 {
		return fmt.Errorf("stopped after 10 redirects")
	}
	if req.URL == nil || (req.URL.Scheme != "http" && req.URL.Scheme != "https") {
		return fmt.Errorf("redirect scheme blocked")
	}
	host := strings.ToLower(req.URL.Hostname())
	switch {
	case host == "":
		return fmt.Errorf("redirect host missing")
	case host == "localhost" || strings.HasSuffix(host, ".local"):
		return fmt.Errorf("redirect to internal host blocked")
	}
	if err := checkPublicHost(req.Context(), host); err != nil {
		return fmt.Errorf("redirect to %s: %w", host, err)
	}
	return nil
}
