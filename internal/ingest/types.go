package ingest

import (
	"context"
	"errors"
	"io"
	"time"

	"github.com/david/grant-pipeline/internal/ai"
	"github.com/david/grant-pipeline/internal/models"
)

// Fields is a dict-like record keyed by opportunity column name. A key mapped to nil
// is an explicit null; an absent key means "no value from this input".
type Fields map[string]any

// ListingItem is one entry of a source's listing, before its detail is fetched.
// ID is the record's source_grant_id when the listing knows it.
type ListingItem struct {
	ID string
	// Ref is the source's own handle for fetching the detail.
	Ref    string
	URL    string
	Title  string
	Fields Fields
}

// ErrSkipItem is wrapped by Detail for listed items that cannot be ingested, such
// as a row with no detail page. The pipeline counts them as skipped.
var ErrSkipItem = errors.New("skip item")

// RawRecord is the untrusted output of a source adapter for one opportunity.
type RawRecord struct {
	Key    models.NaturalKey
	URL    string
	Fields Fields
	// LastUpdated is the source's own modification time, as text. Empty when the
	// source has none; Content is hashed instead.
	LastUpdated string
	Content     string
	// AIInput is what the model sees for this record. Defaults to Fields.
	AIInput map[string]any
}

// Template carries the source-level defaults and enrichment settings.
type Template struct {
	Source string
	Fields Fields
	// Kind selects the prompt used for enrichment; empty disables it.
	Kind ai.PromptKind
	// AIFill lists extra fields the model may fill when the source left them empty.
	AIFill []string
	// LookupByURL is set when source_grant_id is derived from the URL.
	LookupByURL bool
}

// Source is an adapter over one upstream system.
type Source interface {
	ID() string
	Template() Template
	// FullListing reports whether Listing enumerates every live record, which
	// enables closing records that disappeared from it.
	FullListing() bool
	Listing(ctx context.Context) ([]ListingItem, error)
	Detail(ctx context.Context, item ListingItem) (RawRecord, error)
}

// FetchedDocument represents the raw result of a fetch operation.
type FetchedDocument struct {
	URL         string
	StatusCode  int
	ContentType string
	Body        io.ReadCloser
	FetchedAt   time.Time
	Headers     map[string][]string
}

// Fetcher retrieves raw content from a URL.
type Fetcher interface {
	Fetch(ctx context.Context, url string) (*FetchedDocument, error)
}

// Enricher produces model fields for a batch, one result per item in input order.
type Enricher interface {
	Enrich(ctx context.Context, kind ai.PromptKind, items []map[string]any) []ai.Enrichment
}
