package ingest

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/david/grant-pipeline/internal/ai"
	"github.com/david/grant-pipeline/internal/db"
	"github.com/david/grant-pipeline/internal/models"
)

// memStore is an in-memory Store. Writes become visible on Commit.
type memStore struct {
	mu      sync.Mutex
	nextID  int64
	records map[int64]*models.Opportunity

	pingErr   error
	insertErr error
	updateErr error
	lookupErr error

	commits   int
	rollbacks int
}

func newMemStore() *memStore {
	return &memStore{records: make(map[int64]*models.Opportunity)}
}

func (m *memStore) put(o models.Opportunity) int64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.nextID++
	o.ID = m.nextID
	m.records[o.ID] = &o
	return o.ID
}

func (m *memStore) get(key models.NaturalKey) *models.Opportunity {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, o := range m.records {
		if o.Key() == key {
			cp := *o
			return &cp
		}
	}
	return nil
}

func (m *memStore) all() []models.Opportunity {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]models.Opportunity, 0, len(m.records))
	for _, o := range m.records {
		out = append(out, *o)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

func (m *memStore) FindByKey(_ context.Context, key models.NaturalKey) (*models.Opportunity, error) {
	if m.lookupErr != nil {
		return nil, m.lookupErr
	}
	return m.get(key), nil
}

func (m *memStore) FindByURL(_ context.Context, source, url string) (*models.Opportunity, error) {
	if m.lookupErr != nil {
		return nil, m.lookupErr
	}
	for _, o := range m.all() {
		if o.Source == source && o.URL == url {
			return &o, nil
		}
	}
	return nil, nil
}

func (m *memStore) Begin(context.Context) (db.Tx, error) {
	return &memTx{store: m}, nil
}

func (m *memStore) ListForSweep(_ context.Context, source string, today time.Time) ([]models.Opportunity, error) {
	var out []models.Opportunity
	for _, o := range m.all() {
		if source != "" && o.Source != source {
			continue
		}
		archive := o.ArchiveDate != nil && o.ArchiveDate.Before(today) &&
			(o.Status == models.StatusPosted || o.Status == models.StatusForecasted || o.Status == models.StatusClosed)
		closing := o.CloseDate != nil && o.CloseDate.Before(today) &&
			(o.Status == models.StatusPosted || o.Status == models.StatusForecasted)
		if archive || closing {
			out = append(out, o)
		}
	}
	return out, nil
}

func (m *memStore) ListPosted(_ context.Context, source string) ([]models.Opportunity, error) {
	var out []models.Opportunity
	for _, o := range m.all() {
		if o.Source == source && o.Status == models.StatusPosted {
			out = append(out, o)
		}
	}
	return out, nil
}

func (m *memStore) SetStatus(_ context.Context, id int64, from, to models.Status) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	o, ok := m.records[id]
	if !ok || o.Status != from {
		return false, nil
	}
	o.Status = to
	return true, nil
}

func (m *memStore) Ping(context.Context) error { return m.pingErr }

type memTx struct {
	store *memStore
	ops   []func()
	done  bool
}

func (t *memTx) Insert(_ context.Context, o *models.Opportunity) (int64, error) {
	if t.store.insertErr != nil {
		return 0, t.store.insertErr
	}
	if t.store.get(o.Key()) != nil {
		return 0, fmt.Errorf("duplicate key %s", o.Key())
	}
	cp := *o
	t.store.mu.Lock()
	t.store.nextID++
	cp.ID = t.store.nextID
	t.store.mu.Unlock()
	t.ops = append(t.ops, func() { t.store.records[cp.ID] = &cp })
	return cp.ID, nil
}

func (t *memTx) UpdateFields(_ context.Context, id int64, fields map[string]any) error {
	if t.store.updateErr != nil {
		return t.store.updateErr
	}
	t.ops = append(t.ops, func() {
		o := t.store.records[id]
		applyFields(o, Fields(fields))
		if v, ok := fields["raw_text"].(string); ok {
			o.RawText = v
		}
		if v, ok := fields["embedding"].([]float32); ok {
			o.Embedding = v
		}
	})
	return nil
}

func (t *memTx) Commit(context.Context) error {
	if t.done {
		return errors.New("tx closed")
	}
	t.done = true
	t.store.mu.Lock()
	defer t.store.mu.Unlock()
	for _, op := range t.ops {
		op()
	}
	t.store.commits++
	return nil
}

func (t *memTx) Rollback(context.Context) error {
	if t.done {
		return nil
	}
	t.done = true
	t.store.mu.Lock()
	t.store.rollbacks++
	t.store.mu.Unlock()
	return nil
}

// scriptedEnricher returns canned fields keyed by the item's "title", and
// reports failure for titles listed in fail.
type scriptedEnricher struct {
	fields map[string]Fields
	fail   map[string]bool
	calls  [][]map[string]any
}

func (e *scriptedEnricher) Enrich(_ context.Context, _ ai.PromptKind, items []map[string]any) []ai.Enrichment {
	e.calls = append(e.calls, items)
	out := make([]ai.Enrichment, len(items))
	for i, item := range items {
		title, _ := item["title"].(string)
		out[i] = ai.Enrichment{Index: i}
		if e.fail[title] {
			continue
		}
		out[i].Fields = e.fields[title]
		out[i].OK = true
	}
	return out
}

type fakeEmbedder struct {
	calls int
	err   error
}

func (f *fakeEmbedder) Embed(_ context.Context, text string) ([]float32, error) {
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	return []float32{float32(len(text)), 1}, nil
}

// listSource serves fixed records.
type listSource struct {
	id        string
	tmpl      Template
	full      bool
	items     []ListingItem
	records   map[string]RawRecord
	listErr   error
	detailErr map[string]error
}

func (s *listSource) ID() string         { return s.id }
func (s *listSource) Template() Template { return s.tmpl }
func (s *listSource) FullListing() bool  { return s.full }

func (s *listSource) Listing(context.Context) ([]ListingItem, error) {
	return s.items, s.listErr
}

func (s *listSource) Detail(_ context.Context, item ListingItem) (RawRecord, error) {
	if err := s.detailErr[item.ID]; err != nil {
		return RawRecord{}, err
	}
	return s.records[item.ID], nil
}

type memRunLog struct {
	started  []string
	finished map[string]db.RunResult
}

func (r *memRunLog) StartRun(_ context.Context, sourceID string) (string, error) {
	r.started = append(r.started, sourceID)
	return fmt.Sprintf("run-%d", len(r.started)), nil
}

func (r *memRunLog) FinishRun(_ context.Context, runID string, res db.RunResult) error {
	if r.finished == nil {
		r.finished = make(map[string]db.RunResult)
	}
	r.finished[runID] = res
	return nil
}

func date(y int, m time.Month, d int) *time.Time {
	t := time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
	return &t
}

func intPtr(n int) *int { return &n }
