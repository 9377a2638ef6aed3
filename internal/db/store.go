package db

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/pgvector/pgvector-go"

	"github.com/david/grant-pipeline/internal/models"
)

// Store is the Postgres implementation of the opportunity store.
type Store struct {
	pool *pgxpool.Pool
}

func NewStore(pool *pgxpool.Pool) *Store {
	return &Store{pool: pool}
}

// Tx is one record's unit of work. Every write of a record happens inside its own Tx.
type Tx interface {
	Insert(ctx context.Context, o *models.Opportunity) (int64, error)
	UpdateFields(ctx context.Context, id int64, fields map[string]any) error
	Commit(ctx context.Context) error
	Rollback(ctx context.Context) error
}

// selectCols is the column list for every opportunity read. The embedding is
// write-only from the pipeline's point of view.
const selectCols = `id, source, source_grant_id, title, description, description_summary, agency,
	category, funding_instrument, funding_type, state_code, award_min, award_max, total_funding_amount,
	fiscal_year, post_date, close_date, archive_date, last_updated, eligibility, eligibility_summary,
	contact_name, contact_email, contact_phone, cost_sharing, relevance_score, attachments, extra,
	content_hash, status, url, solicitation_url, services, raw_text, created_at, updated_at`

// writableCols are the columns UpdateFields may touch. The natural key and
// timestamps are managed here.
var writableCols = map[string]bool{
	"title": true, "description": true, "description_summary": true, "agency": true,
	"category": true, "funding_instrument": true, "funding_type": true, "state_code": true,
	"award_min": true, "award_max": true, "total_funding_amount": true, "fiscal_year": true,
	"post_date": true, "close_date": true, "archive_date": true, "last_updated": true,
	"eligibility": true, "eligibility_summary": true, "contact_name": true, "contact_email": true,
	"contact_phone": true, "cost_sharing": true, "relevance_score": true, "attachments": true,
	"extra": true, "content_hash": true, "status": true, "url": true, "solicitation_url": true,
	"services": true, "raw_text": true, "embedding": true,
}

func scanOpportunity(scan func(dest ...any) error) (models.Opportunity, error) {
	var o models.Opportunity
	var title, description, descSummary, agency, instrument, fundingType, stateCode *string
	var eligibility, eligSummary, contactName, contactEmail, contactPhone *string
	var contentHash, url, solicitationURL, rawText *string
	var category, services []string
	var attachmentsRaw, extraRaw []byte
	var status string

	err := scan(
		&o.ID, &o.Source, &o.SourceGrantID, &title, &description, &descSummary, &agency,
		&category, &instrument, &fundingType, &stateCode, &o.AwardMin, &o.AwardMax, &o.TotalFundingAmount,
		&o.FiscalYear, &o.PostDate, &o.CloseDate, &o.ArchiveDate, &o.LastUpdated, &eligibility, &eligSummary,
		&contactName, &contactEmail, &contactPhone, &o.CostSharing, &o.RelevanceScore, &attachmentsRaw, &extraRaw,
		&contentHash, &status, &url, &solicitationURL, &services, &rawText, &o.CreatedAt, &o.UpdatedAt,
	)
	if err != nil {
		return o, err
	}

	o.Title = deref(title)
	o.Description = deref(description)
	o.DescriptionSummary = deref(descSummary)
	o.Agency = deref(agency)
	o.FundingInstrument = deref(instrument)
	o.StateCode = deref(stateCode)
	o.Eligibility = deref(eligibility)
	o.EligibilitySummary = deref(eligSummary)
	o.ContactName = deref(contactName)
	o.ContactEmail = deref(contactEmail)
	o.ContactPhone = deref(contactPhone)
	o.ContentHash = deref(contentHash)
	o.URL = deref(url)
	o.SolicitationURL = deref(solicitationURL)
	o.RawText = deref(rawText)

	if s, ok := models.ParseStatus(status); ok {
		o.Status = s
	}
	if fundingType != nil {
		if ft, ok := models.ParseFundingType(*fundingType); ok {
			o.FundingType = &ft
		}
	}
	for _, c := range category {
		if cat, ok := models.ParseCategory(c); ok {
			o.Category = append(o.Category, cat)
		}
	}
	for _, s := range services {
		if sv, ok := models.ParseService(s); ok {
			o.Services = append(o.Services, sv)
		}
	}
	if len(attachmentsRaw) > 0 {
		if err := json.Unmarshal(attachmentsRaw, &o.Attachments); err != nil {
			return o, fmt.Errorf("decode attachments of %d: %w", o.ID, err)
		}
	}
	if len(extraRaw) > 0 {
		if err := json.Unmarshal(extraRaw, &o.Extra); err != nil {
			return o, fmt.Errorf("decode extra of %d: %w", o.ID, err)
		}
	}

	return o, nil
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}

func (s *Store) findOne(ctx context.Context, where string, args ...any) (*models.Opportunity, error) {
	sql := fmt.Sprintf(`SELECT %s FROM opportunities WHERE %s ORDER BY id LIMIT 1`, selectCols, where)
	o, err := scanOpportunity(s.pool.QueryRow(ctx, sql, args...).Scan)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &o, nil
}

// FindByKey returns nil, nil when no record has the key.
func (s *Store) FindByKey(ctx context.Context, key models.NaturalKey) (*models.Opportunity, error) {
	o, err := s.findOne(ctx, "source = $1 AND source_grant_id = $2", key.Source, key.SourceGrantID)
	if err != nil {
		return nil, fmt.Errorf("find %s: %w", key, err)
	}
	return o, nil
}

// FindByURL looks a record up by its canonical page URL within a source.
func (s *Store) FindByURL(ctx context.Context, source, url string) (*models.Opportunity, error) {
	o, err := s.findOne(ctx, "source = $1 AND url = $2", source, url)
	if err != nil {
		return nil, fmt.Errorf("find %s by url: %w", source, err)
	}
	return o, nil
}

func (s *Store) query(ctx context.Context, sql string, args ...any) ([]models.Opportunity, error) {
	rows, err := s.pool.Query(ctx, sql, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []models.Opportunity
	for rows.Next() {
		o, err := scanOpportunity(rows.Scan)
		if err != nil {
			return nil, err
		}
		out = append(out, o)
	}
	return out, rows.Err()
}

// buildSweepQuery selects records whose archive or close date passed before today
// while their status still allows the matching transition. An empty source scans
// every source.
func buildSweepQuery(source string, today time.Time) (string, []any) {
	where := `((status IN ('forecasted', 'posted', 'closed') AND archive_date IS NOT NULL AND archive_date < $1)
		OR (status IN ('forecasted', 'posted') AND close_date IS NOT NULL AND close_date < $1))`
	args := []any{today}
	if source != "" {
		where += " AND source = $2"
		args = append(args, source)
	}
	return fmt.Sprintf("SELECT %s FROM opportunities WHERE %s ORDER BY id", selectCols, where), args
}

func (s *Store) ListForSweep(ctx context.Context, source string, today time.Time) ([]models.Opportunity, error) {
	sql, args := buildSweepQuery(source, today)
	out, err := s.query(ctx, sql, args...)
	if err != nil {
		return nil, fmt.Errorf("list sweep candidates: %w", err)
	}
	return out, nil
}

func (s *Store) ListPosted(ctx context.Context, source string) ([]models.Opportunity, error) {
	sql := fmt.Sprintf("SELECT %s FROM opportunities WHERE source = $1 AND status = 'posted' ORDER BY id", selectCols)
	out, err := s.query(ctx, sql, source)
	if err != nil {
		return nil, fmt.Errorf("list posted for %s: %w", source, err)
	}
	return out, nil
}

// SetStatus moves a record from one status to another. It reports false when the
// record no longer has the expected status.
func (s *Store) SetStatus(ctx context.Context, id int64, from, to models.Status) (bool, error) {
	tag, err := s.pool.Exec(ctx,
		`UPDATE opportunities SET status = $1, updated_at = NOW() WHERE id = $2 AND status = $3`,
		string(to), id, string(from))
	if err != nil {
		return false, fmt.Errorf("set status of %d: %w", id, err)
	}
	return tag.RowsAffected() == 1, nil
}

// AddService tags records lacking svc. With apply false it only counts them.
func (s *Store) AddService(ctx context.Context, svc models.Service, apply bool) (int64, error) {
	if !apply {
		var n int64
		err := s.pool.QueryRow(ctx,
			`SELECT COUNT(*) FROM opportunities WHERE services IS NULL OR NOT ($1 = ANY(services))`,
			string(svc)).Scan(&n)
		if err != nil {
			return 0, fmt.Errorf("count records missing %s: %w", svc, err)
		}
		return n, nil
	}

	tag, err := s.pool.Exec(ctx,
		`UPDATE opportunities
		SET services = array_append(COALESCE(services, ARRAY[]::TEXT[]), $1), updated_at = NOW()
		WHERE services IS NULL OR NOT ($1 = ANY(services))`,
		string(svc))
	if err != nil {
		return 0, fmt.Errorf("add service %s: %w", svc, err)
	}
	return tag.RowsAffected(), nil
}

func (s *Store) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

func (s *Store) Begin(ctx context.Context) (Tx, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("begin: %w", err)
	}
	return &pgTx{tx: tx}, nil
}

type pgTx struct {
	tx pgx.Tx
}

func (t *pgTx) Insert(ctx context.Context, o *models.Opportunity) (int64, error) {
	sql, args, err := buildInsert(o)
	if err != nil {
		return 0, err
	}
	var id int64
	if err := t.tx.QueryRow(ctx, sql, args...).Scan(&id); err != nil {
		return 0, fmt.Errorf("insert %s: %w", o.Key(), err)
	}
	return id, nil
}

func (t *pgTx) UpdateFields(ctx context.Context, id int64, fields map[string]any) error {
	if len(fields) == 0 {
		return nil
	}
	sql, args, err := buildUpdate(id, fields)
	if err != nil {
		return err
	}
	tag, err := t.tx.Exec(ctx, sql, args...)
	if err != nil {
		return fmt.Errorf("update %d: %w", id, err)
	}
	if tag.RowsAffected() != 1 {
		return fmt.Errorf("update %d: record not found", id)
	}
	return nil
}

func (t *pgTx) Commit(ctx context.Context) error   { return t.tx.Commit(ctx) }
func (t *pgTx) Rollback(ctx context.Context) error { return t.tx.Rollback(ctx) }

// insertColumns flattens a record into column values. Unset values are left out
// so the column defaults apply.
func insertColumns(o *models.Opportunity) map[string]any {
	cols := map[string]any{
		"source":               o.Source,
		"source_grant_id":      o.SourceGrantID,
		"title":                o.Title,
		"description":          o.Description,
		"description_summary":  o.DescriptionSummary,
		"agency":               o.Agency,
		"category":             o.Category,
		"funding_instrument":   o.FundingInstrument,
		"funding_type":         o.FundingType,
		"state_code":           o.StateCode,
		"award_min":            o.AwardMin,
		"award_max":            o.AwardMax,
		"total_funding_amount": o.TotalFundingAmount,
		"fiscal_year":          o.FiscalYear,
		"post_date":            o.PostDate,
		"close_date":           o.CloseDate,
		"archive_date":         o.ArchiveDate,
		"last_updated":         o.LastUpdated,
		"eligibility":          o.Eligibility,
		"eligibility_summary":  o.EligibilitySummary,
		"contact_name":         o.ContactName,
		"contact_email":        o.ContactEmail,
		"contact_phone":        o.ContactPhone,
		"cost_sharing":         o.CostSharing,
		"relevance_score":      o.RelevanceScore,
		"attachments":          o.Attachments,
		"extra":                o.Extra,
		"content_hash":         o.ContentHash,
		"status":               o.Status,
		"url":                  o.URL,
		"solicitation_url":     o.SolicitationURL,
		"services":             o.Services,
		"raw_text":             o.RawText,
		"embedding":            o.Embedding,
	}
	return cols
}

func buildInsert(o *models.Opportunity) (string, []any, error) {
	if o.Source == "" || o.SourceGrantID == "" {
		return "", nil, fmt.Errorf("insert: incomplete natural key %q", o.Key())
	}

	cols := insertColumns(o)
	names := make([]string, 0, len(cols))
	args := make([]any, 0, len(cols))
	for _, name := range sortedKeys(cols) {
		v, err := encodeColumn(name, cols[name])
		if err != nil {
			return "", nil, err
		}
		if v == nil {
			continue
		}
		names = append(names, name)
		args = append(args, v)
	}

	placeholders := make([]string, len(names))
	for i := range names {
		placeholders[i] = fmt.Sprintf("$%d", i+1)
	}
	sql := fmt.Sprintf("INSERT INTO opportunities (%s) VALUES (%s) RETURNING id",
		strings.Join(names, ", "), strings.Join(placeholders, ", "))
	return sql, args, nil
}

// buildUpdate writes exactly the given columns; a nil value clears the column.
func buildUpdate(id int64, fields map[string]any) (string, []any, error) {
	sets := make([]string, 0, len(fields)+1)
	args := make([]any, 0, len(fields)+1)
	for _, name := range sortedKeys(fields) {
		if !writableCols[name] {
			return "", nil, fmt.Errorf("update %d: column %q is not writable", id, name)
		}
		v, err := encodeColumn(name, fields[name])
		if err != nil {
			return "", nil, err
		}
		args = append(args, v)
		sets = append(sets, fmt.Sprintf("%s = $%d", name, len(args)))
	}
	sets = append(sets, "updated_at = NOW()")
	args = append(args, id)
	sql := fmt.Sprintf("UPDATE opportunities SET %s WHERE id = $%d", strings.Join(sets, ", "), len(args))
	return sql, args, nil
}

// encodeColumn converts a canonical Go value into the driver value for a column.
// Empty strings, nil pointers and empty optional lists encode as NULL.
func encodeColumn(name string, v any) (any, error) {
	switch x := v.(type) {
	case nil:
		return nil, nil
	case string:
		x = sanitizeText(x)
		if strings.TrimSpace(x) == "" {
			return nil, nil
		}
		return x, nil
	case int, int64, bool, time.Time:
		return x, nil
	case *int:
		if x == nil {
			return nil, nil
		}
		return *x, nil
	case *int64:
		if x == nil {
			return nil, nil
		}
		return *x, nil
	case *bool:
		if x == nil {
			return nil, nil
		}
		return *x, nil
	case *time.Time:
		if x == nil {
			return nil, nil
		}
		return *x, nil
	case models.Status:
		if x == "" {
			return nil, nil
		}
		return string(x), nil
	case models.FundingType:
		return string(x), nil
	case *models.FundingType:
		if x == nil {
			return nil, nil
		}
		return string(*x), nil
	case []models.Category:
		if len(x) == 0 {
			return nil, nil
		}
		out := make([]string, len(x))
		for i, c := range x {
			out[i] = string(c)
		}
		return out, nil
	case []models.Service:
		if len(x) == 0 {
			return nil, nil
		}
		out := make([]string, len(x))
		for i, s := range x {
			out[i] = string(s)
		}
		return out, nil
	case []models.Attachment:
		if x == nil {
			x = []models.Attachment{}
		}
		return encodeJSON(name, x)
	case map[string]any:
		if x == nil {
			return nil, nil
		}
		return encodeJSON(name, x)
	case []float32:
		if len(x) == 0 {
			return nil, nil
		}
		return pgvector.NewVector(x), nil
	}
	return nil, fmt.Errorf("column %s: unsupported value type %T", name, v)
}

func encodeJSON(name string, v any) (string, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return "", fmt.Errorf("column %s: %w", name, err)
	}
	return string(data), nil
}

// sanitizeText drops invalid UTF-8 and NUL bytes, which Postgres text rejects.
func sanitizeText(s string) string {
	return strings.ReplaceAll(strings.ToValidUTF8(s, ""), "\x00", "")
}

func sortedKeys(m map[string]any) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
