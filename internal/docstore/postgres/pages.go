package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/JakeFAU/crawl-ingest/internal/docstore"
	"github.com/JakeFAU/crawl-ingest/internal/ingest"
)

const pageColumns = "url, title, description, keywords, urls, backlinks, fetched_at"

// Pages stores ingest.Page rows.
type Pages struct {
	store *Store
	table string
}

// Pages returns the page collection stored in table.
func (s *Store) Pages(table string) (*Pages, error) {
	if err := checkTable(table); err != nil {
		return nil, err
	}
	return &Pages{store: s, table: table}, nil
}

var _ docstore.Collection[ingest.Page] = (*Pages)(nil)

// InsertMany implements docstore.Collection.
func (p *Pages) InsertMany(ctx context.Context, docs []ingest.Page) error {
	stmts := make([]statement, len(docs))
	for i, doc := range docs {
		stmts[i] = p.insert(doc)
	}
	return p.store.run(ctx, p.table+" insert_many", stmts)
}

// BulkWrite implements docstore.Collection.
func (p *Pages) BulkWrite(ctx context.Context, writes []docstore.Write[ingest.Page]) error {
	stmts := make([]statement, len(writes))
	for i, w := range writes {
		switch w.Kind {
		case docstore.WriteInsert:
			stmts[i] = p.insert(w.Doc)
		case docstore.WriteReplace:
			stmts[i] = p.replace(w.Doc)
		case docstore.WritePromote:
			stmts[i] = p.promote(w.Doc)
		case docstore.WriteAddToSet:
			stmts[i] = statement{
				key: w.Key,
				sql: fmt.Sprintf(`INSERT INTO %[1]s (url, backlinks) VALUES ($1, ARRAY[$2::text])
ON CONFLICT (url) DO UPDATE SET backlinks = CASE
	WHEN $2::text = ANY(%[1]s.backlinks) THEN %[1]s.backlinks
	ELSE array_append(%[1]s.backlinks, $2::text) END`, p.table),
				args: []any{w.Key, w.Member},
			}
		default:
			stmts[i] = statement{key: w.Key, err: unsupported(w.Kind, p.table)}
		}
	}
	return p.store.run(ctx, p.table+" bulk_write", stmts)
}

func (p *Pages) insert(doc ingest.Page) statement {
	return statement{
		key: doc.URL,
		sql: fmt.Sprintf(`INSERT INTO %s (%s) VALUES ($1,$2,$3,$4,$5,$6,$7)
ON CONFLICT (url) DO NOTHING`, p.table, pageColumns),
		args:   pageArgs(doc),
		affect: true,
	}
}

func (p *Pages) replace(doc ingest.Page) statement {
	return statement{
		key: doc.URL,
		sql: fmt.Sprintf(`INSERT INTO %s (%s) VALUES ($1,$2,$3,$4,$5,$6,$7)
ON CONFLICT (url) DO UPDATE SET
	title = EXCLUDED.title,
	description = EXCLUDED.description,
	keywords = EXCLUDED.keywords,
	urls = EXCLUDED.urls,
	backlinks = EXCLUDED.backlinks,
	fetched_at = EXCLUDED.fetched_at`, p.table, pageColumns),
		args: pageArgs(doc),
	}
}

// promote keeps backlinks that landed after the caller read the row.
func (p *Pages) promote(doc ingest.Page) statement {
	return statement{
		key: doc.URL,
		sql: fmt.Sprintf(`INSERT INTO %[1]s (%[2]s) VALUES ($1,$2,$3,$4,$5,$6,$7)
ON CONFLICT (url) DO UPDATE SET
	title = EXCLUDED.title,
	description = EXCLUDED.description,
	keywords = EXCLUDED.keywords,
	urls = EXCLUDED.urls,
	fetched_at = EXCLUDED.fetched_at,
	backlinks = ARRAY(
		SELECT u.b FROM unnest(%[1]s.backlinks || EXCLUDED.backlinks) WITH ORDINALITY AS u(b, n)
		GROUP BY u.b ORDER BY min(u.n)
	)`, p.table, pageColumns),
		args: pageArgs(doc),
	}
}

func pageArgs(doc ingest.Page) []any {
	backlinks := doc.Backlinks
	if backlinks == nil {
		backlinks = []string{}
	}
	return []any{
		doc.URL,
		doc.Title,
		doc.Description,
		doc.Keywords,
		doc.URLs,
		backlinks,
		nullableTime(doc.FetchedAt),
	}
}

// Find implements docstore.Collection. Fields is ignored; rows are narrow.
func (p *Pages) Find(ctx context.Context, filter docstore.Filter) ([]ingest.Page, error) {
	query := fmt.Sprintf("SELECT %s FROM %s", pageColumns, p.table)
	var args []any
	if len(filter.Keys) > 0 {
		query += " WHERE url = ANY($1)"
		args = append(args, filter.Keys)
	}
	rows, err := p.store.pool.Query(ctx, query+" ORDER BY url", args...)
	if err != nil {
		return nil, fmt.Errorf("find %s: %w", p.table, err)
	}
	defer rows.Close()

	var out []ingest.Page
	for rows.Next() {
		var (
			page    ingest.Page
			fetched *time.Time
		)
		if err := rows.Scan(
			&page.URL,
			&page.Title,
			&page.Description,
			&page.Keywords,
			&page.URLs,
			&page.Backlinks,
			&fetched,
		); err != nil {
			return nil, fmt.Errorf("scan %s: %w", p.table, err)
		}
		page.FetchedAt = timeValue(fetched)
		if page.Backlinks == nil {
			page.Backlinks = []string{}
		}
		out = append(out, page)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("find %s: %w", p.table, err)
	}
	return out, nil
}

// Count implements docstore.Collection.
func (p *Pages) Count(ctx context.Context, filter docstore.Filter) (int64, error) {
	var (
		n   int64
		err error
	)
	if len(filter.Keys) > 0 {
		n, err = p.store.count(ctx, fmt.Sprintf("SELECT count(*) FROM %s WHERE url = ANY($1)", p.table), filter.Keys)
	} else {
		n, err = p.store.count(ctx, fmt.Sprintf("SELECT count(*) FROM %s", p.table))
	}
	if err != nil {
		return 0, fmt.Errorf("count %s: %w", p.table, err)
	}
	return n, nil
}
