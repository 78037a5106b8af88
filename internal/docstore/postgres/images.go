package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/JakeFAU/crawl-ingest/internal/docstore"
	"github.com/JakeFAU/crawl-ingest/internal/ingest"
)

const imageColumns = "url, alt, page_url, tokens, fetched_at"

// Images stores ingest.Image rows. Images are insert-only.
type Images struct {
	store *Store
	table string
}

// Images returns the image collection stored in table.
func (s *Store) Images(table string) (*Images, error) {
	if err := checkTable(table); err != nil {
		return nil, err
	}
	return &Images{store: s, table: table}, nil
}

var _ docstore.Collection[ingest.Image] = (*Images)(nil)

// InsertMany implements docstore.Collection.
func (c *Images) InsertMany(ctx context.Context, docs []ingest.Image) error {
	stmts := make([]statement, len(docs))
	for i, doc := range docs {
		stmts[i] = c.insert(doc)
	}
	return c.store.run(ctx, c.table+" insert_many", stmts)
}

// BulkWrite implements docstore.Collection.
func (c *Images) BulkWrite(ctx context.Context, writes []docstore.Write[ingest.Image]) error {
	stmts := make([]statement, len(writes))
	for i, w := range writes {
		if w.Kind == docstore.WriteInsert {
			stmts[i] = c.insert(w.Doc)
			continue
		}
		stmts[i] = statement{key: w.Key, err: unsupported(w.Kind, c.table)}
	}
	return c.store.run(ctx, c.table+" bulk_write", stmts)
}

func (c *Images) insert(doc ingest.Image) statement {
	return statement{
		key: doc.URL,
		sql: fmt.Sprintf(`INSERT INTO %s (%s) VALUES ($1,$2,$3,$4,$5)
ON CONFLICT (url) DO NOTHING`, c.table, imageColumns),
		args:   []any{doc.URL, doc.Alt, doc.PageURL, doc.Tokens, nullableTime(doc.FetchedAt)},
		affect: true,
	}
}

// Find implements docstore.Collection.
func (c *Images) Find(ctx context.Context, filter docstore.Filter) ([]ingest.Image, error) {
	query := fmt.Sprintf("SELECT %s FROM %s", imageColumns, c.table)
	var args []any
	if len(filter.Keys) > 0 {
		query += " WHERE url = ANY($1)"
		args = append(args, filter.Keys)
	}
	rows, err := c.store.pool.Query(ctx, query+" ORDER BY url", args...)
	if err != nil {
		return nil, fmt.Errorf("find %s: %w", c.table, err)
	}
	defer rows.Close()

	var out []ingest.Image
	for rows.Next() {
		var (
			img     ingest.Image
			fetched *time.Time
		)
		if err := rows.Scan(&img.URL, &img.Alt, &img.PageURL, &img.Tokens, &fetched); err != nil {
			return nil, fmt.Errorf("scan %s: %w", c.table, err)
		}
		img.FetchedAt = timeValue(fetched)
		out = append(out, img)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("find %s: %w", c.table, err)
	}
	return out, nil
}

// Count implements docstore.Collection.
func (c *Images) Count(ctx context.Context, filter docstore.Filter) (int64, error) {
	var (
		n   int64
		err error
	)
	if len(filter.Keys) > 0 {
		n, err = c.store.count(ctx, fmt.Sprintf("SELECT count(*) FROM %s WHERE url = ANY($1)", c.table), filter.Keys)
	} else {
		n, err = c.store.count(ctx, fmt.Sprintf("SELECT count(*) FROM %s", c.table))
	}
	if err != nil {
		return 0, fmt.Errorf("count %s: %w", c.table, err)
	}
	return n, nil
}
