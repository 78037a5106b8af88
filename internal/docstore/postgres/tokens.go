package postgres

import (
	"context"
	"fmt"

	"github.com/JakeFAU/crawl-ingest/internal/docstore"
	"github.com/JakeFAU/crawl-ingest/internal/ingest"
)

// Tokens stores an inverted index as (token, url, count) rows.
//
// Inserting an entry writes all of its postings in one statement; a posting
// that already exists fails the statement with a unique violation, which the
// merge treats like a document-level duplicate. An entry whose token already
// has rows for other urls inserts cleanly, which is equivalent to pushing
// those postings.
type Tokens struct {
	store *Store
	table string
}

// Tokens returns the index collection stored in table.
func (s *Store) Tokens(table string) (*Tokens, error) {
	if err := checkTable(table); err != nil {
		return nil, err
	}
	return &Tokens{store: s, table: table}, nil
}

var _ docstore.Collection[ingest.TokenEntry] = (*Tokens)(nil)

// InsertMany implements docstore.Collection.
func (c *Tokens) InsertMany(ctx context.Context, docs []ingest.TokenEntry) error {
	stmts := make([]statement, len(docs))
	for i, doc := range docs {
		stmts[i] = c.insert(doc)
	}
	return c.store.run(ctx, c.table+" insert_many", stmts)
}

// BulkWrite implements docstore.Collection.
func (c *Tokens) BulkWrite(ctx context.Context, writes []docstore.Write[ingest.TokenEntry]) error {
	stmts := make([]statement, len(writes))
	for i, w := range writes {
		switch w.Kind {
		case docstore.WriteInsert:
			stmts[i] = c.insert(w.Doc)
		case docstore.WriteIncrement:
			stmts[i] = statement{
				key:  w.Key,
				sql:  fmt.Sprintf("UPDATE %s SET count = count + $3 WHERE token = $1 AND url = $2", c.table),
				args: []any{w.Key, w.Member, w.Delta},
			}
		case docstore.WritePush:
			stmts[i] = statement{
				key:  w.Key,
				sql:  fmt.Sprintf("INSERT INTO %s (token, url, count) VALUES ($1, $2, $3)", c.table),
				args: []any{w.Key, w.Member, w.Delta},
			}
		default:
			stmts[i] = statement{key: w.Key, err: unsupported(w.Kind, c.table)}
		}
	}
	return c.store.run(ctx, c.table+" bulk_write", stmts)
}

func (c *Tokens) insert(doc ingest.TokenEntry) statement {
	urls := make([]string, len(doc.Postings))
	counts := make([]int64, len(doc.Postings))
	for i, p := range doc.Postings {
		urls[i] = p.URL
		counts[i] = p.Count
	}
	return statement{
		key: doc.Token,
		sql: fmt.Sprintf(`INSERT INTO %s (token, url, count)
SELECT $1, p.url, p.count FROM unnest($2::text[], $3::bigint[]) AS p(url, count)`, c.table),
		args: []any{doc.Token, urls, counts},
	}
}

// Find implements docstore.Collection. Tokens with no postings inside the
// Members restriction are omitted.
func (c *Tokens) Find(ctx context.Context, filter docstore.Filter) ([]ingest.TokenEntry, error) {
	query := fmt.Sprintf("SELECT token, url, count FROM %s", c.table)
	var (
		args  []any
		where []string
	)
	if len(filter.Keys) > 0 {
		args = append(args, filter.Keys)
		where = append(where, fmt.Sprintf("token = ANY($%d)", len(args)))
	}
	if len(filter.Members) > 0 {
		args = append(args, filter.Members)
		where = append(where, fmt.Sprintf("url = ANY($%d)", len(args)))
	}
	for i, clause := range where {
		if i == 0 {
			query += " WHERE " + clause
			continue
		}
		query += " AND " + clause
	}
	rows, err := c.store.pool.Query(ctx, query+" ORDER BY token, url", args...)
	if err != nil {
		return nil, fmt.Errorf("find %s: %w", c.table, err)
	}
	defer rows.Close()

	var out []ingest.TokenEntry
	for rows.Next() {
		var (
			token string
			p     ingest.Posting
		)
		if err := rows.Scan(&token, &p.URL, &p.Count); err != nil {
			return nil, fmt.Errorf("scan %s: %w", c.table, err)
		}
		if n := len(out); n == 0 || out[n-1].Token != token {
			out = append(out, ingest.TokenEntry{Token: token})
		}
		last := &out[len(out)-1]
		last.Postings = append(last.Postings, p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("find %s: %w", c.table, err)
	}
	return out, nil
}

// Count implements docstore.Collection. It counts distinct tokens.
func (c *Tokens) Count(ctx context.Context, filter docstore.Filter) (int64, error) {
	var (
		n   int64
		err error
	)
	if len(filter.Keys) > 0 {
		n, err = c.store.count(ctx, fmt.Sprintf("SELECT count(DISTINCT token) FROM %s WHERE token = ANY($1)", c.table), filter.Keys)
	} else {
		n, err = c.store.count(ctx, fmt.Sprintf("SELECT count(DISTINCT token) FROM %s", c.table))
	}
	if err != nil {
		return 0, fmt.Errorf("count %s: %w", c.table, err)
	}
	return n, nil
}
