package postgres

import (
	"context"
	"fmt"
)

// Tables names the four collections.
type Tables struct {
	Pages       string
	Images      string
	PageTokens  string
	ImageTokens string
}

// Migrate creates the tables when missing.
func (s *Store) Migrate(ctx context.Context, t Tables) error {
	for _, name := range []string{t.Pages, t.Images, t.PageTokens, t.ImageTokens} {
		if err := checkTable(name); err != nil {
			return err
		}
	}
	ddl := []string{
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
	url TEXT PRIMARY KEY,
	title TEXT NOT NULL DEFAULT '',
	description TEXT NOT NULL DEFAULT '',
	keywords TEXT[],
	urls TEXT[],
	backlinks TEXT[] NOT NULL DEFAULT '{}',
	fetched_at TIMESTAMPTZ
)`, t.Pages),
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
	url TEXT PRIMARY KEY,
	alt TEXT NOT NULL DEFAULT '',
	page_url TEXT NOT NULL DEFAULT '',
	tokens TEXT[],
	fetched_at TIMESTAMPTZ
)`, t.Images),
	}
	for _, table := range []string{t.PageTokens, t.ImageTokens} {
		ddl = append(ddl,
			fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
	token TEXT NOT NULL,
	url TEXT NOT NULL,
	count BIGINT NOT NULL,
	PRIMARY KEY (token, url)
)`, table),
			fmt.Sprintf("CREATE INDEX IF NOT EXISTS %[1]s_url_idx ON %[1]s (url)", table),
		)
	}
	for _, stmt := range ddl {
		if _, err := s.pool.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("migrate: %w", err)
		}
	}
	return nil
}
