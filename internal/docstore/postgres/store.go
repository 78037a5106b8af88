// Package postgres implements the docstore contract on Postgres. Pages and
// images map to one row per document; inverted indexes map to one row per
// (token, url) posting so increments and pushes are single-row statements.
package postgres

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/JakeFAU/crawl-ingest/internal/docstore"
)

var validTableName = regexp.MustCompile(`^[a-zA-Z_][a-zA-Z0-9_]*$`)

const uniqueViolation = "23505"

// Config controls the shared connection pool.
type Config struct {
	DSN             string
	MaxConns        int32
	MinConns        int32
	MaxConnLifetime time.Duration
}

// Pool is the subset of pgxpool.Pool the collections use.
type Pool interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Close()
}

// Store owns the pool shared by every collection.
type Store struct {
	pool Pool
}

// Open creates a pgx pool from cfg.
func Open(ctx context.Context, cfg Config) (*Store, error) {
	if cfg.DSN == "" {
		return nil, fmt.Errorf("store.postgres.dsn is required")
	}
	poolCfg, err := pgxpool.ParseConfig(cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("parse postgres dsn: %w", err)
	}
	if cfg.MaxConns > 0 {
		poolCfg.MaxConns = cfg.MaxConns
	}
	if cfg.MinConns > 0 {
		poolCfg.MinConns = cfg.MinConns
	}
	if cfg.MaxConnLifetime > 0 {
		poolCfg.MaxConnLifetime = cfg.MaxConnLifetime
	}
	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	return &Store{pool: pool}, nil
}

// NewWithPool wraps an existing pool (primarily for testing).
func NewWithPool(pool Pool) (*Store, error) {
	if pool == nil {
		return nil, fmt.Errorf("pool is required")
	}
	return &Store{pool: pool}, nil
}

// Close releases the pool.
func (s *Store) Close() {
	if s == nil || s.pool == nil {
		return
	}
	s.pool.Close()
}

func checkTable(table string) error {
	if !validTableName.MatchString(table) {
		return fmt.Errorf("invalid table name %q", table)
	}
	return nil
}

// statement is one write of a bulk request.
type statement struct {
	key  string
	sql  string
	args []any
	// affect marks inserts whose zero row count means the key already exists.
	affect bool
	// err short-circuits the statement with a rejection.
	err error
}

// run executes statements independently so one failure never blocks the
// rest, then folds the failures into a *docstore.WriteError. A canceled
// context aborts the remaining statements; they are reported as rejected so
// the error still names exactly what was not applied.
func (s *Store) run(ctx context.Context, op string, stmts []statement) error {
	var rejected []docstore.Rejection
	for i, st := range stmts {
		if st.err != nil {
			rejected = append(rejected, docstore.Rejection{
				Index: i, Key: st.key, Code: docstore.CodeUnknown, Message: st.err.Error(),
			})
			continue
		}
		tag, err := s.pool.Exec(ctx, st.sql, st.args...)
		if err != nil {
			if ctxErr := ctx.Err(); ctxErr != nil {
				rejected = append(rejected, abandoned(stmts, i, ctxErr)...)
				break
			}
			rejected = append(rejected, rejection(i, st.key, err))
			continue
		}
		if st.affect && tag.RowsAffected() == 0 {
			rejected = append(rejected, docstore.Rejection{
				Index: i, Key: st.key, Code: docstore.CodeDuplicateKey,
				Message: fmt.Sprintf("duplicate key %q", st.key),
			})
		}
	}
	if len(rejected) > 0 {
		return &docstore.WriteError{Op: op, Rejected: rejected}
	}
	return nil
}

func abandoned(stmts []statement, from int, cause error) []docstore.Rejection {
	out := make([]docstore.Rejection, 0, len(stmts)-from)
	for i := from; i < len(stmts); i++ {
		out = append(out, docstore.Rejection{
			Index: i, Key: stmts[i].key, Code: docstore.CodeUnknown,
			Message: fmt.Sprintf("not applied: %v", cause),
		})
	}
	return out
}

func rejection(i int, key string, err error) docstore.Rejection {
	r := docstore.Rejection{Index: i, Key: key, Code: docstore.CodeUnknown, Message: err.Error()}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
		r.Code = docstore.CodeDuplicateKey
	}
	return r
}

func unsupported(kind docstore.WriteKind, table string) error {
	return fmt.Errorf("%s on %s: %w", kind, table, docstore.ErrUnsupported)
}

func nullableTime(t time.Time) *time.Time {
	if t.IsZero() {
		return nil
	}
	return &t
}

func timeValue(t *time.Time) time.Time {
	if t == nil {
		return time.Time{}
	}
	return t.UTC()
}

func (s *Store) count(ctx context.Context, sql string, args ...any) (int64, error) {
	var n int64
	if err := s.pool.QueryRow(ctx, sql, args...).Scan(&n); err != nil {
		return 0, err
	}
	return n, nil
}
