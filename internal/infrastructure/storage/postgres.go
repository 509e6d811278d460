package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	_ "github.com/jackc/pgx/v5/stdlib" // registers the "pgx" database/sql driver
	"github.com/jmoiron/sqlx"

	"github.com/tyust/tyust-client/pkg/retry"
)

const (
	createKVTable = `CREATE TABLE IF NOT EXISTS client_kv (
	key        TEXT PRIMARY KEY,
	value      TEXT NOT NULL,
	updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
)`
	selectKV = `SELECT value FROM client_kv WHERE key = $1`
	upsertKV = `INSERT INTO client_kv (key, value, updated_at) VALUES ($1, $2, $3)
ON CONFLICT (key) DO UPDATE SET value = EXCLUDED.value, updated_at = EXCLUDED.updated_at`
	deleteKV     = `DELETE FROM client_kv WHERE key = $1`
	deletePrefix = `DELETE FROM client_kv WHERE key LIKE $1 ESCAPE '\'`
)

// SQLStore persists values in a PostgreSQL table. Keys are namespaced with
// a prefix so several clients can share one table.
type SQLStore struct {
	db     *sqlx.DB
	prefix string
}

// OpenPostgres connects through the pgx driver and ensures the table exists.
// Bad credentials, an unknown database or a malformed DSN are not retried.
func OpenPostgres(ctx context.Context, opts Options) (*SQLStore, error) {
	if opts.PostgresDSN == "" {
		return nil, fmt.Errorf("postgres dsn must not be empty")
	}
	db, err := sqlx.Open("pgx", opts.PostgresDSN)
	if err != nil {
		return nil, fmt.Errorf("open postgres: %w", err)
	}

	opts.Driver = DriverPostgres
	err = ping(ctx, opts, func(ctx context.Context) error {
		err := db.PingContext(ctx)
		var pgErr *pgconn.PgError
		var parseErr *pgconn.ParseConfigError
		if errors.As(err, &pgErr) || errors.As(err, &parseErr) {
			return retry.Permanent(err)
		}
		return err
	})
	if err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}
	if _, err := db.ExecContext(ctx, createKVTable); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("create client_kv: %w", err)
	}

	return NewSQLStore(db, opts.KeyPrefix), nil
}

// NewSQLStore wraps an open handle. The table must already exist.
func NewSQLStore(db *sqlx.DB, prefix string) *SQLStore {
	if prefix == "" {
		prefix = DefaultKeyPrefix
	}
	return &SQLStore{db: db, prefix: prefix}
}

func (s *SQLStore) key(k string) string { return s.prefix + k }

func (s *SQLStore) Get(ctx context.Context, key string) (string, bool, error) {
	if key == "" {
		return "", false, ErrKeyEmpty
	}
	var value string
	if err := s.db.GetContext(ctx, &value, selectKV, s.key(key)); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return "", false, nil
		}
		return "", false, fmt.Errorf("postgres get %s: %w", key, err)
	}
	return value, true, nil
}

func (s *SQLStore) Set(ctx context.Context, key, value string) error {
	if key == "" {
		return ErrKeyEmpty
	}
	if _, err := s.db.ExecContext(ctx, upsertKV, s.key(key), value, time.Now().UTC()); err != nil {
		return fmt.Errorf("postgres set %s: %w", key, err)
	}
	return nil
}

func (s *SQLStore) Remove(ctx context.Context, key string) error {
	if key == "" {
		return ErrKeyEmpty
	}
	if _, err := s.db.ExecContext(ctx, deleteKV, s.key(key)); err != nil {
		return fmt.Errorf("postgres remove %s: %w", key, err)
	}
	return nil
}

func (s *SQLStore) Clear(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, deletePrefix, escapeLike(s.prefix)+"%"); err != nil {
		return fmt.Errorf("postgres clear: %w", err)
	}
	return nil
}

func (s *SQLStore) Close() error {
	return s.db.Close()
}

// likeEscaper quotes the LIKE wildcards with the ESCAPE character of deletePrefix.
var likeEscaper = strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)

func escapeLike(s string) string { return likeEscaper.Replace(s) }
