package turso

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"errors"
	"fmt"
	"net"
	"strings"

	"github.com/emiliopalmerini/msplit/internal/adapters/turso/migrations"
	"github.com/emiliopalmerini/msplit/internal/domain"
	"github.com/emiliopalmerini/msplit/internal/migrate"
)

const streamRetries = 2

// Store implements ports.Store on four libSQL tables, one per value type.
type Store struct {
	db *sql.DB
}

// NewStore wraps an open database. The schema must already be migrated.
func NewStore(db *sql.DB) *Store {
	return &Store{db: db}
}

// OpenStore opens the database, applies pending migrations and returns the
// store.
func OpenStore(ctx context.Context, databaseURL, authToken string) (*Store, error) {
	db, err := Open(ctx, databaseURL, authToken)
	if err != nil {
		return nil, unavailable(err)
	}
	if _, err := Migrator(db).Up(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}
	return NewStore(db), nil
}

// Migrator returns a runner over the embedded store schema.
func Migrator(db *sql.DB) *migrate.Runner {
	return migrate.NewRunner(db, migrations.FS)
}

// DB exposes the underlying handle.
func (s *Store) DB() *sql.DB {
	return s.db
}

func (s *Store) Exists(ctx context.Context, key string) (bool, error) {
	return query(ctx, func() (bool, error) {
		var n int
		err := s.db.QueryRowContext(ctx, `
			SELECT
				EXISTS(SELECT 1 FROM kv_strings WHERE key = ?1) +
				EXISTS(SELECT 1 FROM kv_hashes WHERE key = ?1) +
				EXISTS(SELECT 1 FROM kv_sets WHERE key = ?1) +
				EXISTS(SELECT 1 FROM kv_lists WHERE key = ?1)
		`, key).Scan(&n)
		return n > 0, err
	}, "exists %s", key)
}

func (s *Store) Del(ctx context.Context, keys ...string) error {
	if len(keys) == 0 {
		return nil
	}
	return s.inTx(ctx, func(tx *sql.Tx) error {
		for _, k := range keys {
			for _, table := range []string{"kv_strings", "kv_hashes", "kv_sets", "kv_lists"} {
				if _, err := tx.ExecContext(ctx, "DELETE FROM "+table+" WHERE key = ?", k); err != nil {
					return err
				}
			}
		}
		return nil
	}, "del")
}

func (s *Store) Get(ctx context.Context, key string) (string, bool, error) {
	v, err := query(ctx, func() (sql.NullString, error) {
		var v sql.NullString
		err := s.db.QueryRowContext(ctx, `SELECT value FROM kv_strings WHERE key = ?`, key).Scan(&v)
		if errors.Is(err, sql.ErrNoRows) {
			return v, nil
		}
		return v, err
	}, "get %s", key)
	return v.String, v.Valid, err
}

func (s *Store) Incr(ctx context.Context, key string) (int64, error) {
	return query(ctx, func() (int64, error) {
		var n int64
		err := s.db.QueryRowContext(ctx, `
			INSERT INTO kv_strings (key, value) VALUES (?, '1')
			ON CONFLICT (key) DO UPDATE SET value = CAST(value AS INTEGER) + 1
			RETURNING CAST(value AS INTEGER)
		`, key).Scan(&n)
		return n, err
	}, "incr %s", key)
}

func (s *Store) HGet(ctx context.Context, key, field string) (string, bool, error) {
	v, err := query(ctx, func() (sql.NullString, error) {
		var v sql.NullString
		err := s.db.QueryRowContext(ctx, `SELECT value FROM kv_hashes WHERE key = ? AND field = ?`, key, field).Scan(&v)
		if errors.Is(err, sql.ErrNoRows) {
			return v, nil
		}
		return v, err
	}, "hget %s %s", key, field)
	return v.String, v.Valid, err
}

func (s *Store) HSet(ctx context.Context, key string, values map[string]string) error {
	if len(values) == 0 {
		return nil
	}
	return s.inTx(ctx, func(tx *sql.Tx) error {
		for f, v := range values {
			_, err := tx.ExecContext(ctx, `
				INSERT INTO kv_hashes (key, field, value) VALUES (?, ?, ?)
				ON CONFLICT (key, field) DO UPDATE SET value = excluded.value
			`, key, f, v)
			if err != nil {
				return err
			}
		}
		return nil
	}, "hset %s", key)
}

func (s *Store) HSetNX(ctx context.Context, key, field, value string) (bool, error) {
	return query(ctx, func() (bool, error) {
		res, err := s.db.ExecContext(ctx, `
			INSERT INTO kv_hashes (key, field, value) VALUES (?, ?, ?)
			ON CONFLICT (key, field) DO NOTHING
		`, key, field, value)
		if err != nil {
			return false, err
		}
		n, err := res.RowsAffected()
		return n == 1, err
	}, "hsetnx %s %s", key, field)
}

func (s *Store) HIncrBy(ctx context.Context, key, field string, n int64) (int64, error) {
	return query(ctx, func() (int64, error) {
		var total int64
		err := s.db.QueryRowContext(ctx, `
			INSERT INTO kv_hashes (key, field, value) VALUES (?1, ?2, CAST(?3 AS TEXT))
			ON CONFLICT (key, field) DO UPDATE SET value = CAST(value AS INTEGER) + ?3
			RETURNING CAST(value AS INTEGER)
		`, key, field, n).Scan(&total)
		return total, err
	}, "hincrby %s %s", key, field)
}

func (s *Store) HDel(ctx context.Context, key, field string) error {
	_, err := query(ctx, func() (sql.Result, error) {
		return s.db.ExecContext(ctx, `DELETE FROM kv_hashes WHERE key = ? AND field = ?`, key, field)
	}, "hdel %s %s", key, field)
	return err
}

func (s *Store) SAdd(ctx context.Context, key, member string) error {
	_, err := query(ctx, func() (sql.Result, error) {
		return s.db.ExecContext(ctx, `INSERT INTO kv_sets (key, member) VALUES (?, ?) ON CONFLICT DO NOTHING`, key, member)
	}, "sadd %s", key)
	return err
}

func (s *Store) SRem(ctx context.Context, key, member string) error {
	_, err := query(ctx, func() (sql.Result, error) {
		return s.db.ExecContext(ctx, `DELETE FROM kv_sets WHERE key = ? AND member = ?`, key, member)
	}, "srem %s", key)
	return err
}

func (s *Store) SMembers(ctx context.Context, key string) ([]string, error) {
	return query(ctx, func() ([]string, error) {
		return s.column(ctx, `SELECT member FROM kv_sets WHERE key = ? ORDER BY member`, key)
	}, "smembers %s", key)
}

func (s *Store) RPush(ctx context.Context, key string, values ...string) error {
	if len(values) == 0 {
		return nil
	}
	return s.inTx(ctx, func(tx *sql.Tx) error {
		var next int64
		if err := tx.QueryRowContext(ctx, `SELECT COALESCE(MAX(idx), -1) + 1 FROM kv_lists WHERE key = ?`, key).Scan(&next); err != nil {
			return err
		}
		for i, v := range values {
			if _, err := tx.ExecContext(ctx, `INSERT INTO kv_lists (key, idx, value) VALUES (?, ?, ?)`, key, next+int64(i), v); err != nil {
				return err
			}
		}
		return nil
	}, "rpush %s", key)
}

func (s *Store) LRange(ctx context.Context, key string) ([]string, error) {
	return query(ctx, func() ([]string, error) {
		return s.column(ctx, `SELECT value FROM kv_lists WHERE key = ? ORDER BY idx`, key)
	}, "lrange %s", key)
}

func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) column(ctx context.Context, q string, args ...any) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := []string{}
	for rows.Next() {
		var v string
		if err := rows.Scan(&v); err != nil {
			return nil, err
		}
		out = append(out, v)
	}
	return out, rows.Err()
}

func (s *Store) inTx(ctx context.Context, fn func(tx *sql.Tx) error, format string, args ...any) error {
	_, err := query(ctx, func() (struct{}, error) {
		tx, err := s.db.BeginTx(ctx, nil)
		if err != nil {
			return struct{}{}, err
		}
		if err := fn(tx); err != nil {
			tx.Rollback()
			return struct{}{}, err
		}
		return struct{}{}, tx.Commit()
	}, format, args...)
	return err
}

// query runs fn with stream-error retries and classifies its failure.
func query[T any](ctx context.Context, fn func() (T, error), format string, args ...any) (T, error) {
	v, err := withRetry(ctx, streamRetries, fn)
	if err != nil {
		return v, fmt.Errorf("%s: %w", fmt.Sprintf(format, args...), unavailable(err))
	}
	return v, nil
}

// unavailable marks connection-level failures with domain.ErrStoreUnavailable
// and leaves SQL errors untouched.
func unavailable(err error) error {
	var netErr net.Error
	switch {
	case errors.Is(err, driver.ErrBadConn),
		errors.Is(err, sql.ErrConnDone),
		errors.Is(err, context.DeadlineExceeded),
		errors.As(err, &netErr),
		IsStreamError(err),
		strings.Contains(err.Error(), "database is closed"):
		return fmt.Errorf("%w: %w", domain.ErrStoreUnavailable, err)
	}
	return err
}
