// sqlite.go implements Store on a local SQLite database for single-node
// deployments that want durability without a Redis server. Expiry is an
// expires_at column checked on read and pruned by the Sweeper.
package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "github.com/mattn/go-sqlite3"
)

// SQLiteStore is a Store backed by a local SQLite file.
type SQLiteStore struct {
	db *sql.DB

	// now is swappable in tests.
	now func() time.Time
}

// NewSQLiteStore opens (creating if needed) the database at path and
// ensures the kv table exists.
func NewSQLiteStore(path string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite3", path+"?_busy_timeout=5000&_journal_mode=WAL")
	if err != nil {
		return nil, fmt.Errorf("opening sqlite db: %w", err)
	}

	// Serialized access: the kv workload is tiny and SQLite writes lock
	// the whole database anyway.
	db.SetMaxOpenConns(1)

	if _, err := db.Exec(`
		CREATE TABLE IF NOT EXISTS kv (
			partition  TEXT NOT NULL,
			sort       TEXT NOT NULL,
			value      BLOB NOT NULL,
			expires_at INTEGER,
			PRIMARY KEY (partition, sort)
		)`); err != nil {
		db.Close()
		return nil, fmt.Errorf("creating kv table: %w", err)
	}

	return &SQLiteStore{db: db, now: time.Now}, nil
}

func (s *SQLiteStore) Get(ctx context.Context, key Key) ([]byte, bool, error) {
	var (
		value     []byte
		expiresAt sql.NullInt64
	)
	err := s.db.QueryRowContext(ctx,
		"SELECT value, expires_at FROM kv WHERE partition = ? AND sort = ?",
		key.Partition, key.Sort,
	).Scan(&value, &expiresAt)
	if err == sql.ErrNoRows {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("sqlite get: %w", err)
	}

	if s.expired(expiresAt) {
		_ = s.Delete(ctx, key)
		return nil, false, nil
	}
	return value, true, nil
}

func (s *SQLiteStore) Put(ctx context.Context, key Key, value []byte, ttl time.Duration) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT OR REPLACE INTO kv (partition, sort, value, expires_at)
		VALUES (?, ?, ?, ?)`,
		key.Partition, key.Sort, value, s.expiryUnix(ttl),
	)
	if err != nil {
		return fmt.Errorf("sqlite put: %w", err)
	}
	return nil
}

func (s *SQLiteStore) Delete(ctx context.Context, key Key) error {
	_, err := s.db.ExecContext(ctx,
		"DELETE FROM kv WHERE partition = ? AND sort = ?",
		key.Partition, key.Sort,
	)
	if err != nil {
		return fmt.Errorf("sqlite delete: %w", err)
	}
	return nil
}

func (s *SQLiteStore) Update(ctx context.Context, key Key, fn UpdateFunc) error {
	old, found, err := s.Get(ctx, key)
	if err != nil {
		return err
	}

	next, ttl, err := fn(old, found)
	if err != nil {
		return err
	}
	if next == nil {
		return s.Delete(ctx, key)
	}
	return s.Put(ctx, key, next, ttl)
}

// Consume deletes the row and returns its former value in one statement,
// so two concurrent consumers cannot both see it.
func (s *SQLiteStore) Consume(ctx context.Context, key Key) ([]byte, bool, error) {
	var (
		value     []byte
		expiresAt sql.NullInt64
	)
	err := s.db.QueryRowContext(ctx, `
		DELETE FROM kv WHERE partition = ? AND sort = ?
		RETURNING value, expires_at`,
		key.Partition, key.Sort,
	).Scan(&value, &expiresAt)
	if err == sql.ErrNoRows {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("sqlite consume: %w", err)
	}

	if s.expired(expiresAt) {
		return nil, false, nil
	}
	return value, true, nil
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// SweepExpired prunes rows whose expires_at has passed.
func (s *SQLiteStore) SweepExpired(ctx context.Context) (int, error) {
	res, err := s.db.ExecContext(ctx,
		"DELETE FROM kv WHERE expires_at IS NOT NULL AND expires_at <= ?",
		s.now().Unix(),
	)
	if err != nil {
		return 0, fmt.Errorf("sqlite sweep: %w", err)
	}
	n, _ := res.RowsAffected()
	return int(n), nil
}

func (s *SQLiteStore) expiryUnix(ttl time.Duration) sql.NullInt64 {
	if ttl <= 0 {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: s.now().Add(ttl).Unix(), Valid: true}
}

func (s *SQLiteStore) expired(expiresAt sql.NullInt64) bool {
	return expiresAt.Valid && expiresAt.Int64 <= s.now().Unix()
}
