package store

import (
	"context"
	"database/sql"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
	_ "modernc.org/sqlite"
)

const sqliteSchema = `
CREATE TABLE IF NOT EXISTS kv (
	key        TEXT PRIMARY KEY,
	value      TEXT NOT NULL,
	expires_at INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_kv_expires ON kv(expires_at);
`

// SQLite is a durable Store backed by a single-file database.
//
// Expiry is enforced on read (expired rows are treated as absent) and a
// background sweeper deletes them so the file does not grow unbounded.
type SQLite struct {
	db *sql.DB

	sweepInterval time.Duration
	stopCh        chan struct{}
	stopOnce      sync.Once
}

// NewSQLite opens (creating if needed) the database at path and starts
// the expiry sweeper.
func NewSQLite(path string, sweepInterval time.Duration) (*SQLite, error) {
	db, err := sql.Open("sqlite", path+"?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)")
	if err != nil {
		return nil, fmt.Errorf("open sqlite store: %w", err)
	}
	// modernc.org/sqlite serializes writes per connection.
	db.SetMaxOpenConns(1)

	if _, err := db.Exec(sqliteSchema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("init sqlite store: %w", err)
	}

	if sweepInterval <= 0 {
		sweepInterval = 5 * time.Second
	}
	s := &SQLite{
		db:            db,
		sweepInterval: sweepInterval,
		stopCh:        make(chan struct{}),
	}
	go s.sweepLoop()
	return s, nil
}

func (s *SQLite) Get(ctx context.Context, key string) (string, bool, error) {
	var value string
	var expiresAt int64
	err := s.db.QueryRowContext(ctx,
		`SELECT value, expires_at FROM kv WHERE key = ?`, key,
	).Scan(&value, &expiresAt)
	if err == sql.ErrNoRows {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("store get %s: %w", key, err)
	}
	if time.Now().UnixMilli() > expiresAt {
		_, _ = s.db.ExecContext(ctx, `DELETE FROM kv WHERE key = ?`, key)
		return "", false, nil
	}
	return value, true, nil
}

func (s *SQLite) Set(ctx context.Context, key, value string, ttl time.Duration) error {
	expiresAt := time.Now().Add(ttl).UnixMilli()
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO kv (key, value, expires_at) VALUES (?, ?, ?)
		 ON CONFLICT(key) DO UPDATE SET value = excluded.value, expires_at = excluded.expires_at`,
		key, value, expiresAt)
	if err != nil {
		return fmt.Errorf("store set %s: %w", key, err)
	}
	return nil
}

func (s *SQLite) Incr(ctx context.Context, key string, ttl time.Duration) (int64, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("store incr %s: %w", key, err)
	}
	defer func() { _ = tx.Rollback() }()

	now := time.Now().UnixMilli()
	var value string
	var expiresAt int64
	err = tx.QueryRowContext(ctx,
		`SELECT value, expires_at FROM kv WHERE key = ?`, key,
	).Scan(&value, &expiresAt)

	var n int64
	switch {
	case err == sql.ErrNoRows || (err == nil && now > expiresAt):
		n = 1
		expiresAt = time.Now().Add(ttl).UnixMilli()
	case err != nil:
		return 0, fmt.Errorf("store incr %s: %w", key, err)
	default:
		n, _ = strconv.ParseInt(value, 10, 64)
		n++
	}

	_, err = tx.ExecContext(ctx,
		`INSERT INTO kv (key, value, expires_at) VALUES (?, ?, ?)
		 ON CONFLICT(key) DO UPDATE SET value = excluded.value, expires_at = excluded.expires_at`,
		key, strconv.FormatInt(n, 10), expiresAt)
	if err != nil {
		return 0, fmt.Errorf("store incr %s: %w", key, err)
	}
	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("store incr %s: %w", key, err)
	}
	return n, nil
}

// Close stops the sweeper and closes the database.
func (s *SQLite) Close() error {
	s.stopOnce.Do(func() { close(s.stopCh) })
	return s.db.Close()
}

func (s *SQLite) sweepLoop() {
	ticker := time.NewTicker(s.sweepInterval)
	defer ticker.Stop()
	for {
		select {
		case <-s.stopCh:
			return
		case <-ticker.C:
			res, err := s.db.Exec(`DELETE FROM kv WHERE expires_at < ?`, time.Now().UnixMilli())
			if err != nil {
				log.Warn().Err(err).Msg("store: sweep failed")
				continue
			}
			if n, _ := res.RowsAffected(); n > 0 {
				log.Debug().Int64("expired", n).Msg("store: swept expired keys")
			}
		}
	}
}
