// Package sqlite persists orders and portfolio snapshots in SQLite.
package sqlite

import (
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	_ "github.com/mattn/go-sqlite3"
)

// ErrNotFound is returned when a looked-up row does not exist.
var ErrNotFound = errors.New("not found")

// Store is the order journal and snapshot history. It uses a single
// connection so all writes are serialised.
type Store struct {
	db     *sql.DB
	now    func() time.Time
	logger *slog.Logger
}

// DB returns the underlying sql.DB for health checks.
func (s *Store) DB() *sql.DB { return s.db }

// Open opens (or creates) the database at path with WAL mode and schema,
// creating the parent directory if needed.
func Open(path string, logger *slog.Logger) (*Store, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("sqlite mkdir: %w", err)
		}
	}

	db, err := sql.Open("sqlite3", path+"?_journal_mode=WAL&_synchronous=NORMAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("sqlite open: %w", err)
	}

	// Set connection pool for single-writer
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	if err := createSchema(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("sqlite schema: %w", err)
	}

	s := &Store{db: db, now: time.Now, logger: logger.With(slog.String("component", "sqlite"))}
	s.logger.Info("opened database", slog.String("path", path))
	return s, nil
}

func createSchema(db *sql.DB) error {
	_, err := db.Exec(`
		CREATE TABLE IF NOT EXISTS orders (
			seq       INTEGER PRIMARY KEY AUTOINCREMENT,
			id        TEXT    NOT NULL UNIQUE,
			account   TEXT    NOT NULL,
			symbol    TEXT    NOT NULL,
			side      TEXT    NOT NULL,
			quantity  INTEGER NOT NULL,
			price     TEXT    NOT NULL,
			status    TEXT    NOT NULL,
			ts        INTEGER NOT NULL
		);
		CREATE INDEX IF NOT EXISTS idx_orders_account_ts ON orders (account, ts, seq);

		CREATE TABLE IF NOT EXISTS snapshots (
			id          INTEGER PRIMARY KEY AUTOINCREMENT,
			account     TEXT    NOT NULL,
			ts          INTEGER NOT NULL,
			total_value TEXT    NOT NULL,
			total_pnl   TEXT    NOT NULL,
			pnl_pct     TEXT    NOT NULL,
			cost_basis  TEXT    NOT NULL,
			holdings    INTEGER NOT NULL
		);
		CREATE INDEX IF NOT EXISTS idx_snapshots_account ON snapshots (account, id);
	`)
	return err
}

// Close closes the database.
func (s *Store) Close() error {
	return s.db.Close()
}
