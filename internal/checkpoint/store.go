package checkpoint

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"time"

	_ "modernc.org/sqlite" // pure-Go driver, registers as "sqlite"
)

const walJournalSizeLimit = 64 * 1024 * 1024

// trafficCoalesceBytes is how much upload/download traffic accumulates
// locally before RecordTrafficBytes flushes a write to the database,
// keeping the hot progress-reporting path off the disk.
const trafficCoalesceBytes = 512 * 1024

// Store is the SQLite-backed transfer checkpoint ledger.
type Store struct {
	db      *sql.DB
	logger  *slog.Logger
	traffic trafficAccumulator
}

// Open opens (and, if necessary, creates and migrates) the checkpoint
// database at path. Use ":memory:" in tests.
func Open(ctx context.Context, path string, logger *slog.Logger) (*Store, error) {
	if logger == nil {
		logger = slog.Default()
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("checkpoint: opening %s: %w", path, err)
	}

	if err := setPragmas(ctx, db); err != nil {
		db.Close()
		return nil, err
	}

	if err := runMigrations(ctx, db, logger); err != nil {
		db.Close()
		return nil, err
	}

	return &Store{db: db, logger: logger}, nil
}

func setPragmas(ctx context.Context, db *sql.DB) error {
	pragmas := []string{
		"PRAGMA journal_mode = WAL",
		"PRAGMA synchronous = NORMAL",
		"PRAGMA foreign_keys = ON",
		fmt.Sprintf("PRAGMA journal_size_limit = %d", walJournalSizeLimit),
	}

	for _, p := range pragmas {
		if _, err := db.ExecContext(ctx, p); err != nil {
			return fmt.Errorf("checkpoint: setting pragma %q: %w", p, err)
		}
	}

	return nil
}

// Close closes the underlying database connection.
func (s *Store) Close() error {
	if err := s.db.Close(); err != nil {
		return fmt.Errorf("checkpoint: closing database: %w", err)
	}

	return nil
}

func nowUnixNano() int64 {
	return time.Now().UnixNano()
}
