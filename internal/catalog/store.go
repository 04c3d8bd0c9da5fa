package catalog

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"time"

	_ "modernc.org/sqlite" // pure-Go driver, registers as "sqlite"
)

const walJournalSizeLimit = 64 * 1024 * 1024

// Store is the SQLite-backed catalog: folders, file contents, bindings,
// chunks, and trash.
type Store struct {
	db     *sql.DB
	logger *slog.Logger
}

// Open opens (and, if necessary, creates and migrates) the catalog
// database at path. Use ":memory:" in tests.
func Open(ctx context.Context, path string, logger *slog.Logger) (*Store, error) {
	if logger == nil {
		logger = slog.Default()
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("catalog: opening %s: %w", path, err)
	}

	if err := setPragmas(ctx, db); err != nil {
		db.Close()
		return nil, err
	}

	if err := runMigrations(ctx, db, logger); err != nil {
		db.Close()
		return nil, err
	}

	if err := seedRoot(ctx, db); err != nil {
		db.Close()
		return nil, err
	}

	if err := seedTrashRoot(ctx, db); err != nil {
		db.Close()
		return nil, err
	}

	return &Store{db: db, logger: logger}, nil
}

func setPragmas(ctx context.Context, db *sql.DB) error {
	pragmas := []string{
		"PRAGMA journal_mode = WAL",
		"PRAGMA synchronous = FULL",
		"PRAGMA foreign_keys = ON",
		fmt.Sprintf("PRAGMA journal_size_limit = %d", walJournalSizeLimit),
	}

	for _, p := range pragmas {
		if _, err := db.ExecContext(ctx, p); err != nil {
			return fmt.Errorf("catalog: setting pragma %q: %w", p, err)
		}
	}

	return nil
}

func seedRoot(ctx context.Context, db *sql.DB) error {
	now := nowUnixNano()

	_, err := db.ExecContext(ctx,
		`INSERT INTO folders (id, parent_id, name, total_size, created_at, updated_at)
		 VALUES (?, NULL, '', 0, ?, ?)
		 ON CONFLICT(id) DO NOTHING`,
		RootFolderID, now, now,
	)
	if err != nil {
		return fmt.Errorf("catalog: seeding root folder: %w", err)
	}

	return nil
}

// seedTrashRoot idempotently creates the trash root folder, the second
// and only other folder with no parent. Everything soft-deleted lives
// under it until restored or permanently purged.
func seedTrashRoot(ctx context.Context, db *sql.DB) error {
	now := nowUnixNano()

	_, err := db.ExecContext(ctx,
		`INSERT INTO folders (id, parent_id, name, total_size, created_at, updated_at)
		 VALUES (?, NULL, '', 0, ?, ?)
		 ON CONFLICT(id) DO NOTHING`,
		TrashRootID, now, now,
	)
	if err != nil {
		return fmt.Errorf("catalog: seeding trash root folder: %w", err)
	}

	return nil
}

// Close closes the underlying database connection.
func (s *Store) Close() error {
	if err := s.db.Close(); err != nil {
		return fmt.Errorf("catalog: closing database: %w", err)
	}

	return nil
}

// Checkpoint forces a WAL checkpoint, consolidating the WAL into the main
// database file.
func (s *Store) Checkpoint(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, "PRAGMA wal_checkpoint(TRUNCATE)"); err != nil {
		return fmt.Errorf("catalog: wal checkpoint: %w", err)
	}

	return nil
}

// CurrentVersion returns the catalog's monotonic metadata version, which
// advances exactly once per mutating transaction.
func (s *Store) CurrentVersion(ctx context.Context) (int64, error) {
	var version int64

	err := s.db.QueryRowContext(ctx, `SELECT version FROM metadata_version WHERE id = 1`).Scan(&version)
	if err != nil {
		return 0, fmt.Errorf("catalog: reading metadata version: %w", err)
	}

	return version, nil
}

// bumpVersion advances the metadata version inside tx. Every exported
// mutating method must call this exactly once before committing.
func bumpVersion(ctx context.Context, tx *sql.Tx) error {
	if _, err := tx.ExecContext(ctx, `UPDATE metadata_version SET version = version + 1 WHERE id = 1`); err != nil {
		return fmt.Errorf("catalog: bumping metadata version: %w", err)
	}

	return nil
}

// TotalSize sums the size of every FileContent referenced by at least one
// Binding across the whole catalog (deduplicated: a content shared by two
// bindings counts once). This is the catalog-wide total on disk after
// dedup, distinct from a single Folder's TotalSize, which sums its own
// transitively contained Bindings without deduplication across folders.
func (s *Store) TotalSize(ctx context.Context) (int64, error) {
	var total sql.NullInt64

	err := s.db.QueryRowContext(ctx, `
		SELECT COALESCE(SUM(fc.size), 0)
		FROM file_contents fc
		WHERE EXISTS (SELECT 1 FROM bindings b WHERE b.content_id = fc.id)
	`).Scan(&total)
	if err != nil {
		return 0, fmt.Errorf("catalog: summing total size: %w", err)
	}

	return total.Int64, nil
}

func nowUnixNano() int64 {
	return time.Now().UnixNano()
}
