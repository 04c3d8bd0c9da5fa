package catalog

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
)

// FindContentByHash returns the FileContent for hash, or ErrNotFound if no
// content with that hash has ever been stored. Callers use this to decide
// whether an upload can take the dedup/instant-upload path.
func (s *Store) FindContentByHash(ctx context.Context, hash string) (*FileContent, error) {
	return scanContent(s.db.QueryRowContext(ctx, contentColumns+` FROM file_contents WHERE id = ?`, hash))
}

const contentColumns = `SELECT id, size, part_count, created_at`

func scanContent(row *sql.Row) (*FileContent, error) {
	c := &FileContent{}

	err := row.Scan(&c.ID, &c.Size, &c.PartCount, &c.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}

	if err != nil {
		return nil, fmt.Errorf("catalog: scanning file content: %w", err)
	}

	return c, nil
}

func getContentTx(ctx context.Context, tx *sql.Tx, id string) (*FileContent, error) {
	row := tx.QueryRowContext(ctx, contentColumns+` FROM file_contents WHERE id = ?`, id)

	c := &FileContent{}

	err := row.Scan(&c.ID, &c.Size, &c.PartCount, &c.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}

	if err != nil {
		return nil, fmt.Errorf("catalog: scanning file content %s: %w", id, err)
	}

	return c, nil
}

// createContentTx inserts a FileContent row if one does not already exist
// for hash, and is a no-op otherwise (the row is shared across bindings).
func createContentTx(ctx context.Context, tx *sql.Tx, hash string, size int64, partCount int) (*FileContent, error) {
	now := nowUnixNano()

	_, err := tx.ExecContext(ctx,
		`INSERT INTO file_contents (id, size, part_count, created_at) VALUES (?, ?, ?, ?)
		 ON CONFLICT(id) DO NOTHING`,
		hash, size, partCount, now,
	)
	if err != nil {
		return nil, fmt.Errorf("catalog: inserting file content %s: %w", hash, err)
	}

	content := &FileContent{}

	err = tx.QueryRowContext(ctx, contentColumns+` FROM file_contents WHERE id = ?`, hash).Scan(
		&content.ID, &content.Size, &content.PartCount, &content.CreatedAt,
	)
	if err != nil {
		return nil, fmt.Errorf("catalog: reading file content %s after insert: %w", hash, err)
	}

	return content, nil
}

// contentReferenced reports whether any binding still points at contentID,
// used to decide whether a deleted binding's remote chunks can be purged.
func contentReferenced(ctx context.Context, tx *sql.Tx, contentID string) (bool, error) {
	var count int

	err := tx.QueryRowContext(ctx, `SELECT COUNT(*) FROM bindings WHERE content_id = ?`, contentID).Scan(&count)
	if err != nil {
		return false, fmt.Errorf("catalog: counting bindings for content %s: %w", contentID, err)
	}

	return count > 0, nil
}
