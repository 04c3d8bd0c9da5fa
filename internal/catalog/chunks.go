package catalog

import (
	"context"
	"database/sql"
	"fmt"
)

// RecordChunk records (or overwrites, on an upload retry) the remote
// location of one part of contentID.
func (s *Store) RecordChunk(ctx context.Context, contentID string, partNum int, channelID, messageID string) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO chunks (content_id, part_num, channel_id, message_id) VALUES (?, ?, ?, ?)
		 ON CONFLICT(content_id, part_num) DO UPDATE SET channel_id = excluded.channel_id, message_id = excluded.message_id`,
		contentID, partNum, channelID, messageID,
	)
	if err != nil {
		return fmt.Errorf("catalog: recording chunk %s/%d: %w", contentID, partNum, err)
	}

	return nil
}

// ListChunks returns every recorded chunk of contentID, ordered by part
// number.
func (s *Store) ListChunks(ctx context.Context, contentID string) ([]*Chunk, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT content_id, part_num, channel_id, message_id FROM chunks WHERE content_id = ? ORDER BY part_num`,
		contentID,
	)
	if err != nil {
		return nil, fmt.Errorf("catalog: listing chunks of %s: %w", contentID, err)
	}
	defer rows.Close()

	var chunks []*Chunk

	for rows.Next() {
		c := &Chunk{}
		if err := rows.Scan(&c.ContentID, &c.PartNum, &c.ChannelID, &c.MessageID); err != nil {
			return nil, fmt.Errorf("catalog: scanning chunk row: %w", err)
		}

		chunks = append(chunks, c)
	}

	return chunks, rows.Err()
}

// DeleteChunks removes every recorded chunk row for contentID. Callers
// must delete the corresponding remote blobs first.
func (s *Store) DeleteChunks(ctx context.Context, contentID string) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM chunks WHERE content_id = ?`, contentID); err != nil {
		return fmt.Errorf("catalog: deleting chunks of %s: %w", contentID, err)
	}

	return nil
}

// purgeContentIfUnreferencedTx deletes contentID's chunks and its
// file_contents row if no binding references it any longer, returning the
// remote message ids of the chunks removed (nil if the content is still
// referenced elsewhere, so the caller has nothing to purge remotely).
func purgeContentIfUnreferencedTx(ctx context.Context, tx *sql.Tx, contentID string) ([]string, error) {
	referenced, err := contentReferenced(ctx, tx, contentID)
	if err != nil {
		return nil, err
	}

	if referenced {
		return nil, nil
	}

	rows, err := tx.QueryContext(ctx, `SELECT message_id FROM chunks WHERE content_id = ? ORDER BY part_num`, contentID)
	if err != nil {
		return nil, fmt.Errorf("catalog: listing chunks of %s: %w", contentID, err)
	}

	var messageIDs []string

	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			rows.Close()
			return nil, fmt.Errorf("catalog: scanning chunk message id: %w", err)
		}

		messageIDs = append(messageIDs, id)
	}

	if err := rows.Err(); err != nil {
		rows.Close()
		return nil, err
	}

	rows.Close()

	if _, err := tx.ExecContext(ctx, `DELETE FROM chunks WHERE content_id = ?`, contentID); err != nil {
		return nil, fmt.Errorf("catalog: deleting chunks of %s: %w", contentID, err)
	}

	if _, err := tx.ExecContext(ctx, `DELETE FROM file_contents WHERE id = ?`, contentID); err != nil {
		return nil, fmt.Errorf("catalog: deleting content %s: %w", contentID, err)
	}

	return messageIDs, nil
}

// DeleteContentIfUnreferenced removes the FileContent row for contentID
// if no binding references it. Returns true if the row was removed.
func (s *Store) DeleteContentIfUnreferenced(ctx context.Context, contentID string) (bool, error) {
	var removed bool

	err := s.inTx(ctx, func(ctx context.Context, tx *sql.Tx) error {
		referenced, err := contentReferenced(ctx, tx, contentID)
		if err != nil {
			return err
		}

		if referenced {
			return nil
		}

		if _, err := tx.ExecContext(ctx, `DELETE FROM file_contents WHERE id = ?`, contentID); err != nil {
			return fmt.Errorf("catalog: deleting unreferenced content %s: %w", contentID, err)
		}

		removed = true

		return nil
	})

	return removed, err
}
