package catalog

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/google/uuid"
)

// CreateBinding creates a new content-addressed file named name in
// folderID. If size/partCount describe a hash already present in the
// catalog (a dedup hit), no new FileContent row is created and the
// caller should skip the upload entirely.
func (s *Store) CreateBinding(ctx context.Context, folderID, name, contentHash string, size int64, partCount int) (*Binding, error) {
	normalized, err := ValidateName(name)
	if err != nil {
		return nil, err
	}

	var binding *Binding

	txErr := s.inTx(ctx, func(ctx context.Context, tx *sql.Tx) error {
		if _, err := getFolderTx(ctx, tx, folderID); err != nil {
			return err
		}

		content, err := createContentTx(ctx, tx, contentHash, size, partCount)
		if err != nil {
			return err
		}

		now := nowUnixNano()
		binding = &Binding{
			ID:        uuid.NewString(),
			FolderID:  folderID,
			Name:      normalized,
			ContentID: content.ID,
			CreatedAt: now,
			UpdatedAt: now,
		}

		_, err = tx.ExecContext(ctx,
			`INSERT INTO bindings (id, folder_id, name, content_id, created_at, updated_at) VALUES (?, ?, ?, ?, ?, ?)`,
			binding.ID, binding.FolderID, binding.Name, binding.ContentID, binding.CreatedAt, binding.UpdatedAt,
		)
		if isUniqueViolation(err) {
			return ErrAlreadyExists
		}

		if err != nil {
			return fmt.Errorf("catalog: inserting binding: %w", err)
		}

		return adjustAncestorSizeTx(ctx, tx, folderID, content.Size)
	})
	if txErr != nil {
		return nil, txErr
	}

	return binding, nil
}

const bindingColumns = `SELECT id, folder_id, name, content_id, created_at, updated_at`

// GetBinding returns the binding identified by id.
func (s *Store) GetBinding(ctx context.Context, id string) (*Binding, error) {
	return scanBinding(s.db.QueryRowContext(ctx, bindingColumns+` FROM bindings WHERE id = ?`, id))
}

func getBindingTx(ctx context.Context, tx *sql.Tx, id string) (*Binding, error) {
	return scanBinding(tx.QueryRowContext(ctx, bindingColumns+` FROM bindings WHERE id = ?`, id))
}

func scanBinding(row *sql.Row) (*Binding, error) {
	b := &Binding{}

	err := row.Scan(&b.ID, &b.FolderID, &b.Name, &b.ContentID, &b.CreatedAt, &b.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}

	if err != nil {
		return nil, fmt.Errorf("catalog: scanning binding: %w", err)
	}

	return b, nil
}

// ListFolderBindings returns every binding directly inside folderID.
func (s *Store) ListFolderBindings(ctx context.Context, folderID string) ([]*Binding, error) {
	rows, err := s.db.QueryContext(ctx, bindingColumns+` FROM bindings WHERE folder_id = ? ORDER BY name`, folderID)
	if err != nil {
		return nil, fmt.Errorf("catalog: listing bindings of %s: %w", folderID, err)
	}
	defer rows.Close()

	var bindings []*Binding

	for rows.Next() {
		b := &Binding{}
		if err := rows.Scan(&b.ID, &b.FolderID, &b.Name, &b.ContentID, &b.CreatedAt, &b.UpdatedAt); err != nil {
			return nil, fmt.Errorf("catalog: scanning binding row: %w", err)
		}

		bindings = append(bindings, b)
	}

	return bindings, rows.Err()
}

// RenameBinding renames bindingID within its current folder.
func (s *Store) RenameBinding(ctx context.Context, bindingID, newName string) error {
	normalized, err := ValidateName(newName)
	if err != nil {
		return err
	}

	return s.inTx(ctx, func(ctx context.Context, tx *sql.Tx) error {
		if _, err := getBindingTx(ctx, tx, bindingID); err != nil {
			return err
		}

		_, err := tx.ExecContext(ctx, `UPDATE bindings SET name = ?, updated_at = ? WHERE id = ?`,
			normalized, nowUnixNano(), bindingID)
		if isUniqueViolation(err) {
			return ErrAlreadyExists
		}

		if err != nil {
			return fmt.Errorf("catalog: renaming binding %s: %w", bindingID, err)
		}

		return nil
	})
}

// MoveBinding moves bindingID into newFolderID, transferring its
// content's size from the old folder's ancestor chain to the new one.
func (s *Store) MoveBinding(ctx context.Context, bindingID, newFolderID string) error {
	return s.inTx(ctx, func(ctx context.Context, tx *sql.Tx) error {
		binding, err := getBindingTx(ctx, tx, bindingID)
		if err != nil {
			return err
		}

		if _, err := getFolderTx(ctx, tx, newFolderID); err != nil {
			return err
		}

		if binding.FolderID == newFolderID {
			return nil
		}

		content, err := getContentTx(ctx, tx, binding.ContentID)
		if err != nil {
			return err
		}

		_, err = tx.ExecContext(ctx, `UPDATE bindings SET folder_id = ?, updated_at = ? WHERE id = ?`,
			newFolderID, nowUnixNano(), bindingID)
		if isUniqueViolation(err) {
			return ErrAlreadyExists
		}

		if err != nil {
			return fmt.Errorf("catalog: moving binding %s: %w", bindingID, err)
		}

		if err := adjustAncestorSizeTx(ctx, tx, binding.FolderID, -content.Size); err != nil {
			return err
		}

		return adjustAncestorSizeTx(ctx, tx, newFolderID, content.Size)
	})
}

// DeleteBinding permanently deletes bindingID. If no other binding still
// references its content, the content's chunks and file_contents row are
// deleted too. Returns the remote message ids orphaned by the deletion
// (empty if the content is still referenced elsewhere), for the caller to
// purge from the channel. To soft-delete instead, use SoftDelete.
func (s *Store) DeleteBinding(ctx context.Context, bindingID string) ([]string, error) {
	var messageIDs []string

	err := s.inTx(ctx, func(ctx context.Context, tx *sql.Tx) error {
		binding, err := getBindingTx(ctx, tx, bindingID)
		if err != nil {
			return err
		}

		content, err := getContentTx(ctx, tx, binding.ContentID)
		if err != nil {
			return err
		}

		if _, err := tx.ExecContext(ctx, `DELETE FROM bindings WHERE id = ?`, bindingID); err != nil {
			return fmt.Errorf("catalog: deleting binding %s: %w", bindingID, err)
		}

		if err := adjustAncestorSizeTx(ctx, tx, binding.FolderID, -content.Size); err != nil {
			return err
		}

		ids, err := purgeContentIfUnreferencedTx(ctx, tx, binding.ContentID)
		if err != nil {
			return err
		}

		messageIDs = ids

		return nil
	})

	return messageIDs, err
}
