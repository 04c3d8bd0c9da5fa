package catalog

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
)

// CreateFolder creates a new subfolder named name under parentID.
func (s *Store) CreateFolder(ctx context.Context, parentID, name string) (*Folder, error) {
	normalized, err := ValidateName(name)
	if err != nil {
		return nil, err
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("catalog: beginning create-folder tx: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck // rollback after commit is a no-op

	if _, err := getFolderTx(ctx, tx, parentID); err != nil {
		return nil, err
	}

	now := nowUnixNano()
	folder := &Folder{
		ID:        uuid.NewString(),
		ParentID:  parentID,
		Name:      normalized,
		CreatedAt: now,
		UpdatedAt: now,
	}

	_, err = tx.ExecContext(ctx,
		`INSERT INTO folders (id, parent_id, name, total_size, created_at, updated_at) VALUES (?, ?, ?, 0, ?, ?)`,
		folder.ID, folder.ParentID, folder.Name, folder.CreatedAt, folder.UpdatedAt,
	)
	if isUniqueViolation(err) {
		return nil, ErrAlreadyExists
	}

	if err != nil {
		return nil, fmt.Errorf("catalog: inserting folder: %w", err)
	}

	if err := bumpVersion(ctx, tx); err != nil {
		return nil, err
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("catalog: committing create-folder tx: %w", err)
	}

	return folder, nil
}

// GetFolder returns the folder identified by id.
func (s *Store) GetFolder(ctx context.Context, id string) (*Folder, error) {
	return scanFolder(s.db.QueryRowContext(ctx, folderColumns+` FROM folders WHERE id = ?`, id))
}

func getFolderTx(ctx context.Context, tx *sql.Tx, id string) (*Folder, error) {
	return scanFolder(tx.QueryRowContext(ctx, folderColumns+` FROM folders WHERE id = ?`, id))
}

const folderColumns = `SELECT id, COALESCE(parent_id, ''), name, total_size, created_at, updated_at`

func scanFolder(row *sql.Row) (*Folder, error) {
	f := &Folder{}

	err := row.Scan(&f.ID, &f.ParentID, &f.Name, &f.TotalSize, &f.CreatedAt, &f.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}

	if err != nil {
		return nil, fmt.Errorf("catalog: scanning folder: %w", err)
	}

	return f, nil
}

// ListChildFolders returns the immediate subfolders of folderID.
func (s *Store) ListChildFolders(ctx context.Context, folderID string) ([]*Folder, error) {
	rows, err := s.db.QueryContext(ctx, folderColumns+` FROM folders WHERE parent_id = ? ORDER BY name`, folderID)
	if err != nil {
		return nil, fmt.Errorf("catalog: listing child folders of %s: %w", folderID, err)
	}
	defer rows.Close()

	var folders []*Folder

	for rows.Next() {
		f := &Folder{}
		if err := rows.Scan(&f.ID, &f.ParentID, &f.Name, &f.TotalSize, &f.CreatedAt, &f.UpdatedAt); err != nil {
			return nil, fmt.Errorf("catalog: scanning child folder row: %w", err)
		}

		folders = append(folders, f)
	}

	return folders, rows.Err()
}

// RenameFolder renames folderID to newName within its current parent.
func (s *Store) RenameFolder(ctx context.Context, folderID, newName string) error {
	normalized, err := ValidateName(newName)
	if err != nil {
		return err
	}

	return s.inTx(ctx, func(ctx context.Context, tx *sql.Tx) error {
		if _, err := getFolderTx(ctx, tx, folderID); err != nil {
			return err
		}

		if folderID == RootFolderID || folderID == TrashRootID {
			return fmt.Errorf("catalog: cannot rename root folder")
		}

		_, err := tx.ExecContext(ctx, `UPDATE folders SET name = ?, updated_at = ? WHERE id = ?`,
			normalized, nowUnixNano(), folderID)
		if isUniqueViolation(err) {
			return ErrAlreadyExists
		}

		if err != nil {
			return fmt.Errorf("catalog: renaming folder %s: %w", folderID, err)
		}

		return nil
	})
}

// MoveFolder moves folderID to become a child of newParentID. Moving a
// folder into itself or into one of its own descendants is rejected.
// folderID's total_size does not change; it is transferred between the
// old and new ancestor chains.
func (s *Store) MoveFolder(ctx context.Context, folderID, newParentID string) error {
	if folderID == RootFolderID || folderID == TrashRootID {
		return fmt.Errorf("catalog: cannot move root folder")
	}

	return s.inTx(ctx, func(ctx context.Context, tx *sql.Tx) error {
		folder, err := getFolderTx(ctx, tx, folderID)
		if err != nil {
			return err
		}

		if _, err := getFolderTx(ctx, tx, newParentID); err != nil {
			return err
		}

		isDescendant, err := isDescendantTx(ctx, tx, newParentID, folderID)
		if err != nil {
			return err
		}

		if folderID == newParentID || isDescendant {
			return ErrCyclicMove
		}

		oldParentID := folder.ParentID

		_, err = tx.ExecContext(ctx, `UPDATE folders SET parent_id = ?, updated_at = ? WHERE id = ?`,
			newParentID, nowUnixNano(), folderID)
		if isUniqueViolation(err) {
			return ErrAlreadyExists
		}

		if err != nil {
			return fmt.Errorf("catalog: moving folder %s: %w", folderID, err)
		}

		if folder.TotalSize != 0 && oldParentID != newParentID {
			if err := adjustAncestorSizeTx(ctx, tx, oldParentID, -folder.TotalSize); err != nil {
				return err
			}

			if err := adjustAncestorSizeTx(ctx, tx, newParentID, folder.TotalSize); err != nil {
				return err
			}
		}

		return nil
	})
}

// isDescendantTx reports whether candidate is a descendant of ancestor
// (or equal to it), by walking up candidate's parent chain.
func isDescendantTx(ctx context.Context, tx *sql.Tx, candidate, ancestor string) (bool, error) {
	current := candidate

	for {
		if current == ancestor {
			return true, nil
		}

		if current == RootFolderID || current == TrashRootID {
			return false, nil
		}

		folder, err := getFolderTx(ctx, tx, current)
		if err != nil {
			return false, err
		}

		if folder.ParentID == "" {
			return false, nil
		}

		current = folder.ParentID
	}
}

// DeleteFolder permanently deletes folderID and everything beneath it:
// every descendant folder and binding, and any FileContent/Chunks that
// drop to zero references as a result. Returns the union of remote
// message ids orphaned by the deletion, for the caller to purge from the
// channel. To soft-delete instead, use SoftDelete.
func (s *Store) DeleteFolder(ctx context.Context, folderID string) ([]string, error) {
	if folderID == RootFolderID || folderID == TrashRootID {
		return nil, fmt.Errorf("catalog: cannot delete root folder")
	}

	var messageIDs []string

	err := s.inTx(ctx, func(ctx context.Context, tx *sql.Tx) error {
		folder, err := getFolderTx(ctx, tx, folderID)
		if err != nil {
			return err
		}

		// Iterative BFS: collect folderID and every descendant folder,
		// level by level, so arbitrarily deep trees never recurse on the
		// Go call stack.
		levels := [][]*Folder{{folder}}
		frontier := []string{folder.ID}

		for len(frontier) > 0 {
			var next []*Folder
			var nextIDs []string

			for _, id := range frontier {
				children, err := listChildFoldersTx(ctx, tx, id)
				if err != nil {
					return err
				}

				for _, c := range children {
					next = append(next, c)
					nextIDs = append(nextIDs, c.ID)
				}
			}

			if len(next) == 0 {
				break
			}

			levels = append(levels, next)
			frontier = nextIDs
		}

		for _, level := range levels {
			for _, f := range level {
				bindings, err := listFolderBindingsTx(ctx, tx, f.ID)
				if err != nil {
					return err
				}

				for _, b := range bindings {
					if _, err := tx.ExecContext(ctx, `DELETE FROM bindings WHERE id = ?`, b.ID); err != nil {
						return fmt.Errorf("catalog: deleting binding %s: %w", b.ID, err)
					}

					ids, err := purgeContentIfUnreferencedTx(ctx, tx, b.ContentID)
					if err != nil {
						return err
					}

					messageIDs = append(messageIDs, ids...)
				}
			}
		}

		// Delete the folders themselves leaves-first (reverse level
		// order) so the self-referential parent_id foreign key is never
		// violated mid-cascade.
		for i := len(levels) - 1; i >= 0; i-- {
			for _, f := range levels[i] {
				if _, err := tx.ExecContext(ctx, `DELETE FROM folders WHERE id = ?`, f.ID); err != nil {
					return fmt.Errorf("catalog: deleting folder %s: %w", f.ID, err)
				}
			}
		}

		if folder.TotalSize != 0 && folder.ParentID != "" {
			if err := adjustAncestorSizeTx(ctx, tx, folder.ParentID, -folder.TotalSize); err != nil {
				return err
			}
		}

		return nil
	})

	return messageIDs, err
}

func (s *Store) inTx(ctx context.Context, fn func(ctx context.Context, tx *sql.Tx) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("catalog: beginning tx: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck // rollback after commit is a no-op

	if err := fn(ctx, tx); err != nil {
		return err
	}

	if err := bumpVersion(ctx, tx); err != nil {
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("catalog: committing tx: %w", err)
	}

	return nil
}

func isUniqueViolation(err error) bool {
	return err != nil && strings.Contains(err.Error(), "UNIQUE constraint failed")
}
