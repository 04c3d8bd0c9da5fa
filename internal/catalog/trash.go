package catalog

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"path/filepath"
	"strings"

	"github.com/google/uuid"
)

// trashRetentionSeconds is how long a trash record remains restorable
// before ExpiredTrash picks it up for permanent deletion.
const trashRetentionSeconds = 30 * 24 * 60 * 60

// SoftDelete moves the folder or binding identified by id into the
// trash: it is reparented under TrashRootID and renamed to its own id to
// dodge the (parent, name) uniqueness constraint, while a TrashRecord
// preserves its original parent and name for Restore. total_size moves
// from the item's old ancestor chain to the trash root's chain.
//
// Trashing a folder is non-recursive at the row level: only the
// top-level folder is reparented and gets a TrashRecord. Its descendants
// stay nested exactly as they were, underneath it, and are restored as
// one unit along with it.
func (s *Store) SoftDelete(ctx context.Context, id string, isFolder bool) (*TrashRecord, error) {
	if isFolder && (id == RootFolderID || id == TrashRootID) {
		return nil, fmt.Errorf("catalog: cannot trash root folder")
	}

	var record *TrashRecord

	err := s.inTx(ctx, func(ctx context.Context, tx *sql.Tx) error {
		var (
			originalParentID string
			originalName     string
			size             int64
		)

		if isFolder {
			folder, err := getFolderTx(ctx, tx, id)
			if err != nil {
				return err
			}

			originalParentID = folder.ParentID
			originalName = folder.Name
			size = folder.TotalSize

			if _, err := tx.ExecContext(ctx, `UPDATE folders SET parent_id = ?, name = ?, updated_at = ? WHERE id = ?`,
				TrashRootID, id, nowUnixNano(), id); err != nil {
				return fmt.Errorf("catalog: trashing folder %s: %w", id, err)
			}
		} else {
			binding, err := getBindingTx(ctx, tx, id)
			if err != nil {
				return err
			}

			content, err := getContentTx(ctx, tx, binding.ContentID)
			if err != nil {
				return err
			}

			originalParentID = binding.FolderID
			originalName = binding.Name
			size = content.Size

			if _, err := tx.ExecContext(ctx, `UPDATE bindings SET folder_id = ?, name = ?, updated_at = ? WHERE id = ?`,
				TrashRootID, id, nowUnixNano(), id); err != nil {
				return fmt.Errorf("catalog: trashing binding %s: %w", id, err)
			}
		}

		if size != 0 {
			if err := adjustAncestorSizeTx(ctx, tx, originalParentID, -size); err != nil {
				return err
			}

			if err := adjustAncestorSizeTx(ctx, tx, TrashRootID, size); err != nil {
				return err
			}
		}

		now := nowUnixNano()
		record = &TrashRecord{
			ID:               uuid.NewString(),
			ItemID:           id,
			IsFolder:         isFolder,
			OriginalParentID: originalParentID,
			OriginalName:     originalName,
			DeletedAt:        now,
			ExpiresAt:        now + trashRetentionSeconds*1_000_000_000,
		}

		_, err := tx.ExecContext(ctx,
			`INSERT INTO trash_records (id, item_id, is_folder, original_parent_id, original_name, deleted_at, expires_at)
			 VALUES (?, ?, ?, ?, ?, ?, ?)`,
			record.ID, record.ItemID, boolToInt(record.IsFolder), record.OriginalParentID, record.OriginalName, record.DeletedAt, record.ExpiresAt,
		)
		if err != nil {
			return fmt.Errorf("catalog: recording trash entry for %s: %w", id, err)
		}

		return nil
	})

	return record, err
}

func boolToInt(b bool) int {
	if b {
		return 1
	}

	return 0
}

func listChildFoldersTx(ctx context.Context, tx *sql.Tx, folderID string) ([]*Folder, error) {
	rows, err := tx.QueryContext(ctx, folderColumns+` FROM folders WHERE parent_id = ?`, folderID)
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

func listFolderBindingsTx(ctx context.Context, tx *sql.Tx, folderID string) ([]*Binding, error) {
	rows, err := tx.QueryContext(ctx, bindingColumns+` FROM bindings WHERE folder_id = ?`, folderID)
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

const trashColumns = `SELECT id, item_id, is_folder, original_parent_id, original_name, deleted_at, expires_at`

func scanTrashRow(rows *sql.Rows) (*TrashRecord, error) {
	r := &TrashRecord{}

	var isFolder int

	err := rows.Scan(&r.ID, &r.ItemID, &isFolder, &r.OriginalParentID, &r.OriginalName, &r.DeletedAt, &r.ExpiresAt)
	if err != nil {
		return nil, fmt.Errorf("catalog: scanning trash row: %w", err)
	}

	r.IsFolder = isFolder == 1

	return r, nil
}

// ListTrash returns every trash record, most recently deleted first.
func (s *Store) ListTrash(ctx context.Context) ([]*TrashRecord, error) {
	rows, err := s.db.QueryContext(ctx, trashColumns+` FROM trash_records ORDER BY deleted_at DESC`)
	if err != nil {
		return nil, fmt.Errorf("catalog: listing trash: %w", err)
	}
	defer rows.Close()

	var records []*TrashRecord

	for rows.Next() {
		r, err := scanTrashRow(rows)
		if err != nil {
			return nil, err
		}

		records = append(records, r)
	}

	return records, rows.Err()
}

// ExpiredTrash returns trash records whose ExpiresAt is before now (unix
// nanoseconds), for a periodic sweeper to feed into permanent delete.
func (s *Store) ExpiredTrash(ctx context.Context, now int64) ([]*TrashRecord, error) {
	rows, err := s.db.QueryContext(ctx, trashColumns+` FROM trash_records WHERE expires_at < ?`, now)
	if err != nil {
		return nil, fmt.Errorf("catalog: listing expired trash: %w", err)
	}
	defer rows.Close()

	var records []*TrashRecord

	for rows.Next() {
		r, err := scanTrashRow(rows)
		if err != nil {
			return nil, err
		}

		records = append(records, r)
	}

	return records, rows.Err()
}

// PurgeTrash permanently removes a trash record row. Callers are
// responsible for permanently deleting the underlying folder/binding
// (via DeleteFolder/DeleteBinding) first.
func (s *Store) PurgeTrash(ctx context.Context, trashID string) error {
	return s.inTx(ctx, func(ctx context.Context, tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, `DELETE FROM trash_records WHERE id = ?`, trashID); err != nil {
			return fmt.Errorf("catalog: purging trash record %s: %w", trashID, err)
		}

		return nil
	})
}

// Restore moves a trashed folder or binding back out of the trash: to
// its original parent if that parent still exists, or to the
// user-visible root otherwise. If the original name now collides in the
// destination, the smallest-N " (N)" suffix that doesn't is appended,
// preserving the file extension for a restored binding.
func (s *Store) Restore(ctx context.Context, trashID string) error {
	return s.inTx(ctx, func(ctx context.Context, tx *sql.Tx) error {
		record, err := getTrashRecordTx(ctx, tx, trashID)
		if err != nil {
			return err
		}

		destParentID, err := restoreDestinationTx(ctx, tx, record.OriginalParentID)
		if err != nil {
			return err
		}

		var size int64

		if record.IsFolder {
			folder, err := getFolderTx(ctx, tx, record.ItemID)
			if err != nil {
				return err
			}

			size = folder.TotalSize

			finalName, err := findFreeFolderNameTx(ctx, tx, destParentID, record.OriginalName)
			if err != nil {
				return err
			}

			if _, err := tx.ExecContext(ctx, `UPDATE folders SET parent_id = ?, name = ?, updated_at = ? WHERE id = ?`,
				destParentID, finalName, nowUnixNano(), record.ItemID); err != nil {
				return fmt.Errorf("catalog: restoring folder %s: %w", record.ItemID, err)
			}
		} else {
			binding, err := getBindingTx(ctx, tx, record.ItemID)
			if err != nil {
				return err
			}

			content, err := getContentTx(ctx, tx, binding.ContentID)
			if err != nil {
				return err
			}

			size = content.Size

			finalName, err := findFreeBindingNameTx(ctx, tx, destParentID, record.OriginalName)
			if err != nil {
				return err
			}

			if _, err := tx.ExecContext(ctx, `UPDATE bindings SET folder_id = ?, name = ?, updated_at = ? WHERE id = ?`,
				destParentID, finalName, nowUnixNano(), record.ItemID); err != nil {
				return fmt.Errorf("catalog: restoring binding %s: %w", record.ItemID, err)
			}
		}

		if size != 0 {
			if err := adjustAncestorSizeTx(ctx, tx, TrashRootID, -size); err != nil {
				return err
			}

			if err := adjustAncestorSizeTx(ctx, tx, destParentID, size); err != nil {
				return err
			}
		}

		if _, err := tx.ExecContext(ctx, `DELETE FROM trash_records WHERE id = ?`, trashID); err != nil {
			return fmt.Errorf("catalog: removing trash record %s after restore: %w", trashID, err)
		}

		return nil
	})
}

// restoreDestinationTx returns originalParentID if it still exists, and
// RootFolderID (the user-visible root) otherwise.
func restoreDestinationTx(ctx context.Context, tx *sql.Tx, originalParentID string) (string, error) {
	_, err := getFolderTx(ctx, tx, originalParentID)
	if errors.Is(err, ErrNotFound) {
		return RootFolderID, nil
	}

	if err != nil {
		return "", err
	}

	return originalParentID, nil
}

func findFreeFolderNameTx(ctx context.Context, tx *sql.Tx, parentID, name string) (string, error) {
	candidate := name

	for n := 1; ; n++ {
		var count int

		err := tx.QueryRowContext(ctx, `SELECT COUNT(*) FROM folders WHERE parent_id = ? AND name = ?`, parentID, candidate).Scan(&count)
		if err != nil {
			return "", fmt.Errorf("catalog: checking folder name collision for %q: %w", candidate, err)
		}

		if count == 0 {
			return candidate, nil
		}

		candidate = fmt.Sprintf("%s (%d)", name, n)
	}
}

func findFreeBindingNameTx(ctx context.Context, tx *sql.Tx, folderID, name string) (string, error) {
	ext := filepath.Ext(name)
	base := strings.TrimSuffix(name, ext)
	candidate := name

	for n := 1; ; n++ {
		var count int

		err := tx.QueryRowContext(ctx, `SELECT COUNT(*) FROM bindings WHERE folder_id = ? AND name = ?`, folderID, candidate).Scan(&count)
		if err != nil {
			return "", fmt.Errorf("catalog: checking binding name collision for %q: %w", candidate, err)
		}

		if count == 0 {
			return candidate, nil
		}

		candidate = fmt.Sprintf("%s (%d)%s", base, n, ext)
	}
}

func getTrashRecordTx(ctx context.Context, tx *sql.Tx, id string) (*TrashRecord, error) {
	row := tx.QueryRowContext(ctx, trashColumns+` FROM trash_records WHERE id = ?`, id)

	r := &TrashRecord{}

	var isFolder int

	err := row.Scan(&r.ID, &r.ItemID, &isFolder, &r.OriginalParentID, &r.OriginalName, &r.DeletedAt, &r.ExpiresAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}

	if err != nil {
		return nil, fmt.Errorf("catalog: scanning trash record %s: %w", id, err)
	}

	r.IsFolder = isFolder == 1

	return r, nil
}
