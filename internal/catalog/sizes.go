package catalog

import (
	"context"
	"database/sql"
	"fmt"
)

// adjustAncestorSizeTx adds delta to folderID's total_size and to every
// ancestor's total_size up to and including whichever root folderID's
// chain terminates at. The walk is an iterative loop over parent_id, not
// recursion on the Go call stack, so it tolerates arbitrarily deep trees.
func adjustAncestorSizeTx(ctx context.Context, tx *sql.Tx, folderID string, delta int64) error {
	if delta == 0 || folderID == "" {
		return nil
	}

	current := folderID

	for current != "" {
		if _, err := tx.ExecContext(ctx, `UPDATE folders SET total_size = total_size + ? WHERE id = ?`, delta, current); err != nil {
			return fmt.Errorf("catalog: adjusting total_size of %s: %w", current, err)
		}

		var parentID sql.NullString

		err := tx.QueryRowContext(ctx, `SELECT parent_id FROM folders WHERE id = ?`, current).Scan(&parentID)
		if err != nil {
			return fmt.Errorf("catalog: reading parent of %s: %w", current, err)
		}

		current = parentID.String
	}

	return nil
}
