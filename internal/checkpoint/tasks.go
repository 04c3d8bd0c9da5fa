package checkpoint

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/google/uuid"
)

// CreateMainTask creates a new top-level transfer task in StatusQueued.
func (s *Store) CreateMainTask(ctx context.Context, kind Kind, rootPath, folderID string) (*MainTask, error) {
	now := nowUnixNano()

	task := &MainTask{
		ID:        uuid.NewString(),
		Kind:      kind,
		RootPath:  rootPath,
		FolderID:  folderID,
		Status:    StatusQueued,
		CreatedAt: now,
		UpdatedAt: now,
	}

	_, err := s.db.ExecContext(ctx,
		`INSERT INTO main_tasks (id, kind, root_path, folder_id, status, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		task.ID, string(task.Kind), task.RootPath, task.FolderID, string(task.Status), task.CreatedAt, task.UpdatedAt,
	)
	if err != nil {
		return nil, fmt.Errorf("checkpoint: creating main task: %w", err)
	}

	return task, nil
}

const mainTaskColumns = `SELECT id, kind, root_path, folder_id, status, created_at, updated_at`

func scanMainTask(row *sql.Row) (*MainTask, error) {
	t := &MainTask{}

	var kind, status string

	err := row.Scan(&t.ID, &kind, &t.RootPath, &t.FolderID, &status, &t.CreatedAt, &t.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}

	if err != nil {
		return nil, fmt.Errorf("checkpoint: scanning main task: %w", err)
	}

	t.Kind = Kind(kind)
	t.Status = Status(status)

	return t, nil
}

// GetMainTask returns the main task identified by id.
func (s *Store) GetMainTask(ctx context.Context, id string) (*MainTask, error) {
	return scanMainTask(s.db.QueryRowContext(ctx, mainTaskColumns+` FROM main_tasks WHERE id = ?`, id))
}

// ListMainTasksByStatus returns every main task in the given status.
func (s *Store) ListMainTasksByStatus(ctx context.Context, status Status) ([]*MainTask, error) {
	rows, err := s.db.QueryContext(ctx, mainTaskColumns+` FROM main_tasks WHERE status = ? ORDER BY created_at`, string(status))
	if err != nil {
		return nil, fmt.Errorf("checkpoint: listing main tasks by status %s: %w", status, err)
	}
	defer rows.Close()

	var tasks []*MainTask

	for rows.Next() {
		t := &MainTask{}

		var kind, st string
		if err := rows.Scan(&t.ID, &kind, &t.RootPath, &t.FolderID, &st, &t.CreatedAt, &t.UpdatedAt); err != nil {
			return nil, fmt.Errorf("checkpoint: scanning main task row: %w", err)
		}

		t.Kind = Kind(kind)
		t.Status = Status(st)
		tasks = append(tasks, t)
	}

	return tasks, rows.Err()
}

// UpdateMainTaskStatus updates a main task's status.
func (s *Store) UpdateMainTaskStatus(ctx context.Context, id string, status Status) error {
	res, err := s.db.ExecContext(ctx, `UPDATE main_tasks SET status = ?, updated_at = ? WHERE id = ?`,
		string(status), nowUnixNano(), id)
	if err != nil {
		return fmt.Errorf("checkpoint: updating main task %s status: %w", id, err)
	}

	return requireRowsAffected(res, id)
}

// CreateSubTask creates a file-level sub-task under mainTaskID.
func (s *Store) CreateSubTask(ctx context.Context, mainTaskID, localPath, remoteName, folderID, contentID string, size int64) (*SubTask, error) {
	now := nowUnixNano()

	sub := &SubTask{
		ID:         uuid.NewString(),
		MainTaskID: mainTaskID,
		LocalPath:  localPath,
		RemoteName: remoteName,
		FolderID:   folderID,
		ContentID:  contentID,
		Size:       size,
		Status:     StatusQueued,
		CreatedAt:  now,
		UpdatedAt:  now,
	}

	_, err := s.db.ExecContext(ctx,
		`INSERT INTO sub_tasks (id, main_task_id, local_path, remote_name, folder_id, content_id, size, status, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		sub.ID, sub.MainTaskID, sub.LocalPath, sub.RemoteName, sub.FolderID, sub.ContentID, sub.Size, string(sub.Status), sub.CreatedAt, sub.UpdatedAt,
	)
	if err != nil {
		return nil, fmt.Errorf("checkpoint: creating sub task: %w", err)
	}

	return sub, nil
}

const subTaskColumns = `SELECT id, main_task_id, local_path, remote_name, folder_id, content_id, size, status, created_at, updated_at`

func scanSubTaskRow(rows *sql.Rows) (*SubTask, error) {
	t := &SubTask{}

	var status string

	err := rows.Scan(&t.ID, &t.MainTaskID, &t.LocalPath, &t.RemoteName, &t.FolderID, &t.ContentID, &t.Size, &status, &t.CreatedAt, &t.UpdatedAt)
	if err != nil {
		return nil, fmt.Errorf("checkpoint: scanning sub task row: %w", err)
	}

	t.Status = Status(status)

	return t, nil
}

// ListSubTasks returns every sub-task under mainTaskID.
func (s *Store) ListSubTasks(ctx context.Context, mainTaskID string) ([]*SubTask, error) {
	rows, err := s.db.QueryContext(ctx, subTaskColumns+` FROM sub_tasks WHERE main_task_id = ? ORDER BY created_at`, mainTaskID)
	if err != nil {
		return nil, fmt.Errorf("checkpoint: listing sub tasks of %s: %w", mainTaskID, err)
	}
	defer rows.Close()

	var tasks []*SubTask

	for rows.Next() {
		t, err := scanSubTaskRow(rows)
		if err != nil {
			return nil, err
		}

		tasks = append(tasks, t)
	}

	return tasks, rows.Err()
}

// UpdateSubTaskStatus updates a sub-task's status.
func (s *Store) UpdateSubTaskStatus(ctx context.Context, id string, status Status) error {
	res, err := s.db.ExecContext(ctx, `UPDATE sub_tasks SET status = ?, updated_at = ? WHERE id = ?`,
		string(status), nowUnixNano(), id)
	if err != nil {
		return fmt.Errorf("checkpoint: updating sub task %s status: %w", id, err)
	}

	return requireRowsAffected(res, id)
}

// RecordProgressPart marks partNum of subTaskID complete. Safe to call
// twice for the same part (e.g. after a crash mid-commit).
func (s *Store) RecordProgressPart(ctx context.Context, subTaskID string, partNum int) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO progress_parts (sub_task_id, part_num, completed_at) VALUES (?, ?, ?)
		 ON CONFLICT(sub_task_id, part_num) DO NOTHING`,
		subTaskID, partNum, nowUnixNano(),
	)
	if err != nil {
		return fmt.Errorf("checkpoint: recording progress part %s/%d: %w", subTaskID, partNum, err)
	}

	return nil
}

// ListCompletedParts returns the set of part numbers already confirmed
// complete for subTaskID, for resume.
func (s *Store) ListCompletedParts(ctx context.Context, subTaskID string) (map[int]bool, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT part_num FROM progress_parts WHERE sub_task_id = ?`, subTaskID)
	if err != nil {
		return nil, fmt.Errorf("checkpoint: listing completed parts of %s: %w", subTaskID, err)
	}
	defer rows.Close()

	completed := make(map[int]bool)

	for rows.Next() {
		var partNum int
		if err := rows.Scan(&partNum); err != nil {
			return nil, fmt.Errorf("checkpoint: scanning progress part row: %w", err)
		}

		completed[partNum] = true
	}

	return completed, rows.Err()
}

// ReadTask returns the denormalized view of mainTaskID: the task, its
// sub-tasks, and each sub-task's completed parts.
func (s *Store) ReadTask(ctx context.Context, mainTaskID string) (*Task, error) {
	main, err := s.GetMainTask(ctx, mainTaskID)
	if err != nil {
		return nil, err
	}

	subTasks, err := s.ListSubTasks(ctx, mainTaskID)
	if err != nil {
		return nil, err
	}

	progress := make([]*SubTaskProgress, 0, len(subTasks))

	for _, sub := range subTasks {
		completed, err := s.ListCompletedParts(ctx, sub.ID)
		if err != nil {
			return nil, err
		}

		progress = append(progress, &SubTaskProgress{SubTask: sub, CompletedParts: completed})
	}

	return &Task{Main: main, SubTasks: progress}, nil
}

// RemoveTask deletes a main task and everything under it: sub-tasks,
// progress parts, and created-artifact records.
func (s *Store) RemoveTask(ctx context.Context, mainTaskID string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("checkpoint: beginning remove-task tx: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck // rollback after commit is a no-op

	subTaskIDs, err := subTaskIDsTx(ctx, tx, mainTaskID)
	if err != nil {
		return err
	}

	for _, id := range subTaskIDs {
		if _, err := tx.ExecContext(ctx, `DELETE FROM progress_parts WHERE sub_task_id = ?`, id); err != nil {
			return fmt.Errorf("checkpoint: deleting progress parts of %s: %w", id, err)
		}
	}

	if _, err := tx.ExecContext(ctx, `DELETE FROM sub_tasks WHERE main_task_id = ?`, mainTaskID); err != nil {
		return fmt.Errorf("checkpoint: deleting sub tasks of %s: %w", mainTaskID, err)
	}

	if _, err := tx.ExecContext(ctx, `DELETE FROM created_artifacts WHERE main_task_id = ?`, mainTaskID); err != nil {
		return fmt.Errorf("checkpoint: deleting artifacts of %s: %w", mainTaskID, err)
	}

	if _, err := tx.ExecContext(ctx, `DELETE FROM main_tasks WHERE id = ?`, mainTaskID); err != nil {
		return fmt.Errorf("checkpoint: deleting main task %s: %w", mainTaskID, err)
	}

	return tx.Commit()
}

func subTaskIDsTx(ctx context.Context, tx *sql.Tx, mainTaskID string) ([]string, error) {
	rows, err := tx.QueryContext(ctx, `SELECT id FROM sub_tasks WHERE main_task_id = ?`, mainTaskID)
	if err != nil {
		return nil, fmt.Errorf("checkpoint: listing sub task ids of %s: %w", mainTaskID, err)
	}
	defer rows.Close()

	var ids []string

	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("checkpoint: scanning sub task id: %w", err)
		}

		ids = append(ids, id)
	}

	return ids, rows.Err()
}

// ResetZombieTasks transitions every main and sub task still marked
// StatusTransferring back to StatusQueued, and reports the ids of the
// main tasks it reset. Call once at startup: a task left "transferring"
// can only mean the previous process died mid-copy. The caller uses the
// returned ids to decide which tasks, if any, to auto-resume — every
// other pre-existing StatusQueued task is left alone.
func (s *Store) ResetZombieTasks(ctx context.Context) ([]string, error) {
	now := nowUnixNano()

	rows, err := s.db.QueryContext(ctx, `SELECT id FROM main_tasks WHERE status = ?`, string(StatusTransferring))
	if err != nil {
		return nil, fmt.Errorf("checkpoint: finding zombie main tasks: %w", err)
	}

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			rows.Close()
			return nil, fmt.Errorf("checkpoint: scanning zombie main task id: %w", err)
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		rows.Close()
		return nil, fmt.Errorf("checkpoint: iterating zombie main tasks: %w", err)
	}
	rows.Close()

	if _, err := s.db.ExecContext(ctx, `UPDATE main_tasks SET status = ?, updated_at = ? WHERE status = ?`,
		string(StatusQueued), now, string(StatusTransferring)); err != nil {
		return nil, fmt.Errorf("checkpoint: resetting zombie main tasks: %w", err)
	}

	if _, err := s.db.ExecContext(ctx, `UPDATE sub_tasks SET status = ?, updated_at = ? WHERE status = ?`,
		string(StatusQueued), now, string(StatusTransferring)); err != nil {
		return nil, fmt.Errorf("checkpoint: resetting zombie sub tasks: %w", err)
	}

	return ids, nil
}

// RecordArtifact remembers a filesystem path created on behalf of
// mainTaskID (a new local file, a new folder), so pause/cancel can clean
// up partial work.
func (s *Store) RecordArtifact(ctx context.Context, mainTaskID, path string) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO created_artifacts (id, main_task_id, path, created_at) VALUES (?, ?, ?, ?)`,
		uuid.NewString(), mainTaskID, path, nowUnixNano(),
	)
	if err != nil {
		return fmt.Errorf("checkpoint: recording artifact %s for %s: %w", path, mainTaskID, err)
	}

	return nil
}

// ListArtifacts returns every recorded artifact path for mainTaskID.
func (s *Store) ListArtifacts(ctx context.Context, mainTaskID string) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT path FROM created_artifacts WHERE main_task_id = ?`, mainTaskID)
	if err != nil {
		return nil, fmt.Errorf("checkpoint: listing artifacts of %s: %w", mainTaskID, err)
	}
	defer rows.Close()

	var paths []string

	for rows.Next() {
		var p string
		if err := rows.Scan(&p); err != nil {
			return nil, fmt.Errorf("checkpoint: scanning artifact row: %w", err)
		}

		paths = append(paths, p)
	}

	return paths, rows.Err()
}

func requireRowsAffected(res sql.Result, id string) error {
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("checkpoint: counting rows affected for %s: %w", id, err)
	}

	if affected == 0 {
		return ErrNotFound
	}

	return nil
}
