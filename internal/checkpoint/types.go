// Package checkpoint is the transfer ledger: a SQLite database,
// independent of internal/catalog, that records in-flight and historical
// uploads/downloads so they can resume after a crash or an explicit
// pause.
package checkpoint

import "errors"

// Status is the lifecycle state of a MainTask or SubTask.
type Status string

const (
	StatusQueued       Status = "queued"
	StatusTransferring Status = "transferring"
	StatusPaused       Status = "paused"
	StatusCompleted    Status = "completed"
	StatusFailed       Status = "failed"
	StatusCanceled     Status = "canceled"
)

// Kind distinguishes upload tasks from download tasks.
type Kind string

const (
	KindUpload   Kind = "upload"
	KindDownload Kind = "download"
)

// MainTask is one top-level upload or download invocation, potentially
// fanning out into many SubTasks for a folder transfer.
type MainTask struct {
	ID        string
	Kind      Kind
	RootPath  string
	FolderID  string
	Status    Status
	CreatedAt int64
	UpdatedAt int64
}

// SubTask is one file within a MainTask.
type SubTask struct {
	ID         string
	MainTaskID string
	LocalPath  string
	RemoteName string
	FolderID   string
	ContentID  string
	Size       int64
	Status     Status
	CreatedAt  int64
	UpdatedAt  int64
}

// Task is the denormalized view ReadTask returns: a MainTask with all of
// its SubTasks and each SubTask's completed part numbers attached.
type Task struct {
	Main     *MainTask
	SubTasks []*SubTaskProgress
}

// SubTaskProgress pairs a SubTask with the part numbers already
// confirmed complete, for resume.
type SubTaskProgress struct {
	SubTask        *SubTask
	CompletedParts map[int]bool
}

// ErrNotFound indicates the requested task does not exist.
var ErrNotFound = errors.New("checkpoint: not found")
