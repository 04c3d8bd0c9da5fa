// Package watcher detects local-file removal (for completed downloads)
// and remote-folder removal (for completed uploads) after the fact,
// since neither the catalog nor the checkpoint store is notified when a
// user deletes a file outside of vaultfs.
package watcher

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/arcbox/vaultfs/internal/catalog"
	"github.com/arcbox/vaultfs/internal/checkpoint"
)

// EventType distinguishes the two transitions a Watcher reports.
type EventType int

const (
	// EventMissing fires the first time a previously-present local file
	// or remote folder is observed gone.
	EventMissing EventType = iota
	// EventRestored fires the first time a previously-missing item is
	// observed present again (e.g. the user restored it from trash).
	EventRestored
)

func (t EventType) String() string {
	if t == EventRestored {
		return "restored"
	}

	return "missing"
}

// ChangeEvent reports one observed-state transition.
type ChangeEvent struct {
	Type       EventType
	Key        string // sub-task id for downloads, "folder:"+folderID for uploads
	MainTaskID string
	Path       string // local path for downloads, folder id for uploads
}

// FsWatcher abstracts filesystem event monitoring, satisfied by
// *fsnotify.Watcher; tests can inject a fake.
type FsWatcher interface {
	Add(name string) error
	Close() error
	Events() <-chan fsnotify.Event
	Errors() <-chan error
}

type fsnotifyWrapper struct{ w *fsnotify.Watcher }

func (f *fsnotifyWrapper) Add(name string) error         { return f.w.Add(name) }
func (f *fsnotifyWrapper) Close() error                  { return f.w.Close() }
func (f *fsnotifyWrapper) Events() <-chan fsnotify.Event { return f.w.Events }
func (f *fsnotifyWrapper) Errors() <-chan error          { return f.w.Errors }

// Watcher periodically reconciles completed tasks against the
// filesystem and catalog, reporting changes only on transition.
type Watcher struct {
	catalog    *catalog.Store
	checkpoint *checkpoint.Store
	logger     *slog.Logger

	pollInterval   time.Duration
	watcherFactory func() (FsWatcher, error)

	mu     sync.Mutex
	exists map[string]bool // key: subTaskID for downloads, "folder:"+folderID for uploads
}

// New builds a Watcher. pollInterval is the authoritative reconciliation
// period; fsnotify is layered on top purely as a latency optimization
// for local download removal.
func New(cat *catalog.Store, ckpt *checkpoint.Store, pollInterval time.Duration, logger *slog.Logger) *Watcher {
	if logger == nil {
		logger = slog.Default()
	}

	return &Watcher{
		catalog:      cat,
		checkpoint:   ckpt,
		logger:       logger,
		pollInterval: pollInterval,
		watcherFactory: func() (FsWatcher, error) {
			w, err := fsnotify.NewWatcher()
			if err != nil {
				return nil, fmt.Errorf("watcher: creating fsnotify watcher: %w", err)
			}

			return &fsnotifyWrapper{w: w}, nil
		},
		exists: make(map[string]bool),
	}
}

// Run blocks, emitting ChangeEvents on events until ctx is canceled. The
// fsnotify fast path registers watches lazily as completed downloads are
// discovered; registration races and the upload/remote-folder case (which
// fsnotify cannot see at all) are both covered by the poll loop, which
// remains authoritative.
func (w *Watcher) Run(ctx context.Context, events chan<- ChangeEvent) error {
	fsw, err := w.watcherFactory()
	if err != nil {
		w.logger.Warn("fsnotify unavailable, falling back to polling only", "error", err)
		fsw = nil
	}

	if fsw != nil {
		defer fsw.Close()
	}

	ticker := time.NewTicker(w.pollInterval)
	defer ticker.Stop()

	if err := w.reconcile(ctx, events, fsw); err != nil {
		return err
	}

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			if err := w.reconcile(ctx, events, fsw); err != nil {
				return err
			}
		case ev := <-fsnotifyEvents(fsw):
			if ev.Op&(fsnotify.Remove|fsnotify.Rename) != 0 {
				if err := w.reconcile(ctx, events, fsw); err != nil {
					return err
				}
			}
		case err := <-fsnotifyErrors(fsw):
			w.logger.Warn("fsnotify error", "error", err)
		}
	}
}

func fsnotifyEvents(fsw FsWatcher) <-chan fsnotify.Event {
	if fsw == nil {
		return nil
	}

	return fsw.Events()
}

func fsnotifyErrors(fsw FsWatcher) <-chan error {
	if fsw == nil {
		return nil
	}

	return fsw.Errors()
}

// ReconcileOnce runs a single reconciliation pass immediately, without
// registering any fsnotify watches. Exposed for tests and for callers
// that want an on-demand check between poll ticks.
func (w *Watcher) ReconcileOnce(ctx context.Context, events chan<- ChangeEvent) error {
	return w.reconcile(ctx, events, nil)
}

// reconcile walks every completed task and emits a transition for any
// subject whose presence flipped since the last reconciliation.
func (w *Watcher) reconcile(ctx context.Context, events chan<- ChangeEvent, fsw FsWatcher) error {
	mainTasks, err := w.checkpoint.ListMainTasksByStatus(ctx, checkpoint.StatusCompleted)
	if err != nil {
		return fmt.Errorf("watcher: listing completed tasks: %w", err)
	}

	for _, main := range mainTasks {
		subTasks, err := w.checkpoint.ListSubTasks(ctx, main.ID)
		if err != nil {
			return fmt.Errorf("watcher: listing sub tasks of %s: %w", main.ID, err)
		}

		for _, sub := range subTasks {
			if sub.Status != checkpoint.StatusCompleted {
				continue
			}

			switch main.Kind {
			case checkpoint.KindDownload:
				w.checkLocalFile(sub, events, fsw)
			case checkpoint.KindUpload:
				if err := w.checkRemoteFolder(ctx, sub, events); err != nil {
					return err
				}
			}
		}
	}

	return nil
}

func (w *Watcher) checkLocalFile(sub *checkpoint.SubTask, events chan<- ChangeEvent, fsw FsWatcher) {
	nowExists := fileExists(sub.LocalPath)

	if fsw != nil {
		_ = fsw.Add(filepath.Dir(sub.LocalPath))
	}

	w.emitOnTransition(sub.ID, sub.MainTaskID, sub.LocalPath, nowExists, events)
}

func (w *Watcher) checkRemoteFolder(ctx context.Context, sub *checkpoint.SubTask, events chan<- ChangeEvent) error {
	_, err := w.catalog.GetFolder(ctx, sub.FolderID)

	nowExists := true

	if err != nil {
		if !errors.Is(err, catalog.ErrNotFound) {
			return fmt.Errorf("watcher: checking folder %s: %w", sub.FolderID, err)
		}

		nowExists = false
	}

	w.emitOnTransition("folder:"+sub.FolderID, sub.MainTaskID, sub.FolderID, nowExists, events)

	return nil
}

func (w *Watcher) emitOnTransition(key, mainTaskID, path string, nowExists bool, events chan<- ChangeEvent) {
	w.mu.Lock()
	previouslyExists, known := w.exists[key]
	w.exists[key] = nowExists
	w.mu.Unlock()

	if known && previouslyExists == nowExists {
		return
	}

	eventType := EventMissing
	if nowExists {
		eventType = EventRestored
	}

	// The very first observation of a never-seen key establishes the
	// baseline silently unless that baseline is already "missing" — a
	// freshly completed download that is already gone is worth reporting
	// immediately, not just on the next flip.
	if !known && nowExists {
		return
	}

	select {
	case events <- ChangeEvent{Type: eventType, Key: key, MainTaskID: mainTaskID, Path: path}:
	default:
		w.logger.Warn("watcher event channel full, dropping event", "type", eventType, "path", path)
	}
}

func fileExists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}
