// Package vaultapp holds the single shared-state struct every CLI
// command operates against: config, the two SQLite stores, the remote
// channel, the in-memory active-task registry, and the catalogue-sync
// debounce timer.
package vaultapp

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"sync"
	"time"

	"golang.org/x/sync/semaphore"

	"github.com/arcbox/vaultfs/internal/catalog"
	"github.com/arcbox/vaultfs/internal/catalogsync"
	"github.com/arcbox/vaultfs/internal/checkpoint"
	"github.com/arcbox/vaultfs/internal/config"
	"github.com/arcbox/vaultfs/internal/remoteblob"
	"github.com/arcbox/vaultfs/internal/remoteblob/httpchannel"
	"github.com/arcbox/vaultfs/internal/transfer"
	"github.com/arcbox/vaultfs/internal/vaultcrypto"
	"github.com/arcbox/vaultfs/internal/watcher"
)

// defaultResumedFanOut bounds per-task chunk concurrency for a task the
// startup auto-resume path picks back up on its own, distinct from the
// --fan-out flag an interactive "resume" invocation can set explicitly.
const defaultResumedFanOut = 2

// httpClientTimeout bounds metadata calls (search, ensure-channel).
// Chunk transfers use a separate, unbounded client since large chunks on
// slow links can take far longer than 30 seconds; they are instead
// bounded by context cancellation.
const httpClientTimeout = 30 * time.Second

// activeTask tracks one running transfer so pause/cancel can reach it and
// a concurrent `status --watch` can subscribe to its progress deltas.
type activeTask struct {
	cancel   context.CancelFunc
	progress chan int64
}

// App is the shared state every vaultfs command depends on.
type App struct {
	Config     *config.Holder
	Catalog    *catalog.Store
	Checkpoint *checkpoint.Store
	Channel    remoteblob.Channel
	ChannelID  string
	Engine     *transfer.Engine
	Sync       *catalogsync.Syncer
	Watcher    *watcher.Watcher
	Logger     *slog.Logger

	tasksMu sync.Mutex
	tasks   map[string]*activeTask

	// bgCancel stops the background goroutines Open starts (the trash
	// sweeper, the startup auto-resume fan-out) when Close runs.
	bgCancel context.CancelFunc
}

// Open loads config from configPath, opens both SQLite stores, builds
// the remote channel, and assembles the transfer engine and catalogue
// syncer. Call Close when done.
func Open(ctx context.Context, configPath string, logger *slog.Logger) (*App, error) {
	if logger == nil {
		logger = slog.Default()
	}

	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, err
	}

	if err := os.MkdirAll(cfg.DataDir, 0o700); err != nil {
		return nil, fmt.Errorf("vaultapp: creating data dir %s: %w", cfg.DataDir, err)
	}

	identity, err := userIdentity(cfg)
	if err != nil {
		return nil, err
	}

	credential, err := readCredential(cfg.Remote.CredentialFile, identity)
	if err != nil {
		return nil, err
	}

	channel := remoteblob.WithRetry(
		httpchannel.New(cfg.Remote.BaseURL, credential, &http.Client{Timeout: httpClientTimeout}, logger),
		logger,
	)

	channelID, err := channel.EnsureChannel(ctx, identity)
	if err != nil {
		return nil, fmt.Errorf("vaultapp: ensuring remote channel: %w", err)
	}

	// A missing local catalog might just mean this is a fresh machine
	// picking up an existing vault: restore it from the remote backup,
	// unconditionally, before catalog.Open gets a chance to seed an
	// empty one in its place.
	if _, err := catalogsync.RestoreIfAbsent(ctx, channel, channelID, cfg.CatalogPath(), logger); err != nil {
		return nil, err
	}

	catStore, err := catalog.Open(ctx, cfg.CatalogPath(), logger)
	if err != nil {
		return nil, err
	}

	ckptStore, err := checkpoint.Open(ctx, cfg.CheckpointPath(), logger)
	if err != nil {
		catStore.Close()
		return nil, err
	}

	zombieIDs, err := ckptStore.ResetZombieTasks(ctx)
	if err != nil {
		catStore.Close()
		ckptStore.Close()
		return nil, err
	}

	maxChunks := int64(cfg.Transfer.MaxConcurrentTransfers)
	engine := transfer.NewEngine(catStore, ckptStore, channel, channelID, maxChunks, logger)

	syncer := catalogsync.New(cfg.CatalogPath(), catStore, channel, channelID, cfg.DebounceInterval(), logger)

	watch := watcher.New(catStore, ckptStore, cfg.PollInterval(), logger)

	bgCtx, bgCancel := context.WithCancel(context.Background())

	app := &App{
		Config:     config.NewHolder(cfg),
		Catalog:    catStore,
		Checkpoint: ckptStore,
		Channel:    channel,
		ChannelID:  channelID,
		Engine:     engine,
		Sync:       syncer,
		Watcher:    watch,
		Logger:     logger,
		tasks:      make(map[string]*activeTask),
		bgCancel:   bgCancel,
	}

	go app.runTrashSweeper(bgCtx, cfg.TrashSweepInterval())
	app.resumeZombieTasks(bgCtx, zombieIDs)

	return app, nil
}

// resumeZombieTasks fires off Engine.Resume, bounded by
// ResumedTaskSemaphore, for every main task id ResetZombieTasks just
// reset from a crashed mid-transfer StatusTransferring back to
// StatusQueued. Every other pre-existing StatusQueued task (one left
// behind deliberately, mid debounce, or never started) is left alone —
// only tasks a previous process was actively running when it died are
// resumed automatically.
func (a *App) resumeZombieTasks(ctx context.Context, mainTaskIDs []string) {
	if len(mainTaskIDs) == 0 {
		return
	}

	sem := a.ResumedTaskSemaphore()

	go func() {
		for _, id := range mainTaskIDs {
			if err := sem.Acquire(ctx, 1); err != nil {
				return
			}

			go func(mainTaskID string) {
				defer sem.Release(1)

				runCtx, cancel := context.WithCancel(ctx)
				defer cancel()

				progress := a.RegisterTask(mainTaskID, cancel)
				defer a.UnregisterTask(mainTaskID)

				if err := a.Engine.Resume(runCtx, mainTaskID, defaultResumedFanOut, progress); err != nil {
					a.Logger.Error("auto-resuming interrupted task", "task_id", mainTaskID, "error", err)
				}
			}(id)
		}
	}()
}

// userIdentity returns the configured channel owner, falling back to the
// local hostname when Remote.UserIdentity is left blank.
func userIdentity(cfg *config.Config) (string, error) {
	if cfg.Remote.UserIdentity != "" {
		return cfg.Remote.UserIdentity, nil
	}

	host, err := os.Hostname()
	if err != nil {
		return "", fmt.Errorf("vaultapp: resolving user identity: %w", err)
	}

	return host, nil
}

// Close stops the trash sweeper and auto-resume background goroutines and
// releases both database handles.
func (a *App) Close() error {
	if a.bgCancel != nil {
		a.bgCancel()
	}

	var errs []error

	if err := a.Checkpoint.Close(); err != nil {
		errs = append(errs, err)
	}

	if err := a.Catalog.Close(); err != nil {
		errs = append(errs, err)
	}

	if len(errs) > 0 {
		return fmt.Errorf("vaultapp: closing stores: %v", errs)
	}

	return nil
}

// MaxResumedConcurrency returns the fixed concurrency cap used for
// running the set of resumed (previously queued/paused) tasks at
// startup, distinct from the per-task chunk fan-out.
func (a *App) MaxResumedConcurrency() int {
	return a.Config.Config().Transfer.MaxResumedConcurrency
}

// ResumedTaskSemaphore returns a semaphore sized to MaxResumedConcurrency,
// bounding how many previously in-flight main tasks run at once when the
// process restarts and resumes everything it finds queued or paused.
func (a *App) ResumedTaskSemaphore() *semaphore.Weighted {
	return semaphore.NewWeighted(int64(a.MaxResumedConcurrency()))
}

// RegisterTask records mainTaskID as running with cancel as its
// cancellation function, so a later Pause/Cancel call can reach it. The
// returned ProgressFunc should be passed to transfer.RunMainTask so
// a concurrent Subscribe call can observe its progress deltas.
func (a *App) RegisterTask(mainTaskID string, cancel context.CancelFunc) transfer.ProgressFunc {
	a.tasksMu.Lock()
	defer a.tasksMu.Unlock()

	progress := make(chan int64, 16)
	a.tasks[mainTaskID] = &activeTask{cancel: cancel, progress: progress}

	return func(n int64) {
		select {
		case progress <- n:
		default:
		}
	}
}

// UnregisterTask forgets mainTaskID once its run has finished, closing
// its progress channel so any Subscribe call observes end-of-stream.
func (a *App) UnregisterTask(mainTaskID string) {
	a.tasksMu.Lock()
	defer a.tasksMu.Unlock()

	if task, ok := a.tasks[mainTaskID]; ok {
		close(task.progress)
	}

	delete(a.tasks, mainTaskID)
}

// Subscribe returns the progress channel for a currently running task, so
// a `status --watch` command can report live byte counts, and reports
// whether mainTaskID is running in this process.
func (a *App) Subscribe(mainTaskID string) (<-chan int64, bool) {
	a.tasksMu.Lock()
	defer a.tasksMu.Unlock()

	task, ok := a.tasks[mainTaskID]
	if !ok {
		return nil, false
	}

	return task.progress, true
}

// CancelRunningTask cancels mainTaskID's context if it is currently
// running in this process, and reports whether it found one to cancel.
// Pause and cancel both call this after first writing the intended
// terminal status to the checkpoint store, so the engine's run loop
// observes the right status once the context unwinds.
func (a *App) CancelRunningTask(mainTaskID string) bool {
	a.tasksMu.Lock()
	defer a.tasksMu.Unlock()

	task, ok := a.tasks[mainTaskID]
	if !ok {
		return false
	}

	task.cancel()

	return true
}

// RunningTaskIDs returns the main task IDs currently registered as
// running in this process, for a signal handler to reconcile against
// the checkpoint store after an external pause/cancel.
func (a *App) RunningTaskIDs() []string {
	a.tasksMu.Lock()
	defer a.tasksMu.Unlock()

	ids := make([]string, 0, len(a.tasks))
	for id := range a.tasks {
		ids = append(ids, id)
	}

	return ids
}

// credentialCache is the on-disk shape of the credential cache file: an
// api id alongside an AEAD-encrypted blob holding the bearer token. The
// login flow that produces this file is out of scope for vaultfs — it
// only ever reads an already-populated cache.
type credentialCache struct {
	APIID         string `json:"api_id"`
	EncryptedBlob string `json:"encrypted_blob"`
}

// readCredential loads the credential cache at path and decrypts its
// bearer token, deriving the decryption key from userIdentity via
// vaultcrypto.DeriveUserKey the same way the cache was originally
// encrypted.
func readCredential(path, userIdentity string) (string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return "", fmt.Errorf("vaultapp: reading credential file %s: %w", path, err)
	}

	var cache credentialCache
	if err := json.Unmarshal(data, &cache); err != nil {
		return "", fmt.Errorf("vaultapp: parsing credential file %s: %w", path, err)
	}

	blob, err := base64.StdEncoding.DecodeString(cache.EncryptedBlob)
	if err != nil {
		return "", fmt.Errorf("vaultapp: decoding encrypted_blob in %s: %w", path, err)
	}

	key := vaultcrypto.DeriveUserKey(userIdentity)

	plaintext, err := vaultcrypto.Decrypt(blob, key)
	if err != nil {
		return "", fmt.Errorf("vaultapp: decrypting credential file %s: %w", path, err)
	}

	return string(plaintext), nil
}
