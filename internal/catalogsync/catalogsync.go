// Package catalogsync backs up and restores the catalog database through
// the remote blob channel, so a second machine can pick up the same
// vault without manual file copying.
package catalogsync

import (
	"archive/zip"
	"bytes"
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"regexp"
	"strconv"
	"sync"
	"time"

	"github.com/arcbox/vaultfs/internal/catalog"
	"github.com/arcbox/vaultfs/internal/remoteblob"
)

// backupEntryName is the single file stored inside the backup zip.
const backupEntryName = "catalog.db"

// captionPrefix identifies catalogue backup messages in the channel's
// caption search index.
const captionPrefix = "#catalogue_backup"

var versionPattern = regexp.MustCompile(`db_version:(\d+)`)

// Syncer keeps the remote catalogue backup in step with the local
// catalog database, debouncing bursts of local mutations into a single
// compare-and-transfer cycle.
type Syncer struct {
	catalogPath string
	store       *catalog.Store
	channel     remoteblob.Channel
	channelID   string
	logger      *slog.Logger

	debounce time.Duration

	mu           sync.Mutex // guards the compare-and-transfer cycle itself
	timerMu      sync.Mutex // guards pendingTimer only
	pendingTimer *time.Timer
}

// ErrRestoreRequiresRestart is returned by Sync after a successful
// download-and-restore: the on-disk catalog file has been replaced out
// from under the now-closed *catalog.Store, so the process must reopen
// it before doing anything else.
var ErrRestoreRequiresRestart = fmt.Errorf("catalogsync: catalog restored from remote, restart required")

// New builds a Syncer. catalogPath is the on-disk location of the
// catalog database file backing store.
func New(catalogPath string, store *catalog.Store, channel remoteblob.Channel, channelID string, debounce time.Duration, logger *slog.Logger) *Syncer {
	if logger == nil {
		logger = slog.Default()
	}

	return &Syncer{
		catalogPath: catalogPath,
		store:       store,
		channel:     channel,
		channelID:   channelID,
		logger:      logger,
		debounce:    debounce,
	}
}

// Trigger schedules a sync cycle after the debounce window, restarting
// the window if one is already pending. Call this after every catalog
// mutation; bursts of calls within the window collapse into one cycle.
func (s *Syncer) Trigger(ctx context.Context) {
	s.timerMu.Lock()
	defer s.timerMu.Unlock()

	if s.pendingTimer != nil {
		s.pendingTimer.Stop()
	}

	s.pendingTimer = time.AfterFunc(s.debounce, func() {
		if err := s.Sync(ctx); err != nil {
			s.logger.Error("catalogue sync cycle failed", "error", err)
		}
	})
}

// Sync runs one compare-and-transfer cycle immediately: it finds the
// most recent remote backup, compares its embedded version against the
// local catalog's version, and uploads, downloads, or does nothing.
// Concurrent Sync calls (direct or via Trigger) serialize on s.mu.
func (s *Syncer) Sync(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	localVersion, err := s.store.CurrentVersion(ctx)
	if err != nil {
		return fmt.Errorf("catalogsync: reading local version: %w", err)
	}

	remoteVersion, remoteMessageID, err := s.latestRemoteVersion(ctx)
	if err != nil {
		return err
	}

	switch {
	case remoteMessageID == "" || localVersion > remoteVersion:
		return s.upload(ctx, localVersion)
	case localVersion < remoteVersion:
		if err := s.download(ctx, remoteMessageID); err != nil {
			return err
		}

		return ErrRestoreRequiresRestart
	default:
		s.logger.Debug("catalogue already in sync", "version", localVersion)
		return nil
	}
}

// latestRemoteVersion searches the channel for catalogue backup messages
// and returns the highest db_version found along with that message's id.
// An empty messageID with a nil error means no backup exists yet.
func (s *Syncer) latestRemoteVersion(ctx context.Context) (int64, string, error) {
	return findLatestBackup(ctx, s.channel, s.channelID)
}

// findLatestBackup is the channel-only half of latestRemoteVersion, usable
// before a *catalog.Store (and therefore a Syncer) exists at all.
func findLatestBackup(ctx context.Context, channel remoteblob.Channel, channelID string) (int64, string, error) {
	messages, err := channel.SearchByCaption(ctx, channelID, captionPrefix, 50)
	if err != nil {
		return 0, "", fmt.Errorf("catalogsync: searching for backups: %w", err)
	}

	var (
		best   int64 = -1
		bestID string
	)

	for _, m := range messages {
		v, ok := parseVersion(m.Caption)
		if !ok {
			continue
		}

		if v > best {
			best = v
			bestID = m.ID
		}
	}

	if bestID == "" {
		return 0, "", nil
	}

	return best, bestID, nil
}

// RestoreIfAbsent restores the catalogue from its most recent remote
// backup when no local catalog file exists yet, and reports whether it
// did so. It must run before catalog.Open: a brand-new machine (or one
// that lost its data directory) should pick up an existing vault's
// catalogue unconditionally rather than have Open seed an empty one out
// from under a channel that already has data in it.
func RestoreIfAbsent(ctx context.Context, channel remoteblob.Channel, channelID, catalogPath string, logger *slog.Logger) (bool, error) {
	if logger == nil {
		logger = slog.Default()
	}

	if _, err := os.Stat(catalogPath); err == nil {
		return false, nil
	} else if !os.IsNotExist(err) {
		return false, fmt.Errorf("catalogsync: checking for local catalog: %w", err)
	}

	_, messageID, err := findLatestBackup(ctx, channel, channelID)
	if err != nil {
		return false, err
	}

	if messageID == "" {
		return false, nil
	}

	if err := fetchAndWriteBackup(ctx, channel, channelID, messageID, catalogPath); err != nil {
		return false, err
	}

	logger.Info("restored catalogue from remote backup", "message_id", messageID)

	return true, nil
}

func parseVersion(caption string) (int64, bool) {
	match := versionPattern.FindStringSubmatch(caption)
	if match == nil {
		return 0, false
	}

	v, err := strconv.ParseInt(match[1], 10, 64)
	if err != nil {
		return 0, false
	}

	return v, true
}

func (s *Syncer) upload(ctx context.Context, version int64) error {
	if err := s.store.Checkpoint(ctx); err != nil {
		return fmt.Errorf("catalogsync: checkpointing wal before backup: %w", err)
	}

	zipped, err := zipFile(s.catalogPath)
	if err != nil {
		return err
	}

	caption := fmt.Sprintf("%s db_version:%d", captionPrefix, version)

	sentID, err := s.channel.SendBlob(ctx, s.channelID, zipped, caption)
	if err != nil {
		return fmt.Errorf("catalogsync: uploading backup: %w", err)
	}

	s.logger.Info("uploaded catalogue backup", "version", version, "bytes", len(zipped))

	if err := s.pruneStaleBackups(ctx, sentID); err != nil {
		s.logger.Error("pruning stale catalogue backups", "error", err)
	}

	return nil
}

// pruneStaleBackups deletes every prior catalogue backup message except
// keepMessageID, the one upload just sent. Without this the channel
// accumulates one backup blob per sync cycle forever.
func (s *Syncer) pruneStaleBackups(ctx context.Context, keepMessageID string) error {
	messages, err := s.channel.SearchByCaption(ctx, s.channelID, captionPrefix, 50)
	if err != nil {
		return fmt.Errorf("catalogsync: searching for stale backups: %w", err)
	}

	var stale []string

	for _, m := range messages {
		if m.ID == keepMessageID {
			continue
		}

		if _, ok := parseVersion(m.Caption); !ok {
			continue
		}

		stale = append(stale, m.ID)
	}

	if len(stale) == 0 {
		return nil
	}

	if err := s.channel.DeleteBlobs(ctx, s.channelID, stale); err != nil {
		return fmt.Errorf("catalogsync: deleting stale backups: %w", err)
	}

	s.logger.Info("pruned stale catalogue backups", "count", len(stale))

	return nil
}

func (s *Syncer) download(ctx context.Context, messageID string) error {
	if err := s.store.Close(); err != nil {
		return fmt.Errorf("catalogsync: closing local catalog before restore: %w", err)
	}

	if err := fetchAndWriteBackup(ctx, s.channel, s.channelID, messageID, s.catalogPath); err != nil {
		return err
	}

	s.logger.Info("restored catalogue from backup")

	return nil
}

// fetchAndWriteBackup is the channel-only half of download, usable before
// a *catalog.Store exists (RestoreIfAbsent) as well as after one has just
// been closed for a restore-and-restart cycle (Syncer.download).
func fetchAndWriteBackup(ctx context.Context, channel remoteblob.Channel, channelID, messageID, catalogPath string) error {
	zipped, err := channel.FetchBlob(ctx, channelID, messageID)
	if err != nil {
		return fmt.Errorf("catalogsync: fetching backup: %w", err)
	}

	data, err := unzipFile(zipped)
	if err != nil {
		return err
	}

	if err := os.WriteFile(catalogPath, data, 0o600); err != nil {
		return fmt.Errorf("catalogsync: writing restored catalog: %w", err)
	}

	return nil
}

func zipFile(path string) ([]byte, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("catalogsync: reading %s: %w", path, err)
	}

	var buf bytes.Buffer

	w := zip.NewWriter(&buf)

	entry, err := w.Create(backupEntryName)
	if err != nil {
		return nil, fmt.Errorf("catalogsync: creating zip entry: %w", err)
	}

	if _, err := entry.Write(data); err != nil {
		return nil, fmt.Errorf("catalogsync: writing zip entry: %w", err)
	}

	if err := w.Close(); err != nil {
		return nil, fmt.Errorf("catalogsync: closing zip writer: %w", err)
	}

	return buf.Bytes(), nil
}

func unzipFile(data []byte) ([]byte, error) {
	r, err := zip.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return nil, fmt.Errorf("catalogsync: opening zip archive: %w", err)
	}

	for _, f := range r.File {
		if f.Name != backupEntryName {
			continue
		}

		rc, err := f.Open()
		if err != nil {
			return nil, fmt.Errorf("catalogsync: opening zip entry: %w", err)
		}
		defer rc.Close()

		contents, err := io.ReadAll(rc)
		if err != nil {
			return nil, fmt.Errorf("catalogsync: reading zip entry: %w", err)
		}

		return contents, nil
	}

	return nil, fmt.Errorf("catalogsync: backup archive missing %s", backupEntryName)
}
