package storage

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"TubeDigest/internal/domain"
	"TubeDigest/internal/ports"
)

// FileLedger keeps the notified-video history in a single JSON file. The
// in-memory map is the working copy for a run; Save writes it back through a
// temp file and rename so a crash never leaves a half-written history.
type FileLedger struct {
	path     string
	notified map[string]domain.LedgerEntry
	logger   *slog.Logger
	now      func() time.Time
}

var _ ports.Ledger = (*FileLedger)(nil)

type ledgerFile struct {
	NotifiedVideos map[string]domain.LedgerEntry `json:"notified_videos"`
}

// NewFileLedger points the ledger at path. Call Load before use.
func NewFileLedger(path string, logger *slog.Logger) *FileLedger {
	return &FileLedger{
		path:     path,
		notified: make(map[string]domain.LedgerEntry),
		logger:   logger,
		now:      time.Now,
	}
}

// SetNow overrides the clock, used by tests.
func (l *FileLedger) SetNow(now func() time.Time) {
	l.now = now
}

// Load reads the history file. A missing file starts an empty history, and a
// corrupt file is treated the same after a warning, so a damaged ledger can
// never block the pipeline.
func (l *FileLedger) Load() error {
	data, err := os.ReadFile(l.path)
	if os.IsNotExist(err) {
		if l.logger != nil {
			l.logger.Info("history file absent, starting empty", "path", l.path)
		}
		l.notified = make(map[string]domain.LedgerEntry)
		return nil
	}
	if err != nil {
		return fmt.Errorf("read history %s: %w", l.path, err)
	}

	var file ledgerFile
	if err := json.Unmarshal(data, &file); err != nil {
		if l.logger != nil {
			l.logger.Warn("history file corrupt, starting empty", "path", l.path, "error", err)
		}
		l.notified = make(map[string]domain.LedgerEntry)
		return nil
	}

	l.notified = file.NotifiedVideos
	if l.notified == nil {
		l.notified = make(map[string]domain.LedgerEntry)
	}
	if l.logger != nil {
		l.logger.Info("history loaded", "path", l.path, "entries", len(l.notified))
	}
	return nil
}

// FilterNew returns the videos not yet in the history, preserving order.
func (l *FileLedger) FilterNew(videos []domain.VideoEntry) []domain.VideoEntry {
	fresh := make([]domain.VideoEntry, 0, len(videos))
	for _, v := range videos {
		if _, seen := l.notified[v.VideoID]; !seen {
			fresh = append(fresh, v)
		}
	}
	if l.logger != nil {
		l.logger.Info("new videos", "fresh", len(fresh), "total", len(videos))
	}
	return fresh
}

// MarkNotified records a delivered video with the current UTC time.
func (l *FileLedger) MarkNotified(video domain.VideoEntry) {
	l.notified[video.VideoID] = domain.LedgerEntry{
		Title:      video.Title,
		ChannelID:  video.ChannelID,
		NotifiedAt: l.now().UTC().Format(time.RFC3339),
	}
}

// CleanupOld drops entries whose age in whole days reaches retentionDays.
// Entries with an unreadable timestamp are dropped too, since their age
// cannot be established. Returns the number of removed entries.
func (l *FileLedger) CleanupOld(retentionDays int) int {
	now := l.now().UTC()

	removed := 0
	for id, entry := range l.notified {
		notifiedAt, err := time.Parse(time.RFC3339, entry.NotifiedAt)
		if err != nil || int(now.Sub(notifiedAt).Hours()/24) >= retentionDays {
			delete(l.notified, id)
			removed++
		}
	}

	if removed > 0 && l.logger != nil {
		l.logger.Info("old history entries removed", "count", removed)
	}
	return removed
}

// Save writes the history back atomically, creating parent directories as
// needed.
func (l *FileLedger) Save() error {
	data, err := json.MarshalIndent(ledgerFile{NotifiedVideos: l.notified}, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal history: %w", err)
	}

	dir := filepath.Dir(l.path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create history dir %s: %w", dir, err)
	}

	tmp, err := os.CreateTemp(dir, ".notified-*.json")
	if err != nil {
		return fmt.Errorf("create temp history: %w", err)
	}
	tmpPath := tmp.Name()

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpPath)
		return fmt.Errorf("write temp history: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("close temp history: %w", err)
	}
	if err := os.Rename(tmpPath, l.path); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("replace history %s: %w", l.path, err)
	}

	if l.logger != nil {
		l.logger.Info("history saved", "path", l.path, "entries", len(l.notified))
	}
	return nil
}
