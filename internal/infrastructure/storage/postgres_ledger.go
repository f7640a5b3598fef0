package storage

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"time"

	sq "github.com/Masterminds/squirrel"
	"github.com/lib/pq"

	"TubeDigest/internal/domain"
	"TubeDigest/internal/ports"
)

const dbTimeout = 30 * time.Second

// PostgresLedger keeps the notified-video history in Postgres. Like the file
// backend it works on an in-memory copy for the duration of a run: Load pulls
// the table, MarkNotified and CleanupOld mutate the copy, Save flushes the
// delta in one transaction.
type PostgresLedger struct {
	db      *sql.DB
	logger  *slog.Logger
	now     func() time.Time
	builder sq.StatementBuilderType

	notified map[string]domain.LedgerEntry
	pending  []string // ids marked this run, to upsert on Save
	removed  []string // ids cleaned up this run, to delete on Save
}

var _ ports.Ledger = (*PostgresLedger)(nil)

// NewPostgresLedger wires a sql.DB implementation.
func NewPostgresLedger(db *sql.DB, logger *slog.Logger) *PostgresLedger {
	return &PostgresLedger{
		db:       db,
		logger:   logger,
		now:      time.Now,
		builder:  sq.StatementBuilder.PlaceholderFormat(sq.Dollar),
		notified: make(map[string]domain.LedgerEntry),
	}
}

// SetNow overrides the clock, used by tests.
func (l *PostgresLedger) SetNow(now func() time.Time) {
	l.now = now
}

// Load creates the table when absent and pulls the full history. The table
// stays small because CleanupOld bounds it by retention.
func (l *PostgresLedger) Load() error {
	ctx, cancel := context.WithTimeout(context.Background(), dbTimeout)
	defer cancel()

	const schema = `CREATE TABLE IF NOT EXISTS notified_videos (
        video_id    TEXT PRIMARY KEY,
        title       TEXT NOT NULL,
        channel_id  TEXT NOT NULL,
        notified_at TIMESTAMPTZ NOT NULL
    )`
	if _, err := l.db.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("ensure history table: %w", err)
	}

	query, args, err := l.builder.
		Select("video_id", "title", "channel_id", "notified_at").
		From("notified_videos").
		ToSql()
	if err != nil {
		return fmt.Errorf("build history query: %w", err)
	}

	rows, err := l.db.QueryContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("query history: %w", err)
	}
	defer rows.Close()

	l.notified = make(map[string]domain.LedgerEntry)
	for rows.Next() {
		var id string
		var entry domain.LedgerEntry
		var notifiedAt time.Time
		if err := rows.Scan(&id, &entry.Title, &entry.ChannelID, &notifiedAt); err != nil {
			return fmt.Errorf("scan history row: %w", err)
		}
		entry.NotifiedAt = notifiedAt.UTC().Format(time.RFC3339)
		l.notified[id] = entry
	}
	if err := rows.Err(); err != nil {
		return fmt.Errorf("history rows: %w", err)
	}

	if l.logger != nil {
		l.logger.Info("history loaded", "backend", "postgres", "entries", len(l.notified))
	}
	return nil
}

// FilterNew returns the videos not yet in the history, preserving order.
func (l *PostgresLedger) FilterNew(videos []domain.VideoEntry) []domain.VideoEntry {
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

// MarkNotified records a delivered video; the row is written on Save.
func (l *PostgresLedger) MarkNotified(video domain.VideoEntry) {
	l.notified[video.VideoID] = domain.LedgerEntry{
		Title:      video.Title,
		ChannelID:  video.ChannelID,
		NotifiedAt: l.now().UTC().Format(time.RFC3339),
	}
	l.pending = append(l.pending, video.VideoID)
}

// CleanupOld drops entries whose age in whole days reaches retentionDays,
// plus entries with an unreadable timestamp. Rows are deleted on Save.
func (l *PostgresLedger) CleanupOld(retentionDays int) int {
	now := l.now().UTC()

	removed := 0
	for id, entry := range l.notified {
		notifiedAt, err := time.Parse(time.RFC3339, entry.NotifiedAt)
		if err != nil || int(now.Sub(notifiedAt).Hours()/24) >= retentionDays {
			delete(l.notified, id)
			l.removed = append(l.removed, id)
			removed++
		}
	}

	if removed > 0 && l.logger != nil {
		l.logger.Info("old history entries removed", "count", removed)
	}
	return removed
}

// Save flushes this run's marks and removals in one transaction.
func (l *PostgresLedger) Save() error {
	if len(l.pending) == 0 && len(l.removed) == 0 {
		return nil
	}

	ctx, cancel := context.WithTimeout(context.Background(), dbTimeout)
	defer cancel()

	tx, err := l.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin history save: %w", err)
	}
	defer tx.Rollback()

	for _, id := range l.pending {
		entry, ok := l.notified[id]
		if !ok {
			continue // marked and then aged out in the same run
		}
		notifiedAt, err := time.Parse(time.RFC3339, entry.NotifiedAt)
		if err != nil {
			return fmt.Errorf("bad timestamp for %s: %w", id, err)
		}

		query, args, err := l.builder.
			Insert("notified_videos").
			Columns("video_id", "title", "channel_id", "notified_at").
			Values(id, entry.Title, entry.ChannelID, notifiedAt).
			Suffix(`ON CONFLICT (video_id) DO UPDATE
                SET title = EXCLUDED.title,
                    channel_id = EXCLUDED.channel_id,
                    notified_at = EXCLUDED.notified_at`).
			ToSql()
		if err != nil {
			return fmt.Errorf("build history upsert: %w", err)
		}
		if _, err := tx.ExecContext(ctx, query, args...); err != nil {
			return fmt.Errorf("upsert history %s: %w", id, err)
		}
	}

	if len(l.removed) > 0 {
		query, args, err := l.builder.
			Delete("notified_videos").
			Where("video_id = ANY(?)", pq.StringArray(l.removed)).
			ToSql()
		if err != nil {
			return fmt.Errorf("build history delete: %w", err)
		}
		if _, err := tx.ExecContext(ctx, query, args...); err != nil {
			return fmt.Errorf("delete history rows: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit history save: %w", err)
	}

	if l.logger != nil {
		l.logger.Info("history saved", "backend", "postgres",
			"upserted", len(l.pending), "deleted", len(l.removed))
	}
	l.pending = nil
	l.removed = nil
	return nil
}
