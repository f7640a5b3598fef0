package ports

import (
	"context"
	"time"

	"TubeDigest/internal/domain"
)

// FeedSource pulls published videos for a channel, newest first.
type FeedSource interface {
	Fetch(ctx context.Context, channelID string) ([]domain.VideoEntry, error)
}

// VideoFilter excludes shorts and live broadcasts. Best effort: it degrades
// to title-only filtering when metadata lookups fail and never returns an error.
type VideoFilter interface {
	Filter(ctx context.Context, videos []domain.VideoEntry) []domain.VideoEntry
}

// Summarizer generates an HTML summary document for a video.
type Summarizer interface {
	Summarize(ctx context.Context, videoURL, prompt string) (string, error)
}

// Renderer turns an HTML summary into a PNG image file and owns its cleanup.
type Renderer interface {
	Render(ctx context.Context, htmlContent, videoTitle string) (string, error)
	Cleanup(imagePath string)
}

// Notifier delivers notifications through the webhook. SendError is for
// operator alerts; its own delivery failures are swallowed.
type Notifier interface {
	Send(ctx context.Context, video domain.VideoEntry, channelName, summary string) error
	SendImage(ctx context.Context, video domain.VideoEntry, channelName, imagePath string) error
	SendError(ctx context.Context, title, detail string)
}

// Ledger is the at-most-once record of notified videos. Load and Save run at
// process boundaries only; the in-memory state is owned by the run.
type Ledger interface {
	Load() error
	FilterNew(videos []domain.VideoEntry) []domain.VideoEntry
	MarkNotified(video domain.VideoEntry)
	CleanupOld(retentionDays int) int
	Save() error
}

// Scheduler controls when pipeline runs execute in watch mode.
type Scheduler interface {
	Start(ctx context.Context, job func(time.Time)) error
	Stop(ctx context.Context) error
}
