package domain

import "time"

// VideoEntry is a core entity describing a published video discovered via a channel feed.
type VideoEntry struct {
	VideoID   string
	Title     string
	URL       string
	Published time.Time
	ChannelID string
}

// Channel is a configured content source monitored for new videos.
type Channel struct {
	ChannelID      string
	Name           string
	PromptTemplate string
}

// LedgerEntry records a delivered notification for deduplication across runs.
// NotifiedAt is stored as an ISO-8601 string so a damaged value degrades to
// an expired entry instead of failing the load.
type LedgerEntry struct {
	Title      string `json:"title"`
	ChannelID  string `json:"channel_id"`
	NotifiedAt string `json:"notified_at"`
}
