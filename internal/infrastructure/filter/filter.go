package filter

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"TubeDigest/internal/domain"
	"TubeDigest/internal/ports"
)

const (
	defaultOEmbedURL = "https://www.youtube.com/oembed"
	probeTimeout     = 10 * time.Second
)

// liveKeywords mark live broadcasts and their archives in either the feed
// title or the oEmbed title.
var liveKeywords = []string{"【live】", "【ライブ】", "live stream", "生配信", "生放送"}

// oEmbedInfo is the subset of the metadata probe response the filter consumes.
type oEmbedInfo struct {
	Title        string `json:"title"`
	ThumbnailURL string `json:"thumbnail_url"`
	Width        int    `json:"width"`
	Height       int    `json:"height"`
}

// VideoFilter excludes shorts and live broadcasts using a best-effort
// metadata probe. A failed probe never fails the pipeline; filtering then
// falls back to title text alone.
type VideoFilter struct {
	oembedURL string
	client    *http.Client
	logger    *slog.Logger
}

var _ ports.VideoFilter = (*VideoFilter)(nil)

// New builds a filter with a short probe timeout.
func New(client *http.Client, logger *slog.Logger) *VideoFilter {
	if client == nil {
		client = &http.Client{Timeout: probeTimeout}
	}
	return &VideoFilter{oembedURL: defaultOEmbedURL, client: client, logger: logger}
}

// SetProbeURL overrides the oEmbed endpoint, used by tests.
func (f *VideoFilter) SetProbeURL(probe string) {
	f.oembedURL = probe
}

// Filter returns only regular videos. Shorts detection takes precedence over
// live-keyword matching when both signals are present.
func (f *VideoFilter) Filter(ctx context.Context, videos []domain.VideoEntry) []domain.VideoEntry {
	result := make([]domain.VideoEntry, 0, len(videos))
	var shorts, live int

	for _, video := range videos {
		info := f.probe(ctx, video.URL)
		if isShort(info) {
			shorts++
			continue
		}
		if isLiveStream(video, info) {
			live++
			continue
		}
		result = append(result, video)
	}

	if f.logger != nil {
		f.logger.Info("videos filtered",
			"retained", len(result), "excluded_shorts", shorts, "excluded_live", live)
	}
	return result
}

// probe fetches oEmbed metadata. Any failure yields nil, never an error.
func (f *VideoFilter) probe(ctx context.Context, videoURL string) *oEmbedInfo {
	probeURL := fmt.Sprintf("%s?url=%s&format=json", f.oembedURL, url.QueryEscape(videoURL))

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, probeURL, nil)
	if err != nil {
		return nil
	}

	resp, err := f.client.Do(req)
	if err != nil {
		return nil
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil
	}

	var info oEmbedInfo
	if err := json.NewDecoder(resp.Body).Decode(&info); err != nil {
		return nil
	}
	return &info
}

func isShort(info *oEmbedInfo) bool {
	if info == nil {
		return false
	}
	if strings.Contains(info.ThumbnailURL, "/shorts/") {
		return true
	}
	// vertical layout means a short
	return info.Width > 0 && info.Height > info.Width
}

func isLiveStream(video domain.VideoEntry, info *oEmbedInfo) bool {
	titles := []string{strings.ToLower(video.Title)}
	if info != nil {
		titles = append(titles, strings.ToLower(info.Title))
	}

	for _, title := range titles {
		for _, keyword := range liveKeywords {
			if strings.Contains(title, keyword) {
				return true
			}
		}
	}
	return false
}
