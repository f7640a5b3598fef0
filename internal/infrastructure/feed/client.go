package feed

import (
	"context"
	"encoding/xml"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"sort"
	"time"

	"TubeDigest/internal/domain"
	"TubeDigest/internal/ports"
	"TubeDigest/internal/retry"
)

const (
	defaultBaseURL = "https://www.youtube.com/feeds/videos.xml"
	fetchTimeout   = 30 * time.Second
)

const ytNamespace = "http://www.youtube.com/xml/schemas/2015"

// Client fetches a channel's published-video feed and parses its entries.
type Client struct {
	baseURL string
	client  *http.Client
	policy  retry.Policy
	logger  *slog.Logger
}

var _ ports.FeedSource = (*Client)(nil)

// NewClient wires an HTTP client; policy defaults to 3 attempts at 5/10/20s.
func NewClient(client *http.Client, policy retry.Policy, logger *slog.Logger) *Client {
	if client == nil {
		client = &http.Client{Timeout: fetchTimeout}
	}
	if policy.MaxAttempts == 0 {
		policy = retry.Policy{
			MaxAttempts: 3,
			Backoff:     []time.Duration{5 * time.Second, 10 * time.Second, 20 * time.Second},
		}
	}
	return &Client{baseURL: defaultBaseURL, client: client, policy: policy, logger: logger}
}

// SetBaseURL overrides the feed endpoint, used by tests.
func (c *Client) SetBaseURL(base string) {
	c.baseURL = base
}

// Fetch returns the channel's video entries sorted newest-first. A feed that
// cannot be fetched or parsed makes the whole channel unusable for this run.
func (c *Client) Fetch(ctx context.Context, channelID string) ([]domain.VideoEntry, error) {
	feedURL := fmt.Sprintf("%s?channel_id=%s", c.baseURL, url.QueryEscape(channelID))

	resp, err := c.policy.Do(ctx, c.logger, func(ctx context.Context) (*retry.Response, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, feedURL, nil)
		if err != nil {
			return nil, fmt.Errorf("build request: %w", err)
		}
		req.Header.Set("User-Agent", "TubeDigest/1.0")

		httpResp, err := c.client.Do(req)
		if err != nil {
			return nil, err
		}
		return retry.FromHTTP(httpResp)
	})
	if err != nil {
		return nil, fmt.Errorf("fetch feed for channel %s: %w", channelID, err)
	}

	videos, err := parseFeed(resp.Body, channelID)
	if err != nil {
		return nil, fmt.Errorf("channel %s: %w", channelID, err)
	}

	sort.SliceStable(videos, func(i, j int) bool {
		return videos[i].Published.After(videos[j].Published)
	})

	if c.logger != nil {
		c.logger.Info("feed fetched", "channel_id", channelID, "videos", len(videos))
	}
	return videos, nil
}

type atomFeed struct {
	XMLName xml.Name    `xml:"feed"`
	Entries []atomEntry `xml:"entry"`
}

type atomEntry struct {
	VideoID   string     `xml:"http://www.youtube.com/xml/schemas/2015 videoId"`
	ChannelID string     `xml:"http://www.youtube.com/xml/schemas/2015 channelId"`
	Title     string     `xml:"title"`
	Links     []atomLink `xml:"link"`
	Published string     `xml:"published"`
}

type atomLink struct {
	Rel  string `xml:"rel,attr"`
	Href string `xml:"href,attr"`
}

// parseFeed decodes the Atom document. Entries missing the video identity or
// title are dropped; a bad published timestamp falls back to now.
func parseFeed(data []byte, channelID string) ([]domain.VideoEntry, error) {
	var doc atomFeed
	if err := xml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("parse feed XML: %w", err)
	}

	videos := make([]domain.VideoEntry, 0, len(doc.Entries))
	for _, entry := range doc.Entries {
		if entry.VideoID == "" || entry.Title == "" {
			continue
		}

		published, err := time.Parse(time.RFC3339, entry.Published)
		if err != nil {
			published = time.Now().UTC()
		}

		entryChannel := entry.ChannelID
		if entryChannel == "" {
			entryChannel = channelID
		}

		videos = append(videos, domain.VideoEntry{
			VideoID:   entry.VideoID,
			Title:     entry.Title,
			URL:       alternateLink(entry.Links),
			Published: published,
			ChannelID: entryChannel,
		})
	}

	return videos, nil
}

func alternateLink(links []atomLink) string {
	for _, link := range links {
		if link.Rel == "alternate" {
			return link.Href
		}
	}
	if len(links) > 0 {
		return links[0].Href
	}
	return ""
}
