package discord

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"mime/multipart"
	"net/http"
	"net/textproto"
	"os"
	"strconv"
	"time"

	md "github.com/JohannesKaufmann/html-to-markdown"

	"TubeDigest/internal/domain"
	"TubeDigest/internal/ports"
	"TubeDigest/internal/retry"
)

const (
	colorNormal = 3447003  // #3498DB
	colorError  = 15158332 // #E74C3C

	webhookTimeout = 30 * time.Second
)

// Notifier delivers video notifications through a Discord webhook.
type Notifier struct {
	webhookURL string
	client     *http.Client
	policy     retry.Policy
	converter  *md.Converter
	logger     *slog.Logger
	now        func() time.Time
}

var _ ports.Notifier = (*Notifier)(nil)

// NewNotifier registers the webhook endpoint. 429 responses honor the
// server-declared wait instead of the fixed backoff schedule.
func NewNotifier(webhookURL string, logger *slog.Logger) *Notifier {
	return &Notifier{
		webhookURL: webhookURL,
		client:     &http.Client{Timeout: webhookTimeout},
		policy: retry.Policy{
			MaxAttempts: 3,
			Backoff:     []time.Duration{5 * time.Second, 10 * time.Second, 20 * time.Second},
			RateLimit:   retry.HonorHint,
			RetryAfter:  parseRetryAfter,
		},
		converter: md.NewConverter("", true, nil),
		logger:    logger,
		now:       time.Now,
	}
}

// SetSleep overrides the retry sleep, used by tests.
func (n *Notifier) SetSleep(sleep func(context.Context, time.Duration) error) {
	n.policy.Sleep = sleep
}

// SetNow overrides the clock, used by tests.
func (n *Notifier) SetNow(now func() time.Time) {
	n.now = now
}

type embed struct {
	Title       string       `json:"title,omitempty"`
	URL         string       `json:"url,omitempty"`
	Description string       `json:"description,omitempty"`
	Color       int          `json:"color"`
	Fields      []embedField `json:"fields,omitempty"`
	Footer      *embedFooter `json:"footer,omitempty"`
	Timestamp   string       `json:"timestamp,omitempty"`
}

type embedField struct {
	Name   string `json:"name"`
	Value  string `json:"value"`
	Inline bool   `json:"inline"`
}

type embedFooter struct {
	Text string `json:"text"`
}

type webhookPayload struct {
	Content string  `json:"content,omitempty"`
	Embeds  []embed `json:"embeds,omitempty"`
}

// Send delivers the summary as rich embeds. The HTML summary is converted to
// Markdown for the embed text and split into protocol-sized chunks; content
// past the embed cap is dropped since the protocol has a hard per-message limit.
func (n *Notifier) Send(ctx context.Context, video domain.VideoEntry, channelName, summary string) error {
	text := summary
	if converted, err := n.converter.ConvertString(summary); err == nil {
		text = converted
	}

	chunks := splitSummary(text, maxEmbedDescription)
	embeds := n.buildEmbeds(video, channelName, chunks)

	if err := n.post(ctx, webhookPayload{Embeds: embeds}); err != nil {
		return fmt.Errorf("send notification for %q: %w", video.Title, err)
	}
	if n.logger != nil {
		n.logger.Info("notification delivered", "video", video.Title, "embeds", len(embeds))
	}
	return nil
}

func (n *Notifier) buildEmbeds(video domain.VideoEntry, channelName string, chunks []string) []embed {
	var embeds []embed
	for i, chunk := range chunks {
		if len(embeds) >= maxEmbedsPerMessage {
			break
		}

		if i == 0 {
			embeds = append(embeds, embed{
				Title:       truncateRunes("\U0001f3ac "+video.Title, maxEmbedTitle),
				URL:         video.URL,
				Description: chunk,
				Color:       colorNormal,
				Fields: []embedField{
					{Name: "Channel", Value: channelName, Inline: true},
					{Name: "Published", Value: video.Published.Format("2006-01-02 15:04"), Inline: true},
				},
				Footer:    &embedFooter{Text: "AI summary by Gemini"},
				Timestamp: n.now().UTC().Format(time.RFC3339),
			})
			continue
		}

		embeds = append(embeds, embed{
			Title:       fmt.Sprintf("\U0001f3ac %s... (continued %d/%d)", clipRunes(video.Title, 50), i+1, len(chunks)),
			Description: chunk,
			Color:       colorNormal,
		})
	}
	return embeds
}

// SendImage uploads the rendered PNG with a short text referencing the video
// URL, as a multipart form.
func (n *Notifier) SendImage(ctx context.Context, video domain.VideoEntry, channelName, imagePath string) error {
	image, err := os.ReadFile(imagePath)
	if err != nil {
		return fmt.Errorf("read image %s: %w", imagePath, err)
	}

	payload, err := json.Marshal(webhookPayload{
		Content: fmt.Sprintf("**%s** new video\n<%s>", channelName, video.URL),
	})
	if err != nil {
		return fmt.Errorf("marshal payload: %w", err)
	}

	_, err = n.policy.Do(ctx, n.logger, func(ctx context.Context) (*retry.Response, error) {
		body, contentType, err := multipartBody(payload, image)
		if err != nil {
			return nil, err
		}

		req, err := http.NewRequestWithContext(ctx, http.MethodPost, n.webhookURL, body)
		if err != nil {
			return nil, fmt.Errorf("build request: %w", err)
		}
		req.Header.Set("Content-Type", contentType)

		httpResp, err := n.client.Do(req)
		if err != nil {
			return nil, err
		}
		return retry.FromHTTP(httpResp)
	})
	if err != nil {
		return fmt.Errorf("send image notification for %q: %w", video.Title, err)
	}

	if n.logger != nil {
		n.logger.Info("image notification delivered", "video", video.Title)
	}
	return nil
}

// SendError alerts the operator with a red embed. A failure to alert must
// never crash the run, so errors are logged and swallowed.
func (n *Notifier) SendError(ctx context.Context, title, detail string) {
	payload := webhookPayload{Embeds: []embed{{
		Title:       title,
		Description: truncateRunes(detail, maxEmbedDescription),
		Color:       colorError,
		Timestamp:   n.now().UTC().Format(time.RFC3339),
	}}}

	if err := n.post(ctx, payload); err != nil {
		if n.logger != nil {
			n.logger.Error("error notification failed", "title", title, "error", err)
		}
		return
	}
	if n.logger != nil {
		n.logger.Info("error notification delivered", "title", title)
	}
}

func (n *Notifier) post(ctx context.Context, payload webhookPayload) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal payload: %w", err)
	}

	_, err = n.policy.Do(ctx, n.logger, func(ctx context.Context) (*retry.Response, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, n.webhookURL, bytes.NewReader(body))
		if err != nil {
			return nil, fmt.Errorf("build request: %w", err)
		}
		req.Header.Set("Content-Type", "application/json")

		httpResp, err := n.client.Do(req)
		if err != nil {
			return nil, err
		}
		return retry.FromHTTP(httpResp)
	})
	return err
}

func multipartBody(payload, image []byte) (*bytes.Buffer, string, error) {
	var buf bytes.Buffer
	writer := multipart.NewWriter(&buf)

	jsonHeader := textproto.MIMEHeader{}
	jsonHeader.Set("Content-Disposition", `form-data; name="payload_json"`)
	jsonHeader.Set("Content-Type", "application/json")
	jsonPart, err := writer.CreatePart(jsonHeader)
	if err != nil {
		return nil, "", fmt.Errorf("create json part: %w", err)
	}
	if _, err := jsonPart.Write(payload); err != nil {
		return nil, "", fmt.Errorf("write json part: %w", err)
	}

	fileHeader := textproto.MIMEHeader{}
	fileHeader.Set("Content-Disposition", `form-data; name="files[0]"; filename="summary.png"`)
	fileHeader.Set("Content-Type", "image/png")
	filePart, err := writer.CreatePart(fileHeader)
	if err != nil {
		return nil, "", fmt.Errorf("create file part: %w", err)
	}
	if _, err := filePart.Write(image); err != nil {
		return nil, "", fmt.Errorf("write file part: %w", err)
	}

	if err := writer.Close(); err != nil {
		return nil, "", fmt.Errorf("close multipart writer: %w", err)
	}
	return &buf, writer.FormDataContentType(), nil
}

// parseRetryAfter reads the server-declared wait from a 429 response: the
// Retry-After header in seconds, else a body-declared retry_after in
// milliseconds (default 5000). One second is added for clock skew safety.
func parseRetryAfter(resp *retry.Response) time.Duration {
	if v := resp.Header.Get("Retry-After"); v != "" {
		if seconds, err := strconv.ParseFloat(v, 64); err == nil {
			return time.Duration(int(seconds)+1) * time.Second
		}
	}

	var body struct {
		RetryAfter *float64 `json:"retry_after"`
	}
	if err := json.Unmarshal(resp.Body, &body); err == nil {
		ms := 5000.0
		if body.RetryAfter != nil {
			ms = *body.RetryAfter
		}
		return time.Duration(int(ms/1000)+1) * time.Second
	}

	return 5 * time.Second
}
