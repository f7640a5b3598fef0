package gemini

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"TubeDigest/internal/domain"
	"TubeDigest/internal/ports"
	"TubeDigest/internal/retry"
)

const (
	defaultModel    = "gemini-2.5-flash"
	defaultEndpoint = "https://generativelanguage.googleapis.com/v1beta/models/" + defaultModel + ":generateContent"
	requestTimeout  = 300 * time.Second

	maxLengthPlaceholder = "{max_length}"
)

// Client calls the Gemini generateContent API to summarize a video.
//
// Its rate limit is a hard per-run stop signal: a 429 is surfaced as
// domain.ErrRateLimited immediately instead of backing off locally.
type Client struct {
	endpoint  string
	apiKey    string
	maxLength int
	client    *http.Client
	policy    retry.Policy
	logger    *slog.Logger
}

var _ ports.Summarizer = (*Client)(nil)

// NewClient builds a summarization client. The backoff schedule is longer
// than the other clients' because generation calls are slow and expensive.
func NewClient(apiKey string, maxLength int, logger *slog.Logger) *Client {
	return &Client{
		endpoint:  defaultEndpoint,
		apiKey:    apiKey,
		maxLength: maxLength,
		client:    &http.Client{Timeout: requestTimeout},
		policy: retry.Policy{
			MaxAttempts: 3,
			Backoff:     []time.Duration{10 * time.Second, 30 * time.Second, 60 * time.Second},
			RateLimit:   retry.FailFast,
			Terminal:    terminalError,
		},
		logger: logger,
	}
}

// SetEndpoint overrides the API endpoint, used by tests.
func (c *Client) SetEndpoint(endpoint string) {
	c.endpoint = endpoint
}

// SetSleep overrides the retry sleep, used by tests.
func (c *Client) SetSleep(sleep func(context.Context, time.Duration) error) {
	c.policy.Sleep = sleep
}

type generateRequest struct {
	Contents         []requestContent `json:"contents"`
	GenerationConfig generationConfig `json:"generationConfig"`
}

type requestContent struct {
	Parts []requestPart `json:"parts"`
}

type requestPart struct {
	Text     string    `json:"text,omitempty"`
	FileData *fileData `json:"fileData,omitempty"`
}

type fileData struct {
	MimeType string `json:"mimeType"`
	FileURI  string `json:"fileUri"`
}

type generationConfig struct {
	Temperature     float64 `json:"temperature"`
	MaxOutputTokens int     `json:"maxOutputTokens"`
}

type generateResponse struct {
	Candidates    []candidate    `json:"candidates"`
	UsageMetadata *usageMetadata `json:"usageMetadata"`
}

type candidate struct {
	Content      candidateContent `json:"content"`
	FinishReason string           `json:"finishReason"`
}

type candidateContent struct {
	Parts []candidatePart `json:"parts"`
}

type candidatePart struct {
	Text string `json:"text"`
}

type usageMetadata struct {
	TotalTokenCount int `json:"totalTokenCount"`
}

type errorResponse struct {
	Error struct {
		Message string `json:"message"`
	} `json:"error"`
}

// Summarize sends a single multimodal request referencing the video URL and
// returns the extracted HTML summary document.
func (c *Client) Summarize(ctx context.Context, videoURL, prompt string) (string, error) {
	prompt = strings.ReplaceAll(prompt, maxLengthPlaceholder, strconv.Itoa(c.maxLength))

	body, err := json.Marshal(generateRequest{
		Contents: []requestContent{{
			Parts: []requestPart{
				{Text: prompt},
				{FileData: &fileData{MimeType: "video/*", FileURI: videoURL}},
			},
		}},
		GenerationConfig: generationConfig{Temperature: 0.7, MaxOutputTokens: 16384},
	})
	if err != nil {
		return "", fmt.Errorf("marshal request: %w", err)
	}

	resp, err := c.policy.Do(ctx, c.logger, func(ctx context.Context) (*retry.Response, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint+"?key="+c.apiKey, bytes.NewReader(body))
		if err != nil {
			return nil, fmt.Errorf("build request: %w", err)
		}
		req.Header.Set("Content-Type", "application/json")

		httpResp, err := c.client.Do(req)
		if err != nil {
			return nil, err
		}
		return retry.FromHTTP(httpResp)
	})
	if err != nil {
		return "", fmt.Errorf("summarize %s: %w", videoURL, err)
	}

	raw, err := c.extractCandidate(resp.Body, videoURL)
	if err != nil {
		return "", fmt.Errorf("summarize %s: %w", videoURL, err)
	}

	htmlContent, err := ExtractHTML(raw)
	if err != nil {
		return "", fmt.Errorf("summarize %s: %w", videoURL, err)
	}

	if c.logger != nil {
		c.logger.Info("summary generated", "video_url", videoURL, "length", len(htmlContent))
	}
	return htmlContent, nil
}

// extractCandidate pulls the first candidate's text out of the API response.
func (c *Client) extractCandidate(body []byte, videoURL string) (string, error) {
	var parsed generateResponse
	if err := json.Unmarshal(body, &parsed); err != nil {
		return "", fmt.Errorf("decode response: %w", err)
	}

	if len(parsed.Candidates) == 0 {
		return "", fmt.Errorf("%w: no candidates", domain.ErrEmptyOutput)
	}

	first := parsed.Candidates[0]
	if first.FinishReason != "" && first.FinishReason != "STOP" {
		if c.logger != nil {
			c.logger.Warn("generation did not finish normally",
				"finish_reason", first.FinishReason, "video_url", videoURL)
		}
	}

	if len(first.Content.Parts) == 0 || strings.TrimSpace(first.Content.Parts[0].Text) == "" {
		return "", fmt.Errorf("%w: no text content", domain.ErrEmptyOutput)
	}

	if parsed.UsageMetadata != nil && parsed.UsageMetadata.TotalTokenCount > 0 && c.logger != nil {
		c.logger.Info("token usage", "total_tokens", parsed.UsageMetadata.TotalTokenCount, "video_url", videoURL)
	}

	return first.Content.Parts[0].Text, nil
}

// terminalError maps Gemini's 4xx responses to typed failures: 403 is a
// credential problem, 400 mentioning an exceeded token budget means the
// video is too long to summarize and only that item should be skipped.
func terminalError(resp *retry.Response) error {
	switch resp.StatusCode {
	case http.StatusForbidden:
		return fmt.Errorf("%w (HTTP 403)", domain.ErrInvalidCredentials)
	case http.StatusBadRequest:
		msg := errorMessage(resp.Body)
		lower := strings.ToLower(msg)
		if strings.Contains(lower, "token") && strings.Contains(lower, "exceed") {
			return fmt.Errorf("%w: %s", domain.ErrTooLong, msg)
		}
		return &domain.StatusError{Code: http.StatusBadRequest, Body: msg}
	}
	return nil
}

func errorMessage(body []byte) string {
	var parsed errorResponse
	if err := json.Unmarshal(body, &parsed); err == nil && parsed.Error.Message != "" {
		return parsed.Error.Message
	}
	if len(body) > 200 {
		body = body[:200]
	}
	return string(body)
}
