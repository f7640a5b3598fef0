package discord

import (
	"context"
	"encoding/json"
	"io"
	"mime"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"testing"
	"time"
	"unicode/utf8"

	"TubeDigest/internal/domain"
	"TubeDigest/internal/retry"
)

func testVideo() domain.VideoEntry {
	return domain.VideoEntry{
		VideoID:   "vid1",
		Title:     "A Video",
		URL:       "https://www.youtube.com/watch?v=vid1",
		Published: time.Date(2026, 8, 20, 10, 30, 0, 0, time.UTC),
		ChannelID: "UCabc",
	}
}

func newTestNotifier(t *testing.T, handler http.Handler) *Notifier {
	t.Helper()
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)

	n := NewNotifier(server.URL, nil)
	n.client = server.Client()
	n.SetSleep(func(context.Context, time.Duration) error { return nil })
	return n
}

func TestSendBuildsPrimaryEmbed(t *testing.T) {
	t.Parallel()

	var payload webhookPayload
	n := newTestNotifier(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
			t.Errorf("decode payload: %v", err)
		}
		w.WriteHeader(http.StatusNoContent)
	}))

	summary := "<h2>Point</h2><p>Body text</p>"
	if err := n.Send(context.Background(), testVideo(), "My Channel", summary); err != nil {
		t.Fatalf("Send error: %v", err)
	}

	if len(payload.Embeds) != 1 {
		t.Fatalf("expected 1 embed, got %d", len(payload.Embeds))
	}
	first := payload.Embeds[0]
	if !strings.Contains(first.Title, "A Video") {
		t.Fatalf("unexpected title: %q", first.Title)
	}
	if first.URL != "https://www.youtube.com/watch?v=vid1" {
		t.Fatalf("unexpected URL: %q", first.URL)
	}
	// the HTML summary is converted to Markdown for the embed text
	if strings.Contains(first.Description, "<h2>") {
		t.Fatalf("description still contains HTML: %q", first.Description)
	}
	if !strings.Contains(first.Description, "Body text") {
		t.Fatalf("description lost content: %q", first.Description)
	}
	if len(first.Fields) != 2 || first.Fields[0].Value != "My Channel" {
		t.Fatalf("unexpected fields: %+v", first.Fields)
	}
	if first.Color != colorNormal {
		t.Fatalf("unexpected color: %d", first.Color)
	}
}

func TestSendChunksLongSummaryWithContinuationLabels(t *testing.T) {
	t.Parallel()

	var payload webhookPayload
	n := newTestNotifier(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewDecoder(r.Body).Decode(&payload)
		w.WriteHeader(http.StatusNoContent)
	}))

	var b strings.Builder
	for i := 0; i < 3; i++ {
		b.WriteString("## section\n")
		b.WriteString(strings.Repeat("line of text\n", 300))
	}

	if err := n.Send(context.Background(), testVideo(), "My Channel", b.String()); err != nil {
		t.Fatalf("Send error: %v", err)
	}

	if len(payload.Embeds) < 2 {
		t.Fatalf("expected multiple embeds, got %d", len(payload.Embeds))
	}
	if len(payload.Embeds) > maxEmbedsPerMessage {
		t.Fatalf("embed cap exceeded: %d", len(payload.Embeds))
	}
	for i, e := range payload.Embeds {
		if utf8.RuneCountInString(e.Description) > maxEmbedDescription {
			t.Fatalf("embed %d description exceeds cap", i)
		}
		if i > 0 && !strings.Contains(e.Title, "continued") {
			t.Fatalf("embed %d missing continuation label: %q", i, e.Title)
		}
	}
}

func TestSendTruncatesLongTitle(t *testing.T) {
	t.Parallel()

	var payload webhookPayload
	n := newTestNotifier(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewDecoder(r.Body).Decode(&payload)
		w.WriteHeader(http.StatusNoContent)
	}))

	video := testVideo()
	video.Title = strings.Repeat("t", 400)
	if err := n.Send(context.Background(), video, "My Channel", "<p>x</p>"); err != nil {
		t.Fatalf("Send error: %v", err)
	}

	title := payload.Embeds[0].Title
	if utf8.RuneCountInString(title) > maxEmbedTitle {
		t.Fatalf("title exceeds cap: %d runes", utf8.RuneCountInString(title))
	}
	if !strings.HasSuffix(title, "...") {
		t.Fatalf("expected ellipsis marker: %q", title)
	}
}

func TestSendContinuationTitleSingleEllipsis(t *testing.T) {
	t.Parallel()

	var payload webhookPayload
	n := newTestNotifier(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewDecoder(r.Body).Decode(&payload)
		w.WriteHeader(http.StatusNoContent)
	}))

	video := testVideo()
	video.Title = strings.Repeat("t", 120)

	var b strings.Builder
	for i := 0; i < 3; i++ {
		b.WriteString("## section\n")
		b.WriteString(strings.Repeat("line of text\n", 300))
	}
	if err := n.Send(context.Background(), video, "My Channel", b.String()); err != nil {
		t.Fatalf("Send error: %v", err)
	}

	if len(payload.Embeds) < 2 {
		t.Fatalf("expected continuation embeds, got %d", len(payload.Embeds))
	}
	for i, e := range payload.Embeds[1:] {
		if strings.Count(e.Title, "...") != 1 {
			t.Fatalf("continuation embed %d has %d ellipsis markers: %q",
				i+1, strings.Count(e.Title, "..."), e.Title)
		}
		if !strings.Contains(e.Title, strings.Repeat("t", 50)+"...") {
			t.Fatalf("title not clipped to 50 runes: %q", e.Title)
		}
	}
}

func TestSendHonorsRetryAfterHeader(t *testing.T) {
	t.Parallel()

	var calls atomic.Int32
	var waits []time.Duration
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) == 1 {
			w.Header().Set("Retry-After", "3")
			w.WriteHeader(http.StatusTooManyRequests)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	}))
	defer server.Close()

	n := NewNotifier(server.URL, nil)
	n.client = server.Client()
	n.SetSleep(func(_ context.Context, d time.Duration) error {
		waits = append(waits, d)
		return nil
	})

	if err := n.Send(context.Background(), testVideo(), "ch", "<p>x</p>"); err != nil {
		t.Fatalf("Send error: %v", err)
	}
	if len(waits) != 1 || waits[0] != 4*time.Second {
		t.Fatalf("expected a single 4s wait (3+1), got %v", waits)
	}
	if calls.Load() != 2 {
		t.Fatalf("expected 2 calls, got %d", calls.Load())
	}
}

func TestParseRetryAfterBodyMilliseconds(t *testing.T) {
	t.Parallel()

	resp := &retry.Response{
		StatusCode: http.StatusTooManyRequests,
		Header:     http.Header{},
		Body:       []byte(`{"retry_after": 2500}`),
	}
	if got := parseRetryAfter(resp); got != 3*time.Second {
		t.Fatalf("expected 3s (2500ms/1000+1), got %v", got)
	}
}

func TestParseRetryAfterDefaults(t *testing.T) {
	t.Parallel()

	resp := &retry.Response{
		StatusCode: http.StatusTooManyRequests,
		Header:     http.Header{},
		Body:       []byte("not json"),
	}
	if got := parseRetryAfter(resp); got != 5*time.Second {
		t.Fatalf("expected default 5s, got %v", got)
	}

	empty := &retry.Response{
		StatusCode: http.StatusTooManyRequests,
		Header:     http.Header{},
		Body:       []byte(`{}`),
	}
	if got := parseRetryAfter(empty); got != 6*time.Second {
		t.Fatalf("expected 6s (5000ms default +1), got %v", got)
	}
}

func TestSendClientErrorIsTerminal(t *testing.T) {
	t.Parallel()

	var calls atomic.Int32
	n := newTestNotifier(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusBadRequest)
	}))

	if err := n.Send(context.Background(), testVideo(), "ch", "<p>x</p>"); err == nil {
		t.Fatal("expected error for 400")
	}
	if calls.Load() != 1 {
		t.Fatalf("4xx must not retry, got %d calls", calls.Load())
	}
}

func TestSendImageMultipart(t *testing.T) {
	t.Parallel()

	imagePath := filepath.Join(t.TempDir(), "summary.png")
	if err := os.WriteFile(imagePath, []byte("png-bytes"), 0o644); err != nil {
		t.Fatal(err)
	}

	var gotJSON, gotFile []byte
	n := newTestNotifier(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mediaType, params, err := mime.ParseMediaType(r.Header.Get("Content-Type"))
		if err != nil || mediaType != "multipart/form-data" {
			t.Errorf("unexpected content type: %v %v", mediaType, err)
		}
		reader := multipart.NewReader(r.Body, params["boundary"])
		for {
			part, err := reader.NextPart()
			if err == io.EOF {
				break
			}
			if err != nil {
				t.Errorf("read part: %v", err)
				break
			}
			data, _ := io.ReadAll(part)
			switch part.FormName() {
			case "payload_json":
				gotJSON = data
			case "files[0]":
				gotFile = data
				if part.FileName() != "summary.png" {
					t.Errorf("unexpected filename: %s", part.FileName())
				}
			}
		}
		w.WriteHeader(http.StatusOK)
	}))

	if err := n.SendImage(context.Background(), testVideo(), "My Channel", imagePath); err != nil {
		t.Fatalf("SendImage error: %v", err)
	}

	if string(gotFile) != "png-bytes" {
		t.Fatalf("image bytes not delivered: %q", gotFile)
	}
	var payload webhookPayload
	if err := json.Unmarshal(gotJSON, &payload); err != nil {
		t.Fatalf("payload_json not valid JSON: %v", err)
	}
	if !strings.Contains(payload.Content, "My Channel") || !strings.Contains(payload.Content, testVideo().URL) {
		t.Fatalf("unexpected content: %q", payload.Content)
	}
}

func TestSendErrorSwallowsDeliveryFailure(t *testing.T) {
	t.Parallel()

	n := newTestNotifier(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
	}))

	// must not panic or propagate
	n.SendError(context.Background(), "pipeline failure", "details")
}

func TestSendErrorBuildsRedEmbed(t *testing.T) {
	t.Parallel()

	var payload webhookPayload
	n := newTestNotifier(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewDecoder(r.Body).Decode(&payload)
		w.WriteHeader(http.StatusNoContent)
	}))

	n.SendError(context.Background(), "feed failure", "channel X is down")

	if len(payload.Embeds) != 1 {
		t.Fatalf("expected 1 embed, got %d", len(payload.Embeds))
	}
	if payload.Embeds[0].Color != colorError {
		t.Fatalf("expected error color, got %d", payload.Embeds[0].Color)
	}
	if payload.Embeds[0].Title != "feed failure" {
		t.Fatalf("unexpected title: %q", payload.Embeds[0].Title)
	}
}
