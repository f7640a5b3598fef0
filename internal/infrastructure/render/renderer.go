package render

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"time"

	"TubeDigest/internal/ports"
)

const (
	defaultBrowserPath   = "chromium"
	defaultViewportWidth = 1200
	defaultScaleFactor   = 2

	// Upper bound on a single render. Font and asset loading is covered by
	// the browser's virtual time budget, this guards against a hung process.
	renderTimeout = 60 * time.Second

	// Virtual time given to the page before the screenshot, so web fonts
	// referenced by the document have a chance to load.
	settleBudgetMillis = 5000
)

// Renderer turns an HTML document into a PNG by driving a headless browser
// subprocess. The document is written to a temp file and the browser is
// pointed at it with a file:// URL.
type Renderer struct {
	browserPath   string
	viewportWidth int
	scaleFactor   int
	logger        *slog.Logger

	run func(ctx context.Context, name string, args ...string) ([]byte, error)
}

var _ ports.Renderer = (*Renderer)(nil)

// NewRenderer configures the browser invocation. Empty or zero options fall
// back to chromium with the standard viewport.
func NewRenderer(browserPath string, viewportWidth, scaleFactor int, logger *slog.Logger) *Renderer {
	if browserPath == "" {
		browserPath = defaultBrowserPath
	}
	if viewportWidth <= 0 {
		viewportWidth = defaultViewportWidth
	}
	if scaleFactor <= 0 {
		scaleFactor = defaultScaleFactor
	}
	return &Renderer{
		browserPath:   browserPath,
		viewportWidth: viewportWidth,
		scaleFactor:   scaleFactor,
		logger:        logger,
		run: func(ctx context.Context, name string, args ...string) ([]byte, error) {
			return exec.CommandContext(ctx, name, args...).CombinedOutput()
		},
	}
}

// SetRunner overrides the subprocess runner, used by tests.
func (r *Renderer) SetRunner(run func(ctx context.Context, name string, args ...string) ([]byte, error)) {
	r.run = run
}

// Render writes htmlContent to a temp file, screenshots it, and returns the
// path of the PNG. The caller owns the returned file and releases it with
// Cleanup. videoTitle is only used for logging.
func (r *Renderer) Render(ctx context.Context, htmlContent, videoTitle string) (string, error) {
	htmlFile, err := os.CreateTemp("", "yt_summary_*.html")
	if err != nil {
		return "", fmt.Errorf("create temp html: %w", err)
	}
	htmlPath := htmlFile.Name()
	defer os.Remove(htmlPath)

	if _, err := htmlFile.WriteString(htmlContent); err != nil {
		htmlFile.Close()
		return "", fmt.Errorf("write temp html: %w", err)
	}
	if err := htmlFile.Close(); err != nil {
		return "", fmt.Errorf("close temp html: %w", err)
	}

	pngFile, err := os.CreateTemp("", "yt_summary_*.png")
	if err != nil {
		return "", fmt.Errorf("create temp png: %w", err)
	}
	pngPath := pngFile.Name()
	pngFile.Close()

	ctx, cancel := context.WithTimeout(ctx, renderTimeout)
	defer cancel()

	args := []string{
		"--headless",
		"--disable-gpu",
		"--hide-scrollbars",
		fmt.Sprintf("--screenshot=%s", pngPath),
		fmt.Sprintf("--window-size=%d,800", r.viewportWidth),
		fmt.Sprintf("--force-device-scale-factor=%d", r.scaleFactor),
		fmt.Sprintf("--virtual-time-budget=%d", settleBudgetMillis),
		"file://" + htmlPath,
	}
	if output, err := r.run(ctx, r.browserPath, args...); err != nil {
		os.Remove(pngPath)
		return "", fmt.Errorf("render %q: %s: %w", videoTitle, string(output), err)
	}

	info, err := os.Stat(pngPath)
	if err != nil || info.Size() == 0 {
		os.Remove(pngPath)
		return "", fmt.Errorf("render %q: browser produced no image", videoTitle)
	}

	if r.logger != nil {
		r.logger.Info("infographic rendered",
			"video", videoTitle, "size_kb", float64(info.Size())/1024)
	}
	return pngPath, nil
}

// Cleanup removes a rendered image. Removal failures are logged, never
// propagated, since a leaked temp file must not affect the pipeline.
func (r *Renderer) Cleanup(imagePath string) {
	if imagePath == "" {
		return
	}
	if err := os.Remove(imagePath); err != nil && !os.IsNotExist(err) {
		if r.logger != nil {
			r.logger.Warn("temp image removal failed", "path", imagePath, "error", err)
		}
	}
}
