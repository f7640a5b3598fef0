package usecase

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"TubeDigest/internal/domain"
	"TubeDigest/internal/ports"
)

// Pause before every summarization call after the first, to stay under the
// Gemini requests-per-minute allowance.
const summarizeDelay = 4 * time.Second

// Options carries the run-wide tunables resolved from configuration.
type Options struct {
	DefaultPrompt      string
	RetentionDays      int
	ImageNotifications bool
}

// PipelineDeps wires all driven adapters into the orchestration pipeline.
type PipelineDeps struct {
	Feed       ports.FeedSource
	Filter     ports.VideoFilter
	Summarizer ports.Summarizer
	Renderer   ports.Renderer
	Notifier   ports.Notifier
	Ledger     ports.Ledger
	Logger     *slog.Logger
}

// Pipeline implements the check-summarize-notify workflow.
type Pipeline struct {
	feed       ports.FeedSource
	filter     ports.VideoFilter
	summarizer ports.Summarizer
	renderer   ports.Renderer
	notifier   ports.Notifier
	ledger     ports.Ledger
	logger     *slog.Logger
	opts       Options

	sleep func(ctx context.Context, d time.Duration) error
}

// NewPipeline constructs the orchestration component.
func NewPipeline(deps PipelineDeps, opts Options) *Pipeline {
	return &Pipeline{
		feed:       deps.Feed,
		filter:     deps.Filter,
		summarizer: deps.Summarizer,
		renderer:   deps.Renderer,
		notifier:   deps.Notifier,
		ledger:     deps.Ledger,
		logger:     deps.Logger,
		opts:       opts,
		sleep:      sleepContext,
	}
}

// SetSleep overrides the inter-call pause, used by tests.
func (p *Pipeline) SetSleep(sleep func(ctx context.Context, d time.Duration) error) {
	p.sleep = sleep
}

// Run executes one full pass over the configured channels: fetch the feed,
// drop shorts and live streams, summarize and deliver the new videos, then
// age out and persist the history. A video is recorded as notified only
// after its notification is confirmed delivered, so failed items are picked
// up again on the next run.
func (p *Pipeline) Run(ctx context.Context, channels []domain.Channel) (err error) {
	if err := p.ledger.Load(); err != nil {
		return fmt.Errorf("load history: %w", err)
	}

	// Delivered marks must reach the ledger even when the run is cut short
	// by cancellation; losing them would re-notify next run.
	defer func() {
		p.ledger.CleanupOld(p.opts.RetentionDays)
		if saveErr := p.ledger.Save(); saveErr != nil {
			saveErr = fmt.Errorf("save history: %w", saveErr)
			if err == nil {
				err = saveErr
			} else {
				p.logger.Error("history save failed", "error", saveErr)
			}
			return
		}
		p.logger.Info("run finished")
	}()

	p.logger.Info("run started", "channels", len(channels))

	// A rate-limited Gemini response stops all remaining summarization for
	// this run; skipped videos stay unrecorded and are retried next run.
	rateLimited := false
	firstSummary := true

	for _, channel := range channels {
		if rateLimited {
			p.logger.Warn("skipping channel, rate limited", "channel", channel.Name)
			continue
		}

		p.logger.Info("processing channel", "channel", channel.Name, "channel_id", channel.ChannelID)

		videos, err := p.feed.Fetch(ctx, channel.ChannelID)
		if err != nil {
			p.logger.Error("feed fetch failed", "channel", channel.Name, "error", err)
			p.notifier.SendError(ctx, "⚠️ Feed fetch error",
				fmt.Sprintf("Channel: %s\n%v", channel.Name, err))
			continue
		}

		fresh := p.ledger.FilterNew(p.filter.Filter(ctx, videos))
		if len(fresh) == 0 {
			p.logger.Info("no new videos", "channel", channel.Name)
			continue
		}

		prompt := channel.PromptTemplate
		if prompt == "" {
			prompt = p.opts.DefaultPrompt
		}

		for _, video := range fresh {
			if !firstSummary {
				p.logger.Info("pausing between summarization calls", "delay", summarizeDelay)
				if err := p.sleep(ctx, summarizeDelay); err != nil {
					return err
				}
			}
			firstSummary = false

			summary, err := p.summarizer.Summarize(ctx, video.URL, prompt)
			if errors.Is(err, domain.ErrRateLimited) {
				p.logger.Warn("rate limited, remaining videos deferred to next run", "error", err)
				rateLimited = true
				break
			}
			if errors.Is(err, domain.ErrTooLong) {
				p.logger.Warn("video exceeds the model context, skipped", "video", video.Title)
				continue
			}
			if err != nil {
				p.logger.Error("summarization failed", "video", video.Title, "error", err)
				p.notifier.SendError(ctx, "⚠️ Summary generation error",
					fmt.Sprintf("Channel: %s\nVideo: %s\n%v", channel.Name, video.Title, err))
				continue
			}

			if err := p.deliver(ctx, channel, video, summary); err != nil {
				continue
			}
			p.ledger.MarkNotified(video)
		}
	}

	return nil
}

// deliver sends the summary in the configured shape. The rendered image is a
// temp file released after the delivery attempt regardless of its outcome.
func (p *Pipeline) deliver(ctx context.Context, channel domain.Channel, video domain.VideoEntry, summary string) error {
	if !p.opts.ImageNotifications {
		if err := p.notifier.Send(ctx, video, channel.Name, summary); err != nil {
			p.logger.Error("notification failed", "video", video.Title, "error", err)
			p.notifier.SendError(ctx, "⚠️ Notification error",
				fmt.Sprintf("Channel: %s\nVideo: %s\n%v", channel.Name, video.Title, err))
			return err
		}
		return nil
	}

	imagePath, err := p.renderer.Render(ctx, summary, video.Title)
	if err != nil {
		p.logger.Error("image generation failed", "video", video.Title, "error", err)
		p.notifier.SendError(ctx, "⚠️ Image generation error",
			fmt.Sprintf("Channel: %s\nVideo: %s\n%v", channel.Name, video.Title, err))
		return err
	}
	defer p.renderer.Cleanup(imagePath)

	if err := p.notifier.SendImage(ctx, video, channel.Name, imagePath); err != nil {
		p.logger.Error("notification failed", "video", video.Title, "error", err)
		p.notifier.SendError(ctx, "⚠️ Notification error",
			fmt.Sprintf("Channel: %s\nVideo: %s\n%v", channel.Name, video.Title, err))
		return err
	}
	return nil
}

func sleepContext(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
