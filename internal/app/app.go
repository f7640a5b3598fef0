package app

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"

	_ "github.com/lib/pq"

	"TubeDigest/internal/config"
	"TubeDigest/internal/domain"
	"TubeDigest/internal/infrastructure/discord"
	"TubeDigest/internal/infrastructure/feed"
	"TubeDigest/internal/infrastructure/filter"
	"TubeDigest/internal/infrastructure/gemini"
	"TubeDigest/internal/infrastructure/render"
	"TubeDigest/internal/infrastructure/scheduler"
	"TubeDigest/internal/infrastructure/storage"
	"TubeDigest/internal/logging"
	"TubeDigest/internal/ports"
	"TubeDigest/internal/retry"
	"TubeDigest/internal/usecase"
)

// Application wires configuration to adapters and lifecycle orchestration.
type Application struct {
	cfg      config.Config
	logger   *slog.Logger
	pipeline *usecase.Pipeline
	channels []domain.Channel
	db       *sql.DB
}

// New builds a runnable application instance.
func New(cfg config.Config, baseLogger *slog.Logger) (*Application, error) {
	if baseLogger == nil {
		baseLogger = logging.New(cfg.Logging.Level)
	}

	a := &Application{
		cfg:      cfg,
		logger:   baseLogger,
		channels: cfg.DomainChannels(),
	}

	ledger, err := a.newLedger(baseLogger)
	if err != nil {
		return nil, err
	}

	a.pipeline = usecase.NewPipeline(usecase.PipelineDeps{
		Feed:       feed.NewClient(nil, retry.Policy{}, baseLogger.With("component", "feed")),
		Filter:     filter.New(nil, baseLogger.With("component", "filter")),
		Summarizer: gemini.NewClient(cfg.GeminiAPIKey, cfg.Settings.MaxSummaryLength, baseLogger.With("component", "gemini")),
		Renderer: render.NewRenderer(cfg.Render.BrowserPath, cfg.Render.ViewportWidth,
			cfg.Render.Scale, baseLogger.With("component", "render")),
		Notifier: discord.NewNotifier(cfg.WebhookURL, baseLogger.With("component", "discord")),
		Ledger:   ledger,
		Logger:   baseLogger.With("component", "pipeline"),
	}, usecase.Options{
		DefaultPrompt:      cfg.Settings.DefaultPromptTemplate,
		RetentionDays:      cfg.Settings.HistoryRetentionDays,
		ImageNotifications: cfg.Settings.NotificationStyle == config.StyleImage,
	})

	return a, nil
}

// newLedger selects the history backend: Postgres when a DSN is configured,
// the JSON file otherwise.
func (a *Application) newLedger(logger *slog.Logger) (ports.Ledger, error) {
	if a.cfg.Database.DSN == "" {
		return storage.NewFileLedger(a.cfg.History.Path, logger.With("component", "history")), nil
	}

	db, err := sql.Open("postgres", a.cfg.Database.DSN)
	if err != nil {
		return nil, fmt.Errorf("open history database: %w", err)
	}
	a.db = db
	return storage.NewPostgresLedger(db, logger.With("component", "history")), nil
}

// Run performs a single pipeline execution.
func (a *Application) Run(ctx context.Context) error {
	return a.pipeline.Run(ctx, a.channels)
}

// Watch re-runs the pipeline on the configured interval until the context
// is cancelled.
func (a *Application) Watch(ctx context.Context) error {
	driver := scheduler.NewIntervalScheduler(a.cfg.Settings.CheckInterval())
	runner := usecase.NewScheduler(driver, a.pipeline, a.channels, a.logger.With("component", "scheduler"))

	if err := runner.Start(ctx); err != nil {
		return fmt.Errorf("start scheduler: %w", err)
	}
	a.logger.Info("watch mode started", "interval", a.cfg.Settings.CheckInterval())

	<-ctx.Done()
	return runner.Stop(context.Background())
}

// Close releases pooled resources.
func (a *Application) Close() error {
	if a.db != nil {
		return a.db.Close()
	}
	return nil
}
