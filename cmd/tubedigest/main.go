package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"TubeDigest/internal/app"
	"TubeDigest/internal/config"
	"TubeDigest/internal/infrastructure/discord"
	"TubeDigest/internal/logging"
)

func main() {
	var (
		configPath string
		watch      bool
		debug      bool
	)

	root := &cobra.Command{
		Use:           "tubedigest",
		Short:         "Watches YouTube channels and posts summarized new videos to Discord",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(configPath, watch, debug)
		},
	}
	root.Flags().StringVar(&configPath, "config", "", "path to channels.yml")
	root.Flags().BoolVar(&watch, "watch", false, "keep running, checking on the configured interval")
	root.Flags().BoolVar(&debug, "debug", false, "verbose logging")

	if err := root.Execute(); err != nil {
		os.Exit(1)
	}
}

func run(configPath string, watch, debug bool) error {
	// optional; secrets usually come from the real environment
	_ = godotenv.Load()

	level := ""
	if debug {
		level = "debug"
	}

	cfg, err := config.Load(configPath)
	if err != nil {
		logger := logging.New(level)
		logger.Error("configuration error", "error", err)
		alertConfigError(err)
		return err
	}
	if cfg.Logging.Level != "" && level == "" {
		level = cfg.Logging.Level
	}
	logger := logging.New(level)

	application, err := app.New(cfg, logger)
	if err != nil {
		logger.Error("startup failed", "error", err)
		return err
	}
	defer application.Close()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if watch {
		err = application.Watch(ctx)
	} else {
		err = application.Run(ctx)
	}
	if err != nil {
		logger.Error("application stopped", "error", err)
		return err
	}
	return nil
}

// alertConfigError pushes a best-effort operator alert when the webhook is
// already known from the environment. Failures here are silent.
func alertConfigError(err error) {
	webhook := os.Getenv("DISCORD_WEBHOOK_URL")
	if webhook == "" {
		return
	}
	notifier := discord.NewNotifier(webhook, nil)
	notifier.SendError(context.Background(), "⚠️ Configuration error", err.Error())
}
