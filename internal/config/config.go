package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"TubeDigest/internal/domain"
)

const (
	defaultConfigPath  = "config/channels.yml"
	defaultHistoryPath = "data/notified.json"

	configPathEnv  = "TUBEDIGEST_CONFIG"
	databaseDSNEnv = "DATABASE_DSN"
	geminiKeyEnv   = "GEMINI_API_KEY"
	webhookURLEnv  = "DISCORD_WEBHOOK_URL"
)

// Notification delivery shapes.
const (
	StyleImage = "image" // rendered infographic upload
	StyleText  = "text"  // chunked rich-text embeds
)

// Config holds high-level settings required across the application.
type Config struct {
	Channels []ChannelConfig `yaml:"channels"`
	Settings Settings        `yaml:"settings"`
	Database DatabaseConfig  `yaml:"database"`
	History  HistoryConfig   `yaml:"history"`
	Logging  LoggingConfig   `yaml:"logging"`
	Render   RenderConfig    `yaml:"render"`

	// Secrets come from the environment only, never from the file.
	GeminiAPIKey string `yaml:"-"`
	WebhookURL   string `yaml:"-"`
}

// ChannelConfig describes a single watched channel.
type ChannelConfig struct {
	ChannelID      string `yaml:"channel_id"`
	Name           string `yaml:"name"`
	PromptTemplate string `yaml:"prompt_template"`
}

// Settings groups run-wide tunables.
type Settings struct {
	CheckIntervalMinutes  int    `yaml:"check_interval_minutes"`
	MaxSummaryLength      int    `yaml:"max_summary_length"`
	HistoryRetentionDays  int    `yaml:"history_retention_days"`
	DefaultPromptTemplate string `yaml:"default_prompt_template"`
	NotificationStyle     string `yaml:"notification_style"`
}

// DatabaseConfig describes the optional Postgres history backend. An empty
// DSN keeps the file backend.
type DatabaseConfig struct {
	DSN string `yaml:"dsn"`
}

// HistoryConfig locates the file-backed history.
type HistoryConfig struct {
	Path string `yaml:"path"`
}

// LoggingConfig selects log verbosity.
type LoggingConfig struct {
	Level string `yaml:"level"`
}

// RenderConfig describes the headless browser invocation.
type RenderConfig struct {
	BrowserPath   string `yaml:"browser_path"`
	ViewportWidth int    `yaml:"viewport_width"`
	Scale         int    `yaml:"scale"`
}

// CheckInterval resolves the watch-mode interval.
func (s Settings) CheckInterval() time.Duration {
	return time.Duration(s.CheckIntervalMinutes) * time.Minute
}

// DomainChannels converts the channel list for the pipeline.
func (c Config) DomainChannels() []domain.Channel {
	channels := make([]domain.Channel, 0, len(c.Channels))
	for _, ch := range c.Channels {
		channels = append(channels, domain.Channel{
			ChannelID:      ch.ChannelID,
			Name:           ch.Name,
			PromptTemplate: ch.PromptTemplate,
		})
	}
	return channels
}

// Load reads the YAML configuration, applies defaults and environment
// overrides, and validates the result. path may be empty, in which case the
// TUBEDIGEST_CONFIG variable and then the default location are used.
func Load(path string) (Config, error) {
	if path == "" {
		path = os.Getenv(configPathEnv)
	}
	if path == "" {
		path = defaultConfigPath
	}

	raw, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("config: cannot read %s: %w", path, err)
	}

	var cfg Config
	if err := yaml.Unmarshal(raw, &cfg); err != nil {
		return Config{}, fmt.Errorf("config: cannot parse %s: %w", path, err)
	}

	cfg.applyDefaults()
	cfg.applyEnvOverrides()

	if err := cfg.validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c *Config) applyDefaults() {
	if c.Settings.CheckIntervalMinutes == 0 {
		c.Settings.CheckIntervalMinutes = 5
	}
	if c.Settings.MaxSummaryLength == 0 {
		c.Settings.MaxSummaryLength = 3500
	}
	if c.Settings.HistoryRetentionDays == 0 {
		c.Settings.HistoryRetentionDays = 90
	}
	if c.Settings.NotificationStyle == "" {
		c.Settings.NotificationStyle = StyleImage
	}
	if c.History.Path == "" {
		c.History.Path = defaultHistoryPath
	}
}

func (c *Config) applyEnvOverrides() {
	if v := os.Getenv(databaseDSNEnv); v != "" {
		c.Database.DSN = v
	}
	c.GeminiAPIKey = os.Getenv(geminiKeyEnv)
	c.WebhookURL = os.Getenv(webhookURLEnv)
}

func (c *Config) validate() error {
	if len(c.Channels) == 0 {
		return fmt.Errorf("config: channels is missing or empty")
	}
	for i, ch := range c.Channels {
		if ch.ChannelID == "" {
			return fmt.Errorf("config: channels[%d].channel_id is missing", i)
		}
		if !strings.HasPrefix(ch.ChannelID, "UC") {
			return fmt.Errorf("config: channels[%d].channel_id must start with UC: %s", i, ch.ChannelID)
		}
		if ch.Name == "" {
			return fmt.Errorf("config: channels[%d].name is missing", i)
		}
	}

	if strings.TrimSpace(c.Settings.DefaultPromptTemplate) == "" {
		return fmt.Errorf("config: settings.default_prompt_template is missing")
	}
	if c.Settings.MaxSummaryLength < 100 || c.Settings.MaxSummaryLength > 4000 {
		return fmt.Errorf("config: settings.max_summary_length must be within 100..4000: %d", c.Settings.MaxSummaryLength)
	}
	if c.Settings.HistoryRetentionDays < 1 {
		return fmt.Errorf("config: settings.history_retention_days must be at least 1: %d", c.Settings.HistoryRetentionDays)
	}
	if c.Settings.CheckIntervalMinutes < 1 {
		return fmt.Errorf("config: settings.check_interval_minutes must be at least 1: %d", c.Settings.CheckIntervalMinutes)
	}
	switch c.Settings.NotificationStyle {
	case StyleImage, StyleText:
	default:
		return fmt.Errorf("config: settings.notification_style must be %q or %q: %s",
			StyleImage, StyleText, c.Settings.NotificationStyle)
	}

	if c.GeminiAPIKey == "" {
		return fmt.Errorf("config: %s is not set", geminiKeyEnv)
	}
	if c.WebhookURL == "" {
		return fmt.Errorf("config: %s is not set", webhookURLEnv)
	}
	return nil
}
