// ABOUTME: Configuration loading and parsing for the assistant gateway
// ABOUTME: Supports YAML files with environment variable expansion and duration parsing

package config

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"time"

	"gopkg.in/yaml.v3"
)

// Config represents the complete assistant configuration
type Config struct {
	Telegram    TelegramConfig    `yaml:"telegram"`
	OpenAI      OpenAIConfig      `yaml:"openai"`
	Data        DataConfig        `yaml:"data"`
	Maintenance MaintenanceConfig `yaml:"maintenance"`
	Limits      LimitsConfig      `yaml:"limits"`
	Logging     LoggingConfig     `yaml:"logging"`
}

// TelegramConfig holds the inbound/outbound transport configuration
type TelegramConfig struct {
	Token       string `yaml:"token"`
	AdminChatID int64  `yaml:"admin_chat_id"`
}

// OpenAIConfig holds model selection for the completion and media collaborators
type OpenAIConfig struct {
	APIKey             string `yaml:"api_key"`
	DefaultModel       string `yaml:"default_model"`
	ImageModel         string `yaml:"image_model"`
	ImageSize          string `yaml:"image_size"`
	SpeechModel        string `yaml:"speech_model"`
	DefaultVoice       string `yaml:"default_voice"`
	TranscriptionModel string `yaml:"transcription_model"`
}

// DataConfig holds the data directory layout. The database file and the
// per-conversation artifact directories all live under Path.
type DataConfig struct {
	Path string `yaml:"path"`
}

// DatabasePath returns the SQLite database file path.
func (d DataConfig) DatabasePath() string {
	return filepath.Join(d.Path, "chatbot.sqlite")
}

// ImagesDir returns the root directory for generated image artifacts.
func (d DataConfig) ImagesDir() string {
	return filepath.Join(d.Path, "images")
}

// TranscriptionsDir returns the scratch directory for downloaded voice files.
func (d DataConfig) TranscriptionsDir() string {
	return filepath.Join(d.Path, "transcriptions")
}

// MaintenanceConfig holds sweeper timing and retention settings
type MaintenanceConfig struct {
	Interval       time.Duration `yaml:"-"`
	HistoryTimeout time.Duration `yaml:"-"`
	ImagesToKeep   int           `yaml:"images_to_keep"`

	// Raw string values for YAML unmarshaling
	IntervalRaw       string `yaml:"interval"`
	HistoryTimeoutRaw string `yaml:"history_timeout"`
}

// LimitsConfig holds hardening limits around external calls and queues
type LimitsConfig struct {
	ExternalCallTimeout time.Duration `yaml:"-"`
	QueueSize           int           `yaml:"queue_size"`

	ExternalCallTimeoutRaw string `yaml:"external_call_timeout"`
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// Load reads a configuration file from the given path and returns a parsed Config.
// Environment variables in the format ${VAR_NAME} are expanded.
// Duration strings are parsed into time.Duration values.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	// Expand environment variables in the raw YAML content
	expandedData := expandEnvVars(string(data))

	cfg := defaults()
	if err := yaml.Unmarshal([]byte(expandedData), cfg); err != nil {
		return nil, fmt.Errorf("parsing config file: %w", err)
	}

	if err := parseDurations(cfg); err != nil {
		return nil, fmt.Errorf("parsing durations: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	return cfg, nil
}

// defaults returns a Config pre-filled with the values a minimal file can omit.
func defaults() *Config {
	return &Config{
		OpenAI: OpenAIConfig{
			DefaultModel:       "gpt-4o-mini",
			ImageModel:         "dall-e-3",
			ImageSize:          "1024x1024",
			SpeechModel:        "tts-1",
			DefaultVoice:       "onyx",
			TranscriptionModel: "whisper-1",
		},
		Maintenance: MaintenanceConfig{
			ImagesToKeep:      10,
			IntervalRaw:       "5m",
			HistoryTimeoutRaw: "24h",
		},
		Limits: LimitsConfig{
			QueueSize:              32,
			ExternalCallTimeoutRaw: "2m",
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "text",
		},
	}
}

// expandEnvVars replaces ${VAR_NAME} patterns with the corresponding environment variable values.
// If the environment variable is not set, it is replaced with an empty string.
func expandEnvVars(s string) string {
	re := regexp.MustCompile(`\$\{([^}]+)\}`)

	return re.ReplaceAllStringFunc(s, func(match string) string {
		varName := re.FindStringSubmatch(match)[1]
		return os.Getenv(varName)
	})
}

// Validate checks that all required configuration fields are present and valid.
// Returns an error describing the first validation failure encountered.
func (c *Config) Validate() error {
	if c.Telegram.Token == "" {
		return fmt.Errorf("telegram.token is required")
	}
	if c.Telegram.AdminChatID == 0 {
		return fmt.Errorf("telegram.admin_chat_id is required")
	}
	if c.OpenAI.APIKey == "" {
		return fmt.Errorf("openai.api_key is required")
	}
	if c.Data.Path == "" {
		return fmt.Errorf("data.path is required")
	}
	if c.Maintenance.ImagesToKeep < 1 {
		return fmt.Errorf("maintenance.images_to_keep must be at least 1")
	}
	if c.Limits.QueueSize < 1 {
		return fmt.Errorf("limits.queue_size must be at least 1")
	}
	return nil
}

// parseDurations converts the raw duration strings into time.Duration values
func parseDurations(cfg *Config) error {
	var err error

	if cfg.Maintenance.IntervalRaw != "" {
		cfg.Maintenance.Interval, err = time.ParseDuration(cfg.Maintenance.IntervalRaw)
		if err != nil {
			return fmt.Errorf("parsing maintenance.interval %q: %w", cfg.Maintenance.IntervalRaw, err)
		}
	}

	if cfg.Maintenance.HistoryTimeoutRaw != "" {
		cfg.Maintenance.HistoryTimeout, err = time.ParseDuration(cfg.Maintenance.HistoryTimeoutRaw)
		if err != nil {
			return fmt.Errorf("parsing maintenance.history_timeout %q: %w", cfg.Maintenance.HistoryTimeoutRaw, err)
		}
	}

	if cfg.Limits.ExternalCallTimeoutRaw != "" {
		cfg.Limits.ExternalCallTimeout, err = time.ParseDuration(cfg.Limits.ExternalCallTimeoutRaw)
		if err != nil {
			return fmt.Errorf("parsing limits.external_call_timeout %q: %w", cfg.Limits.ExternalCallTimeoutRaw, err)
		}
	}

	return nil
}
