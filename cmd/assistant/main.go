// ABOUTME: Entry point for the Telegram assistant gateway
// ABOUTME: Wires store, sessions, tools, workers, sweeper and transports together

package main

import (
	"bufio"
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"sync"
	"syscall"

	"github.com/fatih/color"

	"github.com/sherkenhoff/openai-telegram-assistant/internal/config"
	"github.com/sherkenhoff/openai-telegram-assistant/internal/gateway"
	"github.com/sherkenhoff/openai-telegram-assistant/internal/openai"
	"github.com/sherkenhoff/openai-telegram-assistant/internal/session"
	"github.com/sherkenhoff/openai-telegram-assistant/internal/store"
	"github.com/sherkenhoff/openai-telegram-assistant/internal/sweeper"
	"github.com/sherkenhoff/openai-telegram-assistant/internal/telegram"
	"github.com/sherkenhoff/openai-telegram-assistant/internal/tools"
	"github.com/sherkenhoff/openai-telegram-assistant/internal/worker"
)

// Version is set by goreleaser at build time.
var version = "dev"

const banner = `
                _     _              _
  __ _ ___ ___(_)___| |_ __ _ _ __ | |_
 / _' / __/ __| / __| __/ _' | '_ \| __|
| (_| \__ \__ \ \__ \ || (_| | | | | |_
 \__,_|___/___/_|___/\__\__,_|_| |_|\__|
`

// getConfigPath returns the path to the assistant config file.
// Priority: ASSISTANT_CONFIG env var > XDG_CONFIG_HOME/assistant/assistant.yaml > ~/.config/assistant/assistant.yaml
func getConfigPath() string {
	if envPath := os.Getenv("ASSISTANT_CONFIG"); envPath != "" {
		return envPath
	}

	configDir := os.Getenv("XDG_CONFIG_HOME")
	if configDir == "" {
		homeDir, err := os.UserHomeDir()
		if err != nil {
			return "assistant.yaml" // fallback
		}
		configDir = filepath.Join(homeDir, ".config")
	}

	return filepath.Join(configDir, "assistant", "assistant.yaml")
}

// getDataPath returns the path to the assistant data directory.
// Priority: XDG_DATA_HOME/assistant > ~/.local/share/assistant
func getDataPath() string {
	dataDir := os.Getenv("XDG_DATA_HOME")
	if dataDir == "" {
		homeDir, err := os.UserHomeDir()
		if err != nil {
			return "data" // fallback
		}
		dataDir = filepath.Join(homeDir, ".local", "share")
	}

	return filepath.Join(dataDir, "assistant")
}

func main() {
	if len(os.Args) < 2 {
		fmt.Println("Usage: assistant <command>")
		fmt.Println()
		fmt.Println("Commands:")
		fmt.Println("  serve   Start the assistant")
		fmt.Println("  init    Create a new config file interactively")
		os.Exit(1)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	var err error
	switch os.Args[1] {
	case "serve":
		err = runServe(ctx)
	case "init":
		err = runInit()
	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n", os.Args[1])
		os.Exit(1)
	}

	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func runServe(ctx context.Context) error {
	configPath := getConfigPath()

	// Print banner
	cyan := color.New(color.FgCyan)
	cyan.Print(banner)

	gray := color.New(color.FgHiBlack)
	gray.Printf("    version: %s\n\n", version)

	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	logger := setupLogger(cfg.Logging)

	green := color.New(color.FgGreen)
	green.Print("    ▶ ")
	fmt.Printf("Config:   %s\n", configPath)
	green.Print("    ▶ ")
	fmt.Printf("Data:     %s\n", cfg.Data.Path)
	green.Print("    ▶ ")
	fmt.Printf("Model:    %s\n", cfg.OpenAI.DefaultModel)
	fmt.Println()

	logger.Info("starting assistant",
		"config", configPath,
		"data", cfg.Data.Path,
		"model", cfg.OpenAI.DefaultModel,
	)

	db, err := store.Open(cfg.Data.DatabasePath(), cfg.Telegram.AdminChatID, logger)
	if err != nil {
		return fmt.Errorf("opening store: %w", err)
	}
	defer db.Close()

	ai := openai.NewClient(openai.Options{
		APIKey:             cfg.OpenAI.APIKey,
		ImageModel:         cfg.OpenAI.ImageModel,
		ImageSize:          cfg.OpenAI.ImageSize,
		SpeechModel:        cfg.OpenAI.SpeechModel,
		TranscriptionModel: cfg.OpenAI.TranscriptionModel,
	})

	bot, err := telegram.NewBot(cfg.Telegram.Token, logger)
	if err != nil {
		return fmt.Errorf("connecting to telegram: %w", err)
	}

	// The executor is created first so the worker and registry can close over
	// it; the admin pack needs the registry, which needs the worker.
	exec := tools.NewExecutor(logger)
	wrk := worker.New(ai, exec, bot, db, cfg.Limits.ExternalCallTimeout, logger)
	sessions := session.NewRegistry(ctx, cfg.OpenAI.DefaultModel, cfg.Limits.QueueSize, wrk.Run, logger)
	defer sessions.Close()

	for _, t := range tools.BasePack(tools.Deps{
		Store:        db,
		Images:       ai,
		Speech:       ai,
		Delivery:     bot,
		ImagesDir:    cfg.Data.ImagesDir(),
		DefaultVoice: cfg.OpenAI.DefaultVoice,
	}) {
		exec.Register(t)
	}
	for _, t := range tools.AdminPack(db, sessions, cfg.Telegram.AdminChatID) {
		exec.Register(t)
	}

	dispatcher := gateway.NewDispatcher(db, sessions, ai, bot, bot, cfg.Data.TranscriptionsDir(), logger)

	sweep := sweeper.New(db, sessions, cfg.Data.ImagesDir(),
		cfg.Maintenance.Interval, cfg.Maintenance.ImagesToKeep, cfg.Maintenance.HistoryTimeout, logger)
	go sweep.Run(ctx)

	bot.Poll(ctx, func(ctx context.Context, msg *gateway.Message) {
		if err := dispatcher.Handle(ctx, msg); err != nil {
			logger.Error("handling message failed", "chat_id", msg.ChatID, "error", err)
		}
	})

	logger.Info("assistant stopped")
	return nil
}

func setupLogger(cfg config.LoggingConfig) *slog.Logger {
	var level slog.Level
	switch cfg.Level {
	case "debug":
		level = slog.LevelDebug
	case "info":
		level = slog.LevelInfo
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}

	opts := &slog.HandlerOptions{
		Level: level,
	}

	var handler slog.Handler
	if cfg.Format == "json" {
		handler = slog.NewJSONHandler(os.Stdout, opts)
	} else {
		handler = &colorHandler{
			level: level,
		}
	}

	return slog.New(handler)
}

// colorHandler provides colorized log output with thread-safe writes.
type colorHandler struct {
	mu     sync.Mutex
	level  slog.Level
	attrs  []slog.Attr
	groups []string
}

func (h *colorHandler) Enabled(_ context.Context, level slog.Level) bool {
	return level >= h.level
}

func (h *colorHandler) Handle(_ context.Context, r slog.Record) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	var buf strings.Builder

	buf.WriteString(color.HiBlackString(r.Time.Format("15:04:05") + " "))

	switch r.Level {
	case slog.LevelDebug:
		buf.WriteString(color.MagentaString("DBG "))
	case slog.LevelInfo:
		buf.WriteString(color.CyanString("INF "))
	case slog.LevelWarn:
		buf.WriteString(color.YellowString("WRN "))
	case slog.LevelError:
		buf.WriteString(color.New(color.FgRed, color.Bold).Sprint("ERR "))
	default:
		buf.WriteString("??? ")
	}

	buf.WriteString(r.Message)

	// Handler-level attrs first (from WithAttrs), then record attrs
	for _, a := range h.attrs {
		buf.WriteString(color.HiBlackString(" " + a.Key + "="))
		buf.WriteString(a.Value.String())
	}
	r.Attrs(func(a slog.Attr) bool {
		buf.WriteString(color.HiBlackString(" " + a.Key + "="))
		buf.WriteString(a.Value.String())
		return true
	})

	buf.WriteString("\n")
	fmt.Print(buf.String())
	return nil
}

func (h *colorHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	newAttrs := make([]slog.Attr, len(h.attrs), len(h.attrs)+len(attrs))
	copy(newAttrs, h.attrs)
	newAttrs = append(newAttrs, attrs...)
	return &colorHandler{
		level:  h.level,
		attrs:  newAttrs,
		groups: h.groups,
	}
}

func (h *colorHandler) WithGroup(name string) slog.Handler {
	newGroups := make([]string, len(h.groups), len(h.groups)+1)
	copy(newGroups, h.groups)
	newGroups = append(newGroups, name)
	return &colorHandler{
		level:  h.level,
		attrs:  h.attrs,
		groups: newGroups,
	}
}

func runInit() error {
	reader := bufio.NewReader(os.Stdin)

	fmt.Println("assistant configuration setup")
	fmt.Println("=============================")
	fmt.Println()

	defaultConfigPath := getConfigPath()
	defaultDataPath := getDataPath()

	outputFile := prompt(reader, "Config file path", defaultConfigPath)

	if _, err := os.Stat(outputFile); err == nil {
		overwrite := prompt(reader, "File exists. Overwrite?", "no")
		if strings.ToLower(overwrite) != "yes" && strings.ToLower(overwrite) != "y" {
			fmt.Println("Aborted.")
			return nil
		}
	}

	fmt.Println("\n--- Telegram Configuration ---")
	token := prompt(reader, "Bot token (or ${TELEGRAM_TOKEN})", "${TELEGRAM_TOKEN}")
	adminChatID := prompt(reader, "Admin chat id", "")

	fmt.Println("\n--- OpenAI Configuration ---")
	apiKey := prompt(reader, "API key (or ${OPENAI_API_KEY})", "${OPENAI_API_KEY}")
	model := prompt(reader, "Default model", "gpt-4o-mini")

	fmt.Println("\n--- Data Configuration ---")
	dataPath := prompt(reader, "Data directory", defaultDataPath)

	fmt.Println("\n--- Logging Configuration ---")
	logLevel := prompt(reader, "Log level (debug/info/warn/error)", "info")
	logFormat := prompt(reader, "Log format (text/json)", "text")

	var cfg strings.Builder
	cfg.WriteString("# assistant configuration\n")
	cfg.WriteString("# Generated by assistant init\n\n")

	cfg.WriteString("telegram:\n")
	cfg.WriteString(fmt.Sprintf("  token: \"%s\"\n", token))
	cfg.WriteString(fmt.Sprintf("  admin_chat_id: %s\n", adminChatID))
	cfg.WriteString("\n")

	cfg.WriteString("openai:\n")
	cfg.WriteString(fmt.Sprintf("  api_key: \"%s\"\n", apiKey))
	cfg.WriteString(fmt.Sprintf("  default_model: \"%s\"\n", model))
	cfg.WriteString("\n")

	cfg.WriteString("data:\n")
	cfg.WriteString(fmt.Sprintf("  path: \"%s\"\n", dataPath))
	cfg.WriteString("\n")

	cfg.WriteString("maintenance:\n")
	cfg.WriteString("  interval: \"5m\"\n")
	cfg.WriteString("  history_timeout: \"24h\"\n")
	cfg.WriteString("  images_to_keep: 10\n")
	cfg.WriteString("\n")

	cfg.WriteString("logging:\n")
	cfg.WriteString(fmt.Sprintf("  level: \"%s\"\n", logLevel))
	cfg.WriteString(fmt.Sprintf("  format: \"%s\"\n", logFormat))

	configDir := filepath.Dir(outputFile)
	if err := os.MkdirAll(configDir, 0755); err != nil {
		return fmt.Errorf("creating config directory: %w", err)
	}

	if err := os.WriteFile(outputFile, []byte(cfg.String()), 0600); err != nil {
		return fmt.Errorf("writing config file: %w", err)
	}

	if err := os.MkdirAll(dataPath, 0755); err != nil {
		return fmt.Errorf("creating data directory: %w", err)
	}

	fmt.Printf("\nConfig written to %s\n", outputFile)
	fmt.Printf("Data directory: %s\n", dataPath)
	fmt.Println("\nTo start the assistant:")
	fmt.Printf("  assistant serve\n")

	return nil
}

func prompt(reader *bufio.Reader, question, defaultVal string) string {
	if defaultVal != "" {
		fmt.Printf("%s [%s]: ", question, defaultVal)
	} else {
		fmt.Printf("%s: ", question)
	}

	input, err := reader.ReadString('\n')
	if err != nil {
		// On EOF or error, return default
		fmt.Println()
		return defaultVal
	}
	input = strings.TrimSpace(input)

	if input == "" {
		return defaultVal
	}
	return input
}
