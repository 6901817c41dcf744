package config

import (
	"fmt"
	"os"
	"strconv"
	"time"
)

func Load() (*Config, error) {
	telegram, err := loadTelegramConfig()
	if err != nil {
		return nil, err
	}

	backend := loadBackendConfig()
	engine := loadEngineConfig()

	bindingsFile := os.Getenv("OCT_BINDINGS_FILE")
	if bindingsFile == "" {
		bindingsFile = "bindings.json"
	}

	return &Config{
		Telegram:     telegram,
		Backend:      backend,
		Engine:       engine,
		BindingsFile: bindingsFile,
		ModelsFile:   os.Getenv("OCT_MODELS_FILE"),
	}, nil
}

func loadTelegramConfig() (TelegramConfig, error) {
	token := os.Getenv("TELEGRAM_TOKEN")
	if token == "" {
		return TelegramConfig{}, fmt.Errorf("TELEGRAM_TOKEN is required")
	}

	var ownerChatID int64
	if raw := os.Getenv("TELEGRAM_OWNER_CHAT_ID"); raw != "" {
		id, err := strconv.ParseInt(raw, 10, 64)
		if err != nil {
			return TelegramConfig{}, fmt.Errorf("invalid TELEGRAM_OWNER_CHAT_ID: %w", err)
		}
		ownerChatID = id
	}

	return TelegramConfig{Token: token, OwnerChatID: ownerChatID}, nil
}

func loadBackendConfig() BackendConfig {
	url := os.Getenv("OPENCODER_URL")
	if url == "" {
		url = "http://localhost:4096"
	}

	dir := os.Getenv("OPENCODER_DIRECTORY")
	if dir == "" {
		if wd, err := os.Getwd(); err == nil {
			dir = wd
		}
	}

	return BackendConfig{URL: url, Directory: dir}
}

func loadEngineConfig() EngineConfig {
	provider := os.Getenv("OCT_PROVIDER")
	if provider == "" {
		provider = "anthropic"
	}

	model := os.Getenv("OCT_MODEL")
	if model == "" {
		model = "claude-sonnet-4-20250514"
	}

	return EngineConfig{
		Debounce:        durationMs("OCT_DEBOUNCE_MS", 1500),
		ReplyWindow:     durationMs("OCT_REPLY_WINDOW_MS", 30000),
		ProgressTick:    durationMs("OCT_PROGRESS_TICK_MS", 3000),
		MinEditInterval: durationMs("OCT_MIN_EDIT_MS", 2500),
		MinSendInterval: durationMs("OCT_MIN_SEND_MS", 1200),
		FloodRetries:    intEnv("OCT_FLOOD_RETRIES", 2),
		DefaultProvider: provider,
		DefaultModel:    model,
	}
}

func durationMs(key string, fallback int) time.Duration {
	return time.Duration(intEnv(key, fallback)) * time.Millisecond
}

func intEnv(key string, fallback int) int {
	raw := os.Getenv(key)
	if raw == "" {
		return fallback
	}

	n, err := strconv.Atoi(raw)
	if err != nil || n < 0 {
		return fallback
	}

	return n
}
