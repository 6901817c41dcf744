package config

import "time"

type Config struct {
	Telegram TelegramConfig
	Backend  BackendConfig
	Engine   EngineConfig

	BindingsFile string
	ModelsFile   string
}

type TelegramConfig struct {
	Token       string
	OwnerChatID int64 // restrict handling to this forum group when set
}

type BackendConfig struct {
	URL       string
	Directory string // default workspace for new sessions
}

type EngineConfig struct {
	Debounce        time.Duration
	ReplyWindow     time.Duration
	ProgressTick    time.Duration
	MinEditInterval time.Duration
	MinSendInterval time.Duration
	FloodRetries    int

	DefaultProvider string
	DefaultModel    string
}
