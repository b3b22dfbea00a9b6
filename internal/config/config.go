package config

import (
	"errors"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

type UpdateMode string

const (
	ModeWebhook UpdateMode = "webhook"
	ModePolling UpdateMode = "polling"
)

type AppConfig struct {
	BotToken       string
	TelegramAPIURL string
	WebhookDomain  string
	WebhookPath    string
	WebhookSecret  string
	Port           int
	UpdateMode     UpdateMode

	RedisURL     string
	DatabaseURL  string
	DatabasePath string

	OwnerID string

	ComputerDelay time.Duration
	ReplayWindow  time.Duration
	GameTTL       time.Duration

	StaleGameAge    time.Duration
	JanitorBatch    int
	JanitorInterval time.Duration

	BroadcastBatch    int
	BroadcastInterval time.Duration
	BroadcastAsCopy   bool

	MessagesDir string
	ResultCard  bool
}

// Load reads configuration from the environment. A .env file in the working directory is
// applied first without overriding variables already set.
func Load() (*AppConfig, error) {
	_ = godotenv.Load()

	cfg := &AppConfig{
		TelegramAPIURL:    "https://api.telegram.org",
		Port:              3000,
		UpdateMode:        ModeWebhook,
		DatabasePath:      "./data/tictactoe.db",
		ComputerDelay:     time.Second,
		ReplayWindow:      24 * time.Hour,
		GameTTL:           7 * 24 * time.Hour,
		StaleGameAge:      48 * time.Hour,
		JanitorBatch:      20,
		BroadcastBatch:    2,
		BroadcastInterval: 5 * time.Second,
		BroadcastAsCopy:   true,
	}

	cfg.BotToken = env("BOT_TOKEN")
	if v := env("TELEGRAM_API_URL"); v != "" {
		cfg.TelegramAPIURL = strings.TrimRight(v, "/")
	}
	cfg.WebhookDomain = strings.TrimRight(env("WEBHOOK_DOMAIN"), "/")
	cfg.WebhookPath = env("WEBHOOK_PATH")
	cfg.WebhookSecret = env("WEBHOOK_SECRET")
	if v := env("PORT"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			cfg.Port = n
		}
	}
	switch strings.ToLower(env("UPDATE_MODE")) {
	case "polling":
		cfg.UpdateMode = ModePolling
	case "webhook":
		cfg.UpdateMode = ModeWebhook
	case "":
		if cfg.WebhookDomain == "" {
			cfg.UpdateMode = ModePolling
		}
	}

	cfg.RedisURL = env("REDIS_URL")
	cfg.DatabaseURL = env("DATABASE_URL")
	if v := env("DATABASE_PATH"); v != "" {
		cfg.DatabasePath = v
	}
	cfg.OwnerID = env("OWNER_ID")
	if cfg.OwnerID == "" {
		cfg.OwnerID = env("OWNER")
	}

	durationVar("COMPUTER_DELAY", &cfg.ComputerDelay, true)
	durationVar("REPLAY_WINDOW", &cfg.ReplayWindow, false)
	durationVar("GAME_TTL", &cfg.GameTTL, false)
	durationVar("STALE_GAME_AGE", &cfg.StaleGameAge, false)
	durationVar("JANITOR_INTERVAL", &cfg.JanitorInterval, true)
	durationVar("BROADCAST_INTERVAL", &cfg.BroadcastInterval, false)
	intVar("JANITOR_BATCH", &cfg.JanitorBatch)
	intVar("BROADCAST_BATCH", &cfg.BroadcastBatch)
	boolVar("BROADCAST_AS_COPY", &cfg.BroadcastAsCopy)
	boolVar("RESULT_CARD", &cfg.ResultCard)
	cfg.MessagesDir = env("MESSAGES_DIR")

	if cfg.BotToken == "" {
		return nil, errors.New("BOT_TOKEN is required")
	}
	if cfg.RedisURL == "" {
		return nil, errors.New("REDIS_URL is required")
	}
	if cfg.UpdateMode == ModeWebhook && cfg.WebhookDomain == "" {
		return nil, errors.New("WEBHOOK_DOMAIN is required in webhook mode")
	}
	if cfg.WebhookPath == "" {
		cfg.WebhookPath = "/telegraf/" + cfg.BotToken
	}
	if !strings.HasPrefix(cfg.WebhookPath, "/") {
		cfg.WebhookPath = "/" + cfg.WebhookPath
	}
	return cfg, nil
}

// WebhookURL is the public URL registered with the Bot API.
func (c *AppConfig) WebhookURL() string { return c.WebhookDomain + c.WebhookPath }

func env(k string) string { return strings.TrimSpace(os.Getenv(k)) }

// durationVar accepts Go durations ("1500ms") or whole seconds ("5").
func durationVar(k string, dst *time.Duration, allowZero bool) {
	v := env(k)
	if v == "" {
		return
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		n, nerr := strconv.Atoi(v)
		if nerr != nil {
			return
		}
		d = time.Duration(n) * time.Second
	}
	if d > 0 || (allowZero && d == 0) {
		*dst = d
	}
}

func intVar(k string, dst *int) {
	if v := env(k); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			*dst = n
		}
	}
}

func boolVar(k string, dst *bool) {
	if v := env(k); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			*dst = b
		}
	}
}
