// Package config defines the configuration contract and handles loading and validating environment configuration.
package config

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
)

const (
	// Canonical environment variable keys.
	KeyTelegramToken = "TELEGRAM_TOKEN"
	KeyBotUsername   = "BOT_USERNAME"
	KeyMongoURI      = "MONGO_URI"
	KeyMongoDB       = "MONGO_DB"
	KeyAppEnv        = "APP_ENV"
	KeyLogLevel      = "LOG_LEVEL"
	KeyHTTPPort      = "HTTP_PORT"
	KeyWebhookURL    = "WEBHOOK_URL"
	KeyWebhookSecret = "WEBHOOK_SECRET"
	KeyWebhookPath   = "WEBHOOK_PATH"
	KeyTimezone      = "APP_TIMEZONE"

	// Allowed environment values.
	EnvDevelopment = "development"
	EnvProduction  = "production"

	// Defaults for optional settings.
	DefaultAppEnv      = EnvProduction
	DefaultLogLevel    = "info"
	DefaultHTTPPort    = 8080
	DefaultWebhookPath = "/telegram/webhook"
	DefaultTimezone    = "UTC"

	// Recommended database names by environment.
	DefaultMongoDBProd = "rewards_bot"
	DefaultMongoDBDev  = "rewards_bot_dev"
)

// VarSpec describes a single configuration key.
type VarSpec struct {
	Key         string // environment variable name
	Example     string // human-friendly sample value
	Required    bool   // whether the bot must refuse to start without this value
	Default     string // default when unset (empty when required)
	Description string // what the variable controls
	Notes       string // extra guidance or policies
}

// Contract enumerates the authoritative configuration keys for the bot.
// .env loading is only permitted when APP_ENV=development; production must rely
// on environment variables supplied by the runtime.
var Contract = []VarSpec{
	{
		Key:         KeyTelegramToken,
		Example:     "123:ABC",
		Required:    true,
		Description: "Telegram Bot Token issued by BotFather.",
	},
	{
		Key:         KeyBotUsername,
		Example:     "RewardsBot",
		Required:    true,
		Description: "Bot username used to build referral links.",
		Notes:       "A leading @ is stripped.",
	},
	{
		Key:         KeyMongoURI,
		Example:     "mongodb://localhost:27017",
		Required:    true,
		Description: "MongoDB connection string.",
	},
	{
		Key:         KeyMongoDB,
		Example:     DefaultMongoDBProd + " / " + DefaultMongoDBDev,
		Required:    true,
		Description: "MongoDB database name.",
		Notes:       "Recommended: production=" + DefaultMongoDBProd + ", development=" + DefaultMongoDBDev + ".",
	},
	{
		Key:         KeyAppEnv,
		Example:     EnvDevelopment + " / " + EnvProduction,
		Default:     DefaultAppEnv,
		Description: "Runtime environment; controls log format and dotenv usage.",
		Notes:       "Load .env files only when APP_ENV=" + EnvDevelopment + ".",
	},
	{
		Key:         KeyLogLevel,
		Example:     DefaultLogLevel,
		Default:     DefaultLogLevel,
		Description: "Overrides default log level.",
	},
	{
		Key:         KeyHTTPPort,
		Example:     strconv.Itoa(DefaultHTTPPort),
		Default:     strconv.Itoa(DefaultHTTPPort),
		Description: "HTTP port serving the webhook, health and stats endpoints.",
	},
	{
		Key:         KeyWebhookURL,
		Example:     "https://bot.example.com" + DefaultWebhookPath,
		Description: "Public webhook URL registered with Telegram on startup.",
		Notes:       "Leave empty to skip registration.",
	},
	{
		Key:         KeyWebhookSecret,
		Example:     "s3cr3t-token",
		Description: "Secret token Telegram echoes in X-Telegram-Bot-Api-Secret-Token.",
		Notes:       "When empty the header is not checked.",
	},
	{
		Key:         KeyWebhookPath,
		Example:     DefaultWebhookPath,
		Default:     DefaultWebhookPath,
		Description: "Local HTTP path receiving webhook deliveries.",
	},
	{
		Key:         KeyTimezone,
		Example:     "Europe/Berlin",
		Default:     DefaultTimezone,
		Description: "IANA time zone defining calendar days for daily check-ins.",
	},
}

// Tuning holds reward and runtime knobs. Defaults match the documented reward
// rules; each value may be overridden from the environment.
type Tuning struct {
	DailyBase          int64 `envconfig:"REWARD_DAILY_BASE" default:"1000"`
	DailyThreeDayBonus int64 `envconfig:"REWARD_DAILY_THREE_DAY_BONUS" default:"2000"`
	DailySevenDayBonus int64 `envconfig:"REWARD_DAILY_SEVEN_DAY_BONUS" default:"5000"`
	StreakProtectionAt int   `envconfig:"REWARD_STREAK_PROTECTION_AT" default:"7"`

	RandomMin         int64         `envconfig:"REWARD_RANDOM_MIN" default:"500"`
	RandomMax         int64         `envconfig:"REWARD_RANDOM_MAX" default:"5000"`
	RandomCooldown    time.Duration `envconfig:"REWARD_RANDOM_COOLDOWN" default:"4h"`
	JackpotChance     float64       `envconfig:"REWARD_JACKPOT_CHANCE" default:"0.1"`
	JackpotMultiplier int64         `envconfig:"REWARD_JACKPOT_MULTIPLIER" default:"5"`

	RateLimitPerMinute int `envconfig:"RATE_LIMIT_PER_MINUTE" default:"20"`
	RateLimitBurst     int `envconfig:"RATE_LIMIT_BURST" default:"5"`

	ReminderCron      string `envconfig:"REMINDER_CRON" default:"0 18 * * *"`
	ReminderMinStreak int    `envconfig:"REMINDER_MIN_STREAK" default:"3"`

	HandlerTimeout time.Duration `envconfig:"WEBHOOK_HANDLER_TIMEOUT" default:"10s"`
}

// Config mirrors resolved configuration values after loading.
type Config struct {
	TelegramToken string
	BotUsername   string
	MongoURI      string
	MongoDB       string
	AppEnv        string
	LogLevel      string
	HTTPPort      int
	WebhookURL    string
	WebhookSecret string
	WebhookPath   string
	Timezone      string
	Location      *time.Location
	Tuning        Tuning
}

// Load resolves configuration from the environment (with optional dotenv in development).
func Load() (Config, error) {
	appEnv, err := resolveAppEnv()
	if err != nil {
		return Config{}, err
	}

	if err := loadDotEnv(appEnv); err != nil {
		return Config{}, err
	}

	cfg := Config{
		AppEnv:        firstNonEmpty(normalizeEnv(os.Getenv(KeyAppEnv)), appEnv),
		TelegramToken: strings.TrimSpace(os.Getenv(KeyTelegramToken)),
		BotUsername:   strings.TrimPrefix(strings.TrimSpace(os.Getenv(KeyBotUsername)), "@"),
		MongoURI:      strings.TrimSpace(os.Getenv(KeyMongoURI)),
		MongoDB:       strings.TrimSpace(os.Getenv(KeyMongoDB)),
		LogLevel:      firstNonEmpty(strings.TrimSpace(os.Getenv(KeyLogLevel)), DefaultLogLevel),
		HTTPPort:      DefaultHTTPPort,
		WebhookURL:    strings.TrimSpace(os.Getenv(KeyWebhookURL)),
		WebhookSecret: strings.TrimSpace(os.Getenv(KeyWebhookSecret)),
		WebhookPath:   firstNonEmpty(os.Getenv(KeyWebhookPath), DefaultWebhookPath),
		Timezone:      firstNonEmpty(os.Getenv(KeyTimezone), DefaultTimezone),
	}

	if err := validateAppEnv(cfg.AppEnv); err != nil {
		return Config{}, err
	}

	missing := make([]string, 0)

	if cfg.TelegramToken == "" {
		missing = append(missing, KeyTelegramToken)
	}
	if cfg.BotUsername == "" {
		missing = append(missing, KeyBotUsername)
	}
	if cfg.MongoURI == "" {
		missing = append(missing, KeyMongoURI)
	}
	if cfg.MongoDB == "" {
		missing = append(missing, KeyMongoDB)
	}

	if len(missing) > 0 {
		return Config{}, fmt.Errorf("missing required environment variable(s): %s", strings.Join(missing, ", "))
	}

	if err := validateMongoURI(cfg.MongoURI); err != nil {
		return Config{}, err
	}

	httpPortRaw := strings.TrimSpace(os.Getenv(KeyHTTPPort))
	if httpPortRaw != "" {
		port, parseErr := strconv.Atoi(httpPortRaw)
		if parseErr != nil {
			return Config{}, fmt.Errorf("invalid %s: %w", KeyHTTPPort, parseErr)
		}
		if port <= 0 {
			return Config{}, fmt.Errorf("%s must be greater than 0", KeyHTTPPort)
		}
		cfg.HTTPPort = port
	}

	if !strings.HasPrefix(cfg.WebhookPath, "/") {
		return Config{}, fmt.Errorf("%s must start with /", KeyWebhookPath)
	}

	loc, err := time.LoadLocation(cfg.Timezone)
	if err != nil {
		return Config{}, fmt.Errorf("invalid %s: %w", KeyTimezone, err)
	}
	cfg.Location = loc

	if err := envconfig.Process("", &cfg.Tuning); err != nil {
		return Config{}, fmt.Errorf("load tuning: %w", err)
	}
	if err := cfg.Tuning.Validate(); err != nil {
		return Config{}, err
	}

	return cfg, nil
}

// Validate rejects tuning values the reward rules cannot work with.
func (t Tuning) Validate() error {
	switch {
	case t.DailyBase < 0 || t.DailyThreeDayBonus < 0 || t.DailySevenDayBonus < 0:
		return errors.New("daily reward amounts must not be negative")
	case t.RandomMin <= 0 || t.RandomMax < t.RandomMin:
		return fmt.Errorf("invalid random reward range [%d, %d]", t.RandomMin, t.RandomMax)
	case t.RandomCooldown <= 0:
		return errors.New("REWARD_RANDOM_COOLDOWN must be positive")
	case t.JackpotChance < 0 || t.JackpotChance > 1:
		return errors.New("REWARD_JACKPOT_CHANCE must be within [0, 1]")
	case t.JackpotMultiplier < 1:
		return errors.New("REWARD_JACKPOT_MULTIPLIER must be at least 1")
	case t.RateLimitPerMinute <= 0 || t.RateLimitBurst <= 0:
		return errors.New("rate limit settings must be positive")
	case t.HandlerTimeout <= 0:
		return errors.New("WEBHOOK_HANDLER_TIMEOUT must be positive")
	}
	return nil
}

// IsDevelopment reports if APP_ENV is development.
func (c Config) IsDevelopment() bool {
	return c.AppEnv == EnvDevelopment
}

// FormatRedacted renders the resolved configuration for diagnostics with the
// bot token masked and MongoDB credentials stripped.
func FormatRedacted(cfg Config) string {
	lines := []string{
		"telegram_token: " + maskToken(cfg.TelegramToken),
		"bot_username: " + cfg.BotUsername,
		"mongo_uri: " + redactMongoURI(cfg.MongoURI),
		"mongo_db: " + cfg.MongoDB,
		"app_env: " + cfg.AppEnv,
		"log_level: " + cfg.LogLevel,
		"http_port: " + strconv.Itoa(cfg.HTTPPort),
		"webhook_url: " + cfg.WebhookURL,
		"webhook_secret: " + maskSecret(cfg.WebhookSecret),
		"webhook_path: " + cfg.WebhookPath,
		"timezone: " + cfg.Timezone,
	}

	return strings.Join(lines, "\n")
}

func maskToken(token string) string {
	if len(token) <= 4 {
		return maskSecret(token)
	}
	return token[:4] + "...redacted"
}

func maskSecret(value string) string {
	if value == "" {
		return ""
	}
	return "redacted"
}

func redactMongoURI(raw string) string {
	parsed, err := url.Parse(raw)
	if err != nil {
		return "redacted"
	}
	parsed.User = nil
	return parsed.String()
}

func validateMongoURI(raw string) error {
	if strings.HasPrefix(raw, "mongodb://") || strings.HasPrefix(raw, "mongodb+srv://") {
		return nil
	}
	return fmt.Errorf("invalid %s: must start with mongodb:// or mongodb+srv://", KeyMongoURI)
}

func resolveAppEnv() (string, error) {
	if explicit := normalizeEnv(os.Getenv(KeyAppEnv)); explicit != "" {
		return explicit, nil
	}

	dotEnvValues, err := godotenv.Read()
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return DefaultAppEnv, nil
		}
		return "", fmt.Errorf("read .env: %w", err)
	}

	if envFromFile := normalizeEnv(dotEnvValues[KeyAppEnv]); envFromFile != "" {
		return envFromFile, nil
	}

	return DefaultAppEnv, nil
}

func loadDotEnv(appEnv string) error {
	if appEnv != EnvDevelopment {
		return nil
	}

	if err := godotenv.Load(); err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("load .env: %w", err)
	}

	return nil
}

func validateAppEnv(appEnv string) error {
	if appEnv == EnvDevelopment || appEnv == EnvProduction {
		return nil
	}

	return fmt.Errorf("invalid %s: must be %q or %q", KeyAppEnv, EnvDevelopment, EnvProduction)
}

func normalizeEnv(value string) string {
	return strings.ToLower(strings.TrimSpace(value))
}

func firstNonEmpty(values ...string) string {
	for _, val := range values {
		if strings.TrimSpace(val) != "" {
			return strings.TrimSpace(val)
		}
	}
	return ""
}
