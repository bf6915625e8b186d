package config

import (
	"encoding/json"
	"fmt"
	"os"
	"strconv"
	"time"

	"forex-trading-bot/internal/cache"
	"forex-trading-bot/internal/database"
	"forex-trading-bot/internal/logging"
	"forex-trading-bot/internal/risk"
	"forex-trading-bot/internal/secrets"
	"forex-trading-bot/internal/session"
	"forex-trading-bot/internal/strategy"
)

// Run modes.
const (
	ModePaper    = "paper"
	ModeLive     = "live"
	ModeBacktest = "backtest"
)

type Config struct {
	Mode          string             `json:"mode"` // paper, live or backtest
	Broker        BrokerConfig       `json:"broker"`
	Risk          RiskConfig         `json:"risk"`
	Database      database.Config    `json:"database"`
	Redis         cache.Config       `json:"redis"`
	Vault         secrets.Config     `json:"vault"`
	Server        ServerConfig       `json:"server"`
	Notifications NotificationConfig `json:"notifications"`
	Logging       logging.Config     `json:"logging"`
	Streams       []StreamConfig     `json:"streams"`
}

// BrokerConfig holds broker connection settings. Credentials come from
// the secrets client (Vault or environment), never from this file.
type BrokerConfig struct {
	BaseURL string `json:"base_url"` // optional host override; empty selects by mode
}

// RiskConfig holds the process-wide risk limits shared by every stream.
type RiskConfig struct {
	MaxDrawdownPct   float64             `json:"max_drawdown_pct"`   // circuit breaker threshold, % below peak equity
	MaxOpenPositions int                 `json:"max_open_positions"` // global cap across all streams
	UseTrailingStop  bool                `json:"use_trailing_stop"`
	Trailing         risk.TrailingConfig `json:"trailing"`
}

// ServerConfig holds the status API server configuration.
type ServerConfig struct {
	Enabled           bool   `json:"enabled"`
	Host              string `json:"host"`
	Port              int    `json:"port"`
	AllowedOrigins    string `json:"allowed_origins"` // CORS allowed origins
	AuthEnabled       bool   `json:"auth_enabled"`    // JWT auth on control endpoints
	JWTSecret         string `json:"jwt_secret"`
	AdminUser         string `json:"admin_user"`
	AdminPasswordHash string `json:"admin_password_hash"` // bcrypt hash
	ReadTimeout       int    `json:"read_timeout"`        // seconds
	WriteTimeout      int    `json:"write_timeout"`       // seconds
	ShutdownTimeout   int    `json:"shutdown_timeout"`    // seconds
}

type NotificationConfig struct {
	Enabled  bool           `json:"enabled"`
	Telegram TelegramConfig `json:"telegram"`
	Discord  DiscordConfig  `json:"discord"`
}

type TelegramConfig struct {
	Enabled  bool   `json:"enabled"`
	BotToken string `json:"bot_token"`
	ChatID   string `json:"chat_id"`
}

type DiscordConfig struct {
	Enabled    bool   `json:"enabled"`
	WebhookURL string `json:"webhook_url"`
}

// StreamConfig defines one trading stream: an instrument bound to a
// strategy with its own cadence, risk and session window. Granularity
// requirements come from the strategy itself.
type StreamConfig struct {
	Name             string  `json:"name"`
	Instrument       string  `json:"instrument"`
	Strategy         string  `json:"strategy"`
	PollIntervalSecs int     `json:"poll_interval_secs"`
	RiskPercent      float64 `json:"risk_percent"`    // % of equity risked per trade
	MaxConcurrent    int     `json:"max_concurrent"`  // open positions allowed for this stream
	TargetRR         float64 `json:"target_rr"`       // 0 uses the strategy default
	SessionStart     int     `json:"session_start_hour"`
	SessionEnd       int     `json:"session_end_hour"`
	Enabled          bool    `json:"enabled"`
}

// PollInterval returns the stream cadence as a duration.
func (s StreamConfig) PollInterval() time.Duration {
	return time.Duration(s.PollIntervalSecs) * time.Second
}

// Session returns the UTC trading window.
func (s StreamConfig) Session() session.Window {
	return session.Window{Start: s.SessionStart, End: s.SessionEnd}
}

// Params maps the stream onto the strategy constructor parameters.
func (s StreamConfig) Params() strategy.Params {
	return strategy.Params{
		Stream:     s.Name,
		Instrument: s.Instrument,
		Session:    s.Session(),
		TargetRR:   s.TargetRR,
	}
}

// Validate checks a single stream's settings. MaxConcurrent defaults
// to 1 when unset.
func (s *StreamConfig) Validate() error {
	if s.Instrument == "" {
		return fmt.Errorf("stream %q: instrument is required", s.Name)
	}
	if !strategy.IsRegistered(s.Strategy) {
		return fmt.Errorf("stream %q: unknown strategy %q (registered: %v)",
			s.Name, s.Strategy, strategy.Registered())
	}
	if !s.Session().Valid() {
		return fmt.Errorf("stream %q: session window [%d,%d) out of bounds",
			s.Name, s.SessionStart, s.SessionEnd)
	}
	if s.RiskPercent <= 0 || s.RiskPercent > 10 {
		return fmt.Errorf("stream %q: risk percent %.2f out of range (0,10]",
			s.Name, s.RiskPercent)
	}
	if s.PollIntervalSecs <= 0 {
		return fmt.Errorf("stream %q: poll interval must be positive", s.Name)
	}
	if s.MaxConcurrent <= 0 {
		s.MaxConcurrent = 1
	}
	return nil
}

// Default returns the configuration used when no file is present: paper
// mode against the practice host with the three stock streams.
func Default() *Config {
	return &Config{
		Mode: ModePaper,
		Risk: RiskConfig{
			MaxDrawdownPct:   10.0,
			MaxOpenPositions: 3,
			UseTrailingStop:  true,
			Trailing:         risk.DefaultTrailingConfig(),
		},
		Database: database.Config{
			Host:     "localhost",
			Port:     5432,
			User:     "postgres",
			Database: "forex_bot",
			SSLMode:  "disable",
		},
		Redis: cache.Config{
			Address:  "localhost:6379",
			PoolSize: 10,
		},
		Vault: secrets.Config{
			Address:    "http://localhost:8200",
			MountPath:  "secret",
			SecretPath: "forex-bot",
		},
		Server: ServerConfig{
			Enabled:         true,
			Host:            "0.0.0.0",
			Port:            8080,
			AllowedOrigins:  "*",
			AdminUser:       "admin",
			ReadTimeout:     30,
			WriteTimeout:    30,
			ShutdownTimeout: 10,
		},
		Logging: logging.Config{Level: "info", Output: "stdout"},
		Streams: DefaultStreams(),
	}
}

// DefaultStreams returns the stock stream set: EUR/USD swing rejection,
// gold momentum scalp and EUR/USD mean reversion.
func DefaultStreams() []StreamConfig {
	return []StreamConfig{
		{
			Name:             "eur-swing",
			Instrument:       "EUR_USD",
			Strategy:         "sr_rejection",
			PollIntervalSecs: 900,
			RiskPercent:      1.0,
			MaxConcurrent:    1,
			TargetRR:         2.0,
			SessionStart:     7,
			SessionEnd:       21,
			Enabled:          true,
		},
		{
			Name:             "gold-scalp",
			Instrument:       "XAU_USD",
			Strategy:         "momentum_scalp",
			PollIntervalSecs: 60,
			RiskPercent:      0.5,
			MaxConcurrent:    1,
			TargetRR:         1.5,
			SessionStart:     12,
			SessionEnd:       20,
			Enabled:          true,
		},
		{
			Name:             "eur-range",
			Instrument:       "EUR_USD",
			Strategy:         "mean_reversion",
			PollIntervalSecs: 300,
			RiskPercent:      1.0,
			MaxConcurrent:    1,
			TargetRR:         1.5,
			SessionStart:     0,
			SessionEnd:       24,
			Enabled:          true,
		},
	}
}

// Load reads the configuration: defaults, then the JSON file when
// present, then environment overrides. An explicitly given path must
// exist; the fallback config.json is optional.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		if err := cfg.loadFile(path); err != nil {
			return nil, err
		}
	} else if _, err := os.Stat("config.json"); err == nil {
		if err := cfg.loadFile("config.json"); err != nil {
			return nil, err
		}
	}

	applyEnvOverrides(cfg)
	return cfg, nil
}

func (c *Config) loadFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("error reading config file: %w", err)
	}
	if err := json.Unmarshal(data, c); err != nil {
		return fmt.Errorf("error parsing config file: %w", err)
	}
	return nil
}

// Validate rejects configurations the engines cannot run with. Called
// once at boot; any error is fatal.
func (c *Config) Validate() error {
	switch c.Mode {
	case ModePaper, ModeLive, ModeBacktest:
	default:
		return fmt.Errorf("unknown mode %q (want paper, live or backtest)", c.Mode)
	}

	if len(c.Streams) == 0 {
		return fmt.Errorf("no streams configured")
	}

	seen := make(map[string]bool, len(c.Streams))
	for i := range c.Streams {
		s := &c.Streams[i]
		if s.Name == "" {
			return fmt.Errorf("stream %d: name is required", i)
		}
		if seen[s.Name] {
			return fmt.Errorf("duplicate stream name %q", s.Name)
		}
		seen[s.Name] = true

		if err := s.Validate(); err != nil {
			return err
		}
	}

	if c.Risk.MaxDrawdownPct <= 0 || c.Risk.MaxDrawdownPct > 100 {
		return fmt.Errorf("max drawdown percent %.2f out of range (0,100]", c.Risk.MaxDrawdownPct)
	}
	if c.Risk.MaxOpenPositions <= 0 {
		c.Risk.MaxOpenPositions = len(c.Streams)
	}

	if c.Server.Enabled {
		if c.Server.Port < 1 || c.Server.Port > 65535 {
			return fmt.Errorf("server port %d out of range", c.Server.Port)
		}
		if c.Server.AuthEnabled && c.Server.JWTSecret == "" {
			return fmt.Errorf("auth enabled but jwt_secret is empty")
		}
	}

	if c.Database.Host == "" {
		return fmt.Errorf("database host is required")
	}

	return nil
}

// EnabledStreams returns the streams the manager should run.
func (c *Config) EnabledStreams() []StreamConfig {
	out := make([]StreamConfig, 0, len(c.Streams))
	for _, s := range c.Streams {
		if s.Enabled {
			out = append(out, s)
		}
	}
	return out
}

// Stream returns the named stream config.
func (c *Config) Stream(name string) (StreamConfig, bool) {
	for _, s := range c.Streams {
		if s.Name == name {
			return s, true
		}
	}
	return StreamConfig{}, false
}

// applyEnvOverrides applies environment variable overrides. These take
// precedence over both defaults and the config file. Broker credentials
// are handled by the secrets client, not here.
func applyEnvOverrides(cfg *Config) {
	cfg.Mode = getEnvOrDefault("MODE", cfg.Mode)
	cfg.Broker.BaseURL = getEnvOrDefault("BROKER_BASE_URL", cfg.Broker.BaseURL)

	// Risk
	cfg.Risk.MaxDrawdownPct = getEnvFloatOrDefault("RISK_MAX_DRAWDOWN_PCT", cfg.Risk.MaxDrawdownPct)
	cfg.Risk.MaxOpenPositions = getEnvIntOrDefault("RISK_MAX_OPEN_POSITIONS", cfg.Risk.MaxOpenPositions)

	// Database
	cfg.Database.Host = getEnvOrDefault("DATABASE_HOST", cfg.Database.Host)
	cfg.Database.Port = getEnvIntOrDefault("DATABASE_PORT", cfg.Database.Port)
	cfg.Database.User = getEnvOrDefault("DATABASE_USER", cfg.Database.User)
	cfg.Database.Password = getEnvOrDefault("DATABASE_PASSWORD", cfg.Database.Password)
	cfg.Database.Database = getEnvOrDefault("DATABASE_NAME", cfg.Database.Database)
	cfg.Database.SSLMode = getEnvOrDefault("DATABASE_SSLMODE", cfg.Database.SSLMode)

	// Redis
	if v := os.Getenv("REDIS_ENABLED"); v != "" {
		cfg.Redis.Enabled = v == "true"
	}
	cfg.Redis.Address = getEnvOrDefault("REDIS_ADDR", cfg.Redis.Address)
	cfg.Redis.Password = getEnvOrDefault("REDIS_PASSWORD", cfg.Redis.Password)
	cfg.Redis.DB = getEnvIntOrDefault("REDIS_DB", cfg.Redis.DB)

	// Vault
	if v := os.Getenv("VAULT_ENABLED"); v != "" {
		cfg.Vault.Enabled = v == "true"
	}
	cfg.Vault.Address = getEnvOrDefault("VAULT_ADDR", cfg.Vault.Address)
	cfg.Vault.Token = getEnvOrDefault("VAULT_TOKEN", cfg.Vault.Token)
	cfg.Vault.MountPath = getEnvOrDefault("VAULT_MOUNT_PATH", cfg.Vault.MountPath)
	cfg.Vault.SecretPath = getEnvOrDefault("VAULT_SECRET_PATH", cfg.Vault.SecretPath)
	if v := os.Getenv("VAULT_TLS_ENABLED"); v != "" {
		cfg.Vault.TLSEnabled = v == "true"
	}
	cfg.Vault.CACert = getEnvOrDefault("VAULT_CACERT", cfg.Vault.CACert)

	// Server
	cfg.Server.Host = getEnvOrDefault("SERVER_HOST", cfg.Server.Host)
	cfg.Server.Port = getEnvIntOrDefault("SERVER_PORT", cfg.Server.Port)
	cfg.Server.AllowedOrigins = getEnvOrDefault("SERVER_ALLOWED_ORIGINS", cfg.Server.AllowedOrigins)
	if v := os.Getenv("SERVER_AUTH_ENABLED"); v != "" {
		cfg.Server.AuthEnabled = v == "true"
	}
	cfg.Server.JWTSecret = getEnvOrDefault("SERVER_JWT_SECRET", cfg.Server.JWTSecret)
	cfg.Server.AdminUser = getEnvOrDefault("SERVER_ADMIN_USER", cfg.Server.AdminUser)
	cfg.Server.AdminPasswordHash = getEnvOrDefault("SERVER_ADMIN_PASSWORD_HASH", cfg.Server.AdminPasswordHash)

	// Notifications
	if v := os.Getenv("NOTIFICATIONS_ENABLED"); v != "" {
		cfg.Notifications.Enabled = v == "true"
	}
	if v := os.Getenv("TELEGRAM_ENABLED"); v != "" {
		cfg.Notifications.Telegram.Enabled = v == "true"
	}
	cfg.Notifications.Telegram.BotToken = getEnvOrDefault("TELEGRAM_BOT_TOKEN", cfg.Notifications.Telegram.BotToken)
	cfg.Notifications.Telegram.ChatID = getEnvOrDefault("TELEGRAM_CHAT_ID", cfg.Notifications.Telegram.ChatID)
	if v := os.Getenv("DISCORD_ENABLED"); v != "" {
		cfg.Notifications.Discord.Enabled = v == "true"
	}
	cfg.Notifications.Discord.WebhookURL = getEnvOrDefault("DISCORD_WEBHOOK_URL", cfg.Notifications.Discord.WebhookURL)

	// Logging
	cfg.Logging.Level = getEnvOrDefault("LOG_LEVEL", cfg.Logging.Level)
	cfg.Logging.Output = getEnvOrDefault("LOG_OUTPUT", cfg.Logging.Output)
	if v := os.Getenv("LOG_PRETTY"); v != "" {
		cfg.Logging.Pretty = v == "true"
	}
}

func getEnvOrDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvIntOrDefault(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
	}
	return defaultValue
}

func getEnvFloatOrDefault(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if floatVal, err := strconv.ParseFloat(value, 64); err == nil {
			return floatVal
		}
	}
	return defaultValue
}

// GenerateSampleConfig writes a starter configuration file.
func GenerateSampleConfig(filename string) error {
	data, err := json.MarshalIndent(Default(), "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(filename, data, 0644)
}
