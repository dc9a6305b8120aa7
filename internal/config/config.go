// Package config defines the top-level configuration for the trading bot and
// provides validation helpers.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/alanyoungcy/upbitbot/internal/domain"
)

// Config is the root configuration structure. Fields are populated from a TOML
// file and then optionally overridden by UPBITBOT_* environment variables.
type Config struct {
	Upbit     UpbitConfig     `toml:"upbit"`
	Trading   TradingConfig   `toml:"trading"`
	Rebalance RebalanceConfig `toml:"rebalance"`
	Stream    StreamConfig    `toml:"stream"`
	Worker    WorkerConfig    `toml:"worker"`
	Redis     RedisConfig     `toml:"redis"`
	Server    ServerConfig    `toml:"server"`
	Notify    NotifyConfig    `toml:"notify"`
	Mode      string          `toml:"mode"`
	LogLevel  string          `toml:"log_level"`
}

// UpbitConfig holds exchange endpoints and API credentials.
type UpbitConfig struct {
	BaseURL      string   `toml:"base_url"`
	WebsocketURL string   `toml:"websocket_url"`
	AccessKey    string   `toml:"access_key"`
	SecretKey    string   `toml:"secret_key"`
	Timeout      Duration `toml:"timeout"`
}

// TradingConfig holds the target markets and the RSI signal parameters.
type TradingConfig struct {
	Markets      []string `toml:"markets"`
	RSIPeriod    int      `toml:"rsi_period"`
	Oversold     float64  `toml:"oversold"`
	Overbought   float64  `toml:"overbought"`
	CandleUnit   string   `toml:"candle_unit"` // "minutes/{n}", "days", "weeks" or "months"
	CandleCount  int      `toml:"candle_count"`
	EvalCooldown Duration `toml:"eval_cooldown"`
	MinOrderKRW  float64  `toml:"min_order_krw"`
	FeeRate      float64  `toml:"fee_rate"`
	// AutoStart starts the stream at boot instead of waiting for the control API.
	AutoStart bool `toml:"auto_start"`
}

// RebalanceConfig holds the portfolio take-profit parameters.
type RebalanceConfig struct {
	Enabled       bool     `toml:"enabled"`
	Threshold     float64  `toml:"threshold"`
	Cooldown      Duration `toml:"cooldown"`
	CheckInterval Duration `toml:"check_interval"`
	SettleDelay   Duration `toml:"settle_delay"`
	SettlePolls   int      `toml:"settle_polls"`
	LockTTL       Duration `toml:"lock_ttl"`
}

// StreamConfig holds the ticker stream timings.
type StreamConfig struct {
	HeartbeatInterval Duration `toml:"heartbeat_interval"`
	HeartbeatTimeout  Duration `toml:"heartbeat_timeout"`
	ReconnectDelay    Duration `toml:"reconnect_delay"`
	MaxReconnectDelay Duration `toml:"max_reconnect_delay"`
}

// WorkerConfig sizes the trade worker.
type WorkerConfig struct {
	QueueSize int `toml:"queue_size"`
}

// RedisConfig holds Redis connection parameters. Redis is optional; when
// disabled the rebalance lock is process-local and prices are not mirrored.
type RedisConfig struct {
	Enabled        bool     `toml:"enabled"`
	Addr           string   `toml:"addr"`
	Password       string   `toml:"password"`
	DB             int      `toml:"db"`
	PoolSize       int      `toml:"pool_size"`
	MaxRetries     int      `toml:"max_retries"`
	TLSEnabled     bool     `toml:"tls_enabled"`
	PriceTTL       Duration `toml:"price_ttl"`
	MirrorInterval Duration `toml:"mirror_interval"`
}

// ServerConfig holds HTTP control API settings.
type ServerConfig struct {
	Enabled     bool     `toml:"enabled"`
	Port        int      `toml:"port"`
	APIKey      string   `toml:"api_key"`
	CORSOrigins []string `toml:"cors_origins"`
}

// NotifyConfig holds notification channel credentials and the kinds to
// forward.
type NotifyConfig struct {
	TelegramToken     string   `toml:"telegram_token"`
	TelegramChatID    string   `toml:"telegram_chat_id"`
	DiscordWebhookURL string   `toml:"discord_webhook_url"`
	RedisStream       bool     `toml:"redis_stream"`
	Events            []string `toml:"events"`
	LogCapacity       int      `toml:"log_capacity"`
}

// Duration is a wrapper around time.Duration that supports TOML string decoding
// (e.g. "5m", "30s").
type Duration struct {
	time.Duration
}

// UnmarshalText implements encoding.TextUnmarshaler so the TOML decoder can
// parse duration strings like "5m" or "30s".
func (d *Duration) UnmarshalText(text []byte) error {
	var err error
	d.Duration, err = time.ParseDuration(string(text))
	return err
}

// MarshalText implements encoding.TextMarshaler.
func (d Duration) MarshalText() ([]byte, error) {
	return []byte(d.Duration.String()), nil
}

// Defaults returns a Config populated with sensible defaults for every field.
// Credentials are left empty and must come from the file or the environment.
func Defaults() Config {
	return Config{
		Upbit: UpbitConfig{
			BaseURL:      "https://api.upbit.com",
			WebsocketURL: "wss://api.upbit.com/websocket/v1",
			Timeout:      Duration{10 * time.Second},
		},
		Trading: TradingConfig{
			Markets:      []string{"KRW-BTT", "KRW-BTC", "KRW-ETH", "KRW-XRP", "KRW-DOGE"},
			RSIPeriod:    14,
			Oversold:     40,
			Overbought:   65,
			CandleUnit:   "minutes/1",
			CandleCount:  200,
			EvalCooldown: Duration{60 * time.Second},
			MinOrderKRW:  5000,
			FeeRate:      0.0005,
		},
		Rebalance: RebalanceConfig{
			Enabled:       true,
			Threshold:     0.01,
			Cooldown:      Duration{60 * time.Second},
			CheckInterval: Duration{5 * time.Second},
			SettleDelay:   Duration{2 * time.Second},
			SettlePolls:   5,
			LockTTL:       Duration{2 * time.Minute},
		},
		Stream: StreamConfig{
			HeartbeatInterval: Duration{15 * time.Second},
			HeartbeatTimeout:  Duration{15 * time.Second},
			ReconnectDelay:    Duration{2 * time.Second},
			MaxReconnectDelay: Duration{60 * time.Second},
		},
		Worker: WorkerConfig{
			QueueSize: 64,
		},
		Redis: RedisConfig{
			Enabled:        false,
			Addr:           "localhost:6379",
			PoolSize:       10,
			MaxRetries:     3,
			PriceTTL:       Duration{5 * time.Minute},
			MirrorInterval: Duration{time.Second},
		},
		Server: ServerConfig{
			Enabled:     true,
			Port:        8080,
			CORSOrigins: []string{"http://localhost:3000", "http://localhost:5173"},
		},
		Notify: NotifyConfig{
			Events:      []string{"buy", "sell", "warning", "error"},
			LogCapacity: 200,
		},
		Mode:     "full",
		LogLevel: "info",
	}
}

// validModes enumerates the accepted values for Config.Mode.
var validModes = map[string]bool{
	"full":   true, // control API, stream started at boot when trading.auto_start is set
	"trade":  true, // headless, stream always started at boot
	"server": true, // control API only, stream started on request
}

// validLogLevels enumerates the accepted values for Config.LogLevel.
var validLogLevels = map[string]bool{
	"debug": true,
	"info":  true,
	"warn":  true,
	"error": true,
}

// ServesHTTP reports whether the control API should run.
func (c *Config) ServesHTTP() bool {
	return c.Server.Enabled && strings.ToLower(c.Mode) != "trade"
}

// StartsStream reports whether the ticker stream starts at boot.
func (c *Config) StartsStream() bool {
	switch strings.ToLower(c.Mode) {
	case "trade":
		return true
	case "full":
		return c.Trading.AutoStart
	default:
		return false
	}
}

// MarketList returns the configured markets, upper-cased and de-duplicated.
func (c *Config) MarketList() []domain.Market {
	return domain.Markets(c.Trading.Markets)
}

// Validate checks Config for invalid or missing values and returns one error
// listing every problem found. The error wraps domain.ErrConfig.
func (c *Config) Validate() error {
	var errs []string

	if !validModes[strings.ToLower(c.Mode)] {
		errs = append(errs, fmt.Sprintf("unknown mode %q (valid: full, trade, server)", c.Mode))
	}
	if !validLogLevels[strings.ToLower(c.LogLevel)] {
		errs = append(errs, fmt.Sprintf("unknown log_level %q (valid: debug, info, warn, error)", c.LogLevel))
	}

	// Upbit
	if strings.TrimSpace(c.Upbit.AccessKey) == "" {
		errs = append(errs, "upbit: access_key must not be empty")
	}
	if strings.TrimSpace(c.Upbit.SecretKey) == "" {
		errs = append(errs, "upbit: secret_key must not be empty")
	}
	if c.Upbit.BaseURL == "" {
		errs = append(errs, "upbit: base_url must not be empty")
	}
	if c.Upbit.WebsocketURL == "" {
		errs = append(errs, "upbit: websocket_url must not be empty")
	}

	// Trading
	markets := c.MarketList()
	if len(markets) == 0 {
		errs = append(errs, "trading: markets must not be empty")
	}
	for _, m := range markets {
		if !m.Valid() {
			errs = append(errs, fmt.Sprintf("trading: market %q is not QUOTE-BASE", m))
		}
	}
	if c.Trading.RSIPeriod < 1 {
		errs = append(errs, "trading: rsi_period must be >= 1")
	}
	if c.Trading.Oversold <= 0 || c.Trading.Overbought >= 100 || c.Trading.Oversold >= c.Trading.Overbought {
		errs = append(errs, fmt.Sprintf("trading: need 0 < oversold < overbought < 100, got %v/%v", c.Trading.Oversold, c.Trading.Overbought))
	}
	if !domain.ValidCandleUnit(c.Trading.CandleUnit) {
		errs = append(errs, fmt.Sprintf("trading: candle_unit %q must be minutes/{1,3,5,10,15,30,60,240}, days, weeks or months", c.Trading.CandleUnit))
	}
	if c.Trading.CandleCount <= c.Trading.RSIPeriod {
		errs = append(errs, "trading: candle_count must exceed rsi_period")
	}
	if c.Trading.FeeRate < 0 || c.Trading.FeeRate >= 1 {
		errs = append(errs, "trading: fee_rate must be in [0, 1)")
	}
	if c.Trading.MinOrderKRW <= 0 {
		errs = append(errs, "trading: min_order_krw must be > 0")
	}

	// Rebalance
	if c.Rebalance.Enabled {
		if c.Rebalance.Threshold <= 0 {
			errs = append(errs, "rebalance: threshold must be > 0 when enabled")
		}
		if c.Rebalance.SettlePolls < 0 {
			errs = append(errs, "rebalance: settle_polls must be >= 0")
		}
	}

	// Stream
	if c.Stream.HeartbeatInterval.Duration <= 0 || c.Stream.HeartbeatTimeout.Duration <= 0 {
		errs = append(errs, "stream: heartbeat_interval and heartbeat_timeout must be > 0")
	}
	if c.Stream.ReconnectDelay.Duration <= 0 || c.Stream.MaxReconnectDelay.Duration < c.Stream.ReconnectDelay.Duration {
		errs = append(errs, "stream: need 0 < reconnect_delay <= max_reconnect_delay")
	}

	// Worker
	if c.Worker.QueueSize < 1 {
		errs = append(errs, "worker: queue_size must be >= 1")
	}

	// Redis
	if c.Redis.Enabled {
		if c.Redis.Addr == "" {
			errs = append(errs, "redis: addr must not be empty when enabled")
		}
		if c.Redis.PoolSize < 1 {
			errs = append(errs, "redis: pool_size must be >= 1")
		}
	}

	// Server
	if c.Server.Enabled {
		if c.Server.Port <= 0 || c.Server.Port > 65535 {
			errs = append(errs, fmt.Sprintf("server: port must be 1-65535, got %d", c.Server.Port))
		}
	}

	// Notify
	if (c.Notify.TelegramToken == "") != (c.Notify.TelegramChatID == "") {
		errs = append(errs, "notify: telegram_token and telegram_chat_id must be set together")
	}
	if c.Notify.LogCapacity < 1 {
		errs = append(errs, "notify: log_capacity must be >= 1")
	}

	if len(errs) > 0 {
		return fmt.Errorf("config validation failed: %w:\n  - %s", domain.ErrConfig, strings.Join(errs, "\n  - "))
	}
	return nil
}
