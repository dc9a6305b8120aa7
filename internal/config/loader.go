package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/joho/godotenv"
)

// EnvPrefix prefixes every environment override.
const EnvPrefix = "UPBITBOT_"

// Load reads a TOML configuration file at path, merges it on top of the
// built-in defaults, applies UPBITBOT_* environment variable overrides, and
// returns the final Config. An empty path skips the file. The returned Config
// has NOT been validated; the caller should invoke Config.Validate() after
// Load.
func Load(path string) (*Config, error) {
	cfg := Defaults()

	if path != "" {
		if _, err := toml.DecodeFile(path, &cfg); err != nil {
			return nil, fmt.Errorf("config: decode %s: %w", path, err)
		}
	}

	// Load .env file if present (silently ignore if missing).
	_ = godotenv.Load()

	applyEnvOverrides(&cfg)

	return &cfg, nil
}

// applyEnvOverrides reads well-known UPBITBOT_* environment variables and
// overwrites the corresponding Config fields when a variable is set (i.e. not
// empty). This lets operators inject secrets at deploy time without touching
// the TOML file.
func applyEnvOverrides(cfg *Config) {
	// ── Upbit ──
	setStr(&cfg.Upbit.AccessKey, "UPBIT_ACCESS_KEY") // compatibility alias
	setStr(&cfg.Upbit.SecretKey, "UPBIT_SECRET_KEY") // compatibility alias
	setStr(&cfg.Upbit.BaseURL, EnvPrefix+"UPBIT_BASE_URL")
	setStr(&cfg.Upbit.WebsocketURL, EnvPrefix+"UPBIT_WEBSOCKET_URL")
	setStr(&cfg.Upbit.AccessKey, EnvPrefix+"UPBIT_ACCESS_KEY")
	setStr(&cfg.Upbit.SecretKey, EnvPrefix+"UPBIT_SECRET_KEY")
	setDuration(&cfg.Upbit.Timeout, EnvPrefix+"UPBIT_TIMEOUT")

	// ── Trading ──
	setStringSlice(&cfg.Trading.Markets, EnvPrefix+"TRADING_MARKETS")
	setInt(&cfg.Trading.RSIPeriod, EnvPrefix+"TRADING_RSI_PERIOD")
	setFloat64(&cfg.Trading.Oversold, EnvPrefix+"TRADING_OVERSOLD")
	setFloat64(&cfg.Trading.Overbought, EnvPrefix+"TRADING_OVERBOUGHT")
	setStr(&cfg.Trading.CandleUnit, EnvPrefix+"TRADING_CANDLE_UNIT")
	setInt(&cfg.Trading.CandleCount, EnvPrefix+"TRADING_CANDLE_COUNT")
	setDuration(&cfg.Trading.EvalCooldown, EnvPrefix+"TRADING_EVAL_COOLDOWN")
	setFloat64(&cfg.Trading.MinOrderKRW, EnvPrefix+"TRADING_MIN_ORDER_KRW")
	setFloat64(&cfg.Trading.FeeRate, EnvPrefix+"TRADING_FEE_RATE")
	setBool(&cfg.Trading.AutoStart, EnvPrefix+"TRADING_AUTO_START")

	// ── Rebalance ──
	setBool(&cfg.Rebalance.Enabled, EnvPrefix+"REBALANCE_ENABLED")
	setFloat64(&cfg.Rebalance.Threshold, EnvPrefix+"REBALANCE_THRESHOLD")
	setDuration(&cfg.Rebalance.Cooldown, EnvPrefix+"REBALANCE_COOLDOWN")
	setDuration(&cfg.Rebalance.CheckInterval, EnvPrefix+"REBALANCE_CHECK_INTERVAL")
	setDuration(&cfg.Rebalance.SettleDelay, EnvPrefix+"REBALANCE_SETTLE_DELAY")
	setInt(&cfg.Rebalance.SettlePolls, EnvPrefix+"REBALANCE_SETTLE_POLLS")

	// ── Stream ──
	setDuration(&cfg.Stream.HeartbeatInterval, EnvPrefix+"STREAM_HEARTBEAT_INTERVAL")
	setDuration(&cfg.Stream.HeartbeatTimeout, EnvPrefix+"STREAM_HEARTBEAT_TIMEOUT")
	setDuration(&cfg.Stream.ReconnectDelay, EnvPrefix+"STREAM_RECONNECT_DELAY")
	setDuration(&cfg.Stream.MaxReconnectDelay, EnvPrefix+"STREAM_MAX_RECONNECT_DELAY")

	// ── Worker ──
	setInt(&cfg.Worker.QueueSize, EnvPrefix+"WORKER_QUEUE_SIZE")

	// ── Redis ──
	setBool(&cfg.Redis.Enabled, EnvPrefix+"REDIS_ENABLED")
	setStr(&cfg.Redis.Addr, EnvPrefix+"REDIS_ADDR")
	setStr(&cfg.Redis.Password, EnvPrefix+"REDIS_PASSWORD")
	setInt(&cfg.Redis.DB, EnvPrefix+"REDIS_DB")
	setInt(&cfg.Redis.PoolSize, EnvPrefix+"REDIS_POOL_SIZE")
	setInt(&cfg.Redis.MaxRetries, EnvPrefix+"REDIS_MAX_RETRIES")
	setBool(&cfg.Redis.TLSEnabled, EnvPrefix+"REDIS_TLS_ENABLED")

	// ── Server ──
	setBool(&cfg.Server.Enabled, EnvPrefix+"SERVER_ENABLED")
	setInt(&cfg.Server.Port, EnvPrefix+"SERVER_PORT")
	setStr(&cfg.Server.APIKey, EnvPrefix+"SERVER_API_KEY")
	setStringSlice(&cfg.Server.CORSOrigins, EnvPrefix+"SERVER_CORS_ORIGINS")

	// ── Notify ──
	setStr(&cfg.Notify.TelegramToken, EnvPrefix+"NOTIFY_TELEGRAM_TOKEN")
	setStr(&cfg.Notify.TelegramChatID, EnvPrefix+"NOTIFY_TELEGRAM_CHAT_ID")
	setStr(&cfg.Notify.DiscordWebhookURL, EnvPrefix+"NOTIFY_DISCORD_WEBHOOK_URL")
	setBool(&cfg.Notify.RedisStream, EnvPrefix+"NOTIFY_REDIS_STREAM")
	setStringSlice(&cfg.Notify.Events, EnvPrefix+"NOTIFY_EVENTS")

	// ── Top-level ──
	setStr(&cfg.Mode, EnvPrefix+"MODE")
	setStr(&cfg.LogLevel, EnvPrefix+"LOG_LEVEL")
}

// ---------------------------------------------------------------------------
// Typed env-var helpers. Each only mutates the target when the environment
// variable is present and non-empty.
// ---------------------------------------------------------------------------

func setStr(dst *string, key string) {
	if v := os.Getenv(key); v != "" {
		*dst = v
	}
}

func setInt(dst *int, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			*dst = n
		}
	}
}

func setFloat64(dst *float64, key string) {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			*dst = f
		}
	}
}

func setBool(dst *bool, key string) {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			*dst = b
		}
	}
}

func setDuration(dst *Duration, key string) {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			dst.Duration = d
		}
	}
}

func setStringSlice(dst *[]string, key string) {
	if v := os.Getenv(key); v != "" {
		parts := strings.Split(v, ",")
		cleaned := make([]string, 0, len(parts))
		for _, p := range parts {
			p = strings.TrimSpace(p)
			if p != "" {
				cleaned = append(cleaned, p)
			}
		}
		if len(cleaned) > 0 {
			*dst = cleaned
		}
	}
}
