package app

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/shopspring/decimal"

	"github.com/alanyoungcy/upbitbot/internal/cache/redis"
	"github.com/alanyoungcy/upbitbot/internal/config"
	"github.com/alanyoungcy/upbitbot/internal/crypto"
	"github.com/alanyoungcy/upbitbot/internal/domain"
	"github.com/alanyoungcy/upbitbot/internal/executor"
	"github.com/alanyoungcy/upbitbot/internal/notify"
	"github.com/alanyoungcy/upbitbot/internal/platform/upbit"
	"github.com/alanyoungcy/upbitbot/internal/portfolio"
	"github.com/alanyoungcy/upbitbot/internal/server/ws"
	"github.com/alanyoungcy/upbitbot/internal/strategy"
	"github.com/alanyoungcy/upbitbot/internal/stream"
)

// Dependencies bundles every component the application runs. It is
// constructed by Wire and torn down by the returned cleanup function.
type Dependencies struct {
	Client     *upbit.Client
	Log        *notify.Log
	Notifier   *notify.Notifier
	Worker     *executor.Worker
	Engine     *strategy.Engine
	Rebalancer *portfolio.Rebalancer
	Store      *stream.Store
	Supervisor *stream.Supervisor
	Hub        *ws.Hub

	// Optional Redis backends; nil when Redis is disabled.
	PriceCache  domain.PriceCache
	LockManager domain.LockManager
	Mirror      *redis.Mirror
}

// Wire constructs all concrete dependency implementations from the given
// configuration and returns them together with a cleanup function that should
// be called on shutdown to release resources.
func Wire(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*Dependencies, func(), error) {
	var closers []func()
	cleanup := func() {
		for i := len(closers) - 1; i >= 0; i-- {
			closers[i]()
		}
	}

	deps := &Dependencies{}
	feeRate := decimal.NewFromFloat(cfg.Trading.FeeRate)
	minOrder := decimal.NewFromFloat(cfg.Trading.MinOrderKRW)

	// --- Exchange ---
	signer, err := crypto.NewJWTSigner(cfg.Upbit.AccessKey, cfg.Upbit.SecretKey)
	if err != nil {
		return nil, nil, fmt.Errorf("wire: signer: %w", err)
	}
	deps.Client = upbit.NewClient(upbit.ClientConfig{
		BaseURL:     cfg.Upbit.BaseURL,
		FeeRate:     feeRate,
		MinOrderKRW: minOrder,
		Timeout:     cfg.Upbit.Timeout.Duration,
	}, signer, logger)

	// --- Redis (optional) ---
	var redisClient *redis.Client
	if cfg.Redis.Enabled {
		redisClient, err = redis.New(ctx, redis.ClientConfig{
			Addr:       cfg.Redis.Addr,
			Password:   cfg.Redis.Password,
			DB:         cfg.Redis.DB,
			PoolSize:   cfg.Redis.PoolSize,
			MaxRetries: cfg.Redis.MaxRetries,
			TLSEnabled: cfg.Redis.TLSEnabled,
		})
		if err != nil {
			cleanup()
			return nil, nil, fmt.Errorf("wire: redis: %w", err)
		}
		closers = append(closers, func() { _ = redisClient.Close() })
		deps.PriceCache = redis.NewPriceCache(redisClient, cfg.Redis.PriceTTL.Duration)
		deps.LockManager = redis.NewLockManager(redisClient)
	}

	// --- Notifications ---
	deps.Log = notify.NewLog(cfg.Notify.LogCapacity, logger)

	// --- Trading ---
	deps.Worker = executor.NewWorker(cfg.Worker.QueueSize, logger)

	deps.Engine = strategy.NewEngine(strategy.Config{
		Period:      cfg.Trading.RSIPeriod,
		Oversold:    cfg.Trading.Oversold,
		Overbought:  cfg.Trading.Overbought,
		CandleUnit:  cfg.Trading.CandleUnit,
		CandleCount: cfg.Trading.CandleCount,
		MinOrderKRW: minOrder,
	}, deps.Client, deps.Log, logger)

	deps.Store = stream.NewStore()

	var rebalancer stream.Rebalancer
	if cfg.Rebalance.Enabled {
		rcfg := portfolio.DefaultConfig()
		rcfg.FeeRate = feeRate
		rcfg.Threshold = decimal.NewFromFloat(cfg.Rebalance.Threshold)
		rcfg.Cooldown = cfg.Rebalance.Cooldown.Duration
		rcfg.CheckInterval = cfg.Rebalance.CheckInterval.Duration
		rcfg.SettleDelay = cfg.Rebalance.SettleDelay.Duration
		rcfg.SettlePolls = cfg.Rebalance.SettlePolls
		rcfg.MinOrderKRW = minOrder
		if cfg.Rebalance.LockTTL.Duration > 0 {
			rcfg.LockTTL = cfg.Rebalance.LockTTL.Duration
		}
		deps.Rebalancer = portfolio.NewRebalancer(rcfg, deps.Client, deps.Store, deps.Log, deps.LockManager, logger)
		rebalancer = deps.Rebalancer
	}

	deps.Supervisor = stream.NewSupervisor(stream.Config{
		HeartbeatInterval: cfg.Stream.HeartbeatInterval.Duration,
		HeartbeatTimeout:  cfg.Stream.HeartbeatTimeout.Duration,
		ReconnectDelay:    cfg.Stream.ReconnectDelay.Duration,
		MaxReconnectDelay: cfg.Stream.MaxReconnectDelay.Duration,
		EvalCooldown:      cfg.Trading.EvalCooldown.Duration,
	}, stream.Deps{
		Dialer:        upbit.NewWSDialer(cfg.Upbit.WebsocketURL),
		Engine:        deps.Engine,
		Rebalancer:    rebalancer,
		Accounts:      deps.Client,
		Worker:        deps.Worker,
		Recorder:      deps.Log,
		Notifications: deps.Log,
	}, deps.Store, logger)

	deps.Hub = ws.NewHub(deps.Supervisor, ws.Config{
		PushInterval:   5 * time.Second,
		AllowedOrigins: cfg.Server.CORSOrigins,
	}, logger)

	if deps.PriceCache != nil {
		deps.Mirror = redis.NewMirror(deps.Store, deps.PriceCache, cfg.Redis.MirrorInterval.Duration, logger)
	}

	// Forwarding is enabled last: every sender exists and nothing runs yet.
	var senders []notify.Sender
	if cfg.Notify.TelegramToken != "" && cfg.Notify.TelegramChatID != "" {
		senders = append(senders, notify.NewTelegramSender(
			cfg.Notify.TelegramToken,
			cfg.Notify.TelegramChatID,
		))
	}
	if cfg.Notify.DiscordWebhookURL != "" {
		senders = append(senders, notify.NewDiscordSender(cfg.Notify.DiscordWebhookURL))
	}
	if cfg.Notify.RedisStream && redisClient != nil {
		senders = append(senders, redis.NewNotificationStream(redisClient))
	}
	if cfg.ServesHTTP() {
		senders = append(senders, deps.Hub)
	}
	deps.Notifier = notify.NewNotifier(senders, cfg.Notify.Events, logger)
	deps.Log.EnableForwarding(deps.Notifier, 0)

	return deps, cleanup, nil
}
