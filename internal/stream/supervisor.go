// Package stream owns the live ticker connection. It subscribes, reassembles
// and parses frames, watches the heartbeat, reconnects, and drives the RSI
// engine and the portfolio rebalancer from every tick.
package stream

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/alanyoungcy/upbitbot/internal/domain"
	"github.com/alanyoungcy/upbitbot/internal/executor"
	"github.com/alanyoungcy/upbitbot/internal/metrics"
	"github.com/alanyoungcy/upbitbot/internal/platform/upbit"
	"github.com/alanyoungcy/upbitbot/internal/portfolio"
	"github.com/alanyoungcy/upbitbot/internal/strategy"
)

// State is the connection lifecycle state.
type State string

const (
	StateDisconnected State = "disconnected"
	StateConnecting   State = "connecting"
	StateSubscribed   State = "subscribed"
	StateStreaming    State = "streaming"
	StateClosing      State = "closing"
	StateFaulted      State = "faulted"
)

var errStale = errors.New("stream: connection superseded")

// Evaluator runs one RSI decision for a market.
type Evaluator interface {
	Evaluate(ctx context.Context, market domain.Market, marketCount int) (strategy.Decision, error)
}

// Rebalancer is the portfolio take-profit trigger.
type Rebalancer interface {
	TryBegin(now time.Time) bool
	Abort()
	Run(ctx context.Context) (portfolio.Result, error)
}

// Accounts supplies balances for the holdings sync done on start.
type Accounts interface {
	GetAccounts(ctx context.Context) ([]domain.AccountBalance, error)
}

// Submitter queues trading work off the read path.
type Submitter interface {
	Submit(job executor.Job) error
}

// NotificationSource lists recent notifications, newest first.
type NotificationSource interface {
	List() []domain.Notification
}

// Config holds the supervisor timings.
type Config struct {
	HeartbeatInterval time.Duration
	HeartbeatTimeout  time.Duration
	ReconnectDelay    time.Duration
	MaxReconnectDelay time.Duration
	EvalCooldown      time.Duration
}

// DefaultConfig returns a 15s heartbeat, 2s..60s reconnect backoff and a 60s
// per-market evaluation cooldown.
func DefaultConfig() Config {
	return Config{
		HeartbeatInterval: 15 * time.Second,
		HeartbeatTimeout:  15 * time.Second,
		ReconnectDelay:    2 * time.Second,
		MaxReconnectDelay: 60 * time.Second,
		EvalCooldown:      60 * time.Second,
	}
}

// Deps are the collaborators a Supervisor drives. Rebalancer and
// Notifications may be nil.
type Deps struct {
	Dialer        domain.StreamDialer
	Engine        Evaluator
	Rebalancer    Rebalancer
	Accounts      Accounts
	Worker        Submitter
	Recorder      domain.Recorder
	Notifications NotificationSource
}

// Status is the externally visible view of the supervisor.
type Status struct {
	Active  bool            `json:"active"`
	State   State           `json:"state"`
	Markets []domain.Market `json:"markets"`
}

// Supervisor is the connection state machine. The connection handle, state
// and generation are guarded by mu; a reconnect only proceeds for the
// generation it was raised against, so one dead connection yields exactly
// one reconnect.
type Supervisor struct {
	cfg    Config
	deps   Deps
	store  *Store
	logger *slog.Logger
	now    func() time.Time

	mu      sync.Mutex
	state   State
	markets []domain.Market
	conn    domain.StreamConn
	gen     uint64
	sessCtx context.Context
	cancel  context.CancelFunc

	lastFrame atomic.Int64 // unix nanos of the last frame received
}

// NewSupervisor creates a disconnected supervisor.
func NewSupervisor(cfg Config, deps Deps, store *Store, logger *slog.Logger) *Supervisor {
	if store == nil {
		store = NewStore()
	}
	return &Supervisor{
		cfg:    cfg,
		deps:   deps,
		store:  store,
		logger: logger.With(slog.String("component", "stream")),
		now:    time.Now,
		state:  StateDisconnected,
	}
}

// Store exposes the per-market state store.
func (s *Supervisor) Store() *Store { return s.store }

// Start records markets, syncs held balances into their state, connects and
// subscribes. It fails with domain.ErrAlreadyRunning, changing nothing, when
// a session is already active. ctx bounds the sync and the first dial only;
// the session itself lives until Stop.
func (s *Supervisor) Start(ctx context.Context, markets []domain.Market) error {
	if len(markets) == 0 {
		return fmt.Errorf("stream: start: no markets: %w", domain.ErrConfig)
	}

	s.mu.Lock()
	if s.state != StateDisconnected {
		state := s.state
		s.mu.Unlock()
		s.logger.WarnContext(ctx, "start ignored, session already active",
			slog.String("state", string(state)),
		)
		return fmt.Errorf("stream: start: %w", domain.ErrAlreadyRunning)
	}
	s.state = StateConnecting
	s.markets = append([]domain.Market(nil), markets...)
	s.store.Ensure(markets)
	sessCtx, cancel := context.WithCancel(context.Background())
	s.sessCtx = sessCtx
	s.cancel = cancel
	s.gen++
	gen := s.gen
	s.mu.Unlock()

	s.syncHoldings(ctx, markets)

	dialCtx, stopDial := context.WithCancel(sessCtx)
	defer stopDial()
	go func() {
		select {
		case <-ctx.Done():
			stopDial()
		case <-dialCtx.Done():
		}
	}()

	if err := s.connect(dialCtx, gen); err != nil {
		s.mu.Lock()
		if s.gen == gen {
			s.state = StateDisconnected
			s.cancel()
			s.cancel = nil
			s.sessCtx = nil
		}
		s.mu.Unlock()
		return fmt.Errorf("stream: start: %w", err)
	}

	go s.watchdog(sessCtx)
	s.logger.InfoContext(ctx, "stream started", slog.Any("markets", markets))
	s.record(domain.KindInfo, fmt.Sprintf("auto trading started for %d markets", len(markets)))
	return nil
}

// Stop closes the connection and halts the watchdog and any reconnect loop.
// Work already handed to the trade worker is left to finish.
func (s *Supervisor) Stop() {
	s.mu.Lock()
	if s.state == StateDisconnected {
		s.mu.Unlock()
		return
	}
	s.state = StateClosing
	s.gen++
	conn, cancel := s.conn, s.cancel
	s.conn, s.cancel, s.sessCtx = nil, nil, nil
	s.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	if conn != nil {
		_ = conn.Close()
	}

	s.mu.Lock()
	s.state = StateDisconnected
	s.mu.Unlock()

	metrics.SetStreamActive(false)
	s.logger.Info("stream stopped")
	s.record(domain.KindInfo, "auto trading stopped")
}

// Status reports whether the supervisor is streaming and for which markets.
func (s *Supervisor) Status() Status {
	s.mu.Lock()
	defer s.mu.Unlock()
	return Status{
		Active:  s.state == StateStreaming,
		State:   s.state,
		Markets: append([]domain.Market(nil), s.markets...),
	}
}

// CurrentPrices returns the latest trade price per market.
func (s *Supervisor) CurrentPrices() map[domain.Market]float64 {
	return s.store.Prices()
}

// Notifications returns recent notifications, newest first.
func (s *Supervisor) Notifications() []domain.Notification {
	if s.deps.Notifications == nil {
		return []domain.Notification{}
	}
	return s.deps.Notifications.List()
}

// --------------------------------------------------------------------------
// Connection lifecycle
// --------------------------------------------------------------------------

// connect dials and subscribes on behalf of generation gen. The handle is
// published only if gen is still current.
func (s *Supervisor) connect(ctx context.Context, gen uint64) error {
	conn, err := s.deps.Dialer.Dial(ctx)
	if err != nil {
		return err
	}

	s.mu.Lock()
	if s.gen != gen || ctx.Err() != nil {
		s.mu.Unlock()
		_ = conn.Close()
		return errStale
	}

	frame := upbit.SubscribeFrame(uuid.New().String(), s.markets)
	if err := conn.WriteJSON(frame); err != nil {
		s.mu.Unlock()
		_ = conn.Close()
		return fmt.Errorf("subscribe: %w", err)
	}
	s.state = StateSubscribed
	s.conn = conn
	s.lastFrame.Store(s.now().UnixNano())
	s.state = StateStreaming
	sessCtx := s.sessCtx
	s.mu.Unlock()

	metrics.SetStreamActive(true)
	go s.readLoop(sessCtx, conn, gen)
	return nil
}

// reconnect tears down the connection of generation gen and starts a
// reconnect loop. Calls for a generation that is no longer current are
// ignored, which collapses a watchdog timeout and the read error it causes
// into one reconnect.
func (s *Supervisor) reconnect(gen uint64, cause string) {
	s.mu.Lock()
	if s.gen != gen || s.sessCtx == nil || s.state == StateClosing || s.state == StateDisconnected {
		s.mu.Unlock()
		return
	}
	s.gen++
	next := s.gen
	old := s.conn
	s.conn = nil
	s.state = StateFaulted
	ctx := s.sessCtx
	s.mu.Unlock()

	if old != nil {
		_ = old.Close()
	}
	metrics.SetStreamActive(false)
	metrics.RecordReconnect(cause)
	s.logger.Warn("stream lost, reconnecting", slog.String("cause", cause))
	s.record(domain.KindWarning, "stream reconnecting: "+cause)

	go s.reconnectLoop(ctx, next)
}

// reconnectLoop retries connect with exponential backoff until it succeeds,
// the generation moves on or the session ends.
func (s *Supervisor) reconnectLoop(ctx context.Context, gen uint64) {
	delay := s.cfg.ReconnectDelay
	for {
		select {
		case <-ctx.Done():
			return
		case <-time.After(delay):
		}

		s.mu.Lock()
		if s.gen != gen {
			s.mu.Unlock()
			return
		}
		s.state = StateConnecting
		s.mu.Unlock()

		err := s.connect(ctx, gen)
		if err == nil {
			s.logger.Info("stream reconnected")
			return
		}
		if errors.Is(err, errStale) {
			return
		}

		s.mu.Lock()
		if s.gen == gen {
			s.state = StateFaulted
		}
		s.mu.Unlock()
		s.logger.Warn("reconnect failed",
			slog.String("error", err.Error()),
			slog.Duration("retry_in", delay),
		)

		delay *= 2
		if delay > s.cfg.MaxReconnectDelay {
			delay = s.cfg.MaxReconnectDelay
		}
	}
}

// watchdog checks the heartbeat every interval until the session ends.
func (s *Supervisor) watchdog(ctx context.Context) {
	ticker := time.NewTicker(s.cfg.HeartbeatInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.checkHeartbeat(s.now())
		}
	}
}

// checkHeartbeat forces a reconnect when the streaming connection has been
// silent for longer than the heartbeat timeout.
func (s *Supervisor) checkHeartbeat(now time.Time) {
	s.mu.Lock()
	if s.state != StateStreaming {
		s.mu.Unlock()
		return
	}
	gen := s.gen
	s.mu.Unlock()

	last := time.Unix(0, s.lastFrame.Load())
	if now.Sub(last) > s.cfg.HeartbeatTimeout {
		s.reconnect(gen, "heartbeat")
	}
}

// --------------------------------------------------------------------------
// Ingestion
// --------------------------------------------------------------------------

// readLoop is the single consumer of one connection.
func (s *Supervisor) readLoop(ctx context.Context, conn domain.StreamConn, gen uint64) {
	var asm Assembler
	for {
		f, err := conn.ReadFrame()
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			s.reconnect(gen, "read_error")
			return
		}
		s.lastFrame.Store(s.now().UnixNano())

		msg, complete, err := asm.Push(f)
		if err != nil {
			metrics.RecordParseError()
			s.logger.Warn("dropping oversized message", slog.String("error", err.Error()))
			continue
		}
		if complete {
			s.handleMessage(msg)
		}
	}
}

// handleMessage parses every document of one message independently.
func (s *Supervisor) handleMessage(msg []byte) {
	for _, doc := range SplitDocuments(msg) {
		tick, err := ParseTicker(doc)
		if err != nil {
			metrics.RecordParseError()
			s.logger.Warn("dropping stream document", slog.String("error", err.Error()))
			continue
		}
		s.onTick(domain.PriceTick{
			Market:     domain.Market(tick.Code),
			TradePrice: tick.TradePrice,
			ReceivedAt: s.now(),
		})
	}
}

func (s *Supervisor) onTick(t domain.PriceTick) {
	if !s.store.SetPrice(t.Market, t.TradePrice, t.ReceivedAt) {
		return
	}
	metrics.RecordTick(string(t.Market), t.TradePrice)

	s.dispatchEvaluation(t.Market, t.ReceivedAt)
	s.dispatchRebalance(t.ReceivedAt)
}

// dispatchEvaluation hands an RSI evaluation to the trade worker when the
// market is idle and out of cooldown.
func (s *Supervisor) dispatchEvaluation(m domain.Market, now time.Time) {
	prev, ok := s.store.TryBeginEval(m, now, s.cfg.EvalCooldown)
	if !ok {
		return
	}

	s.mu.Lock()
	count := len(s.markets)
	s.mu.Unlock()

	err := s.deps.Worker.Submit(executor.Job{
		Key:  "eval:" + string(m),
		Name: "evaluate",
		Run: func(ctx context.Context) error {
			d, err := s.deps.Engine.Evaluate(ctx, m, count)
			s.store.FinishEval(m, d)
			return err
		},
	})
	if err != nil {
		s.store.CancelEval(m, prev)
		s.logger.Debug("evaluation not queued",
			slog.String("market", string(m)),
			slog.String("error", err.Error()),
		)
	}
}

// dispatchRebalance hands a portfolio check to the trade worker when the
// rebalancer accepts a new run.
func (s *Supervisor) dispatchRebalance(now time.Time) {
	rb := s.deps.Rebalancer
	if rb == nil || !rb.TryBegin(now) {
		return
	}

	err := s.deps.Worker.Submit(executor.Job{
		Key:  portfolio.LockKey,
		Name: "rebalance",
		Run: func(ctx context.Context) error {
			res, err := rb.Run(ctx)
			if err != nil {
				return err
			}
			if res.Outcome == portfolio.OutcomeTriggered {
				s.store.ApplyRebalance(res)
			}
			return nil
		},
	})
	if err != nil {
		rb.Abort()
		s.logger.Debug("rebalance not queued", slog.String("error", err.Error()))
	}
}

func (s *Supervisor) syncHoldings(ctx context.Context, markets []domain.Market) {
	if s.deps.Accounts == nil {
		return
	}
	accounts, err := s.deps.Accounts.GetAccounts(ctx)
	if err != nil {
		s.logger.WarnContext(ctx, "holdings sync failed, starting without it",
			slog.String("error", err.Error()),
		)
		return
	}
	s.store.SyncHoldings(accounts, markets)
}

func (s *Supervisor) record(kind domain.NotificationKind, msg string) {
	if s.deps.Recorder == nil {
		return
	}
	s.deps.Recorder.Record(domain.Notification{Kind: kind, Message: msg})
}
