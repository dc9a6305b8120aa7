package handler

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/alanyoungcy/upbitbot/internal/domain"
	"github.com/alanyoungcy/upbitbot/internal/stream"
)

// AutoTrader is the part of the stream supervisor the control API drives.
type AutoTrader interface {
	Start(ctx context.Context, markets []domain.Market) error
	Stop()
	Status() stream.Status
	CurrentPrices() map[domain.Market]float64
	Notifications() []domain.Notification
}

// AutoHandler serves the auto-trading lifecycle, price and notification
// endpoints.
type AutoHandler struct {
	trader  AutoTrader
	markets []domain.Market
	logger  *slog.Logger
}

// NewAutoHandler creates an AutoHandler. markets is used when a start request
// does not name any.
func NewAutoHandler(trader AutoTrader, markets []domain.Market, logger *slog.Logger) *AutoHandler {
	return &AutoHandler{
		trader:  trader,
		markets: markets,
		logger:  logHandler(logger, "auto"),
	}
}

type autoResponse struct {
	Message string          `json:"message"`
	Markets []domain.Market `json:"markets,omitempty"`
}

// Start connects the ticker stream and begins automatic trading.
// POST /api/upbit/auto/start   body (optional): {"markets": ["KRW-BTC", ...]}
func (h *AutoHandler) Start(w http.ResponseWriter, r *http.Request) {
	markets, err := readMarkets(r, h.markets)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}

	if err := h.trader.Start(r.Context(), markets); err != nil {
		h.logger.WarnContext(r.Context(), "start failed", slog.String("error", err.Error()))
		writeError(w, statusFor(err), err.Error())
		return
	}
	writeJSON(w, http.StatusOK, autoResponse{Message: "auto trading started", Markets: markets})
}

// Stop disconnects the stream. Stopping an idle bot is not an error.
// POST /api/upbit/auto/stop
func (h *AutoHandler) Stop(w http.ResponseWriter, r *http.Request) {
	h.trader.Stop()
	writeJSON(w, http.StatusOK, autoResponse{Message: "auto trading stopped"})
}

// Status reports whether the stream is active and for which markets.
// GET /api/upbit/auto/status
func (h *AutoHandler) Status(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.trader.Status())
}

// Prices returns the latest trade price per market.
// GET /api/upbit/prices
func (h *AutoHandler) Prices(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.trader.CurrentPrices())
}

// Notifications returns recent notifications, newest first.
// GET /api/upbit/notifications
func (h *AutoHandler) Notifications(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.trader.Notifications())
}
