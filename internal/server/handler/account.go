package handler

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/shopspring/decimal"

	"github.com/alanyoungcy/upbitbot/internal/domain"
	"github.com/alanyoungcy/upbitbot/internal/platform/upbit"
)

// Exchange is the part of the REST client the control API calls directly.
type Exchange interface {
	GetAccounts(ctx context.Context) ([]domain.AccountBalance, error)
	BuyDistributed(ctx context.Context, markets []domain.Market) ([]upbit.DistributedResult, error)
}

// AccountHandler serves balances and the manual distributed buy.
type AccountHandler struct {
	exchange Exchange
	markets  []domain.Market
	logger   *slog.Logger
}

// NewAccountHandler creates an AccountHandler. markets is used when an order
// request does not name any.
func NewAccountHandler(exchange Exchange, markets []domain.Market, logger *slog.Logger) *AccountHandler {
	return &AccountHandler{
		exchange: exchange,
		markets:  markets,
		logger:   logHandler(logger, "account"),
	}
}

type accountResponse struct {
	Currency    string          `json:"currency"`
	Balance     decimal.Decimal `json:"balance"`
	Locked      decimal.Decimal `json:"locked"`
	AvgBuyPrice decimal.Decimal `json:"avg_buy_price"`
}

// ListAccounts returns every currency row of the exchange account.
// GET /api/upbit/accounts
func (h *AccountHandler) ListAccounts(w http.ResponseWriter, r *http.Request) {
	accounts, err := h.exchange.GetAccounts(r.Context())
	if err != nil {
		h.logger.ErrorContext(r.Context(), "get accounts failed", slog.String("error", err.Error()))
		writeError(w, statusFor(err), "failed to fetch accounts")
		return
	}

	out := make([]accountResponse, 0, len(accounts))
	for _, a := range accounts {
		out = append(out, accountResponse{
			Currency:    a.Currency,
			Balance:     a.Balance,
			Locked:      a.Locked,
			AvgBuyPrice: a.AvgBuyPrice,
		})
	}
	writeJSON(w, http.StatusOK, out)
}

type ordersResponse struct {
	Message string                    `json:"message"`
	Results []upbit.DistributedResult `json:"results"`
}

// PlaceOrders splits the KRW balance evenly over markets and market-buys
// each share.
// POST /api/upbit/orders   body (optional): {"markets": ["KRW-BTC", ...]}
func (h *AccountHandler) PlaceOrders(w http.ResponseWriter, r *http.Request) {
	markets, err := readMarkets(r, h.markets)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}

	results, err := h.exchange.BuyDistributed(r.Context(), markets)
	if err != nil {
		h.logger.WarnContext(r.Context(), "distributed buy failed", slog.String("error", err.Error()))
		writeError(w, statusFor(err), err.Error())
		return
	}
	writeJSON(w, http.StatusOK, ordersResponse{Message: "distributed buy submitted", Results: results})
}
