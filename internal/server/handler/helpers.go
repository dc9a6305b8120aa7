// Package handler implements the HTTP control endpoints.
package handler

import (
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"

	"github.com/alanyoungcy/upbitbot/internal/domain"
)

// maxBodyBytes bounds request bodies read by handlers.
const maxBodyBytes = 64 << 10

// writeJSON marshals v as JSON and writes it to the response with the given
// HTTP status code. If marshaling fails, it falls back to a plain-text 500.
func writeJSON(w http.ResponseWriter, status int, v any) {
	data, err := json.Marshal(v)
	if err != nil {
		http.Error(w, `{"error":"internal server error"}`, http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	w.Write(data)
}

// writeError sends a JSON-formatted error response.
func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

// statusFor maps a domain error onto an HTTP status.
func statusFor(err error) int {
	switch {
	case errors.Is(err, domain.ErrConfig):
		return http.StatusBadRequest
	case errors.Is(err, domain.ErrAlreadyRunning):
		return http.StatusConflict
	case errors.Is(err, domain.ErrOrder):
		return http.StatusUnprocessableEntity
	case errors.Is(err, domain.ErrNetwork), errors.Is(err, domain.ErrParse):
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

// marketsRequest is the optional body of start and order requests.
type marketsRequest struct {
	Markets []string `json:"markets"`
}

// readMarkets returns the markets named in the body, or fallback when the
// body is empty or names none.
func readMarkets(r *http.Request, fallback []domain.Market) ([]domain.Market, error) {
	var req marketsRequest
	err := json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes)).Decode(&req)
	if err != nil && !errors.Is(err, io.EOF) {
		return nil, err
	}
	markets := domain.Markets(req.Markets)
	if len(markets) == 0 {
		return append([]domain.Market(nil), fallback...), nil
	}
	for _, m := range markets {
		if !m.Valid() {
			return nil, errors.New("market " + string(m) + " is not QUOTE-BASE")
		}
	}
	return markets, nil
}

// logHandler is a convenience to attach slog fields in handler code.
func logHandler(logger *slog.Logger, handler string) *slog.Logger {
	return logger.With(slog.String("handler", handler))
}
