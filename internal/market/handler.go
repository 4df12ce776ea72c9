package market

import (
	"encoding/json"
	"net/http"
	"regexp"
	"strings"

	"github.com/getsentry/sentry-go"

	"tickerdash/internal/auth"
)

var symbolRegex = regexp.MustCompile(`^[A-Z0-9.\-]{1,12}$`)

type Handler struct {
	client *Client
	cache  *QuoteCache
}

func NewHandler(client *Client, cache *QuoteCache) *Handler {
	return &Handler{client: client, cache: cache}
}

// GetQuote serves a cached upstream quote. Runs behind OptionalAuth: the
// route is public, but an attached principal still flows through for logging
// and future per-user features.
func (h *Handler) GetQuote(w http.ResponseWriter, r *http.Request) {
	symbol := strings.ToUpper(strings.TrimSpace(r.PathValue("symbol")))
	if !symbolRegex.MatchString(symbol) {
		writeError(w, http.StatusBadRequest, auth.KindValidation, "symbol format is invalid")
		return
	}

	if quote, ok := h.cache.Get(symbol); ok {
		writeData(w, http.StatusOK, map[string]any{"quote": quote, "cached": true})
		return
	}

	quote, err := h.client.Quote(r.Context(), symbol)
	if err != nil {
		sentry.CaptureException(err)
		writeError(w, http.StatusBadGateway, auth.KindInternal, "failed to fetch quote")
		return
	}
	h.cache.Set(symbol, quote)

	writeData(w, http.StatusOK, map[string]any{"quote": quote, "cached": false})
}

type envelope struct {
	Success bool   `json:"success"`
	Data    any    `json:"data,omitempty"`
	Error   string `json:"error,omitempty"`
	Message string `json:"message,omitempty"`
}

func writeData(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(envelope{Success: true, Data: data})
}

func writeError(w http.ResponseWriter, status int, kind, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(envelope{Success: false, Error: kind, Message: message})
}
