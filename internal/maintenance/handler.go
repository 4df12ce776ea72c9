// Package maintenance exposes the housekeeping endpoint a scheduler hits to
// archive session rows past their retention window. The auth core itself
// never deletes sessions; expiry there is enforced purely by query filtering.
package maintenance

import (
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"tickerdash/internal/auth"
	"tickerdash/internal/observability"
)

type CleanupHandler struct {
	sessions         *auth.SessionStore
	logger           *observability.Logger
	cronSecret       string
	sessionRetention time.Duration
	batchSize        int
}

func NewCleanupHandler(
	sessions *auth.SessionStore,
	logger *observability.Logger,
	cronSecret string,
	sessionRetention time.Duration,
	batchSize int,
) *CleanupHandler {
	return &CleanupHandler{
		sessions:         sessions,
		logger:           logger,
		cronSecret:       strings.TrimSpace(cronSecret),
		sessionRetention: sessionRetention,
		batchSize:        batchSize,
	}
}

func (h *CleanupHandler) Handle(w http.ResponseWriter, r *http.Request) {
	if h.cronSecret == "" {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "not found"})
		return
	}

	authHeader := strings.TrimSpace(r.Header.Get("Authorization"))
	parts := strings.SplitN(authHeader, " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") || strings.TrimSpace(parts[1]) != h.cronSecret {
		writeJSON(w, http.StatusUnauthorized, map[string]string{"error": "unauthorized"})
		return
	}

	retention := h.sessionRetention
	if retention <= 0 {
		retention = 14 * 24 * time.Hour
	}
	cutoff := time.Now().UTC().Add(-retention)

	deleted, err := h.sessions.DeleteStale(r.Context(), cutoff, h.batchSize)
	if err != nil {
		h.logger.Error("session_cleanup_failed", map[string]any{"error": err.Error()})
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "cleanup failed"})
		return
	}

	h.logger.Info("session_cleanup_completed", map[string]any{
		"deleted_sessions": deleted,
	})

	writeJSON(w, http.StatusOK, map[string]any{
		"status":           "ok",
		"deleted_sessions": deleted,
	})
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}
