package auth

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"

	"github.com/getsentry/sentry-go"

	"tickerdash/internal/observability"
	"tickerdash/internal/user"
)

const maxJSONBodyBytes = 1 << 20

type Handler struct {
	service *Service
}

func NewHandler(service *Service) *Handler {
	return &Handler{service: service}
}

type loginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type registerRequest struct {
	Email       string `json:"email"`
	Password    string `json:"password"`
	DisplayName string `json:"displayName"`
}

type refreshRequest struct {
	RefreshToken string `json:"refreshToken"`
}

type logoutRequest struct {
	RefreshToken string `json:"refreshToken"`
}

type sessionResponse struct {
	User         user.Public `json:"user"`
	AccessToken  string      `json:"accessToken"`
	RefreshToken string      `json:"refreshToken"`
	ExpiresIn    int64       `json:"expiresIn"`
}

func decodeJSON(w http.ResponseWriter, r *http.Request, dst any) bool {
	r.Body = http.MaxBytesReader(w, r.Body, maxJSONBodyBytes)
	decoder := json.NewDecoder(r.Body)
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(dst); err != nil {
		writeError(w, http.StatusBadRequest, KindValidation, "invalid json body")
		return false
	}
	return true
}

func clientMeta(r *http.Request) ClientMeta {
	return ClientMeta{
		UserAgent: r.UserAgent(),
		IP:        clientIP(r),
	}
}

func clientIP(r *http.Request) string {
	xForwardedFor := strings.TrimSpace(r.Header.Get("X-Forwarded-For"))
	if xForwardedFor != "" {
		parts := strings.Split(xForwardedFor, ",")
		if ip := strings.TrimSpace(parts[0]); ip != "" {
			return ip
		}
	}

	if r.RemoteAddr != "" {
		return r.RemoteAddr
	}
	return "unknown"
}

func (h *Handler) Login(w http.ResponseWriter, r *http.Request) {
	var body loginRequest
	if !decodeJSON(w, r, &body) {
		return
	}

	body.Email = strings.TrimSpace(body.Email)
	if body.Email == "" || body.Password == "" {
		writeError(w, http.StatusBadRequest, KindValidation, "email and password are required")
		return
	}

	creds, err := h.service.Login(r.Context(), body.Email, body.Password, clientMeta(r))
	if err != nil {
		h.writeLoginError(w, err)
		return
	}

	observability.ObserveLogin("success")
	writeData(w, http.StatusOK, sessionResponse{
		User:         creds.User.Public(),
		AccessToken:  creds.AccessToken,
		RefreshToken: creds.RefreshToken,
		ExpiresIn:    creds.ExpiresIn,
	})
}

func (h *Handler) writeLoginError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, ErrInvalidCredentials):
		observability.ObserveLogin("invalid")
		writeError(w, http.StatusUnauthorized, KindInvalidCredentials, ErrInvalidCredentials.Error())
	case errors.Is(err, ErrAccountDeactivated):
		observability.ObserveLogin("deactivated")
		writeError(w, http.StatusUnauthorized, KindAccountDeactivated, ErrAccountDeactivated.Error())
	default:
		var limited RateLimitedError
		if errors.As(err, &limited) {
			observability.ObserveLogin("locked")
			w.Header().Set("Retry-After", strconv.Itoa(limited.RetryAfterSeconds()))
			writeError(w, http.StatusTooManyRequests, KindRateLimited, limited.Error())
			return
		}
		observability.ObserveLogin("error")
		sentry.CaptureException(err)
		writeError(w, http.StatusInternalServerError, KindInternal, "failed to login")
	}
}

func (h *Handler) Register(w http.ResponseWriter, r *http.Request) {
	var body registerRequest
	if !decodeJSON(w, r, &body) {
		return
	}

	creds, err := h.service.Register(r.Context(), body.Email, body.Password, strings.TrimSpace(body.DisplayName), clientMeta(r))
	if err != nil {
		var invalid ValidationError
		switch {
		case errors.As(err, &invalid):
			writeError(w, http.StatusBadRequest, KindValidation, invalid.Message)
		case errors.Is(err, user.ErrEmailTaken):
			writeError(w, http.StatusConflict, KindConflict, user.ErrEmailTaken.Error())
		default:
			sentry.CaptureException(err)
			writeError(w, http.StatusInternalServerError, KindInternal, "failed to register")
		}
		return
	}

	writeData(w, http.StatusCreated, sessionResponse{
		User:         creds.User.Public(),
		AccessToken:  creds.AccessToken,
		RefreshToken: creds.RefreshToken,
		ExpiresIn:    creds.ExpiresIn,
	})
}

func (h *Handler) Refresh(w http.ResponseWriter, r *http.Request) {
	var body refreshRequest
	if !decodeJSON(w, r, &body) {
		return
	}

	body.RefreshToken = strings.TrimSpace(body.RefreshToken)
	if body.RefreshToken == "" {
		writeError(w, http.StatusBadRequest, KindValidation, "refresh token is required")
		return
	}

	accessToken, expiresIn, err := h.service.Refresh(r.Context(), body.RefreshToken)
	if err != nil {
		if errors.Is(err, ErrUnauthorized) {
			writeError(w, http.StatusUnauthorized, KindUnauthorized, "session expired or invalidated")
			return
		}
		sentry.CaptureException(err)
		writeError(w, http.StatusInternalServerError, KindInternal, "failed to refresh token")
		return
	}

	writeData(w, http.StatusOK, map[string]any{
		"accessToken": accessToken,
		"expiresIn":   expiresIn,
	})
}

// Logout runs behind RequireAuth; the access token authenticates the caller,
// the optional refresh token in the body selects the session to invalidate.
func (h *Handler) Logout(w http.ResponseWriter, r *http.Request) {
	var body logoutRequest
	r.Body = http.MaxBytesReader(w, r.Body, maxJSONBodyBytes)
	// Body is optional: ignore decode failures entirely.
	_ = json.NewDecoder(r.Body).Decode(&body)

	if err := h.service.Logout(r.Context(), strings.TrimSpace(body.RefreshToken)); err != nil {
		sentry.CaptureException(err)
		writeError(w, http.StatusInternalServerError, KindInternal, "failed to logout")
		return
	}

	writeData(w, http.StatusOK, map[string]string{"status": "logged out"})
}

func (h *Handler) Me(w http.ResponseWriter, r *http.Request) {
	principal, ok := PrincipalFromContext(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, KindUnauthorized, "missing or invalid authorization token")
		return
	}

	u, err := h.service.Me(r.Context(), principal.UserID)
	if err != nil {
		if errors.Is(err, ErrUserNotFound) {
			writeError(w, http.StatusNotFound, KindNotFound, ErrUserNotFound.Error())
			return
		}
		sentry.CaptureException(err)
		writeError(w, http.StatusInternalServerError, KindInternal, "failed to load user")
		return
	}

	writeData(w, http.StatusOK, map[string]any{"user": u.Public()})
}
