// Package admin is the user-management surface: administrator-only creation
// and mutation of accounts. It runs behind the RequireAdmin middleware.
package admin

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"github.com/getsentry/sentry-go"

	"tickerdash/internal/auth"
	"tickerdash/internal/user"
)

const maxJSONBodyBytes = 1 << 20

type Handler struct {
	users *user.Repository
}

func NewHandler(users *user.Repository) *Handler {
	return &Handler{users: users}
}

type createUserRequest struct {
	Email       string `json:"email"`
	Password    string `json:"password"`
	Role        string `json:"role"`
	DisplayName string `json:"displayName"`
}

type updateUserRequest struct {
	Role        *string `json:"role"`
	IsActive    *bool   `json:"isActive"`
	IsVerified  *bool   `json:"isVerified"`
	DisplayName *string `json:"displayName"`
	AvatarURL   *string `json:"avatarUrl"`
	Password    *string `json:"password"`
}

func (h *Handler) List(w http.ResponseWriter, r *http.Request) {
	users, err := h.users.List(r.Context())
	if err != nil {
		sentry.CaptureException(err)
		writeError(w, http.StatusInternalServerError, auth.KindInternal, "failed to list users")
		return
	}

	public := make([]user.Public, 0, len(users))
	for _, u := range users {
		public = append(public, u.Public())
	}

	writeData(w, http.StatusOK, map[string]any{"users": public})
}

// Create provisions an account with an explicit role. The same password
// policy applies here as on public registration.
func (h *Handler) Create(w http.ResponseWriter, r *http.Request) {
	var body createUserRequest
	if !decodeJSON(w, r, &body) {
		return
	}

	if err := user.ValidateEmail(body.Email); err != nil {
		writeError(w, http.StatusBadRequest, auth.KindValidation, err.Error())
		return
	}
	if err := user.ValidatePassword(body.Password); err != nil {
		writeError(w, http.StatusBadRequest, auth.KindValidation, err.Error())
		return
	}

	role := strings.TrimSpace(body.Role)
	if role == "" {
		role = user.RoleUser
	}
	if !user.ValidRole(role) {
		writeError(w, http.StatusBadRequest, auth.KindValidation, "unknown role")
		return
	}

	hash, err := auth.HashPassword(body.Password)
	if err != nil {
		sentry.CaptureException(err)
		writeError(w, http.StatusInternalServerError, auth.KindInternal, "failed to create user")
		return
	}

	created, err := h.users.Create(r.Context(), user.User{
		Email:        body.Email,
		PasswordHash: hash,
		Role:         role,
		IsActive:     true,
		DisplayName:  strings.TrimSpace(body.DisplayName),
	})
	if err != nil {
		if errors.Is(err, user.ErrEmailTaken) {
			writeError(w, http.StatusConflict, auth.KindConflict, user.ErrEmailTaken.Error())
			return
		}
		sentry.CaptureException(err)
		writeError(w, http.StatusInternalServerError, auth.KindInternal, "failed to create user")
		return
	}

	writeData(w, http.StatusCreated, map[string]any{"user": created.Public()})
}

// Update mutates role, status and profile fields. An administrator can never
// change their own role or deactivate their own account.
func (h *Handler) Update(w http.ResponseWriter, r *http.Request) {
	principal, ok := auth.PrincipalFromContext(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, auth.KindUnauthorized, "missing or invalid authorization token")
		return
	}

	targetID := strings.TrimSpace(r.PathValue("id"))
	if targetID == "" {
		writeError(w, http.StatusBadRequest, auth.KindValidation, "user id is required")
		return
	}

	var body updateUserRequest
	if !decodeJSON(w, r, &body) {
		return
	}

	if body.Role != nil {
		if targetID == principal.UserID {
			writeError(w, http.StatusForbidden, auth.KindForbidden, "cannot change your own role")
			return
		}
		if !user.ValidRole(*body.Role) {
			writeError(w, http.StatusBadRequest, auth.KindValidation, "unknown role")
			return
		}
	}
	if body.IsActive != nil && !*body.IsActive && targetID == principal.UserID {
		writeError(w, http.StatusForbidden, auth.KindForbidden, "cannot deactivate your own account")
		return
	}

	params := user.UpdateParams{
		Role:        body.Role,
		IsActive:    body.IsActive,
		IsVerified:  body.IsVerified,
		DisplayName: body.DisplayName,
		AvatarURL:   body.AvatarURL,
	}

	if body.Password != nil {
		if err := user.ValidatePassword(*body.Password); err != nil {
			writeError(w, http.StatusBadRequest, auth.KindValidation, err.Error())
			return
		}
		hash, err := auth.HashPassword(*body.Password)
		if err != nil {
			sentry.CaptureException(err)
			writeError(w, http.StatusInternalServerError, auth.KindInternal, "failed to update user")
			return
		}
		params.PasswordHash = &hash
	}

	updated, err := h.users.Update(r.Context(), targetID, params)
	if err != nil {
		if errors.Is(err, user.ErrNotFound) {
			writeError(w, http.StatusNotFound, auth.KindNotFound, user.ErrNotFound.Error())
			return
		}
		sentry.CaptureException(err)
		writeError(w, http.StatusInternalServerError, auth.KindInternal, "failed to update user")
		return
	}

	writeData(w, http.StatusOK, map[string]any{"user": updated.Public()})
}

type envelope struct {
	Success bool   `json:"success"`
	Data    any    `json:"data,omitempty"`
	Error   string `json:"error,omitempty"`
	Message string `json:"message,omitempty"`
}

func decodeJSON(w http.ResponseWriter, r *http.Request, dst any) bool {
	r.Body = http.MaxBytesReader(w, r.Body, maxJSONBodyBytes)
	decoder := json.NewDecoder(r.Body)
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(dst); err != nil {
		writeError(w, http.StatusBadRequest, auth.KindValidation, "invalid json body")
		return false
	}
	return true
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
