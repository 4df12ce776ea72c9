package auth

import (
	"net/http"
	"strings"

	"tickerdash/internal/user"
)

// bearerToken extracts the token from an Authorization: Bearer header.
// A missing or malformed header yields ok=false, never a silent pass.
func bearerToken(r *http.Request) (string, bool) {
	header := strings.TrimSpace(r.Header.Get("Authorization"))
	if header == "" {
		return "", false
	}

	parts := strings.SplitN(header, " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
		return "", false
	}

	token := strings.TrimSpace(parts[1])
	if token == "" {
		return "", false
	}
	return token, true
}

func principalFromToken(tokens *TokenService, r *http.Request) *Principal {
	raw, ok := bearerToken(r)
	if !ok {
		return nil
	}
	claims := tokens.VerifyAccess(raw)
	if claims == nil {
		return nil
	}
	return &Principal{
		UserID: claims.Subject,
		Email:  claims.Email,
		Role:   claims.Role,
	}
}

// RequireAuth rejects requests without a verifiable access token and attaches
// the principal to the request context.
func RequireAuth(tokens *TokenService, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		principal := principalFromToken(tokens, r)
		if principal == nil {
			writeError(w, http.StatusUnauthorized, KindUnauthorized, "missing or invalid authorization token")
			return
		}

		next.ServeHTTP(w, r.WithContext(ContextWithPrincipal(r.Context(), *principal)))
	})
}

// RequireAdmin is RequireAuth plus an administrator role check. A valid token
// with an insufficient role is forbidden, not unauthorized.
func RequireAdmin(tokens *TokenService, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		principal := principalFromToken(tokens, r)
		if principal == nil {
			writeError(w, http.StatusUnauthorized, KindUnauthorized, "missing or invalid authorization token")
			return
		}
		if principal.Role != user.RoleAdmin {
			writeError(w, http.StatusForbidden, KindForbidden, "administrator access required")
			return
		}

		next.ServeHTTP(w, r.WithContext(ContextWithPrincipal(r.Context(), *principal)))
	})
}

// OptionalAuth attaches a principal when a valid token is present and
// proceeds anonymously otherwise. It never fails the request.
func OptionalAuth(tokens *TokenService, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if principal := principalFromToken(tokens, r); principal != nil {
			r = r.WithContext(ContextWithPrincipal(r.Context(), *principal))
		}
		next.ServeHTTP(w, r)
	})
}
