package auth

import (
	"errors"
	"fmt"
	"time"
)

// Error kinds surfaced in the response envelope.
const (
	KindValidation         = "validation_error"
	KindInvalidCredentials = "invalid_credentials"
	KindAccountDeactivated = "account_deactivated"
	KindRateLimited        = "rate_limited"
	KindUnauthorized       = "unauthorized"
	KindForbidden          = "forbidden"
	KindConflict           = "conflict"
	KindNotFound           = "not_found"
	KindInternal           = "internal"
)

var (
	// ErrInvalidCredentials is returned for unknown email, missing local
	// password and wrong password alike, so error text never reveals whether
	// an account exists.
	ErrInvalidCredentials = errors.New("invalid email or password")

	ErrAccountDeactivated = errors.New("account is deactivated")

	// ErrUnauthorized covers missing, malformed, expired and revoked tokens.
	ErrUnauthorized = errors.New("unauthorized")

	ErrUserNotFound = errors.New("user not found")
)

// RateLimitedError reports a locked-out login key and how long the caller
// must wait before retrying.
type RateLimitedError struct {
	RetryAfter time.Duration
}

func (e RateLimitedError) Error() string {
	return fmt.Sprintf("too many failed attempts, retry in %ds", e.RetryAfterSeconds())
}

func (e RateLimitedError) RetryAfterSeconds() int {
	secs := int(e.RetryAfter.Seconds())
	if secs < 1 {
		secs = 1
	}
	return secs
}
