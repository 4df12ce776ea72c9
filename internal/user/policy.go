package user

import (
	"errors"
	"regexp"
	"strings"
	"unicode"
)

var emailRegex = regexp.MustCompile(`^[^\s@]+@[^\s@]+\.[^\s@]+$`)

const (
	minPasswordLength = 8
	maxPasswordLength = 200
)

// NormalizeEmail lowercases and trims an email address. Uniqueness is
// case-insensitive, so every lookup and insert goes through this.
func NormalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

func ValidateEmail(email string) error {
	if !emailRegex.MatchString(NormalizeEmail(email)) {
		return errors.New("email format is invalid")
	}
	return nil
}

// ValidatePassword enforces the strong policy uniformly for public
// registration and admin-created accounts: a length floor plus at least one
// upper-case letter, one lower-case letter and one digit.
func ValidatePassword(password string) error {
	if len(password) < minPasswordLength {
		return errors.New("password must be at least 8 characters")
	}
	if len(password) > maxPasswordLength {
		return errors.New("password is too long")
	}

	var hasUpper, hasLower, hasDigit bool
	for _, r := range password {
		switch {
		case unicode.IsUpper(r):
			hasUpper = true
		case unicode.IsLower(r):
			hasLower = true
		case unicode.IsDigit(r):
			hasDigit = true
		}
	}
	if !hasUpper || !hasLower || !hasDigit {
		return errors.New("password must contain an upper-case letter, a lower-case letter and a digit")
	}
	return nil
}
