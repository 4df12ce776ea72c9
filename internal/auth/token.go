package auth

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

const (
	tokenTypeAccess  = "access"
	tokenTypeRefresh = "refresh"

	defaultAccessTTL  = 15 * time.Minute
	defaultRefreshTTL = 7 * 24 * time.Hour
)

// AccessClaims is the payload of a short-lived access token. Role is embedded
// so most requests never touch the database; role changes therefore take
// effect at most one access TTL after they are made.
type AccessClaims struct {
	jwt.RegisteredClaims
	Email     string `json:"email"`
	Role      string `json:"role"`
	TokenType string `json:"typ"`
}

// RefreshClaims is the payload of a long-lived refresh token. It carries only
// the subject and a session id; the session row, not the signature, decides
// whether the token is still redeemable.
type RefreshClaims struct {
	jwt.RegisteredClaims
	SessionID string `json:"sid"`
	TokenType string `json:"typ"`
}

// TokenService signs and verifies HS256 tokens for the two token purposes.
type TokenService struct {
	secret     []byte
	accessTTL  time.Duration
	refreshTTL time.Duration
	now        func() time.Time
}

func NewTokenService(secret string, accessTTL, refreshTTL time.Duration) *TokenService {
	if accessTTL <= 0 {
		accessTTL = defaultAccessTTL
	}
	if refreshTTL <= 0 {
		refreshTTL = defaultRefreshTTL
	}
	return &TokenService{
		secret:     []byte(secret),
		accessTTL:  accessTTL,
		refreshTTL: refreshTTL,
		now:        time.Now,
	}
}

// WithClock overrides the time source. Test hook.
func (s *TokenService) WithClock(now func() time.Time) *TokenService {
	s.now = now
	return s
}

func (s *TokenService) AccessTTL() time.Duration  { return s.accessTTL }
func (s *TokenService) RefreshTTL() time.Duration { return s.refreshTTL }

func (s *TokenService) IssueAccessToken(userID, email, role string) (string, error) {
	now := s.now().UTC()
	claims := AccessClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   userID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(s.accessTTL)),
		},
		Email:     email,
		Role:      role,
		TokenType: tokenTypeAccess,
	}

	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(s.secret)
	if err != nil {
		return "", fmt.Errorf("sign access token: %w", err)
	}
	return signed, nil
}

func (s *TokenService) IssueRefreshToken(userID, sessionID string) (string, error) {
	now := s.now().UTC()
	claims := RefreshClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   userID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(s.refreshTTL)),
		},
		SessionID: sessionID,
		TokenType: tokenTypeRefresh,
	}

	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(s.secret)
	if err != nil {
		return "", fmt.Errorf("sign refresh token: %w", err)
	}
	return signed, nil
}

// VerifyAccess returns the access token's claims, or nil if the token is
// malformed, carries a bad signature, has expired, or is not an access token.
// An invalid token is an expected outcome, never an error.
func (s *TokenService) VerifyAccess(token string) *AccessClaims {
	claims := &AccessClaims{}
	if !s.parse(token, claims) || claims.TokenType != tokenTypeAccess {
		return nil
	}
	return claims
}

// VerifyRefresh is VerifyAccess for refresh tokens.
func (s *TokenService) VerifyRefresh(token string) *RefreshClaims {
	claims := &RefreshClaims{}
	if !s.parse(token, claims) || claims.TokenType != tokenTypeRefresh {
		return nil
	}
	return claims
}

func (s *TokenService) parse(token string, claims jwt.Claims) bool {
	parsed, err := jwt.ParseWithClaims(token, claims, func(t *jwt.Token) (any, error) {
		return s.secret, nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithTimeFunc(s.now),
		jwt.WithExpirationRequired(),
	)
	return err == nil && parsed.Valid
}

// HashOpaque returns a deterministic sha256 fingerprint of a token, suitable
// for storing a comparable reference without persisting the raw token.
func HashOpaque(token string) string {
	sum := sha256.Sum256([]byte(token))
	return hex.EncodeToString(sum[:])
}

// RandomID returns a hex-encoded identifier built from byteLength bytes of
// crypto/rand entropy.
func RandomID(byteLength int) (string, error) {
	if byteLength <= 0 {
		byteLength = 16
	}
	buf := make([]byte, byteLength)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("read random bytes: %w", err)
	}
	return hex.EncodeToString(buf), nil
}
