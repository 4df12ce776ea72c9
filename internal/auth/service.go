package auth

import (
	"context"
	"errors"
	"fmt"
	"time"

	"tickerdash/internal/user"
)

const sessionIDBytes = 16

// Directory is the user-record boundary the auth flows consume.
type Directory interface {
	FindByEmail(ctx context.Context, email string) (user.User, error)
	FindByID(ctx context.Context, id string) (user.User, error)
	Create(ctx context.Context, u user.User) (user.User, error)
	SetLastLogin(ctx context.Context, id string, at time.Time) error
}

// Sessions is the session-record boundary the auth flows consume.
type Sessions interface {
	Create(ctx context.Context, session Session) error
	FindValid(ctx context.Context, sessionID string) (Session, error)
	Touch(ctx context.Context, sessionID string) error
	Invalidate(ctx context.Context, sessionID string) error
}

// ValidationError reports malformed input on the register path.
type ValidationError struct {
	Message string
}

func (e ValidationError) Error() string { return e.Message }

// ClientMeta is the request metadata recorded on each session.
type ClientMeta struct {
	UserAgent string
	IP        string
}

// Credentials is the result of opening a session: the user plus both tokens.
type Credentials struct {
	User         user.User
	AccessToken  string
	RefreshToken string
	ExpiresIn    int64
}

// Service orchestrates login, register, refresh, logout and me.
type Service struct {
	users    Directory
	sessions Sessions
	tokens   *TokenService
	limiter  *LoginLimiter
	now      func() time.Time
	sleep    func(ctx context.Context, d time.Duration) error
}

func NewService(users Directory, sessions Sessions, tokens *TokenService, limiter *LoginLimiter) *Service {
	return &Service{
		users:    users,
		sessions: sessions,
		tokens:   tokens,
		limiter:  limiter,
		now:      time.Now,
		sleep:    sleepContext,
	}
}

// WithClock overrides the time source and disables throttle sleeps. Test hook.
func (s *Service) WithClock(now func() time.Time) *Service {
	s.now = now
	s.sleep = func(context.Context, time.Duration) error { return nil }
	return s
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// limitKey composes account and origin so one attacker hammering one account
// from one address cannot lock out the whole service, and a distributed
// attack on one account still trips the per-account counter.
func limitKey(email, ip string) string {
	return email + "|" + ip
}

// Login authenticates an email/password pair. Failed attempts are throttled
// with an exponential delay and counted toward a temporary lockout; the error
// is identical for unknown email, missing local password and wrong password
// so responses cannot be used to enumerate accounts.
func (s *Service) Login(ctx context.Context, email, password string, meta ClientMeta) (Credentials, error) {
	email = user.NormalizeEmail(email)
	key := limitKey(email, meta.IP)

	decision, err := s.limiter.CheckAllowed(ctx, key)
	if err != nil {
		return Credentials{}, fmt.Errorf("rate limit check: %w", err)
	}
	if !decision.Allowed {
		return Credentials{}, RateLimitedError{RetryAfter: decision.RetryAfter}
	}

	delay, err := s.limiter.Delay(ctx, key)
	if err != nil {
		return Credentials{}, fmt.Errorf("rate limit delay: %w", err)
	}
	if err := s.sleep(ctx, delay); err != nil {
		return Credentials{}, err
	}

	u, err := s.users.FindByEmail(ctx, email)
	if err != nil && !errors.Is(err, user.ErrNotFound) {
		return Credentials{}, fmt.Errorf("find user by email: %w", err)
	}

	// One indistinguishable failure path for all three sub-checks.
	if errors.Is(err, user.ErrNotFound) || u.PasswordHash == "" || !VerifyPassword(password, u.PasswordHash) {
		return Credentials{}, s.loginFailure(ctx, key)
	}

	// Deactivation is checked only after the password verified, so an
	// unauthenticated caller learns nothing about account status.
	if !u.IsActive {
		return Credentials{}, ErrAccountDeactivated
	}

	if err := s.limiter.RecordSuccess(ctx, key); err != nil {
		return Credentials{}, fmt.Errorf("rate limit reset: %w", err)
	}

	return s.openSession(ctx, u, meta)
}

func (s *Service) loginFailure(ctx context.Context, key string) error {
	if _, err := s.limiter.RecordFailure(ctx, key); err != nil {
		return fmt.Errorf("record failed attempt: %w", err)
	}
	// The attempt that trips the threshold is still answered as invalid
	// credentials; the lock it acquired only takes effect on the next attempt.
	return ErrInvalidCredentials
}

// Register creates a user with the fixed default role and opens a session.
// The role is hard-coded server-side; a caller-supplied role is never read.
func (s *Service) Register(ctx context.Context, email, password, displayName string, meta ClientMeta) (Credentials, error) {
	if err := user.ValidateEmail(email); err != nil {
		return Credentials{}, ValidationError{Message: err.Error()}
	}
	if err := user.ValidatePassword(password); err != nil {
		return Credentials{}, ValidationError{Message: err.Error()}
	}

	hash, err := HashPassword(password)
	if err != nil {
		return Credentials{}, err
	}

	created, err := s.users.Create(ctx, user.User{
		Email:        email,
		PasswordHash: hash,
		Role:         user.RoleUser,
		IsActive:     true,
		DisplayName:  displayName,
	})
	if err != nil {
		return Credentials{}, err
	}

	return s.openSession(ctx, created, meta)
}

// openSession issues both tokens and persists the backing session row. A
// failed session write aborts the whole operation: tokens must never reach
// the caller without a revocable record behind them.
func (s *Service) openSession(ctx context.Context, u user.User, meta ClientMeta) (Credentials, error) {
	sessionID, err := RandomID(sessionIDBytes)
	if err != nil {
		return Credentials{}, err
	}

	accessToken, err := s.tokens.IssueAccessToken(u.ID, u.Email, u.Role)
	if err != nil {
		return Credentials{}, err
	}
	refreshToken, err := s.tokens.IssueRefreshToken(u.ID, sessionID)
	if err != nil {
		return Credentials{}, err
	}

	now := s.now().UTC()
	err = s.sessions.Create(ctx, Session{
		ID:        sessionID,
		UserID:    u.ID,
		TokenHash: HashOpaque(refreshToken),
		ExpiresAt: now.Add(s.tokens.RefreshTTL()),
		UserAgent: meta.UserAgent,
		IPAddress: meta.IP,
	})
	if err != nil {
		return Credentials{}, err
	}

	if err := s.users.SetLastLogin(ctx, u.ID, now); err != nil {
		return Credentials{}, err
	}
	u.LastLoginAt = &now

	return Credentials{
		User:         u,
		AccessToken:  accessToken,
		RefreshToken: refreshToken,
		ExpiresIn:    int64(s.tokens.AccessTTL().Seconds()),
	}, nil
}

// Refresh exchanges a refresh token for a new access token. The session row
// is the authority: a signature-valid token whose session was invalidated or
// expired is refused, which is what makes logout effective. The refresh token
// itself is not rotated.
func (s *Service) Refresh(ctx context.Context, refreshToken string) (string, int64, error) {
	claims := s.tokens.VerifyRefresh(refreshToken)
	if claims == nil {
		return "", 0, ErrUnauthorized
	}

	session, err := s.sessions.FindValid(ctx, claims.SessionID)
	if err != nil {
		if errors.Is(err, ErrSessionInvalid) {
			return "", 0, ErrUnauthorized
		}
		return "", 0, fmt.Errorf("find session: %w", err)
	}

	if session.TokenHash != HashOpaque(refreshToken) {
		return "", 0, ErrUnauthorized
	}

	u, err := s.users.FindByID(ctx, session.UserID)
	if err != nil {
		if errors.Is(err, user.ErrNotFound) {
			return "", 0, ErrUnauthorized
		}
		return "", 0, fmt.Errorf("find session user: %w", err)
	}
	if !u.IsActive {
		return "", 0, ErrUnauthorized
	}

	accessToken, err := s.tokens.IssueAccessToken(u.ID, u.Email, u.Role)
	if err != nil {
		return "", 0, err
	}

	if err := s.sessions.Touch(ctx, session.ID); err != nil {
		return "", 0, err
	}

	return accessToken, int64(s.tokens.AccessTTL().Seconds()), nil
}

// Logout invalidates the session behind the supplied refresh token. An empty
// or unverifiable token is not an error: logout is best-effort and the
// caller's access token expires on its own within one short TTL.
func (s *Service) Logout(ctx context.Context, refreshToken string) error {
	if refreshToken == "" {
		return nil
	}

	claims := s.tokens.VerifyRefresh(refreshToken)
	if claims == nil {
		return nil
	}

	return s.sessions.Invalidate(ctx, claims.SessionID)
}

// Me returns the current user record for an authenticated principal.
func (s *Service) Me(ctx context.Context, userID string) (user.User, error) {
	u, err := s.users.FindByID(ctx, userID)
	if err != nil {
		if errors.Is(err, user.ErrNotFound) {
			return user.User{}, ErrUserNotFound
		}
		return user.User{}, fmt.Errorf("find current user: %w", err)
	}
	return u, nil
}
