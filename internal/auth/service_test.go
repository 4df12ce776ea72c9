package auth

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"tickerdash/internal/user"
)

type fakeDirectory struct {
	mu   sync.Mutex
	byID map[string]user.User
	seq  int
}

func newFakeDirectory() *fakeDirectory {
	return &fakeDirectory{byID: make(map[string]user.User)}
}

func (d *fakeDirectory) FindByEmail(_ context.Context, email string) (user.User, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	for _, u := range d.byID {
		if u.Email == user.NormalizeEmail(email) {
			return u, nil
		}
	}
	return user.User{}, user.ErrNotFound
}

func (d *fakeDirectory) FindByID(_ context.Context, id string) (user.User, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	u, ok := d.byID[id]
	if !ok {
		return user.User{}, user.ErrNotFound
	}
	return u, nil
}

func (d *fakeDirectory) Create(_ context.Context, u user.User) (user.User, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	u.Email = user.NormalizeEmail(u.Email)
	for _, existing := range d.byID {
		if existing.Email == u.Email {
			return user.User{}, user.ErrEmailTaken
		}
	}
	d.seq++
	u.ID = fmt.Sprintf("u-%d", d.seq)
	u.CreatedAt = time.Now().UTC()
	u.UpdatedAt = u.CreatedAt
	d.byID[u.ID] = u
	return u, nil
}

func (d *fakeDirectory) SetLastLogin(_ context.Context, id string, at time.Time) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	u, ok := d.byID[id]
	if !ok {
		return user.ErrNotFound
	}
	u.LastLoginAt = &at
	d.byID[id] = u
	return nil
}

func (d *fakeDirectory) setActive(id string, active bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	u := d.byID[id]
	u.IsActive = active
	d.byID[id] = u
}

type fakeSessions struct {
	mu   sync.Mutex
	rows map[string]Session
}

func newFakeSessions() *fakeSessions {
	return &fakeSessions{rows: make(map[string]Session)}
}

func (s *fakeSessions) Create(_ context.Context, session Session) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.rows[session.ID]; exists {
		return fmt.Errorf("session id collision for %s", session.ID)
	}
	session.IsActive = true
	session.CreatedAt = time.Now().UTC()
	session.LastActivityAt = session.CreatedAt
	s.rows[session.ID] = session
	return nil
}

func (s *fakeSessions) FindValid(_ context.Context, sessionID string) (Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	session, ok := s.rows[sessionID]
	if !ok || !session.IsActive || !session.ExpiresAt.After(time.Now()) {
		return Session{}, ErrSessionInvalid
	}
	return session, nil
}

func (s *fakeSessions) Touch(_ context.Context, sessionID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	session, ok := s.rows[sessionID]
	if !ok {
		return nil
	}
	session.LastActivityAt = time.Now().UTC()
	s.rows[sessionID] = session
	return nil
}

func (s *fakeSessions) Invalidate(_ context.Context, sessionID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	session, ok := s.rows[sessionID]
	if !ok {
		return nil
	}
	session.IsActive = false
	s.rows[sessionID] = session
	return nil
}

type serviceFixture struct {
	service  *Service
	users    *fakeDirectory
	sessions *fakeSessions
	tokens   *TokenService
	clock    *time.Time
}

func newServiceFixture(t *testing.T) *serviceFixture {
	t.Helper()

	current := time.Now().UTC()
	clock := &current
	now := func() time.Time { return *clock }

	users := newFakeDirectory()
	sessions := newFakeSessions()
	tokens := NewTokenService("test-secret", 15*time.Minute, 7*24*time.Hour)
	limiter := NewLoginLimiter(NewMemoryAttemptStore(), 5, 15*time.Minute).WithClock(now)
	service := NewService(users, sessions, tokens, limiter).WithClock(now)

	return &serviceFixture{
		service:  service,
		users:    users,
		sessions: sessions,
		tokens:   tokens,
		clock:    clock,
	}
}

func TestRegisterLoginRefreshLogoutFlow(t *testing.T) {
	t.Parallel()

	f := newServiceFixture(t)
	ctx := context.Background()
	meta := ClientMeta{UserAgent: "test-agent", IP: "10.0.0.1"}

	registered, err := f.service.Register(ctx, "User@Example.com", "Str0ngPass!", "User One", meta)
	require.NoError(t, err)
	require.Equal(t, "user@example.com", registered.User.Email)
	require.Equal(t, user.RoleUser, registered.User.Role)
	require.NotEmpty(t, registered.AccessToken)
	require.NotEmpty(t, registered.RefreshToken)

	loggedIn, err := f.service.Login(ctx, "user@example.com", "Str0ngPass!", meta)
	require.NoError(t, err)
	require.NotEqual(t, registered.RefreshToken, loggedIn.RefreshToken,
		"login must open a fresh session with its own refresh token")

	access, expiresIn, err := f.service.Refresh(ctx, loggedIn.RefreshToken)
	require.NoError(t, err)
	require.NotEmpty(t, access)
	require.Equal(t, int64((15 * time.Minute).Seconds()), expiresIn)

	require.NoError(t, f.service.Logout(ctx, loggedIn.RefreshToken))

	_, _, err = f.service.Refresh(ctx, loggedIn.RefreshToken)
	require.ErrorIs(t, err, ErrUnauthorized,
		"a logged-out session must never yield a new access token")

	// The registration session is untouched by the other session's logout.
	_, _, err = f.service.Refresh(ctx, registered.RefreshToken)
	require.NoError(t, err)
}

func TestLoginFailuresIndistinguishable(t *testing.T) {
	t.Parallel()

	f := newServiceFixture(t)
	ctx := context.Background()
	meta := ClientMeta{IP: "10.0.0.1"}

	_, err := f.service.Register(ctx, "known@example.com", "Str0ngPass!", "", meta)
	require.NoError(t, err)

	_, wrongPass := f.service.Login(ctx, "known@example.com", "WrongPass1", meta)
	_, unknownUser := f.service.Login(ctx, "nobody@example.com", "WrongPass1", meta)

	require.ErrorIs(t, wrongPass, ErrInvalidCredentials)
	require.ErrorIs(t, unknownUser, ErrInvalidCredentials)
	require.Equal(t, wrongPass.Error(), unknownUser.Error())
}

func TestLoginLockoutAndRecovery(t *testing.T) {
	t.Parallel()

	f := newServiceFixture(t)
	ctx := context.Background()
	meta := ClientMeta{IP: "10.0.0.1"}

	_, err := f.service.Register(ctx, "victim@example.com", "Str0ngPass!", "", meta)
	require.NoError(t, err)

	// All five failed attempts answer invalid credentials, including the
	// fifth, which acquires the lock for the attempts after it.
	for i := 1; i <= 5; i++ {
		_, err := f.service.Login(ctx, "victim@example.com", "WrongPass1", meta)
		require.ErrorIs(t, err, ErrInvalidCredentials, "attempt %d", i)
	}

	_, err = f.service.Login(ctx, "victim@example.com", "WrongPass1", meta)
	var limited RateLimitedError
	require.ErrorAs(t, err, &limited, "sixth attempt should hit the lock")
	require.Positive(t, limited.RetryAfterSeconds())

	// Correct credentials change nothing while locked.
	_, err = f.service.Login(ctx, "victim@example.com", "Str0ngPass!", meta)
	require.ErrorAs(t, err, &limited)

	*f.clock = f.clock.Add(15*time.Minute + time.Second)

	creds, err := f.service.Login(ctx, "victim@example.com", "Str0ngPass!", meta)
	require.NoError(t, err, "lock must clear after the lockout window")
	require.NotEmpty(t, creds.AccessToken)
}

func TestLoginDeactivatedAccount(t *testing.T) {
	t.Parallel()

	f := newServiceFixture(t)
	ctx := context.Background()
	meta := ClientMeta{IP: "10.0.0.1"}

	registered, err := f.service.Register(ctx, "gone@example.com", "Str0ngPass!", "", meta)
	require.NoError(t, err)

	f.users.setActive(registered.User.ID, false)

	_, err = f.service.Login(ctx, "gone@example.com", "Str0ngPass!", meta)
	require.ErrorIs(t, err, ErrAccountDeactivated)

	// A deactivated user's surviving refresh token is refused too.
	_, _, err = f.service.Refresh(ctx, registered.RefreshToken)
	require.ErrorIs(t, err, ErrUnauthorized)
}

func TestRegisterValidation(t *testing.T) {
	t.Parallel()

	f := newServiceFixture(t)
	ctx := context.Background()
	meta := ClientMeta{IP: "10.0.0.1"}

	var invalid ValidationError

	_, err := f.service.Register(ctx, "not-an-email", "Str0ngPass!", "", meta)
	require.ErrorAs(t, err, &invalid)

	_, err = f.service.Register(ctx, "a@b.co", "weak", "", meta)
	require.ErrorAs(t, err, &invalid)

	_, err = f.service.Register(ctx, "a@b.co", "alllowercase1", "", meta)
	require.ErrorAs(t, err, &invalid, "policy requires an upper-case letter")

	_, err = f.service.Register(ctx, "dup@example.com", "Str0ngPass!", "", meta)
	require.NoError(t, err)
	_, err = f.service.Register(ctx, "DUP@example.com", "Str0ngPass!", "", meta)
	require.ErrorIs(t, err, user.ErrEmailTaken, "email uniqueness is case-insensitive")
}

func TestRefreshWithoutBackingSession(t *testing.T) {
	t.Parallel()

	f := newServiceFixture(t)
	ctx := context.Background()

	orphan, err := f.tokens.IssueRefreshToken("u-1", "never-created")
	require.NoError(t, err)

	_, _, err = f.service.Refresh(ctx, orphan)
	require.ErrorIs(t, err, ErrUnauthorized)

	_, _, err = f.service.Refresh(ctx, "garbage")
	require.ErrorIs(t, err, ErrUnauthorized)
}

func TestLogoutBestEffort(t *testing.T) {
	t.Parallel()

	f := newServiceFixture(t)
	ctx := context.Background()

	require.NoError(t, f.service.Logout(ctx, ""))
	require.NoError(t, f.service.Logout(ctx, "not-a-token"))
}

func TestMe(t *testing.T) {
	t.Parallel()

	f := newServiceFixture(t)
	ctx := context.Background()
	meta := ClientMeta{IP: "10.0.0.1"}

	registered, err := f.service.Register(ctx, "me@example.com", "Str0ngPass!", "Me", meta)
	require.NoError(t, err)

	u, err := f.service.Me(ctx, registered.User.ID)
	require.NoError(t, err)
	require.Equal(t, "me@example.com", u.Email)

	_, err = f.service.Me(ctx, "missing-id")
	require.ErrorIs(t, err, ErrUserNotFound)
}
