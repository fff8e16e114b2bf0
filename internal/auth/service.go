package auth

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"
)

var (
	ErrInvalidCredentials = errors.New("invalid credentials")
	ErrInvalidToken       = errors.New("invalid token")
	ErrPasswordMismatch   = errors.New("password confirmation does not match")
	ErrEmptyUsername      = errors.New("username is required")
	ErrEmptyPassword      = errors.New("password is required")
)

type Service struct {
	users       UserStore
	sessions    SessionStore
	ttl         time.Duration
	rememberTTL time.Duration
	bcryptCost  int
	nowFunc     func() time.Time
}

type ServiceConfig struct {
	// SessionTTL bounds sessions created without the remember flag.
	SessionTTL time.Duration
	// RememberTTL bounds sessions created with the remember flag set.
	RememberTTL time.Duration
	BcryptCost  int
}

func NewService(users UserStore, sessions SessionStore, cfg ServiceConfig) (*Service, error) {
	if users == nil {
		return nil, fmt.Errorf("user store is required")
	}
	if sessions == nil {
		return nil, fmt.Errorf("session store is required")
	}
	if cfg.SessionTTL <= 0 {
		return nil, fmt.Errorf("session TTL must be > 0")
	}
	if cfg.RememberTTL < cfg.SessionTTL {
		return nil, fmt.Errorf("remember TTL must be >= session TTL")
	}
	cost := cfg.BcryptCost
	if cost == 0 {
		cost = bcrypt.DefaultCost
	}
	if cost < bcrypt.MinCost || cost > bcrypt.MaxCost {
		return nil, fmt.Errorf("bcrypt cost out of range")
	}

	return &Service{
		users:       users,
		sessions:    sessions,
		ttl:         cfg.SessionTTL,
		rememberTTL: cfg.RememberTTL,
		bcryptCost:  cost,
		nowFunc:     time.Now,
	}, nil
}

func (s *Service) HashPassword(password string) (string, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(password), s.bcryptCost)
	if err != nil {
		return "", fmt.Errorf("hash password: %w", err)
	}
	return string(hash), nil
}

func (s *Service) VerifyPassword(password, storedHash string) bool {
	return bcrypt.CompareHashAndPassword([]byte(storedHash), []byte(password)) == nil
}

// Signup creates a user and logs them straight in. There is no transaction
// around the two writes: if session creation fails after the user row landed,
// the caller sees a retryable error and can simply log in.
func (s *Service) Signup(ctx context.Context, username, password, confirmation string, remember bool) (Session, error) {
	username = strings.TrimSpace(username)
	if username == "" {
		return Session{}, ErrEmptyUsername
	}
	if password == "" {
		return Session{}, ErrEmptyPassword
	}
	if password != confirmation {
		return Session{}, ErrPasswordMismatch
	}

	hash, err := s.HashPassword(password)
	if err != nil {
		return Session{}, err
	}
	user, err := s.users.Create(ctx, username, hash)
	if err != nil {
		if errors.Is(err, ErrUsernameTaken) {
			return Session{}, ErrUsernameTaken
		}
		return Session{}, fmt.Errorf("create user: %w", err)
	}

	return s.createSession(ctx, user, remember)
}

func (s *Service) Login(ctx context.Context, username, password string, remember bool) (Session, error) {
	user, err := s.users.GetByUsername(ctx, strings.TrimSpace(username))
	if err != nil {
		if errors.Is(err, ErrUserNotFound) {
			return Session{}, ErrInvalidCredentials
		}
		return Session{}, fmt.Errorf("look up user: %w", err)
	}
	if !s.VerifyPassword(password, user.PasswordHash) {
		return Session{}, ErrInvalidCredentials
	}

	return s.createSession(ctx, user, remember)
}

func (s *Service) createSession(ctx context.Context, user User, remember bool) (Session, error) {
	ttl := s.ttl
	if remember {
		ttl = s.rememberTTL
	}
	now := s.nowFunc()
	session := Session{
		Token:     uuid.NewString(),
		UserID:    user.ID,
		Username:  user.Username,
		CreatedAt: now,
		ExpiresAt: now.Add(ttl),
	}
	if err := s.sessions.Create(ctx, session); err != nil {
		return Session{}, fmt.Errorf("create session: %w", err)
	}
	return session, nil
}

// ValidateToken resolves a token to its live session. Missing and expired
// tokens both come back as ErrInvalidToken.
func (s *Service) ValidateToken(ctx context.Context, token string) (Session, error) {
	if token == "" {
		return Session{}, ErrInvalidToken
	}
	session, err := s.sessions.Get(ctx, token)
	if err != nil {
		if errors.Is(err, ErrSessionNotFound) {
			return Session{}, ErrInvalidToken
		}
		return Session{}, fmt.Errorf("look up session: %w", err)
	}
	if s.nowFunc().After(session.ExpiresAt) {
		_ = s.sessions.Delete(ctx, token)
		return Session{}, ErrInvalidToken
	}
	return session, nil
}

// CurrentUser resolves a token to its user. Absence of a user is the normal
// anonymous path and is reported as ErrInvalidToken for the caller to absorb.
func (s *Service) CurrentUser(ctx context.Context, token string) (User, error) {
	session, err := s.ValidateToken(ctx, token)
	if err != nil {
		return User{}, err
	}
	user, err := s.users.GetByID(ctx, session.UserID)
	if err != nil {
		if errors.Is(err, ErrUserNotFound) {
			return User{}, ErrInvalidToken
		}
		return User{}, fmt.Errorf("look up session user: %w", err)
	}
	return user, nil
}

// Logout invalidates a session token. Logging out a token that is already
// gone is not an error.
func (s *Service) Logout(ctx context.Context, token string) error {
	if token == "" {
		return nil
	}
	if err := s.sessions.Delete(ctx, token); err != nil {
		return fmt.Errorf("delete session: %w", err)
	}
	return nil
}

func (s *Service) ChangePassword(ctx context.Context, token, currentPassword, newPassword string) error {
	if newPassword == "" {
		return ErrEmptyPassword
	}

	session, err := s.ValidateToken(ctx, token)
	if err != nil {
		return err
	}
	user, err := s.users.GetByID(ctx, session.UserID)
	if err != nil {
		return ErrInvalidCredentials
	}
	if !s.VerifyPassword(currentPassword, user.PasswordHash) {
		return ErrInvalidCredentials
	}

	hash, err := s.HashPassword(newPassword)
	if err != nil {
		return err
	}
	if err := s.users.UpdatePassword(ctx, user.ID, hash); err != nil {
		return fmt.Errorf("store updated password: %w", err)
	}
	return nil
}

// PruneExpired removes sessions whose expiry has passed. The app runs this on
// a ticker so abandoned sessions do not pile up in the store.
func (s *Service) PruneExpired(ctx context.Context) (int64, error) {
	return s.sessions.DeleteExpired(ctx, s.nowFunc())
}
