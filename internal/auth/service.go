package auth

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/vovakirdan/pollchat/internal/store"
)

var (
	// ErrInvalidCredentials is returned when username/password don't match.
	ErrInvalidCredentials = errors.New("invalid credentials")
	// ErrCaptchaRequired is returned once an account has too many consecutive failed logins.
	ErrCaptchaRequired = errors.New("captcha required")
	// ErrUserExists is returned when trying to register with existing username.
	ErrUserExists = errors.New("user already exists")
	// ErrInvalidUsername is returned when username doesn't meet constraints.
	ErrInvalidUsername = errors.New("invalid username")
	// ErrInvalidPassword is returned when password doesn't meet constraints.
	ErrInvalidPassword = errors.New("invalid password")
	// ErrInvalidToken is returned for malformed, expired or revoked tokens.
	ErrInvalidToken = errors.New("invalid token")
)

// DefaultCaptchaAfter is used when NewService gets a non-positive threshold.
const DefaultCaptchaAfter = 3

// Service provides authentication operations.
type Service struct {
	store        store.UserStore
	jwtConfig    *JWTConfig
	captchaAfter int
}

// NewService creates a new authentication service. After captchaAfter
// consecutive failed logins an account only accepts logins carrying a captcha answer.
func NewService(userStore store.UserStore, jwtConfig *JWTConfig, captchaAfter int) *Service {
	if captchaAfter <= 0 {
		captchaAfter = DefaultCaptchaAfter
	}
	return &Service{
		store:        userStore,
		jwtConfig:    jwtConfig,
		captchaAfter: captchaAfter,
	}
}

// Register creates a new user with hashed password and returns a JWT token.
func (s *Service) Register(ctx context.Context, username, password, displayName string) (string, error) {
	username = strings.TrimSpace(username)
	if len(username) < 3 || len(username) > 32 || strings.ContainsAny(username, ":/ ") {
		return "", ErrInvalidUsername
	}
	if len(password) < 6 {
		return "", ErrInvalidPassword
	}

	existing, err := s.store.GetUserByUsername(ctx, username)
	if err == nil && existing != nil {
		return "", ErrUserExists
	}
	if err != nil && !errors.Is(err, store.ErrNotFound) {
		return "", fmt.Errorf("lookup user: %w", err)
	}

	hashedPassword, err := HashPassword(password)
	if err != nil {
		return "", fmt.Errorf("hash password: %w", err)
	}

	user, err := s.store.CreateUser(ctx, username, hashedPassword, strings.TrimSpace(displayName))
	if err != nil {
		return "", fmt.Errorf("create user: %w", err)
	}

	token, err := GenerateToken(s.jwtConfig, user.ID, user.Username)
	if err != nil {
		return "", fmt.Errorf("generate token: %w", err)
	}

	return token, nil
}

// Login validates credentials and returns a JWT token.
// A locked account answers ErrCaptchaRequired until a login carries a captcha answer.
func (s *Service) Login(ctx context.Context, username, password, captcha string) (string, error) {
	user, err := s.store.GetUserByUsername(ctx, strings.TrimSpace(username))
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return "", ErrInvalidCredentials
		}
		return "", fmt.Errorf("lookup user: %w", err)
	}

	if user.FailedLogins >= s.captchaAfter && captcha == "" {
		return "", ErrCaptchaRequired
	}

	if errPwd := ComparePassword(user.PasswordHash, password); errPwd != nil {
		if _, err := s.store.RecordLoginFailure(ctx, user.ID); err != nil {
			return "", fmt.Errorf("record login failure: %w", err)
		}
		return "", ErrInvalidCredentials
	}

	if user.FailedLogins > 0 {
		if err := s.store.ResetLoginFailures(ctx, user.ID); err != nil {
			return "", fmt.Errorf("reset login failures: %w", err)
		}
	}

	token, err := GenerateToken(s.jwtConfig, user.ID, user.Username)
	if err != nil {
		return "", fmt.Errorf("generate token: %w", err)
	}

	return token, nil
}

// ValidateToken validates a JWT token, rejecting revoked ones, and returns the claims.
func (s *Service) ValidateToken(ctx context.Context, tokenString string) (*Claims, error) {
	claims, err := ValidateToken(s.jwtConfig, tokenString)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidToken, err)
	}

	revoked, err := s.store.IsTokenRevoked(ctx, claims.ID)
	if err != nil {
		return nil, fmt.Errorf("check revocation: %w", err)
	}
	if revoked {
		return nil, fmt.Errorf("%w: revoked", ErrInvalidToken)
	}

	return claims, nil
}

// Logout revokes the token the claims were read from.
func (s *Service) Logout(ctx context.Context, claims *Claims) error {
	if claims == nil || claims.ExpiresAt == nil {
		return ErrInvalidToken
	}
	return s.store.RevokeToken(ctx, claims.ID, claims.ExpiresAt.Time)
}
