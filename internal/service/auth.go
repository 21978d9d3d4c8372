package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/Skotchmaster/tasks_app/internal/events"
	"github.com/Skotchmaster/tasks_app/internal/models"
	"github.com/Skotchmaster/tasks_app/internal/repo"
	"github.com/Skotchmaster/tasks_app/internal/transport"
	pkg_hash "github.com/Skotchmaster/tasks_app/pkg/hash"
	"github.com/Skotchmaster/tasks_app/pkg/logging"
	"github.com/Skotchmaster/tasks_app/pkg/tokens"
	"gorm.io/gorm"
)

const msgInvalidCredentials = "Invalid credentials"

type AuthService struct {
	Repo   *repo.GormRepo
	Tokens *tokens.Issuer
	Events events.Publisher
}

type AuthResult struct {
	Token     string
	ExpiresAt time.Time
	User      *models.User
}

func (s *AuthService) Register(ctx context.Context, req transport.RegisterRequest) (*AuthResult, error) {
	l := logging.FromContext(ctx).With("svc", "auth.register")

	req.Normalize()
	if req.Name == "" || req.Email == "" || req.Password == "" {
		return nil, newErr(ErrValidation, "name, email and password are required")
	}
	if utf8.RuneCountInString(req.Name) < 2 {
		return nil, newErr(ErrValidation, `"name" length must be at least 2 characters long`)
	}
	if req.Password != req.ConfirmPassword {
		return nil, newErr(ErrValidation, "Passwords do not match")
	}

	pwHash, err := pkg_hash.HashPassword(req.Password)
	if err != nil {
		l.Error("register_error", "status", 500, "reason", "cannot hash the password", "error", err)
		return nil, fmt.Errorf("hash password: %w", err)
	}

	user := models.User{
		Name:         req.Name,
		Email:        req.Email,
		PasswordHash: pwHash,
		Role:         models.RoleUser,
	}
	if err := s.Repo.CreateUserIfNotExists(ctx, &user); err != nil {
		if errors.Is(err, repo.ErrUserAlreadyExist) {
			l.Warn("register_error", "status", 409, "reason", "email already registered", "email", models.NormalizeEmail(req.Email))
			return nil, newErr(ErrConflict, "Email already registered")
		}
		l.Error("register_error", "status", 500, "reason", "cannot create user", "error", err)
		return nil, fmt.Errorf("create user: %w", err)
	}

	token, exp, err := s.Tokens.Issue(user.ID.String(), string(user.Role))
	if err != nil {
		l.Error("register_error", "status", 500, "reason", "cannot issue token", "error", err)
		return nil, err
	}

	publish(ctx, s.Events, events.Event{Type: events.UserRegistered, UserID: user.ID.String()})
	l.Info("register_success", "user_id", user.ID)

	return &AuthResult{Token: token, ExpiresAt: exp, User: &user}, nil
}

// Login answers unknown email and wrong password with the same error so the
// response cannot be used to probe for accounts.
func (s *AuthService) Login(ctx context.Context, email, password string) (*AuthResult, error) {
	l := logging.FromContext(ctx).With("svc", "auth.login")

	if strings.TrimSpace(email) == "" || password == "" {
		return nil, newErr(ErrValidation, "email and password are required")
	}

	user, err := s.Repo.GetUserByEmail(ctx, email)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			l.Warn("login_failed", "status", 401, "reason", "user not found")
			return nil, newErr(ErrInvalidCredentials, msgInvalidCredentials)
		}
		l.Error("login_failed", "status", 500, "error", err)
		return nil, fmt.Errorf("load user: %w", err)
	}

	if !pkg_hash.CheckPassword(user.PasswordHash, password) {
		l.Warn("login_failed", "status", 401, "reason", "incorrect password", "user_id", user.ID)
		return nil, newErr(ErrInvalidCredentials, msgInvalidCredentials)
	}

	token, exp, err := s.Tokens.Issue(user.ID.String(), string(user.Role))
	if err != nil {
		l.Error("login_failed", "status", 500, "error", err)
		return nil, err
	}

	l.Info("login_successful", "user_id", user.ID)
	return &AuthResult{Token: token, ExpiresAt: exp, User: user}, nil
}

// EnsureAdmin creates the bootstrap administrator when its email is not
// registered yet. An existing account with that email is left untouched.
func (s *AuthService) EnsureAdmin(ctx context.Context, name, email, password string) (bool, error) {
	if strings.TrimSpace(email) == "" || password == "" {
		return false, nil
	}

	pwHash, err := pkg_hash.HashPassword(password)
	if err != nil {
		return false, fmt.Errorf("hash password: %w", err)
	}
	admin := models.User{
		Name:         name,
		Email:        email,
		PasswordHash: pwHash,
		Role:         models.RoleAdmin,
	}
	if err := s.Repo.CreateUserIfNotExists(ctx, &admin); err != nil {
		if errors.Is(err, repo.ErrUserAlreadyExist) {
			return false, nil
		}
		return false, err
	}
	return true, nil
}

func publish(ctx context.Context, p events.Publisher, e events.Event) {
	if p == nil {
		return
	}
	if err := p.Publish(ctx, e); err != nil {
		logging.FromContext(ctx).Warn("event_publish_failed", "type", e.Type, "error", err)
	}
}
