// Package auth manages account identity: local registration with email
// verification, password login, OAuth sign-in and resolving a session
// identity back to its user record.
package auth

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"
	"log/slog"
	"net/mail"
	"strings"

	"golang.org/x/crypto/bcrypt"

	"github.com/pavelanni/interviewer/internal/model"
	"github.com/pavelanni/interviewer/internal/store"
)

var (
	// ErrMissingFields is a validation error for an incomplete form.
	ErrMissingFields = errors.New("email and password are required")
	// ErrInvalidEmail is a validation error for a malformed address.
	ErrInvalidEmail = errors.New("invalid email address")
	// ErrDuplicateEmail means an account with the email already exists.
	ErrDuplicateEmail = errors.New("email already registered")
	// ErrBadCredentials covers unknown accounts and wrong passwords alike.
	ErrBadCredentials = errors.New("invalid email or password")
	// ErrUnverified means the account exists but its email is not verified yet.
	ErrUnverified = errors.New("email not verified")
	// ErrInvalidToken means a verification token is unknown or already used.
	ErrInvalidToken = errors.New("invalid or expired verification token")
)

// IsIdentityError reports whether err is an expected identity failure to show the user.
func IsIdentityError(err error) bool {
	for _, target := range []error{ErrDuplicateEmail, ErrBadCredentials, ErrUnverified, ErrInvalidToken, ErrOAuth} {
		if errors.Is(err, target) {
			return true
		}
	}
	return false
}

// IsValidation reports whether err is caused by incomplete or malformed input.
func IsValidation(err error) bool {
	return errors.Is(err, ErrMissingFields) || errors.Is(err, ErrInvalidEmail)
}

// UserStore is the account persistence the service needs.
type UserStore interface {
	CreateUser(ctx context.Context, u model.User) (int64, error)
	GetUserByEmail(ctx context.Context, email string) (*model.User, error)
	ConsumeVerificationToken(ctx context.Context, token string) (*model.User, error)
}

// IdentityResolver maps a session identity to its user record.
type IdentityResolver interface {
	// Resolve returns nil, nil when no account matches.
	Resolve(ctx context.Context, identity string) (*model.User, error)
}

// Service implements the identity lifecycle.
type Service struct {
	users     UserStore
	mailer    Mailer
	verifyURL func(token string) string
	cost      int
}

// NewService creates a Service. verifyURL builds the absolute link mailed to
// new accounts.
func NewService(users UserStore, mailer Mailer, verifyURL func(token string) string) *Service {
	return &Service{users: users, mailer: mailer, verifyURL: verifyURL, cost: bcrypt.DefaultCost}
}

// Register creates an unverified account and mails its verification link.
// A mail failure is logged; the account remains and can be verified once the
// link arrives by other means.
func (s *Service) Register(ctx context.Context, email, password string) (*model.User, error) {
	email = store.NormalizeEmail(email)
	if email == "" || password == "" {
		return nil, ErrMissingFields
	}
	if _, err := mail.ParseAddress(email); err != nil {
		return nil, ErrInvalidEmail
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(password), s.cost)
	if err != nil {
		return nil, fmt.Errorf("hash password: %w", err)
	}
	token, err := randomToken()
	if err != nil {
		return nil, fmt.Errorf("generate verification token: %w", err)
	}

	u := model.User{Email: email, PasswordHash: string(hash), VerificationToken: &token}
	id, err := s.users.CreateUser(ctx, u)
	if err != nil {
		if errors.Is(err, store.ErrDuplicateEmail) {
			return nil, ErrDuplicateEmail
		}
		return nil, fmt.Errorf("create user: %w", err)
	}
	u.ID = id

	if err := s.mailer.SendVerification(ctx, email, s.verifyURL(token)); err != nil {
		slog.Error("failed to send verification mail", "email", email, "error", err)
	}
	return &u, nil
}

// Login checks credentials. Accounts without a password (OAuth-only) never
// match, and unverified accounts are refused.
func (s *Service) Login(ctx context.Context, email, password string) (*model.User, error) {
	email = store.NormalizeEmail(email)
	if email == "" || password == "" {
		return nil, ErrMissingFields
	}
	u, err := s.users.GetUserByEmail(ctx, email)
	if err != nil {
		return nil, fmt.Errorf("get user: %w", err)
	}
	if u == nil || u.PasswordHash == "" {
		return nil, ErrBadCredentials
	}
	if err := bcrypt.CompareHashAndPassword([]byte(u.PasswordHash), []byte(password)); err != nil {
		return nil, ErrBadCredentials
	}
	if !u.Verified {
		return nil, ErrUnverified
	}
	return u, nil
}

// Verify consumes a one-time verification token.
func (s *Service) Verify(ctx context.Context, token string) (*model.User, error) {
	if strings.TrimSpace(token) == "" {
		return nil, ErrInvalidToken
	}
	u, err := s.users.ConsumeVerificationToken(ctx, token)
	if err != nil {
		if errors.Is(err, store.ErrTokenNotFound) {
			return nil, ErrInvalidToken
		}
		return nil, fmt.Errorf("consume verification token: %w", err)
	}
	slog.Info("email verified", "email", u.Email)
	return u, nil
}

// Resolve implements IdentityResolver.
func (s *Service) Resolve(ctx context.Context, identity string) (*model.User, error) {
	if identity == "" {
		return nil, nil
	}
	u, err := s.users.GetUserByEmail(ctx, identity)
	if err != nil {
		return nil, fmt.Errorf("resolve identity: %w", err)
	}
	return u, nil
}

// CreateVerified creates an account for an email already proven by an
// identity provider. It has no password.
func (s *Service) CreateVerified(ctx context.Context, email string) (*model.User, error) {
	email = store.NormalizeEmail(email)
	if email == "" {
		return nil, ErrMissingFields
	}
	u := model.User{Email: email, Verified: true}
	id, err := s.users.CreateUser(ctx, u)
	if err != nil {
		if errors.Is(err, store.ErrDuplicateEmail) {
			return nil, ErrDuplicateEmail
		}
		return nil, fmt.Errorf("create user: %w", err)
	}
	u.ID = id
	return &u, nil
}

func randomToken() (string, error) {
	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return base64.RawURLEncoding.EncodeToString(b), nil
}
