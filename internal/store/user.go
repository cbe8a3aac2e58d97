package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	"modernc.org/sqlite"
	sqlite3 "modernc.org/sqlite/lib"

	"github.com/pavelanni/interviewer/internal/model"
)

var (
	// ErrDuplicateEmail is returned when an account with the email already exists.
	ErrDuplicateEmail = errors.New("email already registered")
	// ErrTokenNotFound is returned when a verification token matches no account.
	ErrTokenNotFound = errors.New("verification token not found")
	// ErrUserNotFound is returned when an update targets a missing account.
	ErrUserNotFound = errors.New("user not found")
)

const userColumns = `id, email, password_hash, verified, verification_token, score, created_at`

func scanUser(row interface{ Scan(...any) error }) (*model.User, error) {
	var u model.User
	err := row.Scan(&u.ID, &u.Email, &u.PasswordHash, &u.Verified, &u.VerificationToken, &u.Score, &u.CreatedAt)
	if err != nil {
		return nil, err
	}
	return &u, nil
}

// NormalizeEmail lowercases and trims an email address.
func NormalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

// CreateUser inserts a new user and returns its ID.
func (s *Store) CreateUser(ctx context.Context, u model.User) (int64, error) {
	email := NormalizeEmail(u.Email)
	var id int64
	err := s.queryRow(ctx,
		`INSERT INTO users (email, password_hash, verified, verification_token, created_at)
		 VALUES (?, ?, ?, ?, ?) RETURNING id`,
		email, u.PasswordHash, u.Verified, u.VerificationToken, time.Now(),
	).Scan(&id)
	if err != nil {
		if isUniqueViolation(err) {
			return 0, ErrDuplicateEmail
		}
		slog.Error("failed to create user", "email", email, "error", err)
		return 0, err
	}
	slog.Info("created user", "id", id, "email", email, "verified", u.Verified)
	return id, nil
}

// GetUserByEmail returns a user by email, or nil if none exists.
func (s *Store) GetUserByEmail(ctx context.Context, email string) (*model.User, error) {
	u, err := scanUser(s.queryRow(ctx,
		`SELECT `+userColumns+` FROM users WHERE email = ?`, NormalizeEmail(email)))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	return u, err
}

// ConsumeVerificationToken marks the token's account verified and clears the
// token so it cannot be used again.
func (s *Store) ConsumeVerificationToken(ctx context.Context, token string) (*model.User, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback()

	u, err := scanUser(tx.QueryRowContext(ctx,
		s.rebind(`SELECT `+userColumns+` FROM users WHERE verification_token = ?`), token))
	if err == sql.ErrNoRows {
		return nil, ErrTokenNotFound
	}
	if err != nil {
		return nil, err
	}

	res, err := tx.ExecContext(ctx,
		s.rebind(`UPDATE users SET verified = ?, verification_token = NULL WHERE id = ? AND verification_token = ?`),
		true, u.ID, token)
	if err != nil {
		return nil, err
	}
	if n, err := res.RowsAffected(); err != nil {
		return nil, err
	} else if n == 0 {
		return nil, ErrTokenNotFound
	}
	if err := tx.Commit(); err != nil {
		return nil, err
	}

	u.Verified = true
	u.VerificationToken = nil
	slog.Info("verified user", "id", u.ID, "email", u.Email)
	return u, nil
}

// SaveScore overwrites the final interview score of the account with email.
func (s *Store) SaveScore(ctx context.Context, email string, score float64) error {
	res, err := s.exec(ctx, `UPDATE users SET score = ? WHERE email = ?`, score, NormalizeEmail(email))
	if err != nil {
		return fmt.Errorf("save score: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("save score: %w", err)
	}
	if n == 0 {
		return ErrUserNotFound
	}
	return nil
}

// ListUsers returns all users.
func (s *Store) ListUsers(ctx context.Context) ([]model.User, error) {
	rows, err := s.query(ctx, `SELECT `+userColumns+` FROM users ORDER BY id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var users []model.User
	for rows.Next() {
		u, err := scanUser(rows)
		if err != nil {
			return nil, err
		}
		users = append(users, *u)
	}
	return users, rows.Err()
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == "23505" // unique_violation
	}
	var liteErr *sqlite.Error
	if errors.As(err, &liteErr) {
		return liteErr.Code() == sqlite3.SQLITE_CONSTRAINT_UNIQUE
	}
	return false
}
