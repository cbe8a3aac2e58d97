package model

import (
	"context"
	"time"
)

// User is a persisted account.
type User struct {
	ID                int64
	Email             string
	PasswordHash      string
	Verified          bool
	VerificationToken *string
	Score             *float64
	CreatedAt         time.Time
}

// InterviewState is the per-browser-session interview progress.
// Started is false until a session-start operation runs; an unstarted
// state has no defined question index and cannot be scored.
type InterviewState struct {
	Started        bool      `json:"started"`
	QuestionIndex  int       `json:"question_index"`
	TotalScore     float64   `json:"total_score"`
	Identity       string    `json:"identity,omitempty"`
	PendingEmail   string    `json:"pending_email,omitempty"`
	ScorePersisted bool      `json:"score_persisted"`
	UpdatedAt      time.Time `json:"updated_at"`
	// Version counts stored revisions. A session store only accepts a state
	// whose Version matches the stored one; a missing state is version 0.
	Version int64 `json:"version"`
}

// Complete reports whether every one of total questions has been scored.
func (s InterviewState) Complete(total int) bool {
	return s.Started && s.QuestionIndex >= total
}

// Phase names the interview state machine position.
type Phase string

const (
	PhaseNotStarted Phase = "not_started"
	PhaseInProgress Phase = "in_progress"
	PhaseComplete   Phase = "complete"
)

// Phase returns the state machine position for a bank of total questions.
func (s InterviewState) Phase(total int) Phase {
	switch {
	case !s.Started:
		return PhaseNotStarted
	case s.QuestionIndex >= total:
		return PhaseComplete
	default:
		return PhaseInProgress
	}
}

// Question is one interview prompt with the keywords its answer is scored against.
type Question struct {
	Text     string   `yaml:"text" json:"text"`
	Keywords []string `yaml:"keywords" json:"keywords"`
}

// AppConfig holds runtime parameters set via CLI flags.
type AppConfig struct {
	BasePath      string // URL prefix for sub-path deployments (e.g. "/ru")
	SecureCookies bool   // Set Secure flag on cookies (disable for local dev)
	PublicURL     string // Absolute base URL used in verification mail links
	MaxClipBytes  int64  // Upper bound on a single uploaded clip
	SessionTTL    time.Duration
}

type userCtxKey struct{}

// ContextWithUser stores a user in the request context.
func ContextWithUser(ctx context.Context, u *User) context.Context {
	return context.WithValue(ctx, userCtxKey{}, u)
}

// UserFromContext retrieves the authenticated user from context, or nil.
func UserFromContext(ctx context.Context) *User {
	u, _ := ctx.Value(userCtxKey{}).(*User)
	return u
}

type sessionTokenCtxKey struct{}

// ContextWithSessionToken stores the browser session token in context.
func ContextWithSessionToken(ctx context.Context, token string) context.Context {
	return context.WithValue(ctx, sessionTokenCtxKey{}, token)
}

// SessionTokenFromContext retrieves the browser session token (empty if not set).
func SessionTokenFromContext(ctx context.Context) string {
	t, _ := ctx.Value(sessionTokenCtxKey{}).(string)
	return t
}

type basePathCtxKey struct{}

// ContextWithBasePath stores the base path prefix in context.
func ContextWithBasePath(ctx context.Context, basePath string) context.Context {
	return context.WithValue(ctx, basePathCtxKey{}, basePath)
}

// BasePathFromContext retrieves the base path from context (empty string if not set).
func BasePathFromContext(ctx context.Context) string {
	bp, _ := ctx.Value(basePathCtxKey{}).(string)
	return bp
}

type csrfCtxKey struct{}

// ContextWithCSRFToken stores the CSRF token in context.
func ContextWithCSRFToken(ctx context.Context, token string) context.Context {
	return context.WithValue(ctx, csrfCtxKey{}, token)
}

// CSRFTokenFromContext retrieves the CSRF token from context.
func CSRFTokenFromContext(ctx context.Context) string {
	t, _ := ctx.Value(csrfCtxKey{}).(string)
	return t
}
