package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/pavelanni/interviewer/internal/model"
	"github.com/pavelanni/interviewer/internal/session"
)

const defaultSessionTTL = 24 * time.Hour

// SessionStore persists interview state in the interview_sessions table.
// Its per-token lock is in-process, so one server must own the database.
type SessionStore struct {
	s     *Store
	ttl   time.Duration
	locks *session.KeyedMutex
}

// Sessions returns a session.Store backed by this database.
func (s *Store) Sessions(ttl time.Duration) *SessionStore {
	if ttl <= 0 {
		ttl = defaultSessionTTL
	}
	return &SessionStore{s: s, ttl: ttl, locks: session.NewKeyedMutex()}
}

// Load returns the state for token, or nil if not found/expired.
func (ss *SessionStore) Load(ctx context.Context, token string) (*model.InterviewState, error) {
	var raw string
	var expiresAt time.Time
	err := ss.s.queryRow(ctx,
		`SELECT state, expires_at FROM interview_sessions WHERE token = ?`, token,
	).Scan(&raw, &expiresAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("load session: %w", err)
	}
	if time.Now().After(expiresAt) {
		if err := ss.Clear(ctx, token); err != nil {
			slog.Warn("failed to delete expired session", "error", err)
		}
		return nil, nil
	}
	var st model.InterviewState
	if err := json.Unmarshal([]byte(raw), &st); err != nil {
		return nil, fmt.Errorf("decode session: %w", err)
	}
	return &st, nil
}

// Save writes the state for token and extends its expiry. A first save
// (version 0) may replace an expired row; later saves must match the stored
// version.
func (ss *SessionStore) Save(ctx context.Context, token string, st model.InterviewState) error {
	now := time.Now()
	expected := st.Version
	st.Version++
	st.UpdatedAt = now
	raw, err := json.Marshal(st)
	if err != nil {
		return fmt.Errorf("encode session: %w", err)
	}

	var res sql.Result
	if expected == 0 {
		res, err = ss.s.exec(ctx,
			`INSERT INTO interview_sessions (token, state, version, updated_at, expires_at) VALUES (?, ?, ?, ?, ?)
			 ON CONFLICT(token) DO UPDATE SET state = excluded.state, version = excluded.version,
			   updated_at = excluded.updated_at, expires_at = excluded.expires_at
			 WHERE interview_sessions.expires_at < ?`,
			token, string(raw), st.Version, now, now.Add(ss.ttl), now,
		)
	} else {
		res, err = ss.s.exec(ctx,
			`UPDATE interview_sessions SET state = ?, version = ?, updated_at = ?, expires_at = ?
			 WHERE token = ? AND version = ? AND expires_at >= ?`,
			string(raw), st.Version, now, now.Add(ss.ttl), token, expected, now,
		)
	}
	if err != nil {
		return fmt.Errorf("save session: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("save session: %w", err)
	}
	if n == 0 {
		return session.ErrConflict
	}
	return nil
}

// Clear removes a session token.
func (ss *SessionStore) Clear(ctx context.Context, token string) error {
	_, err := ss.s.exec(ctx, `DELETE FROM interview_sessions WHERE token = ?`, token)
	return err
}

// Lock acquires the per-token lock.
func (ss *SessionStore) Lock(ctx context.Context, token string) (func(), error) {
	return ss.locks.Lock(ctx, token)
}

// CleanupExpiredSessions removes all expired sessions.
func (ss *SessionStore) CleanupExpiredSessions(ctx context.Context) (int64, error) {
	res, err := ss.s.exec(ctx, `DELETE FROM interview_sessions WHERE expires_at < ?`, time.Now())
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}
