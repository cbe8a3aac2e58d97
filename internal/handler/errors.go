package handler

import (
	"errors"
	"net/http"

	"github.com/pavelanni/interviewer/internal/auth"
	"github.com/pavelanni/interviewer/internal/clip"
	"github.com/pavelanni/interviewer/internal/interview"
	"github.com/pavelanni/interviewer/internal/scoring"
	"github.com/pavelanni/interviewer/internal/session"
)

var errorMessages = []struct {
	target error
	msgID  string
	status int
}{
	{interview.ErrMissingClip, "ErrMissingClip", http.StatusBadRequest},
	{clip.ErrTooLarge, "ErrClipTooLarge", http.StatusRequestEntityTooLarge},
	{scoring.ErrUnavailable, "ErrScoringUnavailable", http.StatusServiceUnavailable},
	{scoring.ErrRejected, "ErrScoringRejected", http.StatusBadGateway},
	{interview.ErrNotStarted, "ErrNotStarted", http.StatusConflict},
	{interview.ErrNotComplete, "ErrNotComplete", http.StatusConflict},
	{session.ErrLockTimeout, "ErrSessionBusy", http.StatusConflict},
	{session.ErrConflict, "ErrSessionBusy", http.StatusConflict},
	{auth.ErrMissingFields, "ErrMissingFields", http.StatusBadRequest},
	{auth.ErrInvalidEmail, "ErrInvalidEmail", http.StatusBadRequest},
	{auth.ErrDuplicateEmail, "ErrDuplicateEmail", http.StatusBadRequest},
	{auth.ErrBadCredentials, "ErrBadCredentials", http.StatusUnauthorized},
	{auth.ErrUnverified, "ErrUnverified", http.StatusUnauthorized},
	{auth.ErrInvalidToken, "ErrInvalidToken", http.StatusBadRequest},
	{auth.ErrOAuth, "ErrOAuth", http.StatusBadRequest},
}

// classify maps an error to the message shown to the user and a status code.
// Anything unrecognized is an internal error.
func classify(err error) (msgID string, status int) {
	for _, m := range errorMessages {
		if errors.Is(err, m.target) {
			return m.msgID, m.status
		}
	}
	return "ErrInternal", http.StatusInternalServerError
}
