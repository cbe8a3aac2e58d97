package interview

import (
	"errors"

	"github.com/pavelanni/interviewer/internal/clip"
	"github.com/pavelanni/interviewer/internal/scoring"
)

var (
	// ErrMissingClip is a validation error: the submission carried no recording.
	ErrMissingClip = errors.New("no answer recording uploaded")
	// ErrNotStarted means the session was never reset to the first question.
	ErrNotStarted = errors.New("interview not started")
	// ErrAlreadyComplete means every question has been scored.
	ErrAlreadyComplete = errors.New("interview already complete")
	// ErrNotComplete means a result was requested before the last answer.
	ErrNotComplete = errors.New("interview not complete")
	// ErrInvalidScore means a sub-score was negative or not finite.
	ErrInvalidScore = errors.New("invalid sub-score")
)

// IsValidation reports whether err is caused by bad user input.
func IsValidation(err error) bool {
	return errors.Is(err, ErrMissingClip) || errors.Is(err, clip.ErrTooLarge)
}

// IsTransient reports whether err is a scoring failure the user may retry.
func IsTransient(err error) bool {
	return errors.Is(err, scoring.ErrUnavailable) || errors.Is(err, scoring.ErrRejected)
}
