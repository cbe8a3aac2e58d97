// Package scoring submits recorded answers to a scoring backend.
package scoring

import (
	"context"
	"errors"
	"fmt"
	"io"
	"math"
)

var (
	// ErrUnavailable covers network failures, timeouts and server-side errors.
	ErrUnavailable = errors.New("scoring service unavailable")
	// ErrRejected covers a malformed clip, an invalid question index or a malformed response.
	ErrRejected = errors.New("scoring service rejected the clip")
)

// Scorer turns one recorded answer into a sub-score. Implementations must not
// retry; a failed call is surfaced to the user who resubmits explicitly.
type Scorer interface {
	Score(ctx context.Context, clip io.Reader, filename string, questionIndex int) (float64, error)
}

// validScore rejects values an untrusted backend may send that cannot be added
// to a running total.
func validScore(v float64) error {
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return fmt.Errorf("%w: score is not finite", ErrRejected)
	}
	if v < 0 {
		return fmt.Errorf("%w: negative score %v", ErrRejected, v)
	}
	return nil
}

// unavailableIfTimeout maps context expiry to ErrUnavailable.
func unavailableIfTimeout(ctx context.Context, err error) error {
	if ctx.Err() != nil || errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	return nil
}
