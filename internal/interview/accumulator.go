// Package interview implements the interview session state machine: a pure
// score accumulator and the controller that drives it per request.
package interview

import (
	"fmt"
	"math"

	"github.com/pavelanni/interviewer/internal/model"
)

// Advance applies one scored answer. It adds subScore to the running total,
// moves to the next question and reports whether the interview is complete.
// It has no side effects.
func Advance(st model.InterviewState, subScore float64, total int) (model.InterviewState, bool, error) {
	if !st.Started {
		return st, false, ErrNotStarted
	}
	if st.QuestionIndex >= total {
		return st, true, ErrAlreadyComplete
	}
	if math.IsNaN(subScore) || math.IsInf(subScore, 0) || subScore < 0 {
		return st, false, fmt.Errorf("%w: %v", ErrInvalidScore, subScore)
	}

	next := st
	next.TotalScore = st.TotalScore + subScore
	next.QuestionIndex = st.QuestionIndex + 1
	return next, next.QuestionIndex >= total, nil
}
