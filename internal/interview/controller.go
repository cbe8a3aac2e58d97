package interview

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/pavelanni/interviewer/internal/clip"
	"github.com/pavelanni/interviewer/internal/model"
	"github.com/pavelanni/interviewer/internal/scoring"
	"github.com/pavelanni/interviewer/internal/session"
)

const (
	defaultScoringTimeout = 60 * time.Second
	cleanupTimeout        = 5 * time.Second
)

// ScoreRecorder persists a final score against an account.
type ScoreRecorder interface {
	SaveScore(ctx context.Context, email string, score float64) error
}

// Upload is the recording attached to a submission. Present must not read
// the request body; Open is only called once the session guards pass.
type Upload interface {
	Present() bool
	// Open returns the clip and its filename, or ErrMissingClip.
	Open() (io.ReadCloser, string, error)
}

// Outcome describes the session after an operation.
type Outcome struct {
	State    model.InterviewState
	Complete bool
}

// Controller drives one interview per session token.
type Controller struct {
	sessions       session.Store
	scorer         scoring.Scorer
	spool          clip.Spool
	recorder       ScoreRecorder
	questions      []model.Question
	scoringTimeout time.Duration
}

// Option configures a Controller.
type Option func(*Controller)

// WithScoringTimeout bounds each scoring call.
func WithScoringTimeout(d time.Duration) Option {
	return func(c *Controller) {
		if d > 0 {
			c.scoringTimeout = d
		}
	}
}

// NewController creates a Controller over the given question bank.
func NewController(sessions session.Store, scorer scoring.Scorer, spool clip.Spool, recorder ScoreRecorder,
	questions []model.Question, opts ...Option) (*Controller, error) {
	if len(questions) == 0 {
		return nil, errors.New("question bank is empty")
	}
	c := &Controller{
		sessions:       sessions,
		scorer:         scorer,
		spool:          spool,
		recorder:       recorder,
		questions:      questions,
		scoringTimeout: defaultScoringTimeout,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// Total returns the number of questions in an interview.
func (c *Controller) Total() int {
	return len(c.questions)
}

// Question returns the question at index i.
func (c *Controller) Question(i int) (model.Question, bool) {
	if i < 0 || i >= len(c.questions) {
		return model.Question{}, false
	}
	return c.questions[i], true
}

// Current returns the session state; an unknown token yields a zero (not started) state.
func (c *Controller) Current(ctx context.Context, token string) (model.InterviewState, error) {
	st, err := c.sessions.Load(ctx, token)
	if err != nil {
		return model.InterviewState{}, fmt.Errorf("load session: %w", err)
	}
	if st == nil {
		return model.InterviewState{}, nil
	}
	return *st, nil
}

// Start resets the session to the first question with a zero score. The
// signed-in identity is kept.
func (c *Controller) Start(ctx context.Context, token string) (model.InterviewState, error) {
	return c.update(ctx, token, func(st *model.InterviewState) {
		*st = model.InterviewState{Started: true, Identity: st.Identity, Version: st.Version}
	})
}

// Restart is Start triggered explicitly by the user; it never signs them out.
func (c *Controller) Restart(ctx context.Context, token string) (model.InterviewState, error) {
	st, err := c.Start(ctx, token)
	if err == nil {
		slog.Info("interview restarted", "identity", st.Identity)
	}
	return st, err
}

// SignIn attaches identity to the session and starts a fresh interview.
func (c *Controller) SignIn(ctx context.Context, token, identity string) (model.InterviewState, error) {
	return c.update(ctx, token, func(st *model.InterviewState) {
		*st = model.InterviewState{Started: true, Identity: identity, Version: st.Version}
	})
}

// SetPendingEmail remembers a provider-supplied email awaiting account setup.
func (c *Controller) SetPendingEmail(ctx context.Context, token, email string) error {
	_, err := c.update(ctx, token, func(st *model.InterviewState) {
		st.PendingEmail = email
	})
	return err
}

// Logout forgets the session entirely, identity included.
func (c *Controller) Logout(ctx context.Context, token string) error {
	unlock, err := c.lock(ctx, token)
	if err != nil {
		return err
	}
	defer unlock()
	if err := c.sessions.Clear(ctx, token); err != nil {
		return fmt.Errorf("clear session: %w", err)
	}
	return nil
}

// SubmitAnswer scores the recording for the current question and advances the
// session. A completed session is routed to its result without scoring. When
// scoring fails the session is left exactly as it was, so the same question
// can be resubmitted.
func (c *Controller) SubmitAnswer(ctx context.Context, token string, up Upload) (Outcome, error) {
	if up == nil || !up.Present() {
		return Outcome{}, ErrMissingClip
	}

	unlock, err := c.lock(ctx, token)
	if err != nil {
		return Outcome{}, err
	}
	defer unlock()

	st, err := c.load(ctx, token)
	if err != nil {
		return Outcome{}, err
	}
	total := c.Total()
	if !st.Started {
		return Outcome{State: st}, ErrNotStarted
	}
	if st.Complete(total) {
		return c.complete(ctx, token, st)
	}

	body, name, err := up.Open()
	if err != nil {
		return Outcome{State: st}, err
	}
	defer body.Close()

	spooled, err := c.spool.Put(ctx, name, body)
	if err != nil {
		if errors.Is(err, clip.ErrTooLarge) {
			return Outcome{State: st}, err
		}
		return Outcome{State: st}, fmt.Errorf("spool clip: %w", err)
	}
	defer c.discard(ctx, spooled)
	if spooled.Size == 0 {
		return Outcome{State: st}, ErrMissingClip
	}

	sub, err := c.score(ctx, spooled, st.QuestionIndex)
	if err != nil {
		slog.Warn("scoring failed, question unchanged",
			"question_index", st.QuestionIndex, "error", err)
		return Outcome{State: st}, err
	}

	next, done, err := Advance(st, sub, total)
	if err != nil {
		if errors.Is(err, ErrInvalidScore) {
			return Outcome{State: st}, fmt.Errorf("%w: %w", scoring.ErrRejected, err)
		}
		return Outcome{State: st}, err
	}
	if err := c.save(ctx, token, &next); err != nil {
		return Outcome{State: st}, err
	}
	// The completed state is stored before the score is written, so any retry
	// of the write carries the same total.
	if done && c.persist(ctx, &next) {
		if err := c.save(ctx, token, &next); err != nil {
			slog.Error("save session after score persisted", "error", err)
		}
	}

	slog.Info("answer scored",
		"question_index", st.QuestionIndex, "sub_score", sub,
		"total_score", next.TotalScore, "complete", done)
	return Outcome{State: next, Complete: done}, nil
}

// Result returns the final state of a completed interview, writing the final
// score if an earlier attempt failed.
func (c *Controller) Result(ctx context.Context, token string) (Outcome, error) {
	unlock, err := c.lock(ctx, token)
	if err != nil {
		return Outcome{}, err
	}
	defer unlock()

	st, err := c.load(ctx, token)
	if err != nil {
		return Outcome{}, err
	}
	if !st.Started {
		return Outcome{State: st}, ErrNotStarted
	}
	if !st.Complete(c.Total()) {
		return Outcome{State: st}, ErrNotComplete
	}
	return c.complete(ctx, token, st)
}

// complete persists the final score at most once per completion and saves
// the persisted flag. A persistence failure is logged and never returned.
func (c *Controller) complete(ctx context.Context, token string, st model.InterviewState) (Outcome, error) {
	if c.persist(ctx, &st) {
		if err := c.save(ctx, token, &st); err != nil {
			slog.Error("save session after score persisted", "error", err)
		}
	}
	return Outcome{State: st, Complete: true}, nil
}

// persist writes the final score when it has not been written yet and
// reports whether st changed.
func (c *Controller) persist(ctx context.Context, st *model.InterviewState) bool {
	if st.ScorePersisted || st.Identity == "" || c.recorder == nil {
		return false
	}
	if err := c.recorder.SaveScore(ctx, st.Identity, st.TotalScore); err != nil {
		slog.Error("persist final score, will retry on next result visit",
			"identity", st.Identity, "score", st.TotalScore, "error", err)
		return false
	}
	st.ScorePersisted = true
	slog.Info("final score persisted", "identity", st.Identity, "score", st.TotalScore)
	return true
}

func (c *Controller) score(ctx context.Context, spooled *clip.Clip, questionIndex int) (float64, error) {
	sctx, cancel := context.WithTimeout(ctx, c.scoringTimeout)
	defer cancel()

	rc, err := spooled.Open(sctx)
	if err != nil {
		return 0, fmt.Errorf("%w: open spooled clip: %v", scoring.ErrUnavailable, err)
	}
	defer rc.Close()
	return c.scorer.Score(sctx, rc, spooled.Name, questionIndex)
}

// discard removes the spooled clip even when the request was cancelled.
func (c *Controller) discard(ctx context.Context, spooled *clip.Clip) {
	rctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), cleanupTimeout)
	defer cancel()
	if err := spooled.Remove(rctx); err != nil {
		slog.Error("remove spooled clip", "name", spooled.Name, "error", err)
	}
}

func (c *Controller) update(ctx context.Context, token string, fn func(*model.InterviewState)) (model.InterviewState, error) {
	unlock, err := c.lock(ctx, token)
	if err != nil {
		return model.InterviewState{}, err
	}
	defer unlock()

	st, err := c.load(ctx, token)
	if err != nil {
		return model.InterviewState{}, err
	}
	fn(&st)
	if err := c.save(ctx, token, &st); err != nil {
		return model.InterviewState{}, err
	}
	return st, nil
}

// save stores st and advances its version to match the stored revision.
func (c *Controller) save(ctx context.Context, token string, st *model.InterviewState) error {
	if err := c.sessions.Save(ctx, token, *st); err != nil {
		return fmt.Errorf("save session: %w", err)
	}
	st.Version++
	return nil
}

func (c *Controller) load(ctx context.Context, token string) (model.InterviewState, error) {
	return c.Current(ctx, token)
}

// lock waits for the token's lock for at most one scoring timeout plus slack,
// the longest another request can legitimately hold it.
func (c *Controller) lock(ctx context.Context, token string) (func(), error) {
	lctx, cancel := context.WithTimeout(ctx, c.scoringTimeout+cleanupTimeout)
	defer cancel()
	unlock, err := c.sessions.Lock(lctx, token)
	if err != nil {
		return nil, fmt.Errorf("lock session: %w", err)
	}
	return unlock, nil
}
