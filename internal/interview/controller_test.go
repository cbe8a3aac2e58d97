package interview

import (
	"bytes"
	"context"
	"errors"
	"io"
	"os"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"

	"github.com/pavelanni/interviewer/internal/clip"
	"github.com/pavelanni/interviewer/internal/model"
	"github.com/pavelanni/interviewer/internal/scoring"
	"github.com/pavelanni/interviewer/internal/session"
)

// fakeScorer returns scripted results in order; once exhausted it returns fallback.
type fakeScorer struct {
	mu       sync.Mutex
	results  []scoreResult
	fallback float64
	indexes  []int
	clips    []string
	block    chan struct{}
}

type scoreResult struct {
	score float64
	err   error
}

func (f *fakeScorer) Score(ctx context.Context, r io.Reader, filename string, questionIndex int) (float64, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return 0, err
	}
	if f.block != nil {
		select {
		case <-f.block:
		case <-ctx.Done():
			return 0, errors.Join(scoring.ErrUnavailable, ctx.Err())
		}
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.indexes = append(f.indexes, questionIndex)
	f.clips = append(f.clips, string(data))
	if len(f.results) == 0 {
		return f.fallback, nil
	}
	res := f.results[0]
	f.results = f.results[1:]
	return res.score, res.err
}

func (f *fakeScorer) calls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.indexes)
}

type savedScore struct {
	email string
	score float64
}

type fakeRecorder struct {
	mu    sync.Mutex
	fail  error
	saved []savedScore
}

func (f *fakeRecorder) SaveScore(_ context.Context, email string, score float64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.fail != nil {
		return f.fail
	}
	f.saved = append(f.saved, savedScore{email, score})
	return nil
}

// fakeUpload is a recording carried by a submission.
type fakeUpload struct {
	data    string
	missing bool
	opened  bool
}

func (u *fakeUpload) Present() bool { return !u.missing }

func (u *fakeUpload) Open() (io.ReadCloser, string, error) {
	u.opened = true
	if u.missing {
		return nil, "", ErrMissingClip
	}
	return io.NopCloser(bytes.NewBufferString(u.data)), "answer.webm", nil
}

type harness struct {
	ctrl     *Controller
	scorer   *fakeScorer
	recorder *fakeRecorder
	sessions *session.MemoryStore
	clipDir  string
}

func testQuestions(n int) []model.Question {
	qs := make([]model.Question, n)
	for i := range qs {
		qs[i] = model.Question{Text: "question", Keywords: []string{"go"}}
	}
	return qs
}

func newHarness(t *testing.T, scorer *fakeScorer, opts ...Option) *harness {
	t.Helper()
	dir := t.TempDir()
	spool, err := clip.NewDiskSpool(dir, 1<<20)
	if err != nil {
		t.Fatalf("NewDiskSpool: %v", err)
	}
	h := &harness{
		scorer:   scorer,
		recorder: &fakeRecorder{},
		sessions: session.NewMemoryStore(time.Hour),
		clipDir:  dir,
	}
	h.ctrl, err = NewController(h.sessions, scorer, spool, h.recorder, testQuestions(10), opts...)
	if err != nil {
		t.Fatalf("NewController: %v", err)
	}
	return h
}

func (h *harness) assertNoClips(t *testing.T) {
	t.Helper()
	entries, err := os.ReadDir(h.clipDir)
	if err != nil {
		t.Fatalf("read clip dir: %v", err)
	}
	if len(entries) != 0 {
		t.Errorf("expected spool to be empty, found %d files", len(entries))
	}
}

func (h *harness) seed(t *testing.T, token string, st model.InterviewState) {
	t.Helper()
	if cur, _ := h.sessions.Load(context.Background(), token); cur != nil {
		st.Version = cur.Version
	}
	if err := h.sessions.Save(context.Background(), token, st); err != nil {
		t.Fatalf("seed session: %v", err)
	}
}

func (h *harness) state(t *testing.T, token string) model.InterviewState {
	t.Helper()
	st, err := h.ctrl.Current(context.Background(), token)
	if err != nil {
		t.Fatalf("Current: %v", err)
	}
	return st
}

func TestNewControllerRequiresQuestions(t *testing.T) {
	if _, err := NewController(session.NewMemoryStore(0), &fakeScorer{}, nil, nil, nil); err == nil {
		t.Fatal("expected error for empty question bank")
	}
}

func TestFullInterview(t *testing.T) {
	h := newHarness(t, &fakeScorer{fallback: 5})
	ctx := context.Background()

	if _, err := h.ctrl.SignIn(ctx, "tok", "ann@example.com"); err != nil {
		t.Fatalf("SignIn: %v", err)
	}
	var out Outcome
	var err error
	for i := 0; i < 10; i++ {
		out, err = h.ctrl.SubmitAnswer(ctx, "tok", &fakeUpload{data: "clip"})
		if err != nil {
			t.Fatalf("submission %d: %v", i, err)
		}
		if out.Complete != (i == 9) {
			t.Errorf("submission %d: complete = %v", i, out.Complete)
		}
	}
	if out.State.QuestionIndex != 10 || out.State.TotalScore != 50 {
		t.Errorf("final state %+v", out.State)
	}
	if len(h.recorder.saved) != 1 || h.recorder.saved[0] != (savedScore{"ann@example.com", 50}) {
		t.Errorf("recorded scores = %+v", h.recorder.saved)
	}
	for i, idx := range h.scorer.indexes {
		if idx != i {
			t.Errorf("call %d scored question %d", i, idx)
		}
	}
	h.assertNoClips(t)
}

func TestLastAnswerPersistsOnce(t *testing.T) {
	h := newHarness(t, &fakeScorer{fallback: 7})
	ctx := context.Background()
	h.seed(t, "tok", model.InterviewState{Started: true, QuestionIndex: 9, TotalScore: 43, Identity: "bo@example.com"})

	out, err := h.ctrl.SubmitAnswer(ctx, "tok", &fakeUpload{data: "clip"})
	if err != nil {
		t.Fatalf("SubmitAnswer: %v", err)
	}
	if !out.Complete || out.State.TotalScore != 50 || !out.State.ScorePersisted {
		t.Errorf("unexpected outcome %+v", out)
	}

	// Further visits to the result and stray submissions do not write again.
	for i := 0; i < 3; i++ {
		if _, err := h.ctrl.Result(ctx, "tok"); err != nil {
			t.Fatalf("Result: %v", err)
		}
		if _, err := h.ctrl.SubmitAnswer(ctx, "tok", &fakeUpload{data: "clip"}); err != nil {
			t.Fatalf("SubmitAnswer after completion: %v", err)
		}
	}
	if len(h.recorder.saved) != 1 || h.recorder.saved[0] != (savedScore{"bo@example.com", 50}) {
		t.Errorf("recorded scores = %+v", h.recorder.saved)
	}
	if h.scorer.calls() != 1 {
		t.Errorf("scorer called %d times, want 1", h.scorer.calls())
	}
}

func TestMissingClipLeavesStateUnchanged(t *testing.T) {
	for _, index := range []int{0, 4, 9} {
		h := newHarness(t, &fakeScorer{fallback: 5})
		before := model.InterviewState{Started: true, QuestionIndex: index, TotalScore: float64(index)}
		h.seed(t, "tok", before)

		_, err := h.ctrl.SubmitAnswer(context.Background(), "tok", &fakeUpload{missing: true})
		if !errors.Is(err, ErrMissingClip) || !IsValidation(err) {
			t.Fatalf("index %d: err = %v, want ErrMissingClip", index, err)
		}
		after := h.state(t, "tok")
		if after.QuestionIndex != before.QuestionIndex || after.TotalScore != before.TotalScore {
			t.Errorf("index %d: state changed to %+v", index, after)
		}
		if h.scorer.calls() != 0 {
			t.Errorf("index %d: scorer was called", index)
		}
	}

	h := newHarness(t, &fakeScorer{})
	if _, err := h.ctrl.SubmitAnswer(context.Background(), "tok", nil); !errors.Is(err, ErrMissingClip) {
		t.Errorf("nil upload: err = %v", err)
	}

	// An empty file part counts as no recording.
	h.seed(t, "tok", model.InterviewState{Started: true, QuestionIndex: 2})
	if _, err := h.ctrl.SubmitAnswer(context.Background(), "tok", &fakeUpload{data: ""}); !errors.Is(err, ErrMissingClip) {
		t.Errorf("empty upload: err = %v", err)
	}
	if st := h.state(t, "tok"); st.QuestionIndex != 2 {
		t.Errorf("state changed: %+v", st)
	}
	h.assertNoClips(t)
}

func TestScoringFailureAllowsRetry(t *testing.T) {
	tests := []struct {
		name string
		err  error
	}{
		{"unavailable", scoring.ErrUnavailable},
		{"rejected", scoring.ErrRejected},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			scorer := &fakeScorer{results: []scoreResult{{err: tt.err}}, fallback: 4}
			h := newHarness(t, scorer)
			ctx := context.Background()
			h.seed(t, "tok", model.InterviewState{Started: true, QuestionIndex: 3, TotalScore: 12})

			out, err := h.ctrl.SubmitAnswer(ctx, "tok", &fakeUpload{data: "clip"})
			if !errors.Is(err, tt.err) || !IsTransient(err) {
				t.Fatalf("err = %v, want %v", err, tt.err)
			}
			if out.State.QuestionIndex != 3 || out.State.TotalScore != 12 {
				t.Errorf("outcome state changed: %+v", out.State)
			}
			if st := h.state(t, "tok"); st.QuestionIndex != 3 || st.TotalScore != 12 {
				t.Errorf("stored state changed: %+v", st)
			}
			h.assertNoClips(t)

			out, err = h.ctrl.SubmitAnswer(ctx, "tok", &fakeUpload{data: "clip"})
			if err != nil {
				t.Fatalf("retry: %v", err)
			}
			if out.State.QuestionIndex != 4 || out.State.TotalScore != 16 {
				t.Errorf("after retry %+v", out.State)
			}
			h.assertNoClips(t)
		})
	}
}

func TestInvalidSubScoreIsRejected(t *testing.T) {
	h := newHarness(t, &fakeScorer{results: []scoreResult{{score: -2}}})
	h.seed(t, "tok", model.InterviewState{Started: true, QuestionIndex: 1, TotalScore: 1})

	_, err := h.ctrl.SubmitAnswer(context.Background(), "tok", &fakeUpload{data: "clip"})
	if !errors.Is(err, scoring.ErrRejected) || !errors.Is(err, ErrInvalidScore) {
		t.Fatalf("err = %v", err)
	}
	if st := h.state(t, "tok"); st.QuestionIndex != 1 || st.TotalScore != 1 {
		t.Errorf("state changed: %+v", st)
	}
}

func TestScoringTimeout(t *testing.T) {
	scorer := &fakeScorer{block: make(chan struct{})}
	h := newHarness(t, scorer, WithScoringTimeout(20*time.Millisecond))
	h.seed(t, "tok", model.InterviewState{Started: true, QuestionIndex: 2, TotalScore: 2})

	_, err := h.ctrl.SubmitAnswer(context.Background(), "tok", &fakeUpload{data: "clip"})
	if !errors.Is(err, scoring.ErrUnavailable) {
		t.Fatalf("err = %v, want ErrUnavailable", err)
	}
	if st := h.state(t, "tok"); st.QuestionIndex != 2 {
		t.Errorf("state changed: %+v", st)
	}
	h.assertNoClips(t)
}

func TestCompleteSessionSkipsScoring(t *testing.T) {
	h := newHarness(t, &fakeScorer{fallback: 5})
	h.seed(t, "tok", model.InterviewState{Started: true, QuestionIndex: 10, TotalScore: 30})

	up := &fakeUpload{data: "clip"}
	out, err := h.ctrl.SubmitAnswer(context.Background(), "tok", up)
	if err != nil {
		t.Fatalf("SubmitAnswer: %v", err)
	}
	if !out.Complete || out.State.TotalScore != 30 || out.State.QuestionIndex != 10 {
		t.Errorf("unexpected outcome %+v", out)
	}
	if h.scorer.calls() != 0 {
		t.Error("scorer called for a completed interview")
	}
	if up.opened {
		t.Error("upload body read for a completed interview")
	}
}

func TestNotStarted(t *testing.T) {
	h := newHarness(t, &fakeScorer{fallback: 5})
	ctx := context.Background()

	if _, err := h.ctrl.SubmitAnswer(ctx, "fresh", &fakeUpload{data: "clip"}); !errors.Is(err, ErrNotStarted) {
		t.Errorf("SubmitAnswer err = %v, want ErrNotStarted", err)
	}
	if _, err := h.ctrl.Result(ctx, "fresh"); !errors.Is(err, ErrNotStarted) {
		t.Errorf("Result err = %v, want ErrNotStarted", err)
	}
	h.seed(t, "mid", model.InterviewState{Started: true, QuestionIndex: 4})
	if _, err := h.ctrl.Result(ctx, "mid"); !errors.Is(err, ErrNotComplete) {
		t.Errorf("Result err = %v, want ErrNotComplete", err)
	}
}

func TestPersistFailureRetriedOnResult(t *testing.T) {
	h := newHarness(t, &fakeScorer{fallback: 1})
	h.recorder.fail = errors.New("database is down")
	ctx := context.Background()
	h.seed(t, "tok", model.InterviewState{Started: true, QuestionIndex: 9, TotalScore: 9, Identity: "cy@example.com"})

	out, err := h.ctrl.SubmitAnswer(ctx, "tok", &fakeUpload{data: "clip"})
	if err != nil {
		t.Fatalf("SubmitAnswer: %v", err)
	}
	if !out.Complete || out.State.ScorePersisted {
		t.Errorf("unexpected outcome %+v", out)
	}

	h.recorder.fail = nil
	out, err = h.ctrl.Result(ctx, "tok")
	if err != nil {
		t.Fatalf("Result: %v", err)
	}
	if !out.State.ScorePersisted || out.State.TotalScore != 10 {
		t.Errorf("unexpected result %+v", out)
	}
	if _, err := h.ctrl.Result(ctx, "tok"); err != nil {
		t.Fatalf("Result: %v", err)
	}
	if len(h.recorder.saved) != 1 || h.recorder.saved[0] != (savedScore{"cy@example.com", 10}) {
		t.Errorf("recorded scores = %+v", h.recorder.saved)
	}
}

func TestAnonymousCompletionIsNotRecorded(t *testing.T) {
	h := newHarness(t, &fakeScorer{fallback: 2})
	h.seed(t, "tok", model.InterviewState{Started: true, QuestionIndex: 9, TotalScore: 18})

	out, err := h.ctrl.SubmitAnswer(context.Background(), "tok", &fakeUpload{data: "clip"})
	if err != nil {
		t.Fatalf("SubmitAnswer: %v", err)
	}
	if !out.Complete || out.State.TotalScore != 20 {
		t.Errorf("unexpected outcome %+v", out)
	}
	if len(h.recorder.saved) != 0 {
		t.Errorf("anonymous score recorded: %+v", h.recorder.saved)
	}
}

func TestConcurrentSubmissionsAreSerialized(t *testing.T) {
	h := newHarness(t, &fakeScorer{fallback: 3})
	ctx := context.Background()
	if _, err := h.ctrl.Start(ctx, "tok"); err != nil {
		t.Fatalf("Start: %v", err)
	}

	const submissions = 4
	var wg sync.WaitGroup
	wg.Add(submissions)
	for i := 0; i < submissions; i++ {
		go func() {
			defer wg.Done()
			if _, err := h.ctrl.SubmitAnswer(ctx, "tok", &fakeUpload{data: "clip"}); err != nil {
				t.Errorf("SubmitAnswer: %v", err)
			}
		}()
	}
	wg.Wait()

	st := h.state(t, "tok")
	if st.QuestionIndex != submissions || st.TotalScore != 3*submissions {
		t.Errorf("state after concurrent submissions: %+v", st)
	}
	seen := make(map[int]bool)
	for _, idx := range h.scorer.indexes {
		if seen[idx] {
			t.Errorf("question %d scored twice", idx)
		}
		seen[idx] = true
	}
}

func TestRestartKeepsIdentity(t *testing.T) {
	h := newHarness(t, &fakeScorer{})
	ctx := context.Background()
	h.seed(t, "tok", model.InterviewState{
		Started: true, QuestionIndex: 10, TotalScore: 44, Identity: "di@example.com", ScorePersisted: true,
	})

	st, err := h.ctrl.Restart(ctx, "tok")
	if err != nil {
		t.Fatalf("Restart: %v", err)
	}
	want := model.InterviewState{Started: true, Identity: "di@example.com"}
	if st.Started != want.Started || st.QuestionIndex != 0 || st.TotalScore != 0 ||
		st.Identity != want.Identity || st.ScorePersisted {
		t.Errorf("state after restart %+v", st)
	}

	// Starting a fresh token yields the first question.
	fresh, err := h.ctrl.Start(ctx, "other")
	if err != nil {
		t.Fatalf("Start: %v", err)
	}
	if !fresh.Started || fresh.QuestionIndex != 0 || fresh.Identity != "" {
		t.Errorf("fresh state %+v", fresh)
	}
}

func TestLogoutClearsSession(t *testing.T) {
	h := newHarness(t, &fakeScorer{})
	ctx := context.Background()
	if _, err := h.ctrl.SignIn(ctx, "tok", "ed@example.com"); err != nil {
		t.Fatalf("SignIn: %v", err)
	}
	if err := h.ctrl.Logout(ctx, "tok"); err != nil {
		t.Fatalf("Logout: %v", err)
	}
	st := h.state(t, "tok")
	if st.Started || st.Identity != "" {
		t.Errorf("state after logout %+v", st)
	}
}

func TestPendingEmail(t *testing.T) {
	h := newHarness(t, &fakeScorer{})
	ctx := context.Background()
	if err := h.ctrl.SetPendingEmail(ctx, "tok", "fi@example.com"); err != nil {
		t.Fatalf("SetPendingEmail: %v", err)
	}
	if st := h.state(t, "tok"); st.PendingEmail != "fi@example.com" || st.Started {
		t.Errorf("state %+v", st)
	}
	st, err := h.ctrl.SignIn(ctx, "tok", "fi@example.com")
	if err != nil {
		t.Fatalf("SignIn: %v", err)
	}
	if st.PendingEmail != "" {
		t.Errorf("pending email survived sign-in: %+v", st)
	}
}

func TestOversizeClipIsValidationError(t *testing.T) {
	dir := t.TempDir()
	spool, err := clip.NewDiskSpool(dir, 4)
	if err != nil {
		t.Fatalf("NewDiskSpool: %v", err)
	}
	sessions := session.NewMemoryStore(time.Hour)
	scorer := &fakeScorer{fallback: 1}
	ctrl, err := NewController(sessions, scorer, spool, nil, testQuestions(3))
	if err != nil {
		t.Fatalf("NewController: %v", err)
	}
	ctx := context.Background()
	if _, err := ctrl.Start(ctx, "tok"); err != nil {
		t.Fatalf("Start: %v", err)
	}
	_, err = ctrl.SubmitAnswer(ctx, "tok", &fakeUpload{data: "far too long"})
	if !errors.Is(err, clip.ErrTooLarge) || !IsValidation(err) {
		t.Fatalf("err = %v, want ErrTooLarge", err)
	}
	if scorer.calls() != 0 {
		t.Error("scorer called for oversize clip")
	}
}

// stalledUpload blocks on its first read until release is closed.
type stalledUpload struct {
	reading chan struct{}
	release chan struct{}
	once    sync.Once
}

func newStalledUpload() *stalledUpload {
	return &stalledUpload{reading: make(chan struct{}), release: make(chan struct{})}
}

func (u *stalledUpload) Present() bool { return true }

func (u *stalledUpload) Open() (io.ReadCloser, string, error) {
	return io.NopCloser(&stalledReader{u: u, data: strings.NewReader("slow clip")}), "answer.webm", nil
}

type stalledReader struct {
	u    *stalledUpload
	data io.Reader
}

func (r *stalledReader) Read(p []byte) (int, error) {
	r.u.once.Do(func() {
		close(r.u.reading)
		<-r.u.release
	})
	return r.data.Read(p)
}

// failingSaves wraps a store and fails Save while err is set.
type failingSaves struct {
	*session.MemoryStore
	mu  sync.Mutex
	err error
}

func (f *failingSaves) setErr(err error) {
	f.mu.Lock()
	f.err = err
	f.mu.Unlock()
}

func (f *failingSaves) Save(ctx context.Context, token string, st model.InterviewState) error {
	f.mu.Lock()
	err := f.err
	f.mu.Unlock()
	if err != nil {
		return err
	}
	return f.MemoryStore.Save(ctx, token, st)
}

func newControllerOver(t *testing.T, sessions session.Store, scorer *fakeScorer, recorder *fakeRecorder) *Controller {
	t.Helper()
	spool, err := clip.NewDiskSpool(t.TempDir(), 1<<20)
	if err != nil {
		t.Fatalf("NewDiskSpool: %v", err)
	}
	ctrl, err := NewController(sessions, scorer, spool, recorder, testQuestions(10))
	if err != nil {
		t.Fatalf("NewController: %v", err)
	}
	return ctrl
}

func TestExpiredLockCannotOverwriteNewerAnswer(t *testing.T) {
	mr := miniredis.RunT(t)
	sessions := session.NewRedisStore(mr.Addr(), "", time.Hour, 2*time.Second)
	t.Cleanup(func() { sessions.Close() })
	scorer := &fakeScorer{fallback: 5}
	ctrl := newControllerOver(t, sessions, scorer, &fakeRecorder{})
	ctx := context.Background()

	if _, err := ctrl.Start(ctx, "tok"); err != nil {
		t.Fatalf("Start: %v", err)
	}

	slow := newStalledUpload()
	errc := make(chan error, 1)
	go func() {
		_, err := ctrl.SubmitAnswer(ctx, "tok", slow)
		errc <- err
	}()
	<-slow.reading
	// The slow upload outlives its lock and a second request takes over.
	mr.FastForward(3 * time.Second)

	out, err := ctrl.SubmitAnswer(ctx, "tok", &fakeUpload{data: "clip"})
	if err != nil {
		t.Fatalf("second submission: %v", err)
	}
	if out.State.QuestionIndex != 1 || out.State.TotalScore != 5 {
		t.Fatalf("second submission state %+v", out.State)
	}

	close(slow.release)
	if err := <-errc; !errors.Is(err, session.ErrConflict) {
		t.Fatalf("stalled submission: err = %v, want ErrConflict", err)
	}

	st, err := ctrl.Current(ctx, "tok")
	if err != nil {
		t.Fatalf("Current: %v", err)
	}
	if st.QuestionIndex != 1 || st.TotalScore != 5 {
		t.Errorf("final state %+v, want index 1 total 5", st)
	}
}

func TestCompletingSaveFailureWritesNoScore(t *testing.T) {
	sessions := &failingSaves{MemoryStore: session.NewMemoryStore(time.Hour)}
	recorder := &fakeRecorder{}
	scorer := &fakeScorer{results: []scoreResult{{score: 3}, {score: 4}}}
	ctrl := newControllerOver(t, sessions, scorer, recorder)
	ctx := context.Background()

	if err := sessions.Save(ctx, "tok", model.InterviewState{
		Started: true, QuestionIndex: 9, TotalScore: 20, Identity: "ed@example.com",
	}); err != nil {
		t.Fatalf("seed session: %v", err)
	}

	sessions.setErr(errors.New("store down"))
	if _, err := ctrl.SubmitAnswer(ctx, "tok", &fakeUpload{data: "clip"}); err == nil {
		t.Fatal("expected error when the session cannot be saved")
	}
	if len(recorder.saved) != 0 {
		t.Fatalf("score written before the completed state was stored: %+v", recorder.saved)
	}

	sessions.setErr(nil)
	out, err := ctrl.SubmitAnswer(ctx, "tok", &fakeUpload{data: "clip"})
	if err != nil {
		t.Fatalf("resubmission: %v", err)
	}
	if !out.Complete || !out.State.ScorePersisted {
		t.Errorf("outcome %+v", out)
	}
	if len(recorder.saved) != 1 || recorder.saved[0] != (savedScore{"ed@example.com", 24}) {
		t.Errorf("recorded scores = %+v", recorder.saved)
	}
}
