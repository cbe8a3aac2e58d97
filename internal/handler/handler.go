package handler

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strings"

	"github.com/a-h/templ"
	"github.com/go-chi/chi/v5"

	"github.com/pavelanni/interviewer/internal/auth"
	"github.com/pavelanni/interviewer/internal/handler/views"
	appI18n "github.com/pavelanni/interviewer/internal/i18n"
	"github.com/pavelanni/interviewer/internal/interview"
	"github.com/pavelanni/interviewer/internal/model"
)

// Handler holds shared dependencies for HTTP handlers.
type Handler struct {
	ctrl     *interview.Controller
	auth     *auth.Service
	provider auth.Provider // nil when OAuth is not configured
	config   model.AppConfig
}

// New creates a new Handler.
func New(ctrl *interview.Controller, authSvc *auth.Service, provider auth.Provider, cfg model.AppConfig) (*Handler, error) {
	if ctrl == nil || authSvc == nil {
		return nil, errors.New("handler: interview controller and auth service are required")
	}
	return &Handler{ctrl: ctrl, auth: authSvc, provider: provider, config: cfg}, nil
}

// Routes registers all HTTP routes.
func (h *Handler) Routes(r chi.Router) {
	r.Handle("/static/*", http.StripPrefix(h.path("/static/"), http.FileServerFS(views.Static())))

	r.Group(func(r chi.Router) {
		r.Use(h.sessionMiddleware, h.csrfMiddleware, h.identityMiddleware)

		r.Get("/", h.handleIndex)
		r.Get("/register", h.handleRegisterPage)
		r.Post("/register", h.handleRegister)
		r.Get("/login", h.handleLoginPage)
		r.Post("/login", h.handleLogin)
		r.Post("/logout", h.handleLogout)
		r.Get("/verify/{token}", h.handleVerify)
		r.Get("/auth/google/callback", h.handleOAuthCallback)
		r.Get("/auth/google/{intent}", h.handleOAuthStart)
		r.Get("/auth/setup", h.handleSetupPage)
		r.Post("/auth/setup", h.handleSetup)

		r.Get("/questions", h.handleQuestions)
		r.Post("/next-question", h.handleNextQuestion)
		r.Get("/result", h.handleResult)
		r.Post("/restart", h.handleRestart)
	})
}

// BasePathMiddleware makes the configured URL prefix available to views.
func (h *Handler) BasePathMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx := model.ContextWithBasePath(r.Context(), h.config.BasePath)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func (h *Handler) path(p string) string {
	return h.config.BasePath + p
}

func (h *Handler) cookiePath() string {
	if h.config.BasePath != "" {
		return h.config.BasePath + "/"
	}
	return "/"
}

func (h *Handler) chrome(r *http.Request) views.Chrome {
	c := views.Chrome{GoogleEnabled: h.provider != nil}
	if u := model.UserFromContext(r.Context()); u != nil {
		c.Identity = u.Email
	}
	return c
}

func (h *Handler) handleIndex(w http.ResponseWriter, r *http.Request) {
	token := model.SessionTokenFromContext(r.Context())
	if _, err := h.ctrl.Start(r.Context(), token); err != nil {
		h.serverError(w, r, "start interview", err)
		return
	}
	h.render(w, r, http.StatusOK, views.IndexPage(views.IndexData{
		Chrome:         h.chrome(r),
		TotalQuestions: h.ctrl.Total(),
	}))
}

func (h *Handler) handleQuestions(w http.ResponseWriter, r *http.Request) {
	st, err := h.ctrl.Current(r.Context(), model.SessionTokenFromContext(r.Context()))
	if err != nil {
		h.serverError(w, r, "load session", err)
		return
	}
	switch st.Phase(h.ctrl.Total()) {
	case model.PhaseNotStarted:
		http.Redirect(w, r, h.path("/"), http.StatusSeeOther)
	case model.PhaseComplete:
		http.Redirect(w, r, h.path("/result"), http.StatusSeeOther)
	default:
		h.renderQuestion(w, r, http.StatusOK, st, "")
	}
}

func (h *Handler) renderQuestion(w http.ResponseWriter, r *http.Request, status int, st model.InterviewState, errMsg string) {
	q, ok := h.ctrl.Question(st.QuestionIndex)
	if !ok {
		http.Redirect(w, r, h.path("/result"), http.StatusSeeOther)
		return
	}
	h.render(w, r, status, views.QuestionPage(views.QuestionData{
		Chrome:         h.chrome(r),
		Number:         st.QuestionIndex + 1,
		TotalQuestions: h.ctrl.Total(),
		Text:           q.Text,
		Error:          errMsg,
		MaxClipBytes:   h.config.MaxClipBytes,
	}))
}

// answerReply is the JSON reply to an answer submission or result request.
type answerReply struct {
	Next           string  `json:"next,omitempty"`
	QuestionIndex  int     `json:"questionIndex"`
	TotalQuestions int     `json:"totalQuestions"`
	Score          float64 `json:"score"`
	Error          string  `json:"error,omitempty"`
	CSRFToken      string  `json:"csrfToken,omitempty"`
}

func (h *Handler) reply(r *http.Request, st model.InterviewState, next string) answerReply {
	rep := answerReply{
		QuestionIndex:  st.QuestionIndex,
		TotalQuestions: h.ctrl.Total(),
		Score:          st.TotalScore,
		CSRFToken:      model.CSRFTokenFromContext(r.Context()),
	}
	if next != "" {
		rep.Next = h.path(next)
	}
	return rep
}

func (h *Handler) handleNextQuestion(w http.ResponseWriter, r *http.Request) {
	token := model.SessionTokenFromContext(r.Context())
	out, err := h.ctrl.SubmitAnswer(r.Context(), token, newMultipartUpload(r))
	if err != nil {
		h.answerError(w, r, out, err)
		return
	}

	next := "/questions"
	if out.Complete {
		next = "/result"
	}
	if wantsJSON(r) {
		writeJSON(w, http.StatusOK, h.reply(r, out.State, next))
		return
	}
	http.Redirect(w, r, h.path(next), http.StatusSeeOther)
}

// answerError reports a failed submission. The session is unchanged, so the
// same question is shown again.
func (h *Handler) answerError(w http.ResponseWriter, r *http.Request, out interview.Outcome, err error) {
	msgID, status := classify(err)
	switch {
	case interview.IsValidation(err):
		slog.Info("answer submission rejected", "reason", msgID)
	case interview.IsTransient(err):
		slog.Warn("answer scoring failed", "reason", msgID, "error", err)
	case status == http.StatusInternalServerError:
		slog.Error("answer submission failed", "error", err)
	default:
		slog.Warn("answer submission refused", "reason", msgID, "error", err)
	}

	// Validation failures return before the session is read.
	st := out.State
	if !st.Started {
		if cur, err := h.ctrl.Current(r.Context(), model.SessionTokenFromContext(r.Context())); err == nil {
			st = cur
		}
	}
	next := "/questions"
	switch st.Phase(h.ctrl.Total()) {
	case model.PhaseNotStarted:
		next = "/"
	case model.PhaseComplete:
		next = "/result"
	}
	if wantsJSON(r) {
		rep := h.reply(r, st, next)
		rep.Error = appI18n.T(r.Context(), msgID)
		writeJSON(w, status, rep)
		return
	}
	if next != "/questions" {
		http.Redirect(w, r, h.path(next), http.StatusSeeOther)
		return
	}
	h.renderQuestion(w, r, status, st, appI18n.T(r.Context(), msgID))
}

func (h *Handler) handleResult(w http.ResponseWriter, r *http.Request) {
	out, err := h.ctrl.Result(r.Context(), model.SessionTokenFromContext(r.Context()))
	if err != nil {
		next := ""
		switch {
		case errors.Is(err, interview.ErrNotStarted):
			next = "/"
		case errors.Is(err, interview.ErrNotComplete):
			next = "/questions"
		default:
			h.serverError(w, r, "load result", err)
			return
		}
		if wantsJSON(r) {
			msgID, status := classify(err)
			rep := h.reply(r, out.State, next)
			rep.Error = appI18n.T(r.Context(), msgID)
			writeJSON(w, status, rep)
			return
		}
		http.Redirect(w, r, h.path(next), http.StatusSeeOther)
		return
	}

	if wantsJSON(r) {
		writeJSON(w, http.StatusOK, h.reply(r, out.State, ""))
		return
	}
	h.render(w, r, http.StatusOK, views.ResultPage(views.ResultData{
		Chrome:         h.chrome(r),
		Score:          out.State.TotalScore,
		TotalQuestions: h.ctrl.Total(),
		Pending:        out.State.Identity != "" && !out.State.ScorePersisted,
	}))
}

func (h *Handler) handleRestart(w http.ResponseWriter, r *http.Request) {
	if _, err := h.ctrl.Restart(r.Context(), model.SessionTokenFromContext(r.Context())); err != nil {
		h.serverError(w, r, "restart interview", err)
		return
	}
	http.Redirect(w, r, h.path("/questions"), http.StatusSeeOther)
}

func (h *Handler) render(w http.ResponseWriter, r *http.Request, status int, c templ.Component) {
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.WriteHeader(status)
	if err := c.Render(r.Context(), w); err != nil {
		slog.Error("render error", "error", err)
	}
}

func (h *Handler) renderMessage(w http.ResponseWriter, r *http.Request, status int, title, msg, linkPath, linkText string) {
	h.render(w, r, status, views.MessagePage(views.MessageData{
		Chrome:   h.chrome(r),
		Title:    title,
		Message:  msg,
		LinkPath: linkPath,
		LinkText: linkText,
	}))
}

func (h *Handler) serverError(w http.ResponseWriter, r *http.Request, op string, err error) {
	slog.Error(op+" failed", "error", err)
	if wantsJSON(r) {
		writeJSON(w, http.StatusInternalServerError, answerReply{Error: appI18n.T(r.Context(), "ErrInternal")})
		return
	}
	h.renderMessage(w, r, http.StatusInternalServerError,
		appI18n.T(r.Context(), "AppTitle"), appI18n.T(r.Context(), "ErrInternal"), "/", appI18n.T(r.Context(), "Restart"))
}

func wantsJSON(r *http.Request) bool {
	return strings.Contains(r.Header.Get("Accept"), "application/json")
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Error("write json reply", "error", err)
	}
}
