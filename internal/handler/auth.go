package handler

import (
	"crypto/rand"
	"crypto/subtle"
	"encoding/base64"
	"errors"
	"log/slog"
	"net/http"

	"github.com/a-h/templ"
	"github.com/go-chi/chi/v5"

	"github.com/pavelanni/interviewer/internal/auth"
	"github.com/pavelanni/interviewer/internal/handler/views"
	appI18n "github.com/pavelanni/interviewer/internal/i18n"
	"github.com/pavelanni/interviewer/internal/model"
)

const (
	sessionCookieName = "session"
	csrfCookieName    = "csrf_token"
	csrfHeaderName    = "X-CSRF-Token"
	oauthStateCookie  = "oauth_state"
	tokenBytes        = 32
)

func randomToken() (string, error) {
	b := make([]byte, tokenBytes)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return base64.RawURLEncoding.EncodeToString(b), nil
}

func validSessionToken(s string) bool {
	b, err := base64.RawURLEncoding.DecodeString(s)
	return err == nil && len(b) == tokenBytes
}

// tokenTag identifies a session token in logs without revealing it.
func tokenTag(token string) string {
	if len(token) > 8 {
		return token[:8]
	}
	return token
}

func (h *Handler) setCookie(w http.ResponseWriter, name, value string, maxAge int, httpOnly bool) {
	http.SetCookie(w, &http.Cookie{
		Name:     name,
		Value:    value,
		Path:     h.cookiePath(),
		MaxAge:   maxAge,
		HttpOnly: httpOnly,
		Secure:   h.config.SecureCookies,
		SameSite: http.SameSiteLaxMode,
	})
}

func (h *Handler) setSessionCookie(w http.ResponseWriter, token string) {
	h.setCookie(w, sessionCookieName, token, int(h.config.SessionTTL.Seconds()), true)
}

// sessionMiddleware gives every browser an opaque session token, issuing a
// new one when the cookie is missing or malformed.
func (h *Handler) sessionMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var token string
		if c, err := r.Cookie(sessionCookieName); err == nil && validSessionToken(c.Value) {
			token = c.Value
		} else {
			token, err = randomToken()
			if err != nil {
				slog.Error("failed to generate session token", "error", err)
				http.Error(w, "internal error", http.StatusInternalServerError)
				return
			}
			slog.Debug("issued session token", "session", tokenTag(token))
		}
		// Refreshing the cookie slides its expiry along with the stored state.
		h.setSessionCookie(w, token)
		ctx := model.ContextWithSessionToken(r.Context(), token)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func (h *Handler) issueCSRFToken(w http.ResponseWriter, r *http.Request) (*http.Request, bool) {
	token, err := randomToken()
	if err != nil {
		slog.Error("failed to generate CSRF token", "error", err)
		http.Error(w, "internal error", http.StatusInternalServerError)
		return r, false
	}
	h.setCookie(w, csrfCookieName, token, 0, false)
	return r.WithContext(model.ContextWithCSRFToken(r.Context(), token)), true
}

// csrfMiddleware implements double-submit cookies. Unsafe requests must echo
// the cookie in the X-CSRF-Token header or the csrf_token form field. The
// header is checked first so a multipart upload is not parsed before the
// guard passes.
func (h *Handler) csrfMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodGet || r.Method == http.MethodHead {
			r, ok := h.issueCSRFToken(w, r)
			if ok {
				next.ServeHTTP(w, r)
			}
			return
		}

		cookie, err := r.Cookie(csrfCookieName)
		if err != nil || cookie.Value == "" {
			slog.Warn("CSRF cookie missing")
			http.Error(w, "csrf token missing", http.StatusForbidden)
			return
		}

		sent := r.Header.Get(csrfHeaderName)
		if sent == "" {
			sent = r.FormValue("csrf_token")
		}
		if sent == "" {
			slog.Warn("CSRF form token missing")
			http.Error(w, "csrf token missing", http.StatusForbidden)
			return
		}

		if len(sent) != len(cookie.Value) || subtle.ConstantTimeCompare([]byte(sent), []byte(cookie.Value)) != 1 {
			slog.Warn("CSRF token mismatch")
			http.Error(w, "invalid csrf token", http.StatusForbidden)
			return
		}

		r, ok := h.issueCSRFToken(w, r)
		if ok {
			next.ServeHTTP(w, r)
		}
	})
}

// identityMiddleware resolves the session's identity to its account. A lookup
// failure leaves the request anonymous.
func (h *Handler) identityMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token := model.SessionTokenFromContext(r.Context())
		st, err := h.ctrl.Current(r.Context(), token)
		if err != nil {
			slog.Error("failed to load session", "session", tokenTag(token), "error", err)
			next.ServeHTTP(w, r)
			return
		}
		u, err := h.auth.Resolve(r.Context(), st.Identity)
		if err != nil {
			slog.Error("failed to resolve identity", "identity", st.Identity, "error", err)
		}
		if u != nil {
			r = r.WithContext(model.ContextWithUser(r.Context(), u))
		}
		next.ServeHTTP(w, r)
	})
}

// signIn moves the browser to a fresh session token carrying identity and a
// new interview, then forgets the old session.
func (h *Handler) signIn(w http.ResponseWriter, r *http.Request, identity string) error {
	old := model.SessionTokenFromContext(r.Context())
	token, err := randomToken()
	if err != nil {
		return err
	}
	if _, err := h.ctrl.SignIn(r.Context(), token, identity); err != nil {
		return err
	}
	if old != "" {
		if err := h.ctrl.Logout(r.Context(), old); err != nil {
			slog.Warn("failed to clear previous session", "session", tokenTag(old), "error", err)
		}
	}
	h.setSessionCookie(w, token)
	slog.Info("signed in", "identity", identity, "session", tokenTag(token))
	return nil
}

func (h *Handler) handleLoginPage(w http.ResponseWriter, r *http.Request) {
	h.render(w, r, http.StatusOK, views.LoginPage(views.FormData{Chrome: h.chrome(r)}))
}

func (h *Handler) handleLogin(w http.ResponseWriter, r *http.Request) {
	email := r.FormValue("email")
	u, err := h.auth.Login(r.Context(), email, r.FormValue("password"))
	if err != nil {
		h.formError(w, r, views.LoginPage, email, err)
		return
	}
	if err := h.signIn(w, r, u.Email); err != nil {
		h.serverError(w, r, "sign in", err)
		return
	}
	http.Redirect(w, r, h.path("/questions"), http.StatusSeeOther)
}

func (h *Handler) handleRegisterPage(w http.ResponseWriter, r *http.Request) {
	h.render(w, r, http.StatusOK, views.RegisterPage(views.FormData{Chrome: h.chrome(r)}))
}

// handleRegister creates an unverified account. The interview starts right
// away but the score is only kept once the user verifies and logs in.
func (h *Handler) handleRegister(w http.ResponseWriter, r *http.Request) {
	email := r.FormValue("email")
	u, err := h.auth.Register(r.Context(), email, r.FormValue("password"))
	if err != nil {
		h.formError(w, r, views.RegisterPage, email, err)
		return
	}
	if _, err := h.ctrl.Start(r.Context(), model.SessionTokenFromContext(r.Context())); err != nil {
		h.serverError(w, r, "start interview", err)
		return
	}
	h.render(w, r, http.StatusOK, views.RegisterSentPage(h.chrome(r), u.Email))
}

func (h *Handler) formError(w http.ResponseWriter, r *http.Request, page func(views.FormData) templ.Component, email string, err error) {
	msgID, status := classify(err)
	switch {
	case auth.IsValidation(err), auth.IsIdentityError(err):
		slog.Info("identity request refused", "reason", msgID)
	case status == http.StatusInternalServerError:
		slog.Error("identity operation failed", "error", err)
	}
	h.render(w, r, status, page(views.FormData{
		Chrome: h.chrome(r),
		Email:  email,
		Error:  appI18n.T(r.Context(), msgID),
	}))
}

func (h *Handler) handleLogout(w http.ResponseWriter, r *http.Request) {
	token := model.SessionTokenFromContext(r.Context())
	if err := h.ctrl.Logout(r.Context(), token); err != nil {
		slog.Error("failed to clear session", "session", tokenTag(token), "error", err)
	}
	h.setCookie(w, sessionCookieName, "", -1, true)
	http.Redirect(w, r, h.path("/login"), http.StatusSeeOther)
}

func (h *Handler) handleVerify(w http.ResponseWriter, r *http.Request) {
	title := appI18n.T(r.Context(), "AppTitle")
	if _, err := h.auth.Verify(r.Context(), chi.URLParam(r, "token")); err != nil {
		msgID, status := classify(err)
		if status == http.StatusInternalServerError {
			slog.Error("verification failed", "error", err)
		}
		h.renderMessage(w, r, status, title, appI18n.T(r.Context(), msgID), "/register", appI18n.T(r.Context(), "Register"))
		return
	}
	h.renderMessage(w, r, http.StatusOK, title, appI18n.T(r.Context(), "VerifySuccess"), "/login", appI18n.T(r.Context(), "Login"))
}

func (h *Handler) handleOAuthStart(w http.ResponseWriter, r *http.Request) {
	if h.provider == nil {
		http.NotFound(w, r)
		return
	}
	intent, err := auth.ParseIntent(chi.URLParam(r, "intent"))
	if err != nil {
		http.NotFound(w, r)
		return
	}
	state, err := auth.NewState(intent)
	if err != nil {
		h.serverError(w, r, "create oauth state", err)
		return
	}
	h.setCookie(w, oauthStateCookie, state, 600, true)
	http.Redirect(w, r, h.provider.AuthCodeURL(state), http.StatusFound)
}

// handleOAuthCallback serves both login and registration; the intent travels
// in the state value.
func (h *Handler) handleOAuthCallback(w http.ResponseWriter, r *http.Request) {
	if h.provider == nil {
		http.NotFound(w, r)
		return
	}
	h.setCookie(w, oauthStateCookie, "", -1, true)

	intent, email, err := h.oauthEmail(r)
	if err != nil {
		h.oauthError(w, r, intent, err)
		return
	}
	out, err := h.auth.ResolveOAuth(r.Context(), intent, email)
	if err != nil {
		h.oauthError(w, r, intent, err)
		return
	}
	if out.NeedsSetup {
		if err := h.ctrl.SetPendingEmail(r.Context(), model.SessionTokenFromContext(r.Context()), out.Email); err != nil {
			h.serverError(w, r, "stash pending email", err)
			return
		}
		http.Redirect(w, r, h.path("/auth/setup"), http.StatusSeeOther)
		return
	}
	if err := h.signIn(w, r, out.User.Email); err != nil {
		h.serverError(w, r, "sign in", err)
		return
	}
	http.Redirect(w, r, h.path("/questions"), http.StatusSeeOther)
}

func (h *Handler) oauthEmail(r *http.Request) (auth.Intent, string, error) {
	q := r.URL.Query()
	state := q.Get("state")
	cookie, err := r.Cookie(oauthStateCookie)
	if err != nil || state == "" || subtle.ConstantTimeCompare([]byte(state), []byte(cookie.Value)) != 1 {
		return auth.IntentLogin, "", errors.Join(auth.ErrOAuth, errors.New("state mismatch"))
	}
	intent, err := auth.ParseState(state)
	if err != nil {
		return auth.IntentLogin, "", err
	}
	if e := q.Get("error"); e != "" {
		return intent, "", errors.Join(auth.ErrOAuth, errors.New("provider error: "+e))
	}
	email, err := h.provider.Email(r.Context(), q.Get("code"))
	return intent, email, err
}

func (h *Handler) oauthError(w http.ResponseWriter, r *http.Request, intent auth.Intent, err error) {
	slog.Warn("oauth sign-in refused", "intent", intent, "error", err)
	page := views.LoginPage
	if intent == auth.IntentRegister {
		page = views.RegisterPage
	}
	h.formError(w, r, page, "", err)
}

func (h *Handler) handleSetupPage(w http.ResponseWriter, r *http.Request) {
	st, err := h.ctrl.Current(r.Context(), model.SessionTokenFromContext(r.Context()))
	if err != nil {
		h.serverError(w, r, "load session", err)
		return
	}
	if st.PendingEmail == "" {
		http.Redirect(w, r, h.path("/register"), http.StatusSeeOther)
		return
	}
	h.render(w, r, http.StatusOK, views.SetupPage(views.FormData{Chrome: h.chrome(r), Email: st.PendingEmail}))
}

// handleSetup creates a verified account for the provider-confirmed email
// remembered in the session.
func (h *Handler) handleSetup(w http.ResponseWriter, r *http.Request) {
	st, err := h.ctrl.Current(r.Context(), model.SessionTokenFromContext(r.Context()))
	if err != nil {
		h.serverError(w, r, "load session", err)
		return
	}
	if st.PendingEmail == "" {
		http.Redirect(w, r, h.path("/register"), http.StatusSeeOther)
		return
	}
	u, err := h.auth.CreateVerified(r.Context(), st.PendingEmail)
	if err != nil {
		h.formError(w, r, views.SetupPage, st.PendingEmail, err)
		return
	}
	if err := h.signIn(w, r, u.Email); err != nil {
		h.serverError(w, r, "sign in", err)
		return
	}
	http.Redirect(w, r, h.path("/questions"), http.StatusSeeOther)
}
