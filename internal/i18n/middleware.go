package i18n

import "net/http"

const langCookie = "lang"

// Middleware negotiates the request language from the lang query parameter,
// the lang cookie and Accept-Language, in that order, falling back to the
// language passed to Init. An explicit ?lang= choice is remembered in a cookie.
func Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var prefs []string
		if q := r.URL.Query().Get("lang"); q != "" {
			prefs = append(prefs, q)
			http.SetCookie(w, &http.Cookie{
				Name:     langCookie,
				Value:    Negotiate(q),
				Path:     "/",
				MaxAge:   365 * 24 * 60 * 60,
				HttpOnly: true,
				SameSite: http.SameSiteLaxMode,
			})
		}
		if c, err := r.Cookie(langCookie); err == nil && c.Value != "" {
			prefs = append(prefs, c.Value)
		}
		if h := r.Header.Get("Accept-Language"); h != "" {
			prefs = append(prefs, h)
		}
		ctx := WithLang(r.Context(), Negotiate(prefs...))
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}
