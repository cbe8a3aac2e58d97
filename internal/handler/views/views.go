// Package views renders the interview pages as templ components.
package views

import (
	"context"
	"embed"
	"fmt"
	"html/template"
	"io"
	"io/fs"
	"strconv"

	"github.com/a-h/templ"

	appI18n "github.com/pavelanni/interviewer/internal/i18n"
	"github.com/pavelanni/interviewer/internal/model"
)

//go:embed templates/*.html
var templateFS embed.FS

//go:embed static
var staticFS embed.FS

// Static returns the embedded static assets (recorder script, stylesheet).
func Static() fs.FS {
	sub, err := fs.Sub(staticFS, "static")
	if err != nil {
		panic(err)
	}
	return sub
}

// Request-scoped functions are rebound on a clone at render time.
var placeholderFuncs = template.FuncMap{
	"t":    func(string) string { return "" },
	"td":   func(string, ...any) string { return "" },
	"tp":   func(string, int) string { return "" },
	"path": func(string) string { return "" },
	"csrf": func() string { return "" },
	"lang": func() string { return "" },
	"score": func(v float64) string {
		return strconv.FormatFloat(v, 'f', -1, 64)
	},
}

var pages = parsePages(
	"index", "login", "register", "register_sent", "setup", "question", "result", "message",
)

func parsePages(names ...string) map[string]*template.Template {
	m := make(map[string]*template.Template, len(names))
	for _, name := range names {
		m[name] = template.Must(template.New(name).Funcs(placeholderFuncs).
			ParseFS(templateFS, "templates/layout.html", "templates/"+name+".html"))
	}
	return m
}

func render(name string, data any) templ.Component {
	return templ.ComponentFunc(func(ctx context.Context, w io.Writer) error {
		base, ok := pages[name]
		if !ok {
			return fmt.Errorf("unknown page %q", name)
		}
		t, err := base.Clone()
		if err != nil {
			return err
		}
		t.Funcs(template.FuncMap{
			"t": func(id string) string { return appI18n.T(ctx, id) },
			"td": func(id string, kv ...any) string {
				data := make(map[string]any, len(kv)/2)
				for i := 0; i+1 < len(kv); i += 2 {
					data[fmt.Sprint(kv[i])] = kv[i+1]
				}
				return appI18n.Td(ctx, id, data)
			},
			"tp":   func(id string, n int) string { return appI18n.Tp(ctx, id, n) },
			"path": func(p string) string { return model.BasePathFromContext(ctx) + p },
			"csrf": func() string { return model.CSRFTokenFromContext(ctx) },
			"lang": func() string { return appI18n.Lang(ctx) },
		})
		return t.ExecuteTemplate(w, "layout", data)
	})
}

// Chrome is the page header state shared by every view.
type Chrome struct {
	Identity      string // signed-in email, empty when anonymous
	GoogleEnabled bool
}

// IndexData is the start page.
type IndexData struct {
	Chrome
	TotalQuestions int
}

// IndexPage renders the start page.
func IndexPage(d IndexData) templ.Component { return render("index", d) }

// FormData backs the login and registration forms.
type FormData struct {
	Chrome
	Email string
	Error string
}

// LoginPage renders the login form.
func LoginPage(d FormData) templ.Component { return render("login", d) }

// RegisterPage renders the registration form.
func RegisterPage(d FormData) templ.Component { return render("register", d) }

// RegisterSentPage tells the user to check their inbox.
func RegisterSentPage(c Chrome, email string) templ.Component {
	return render("register_sent", struct {
		Chrome
		Email string
	}{c, email})
}

// SetupPage asks the user to confirm creating an account for an OAuth email.
func SetupPage(d FormData) templ.Component { return render("setup", d) }

// QuestionData is the current question with its recorder.
type QuestionData struct {
	Chrome
	Number         int // 1-based
	TotalQuestions int
	Text           string
	Error          string
	MaxClipBytes   int64
}

// QuestionPage renders the current question.
func QuestionPage(d QuestionData) templ.Component { return render("question", d) }

// ResultData is the final score view.
type ResultData struct {
	Chrome
	Score          float64
	TotalQuestions int
	Pending        bool // final score not yet persisted
}

// ResultPage renders the final score.
func ResultPage(d ResultData) templ.Component { return render("result", d) }

// MessageData is a titled one-paragraph notice with an optional link.
type MessageData struct {
	Chrome
	Title    string
	Message  string
	LinkPath string
	LinkText string
}

// MessagePage renders a notice such as a verification result or an error.
func MessagePage(d MessageData) templ.Component { return render("message", d) }
