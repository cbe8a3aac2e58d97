package i18n

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
)

func initLang(t *testing.T, lang string) context.Context {
	t.Helper()
	if err := Init(lang); err != nil {
		t.Fatalf("Init(%q): %v", lang, err)
	}
	return WithLang(context.Background(), lang)
}

func TestTranslateEnglish(t *testing.T) {
	ctx := initLang(t, "en")

	if got := T(ctx, "AppTitle"); got != "Mock Interview" {
		t.Errorf("T(AppTitle) = %q, want 'Mock Interview'", got)
	}
	if got := T(ctx, "StartInterview"); got != "Start interview" {
		t.Errorf("T(StartInterview) = %q, want 'Start interview'", got)
	}
}

func TestTranslateRussian(t *testing.T) {
	ctx := initLang(t, "ru")

	if got := T(ctx, "AppTitle"); got != "Пробное собеседование" {
		t.Errorf("T(AppTitle) = %q, want 'Пробное собеседование'", got)
	}
	if got := T(ctx, "Restart"); got != "Начать заново" {
		t.Errorf("T(Restart) = %q, want 'Начать заново'", got)
	}
}

func TestPluralTranslation(t *testing.T) {
	ctx := initLang(t, "en")

	if got := Tp(ctx, "QuestionsAnswered", 1); got != "1 question answered." {
		t.Errorf("Tp(QuestionsAnswered, 1) = %q", got)
	}
	if got := Tp(ctx, "QuestionsAnswered", 10); got != "10 questions answered." {
		t.Errorf("Tp(QuestionsAnswered, 10) = %q", got)
	}

	ru := WithLang(context.Background(), "ru")
	if got := Tp(ru, "QuestionsAnswered", 5); got != "Отвечено 5 вопросов." {
		t.Errorf("Tp(ru, QuestionsAnswered, 5) = %q", got)
	}
}

func TestTemplateDataTranslation(t *testing.T) {
	ctx := initLang(t, "en")

	got := Td(ctx, "QuestionNofM", map[string]any{"Index": 3, "Total": 10})
	if got != "Question 3 of 10" {
		t.Errorf("Td(QuestionNofM) = %q, want 'Question 3 of 10'", got)
	}
}

func TestMissingKey(t *testing.T) {
	ctx := initLang(t, "en")

	if got := T(ctx, "NonExistentKey"); got != "NonExistentKey" {
		t.Errorf("T(NonExistentKey) = %q, want 'NonExistentKey'", got)
	}
}

func TestNegotiate(t *testing.T) {
	initLang(t, "en")

	tests := []struct {
		prefs []string
		want  string
	}{
		{nil, "en"},
		{[]string{"ru-RU,ru;q=0.9,en;q=0.8"}, "ru"},
		{[]string{"de-DE,de;q=0.9"}, "en"},
		{[]string{"ru", "en-US"}, "ru"},
		{[]string{"fr", "ru"}, "ru"},
	}
	for _, tt := range tests {
		if got := Negotiate(tt.prefs...); got != tt.want {
			t.Errorf("Negotiate(%q) = %q, want %q", tt.prefs, got, tt.want)
		}
	}
}

func TestMiddleware(t *testing.T) {
	initLang(t, "en")

	var gotLang, gotTitle string
	h := Middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotLang = Lang(r.Context())
		gotTitle = T(r.Context(), "AppTitle")
	}))

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("Accept-Language", "ru")
	h.ServeHTTP(httptest.NewRecorder(), req)
	if gotLang != "ru" || gotTitle != "Пробное собеседование" {
		t.Errorf("Accept-Language ru: lang=%q title=%q", gotLang, gotTitle)
	}

	req = httptest.NewRequest(http.MethodGet, "/?lang=en", nil)
	req.Header.Set("Accept-Language", "ru")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	if gotLang != "en" {
		t.Errorf("query override: lang=%q", gotLang)
	}
	cookies := rec.Result().Cookies()
	if len(cookies) != 1 || cookies[0].Name != "lang" || cookies[0].Value != "en" {
		t.Errorf("expected lang cookie, got %v", cookies)
	}
}
