package scoring

import (
	"strings"
	"unicode"
	"unicode/utf8"
)

const maxTranscriptRunes = 10000

// KeywordScore awards one point when the transcript mentions any keyword.
// Keywords may be phrases; they match on whole-word boundaries, case-insensitively.
func KeywordScore(transcript string, keywords []string) float64 {
	words := tokenize(transcript)
	if len(words) == 0 {
		return 0
	}
	for _, kw := range keywords {
		phrase := tokenize(kw)
		if len(phrase) > 0 && containsPhrase(words, phrase) {
			return 1
		}
	}
	return 0
}

func tokenize(s string) []string {
	return strings.FieldsFunc(strings.ToLower(s), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r) && r != '\''
	})
}

func containsPhrase(words, phrase []string) bool {
	for i := 0; i+len(phrase) <= len(words); i++ {
		match := true
		for j, p := range phrase {
			if words[i+j] != p {
				match = false
				break
			}
		}
		if match {
			return true
		}
	}
	return false
}

// sanitizeTranscript trims a transcript and bounds its length.
func sanitizeTranscript(s string) string {
	s = strings.TrimSpace(s)
	if utf8.RuneCountInString(s) > maxTranscriptRunes {
		s = string([]rune(s)[:maxTranscriptRunes])
	}
	return s
}
