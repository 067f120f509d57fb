// Package language provides a lexical-indicator language detector for short
// SMS bodies. It is intentionally tiny: a handful of affirmative and greeting
// tokens per language is enough signal to pick a reply language.
package language

import "strings"

const (
	confidenceStrong = 0.9
	confidenceMedium = 0.8
)

var (
	spanishTokens    = map[string]bool{"si": true, "sí": true, "gracias": true, "hola": true}
	portugueseTokens = map[string]bool{"sim": true, "obrigado": true, "obrigada": true, "olá": true, "ola": true}
	englishTokens    = map[string]bool{"yes": true, "hello": true, "thanks": true, "thank": true}
)

// Detect returns (language code, confidence in [0,1]) for a message body.
// Stateless: it looks only at the given text, never at conversation history.
// Token sets are checked in es, pt, en order; no indicator yields unknown/0.
func Detect(text string) (string, float64) {
	if strings.TrimSpace(text) == "" {
		return "unknown", 0.0
	}

	tokens := tokenize(text)

	for _, tok := range tokens {
		if spanishTokens[tok] {
			return "es", confidenceStrong
		}
	}
	for _, tok := range tokens {
		if portugueseTokens[tok] {
			return "pt", confidenceStrong
		}
	}
	for _, tok := range tokens {
		if englishTokens[tok] {
			return "en", confidenceMedium
		}
	}

	return "unknown", 0.0
}

// tokenize lowercases and splits on non-letter boundaries, keeping accented
// letters intact so tokens like "sí" and "olá" survive.
func tokenize(text string) []string {
	lower := strings.ToLower(text)
	return strings.FieldsFunc(lower, func(r rune) bool {
		if r >= 'a' && r <= 'z' {
			return false
		}
		// Latin-1 supplement letters cover the accented vowels we match on.
		if r >= 0x00C0 && r <= 0x00FF {
			return false
		}
		return true
	})
}
