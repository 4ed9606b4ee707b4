// Package textnorm normalizes Spanish and Pamiwa text for lookup and
// comparison. All functions are pure and safe for concurrent use.
package textnorm

import (
	"strings"
	"unicode"

	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

// StripAccents removes combining marks. Letters without a decomposition,
// such as the Pamiwa ɨ, are kept as-is.
func StripAccents(s string) string {
	// A transform.Chain carries buffers, so it is built per call.
	t := transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)
	result, _, err := transform.String(t, s)
	if err != nil {
		return s
	}
	return result
}

// Normalize lowercases text, strips accents, replaces every non-letter
// with a space and collapses whitespace.
func Normalize(text string) string {
	if text == "" {
		return ""
	}
	s := StripAccents(strings.ToLower(text))
	s = strings.Map(func(r rune) rune {
		if unicode.IsLetter(r) {
			return r
		}
		return ' '
	}, s)
	return strings.Join(strings.Fields(s), " ")
}

// NormalizeForSearch is like Normalize but keeps digits.
func NormalizeForSearch(text string) string {
	s := StripAccents(strings.ToLower(text))
	s = strings.Map(func(r rune) rune {
		if unicode.IsLetter(r) || unicode.IsDigit(r) {
			return r
		}
		return ' '
	}, s)
	return strings.Join(strings.Fields(s), " ")
}

// LettersOnly lowercases a token and drops every rune that is not a
// letter. Accents are kept.
func LettersOnly(token string) string {
	return strings.Map(func(r rune) rune {
		if unicode.IsLetter(r) {
			return r
		}
		return -1
	}, strings.ToLower(token))
}

// Tokens returns the whitespace-separated tokens of the normalized text.
func Tokens(text string) []string {
	return strings.Fields(Normalize(text))
}

// MeaningfulWords returns the normalized tokens of text without the
// function words of its detected language. Spanish tokens shorter than
// two runes are dropped; Pamiwa keeps them, and drops its structural
// particles only from texts longer than three tokens.
func MeaningfulWords(text string) []string {
	words := Tokens(text)
	if len(words) == 0 {
		return nil
	}

	out := make([]string, 0, len(words))
	if DetectLanguage(text) == Spanish {
		for _, w := range words {
			if len([]rune(w)) < 2 || spanishStopWords[w] {
				continue
			}
			out = append(out, w)
		}
		return out
	}

	filterParticles := len(words) > 3
	for _, w := range words {
		if filterParticles && pamiwaParticles[w] {
			continue
		}
		out = append(out, w)
	}
	return out
}

// Words are compared after Normalize, so accented stop words are listed
// without accents.
var spanishStopWords = toSet(
	"el", "la", "de", "que", "y", "a", "en", "un", "es", "se", "no", "te",
	"lo", "le", "da", "su", "por", "son", "con", "para", "al", "del", "los",
	"las", "una", "uno", "este", "esta", "estos", "estas", "ese", "esa",
	"esos", "esas", "aquel", "aquella", "aquellos", "aquellas", "mi", "tu",
	"nuestro", "nuestra", "vuestro", "vuestra", "me", "nos", "os", "les",
	"muy", "mas", "menos", "tanto", "tan", "mucho", "poco", "bastante",
	"demasiado", "si", "pero", "aunque", "porque", "cuando", "donde", "como",
	"quien", "cual", "cuanto",
)

var pamiwaParticles = toSet(
	"wi", "wa", "wɨ", "ka", "ga", "ja", "ra", "ta", "da", "na", "ma", "ba",
	"pa", "sa", "cha", "kha", "tɨ", "dɨ", "rɨ", "sɨ", "kɨ", "pɨ", "mɨ", "bɨ",
	"jɨ", "nɨ", "ko", "go", "jo", "ro", "so", "cho", "kho", "ti", "di",
	"ri", "si", "chi", "khi",
	// nasal vowels reduce to their base vowel after Normalize
	"a", "e", "i", "o", "u", "y",
)

func toSet(words ...string) map[string]bool {
	m := make(map[string]bool, len(words))
	for _, w := range words {
		m[w] = true
	}
	return m
}
