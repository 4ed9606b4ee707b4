package textnorm

import (
	"regexp"
	"strings"
)

// TextType classifies the shape of an input.
type TextType string

const (
	SingleWord        TextType = "single_word"
	ShortPhrase       TextType = "short_phrase"
	SingleSentence    TextType = "single_sentence"
	MultipleSentences TextType = "multiple_sentences"
)

var sentenceBreak = regexp.MustCompile(`[.!?]+`)

// Classify returns the TextType of text.
func Classify(text string) TextType {
	var sentences int
	for _, part := range sentenceBreak.Split(text, -1) {
		if strings.TrimSpace(part) != "" {
			sentences++
		}
	}
	if sentences > 1 {
		return MultipleSentences
	}

	switch words := len(strings.Fields(text)); {
	case words <= 1:
		return SingleWord
	case words <= 3:
		return ShortPhrase
	default:
		return SingleSentence
	}
}

var questionWords = toSet(
	"que", "como", "donde", "cuando", "quien", "cual", "cuanto", "cuantos",
	"por", "jawe", "waga", "kari",
)

// IsQuestion reports whether text is phrased as a question.
func IsQuestion(text string) bool {
	if strings.ContainsAny(text, "?¿") {
		return true
	}
	tokens := Tokens(text)
	return len(tokens) > 0 && questionWords[tokens[0]]
}

var greetings = []string{
	"hola", "buenos dias", "buenas tardes", "buenas noches", "adios",
	"tachi", "koba",
}

// IsGreeting reports whether text opens with a known greeting.
func IsGreeting(text string) bool {
	n := Normalize(text)
	for _, g := range greetings {
		if n == g || strings.HasPrefix(n, g+" ") {
			return true
		}
	}
	return false
}

// TruncateWords shortens text to at most n words, marking the cut with
// an ellipsis.
func TruncateWords(text string, n int) string {
	words := strings.Fields(text)
	if n <= 0 || len(words) <= n {
		return strings.Join(words, " ")
	}
	return strings.Join(words[:n], " ") + "..."
}
