package textnorm

import (
	"regexp"
	"sort"
	"strings"
)

// Language is the detected language of a text.
type Language int

const (
	Unknown Language = iota
	Spanish
	Pamiwa
)

func (l Language) String() string {
	switch l {
	case Spanish:
		return "spanish"
	case Pamiwa:
		return "pamiwa"
	default:
		return "unknown"
	}
}

var spanishIndicators = []string{
	"el ", "la ", "los ", "las ", "un ", "una ", "de ", "del ", "al ",
	"que ", "con ", "para ", "por ", "como ", "donde ", "cuando ",
	"ción", "dad", "mente", "ando", "iendo",
}

var pamiwaIndicators = []string{
	"kɨ", "tɨ", "dɨ", "rɨ", "sɨ", "pɨ", "mɨ", "bɨ", "jɨ", "nɨ",
	"ɨa", "ɨe", "ɨi", "ɨo", "ɨu",
	"kh", "th", "ph", "ch",
	"wa", "wi", "we", "wo", "wu",
}

var pamiwaFeatures = []string{
	"ɨ", "kh", "th", "ph",
	"wa", "wi", "we", "wo", "wu",
	"ya", "ye", "yi", "yo", "yu",
	"ã", "ẽ", "ĩ", "õ", "ũ",
}

// DetectLanguage guesses the language of text by counting indicator
// substrings. Spanish wins only when it has strictly more indicators
// than Pamiwa.
func DetectLanguage(text string) Language {
	lower := strings.ToLower(strings.TrimSpace(text))
	if lower == "" {
		return Unknown
	}
	// Pad so word-final articles ("hola", "de la") still count.
	padded := lower + " "

	es := countPresent(padded, spanishIndicators)
	pam := countPresent(padded, pamiwaIndicators)
	if es > pam {
		return Spanish
	}
	if IsProbablyPamiwa(lower) {
		return Pamiwa
	}
	return Unknown
}

// IsProbablyPamiwa reports whether text has any Pamiwa-specific feature.
func IsProbablyPamiwa(text string) bool {
	return countPresent(strings.ToLower(text), pamiwaFeatures) > 0
}

func countPresent(s string, indicators []string) int {
	n := 0
	for _, ind := range indicators {
		if strings.Contains(s, ind) {
			n++
		}
	}
	return n
}

var aspirated = regexp.MustCompile(`[ktp]h`)

// Keywords returns up to max distinct normalized words that best
// identify text. Spanish prefers longer words; Pamiwa also rewards ɨ and
// aspirated consonants.
func Keywords(text string, max int) []string {
	words := unique(MeaningfulWords(text))
	if len(words) == 0 || max <= 0 {
		return nil
	}

	if DetectLanguage(text) == Spanish {
		sort.SliceStable(words, func(i, j int) bool {
			return len([]rune(words[i])) > len([]rune(words[j]))
		})
	} else {
		sort.SliceStable(words, func(i, j int) bool {
			return pamiwaWeight(words[i]) > pamiwaWeight(words[j])
		})
	}

	if len(words) > max {
		words = words[:max]
	}
	return words
}

func pamiwaWeight(w string) float64 {
	n := len([]rune(w))
	score := float64(n)
	if strings.ContainsRune(w, 'ɨ') {
		score += 2
	}
	if aspirated.MatchString(w) {
		score += 1.5
	}
	if n >= 4 {
		score++
	}
	return score
}

func unique(words []string) []string {
	seen := make(map[string]bool, len(words))
	out := make([]string, 0, len(words))
	for _, w := range words {
		if seen[w] {
			continue
		}
		seen[w] = true
		out = append(out, w)
	}
	return out
}
