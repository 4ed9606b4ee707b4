// Package similarity scores how alike two short texts are by blending
// edit distance, word overlap, length ratio and structure.
package similarity

import (
	"sort"
	"strings"
	"unicode/utf8"

	"github.com/agnivade/levenshtein"

	"cubeo/internal/textnorm"
)

const (
	editWeight      = 0.40
	overlapWeight   = 0.35
	lengthWeight    = 0.15
	structureWeight = 0.10

	// DefaultLengthGuard is the length difference, as a fraction of the
	// longer string, above which the edit distance is not computed.
	DefaultLengthGuard = 0.5

	// SimilarThreshold is the score above which AreSimilar holds.
	SimilarThreshold = 0.7
)

const punctuation = ".,!?¡¿;:"

// Scorer computes similarity scores. The zero value is not usable; use
// New.
type Scorer struct {
	lengthGuard float64
}

// Option configures a Scorer.
type Option func(*Scorer)

// WithLengthGuard sets the length-difference ratio above which the edit
// distance is assumed maximal. A ratio of 0 or less disables the guard.
func WithLengthGuard(ratio float64) Option {
	return func(s *Scorer) { s.lengthGuard = ratio }
}

// New returns a Scorer with the default length guard.
func New(opts ...Option) *Scorer {
	s := &Scorer{lengthGuard: DefaultLengthGuard}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Score returns a similarity in [0, 1]. It is symmetric, and texts that
// normalize to the same string score 1.
func (s *Scorer) Score(a, b string) float64 {
	na, nb := textnorm.Normalize(a), textnorm.Normalize(b)
	if na == nb {
		return 1
	}
	if na == "" || nb == "" {
		return 0
	}

	la, lb := utf8.RuneCountInString(na), utf8.RuneCountInString(nb)
	maxLen := max(la, lb)

	edit := 1 - float64(s.distance(na, nb, la, lb))/float64(maxLen)
	overlap := wordOverlap(a, b)
	length := 1 - float64(abs(la-lb))/float64(maxLen)
	structure := (closeness(len(strings.Fields(na)), len(strings.Fields(nb))) +
		closeness(countPunctuation(a), countPunctuation(b))) / 2

	score := editWeight*edit + overlapWeight*overlap + lengthWeight*length + structureWeight*structure
	return clamp(score)
}

// AreSimilar reports whether a and b score at least SimilarThreshold.
func (s *Scorer) AreSimilar(a, b string) bool {
	return s.Score(a, b) >= SimilarThreshold
}

func (s *Scorer) distance(a, b string, la, lb int) int {
	maxLen := max(la, lb)
	if s.lengthGuard > 0 && float64(abs(la-lb)) > s.lengthGuard*float64(maxLen) {
		return maxLen
	}
	return levenshtein.ComputeDistance(a, b)
}

// wordOverlap is 2·|A∩B| / |A∪B| over meaningful-word sets. It reaches 2
// for identical non-empty sets; the final score is clamped.
func wordOverlap(a, b string) float64 {
	wa := toSet(textnorm.MeaningfulWords(a))
	wb := toSet(textnorm.MeaningfulWords(b))
	if len(wa) == 0 && len(wb) == 0 {
		return 1
	}
	if len(wa) == 0 || len(wb) == 0 {
		return 0
	}

	inter := 0
	for w := range wa {
		if wb[w] {
			inter++
		}
	}
	union := len(wa) + len(wb) - inter
	return 2 * float64(inter) / float64(union)
}

func closeness(x, y int) float64 {
	m := max(x, y)
	if m == 0 {
		return 1
	}
	return 1 - float64(abs(x-y))/float64(m)
}

func countPunctuation(s string) int {
	n := 0
	for _, r := range s {
		if strings.ContainsRune(punctuation, r) {
			n++
		}
	}
	return n
}

func toSet(words []string) map[string]bool {
	m := make(map[string]bool, len(words))
	for _, w := range words {
		m[w] = true
	}
	return m
}

func abs(x int) int {
	if x < 0 {
		return -x
	}
	return x
}

func clamp(x float64) float64 {
	if x < 0 {
		return 0
	}
	if x > 1 {
		return 1
	}
	return x
}

// Match is a candidate scored against a query.
type Match struct {
	Index int
	Text  string
	Score float64
}

// FindBestMatches scores every candidate against query and returns those
// scoring at least threshold, best first. Equal scores keep input order.
// A limit of 0 or less returns all matches.
func (s *Scorer) FindBestMatches(query string, candidates []string, threshold float64, limit int) []Match {
	matches := make([]Match, 0, len(candidates))
	for i, c := range candidates {
		score := s.Score(query, c)
		if score < threshold {
			continue
		}
		matches = append(matches, Match{Index: i, Text: c, Score: score})
	}

	sort.SliceStable(matches, func(i, j int) bool {
		return matches[i].Score > matches[j].Score
	})

	if limit > 0 && len(matches) > limit {
		matches = matches[:limit]
	}
	return matches
}
