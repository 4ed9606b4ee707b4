package cubeo

import (
	"context"
	"strings"
	"sync"

	"github.com/samber/lo"
	"golang.org/x/sync/singleflight"

	"cubeo/internal/textnorm"
)

// Word categories of a word-by-word breakdown.
const (
	CategoryGeneral   = "general"
	CategoryExtracted = "extracted_from_sentence"
	CategoryUnknown   = "unknown"
)

// Reorderer turns per-word translations into a natural sentence. Pamiwa
// is subject-object-verb while Spanish is subject-verb-object; word-order
// rules plug in here.
type Reorderer interface {
	Reorder(words []WordBreakdown, dir Direction) string
}

// PassthroughReorderer keeps the source word order.
type PassthroughReorderer struct{}

func (PassthroughReorderer) Reorder(words []WordBreakdown, _ Direction) string {
	return joinTranslations(words)
}

func joinTranslations(words []WordBreakdown) string {
	return strings.Join(lo.Map(words, func(w WordBreakdown, _ int) string {
		return w.Translation
	}), " ")
}

// wordByWord translates each token on its own: lexicon first, then
// alignment with corpus sentences, then the token itself.
func (r *Resolver) wordByWord(ctx context.Context, text string, dir Direction, mode Mode) *Translation {
	var words []WordBreakdown
	for _, tok := range strings.Fields(text) {
		clean := textnorm.LettersOnly(tok)
		if clean == "" {
			continue
		}
		words = append(words, r.translateWord(ctx, tok, clean, dir))
	}

	literal := joinTranslations(words)
	t := &Translation{
		Method:     MethodWordByWord,
		Confidence: wordByWordConfidence(words),
		Words:      words,
	}
	switch mode {
	case ModeLiteral:
		t.Text = literal
	case ModeBoth:
		t.Text = r.opts.Reorderer.Reorder(words, dir)
		t.Literal = literal
	default:
		t.Text = r.opts.Reorderer.Reorder(words, dir)
	}
	return t
}

func (r *Resolver) translateWord(ctx context.Context, tok, clean string, dir Direction) WordBreakdown {
	key := textnorm.Normalize(clean)

	e, err := r.corpus.FindLexicon(ctx, key, dir)
	if err != nil {
		r.logger.Warn("lexicon lookup failed", "word", key, "error", err)
	}
	if e != nil {
		_, to := e.Side(dir)
		category := e.Category
		if category == "" {
			category = CategoryGeneral
		}
		return WordBreakdown{
			Original:      clean,
			Translation:   to,
			Confidence:    DictionaryWordConfidence,
			Category:      category,
			FoundInCorpus: true,
		}
	}

	if w, ok := r.extractWord(ctx, key, dir); ok {
		return WordBreakdown{
			Original:    clean,
			Translation: w,
			Confidence:  ExtractedWordConfidence,
			Category:    CategoryExtracted,
		}
	}

	return WordBreakdown{
		Original:    clean,
		Translation: tok,
		Confidence:  UnknownWordConfidence,
		Category:    CategoryUnknown,
	}
}

// extractionCache memoizes aligned translations per (word, direction).
// It is not persisted. Concurrent writers of the same key store the same
// value, so the last write wins.
type extractionCache struct {
	mu    sync.RWMutex
	words map[string]string
	group singleflight.Group
}

func newExtractionCache() *extractionCache {
	return &extractionCache{words: make(map[string]string)}
}

func extractionKey(word string, dir Direction) string {
	return word + "_" + string(dir)
}

func (c *extractionCache) get(key string) (string, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	w, ok := c.words[key]
	return w, ok
}

func (c *extractionCache) put(key, word string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.words[key] = word
}

// ResetExtractionCache drops memoized word alignments, e.g. after a sync.
func (r *Resolver) ResetExtractionCache() {
	r.extracted.mu.Lock()
	defer r.extracted.mu.Unlock()
	r.extracted.words = make(map[string]string)
}

// extractWord finds a translation for word by aligning it with corpus
// sentences. Misses are not memoized.
func (r *Resolver) extractWord(ctx context.Context, word string, dir Direction) (string, bool) {
	key := extractionKey(word, dir)
	if w, ok := r.extracted.get(key); ok {
		return w, true
	}

	v, _, _ := r.extracted.group.Do(key, func() (any, error) {
		w := r.alignWord(ctx, word, dir)
		if w != "" {
			r.extracted.put(key, w)
		}
		return w, nil
	})
	w, _ := v.(string)
	return w, w != ""
}

// alignWord votes over sentences containing word: each contributes the
// target token at the position where word occurs in its source. The most
// frequent candidate wins; ties go to the first seen.
func (r *Resolver) alignWord(ctx context.Context, word string, dir Direction) string {
	sentences, err := r.corpus.SearchSentences(ctx, dir, []string{word}, r.opts.SearchLimit)
	if err != nil {
		r.logger.Warn("sentence search failed", "word", word, "error", err)
		return ""
	}

	votes := make(map[string]int)
	var order []string
	for _, s := range sentences {
		for _, tense := range Tenses {
			from, to := s.Pair(tense, dir)
			if from == "" || to == "" {
				continue
			}
			pos := alignedPosition(textnorm.Tokens(from), word)
			targets := strings.Fields(to)
			if pos < 0 || pos >= len(targets) {
				continue
			}
			candidate := textnorm.LettersOnly(targets[pos])
			if candidate == "" {
				continue
			}
			if votes[candidate] == 0 {
				order = append(order, candidate)
			}
			votes[candidate]++
		}
	}

	best, bestVotes := "", 0
	for _, c := range order {
		if votes[c] > bestVotes {
			best, bestVotes = c, votes[c]
		}
	}
	return best
}

// minContainment is the shortest token length considered for substring
// alignment.
const minContainment = 3

// alignedPosition returns the index of word in tokens, preferring an exact
// token and otherwise the first token that contains or is contained in
// word. It returns -1 when nothing aligns.
func alignedPosition(tokens []string, word string) int {
	for i, t := range tokens {
		if t == word {
			return i
		}
	}
	for i, t := range tokens {
		shorter := min(len([]rune(t)), len([]rune(word)))
		if shorter < minContainment {
			continue
		}
		if strings.Contains(t, word) || strings.Contains(word, t) {
			return i
		}
	}
	return -1
}
