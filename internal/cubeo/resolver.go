package cubeo

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"cubeo/internal/similarity"
	"cubeo/internal/textnorm"
)

// Resolver defaults.
const (
	DefaultSimilarityThreshold = 0.3
	DefaultHybridThreshold     = 0.95
	DefaultMaxSimilar          = 3
	DefaultMaxKeywords         = 3
	DefaultSearchLimit         = 60
	DefaultRemoteTimeout       = 60 * time.Second
	DefaultCacheTTL            = 30 * 24 * time.Hour
)

// ResolverOptions tunes the resolver. Zero values select the defaults.
type ResolverOptions struct {
	SimilarityThreshold float64
	HybridThreshold     float64
	MaxSimilar          int
	MaxKeywords         int
	SearchLimit         int
	RemoteTimeout       time.Duration
	CacheTTL            time.Duration
	Reorderer           Reorderer
}

func (o ResolverOptions) withDefaults() ResolverOptions {
	if o.SimilarityThreshold <= 0 {
		o.SimilarityThreshold = DefaultSimilarityThreshold
	}
	if o.HybridThreshold <= 0 {
		o.HybridThreshold = DefaultHybridThreshold
	}
	if o.MaxSimilar <= 0 {
		o.MaxSimilar = DefaultMaxSimilar
	}
	if o.MaxKeywords <= 0 {
		o.MaxKeywords = DefaultMaxKeywords
	}
	if o.SearchLimit <= 0 {
		o.SearchLimit = DefaultSearchLimit
	}
	if o.RemoteTimeout <= 0 {
		o.RemoteTimeout = DefaultRemoteTimeout
	}
	if o.CacheTTL <= 0 {
		o.CacheTTL = DefaultCacheTTL
	}
	if o.Reorderer == nil {
		o.Reorderer = PassthroughReorderer{}
	}
	return o
}

// Resolver translates text by trying, in order: user corrections, exact
// corpus matches, cached remote results, similar sentences with hybrid
// reconstruction, the remote model, and word-by-word decomposition.
//
// A Resolver is safe for concurrent use. Interactive callers are expected
// to debounce input (about 500ms) and cancel the context of superseded
// requests; cancellation aborts the in-flight remote call.
type Resolver struct {
	corpus      CorpusStore
	corrections CorrectionStore
	client      TranslationClient
	scorer      *similarity.Scorer
	logger      Logger
	clock       Clock
	opts        ResolverOptions
	extracted   *extractionCache
}

// NewResolver creates a Resolver. client may be nil, in which case every
// remote call fails as unavailable. A nil scorer selects similarity.New().
func NewResolver(corpus CorpusStore, corrections CorrectionStore, client TranslationClient, scorer *similarity.Scorer, logger Logger, clock Clock, opts ResolverOptions) *Resolver {
	if scorer == nil {
		scorer = similarity.New()
	}
	return &Resolver{
		corpus:      corpus,
		corrections: corrections,
		client:      client,
		scorer:      scorer,
		logger:      logger,
		clock:       clock,
		opts:        opts.withDefaults(),
		extracted:   newExtractionCache(),
	}
}

func validateRequest(req Request) (Request, error) {
	req.Text = strings.TrimSpace(req.Text)
	if req.Text == "" {
		return req, ErrEmptyInput
	}
	switch req.Direction {
	case SpanishToPamiwa, PamiwaToSpanish:
	case "":
		req.Direction = SpanishToPamiwa
	default:
		return req, fmt.Errorf("%w: unknown direction %q", ErrValidation, req.Direction)
	}
	if req.Mode == "" {
		req.Mode = ModeNatural
	}
	return req, nil
}

// Translate resolves req. Empty text fails with ErrEmptyInput before any
// store or network access. When a remote result cannot be cached, the
// translation is returned together with an error wrapping ErrStore.
func (r *Resolver) Translate(ctx context.Context, req Request) (t *Translation, err error) {
	req, err = validateRequest(req)
	if err != nil {
		return nil, err
	}

	start := r.clock.Now()
	defer func() {
		if p := recover(); p != nil {
			r.logger.Error("translation failed unexpectedly", "text", req.Text, "panic", p)
			t, err = nil, fmt.Errorf("translating %q: unexpected failure: %v", req.Text, p)
			return
		}
		if t != nil {
			r.finish(t, req, start)
		}
	}()

	return r.resolve(ctx, req)
}

func (r *Resolver) finish(t *Translation, req Request, start time.Time) {
	t.Original = req.Text
	t.Direction = req.Direction
	if req.Mode == ModeBoth && t.Literal == "" {
		t.Literal = t.Text
	}
	t.NeedsExpertValidation = needsExpertValidation(t)
	t.Suggestions = suggestions(t)
	t.Elapsed = r.clock.Now().Sub(start)
	r.logger.Debug("translated", "method", t.Method, "confidence", t.Confidence, "elapsed", t.Elapsed)
}

func (r *Resolver) resolve(ctx context.Context, req Request) (*Translation, error) {
	key := textnorm.Normalize(req.Text)
	single := len(strings.Fields(req.Text)) == 1

	if key != "" {
		if t := r.fromCorrection(ctx, key, req.Direction); t != nil {
			return t, nil
		}
		if t := r.fromExactMatch(ctx, key, single, req.Direction); t != nil {
			return t, nil
		}
		if t := r.fromCache(ctx, key, req.Direction); t != nil {
			return t, nil
		}
	}

	// Single words were already looked up in the lexicon as exact matches;
	// what remains is the remote model, without further fallback.
	if single {
		return r.fromRemote(ctx, req.Text, key, true, req.Direction)
	}

	similar := r.findSimilar(ctx, req.Text, req.Direction)
	if len(similar) > 0 && similar[0].Score >= r.opts.HybridThreshold {
		if t := r.hybrid(ctx, req.Text, similar[0], req.Direction); t != nil {
			t.Similar = similar
			return t, nil
		}
	}

	t, err := r.fromRemote(ctx, req.Text, key, false, req.Direction)
	if t != nil {
		t.Similar = similar
		return t, err
	}
	if !errors.Is(err, ErrRemoteUnavailable) {
		return nil, err
	}
	if ctx.Err() != nil {
		return nil, fmt.Errorf("translating %q: %w", req.Text, ctx.Err())
	}

	r.logger.Warn("remote translation failed, decomposing word by word", "error", err)
	t = r.wordByWord(ctx, req.Text, req.Direction, req.Mode)
	t.Similar = similar
	return t, nil
}

func (r *Resolver) fromCorrection(ctx context.Context, key string, dir Direction) *Translation {
	c, err := r.corrections.LatestAppliedCorrection(ctx, key, dir)
	if err != nil {
		r.logger.Warn("correction lookup failed", "error", err)
		return nil
	}
	if c == nil {
		return nil
	}
	return &Translation{
		Text:                  c.EffectiveText(),
		Method:                MethodUserCorrection,
		Confidence:            correctionConfidence(c),
		CorrectionID:          c.ID,
		NeedsExpertValidation: c.Status == StatusPending,
	}
}

func (r *Resolver) fromExactMatch(ctx context.Context, key string, single bool, dir Direction) *Translation {
	if single {
		e, err := r.corpus.FindLexicon(ctx, key, dir)
		if err != nil {
			r.logger.Warn("lexicon lookup failed", "error", err)
			return nil
		}
		if e == nil {
			return nil
		}
		from, to := e.Side(dir)
		return &Translation{
			Text:       to,
			Method:     MethodExactMatch,
			Confidence: e.Confidence,
			Words: []WordBreakdown{{
				Original:      from,
				Translation:   to,
				Confidence:    e.Confidence,
				Category:      e.Category,
				FoundInCorpus: true,
			}},
		}
	}

	s, tense, err := r.corpus.FindSentence(ctx, key, dir)
	if err != nil {
		r.logger.Warn("sentence lookup failed", "error", err)
		return nil
	}
	if s == nil {
		return nil
	}
	_, to := s.Pair(tense, dir)
	return &Translation{
		Text:       to,
		Method:     MethodExactMatch,
		Confidence: s.Confidence,
	}
}

func (r *Resolver) fromCache(ctx context.Context, key string, dir Direction) *Translation {
	e, err := r.corpus.GetCachedTranslation(ctx, key, dir, r.clock.Now())
	if err != nil {
		r.logger.Warn("cache lookup failed", "error", err)
		return nil
	}
	if e == nil {
		return nil
	}
	method := e.Method
	if method == "" {
		method = MethodHybridAI
	}
	return &Translation{
		Text:       e.TranslatedText,
		Method:     method,
		Confidence: e.Confidence,
		FromCache:  true,
	}
}

// fromRemote calls the remote model once under RemoteTimeout and caches
// a successful result.
func (r *Resolver) fromRemote(ctx context.Context, text, key string, single bool, dir Direction) (*Translation, error) {
	if r.client == nil {
		return nil, remoteError(errors.New("no translation client configured"))
	}

	callCtx, cancel := context.WithTimeout(ctx, r.opts.RemoteTimeout)
	defer cancel()

	res, err := r.client.Translate(callCtx, text)
	if err != nil {
		return nil, remoteError(err)
	}
	if !res.Success || strings.TrimSpace(res.Translation) == "" {
		return nil, remoteError(fmt.Errorf("model reported failure: %s", res.Error))
	}

	t := &Translation{
		Text:       res.Translation,
		Method:     MethodHybridAI,
		Confidence: RemoteConfidence,
	}
	if key == "" {
		return t, nil
	}

	now := r.clock.Now()
	entry := &TranslationCacheEntry{
		SourceText:     key,
		TranslatedText: res.Translation,
		Direction:      dir,
		IsSingleWord:   single,
		Confidence:     RemoteConfidence,
		Method:         MethodHybridAI,
		CreatedAt:      now,
		ExpiresAt:      now.Add(r.opts.CacheTTL),
	}
	if err := r.corpus.PutCachedTranslation(ctx, entry); err != nil {
		r.logger.Error("caching remote translation", "error", err)
		return t, storeError("caching translation", err)
	}
	return t, nil
}

// findSimilar ranks sentences sharing a keyword with text. Each sentence
// is scored on its best matching tense slot.
func (r *Resolver) findSimilar(ctx context.Context, text string, dir Direction) []SimilarSentence {
	keywords := textnorm.Keywords(text, r.opts.MaxKeywords)
	if len(keywords) == 0 {
		return nil
	}

	candidates, err := r.corpus.SearchSentences(ctx, dir, keywords, r.opts.SearchLimit)
	if err != nil {
		r.logger.Warn("sentence search failed", "error", err)
		return nil
	}

	type slotRef struct {
		entry *SentenceEntry
		tense Tense
	}
	var texts []string
	var refs []slotRef
	for _, c := range candidates {
		for _, tense := range Tenses {
			from, to := c.Pair(tense, dir)
			if strings.TrimSpace(from) == "" || strings.TrimSpace(to) == "" {
				continue
			}
			texts = append(texts, from)
			refs = append(refs, slotRef{entry: c, tense: tense})
		}
	}

	matches := r.scorer.FindBestMatches(text, texts, r.opts.SimilarityThreshold, 0)

	seen := make(map[string]bool)
	var out []SimilarSentence
	for _, m := range matches {
		ref := refs[m.Index]
		if seen[ref.entry.ID] {
			continue
		}
		seen[ref.entry.ID] = true

		from, to := ref.entry.Pair(ref.tense, dir)
		out = append(out, SimilarSentence{
			SentenceID: ref.entry.ID,
			Source:     from,
			Target:     to,
			Tense:      ref.tense,
			Score:      m.Score,
			Confidence: clamp01(m.Score * ref.entry.Confidence),
		})
		if len(out) == r.opts.MaxSimilar {
			break
		}
	}
	return out
}

// TranslateWordByWord decomposes req into words regardless of what the
// corpus holds for the whole text.
func (r *Resolver) TranslateWordByWord(ctx context.Context, req Request) (*Translation, error) {
	req, err := validateRequest(req)
	if err != nil {
		return nil, err
	}
	start := r.clock.Now()
	t := r.wordByWord(ctx, req.Text, req.Direction, req.Mode)
	r.finish(t, req, start)
	return t, nil
}

// Stats returns the size of the local corpus and cache.
func (r *Resolver) Stats(ctx context.Context) (*CorpusStats, error) {
	words, err := r.corpus.CountActive(ctx, CollectionLexicon)
	if err != nil {
		return nil, fmt.Errorf("counting words: %w", err)
	}
	sentences, err := r.corpus.CountActive(ctx, CollectionSentences)
	if err != nil {
		return nil, fmt.Errorf("counting sentences: %w", err)
	}
	cache, err := r.corpus.CacheSize(ctx)
	if err != nil {
		return nil, fmt.Errorf("counting cache: %w", err)
	}
	return &CorpusStats{Words: words, Sentences: sentences, CacheSize: cache}, nil
}

// PruneCache removes expired cache entries.
func (r *Resolver) PruneCache(ctx context.Context) (int, error) {
	n, err := r.corpus.PruneCache(ctx, r.clock.Now())
	if err != nil {
		return 0, storeError("pruning cache", err)
	}
	r.logger.Info("pruned translation cache", "removed", n)
	return n, nil
}

// Health probes the remote model.
func (r *Resolver) Health(ctx context.Context) (*Health, error) {
	if r.client == nil {
		return nil, remoteError(errors.New("no translation client configured"))
	}
	h, err := r.client.Health(ctx)
	if err != nil {
		return nil, remoteError(err)
	}
	return h, nil
}
