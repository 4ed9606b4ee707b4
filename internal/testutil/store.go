package testutil

import (
	"context"
	"sync"
	"time"

	"cubeo/internal/cubeo"
)

// FailingStore wraps a store, counting every call and failing the
// operations configured with Fail.
type FailingStore struct {
	corpus      cubeo.CorpusStore
	corrections cubeo.CorrectionStore

	mu       sync.Mutex
	calls    map[string]int
	failures map[string]error
}

var (
	_ cubeo.CorpusStore     = (*FailingStore)(nil)
	_ cubeo.CorrectionStore = (*FailingStore)(nil)
)

// NewFailingStore wraps corpus and corrections.
func NewFailingStore(corpus cubeo.CorpusStore, corrections cubeo.CorrectionStore) *FailingStore {
	return &FailingStore{
		corpus:      corpus,
		corrections: corrections,
		calls:       map[string]int{},
		failures:    map[string]error{},
	}
}

// Fail makes the named method return err. A nil err clears the failure.
func (s *FailingStore) Fail(method string, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err == nil {
		delete(s.failures, method)
		return
	}
	s.failures[method] = err
}

// Calls returns how often the named method was called.
func (s *FailingStore) Calls(method string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls[method]
}

// TotalCalls returns the number of calls across all methods.
func (s *FailingStore) TotalCalls() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, c := range s.calls {
		n += c
	}
	return n
}

func (s *FailingStore) check(method string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls[method]++
	return s.failures[method]
}

func (s *FailingStore) FindLexicon(ctx context.Context, word string, dir cubeo.Direction) (*cubeo.LexiconEntry, error) {
	if err := s.check("FindLexicon"); err != nil {
		return nil, err
	}
	return s.corpus.FindLexicon(ctx, word, dir)
}

func (s *FailingStore) FindLexiconBySource(ctx context.Context, sourceWord string) (*cubeo.LexiconEntry, error) {
	if err := s.check("FindLexiconBySource"); err != nil {
		return nil, err
	}
	return s.corpus.FindLexiconBySource(ctx, sourceWord)
}

func (s *FailingStore) FindSentence(ctx context.Context, text string, dir cubeo.Direction) (*cubeo.SentenceEntry, cubeo.Tense, error) {
	if err := s.check("FindSentence"); err != nil {
		return nil, "", err
	}
	return s.corpus.FindSentence(ctx, text, dir)
}

func (s *FailingStore) SearchSentences(ctx context.Context, dir cubeo.Direction, keywords []string, limit int) ([]*cubeo.SentenceEntry, error) {
	if err := s.check("SearchSentences"); err != nil {
		return nil, err
	}
	return s.corpus.SearchSentences(ctx, dir, keywords, limit)
}

func (s *FailingStore) CountActive(ctx context.Context, c cubeo.Collection) (int, error) {
	if err := s.check("CountActive"); err != nil {
		return 0, err
	}
	return s.corpus.CountActive(ctx, c)
}

func (s *FailingStore) UpsertLexicon(ctx context.Context, entries []*cubeo.LexiconEntry) error {
	if err := s.check("UpsertLexicon"); err != nil {
		return err
	}
	return s.corpus.UpsertLexicon(ctx, entries)
}

func (s *FailingStore) UpsertSentences(ctx context.Context, entries []*cubeo.SentenceEntry) error {
	if err := s.check("UpsertSentences"); err != nil {
		return err
	}
	return s.corpus.UpsertSentences(ctx, entries)
}

func (s *FailingStore) GetCachedTranslation(ctx context.Context, text string, dir cubeo.Direction, now time.Time) (*cubeo.TranslationCacheEntry, error) {
	if err := s.check("GetCachedTranslation"); err != nil {
		return nil, err
	}
	return s.corpus.GetCachedTranslation(ctx, text, dir, now)
}

func (s *FailingStore) PutCachedTranslation(ctx context.Context, entry *cubeo.TranslationCacheEntry) error {
	if err := s.check("PutCachedTranslation"); err != nil {
		return err
	}
	return s.corpus.PutCachedTranslation(ctx, entry)
}

func (s *FailingStore) PruneCache(ctx context.Context, now time.Time) (int, error) {
	if err := s.check("PruneCache"); err != nil {
		return 0, err
	}
	return s.corpus.PruneCache(ctx, now)
}

func (s *FailingStore) CacheSize(ctx context.Context) (int, error) {
	if err := s.check("CacheSize"); err != nil {
		return 0, err
	}
	return s.corpus.CacheSize(ctx)
}

func (s *FailingStore) GetWatermark(ctx context.Context, c cubeo.Collection) (*cubeo.SyncWatermark, error) {
	if err := s.check("GetWatermark"); err != nil {
		return nil, err
	}
	return s.corpus.GetWatermark(ctx, c)
}

func (s *FailingStore) PutWatermark(ctx context.Context, w *cubeo.SyncWatermark) error {
	if err := s.check("PutWatermark"); err != nil {
		return err
	}
	return s.corpus.PutWatermark(ctx, w)
}

func (s *FailingStore) ClearCorpus(ctx context.Context) error {
	if err := s.check("ClearCorpus"); err != nil {
		return err
	}
	return s.corpus.ClearCorpus(ctx)
}

func (s *FailingStore) AddCorrection(ctx context.Context, c *cubeo.UserCorrection) error {
	if err := s.check("AddCorrection"); err != nil {
		return err
	}
	return s.corrections.AddCorrection(ctx, c)
}

func (s *FailingStore) LatestAppliedCorrection(ctx context.Context, text string, dir cubeo.Direction) (*cubeo.UserCorrection, error) {
	if err := s.check("LatestAppliedCorrection"); err != nil {
		return nil, err
	}
	return s.corrections.LatestAppliedCorrection(ctx, text, dir)
}

func (s *FailingStore) GetCorrection(ctx context.Context, id string) (*cubeo.UserCorrection, error) {
	if err := s.check("GetCorrection"); err != nil {
		return nil, err
	}
	return s.corrections.GetCorrection(ctx, id)
}

func (s *FailingStore) ListCorrections(ctx context.Context, status cubeo.ValidationStatus, limit int) ([]*cubeo.UserCorrection, error) {
	if err := s.check("ListCorrections"); err != nil {
		return nil, err
	}
	return s.corrections.ListCorrections(ctx, status, limit)
}

func (s *FailingStore) UpdateCorrection(ctx context.Context, c *cubeo.UserCorrection) error {
	if err := s.check("UpdateCorrection"); err != nil {
		return err
	}
	return s.corrections.UpdateCorrection(ctx, c)
}
