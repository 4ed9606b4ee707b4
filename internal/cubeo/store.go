package cubeo

import (
	"context"
	"time"
)

// CorpusStore is the offline store of lexicon entries, sentence entries,
// sync watermarks and cached remote translations.
//
// Lookups return (nil, nil) when nothing matches. Text arguments are
// already normalized by the caller.
type CorpusStore interface {
	// FindLexicon returns the active entry whose input-side word for dir
	// equals word.
	FindLexicon(ctx context.Context, word string, dir Direction) (*LexiconEntry, error)

	// FindLexiconBySource returns the entry keyed by the normalized Spanish
	// word, active or not.
	FindLexiconBySource(ctx context.Context, sourceWord string) (*LexiconEntry, error)

	// FindSentence returns the active sentence with a tense slot whose
	// input side for dir equals text, and which slot matched.
	FindSentence(ctx context.Context, text string, dir Direction) (*SentenceEntry, Tense, error)

	// SearchSentences returns active sentences whose input side for dir
	// contains any of the keywords, at most limit rows.
	SearchSentences(ctx context.Context, dir Direction, keywords []string, limit int) ([]*SentenceEntry, error)

	// CountActive returns the number of active rows in a collection.
	CountActive(ctx context.Context, c Collection) (int, error)

	// UpsertLexicon inserts or replaces entries by ID.
	UpsertLexicon(ctx context.Context, entries []*LexiconEntry) error

	// UpsertSentences inserts or replaces entries by ID.
	UpsertSentences(ctx context.Context, entries []*SentenceEntry) error

	// GetCachedTranslation returns a cache entry that has not expired at now.
	GetCachedTranslation(ctx context.Context, text string, dir Direction, now time.Time) (*TranslationCacheEntry, error)

	// PutCachedTranslation inserts or replaces the entry for (text, direction).
	PutCachedTranslation(ctx context.Context, entry *TranslationCacheEntry) error

	// PruneCache deletes entries expired at now and returns how many.
	PruneCache(ctx context.Context, now time.Time) (int, error)

	// CacheSize returns the number of cache rows, expired or not.
	CacheSize(ctx context.Context) (int, error)

	// GetWatermark returns the watermark of a collection, or nil if the
	// collection was never synced.
	GetWatermark(ctx context.Context, c Collection) (*SyncWatermark, error)

	// PutWatermark stores a watermark. LastSync never moves backwards.
	PutWatermark(ctx context.Context, w *SyncWatermark) error

	// ClearCorpus deletes all lexicon and sentence rows and watermarks.
	ClearCorpus(ctx context.Context) error
}

// CorrectionStore is the log of user corrections.
type CorrectionStore interface {
	// AddCorrection appends a correction.
	AddCorrection(ctx context.Context, c *UserCorrection) error

	// LatestAppliedCorrection returns the newest correction applied to the
	// normalized text in the given direction, or nil.
	LatestAppliedCorrection(ctx context.Context, text string, dir Direction) (*UserCorrection, error)

	// GetCorrection returns a correction by ID, or nil.
	GetCorrection(ctx context.Context, id string) (*UserCorrection, error)

	// ListCorrections returns corrections with the given status, newest
	// first. An empty status lists all.
	ListCorrections(ctx context.Context, status ValidationStatus, limit int) ([]*UserCorrection, error)

	// UpdateCorrection stores the review fields of an existing correction.
	UpdateCorrection(ctx context.Context, c *UserCorrection) error
}
