package cubeo

import (
	"fmt"
	"strings"
	"time"
)

// Direction is the translation direction.
type Direction string

const (
	SpanishToPamiwa Direction = "ES_TO_PAMIWA"
	PamiwaToSpanish Direction = "PAMIWA_TO_ES"
)

// ParseDirection accepts the canonical names and the short CLI forms
// "es-pam" and "pam-es".
func ParseDirection(s string) (Direction, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "es_to_pamiwa", "es-pam", "es":
		return SpanishToPamiwa, nil
	case "pamiwa_to_es", "pam-es", "pam":
		return PamiwaToSpanish, nil
	}
	return "", fmt.Errorf("%w: unknown direction %q", ErrValidation, s)
}

// Method records which pipeline stage produced a translation.
type Method string

const (
	MethodUserCorrection  Method = "USER_CORRECTION"
	MethodExactMatch      Method = "EXACT"
	MethodSimilarSentence Method = "SIMILAR"
	MethodHybridAI        Method = "HYBRID_AI"
	MethodWordByWord      Method = "WORD_BY_WORD"
)

// Mode selects which renderings the resolver produces.
type Mode string

const (
	ModeNatural Mode = "NATURAL"
	ModeLiteral Mode = "LITERAL"
	ModeBoth    Mode = "BOTH"
)

// ParseMode parses a mode name case-insensitively. Empty means natural.
func ParseMode(s string) (Mode, error) {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case "", "NATURAL":
		return ModeNatural, nil
	case "LITERAL":
		return ModeLiteral, nil
	case "BOTH":
		return ModeBoth, nil
	}
	return "", fmt.Errorf("%w: unknown mode %q", ErrValidation, s)
}

// Collection names a synchronized remote collection.
type Collection string

const (
	CollectionLexicon   Collection = "palabras"
	CollectionSentences Collection = "oraciones"
)

// Collections lists the synchronized collections in sync order.
var Collections = []Collection{CollectionLexicon, CollectionSentences}

// LexiconEntry is a single-word translation pair.
type LexiconEntry struct {
	ID         string
	SourceWord string // Spanish
	TargetWord string // Pamiwa
	Meaning    string
	Category   string
	Active     bool
	Provenance string
	Confidence float64
	CreatedAt  time.Time
}

// Side returns the word on the input side and the output side for the
// given direction.
func (e *LexiconEntry) Side(dir Direction) (from, to string) {
	if dir == PamiwaToSpanish {
		return e.TargetWord, e.SourceWord
	}
	return e.SourceWord, e.TargetWord
}

// Tense identifies a tense slot of a SentenceEntry.
type Tense string

const (
	TensePresent Tense = "present"
	TensePast    Tense = "past"
	TenseFuture  Tense = "future"
)

// Tenses lists the tense slots in lookup order.
var Tenses = []Tense{TensePresent, TensePast, TenseFuture}

// TensePair is one tense variant of a sentence.
type TensePair struct {
	Source string // Spanish
	Target string // Pamiwa
}

// Empty reports whether both sides are blank.
func (p TensePair) Empty() bool {
	return strings.TrimSpace(p.Source) == "" && strings.TrimSpace(p.Target) == ""
}

// SentenceEntry is a family of tense variants of one sentence.
// The present slot is always populated.
type SentenceEntry struct {
	ID           string
	Family       string
	Gender       string
	Present      TensePair
	Past         TensePair
	Future       TensePair
	Keywords     []string
	VariantCount int
	Confidence   float64
	Provenance   string
	Active       bool
	CreatedAt    time.Time
}

// Slot returns the pair stored for a tense.
func (s *SentenceEntry) Slot(t Tense) TensePair {
	switch t {
	case TensePast:
		return s.Past
	case TenseFuture:
		return s.Future
	default:
		return s.Present
	}
}

// SetSlot replaces the pair stored for a tense.
func (s *SentenceEntry) SetSlot(t Tense, p TensePair) {
	switch t {
	case TensePast:
		s.Past = p
	case TenseFuture:
		s.Future = p
	default:
		s.Present = p
	}
}

// Pair returns the (input, output) texts of a tense slot for a direction.
func (s *SentenceEntry) Pair(t Tense, dir Direction) (from, to string) {
	p := s.Slot(t)
	if dir == PamiwaToSpanish {
		return p.Target, p.Source
	}
	return p.Source, p.Target
}

// SyncStatus is the per-collection sync status.
type SyncStatus string

const (
	SyncStatusNever      SyncStatus = "never"
	SyncStatusInProgress SyncStatus = "in-progress"
	SyncStatusCompleted  SyncStatus = "completed"
	SyncStatusError      SyncStatus = "error"
)

// SyncWatermark records how far a collection has been synchronized.
type SyncWatermark struct {
	Collection   Collection
	LastSync     time.Time
	TotalRecords int
	Status       SyncStatus
}

// TranslationCacheEntry memoizes a remote model call.
type TranslationCacheEntry struct {
	SourceText     string // normalized
	TranslatedText string
	Direction      Direction
	IsSingleWord   bool
	Confidence     float64
	Method         Method
	CreatedAt      time.Time
	ExpiresAt      time.Time
}

// ValidationStatus is the expert review state of a correction.
type ValidationStatus string

const (
	StatusPending  ValidationStatus = "PENDING"
	StatusApproved ValidationStatus = "APPROVED"
	StatusRejected ValidationStatus = "REJECTED"
	StatusEdited   ValidationStatus = "EDITED"
)

// UserCorrection is a user-submitted replacement for a translation.
type UserCorrection struct {
	ID                 string
	OriginalText       string
	AITranslation      string
	Correction         string
	Direction          Direction
	OriginalMethod     Method
	OriginalConfidence float64
	Confidence         float64
	AppliedImmediately bool
	Status             ValidationStatus
	ExpertComment      string
	ExpertEdit         string
	SubmitterID        string
	Timestamp          time.Time
	ReviewedAt         time.Time
	ReportCount        int
}

// EffectiveText returns the text the resolver serves for this correction.
func (c *UserCorrection) EffectiveText() string {
	if c.Status == StatusEdited && c.ExpertEdit != "" {
		return c.ExpertEdit
	}
	return c.Correction
}

// ExpertValidated reports whether an expert accepted the correction.
func (c *UserCorrection) ExpertValidated() bool {
	return c.Status == StatusApproved || c.Status == StatusEdited
}

// WordBreakdown is one token of a word-by-word translation.
type WordBreakdown struct {
	Original      string
	Translation   string
	Confidence    float64
	Category      string
	FoundInCorpus bool
}

// SimilarSentence is a ranked candidate from the similarity search.
type SimilarSentence struct {
	SentenceID string
	Source     string
	Target     string
	Tense      Tense
	Score      float64
	Confidence float64
}

// Request is a translation request.
type Request struct {
	Text      string
	Direction Direction
	Mode      Mode
}

// Translation is the result of resolving a request.
type Translation struct {
	Original              string
	Text                  string
	Literal               string
	Direction             Direction
	Method                Method
	Confidence            float64
	FromCache             bool
	CorrectionID          string
	NeedsExpertValidation bool
	Words                 []WordBreakdown
	Similar               []SimilarSentence
	Suggestions           []string
	Elapsed               time.Duration
}

// CorpusStats summarizes the local corpus.
type CorpusStats struct {
	Words     int
	Sentences int
	CacheSize int
}
