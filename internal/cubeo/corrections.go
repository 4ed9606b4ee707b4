package cubeo

import (
	"context"
	"fmt"
	"strings"
	"time"
	"unicode"
	"unicode/utf8"

	"cubeo/internal/textnorm"
)

// DefaultReportThreshold is the number of reports that withdraws an
// unreviewed correction.
const DefaultReportThreshold = 3

// Verdict is the outcome of checking a proposed correction.
type Verdict string

const (
	VerdictValid       Verdict = "VALID"
	VerdictEmpty       Verdict = "INVALID_EMPTY"
	VerdictSameAsAI    Verdict = "INVALID_SAME_AS_AI"
	VerdictTooLong     Verdict = "SUSPICIOUS_TOO_LONG"
	VerdictTooShort    Verdict = "SUSPICIOUS_TOO_SHORT"
	VerdictOnlyNumbers Verdict = "SUSPICIOUS_ONLY_NUMBERS"
)

// Invalid reports whether the correction must be rejected. Suspicious
// corrections are accepted.
func (v Verdict) Invalid() bool {
	return v == VerdictEmpty || v == VerdictSameAsAI
}

// CheckCorrection validates a proposed correction against the text it
// corrects and the translation it replaces.
func CheckCorrection(original, aiTranslation, correction string) Verdict {
	c := strings.TrimSpace(correction)
	if c == "" {
		return VerdictEmpty
	}
	if strings.EqualFold(c, strings.TrimSpace(aiTranslation)) {
		return VerdictSameAsAI
	}

	origLen := utf8.RuneCountInString(strings.TrimSpace(original))
	corrLen := utf8.RuneCountInString(c)
	if corrLen > origLen*3 {
		return VerdictTooLong
	}
	if corrLen < origLen/3 {
		return VerdictTooShort
	}
	if strings.IndexFunc(c, func(r rune) bool { return !unicode.IsDigit(r) && !unicode.IsSpace(r) }) < 0 {
		return VerdictOnlyNumbers
	}
	return VerdictValid
}

// CorrectionOptions tunes the correction service.
type CorrectionOptions struct {
	ReportThreshold int
}

// CorrectionService records user corrections and runs the expert review
// workflow. Accepted corrections are written into the corpus and, when a
// publisher is configured, into the remote corpus.
type CorrectionService struct {
	corrections CorrectionStore
	corpus      CorpusStore
	publisher   CorpusPublisher
	logger      Logger
	clock       Clock
	ids         IDGenerator
	opts        CorrectionOptions
}

// NewCorrectionService creates a CorrectionService. publisher may be nil.
func NewCorrectionService(corrections CorrectionStore, corpus CorpusStore, publisher CorpusPublisher, logger Logger, clock Clock, ids IDGenerator, opts CorrectionOptions) *CorrectionService {
	if opts.ReportThreshold <= 0 {
		opts.ReportThreshold = DefaultReportThreshold
	}
	return &CorrectionService{
		corrections: corrections,
		corpus:      corpus,
		publisher:   publisher,
		logger:      logger,
		clock:       clock,
		ids:         ids,
		opts:        opts,
	}
}

// Submission is a correction proposed by a user.
type Submission struct {
	OriginalText       string
	AITranslation      string
	Correction         string
	Direction          Direction
	OriginalMethod     Method
	OriginalConfidence float64
	Confidence         float64
	SubmitterID        string
}

// Submit records a correction. It is applied immediately, before any
// expert review. Suspicious corrections are stored and their verdict
// returned; invalid ones fail with ErrValidation.
func (s *CorrectionService) Submit(ctx context.Context, sub Submission) (*UserCorrection, Verdict, error) {
	original := strings.TrimSpace(sub.OriginalText)
	if original == "" {
		return nil, VerdictEmpty, ErrEmptyInput
	}
	verdict := CheckCorrection(original, sub.AITranslation, sub.Correction)
	if verdict.Invalid() {
		return nil, verdict, fmt.Errorf("%w: correction rejected: %s", ErrValidation, verdict)
	}

	dir := sub.Direction
	if dir == "" {
		dir = SpanishToPamiwa
	}
	conf := sub.Confidence
	if conf <= 0 {
		conf = DefaultCorrectionConfidence
	}
	submitter := strings.TrimSpace(sub.SubmitterID)
	if submitter == "" {
		submitter = "anonymous"
	}

	c := &UserCorrection{
		ID:                 s.ids.New(),
		OriginalText:       original,
		AITranslation:      strings.TrimSpace(sub.AITranslation),
		Correction:         strings.TrimSpace(sub.Correction),
		Direction:          dir,
		OriginalMethod:     sub.OriginalMethod,
		OriginalConfidence: sub.OriginalConfidence,
		Confidence:         clamp01(conf),
		AppliedImmediately: true,
		Status:             StatusPending,
		SubmitterID:        submitter,
		Timestamp:          s.clock.Now(),
	}
	if err := s.corrections.AddCorrection(ctx, c); err != nil {
		return nil, verdict, storeError("saving correction", err)
	}

	if verdict != VerdictValid {
		s.logger.Warn("suspicious correction accepted", "id", c.ID, "verdict", verdict)
	}
	s.logger.Info("correction submitted", "id", c.ID, "direction", dir, "submitter", submitter)
	return c, verdict, nil
}

// List returns corrections with the given status, newest first.
func (s *CorrectionService) List(ctx context.Context, status ValidationStatus, limit int) ([]*UserCorrection, error) {
	cs, err := s.corrections.ListCorrections(ctx, status, limit)
	if err != nil {
		return nil, fmt.Errorf("listing corrections: %w", err)
	}
	return cs, nil
}

// Decision is an expert's review of a correction.
type Decision struct {
	CorrectionID string           `json:"correction_id"`
	Status       ValidationStatus `json:"status"`
	Comment      string           `json:"comment,omitempty"`
	EditedText   string           `json:"edited_text,omitempty"`
}

// Review applies an expert decision. Approved and edited corrections are
// written into the corpus; rejected ones stop being served.
func (s *CorrectionService) Review(ctx context.Context, d Decision) (*UserCorrection, error) {
	switch d.Status {
	case StatusApproved, StatusRejected:
	case StatusEdited:
		if strings.TrimSpace(d.EditedText) == "" {
			return nil, fmt.Errorf("%w: edited decision without text", ErrValidation)
		}
	default:
		return nil, fmt.Errorf("%w: invalid review status %q", ErrValidation, d.Status)
	}

	c, err := s.get(ctx, d.CorrectionID)
	if err != nil {
		return nil, err
	}

	c.Status = d.Status
	c.ExpertComment = d.Comment
	c.ExpertEdit = strings.TrimSpace(d.EditedText)
	c.ReviewedAt = s.clock.Now()
	c.AppliedImmediately = d.Status != StatusRejected

	if err := s.corrections.UpdateCorrection(ctx, c); err != nil {
		return nil, storeError("updating correction", err)
	}
	s.logger.Info("correction reviewed", "id", c.ID, "status", c.Status)

	if c.ExpertValidated() {
		if err := s.applyToCorpus(ctx, c); err != nil {
			return c, err
		}
	}
	return c, nil
}

// Report flags a correction as wrong. An unreviewed correction reaching
// the report threshold is withdrawn from the resolver.
func (s *CorrectionService) Report(ctx context.Context, id string) (*UserCorrection, error) {
	c, err := s.get(ctx, id)
	if err != nil {
		return nil, err
	}

	c.ReportCount++
	if c.Status == StatusPending && c.ReportCount >= s.opts.ReportThreshold {
		c.AppliedImmediately = false
		s.logger.Warn("correction withdrawn after reports", "id", c.ID, "reports", c.ReportCount)
	}
	if err := s.corrections.UpdateCorrection(ctx, c); err != nil {
		return nil, storeError("updating correction", err)
	}
	return c, nil
}

func (s *CorrectionService) get(ctx context.Context, id string) (*UserCorrection, error) {
	c, err := s.corrections.GetCorrection(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("loading correction %s: %w", id, err)
	}
	if c == nil {
		return nil, fmt.Errorf("correction %s: %w", id, ErrNotFound)
	}
	return c, nil
}

// applyToCorpus writes an accepted correction as a lexicon entry (single
// word) or a sentence entry. Existing entries get the new translation and
// a confidence bump; new ones start at ExpertValidationConfidence.
func (s *CorrectionService) applyToCorpus(ctx context.Context, c *UserCorrection) error {
	spanish, pamiwa := c.OriginalText, c.EffectiveText()
	if c.Direction == PamiwaToSpanish {
		spanish, pamiwa = pamiwa, spanish
	}
	provenance := "correction:" + c.SubmitterID
	now := s.clock.Now()

	if len(strings.Fields(spanish)) == 1 {
		return s.applyWord(ctx, spanish, pamiwa, provenance, now)
	}
	return s.applySentence(ctx, spanish, pamiwa, provenance, now)
}

func (s *CorrectionService) applyWord(ctx context.Context, spanish, pamiwa, provenance string, now time.Time) error {
	key := textnorm.Normalize(spanish)
	e, err := s.corpus.FindLexiconBySource(ctx, key)
	if err != nil {
		return storeError("loading lexicon entry", err)
	}
	if e != nil {
		e.TargetWord = pamiwa
		e.Confidence = clamp01(e.Confidence + ExpertBonus)
		e.Provenance = provenance
		e.Active = true
	} else {
		e = &LexiconEntry{
			ID:         s.ids.New(),
			SourceWord: strings.ToLower(strings.TrimSpace(spanish)),
			TargetWord: pamiwa,
			Category:   CategoryGeneral,
			Active:     true,
			Provenance: provenance,
			Confidence: ExpertValidationConfidence,
			CreatedAt:  now,
		}
	}

	if err := s.corpus.UpsertLexicon(ctx, []*LexiconEntry{e}); err != nil {
		return storeError("writing lexicon entry", err)
	}
	s.publish(ctx, CollectionLexicon, EncodeLexicon(e))
	return nil
}

func (s *CorrectionService) applySentence(ctx context.Context, spanish, pamiwa, provenance string, now time.Time) error {
	e, tense, err := s.corpus.FindSentence(ctx, textnorm.Normalize(spanish), SpanishToPamiwa)
	if err != nil {
		return storeError("loading sentence entry", err)
	}
	if e != nil {
		slot := e.Slot(tense)
		slot.Target = pamiwa
		e.SetSlot(tense, slot)
		e.Confidence = clamp01(e.Confidence + ExpertBonus)
		e.Provenance = provenance
	} else {
		id := s.ids.New()
		e = &SentenceEntry{
			ID:           id,
			Family:       id,
			Gender:       "neutro",
			Present:      TensePair{Source: spanish, Target: pamiwa},
			Keywords:     textnorm.Keywords(spanish, 3),
			VariantCount: 1,
			Confidence:   ExpertValidationConfidence,
			Provenance:   provenance,
			Active:       true,
			CreatedAt:    now,
		}
	}

	if err := s.corpus.UpsertSentences(ctx, []*SentenceEntry{e}); err != nil {
		return storeError("writing sentence entry", err)
	}
	s.publish(ctx, CollectionSentences, EncodeSentence(e))
	return nil
}

// publish pushes an accepted entry to the remote corpus. Failures are
// logged; the local corpus already holds the entry.
func (s *CorrectionService) publish(ctx context.Context, c Collection, doc Document) {
	if s.publisher == nil {
		return
	}
	if err := s.publisher.Publish(ctx, c, doc); err != nil {
		s.logger.Warn("publishing accepted correction", "collection", c, "id", doc.ID, "error", err)
	}
}
