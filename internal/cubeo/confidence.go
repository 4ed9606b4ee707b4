package cubeo

import (
	"fmt"
	"strings"

	"github.com/samber/lo"
)

// Confidence constants of the resolution pipeline.
const (
	RemoteConfidence            = 0.95
	HybridScale                 = 0.9
	WordByWordScale             = 0.8
	DictionaryWordConfidence    = 0.9
	ExtractedWordConfidence     = 0.7
	UnknownWordConfidence       = 0.1
	DefaultCorrectionConfidence = 0.7
	ExpertValidationConfidence  = 0.95
	ExpertBonus                 = 0.10

	// LowConfidence is the level below which a translation is flagged for
	// expert review.
	LowConfidence = 0.6
)

// correctionConfidence is the submission-time confidence of c, raised by
// ExpertBonus once an expert accepted it.
func correctionConfidence(c *UserCorrection) float64 {
	conf := c.Confidence
	if conf <= 0 {
		conf = DefaultCorrectionConfidence
	}
	if c.ExpertValidated() {
		conf += ExpertBonus
	}
	return clamp01(conf)
}

// wordByWordConfidence is the found ratio scaled by WordByWordScale.
func wordByWordConfidence(words []WordBreakdown) float64 {
	if len(words) == 0 {
		return 0
	}
	found := lo.CountBy(words, func(w WordBreakdown) bool { return w.FoundInCorpus })
	return float64(found) / float64(len(words)) * WordByWordScale
}

// needsExpertValidation reports whether t should be reviewed by an expert.
func needsExpertValidation(t *Translation) bool {
	if t.Method == MethodUserCorrection {
		return t.NeedsExpertValidation
	}
	return t.Confidence < LowConfidence || t.Method == MethodHybridAI
}

// suggestions returns hints for improving t, most important first.
func suggestions(t *Translation) []string {
	var out []string

	switch t.Method {
	case MethodHybridAI:
		out = append(out, "generated by the remote model; a correction would improve the corpus")
	case MethodWordByWord:
		out = append(out, "built word by word; word order may not follow Pamiwa grammar")
	case MethodSimilarSentence:
		out = append(out, "adapted from a similar sentence; check the substituted words")
	case MethodUserCorrection:
		if t.NeedsExpertValidation {
			out = append(out, "user correction awaiting expert validation")
		}
	}

	unknown := lo.FilterMap(t.Words, func(w WordBreakdown, _ int) (string, bool) {
		return w.Original, !w.FoundInCorpus
	})
	if len(unknown) > 0 {
		out = append(out, fmt.Sprintf("words not found in the corpus: %s", strings.Join(lo.Uniq(unknown), ", ")))
	}

	if t.Confidence < LowConfidence && t.Method != MethodUserCorrection {
		out = append(out, "low confidence; consider submitting a correction")
	}
	return out
}
