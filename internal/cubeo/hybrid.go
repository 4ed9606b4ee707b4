package cubeo

import (
	"context"
	"strings"
	"unicode"

	"cubeo/internal/textnorm"
)

// substitution replaces the translation of a word of the similar sentence
// with the translation of the word found at the same position in the input.
type substitution struct {
	from string
	to   string
}

// hybrid rebuilds a translation from a near-identical sentence. Tokens are
// compared by position; every differing pair needs a lexicon entry on
// both sides, and the similar word's translation must appear in the
// sentence's target. Otherwise it returns nil without substituting
// anything.
func (r *Resolver) hybrid(ctx context.Context, text string, best SimilarSentence, dir Direction) *Translation {
	input := strings.Fields(text)
	similar := strings.Fields(best.Source)

	var subs []substitution
	for i := 0; i < max(len(input), len(similar)); i++ {
		a := textnorm.Normalize(tokenAt(input, i))
		b := textnorm.Normalize(tokenAt(similar, i))
		if a == b {
			continue
		}
		if a == "" || b == "" {
			r.logger.Debug("hybrid abandoned: token counts differ", "position", i)
			return nil
		}

		ea, err := r.corpus.FindLexicon(ctx, a, dir)
		if err != nil || ea == nil {
			r.logger.Debug("hybrid abandoned: word not in lexicon", "word", a, "error", err)
			return nil
		}
		eb, err := r.corpus.FindLexicon(ctx, b, dir)
		if err != nil || eb == nil {
			r.logger.Debug("hybrid abandoned: word not in lexicon", "word", b, "error", err)
			return nil
		}
		_, ta := ea.Side(dir)
		_, tb := eb.Side(dir)
		subs = append(subs, substitution{from: tb, to: ta})
	}

	target := best.Target
	for _, s := range subs {
		var ok bool
		target, ok = replaceTokens(target, s.from, s.to)
		if !ok {
			r.logger.Debug("hybrid abandoned: translation not in target", "word", s.from)
			return nil
		}
	}

	return &Translation{
		Text:       target,
		Method:     MethodSimilarSentence,
		Confidence: clamp01(best.Score * HybridScale),
	}
}

func tokenAt(tokens []string, i int) string {
	if i < len(tokens) {
		return tokens[i]
	}
	return ""
}

// replaceTokens replaces the first run of tokens in text that normalizes
// to the tokens of from with to, keeping the punctuation around the run.
func replaceTokens(text, from, to string) (string, bool) {
	tokens := strings.Fields(text)
	want := textnorm.Tokens(from)
	if len(want) == 0 {
		return text, false
	}

	for i := 0; i+len(want) <= len(tokens); i++ {
		match := true
		for k, w := range want {
			if textnorm.Normalize(tokens[i+k]) != w {
				match = false
				break
			}
		}
		if !match {
			continue
		}

		lead, _, _ := splitAffixes(tokens[i])
		_, _, trail := splitAffixes(tokens[i+len(want)-1])
		out := make([]string, 0, len(tokens)-len(want)+1)
		out = append(out, tokens[:i]...)
		out = append(out, lead+to+trail)
		out = append(out, tokens[i+len(want):]...)
		return strings.Join(out, " "), true
	}
	return text, false
}

// splitAffixes splits leading and trailing non-letters off a token.
func splitAffixes(tok string) (lead, core, trail string) {
	isMark := func(r rune) bool { return !unicode.IsLetter(r) && !unicode.Is(unicode.Mn, r) }
	core = strings.TrimLeftFunc(tok, isMark)
	lead = tok[:len(tok)-len(core)]
	trimmed := strings.TrimRightFunc(core, isMark)
	trail = core[len(trimmed):]
	return lead, trimmed, trail
}
