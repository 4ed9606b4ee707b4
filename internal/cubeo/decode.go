package cubeo

import (
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"cubeo/internal/textnorm"
)

// DecodeReport lists the fields a tolerant decode had to default or
// ignore.
type DecodeReport struct {
	Defaulted []string
	Skipped   []string
}

// Empty reports whether the decode needed no fallbacks.
func (r *DecodeReport) Empty() bool {
	return len(r.Defaulted) == 0 && len(r.Skipped) == 0
}

func (r *DecodeReport) defaulted(field string) { r.Defaulted = append(r.Defaulted, field) }
func (r *DecodeReport) skipped(field string)   { r.Skipped = append(r.Skipped, field) }

var errMissingField = errors.New("missing required field")

var (
	createdAtKeys  = []string{"created_at", "fecha_creacion", "createdAt"}
	activeKeys     = []string{"activo", "active"}
	provenanceKeys = []string{"fuente", "provenance"}
	confidenceKeys = []string{"confianza", "confidence"}
)

// DecodeLexicon maps a remote document into a LexiconEntry. Missing
// optional fields are defaulted and listed in the report; a document
// without both words fails.
func DecodeLexicon(doc Document, now time.Time) (*LexiconEntry, *DecodeReport, error) {
	r := &DecodeReport{}
	f := doc.Fields

	source, _ := stringField(f, "palabra_español", "palabra_espanol", "source_word")
	target, _ := stringField(f, "palabra_pamie", "palabra_pamiwa", "target_word")
	source = strings.ToLower(strings.TrimSpace(source))
	target = strings.TrimSpace(target)
	if source == "" || target == "" {
		return nil, r, fmt.Errorf("document %s: %w: source and target word", doc.ID, errMissingField)
	}

	e := &LexiconEntry{
		ID:         doc.ID,
		SourceWord: source,
		TargetWord: target,
	}
	if e.ID == "" {
		e.ID = "lex-" + textnorm.Normalize(source)
		r.defaulted("id")
	}

	e.Meaning, _ = stringField(f, "significado", "meaning")
	if cat, ok := stringField(f, "tipo_palabra", "category"); ok && cat != "" {
		e.Category = cat
	} else {
		e.Category = "general"
		r.defaulted("tipo_palabra")
	}
	e.Active = boolFieldOr(f, r, true, activeKeys...)
	e.Provenance = stringFieldOr(f, r, "import", provenanceKeys...)
	e.Confidence = confidenceFieldOr(f, r, 1.0)
	e.CreatedAt = timeFieldOr(f, r, now, createdAtKeys...)

	return e, r, nil
}

// DecodeSentence maps a remote document into a SentenceEntry. The present
// tense pair is required; the other slots default to empty.
func DecodeSentence(doc Document, now time.Time) (*SentenceEntry, *DecodeReport, error) {
	r := &DecodeReport{}
	f := doc.Fields

	e := &SentenceEntry{ID: doc.ID}
	tenses, _ := mapField(f, "variaciones", "tiempos")
	for _, t := range Tenses {
		e.SetSlot(t, decodeTense(tenses, t, r))
	}
	if e.Present.Source == "" || e.Present.Target == "" {
		// Flat documents carry only the present pair.
		src, _ := stringField(f, "oracion_espanol", "oracion_español", "source_text")
		tgt, _ := stringField(f, "oracion_pamie", "oracion_pamiwa", "target_text")
		e.Present = TensePair{Source: strings.TrimSpace(src), Target: strings.TrimSpace(tgt)}
	}
	if e.Present.Source == "" || e.Present.Target == "" {
		return nil, r, fmt.Errorf("document %s: %w: present tense pair", doc.ID, errMissingField)
	}
	if e.ID == "" {
		e.ID = "sen-" + textnorm.Normalize(e.Present.Source)
		r.defaulted("id")
	}

	e.Family = stringFieldOr(f, r, e.ID, "familia", "family")
	e.Gender = stringFieldOr(f, r, "neutro", "genero", "gender")
	e.Active = boolFieldOr(f, r, true, activeKeys...)
	e.Provenance = stringFieldOr(f, r, "import", provenanceKeys...)
	e.Confidence = confidenceFieldOr(f, r, 1.0)
	e.CreatedAt = timeFieldOr(f, r, now, createdAtKeys...)

	if kw, ok := stringListField(f, "palabras_clave", "keywords"); ok && len(kw) > 0 {
		e.Keywords = kw
	} else {
		e.Keywords = textnorm.Keywords(e.Present.Source, 3)
		r.defaulted("palabras_clave")
	}

	if n, ok := intField(f, "total_variaciones", "variant_count"); ok && n > 0 {
		e.VariantCount = n
	} else {
		e.VariantCount = e.filledSlots()
		r.defaulted("total_variaciones")
	}

	return e, r, nil
}

func (s *SentenceEntry) filledSlots() int {
	n := 0
	for _, t := range Tenses {
		if !s.Slot(t).Empty() {
			n++
		}
	}
	return n
}

var tenseKeys = map[Tense]string{
	TensePresent: "presente",
	TensePast:    "pasado",
	TenseFuture:  "futuro",
}

func decodeTense(tenses map[string]any, t Tense, r *DecodeReport) TensePair {
	if tenses == nil {
		return TensePair{}
	}
	raw, ok := tenses[tenseKeys[t]]
	if !ok {
		return TensePair{}
	}
	m, ok := raw.(map[string]any)
	if !ok {
		r.skipped("variaciones.tiempos." + tenseKeys[t])
		return TensePair{}
	}
	src, _ := stringField(m, "español", "espanol", "source")
	tgt, _ := stringField(m, "pamie", "pamiwa", "target")
	return TensePair{Source: strings.TrimSpace(src), Target: strings.TrimSpace(tgt)}
}

// EncodeLexicon is the inverse of DecodeLexicon, used when publishing.
func EncodeLexicon(e *LexiconEntry) Document {
	return Document{ID: e.ID, Fields: map[string]any{
		"palabra_español": e.SourceWord,
		"palabra_pamie":   e.TargetWord,
		"significado":     e.Meaning,
		"tipo_palabra":    e.Category,
		"activo":          e.Active,
		"fuente":          e.Provenance,
		"confianza":       e.Confidence,
		"created_at":      e.CreatedAt.UnixMilli(),
	}}
}

// EncodeSentence is the inverse of DecodeSentence, used when publishing.
func EncodeSentence(e *SentenceEntry) Document {
	tiempos := map[string]any{}
	for _, t := range Tenses {
		p := e.Slot(t)
		if p.Empty() {
			continue
		}
		tiempos[tenseKeys[t]] = map[string]any{"español": p.Source, "pamie": p.Target}
	}
	keywords := make([]any, len(e.Keywords))
	for i, k := range e.Keywords {
		keywords[i] = k
	}
	return Document{ID: e.ID, Fields: map[string]any{
		"variaciones":       map[string]any{"tiempos": tiempos},
		"familia":           e.Family,
		"genero":            e.Gender,
		"palabras_clave":    keywords,
		"total_variaciones": e.VariantCount,
		"activo":            e.Active,
		"fuente":            e.Provenance,
		"confianza":         e.Confidence,
		"created_at":        e.CreatedAt.UnixMilli(),
	}}
}

// DocumentCreatedAt returns the creation time of a document, if present.
func DocumentCreatedAt(doc Document) (time.Time, bool) {
	for _, k := range createdAtKeys {
		if v, ok := doc.Fields[k]; ok {
			if t, ok := toTime(v); ok {
				return t, true
			}
		}
	}
	return time.Time{}, false
}

// DocumentActive reports the active flag of a document, defaulting to true.
func DocumentActive(doc Document) bool {
	for _, k := range activeKeys {
		if v, ok := doc.Fields[k].(bool); ok {
			return v
		}
	}
	return true
}

func stringField(f map[string]any, keys ...string) (string, bool) {
	for _, k := range keys {
		if v, ok := f[k].(string); ok {
			return v, true
		}
	}
	return "", false
}

func stringFieldOr(f map[string]any, r *DecodeReport, def string, keys ...string) string {
	if v, ok := stringField(f, keys...); ok && strings.TrimSpace(v) != "" {
		return strings.TrimSpace(v)
	}
	r.defaulted(keys[0])
	return def
}

func boolFieldOr(f map[string]any, r *DecodeReport, def bool, keys ...string) bool {
	for _, k := range keys {
		raw, ok := f[k]
		if !ok {
			continue
		}
		switch v := raw.(type) {
		case bool:
			return v
		case string:
			if b, err := strconv.ParseBool(v); err == nil {
				return b
			}
		}
		r.skipped(k)
		return def
	}
	r.defaulted(keys[0])
	return def
}

func floatField(f map[string]any, keys ...string) (float64, bool) {
	for _, k := range keys {
		raw, ok := f[k]
		if !ok {
			continue
		}
		if v, ok := toFloat(raw); ok {
			return v, true
		}
	}
	return 0, false
}

func confidenceFieldOr(f map[string]any, r *DecodeReport, def float64) float64 {
	v, ok := floatField(f, confidenceKeys...)
	if !ok {
		r.defaulted(confidenceKeys[0])
		return def
	}
	return clamp01(v)
}

func intField(f map[string]any, keys ...string) (int, bool) {
	v, ok := floatField(f, keys...)
	return int(v), ok
}

func timeFieldOr(f map[string]any, r *DecodeReport, def time.Time, keys ...string) time.Time {
	for _, k := range keys {
		raw, ok := f[k]
		if !ok {
			continue
		}
		if t, ok := toTime(raw); ok {
			return t
		}
		r.skipped(k)
	}
	r.defaulted(keys[0])
	return def
}

func mapField(f map[string]any, path ...string) (map[string]any, bool) {
	cur := f
	for _, p := range path {
		next, ok := cur[p].(map[string]any)
		if !ok {
			return nil, false
		}
		cur = next
	}
	return cur, true
}

func stringListField(f map[string]any, keys ...string) ([]string, bool) {
	for _, k := range keys {
		switch v := f[k].(type) {
		case []string:
			return v, true
		case []any:
			out := make([]string, 0, len(v))
			for _, item := range v {
				if s, ok := item.(string); ok && s != "" {
					out = append(out, s)
				}
			}
			return out, true
		}
	}
	return nil, false
}

func toFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	case int32:
		return float64(n), true
	case json.Number:
		f, err := n.Float64()
		return f, err == nil
	case string:
		f, err := strconv.ParseFloat(strings.TrimSpace(n), 64)
		return f, err == nil
	}
	return 0, false
}

// toTime accepts epoch milliseconds, RFC 3339 strings, time.Time values
// and {"seconds", "nanoseconds"} timestamp objects.
func toTime(v any) (time.Time, bool) {
	switch t := v.(type) {
	case time.Time:
		return t, true
	case string:
		if parsed, err := time.Parse(time.RFC3339, t); err == nil {
			return parsed, true
		}
		if ms, err := strconv.ParseInt(strings.TrimSpace(t), 10, 64); err == nil {
			return time.UnixMilli(ms), true
		}
		return time.Time{}, false
	case map[string]any:
		sec, ok := floatField(t, "seconds", "_seconds")
		if !ok {
			return time.Time{}, false
		}
		nsec, _ := floatField(t, "nanoseconds", "_nanoseconds")
		return time.Unix(int64(sec), int64(nsec)), true
	}
	if ms, ok := toFloat(v); ok {
		return time.UnixMilli(int64(ms)), true
	}
	return time.Time{}, false
}

func clamp01(x float64) float64 {
	if x < 0 {
		return 0
	}
	if x > 1 {
		return 1
	}
	return x
}
