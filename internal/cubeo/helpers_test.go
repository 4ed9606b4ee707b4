package cubeo_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"cubeo/internal/cubeo"
	"cubeo/internal/database"
	"cubeo/internal/testutil"
)

var errBoom = errors.New("boom")

// fixture wires a resolver and correction service over an in-memory store
// behind a FailingStore.
type fixture struct {
	store       *database.SQLiteStore
	spy         *testutil.FailingStore
	client      *testutil.FakeTranslationClient
	clock       *testutil.StubClock
	resolver    *cubeo.Resolver
	corrections *cubeo.CorrectionService
}

func newFixture(t *testing.T, translations map[string]string) *fixture {
	t.Helper()
	return newFixtureWithOptions(t, translations, cubeo.ResolverOptions{})
}

func newFixtureWithOptions(t *testing.T, translations map[string]string, opts cubeo.ResolverOptions) *fixture {
	t.Helper()
	store := testutil.NewTestStore(t)
	spy := testutil.NewFailingStore(store, store)
	client := testutil.NewFakeTranslationClient(translations)
	clock := testutil.FixedClock()
	logger := cubeo.NewNopLogger()

	return &fixture{
		store:       store,
		spy:         spy,
		client:      client,
		clock:       clock,
		resolver:    cubeo.NewResolver(spy, spy, client, nil, logger, clock, opts),
		corrections: cubeo.NewCorrectionService(spy, spy, nil, logger, clock, testutil.NewStubIDGenerator(), cubeo.CorrectionOptions{}),
	}
}

func (f *fixture) addWords(t *testing.T, pairs ...string) {
	t.Helper()
	var entries []*cubeo.LexiconEntry
	for i := 0; i+1 < len(pairs); i += 2 {
		entries = append(entries, &cubeo.LexiconEntry{
			ID:         "w-" + pairs[i],
			SourceWord: pairs[i],
			TargetWord: pairs[i+1],
			Category:   "general",
			Active:     true,
			Provenance: "test",
			Confidence: 1,
			CreatedAt:  f.clock.Now(),
		})
	}
	if err := f.store.UpsertLexicon(context.Background(), entries); err != nil {
		t.Fatalf("UpsertLexicon() error = %v", err)
	}
}

func (f *fixture) addSentence(t *testing.T, id, spanish, pamiwa string) {
	t.Helper()
	e := &cubeo.SentenceEntry{
		ID:           id,
		Family:       id,
		Gender:       "neutro",
		Present:      cubeo.TensePair{Source: spanish, Target: pamiwa},
		VariantCount: 1,
		Confidence:   1,
		Provenance:   "test",
		Active:       true,
		CreatedAt:    f.clock.Now(),
	}
	if err := f.store.UpsertSentences(context.Background(), []*cubeo.SentenceEntry{e}); err != nil {
		t.Fatalf("UpsertSentences() error = %v", err)
	}
}

func (f *fixture) translate(t *testing.T, text string, dir cubeo.Direction) *cubeo.Translation {
	t.Helper()
	got, err := f.resolver.Translate(context.Background(), cubeo.Request{Text: text, Direction: dir})
	if err != nil {
		t.Fatalf("Translate(%q) error = %v", text, err)
	}
	return got
}

func lexiconDoc(id, spanish, pamiwa string, created time.Time) cubeo.Document {
	return cubeo.Document{ID: id, Fields: map[string]any{
		"palabra_español": spanish,
		"palabra_pamie":   pamiwa,
		"activo":          true,
		"created_at":      created.UnixMilli(),
	}}
}

func sentenceDoc(id, spanish, pamiwa string, created time.Time) cubeo.Document {
	return cubeo.Document{ID: id, Fields: map[string]any{
		"variaciones": map[string]any{"tiempos": map[string]any{
			"presente": map[string]any{"español": spanish, "pamie": pamiwa},
		}},
		"activo":     true,
		"created_at": created.UnixMilli(),
	}}
}
