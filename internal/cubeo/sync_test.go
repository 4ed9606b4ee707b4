package cubeo_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"cubeo/internal/cubeo"
	"cubeo/internal/database"
	"cubeo/internal/remote"
	"cubeo/internal/testutil"
)

type syncFixture struct {
	store  *database.SQLiteStore
	spy    *testutil.FailingStore
	remote *remote.MemoryCorpus
	clock  *testutil.StubClock
	engine *cubeo.SyncEngine
}

func newSyncFixture(t *testing.T) *syncFixture {
	t.Helper()
	store := testutil.NewTestStore(t)
	spy := testutil.NewFailingStore(store, store)
	corpus := remote.NewMemoryCorpus()
	clock := testutil.FixedClock()

	return &syncFixture{
		store:  store,
		spy:    spy,
		remote: corpus,
		clock:  clock,
		engine: cubeo.NewSyncEngine(spy, corpus, cubeo.NewNopLogger(), clock, cubeo.SyncOptions{BatchSize: 2}),
	}
}

// seedRemote publishes casa, perro and gato plus one sentence, all created
// an hour before the fixture clock.
func (f *syncFixture) seedRemote() {
	created := f.clock.Now().Add(-time.Hour)
	f.remote.Put(cubeo.CollectionLexicon, lexiconDoc("w1", "casa", "wi", created))
	f.remote.Put(cubeo.CollectionLexicon, lexiconDoc("w2", "perro", "yai", created))
	f.remote.Put(cubeo.CollectionLexicon, lexiconDoc("w3", "gato", "mishi", created))
	f.remote.Put(cubeo.CollectionSentences, sentenceDoc("s1", "buenos días", "ñami jiñe", created))
}

func (f *syncFixture) watermark(t *testing.T, c cubeo.Collection) *cubeo.SyncWatermark {
	t.Helper()
	wm, err := f.store.GetWatermark(context.Background(), c)
	if err != nil {
		t.Fatalf("GetWatermark(%s) error = %v", c, err)
	}
	if wm == nil {
		t.Fatalf("GetWatermark(%s) = nil", c)
	}
	return wm
}

func (f *syncFixture) count(t *testing.T, c cubeo.Collection) int {
	t.Helper()
	n, err := f.store.CountActive(context.Background(), c)
	if err != nil {
		t.Fatalf("CountActive(%s) error = %v", c, err)
	}
	return n
}

func TestSyncEngine_FullSync(t *testing.T) {
	ctx := context.Background()
	f := newSyncFixture(t)
	f.seedRemote()

	counts, err := f.engine.PerformFullSync(ctx)
	if err != nil {
		t.Fatalf("PerformFullSync() error = %v", err)
	}
	if counts[cubeo.CollectionLexicon] != 3 || counts[cubeo.CollectionSentences] != 1 {
		t.Errorf("PerformFullSync() = %v, want 3 words and 1 sentence", counts)
	}

	for _, c := range cubeo.Collections {
		wm := f.watermark(t, c)
		if wm.Status != cubeo.SyncStatusCompleted {
			t.Errorf("%s status = %v, want %v", c, wm.Status, cubeo.SyncStatusCompleted)
		}
		if !wm.LastSync.Equal(f.clock.Now()) {
			t.Errorf("%s LastSync = %v, want %v", c, wm.LastSync, f.clock.Now())
		}
	}

	state, ok := f.engine.State().(cubeo.SyncSuccess)
	if !ok {
		t.Fatalf("State() = %#v, want SyncSuccess", f.engine.State())
	}
	if state.Counts[cubeo.CollectionLexicon] != 3 {
		t.Errorf("SyncSuccess.Counts = %v", state.Counts)
	}

	has, err := f.engine.HasLocalData(ctx)
	if err != nil {
		t.Fatalf("HasLocalData() error = %v", err)
	}
	if !has {
		t.Error("HasLocalData() = false after sync")
	}
}

func TestSyncEngine_ResyncIsIdempotent(t *testing.T) {
	ctx := context.Background()
	f := newSyncFixture(t)
	f.seedRemote()

	if _, err := f.engine.PerformFullSync(ctx); err != nil {
		t.Fatalf("PerformFullSync() error = %v", err)
	}

	f.clock.Advance(time.Minute)
	counts, err := f.engine.PerformFullSync(ctx)
	if err != nil {
		t.Fatalf("second PerformFullSync() error = %v", err)
	}
	if counts[cubeo.CollectionLexicon] != 0 || counts[cubeo.CollectionSentences] != 0 {
		t.Errorf("second PerformFullSync() = %v, want nothing new", counts)
	}

	counts, err = f.engine.ForceResync(ctx)
	if err != nil {
		t.Fatalf("ForceResync() error = %v", err)
	}
	if counts[cubeo.CollectionLexicon] != 3 {
		t.Errorf("ForceResync() = %v, want every word again", counts)
	}
	if n := f.count(t, cubeo.CollectionLexicon); n != 3 {
		t.Errorf("lexicon rows = %d, want 3", n)
	}
	if n := f.count(t, cubeo.CollectionSentences); n != 1 {
		t.Errorf("sentence rows = %d, want 1", n)
	}
	if wm := f.watermark(t, cubeo.CollectionLexicon); wm.TotalRecords != 3 {
		t.Errorf("TotalRecords = %d, want 3 after resync", wm.TotalRecords)
	}
}

func TestSyncEngine_PartialFailure(t *testing.T) {
	ctx := context.Background()
	f := newSyncFixture(t)
	f.seedRemote()
	f.spy.Fail("UpsertSentences", errBoom)

	counts, err := f.engine.PerformFullSync(ctx)
	if !errors.Is(err, errBoom) {
		t.Fatalf("PerformFullSync() error = %v, want errBoom", err)
	}
	if counts[cubeo.CollectionLexicon] != 3 {
		t.Errorf("PerformFullSync() = %v, want the lexicon synced", counts)
	}

	if wm := f.watermark(t, cubeo.CollectionLexicon); wm.Status != cubeo.SyncStatusCompleted {
		t.Errorf("lexicon status = %v, want %v", wm.Status, cubeo.SyncStatusCompleted)
	}
	wm := f.watermark(t, cubeo.CollectionSentences)
	if wm.Status != cubeo.SyncStatusError {
		t.Errorf("sentences status = %v, want %v", wm.Status, cubeo.SyncStatusError)
	}
	if !wm.LastSync.IsZero() {
		t.Errorf("sentences LastSync = %v, want unchanged", wm.LastSync)
	}
	if _, ok := f.engine.State().(cubeo.SyncError); !ok {
		t.Errorf("State() = %#v, want SyncError", f.engine.State())
	}

	needed, err := f.engine.NeedsSync(ctx)
	if err != nil {
		t.Fatalf("NeedsSync() error = %v", err)
	}
	if !needed {
		t.Error("NeedsSync() = false after a failed sync")
	}

	f.spy.Fail("UpsertSentences", nil)
	counts, err = f.engine.PerformFullSync(ctx)
	if err != nil {
		t.Fatalf("PerformFullSync() after recovery error = %v", err)
	}
	if counts[cubeo.CollectionLexicon] != 0 || counts[cubeo.CollectionSentences] != 1 {
		t.Errorf("PerformFullSync() after recovery = %v, want only the sentence", counts)
	}
	if needed, _ := f.engine.NeedsSync(ctx); needed {
		t.Error("NeedsSync() = true after recovery")
	}
}

func TestSyncEngine_RemoteQueryFailure(t *testing.T) {
	ctx := context.Background()
	f := newSyncFixture(t)
	f.seedRemote()
	f.remote.Fail(errBoom)

	if _, err := f.engine.PerformFullSync(ctx); !errors.Is(err, errBoom) {
		t.Fatalf("PerformFullSync() error = %v, want errBoom", err)
	}
	if wm := f.watermark(t, cubeo.CollectionLexicon); wm.Status != cubeo.SyncStatusError {
		t.Errorf("lexicon status = %v, want %v", wm.Status, cubeo.SyncStatusError)
	}
	if n := f.spy.Calls("UpsertLexicon"); n != 0 {
		t.Errorf("UpsertLexicon calls = %d, want 0", n)
	}
}

func TestSyncEngine_EmptyPullAdvancesWatermark(t *testing.T) {
	ctx := context.Background()
	f := newSyncFixture(t)

	if _, err := f.engine.PerformFullSync(ctx); err != nil {
		t.Fatalf("PerformFullSync() error = %v", err)
	}
	first := f.watermark(t, cubeo.CollectionLexicon)
	if !first.LastSync.Equal(f.clock.Now()) || first.Status != cubeo.SyncStatusCompleted {
		t.Errorf("watermark = %+v, want completed at %v", first, f.clock.Now())
	}

	f.clock.Advance(time.Hour)
	if _, err := f.engine.PerformFullSync(ctx); err != nil {
		t.Fatalf("PerformFullSync() error = %v", err)
	}
	if wm := f.watermark(t, cubeo.CollectionLexicon); !wm.LastSync.Equal(f.clock.Now()) {
		t.Errorf("LastSync = %v, want %v", wm.LastSync, f.clock.Now())
	}

	has, err := f.engine.HasLocalData(ctx)
	if err != nil {
		t.Fatalf("HasLocalData() error = %v", err)
	}
	if has {
		t.Error("HasLocalData() = true for an empty corpus")
	}
}

func TestSyncEngine_Staleness(t *testing.T) {
	ctx := context.Background()
	f := newSyncFixture(t)

	needed, err := f.engine.NeedsSync(ctx)
	if err != nil {
		t.Fatalf("NeedsSync() error = %v", err)
	}
	if !needed {
		t.Error("NeedsSync() = false before the first sync")
	}

	synced := f.clock.Now()
	ran, err := f.engine.SyncIfNeeded(ctx)
	if err != nil || !ran {
		t.Fatalf("SyncIfNeeded() = %v, %v; want true, nil", ran, err)
	}

	f.clock.Set(synced.Add(5 * time.Hour))
	ran, err = f.engine.SyncIfNeeded(ctx)
	if err != nil || ran {
		t.Errorf("SyncIfNeeded() within the window = %v, %v; want false, nil", ran, err)
	}

	f.clock.Set(synced.Add(7 * time.Hour))
	if needed, _ := f.engine.NeedsSync(ctx); !needed {
		t.Error("NeedsSync() = false after 7h")
	}
}

func TestSyncEngine_SkipsMalformedDocuments(t *testing.T) {
	ctx := context.Background()
	f := newSyncFixture(t)
	created := f.clock.Now().Add(-time.Hour)

	f.remote.Put(cubeo.CollectionLexicon, lexiconDoc("w1", "casa", "wi", created))
	f.remote.Put(cubeo.CollectionLexicon, cubeo.Document{ID: "w2", Fields: map[string]any{
		"palabra_español": "perro",
		"created_at":      created.UnixMilli(),
	}})
	f.remote.Put(cubeo.CollectionSentences, cubeo.Document{ID: "s1", Fields: map[string]any{
		"familia":    "saludo",
		"created_at": created.UnixMilli(),
	}})

	counts, err := f.engine.PerformFullSync(ctx)
	if err != nil {
		t.Fatalf("PerformFullSync() error = %v", err)
	}
	if counts[cubeo.CollectionLexicon] != 1 || counts[cubeo.CollectionSentences] != 0 {
		t.Errorf("PerformFullSync() = %v, want 1 word and no sentences", counts)
	}
	if wm := f.watermark(t, cubeo.CollectionSentences); wm.Status != cubeo.SyncStatusCompleted {
		t.Errorf("sentences status = %v, want %v", wm.Status, cubeo.SyncStatusCompleted)
	}
}

func TestSyncEngine_StateTransitions(t *testing.T) {
	f := newSyncFixture(t)
	f.seedRemote()

	var mu sync.Mutex
	var states []cubeo.SyncState
	f.engine.OnStateChange(func(s cubeo.SyncState) {
		mu.Lock()
		defer mu.Unlock()
		states = append(states, s)
	})

	if _, err := f.engine.PerformFullSync(context.Background()); err != nil {
		t.Fatalf("PerformFullSync() error = %v", err)
	}

	mu.Lock()
	defer mu.Unlock()
	if len(states) < 3 {
		t.Fatalf("states = %#v, want progress and success", states)
	}
	if p, ok := states[0].(cubeo.SyncInProgress); !ok || p.Percent != 0 {
		t.Errorf("first state = %#v, want SyncInProgress at 0%%", states[0])
	}
	if _, ok := states[len(states)-1].(cubeo.SyncSuccess); !ok {
		t.Errorf("last state = %#v, want SyncSuccess", states[len(states)-1])
	}

	last := 0
	for _, s := range states[:len(states)-1] {
		p, ok := s.(cubeo.SyncInProgress)
		if !ok {
			t.Fatalf("intermediate state = %#v, want SyncInProgress", s)
		}
		if p.Percent < last || p.Percent > 100 {
			t.Errorf("progress went from %d%% to %d%%", last, p.Percent)
		}
		last = p.Percent
	}
}

func TestSyncEngine_Realtime(t *testing.T) {
	ctx := context.Background()
	f := newSyncFixture(t)
	f.seedRemote()

	if _, err := f.engine.PerformFullSync(ctx); err != nil {
		t.Fatalf("PerformFullSync() error = %v", err)
	}
	if err := f.engine.StartRealtimeSync(ctx); err != nil {
		t.Fatalf("StartRealtimeSync() error = %v", err)
	}
	t.Cleanup(f.engine.StopRealtimeSync)
	if !f.engine.RealtimeActive() {
		t.Fatal("RealtimeActive() = false after start")
	}

	// Restarting replaces the running subscription.
	if err := f.engine.StartRealtimeSync(ctx); err != nil {
		t.Fatalf("StartRealtimeSync() again error = %v", err)
	}

	f.remote.Put(cubeo.CollectionLexicon, lexiconDoc("w4", "pájaro", "wɨdɨ", f.clock.Now().Add(time.Minute)))

	deadline := time.Now().Add(5 * time.Second)
	for {
		e, err := f.store.FindLexicon(ctx, "pajaro", cubeo.SpanishToPamiwa)
		if err != nil {
			t.Fatalf("FindLexicon() error = %v", err)
		}
		if e != nil {
			if e.TargetWord != "wɨdɨ" {
				t.Errorf("TargetWord = %q, want wɨdɨ", e.TargetWord)
			}
			break
		}
		if time.Now().After(deadline) {
			t.Fatal("realtime change was not applied")
		}
		time.Sleep(5 * time.Millisecond)
	}

	stats, err := f.engine.Stats(ctx)
	if err != nil {
		t.Fatalf("Stats() error = %v", err)
	}
	if !stats.Realtime {
		t.Error("Stats().Realtime = false while subscribed")
	}

	f.engine.StopRealtimeSync()
	if f.engine.RealtimeActive() {
		t.Error("RealtimeActive() = true after stop")
	}
	f.engine.StopRealtimeSync()
}
