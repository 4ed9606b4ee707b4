package cubeo

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/samber/lo"
	"golang.org/x/sync/errgroup"
)

const (
	// DefaultBatchSize bounds the rows written per store call during sync.
	DefaultBatchSize = 100

	// DefaultStaleAfter is the age after which SyncIfNeeded pulls again.
	DefaultStaleAfter = 6 * time.Hour
)

// SyncState is the state of the sync engine. It is one of SyncIdle,
// SyncInProgress, SyncSuccess or SyncError.
type SyncState interface {
	syncState()
}

// SyncIdle means no sync is running.
type SyncIdle struct{}

// SyncInProgress reports progress of a running full sync.
type SyncInProgress struct {
	Percent int
	Message string
}

// SyncSuccess carries the number of rows written per collection.
type SyncSuccess struct {
	Counts map[Collection]int
}

// SyncError carries the failure of the last sync.
type SyncError struct {
	Message string
}

func (SyncIdle) syncState()       {}
func (SyncInProgress) syncState() {}
func (SyncSuccess) syncState()    {}
func (SyncError) syncState()      {}

// SyncOptions tunes the sync engine. Zero values select the defaults.
type SyncOptions struct {
	BatchSize  int
	StaleAfter time.Duration
}

func (o SyncOptions) withDefaults() SyncOptions {
	if o.BatchSize <= 0 {
		o.BatchSize = DefaultBatchSize
	}
	if o.StaleAfter <= 0 {
		o.StaleAfter = DefaultStaleAfter
	}
	return o
}

// SyncEngine keeps the local corpus in step with the remote corpus using
// per-collection watermarks and live subscriptions.
type SyncEngine struct {
	store  CorpusStore
	remote RemoteCorpus
	logger Logger
	clock  Clock
	opts   SyncOptions

	mu       sync.Mutex
	state    SyncState
	listener func(SyncState)

	// syncMu serializes full syncs.
	syncMu sync.Mutex

	// wmMu serializes watermark read-modify-write between full sync and
	// realtime consumers.
	wmMu sync.Mutex

	rtMu     sync.Mutex
	rtCancel context.CancelFunc
	rtGroup  *errgroup.Group
}

// NewSyncEngine creates a SyncEngine in the Idle state.
func NewSyncEngine(store CorpusStore, remote RemoteCorpus, logger Logger, clock Clock, opts SyncOptions) *SyncEngine {
	return &SyncEngine{
		store:  store,
		remote: remote,
		logger: logger,
		clock:  clock,
		opts:   opts.withDefaults(),
		state:  SyncIdle{},
	}
}

// OnStateChange registers fn to be called on every state transition.
// fn must not call back into the engine.
func (e *SyncEngine) OnStateChange(fn func(SyncState)) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.listener = fn
}

// State returns the current state.
func (e *SyncEngine) State() SyncState {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.state
}

func (e *SyncEngine) setState(s SyncState) {
	e.mu.Lock()
	e.state = s
	fn := e.listener
	e.mu.Unlock()

	if fn != nil {
		fn(s)
	}
}

// PerformFullSync pulls every collection incrementally from its
// watermark. It stops at the first failing collection; collections synced
// before it keep their advanced watermark.
func (e *SyncEngine) PerformFullSync(ctx context.Context) (map[Collection]int, error) {
	e.syncMu.Lock()
	defer e.syncMu.Unlock()

	switch e.State().(type) {
	case SyncSuccess, SyncError:
		e.setState(SyncIdle{})
	}
	e.setState(SyncInProgress{Percent: 0, Message: "starting sync"})

	counts := make(map[Collection]int, len(Collections))
	span := 100 / len(Collections)
	for i, c := range Collections {
		n, err := e.syncCollection(ctx, c, i*span, span)
		if err != nil {
			e.logger.Error("sync failed", "collection", c, "error", err)
			e.setState(SyncError{Message: err.Error()})
			return counts, fmt.Errorf("syncing %s: %w", c, err)
		}
		counts[c] = n
	}

	e.logger.Info("sync completed", "words", counts[CollectionLexicon], "sentences", counts[CollectionSentences])
	e.setState(SyncSuccess{Counts: counts})
	return counts, nil
}

// syncCollection pulls and stores one collection. Progress is reported
// in [base, base+span].
func (e *SyncEngine) syncCollection(ctx context.Context, c Collection, base, span int) (int, error) {
	wm, err := e.watermark(ctx, c)
	if err != nil {
		return 0, err
	}
	since := wm.LastSync

	if err := e.markStatus(ctx, c, SyncStatusInProgress); err != nil {
		return 0, err
	}

	docs, err := e.remote.Query(ctx, c, since)
	if err != nil {
		e.markFailed(ctx, c)
		return 0, fmt.Errorf("querying remote: %w", err)
	}
	e.logger.Debug("pulled documents", "collection", c, "count", len(docs), "since", since)

	n, err := e.applyDocuments(ctx, c, docs, func(done, total int) {
		e.setState(SyncInProgress{
			Percent: base + span*done/total,
			Message: fmt.Sprintf("syncing %s (%d/%d)", c, done, total),
		})
	})
	if err != nil {
		e.markFailed(ctx, c)
		return n, err
	}

	if err := e.advance(ctx, c, n); err != nil {
		return n, err
	}
	e.setState(SyncInProgress{Percent: base + span, Message: fmt.Sprintf("synced %s", c)})
	return n, nil
}

// applyDocuments decodes docs, skipping those that fail, and upserts the
// rest in batches. progress is called after each batch.
func (e *SyncEngine) applyDocuments(ctx context.Context, c Collection, docs []Document, progress func(done, total int)) (int, error) {
	now := e.clock.Now()

	switch c {
	case CollectionLexicon:
		entries := make([]*LexiconEntry, 0, len(docs))
		for _, doc := range docs {
			entry, report, err := DecodeLexicon(doc, now)
			if err != nil {
				e.logger.Warn("skipping lexicon document", "id", doc.ID, "error", err)
				continue
			}
			e.logReport(c, doc.ID, report)
			entries = append(entries, entry)
		}
		return upsertChunked(ctx, entries, e.opts.BatchSize, e.store.UpsertLexicon, progress)

	case CollectionSentences:
		entries := make([]*SentenceEntry, 0, len(docs))
		for _, doc := range docs {
			entry, report, err := DecodeSentence(doc, now)
			if err != nil {
				e.logger.Warn("skipping sentence document", "id", doc.ID, "error", err)
				continue
			}
			e.logReport(c, doc.ID, report)
			entries = append(entries, entry)
		}
		return upsertChunked(ctx, entries, e.opts.BatchSize, e.store.UpsertSentences, progress)
	}
	return 0, fmt.Errorf("unknown collection %q", c)
}

func upsertChunked[T any](ctx context.Context, entries []T, size int, upsert func(context.Context, []T) error, progress func(done, total int)) (int, error) {
	done := 0
	for _, chunk := range lo.Chunk(entries, size) {
		if err := upsert(ctx, chunk); err != nil {
			return done, fmt.Errorf("storing batch: %w", err)
		}
		done += len(chunk)
		if progress != nil {
			progress(done, len(entries))
		}
	}
	return done, nil
}

func (e *SyncEngine) logReport(c Collection, id string, r *DecodeReport) {
	if r.Empty() {
		return
	}
	e.logger.Debug("decoded with fallbacks", "collection", c, "id", id,
		"defaulted", r.Defaulted, "skipped", r.Skipped)
}

func (e *SyncEngine) watermark(ctx context.Context, c Collection) (*SyncWatermark, error) {
	wm, err := e.store.GetWatermark(ctx, c)
	if err != nil {
		return nil, fmt.Errorf("reading watermark: %w", err)
	}
	if wm == nil {
		wm = &SyncWatermark{Collection: c, Status: SyncStatusNever}
	}
	return wm, nil
}

func (e *SyncEngine) markStatus(ctx context.Context, c Collection, status SyncStatus) error {
	e.wmMu.Lock()
	defer e.wmMu.Unlock()

	wm, err := e.watermark(ctx, c)
	if err != nil {
		return err
	}
	wm.Status = status
	if err := e.store.PutWatermark(ctx, wm); err != nil {
		return fmt.Errorf("writing watermark: %w", err)
	}
	return nil
}

// markFailed records the error status without touching the timestamp.
// The store failure, if any, is only logged so the original error wins.
func (e *SyncEngine) markFailed(ctx context.Context, c Collection) {
	if err := e.markStatus(context.WithoutCancel(ctx), c, SyncStatusError); err != nil {
		e.logger.Warn("recording sync failure", "collection", c, "error", err)
	}
}

// advance moves the watermark to now, never backwards, and adds n to the
// known record count.
func (e *SyncEngine) advance(ctx context.Context, c Collection, n int) error {
	e.wmMu.Lock()
	defer e.wmMu.Unlock()

	wm, err := e.watermark(ctx, c)
	if err != nil {
		return err
	}
	if now := e.clock.Now(); now.After(wm.LastSync) {
		wm.LastSync = now
	}
	wm.TotalRecords += n
	wm.Status = SyncStatusCompleted
	if err := e.store.PutWatermark(ctx, wm); err != nil {
		return fmt.Errorf("writing watermark: %w", err)
	}
	return nil
}

// NeedsSync reports whether any collection was never synced, last failed,
// or is older than the staleness window.
func (e *SyncEngine) NeedsSync(ctx context.Context) (bool, error) {
	now := e.clock.Now()
	for _, c := range Collections {
		wm, err := e.store.GetWatermark(ctx, c)
		if err != nil {
			return false, fmt.Errorf("reading watermark: %w", err)
		}
		if wm == nil || wm.LastSync.IsZero() || wm.Status != SyncStatusCompleted {
			return true, nil
		}
		if now.Sub(wm.LastSync) > e.opts.StaleAfter {
			return true, nil
		}
	}
	return false, nil
}

// SyncIfNeeded runs a full sync when NeedsSync holds. It reports whether
// a sync ran.
func (e *SyncEngine) SyncIfNeeded(ctx context.Context) (bool, error) {
	need, err := e.NeedsSync(ctx)
	if err != nil {
		return false, err
	}
	if !need {
		e.logger.Debug("sync not needed")
		return false, nil
	}
	_, err = e.PerformFullSync(ctx)
	return true, err
}

// ForceResync clears the local corpus and watermarks, then pulls
// everything again.
func (e *SyncEngine) ForceResync(ctx context.Context) (map[Collection]int, error) {
	if err := e.store.ClearCorpus(ctx); err != nil {
		return nil, fmt.Errorf("clearing corpus: %w", err)
	}
	e.logger.Info("corpus cleared for resync")
	return e.PerformFullSync(ctx)
}

// HasLocalData reports whether the local corpus holds any active row.
func (e *SyncEngine) HasLocalData(ctx context.Context) (bool, error) {
	for _, c := range Collections {
		n, err := e.store.CountActive(ctx, c)
		if err != nil {
			return false, fmt.Errorf("counting %s: %w", c, err)
		}
		if n > 0 {
			return true, nil
		}
	}
	return false, nil
}

// CollectionStats describes the sync status of one collection.
type CollectionStats struct {
	Collection   Collection
	Active       int
	TotalRecords int
	LastSync     time.Time
	Status       SyncStatus
}

// SyncStats describes the sync status of every collection.
type SyncStats struct {
	Collections []CollectionStats
	Realtime    bool
}

// Stats returns per-collection counts and watermarks.
func (e *SyncEngine) Stats(ctx context.Context) (*SyncStats, error) {
	stats := &SyncStats{Realtime: e.RealtimeActive()}
	for _, c := range Collections {
		n, err := e.store.CountActive(ctx, c)
		if err != nil {
			return nil, fmt.Errorf("counting %s: %w", c, err)
		}
		wm, err := e.watermark(ctx, c)
		if err != nil {
			return nil, err
		}
		stats.Collections = append(stats.Collections, CollectionStats{
			Collection:   c,
			Active:       n,
			TotalRecords: wm.TotalRecords,
			LastSync:     wm.LastSync,
			Status:       wm.Status,
		})
	}
	return stats, nil
}

// StartRealtimeSync subscribes to every collection from its watermark and
// applies changes as they arrive. A running subscription is stopped
// first. The subscription ends on StopRealtimeSync or when ctx is done.
func (e *SyncEngine) StartRealtimeSync(ctx context.Context) error {
	e.StopRealtimeSync()

	e.rtMu.Lock()
	defer e.rtMu.Unlock()

	rtCtx, cancel := context.WithCancel(ctx)
	g, gctx := errgroup.WithContext(rtCtx)

	for _, c := range Collections {
		wm, err := e.watermark(gctx, c)
		if err != nil {
			cancel()
			_ = g.Wait()
			return err
		}
		ch, err := e.remote.Subscribe(gctx, c, wm.LastSync)
		if err != nil {
			cancel()
			_ = g.Wait()
			return fmt.Errorf("subscribing to %s: %w", c, err)
		}
		g.Go(func() error {
			e.consume(gctx, c, ch)
			return nil
		})
	}

	e.rtCancel = cancel
	e.rtGroup = g
	e.logger.Info("realtime sync started")
	return nil
}

// StopRealtimeSync cancels the subscriptions and waits for their
// consumers to exit. It is safe to call when nothing is running.
func (e *SyncEngine) StopRealtimeSync() {
	e.rtMu.Lock()
	defer e.rtMu.Unlock()

	if e.rtCancel == nil {
		return
	}
	e.rtCancel()
	_ = e.rtGroup.Wait()
	e.rtCancel = nil
	e.rtGroup = nil
	e.logger.Info("realtime sync stopped")
}

// RealtimeActive reports whether subscriptions are running.
func (e *SyncEngine) RealtimeActive() bool {
	e.rtMu.Lock()
	defer e.rtMu.Unlock()
	return e.rtCancel != nil
}

func (e *SyncEngine) consume(ctx context.Context, c Collection, ch <-chan ChangeBatch) {
	for {
		select {
		case <-ctx.Done():
			return
		case batch, ok := <-ch:
			if !ok {
				return
			}
			e.applyBatch(ctx, c, batch)
		}
	}
}

func (e *SyncEngine) applyBatch(ctx context.Context, c Collection, batch ChangeBatch) {
	if batch.Err != nil {
		e.logger.Warn("realtime subscription error", "collection", c, "error", batch.Err)
		return
	}

	docs := lo.FilterMap(batch.Changes, func(ch Change, _ int) (Document, bool) {
		return ch.Document, ch.Type == ChangeAdded || ch.Type == ChangeModified
	})
	if len(docs) == 0 {
		return
	}

	n, err := e.applyDocuments(ctx, c, docs, nil)
	if err != nil {
		e.logger.Error("applying realtime changes", "collection", c, "error", err)
		return
	}
	if err := e.advance(ctx, c, n); err != nil {
		e.logger.Error("advancing watermark", "collection", c, "error", err)
		return
	}
	e.logger.Info("realtime changes applied", "collection", c, "count", n)
}
