package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"

	"cubeo/internal/config"
	"cubeo/internal/cubeo"
	"cubeo/internal/database"
	"cubeo/internal/mtclient"
	"cubeo/internal/remote"
	"cubeo/internal/review"
	"cubeo/internal/similarity"
)

// App is the application layer between the CLI and the cubeo services.
// It constructs all dependencies from config, exposes high-level operations
// that accept raw strings, and manages the store lifecycle on Close.
type App struct {
	cfg         *config.Config
	store       *database.SQLiteStore
	corpus      remote.Corpus
	resolver    *cubeo.Resolver
	sync        *cubeo.SyncEngine
	corrections *cubeo.CorrectionService
	keys        *review.Keys
	logger      cubeo.Logger
	clock       cubeo.Clock
	op          *Operation
	logFile     *os.File
}

// New creates a fully wired App from the given config.
// operation identifies the CLI command being run (e.g. "Translate", "Sync").
// The caller must call Close when done.
func New(ctx context.Context, cfg *config.Config, operation string) (*App, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	clock := cubeo.RealClock{}
	op := NewOperation(operation, clock.Now())

	sl, logFile, err := newLogger(cfg.LogDir, op.ID, parseLevel(cfg.LogLevel))
	if err != nil {
		return nil, fmt.Errorf("creating logger: %w", err)
	}
	logger := &slogAdapter{l: sl}

	store, err := database.NewStoreFromConfig(cfg.Database)
	if err != nil {
		logFile.Close()
		return nil, fmt.Errorf("creating store: %w", err)
	}

	if err := store.CheckMigrations(); err != nil {
		store.Close()
		logFile.Close()
		return nil, fmt.Errorf("database schema out of date: %w", err)
	}

	corpus, err := remote.NewCorpusFromConfig(ctx, cfg.Remote)
	if err != nil {
		store.Close()
		logFile.Close()
		return nil, fmt.Errorf("creating remote corpus: %w", err)
	}

	var client cubeo.TranslationClient
	if cfg.Translator.Type == "http" {
		client = mtclient.New(cfg.Translator.BaseURL, logger)
	}

	resolver := cubeo.NewResolver(store, store, client, newScorer(cfg.Resolver), logger, clock, cubeo.ResolverOptions{
		SimilarityThreshold: cfg.Resolver.SimilarityThreshold,
		HybridThreshold:     cfg.Resolver.HybridThreshold,
		MaxSimilar:          cfg.Resolver.MaxSimilar,
		RemoteTimeout:       cfg.Translator.Timeout,
		CacheTTL:            cfg.Resolver.CacheTTL,
	})

	engine := cubeo.NewSyncEngine(store, corpus, logger, clock, cubeo.SyncOptions{
		BatchSize:  cfg.Sync.BatchSize,
		StaleAfter: cfg.Sync.StaleAfter,
	})

	corrections := cubeo.NewCorrectionService(store, store, corpus, logger, clock, cubeo.UUIDGenerator{}, cubeo.CorrectionOptions{
		ReportThreshold: cfg.Corrections.ReportThreshold,
	})

	logger.Debug("app initialized", "operation", operation, "database", cfg.Database.Type, "remote", cfg.Remote.Type, "translator", cfg.Translator.Type)

	return &App{
		cfg:         cfg,
		store:       store,
		corpus:      corpus,
		resolver:    resolver,
		sync:        engine,
		corrections: corrections,
		keys:        review.NewKeys(cfg.Review),
		logger:      logger,
		clock:       clock,
		op:          op,
		logFile:     logFile,
	}, nil
}

func newScorer(cfg config.ResolverConfig) *similarity.Scorer {
	switch {
	case cfg.DisableLengthGuard:
		return similarity.New(similarity.WithLengthGuard(0))
	case cfg.LengthGuard > 0:
		return similarity.New(similarity.WithLengthGuard(cfg.LengthGuard))
	default:
		return similarity.New()
	}
}

// Translate parses direction and mode and runs the translation pipeline.
func (a *App) Translate(ctx context.Context, text, direction, mode string) (*cubeo.Translation, error) {
	dir, err := cubeo.ParseDirection(direction)
	if err != nil {
		return nil, a.op.Record(err)
	}
	m, err := cubeo.ParseMode(mode)
	if err != nil {
		return nil, a.op.Record(err)
	}
	t, err := a.resolver.Translate(ctx, cubeo.Request{Text: text, Direction: dir, Mode: m})
	if err != nil && t == nil {
		return nil, a.op.Record(err)
	}
	// A translation with an error means the cache write failed.
	if err != nil {
		a.logger.Warn("translation not cached", "error", err)
	}
	return t, nil
}

// Sync brings the local corpus up to date. force clears the local corpus
// and pulls everything; ifNeeded skips the pull when the corpus is fresh.
// It returns the number of records applied per collection, or nil when
// the pull was skipped.
func (a *App) Sync(ctx context.Context, force, ifNeeded bool) (map[cubeo.Collection]int, error) {
	switch {
	case force:
		counts, err := a.sync.ForceResync(ctx)
		return counts, a.op.Record(err)
	case ifNeeded:
		needed, err := a.sync.NeedsSync(ctx)
		if err != nil {
			return nil, a.op.Record(err)
		}
		if !needed {
			return nil, nil
		}
	}
	counts, err := a.sync.PerformFullSync(ctx)
	return counts, a.op.Record(err)
}

// SyncStatus reports the per-collection sync state and whether a pull is
// due.
func (a *App) SyncStatus(ctx context.Context) (*cubeo.SyncStats, bool, error) {
	stats, err := a.sync.Stats(ctx)
	if err != nil {
		return nil, false, a.op.Record(err)
	}
	needed, err := a.sync.NeedsSync(ctx)
	if err != nil {
		return nil, false, a.op.Record(err)
	}
	return stats, needed, nil
}

// Watch pulls if the corpus is stale, then applies live changes until ctx
// is done. onState receives every sync state transition.
func (a *App) Watch(ctx context.Context, onState func(cubeo.SyncState)) error {
	if onState != nil {
		a.sync.OnStateChange(onState)
	}
	if _, err := a.sync.SyncIfNeeded(ctx); err != nil {
		return a.op.Record(err)
	}
	if err := a.sync.StartRealtimeSync(ctx); err != nil {
		return a.op.Record(err)
	}
	<-ctx.Done()
	a.sync.StopRealtimeSync()
	return nil
}

// SubmitCorrection records a user correction. An empty submitter falls
// back to the configured one.
func (a *App) SubmitCorrection(ctx context.Context, sub cubeo.Submission) (*cubeo.UserCorrection, cubeo.Verdict, error) {
	if sub.SubmitterID == "" {
		sub.SubmitterID = a.cfg.Corrections.SubmitterID
	}
	c, v, err := a.corrections.Submit(ctx, sub)
	return c, v, a.op.Record(err)
}

// ListCorrections returns corrections with the given status, or all of
// them when status is empty.
func (a *App) ListCorrections(ctx context.Context, status string, limit int) ([]*cubeo.UserCorrection, error) {
	cs, err := a.corrections.List(ctx, cubeo.ValidationStatus(status), limit)
	return cs, a.op.Record(err)
}

// ReviewCorrection applies a single expert decision.
func (a *App) ReviewCorrection(ctx context.Context, d cubeo.Decision) (*cubeo.UserCorrection, error) {
	c, err := a.corrections.Review(ctx, d)
	return c, a.op.Record(err)
}

// ReportCorrection flags a correction as wrong.
func (a *App) ReportCorrection(ctx context.Context, id string) (*cubeo.UserCorrection, error) {
	c, err := a.corrections.Report(ctx, id)
	return c, a.op.Record(err)
}

// SetupReviewKeys generates the reviewer key pair.
func (a *App) SetupReviewKeys(passphrase string) error {
	if a.keys.IsConfigured() {
		return a.op.Record(fmt.Errorf("reviewer keys already exist at %s", a.cfg.Review.PublicKeyPath))
	}
	return a.op.Record(a.keys.Setup(passphrase))
}

// ExportReview seals up to limit pending corrections to the reviewer's
// key and writes the bundle to w. It returns the number exported.
func (a *App) ExportReview(ctx context.Context, w io.Writer, limit int) (int, error) {
	pending, err := a.corrections.List(ctx, cubeo.StatusPending, limit)
	if err != nil {
		return 0, a.op.Record(err)
	}
	if err := a.keys.Seal(w, review.NewBundle(pending, a.clock.Now())); err != nil {
		return 0, a.op.Record(fmt.Errorf("sealing review bundle: %w", err))
	}
	a.logger.Info("review bundle exported", "corrections", len(pending))
	return len(pending), nil
}

// OpenReview decrypts a review bundle and writes a decisions template for
// it to w.
func (a *App) OpenReview(passphrase string, r io.Reader, w io.Writer) (*review.Bundle, error) {
	reviewer, err := a.keys.Unlock(passphrase)
	if err != nil {
		return nil, a.op.Record(fmt.Errorf("unlocking reviewer key: %w", err))
	}
	b, err := reviewer.Open(r)
	if err != nil {
		return nil, a.op.Record(err)
	}
	if err := review.WriteDecisions(w, b.Template()); err != nil {
		return nil, a.op.Record(err)
	}
	return b, nil
}

// ApplyDecisions reads a decisions file and reviews each correction in
// it. Failed decisions are reported together; the others still apply.
func (a *App) ApplyDecisions(ctx context.Context, r io.Reader) (int, error) {
	ds, err := review.ReadDecisions(r)
	if err != nil {
		return 0, a.op.Record(err)
	}

	applied := 0
	var errs []error
	for _, d := range ds {
		if _, err := a.corrections.Review(ctx, d); err != nil {
			errs = append(errs, fmt.Errorf("correction %s: %w", d.CorrectionID, err))
			continue
		}
		applied++
	}
	return applied, a.op.Record(errors.Join(errs...))
}

// CacheStats returns corpus and cache sizes.
func (a *App) CacheStats(ctx context.Context) (*cubeo.CorpusStats, error) {
	s, err := a.resolver.Stats(ctx)
	return s, a.op.Record(err)
}

// PruneCache removes expired translations from the cache.
func (a *App) PruneCache(ctx context.Context) (int, error) {
	n, err := a.resolver.PruneCache(ctx)
	return n, a.op.Record(err)
}

// Health probes the remote translation model.
func (a *App) Health(ctx context.Context) (*cubeo.Health, error) {
	h, err := a.resolver.Health(ctx)
	return h, a.op.Record(err)
}

// BackupDatabase writes a consistent snapshot of the local store to path.
func (a *App) BackupDatabase(ctx context.Context, path string) error {
	if _, err := os.Stat(path); err == nil {
		return a.op.Record(fmt.Errorf("backup target %s already exists", path))
	}
	if err := a.store.BackupTo(ctx, path); err != nil {
		return a.op.Record(err)
	}
	a.logger.Info("database backed up", "path", path)
	return nil
}

// Close stops live sync, logs the operation outcome and closes all
// resources.
func (a *App) Close() error {
	a.sync.StopRealtimeSync()

	elapsed := a.op.Elapsed(a.clock.Now())
	if a.op.Failed() {
		a.logger.Warn("operation finished", "operation", a.op.Name, "status", a.op.Status, "elapsed", elapsed)
	} else {
		a.logger.Debug("operation finished", "operation", a.op.Name, "status", a.op.Status, "elapsed", elapsed)
	}

	var firstErr error
	if err := a.store.Close(); err != nil {
		firstErr = fmt.Errorf("closing store: %w", err)
	}

	if a.logFile != nil {
		a.logFile.Close()
	}

	return firstErr
}
