package database

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	sq "github.com/Masterminds/squirrel"
	"github.com/samber/lo"

	"cubeo/internal/cubeo"
	"cubeo/internal/database/migrations"
	"cubeo/internal/textnorm"

	_ "github.com/mattn/go-sqlite3" // SQLite driver
)

// insertBatch bounds the rows of one multi-row INSERT, keeping it under
// SQLite's bound-variable limit.
const insertBatch = 200

// SQLiteStore implements cubeo.CorpusStore and cubeo.CorrectionStore on
// SQLite.
type SQLiteStore struct {
	db   *sql.DB
	path string
}

var (
	_ cubeo.CorpusStore     = (*SQLiteStore)(nil)
	_ cubeo.CorrectionStore = (*SQLiteStore)(nil)
)

// NewSQLiteStore opens a store. path can be a file path or ":memory:".
// The schema is not migrated; call Migrate.
func NewSQLiteStore(path string) (*SQLiteStore, error) {
	db, err := OpenConnection(path)
	if err != nil {
		return nil, err
	}
	return &SQLiteStore{db: db, path: path}, nil
}

// NewSQLiteStoreFromDB wraps an existing connection.
// The caller is responsible for ensuring the connection is properly configured.
func NewSQLiteStoreFromDB(db *sql.DB) *SQLiteStore {
	return &SQLiteStore{db: db}
}

// OpenConnection opens and configures a SQLite connection.
// An in-memory database is limited to one connection, since every
// connection would otherwise see its own empty database.
func OpenConnection(path string) (*sql.DB, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	if path == ":memory:" {
		db.SetMaxOpenConns(1)
	}

	pragmas := []string{
		"PRAGMA foreign_keys = ON",
		"PRAGMA busy_timeout = 5000",
	}
	for _, p := range pragmas {
		if _, err := db.Exec(p); err != nil {
			db.Close()
			return nil, fmt.Errorf("failed to set %q: %w", p, err)
		}
	}
	return db, nil
}

// Migrate applies pending schema migrations.
func (s *SQLiteStore) Migrate() error {
	return migrations.Up(s.db)
}

// CheckMigrations returns an error if the schema is not current.
func (s *SQLiteStore) CheckMigrations() error {
	return migrations.Check(s.db)
}

// SchemaStatus reports the current and latest schema versions.
func (s *SQLiteStore) SchemaStatus() (migrations.Status, error) {
	return migrations.ReadStatus(s.db)
}

// BackupTo writes a consistent copy of the database to path, which must
// not exist.
func (s *SQLiteStore) BackupTo(ctx context.Context, path string) error {
	if _, err := s.db.ExecContext(ctx, "VACUUM INTO ?", path); err != nil {
		return fmt.Errorf("backing up database to %s: %w", path, err)
	}
	return nil
}

// Path returns the database file path (or ":memory:").
func (s *SQLiteStore) Path() string {
	return s.path
}

// Close closes the connection.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// Lexicon

const lexiconColumns = "id, source_word, target_word, meaning, category, active, provenance, confidence, created_at"

func (s *SQLiteStore) FindLexicon(ctx context.Context, word string, dir cubeo.Direction) (*cubeo.LexiconEntry, error) {
	col := "source_norm"
	if dir == cubeo.PamiwaToSpanish {
		col = "target_norm"
	}
	row := s.db.QueryRowContext(ctx,
		"SELECT "+lexiconColumns+" FROM lexicon WHERE "+col+" = ? AND active = 1 ORDER BY confidence DESC, created_at DESC LIMIT 1",
		word)
	e, err := scanLexicon(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("finding lexicon entry: %w", err)
	}
	return e, nil
}

func (s *SQLiteStore) FindLexiconBySource(ctx context.Context, sourceWord string) (*cubeo.LexiconEntry, error) {
	row := s.db.QueryRowContext(ctx,
		"SELECT "+lexiconColumns+" FROM lexicon WHERE source_norm = ? ORDER BY active DESC, created_at DESC LIMIT 1",
		sourceWord)
	e, err := scanLexicon(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("finding lexicon entry by source: %w", err)
	}
	return e, nil
}

func (s *SQLiteStore) UpsertLexicon(ctx context.Context, entries []*cubeo.LexiconEntry) error {
	if len(entries) == 0 {
		return nil
	}
	return s.inTx(ctx, func(tx *sql.Tx) error {
		for _, chunk := range lo.Chunk(entries, insertBatch) {
			ins := sq.Insert("lexicon").Options("OR REPLACE").
				Columns("id", "source_word", "target_word", "source_norm", "target_norm",
					"meaning", "category", "active", "provenance", "confidence", "created_at")
			for _, e := range chunk {
				ins = ins.Values(e.ID, e.SourceWord, e.TargetWord,
					textnorm.Normalize(e.SourceWord), textnorm.Normalize(e.TargetWord),
					e.Meaning, e.Category, e.Active, e.Provenance, e.Confidence, toMillis(e.CreatedAt))
			}
			query, args, err := ins.ToSql()
			if err != nil {
				return fmt.Errorf("building lexicon upsert: %w", err)
			}
			if _, err := tx.ExecContext(ctx, query, args...); err != nil {
				return fmt.Errorf("upserting lexicon entries: %w", err)
			}
		}
		return nil
	})
}

func scanLexicon(row rowScanner) (*cubeo.LexiconEntry, error) {
	var e cubeo.LexiconEntry
	var created int64
	err := row.Scan(&e.ID, &e.SourceWord, &e.TargetWord, &e.Meaning, &e.Category,
		&e.Active, &e.Provenance, &e.Confidence, &created)
	if err != nil {
		return nil, err
	}
	e.CreatedAt = fromMillis(created)
	return &e, nil
}

// Sentences

const sentenceColumns = "id, family, gender, present_es, present_pam, past_es, past_pam, future_es, future_pam, " +
	"keywords, variant_count, confidence, provenance, active, created_at"

// normColumn names the normalized column of a tense slot on the input side
// of dir.
func normColumn(t cubeo.Tense, dir cubeo.Direction) string {
	side := "es"
	if dir == cubeo.PamiwaToSpanish {
		side = "pam"
	}
	return string(t) + "_" + side + "_norm"
}

func (s *SQLiteStore) FindSentence(ctx context.Context, text string, dir cubeo.Direction) (*cubeo.SentenceEntry, cubeo.Tense, error) {
	for _, tense := range cubeo.Tenses {
		row := s.db.QueryRowContext(ctx,
			"SELECT "+sentenceColumns+" FROM sentences WHERE "+normColumn(tense, dir)+" = ? AND active = 1 ORDER BY confidence DESC, created_at DESC LIMIT 1",
			text)
		e, err := scanSentence(row)
		if errors.Is(err, sql.ErrNoRows) {
			continue
		}
		if err != nil {
			return nil, "", fmt.Errorf("finding sentence: %w", err)
		}
		return e, tense, nil
	}
	return nil, "", nil
}

func (s *SQLiteStore) SearchSentences(ctx context.Context, dir cubeo.Direction, keywords []string, limit int) ([]*cubeo.SentenceEntry, error) {
	keywords = lo.Compact(keywords)
	if len(keywords) == 0 {
		return nil, nil
	}

	var matches sq.Or
	for _, kw := range keywords {
		pattern := "%" + escapeLike(kw) + "%"
		for _, tense := range cubeo.Tenses {
			matches = append(matches, sq.Expr(normColumn(tense, dir)+" LIKE ? ESCAPE '\\'", pattern))
		}
	}
	sel := sq.Select(sentenceColumns).From("sentences").
		Where(sq.Eq{"active": 1}).
		Where(matches).
		OrderBy("confidence DESC", "created_at DESC")
	if limit > 0 {
		sel = sel.Limit(uint64(limit))
	}

	query, args, err := sel.ToSql()
	if err != nil {
		return nil, fmt.Errorf("building sentence search: %w", err)
	}
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("searching sentences: %w", err)
	}
	defer rows.Close()

	var result []*cubeo.SentenceEntry
	for rows.Next() {
		e, err := scanSentence(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning sentence: %w", err)
		}
		result = append(result, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("searching sentences: %w", err)
	}
	return result, nil
}

func (s *SQLiteStore) UpsertSentences(ctx context.Context, entries []*cubeo.SentenceEntry) error {
	if len(entries) == 0 {
		return nil
	}
	return s.inTx(ctx, func(tx *sql.Tx) error {
		for _, chunk := range lo.Chunk(entries, insertBatch/2) {
			ins := sq.Insert("sentences").Options("OR REPLACE").
				Columns("id", "family", "gender",
					"present_es", "present_pam", "past_es", "past_pam", "future_es", "future_pam",
					"present_es_norm", "present_pam_norm", "past_es_norm", "past_pam_norm", "future_es_norm", "future_pam_norm",
					"keywords", "variant_count", "confidence", "provenance", "active", "created_at")
			for _, e := range chunk {
				keywords, err := json.Marshal(lo.Compact(e.Keywords))
				if err != nil {
					return fmt.Errorf("encoding keywords of %s: %w", e.ID, err)
				}
				ins = ins.Values(e.ID, e.Family, e.Gender,
					e.Present.Source, e.Present.Target, e.Past.Source, e.Past.Target, e.Future.Source, e.Future.Target,
					textnorm.Normalize(e.Present.Source), textnorm.Normalize(e.Present.Target),
					textnorm.Normalize(e.Past.Source), textnorm.Normalize(e.Past.Target),
					textnorm.Normalize(e.Future.Source), textnorm.Normalize(e.Future.Target),
					string(keywords), e.VariantCount, e.Confidence, e.Provenance, e.Active, toMillis(e.CreatedAt))
			}
			query, args, err := ins.ToSql()
			if err != nil {
				return fmt.Errorf("building sentence upsert: %w", err)
			}
			if _, err := tx.ExecContext(ctx, query, args...); err != nil {
				return fmt.Errorf("upserting sentence entries: %w", err)
			}
		}
		return nil
	})
}

func scanSentence(row rowScanner) (*cubeo.SentenceEntry, error) {
	var e cubeo.SentenceEntry
	var keywords string
	var created int64
	err := row.Scan(&e.ID, &e.Family, &e.Gender,
		&e.Present.Source, &e.Present.Target, &e.Past.Source, &e.Past.Target, &e.Future.Source, &e.Future.Target,
		&keywords, &e.VariantCount, &e.Confidence, &e.Provenance, &e.Active, &created)
	if err != nil {
		return nil, err
	}
	if keywords != "" {
		if err := json.Unmarshal([]byte(keywords), &e.Keywords); err != nil {
			return nil, fmt.Errorf("decoding keywords of %s: %w", e.ID, err)
		}
	}
	e.CreatedAt = fromMillis(created)
	return &e, nil
}

func (s *SQLiteStore) CountActive(ctx context.Context, c cubeo.Collection) (int, error) {
	var table string
	switch c {
	case cubeo.CollectionLexicon:
		table = "lexicon"
	case cubeo.CollectionSentences:
		table = "sentences"
	default:
		return 0, fmt.Errorf("unknown collection %q", c)
	}
	var n int
	if err := s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM "+table+" WHERE active = 1").Scan(&n); err != nil {
		return 0, fmt.Errorf("counting %s: %w", table, err)
	}
	return n, nil
}

func (s *SQLiteStore) ClearCorpus(ctx context.Context) error {
	return s.inTx(ctx, func(tx *sql.Tx) error {
		for _, table := range []string{"lexicon", "sentences", "sync_watermarks"} {
			if _, err := tx.ExecContext(ctx, "DELETE FROM "+table); err != nil {
				return fmt.Errorf("clearing %s: %w", table, err)
			}
		}
		return nil
	})
}

// Translation cache

func (s *SQLiteStore) GetCachedTranslation(ctx context.Context, text string, dir cubeo.Direction, now time.Time) (*cubeo.TranslationCacheEntry, error) {
	var e cubeo.TranslationCacheEntry
	var created, expires int64
	err := s.db.QueryRowContext(ctx,
		`SELECT source_text, translated_text, direction, is_single_word, confidence, method, created_at, expires_at
		FROM translation_cache WHERE source_text = ? AND direction = ? AND expires_at > ?`,
		text, dir, toMillis(now)).
		Scan(&e.SourceText, &e.TranslatedText, &e.Direction, &e.IsSingleWord, &e.Confidence, &e.Method, &created, &expires)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("reading translation cache: %w", err)
	}
	e.CreatedAt = fromMillis(created)
	e.ExpiresAt = fromMillis(expires)
	return &e, nil
}

func (s *SQLiteStore) PutCachedTranslation(ctx context.Context, e *cubeo.TranslationCacheEntry) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT OR REPLACE INTO translation_cache
		(source_text, direction, translated_text, is_single_word, confidence, method, created_at, expires_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		e.SourceText, e.Direction, e.TranslatedText, e.IsSingleWord, e.Confidence, e.Method,
		toMillis(e.CreatedAt), toMillis(e.ExpiresAt))
	if err != nil {
		return fmt.Errorf("writing translation cache: %w", err)
	}
	return nil
}

func (s *SQLiteStore) PruneCache(ctx context.Context, now time.Time) (int, error) {
	res, err := s.db.ExecContext(ctx, "DELETE FROM translation_cache WHERE expires_at <= ?", toMillis(now))
	if err != nil {
		return 0, fmt.Errorf("pruning translation cache: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("pruning translation cache: %w", err)
	}
	return int(n), nil
}

func (s *SQLiteStore) CacheSize(ctx context.Context) (int, error) {
	var n int
	if err := s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM translation_cache").Scan(&n); err != nil {
		return 0, fmt.Errorf("counting translation cache: %w", err)
	}
	return n, nil
}

// Sync watermarks

func (s *SQLiteStore) GetWatermark(ctx context.Context, c cubeo.Collection) (*cubeo.SyncWatermark, error) {
	w := cubeo.SyncWatermark{Collection: c}
	var last int64
	err := s.db.QueryRowContext(ctx,
		"SELECT last_sync, total_records, status FROM sync_watermarks WHERE collection = ?", c).
		Scan(&last, &w.TotalRecords, &w.Status)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("reading watermark: %w", err)
	}
	w.LastSync = fromMillis(last)
	return &w, nil
}

// PutWatermark keeps the later of the stored and the given LastSync.
func (s *SQLiteStore) PutWatermark(ctx context.Context, w *cubeo.SyncWatermark) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO sync_watermarks (collection, last_sync, total_records, status)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(collection) DO UPDATE SET
			last_sync = MAX(last_sync, excluded.last_sync),
			total_records = excluded.total_records,
			status = excluded.status`,
		w.Collection, toMillis(w.LastSync), w.TotalRecords, w.Status)
	if err != nil {
		return fmt.Errorf("writing watermark: %w", err)
	}
	return nil
}

// Corrections

const correctionColumns = "id, original_text, ai_translation, correction, direction, original_method, original_confidence, " +
	"confidence, applied_immediately, status, expert_comment, expert_edit, submitter_id, created_at, reviewed_at, report_count"

func (s *SQLiteStore) AddCorrection(ctx context.Context, c *cubeo.UserCorrection) error {
	_, err := sq.Insert("user_corrections").
		Columns("id", "original_text", "original_norm", "ai_translation", "correction", "direction",
			"original_method", "original_confidence", "confidence", "applied_immediately", "status",
			"expert_comment", "expert_edit", "submitter_id", "created_at", "reviewed_at", "report_count").
		Values(c.ID, c.OriginalText, textnorm.Normalize(c.OriginalText), c.AITranslation, c.Correction, c.Direction,
			c.OriginalMethod, c.OriginalConfidence, c.Confidence, c.AppliedImmediately, c.Status,
			c.ExpertComment, c.ExpertEdit, c.SubmitterID, toMillis(c.Timestamp), toMillis(c.ReviewedAt), c.ReportCount).
		RunWith(s.db).
		ExecContext(ctx)
	if err != nil {
		return fmt.Errorf("inserting correction: %w", err)
	}
	return nil
}

func (s *SQLiteStore) LatestAppliedCorrection(ctx context.Context, text string, dir cubeo.Direction) (*cubeo.UserCorrection, error) {
	row := s.db.QueryRowContext(ctx,
		"SELECT "+correctionColumns+` FROM user_corrections
		WHERE original_norm = ? AND direction = ? AND applied_immediately = 1 AND status <> ?
		ORDER BY created_at DESC, rowid DESC LIMIT 1`,
		text, dir, cubeo.StatusRejected)
	c, err := scanCorrection(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("finding applied correction: %w", err)
	}
	return c, nil
}

func (s *SQLiteStore) GetCorrection(ctx context.Context, id string) (*cubeo.UserCorrection, error) {
	row := s.db.QueryRowContext(ctx, "SELECT "+correctionColumns+" FROM user_corrections WHERE id = ?", id)
	c, err := scanCorrection(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("finding correction: %w", err)
	}
	return c, nil
}

func (s *SQLiteStore) ListCorrections(ctx context.Context, status cubeo.ValidationStatus, limit int) ([]*cubeo.UserCorrection, error) {
	sel := sq.Select(correctionColumns).From("user_corrections").OrderBy("created_at DESC", "rowid DESC")
	if status != "" {
		sel = sel.Where(sq.Eq{"status": status})
	}
	if limit > 0 {
		sel = sel.Limit(uint64(limit))
	}

	query, args, err := sel.ToSql()
	if err != nil {
		return nil, fmt.Errorf("building correction list: %w", err)
	}
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("listing corrections: %w", err)
	}
	defer rows.Close()

	var result []*cubeo.UserCorrection
	for rows.Next() {
		c, err := scanCorrection(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning correction: %w", err)
		}
		result = append(result, c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("listing corrections: %w", err)
	}
	return result, nil
}

func (s *SQLiteStore) UpdateCorrection(ctx context.Context, c *cubeo.UserCorrection) error {
	res, err := sq.Update("user_corrections").
		SetMap(map[string]any{
			"confidence":          c.Confidence,
			"applied_immediately": c.AppliedImmediately,
			"status":              c.Status,
			"expert_comment":      c.ExpertComment,
			"expert_edit":         c.ExpertEdit,
			"reviewed_at":         toMillis(c.ReviewedAt),
			"report_count":        c.ReportCount,
		}).
		Where(sq.Eq{"id": c.ID}).
		RunWith(s.db).
		ExecContext(ctx)
	if err != nil {
		return fmt.Errorf("updating correction: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("updating correction: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("correction %s: %w", c.ID, cubeo.ErrNotFound)
	}
	return nil
}

func scanCorrection(row rowScanner) (*cubeo.UserCorrection, error) {
	var c cubeo.UserCorrection
	var created, reviewed int64
	err := row.Scan(&c.ID, &c.OriginalText, &c.AITranslation, &c.Correction, &c.Direction,
		&c.OriginalMethod, &c.OriginalConfidence, &c.Confidence, &c.AppliedImmediately, &c.Status,
		&c.ExpertComment, &c.ExpertEdit, &c.SubmitterID, &created, &reviewed, &c.ReportCount)
	if err != nil {
		return nil, err
	}
	c.Timestamp = fromMillis(created)
	c.ReviewedAt = fromMillis(reviewed)
	return &c, nil
}

// helpers

type rowScanner interface {
	Scan(dest ...any) error
}

func (s *SQLiteStore) inTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("starting transaction: %w", err)
	}
	defer tx.Rollback()

	if err := fn(tx); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("committing transaction: %w", err)
	}
	return nil
}

// Times are stored as Unix milliseconds; 0 is the zero time.
func toMillis(t time.Time) int64 {
	if t.IsZero() {
		return 0
	}
	return t.UnixMilli()
}

func fromMillis(ms int64) time.Time {
	if ms == 0 {
		return time.Time{}
	}
	return time.UnixMilli(ms).UTC()
}

var likeEscaper = strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)

func escapeLike(s string) string {
	return likeEscaper.Replace(s)
}
