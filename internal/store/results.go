package store

import (
	"context"
	"crypto/sha256"
	"database/sql"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	entsql "entgo.io/ent/dialect/sql"
	"golang.org/x/sync/errgroup"

	"github.com/abhisek/sheetsolver/internal/fault"
	"github.com/abhisek/sheetsolver/internal/worksheet"
)

// persistConcurrency bounds parallel record writes within one Persist call.
const persistConcurrency = 8

// uniqueIndexDDL is valid for both SQLite and PostgreSQL.
const uniqueIndexDDL = `CREATE UNIQUE INDEX IF NOT EXISTS worksheet_results_worksheet_problem ON worksheet_results (worksheet_id, problem_index)`

// ResultRepo writes and reads solved worksheets keyed by
// (worksheet_id, problem_index).
type ResultRepo struct {
	store *Store
	now   func() time.Time
}

// NewResultRepo returns a repository over s. A nil store yields a repository
// whose Persist reports fault.MissingConfiguration.
func NewResultRepo(s *Store) *ResultRepo {
	return &ResultRepo{store: s, now: time.Now}
}

type writeOutcome int

const (
	outcomeUnchanged writeOutcome = iota
	outcomeInserted
	outcomeModified
)

// Persist upserts every record. Rows whose content is unchanged are left
// alone, so running it twice with the same input reports zero upserts and
// zero modifications the second time. Per-record failures are counted, not
// returned; only missing configuration or bad arguments are errors.
func (r *ResultRepo) Persist(ctx context.Context, results []worksheet.ResultRecord, worksheetID, lessonSlug string, metadata map[string]any) (PersistStats, error) {
	if r == nil || r.store == nil {
		return PersistStats{}, fault.New(fault.MissingConfiguration, "store.persist", "no result store configured")
	}
	if worksheetID == "" {
		return PersistStats{}, fault.New(fault.PreconditionFailed, "store.persist", "worksheet id is required")
	}

	var meta *string
	if metadata != nil {
		b, err := json.Marshal(metadata)
		if err != nil {
			return PersistStats{}, fmt.Errorf("marshal metadata: %w", err)
		}
		s := string(b)
		meta = &s
	}

	log := r.store.log.With().Str("worksheet_id", worksheetID).Logger()

	if _, err := r.store.db.ExecContext(ctx, uniqueIndexDDL); err != nil {
		log.Warn().Err(err).Msg("store.index.create_failed")
	}

	var upserted, modified, failed atomic.Int64
	now := r.now().UTC()

	var g errgroup.Group
	g.SetLimit(persistConcurrency)
	for _, rec := range results {
		g.Go(func() error {
			outcome, err := r.upsert(ctx, worksheetID, lessonSlug, meta, rec, now)
			if err != nil {
				failed.Add(1)
				log.Error().Err(err).Int("index", rec.Index).Msg("store.persist.record_failed")
				return nil
			}
			switch outcome {
			case outcomeInserted:
				upserted.Add(1)
			case outcomeModified:
				modified.Add(1)
			}
			return nil
		})
	}
	_ = g.Wait()

	stats := PersistStats{
		Upserted: int(upserted.Load()),
		Modified: int(modified.Load()),
		Failed:   int(failed.Load()),
	}
	log.Info().
		Int("upserted", stats.Upserted).
		Int("modified", stats.Modified).
		Int("failed", stats.Failed).
		Msg("store.persist.done")
	return stats, nil
}

func (r *ResultRepo) upsert(ctx context.Context, worksheetID, lessonSlug string, meta *string, rec worksheet.ResultRecord, now time.Time) (writeOutcome, error) {
	body, err := json.Marshal(rec)
	if err != nil {
		return outcomeUnchanged, fmt.Errorf("marshal record: %w", err)
	}
	hash := contentHash(body, lessonSlug, meta)

	prev, found, err := r.currentHash(ctx, worksheetID, rec.Index)
	if err != nil {
		return outcomeUnchanged, err
	}
	if found && prev == hash {
		return outcomeUnchanged, nil
	}

	query, args := entsql.Dialect(r.store.dialect).
		Insert(resultsTableName).
		Columns("worksheet_id", "problem_index", "page", "lesson_slug", "record", "metadata", "content_hash", "created_at", "updated_at").
		Values(worksheetID, rec.Index, rec.Page, lessonSlug, string(body), meta, hash, now, now).
		OnConflict(
			entsql.ConflictColumns("worksheet_id", "problem_index"),
			entsql.ResolveWith(func(u *entsql.UpdateSet) {
				u.SetExcluded("page")
				u.SetExcluded("lesson_slug")
				u.SetExcluded("record")
				u.SetExcluded("metadata")
				u.SetExcluded("content_hash")
				u.SetExcluded("updated_at")
			}),
			entsql.UpdateWhere(entsql.ExprP(resultsTableName+".content_hash <> excluded.content_hash")),
		).
		Query()

	res, err := r.store.db.ExecContext(ctx, query, args...)
	if err != nil {
		return outcomeUnchanged, fmt.Errorf("upsert result %d: %w", rec.Index, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return outcomeUnchanged, fmt.Errorf("rows affected: %w", err)
	}

	switch {
	case n == 0:
		return outcomeUnchanged, nil
	case found:
		return outcomeModified, nil
	default:
		return outcomeInserted, nil
	}
}

func (r *ResultRepo) currentHash(ctx context.Context, worksheetID string, index int) (string, bool, error) {
	query, args := entsql.Dialect(r.store.dialect).
		Select("content_hash").
		From(entsql.Table(resultsTableName)).
		Where(entsql.And(
			entsql.EQ("worksheet_id", worksheetID),
			entsql.EQ("problem_index", index),
		)).
		Query()

	var hash string
	err := r.store.db.QueryRowContext(ctx, query, args...).Scan(&hash)
	if errors.Is(err, sql.ErrNoRows) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("read content hash %d: %w", index, err)
	}
	return hash, true, nil
}

// Results returns the stored results of a worksheet ordered by problem index.
func (r *ResultRepo) Results(ctx context.Context, worksheetID string) ([]StoredResult, error) {
	if r == nil || r.store == nil {
		return nil, fault.New(fault.MissingConfiguration, "store.results", "no result store configured")
	}

	query, args := entsql.Dialect(r.store.dialect).
		Select("worksheet_id", "lesson_slug", "record", "metadata", "content_hash", "created_at", "updated_at").
		From(entsql.Table(resultsTableName)).
		Where(entsql.EQ("worksheet_id", worksheetID)).
		OrderBy("problem_index").
		Query()

	rows, err := r.store.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query results: %w", err)
	}
	defer rows.Close()

	var out []StoredResult
	for rows.Next() {
		var (
			sr   StoredResult
			body string
			meta sql.NullString
		)
		if err := rows.Scan(&sr.WorksheetID, &sr.LessonSlug, &body, &meta, &sr.ContentHash, &sr.CreatedAt, &sr.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan result: %w", err)
		}
		if err := json.Unmarshal([]byte(body), &sr.Record); err != nil {
			return nil, fmt.Errorf("decode result record: %w", err)
		}
		if meta.Valid {
			if err := json.Unmarshal([]byte(meta.String), &sr.Metadata); err != nil {
				return nil, fmt.Errorf("decode result metadata: %w", err)
			}
		}
		out = append(out, sr)
	}
	return out, rows.Err()
}

// contentHash fingerprints everything a row stores besides its timestamps.
func contentHash(record []byte, lessonSlug string, meta *string) string {
	h := sha256.New()
	h.Write(record)
	h.Write([]byte{0})
	h.Write([]byte(lessonSlug))
	h.Write([]byte{0})
	if meta != nil {
		h.Write([]byte(*meta))
	}
	return hex.EncodeToString(h.Sum(nil))
}
