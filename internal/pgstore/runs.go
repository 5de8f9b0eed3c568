package pgstore

import (
	"context"
	"fmt"
	"time"

	sq "github.com/Masterminds/squirrel"
	"github.com/jackc/pgx/v5"

	"github.com/TobiSchelling/videodigest/internal/model"
)

// AppendInteractionLog records one model call. Rows are never updated.
func (s *Store) AppendInteractionLog(ctx context.Context, l model.InteractionLog) error {
	if l.CreatedAt.IsZero() {
		l.CreatedAt = time.Now().UTC()
	}
	b := psql.Insert("ai_interactions").
		Columns("kind", "input", "output", "created_at").
		Values(l.Kind, l.Input, l.Output, l.CreatedAt)
	return s.inTx(ctx, func(tx pgx.Tx) error {
		if err := execBuilt(ctx, tx, b); err != nil {
			return fmt.Errorf("appending interaction log: %w", err)
		}
		return nil
	})
}

// ListInteractions returns the most recent interaction logs, optionally
// filtered by kind.
func (s *Store) ListInteractions(ctx context.Context, kind string, limit int) ([]model.InteractionLog, error) {
	b := psql.Select("id", "kind", "input", "output", "created_at").From("ai_interactions").OrderBy("id DESC")
	if kind != "" {
		b = b.Where(sq.Eq{"kind": kind})
	}
	if limit > 0 {
		b = b.Limit(uint64(limit))
	}
	query, args, err := b.ToSql()
	if err != nil {
		return nil, fmt.Errorf("build query: %w", err)
	}
	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query interactions: %w", err)
	}
	defer rows.Close()

	var out []model.InteractionLog
	for rows.Next() {
		var l model.InteractionLog
		if err := rows.Scan(&l.ID, &l.Kind, &l.Input, &l.Output, &l.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan interaction: %w", err)
		}
		l.CreatedAt = l.CreatedAt.UTC()
		out = append(out, l)
	}
	return out, rows.Err()
}

// StartRun records the beginning of a pipeline run.
func (s *Store) StartRun(ctx context.Context, r model.Run) error {
	if r.StartedAt.IsZero() {
		r.StartedAt = time.Now().UTC()
	}
	b := psql.Insert("runs").Columns("id", "topic", "started_at", "notes").
		Values(r.ID, r.Topic, r.StartedAt.UTC(), r.Notes)
	return s.inTx(ctx, func(tx pgx.Tx) error {
		if err := execBuilt(ctx, tx, b); err != nil {
			return fmt.Errorf("starting run %s: %w", r.ID, err)
		}
		return nil
	})
}

// FinishRun stores a run's final counts and finish time.
func (s *Store) FinishRun(ctx context.Context, r model.Run) error {
	finished := time.Now().UTC()
	if r.FinishedAt != nil {
		finished = r.FinishedAt.UTC()
	}
	query, args, err := psql.Update("runs").SetMap(map[string]any{
		"finished_at":    finished,
		"quota_exceeded": r.QuotaExceeded,
		"persisted":      r.Persisted,
		"skipped":        r.Skipped,
		"failed":         r.Failed,
		"notes":          r.Notes,
	}).Where(sq.Eq{"id": r.ID}).ToSql()
	if err != nil {
		return fmt.Errorf("build query: %w", err)
	}
	return s.inTx(ctx, func(tx pgx.Tx) error {
		tag, err := tx.Exec(ctx, query, args...)
		if err != nil {
			return fmt.Errorf("finishing run %s: %w", r.ID, err)
		}
		if tag.RowsAffected() == 0 {
			return fmt.Errorf("run %s: %w", r.ID, model.ErrNotFound)
		}
		return nil
	})
}

// ListRuns returns the most recent runs first.
func (s *Store) ListRuns(ctx context.Context, limit int) ([]model.Run, error) {
	b := psql.Select("id", "topic", "started_at", "finished_at", "quota_exceeded",
		"persisted", "skipped", "failed", "notes").From("runs").OrderBy("started_at DESC")
	if limit > 0 {
		b = b.Limit(uint64(limit))
	}
	query, args, err := b.ToSql()
	if err != nil {
		return nil, fmt.Errorf("build query: %w", err)
	}
	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query runs: %w", err)
	}
	defer rows.Close()

	var out []model.Run
	for rows.Next() {
		var (
			r     model.Run
			notes *string
		)
		if err := rows.Scan(&r.ID, &r.Topic, &r.StartedAt, &r.FinishedAt, &r.QuotaExceeded,
			&r.Persisted, &r.Skipped, &r.Failed, &notes); err != nil {
			return nil, fmt.Errorf("scan run: %w", err)
		}
		r.Notes = deref(notes)
		out = append(out, r)
	}
	return out, rows.Err()
}

// InsertKeywordAnalyses stores a run's per-keyword aggregates, replacing
// earlier rows for the same run and keyword.
func (s *Store) InsertKeywordAnalyses(ctx context.Context, analyses []model.KeywordAnalysis) error {
	if len(analyses) == 0 {
		return nil
	}
	b := psql.Insert("keyword_analysis").Columns("run_id", "keyword", "item_count",
		"total_views", "total_likes", "total_comments",
		"avg_views", "avg_likes", "avg_comments", "weighted_score", "rank", "critique")
	for _, a := range analyses {
		b = b.Values(a.RunID, a.Keyword, a.ItemCount, a.TotalViews, a.TotalLikes, a.TotalComments,
			a.AvgViews, a.AvgLikes, a.AvgComments, a.Score, a.Rank, a.Critique)
	}
	b = b.Suffix(`ON CONFLICT (run_id, keyword) DO UPDATE SET
		item_count = EXCLUDED.item_count,
		total_views = EXCLUDED.total_views,
		total_likes = EXCLUDED.total_likes,
		total_comments = EXCLUDED.total_comments,
		avg_views = EXCLUDED.avg_views,
		avg_likes = EXCLUDED.avg_likes,
		avg_comments = EXCLUDED.avg_comments,
		weighted_score = EXCLUDED.weighted_score,
		rank = EXCLUDED.rank,
		critique = EXCLUDED.critique`)

	return s.inTx(ctx, func(tx pgx.Tx) error {
		if err := execBuilt(ctx, tx, b); err != nil {
			return fmt.Errorf("inserting keyword analyses: %w", err)
		}
		return nil
	})
}

// GetKeywordAnalyses returns a run's keyword aggregates in rank order.
func (s *Store) GetKeywordAnalyses(ctx context.Context, runID string) ([]model.KeywordAnalysis, error) {
	query, args, err := psql.Select("run_id", "keyword", "item_count", "total_views", "total_likes",
		"total_comments", "avg_views", "avg_likes", "avg_comments", "weighted_score", "rank", "critique").
		From("keyword_analysis").Where(sq.Eq{"run_id": runID}).
		OrderBy("rank", "weighted_score DESC").ToSql()
	if err != nil {
		return nil, fmt.Errorf("build query: %w", err)
	}
	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query keyword analyses: %w", err)
	}
	defer rows.Close()

	var out []model.KeywordAnalysis
	for rows.Next() {
		var a model.KeywordAnalysis
		if err := rows.Scan(&a.RunID, &a.Keyword, &a.ItemCount, &a.TotalViews, &a.TotalLikes,
			&a.TotalComments, &a.AvgViews, &a.AvgLikes, &a.AvgComments, &a.Score, &a.Rank, &a.Critique); err != nil {
			return nil, fmt.Errorf("scan keyword analysis: %w", err)
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

// GetStats counts the rows the gateway holds.
func (s *Store) GetStats(ctx context.Context) (model.StoreStats, error) {
	var st model.StoreStats
	err := s.pool.QueryRow(ctx, `SELECT
		(SELECT COUNT(*) FROM items),
		(SELECT COUNT(*) FROM items WHERE provenance = 'transcript'),
		(SELECT COUNT(*) FROM items WHERE provenance = 'audio'),
		(SELECT COUNT(*) FROM items WHERE provenance = 'none'),
		(SELECT COUNT(*) FROM comments),
		(SELECT COUNT(*) FROM ai_interactions),
		(SELECT COUNT(*) FROM runs)`).Scan(
		&st.Items, &st.Transcribed, &st.AudioOnly, &st.Unresolved, &st.Comments, &st.Interactions, &st.Runs)
	if err != nil {
		return st, fmt.Errorf("reading stats: %w", err)
	}
	return st, nil
}
