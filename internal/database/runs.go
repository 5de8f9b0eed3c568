package database

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/TobiSchelling/videodigest/internal/model"
)

// StartRun records the beginning of a pipeline run.
func (db *DB) StartRun(ctx context.Context, r model.Run) error {
	if r.StartedAt.IsZero() {
		r.StartedAt = time.Now().UTC()
	}
	return db.inTx(ctx, func(tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx,
			"INSERT INTO runs (id, topic, started_at, notes) VALUES (?, ?, ?, ?)",
			r.ID, r.Topic, formatTime(r.StartedAt), r.Notes,
		)
		if err != nil {
			return fmt.Errorf("starting run %s: %w", r.ID, err)
		}
		return nil
	})
}

// FinishRun stores a run's final counts and finish time.
func (db *DB) FinishRun(ctx context.Context, r model.Run) error {
	finished := time.Now().UTC()
	if r.FinishedAt != nil {
		finished = *r.FinishedAt
	}
	return db.inTx(ctx, func(tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx, `UPDATE runs SET finished_at = ?, quota_exceeded = ?,
			persisted = ?, skipped = ?, failed = ?, notes = ? WHERE id = ?`,
			formatTime(finished), r.QuotaExceeded, r.Persisted, r.Skipped, r.Failed, r.Notes, r.ID,
		)
		if err != nil {
			return fmt.Errorf("finishing run %s: %w", r.ID, err)
		}
		if n, _ := res.RowsAffected(); n == 0 {
			return fmt.Errorf("run %s: %w", r.ID, model.ErrNotFound)
		}
		return nil
	})
}

// ListRuns returns the most recent runs first.
func (db *DB) ListRuns(ctx context.Context, limit int) ([]model.Run, error) {
	query := `SELECT id, topic, started_at, finished_at, quota_exceeded,
		persisted, skipped, failed, notes FROM runs ORDER BY started_at DESC`
	var args []any
	if limit > 0 {
		query += " LIMIT ?"
		args = append(args, limit)
	}
	rows, err := db.conn.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []model.Run
	for rows.Next() {
		var (
			r               model.Run
			started         string
			finished, notes sql.NullString
		)
		if err := rows.Scan(&r.ID, &r.Topic, &started, &finished, &r.QuotaExceeded,
			&r.Persisted, &r.Skipped, &r.Failed, &notes); err != nil {
			return nil, err
		}
		r.StartedAt = parseTime(started)
		if finished.Valid {
			t := parseTime(finished.String)
			r.FinishedAt = &t
		}
		r.Notes = notes.String
		out = append(out, r)
	}
	return out, rows.Err()
}

// InsertKeywordAnalyses stores a run's per-keyword aggregates, replacing
// earlier rows for the same run and keyword.
func (db *DB) InsertKeywordAnalyses(ctx context.Context, analyses []model.KeywordAnalysis) error {
	if len(analyses) == 0 {
		return nil
	}
	return db.inTx(ctx, func(tx *sql.Tx) error {
		for _, a := range analyses {
			_, err := tx.ExecContext(ctx, `INSERT INTO keyword_analysis
				(run_id, keyword, item_count, total_views, total_likes, total_comments,
				 avg_views, avg_likes, avg_comments, weighted_score, rank, critique)
				VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
				ON CONFLICT(run_id, keyword) DO UPDATE SET
					item_count = excluded.item_count,
					total_views = excluded.total_views,
					total_likes = excluded.total_likes,
					total_comments = excluded.total_comments,
					avg_views = excluded.avg_views,
					avg_likes = excluded.avg_likes,
					avg_comments = excluded.avg_comments,
					weighted_score = excluded.weighted_score,
					rank = excluded.rank,
					critique = excluded.critique`,
				a.RunID, a.Keyword, a.ItemCount, a.TotalViews, a.TotalLikes, a.TotalComments,
				a.AvgViews, a.AvgLikes, a.AvgComments, a.Score, a.Rank, a.Critique,
			)
			if err != nil {
				return fmt.Errorf("inserting keyword analysis %q: %w", a.Keyword, err)
			}
		}
		return nil
	})
}

// GetKeywordAnalyses returns a run's keyword aggregates in rank order.
func (db *DB) GetKeywordAnalyses(ctx context.Context, runID string) ([]model.KeywordAnalysis, error) {
	rows, err := db.conn.QueryContext(ctx, `SELECT run_id, keyword, item_count, total_views, total_likes,
		total_comments, avg_views, avg_likes, avg_comments, weighted_score, rank, critique
		FROM keyword_analysis WHERE run_id = ? ORDER BY rank, weighted_score DESC`, runID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []model.KeywordAnalysis
	for rows.Next() {
		var a model.KeywordAnalysis
		if err := rows.Scan(&a.RunID, &a.Keyword, &a.ItemCount, &a.TotalViews, &a.TotalLikes,
			&a.TotalComments, &a.AvgViews, &a.AvgLikes, &a.AvgComments, &a.Score, &a.Rank, &a.Critique); err != nil {
			return nil, err
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

// GetStats counts the rows the gateway holds.
func (db *DB) GetStats(ctx context.Context) (model.StoreStats, error) {
	var s model.StoreStats
	err := db.conn.QueryRowContext(ctx, `SELECT
		(SELECT COUNT(*) FROM items),
		(SELECT COUNT(*) FROM items WHERE provenance = 'transcript'),
		(SELECT COUNT(*) FROM items WHERE provenance = 'audio'),
		(SELECT COUNT(*) FROM items WHERE provenance = 'none'),
		(SELECT COUNT(*) FROM comments),
		(SELECT COUNT(*) FROM ai_interactions),
		(SELECT COUNT(*) FROM runs)`).Scan(
		&s.Items, &s.Transcribed, &s.AudioOnly, &s.Unresolved, &s.Comments, &s.Interactions, &s.Runs)
	if err != nil {
		return s, fmt.Errorf("reading stats: %w", err)
	}
	return s, nil
}
