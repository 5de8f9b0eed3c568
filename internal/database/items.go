package database

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/TobiSchelling/videodigest/internal/model"
)

const itemColumns = `video_id, title, description, published_at, channel_title,
	view_count, like_count, comment_count, duration_seconds,
	transcript, summary, standardized, provenance, weighted_score, keyword, run_id, updated_at`

// UpsertItem inserts an item or replaces every column of the existing row.
func (db *DB) UpsertItem(ctx context.Context, it model.Item) error {
	standardized, err := encodeStandardized(it.Standardized)
	if err != nil {
		return err
	}
	if it.Provenance == "" {
		it.Provenance = model.ProvenanceNone
	}
	if it.UpdatedAt.IsZero() {
		it.UpdatedAt = time.Now().UTC()
	}

	return db.inTx(ctx, func(tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx, `INSERT INTO items (`+itemColumns+`)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
			ON CONFLICT(video_id) DO UPDATE SET
				title = excluded.title,
				description = excluded.description,
				published_at = excluded.published_at,
				channel_title = excluded.channel_title,
				view_count = excluded.view_count,
				like_count = excluded.like_count,
				comment_count = excluded.comment_count,
				duration_seconds = excluded.duration_seconds,
				transcript = excluded.transcript,
				summary = excluded.summary,
				standardized = excluded.standardized,
				provenance = excluded.provenance,
				weighted_score = excluded.weighted_score,
				keyword = excluded.keyword,
				run_id = excluded.run_id,
				updated_at = excluded.updated_at`,
			it.ID, it.Title, it.Description, formatTime(it.PublishedAt), it.ChannelTitle,
			it.Stats.Views, it.Stats.Likes, it.Stats.Comments, it.Stats.DurationSeconds,
			it.Transcript, it.Summary, standardized, string(it.Provenance), it.Score,
			it.Keyword, it.RunID, formatTime(it.UpdatedAt),
		)
		if err != nil {
			return fmt.Errorf("upserting item %s: %w", it.ID, err)
		}
		return nil
	})
}

// GetItem returns one item by video id.
func (db *DB) GetItem(ctx context.Context, videoID string) (model.Item, error) {
	rows, err := db.conn.QueryContext(ctx, `SELECT `+itemColumns+` FROM items WHERE video_id = ?`, videoID)
	if err != nil {
		return model.Item{}, err
	}
	defer rows.Close()
	items, err := scanItems(rows)
	if err != nil {
		return model.Item{}, err
	}
	if len(items) == 0 {
		return model.Item{}, fmt.Errorf("item %s: %w", videoID, model.ErrNotFound)
	}
	return items[0], nil
}

// ListItems returns items ordered by weighted score, highest first. A
// non-empty runID restricts the list to that run.
func (db *DB) ListItems(ctx context.Context, runID string, limit int) ([]model.Item, error) {
	query := `SELECT ` + itemColumns + ` FROM items`
	var args []any
	if runID != "" {
		query += " WHERE run_id = ?"
		args = append(args, runID)
	}
	query += " ORDER BY weighted_score DESC, updated_at DESC"
	if limit > 0 {
		query += " LIMIT ?"
		args = append(args, limit)
	}

	rows, err := db.conn.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanItems(rows)
}

func scanItems(rows *sql.Rows) ([]model.Item, error) {
	var items []model.Item
	for rows.Next() {
		var (
			it                                   model.Item
			description, channel, keyword, runID sql.NullString
			publishedAt, updatedAt, standardized sql.NullString
			transcript, summary                  sql.NullString
			provenance                           string
		)
		if err := rows.Scan(&it.ID, &it.Title, &description, &publishedAt, &channel,
			&it.Stats.Views, &it.Stats.Likes, &it.Stats.Comments, &it.Stats.DurationSeconds,
			&transcript, &summary, &standardized, &provenance, &it.Score, &keyword, &runID, &updatedAt); err != nil {
			return nil, err
		}
		it.Description = description.String
		it.ChannelTitle = channel.String
		it.Keyword = keyword.String
		it.RunID = runID.String
		it.PublishedAt = parseTime(publishedAt.String)
		it.UpdatedAt = parseTime(updatedAt.String)
		it.Provenance = model.Provenance(provenance)
		if transcript.Valid {
			it.Transcript = &transcript.String
		}
		if summary.Valid {
			it.Summary = &summary.String
		}
		rec, err := decodeStandardized(standardized)
		if err != nil {
			return nil, fmt.Errorf("item %s: %w", it.ID, err)
		}
		it.Standardized = rec
		items = append(items, it)
	}
	return items, rows.Err()
}

func encodeStandardized(rec *model.StandardizedRecord) (*string, error) {
	if rec == nil {
		return nil, nil
	}
	b, err := json.Marshal(rec)
	if err != nil {
		return nil, fmt.Errorf("encoding standardized record: %w", err)
	}
	s := string(b)
	return &s, nil
}

func decodeStandardized(s sql.NullString) (*model.StandardizedRecord, error) {
	if !s.Valid || s.String == "" {
		return nil, nil
	}
	var rec model.StandardizedRecord
	if err := json.Unmarshal([]byte(s.String), &rec); err != nil {
		return nil, fmt.Errorf("decoding standardized record: %w", err)
	}
	return &rec, nil
}

func formatTime(t time.Time) *string {
	if t.IsZero() {
		return nil
	}
	s := t.UTC().Format(time.RFC3339Nano)
	return &s
}

func parseTime(s string) time.Time {
	if s == "" {
		return time.Time{}
	}
	for _, layout := range []string{time.RFC3339Nano, "2006-01-02T15:04:05.000Z", "2006-01-02 15:04:05"} {
		if t, err := time.Parse(layout, s); err == nil {
			return t.UTC()
		}
	}
	return time.Time{}
}

// inTx runs fn in a transaction, rolling back when it fails.
func (db *DB) inTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	tx, err := db.conn.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	if err := fn(tx); err != nil {
		tx.Rollback()
		return err
	}
	return tx.Commit()
}
