package pgstore

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	sq "github.com/Masterminds/squirrel"
	"github.com/jackc/pgx/v5"

	"github.com/TobiSchelling/videodigest/internal/model"
)

var itemColumns = []string{
	"video_id", "title", "description", "published_at", "channel_title",
	"view_count", "like_count", "comment_count", "duration_seconds",
	"transcript", "summary", "standardized", "provenance", "weighted_score",
	"keyword", "run_id", "updated_at",
}

const upsertItemSuffix = `ON CONFLICT (video_id) DO UPDATE SET
	title = EXCLUDED.title,
	description = EXCLUDED.description,
	published_at = EXCLUDED.published_at,
	channel_title = EXCLUDED.channel_title,
	view_count = EXCLUDED.view_count,
	like_count = EXCLUDED.like_count,
	comment_count = EXCLUDED.comment_count,
	duration_seconds = EXCLUDED.duration_seconds,
	transcript = EXCLUDED.transcript,
	summary = EXCLUDED.summary,
	standardized = EXCLUDED.standardized,
	provenance = EXCLUDED.provenance,
	weighted_score = EXCLUDED.weighted_score,
	keyword = EXCLUDED.keyword,
	run_id = EXCLUDED.run_id,
	updated_at = EXCLUDED.updated_at`

// UpsertItem inserts an item or replaces every column of the existing row.
func (s *Store) UpsertItem(ctx context.Context, it model.Item) error {
	var standardized []byte
	if it.Standardized != nil {
		b, err := json.Marshal(it.Standardized)
		if err != nil {
			return fmt.Errorf("encoding standardized record: %w", err)
		}
		standardized = b
	}
	if it.Provenance == "" {
		it.Provenance = model.ProvenanceNone
	}
	if it.UpdatedAt.IsZero() {
		it.UpdatedAt = time.Now().UTC()
	}

	b := psql.Insert("items").Columns(itemColumns...).Values(
		it.ID, it.Title, it.Description, nullTime(it.PublishedAt), it.ChannelTitle,
		it.Stats.Views, it.Stats.Likes, it.Stats.Comments, it.Stats.DurationSeconds,
		it.Transcript, it.Summary, standardized, string(it.Provenance), it.Score,
		it.Keyword, it.RunID, it.UpdatedAt.UTC(),
	).Suffix(upsertItemSuffix)

	return s.inTx(ctx, func(tx pgx.Tx) error {
		if err := execBuilt(ctx, tx, b); err != nil {
			return fmt.Errorf("upserting item %s: %w", it.ID, err)
		}
		return nil
	})
}

// GetItem returns one item by video id.
func (s *Store) GetItem(ctx context.Context, videoID string) (model.Item, error) {
	items, err := s.queryItems(ctx, psql.Select(itemColumns...).From("items").Where(sq.Eq{"video_id": videoID}))
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
func (s *Store) ListItems(ctx context.Context, runID string, limit int) ([]model.Item, error) {
	b := psql.Select(itemColumns...).From("items").OrderBy("weighted_score DESC", "updated_at DESC")
	if runID != "" {
		b = b.Where(sq.Eq{"run_id": runID})
	}
	if limit > 0 {
		b = b.Limit(uint64(limit))
	}
	return s.queryItems(ctx, b)
}

func (s *Store) queryItems(ctx context.Context, b sq.SelectBuilder) ([]model.Item, error) {
	query, args, err := b.ToSql()
	if err != nil {
		return nil, fmt.Errorf("build query: %w", err)
	}
	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query items: %w", err)
	}
	defer rows.Close()

	var items []model.Item
	for rows.Next() {
		var (
			it                                   model.Item
			description, channel, keyword, runID *string
			publishedAt                          *time.Time
			standardized                         []byte
			provenance                           string
		)
		if err := rows.Scan(&it.ID, &it.Title, &description, &publishedAt, &channel,
			&it.Stats.Views, &it.Stats.Likes, &it.Stats.Comments, &it.Stats.DurationSeconds,
			&it.Transcript, &it.Summary, &standardized, &provenance, &it.Score,
			&keyword, &runID, &it.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan item: %w", err)
		}
		it.Description = deref(description)
		it.ChannelTitle = deref(channel)
		it.Keyword = deref(keyword)
		it.RunID = deref(runID)
		if publishedAt != nil {
			it.PublishedAt = publishedAt.UTC()
		}
		it.UpdatedAt = it.UpdatedAt.UTC()
		it.Provenance = model.Provenance(provenance)
		if len(standardized) > 0 {
			var rec model.StandardizedRecord
			if err := json.Unmarshal(standardized, &rec); err != nil {
				return nil, fmt.Errorf("item %s: decoding standardized record: %w", it.ID, err)
			}
			it.Standardized = &rec
		}
		items = append(items, it)
	}
	return items, rows.Err()
}
