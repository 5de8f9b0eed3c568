package pgstore

import (
	"context"
	"fmt"
	"time"

	sq "github.com/Masterminds/squirrel"
	"github.com/jackc/pgx/v5"

	"github.com/TobiSchelling/videodigest/internal/model"
)

// AppendComments inserts comments for one item. Existing comment ids are
// ignored. A reply whose parent is neither stored nor earlier in the batch
// is attached to the item instead.
func (s *Store) AppendComments(ctx context.Context, videoID string, comments []model.Comment) error {
	if len(comments) == 0 {
		return nil
	}
	return s.inTx(ctx, func(tx pgx.Tx) error {
		known := make(map[string]bool, len(comments))
		for _, c := range comments {
			parent, err := resolveParent(ctx, tx, c.ParentID, known)
			if err != nil {
				return err
			}
			b := psql.Insert("comments").
				Columns("comment_id", "video_id", "parent_id", "author", "text",
					"like_count", "published_at", "is_public", "moderation_status").
				Values(c.ID, videoID, parent, c.Author, c.Text,
					c.LikeCount, nullTime(c.PublishedAt), c.IsPublic, c.ModerationStatus).
				Suffix("ON CONFLICT (comment_id) DO NOTHING")
			if err := execBuilt(ctx, tx, b); err != nil {
				return fmt.Errorf("inserting comment %s for %s: %w", c.ID, videoID, err)
			}
			known[c.ID] = true
		}
		return nil
	})
}

func resolveParent(ctx context.Context, tx pgx.Tx, parent *string, known map[string]bool) (*string, error) {
	if parent == nil || *parent == "" {
		return nil, nil
	}
	if known[*parent] {
		return parent, nil
	}
	var exists bool
	err := tx.QueryRow(ctx, "SELECT EXISTS(SELECT 1 FROM comments WHERE comment_id = $1)", *parent).Scan(&exists)
	if err != nil {
		return nil, fmt.Errorf("checking parent comment %s: %w", *parent, err)
	}
	if !exists {
		return nil, nil
	}
	known[*parent] = true
	return parent, nil
}

// GetComments returns an item's comments in insertion order.
func (s *Store) GetComments(ctx context.Context, videoID string) ([]model.Comment, error) {
	query, args, err := psql.Select("comment_id", "video_id", "parent_id", "author", "text",
		"like_count", "published_at", "is_public", "moderation_status").
		From("comments").Where(sq.Eq{"video_id": videoID}).OrderBy("id").ToSql()
	if err != nil {
		return nil, fmt.Errorf("build query: %w", err)
	}
	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query comments: %w", err)
	}
	defer rows.Close()

	var out []model.Comment
	for rows.Next() {
		var (
			c                        model.Comment
			author, text, moderation *string
			published                *time.Time
		)
		if err := rows.Scan(&c.ID, &c.VideoID, &c.ParentID, &author, &text,
			&c.LikeCount, &published, &c.IsPublic, &moderation); err != nil {
			return nil, fmt.Errorf("scan comment: %w", err)
		}
		c.Author = deref(author)
		c.Text = deref(text)
		c.ModerationStatus = deref(moderation)
		if published != nil {
			c.PublishedAt = published.UTC()
		}
		out = append(out, c)
	}
	return out, rows.Err()
}
