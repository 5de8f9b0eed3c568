package database

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/TobiSchelling/videodigest/internal/model"
)

// AppendComments inserts comments for one item. Existing comment ids are
// ignored. A reply whose parent is neither stored nor earlier in the batch
// is attached to the item instead.
func (db *DB) AppendComments(ctx context.Context, videoID string, comments []model.Comment) error {
	if len(comments) == 0 {
		return nil
	}
	return db.inTx(ctx, func(tx *sql.Tx) error {
		known := make(map[string]bool, len(comments))
		for _, c := range comments {
			parent, err := resolveParent(ctx, tx, c.ParentID, known)
			if err != nil {
				return err
			}
			_, err = tx.ExecContext(ctx, `INSERT INTO comments
				(comment_id, video_id, parent_id, author, text, like_count, published_at, is_public, moderation_status)
				VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
				ON CONFLICT(comment_id) DO NOTHING`,
				c.ID, videoID, parent, c.Author, c.Text, c.LikeCount,
				formatTime(c.PublishedAt), c.IsPublic, c.ModerationStatus,
			)
			if err != nil {
				return fmt.Errorf("inserting comment %s for %s: %w", c.ID, videoID, err)
			}
			known[c.ID] = true
		}
		return nil
	})
}

func resolveParent(ctx context.Context, tx *sql.Tx, parent *string, known map[string]bool) (*string, error) {
	if parent == nil || *parent == "" {
		return nil, nil
	}
	if known[*parent] {
		return parent, nil
	}
	var n int
	if err := tx.QueryRowContext(ctx, "SELECT COUNT(*) FROM comments WHERE comment_id = ?", *parent).Scan(&n); err != nil {
		return nil, fmt.Errorf("checking parent comment %s: %w", *parent, err)
	}
	if n == 0 {
		return nil, nil
	}
	known[*parent] = true
	return parent, nil
}

// GetComments returns an item's comments in insertion order.
func (db *DB) GetComments(ctx context.Context, videoID string) ([]model.Comment, error) {
	rows, err := db.conn.QueryContext(ctx, `SELECT comment_id, video_id, parent_id, author, text,
		like_count, published_at, is_public, moderation_status
		FROM comments WHERE video_id = ? ORDER BY id`, videoID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []model.Comment
	for rows.Next() {
		var (
			c                               model.Comment
			parent, author, text, published sql.NullString
			moderation                      sql.NullString
		)
		if err := rows.Scan(&c.ID, &c.VideoID, &parent, &author, &text,
			&c.LikeCount, &published, &c.IsPublic, &moderation); err != nil {
			return nil, err
		}
		if parent.Valid {
			c.ParentID = &parent.String
		}
		c.Author = author.String
		c.Text = text.String
		c.PublishedAt = parseTime(published.String)
		c.ModerationStatus = moderation.String
		out = append(out, c)
	}
	return out, rows.Err()
}
