package database

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/TobiSchelling/videodigest/internal/model"
)

// AppendInteractionLog records one model call. Rows are never updated.
func (db *DB) AppendInteractionLog(ctx context.Context, l model.InteractionLog) error {
	if l.CreatedAt.IsZero() {
		l.CreatedAt = time.Now().UTC()
	}
	return db.inTx(ctx, func(tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx,
			"INSERT INTO ai_interactions (kind, input, output, created_at) VALUES (?, ?, ?, ?)",
			l.Kind, l.Input, l.Output, formatTime(l.CreatedAt),
		)
		if err != nil {
			return fmt.Errorf("appending interaction log: %w", err)
		}
		return nil
	})
}

// ListInteractions returns the most recent interaction logs, optionally
// filtered by kind.
func (db *DB) ListInteractions(ctx context.Context, kind string, limit int) ([]model.InteractionLog, error) {
	query := "SELECT id, kind, input, output, created_at FROM ai_interactions"
	var args []any
	if kind != "" {
		query += " WHERE kind = ?"
		args = append(args, kind)
	}
	query += " ORDER BY id DESC"
	if limit > 0 {
		query += " LIMIT ?"
		args = append(args, limit)
	}

	rows, err := db.conn.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []model.InteractionLog
	for rows.Next() {
		var (
			l       model.InteractionLog
			created sql.NullString
		)
		if err := rows.Scan(&l.ID, &l.Kind, &l.Input, &l.Output, &created); err != nil {
			return nil, err
		}
		l.CreatedAt = parseTime(created.String)
		out = append(out, l)
	}
	return out, rows.Err()
}
