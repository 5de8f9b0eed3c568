package database

import "database/sql"

// Migration represents a single schema migration step.
type Migration struct {
	Version     int
	Description string
	Up          func(tx *sql.Tx) error
}

// migrations is the ordered list of all schema migrations.
// Append new migrations to the end with incrementing Version numbers.
var migrations = []Migration{
	{
		Version:     1,
		Description: "initial schema",
		Up: func(tx *sql.Tx) error {
			_, err := tx.Exec(`
CREATE TABLE IF NOT EXISTS items (
    video_id TEXT PRIMARY KEY,
    title TEXT NOT NULL,
    description TEXT,
    published_at TEXT,
    channel_title TEXT,
    view_count INTEGER DEFAULT 0,
    like_count INTEGER DEFAULT 0,
    comment_count INTEGER DEFAULT 0,
    duration_seconds INTEGER DEFAULT 0,
    transcript TEXT,
    summary TEXT,
    standardized TEXT,
    provenance TEXT NOT NULL DEFAULT 'none'
        CHECK(provenance IN ('transcript', 'audio', 'none')),
    weighted_score REAL DEFAULT 0,
    keyword TEXT,
    run_id TEXT,
    updated_at TEXT DEFAULT (strftime('%Y-%m-%dT%H:%M:%fZ', 'now'))
);

CREATE TABLE IF NOT EXISTS comments (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    comment_id TEXT UNIQUE NOT NULL,
    video_id TEXT NOT NULL REFERENCES items(video_id),
    parent_id TEXT REFERENCES comments(comment_id),
    author TEXT,
    text TEXT,
    like_count INTEGER DEFAULT 0,
    published_at TEXT,
    is_public INTEGER DEFAULT 1,
    moderation_status TEXT,
    inserted_at TEXT DEFAULT (strftime('%Y-%m-%dT%H:%M:%fZ', 'now'))
);

CREATE TABLE IF NOT EXISTS ai_interactions (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    kind TEXT NOT NULL,
    input TEXT NOT NULL,
    output TEXT NOT NULL,
    created_at TEXT DEFAULT (strftime('%Y-%m-%dT%H:%M:%fZ', 'now'))
);

CREATE TABLE IF NOT EXISTS runs (
    id TEXT PRIMARY KEY,
    topic TEXT NOT NULL,
    started_at TEXT NOT NULL,
    finished_at TEXT,
    quota_exceeded INTEGER DEFAULT 0,
    persisted INTEGER DEFAULT 0,
    skipped INTEGER DEFAULT 0,
    failed INTEGER DEFAULT 0,
    notes TEXT
);

CREATE INDEX IF NOT EXISTS idx_items_run ON items(run_id);
CREATE INDEX IF NOT EXISTS idx_comments_video ON comments(video_id);
CREATE INDEX IF NOT EXISTS idx_ai_interactions_kind ON ai_interactions(kind);
`)
			return err
		},
	},
	{
		Version:     2,
		Description: "keyword analysis",
		Up: func(tx *sql.Tx) error {
			_, err := tx.Exec(`
CREATE TABLE IF NOT EXISTS keyword_analysis (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    run_id TEXT NOT NULL REFERENCES runs(id),
    keyword TEXT NOT NULL,
    item_count INTEGER DEFAULT 0,
    total_views INTEGER DEFAULT 0,
    total_likes INTEGER DEFAULT 0,
    total_comments INTEGER DEFAULT 0,
    avg_views REAL DEFAULT 0,
    avg_likes REAL DEFAULT 0,
    avg_comments REAL DEFAULT 0,
    weighted_score REAL DEFAULT 0,
    rank INTEGER DEFAULT 0,
    UNIQUE(run_id, keyword)
);

CREATE INDEX IF NOT EXISTS idx_keyword_analysis_run ON keyword_analysis(run_id);
`)
			return err
		},
	},
	{
		Version:     3,
		Description: "import legacy videos table",
		Up: func(tx *sql.Tx) error {
			legacy, err := isLegacyDB(tx)
			if err != nil || !legacy {
				return err
			}
			_, err = tx.Exec(`
INSERT INTO items (video_id, title, description, published_at, channel_title, transcript, summary, provenance)
SELECT video_id, title, description, publish_time, channel_title, transcript, summary,
       CASE WHEN transcript IS NULL OR transcript = '' THEN 'none' ELSE 'transcript' END
FROM videos
WHERE true
ON CONFLICT(video_id) DO NOTHING`)
			return err
		},
	},
	{
		Version:     4,
		Description: "keyword critique",
		Up: func(tx *sql.Tx) error {
			_, err := tx.Exec(`ALTER TABLE keyword_analysis ADD COLUMN critique TEXT NOT NULL DEFAULT ''`)
			return err
		},
	},
}

// latestVersion returns the highest migration version number.
func latestVersion() int {
	if len(migrations) == 0 {
		return 0
	}
	return migrations[len(migrations)-1].Version
}
