package database

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/TobiSchelling/videodigest/internal/model"
)

func openTestDB(t *testing.T) *DB {
	t.Helper()
	db, err := Open(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("failed to open test db: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return db
}

func TestOpenCreatesDataDir(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "dir", "videodigest.db")
	db, err := Open(path)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer db.Close()

	if db.Path() != path {
		t.Errorf("Path() = %q, want %q", db.Path(), path)
	}
}

func ptr(s string) *string { return &s }

func testItem(id string) model.Item {
	return model.Item{
		ID:           id,
		Title:        "Kayak fishing basics",
		Description:  "How to start",
		PublishedAt:  time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC),
		ChannelTitle: "Paddle TV",
		Stats:        model.Stats{Views: 1200, Likes: 80, Comments: 12, DurationSeconds: 600},
		Provenance:   model.ProvenanceTranscript,
		Transcript:   ptr("hello water"),
		Summary:      ptr("first summary"),
		Score:        12.5,
		Keyword:      "kayak fishing",
		RunID:        "run-1",
	}
}

func TestUpsertItemIdempotent(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()

	first := testItem("v1")
	if err := db.UpsertItem(ctx, first); err != nil {
		t.Fatalf("first upsert: %v", err)
	}
	second := testItem("v1")
	second.Summary = ptr("second summary")
	second.Stats.Views = 5000
	rec := model.StandardizedRecord{Topic: "kayaks", Summary: "second summary", Parsed: true}
	rec.Fill()
	second.Standardized = &rec
	if err := db.UpsertItem(ctx, second); err != nil {
		t.Fatalf("second upsert: %v", err)
	}

	items, err := db.ListItems(ctx, "", 0)
	if err != nil {
		t.Fatalf("ListItems: %v", err)
	}
	if len(items) != 1 {
		t.Fatalf("expected 1 row, got %d", len(items))
	}
	got := items[0]
	if *got.Summary != "second summary" {
		t.Errorf("expected second summary, got %q", *got.Summary)
	}
	if got.Stats.Views != 5000 {
		t.Errorf("expected 5000 views, got %d", got.Stats.Views)
	}
	if got.Standardized == nil || got.Standardized.Topic != "kayaks" || got.Standardized.Tools != model.Unknown {
		t.Errorf("standardized record not round-tripped: %+v", got.Standardized)
	}
	if !got.PublishedAt.Equal(first.PublishedAt) {
		t.Errorf("published_at = %v, want %v", got.PublishedAt, first.PublishedAt)
	}
}

func TestUpsertItemDefaultsProvenance(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()

	if err := db.UpsertItem(ctx, model.Item{ID: "bare", Title: "Bare"}); err != nil {
		t.Fatalf("upsert: %v", err)
	}
	it, err := db.GetItem(ctx, "bare")
	if err != nil {
		t.Fatalf("GetItem: %v", err)
	}
	if it.Provenance != model.ProvenanceNone {
		t.Errorf("expected provenance none, got %q", it.Provenance)
	}
	if it.Transcript != nil || it.Summary != nil || it.Standardized != nil {
		t.Errorf("expected nil text fields, got %+v", it)
	}
}

func TestGetItemNotFound(t *testing.T) {
	db := openTestDB(t)
	_, err := db.GetItem(context.Background(), "missing")
	if !errors.Is(err, model.ErrNotFound) {
		t.Errorf("expected model.ErrNotFound, got %v", err)
	}
}

func TestListItemsByRunOrderedByScore(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()
	for i, id := range []string{"low", "high", "other"} {
		it := testItem(id)
		it.Score = float64(i)
		if id == "high" {
			it.Score = 99
		}
		if id == "other" {
			it.RunID = "run-2"
		}
		if err := db.UpsertItem(ctx, it); err != nil {
			t.Fatalf("upsert %s: %v", id, err)
		}
	}

	items, err := db.ListItems(ctx, "run-1", 10)
	if err != nil {
		t.Fatalf("ListItems: %v", err)
	}
	if len(items) != 2 {
		t.Fatalf("expected 2 items, got %d", len(items))
	}
	if items[0].ID != "high" {
		t.Errorf("expected highest score first, got %s", items[0].ID)
	}
}

func TestAppendCommentsIgnoresDuplicates(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()
	if err := db.UpsertItem(ctx, testItem("v1")); err != nil {
		t.Fatal(err)
	}

	batch := []model.Comment{
		{ID: "c1", VideoID: "v1", Author: "ann", Text: "great", LikeCount: 3, IsPublic: true},
		{ID: "c2", VideoID: "v1", ParentID: ptr("c1"), Author: "bob", Text: "agreed", IsPublic: true},
	}
	if err := db.AppendComments(ctx, "v1", batch); err != nil {
		t.Fatalf("AppendComments: %v", err)
	}
	batch[0].Text = "edited"
	if err := db.AppendComments(ctx, "v1", batch); err != nil {
		t.Fatalf("second AppendComments: %v", err)
	}

	got, err := db.GetComments(ctx, "v1")
	if err != nil {
		t.Fatalf("GetComments: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("expected 2 comments, got %d", len(got))
	}
	if got[0].Text != "great" {
		t.Errorf("comments are append-only, got %q", got[0].Text)
	}
	if got[1].ParentID == nil || *got[1].ParentID != "c1" {
		t.Errorf("reply parent not stored: %+v", got[1].ParentID)
	}
	if !got[0].IsPublic {
		t.Error("expected is_public to round-trip")
	}
}

func TestAppendCommentsUnknownParentAttachesToItem(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()
	if err := db.UpsertItem(ctx, testItem("v1")); err != nil {
		t.Fatal(err)
	}

	err := db.AppendComments(ctx, "v1", []model.Comment{{ID: "r1", ParentID: ptr("ghost"), Text: "orphan"}})
	if err != nil {
		t.Fatalf("AppendComments: %v", err)
	}
	got, _ := db.GetComments(ctx, "v1")
	if len(got) != 1 || got[0].ParentID != nil {
		t.Errorf("expected orphan reply with nil parent, got %+v", got)
	}
}

func TestAppendCommentsRequiresItem(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()

	err := db.AppendComments(ctx, "nope", []model.Comment{
		{ID: "c1", Text: "first"},
		{ID: "c2", Text: "second"},
	})
	if err == nil {
		t.Fatal("expected foreign key error")
	}
	got, _ := db.GetComments(ctx, "nope")
	if len(got) != 0 {
		t.Errorf("failed batch must not be partially applied, got %d rows", len(got))
	}
}

func TestInteractionLogAppendOnly(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()

	for _, kind := range []string{model.KindKeywordGeneration, model.KindChunkSummary, model.KindChunkSummary} {
		if err := db.AppendInteractionLog(ctx, model.InteractionLog{Kind: kind, Input: "in", Output: "out"}); err != nil {
			t.Fatalf("AppendInteractionLog: %v", err)
		}
	}

	all, err := db.ListInteractions(ctx, "", 0)
	if err != nil {
		t.Fatalf("ListInteractions: %v", err)
	}
	if len(all) != 3 {
		t.Errorf("expected 3 logs, got %d", len(all))
	}
	chunks, _ := db.ListInteractions(ctx, model.KindChunkSummary, 1)
	if len(chunks) != 1 || chunks[0].Kind != model.KindChunkSummary {
		t.Errorf("unexpected filtered logs: %+v", chunks)
	}
	if all[0].CreatedAt.IsZero() {
		t.Error("expected created_at to be set")
	}
}

func TestRunLifecycle(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()

	run := model.Run{ID: "run-1", Topic: "kayak fishing", StartedAt: time.Now().UTC()}
	if err := db.StartRun(ctx, run); err != nil {
		t.Fatalf("StartRun: %v", err)
	}
	run.QuotaExceeded = true
	run.Persisted, run.Skipped, run.Failed = 4, 1, 2
	if err := db.FinishRun(ctx, run); err != nil {
		t.Fatalf("FinishRun: %v", err)
	}

	runs, err := db.ListRuns(ctx, 5)
	if err != nil {
		t.Fatalf("ListRuns: %v", err)
	}
	if len(runs) != 1 {
		t.Fatalf("expected 1 run, got %d", len(runs))
	}
	got := runs[0]
	if !got.QuotaExceeded || got.Persisted != 4 || got.Skipped != 1 || got.Failed != 2 {
		t.Errorf("unexpected run: %+v", got)
	}
	if got.FinishedAt == nil {
		t.Error("expected finished_at to be set")
	}

	if err := db.FinishRun(ctx, model.Run{ID: "ghost"}); !errors.Is(err, model.ErrNotFound) {
		t.Errorf("expected model.ErrNotFound for unknown run, got %v", err)
	}
}

func TestKeywordAnalyses(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()
	if err := db.StartRun(ctx, model.Run{ID: "run-1", Topic: "kayak"}); err != nil {
		t.Fatal(err)
	}

	analyses := []model.KeywordAnalysis{
		{RunID: "run-1", Keyword: "kayak rigging", ItemCount: 2, TotalViews: 300, AvgViews: 150, Score: 8, Rank: 2},
		{RunID: "run-1", Keyword: "kayak fishing", ItemCount: 3, TotalViews: 900, AvgViews: 300, Score: 11, Rank: 1},
	}
	if err := db.InsertKeywordAnalyses(ctx, analyses); err != nil {
		t.Fatalf("InsertKeywordAnalyses: %v", err)
	}
	analyses[1].Rank = 1
	analyses[1].ItemCount = 4
	analyses[1].Critique = "most practical results"
	if err := db.InsertKeywordAnalyses(ctx, analyses[1:]); err != nil {
		t.Fatalf("re-insert: %v", err)
	}

	got, err := db.GetKeywordAnalyses(ctx, "run-1")
	if err != nil {
		t.Fatalf("GetKeywordAnalyses: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("expected 2 rows, got %d", len(got))
	}
	if got[0].Keyword != "kayak fishing" || got[0].ItemCount != 4 {
		t.Errorf("unexpected first row: %+v", got[0])
	}
	if got[0].Critique != "most practical results" {
		t.Errorf("critique = %q, want the critic's remark", got[0].Critique)
	}
	if got[1].Critique != "" {
		t.Errorf("uncritiqued row has critique %q", got[1].Critique)
	}
}

func TestGetStats(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()

	a := testItem("a")
	b := testItem("b")
	b.Provenance = model.ProvenanceAudio
	c := model.Item{ID: "c", Title: "none"}
	for _, it := range []model.Item{a, b, c} {
		if err := db.UpsertItem(ctx, it); err != nil {
			t.Fatal(err)
		}
	}
	_ = db.AppendComments(ctx, "a", []model.Comment{{ID: "c1", Text: "x"}})
	_ = db.AppendInteractionLog(ctx, model.InteractionLog{Kind: model.KindCompletion, Input: "i", Output: "o"})

	s, err := db.GetStats(ctx)
	if err != nil {
		t.Fatalf("GetStats: %v", err)
	}
	want := model.StoreStats{Items: 3, Transcribed: 1, AudioOnly: 1, Unresolved: 1, Comments: 1, Interactions: 1}
	if s != want {
		t.Errorf("stats = %+v, want %+v", s, want)
	}
}
