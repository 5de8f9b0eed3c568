package rank

import (
	"context"
	"errors"
	"log/slog"
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/TobiSchelling/videodigest/internal/llm"
	"github.com/TobiSchelling/videodigest/internal/model"
	"github.com/TobiSchelling/videodigest/internal/retry"
)

type mockProvider struct {
	response string
	err      error
	kinds    []string
}

func (m *mockProvider) Complete(ctx context.Context, _ []llm.Message, _ int, _ float64) (string, error) {
	m.kinds = append(m.kinds, llm.KindFrom(ctx))
	return m.response, m.err
}

func (m *mockProvider) IsConfigured() bool { return true }

var fastPolicy = retry.Policy{MaxAttempts: 1, BaseDelay: time.Millisecond}

func sampleItems() []model.Item {
	return []model.Item{
		{ID: "aaa", Title: "low", Stats: model.Stats{Views: 10, Likes: 1}},
		{ID: "bbb", Title: "high", Stats: model.Stats{Views: 1000, Likes: 5}},
		{ID: "ccc", Title: "mid", Stats: model.Stats{Views: 500, Likes: 50, Comments: 40}},
		{ID: "ddd", Title: "tie", Stats: model.Stats{Views: 1000, Likes: 9}},
	}
}

func itemIDs(items []model.Item) []string {
	out := make([]string, len(items))
	for i, it := range items {
		out[i] = it.ID
	}
	return out
}

func TestDefaultScoreNonNegative(t *testing.T) {
	assert.Zero(t, DefaultScore(model.Stats{}))
	assert.Zero(t, Score(nil, model.Stats{Views: -5}))
	got := DefaultScore(model.Stats{Views: 99, Likes: 9, Comments: 1})
	want := math.Log(100) + 2*math.Log(10) + 3*math.Log(2)
	assert.InDelta(t, want, got, 1e-9)

	negative := func(model.Stats) float64 { return -1 }
	assert.Zero(t, Score(negative, model.Stats{Views: 1}))
}

func TestSortModes(t *testing.T) {
	items := sampleItems()
	assert.Equal(t, []string{"ddd", "bbb", "ccc", "aaa"}, itemIDs(Sort(items, ByEngagement, nil)))
	assert.Equal(t, []string{"ccc", "ddd", "bbb", "aaa"}, itemIDs(Sort(items, ByLikes, nil)))
	assert.Equal(t, []string{"ccc", "ddd", "bbb", "aaa"}, itemIDs(Sort(items, ByScore, nil)))
	// Input is not modified.
	assert.Equal(t, "aaa", items[0].ID)
}

func TestSortByDate(t *testing.T) {
	now := time.Now()
	items := []model.Item{
		{ID: "old", PublishedAt: now.Add(-48 * time.Hour)},
		{ID: "new", PublishedAt: now},
	}
	assert.Equal(t, []string{"new", "old"}, itemIDs(Sort(items, ByDate, nil)))
}

func TestParseSortBy(t *testing.T) {
	got, err := ParseSortBy("Views")
	require.NoError(t, err)
	assert.Equal(t, ByViews, got)

	got, err = ParseSortBy("")
	require.NoError(t, err)
	assert.Equal(t, ByEngagement, got)

	_, err = ParseSortBy("random")
	assert.Error(t, err)
}

func TestAggregate(t *testing.T) {
	a := Aggregate("kayak", sampleItems(), nil)
	assert.Equal(t, 4, a.ItemCount)
	assert.Equal(t, int64(2510), a.TotalViews)
	assert.InDelta(t, 627.5, a.AvgViews, 1e-9)
	assert.Greater(t, a.Score, 0.0)

	empty := Aggregate("none", nil, nil)
	assert.Zero(t, empty.ItemCount)
	assert.Zero(t, empty.AvgViews)
}

func TestParseRanking(t *testing.T) {
	ids := []string{"aaa", "bbb", "ccc", "ddd"}
	tests := []struct {
		name  string
		reply string
		want  []int
	}{
		{"bare numbers", "3\n1\n2", []int{2, 0, 1}},
		{"video labels", "Video 4: Great tutorial\nVideo 2\n", []int{3, 1}},
		{"numbered with reference", "1. Video 3\n2. Video 1", []int{2, 0}},
		{"numbered positions", "2. Some title\n4) Another", []int{1, 3}},
		{"label value ids", "ID: ccc\nVideo ID: aaa", []int{2, 0}},
		{"bare identifiers", "ddd\n  bbb  ", []int{3, 1}},
		{"markdown bullets", "- **Video 2**\n* Video 1", []int{1, 0}},
		{"dedupe first seen", "2\nVideo 2\nbbb\n1", []int{1, 0}},
		{"out of range ignored", "9\n0\nVideo 12\n3", []int{2}},
		{"prose only", "I think all of these are good.", nil},
		{"echoed stat lines ignored", "Video 3: best depth\nLikes: 1\nComments: 4\nVideo 2", []int{2, 1}},
		{"positional label values", "Rank: 4\nVideo: 2\nViews: 1", []int{3, 1}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, ParseRanking(tt.reply, ids))
		})
	}
}

func TestParseRankingNotes(t *testing.T) {
	ids := []string{"kayak gear", "kayak rigging", "kayak tips"}
	reply := "Keyword 3: hands-on and recent\n" +
		"1. Keyword 1 - broad but shallow\n" +
		"Keyword 2\n" +
		"Keyword 3: repeated remark is ignored"

	order, notes := ParseRankingNotes(reply, ids)
	assert.Equal(t, []int{2, 0, 1}, order)
	assert.Equal(t, map[int]string{
		2: "hands-on and recent",
		0: "broad but shallow",
	}, notes)

	_, notes = ParseRankingNotes("ID: kayak tips\nRank: 1\n2. kayak rigging", ids)
	assert.Empty(t, notes)
}

func TestCriticUsesParsedOrder(t *testing.T) {
	p := &mockProvider{response: "Video 4\nVideo 1"}
	c := NewCritic(p, nil, fastPolicy, Deterministic{By: ByEngagement}, slog.Default())

	got := c.RankItems(context.Background(), "kayak fishing", sampleItems())
	// Deterministic base: ddd, bbb, ccc, aaa. Critic picks 4th and 1st.
	assert.Equal(t, []string{"aaa", "ddd", "bbb", "ccc"}, itemIDs(got))
	assert.Equal(t, []string{model.KindCriticRanking}, p.kinds)
}

func TestCriticFailOpenOnUnparsable(t *testing.T) {
	p := &mockProvider{response: "These all look wonderful!"}
	c := NewCritic(p, nil, fastPolicy, Deterministic{By: ByEngagement}, slog.Default())

	items := sampleItems()
	got := c.RankItems(context.Background(), "topic", items)
	require.Len(t, got, len(items))
	assert.Equal(t, itemIDs(Sort(items, ByEngagement, nil)), itemIDs(got))
}

func TestCriticFailOpenOnError(t *testing.T) {
	p := &mockProvider{err: errors.New("model offline")}
	c := NewCritic(p, nil, fastPolicy, Deterministic{By: ByViews}, slog.Default())

	got := c.RankItems(context.Background(), "topic", sampleItems())
	assert.Len(t, got, 4)
}

func TestCriticRankKeywords(t *testing.T) {
	analyses := []model.KeywordAnalysis{
		{Keyword: "kayak gear", TotalViews: 100},
		{Keyword: "kayak fishing tips", TotalViews: 900},
		{Keyword: "kayak rigging", TotalViews: 500},
	}
	p := &mockProvider{response: "Keyword 3\nkayak gear"}
	c := NewCritic(p, nil, fastPolicy, Deterministic{}, slog.Default())

	got := c.RankKeywords(context.Background(), "kayak fishing", analyses)
	require.Len(t, got, 3)
	assert.Equal(t, "kayak gear", got[0].Keyword)
	assert.Equal(t, 1, got[0].Rank)
	assert.Equal(t, "kayak fishing tips", got[1].Keyword)
	assert.Equal(t, "kayak rigging", got[2].Keyword)
	assert.Equal(t, 3, got[2].Rank)
	assert.Equal(t, []string{model.KindKeywordRanking}, p.kinds)
}

func TestCriticRankKeywordsKeepsCritique(t *testing.T) {
	analyses := []model.KeywordAnalysis{
		{Keyword: "kayak gear", TotalViews: 100},
		{Keyword: "kayak fishing tips", TotalViews: 900},
	}
	// Deterministic base: tips, gear.
	p := &mockProvider{response: "Keyword 2: focused gear reviews\nKeyword 1\nViews: 900"}
	c := NewCritic(p, nil, fastPolicy, Deterministic{}, slog.Default())

	got := c.RankKeywords(context.Background(), "kayak fishing", analyses)
	require.Len(t, got, 2)
	assert.Equal(t, "kayak gear", got[0].Keyword)
	assert.Equal(t, "focused gear reviews", got[0].Critique)
	assert.Equal(t, "kayak fishing tips", got[1].Keyword)
	assert.Empty(t, got[1].Critique)
	assert.Empty(t, analyses[0].Critique, "input is not modified")
}

func TestCriticNilProviderIsDeterministic(t *testing.T) {
	c := NewCritic(nil, nil, fastPolicy, Deterministic{By: ByLikes}, slog.Default())
	got := c.RankItems(context.Background(), "t", sampleItems())
	assert.Equal(t, itemIDs(Sort(sampleItems(), ByLikes, nil)), itemIDs(got))
}
