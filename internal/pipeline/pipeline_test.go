package pipeline

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/TobiSchelling/videodigest/internal/model"
	"github.com/TobiSchelling/videodigest/internal/process"
	"github.com/TobiSchelling/videodigest/internal/provider"
	"github.com/TobiSchelling/videodigest/internal/rank"
	"github.com/TobiSchelling/videodigest/internal/ratelimit"
	"github.com/TobiSchelling/videodigest/internal/retry"
	"github.com/TobiSchelling/videodigest/internal/summarize"
)

var quietLogger = slog.New(slog.NewTextHandler(io.Discard, nil))

type memStore struct {
	mu       sync.Mutex
	items    map[string]model.Item
	runs     map[string]model.Run
	analyses []model.KeywordAnalysis
}

func newMemStore() *memStore {
	return &memStore{items: map[string]model.Item{}, runs: map[string]model.Run{}}
}

func (m *memStore) UpsertItem(_ context.Context, it model.Item) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.items[it.ID] = it
	return nil
}

func (m *memStore) AppendComments(context.Context, string, []model.Comment) error { return nil }

func (m *memStore) StartRun(_ context.Context, r model.Run) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.runs[r.ID] = r
	return nil
}

func (m *memStore) FinishRun(_ context.Context, r model.Run) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.runs[r.ID] = r
	return nil
}

func (m *memStore) InsertKeywordAnalyses(_ context.Context, a []model.KeywordAnalysis) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.analyses = append(m.analyses, a...)
	return nil
}

type fixedExpander []string

func (f fixedExpander) Expand(context.Context, string, int) []string { return f }

// quotaSearcher answers the first `allowed` searches and reports quota
// exhaustion afterwards.
type quotaSearcher struct {
	calls   atomic.Int32
	allowed int32
}

func (q *quotaSearcher) Search(_ context.Context, term string, _ int, _ string) (provider.SearchPage, error) {
	if q.calls.Add(1) > q.allowed {
		return provider.SearchPage{}, provider.ErrQuotaExceeded
	}
	return provider.SearchPage{Items: []model.Item{
		{ID: term + "-1", Title: term + " one"},
		{ID: term + "-2", Title: term + " two"},
	}}, nil
}

type countingStats struct{ calls atomic.Int32 }

func (c *countingStats) Statistics(_ context.Context, ids []string) (map[string]model.Stats, error) {
	c.calls.Add(1)
	out := make(map[string]model.Stats, len(ids))
	for i, id := range ids {
		out[id] = model.Stats{Views: int64(100 * (i + 1))}
	}
	return out, nil
}

type anyTranscript struct{}

func (anyTranscript) Transcript(_ context.Context, id string) (string, error) {
	return "transcript for " + id, nil
}

type echoSummarizer struct{}

func (echoSummarizer) Reduce(_ context.Context, _ string, chunks []string) (summarize.Reduction, error) {
	return summarize.Reduction{Summary: chunks[0], Chunks: len(chunks)}, nil
}

type echoStandardizer struct{}

func (echoStandardizer) Standardize(_ context.Context, _ model.Item, summary string) (model.StandardizedRecord, error) {
	rec := model.StandardizedRecord{Summary: summary, Parsed: true}
	rec.Fill()
	return rec, nil
}

func newTestPipeline(store *memStore, s provider.Searcher, stats provider.StatisticsProvider, terms []string) *Pipeline {
	policy := retry.Policy{MaxAttempts: 2, BaseDelay: time.Millisecond, Classify: provider.Classify, Logger: quietLogger}
	p := New(Deps{
		Expander:   fixedExpander(terms),
		Searcher:   s,
		Statistics: stats,
		ItemRanker: rank.Deterministic{By: rank.ByViews},
		Items: process.Deps{
			Transcripts:  anyTranscript{},
			Summarizer:   echoSummarizer{},
			Standardizer: echoStandardizer{},
		},
		Store:  store,
		Policy: policy,
		Logger: quietLogger,
	}, Options{KeywordCount: len(terms), PerKeyword: 5, Concurrency: 2})
	var n atomic.Int32
	p.newID = func() string { return fmt.Sprintf("run-%d", n.Add(1)) }
	return p
}

func TestRunQuotaExceededMidFanout(t *testing.T) {
	store := newMemStore()
	searcher := &quotaSearcher{allowed: 2}
	stats := &countingStats{}
	terms := []string{"kayak fishing", "kayak fishing gear", "kayak fishing tips"}
	p := newTestPipeline(store, searcher, stats, terms)

	res, err := p.Run(context.Background(), "kayak fishing")
	require.NoError(t, err)

	assert.True(t, res.QuotaExceeded)
	assert.Equal(t, int32(3), searcher.calls.Load())
	assert.Zero(t, stats.calls.Load(), "no statistics call once the quota is spent")
	assert.Equal(t, 4, res.Persisted)
	assert.Zero(t, res.Failed)
	assert.Len(t, store.items, 4)

	run := store.runs[res.RunID]
	assert.True(t, run.QuotaExceeded)
	assert.Equal(t, 4, run.Persisted)
	assert.NotNil(t, run.FinishedAt)

	require.Len(t, res.Keywords, 3)
	for _, a := range res.Keywords {
		assert.Equal(t, res.RunID, a.RunID)
	}
	assert.Len(t, store.analyses, 3)
}

func TestRunCountsProviderCalls(t *testing.T) {
	store := newMemStore()
	searcher := &quotaSearcher{allowed: 100}
	terms := []string{"kayak fishing", "kayak rigging"}
	p := newTestPipeline(store, searcher, &countingStats{}, terms)
	p.deps.Exec = ratelimit.New(2, 0, 2)

	res, err := p.Run(context.Background(), "kayak fishing")
	require.NoError(t, err)

	// Two searches and one statistics batch at least.
	assert.GreaterOrEqual(t, res.Calls.Submitted, int64(3))
	assert.LessOrEqual(t, res.Calls.MaxInFlight, int64(2))
	assert.Zero(t, res.Calls.InFlight)
}

func TestRunNoResults(t *testing.T) {
	store := newMemStore()
	p := newTestPipeline(store, &quotaSearcher{allowed: 0}, nil, []string{"kayak fishing"})

	res, err := p.Run(context.Background(), "kayak fishing")
	require.ErrorIs(t, err, ErrNoResults)
	assert.True(t, res.QuotaExceeded)
	assert.Empty(t, store.items)
	assert.Equal(t, ErrNoResults.Error(), store.runs[res.RunID].Notes)
}

func TestRunSelectsBestKeywordFirst(t *testing.T) {
	store := newMemStore()
	stats := &countingStats{}
	p := newTestPipeline(store, &quotaSearcher{allowed: 10}, stats, []string{"alpha", "beta"})
	p.opts.SelectTop = 3

	res, err := p.Run(context.Background(), "topic")
	require.NoError(t, err)
	assert.False(t, res.QuotaExceeded)
	assert.Equal(t, int32(1), stats.calls.Load())
	require.Len(t, res.Outcomes, 3)

	best := res.Keywords[0].Keyword
	assert.Equal(t, 1, res.Keywords[0].Rank)
	assert.Equal(t, best+"-", res.Outcomes[0].VideoID[:len(best)+1])
	assert.Equal(t, best+"-", res.Outcomes[1].VideoID[:len(best)+1])
}

func TestSelect(t *testing.T) {
	ranked := []model.Item{{ID: "a"}, {ID: "b"}, {ID: "c"}, {ID: "d"}}
	best := []model.Item{{ID: "d"}, {ID: "b"}}

	got := Select(ranked, best, 3)
	ids := make([]string, len(got))
	for i, it := range got {
		ids[i] = it.ID
	}
	assert.Equal(t, []string{"b", "d", "a"}, ids)
	assert.Len(t, Select(ranked, nil, 0), 4)
}

func TestDryRunTouchesNothing(t *testing.T) {
	store := newMemStore()
	searcher := &quotaSearcher{allowed: 10}
	stats := &countingStats{}
	p := newTestPipeline(store, searcher, stats, []string{"kayak fishing"})

	res := p.DryRun("kayak fishing")
	require.Len(t, res.Steps, 6)
	for _, s := range res.Steps {
		assert.Contains(t, s.Summary, "[dry-run]")
	}
	assert.Zero(t, searcher.calls.Load())
	assert.Zero(t, stats.calls.Load())
	assert.Empty(t, store.runs)
}
