package search

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/TobiSchelling/videodigest/internal/model"
	"github.com/TobiSchelling/videodigest/internal/provider"
	"github.com/TobiSchelling/videodigest/internal/ratelimit"
	"github.com/TobiSchelling/videodigest/internal/retry"
)

var fastPolicy = retry.Policy{
	MaxAttempts:   2,
	BaseDelay:     time.Millisecond,
	BackoffFactor: 1,
	Classify:      provider.Classify,
}

// pagedSearcher serves total results per term in pages.
type pagedSearcher struct {
	mu     sync.Mutex
	total  map[string]int
	errs   map[string]error
	errAt  map[string]int
	calls  map[string]int
	sizes  []int
}

func newPagedSearcher() *pagedSearcher {
	return &pagedSearcher{
		total: map[string]int{},
		errs:  map[string]error{},
		errAt: map[string]int{},
		calls: map[string]int{},
	}
}

func (p *pagedSearcher) Search(_ context.Context, term string, pageSize int, token string) (provider.SearchPage, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.calls[term]++
	p.sizes = append(p.sizes, pageSize)

	offset := 0
	if token != "" {
		_, _ = fmt.Sscanf(token, "%d", &offset)
	}
	if err, ok := p.errs[term]; ok && offset >= p.errAt[term] {
		return provider.SearchPage{}, err
	}

	var page provider.SearchPage
	end := min(offset+pageSize, p.total[term])
	for i := offset; i < end; i++ {
		page.Items = append(page.Items, model.Item{ID: fmt.Sprintf("%s-%d", term, i), Title: term})
	}
	if end < p.total[term] {
		page.NextPageToken = fmt.Sprintf("%d", end)
	}
	return page, nil
}

func TestFanoutPaginatesToLimit(t *testing.T) {
	s := newPagedSearcher()
	s.total["kayak"] = 120
	f := NewFanout(s, ratelimit.New(3, 0, 1), fastPolicy, slog.Default())

	res := f.Run(context.Background(), []string{"kayak"}, 75, ratelimit.NewQuota())

	require.Len(t, res.ByKeyword["kayak"], 75)
	assert.Equal(t, []int{50, 25}, s.sizes)
	assert.Equal(t, "kayak", res.ByKeyword["kayak"][0].Keyword)
	assert.False(t, res.QuotaExceeded)
}

func TestFanoutStopsWhenNoMorePages(t *testing.T) {
	s := newPagedSearcher()
	s.total["rare"] = 7
	f := NewFanout(s, nil, fastPolicy, slog.Default())

	res := f.Run(context.Background(), []string{"rare"}, 100, ratelimit.NewQuota())
	assert.Len(t, res.ByKeyword["rare"], 7)
	assert.Equal(t, 1, s.calls["rare"])
}

func TestFanoutKeepsEmptyKeywords(t *testing.T) {
	s := newPagedSearcher()
	s.total["found"] = 3
	f := NewFanout(s, nil, fastPolicy, slog.Default())

	res := f.Run(context.Background(), []string{"found", "nothing"}, 10, ratelimit.NewQuota())
	items, ok := res.ByKeyword["nothing"]
	require.True(t, ok, "searched keyword with no results must be kept")
	assert.Empty(t, items)
	assert.Equal(t, []string{"found", "nothing"}, res.Keywords())
}

func TestFanoutKeepsPartialResults(t *testing.T) {
	s := newPagedSearcher()
	s.total["flaky"] = 200
	s.errs["flaky"] = fmt.Errorf("bad request: %w", provider.ErrRejected)
	s.errAt["flaky"] = 50
	f := NewFanout(s, nil, fastPolicy, slog.Default())

	res := f.Run(context.Background(), []string{"flaky"}, 100, ratelimit.NewQuota())
	assert.Len(t, res.ByKeyword["flaky"], 50)
	assert.ErrorIs(t, res.Errors["flaky"], provider.ErrRejected)
}

func TestFanoutQuotaStopsNewWork(t *testing.T) {
	s := newPagedSearcher()
	s.total["a"] = 5
	s.errs["a"] = provider.ErrQuotaExceeded
	s.errAt["a"] = 0
	s.total["b"] = 5
	quota := ratelimit.NewQuota()
	f := NewFanout(s, ratelimit.New(1, 0, 1), fastPolicy, slog.Default())

	res := f.Run(context.Background(), []string{"a", "b", "c"}, 5, quota)

	assert.True(t, res.QuotaExceeded)
	assert.True(t, quota.Exceeded())
	// Quota errors are terminal: one call, no retry.
	assert.Equal(t, 1, s.calls["a"])
	assert.Equal(t, len(res.ByKeyword)+len(res.Skipped), 3)
}

func TestFanoutDedupesWithinKeyword(t *testing.T) {
	s := &dupSearcher{}
	f := NewFanout(s, nil, fastPolicy, slog.Default())

	res := f.Run(context.Background(), []string{"x", "y"}, 10, ratelimit.NewQuota())
	assert.Len(t, res.ByKeyword["x"], 2)
	assert.Len(t, res.Unique(), 2)
	assert.Equal(t, 4, res.Total())
}

type dupSearcher struct{}

func (dupSearcher) Search(context.Context, string, int, string) (provider.SearchPage, error) {
	return provider.SearchPage{Items: []model.Item{{ID: "v1"}, {ID: "v2"}, {ID: "v1"}}}, nil
}

type batchStats struct {
	failOn string
	calls  int
	mu     sync.Mutex
}

func (b *batchStats) Statistics(_ context.Context, ids []string) (map[string]model.Stats, error) {
	b.mu.Lock()
	b.calls++
	b.mu.Unlock()
	out := map[string]model.Stats{}
	for _, id := range ids {
		if id == b.failOn {
			return nil, fmt.Errorf("decode: %w", provider.ErrMalformedResponse)
		}
		out[id] = model.Stats{Views: int64(len(id)) * 100, Likes: 10, Comments: 1}
	}
	return out, nil
}

func ids(n int) []string {
	out := make([]string, n)
	for i := range out {
		out[i] = fmt.Sprintf("id%03d", i)
	}
	return out
}

func TestEnrichBatchesOf50(t *testing.T) {
	st := &batchStats{}
	e := NewEnricher(st, ratelimit.New(2, 0, 1), fastPolicy, 50, slog.Default())

	got := e.Enrich(context.Background(), ids(120), ratelimit.NewQuota())
	assert.Len(t, got, 120)
	assert.Equal(t, 3, st.calls)
}

func TestEnrichBatchFailureIsIsolated(t *testing.T) {
	all := ids(120)
	healthy := &batchStats{}
	baseline := NewEnricher(healthy, nil, fastPolicy, 50, slog.Default()).
		Enrich(context.Background(), all, ratelimit.NewQuota())

	broken := &batchStats{failOn: "id060"}
	got := NewEnricher(broken, nil, fastPolicy, 50, slog.Default()).
		Enrich(context.Background(), all, ratelimit.NewQuota())

	assert.Len(t, got, 70)
	for id, stats := range got {
		assert.Equal(t, baseline[id], stats, "id %s", id)
	}
	_, ok := got["id060"]
	assert.False(t, ok)
}

func TestApplyDefaultsMissingToZero(t *testing.T) {
	items := []model.Item{{ID: "a"}, {ID: "b", Stats: model.Stats{Views: 9}}}
	Apply(items, map[string]model.Stats{"a": {Views: 5}})
	assert.Equal(t, int64(5), items[0].Stats.Views)
	assert.Equal(t, model.Stats{}, items[1].Stats)
}

func TestBatch(t *testing.T) {
	assert.Equal(t, [][]string{{"a", "b"}, {"c"}}, Batch([]string{"a", "b", "c"}, 2))
	assert.Nil(t, Batch(nil, 50))
}

type staticSearcher struct {
	items []model.Item
	err   error
}

func (s staticSearcher) Search(context.Context, string, int, string) (provider.SearchPage, error) {
	return provider.SearchPage{Items: s.items, NextPageToken: "next"}, s.err
}

func TestMultiProviderMergesFirstPage(t *testing.T) {
	primary := staticSearcher{items: []model.Item{{ID: "a"}, {ID: "b"}}}
	feed := staticSearcher{items: []model.Item{{ID: "b"}, {ID: "c"}}}
	broken := staticSearcher{err: errors.New("feed down")}
	m := NewMultiProvider(primary, slog.Default(), feed, broken)

	page, err := m.Search(context.Background(), "t", 50, "")
	require.NoError(t, err)
	assert.Len(t, page.Items, 3)
	assert.Equal(t, "next", page.NextPageToken)

	page, err = m.Search(context.Background(), "t", 50, "next")
	require.NoError(t, err)
	assert.Len(t, page.Items, 2)
}

func TestMultiProviderPropagatesPrimaryQuota(t *testing.T) {
	m := NewMultiProvider(staticSearcher{err: provider.ErrQuotaExceeded}, slog.Default())
	_, err := m.Search(context.Background(), "t", 50, "")
	assert.ErrorIs(t, err, provider.ErrQuotaExceeded)
}
