// Package search fans keyword searches out to providers and enriches the
// merged results with engagement statistics.
package search

import (
	"context"
	"errors"
	"log/slog"
	"slices"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/TobiSchelling/videodigest/internal/model"
	"github.com/TobiSchelling/videodigest/internal/provider"
	"github.com/TobiSchelling/videodigest/internal/ratelimit"
	"github.com/TobiSchelling/videodigest/internal/retry"
)

// Result is the merged outcome of a fan-out.
type Result struct {
	// ByKeyword holds results for every keyword that was searched, in
	// provider order and deduplicated by id. A keyword that found nothing
	// maps to an empty slice.
	ByKeyword map[string][]model.Item
	// Skipped lists keywords never searched because the quota was spent.
	Skipped []string
	// Errors holds the error that ended each keyword early.
	Errors        map[string]error
	QuotaExceeded bool

	order []string
}

// Keywords returns the searched keywords in input order.
func (r *Result) Keywords() []string {
	var out []string
	for _, kw := range r.order {
		if _, ok := r.ByKeyword[kw]; ok {
			out = append(out, kw)
		}
	}
	return out
}

// Unique returns every item once, in keyword order then provider order.
// The item's Keyword is the first keyword that found it.
func (r *Result) Unique() []model.Item {
	seen := make(map[string]bool)
	var out []model.Item
	for _, kw := range r.Keywords() {
		for _, it := range r.ByKeyword[kw] {
			if seen[it.ID] {
				continue
			}
			seen[it.ID] = true
			out = append(out, it)
		}
	}
	return out
}

// Total counts results across keywords, duplicates included.
func (r *Result) Total() int {
	n := 0
	for _, items := range r.ByKeyword {
		n += len(items)
	}
	return n
}

// Fanout runs one paginated search per keyword concurrently.
type Fanout struct {
	searcher provider.Searcher
	exec     *ratelimit.Executor
	policy   retry.Policy
	logger   *slog.Logger
}

// NewFanout creates a Fanout. Every page request goes through exec and policy.
func NewFanout(s provider.Searcher, exec *ratelimit.Executor, policy retry.Policy, logger *slog.Logger) *Fanout {
	return &Fanout{searcher: s, exec: exec, policy: policy, logger: logger}
}

// Run searches every keyword for up to perKeyword results. The quota token
// is checked before every page; once raised no new page starts and the
// remaining keywords are reported as skipped.
func (f *Fanout) Run(ctx context.Context, keywords []string, perKeyword int, quota *ratelimit.Quota) *Result {
	res := &Result{
		ByKeyword: make(map[string][]model.Item),
		Errors:    make(map[string]error),
	}
	var mu sync.Mutex
	var g errgroup.Group

	for _, kw := range keywords {
		if slices.Contains(res.order, kw) {
			continue
		}
		res.order = append(res.order, kw)

		g.Go(func() error {
			items, started, err := f.searchKeyword(ctx, kw, perKeyword, quota)

			mu.Lock()
			defer mu.Unlock()
			if !started {
				res.Skipped = append(res.Skipped, kw)
				return nil
			}
			res.ByKeyword[kw] = items
			if err != nil {
				res.Errors[kw] = err
			}
			return nil
		})
	}
	_ = g.Wait()

	res.QuotaExceeded = quota.Exceeded()
	f.logger.Info("search fan-out finished",
		slog.Int("keywords", len(res.order)),
		slog.Int("searched", len(res.ByKeyword)),
		slog.Int("skipped", len(res.Skipped)),
		slog.Int("results", res.Total()),
		slog.Bool("quota_exceeded", res.QuotaExceeded))
	return res
}

// searchKeyword pages through one keyword. started is false when the quota
// token stopped the first page. Items gathered before an error are kept.
func (f *Fanout) searchKeyword(ctx context.Context, kw string, limit int, quota *ratelimit.Quota) (items []model.Item, started bool, err error) {
	items = []model.Item{}
	seen := make(map[string]bool)
	token := ""

	for len(items) < limit {
		pageSize := min(provider.MaxPageSize, limit-len(items))

		page, err := retry.Do(ctx, f.policy, "search", func(ctx context.Context) (provider.SearchPage, error) {
			return ratelimit.Do(ctx, f.exec, func(ctx context.Context) (provider.SearchPage, error) {
				if quota.Exceeded() {
					return provider.SearchPage{}, provider.ErrQuotaExceeded
				}
				started = true
				return f.searcher.Search(ctx, kw, pageSize, token)
			})
		})
		if err != nil {
			if errors.Is(err, provider.ErrQuotaExceeded) {
				quota.Trip()
			}
			if started {
				f.logger.Warn("search stopped early",
					slog.String("keyword", kw),
					slog.Int("kept", len(items)),
					slog.Any("error", err))
			}
			return items, started, err
		}

		for _, it := range page.Items {
			if seen[it.ID] || it.ID == "" {
				continue
			}
			seen[it.ID] = true
			it.Keyword = kw
			items = append(items, it)
			if len(items) == limit {
				break
			}
		}
		if page.NextPageToken == "" || len(page.Items) == 0 {
			break
		}
		token = page.NextPageToken
	}

	f.logger.Debug("keyword searched", slog.String("keyword", kw), slog.Int("results", len(items)))
	return items, true, nil
}
