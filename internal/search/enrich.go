package search

import (
	"context"
	"errors"
	"log/slog"
	"maps"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/TobiSchelling/videodigest/internal/model"
	"github.com/TobiSchelling/videodigest/internal/provider"
	"github.com/TobiSchelling/videodigest/internal/ratelimit"
	"github.com/TobiSchelling/videodigest/internal/retry"
)

// Enricher fetches engagement statistics in isolated batches.
type Enricher struct {
	stats     provider.StatisticsProvider
	exec      *ratelimit.Executor
	policy    retry.Policy
	batchSize int
	logger    *slog.Logger
}

// NewEnricher creates an Enricher. batchSize is capped at provider.MaxPageSize.
func NewEnricher(s provider.StatisticsProvider, exec *ratelimit.Executor, policy retry.Policy, batchSize int, logger *slog.Logger) *Enricher {
	if batchSize < 1 || batchSize > provider.MaxPageSize {
		batchSize = provider.MaxPageSize
	}
	return &Enricher{stats: s, exec: exec, policy: policy, batchSize: batchSize, logger: logger}
}

// Enrich returns statistics for ids. A failed batch is logged and its ids
// are left out of the map; callers treat missing ids as zero.
func (e *Enricher) Enrich(ctx context.Context, ids []string, quota *ratelimit.Quota) map[string]model.Stats {
	out := make(map[string]model.Stats, len(ids))
	var mu sync.Mutex
	var g errgroup.Group

	batches := Batch(ids, e.batchSize)
	failed := 0
	for i, batch := range batches {
		g.Go(func() error {
			stats, err := retry.Do(ctx, e.policy, "statistics", func(ctx context.Context) (map[string]model.Stats, error) {
				return ratelimit.Do(ctx, e.exec, func(ctx context.Context) (map[string]model.Stats, error) {
					if quota.Exceeded() {
						return nil, provider.ErrQuotaExceeded
					}
					return e.stats.Statistics(ctx, batch)
				})
			})

			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				if errors.Is(err, provider.ErrQuotaExceeded) {
					quota.Trip()
				}
				failed++
				e.logger.Warn("statistics batch failed",
					slog.Int("batch", i),
					slog.Int("size", len(batch)),
					slog.Any("error", err))
				return nil
			}
			maps.Copy(out, stats)
			return nil
		})
	}
	_ = g.Wait()

	e.logger.Info("statistics enriched",
		slog.Int("ids", len(ids)),
		slog.Int("batches", len(batches)),
		slog.Int("failed_batches", failed))
	return out
}

// Apply copies statistics onto items. Items without an entry get zeros.
func Apply(items []model.Item, stats map[string]model.Stats) {
	for i := range items {
		items[i].Stats = stats[items[i].ID]
	}
}

// Batch splits ids into consecutive slices of at most size elements.
func Batch(ids []string, size int) [][]string {
	if size < 1 {
		size = 1
	}
	var out [][]string
	for start := 0; start < len(ids); start += size {
		end := min(start+size, len(ids))
		out = append(out, ids[start:end])
	}
	return out
}
