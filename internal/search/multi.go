package search

import (
	"context"
	"log/slog"

	"github.com/TobiSchelling/videodigest/internal/provider"
)

// MultiProvider merges a paginated primary searcher with single-page
// secondary sources. Secondary results are appended to the primary's first
// page; secondary failures are logged and never fail the search.
type MultiProvider struct {
	primary   provider.Searcher
	secondary []provider.Searcher
	logger    *slog.Logger
}

// NewMultiProvider creates a MultiProvider. primary may be nil when only
// secondary sources are configured.
func NewMultiProvider(primary provider.Searcher, logger *slog.Logger, secondary ...provider.Searcher) *MultiProvider {
	return &MultiProvider{primary: primary, secondary: secondary, logger: logger}
}

// Search implements provider.Searcher.
func (m *MultiProvider) Search(ctx context.Context, term string, pageSize int, pageToken string) (provider.SearchPage, error) {
	var page provider.SearchPage
	if m.primary != nil {
		var err error
		page, err = m.primary.Search(ctx, term, pageSize, pageToken)
		if err != nil {
			return provider.SearchPage{}, err
		}
	}
	if pageToken != "" {
		return page, nil
	}

	seen := make(map[string]bool, len(page.Items))
	for _, it := range page.Items {
		seen[it.ID] = true
	}
	for _, s := range m.secondary {
		extra, err := s.Search(ctx, term, pageSize, "")
		if err != nil {
			m.logger.Warn("secondary search failed", slog.String("term", term), slog.Any("error", err))
			continue
		}
		for _, it := range extra.Items {
			if seen[it.ID] {
				continue
			}
			seen[it.ID] = true
			page.Items = append(page.Items, it)
		}
	}
	return page, nil
}
