// Package feeds searches YouTube channel RSS feeds.
package feeds

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/mmcdole/gofeed"
	ext "github.com/mmcdole/gofeed/extensions"
	"golang.org/x/sync/singleflight"

	"github.com/TobiSchelling/videodigest/internal/model"
	"github.com/TobiSchelling/videodigest/internal/provider"
	"github.com/TobiSchelling/videodigest/internal/youtube"
)

const channelFeedURL = "https://www.youtube.com/feeds/videos.xml?channel_id="

// feedTTL bounds how long a parsed feed answers later searches.
const feedTTL = 15 * time.Minute

// FeedConfig names one channel feed. URL may be a full feed URL or a bare
// channel id.
type FeedConfig struct {
	URL  string `yaml:"url"`
	Name string `yaml:"name"`
}

// ChannelSearcher matches search terms against recent uploads of the
// configured channels. It returns a single page per term. Each feed is
// downloaded once and reused by later terms until feedTTL passes;
// concurrent searches share one download.
type ChannelSearcher struct {
	feeds  []FeedConfig
	parser *gofeed.Parser
	logger *slog.Logger
	now    func() time.Time

	loads  singleflight.Group
	mu     sync.Mutex
	parsed map[string]parsedFeed
}

type parsedFeed struct {
	items   []model.Item
	fetched time.Time
}

// NewChannelSearcher creates a ChannelSearcher.
func NewChannelSearcher(feeds []FeedConfig, logger *slog.Logger) *ChannelSearcher {
	parser := gofeed.NewParser()
	parser.Client = &http.Client{Timeout: 20 * time.Second}
	return &ChannelSearcher{
		feeds:  feeds,
		parser: parser,
		logger: logger,
		now:    time.Now,
		parsed: make(map[string]parsedFeed),
	}
}

// Search implements provider.Searcher. Every word of term must appear in
// an entry's title or description. Later pages are always empty.
func (s *ChannelSearcher) Search(ctx context.Context, term string, pageSize int, pageToken string) (provider.SearchPage, error) {
	if pageToken != "" || len(s.feeds) == 0 {
		return provider.SearchPage{}, nil
	}
	words := strings.Fields(strings.ToLower(term))

	var page provider.SearchPage
	var errs []error
	seen := make(map[string]bool)
	for _, fc := range s.feeds {
		items, err := s.loadFeed(ctx, fc)
		if err != nil {
			if ctx.Err() != nil {
				return provider.SearchPage{}, ctx.Err()
			}
			s.logger.Warn("channel feed failed", slog.String("feed", fc.URL), slog.Any("error", err))
			errs = append(errs, err)
			continue
		}
		for _, it := range items {
			if seen[it.ID] || !matches(it, words) {
				continue
			}
			seen[it.ID] = true
			page.Items = append(page.Items, it)
			if pageSize > 0 && len(page.Items) >= pageSize {
				return page, nil
			}
		}
	}
	if len(page.Items) == 0 && len(errs) == len(s.feeds) {
		return page, provider.Transient("feeds", errors.Join(errs...))
	}
	return page, nil
}

// loadFeed returns the feed's items from memory when fresh, otherwise
// downloads it. Failures are not remembered.
func (s *ChannelSearcher) loadFeed(ctx context.Context, fc FeedConfig) ([]model.Item, error) {
	url := feedURL(fc.URL)
	if items, ok := s.fresh(url); ok {
		return items, nil
	}

	v, err, _ := s.loads.Do(url, func() (any, error) {
		// A load that finished since the check above already filled the memo.
		if items, ok := s.fresh(url); ok {
			return items, nil
		}
		items, err := s.parseFeed(ctx, fc)
		if err != nil {
			return nil, err
		}
		s.mu.Lock()
		s.parsed[url] = parsedFeed{items: items, fetched: s.now()}
		s.mu.Unlock()
		return items, nil
	})
	if err != nil {
		return nil, err
	}
	return v.([]model.Item), nil
}

func (s *ChannelSearcher) fresh(url string) ([]model.Item, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	pf, ok := s.parsed[url]
	if !ok || s.now().Sub(pf.fetched) >= feedTTL {
		return nil, false
	}
	return pf.items, true
}

func (s *ChannelSearcher) parseFeed(ctx context.Context, fc FeedConfig) ([]model.Item, error) {
	feed, err := s.parser.ParseURLWithContext(feedURL(fc.URL), ctx)
	if err != nil {
		var httpErr gofeed.HTTPError
		if errors.As(err, &httpErr) && httpErr.StatusCode == http.StatusNotFound {
			return nil, fmt.Errorf("%w: %v", provider.ErrNotAvailable, err)
		}
		return nil, err
	}

	channel := fc.Name
	if channel == "" {
		channel = feed.Title
	}
	var items []model.Item
	for _, entry := range feed.Items {
		if it, ok := itemFromEntry(entry, channel); ok {
			items = append(items, it)
		}
	}
	return items, nil
}

func itemFromEntry(entry *gofeed.Item, channel string) (model.Item, bool) {
	id := videoID(entry)
	title := strings.TrimSpace(entry.Title)
	if id == "" || title == "" {
		return model.Item{}, false
	}

	it := model.Item{
		ID:           id,
		Title:        title,
		Description:  youtube.CleanText(description(entry)),
		ChannelTitle: channel,
		Provenance:   model.ProvenanceNone,
	}
	if entry.Author != nil && entry.Author.Name != "" {
		it.ChannelTitle = entry.Author.Name
	}
	if entry.PublishedParsed != nil {
		it.PublishedAt = entry.PublishedParsed.UTC()
	} else if entry.UpdatedParsed != nil {
		it.PublishedAt = entry.UpdatedParsed.UTC()
	}
	it.Stats = mediaStats(entry)
	return it, true
}

// videoID reads yt:videoId, falling back to the "yt:video:<id>" GUID.
func videoID(entry *gofeed.Item) string {
	if yt, ok := entry.Extensions["yt"]; ok {
		if ids := yt["videoId"]; len(ids) > 0 && ids[0].Value != "" {
			return ids[0].Value
		}
	}
	return strings.TrimPrefix(entry.GUID, "yt:video:")
}

func description(entry *gofeed.Item) string {
	if group := mediaGroup(entry); group != nil {
		if d := group["description"]; len(d) > 0 && d[0].Value != "" {
			return d[0].Value
		}
	}
	if entry.Description != "" {
		return entry.Description
	}
	return entry.Content
}

// mediaStats reads media:community counters when the feed carries them.
func mediaStats(entry *gofeed.Item) model.Stats {
	var st model.Stats
	group := mediaGroup(entry)
	if group == nil {
		return st
	}
	community := group["community"]
	if len(community) == 0 {
		return st
	}
	if views := community[0].Children["statistics"]; len(views) > 0 {
		_, _ = fmt.Sscan(views[0].Attrs["views"], &st.Views)
	}
	if rating := community[0].Children["starRating"]; len(rating) > 0 {
		_, _ = fmt.Sscan(rating[0].Attrs["count"], &st.Likes)
	}
	return st
}

func mediaGroup(entry *gofeed.Item) map[string][]ext.Extension {
	media, ok := entry.Extensions["media"]
	if !ok {
		return nil
	}
	groups := media["group"]
	if len(groups) == 0 {
		return nil
	}
	return groups[0].Children
}

func matches(it model.Item, words []string) bool {
	hay := strings.ToLower(it.Title + " " + it.Description)
	for _, w := range words {
		if !strings.Contains(hay, w) {
			return false
		}
	}
	return true
}

func feedURL(s string) string {
	if strings.HasPrefix(s, "http://") || strings.HasPrefix(s, "https://") {
		return s
	}
	return channelFeedURL + s
}
