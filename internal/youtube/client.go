// Package youtube is the YouTube Data API v3 and caption adapter.
package youtube

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/TobiSchelling/videodigest/internal/model"
	"github.com/TobiSchelling/videodigest/internal/provider"
)

const (
	defaultAPIBase  = "https://www.googleapis.com/youtube/v3"
	commentPageSize = 100
)

// Client calls the YouTube Data API v3.
type Client struct {
	APIKey   string
	BaseURL  string
	Language string
	client   *http.Client
	logger   *slog.Logger
}

// NewClient creates a Data API client. language sets relevanceLanguage on
// searches and may be empty.
func NewClient(apiKey, language string, logger *slog.Logger) *Client {
	return &Client{
		APIKey:   apiKey,
		BaseURL:  defaultAPIBase,
		Language: language,
		client:   &http.Client{Timeout: 30 * time.Second},
		logger:   logger,
	}
}

// IsConfigured reports whether an API key is set.
func (c *Client) IsConfigured() bool {
	return c.APIKey != ""
}

type snippet struct {
	PublishedAt  string `json:"publishedAt"`
	ChannelID    string `json:"channelId"`
	Title        string `json:"title"`
	Description  string `json:"description"`
	ChannelTitle string `json:"channelTitle"`
}

type searchResponse struct {
	NextPageToken string `json:"nextPageToken"`
	Items         []struct {
		ID struct {
			Kind    string `json:"kind"`
			VideoID string `json:"videoId"`
		} `json:"id"`
		Snippet snippet `json:"snippet"`
	} `json:"items"`
}

type videoResource struct {
	ID         string  `json:"id"`
	Snippet    snippet `json:"snippet"`
	Statistics struct {
		ViewCount    int64 `json:"viewCount,string"`
		LikeCount    int64 `json:"likeCount,string"`
		CommentCount int64 `json:"commentCount,string"`
	} `json:"statistics"`
	ContentDetails struct {
		Duration string `json:"duration"`
	} `json:"contentDetails"`
}

type videosResponse struct {
	Items []videoResource `json:"items"`
}

// Search implements provider.Searcher using search.list.
func (c *Client) Search(ctx context.Context, term string, pageSize int, pageToken string) (provider.SearchPage, error) {
	params := url.Values{
		"part":       {"snippet"},
		"q":          {term},
		"type":       {"video"},
		"maxResults": {fmt.Sprint(clampPage(pageSize, provider.MaxPageSize))},
	}
	if pageToken != "" {
		params.Set("pageToken", pageToken)
	}
	if c.Language != "" {
		params.Set("relevanceLanguage", c.Language)
	}

	var resp searchResponse
	if err := c.get(ctx, "search", params, &resp); err != nil {
		return provider.SearchPage{}, err
	}

	page := provider.SearchPage{NextPageToken: resp.NextPageToken}
	for _, it := range resp.Items {
		if it.ID.VideoID == "" {
			continue
		}
		page.Items = append(page.Items, itemFromSnippet(it.ID.VideoID, it.Snippet))
	}
	return page, nil
}

// Statistics implements provider.StatisticsProvider using videos.list.
func (c *Client) Statistics(ctx context.Context, ids []string) (map[string]model.Stats, error) {
	if len(ids) == 0 {
		return map[string]model.Stats{}, nil
	}
	if len(ids) > provider.MaxPageSize {
		return nil, fmt.Errorf("statistics: %w: %d ids exceeds %d", provider.ErrRejected, len(ids), provider.MaxPageSize)
	}
	params := url.Values{
		"part": {"statistics,contentDetails"},
		"id":   {strings.Join(ids, ",")},
	}

	var resp videosResponse
	if err := c.get(ctx, "videos", params, &resp); err != nil {
		return nil, err
	}

	out := make(map[string]model.Stats, len(resp.Items))
	for _, v := range resp.Items {
		out[v.ID] = statsOf(v, c.logger)
	}
	return out, nil
}

// Video implements provider.MetadataProvider.
func (c *Client) Video(ctx context.Context, id string) (model.Item, error) {
	params := url.Values{
		"part": {"snippet,statistics,contentDetails"},
		"id":   {id},
	}
	var resp videosResponse
	if err := c.get(ctx, "videos", params, &resp); err != nil {
		return model.Item{}, err
	}
	if len(resp.Items) == 0 {
		return model.Item{}, fmt.Errorf("video %s: %w", id, provider.ErrNotAvailable)
	}
	v := resp.Items[0]
	item := itemFromSnippet(v.ID, v.Snippet)
	item.Stats = statsOf(v, c.logger)
	return item, nil
}

type commentSnippet struct {
	AuthorDisplayName string `json:"authorDisplayName"`
	TextDisplay       string `json:"textDisplay"`
	TextOriginal      string `json:"textOriginal"`
	ParentID          string `json:"parentId"`
	LikeCount         int64  `json:"likeCount"`
	PublishedAt       string `json:"publishedAt"`
	ModerationStatus  string `json:"moderationStatus"`
}

type commentResource struct {
	ID      string         `json:"id"`
	Snippet commentSnippet `json:"snippet"`
}

type commentThreadsResponse struct {
	NextPageToken string `json:"nextPageToken"`
	Items         []struct {
		ID      string `json:"id"`
		Snippet struct {
			VideoID         string          `json:"videoId"`
			TopLevelComment commentResource `json:"topLevelComment"`
			IsPublic        *bool           `json:"isPublic"`
		} `json:"snippet"`
		Replies struct {
			Comments []commentResource `json:"comments"`
		} `json:"replies"`
	} `json:"items"`
}

// Comments implements provider.CommentProvider using commentThreads.list.
// Top-level comments come before their replies. max <= 0 fetches every page.
func (c *Client) Comments(ctx context.Context, videoID string, max int) ([]model.Comment, error) {
	var out []model.Comment
	token := ""
	for {
		params := url.Values{
			"part":       {"snippet,replies"},
			"videoId":    {videoID},
			"maxResults": {fmt.Sprint(commentPageSize)},
			"textFormat": {"html"},
		}
		if token != "" {
			params.Set("pageToken", token)
		}

		var resp commentThreadsResponse
		if err := c.get(ctx, "commentThreads", params, &resp); err != nil {
			if len(out) > 0 && !errors.Is(err, provider.ErrQuotaExceeded) {
				c.logger.Warn("comment paging stopped early",
					slog.String("video_id", videoID), slog.Int("kept", len(out)), slog.Any("error", err))
				return out, nil
			}
			return nil, err
		}

		for _, thread := range resp.Items {
			public := thread.Snippet.IsPublic == nil || *thread.Snippet.IsPublic
			top := commentFrom(thread.Snippet.TopLevelComment, videoID, public)
			top.ParentID = nil
			out = append(out, top)
			for _, r := range thread.Replies.Comments {
				reply := commentFrom(r, videoID, public)
				parent := top.ID
				reply.ParentID = &parent
				out = append(out, reply)
			}
			if max > 0 && len(out) >= max {
				return out, nil
			}
		}

		if resp.NextPageToken == "" {
			return out, nil
		}
		token = resp.NextPageToken
	}
}

func commentFrom(r commentResource, videoID string, public bool) model.Comment {
	text := CleanText(r.Snippet.TextDisplay)
	if text == "" {
		text = strings.TrimSpace(r.Snippet.TextOriginal)
	}
	status := r.Snippet.ModerationStatus
	if status == "" {
		status = "published"
	}
	return model.Comment{
		ID:               r.ID,
		VideoID:          videoID,
		Author:           r.Snippet.AuthorDisplayName,
		Text:             text,
		LikeCount:        r.Snippet.LikeCount,
		PublishedAt:      parseTime(r.Snippet.PublishedAt),
		IsPublic:         public,
		ModerationStatus: status,
	}
}

type apiError struct {
	Error struct {
		Code    int    `json:"code"`
		Message string `json:"message"`
		Errors  []struct {
			Reason string `json:"reason"`
			Domain string `json:"domain"`
		} `json:"errors"`
	} `json:"error"`
}

func (c *Client) get(ctx context.Context, resource string, params url.Values, out any) error {
	if c.APIKey == "" {
		return fmt.Errorf("youtube %s: %w: API key not configured", resource, provider.ErrRejected)
	}
	params.Set("key", c.APIKey)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.BaseURL+"/"+resource+"?"+params.Encode(), nil)
	if err != nil {
		return fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return provider.Transient("youtube "+resource, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 8*1024*1024))
	if err != nil {
		return provider.Transient("youtube "+resource, err)
	}
	if resp.StatusCode != http.StatusOK {
		return classifyStatus(resource, resp.StatusCode, body)
	}
	if err := json.Unmarshal(body, out); err != nil {
		return fmt.Errorf("youtube %s: %w: %v", resource, provider.ErrMalformedResponse, err)
	}
	return nil
}

func classifyStatus(resource string, code int, body []byte) error {
	var ae apiError
	_ = json.Unmarshal(body, &ae)
	reason := ""
	if len(ae.Error.Errors) > 0 {
		reason = ae.Error.Errors[0].Reason
	}
	msg := ae.Error.Message
	if msg == "" {
		msg = strings.TrimSpace(string(body))
	}
	base := fmt.Errorf("youtube %s returned %d (%s): %s", resource, code, reason, msg)

	switch reason {
	case "quotaExceeded", "dailyLimitExceeded":
		return fmt.Errorf("%w: %v", provider.ErrQuotaExceeded, base)
	case "rateLimitExceeded", "userRateLimitExceeded", "backendError":
		return provider.Transient("youtube "+resource, base)
	case "commentsDisabled", "videoNotFound", "forbidden", "processingFailure":
		return fmt.Errorf("%w: %v", provider.ErrNotAvailable, base)
	}
	switch {
	case code == http.StatusNotFound:
		return fmt.Errorf("%w: %v", provider.ErrNotAvailable, base)
	case code == http.StatusTooManyRequests || code >= 500:
		return provider.Transient("youtube "+resource, base)
	default:
		return fmt.Errorf("%w: %v", provider.ErrRejected, base)
	}
}

func itemFromSnippet(id string, s snippet) model.Item {
	return model.Item{
		ID:           id,
		Title:        CleanText(s.Title),
		Description:  s.Description,
		PublishedAt:  parseTime(s.PublishedAt),
		ChannelTitle: s.ChannelTitle,
		Provenance:   model.ProvenanceNone,
	}
}

func statsOf(v videoResource, logger *slog.Logger) model.Stats {
	st := model.Stats{
		Views:    v.Statistics.ViewCount,
		Likes:    v.Statistics.LikeCount,
		Comments: v.Statistics.CommentCount,
	}
	if v.ContentDetails.Duration != "" {
		d, err := ParseDuration(v.ContentDetails.Duration)
		if err != nil {
			logger.Debug("unparsable duration", slog.String("video_id", v.ID), slog.String("duration", v.ContentDetails.Duration))
		} else {
			st.DurationSeconds = int64(d / time.Second)
		}
	}
	return st
}

func parseTime(s string) time.Time {
	t, err := time.Parse(time.RFC3339, s)
	if err != nil {
		return time.Time{}
	}
	return t.UTC()
}

func clampPage(n, max int) int {
	if n < 1 || n > max {
		return max
	}
	return n
}
