package cache

import (
	"context"
	"log/slog"

	"github.com/TobiSchelling/videodigest/internal/provider"
)

// TranscriptCache wraps a TranscriptProvider and caches successful fetches.
// Failures, NotAvailable included, are never cached.
type TranscriptCache struct {
	inner  provider.TranscriptProvider
	store  *Tiered
	logger *slog.Logger
}

// NewTranscriptCache creates a caching TranscriptProvider.
func NewTranscriptCache(inner provider.TranscriptProvider, store *Tiered, logger *slog.Logger) *TranscriptCache {
	return &TranscriptCache{inner: inner, store: store, logger: logger}
}

// Transcript implements provider.TranscriptProvider.
func (c *TranscriptCache) Transcript(ctx context.Context, videoID string) (string, error) {
	if data, ok := c.store.Get(ctx, videoID); ok {
		c.logger.Debug("transcript cache hit", slog.String("video_id", videoID))
		return string(data), nil
	}
	text, err := c.inner.Transcript(ctx, videoID)
	if err != nil {
		return "", err
	}
	c.store.Set(ctx, videoID, []byte(text))
	return text, nil
}
