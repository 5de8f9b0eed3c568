// Package provider defines the narrow interfaces the pipeline uses to reach
// external collaborators, and the error kinds they report.
package provider

import (
	"context"

	"github.com/TobiSchelling/videodigest/internal/model"
)

// MaxPageSize is the largest page a search or statistics call may request.
const MaxPageSize = 50

// SearchPage is one page of search results.
type SearchPage struct {
	Items         []model.Item
	NextPageToken string
}

// Searcher runs a paginated term search.
type Searcher interface {
	Search(ctx context.Context, term string, pageSize int, pageToken string) (SearchPage, error)
}

// StatisticsProvider returns engagement statistics for up to MaxPageSize ids.
type StatisticsProvider interface {
	Statistics(ctx context.Context, ids []string) (map[string]model.Stats, error)
}

// MetadataProvider returns full metadata for one item.
type MetadataProvider interface {
	Video(ctx context.Context, id string) (model.Item, error)
}

// CommentProvider returns comment threads, replies included, for one item.
type CommentProvider interface {
	Comments(ctx context.Context, videoID string, max int) ([]model.Comment, error)
}

// TranscriptProvider returns an item's native transcript or ErrNotAvailable.
type TranscriptProvider interface {
	Transcript(ctx context.Context, videoID string) (string, error)
}

// AudioTranscriber turns audio bytes into text.
type AudioTranscriber interface {
	Transcribe(ctx context.Context, audio []byte, filename string) (string, error)
}
