// Package model holds the typed records passed between pipeline stages.
package model

import (
	"errors"
	"strings"
	"time"
)

// ErrNotFound is returned by stores when a requested row does not exist.
var ErrNotFound = errors.New("not found")

// Provenance records which path produced an item's text.
type Provenance string

const (
	ProvenanceTranscript Provenance = "transcript"
	ProvenanceAudio      Provenance = "audio"
	ProvenanceNone       Provenance = "none"
)

// Unknown marks a standardized field the model did not provide.
const Unknown = "unknown"

// Stats holds engagement counters for one item.
type Stats struct {
	Views           int64
	Likes           int64
	Comments        int64
	DurationSeconds int64
}

// Item is one discovered video with its metadata and derived artifacts.
type Item struct {
	ID           string
	Title        string
	Description  string
	PublishedAt  time.Time
	ChannelTitle string
	Stats        Stats
	Transcript   *string
	Summary      *string
	Standardized *StandardizedRecord
	Provenance   Provenance
	Score        float64
	Keyword      string
	RunID        string
	UpdatedAt    time.Time
}

// StandardizedRecord is the fixed-schema digest of one item's summary.
// Parsed is false when the model output could not be decoded; Summary then
// carries the raw model text.
type StandardizedRecord struct {
	Topic      string `json:"main_topic"`
	Insights   string `json:"key_insights"`
	Tools      string `json:"recommended_tools"`
	Practices  string `json:"best_practices"`
	Challenges string `json:"challenges_and_advice"`
	Summary    string `json:"summary"`
	Parsed     bool   `json:"parsed"`
}

// Fill marks every empty field as Unknown.
func (r *StandardizedRecord) Fill() {
	for _, f := range []*string{&r.Topic, &r.Insights, &r.Tools, &r.Practices, &r.Challenges} {
		if strings.TrimSpace(*f) == "" {
			*f = Unknown
		}
	}
}

// Fields returns the five schema fields in display order.
func (r StandardizedRecord) Fields() []Field {
	return []Field{
		{Name: "Main topic", Value: r.Topic},
		{Name: "Key insights", Value: r.Insights},
		{Name: "Recommended tools", Value: r.Tools},
		{Name: "Best practices", Value: r.Practices},
		{Name: "Challenges and advice", Value: r.Challenges},
	}
}

// Field is a labelled standardized value.
type Field struct {
	Name  string
	Value string
}

// Comment belongs to an item, or to a parent comment when ParentID is set.
type Comment struct {
	ID               string
	VideoID          string
	ParentID         *string
	Author           string
	Text             string
	LikeCount        int64
	PublishedAt      time.Time
	IsPublic         bool
	ModerationStatus string
}

// Interaction kinds recorded in the AI interaction log.
const (
	KindCompletion        = "completion"
	KindKeywordGeneration = "keyword_generation"
	KindKeywordRanking    = "keyword_ranking"
	KindCriticRanking     = "critic_ranking"
	KindChunkSummary      = "chunk_summary"
	KindMergeSummary      = "merge_summary"
	KindStandardization   = "standardization"
)

// InteractionLog is an immutable record of one model call.
type InteractionLog struct {
	ID        int64
	Kind      string
	Input     string
	Output    string
	CreatedAt time.Time
}

// KeywordAnalysis holds per-keyword aggregates for one run.
type KeywordAnalysis struct {
	RunID         string
	Keyword       string
	ItemCount     int
	TotalViews    int64
	TotalLikes    int64
	TotalComments int64
	AvgViews      float64
	AvgLikes      float64
	AvgComments   float64
	Score         float64
	Rank          int
	// Critique is the critic's remark on this keyword, if it gave one.
	Critique string
}

// Run records one pipeline execution.
type Run struct {
	ID            string
	Topic         string
	StartedAt     time.Time
	FinishedAt    *time.Time
	QuotaExceeded bool
	Persisted     int
	Skipped       int
	Failed        int
	Notes         string
}

// StoreStats summarizes what a persistence gateway holds.
type StoreStats struct {
	Items        int
	Transcribed  int
	AudioOnly    int
	Unresolved   int
	Comments     int
	Interactions int
	Runs         int
}
