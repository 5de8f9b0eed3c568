// Package process runs the per-item state machine: metadata, transcript or
// audio fallback, hierarchical summary, standardization, persistence.
package process

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/TobiSchelling/videodigest/internal/model"
	"github.com/TobiSchelling/videodigest/internal/provider"
	"github.com/TobiSchelling/videodigest/internal/rank"
	"github.com/TobiSchelling/videodigest/internal/ratelimit"
	"github.com/TobiSchelling/videodigest/internal/retry"
	"github.com/TobiSchelling/videodigest/internal/summarize"
)

// State is a point in an item's lifecycle.
type State string

const (
	StatePending            State = "pending"
	StateMetadataFetched    State = "metadata_fetched"
	StateTranscriptResolved State = "transcript_resolved"
	StateAudioResolved      State = "audio_resolved"
	StateUnresolved         State = "unresolved"
	StateSummarized         State = "summarized"
	StateStandardized       State = "standardized"
	StatePersisted          State = "persisted"
	StateFailed             State = "failed"
)

// Step names the transition an item failed in.
type Step string

const (
	StepMetadata    Step = "metadata"
	StepTranscript  Step = "transcript"
	StepAudio       Step = "audio"
	StepSummarize   Step = "summarize"
	StepStandardize Step = "standardize"
	StepPersist     Step = "persist"
)

// Outcome is the final state of one item.
type Outcome struct {
	VideoID    string
	Title      string
	State      State
	FailedStep Step
	Provenance model.Provenance
	Err        error
	Trail      []State
	Comments   int
}

// Store persists items and their comments.
type Store interface {
	UpsertItem(ctx context.Context, item model.Item) error
	AppendComments(ctx context.Context, videoID string, comments []model.Comment) error
}

// AudioResolver transcribes an item's audio into ordered window texts.
type AudioResolver interface {
	Resolve(ctx context.Context, videoID string) ([]string, error)
}

// Summarizer reduces ordered chunks to one summary.
type Summarizer interface {
	Reduce(ctx context.Context, topic string, chunks []string) (summarize.Reduction, error)
}

// Standardizer turns a summary into a standardized record.
type Standardizer interface {
	Standardize(ctx context.Context, item model.Item, summary string) (model.StandardizedRecord, error)
}

// Deps are the collaborators of a Pipeline. Metadata, Comments and Audio
// may be nil to skip those steps.
type Deps struct {
	Metadata     provider.MetadataProvider
	Transcripts  provider.TranscriptProvider
	Comments     provider.CommentProvider
	Audio        AudioResolver
	Summarizer   Summarizer
	Standardizer Standardizer
	Store        Store
	Exec         *ratelimit.Executor
	Policy       retry.Policy
	Logger       *slog.Logger
}

// Options tune a Pipeline.
type Options struct {
	Topic         string
	RunID         string
	AudioFallback bool
	FetchComments bool
	MaxComments   int
	ChunkWords    int
	ChunkOverlap  int
	Score         rank.ScoreFunc
}

// Pipeline processes items one at a time, or a batch with bounded
// concurrency. No item failure escapes Process.
type Pipeline struct {
	deps Deps
	opts Options
	now  func() time.Time
}

// New creates a Pipeline.
func New(deps Deps, opts Options) *Pipeline {
	if opts.ChunkWords <= 0 {
		opts.ChunkWords = 1500
	}
	if opts.ChunkOverlap < 0 || opts.ChunkOverlap >= opts.ChunkWords {
		opts.ChunkOverlap = 0
	}
	return &Pipeline{deps: deps, opts: opts, now: time.Now}
}

// ProcessAll runs every item with at most concurrency in flight and
// returns outcomes in input order.
func (p *Pipeline) ProcessAll(ctx context.Context, items []model.Item, concurrency int, quota *ratelimit.Quota) []Outcome {
	if concurrency < 1 {
		concurrency = 1
	}
	outcomes := make([]Outcome, len(items))
	var g errgroup.Group
	g.SetLimit(concurrency)
	for i, item := range items {
		g.Go(func() error {
			outcomes[i] = p.Process(ctx, item, quota)
			return nil
		})
	}
	_ = g.Wait()
	return outcomes
}

type run struct {
	item    model.Item
	outcome Outcome
}

func (r *run) enter(s State) {
	r.outcome.State = s
	r.outcome.Trail = append(r.outcome.Trail, s)
}

func (r *run) fail(step Step, err error) Outcome {
	r.outcome.FailedStep = step
	r.outcome.Err = err
	r.enter(StateFailed)
	return r.outcome
}

// Process drives one item to Persisted, Unresolved or Failed.
func (p *Pipeline) Process(ctx context.Context, item model.Item, quota *ratelimit.Quota) (out Outcome) {
	r := &run{item: item, outcome: Outcome{VideoID: item.ID, Title: item.Title}}
	r.enter(StatePending)
	log := p.deps.Logger.With(slog.String("video_id", item.ID))

	defer func() {
		if rec := recover(); rec != nil {
			log.Error("item processing panicked", slog.Any("panic", rec))
			out = r.fail(stepFor(r.outcome.State), fmt.Errorf("panic: %v", rec))
		}
		out.Provenance = r.item.Provenance
	}()

	p.fetchMetadata(ctx, r, quota, log)
	r.enter(StateMetadataFetched)

	chunks, ok := p.resolveText(ctx, r, log)
	if !ok {
		return p.unresolved(ctx, r, log)
	}

	red, err := p.deps.Summarizer.Reduce(ctx, p.opts.Topic, chunks)
	if err != nil {
		if errors.Is(err, summarize.ErrNoContent) {
			log.Warn("no chunk produced a summary", slog.Any("error", err))
			return p.unresolved(ctx, r, log)
		}
		return r.fail(StepSummarize, err)
	}
	r.item.Summary = &red.Summary
	r.enter(StateSummarized)

	rec, err := p.deps.Standardizer.Standardize(ctx, r.item, red.Summary)
	if err != nil {
		return r.fail(StepStandardize, err)
	}
	r.item.Standardized = &rec
	r.enter(StateStandardized)

	if err := p.persist(ctx, r); err != nil {
		return r.fail(StepPersist, err)
	}
	r.enter(StatePersisted)
	log.Info("item persisted",
		slog.String("provenance", string(r.item.Provenance)),
		slog.Int("chunks", red.Chunks),
		slog.Int("levels", red.Levels))

	r.outcome.Comments = p.fetchComments(ctx, r.item.ID, quota, log)
	return r.outcome
}

func (p *Pipeline) fetchMetadata(ctx context.Context, r *run, quota *ratelimit.Quota, log *slog.Logger) {
	if p.deps.Metadata == nil || quota.Exceeded() {
		return
	}
	meta, err := retry.Do(ctx, p.deps.Policy, "metadata", func(ctx context.Context) (model.Item, error) {
		return ratelimit.Do(ctx, p.deps.Exec, func(ctx context.Context) (model.Item, error) {
			if quota.Exceeded() {
				return model.Item{}, provider.ErrQuotaExceeded
			}
			return p.deps.Metadata.Video(ctx, r.item.ID)
		})
	})
	if err != nil {
		if errors.Is(err, provider.ErrQuotaExceeded) {
			quota.Trip()
		}
		log.Warn("metadata fetch failed, continuing with search metadata", slog.Any("error", err))
		return
	}
	mergeMetadata(&r.item, meta)
}

// mergeMetadata fills item fields from fetched metadata. Fetched values win
// when present.
func mergeMetadata(item *model.Item, meta model.Item) {
	if meta.Title != "" {
		item.Title = meta.Title
	}
	if meta.Description != "" {
		item.Description = meta.Description
	}
	if meta.ChannelTitle != "" {
		item.ChannelTitle = meta.ChannelTitle
	}
	if !meta.PublishedAt.IsZero() {
		item.PublishedAt = meta.PublishedAt
	}
	if meta.Stats != (model.Stats{}) {
		item.Stats = meta.Stats
	}
}

// resolveText returns ordered chunks from the native transcript, or from
// the audio fallback when that is enabled.
func (p *Pipeline) resolveText(ctx context.Context, r *run, log *slog.Logger) ([]string, bool) {
	text, err := retry.Do(ctx, p.deps.Policy, "transcript", func(ctx context.Context) (string, error) {
		return ratelimit.Do(ctx, p.deps.Exec, func(ctx context.Context) (string, error) {
			return p.deps.Transcripts.Transcript(ctx, r.item.ID)
		})
	})
	if err == nil && strings.TrimSpace(text) != "" {
		r.item.Transcript = &text
		r.item.Provenance = model.ProvenanceTranscript
		r.enter(StateTranscriptResolved)
		return summarize.SplitWords(text, p.opts.ChunkWords, p.opts.ChunkOverlap), true
	}
	if errors.Is(err, provider.ErrNotAvailable) {
		log.Info("no native transcript")
	} else if err != nil {
		log.Warn("transcript fetch failed", slog.Any("error", err))
	}

	if !p.opts.AudioFallback || p.deps.Audio == nil {
		return nil, false
	}
	segments, err := p.deps.Audio.Resolve(ctx, r.item.ID)
	if err != nil {
		log.Warn("audio fallback failed", slog.Any("error", err))
		return nil, false
	}
	joined := strings.Join(segments, " ")
	r.item.Transcript = &joined
	r.item.Provenance = model.ProvenanceAudio
	r.enter(StateAudioResolved)
	return segments, true
}

// unresolved persists the metadata row and ends the item as skipped. The
// provenance stays "none" unless text was resolved but not summarized.
func (p *Pipeline) unresolved(ctx context.Context, r *run, log *slog.Logger) Outcome {
	if r.item.Provenance == "" {
		r.item.Provenance = model.ProvenanceNone
	}
	r.enter(StateUnresolved)
	if err := p.persist(ctx, r); err != nil {
		return r.fail(StepPersist, err)
	}
	log.Info("item unresolved, metadata persisted", slog.String("provenance", string(r.item.Provenance)))
	return r.outcome
}

func (p *Pipeline) persist(ctx context.Context, r *run) error {
	r.item.Score = rank.Score(p.opts.Score, r.item.Stats)
	r.item.RunID = p.opts.RunID
	r.item.UpdatedAt = p.now().UTC()
	return retry.Run(ctx, p.deps.Policy, "persist", func(ctx context.Context) error {
		return p.deps.Store.UpsertItem(ctx, r.item)
	})
}

// fetchComments stores comment threads for a persisted item. Failures are
// logged only; comments never change the item's outcome.
func (p *Pipeline) fetchComments(ctx context.Context, videoID string, quota *ratelimit.Quota, log *slog.Logger) int {
	if !p.opts.FetchComments || p.deps.Comments == nil || quota.Exceeded() {
		return 0
	}
	comments, err := retry.Do(ctx, p.deps.Policy, "comments", func(ctx context.Context) ([]model.Comment, error) {
		return ratelimit.Do(ctx, p.deps.Exec, func(ctx context.Context) ([]model.Comment, error) {
			if quota.Exceeded() {
				return nil, provider.ErrQuotaExceeded
			}
			return p.deps.Comments.Comments(ctx, videoID, p.opts.MaxComments)
		})
	})
	if err != nil {
		if errors.Is(err, provider.ErrQuotaExceeded) {
			quota.Trip()
		}
		log.Warn("comment fetch failed", slog.Any("error", err))
		return 0
	}
	if len(comments) == 0 {
		return 0
	}
	if err := retry.Run(ctx, p.deps.Policy, "persist.comments", func(ctx context.Context) error {
		return p.deps.Store.AppendComments(ctx, videoID, comments)
	}); err != nil {
		log.Warn("storing comments failed", slog.Any("error", err))
		return 0
	}
	return len(comments)
}

func stepFor(s State) Step {
	switch s {
	case StatePending:
		return StepMetadata
	case StateMetadataFetched:
		return StepTranscript
	case StateTranscriptResolved, StateAudioResolved:
		return StepSummarize
	case StateSummarized:
		return StepStandardize
	default:
		return StepPersist
	}
}

// Counts tallies outcomes into persisted, skipped and failed.
func Counts(outcomes []Outcome) (persisted, skipped, failed int) {
	for _, o := range outcomes {
		switch o.State {
		case StatePersisted:
			persisted++
		case StateUnresolved:
			skipped++
		default:
			failed++
		}
	}
	return persisted, skipped, failed
}
