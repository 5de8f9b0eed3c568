// Package pipeline orchestrates one run: keyword expansion, search fan-out,
// statistics enrichment, ranking, selection and per-item processing.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/TobiSchelling/videodigest/internal/model"
	"github.com/TobiSchelling/videodigest/internal/process"
	"github.com/TobiSchelling/videodigest/internal/provider"
	"github.com/TobiSchelling/videodigest/internal/rank"
	"github.com/TobiSchelling/videodigest/internal/ratelimit"
	"github.com/TobiSchelling/videodigest/internal/retry"
	"github.com/TobiSchelling/videodigest/internal/search"
)

// ErrNoResults is returned when no keyword produced a single search result.
var ErrNoResults = errors.New("no search results for any keyword")

// ErrNoCandidates is returned when ranking and selection left nothing to process.
var ErrNoCandidates = errors.New("no candidate items to process")

// StepResult holds the result of a single pipeline step.
type StepResult struct {
	Name    string
	Summary string
	Err     error
}

// Result holds the results of a full pipeline run.
type Result struct {
	RunID         string
	Topic         string
	Steps         []StepResult
	Keywords      []model.KeywordAnalysis
	Outcomes      []process.Outcome
	Persisted     int
	Skipped       int
	Failed        int
	QuotaExceeded bool
	// Calls counts provider calls that went through the shared executor.
	Calls ratelimit.Stats
}

// Store is what a run writes to.
type Store interface {
	process.Store
	StartRun(ctx context.Context, run model.Run) error
	FinishRun(ctx context.Context, run model.Run) error
	InsertKeywordAnalyses(ctx context.Context, analyses []model.KeywordAnalysis) error
}

// KeywordExpander turns a seed into search terms.
type KeywordExpander interface {
	Expand(ctx context.Context, seed string, n int) []string
}

// KeywordRanker orders keyword aggregates best first and assigns Rank.
type KeywordRanker interface {
	RankKeywords(ctx context.Context, topic string, analyses []model.KeywordAnalysis) []model.KeywordAnalysis
}

// Deps are the collaborators of a Pipeline.
type Deps struct {
	Expander      KeywordExpander
	Searcher      provider.Searcher
	Statistics    provider.StatisticsProvider
	ItemRanker    rank.Ranker
	KeywordRanker KeywordRanker
	// Items carries the per-item collaborators. Its Store is replaced by
	// Deps.Store.
	Items  process.Deps
	Store  Store
	Exec   *ratelimit.Executor
	Policy retry.Policy
	Logger *slog.Logger
}

// Options tune a run.
type Options struct {
	KeywordCount int
	PerKeyword   int
	SelectTop    int
	Concurrency  int
	BatchSize    int
	Score        rank.ScoreFunc
	Item         process.Options
}

// Pipeline orchestrates a run.
type Pipeline struct {
	deps  Deps
	opts  Options
	newID func() string
}

// New creates a new pipeline.
func New(deps Deps, opts Options) *Pipeline {
	if opts.KeywordCount < 1 {
		opts.KeywordCount = 1
	}
	if opts.PerKeyword < 1 {
		opts.PerKeyword = 10
	}
	if opts.Concurrency < 1 {
		opts.Concurrency = 1
	}
	if opts.Item.Score == nil {
		opts.Item.Score = opts.Score
	}
	return &Pipeline{deps: deps, opts: opts, newID: uuid.NewString}
}

// Run executes a full run for topic. Item failures are reported in the
// result; only batch-level conditions return an error.
func (p *Pipeline) Run(ctx context.Context, topic string) (*Result, error) {
	r := &Result{RunID: p.newID(), Topic: topic}
	log := p.deps.Logger.With(slog.String("run_id", r.RunID))
	quota := ratelimit.NewQuota()

	started := time.Now().UTC()
	if err := p.deps.Store.StartRun(ctx, model.Run{ID: r.RunID, Topic: topic, StartedAt: started}); err != nil {
		return r, fmt.Errorf("recording run start: %w", err)
	}

	log.Info("Step 1/6: Expanding keywords...")
	terms := p.deps.Expander.Expand(ctx, topic, p.opts.KeywordCount)
	r.Steps = append(r.Steps, StepResult{
		Name:    "Expand",
		Summary: fmt.Sprintf("%d keywords: %s", len(terms), strings.Join(terms, ", ")),
	})

	log.Info("Step 2/6: Searching...")
	found, step := p.runSearch(ctx, terms, quota)
	r.Steps = append(r.Steps, step)
	if found.Total() == 0 {
		r.QuotaExceeded = quota.Exceeded()
		p.finish(ctx, r, started, ErrNoResults.Error(), log)
		return r, ErrNoResults
	}

	log.Info("Step 3/6: Enriching statistics...")
	candidates := found.Unique()
	r.Steps = append(r.Steps, p.runEnrich(ctx, found, candidates, quota))

	log.Info("Step 4/6: Ranking keywords...")
	step = p.runRankKeywords(ctx, r, topic, found)
	r.Steps = append(r.Steps, step)

	log.Info("Step 5/6: Ranking and selecting items...")
	selected, step := p.runSelect(ctx, topic, found, candidates, r.Keywords)
	r.Steps = append(r.Steps, step)
	if len(selected) == 0 {
		r.QuotaExceeded = quota.Exceeded()
		p.finish(ctx, r, started, ErrNoCandidates.Error(), log)
		return r, ErrNoCandidates
	}

	log.Info("Step 6/6: Processing items...", slog.Int("items", len(selected)))
	r.Steps = append(r.Steps, p.runProcess(ctx, r, topic, selected, quota))

	r.QuotaExceeded = quota.Exceeded()
	var notes string
	if r.QuotaExceeded {
		notes = "quota exceeded"
	}
	p.finish(ctx, r, started, notes, log)
	return r, nil
}

func (p *Pipeline) runSearch(ctx context.Context, terms []string, quota *ratelimit.Quota) (*search.Result, StepResult) {
	fanout := search.NewFanout(p.deps.Searcher, p.deps.Exec, p.deps.Policy, p.deps.Logger)
	found := fanout.Run(ctx, terms, p.opts.PerKeyword, quota)

	step := StepResult{
		Name: "Search",
		Summary: fmt.Sprintf("%d results from %d keywords (%d skipped, %d with errors)",
			found.Total(), len(found.Keywords()), len(found.Skipped), len(found.Errors)),
	}
	if found.QuotaExceeded {
		step.Summary += ", quota exceeded"
	}
	if found.Total() == 0 {
		step.Err = ErrNoResults
	}
	return found, step
}

func (p *Pipeline) runEnrich(ctx context.Context, found *search.Result, candidates []model.Item, quota *ratelimit.Quota) StepResult {
	if p.deps.Statistics == nil {
		return StepResult{Name: "Enrich", Summary: "no statistics provider, keeping search metadata"}
	}
	ids := make([]string, len(candidates))
	for i, it := range candidates {
		ids[i] = it.ID
	}
	enricher := search.NewEnricher(p.deps.Statistics, p.deps.Exec, p.deps.Policy, p.opts.BatchSize, p.deps.Logger)
	stats := enricher.Enrich(ctx, ids, quota)

	search.Apply(candidates, stats)
	for _, kw := range found.Keywords() {
		search.Apply(found.ByKeyword[kw], stats)
	}
	return StepResult{
		Name:    "Enrich",
		Summary: fmt.Sprintf("Statistics for %d of %d items", len(stats), len(ids)),
	}
}

func (p *Pipeline) runRankKeywords(ctx context.Context, r *Result, topic string, found *search.Result) StepResult {
	var analyses []model.KeywordAnalysis
	for _, kw := range found.Keywords() {
		a := rank.Aggregate(kw, found.ByKeyword[kw], p.opts.Score)
		a.RunID = r.RunID
		analyses = append(analyses, a)
	}
	if p.deps.KeywordRanker != nil {
		analyses = p.deps.KeywordRanker.RankKeywords(ctx, topic, analyses)
	} else {
		analyses = rank.Numbered(rank.SortKeywords(analyses))
	}
	r.Keywords = analyses

	step := StepResult{Name: "Rank keywords"}
	if len(analyses) > 0 {
		step.Summary = fmt.Sprintf("Best keyword %q (%d items, %d views)",
			analyses[0].Keyword, analyses[0].ItemCount, analyses[0].TotalViews)
	}
	if err := p.deps.Store.InsertKeywordAnalyses(ctx, analyses); err != nil {
		p.deps.Logger.Warn("storing keyword analyses failed", slog.Any("error", err))
		step.Err = err
	}
	return step
}

func (p *Pipeline) runSelect(ctx context.Context, topic string, found *search.Result, candidates []model.Item, keywords []model.KeywordAnalysis) ([]model.Item, StepResult) {
	ranked := candidates
	if p.deps.ItemRanker != nil {
		ranked = p.deps.ItemRanker.RankItems(ctx, topic, candidates)
	}
	var best []model.Item
	if len(keywords) > 0 {
		best = found.ByKeyword[keywords[0].Keyword]
	}
	selected := Select(ranked, best, p.opts.SelectTop)
	return selected, StepResult{
		Name:    "Select",
		Summary: fmt.Sprintf("Selected %d of %d ranked items", len(selected), len(ranked)),
	}
}

// Select merges the best keyword's items with the overall ranking. Items
// found by the best keyword come first, in ranked order, followed by the
// remaining ranked items. top <= 0 keeps everything.
func Select(ranked, best []model.Item, top int) []model.Item {
	inBest := make(map[string]bool, len(best))
	for _, it := range best {
		inBest[it.ID] = true
	}
	out := make([]model.Item, 0, len(ranked))
	for _, it := range ranked {
		if inBest[it.ID] {
			out = append(out, it)
		}
	}
	for _, it := range ranked {
		if !inBest[it.ID] {
			out = append(out, it)
		}
	}
	if top > 0 && len(out) > top {
		out = out[:top]
	}
	return out
}

func (p *Pipeline) runProcess(ctx context.Context, r *Result, topic string, items []model.Item, quota *ratelimit.Quota) StepResult {
	deps := p.deps.Items
	deps.Store = p.deps.Store
	if deps.Exec == nil {
		deps.Exec = p.deps.Exec
	}
	if deps.Logger == nil {
		deps.Logger = p.deps.Logger
	}
	if deps.Policy.MaxAttempts == 0 {
		deps.Policy = p.deps.Policy
	}
	opts := p.opts.Item
	opts.Topic = topic
	opts.RunID = r.RunID

	r.Outcomes = process.New(deps, opts).ProcessAll(ctx, items, p.opts.Concurrency, quota)
	r.Persisted, r.Skipped, r.Failed = process.Counts(r.Outcomes)
	return StepResult{
		Name:    "Process",
		Summary: fmt.Sprintf("%d persisted, %d skipped, %d failed", r.Persisted, r.Skipped, r.Failed),
	}
}

func (p *Pipeline) finish(ctx context.Context, r *Result, started time.Time, notes string, log *slog.Logger) {
	finished := time.Now().UTC()
	r.Calls = p.deps.Exec.Stats()
	run := model.Run{
		ID:            r.RunID,
		Topic:         r.Topic,
		StartedAt:     started,
		FinishedAt:    &finished,
		QuotaExceeded: r.QuotaExceeded,
		Persisted:     r.Persisted,
		Skipped:       r.Skipped,
		Failed:        r.Failed,
		Notes:         notes,
	}
	// The caller's context may already be cancelled; the run record is still written.
	if err := p.deps.Store.FinishRun(context.WithoutCancel(ctx), run); err != nil {
		log.Error("recording run finish failed", slog.Any("error", err))
	}
	log.Info("run finished",
		slog.Int("persisted", r.Persisted),
		slog.Int("skipped", r.Skipped),
		slog.Int("failed", r.Failed),
		slog.Bool("quota_exceeded", r.QuotaExceeded),
		slog.Int64("provider_calls", r.Calls.Submitted),
		slog.Duration("elapsed", finished.Sub(started)))
}

// DryRun shows what a run would do without calling any external service or
// writing to storage.
func (p *Pipeline) DryRun(topic string) *Result {
	r := &Result{RunID: "dry-run", Topic: topic}
	item := p.opts.Item

	r.Steps = append(r.Steps, StepResult{
		Name:    "Expand",
		Summary: fmt.Sprintf("[dry-run] Would expand %q into up to %d keywords", topic, p.opts.KeywordCount),
	})
	r.Steps = append(r.Steps, StepResult{
		Name: "Search",
		Summary: fmt.Sprintf("[dry-run] Would search up to %d results per keyword (%d max)",
			p.opts.PerKeyword, p.opts.PerKeyword*p.opts.KeywordCount),
	})
	enrich := "[dry-run] Would fetch statistics in batches of 50"
	if p.deps.Statistics == nil {
		enrich = "[dry-run] No statistics provider configured"
	}
	r.Steps = append(r.Steps, StepResult{Name: "Enrich", Summary: enrich})
	r.Steps = append(r.Steps, StepResult{
		Name:    "Rank keywords",
		Summary: fmt.Sprintf("[dry-run] Would rank keywords with %s", rankerName(p.deps.KeywordRanker)),
	})
	top := "all"
	if p.opts.SelectTop > 0 {
		top = fmt.Sprintf("top %d", p.opts.SelectTop)
	}
	r.Steps = append(r.Steps, StepResult{
		Name:    "Select",
		Summary: fmt.Sprintf("[dry-run] Would rank items with %s and keep %s", rankerName(p.deps.ItemRanker), top),
	})

	var extras []string
	if item.AudioFallback {
		extras = append(extras, "audio fallback")
	}
	if item.FetchComments {
		extras = append(extras, "comments")
	}
	summary := fmt.Sprintf("[dry-run] Would process items %d at a time", p.opts.Concurrency)
	if len(extras) > 0 {
		summary += " with " + strings.Join(extras, " and ")
	}
	r.Steps = append(r.Steps, StepResult{Name: "Process", Summary: summary})
	return r
}

func rankerName(v any) string {
	switch v.(type) {
	case nil:
		return "default ordering"
	case *rank.Critic:
		return "the critic model"
	case rank.Deterministic:
		return "a fixed sort"
	default:
		return fmt.Sprintf("%T", v)
	}
}
