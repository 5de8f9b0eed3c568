package summarize

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/TobiSchelling/videodigest/internal/llm"
	"github.com/TobiSchelling/videodigest/internal/model"
	"github.com/TobiSchelling/videodigest/internal/ratelimit"
	"github.com/TobiSchelling/videodigest/internal/retry"
)

// ErrNoContent means there was nothing to summarize, or no chunk produced
// a summary.
var ErrNoContent = errors.New("no content to summarize")

const (
	summaryMaxTokens   = 1024
	summaryTemperature = 0.5
)

const summarySystemPrompt = "You summarize video transcripts for people learning a topic. Be factual and concise."

const chunkPrompt = `Summarize this part of a video transcript about "%s".
Keep concrete techniques, tools, numbers and advice.
%s
Transcript part:
%s`

const previousContext = `
Summary of the preceding part, for context only:
%s
`

const mergePrompt = `Combine these two consecutive summaries of the same video about "%s" into one
coherent summary. Remove repetition and keep every concrete detail.

First part:
%s

Second part:
%s`

// Reduction is the outcome of a hierarchical reduction.
type Reduction struct {
	Summary string
	// Chunks is how many chunks produced a summary in the linear pass.
	Chunks int
	// Dropped counts chunks and merges that failed and were left out.
	Dropped int
	// Levels is the number of pairwise merge passes.
	Levels int
}

// Reducer summarizes ordered chunks with a chronological linear pass, then
// merges adjacent summaries pairwise until one remains.
type Reducer struct {
	provider llm.Provider
	exec     *ratelimit.Executor
	policy   retry.Policy
	logger   *slog.Logger

	// Temperature is passed to every chunk and merge completion.
	Temperature float64
}

// NewReducer creates a Reducer.
func NewReducer(p llm.Provider, exec *ratelimit.Executor, policy retry.Policy, logger *slog.Logger) *Reducer {
	return &Reducer{provider: p, exec: exec, policy: policy, logger: logger, Temperature: summaryTemperature}
}

// Reduce summarizes chunks into one summary. A single chunk returns its own
// summary with zero merge levels. Failed chunks are dropped; when every
// chunk fails the error wraps ErrNoContent.
func (r *Reducer) Reduce(ctx context.Context, topic string, chunks []string) (Reduction, error) {
	var res Reduction
	if len(chunks) == 0 {
		return res, ErrNoContent
	}
	if r.provider == nil {
		return res, fmt.Errorf("summarize: no completion provider configured")
	}

	summaries := make([]string, 0, len(chunks))
	prev := ""
	for i, chunk := range chunks {
		if err := ctx.Err(); err != nil {
			return res, err
		}
		s, err := r.summarizeChunk(ctx, topic, chunk, prev)
		if err != nil {
			if ctx.Err() != nil {
				return res, ctx.Err()
			}
			res.Dropped++
			r.logger.Warn("chunk summary failed, dropping chunk",
				slog.Int("chunk", i), slog.Int("chunks", len(chunks)), slog.Any("error", err))
			continue
		}
		summaries = append(summaries, s)
		prev = s
	}
	res.Chunks = len(summaries)
	if len(summaries) == 0 {
		return res, fmt.Errorf("%w: all %d chunks failed", ErrNoContent, len(chunks))
	}

	for len(summaries) > 1 {
		next, dropped, err := r.mergeLevel(ctx, topic, summaries)
		if err != nil {
			return res, err
		}
		res.Dropped += dropped
		res.Levels++
		summaries = next
	}

	res.Summary = summaries[0]
	r.logger.Debug("reduction finished",
		slog.Int("chunks", len(chunks)), slog.Int("levels", res.Levels), slog.Int("dropped", res.Dropped))
	return res, nil
}

// mergeLevel merges adjacent pairs concurrently. An odd trailing summary
// is carried to the next level as-is. When a merge fails the left summary
// is carried and the right one is dropped, so every level shrinks.
func (r *Reducer) mergeLevel(ctx context.Context, topic string, in []string) ([]string, int, error) {
	out := make([]string, (len(in)+1)/2)
	dropped := 0
	var mu sync.Mutex
	var g errgroup.Group

	for i := 0; i < len(in); i += 2 {
		slot := i / 2
		if i+1 == len(in) {
			out[slot] = in[i]
			continue
		}
		left, right := in[i], in[i+1]
		g.Go(func() error {
			merged, err := r.merge(ctx, topic, left, right)
			if err != nil {
				if ctx.Err() != nil {
					return ctx.Err()
				}
				r.logger.Warn("summary merge failed, keeping left part", slog.Int("pair", slot), slog.Any("error", err))
				mu.Lock()
				dropped++
				mu.Unlock()
				merged = left
			}
			out[slot] = merged
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, 0, err
	}
	return out, dropped, nil
}

func (r *Reducer) summarizeChunk(ctx context.Context, topic, chunk, prev string) (string, error) {
	extra := ""
	if prev != "" {
		extra = fmt.Sprintf(previousContext, prev)
	}
	messages := []llm.Message{
		llm.System(summarySystemPrompt),
		llm.User(fmt.Sprintf(chunkPrompt, topic, extra, chunk)),
	}
	return r.complete(llm.WithKind(ctx, model.KindChunkSummary), "summarize.chunk", messages)
}

func (r *Reducer) merge(ctx context.Context, topic, left, right string) (string, error) {
	messages := []llm.Message{
		llm.System(summarySystemPrompt),
		llm.User(fmt.Sprintf(mergePrompt, topic, left, right)),
	}
	return r.complete(llm.WithKind(ctx, model.KindMergeSummary), "summarize.merge", messages)
}

func (r *Reducer) complete(ctx context.Context, op string, messages []llm.Message) (string, error) {
	out, err := retry.Do(ctx, r.policy, op, func(ctx context.Context) (string, error) {
		return ratelimit.Do(ctx, r.exec, func(ctx context.Context) (string, error) {
			return r.provider.Complete(ctx, messages, summaryMaxTokens, r.Temperature)
		})
	})
	if err != nil {
		return "", err
	}
	out = strings.TrimSpace(out)
	if out == "" {
		return "", fmt.Errorf("%s: empty reply", op)
	}
	return out, nil
}
