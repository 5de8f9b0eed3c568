// Package keywords expands a seed topic into candidate search terms.
package keywords

import (
	"context"
	"fmt"
	"log/slog"
	"regexp"
	"strings"

	"github.com/TobiSchelling/videodigest/internal/llm"
	"github.com/TobiSchelling/videodigest/internal/model"
	"github.com/TobiSchelling/videodigest/internal/ratelimit"
	"github.com/TobiSchelling/videodigest/internal/retry"
)

const (
	expandMaxTokens   = 150
	expandTemperature = 0.7
)

const expandSystemPrompt = "You generate search queries for finding instructional videos."

const expandPrompt = `Generate %d distinct YouTube search queries for the topic below.
Each query should approach the topic from a different angle (beginner guides,
techniques, gear, common mistakes, expert tips).

Topic: %s

Return one query per line with no numbering and no extra text.`

// Expander turns a seed topic into up to N normalized search terms.
type Expander struct {
	provider llm.Provider
	exec     *ratelimit.Executor
	policy   retry.Policy
	logger   *slog.Logger
}

// NewExpander creates an Expander. A nil provider makes Expand return the seed.
func NewExpander(p llm.Provider, exec *ratelimit.Executor, policy retry.Policy, logger *slog.Logger) *Expander {
	return &Expander{provider: p, exec: exec, policy: policy, logger: logger}
}

// Expand returns a deduplicated, normalized list of at most n terms. It is
// never empty: when generation fails or yields nothing the result is the
// normalized seed alone.
func (e *Expander) Expand(ctx context.Context, seed string, n int) []string {
	if n < 1 {
		n = 1
	}
	fallback := fallbackTerms(seed)

	if e.provider == nil {
		e.logger.Info("no completion provider, using seed as the only keyword", slog.String("seed", seed))
		return fallback
	}

	ctx = llm.WithKind(ctx, model.KindKeywordGeneration)
	messages := []llm.Message{
		llm.System(expandSystemPrompt),
		llm.User(fmt.Sprintf(expandPrompt, n, seed)),
	}
	reply, err := retry.Do(ctx, e.policy, "keywords.expand", func(ctx context.Context) (string, error) {
		return ratelimit.Do(ctx, e.exec, func(ctx context.Context) (string, error) {
			return e.provider.Complete(ctx, messages, expandMaxTokens, expandTemperature)
		})
	})
	if err != nil {
		e.logger.Warn("keyword generation failed, using seed", slog.String("seed", seed), slog.Any("error", err))
		return fallback
	}

	terms := ParseTerms(reply, n)
	if len(terms) == 0 {
		e.logger.Warn("keyword generation returned no usable terms, using seed", slog.String("seed", seed))
		return fallback
	}
	e.logger.Info("expanded keywords", slog.String("seed", seed), slog.Int("count", len(terms)))
	return terms
}

var listMarker = regexp.MustCompile(`^(?:[-*•]+|\d+[.):]|#\d+[.):]?)\s*`)

// ParseTerms extracts up to n normalized, unique terms from a
// line-oriented reply.
func ParseTerms(reply string, n int) []string {
	seen := make(map[string]bool)
	var terms []string
	for _, line := range strings.Split(reply, "\n") {
		line = listMarker.ReplaceAllString(strings.TrimSpace(line), "")
		term := Normalize(line)
		if term == "" || seen[term] {
			continue
		}
		seen[term] = true
		terms = append(terms, term)
		if len(terms) == n {
			break
		}
	}
	return terms
}

// Normalize lowercases s, strips surrounding quotes and collapses whitespace.
func Normalize(s string) string {
	s = strings.Trim(strings.TrimSpace(s), "\"'`")
	return strings.ToLower(strings.Join(strings.Fields(s), " "))
}

func fallbackTerms(seed string) []string {
	if term := Normalize(seed); term != "" {
		return []string{term}
	}
	return []string{strings.TrimSpace(seed)}
}
