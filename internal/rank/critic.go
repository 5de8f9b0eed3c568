package rank

import (
	"context"
	"fmt"
	"log/slog"
	"slices"
	"strings"

	"github.com/TobiSchelling/videodigest/internal/llm"
	"github.com/TobiSchelling/videodigest/internal/model"
	"github.com/TobiSchelling/videodigest/internal/ratelimit"
	"github.com/TobiSchelling/videodigest/internal/retry"
)

const (
	criticMaxTokens   = 512
	criticTemperature = 0.2
)

const criticSystemPrompt = "You are a critic who ranks learning resources by how useful they are for a topic."

const itemRankingPrompt = `Rank the following videos by how useful they would be for someone learning about "%s".
Consider relevance to the topic, depth, and audience engagement.

%s
Reply with the video numbers from most to least useful, one per line, like:
Video 3
Video 1`

const keywordRankingPrompt = `The search keywords below were used to find videos about "%s".
Rank the keywords by the quality of the videos they found, using the engagement figures.

%s
Reply with the keyword numbers from best to worst, one per line, each with a short critique, like:
Keyword 2: consistently engaged audience, in-depth tutorials
Keyword 1: few videos on topic`

// Ranker orders items.
type Ranker interface {
	RankItems(ctx context.Context, topic string, items []model.Item) []model.Item
}

// Deterministic ranks items by a fixed sort mode.
type Deterministic struct {
	By    SortBy
	Score ScoreFunc
}

// RankItems implements Ranker.
func (d Deterministic) RankItems(_ context.Context, _ string, items []model.Item) []model.Item {
	return Sort(items, d.By, d.Score)
}

// Critic ranks with a completion model. It fails open: anything the critic
// does not rank is appended in the fallback order, and a reply with no
// usable ranking yields the fallback order unchanged.
type Critic struct {
	provider llm.Provider
	exec     *ratelimit.Executor
	policy   retry.Policy
	fallback Deterministic
	logger   *slog.Logger
}

// NewCritic creates a Critic falling back to fallback.
func NewCritic(p llm.Provider, exec *ratelimit.Executor, policy retry.Policy, fallback Deterministic, logger *slog.Logger) *Critic {
	return &Critic{provider: p, exec: exec, policy: policy, fallback: fallback, logger: logger}
}

// RankItems implements Ranker.
func (c *Critic) RankItems(ctx context.Context, topic string, items []model.Item) []model.Item {
	base := c.fallback.RankItems(ctx, topic, items)
	if len(base) < 2 || c.provider == nil {
		return base
	}

	var b strings.Builder
	ids := make([]string, len(base))
	for i, it := range base {
		ids[i] = it.ID
		fmt.Fprintf(&b, "Video %d:\nID: %s\nTitle: %s\nChannel: %s\nViews: %d\nLikes: %d\nComments: %d\n",
			i+1, it.ID, it.Title, it.ChannelTitle, it.Stats.Views, it.Stats.Likes, it.Stats.Comments)
		if d := truncate(it.Description, 200); d != "" {
			fmt.Fprintf(&b, "Description: %s\n", d)
		}
		b.WriteString("\n")
	}

	order, _ := c.ask(llm.WithKind(ctx, model.KindCriticRanking), "rank.items",
		fmt.Sprintf(itemRankingPrompt, topic, b.String()), ids)
	return reorder(base, order)
}

// RankKeywords orders keyword analyses best first and assigns Rank. Remarks
// the critic writes next to a keyword become its Critique.
func (c *Critic) RankKeywords(ctx context.Context, topic string, analyses []model.KeywordAnalysis) []model.KeywordAnalysis {
	base := SortKeywords(analyses)
	out := base
	if len(base) >= 2 && c.provider != nil {
		var b strings.Builder
		ids := make([]string, len(base))
		for i, a := range base {
			ids[i] = a.Keyword
			fmt.Fprintf(&b, "Keyword %d: %s\nVideos: %d\nTotal views: %d\nAverage views: %.0f\nAverage likes: %.0f\nAverage comments: %.0f\n\n",
				i+1, a.Keyword, a.ItemCount, a.TotalViews, a.AvgViews, a.AvgLikes, a.AvgComments)
		}
		order, notes := c.ask(llm.WithKind(ctx, model.KindKeywordRanking), "rank.keywords",
			fmt.Sprintf(keywordRankingPrompt, topic, b.String()), ids)
		annotated := slices.Clone(base)
		for idx, note := range notes {
			annotated[idx].Critique = note
		}
		out = reorder(annotated, order)
	}
	return Numbered(out)
}

// Numbered returns a copy of analyses with Rank set to 1-based position.
func Numbered(analyses []model.KeywordAnalysis) []model.KeywordAnalysis {
	out := make([]model.KeywordAnalysis, len(analyses))
	for i, a := range analyses {
		a.Rank = i + 1
		out[i] = a
	}
	return out
}

func (c *Critic) ask(ctx context.Context, op, prompt string, ids []string) ([]int, map[int]string) {
	messages := []llm.Message{llm.System(criticSystemPrompt), llm.User(prompt)}
	reply, err := retry.Do(ctx, c.policy, op, func(ctx context.Context) (string, error) {
		return ratelimit.Do(ctx, c.exec, func(ctx context.Context) (string, error) {
			return c.provider.Complete(ctx, messages, criticMaxTokens, criticTemperature)
		})
	})
	if err != nil {
		c.logger.Warn("critic unavailable, using deterministic order", slog.String("op", op), slog.Any("error", err))
		return nil, nil
	}
	order, notes := ParseRankingNotes(reply, ids)
	if len(order) == 0 {
		c.logger.Warn("critic reply had no usable ranking, using deterministic order", slog.String("op", op))
	} else if len(order) < len(ids) {
		c.logger.Debug("critic ranked a subset", slog.String("op", op), slog.Int("ranked", len(order)), slog.Int("candidates", len(ids)))
	}
	return order, notes
}

// reorder puts the indexed elements first, then the rest in base order.
// The result always has len(base) elements.
func reorder[T any](base []T, order []int) []T {
	out := make([]T, 0, len(base))
	used := make([]bool, len(base))
	for _, idx := range order {
		if idx >= 0 && idx < len(base) && !used[idx] {
			used[idx] = true
			out = append(out, base[idx])
		}
	}
	for i, v := range base {
		if !used[i] {
			out = append(out, v)
		}
	}
	return out
}

func truncate(s string, n int) string {
	s = strings.Join(strings.Fields(s), " ")
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n]) + "..."
}
