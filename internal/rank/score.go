// Package rank orders items and keywords, deterministically or with a
// model-assisted critic that falls back to the deterministic order.
package rank

import (
	"math"

	"github.com/TobiSchelling/videodigest/internal/model"
)

// ScoreFunc derives a non-negative weighted score from engagement stats.
type ScoreFunc func(model.Stats) float64

// DefaultScore weights comments above likes above views on a log scale.
func DefaultScore(s model.Stats) float64 {
	return log1p(s.Views) + 2*log1p(s.Likes) + 3*log1p(s.Comments)
}

func log1p(n int64) float64 {
	if n <= 0 {
		return 0
	}
	return math.Log1p(float64(n))
}

// Score applies fn, or DefaultScore when fn is nil, clamping at zero.
func Score(fn ScoreFunc, s model.Stats) float64 {
	if fn == nil {
		fn = DefaultScore
	}
	v := fn(s)
	if v < 0 || math.IsNaN(v) {
		return 0
	}
	return v
}

// Aggregate computes per-keyword totals, averages and the mean item score.
func Aggregate(keyword string, items []model.Item, fn ScoreFunc) model.KeywordAnalysis {
	a := model.KeywordAnalysis{Keyword: keyword, ItemCount: len(items)}
	if len(items) == 0 {
		return a
	}
	var score float64
	for _, it := range items {
		a.TotalViews += it.Stats.Views
		a.TotalLikes += it.Stats.Likes
		a.TotalComments += it.Stats.Comments
		score += Score(fn, it.Stats)
	}
	n := float64(len(items))
	a.AvgViews = float64(a.TotalViews) / n
	a.AvgLikes = float64(a.TotalLikes) / n
	a.AvgComments = float64(a.TotalComments) / n
	a.Score = score / n
	return a
}
