package rank

import (
	"cmp"
	"fmt"
	"slices"
	"strings"

	"github.com/TobiSchelling/videodigest/internal/model"
)

// SortBy names a deterministic item ordering.
type SortBy string

const (
	ByEngagement SortBy = "engagement"
	ByViews      SortBy = "views"
	ByLikes      SortBy = "likes"
	ByComments   SortBy = "comments"
	ByDate       SortBy = "date"
	ByDuration   SortBy = "duration"
	ByCombined   SortBy = "combined"
	ByScore      SortBy = "score"
)

// ParseSortBy validates a sort mode name. The empty string means ByEngagement.
func ParseSortBy(s string) (SortBy, error) {
	switch v := SortBy(strings.ToLower(strings.TrimSpace(s))); v {
	case "":
		return ByEngagement, nil
	case ByEngagement, ByViews, ByLikes, ByComments, ByDate, ByDuration, ByCombined, ByScore:
		return v, nil
	default:
		return "", fmt.Errorf("unknown sort mode %q", s)
	}
}

// engagement orders by (views, likes, comments) descending.
func engagement(a, b model.Stats) int {
	return cmp.Or(
		cmp.Compare(b.Views, a.Views),
		cmp.Compare(b.Likes, a.Likes),
		cmp.Compare(b.Comments, a.Comments),
	)
}

// Sort returns a copy of items ordered by mode, highest first. Ties fall
// back to engagement and then to input order.
func Sort(items []model.Item, by SortBy, fn ScoreFunc) []model.Item {
	out := slices.Clone(items)
	slices.SortStableFunc(out, func(a, b model.Item) int {
		var c int
		switch by {
		case ByViews:
			c = cmp.Compare(b.Stats.Views, a.Stats.Views)
		case ByLikes:
			c = cmp.Compare(b.Stats.Likes, a.Stats.Likes)
		case ByComments:
			c = cmp.Compare(b.Stats.Comments, a.Stats.Comments)
		case ByDate:
			c = b.PublishedAt.Compare(a.PublishedAt)
		case ByDuration:
			c = cmp.Compare(b.Stats.DurationSeconds, a.Stats.DurationSeconds)
		case ByCombined:
			c = cmp.Compare(b.Stats.Views+b.Stats.Likes+b.Stats.Comments, a.Stats.Views+a.Stats.Likes+a.Stats.Comments)
		case ByScore:
			c = cmp.Compare(Score(fn, b.Stats), Score(fn, a.Stats))
		}
		return cmp.Or(c, engagement(a.Stats, b.Stats))
	})
	return out
}

// SortKeywords returns a copy of analyses ordered by (total views, total
// likes, total comments) descending.
func SortKeywords(analyses []model.KeywordAnalysis) []model.KeywordAnalysis {
	out := slices.Clone(analyses)
	slices.SortStableFunc(out, func(a, b model.KeywordAnalysis) int {
		return cmp.Or(
			cmp.Compare(b.TotalViews, a.TotalViews),
			cmp.Compare(b.TotalLikes, a.TotalLikes),
			cmp.Compare(b.TotalComments, a.TotalComments),
		)
	})
	return out
}
