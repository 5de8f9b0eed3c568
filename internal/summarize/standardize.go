package summarize

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
	standardizeMaxTokens   = 1024
	standardizeTemperature = 0.3
)

const standardizePrompt = `Turn the summary of the video "%s" into a structured record.

Summary:
%s

Respond with a JSON object containing exactly these keys:
- "main_topic": the main subject in one sentence
- "key_insights": the most important takeaways
- "recommended_tools": tools, gear or software recommended
- "best_practices": recommended practices and techniques
- "challenges_and_advice": common challenges and how to handle them
- "summary": a short paragraph summary

Use "unknown" for anything the summary does not cover.`

// field aliases accepted for each schema key, first match wins.
var fieldAliases = map[string][]string{
	"main_topic":            {"main_topic", "topic", "mainTopic"},
	"key_insights":          {"key_insights", "insights", "keyInsights"},
	"recommended_tools":     {"recommended_tools", "tools", "recommendedTools"},
	"best_practices":        {"best_practices", "practices", "bestPractices"},
	"challenges_and_advice": {"challenges_and_advice", "challenges", "challengesAndAdvice"},
	"summary":               {"summary"},
}

// Standardizer turns a summary into a model.StandardizedRecord.
type Standardizer struct {
	provider llm.Provider
	exec     *ratelimit.Executor
	policy   retry.Policy
	logger   *slog.Logger
}

// NewStandardizer creates a Standardizer.
func NewStandardizer(p llm.Provider, exec *ratelimit.Executor, policy retry.Policy, logger *slog.Logger) *Standardizer {
	return &Standardizer{provider: p, exec: exec, policy: policy, logger: logger}
}

// Standardize asks the model for a structured record. It returns an error
// only when the model call itself fails; an unparsable reply yields a record
// with every field Unknown and the raw reply as its Summary.
func (s *Standardizer) Standardize(ctx context.Context, item model.Item, summary string) (model.StandardizedRecord, error) {
	if s.provider == nil {
		return model.StandardizedRecord{}, fmt.Errorf("standardize: no completion provider configured")
	}
	messages := []llm.Message{
		llm.System(summarySystemPrompt),
		llm.User(fmt.Sprintf(standardizePrompt, item.Title, summary)),
	}
	ctx = llm.WithKind(ctx, model.KindStandardization)
	reply, err := retry.Do(ctx, s.policy, "standardize", func(ctx context.Context) (string, error) {
		return ratelimit.Do(ctx, s.exec, func(ctx context.Context) (string, error) {
			return s.provider.Complete(ctx, messages, standardizeMaxTokens, standardizeTemperature)
		})
	})
	if err != nil {
		return model.StandardizedRecord{}, err
	}

	rec := ParseRecord(reply)
	if !rec.Parsed {
		s.logger.Warn("standardized reply not parsable, keeping raw text", slog.String("video_id", item.ID))
	} else if rec.Summary == "" {
		rec.Summary = summary
	}
	return rec, nil
}

// ParseRecord decodes a model reply into a record. Missing fields are
// filled with model.Unknown. When no JSON object can be found the record is
// unparsed and Summary holds the trimmed reply.
func ParseRecord(reply string) model.StandardizedRecord {
	data := llm.ParseJSONResponse(reply)
	if data == nil {
		rec := model.StandardizedRecord{Summary: strings.TrimSpace(reply)}
		rec.Fill()
		return rec
	}

	rec := model.StandardizedRecord{
		Topic:      lookup(data, "main_topic"),
		Insights:   lookup(data, "key_insights"),
		Tools:      lookup(data, "recommended_tools"),
		Practices:  lookup(data, "best_practices"),
		Challenges: lookup(data, "challenges_and_advice"),
		Summary:    lookup(data, "summary"),
		Parsed:     true,
	}
	rec.Fill()
	return rec
}

func lookup(data map[string]any, key string) string {
	for _, alias := range fieldAliases[key] {
		if v, ok := data[alias]; ok {
			if s := getString(v); s != "" {
				return s
			}
		}
	}
	return ""
}

// getString flattens a JSON value into display text. Lists are joined with
// "; ", objects render as "key: value" pairs.
func getString(v any) string {
	switch val := v.(type) {
	case nil:
		return ""
	case string:
		return strings.TrimSpace(val)
	case float64:
		return fmt.Sprintf("%g", val)
	case bool:
		return fmt.Sprintf("%t", val)
	case []any:
		parts := make([]string, 0, len(val))
		for _, e := range val {
			if s := getString(e); s != "" {
				parts = append(parts, s)
			}
		}
		return strings.Join(parts, "; ")
	case map[string]any:
		parts := make([]string, 0, len(val))
		for k, e := range val {
			if s := getString(e); s != "" {
				parts = append(parts, k+": "+s)
			}
		}
		slices.Sort(parts)
		return strings.Join(parts, "; ")
	default:
		return fmt.Sprintf("%v", val)
	}
}
