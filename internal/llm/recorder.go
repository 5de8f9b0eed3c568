package llm

import (
	"context"
	"log/slog"
	"strings"
	"time"

	"github.com/TobiSchelling/videodigest/internal/model"
)

type kindKey struct{}

// WithKind tags ctx with the interaction kind recorded for completions made
// under it.
func WithKind(ctx context.Context, kind string) context.Context {
	return context.WithValue(ctx, kindKey{}, kind)
}

// KindFrom returns the interaction kind carried by ctx.
func KindFrom(ctx context.Context) string {
	if k, ok := ctx.Value(kindKey{}).(string); ok && k != "" {
		return k
	}
	return model.KindCompletion
}

// InteractionAppender stores interaction logs.
type InteractionAppender interface {
	AppendInteractionLog(ctx context.Context, entry model.InteractionLog) error
}

// Recorder wraps a Provider and appends an interaction log entry for every
// successful completion. Failures to record are logged and otherwise ignored.
type Recorder struct {
	inner  Provider
	store  InteractionAppender
	logger *slog.Logger
	now    func() time.Time
}

// NewRecorder creates a recording Provider.
func NewRecorder(inner Provider, store InteractionAppender, logger *slog.Logger) *Recorder {
	return &Recorder{inner: inner, store: store, logger: logger, now: time.Now}
}

// IsConfigured delegates to the wrapped provider.
func (r *Recorder) IsConfigured() bool {
	return r.inner != nil && r.inner.IsConfigured()
}

// Complete delegates to the wrapped provider and records the exchange.
func (r *Recorder) Complete(ctx context.Context, messages []Message, maxTokens int, temperature float64) (string, error) {
	out, err := r.inner.Complete(ctx, messages, maxTokens, temperature)
	if err != nil {
		return "", err
	}

	entry := model.InteractionLog{
		Kind:      KindFrom(ctx),
		Input:     renderMessages(messages),
		Output:    out,
		CreatedAt: r.now().UTC(),
	}
	if err := r.store.AppendInteractionLog(ctx, entry); err != nil {
		r.logger.Warn("recording interaction failed", slog.String("kind", entry.Kind), slog.Any("error", err))
	}
	return out, nil
}

func renderMessages(messages []Message) string {
	var b strings.Builder
	for i, m := range messages {
		if i > 0 {
			b.WriteString("\n\n")
		}
		b.WriteString("[")
		b.WriteString(m.Role)
		b.WriteString("]\n")
		b.WriteString(m.Content)
	}
	return b.String()
}
