package audio

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"golang.org/x/sync/errgroup"

	"github.com/TobiSchelling/videodigest/internal/provider"
	"github.com/TobiSchelling/videodigest/internal/ratelimit"
	"github.com/TobiSchelling/videodigest/internal/retry"
)

// ErrNoSegments means no audio window produced text.
var ErrNoSegments = errors.New("no audio segment transcribed")

// Fetcher produces a local audio file for a video.
type Fetcher interface {
	Download(ctx context.Context, videoID string) (string, error)
}

// Splitter cuts an audio file into ordered windows.
type Splitter interface {
	Split(ctx context.Context, input, outDir string) ([]string, error)
}

// Resolver runs the audio fallback. Downloads and transcription uploads go
// through the rate-limited I/O executor; segmenting runs on the media pool.
type Resolver struct {
	fetcher     Fetcher
	splitter    Splitter
	transcriber provider.AudioTranscriber
	exec        *ratelimit.Executor
	pool        *ratelimit.Executor
	policy      retry.Policy
	logger      *slog.Logger
}

// NewResolver creates a Resolver.
func NewResolver(f Fetcher, s Splitter, t provider.AudioTranscriber, exec, pool *ratelimit.Executor, policy retry.Policy, logger *slog.Logger) *Resolver {
	return &Resolver{fetcher: f, splitter: s, transcriber: t, exec: exec, pool: pool, policy: policy, logger: logger}
}

// Resolve returns one transcript per audio window, in playback order.
// Windows that fail to transcribe are dropped; when none succeed it
// returns ErrNoSegments.
func (r *Resolver) Resolve(ctx context.Context, videoID string) ([]string, error) {
	path, err := retry.Do(ctx, r.policy, "audio.download", func(ctx context.Context) (string, error) {
		return ratelimit.Do(ctx, r.exec, func(ctx context.Context) (string, error) {
			return r.fetcher.Download(ctx, videoID)
		})
	})
	if err != nil {
		return nil, err
	}

	segDir := strings.TrimSuffix(path, filepath.Ext(path)) + "_segments"
	segments, err := ratelimit.Do(ctx, r.pool, func(ctx context.Context) ([]string, error) {
		return r.splitter.Split(ctx, path, segDir)
	})
	if err != nil {
		return nil, err
	}

	texts := make([]string, len(segments))
	var g errgroup.Group
	for i, seg := range segments {
		g.Go(func() error {
			data, err := os.ReadFile(seg)
			if err != nil {
				r.logger.Warn("reading segment failed",
					slog.String("video_id", videoID), slog.Int("segment", i), slog.Any("error", err))
				return nil
			}
			text, err := retry.Do(ctx, r.policy, "audio.transcribe", func(ctx context.Context) (string, error) {
				return ratelimit.Do(ctx, r.exec, func(ctx context.Context) (string, error) {
					return r.transcriber.Transcribe(ctx, data, filepath.Base(seg))
				})
			})
			if err != nil {
				r.logger.Warn("segment transcription failed",
					slog.String("video_id", videoID), slog.Int("segment", i), slog.Any("error", err))
				return nil
			}
			texts[i] = text
			return nil
		})
	}
	_ = g.Wait()
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	out := make([]string, 0, len(texts))
	for _, t := range texts {
		if strings.TrimSpace(t) != "" {
			out = append(out, t)
		}
	}
	if len(out) == 0 {
		return nil, fmt.Errorf("video %s: %w", videoID, ErrNoSegments)
	}
	r.logger.Info("audio transcribed",
		slog.String("video_id", videoID), slog.Int("segments", len(segments)), slog.Int("transcribed", len(out)))
	return out, nil
}
