package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/TobiSchelling/videodigest/internal/audio"
	"github.com/TobiSchelling/videodigest/internal/cache"
	"github.com/TobiSchelling/videodigest/internal/database"
	"github.com/TobiSchelling/videodigest/internal/feeds"
	"github.com/TobiSchelling/videodigest/internal/keywords"
	"github.com/TobiSchelling/videodigest/internal/llm"
	"github.com/TobiSchelling/videodigest/internal/pgstore"
	"github.com/TobiSchelling/videodigest/internal/pipeline"
	"github.com/TobiSchelling/videodigest/internal/process"
	"github.com/TobiSchelling/videodigest/internal/provider"
	"github.com/TobiSchelling/videodigest/internal/rank"
	"github.com/TobiSchelling/videodigest/internal/ratelimit"
	"github.com/TobiSchelling/videodigest/internal/retry"
	"github.com/TobiSchelling/videodigest/internal/search"
	"github.com/TobiSchelling/videodigest/internal/server"
	"github.com/TobiSchelling/videodigest/internal/summarize"
	"github.com/TobiSchelling/videodigest/internal/youtube"
)

// gateway is what both storage drivers provide.
type gateway interface {
	pipeline.Store
	server.Reader
	llm.InteractionAppender
	Close() error
}

var (
	_ gateway = (*database.DB)(nil)
	_ gateway = (*pgstore.Store)(nil)
)

func openStore(ctx context.Context) (gateway, error) {
	switch cfg.Storage.Driver {
	case "postgres":
		url := os.Getenv(cfg.Storage.DatabaseURLEnv)
		if url == "" {
			return nil, fmt.Errorf("storage driver postgres needs %s to be set", cfg.Storage.DatabaseURLEnv)
		}
		return pgstore.Connect(ctx, url, logger)
	default:
		db, err := database.Open(cfg.DatabasePath())
		if err != nil {
			return nil, err
		}
		logger.Debug("opened database", slog.String("path", db.Path()))
		return db, nil
	}
}

// buildPipeline wires providers, the completion model and the stores into
// a pipeline. In dry-run mode nothing is contacted: no completion provider
// is probed and store may be nil.
func buildPipeline(ctx context.Context, store gateway, dry bool) (*pipeline.Pipeline, func(), error) {
	run := cfg.Run
	policy := retry.Policy{
		MaxAttempts:   cfg.Retry.MaxAttempts,
		BaseDelay:     cfg.Retry.BaseDelay,
		BackoffFactor: cfg.Retry.BackoffFactor,
		MaxDelay:      cfg.Retry.MaxDelay,
		Jitter:        cfg.Retry.Jitter,
		Classify:      provider.Classify,
		Logger:        logger,
	}
	exec := ratelimit.New(run.Concurrency, run.RequestsPerSecond, run.Concurrency)

	var completion llm.Provider
	if !dry {
		summ := cfg.Summarization
		base := llm.CreateProvider(summ.Provider, summ.Model, summ.OllamaURL, summ.OpenAIModel, summ.APIKeyEnv, logger)
		if base == nil {
			return nil, nil, fmt.Errorf("no completion provider available; start ollama or set %s", summ.APIKeyEnv)
		}
		completion = llm.NewRecorder(base, store, logger)
	}

	searcher, yt, err := buildSearch()
	if err != nil && !dry {
		return nil, nil, err
	}

	transcriptCache := cache.New(redisURL(dry), "videodigest:transcript:", cfg.Cache.TTL, logger)
	cleanup := func() {
		hits, misses := transcriptCache.Stats()
		logger.Info("transcript cache",
			slog.Int64("hits", hits),
			slog.Int64("misses", misses),
			slog.Bool("redis", transcriptCache.HasRedis()))
		if err := transcriptCache.Close(); err != nil {
			logger.Warn("closing cache failed", slog.Any("error", err))
		}
	}
	transcripts := cache.NewTranscriptCache(
		youtube.NewTranscriptFetcher([]string{cfg.YouTube.Language, "en"}, logger),
		transcriptCache, logger)

	sortBy, err := rank.ParseSortBy(run.SortBy)
	if err != nil {
		cleanup()
		return nil, nil, err
	}
	deterministic := rank.Deterministic{By: sortBy, Score: rank.DefaultScore}

	reducer := summarize.NewReducer(completion, exec, policy, logger)
	reducer.Temperature = cfg.Summarization.Temperature

	deps := pipeline.Deps{
		Expander: keywords.NewExpander(completion, exec, policy, logger),
		Searcher: searcher,
		Items: process.Deps{
			Transcripts:  transcripts,
			Summarizer:   reducer,
			Standardizer: summarize.NewStandardizer(completion, exec, policy, logger),
		},
		Exec:   exec,
		Policy: policy,
		Logger: logger,
	}
	if store != nil {
		deps.Store = store
	}
	if yt != nil {
		deps.Statistics = yt
		deps.Items.Metadata = yt
		deps.Items.Comments = yt
	}
	if run.RankStrategy == "critic" {
		critic := rank.NewCritic(completion, exec, policy, deterministic, logger)
		deps.ItemRanker = critic
		deps.KeywordRanker = critic
	} else {
		deps.ItemRanker = deterministic
	}
	if run.AudioFallback {
		deps.Items.Audio = buildAudio(exec, policy)
	}

	pipe := pipeline.New(deps, pipeline.Options{
		KeywordCount: run.KeywordCount,
		PerKeyword:   run.PerKeyword,
		SelectTop:    run.SelectTop,
		Concurrency:  run.Concurrency,
		BatchSize:    provider.MaxPageSize,
		Score:        rank.DefaultScore,
		Item: process.Options{
			AudioFallback: run.AudioFallback,
			FetchComments: run.FetchComments,
			MaxComments:   run.MaxComments,
			ChunkWords:    run.ChunkWords,
			ChunkOverlap:  run.ChunkOverlap,
		},
	})
	return pipe, cleanup, nil
}

// buildSearch combines the Data API with the configured channel feeds.
// The returned client is nil when no API key is set.
func buildSearch() (provider.Searcher, *youtube.Client, error) {
	var channels *feeds.ChannelSearcher
	if len(cfg.YouTube.ChannelFeeds) > 0 {
		fc := make([]feeds.FeedConfig, len(cfg.YouTube.ChannelFeeds))
		for i, f := range cfg.YouTube.ChannelFeeds {
			fc[i] = feeds.FeedConfig{URL: f.URL, Name: f.Name}
		}
		channels = feeds.NewChannelSearcher(fc, logger)
	}

	apiKey := os.Getenv(cfg.YouTube.APIKeyEnv)
	if apiKey == "" {
		if channels == nil {
			return nil, nil, fmt.Errorf("no search provider: set %s or configure youtube.channel_feeds", cfg.YouTube.APIKeyEnv)
		}
		logger.Warn("no YouTube API key, searching channel feeds only", slog.String("env", cfg.YouTube.APIKeyEnv))
		return channels, nil, nil
	}

	yt := youtube.NewClient(apiKey, cfg.YouTube.Language, logger)
	if channels == nil {
		return yt, yt, nil
	}
	return search.NewMultiProvider(yt, logger, channels), yt, nil
}

func buildAudio(exec *ratelimit.Executor, policy retry.Policy) process.AudioResolver {
	tc := cfg.Transcription
	downloader := audio.NewDownloader(tc.YtDlpPath, cfg.AudioDir(), audio.ExecRunner, logger)
	segmenter := audio.NewSegmenter(tc.FFmpegPath, time.Duration(tc.SegmentSeconds)*time.Second, audio.ExecRunner)
	whisper := audio.NewWhisperTranscriber(tc.Model, tc.APIKeyEnv)
	return audio.NewResolver(downloader, segmenter, whisper, exec, ratelimit.NewPool(cfg.Run.MediaWorkers), policy, logger)
}

func redisURL(dry bool) string {
	if dry {
		return ""
	}
	return os.Getenv(cfg.Cache.RedisURLEnv)
}

