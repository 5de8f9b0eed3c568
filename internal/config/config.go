package config

import (
	_ "embed"
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

//go:embed default.yaml
var DefaultConfigYAML []byte

type Config struct {
	Run           Run           `yaml:"run"`
	Retry         Retry         `yaml:"retry"`
	YouTube       YouTube       `yaml:"youtube"`
	Summarization Summarization `yaml:"summarization"`
	Transcription Transcription `yaml:"transcription"`
	Storage       Storage       `yaml:"storage"`
	Cache         Cache         `yaml:"cache"`
	Output        Output        `yaml:"output"`
	Server        Server        `yaml:"server"`
	Logging       Logging       `yaml:"logging"`
}

type Run struct {
	Topic             string  `yaml:"topic"`
	KeywordCount      int     `yaml:"keyword_count"`
	PerKeyword        int     `yaml:"per_keyword"`
	SelectTop         int     `yaml:"select_top"`
	RankStrategy      string  `yaml:"rank_strategy"`
	SortBy            string  `yaml:"sort_by"`
	Concurrency       int     `yaml:"concurrency"`
	RequestsPerSecond float64 `yaml:"requests_per_second"`
	MediaWorkers      int     `yaml:"media_workers"`
	AudioFallback     bool    `yaml:"audio_fallback"`
	FetchComments     bool    `yaml:"fetch_comments"`
	MaxComments       int     `yaml:"max_comments"`
	ChunkWords        int     `yaml:"chunk_words"`
	ChunkOverlap      int     `yaml:"chunk_overlap"`
}

type Retry struct {
	MaxAttempts   int           `yaml:"max_attempts"`
	BaseDelay     time.Duration `yaml:"base_delay"`
	BackoffFactor float64       `yaml:"backoff_factor"`
	MaxDelay      time.Duration `yaml:"max_delay"`
	Jitter        float64       `yaml:"jitter"`
}

type YouTube struct {
	APIKeyEnv    string `yaml:"api_key_env"`
	Language     string `yaml:"language"`
	ChannelFeeds []Feed `yaml:"channel_feeds"`
}

type Feed struct {
	URL  string `yaml:"url"`
	Name string `yaml:"name"`
}

type Summarization struct {
	Provider    string  `yaml:"provider"`
	Model       string  `yaml:"model"`
	OllamaURL   string  `yaml:"ollama_url"`
	OpenAIModel string  `yaml:"openai_model"`
	APIKeyEnv   string  `yaml:"api_key_env"`
	Temperature float64 `yaml:"temperature"`
}

type Transcription struct {
	Provider       string `yaml:"provider"`
	Model          string `yaml:"model"`
	APIKeyEnv      string `yaml:"api_key_env"`
	YtDlpPath      string `yaml:"ytdlp_path"`
	FFmpegPath     string `yaml:"ffmpeg_path"`
	SegmentSeconds int    `yaml:"segment_seconds"`
}

type Storage struct {
	Driver         string `yaml:"driver"`
	DatabaseURLEnv string `yaml:"database_url_env"`
}

type Cache struct {
	RedisURLEnv string        `yaml:"redis_url_env"`
	TTL         time.Duration `yaml:"ttl"`
}

type Output struct {
	DataDir string `yaml:"data_dir"`
}

type Server struct {
	Port int `yaml:"port"`
}

type Logging struct {
	Level string `yaml:"level"`
}

// ConfigDir returns the XDG config directory for videodigest.
func ConfigDir() string {
	return filepath.Join(homeDir(), ".config", "videodigest")
}

// DataDir returns the XDG data directory for videodigest.
func DataDir() string {
	return filepath.Join(homeDir(), ".local", "share", "videodigest")
}

// ResolveConfigPath finds the config file following priority:
// explicit path > ~/.config/videodigest/config.yaml > ./config.yaml
func ResolveConfigPath(explicit string) (string, error) {
	if explicit != "" {
		if _, err := os.Stat(explicit); err != nil {
			return "", fmt.Errorf("config file not found: %s", explicit)
		}
		return explicit, nil
	}

	xdgConfig := filepath.Join(ConfigDir(), "config.yaml")
	if _, err := os.Stat(xdgConfig); err == nil {
		return xdgConfig, nil
	}

	cwdConfig := "config.yaml"
	if _, err := os.Stat(cwdConfig); err == nil {
		return cwdConfig, nil
	}

	return "", fmt.Errorf(
		"no config file found; searched:\n  %s\n  ./config.yaml\n\nRun 'videodigest init' to create a default config",
		xdgConfig,
	)
}

// Load reads and parses a config YAML file.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config: %w", err)
	}
	return parse(data)
}

// Default returns the built-in configuration.
func Default() *Config {
	cfg, err := parse(DefaultConfigYAML)
	if err != nil {
		panic(fmt.Sprintf("embedded default config: %v", err))
	}
	return cfg
}

// parse parses YAML bytes into a Config, applying defaults.
func parse(data []byte) (*Config, error) {
	cfg := &Config{
		Run: Run{
			KeywordCount:      5,
			PerKeyword:        10,
			SelectTop:         10,
			RankStrategy:      "critic",
			SortBy:            "engagement",
			Concurrency:       4,
			RequestsPerSecond: 5,
			MediaWorkers:      2,
			MaxComments:       100,
			ChunkWords:        1500,
			ChunkOverlap:      100,
		},
		Retry: Retry{
			MaxAttempts:   3,
			BaseDelay:     time.Second,
			BackoffFactor: 2,
			MaxDelay:      30 * time.Second,
			Jitter:        0.2,
		},
		YouTube: YouTube{
			APIKeyEnv: "YOUTUBE_API_KEY",
			Language:  "en",
		},
		Summarization: Summarization{
			Provider:    "ollama",
			Model:       "qwen2.5:7b",
			OllamaURL:   "http://localhost:11434",
			OpenAIModel: "gpt-4o-mini",
			APIKeyEnv:   "OPENAI_API_KEY",
			Temperature: 0.5,
		},
		Transcription: Transcription{
			Provider:       "openai",
			Model:          "whisper-1",
			APIKeyEnv:      "OPENAI_API_KEY",
			YtDlpPath:      "yt-dlp",
			FFmpegPath:     "ffmpeg",
			SegmentSeconds: 600,
		},
		Storage: Storage{
			Driver:         "sqlite",
			DatabaseURLEnv: "VIDEODIGEST_DATABASE_URL",
		},
		Cache: Cache{
			RedisURLEnv: "VIDEODIGEST_REDIS_URL",
			TTL:         7 * 24 * time.Hour,
		},
		Server:  Server{Port: 8000},
		Logging: Logging{Level: "info"},
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// Validate rejects settings no run could use.
func (c *Config) Validate() error {
	var problems []string
	if c.Run.KeywordCount < 1 {
		problems = append(problems, "run.keyword_count must be at least 1")
	}
	if c.Run.PerKeyword < 1 {
		problems = append(problems, "run.per_keyword must be at least 1")
	}
	if c.Run.Concurrency < 1 {
		problems = append(problems, "run.concurrency must be at least 1")
	}
	if c.Run.RequestsPerSecond < 0 {
		problems = append(problems, "run.requests_per_second must not be negative")
	}
	if c.Run.ChunkWords < 1 || c.Run.ChunkOverlap < 0 || c.Run.ChunkOverlap >= c.Run.ChunkWords {
		problems = append(problems, "run.chunk_overlap must be between 0 and chunk_words")
	}
	if !slices.Contains([]string{"critic", "deterministic"}, c.Run.RankStrategy) {
		problems = append(problems, fmt.Sprintf("run.rank_strategy %q must be critic or deterministic", c.Run.RankStrategy))
	}
	if c.Retry.MaxAttempts < 1 {
		problems = append(problems, "retry.max_attempts must be at least 1")
	}
	if !slices.Contains([]string{"sqlite", "postgres"}, c.Storage.Driver) {
		problems = append(problems, fmt.Sprintf("storage.driver %q must be sqlite or postgres", c.Storage.Driver))
	}
	if len(problems) > 0 {
		return fmt.Errorf("invalid config: %s", strings.Join(problems, "; "))
	}
	return nil
}

// GetDataDir returns the effective data directory from config or XDG default.
func (c *Config) GetDataDir() string {
	if c.Output.DataDir != "" {
		return c.Output.DataDir
	}
	return DataDir()
}

// DatabasePath is the SQLite file inside the data directory.
func (c *Config) DatabasePath() string {
	return filepath.Join(c.GetDataDir(), "videodigest.db")
}

// AudioDir is where downloaded audio and segments are cached.
func (c *Config) AudioDir() string {
	return filepath.Join(c.GetDataDir(), "audio")
}

func homeDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return "."
	}
	return home
}
