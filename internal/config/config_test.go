package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestParseDefaultConfig(t *testing.T) {
	cfg, err := parse(DefaultConfigYAML)
	if err != nil {
		t.Fatalf("failed to parse default config: %v", err)
	}

	if len(cfg.YouTube.ChannelFeeds) == 0 {
		t.Error("expected channel feeds to be populated")
	}
	if cfg.Summarization.Provider != "ollama" {
		t.Errorf("expected provider 'ollama', got %q", cfg.Summarization.Provider)
	}
	if cfg.Run.RankStrategy != "critic" {
		t.Errorf("expected rank strategy 'critic', got %q", cfg.Run.RankStrategy)
	}
	if cfg.Retry.BaseDelay != time.Second || cfg.Retry.MaxDelay != 30*time.Second {
		t.Errorf("unexpected retry delays: %v, %v", cfg.Retry.BaseDelay, cfg.Retry.MaxDelay)
	}
	if cfg.Cache.TTL != 168*time.Hour {
		t.Errorf("expected cache ttl 168h, got %v", cfg.Cache.TTL)
	}
	if cfg.Server.Port != 8000 {
		t.Errorf("expected port 8000, got %d", cfg.Server.Port)
	}
}

func TestParseMinimalConfig(t *testing.T) {
	data := []byte(`
run:
  topic: sourdough
  per_keyword: 25
summarization:
  provider: openai
storage:
  driver: postgres
`)
	cfg, err := parse(data)
	if err != nil {
		t.Fatalf("failed to parse minimal config: %v", err)
	}

	if cfg.Run.Topic != "sourdough" || cfg.Run.PerKeyword != 25 {
		t.Errorf("run section not applied: %+v", cfg.Run)
	}
	if cfg.Storage.Driver != "postgres" {
		t.Errorf("expected postgres driver, got %q", cfg.Storage.Driver)
	}
	// Defaults should still be set for unspecified fields
	if cfg.Summarization.OllamaURL != "http://localhost:11434" {
		t.Errorf("expected default ollama_url, got %q", cfg.Summarization.OllamaURL)
	}
	if cfg.Run.KeywordCount != 5 {
		t.Errorf("expected default keyword_count 5, got %d", cfg.Run.KeywordCount)
	}
	if cfg.Retry.MaxAttempts != 3 {
		t.Errorf("expected default max_attempts 3, got %d", cfg.Retry.MaxAttempts)
	}
}

func TestParseRejectsInvalid(t *testing.T) {
	cases := map[string]string{
		"rank strategy": "run:\n  rank_strategy: vibes\n",
		"driver":        "storage:\n  driver: mysql\n",
		"overlap":       "run:\n  chunk_words: 100\n  chunk_overlap: 100\n",
		"attempts":      "retry:\n  max_attempts: 0\n",
	}
	for name, data := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := parse([]byte(data))
			if err == nil || !strings.Contains(err.Error(), "invalid config") {
				t.Errorf("expected invalid config error, got %v", err)
			}
		})
	}
}

func TestLoadConfigFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	if err := os.WriteFile(path, DefaultConfigYAML, 0o644); err != nil {
		t.Fatalf("failed to write temp config: %v", err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("failed to load config: %v", err)
	}
	if cfg.Run.Topic == "" {
		t.Error("expected topic to be populated from file")
	}
}

func TestResolveConfigPathExplicitMissing(t *testing.T) {
	if _, err := ResolveConfigPath(filepath.Join(t.TempDir(), "nope.yaml")); err == nil {
		t.Error("expected error for missing explicit config")
	}
}

func TestGetDataDir(t *testing.T) {
	cfg := &Config{}
	defaultDir := cfg.GetDataDir()
	if defaultDir == "" {
		t.Error("expected non-empty default data dir")
	}

	cfg.Output.DataDir = "/custom/path"
	if cfg.GetDataDir() != "/custom/path" {
		t.Errorf("expected '/custom/path', got %q", cfg.GetDataDir())
	}
	if cfg.DatabasePath() != filepath.Join("/custom/path", "videodigest.db") {
		t.Errorf("unexpected database path %q", cfg.DatabasePath())
	}
}
