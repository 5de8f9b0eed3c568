package main

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/TobiSchelling/videodigest/internal/config"
	"github.com/TobiSchelling/videodigest/internal/logging"
	"github.com/TobiSchelling/videodigest/internal/pipeline"
	"github.com/TobiSchelling/videodigest/internal/server"
)

var version = "dev"

var (
	verbose    bool
	configPath string
	cfg        *config.Config
	logger     *slog.Logger
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:     "videodigest",
	Short:   "Topic video digests",
	Long:    "videodigest finds videos for a topic, transcribes and summarizes them, ranks them and stores structured digests.",
	Version: version,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		// Skip config loading for init and version
		if cmd.Name() == "init" || cmd.Name() == "version" {
			logger = logging.New("info")
			return nil
		}

		path, err := config.ResolveConfigPath(configPath)
		if err != nil {
			return err
		}
		cfg, err = config.Load(path)
		if err != nil {
			return fmt.Errorf("loading config: %w", err)
		}

		level := cfg.Logging.Level
		if verbose {
			level = "debug"
		}
		logger = logging.New(level)
		slog.SetDefault(logger)
		return nil
	},
}

func init() {
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Enable verbose output")
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "Path to config file")

	rootCmd.AddCommand(initCmd)
	rootCmd.AddCommand(statusCmd)
	rootCmd.AddCommand(versionCmd)
	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(itemsCmd)
	rootCmd.AddCommand(serveCmd)
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Println("videodigest", version)
	},
}

var initCmd = &cobra.Command{
	Use:   "init",
	Short: "Initialize configuration in ~/.config/videodigest/",
	RunE: func(cmd *cobra.Command, args []string) error {
		target := filepath.Join(config.ConfigDir(), "config.yaml")
		if _, err := os.Stat(target); err == nil {
			fmt.Printf("Config already exists: %s\n", target)
			return nil
		}

		if err := os.MkdirAll(config.ConfigDir(), 0o755); err != nil {
			return fmt.Errorf("creating config directory: %w", err)
		}

		if err := os.WriteFile(target, config.DefaultConfigYAML, 0o644); err != nil {
			return fmt.Errorf("writing config: %w", err)
		}

		fmt.Printf("Created config: %s\n", target)
		fmt.Println("Edit it to set the topic, API key variables, and LLM provider.")
		return nil
	},
}

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show database stats and recent runs",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		store, err := openStore(ctx)
		if err != nil {
			return err
		}
		defer store.Close()

		stats, err := store.GetStats(ctx)
		if err != nil {
			return fmt.Errorf("getting stats: %w", err)
		}

		fmt.Printf("Storage: %s\n\n", cfg.Storage.Driver)
		fmt.Println("Items:")
		fmt.Printf("  Total: %d\n", stats.Items)
		fmt.Printf("  From transcripts: %d\n", stats.Transcribed)
		fmt.Printf("  From audio: %d\n", stats.AudioOnly)
		fmt.Printf("  Unresolved: %d\n", stats.Unresolved)
		fmt.Printf("  Comments: %d\n", stats.Comments)
		fmt.Printf("\nModel interactions: %d\n", stats.Interactions)

		runs, err := store.ListRuns(ctx, 5)
		if err != nil {
			return fmt.Errorf("listing runs: %w", err)
		}
		fmt.Printf("\nRuns: %d\n", stats.Runs)
		for _, r := range runs {
			state := "running"
			if r.FinishedAt != nil {
				state = r.FinishedAt.Sub(r.StartedAt).Round(time.Second).String()
			}
			quota := ""
			if r.QuotaExceeded {
				quota = " [quota exceeded]"
			}
			fmt.Printf("  %s  %-24q persisted=%d skipped=%d failed=%d (%s)%s\n",
				r.StartedAt.Local().Format("2006-01-02 15:04"), r.Topic,
				r.Persisted, r.Skipped, r.Failed, state, quota)
		}
		return nil
	},
}

// --- run command ---

var (
	dryRun        bool
	runTopic      string
	runKeywords   int
	runPerKeyword int
	runTop        int
	runRank       string
	runSort       string
	audioFallback bool
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run the full pipeline: expand -> search -> enrich -> rank -> process",
	RunE: func(cmd *cobra.Command, args []string) error {
		applyRunFlags(cmd)
		if err := cfg.Validate(); err != nil {
			return err
		}
		if cfg.Run.Topic == "" {
			return errors.New("no topic: set run.topic or pass --topic")
		}

		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		if dryRun {
			pipe, cleanup, err := buildPipeline(ctx, nil, true)
			if err != nil {
				return err
			}
			defer cleanup()
			printSteps(pipe.DryRun(cfg.Run.Topic))
			return nil
		}

		store, err := openStore(ctx)
		if err != nil {
			return err
		}
		defer store.Close()

		pipe, cleanup, err := buildPipeline(ctx, store, false)
		if err != nil {
			return err
		}
		defer cleanup()

		result, runErr := pipe.Run(ctx, cfg.Run.Topic)
		printSteps(result)
		printSummary(result)
		if runErr != nil {
			return runErr
		}
		fmt.Println("\nPipeline complete! Run 'videodigest serve' to browse the digests.")
		return nil
	},
}

func init() {
	runCmd.Flags().BoolVar(&dryRun, "dry-run", false, "Show what would be done without calling services or writing")
	runCmd.Flags().StringVar(&runTopic, "topic", "", "Seed topic (overrides run.topic)")
	runCmd.Flags().IntVar(&runKeywords, "keywords", 0, "Number of keywords to expand into")
	runCmd.Flags().IntVar(&runPerKeyword, "per-keyword", 0, "Search results per keyword")
	runCmd.Flags().IntVar(&runTop, "top", 0, "Number of items to process")
	runCmd.Flags().StringVar(&runRank, "rank", "", "Ranking strategy: critic or deterministic")
	runCmd.Flags().StringVar(&runSort, "sort", "", "Deterministic sort mode")
	runCmd.Flags().BoolVar(&audioFallback, "audio-fallback", false, "Transcribe audio when no captions exist")
}

// applyRunFlags copies explicitly set flags over the run config section.
func applyRunFlags(cmd *cobra.Command) {
	flags := cmd.Flags()
	if flags.Changed("topic") {
		cfg.Run.Topic = runTopic
	}
	if flags.Changed("keywords") {
		cfg.Run.KeywordCount = runKeywords
	}
	if flags.Changed("per-keyword") {
		cfg.Run.PerKeyword = runPerKeyword
	}
	if flags.Changed("top") {
		cfg.Run.SelectTop = runTop
	}
	if flags.Changed("rank") {
		cfg.Run.RankStrategy = runRank
	}
	if flags.Changed("sort") {
		cfg.Run.SortBy = runSort
	}
	if flags.Changed("audio-fallback") {
		cfg.Run.AudioFallback = audioFallback
	}
}

func printSteps(result *pipeline.Result) {
	if result == nil {
		return
	}
	for i, step := range result.Steps {
		fmt.Printf("\nStep %d/6: %s\n", i+1, step.Name)
		if step.Err != nil {
			fmt.Printf("  Error: %v\n", step.Err)
		}
		if step.Summary != "" {
			fmt.Printf("  %s\n", step.Summary)
		}
	}
}

func printSummary(result *pipeline.Result) {
	if result == nil {
		return
	}
	fmt.Printf("\nRun %s: %d persisted, %d skipped, %d failed\n",
		result.RunID, result.Persisted, result.Skipped, result.Failed)
	fmt.Printf("  Provider calls: %d (max %d in flight)\n", result.Calls.Submitted, result.Calls.MaxInFlight)
	if result.QuotaExceeded {
		fmt.Println("  API quota exceeded; remaining work was skipped.")
	}
	for _, o := range result.Outcomes {
		if o.FailedStep == "" {
			continue
		}
		fmt.Printf("  failed %s at %s: %v\n", o.VideoID, o.FailedStep, o.Err)
	}
}

// --- items command ---

var (
	itemsLimit int
	itemsRun   string
)

var itemsCmd = &cobra.Command{
	Use:   "items",
	Short: "List persisted items",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		store, err := openStore(ctx)
		if err != nil {
			return err
		}
		defer store.Close()

		items, err := store.ListItems(ctx, itemsRun, itemsLimit)
		if err != nil {
			return err
		}
		if len(items) == 0 {
			fmt.Println("No items yet. Start a run with: videodigest run")
			return nil
		}

		for _, it := range items {
			fmt.Printf("  %-11s %-10s %7.2f  %s\n", it.ID, it.Provenance, it.Score, shortTitle(it.Title, 60))
		}
		return nil
	},
}

// shortTitle cuts s to at most n runes, marking the cut with "...".
func shortTitle(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n]) + "..."
}

func init() {
	itemsCmd.Flags().IntVarP(&itemsLimit, "limit", "n", 20, "Maximum items to list")
	itemsCmd.Flags().StringVar(&itemsRun, "run", "", "Only list items from this run id")
}

// --- serve command ---

var servePort int

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the local report server",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		store, err := openStore(ctx)
		if err != nil {
			return err
		}
		defer store.Close()

		port := cfg.Server.Port
		if cmd.Flags().Changed("port") {
			port = servePort
		}
		fmt.Printf("Starting server at http://localhost:%d\n", port)
		fmt.Println("Press Ctrl+C to stop")
		return server.Serve(ctx, store, port, logger)
	},
}

func init() {
	serveCmd.Flags().IntVarP(&servePort, "port", "p", 8000, "Port to run server on")
}
