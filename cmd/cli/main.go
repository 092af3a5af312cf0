package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"sort"
	"strings"
	"syscall"
	"time"

	"github.com/olekukonko/tablewriter"
	"github.com/spf13/cobra"

	"github.com/kurihiro0119/github-contrib-collector/internal/checkpoint"
	"github.com/kurihiro0119/github-contrib-collector/internal/collector"
	"github.com/kurihiro0119/github-contrib-collector/internal/config"
	apperrors "github.com/kurihiro0119/github-contrib-collector/internal/errors"
	"github.com/kurihiro0119/github-contrib-collector/internal/logger"
	"github.com/kurihiro0119/github-contrib-collector/internal/metrics"
	"github.com/kurihiro0119/github-contrib-collector/internal/pipeline"
	"github.com/kurihiro0119/github-contrib-collector/internal/sink"
	"github.com/kurihiro0119/github-contrib-collector/internal/sink/postgres"
	"github.com/kurihiro0119/github-contrib-collector/internal/sink/sqlite"
)

var (
	cfgFile     string
	outputJSON  bool
	fresh       bool
	dryRun      bool
	metricsAddr string
)

var rootCmd = &cobra.Command{
	Use:   "github-collector",
	Short: "GitHub repository and contributor collector",
	Long: `A CLI tool for collecting GitHub repositories and their contributors by keyword.

Collection is resumable: progress is checkpointed after every page and
repository, so an interrupted run continues where it stopped without
duplicating rows.`,
	SilenceUsage: true,
}

var collectCmd = &cobra.Command{
	Use:   "collect",
	Short: "Collect repositories and contributors from GitHub",
	Long: `Search GitHub for every configured keyword, fetch repository details and
contributors, and append them to the configured sink.`,
	Args: cobra.NoArgs,
	RunE: runCollect,
}

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show checkpoint progress",
	Args:  cobra.NoArgs,
	RunE:  runStatus,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is .env and the environment)")
	rootCmd.PersistentFlags().BoolVar(&outputJSON, "json", false, "output in JSON format")

	collectCmd.Flags().BoolVar(&fresh, "fresh", false, "ignore the existing checkpoint and start a new run")
	collectCmd.Flags().BoolVar(&dryRun, "dry-run", false, "fetch without writing rows or the checkpoint")
	collectCmd.Flags().StringVar(&metricsAddr, "metrics-addr", "", "serve Prometheus metrics on this address, e.g. :9090")

	rootCmd.AddCommand(collectCmd)
	rootCmd.AddCommand(statusCmd)
	rootCmd.AddCommand(showCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func loadConfig() (*config.Config, error) {
	cfg, err := config.Load(cfgFile)
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	return cfg, nil
}

func openSink(cfg *config.Config, runTimestamp string, log logger.Logger) (sink.Sink, error) {
	if dryRun {
		return sink.NewNop(), nil
	}
	switch cfg.SinkType {
	case "sqlite":
		return sqlite.NewSQLiteSink(cfg.SQLitePath, runTimestamp)
	case "postgres":
		return postgres.NewPostgresSink(cfg.PostgresURL, runTimestamp)
	default:
		return sink.NewCSVSink(cfg.DataDir, runTimestamp, log)
	}
}

func serveMetrics(m *metrics.Metrics, log logger.Logger) *http.Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", m.Handler())
	srv := &http.Server{Addr: metricsAddr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error("Metrics server failed", logger.Err(err))
		}
	}()
	log.Info("Serving metrics", logger.String("addr", metricsAddr))
	return srv
}

func runCollect(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}

	log, err := logger.New(logger.Config{Level: cfg.LogLevel})
	if err != nil {
		return err
	}
	defer func() { _ = log.Sync() }()

	m := metrics.New()
	if metricsAddr != "" {
		srv := serveMetrics(m, log)
		defer func() { _ = srv.Close() }()
	}

	opts := checkpoint.Options{DryRun: dryRun, Logger: log, Metrics: m}
	var store *checkpoint.Store
	if fresh {
		store = checkpoint.NewFresh(cfg.CheckpointPath, opts)
	} else {
		store, err = checkpoint.Load(cfg.CheckpointPath, opts)
		if err != nil {
			return fmt.Errorf("failed to load checkpoint: %w", err)
		}
	}

	out, err := openSink(cfg, store.RunTimestamp(), log)
	if err != nil {
		return fmt.Errorf("failed to initialize sink: %w", err)
	}
	defer func() {
		if err := out.Close(); err != nil {
			log.Error("Failed to close sink", logger.Err(err))
		}
	}()

	coll, err := collector.NewGitHubCollector(collector.Options{
		Token:        cfg.GitHubToken,
		BaseURL:      cfg.GitHubAPIURL,
		Qualifier:    cfg.Qualifier,
		MinStars:     cfg.MinStars,
		MaxAttempts:  cfg.MaxAttempts,
		BackoffBase:  cfg.BackoffBase,
		RateCooldown: cfg.RateCooldown,
		MinInterval:  cfg.MinInterval,
		Logger:       log,
		Metrics:      m,
	})
	if err != nil {
		return fmt.Errorf("failed to initialize collector: %w", err)
	}

	p := pipeline.New(coll, store, out, pipeline.Config{
		Keywords:        cfg.Keywords,
		PageSize:        cfg.PageSize,
		MaxResults:      cfg.MaxResults,
		MaxContributors: cfg.MaxContributors,
		EnrichLimit:     cfg.EnrichLimit,
		EnrichWorkers:   cfg.EnrichWorkers,
	}, log, m)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	flushCtx, stopFlush := context.WithCancel(context.Background())
	flushDone := make(chan error, 1)
	go func() {
		flushDone <- store.Run(flushCtx, cfg.CheckpointFlushInterval)
	}()

	fmt.Printf("Collecting %d keywords (run %s)\n", len(cfg.Keywords), store.RunTimestamp())
	if dryRun {
		fmt.Println("Dry run: nothing will be written")
	}

	res, runErr := p.Run(ctx)

	stopFlush()
	if err := <-flushDone; err != nil {
		log.Error("Final checkpoint flush failed", logger.Err(err))
	}

	if res != nil {
		printRunResult(res)
	}
	if runErr != nil {
		if apperrors.IsFatal(runErr) {
			return fmt.Errorf("collection aborted: %w", runErr)
		}
		return runErr
	}

	switch {
	case res.Interrupted:
		fmt.Println("\nInterrupted. Run `github-collector collect` again to resume.")
	case !res.Complete:
		fmt.Println("\nSome pages failed transiently. Run `github-collector collect` again to retry them.")
	default:
		fmt.Println("\nData collection complete!")
	}
	return nil
}

func printRunResult(res *pipeline.RunResult) {
	table := tablewriter.NewWriter(os.Stdout)
	table.SetHeader([]string{"Metric", "Value"})
	table.Append([]string{"Tasks Completed", fmt.Sprintf("%d", res.TasksCompleted)})
	table.Append([]string{"Tasks Pending", fmt.Sprintf("%d", res.TasksPending)})
	table.Append([]string{"Tasks Skipped", fmt.Sprintf("%d", res.TasksSkipped)})
	table.Append([]string{"Repositories Written", fmt.Sprintf("%d", res.RepositoriesWritten)})
	table.Append([]string{"Repositories Skipped", fmt.Sprintf("%d", res.RepositoriesSkipped)})
	table.Append([]string{"Contributors Written", fmt.Sprintf("%d", res.ContributorsWritten)})
	table.Append([]string{"Complete", fmt.Sprintf("%t", res.Complete)})
	table.Render()
}

func runStatus(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	if _, err := os.Stat(cfg.CheckpointPath); errors.Is(err, os.ErrNotExist) {
		fmt.Printf("No checkpoint at %s\n", cfg.CheckpointPath)
		return nil
	}

	store, err := checkpoint.Load(cfg.CheckpointPath, checkpoint.Options{})
	if err != nil {
		return fmt.Errorf("failed to load checkpoint: %w", err)
	}
	state := store.Snapshot()

	if outputJSON {
		return printJSON(state)
	}

	fmt.Printf("\nCheckpoint: %s\n\n", cfg.CheckpointPath)

	table := tablewriter.NewWriter(os.Stdout)
	table.SetHeader([]string{"Field", "Value"})
	table.Append([]string{"Run ID", state.RunID})
	table.Append([]string{"Run Timestamp", state.RunTimestamp})
	table.Append([]string{"Completed Tasks", fmt.Sprintf("%d", len(state.CompletedTasks))})
	table.Append([]string{"Exhausted Keywords", fmt.Sprintf("%d / %d", len(state.ExhaustedKeywords), len(cfg.Keywords))})
	table.Append([]string{"Processed Repositories", fmt.Sprintf("%d", len(state.ProcessedRepositoryIDs))})
	table.Append([]string{"Processed Contributors", fmt.Sprintf("%d", len(state.ProcessedContributors))})
	table.Append([]string{"Last Saved", formatSavedAt(state.LastSavedAt)})
	table.Render()

	pages := make(map[string]int)
	for _, task := range state.CompletedTasks {
		pages[task.Keyword]++
	}
	exhausted := make(map[string]bool)
	for _, kw := range state.ExhaustedKeywords {
		exhausted[kw] = true
	}

	keywords := append([]string(nil), cfg.Keywords...)
	for kw := range pages {
		if !containsKeyword(keywords, kw) {
			keywords = append(keywords, kw)
		}
	}
	sort.Strings(keywords)

	fmt.Println()
	kwTable := tablewriter.NewWriter(os.Stdout)
	kwTable.SetHeader([]string{"Keyword", "Pages Done", "Exhausted"})
	for _, kw := range keywords {
		kwTable.Append([]string{kw, fmt.Sprintf("%d", pages[kw]), fmt.Sprintf("%t", exhausted[kw])})
	}
	kwTable.Render()

	return nil
}

func formatSavedAt(t time.Time) string {
	if t.IsZero() {
		return "never"
	}
	return t.Local().Format("2006-01-02 15:04:05")
}

func containsKeyword(keywords []string, kw string) bool {
	for _, k := range keywords {
		if strings.EqualFold(k, kw) {
			return true
		}
	}
	return false
}
