package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/spf13/cobra"

	"github.com/kurihiro0119/github-contrib-collector/internal/aggregator"
	"github.com/kurihiro0119/github-contrib-collector/internal/api"
	"github.com/kurihiro0119/github-contrib-collector/internal/config"
	"github.com/kurihiro0119/github-contrib-collector/internal/dataset"
	"github.com/kurihiro0119/github-contrib-collector/internal/logger"
)

var cfgFile string

var rootCmd = &cobra.Command{
	Use:   "github-collector-api",
	Short: "Dashboard API over collected GitHub data",
	Long: `Serve the latest collected run from DATA_DIR as a read-only JSON API
for the dashboard and the show commands of github-collector.`,
	Args:         cobra.NoArgs,
	SilenceUsage: true,
	RunE:         runServe,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is .env and the environment)")
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(cfgFile)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	log, err := logger.New(logger.Config{Level: cfg.LogLevel})
	if err != nil {
		return fmt.Errorf("failed to initialize logger: %w", err)
	}
	defer func() { _ = log.Sync() }()

	gin.SetMode(gin.ReleaseMode)

	agg := aggregator.NewAggregator(dataset.NewDirSource(cfg.DataDir))
	handler := api.NewHandler(agg)
	router := api.SetupRoutes(handler, log)

	addr := fmt.Sprintf("%s:%s", cfg.APIHost, cfg.APIPort)
	srv := &http.Server{
		Addr:              addr,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	serveErr := make(chan error, 1)
	go func() {
		log.Info("Starting API server", logger.String("addr", addr), logger.String("data_dir", cfg.DataDir))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
			stop()
		}
	}()

	<-ctx.Done()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server shutdown failed: %w", err)
	}

	select {
	case err := <-serveErr:
		return fmt.Errorf("failed to start server: %w", err)
	default:
	}
	log.Info("API server stopped")
	return nil
}
