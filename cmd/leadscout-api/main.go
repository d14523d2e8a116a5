package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/leadscout/leadscout/internal/campaigns"
	"github.com/leadscout/leadscout/internal/config"
	"github.com/leadscout/leadscout/internal/database"
	"github.com/leadscout/leadscout/internal/llm"
	"github.com/leadscout/leadscout/internal/logging"
	"github.com/leadscout/leadscout/internal/posts"
	"github.com/leadscout/leadscout/internal/reddit"
	"github.com/leadscout/leadscout/internal/relevance"
	"github.com/leadscout/leadscout/internal/scanner"
	"github.com/leadscout/leadscout/internal/server"
	"github.com/leadscout/leadscout/internal/similarity"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"
)

var (
	cfgFile string
)

func main() {
	godotenv.Load()

	rootCmd := &cobra.Command{
		Use:   "leadscout-api",
		Short: "Leadscout Reddit lead-monitoring service",
		PreRunE: func(cmd *cobra.Command, args []string) error {
			return initConfig()
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServer(cmd.Context())
		},
	}

	setupFlags(rootCmd)

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func setupFlags(cmd *cobra.Command) {
	config.ApplyDefaults(viper.GetViper())
	defaults := config.NewViper()
	cmd.PersistentFlags().StringVar(&cfgFile, "config", "", "Path to configuration file")
	cmd.PersistentFlags().String("http-address", defaults.GetString("http.address"), "HTTP listen address")
	cmd.PersistentFlags().String("database-path", defaults.GetString("database.path"), "SQLite database path")
	cmd.PersistentFlags().String("log-level", defaults.GetString("log.level"), "Log level (debug, info, warn, error)")
	cmd.PersistentFlags().String("similarity-url", defaults.GetString("similarity.base_url"), "Similarity service base URL (empty disables the pre-filter)")
	cmd.PersistentFlags().Float64("similarity-threshold", defaults.GetFloat64("similarity.threshold"), "Similarity pre-filter threshold")
	cmd.PersistentFlags().Int("scan-interval-minutes", defaults.GetInt("scanner.interval_minutes"), "Minutes between scheduled sweeps")
	cmd.PersistentFlags().Int("scan-page-limit", defaults.GetInt("scanner.page_limit"), "Submissions fetched per subreddit per sweep")

	bindFlag(cmd, "http.address", "http-address")
	bindFlag(cmd, "database.path", "database-path")
	bindFlag(cmd, "log.level", "log-level")
	bindFlag(cmd, "similarity.base_url", "similarity-url")
	bindFlag(cmd, "similarity.threshold", "similarity-threshold")
	bindFlag(cmd, "scanner.interval_minutes", "scan-interval-minutes")
	bindFlag(cmd, "scanner.page_limit", "scan-page-limit")
}

func bindFlag(cmd *cobra.Command, key, flag string) {
	if err := viper.BindPFlag(key, cmd.PersistentFlags().Lookup(flag)); err != nil {
		panic(err)
	}
}

func initConfig() error {
	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	}

	if err := viper.ReadInConfig(); err != nil {
		var configNotFound viper.ConfigFileNotFoundError
		if cfgFile != "" && errors.As(err, &configNotFound) {
			return err
		}
	}

	return nil
}

func runServer(ctx context.Context) error {
	appConfig, err := config.Load(viper.GetViper())
	if err != nil {
		return err
	}

	logger, err := logging.NewLogger(appConfig.LogLevel)
	if err != nil {
		return err
	}
	defer logger.Sync() //nolint:errcheck

	db, err := database.OpenSQLite(appConfig.DatabasePath, logger)
	if err != nil {
		return err
	}
	sqlDB, err := db.DB()
	if err != nil {
		return err
	}
	defer sqlDB.Close()

	idProvider := campaigns.NewUUIDProvider()

	campaignService, err := campaigns.NewService(campaigns.ServiceConfig{
		Database:   db,
		IDProvider: idProvider,
		Logger:     logger,
	})
	if err != nil {
		return err
	}

	postService, err := posts.NewService(posts.ServiceConfig{
		Database:   db,
		IDProvider: idProvider,
		Logger:     logger,
	})
	if err != nil {
		return err
	}

	redditClient, err := reddit.NewClient(reddit.Config{
		ClientID:     appConfig.RedditClientID,
		ClientSecret: appConfig.RedditClientSecret,
		RefreshToken: appConfig.RedditRefreshToken,
		UserAgent:    appConfig.RedditUserAgent,
		AuthURL:      appConfig.RedditAuthURL,
		APIURL:       appConfig.RedditAPIURL,
		Logger:       logger,
	})
	if err != nil {
		return err
	}

	llmClient, err := llm.NewClient(llm.Config{
		APIKey:        appConfig.LLMAPIKey,
		BaseURL:       appConfig.LLMBaseURL,
		ScoreModel:    appConfig.LLMScoreModel,
		GenerateModel: appConfig.LLMGenerateModel,
		Timeout:       appConfig.LLMTimeout,
		Logger:        logger,
	})
	if err != nil {
		return err
	}

	var similarityClient *similarity.Client
	if appConfig.SimilarityBaseURL != "" {
		similarityClient, err = similarity.NewClient(similarity.Config{
			BaseURL: appConfig.SimilarityBaseURL,
			Timeout: appConfig.SimilarityTimeout,
			Logger:  logger,
		})
		if err != nil {
			return err
		}
		if err := similarityClient.Health(ctx); err != nil {
			logger.Warn("similarity service unreachable, scans fall back to language-model-only", zap.Error(err))
		}
	}

	classifierConfig := relevance.Config{
		Scorer:    llmClient,
		Threshold: appConfig.SimilarityThreshold,
		TopK:      appConfig.SimilarityTopK,
		Logger:    logger,
	}
	if similarityClient != nil {
		classifierConfig.Filter = similarityClient
	}
	classifier, err := relevance.NewClassifier(classifierConfig)
	if err != nil {
		return err
	}

	orchestrator, err := scanner.NewOrchestrator(scanner.OrchestratorConfig{
		Source:        redditClient,
		Classifier:    classifier,
		CampaignStore: campaignService,
		PostStore:     postService,
		PageLimit:     appConfig.ScanPageLimit,
		Logger:        logger,
	})
	if err != nil {
		return err
	}

	scheduler, err := scanner.NewScheduler(scanner.SchedulerConfig{
		Orchestrator: orchestrator,
		Interval:     appConfig.ScanInterval,
		StartupDelay: appConfig.ScanStartupDelay,
		Logger:       logger,
	})
	if err != nil {
		return err
	}

	serverDeps := server.Dependencies{
		CampaignService: campaignService,
		PostService:     postService,
		Sweeper:         scheduler,
		Generator:       llmClient,
		Account:         redditClient,
		Logger:          logger,
	}
	if similarityClient != nil {
		serverDeps.Similarity = similarityClient
	}
	handler, err := server.NewHTTPHandler(serverDeps)
	if err != nil {
		return err
	}

	signalCtx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := scheduler.Start(signalCtx); err != nil {
		return err
	}
	defer scheduler.Stop()

	httpServer := &http.Server{
		Addr:    appConfig.HTTPAddress,
		Handler: handler,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("server starting", zap.String("address", appConfig.HTTPAddress))
		err := httpServer.ListenAndServe()
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case <-signalCtx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return httpServer.Shutdown(shutdownCtx)
	case err := <-errCh:
		return err
	}
}
