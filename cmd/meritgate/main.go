package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	"github.com/meritgate/meritgate/internal/actions"
	"github.com/meritgate/meritgate/internal/config"
	"github.com/meritgate/meritgate/internal/engine"
	"github.com/meritgate/meritgate/internal/github"
	"github.com/meritgate/meritgate/internal/llm"
	"github.com/meritgate/meritgate/internal/logging"
	"github.com/meritgate/meritgate/internal/policy"
	"github.com/meritgate/meritgate/internal/server"
	"github.com/meritgate/meritgate/internal/store"
)

var version = "dev"

var cfgFile string

func main() {
	rootCmd := &cobra.Command{
		Use:   "meritgate",
		Short: "Reputation gating for repository contributions",
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return initConfig()
		},
	}
	setupFlags(rootCmd)

	rootCmd.AddCommand(serveCmd())
	rootCmd.AddCommand(creditCmd())
	rootCmd.AddCommand(evaluateCmd())
	rootCmd.AddCommand(stateCmd())

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func setupFlags(cmd *cobra.Command) {
	config.ApplyDefaults(viper.GetViper())
	defaults := config.NewViper()
	cmd.PersistentFlags().StringVar(&cfgFile, "config", "", "Path to configuration file")
	cmd.PersistentFlags().String("server-host", defaults.GetString("server.host"), "HTTP listen host")
	cmd.PersistentFlags().Int("server-port", defaults.GetInt("server.port"), "HTTP listen port")
	cmd.PersistentFlags().String("database-path", defaults.GetString("database.path"), "SQLite database path")
	cmd.PersistentFlags().String("log-level", defaults.GetString("log.level"), "Log level (debug, info, warn, error)")
	cmd.PersistentFlags().String("llm-provider", defaults.GetString("llm.provider"), "Classifier provider (mock, openai, anthropic)")

	bindFlag(cmd, "server.host", "server-host")
	bindFlag(cmd, "server.port", "server-port")
	bindFlag(cmd, "database.path", "database-path")
	bindFlag(cmd, "log.level", "log-level")
	bindFlag(cmd, "llm.provider", "llm-provider")
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

func serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the webhook server",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServer(cmd.Context())
		},
	}
}

func runServer(ctx context.Context) error {
	appConfig, err := config.Load(viper.GetViper())
	if err != nil {
		return err
	}
	if err := appConfig.ValidateServe(); err != nil {
		return err
	}

	logger, err := logging.NewLogger(appConfig.LogLevel)
	if err != nil {
		return err
	}
	defer logger.Sync() //nolint:errcheck

	db, err := store.OpenSQLite(appConfig.DatabaseDSN(), appConfig.DatabaseMaxConns, logger)
	if err != nil {
		return err
	}
	sqlDB, err := db.DB()
	if err != nil {
		return err
	}
	defer sqlDB.Close()
	dataStore := store.NewGormStore(db, nil)

	tokens, err := buildTokenSource(appConfig.GitHub)
	if err != nil {
		return err
	}
	forge := github.NewClient(tokens, github.WithBaseURL(appConfig.GitHub.APIBaseURL))

	evaluator, err := llm.NewEvaluator(llm.ProviderConfig{
		Provider:    appConfig.LLM.Provider,
		APIKey:      appConfig.LLM.APIKey,
		Model:       appConfig.LLM.Model,
		BaseURL:     appConfig.LLM.BaseURL,
		MockDefault: appConfig.LLM.MockDefault,
	})
	if err != nil {
		return err
	}

	policies := policy.NewLoader(forge,
		time.Duration(appConfig.PolicyCacheTTLSeconds)*time.Second, logger)

	pipeline, err := engine.New(engine.Config{
		Store:              dataStore,
		Forge:              forge,
		Evaluator:          evaluator,
		Policies:           policies,
		Logger:             logger,
		MaxConcurrentEvals: appConfig.MaxConcurrentEvals,
	})
	if err != nil {
		return err
	}
	defer pipeline.Close()

	deps := server.Dependencies{
		Engine:        pipeline,
		Store:         dataStore,
		Roles:         forge,
		WebhookSecret: appConfig.GitHub.WebhookSecret,
		Logger:        logger,
		Health: server.HealthDeps{
			Version:      version,
			DB:           db,
			LLMProvider:  evaluator.ProviderName(),
			LLMAvailable: pipeline.EvaluatorAvailable,
		},
	}
	if appConfig.SessionSecret != "" && appConfig.GitHub.OAuthClientID != "" {
		sessions, err := server.NewSessionManager(appConfig.SessionSecret, appConfig.SessionCookieName, 0)
		if err != nil {
			return err
		}
		deps.Sessions = sessions
		deps.OAuth = server.NewOAuthHandler(
			appConfig.GitHub.OAuthClientID,
			appConfig.GitHub.OAuthClientSecret,
			appConfig.GitHub.OAuthRedirectURL,
			appConfig.GitHub.APIBaseURL)
	}

	handler, err := server.NewHTTPHandler(deps)
	if err != nil {
		return err
	}

	httpServer := &http.Server{
		Addr:    appConfig.Address(),
		Handler: handler,
	}

	signalCtx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	errCh := make(chan error, 1)
	go func() {
		logger.Info("server starting", zap.String("address", appConfig.Address()))
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

func buildTokenSource(cfg config.GitHubConfig) (github.TokenSource, error) {
	if cfg.Token != "" {
		return github.StaticToken(cfg.Token), nil
	}
	pem, err := os.ReadFile(cfg.PrivateKeyPath)
	if err != nil {
		return nil, fmt.Errorf("reading github private key: %w", err)
	}
	appAuth, err := github.NewAppAuth(cfg.AppID, pem)
	if err != nil {
		return nil, err
	}
	return github.NewInstallationTokenManager(appAuth, cfg.InstallationID,
		github.WithManagerBaseURL(cfg.APIBaseURL)), nil
}

var (
	stateDir    string
	repoDir     string
	actorID     int64
	actorLogin  string
	actionOwner string
	actionRepo  string
)

func addActionFlags(cmd *cobra.Command) {
	cmd.PersistentFlags().StringVar(&stateDir, "state-dir", ".meritgate-state", "Directory holding the state files")
	cmd.PersistentFlags().StringVar(&repoDir, "repo-dir", ".", "Checked-out repository root")
	cmd.PersistentFlags().Int64Var(&actorID, "user-id", 0, "GitHub user id of the contributor")
	cmd.PersistentFlags().StringVar(&actorLogin, "username", "", "GitHub login of the contributor")
	cmd.PersistentFlags().StringVar(&actionOwner, "owner", "", "Repository owner")
	cmd.PersistentFlags().StringVar(&actionRepo, "repo", "", "Repository name")
}

func newRunner(logger *zap.Logger) *actions.Runner {
	return actions.NewRunner(stateDir, actions.LoadLocalPolicy(repoDir, logger), logger)
}

func creditCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "credit",
		Short: "Credit operations for CI mode",
	}
	addActionFlags(cmd)

	cmd.AddCommand(&cobra.Command{
		Use:   "init",
		Short: "Create the state directory and empty data files",
		RunE: func(cmd *cobra.Command, args []string) error {
			return newRunner(nil).InitState()
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "check",
		Short: "Evaluate the PR gate for a contributor",
		RunE: func(cmd *cobra.Command, args []string) error {
			decision, err := newRunner(nil).CheckCredit(cmd.Context(), actorID, actorLogin, actionOwner, actionRepo)
			if err != nil {
				return err
			}
			return printJSON(decision)
		},
	})

	var eventType, quality string
	update := &cobra.Command{
		Use:   "update",
		Short: "Apply a scored event to a contributor",
		RunE: func(cmd *cobra.Command, args []string) error {
			parsedQuality, err := policy.ParseQuality(quality)
			if err != nil {
				return err
			}
			result, err := newRunner(nil).UpdateCredit(cmd.Context(),
				actorID, actorLogin, actionOwner, actionRepo,
				policy.EventType(eventType), parsedQuality)
			if err != nil {
				return err
			}
			return printJSON(result)
		},
	}
	update.Flags().StringVar(&eventType, "event", string(policy.EventPROpened), "Event type (pr_opened, comment, pr_merged, review_submitted)")
	update.Flags().StringVar(&quality, "quality", string(policy.QualityAcceptable), "Quality level (spam, low, acceptable, high)")
	cmd.AddCommand(update)

	return cmd
}

func evaluateCmd() *cobra.Command {
	var artifactPath string
	cmd := &cobra.Command{
		Use:   "evaluate",
		Short: "Classify an artifact's content",
		RunE: func(cmd *cobra.Command, args []string) error {
			appConfig, err := config.Load(viper.GetViper())
			if err != nil {
				return err
			}
			evaluator, err := llm.NewEvaluator(llm.ProviderConfig{
				Provider:    appConfig.LLM.Provider,
				APIKey:      appConfig.LLM.APIKey,
				Model:       appConfig.LLM.Model,
				BaseURL:     appConfig.LLM.BaseURL,
				MockDefault: appConfig.LLM.MockDefault,
			})
			if err != nil {
				return err
			}
			evaluation, err := actions.Evaluate(cmd.Context(), evaluator, artifactPath)
			if err != nil {
				return err
			}
			return printJSON(evaluation)
		},
	}
	cmd.Flags().StringVar(&artifactPath, "artifact", "", "Path to the artifact JSON file")
	_ = cmd.MarkFlagRequired("artifact")
	return cmd
}

func stateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "state",
		Short: "State branch operations for CI mode",
	}
	var branch string
	initCmd := &cobra.Command{
		Use:   "init",
		Short: "Initialize the orphan state branch",
		RunE: func(cmd *cobra.Command, args []string) error {
			return actions.InitStateBranch(repoDir, branch)
		},
	}
	initCmd.Flags().StringVar(&branch, "branch", actions.DefaultStateBranch, "Name of the state branch")
	initCmd.Flags().StringVar(&repoDir, "repo-dir", ".", "Checked-out repository root")
	cmd.AddCommand(initCmd)
	return cmd
}

func printJSON(v any) error {
	encoded, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	fmt.Println(string(encoded))
	return nil
}
