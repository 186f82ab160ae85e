package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/artemis/migrationctl/internal/auth"
	"github.com/artemis/migrationctl/internal/config"
	"github.com/artemis/migrationctl/internal/hybrid"
	"github.com/artemis/migrationctl/internal/observability"
	"github.com/artemis/migrationctl/internal/orchestrator"
	"github.com/artemis/migrationctl/internal/perfmon"
	"github.com/artemis/migrationctl/internal/pool"
	"github.com/artemis/migrationctl/internal/progress"
	"github.com/artemis/migrationctl/internal/report"
	"github.com/artemis/migrationctl/internal/server"
	"github.com/artemis/migrationctl/internal/session"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

var (
	cfgFile string
	logger  *observability.Logger
	cfg     *config.Config
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "migration-control",
	Short: "Control plane for orchestrated system-to-system migrations",
	Long: `migration-control schedules, validates, and tracks migrations between
source and destination systems, exposing a REST+WebSocket control API.`,
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		var err error
		logger, err = observability.NewLogger("info")
		if err != nil {
			fmt.Fprintf(os.Stderr, "failed to initialize logger: %v\n", err)
			os.Exit(1)
		}

		cfg, err = config.LoadConfig(cfgFile)
		if err != nil {
			logger.Error("failed to load config", zap.Error(err))
			os.Exit(1)
		}

		if cfg.LogLevel != "" {
			logger, err = observability.NewLogger(cfg.LogLevel)
			if err != nil {
				logger.Warn("failed to set log level, using default", zap.Error(err))
			}
		}
	},
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the control API server",
	Long:  "Start migration-control in daemon mode, serving the REST+WebSocket control API",
	Run: func(cmd *cobra.Command, args []string) {
		if err := runServer(cmd, args); err != nil {
			logger.Error("server exited with error", zap.Error(err))
			os.Exit(1)
		}
	},
}

func runServer(cmd *cobra.Command, args []string) error {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	store := session.New()
	tracker := progress.New()
	perf := perfmon.New(5*time.Second, 1000)
	perf.Start(ctx, "")

	hybridEngine := hybrid.New(hybrid.Config{
		HelperPath:      cfg.NativeHelperPath,
		PreferNative:    cfg.PreferNative,
		FallbackOnError: true,
		CallTimeout:     cfg.TransferTimeout,
		SecretKey:       cfg.SecretKey,
	}, logger.Logger)

	healthChecker := observability.NewHealthChecker()
	healthChecker.RegisterCheck("native_helper", observability.DependencyHealthCheck(
		"native_helper", func(context.Context) error {
			if cfg.PreferNative && !hybridEngine.IsNativeAvailable() {
				return fmt.Errorf("native acceleration preferred but helper is unavailable")
			}
			return nil
		}))
	healthChecker.RegisterCheck("session_store", observability.DependencyHealthCheck(
		"session_store", func(context.Context) error { return nil }))
	go healthChecker.StartPeriodicChecks(ctx, 10*time.Second)

	metrics := observability.NewMetrics()

	transferPool := pool.New(pool.Config{
		MinSize: 1,
		MaxSize: cfg.PoolSize,
		Factory: func(context.Context) (interface{}, error) { return struct{}{}, nil },
	}, logger.Logger)
	transferPool.Initialize(ctx)
	defer transferPool.Close()

	poolMonitor := pool.NewMonitor(1000)
	poolMonitor.Register("transfer_workers", transferPool)
	go poolMonitor.Run(ctx, 10*time.Second)
	go func() {
		ticker := time.NewTicker(10 * time.Second)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				s := transferPool.Stats()
				metrics.SetPoolUtilization(float64(s.Active), float64(s.PendingWaiters))
			}
		}
	}()

	reportGen, err := report.New(cfg.ReportDir)
	if err != nil {
		return fmt.Errorf("failed to create report generator: %w", err)
	}

	authGate, err := auth.New(auth.Config{
		SecretKey:         cfg.SecretKey,
		AccessTokenTTL:    cfg.AccessTokenTTL,
		RateLimitRequests: cfg.RateLimitRequests,
		RateLimitWindow:   cfg.RateLimitWindow,
		AuditLogCapacity:  1000,
	}, cfg.BootstrapAdminPassword, logger.Logger)
	if err != nil {
		return fmt.Errorf("failed to create auth gate: %w", err)
	}

	// Concrete ValidationEngine/BackupManager/TransferMethodFactory/
	// DatabaseMigrationFactory/RollbackManager collaborators are deployment
	// specific (they depend on the systems being migrated between); the
	// orchestrator degrades an unconfigured validation or backup step to a
	// logged no-op, matching the migration_assistant original's behavior,
	// while transfer_files (and migrate_database for a source with a
	// database) fails without its collaborator.
	orch := orchestrator.New(store, orchestrator.Collaborators{}, tracker, perf, logger.Logger)

	httpServer := server.New(server.Deps{
		Config:       cfg,
		Auth:         authGate,
		Store:        store,
		Orchestrator: orch,
		Tracker:      tracker,
		Perf:         perf,
		Reports:      reportGen,
		Health:       healthChecker,
		Metrics:      metrics,
		Logger:       logger,
	})

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	go func() {
		<-sigChan
		logger.Info("received shutdown signal")
		cancel()
		httpServer.Stop()
	}()

	logger.Info("starting migration-control",
		zap.String("http_addr", cfg.HTTPAddr),
	)

	if err := httpServer.Start(); err != nil {
		return fmt.Errorf("HTTP server error: %w", err)
	}

	return nil
}

var tokenCmd = &cobra.Command{
	Use:   "token",
	Short: "Issue a bootstrap admin access token",
	Long:  "Authenticate as the bootstrap admin user and print an access token, for scripting the control API without a browser",
	Run: func(cmd *cobra.Command, args []string) {
		authGate, err := auth.New(auth.Config{
			SecretKey:         cfg.SecretKey,
			AccessTokenTTL:    cfg.AccessTokenTTL,
			RateLimitRequests: cfg.RateLimitRequests,
			RateLimitWindow:   cfg.RateLimitWindow,
			AuditLogCapacity:  1000,
		}, cfg.BootstrapAdminPassword, logger.Logger)
		if err != nil {
			logger.Error("failed to create auth gate", zap.Error(err))
			os.Exit(1)
		}

		user, err := authGate.Authenticate("admin", cfg.BootstrapAdminPassword)
		if err != nil {
			logger.Error("failed to authenticate bootstrap admin", zap.Error(err))
			os.Exit(1)
		}

		token, expiresAt, err := authGate.IssueToken(user, "127.0.0.1", "migration-control-cli")
		if err != nil {
			logger.Error("failed to issue token", zap.Error(err))
			os.Exit(1)
		}

		fmt.Printf("access_token: %s\nexpires_at: %s\n", token, expiresAt.Format(time.RFC3339))
	},
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the migration-control version",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Println("migration-control dev")
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default: ~/.migration-control/config.json)")

	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(tokenCmd)
	rootCmd.AddCommand(versionCmd)
}
