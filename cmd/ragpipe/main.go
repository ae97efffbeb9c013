package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"github.com/xxxsen/common/logger"
	"github.com/xxxsen/common/logutil"
	"go.uber.org/zap"

	"github.com/xxxsen/ragpipe/internal/config"
	"github.com/xxxsen/ragpipe/internal/db"
	"github.com/xxxsen/ragpipe/internal/pkg/jwt"
)

func main() {
	_ = godotenv.Load()

	var configPath string
	rootCmd := &cobra.Command{
		Use:           "ragpipe",
		Short:         "document ingestion and retrieval service",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "path to config file (.json or .yaml)")

	load := func() (*config.Config, error) {
		if configPath == "" {
			return nil, fmt.Errorf("--config is required")
		}
		cfg, err := config.Load(configPath)
		if err != nil {
			return nil, err
		}
		logger.Init(
			cfg.LogConfig.File,
			cfg.LogConfig.Level,
			int(cfg.LogConfig.FileCount),
			int(cfg.LogConfig.FileSize),
			int(cfg.LogConfig.KeepDays),
			cfg.LogConfig.Console,
		)
		logutil.GetLogger(context.Background()).Info("config loaded", zap.String("config", configPath))
		return cfg, nil
	}

	apiCmd := &cobra.Command{
		Use:   "api",
		Short: "run the http api and scheduled jobs",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := load()
			if err != nil {
				return err
			}
			ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return runAPI(ctx, cfg)
		},
	}

	workerCmd := &cobra.Command{
		Use:   "worker",
		Short: "run the ingestion consumer",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := load()
			if err != nil {
				return err
			}
			ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return runWorker(ctx, cfg)
		},
	}

	migrateCmd := &cobra.Command{
		Use:   "migrate",
		Short: "apply database migrations",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := load()
			if err != nil {
				return err
			}
			ctx := cmd.Context()
			conn, err := db.Open(ctx, cfg.Database)
			if err != nil {
				return fmt.Errorf("open db: %w", err)
			}
			defer conn.Close()
			return db.ApplyMigrations(ctx, conn)
		},
	}

	var (
		subject  string
		ttlHours int
	)
	tokenCmd := &cobra.Command{
		Use:   "token",
		Short: "print an admin token",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := load()
			if err != nil {
				return err
			}
			if cfg.AdminSecret == "" {
				return fmt.Errorf("admin_secret is not configured")
			}
			token, err := jwt.GenerateToken(subject, jwt.RoleAdmin, []byte(cfg.AdminSecret), time.Duration(ttlHours)*time.Hour)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), token)
			return nil
		},
	}
	tokenCmd.Flags().StringVar(&subject, "subject", "admin", "token subject")
	tokenCmd.Flags().IntVar(&ttlHours, "ttl-hours", 24, "token lifetime in hours")

	jobCmd := &cobra.Command{
		Use:   "job <name>",
		Short: "run a scheduled job once (task_backfill, embedding_cache_cleanup)",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := load()
			if err != nil {
				return err
			}
			return runJobOnce(cmd.Context(), cfg, args[0])
		},
	}

	rootCmd.AddCommand(apiCmd, workerCmd, migrateCmd, tokenCmd, jobCmd)
	if err := rootCmd.ExecuteContext(context.Background()); err != nil {
		logutil.GetLogger(context.Background()).Fatal("startup error", zap.Error(err))
	}
}
