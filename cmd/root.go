package cmd

import (
	"context"
	"database/sql"
	"fmt"
	"os"

	"LERS-backend/internal/platform/config"
	"LERS-backend/internal/platform/db"
	"LERS-backend/internal/platform/logger"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

var cfgFile string

var rootCmd = &cobra.Command{
	Use:           "lers",
	Short:         "Lab equipment reservation service",
	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&cfgFile, "config", "c", "", "config file (default ./config/config.yaml)")
	rootCmd.AddCommand(serveCmd, migrateCmd, seedCmd, tokenCmd)
}

func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

// bootstrap は設定とロガーを読み込む
func bootstrap() (*config.Config, *zap.Logger, error) {
	cfg, err := config.Load(cfgFile)
	if err != nil {
		return nil, nil, err
	}
	log, err := logger.New(cfg.Log)
	if err != nil {
		return nil, nil, err
	}
	log.Info("config loaded", zap.String("mode", cfg.Mode), zap.String("version", cfg.Version))
	return cfg, log, nil
}

func connect(ctx context.Context, cfg *config.Config, log *zap.Logger) (*sql.DB, error) {
	return db.Connect(ctx, cfg.DB, log)
}
