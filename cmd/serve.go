package cmd

import (
	"os/signal"
	"syscall"

	"LERS-backend/internal/platform/db"
	"LERS-backend/internal/platform/filestore"
	"LERS-backend/internal/server"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

var autoMigrate bool

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the HTTP API server",
	RunE: func(cmd *cobra.Command, _ []string) error {
		cfg, log, err := bootstrap()
		if err != nil {
			return err
		}
		defer log.Sync()

		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		conn, err := connect(ctx, cfg, log)
		if err != nil {
			return err
		}
		defer conn.Close()

		if autoMigrate {
			if err := db.Migrate(conn, log); err != nil {
				return err
			}
		}

		files, err := filestore.New(cfg.Storage.DataDir)
		if err != nil {
			return err
		}
		log.Info("artifact storage ready", zap.String("root", files.Root()))

		r := server.NewRouter(cfg, conn, files, log)
		return server.Run(ctx, cfg, r, log)
	},
}

func init() {
	serveCmd.Flags().BoolVar(&autoMigrate, "migrate", false, "apply pending migrations before serving")
}
