package cmd

import (
	"LERS-backend/internal/platform/db"

	"github.com/spf13/cobra"
)

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Apply database migrations",
	RunE: func(cmd *cobra.Command, _ []string) error {
		cfg, log, err := bootstrap()
		if err != nil {
			return err
		}
		defer log.Sync()

		conn, err := connect(cmd.Context(), cfg, log)
		if err != nil {
			return err
		}
		defer conn.Close()
		return db.Migrate(conn, log)
	},
}
