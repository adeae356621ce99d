package cmd

import (
	"LERS-backend/internal/seed"

	"github.com/spf13/cobra"
)

var seedCmd = &cobra.Command{
	Use:   "seed <fixture.yaml>",
	Short: "Load users and equipment from a YAML fixture",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		fx, err := seed.LoadFile(args[0])
		if err != nil {
			return err
		}
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
		return seed.Apply(cmd.Context(), conn, fx, log)
	},
}
