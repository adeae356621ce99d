package cmd

import (
	"fmt"
	"time"

	"LERS-backend/internal/platform/auth"
	"LERS-backend/internal/platform/config"

	"github.com/spf13/cobra"
)

var (
	tokenUser string
	tokenRole string
	tokenTTL  time.Duration
)

// 開発環境でAPIを叩くためのトークン発行。本番のログイン経路ではない
var tokenCmd = &cobra.Command{
	Use:   "token",
	Short: "Print a bearer token for local testing (dev mode only)",
	RunE: func(cmd *cobra.Command, _ []string) error {
		cfg, err := config.Load(cfgFile)
		if err != nil {
			return err
		}
		if cfg.Mode != config.ModeDev {
			return fmt.Errorf("token: only available in %q mode", config.ModeDev)
		}
		tok, err := auth.IssueToken([]byte(cfg.Auth.JWTSecret),
			auth.Actor{UserID: tokenUser, Role: auth.ParseRole(tokenRole)}, tokenTTL, time.Now())
		if err != nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), tok)
		return nil
	},
}

func init() {
	tokenCmd.Flags().StringVar(&tokenUser, "user", "", "user id (sub claim)")
	tokenCmd.Flags().StringVar(&tokenRole, "role", "STUDENT", "STUDENT | STAFF | FACULTY")
	tokenCmd.Flags().DurationVar(&tokenTTL, "ttl", 8*time.Hour, "token lifetime")
	_ = tokenCmd.MarkFlagRequired("user")
}
