package main

import (
	"fmt"
	"time"

	"alcyxob/artifact-relay/internal/api"

	"github.com/spf13/cobra"
)

func newTokenCmd(configPath *string) *cobra.Command {
	var (
		subject  string
		lifetime time.Duration
	)

	cmd := &cobra.Command{
		Use:   "token",
		Short: "Mint a bearer token for the processor's callbacks",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, _, err := loadRuntime(*configPath)
			if err != nil {
				return err
			}
			token, err := api.MintCallbackToken(cfg.Callback.JWTSecret, subject, lifetime)
			if err != nil {
				return err
			}
			_, err = fmt.Fprintln(cmd.OutOrStdout(), token)
			return err
		},
	}
	cmd.Flags().StringVar(&subject, "subject", "n8n", "token subject")
	cmd.Flags().DurationVar(&lifetime, "ttl", 30*24*time.Hour, "token lifetime")
	return cmd
}
