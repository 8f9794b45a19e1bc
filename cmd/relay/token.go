package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/relaylabs/relay/internal/config"
	"github.com/relaylabs/relay/internal/gating"
)

// buildTokenCmd issues auth tokens signed with the configured secret, for
// development and for provisioning CI users.
func buildTokenCmd() *cobra.Command {
	var (
		configPath string
		userID     string
		email      string
	)
	cmd := &cobra.Command{
		Use:   "token",
		Short: "Issue an auth token for a user",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(configPath)
			if err != nil {
				return err
			}
			if userID == "" {
				return fmt.Errorf("--user is required")
			}
			tokens := gating.NewTokenService(cfg.Auth.JWTSecret, cfg.Auth.TokenExpiry)
			token, err := tokens.Generate(gating.UserInfo{ID: userID, Email: email})
			if err != nil {
				return err
			}
			fmt.Println(token)
			return nil
		},
	}
	cmd.Flags().StringVar(&configPath, "config", "relay.yaml", "Path to configuration file")
	cmd.Flags().StringVar(&userID, "user", "", "User ID to embed in the token")
	cmd.Flags().StringVar(&email, "email", "", "Email to embed in the token")
	return cmd
}
