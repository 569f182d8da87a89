package main

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/bodiless/contentsync/internal/backend"
)

func newTokenCmd() *cobra.Command {
	var subject string
	var scopes []string
	var ttl time.Duration
	cmd := &cobra.Command{
		Use:   "token",
		Short: "Issue an editor token signed with the server's JWT secret",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			if strings.TrimSpace(cfg.Server.JWTSecret) == "" {
				return errors.New("jwt secret is required (server.jwt_secret or BODILESS_JWT_SECRET)")
			}
			token, err := backend.IssueToken(cfg.Server.JWTSecret, subject, scopes, ttl, time.Now().UTC())
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), token)
			return nil
		},
	}
	cmd.Flags().StringVar(&subject, "subject", "editor", "token subject")
	cmd.Flags().StringSliceVar(&scopes, "scope", []string{backend.ScopeContentWrite}, "granted scopes")
	cmd.Flags().DurationVar(&ttl, "ttl", 24*time.Hour, "token lifetime")
	return cmd
}
