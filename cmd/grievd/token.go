package main

import (
	"errors"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"grievd/internal/config"
	"grievd/internal/domain"
	"grievd/internal/identity"
	"grievd/internal/live"
)

// tokenCmd mints a bearer token for operators and local testing.
func tokenCmd(cfgPath *string) *cobra.Command {
	var (
		sub, role string
		ttl       time.Duration
	)
	cmd := &cobra.Command{
		Use:   "token",
		Short: "Issue a signed access token",
		RunE: func(cmd *cobra.Command, _ []string) error {
			if sub == "" {
				return errors.New("--sub is required")
			}
			r := domain.Role(role)
			if !r.Valid() {
				return fmt.Errorf("unknown role %q", role)
			}
			cfg, err := config.NewConfigManager(*cfgPath).Parse()
			if err != nil {
				return err
			}
			secret := config.Secret(cfg.HTTP.JWTSecret)
			if secret == "" {
				return errors.New("http.jwt_secret is not set")
			}
			tok, err := identity.NewVerifier(secret, cfg.HTTP.JWTIssuer).Issue(live.Actor{ID: sub, Role: r}, ttl)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), tok)
			return nil
		},
	}
	cmd.Flags().StringVar(&sub, "sub", "", "actor id (token subject)")
	cmd.Flags().StringVar(&role, "role", string(domain.RoleAdmin), "student or admin")
	cmd.Flags().DurationVar(&ttl, "ttl", time.Hour, "token lifetime")
	return cmd
}
