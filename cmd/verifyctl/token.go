package main

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"classverify/internal/auth"
	"classverify/internal/rbac"
)

func newTokenCmd(root *rootOptions) *cobra.Command {
	var (
		name string
		role string
		ttl  time.Duration
	)
	cmd := &cobra.Command{
		Use:   "token",
		Short: "Issue a bearer token signed with the configured secret",
		RunE: func(cmd *cobra.Command, args []string) error {
			if strings.TrimSpace(name) == "" {
				return fmt.Errorf("--name is required")
			}
			normalized := rbac.Normalize(role)
			if string(normalized) != role {
				return fmt.Errorf("unknown role %q", role)
			}
			cfg, err := root.loadConfig()
			if err != nil {
				return err
			}
			token, err := auth.IssueToken([]byte(cfg.TokenSecret), auth.NewClaims(name, string(normalized), ttl))
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), token)
			return nil
		},
	}
	cmd.Flags().StringVar(&name, "name", "", "Reviewer display name")
	cmd.Flags().StringVar(&role, "role", string(rbac.RoleReviewer), "Role: viewer|reviewer|admin")
	cmd.Flags().DurationVar(&ttl, "ttl", 12*time.Hour, "Token lifetime")
	return cmd
}
