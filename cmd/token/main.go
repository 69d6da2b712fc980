// Command token issues an access token for an operator-chosen user id.
package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"rag-knowledge-platform/internal/auth"
	"rag-knowledge-platform/internal/config"
)

func main() {
	var (
		role string
		ttl  time.Duration
	)

	cmd := &cobra.Command{
		Use:   "token <user-id>",
		Short: "Issue a signed access token",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.LoadConfig()
			if err != nil {
				return err
			}
			if ttl == 0 {
				ttl = cfg.JWTExpiresIn
			}
			rdb, err := config.NewRedisClient(cfg)
			if err != nil {
				return err
			}
			if rdb != nil {
				defer rdb.Close()
			}

			issuer, err := auth.NewIssuer(cfg.JWTSecret, ttl, rdb)
			if err != nil {
				return err
			}
			token, exp, err := issuer.Issue(context.Background(), args[0], role)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), token)
			fmt.Fprintf(cmd.ErrOrStderr(), "role=%s expires=%s\n", role, exp.UTC().Format(time.RFC3339))
			return nil
		},
	}
	cmd.Flags().StringVar(&role, "role", auth.RoleUser, "token role: admin or user")
	cmd.Flags().DurationVar(&ttl, "ttl", 0, "token lifetime (defaults to JWT_EXPIRES_IN)")

	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}
