package cli

import (
	"fmt"
	"time"

	"fitsocial/internal/config"
	"fitsocial/internal/database"
	"fitsocial/internal/middleware"
	"fitsocial/internal/repository"

	"github.com/spf13/cobra"
)

// NewTokenCommand creates the token command.
func NewTokenCommand(rootOpts *RootOptions) *cobra.Command {
	var (
		ttl   time.Duration
		check bool
	)

	cmd := &cobra.Command{
		Use:          "token <user-id>",
		Short:        "Issue a bearer token for a user",
		Args:         cobra.ExactArgs(1),
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			userID := args[0]
			secret := rootOpts.Secret

			if secret == "" || check {
				cfg, err := config.LoadConfig()
				if err != nil {
					return err
				}
				if secret == "" {
					secret = cfg.JWTSecret
				}
				if check {
					if err := ensureProfile(cmd, cfg, userID); err != nil {
						return err
					}
				}
			}

			tok, err := middleware.IssueToken(secret, userID, ttl)
			if err != nil {
				return err
			}
			_, err = fmt.Fprintln(cmd.OutOrStdout(), tok)
			return err
		},
	}

	cmd.Flags().DurationVar(&ttl, "ttl", 24*time.Hour, "token lifetime")
	cmd.Flags().BoolVar(&check, "check", false, "fail unless the user has a profile")

	return cmd
}

func ensureProfile(cmd *cobra.Command, cfg *config.Config, userID string) error {
	db, err := database.Connect(cfg)
	if err != nil {
		return err
	}
	if sqlDB, err := db.DB(); err == nil {
		defer func() { _ = sqlDB.Close() }()
	}
	if _, err := repository.NewProfileStore(db).GetByID(cmd.Context(), userID); err != nil {
		return err
	}
	return nil
}
