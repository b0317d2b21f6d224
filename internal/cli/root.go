// Package cli implements friendsctl, the operator tool for seeding data, minting
// tokens and watching a user's live notification stream.
package cli

import (
	"github.com/spf13/cobra"
)

// RootOptions holds global flags for all commands.
type RootOptions struct {
	// Secret overrides JWT_SECRET from the loaded configuration.
	Secret string
}

// NewRootCommand creates the root command for friendsctl.
func NewRootCommand() *cobra.Command {
	opts := &RootOptions{}

	cmd := &cobra.Command{
		Use:   "friendsctl",
		Short: "Operate the friends service",
		Long:  "Seed profiles and friendships, issue user tokens and watch live notifications.",
	}

	cmd.PersistentFlags().StringVar(&opts.Secret, "secret", "", "JWT signing secret (defaults to JWT_SECRET)")

	cmd.AddCommand(NewSeedCommand(opts))
	cmd.AddCommand(NewTokenCommand(opts))
	cmd.AddCommand(NewWatchCommand(opts))

	return cmd
}
