package cli

import (
	"fmt"
	"os"

	"fitsocial/internal/config"
	"fitsocial/internal/database"
	"fitsocial/internal/seed"

	"github.com/spf13/cobra"
)

type seedOptions struct {
	fixture  string
	profiles int
	edges    int
	accepted float64
	seed     int64
	clean    bool
}

// NewSeedCommand creates the seed command.
func NewSeedCommand(_ *RootOptions) *cobra.Command {
	opts := &seedOptions{}

	cmd := &cobra.Command{
		Use:   "seed",
		Short: "Populate profiles and friendships",
		Long: `Populate the database with profiles and friendships.

With --fixture the rows come from a YAML file, otherwise fake profiles are
generated and connected with random invites.`,
		Args:         cobra.NoArgs,
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runSeed(cmd, opts)
		},
	}

	cmd.Flags().StringVarP(&opts.fixture, "fixture", "f", "", "YAML fixture to load")
	cmd.Flags().IntVar(&opts.profiles, "profiles", 50, "number of profiles to generate")
	cmd.Flags().IntVar(&opts.edges, "edges", 3, "invites sent per generated profile")
	cmd.Flags().Float64Var(&opts.accepted, "accepted", 0.5, "share of generated invites that are accepted")
	cmd.Flags().Int64Var(&opts.seed, "seed", 0, "generator seed (0 picks one)")
	cmd.Flags().BoolVar(&opts.clean, "clean", false, "delete existing rows first")

	return cmd
}

func runSeed(cmd *cobra.Command, opts *seedOptions) error {
	if opts.accepted < 0 || opts.accepted > 1 {
		return fmt.Errorf("--accepted must be between 0 and 1")
	}

	var fx *seed.Fixture
	if opts.fixture != "" {
		f, err := os.Open(opts.fixture)
		if err != nil {
			return err
		}
		defer func() { _ = f.Close() }()
		if fx, err = seed.LoadFixture(f); err != nil {
			return err
		}
	} else {
		fx = seed.Generate(seed.Options{
			Profiles:        opts.profiles,
			EdgesPerProfile: opts.edges,
			AcceptedRatio:   opts.accepted,
			Seed:            opts.seed,
		})
	}

	cfg, err := config.LoadConfig()
	if err != nil {
		return err
	}
	db, err := database.Connect(cfg)
	if err != nil {
		return err
	}
	if sqlDB, err := db.DB(); err == nil {
		defer func() { _ = sqlDB.Close() }()
	}

	if opts.clean {
		if err := seed.Clear(db); err != nil {
			return fmt.Errorf("clean: %w", err)
		}
	}

	res, err := seed.Apply(cmd.Context(), db, fx)
	if err != nil {
		return err
	}
	_, err = fmt.Fprintf(cmd.OutOrStdout(), "seeded %d profiles, %d friendships (%d skipped)\n",
		res.Profiles, res.Friendships, res.Skipped)
	return err
}
