package cli

import (
	"github.com/spf13/cobra"

	dbpkg "github.com/BrandonDHaskell/Citadel/gate/internal/db"
)

type MigrateOptions struct {
	*RootOptions
	SeedDev      bool
	SeedStudents []string
}

// NewMigrateCommand creates the migrate command.
func NewMigrateCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &MigrateOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Apply the local schema, and the remote schema when it is reachable",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runMigrate(cmd, opts)
		},
	}

	cmd.Flags().BoolVar(&opts.SeedDev, "seed-dev", false, "insert demo students (dev env only)")
	cmd.Flags().StringSliceVar(&opts.SeedStudents, "seed-student", nil, "extra demo student numbers to seed")

	return cmd
}

func runMigrate(cmd *cobra.Command, opts *MigrateOptions) error {
	ctx := cmd.Context()
	cfg, logger := opts.Config, opts.Logger

	// Opening the local replica applies its migrations.
	s, err := openStores(ctx, cfg, logger, nil)
	if err != nil {
		return err
	}
	defer s.Close()
	printf(cmd, "local schema up to date (%s)\n", cfg.DBPath)

	remoteDone, err := s.migrateRemote(ctx)
	if err != nil {
		return err
	}
	switch {
	case remoteDone:
		printf(cmd, "remote schema up to date\n")
	case s.remote != nil:
		logger.Warn("remote store unreachable; remote schema not migrated")
	}

	if !opts.SeedDev {
		return nil
	}
	if cfg.Env != "dev" {
		logger.Warn("refusing to seed outside the dev env", "env", cfg.Env)
		return nil
	}
	seed := dbpkg.SeedDevOptions{StudentNos: opts.SeedStudents}
	if err := dbpkg.SeedDev(ctx, s.local, dbpkg.SQLite, seed); err != nil {
		return err
	}
	if remoteDone {
		if err := dbpkg.SeedDev(ctx, s.remote, dbpkg.Postgres, seed); err != nil {
			return err
		}
	}
	printf(cmd, "dev students seeded\n")
	return nil
}
