package cli

import (
	"github.com/spf13/cobra"

	"github.com/BrandonDHaskell/Citadel/gate/internal/citadel/service"
)

// NewSyncCommand creates the sync command: one replication cycle, then exit.
func NewSyncCommand(opts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "sync",
		Short: "Deliver one batch of the local sync queue to the remote store",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			cfg := opts.Config

			s, err := openStores(ctx, cfg, opts.Logger, nil)
			if err != nil {
				return err
			}
			defer s.Close()

			r := service.NewReplicator(s.broker, service.ReplicationConfig{
				Interval:  cfg.ReplicationInterval,
				BatchSize: cfg.ReplicationBatch,
			}, opts.Logger, nil)

			delivered, result, err := r.RunOnce(ctx)
			printf(cmd, "delivered %d (%s)\n", delivered, result)
			return err
		},
	}
}
