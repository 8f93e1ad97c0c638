package main

import (
	"errors"

	"github.com/openmined/bucketsync/internal/sync"
	"github.com/spf13/cobra"
)

func init() {
	rootCmd.AddCommand(newSyncCmd("sync", "Run one synchronization using the configured direction", ""))
	rootCmd.AddCommand(newSyncCmd("push", "Push the vault to the bucket", sync.FromLocal))
	rootCmd.AddCommand(newSyncCmd("pull", "Pull the bucket into the vault", sync.FromRemote))
}

// newSyncCmd builds a one-shot sync command. An empty direction keeps the configured one.
func newSyncCmd(use, short string, direction sync.Direction) *cobra.Command {
	return &cobra.Command{
		Use:   use,
		Short: short,
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			cmd.SilenceUsage = true

			a, err := newApp(cmd.Context(), cfg)
			if err != nil {
				return err
			}
			defer a.Close()

			result, err := a.engine.Sync(cmd.Context(), sync.SyncOptions{Direction: direction})
			if errors.Is(err, sync.ErrSyncAlreadyRunning) {
				return nil
			}
			if result != nil {
				printResult(cmd.OutOrStdout(), result)
			}
			return err
		},
	}
}
