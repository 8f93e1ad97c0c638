package main

import (
	"github.com/spf13/cobra"
)

func init() {
	rootCmd.AddCommand(newCheckCmd())
}

func newCheckCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "check",
		Short: "Show what a sync would change",
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

			plan, err := a.engine.Check(cmd.Context())
			if err != nil {
				return err
			}

			printPlan(cmd.OutOrStdout(), plan)
			return nil
		},
	}
}
