package main

import (
	"encoding/json"
	"fmt"

	"github.com/openmined/bucketsync/internal/version"
	"github.com/spf13/cobra"
)

func init() {
	rootCmd.AddCommand(newVersionCmd())
}

func newVersionCmd() *cobra.Command {
	var short, asJSON bool

	cmd := &cobra.Command{
		Use:   "version",
		Short: "Print the BucketSync build: version, revision, toolchain and platform",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			info := version.Get()
			out := cmd.OutOrStdout()

			switch {
			case asJSON:
				enc := json.NewEncoder(out)
				enc.SetIndent("", "  ")
				return enc.Encode(info)
			case short:
				_, err := fmt.Fprintln(out, info.Short())
				return err
			default:
				_, err := fmt.Fprintln(out, info)
				return err
			}
		},
	}

	cmd.Flags().BoolVar(&short, "short", false, "print only the version number")
	cmd.Flags().BoolVar(&asJSON, "json", false, "print build information as JSON")
	cmd.MarkFlagsMutuallyExclusive("short", "json")
	return cmd
}
