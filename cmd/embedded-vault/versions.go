package main

import (
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/nerrad567/embedded-vault/internal/distribution"
	"github.com/nerrad567/embedded-vault/internal/vault"
)

func newVersionsCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "versions",
		Short: "List the known Vault versions and supported platforms",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "VERSION\tSTATUS")
			for _, v := range vault.KnownVersions() {
				status := "supported"
				switch {
				case v == vault.DefaultVersion:
					status = "default"
				case v.Deprecated():
					status = "deprecated"
				}
				fmt.Fprintf(w, "%s\t%s\n", v, status)
			}
			if err := w.Flush(); err != nil {
				return err
			}

			fmt.Fprintf(cmd.OutOrStdout(), "\nPlatforms: %v\n", distribution.SupportedPlatforms())
			return nil
		},
	}
}
