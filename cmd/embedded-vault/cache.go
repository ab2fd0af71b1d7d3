package main

import (
	"fmt"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/nerrad567/embedded-vault/internal/distribution"
)

func newCacheCommand(root *rootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "cache",
		Short: "Inspect and prune downloaded Vault executables",
	}
	cmd.AddCommand(newCacheListCommand(root), newCacheRemoveCommand(root))
	return cmd
}

func newCacheListCommand(root *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List cached executables",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, log, err := root.load()
			if err != nil {
				return err
			}
			store, db, err := openStore(cmd.Context(), cfg, log)
			if err != nil {
				return err
			}
			defer db.Close()

			artifacts, err := store.List(cmd.Context())
			if err != nil {
				return err
			}

			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "VERSION\tTARGET\tSIZE\tDOWNLOADED\tPATH")
			for _, a := range artifacts {
				fmt.Fprintf(w, "%s\t%s\t%d\t%s\t%s\n",
					a.Descriptor.Version,
					a.Descriptor.Target(),
					a.Size,
					a.DownloadedAt.Format(time.RFC3339),
					a.Executable,
				)
			}
			return w.Flush()
		},
	}
}

func newCacheRemoveCommand(root *rootOptions) *cobra.Command {
	var platform platformFlags

	cmd := &cobra.Command{
		Use:   "remove VERSION",
		Short: "Remove a cached executable",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			d, err := distribution.Resolve(args[0], platform.goos, platform.goarch)
			if err != nil {
				return err
			}

			cfg, log, err := root.load()
			if err != nil {
				return err
			}
			store, db, err := openStore(cmd.Context(), cfg, log)
			if err != nil {
				return err
			}
			defer db.Close()

			if err := store.Remove(cmd.Context(), d); err != nil {
				return fmt.Errorf("removing %s: %w", d, err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "removed %s\n", d)
			return nil
		},
	}
	platform.register(cmd)
	return cmd
}
