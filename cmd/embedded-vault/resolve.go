package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

func newResolveCommand(root *rootOptions) *cobra.Command {
	var (
		ver      string
		platform platformFlags
	)

	cmd := &cobra.Command{
		Use:   "resolve",
		Short: "Download (if needed) and print the path of a Vault executable",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, log, err := root.load()
			if err != nil {
				return err
			}
			if ver == "" {
				ver = cfg.Vault.Version
			}

			store, db, err := openStore(cmd.Context(), cfg, log)
			if err != nil {
				return err
			}
			defer db.Close()

			path, err := store.Resolve(cmd.Context(), ver, platform.goos, platform.goarch)
			if err != nil {
				return fmt.Errorf("resolving vault %s: %w", ver, err)
			}
			fmt.Fprintln(cmd.OutOrStdout(), path)
			return nil
		},
	}
	cmd.Flags().StringVar(&ver, "version", "", "Vault version (defaults to the configured one)")
	platform.register(cmd)
	return cmd
}
