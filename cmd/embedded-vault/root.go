package main

import (
	"context"
	"fmt"
	"os"
	"runtime"

	"github.com/spf13/cobra"

	"github.com/nerrad567/embedded-vault/internal/artifact"
	"github.com/nerrad567/embedded-vault/internal/infrastructure/config"
	"github.com/nerrad567/embedded-vault/internal/infrastructure/database"
	"github.com/nerrad567/embedded-vault/internal/infrastructure/logging"
	"github.com/nerrad567/embedded-vault/migrations"
)

// configEnv names the config file when --config is not given.
const configEnv = "EMBEDDED_VAULT_CONFIG"

// rootOptions holds the persistent flags.
type rootOptions struct {
	configPath string
}

func newRootCommand() *cobra.Command {
	opts := &rootOptions{}

	cmd := &cobra.Command{
		Use:   "embedded-vault",
		Short: "Run a supervised Vault dev server",
		Long: `embedded-vault downloads, caches and launches a HashiCorp Vault dev server,
waits until it is ready and stops it cleanly on exit.`,
		Version:       fmt.Sprintf("%s (commit: %s, built: %s)", version, commit, date),
		SilenceUsage:  true,
		SilenceErrors: true,
		CompletionOptions: cobra.CompletionOptions{
			DisableDefaultCmd: true,
		},
	}
	cmd.PersistentFlags().StringVarP(&opts.configPath, "config", "c", os.Getenv(configEnv),
		"config file (YAML); defaults and EMBEDDED_VAULT_* variables apply without one")

	cmd.AddCommand(
		newRunCommand(opts),
		newResolveCommand(opts),
		newVersionsCommand(),
		newCacheCommand(opts),
		newEventsCommand(opts),
		newHistoryCommand(opts),
	)
	return cmd
}

// load reads the configuration and builds the logger it describes.
func (o *rootOptions) load() (*config.Config, *logging.Logger, error) {
	cfg, err := config.Load(o.configPath)
	if err != nil {
		return nil, nil, fmt.Errorf("loading config: %w", err)
	}
	return cfg, logging.New(cfg.Logging, version), nil
}

// openIndex opens and migrates the index database. The caller closes it.
func openIndex(ctx context.Context, cfg *config.Config) (*database.DB, error) {
	db, err := database.Open(database.Config{
		Path:        cfg.Database.Path,
		WALMode:     cfg.Database.WALMode,
		BusyTimeout: cfg.Database.BusyTimeout,
	})
	if err != nil {
		return nil, fmt.Errorf("opening index database: %w", err)
	}
	if err := db.Migrate(ctx, migrations.Source()); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("running migrations: %w", err)
	}
	return db, nil
}

// openStore opens the index and returns an artifact store over it.
// The caller closes the database.
func openStore(ctx context.Context, cfg *config.Config, log *logging.Logger) (*artifact.Store, *database.DB, error) {
	db, err := openIndex(ctx, cfg)
	if err != nil {
		return nil, nil, err
	}
	store, err := newStore(cfg, log, db)
	if err != nil {
		_ = db.Close()
		return nil, nil, err
	}
	return store, db, nil
}

func newStore(cfg *config.Config, log *logging.Logger, db *database.DB) (*artifact.Store, error) {
	store, err := artifact.NewStore(artifact.Config{
		BaseURL:         cfg.Artifacts.BaseURL,
		Dir:             cfg.Artifacts.StoreDir,
		UserAgent:       cfg.Artifacts.UserAgent,
		VerifyChecksums: cfg.Artifacts.VerifyChecksums,
		DownloadTimeout: cfg.Artifacts.DownloadTimeout,
	}, db)
	if err != nil {
		return nil, err
	}
	store.SetLogger(log)
	return store, nil
}

// platformFlags are the --os/--arch overrides shared by resolve and cache.
type platformFlags struct {
	goos   string
	goarch string
}

func (p *platformFlags) register(cmd *cobra.Command) {
	cmd.Flags().StringVar(&p.goos, "os", runtime.GOOS, "target operating system (GOOS)")
	cmd.Flags().StringVar(&p.goarch, "arch", runtime.GOARCH, "target architecture (GOARCH)")
}
