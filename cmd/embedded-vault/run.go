package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"runtime"
	"time"

	"github.com/spf13/cobra"

	"github.com/nerrad567/embedded-vault/internal/api"
	"github.com/nerrad567/embedded-vault/internal/history"
	"github.com/nerrad567/embedded-vault/internal/infrastructure/config"
	"github.com/nerrad567/embedded-vault/internal/infrastructure/database"
	"github.com/nerrad567/embedded-vault/internal/infrastructure/influxdb"
	"github.com/nerrad567/embedded-vault/internal/infrastructure/logging"
	"github.com/nerrad567/embedded-vault/internal/infrastructure/mqtt"
	"github.com/nerrad567/embedded-vault/internal/lifecycle"
	"github.com/nerrad567/embedded-vault/internal/vault"
)

// unsealKeyWait bounds the wait for the unseal key banner after readiness.
const unsealKeyWait = 2 * time.Second

func newRunCommand(root *rootOptions) *cobra.Command {
	var (
		randomPort bool
		ver        string
		executable string
	)

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Start a Vault dev server and keep it running until interrupted",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, log, err := root.load()
			if err != nil {
				return err
			}
			if cmd.Flags().Changed("random-port") {
				cfg.Vault.RandomPort = randomPort
			}
			if ver != "" {
				cfg.Vault.Version = ver
			}
			if executable != "" {
				cfg.Vault.Executable = executable
			}
			return runServer(cmd.Context(), cfg, log, cmd.OutOrStdout())
		},
	}
	cmd.Flags().BoolVar(&randomPort, "random-port", false, "listen on a free port instead of the configured one")
	cmd.Flags().StringVar(&ver, "version", "", "Vault version to run (overrides config)")
	cmd.Flags().StringVar(&executable, "executable", "", "run this binary instead of resolving one")
	return cmd
}

// runServer starts the server, prints its details to out and blocks until
// ctx is cancelled or the server exits. The server is always stopped and
// cleaned up before returning.
func runServer(ctx context.Context, cfg *config.Config, log *logging.Logger, out io.Writer) error {
	log.Info("starting embedded-vault", "version", version, "commit", commit, "build_date", date)

	exe := cfg.Vault.Executable
	var db *database.DB
	if exe == "" || cfg.History.Enabled {
		var err error
		if db, err = openIndex(ctx, cfg); err != nil {
			return err
		}
		defer func() {
			if closeErr := db.Close(); closeErr != nil {
				log.Error("error closing index database", "error", closeErr)
			}
		}()
	}

	if exe == "" {
		store, err := newStore(cfg, log, db)
		if err != nil {
			return err
		}
		if exe, err = store.Resolve(ctx, cfg.Vault.Version, runtime.GOOS, runtime.GOARCH); err != nil {
			return fmt.Errorf("resolving vault %s: %w", cfg.Vault.Version, err)
		}
	}

	sink, closeSinks, err := connectSinks(cfg, log)
	if err != nil {
		return err
	}
	defer closeSinks()

	if cfg.History.Enabled {
		journal := history.NewJournal(db.DB)
		journal.SetLogger(log)
		sink = lifecycle.MultiSink{sink, journal}
		defer func() {
			// Runs after the server is closed so cleanup events are kept.
			if _, pruneErr := journal.Prune(context.WithoutCancel(ctx), cfg.History.Retain); pruneErr != nil {
				log.Warn("could not prune lifecycle history", "error", pruneErr)
			}
		}()
	}

	settings, err := vault.SettingsFromConfig(cfg.Vault)
	if err != nil {
		return fmt.Errorf("building settings: %w", err)
	}
	supervisor := vault.NewSupervisor(vault.OptionsFromConfig(cfg.Vault, vault.Options{
		Output:      log.Lines("stdout"),
		ErrorOutput: log.Lines("stderr"),
		Sink:        sink,
	}))
	supervisor.SetLogger(log)

	srv, err := supervisor.Start(ctx, settings, exe)
	if err != nil {
		return fmt.Errorf("starting vault: %w", err)
	}
	defer func() {
		log.Info("stopping vault")
		if stopErr := srv.Close(); stopErr != nil {
			log.Error("error stopping vault", "error", stopErr)
		}
	}()

	if cfg.API.Enabled {
		statusAPI, apiErr := api.New(api.Deps{Config: cfg.API, Logger: log, Target: srv, Version: version})
		if apiErr != nil {
			return fmt.Errorf("creating status API: %w", apiErr)
		}
		if apiErr := statusAPI.Start(ctx); apiErr != nil {
			return fmt.Errorf("starting status API: %w", apiErr)
		}
		defer func() {
			if closeErr := statusAPI.Close(); closeErr != nil {
				log.Error("error closing status API", "error", closeErr)
			}
		}()
		fmt.Fprintf(out, "Status API listening on http://%s/api/v1\n", statusAPI.Addr())
	}

	keyCtx, cancel := context.WithTimeout(ctx, unsealKeyWait)
	unsealKey, keyErr := srv.AwaitUnsealKey(keyCtx)
	cancel()
	if keyErr != nil {
		log.Debug("no unseal key reported", "error", keyErr)
	}
	printServer(out, srv, unsealKey)
	log.Info("vault running, waiting for shutdown signal",
		"address", srv.Address(),
		"pid", srv.PID(),
		"unseal_key_seen", unsealKey != "",
	)

	select {
	case <-ctx.Done():
		log.Info("shutdown signal received, cleaning up")
		return nil
	case <-srv.Done():
		return errors.New("vault exited unexpectedly")
	}
}

func printServer(out io.Writer, srv *vault.Server, unsealKey string) {
	fmt.Fprintf(out, "Vault %s is running (pid %d)\n", srv.Settings().Version(), srv.PID())
	fmt.Fprintf(out, "  Address:    %s\n", srv.URL())
	fmt.Fprintf(out, "  Root Token: %s\n", srv.RootToken())
	if unsealKey != "" {
		fmt.Fprintf(out, "  Unseal Key: %s\n", unsealKey)
	}
	fmt.Fprintf(out, "\n  export VAULT_ADDR=%s VAULT_TOKEN=%s\n", srv.URL(), srv.RootToken())
}

// connectSinks connects the enabled event publishers. The returned close
// function is safe to call when none are enabled.
func connectSinks(cfg *config.Config, log *logging.Logger) (lifecycle.Sink, func(), error) {
	var sinks lifecycle.MultiSink
	var closers []func()
	closeAll := func() {
		for i := len(closers) - 1; i >= 0; i-- {
			closers[i]()
		}
	}

	if cfg.MQTT.Enabled {
		client, err := mqtt.Connect(cfg.MQTT)
		if err != nil {
			return nil, closeAll, fmt.Errorf("connecting to MQTT: %w", err)
		}
		client.SetLogger(log)
		client.SetOnConnect(func() { log.Info("MQTT connected") })
		closers = append(closers, func() {
			log.Info("disconnecting from MQTT")
			if closeErr := client.Close(); closeErr != nil {
				log.Error("error closing MQTT", "error", closeErr)
			}
		})

		publisher := mqtt.NewLifecyclePublisher(client, client.Topics(), byte(cfg.MQTT.QoS))
		publisher.SetLogger(log)
		sinks = append(sinks, publisher)
		log.Info("publishing lifecycle events to MQTT",
			"broker", fmt.Sprintf("%s:%d", cfg.MQTT.Broker.Host, cfg.MQTT.Broker.Port),
			"topics", client.Topics().AllLifecycle(),
		)
	}

	if cfg.InfluxDB.Enabled {
		client, err := influxdb.Connect(cfg.InfluxDB)
		if err != nil {
			closeAll()
			return nil, func() {}, fmt.Errorf("connecting to InfluxDB: %w", err)
		}
		client.SetOnError(func(err error) {
			log.Error("InfluxDB write error", "error", err)
		})
		closers = append(closers, func() {
			log.Info("closing InfluxDB connection")
			if closeErr := client.Close(); closeErr != nil {
				log.Error("error closing InfluxDB", "error", closeErr)
			}
		})
		sinks = append(sinks, client)
		log.Info("recording lifecycle metrics in InfluxDB", "url", cfg.InfluxDB.URL, "bucket", cfg.InfluxDB.Bucket)
	}

	sinks = append(sinks, lifecycle.SinkFunc(func(e lifecycle.Event) {
		log.Debug("lifecycle event", "kind", e.Kind, "server_id", e.ServerID, "pid", e.PID)
	}))
	return sinks, closeAll, nil
}
