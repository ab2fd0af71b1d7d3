package vault

import (
	"fmt"

	"github.com/nerrad567/embedded-vault/internal/infrastructure/config"
)

// SettingsFromConfig builds launch settings from the vault section of the
// application config. An empty root token keeps the builder's random one.
func SettingsFromConfig(cfg config.VaultConfig) (Settings, error) {
	level, err := ParseLogLevel(cfg.LogLevel)
	if err != nil {
		return Settings{}, fmt.Errorf("vault settings: %w", err)
	}

	b := NewBuilder().
		Version(Version(cfg.Version)).
		LogLevel(level)

	if cfg.StartupTimeout > 0 {
		b.StartupTimeout(cfg.StartupTimeout)
	}
	if cfg.ClusterName != "" {
		b.ClusterName(cfg.ClusterName)
	}
	if cfg.DefaultLeaseTTL != "" {
		b.DefaultLeaseTTL(cfg.DefaultLeaseTTL)
	}
	if cfg.MaxLeaseTTL != "" {
		b.MaxLeaseTTL(cfg.MaxLeaseTTL)
	}
	if cfg.RootTokenID != "" {
		b.RootTokenID(cfg.RootTokenID)
	}

	host := cfg.ListenerHost
	if host == "" {
		host = DefaultListenerHost
	}
	if cfg.RandomPort {
		b.RandomPortOn(host)
	} else {
		b.ListenerHost(host).ListenerPort(cfg.ListenerPort)
	}

	return b.Build()
}

// OptionsFromConfig copies the supervision timeouts from cfg into opts.
// Zero config values leave the option at its default.
func OptionsFromConfig(cfg config.VaultConfig, opts Options) Options {
	opts.GracefulTimeout = cfg.GracefulTimeout
	opts.KillTimeout = cfg.KillTimeout
	opts.FailureExitGrace = cfg.FailureExitGrace
	opts.ConfirmListener = cfg.ConfirmListener
	return opts
}
