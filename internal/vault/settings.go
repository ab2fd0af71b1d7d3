package vault

import (
	"errors"
	"fmt"
	"net"
	"strconv"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Defaults applied by NewBuilder.
const (
	DefaultStartupTimeout = 60 * time.Second
	DefaultListenerHost   = "127.0.0.1"
	DefaultListenerPort   = 8200
	DefaultLogLevel       = LogInfo
	DefaultClusterName    = "dev"
	DefaultLeaseTTL       = "768h"
	DefaultMaxLeaseTTL    = "768h"
)

// maxPortAttempts bounds how often a free-port lookup is retried when the OS
// hands back the default port.
const maxPortAttempts = 5

// Settings is the immutable configuration of one server launch.
// Build one with NewBuilder.
type Settings struct {
	version         Version
	startupTimeout  time.Duration
	listenerHost    string
	listenerPort    int
	rootTokenID     string
	logLevel        LogLevel
	clusterName     string
	defaultLeaseTTL string
	maxLeaseTTL     string
}

// Version returns the server release to run.
func (s Settings) Version() Version { return s.version }

// StartupTimeout returns how long start waits for readiness.
func (s Settings) StartupTimeout() time.Duration { return s.startupTimeout }

// ListenerHost returns the address the server listens on.
func (s Settings) ListenerHost() string { return s.listenerHost }

// ListenerPort returns the TCP port the server listens on.
func (s Settings) ListenerPort() int { return s.listenerPort }

// Address returns host:port.
func (s Settings) Address() string {
	return net.JoinHostPort(s.listenerHost, strconv.Itoa(s.listenerPort))
}

// RootTokenID returns the dev-mode root token.
func (s Settings) RootTokenID() string { return s.rootTokenID }

// LogLevel returns the server's log level.
func (s Settings) LogLevel() LogLevel { return s.logLevel }

// ClusterName returns the cluster_name written to the config file.
func (s Settings) ClusterName() string { return s.clusterName }

// DefaultLeaseTTL returns the default_lease_ttl written to the config file.
func (s Settings) DefaultLeaseTTL() string { return s.defaultLeaseTTL }

// MaxLeaseTTL returns the max_lease_ttl written to the config file.
func (s Settings) MaxLeaseTTL() string { return s.maxLeaseTTL }

// Builder returns a builder seeded with s, for deriving modified settings.
func (s Settings) Builder() *Builder {
	return &Builder{s: s}
}

var defaultSettings = sync.OnceValue(func() Settings {
	s, err := NewBuilder().Build()
	if err != nil {
		panic(fmt.Sprintf("vault: default settings invalid: %v", err))
	}
	return s
})

// DefaultSettings returns the process-wide default settings. The root token
// is generated once per process.
func DefaultSettings() Settings {
	return defaultSettings()
}

// Builder collects settings. Setters follow last-writer-wins: RandomPort
// followed by ListenerPort keeps the explicit port, and the reverse order
// picks a free port.
type Builder struct {
	s Settings
}

// NewBuilder returns a builder holding the defaults and a fresh random root token.
func NewBuilder() *Builder {
	return &Builder{s: Settings{
		version:         DefaultVersion,
		startupTimeout:  DefaultStartupTimeout,
		listenerHost:    DefaultListenerHost,
		listenerPort:    DefaultListenerPort,
		rootTokenID:     uuid.NewString(),
		logLevel:        DefaultLogLevel,
		clusterName:     DefaultClusterName,
		defaultLeaseTTL: DefaultLeaseTTL,
		maxLeaseTTL:     DefaultMaxLeaseTTL,
	}}
}

// Version sets the release.
func (b *Builder) Version(v Version) *Builder {
	b.s.version = v
	return b
}

// StartupTimeout sets how long start waits for readiness.
func (b *Builder) StartupTimeout(d time.Duration) *Builder {
	b.s.startupTimeout = d
	return b
}

// ListenerHost sets the listen address.
func (b *Builder) ListenerHost(host string) *Builder {
	b.s.listenerHost = host
	return b
}

// ListenerPort sets the listen port. Port 0 picks a free port at Build.
func (b *Builder) ListenerPort(port int) *Builder {
	b.s.listenerPort = port
	return b
}

// RandomPort listens on the default host with a free port chosen at Build.
func (b *Builder) RandomPort() *Builder {
	return b.RandomPortOn(DefaultListenerHost)
}

// RandomPortOn listens on host with a free port chosen at Build.
func (b *Builder) RandomPortOn(host string) *Builder {
	b.s.listenerHost = host
	b.s.listenerPort = 0
	return b
}

// RootTokenID sets the dev-mode root token.
func (b *Builder) RootTokenID(id string) *Builder {
	b.s.rootTokenID = id
	return b
}

// LogLevel sets the server log level.
func (b *Builder) LogLevel(level LogLevel) *Builder {
	b.s.logLevel = level
	return b
}

// ClusterName sets cluster_name.
func (b *Builder) ClusterName(name string) *Builder {
	b.s.clusterName = name
	return b
}

// DefaultLeaseTTL sets default_lease_ttl.
func (b *Builder) DefaultLeaseTTL(ttl string) *Builder {
	b.s.defaultLeaseTTL = ttl
	return b
}

// MaxLeaseTTL sets max_lease_ttl.
func (b *Builder) MaxLeaseTTL(ttl string) *Builder {
	b.s.maxLeaseTTL = ttl
	return b
}

// Build validates the collected values and resolves a free port when the
// port is 0.
func (b *Builder) Build() (Settings, error) {
	s := b.s

	var errs []error
	if s.version == "" {
		errs = append(errs, errors.New("version is required"))
	}
	if s.startupTimeout <= 0 {
		errs = append(errs, errors.New("startup timeout must be positive"))
	}
	if s.listenerHost == "" {
		errs = append(errs, errors.New("listener host is required"))
	}
	if s.listenerPort < 0 || s.listenerPort > 65535 {
		errs = append(errs, fmt.Errorf("listener port %d out of range", s.listenerPort))
	}
	if s.rootTokenID == "" {
		errs = append(errs, errors.New("root token id is required"))
	}
	if _, err := ParseLogLevel(string(s.logLevel)); err != nil {
		errs = append(errs, err)
	}
	if s.defaultLeaseTTL == "" || s.maxLeaseTTL == "" {
		errs = append(errs, errors.New("lease ttls are required"))
	}
	if len(errs) > 0 {
		return Settings{}, fmt.Errorf("invalid vault settings: %w", errors.Join(errs...))
	}

	if s.listenerPort == 0 {
		port, err := FreePort(s.listenerHost)
		if err != nil {
			return Settings{}, err
		}
		s.listenerPort = port
	}
	return s, nil
}

// FreePort asks the OS for a free TCP port on host and releases it. The
// default listener port is never returned.
func FreePort(host string) (int, error) {
	for attempt := 0; attempt < maxPortAttempts; attempt++ {
		l, err := net.Listen("tcp", net.JoinHostPort(host, "0"))
		if err != nil {
			return 0, fmt.Errorf("allocating free port on %s: %w", host, err)
		}
		port := l.Addr().(*net.TCPAddr).Port
		if err := l.Close(); err != nil {
			return 0, fmt.Errorf("releasing port listener: %w", err)
		}
		if port != DefaultListenerPort {
			return port, nil
		}
	}
	return 0, fmt.Errorf("no free port on %s other than %d", host, DefaultListenerPort)
}
