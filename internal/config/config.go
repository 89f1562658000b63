// Package config provides configuration loading and validation for the
// resolver daemon. It handles reading configuration from a YAML file,
// providing defaults, and ensuring all required settings are properly set.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/aresdns/aresdns/internal/filesys"
)

var (
	// ErrInvalidConfig is returned when the configuration is invalid.
	ErrInvalidConfig = errors.New("invalid configuration")
	// ErrNoConfig is returned when the configuration file is not found.
	ErrNoConfig = errors.New("configuration file not found")
)

const (
	// DefaultSocketPath is the default path for the daemon's Unix socket.
	DefaultSocketPath = "/var/run/aresdnsd.socket"
	// DefaultConfigPath is the default path for the configuration file,
	// relative to the user's home directory.
	DefaultConfigPath = ".aresdns/config.yaml"
	// DefaultQueryTimeout bounds how long a whole request waits for its
	// reply, across every retry, before it is reported as timed out.
	DefaultQueryTimeout = 5 * time.Second
	// DefaultBackupPollInterval is how often a request re-checks its
	// sockets even without an explicit readiness notification.
	DefaultBackupPollInterval = 1 * time.Second
	// DefaultRetries is how many additional resolvers a query tries before
	// it is reported as failed.
	DefaultRetries = 2
	// DefaultAttemptTimeout bounds a single wire attempt, independent of
	// QueryTimeout: a silently-dropped reply retries once this elapses
	// instead of hanging until the whole request's deadline fires.
	DefaultAttemptTimeout = 2 * time.Second
)

// Config holds the resolver daemon's configuration.
type Config struct {
	Socket   SocketConfig   `yaml:"socket"`
	Resolver ResolverConfig `yaml:"resolver"`
	Trace    TraceConfig    `yaml:"trace"`
}

// SocketConfig holds socket-related configuration.
type SocketConfig struct {
	Path string `yaml:"path"`
}

// ResolverConfig holds the wrapped DNS library's tuning knobs.
type ResolverConfig struct {
	// Servers overrides the system-configured DNS servers with an explicit
	// "host[:port]" list. Empty means use the platform default resolvers.
	Servers []string `yaml:"servers"`
	// QueryTimeout bounds a single request's wait for a reply. Zero means
	// no deadline — the request is bounded only by retries.
	QueryTimeout       time.Duration `yaml:"query_timeout"`
	BackupPollInterval time.Duration `yaml:"backup_poll_interval"`
	Retries            int           `yaml:"retries"`
	// AttemptTimeout bounds a single wire attempt against one resolver,
	// letting Retries actually engage when a reply is silently dropped
	// rather than only ever hard-failing or waiting out QueryTimeout. Zero
	// means use DefaultAttemptTimeout, unlike QueryTimeout's zero.
	AttemptTimeout time.Duration `yaml:"attempt_timeout"`
}

// TraceConfig toggles the driver's structured debug tracing, mirroring the
// wrapped library's named trace flags. Only Driver is read (cmd/aresdnsd
// passes it on as dnsdriver.Options.TraceDriver); AddressSorting is parsed
// and validated but nothing in the daemon reads it, so it logs nothing.
type TraceConfig struct {
	Driver         bool `yaml:"driver"`
	AddressSorting bool `yaml:"address_sorting"`
}

// Provider defines the interface for loading configuration.
type Provider interface {
	Load() (*Config, error)
}

// FSProvider implements Provider using a filesystem abstraction.
type FSProvider struct {
	fs   filesys.ReadWriteFS
	path string
}

// Verify FSProvider implements Provider interface.
var _ Provider = (*FSProvider)(nil)

// New creates a new configuration provider using the default configuration
// path under the user's home directory. If the home directory cannot be
// determined, it falls back to a relative path.
func New() Provider {
	home, err := os.UserHomeDir()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Warning: could not determine home directory: %v\n", err)
		home = ""
	}
	return NewWithPath(filesys.OS(), filepath.Join(home, DefaultConfigPath))
}

// NewWithPath creates a new provider with a specific filesystem and path.
func NewWithPath(fs filesys.ReadWriteFS, path string) Provider {
	return &FSProvider{
		fs:   fs,
		path: path,
	}
}

// Default returns a default configuration with preset values, used when no
// configuration file exists on disk.
func Default() *Config {
	return &Config{
		Socket: SocketConfig{
			Path: DefaultSocketPath,
		},
		Resolver: ResolverConfig{
			QueryTimeout:       DefaultQueryTimeout,
			BackupPollInterval: DefaultBackupPollInterval,
			Retries:            DefaultRetries,
			AttemptTimeout:     DefaultAttemptTimeout,
		},
	}
}

// Load loads the configuration from the provider's path, falling back to
// Default if no file exists.
func (p *FSProvider) Load() (*Config, error) {
	_ = p.ensureConfigDir()

	cfg, err := p.loadAndParse()
	if err != nil {
		if errors.Is(err, ErrNoConfig) {
			return Default(), nil
		}
		return nil, err
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidConfig, err)
	}

	return cfg, nil
}

// Validate checks the configuration to ensure all required fields are set
// and within sane bounds.
func (c *Config) Validate() error {
	if strings.TrimSpace(c.Socket.Path) == "" {
		return errors.New("socket path cannot be empty")
	}
	if c.Resolver.QueryTimeout != 0 && c.Resolver.QueryTimeout < time.Second {
		return errors.New("query timeout must be zero (no deadline) or at least 1 second")
	}
	if c.Resolver.BackupPollInterval < 100*time.Millisecond {
		return errors.New("backup poll interval must be at least 100ms")
	}
	if c.Resolver.AttemptTimeout != 0 && c.Resolver.AttemptTimeout < 100*time.Millisecond {
		return errors.New("attempt timeout must be zero (use the default) or at least 100ms")
	}
	if c.Resolver.Retries < 0 {
		return errors.New("retries cannot be negative")
	}
	for _, s := range c.Resolver.Servers {
		if strings.TrimSpace(s) == "" {
			return errors.New("resolver server entries cannot be empty")
		}
	}
	return nil
}

func (p *FSProvider) ensureConfigDir() error {
	dir := filepath.Dir(p.path)
	if _, err := p.fs.Stat(dir); os.IsNotExist(err) {
		if err := p.fs.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("creating config directory: %w", err)
		}
	}
	return nil
}

func (p *FSProvider) loadAndParse() (*Config, error) {
	f, err := p.fs.Open(p.path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, ErrNoConfig
		}
		return nil, fmt.Errorf("opening config file: %w", err)
	}
	defer f.Close()

	var cfg Config
	if err := yaml.NewDecoder(f).Decode(&cfg); err != nil {
		return nil, fmt.Errorf("decoding config file: %w", err)
	}

	return &cfg, nil
}
