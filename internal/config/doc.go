// Package config provides configuration management for the resolver
// daemon.
//
// The package uses a Provider interface to abstract configuration loading,
// with the primary implementation being filesystem-based configuration via
// YAML files.
//
// # Configuration Structure
//
// Configuration is structured as follows:
//
//	socket:
//	  path: /var/run/aresdnsd.socket   # Unix domain socket path
//	resolver:
//	  servers: []                      # DNS server overrides, empty means system default
//	  query_timeout: 5s                # Per-request query timeout, 0 = no deadline
//	  backup_poll_interval: 1s          # Fallback socket re-check interval
//	  retries: 2                       # Additional resolvers tried before giving up
//	trace:
//	  driver: false                     # Verbose driver state-machine tracing
//	  address_sorting: false            # Parsed only; nothing reads it
//
// # Basic Usage
//
// Load configuration using the default path (~/.aresdns/config.yaml):
//
//	provider := config.New()
//	cfg, err := provider.Load()
//	if err != nil {
//		log.Fatal(err)
//	}
//
// Load configuration from a specific path:
//
//	provider := config.NewWithPath(filesys.OS(), "/etc/aresdns/config.yaml")
//	cfg, err := provider.Load()
//	if err != nil {
//		log.Fatal(err)
//	}
//
// # Configuration Validation
//
// The package performs validation of loaded configuration:
//   - Socket path must not be empty
//   - Query timeout must be zero (no deadline) or at least 1 second
//   - Backup poll interval must be at least 100ms
//   - Retries cannot be negative
//   - Resolver server entries cannot be empty strings
//
// # Default Configuration
//
// If no configuration file exists, the following defaults are used:
//   - Socket Path: /var/run/aresdnsd.socket
//   - Query Timeout: 5 seconds
//   - Backup Poll Interval: 1 second
//   - Retries: 2
//
// # Error Handling
//
// The package defines several error values:
//   - ErrInvalidConfig: Configuration validation failed
//   - ErrNoConfig: Configuration file not found (Load falls back to Default)
package config
