package config

import (
	"errors"
	"fmt"
	"net"
	"strconv"
	"strings"
)

// ErrInvalid marks configuration values that fail validation.
var ErrInvalid = errors.New("invalid configuration")

// Validate ensures the configuration is usable.
func (c *Config) Validate() error {
	if err := c.validateServer(); err != nil {
		return err
	}
	if err := c.validatePool(); err != nil {
		return err
	}
	if err := c.validateLocks(); err != nil {
		return err
	}
	if err := c.validatePeers(); err != nil {
		return err
	}
	if err := c.validateLogging(); err != nil {
		return err
	}
	return c.validateJournal()
}

func invalid(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrInvalid, fmt.Sprintf(format, args...))
}

func (c *Config) validateServer() error {
	// Port 0 asks the kernel for an ephemeral port; flags reject it earlier.
	if c.Server.AdminPort < 0 || c.Server.AdminPort > 65535 {
		return invalid("server.admin_port %d out of range", c.Server.AdminPort)
	}
	if c.Server.FilePort < 0 || c.Server.FilePort > 65535 {
		return invalid("server.file_port %d out of range", c.Server.FilePort)
	}
	if c.Server.AdminPort != 0 && c.Server.AdminPort == c.Server.FilePort {
		return invalid("server.admin_port and server.file_port must differ")
	}
	if c.Server.ReadTimeout < 0 || c.Server.AdminTimeout < 0 || c.Server.GracePeriod < 0 {
		return invalid("server timeouts must not be negative")
	}
	if _, _, err := net.SplitHostPort(c.Server.Advertise); err != nil {
		return invalid("server.advertise %q: %v", c.Server.Advertise, err)
	}
	return nil
}

func (c *Config) validatePool() error {
	if c.Pool.Increment <= 0 {
		return invalid("pool.increment must be positive")
	}
	if c.Pool.Max <= 0 {
		return invalid("pool.max must be positive")
	}
	if c.Pool.Min < 0 || c.Pool.Min > c.Pool.Max {
		return invalid("pool.min must be between 0 and pool.max")
	}
	if c.Pool.MonitorInterval <= 0 {
		return invalid("pool.monitor_interval must be positive")
	}
	return nil
}

func (c *Config) validateLocks() error {
	if c.Locks.Capacity <= 0 {
		return invalid("locks.capacity must be positive")
	}
	if c.Locks.AcquireTimeout < 0 {
		return invalid("locks.acquire_timeout must not be negative")
	}
	return nil
}

func (c *Config) validatePeers() error {
	if len(c.Peers.Addresses) > c.Peers.Capacity {
		return invalid("peers.addresses has %d entries, capacity is %d", len(c.Peers.Addresses), c.Peers.Capacity)
	}
	for _, addr := range c.Peers.Addresses {
		if err := ValidateHostPort(addr); err != nil {
			return invalid("peers.addresses: %v", err)
		}
	}
	if c.Peers.DialTimeout < 0 {
		return invalid("peers.dial_timeout must not be negative")
	}
	return nil
}

func (c *Config) validateLogging() error {
	switch c.Logging.Format {
	case "auto", "console", "json":
	default:
		return invalid("logging.format %q must be auto, console or json", c.Logging.Format)
	}
	switch c.Logging.Level {
	case "debug", "info", "warn", "error":
	default:
		return invalid("logging.level %q must be debug, info, warn or error", c.Logging.Level)
	}
	return nil
}

func (c *Config) validateJournal() error {
	if !c.Journal.Enabled {
		return nil
	}
	if c.Journal.RetentionDays < 0 {
		return invalid("journal.retention_days must not be negative")
	}
	return nil
}

// ValidateHostPort checks a host:port pair with a non-zero numeric port.
func ValidateHostPort(addr string) error {
	host, port, err := net.SplitHostPort(strings.TrimSpace(addr))
	if err != nil {
		return fmt.Errorf("%q: %w", addr, err)
	}
	if host == "" {
		return fmt.Errorf("%q: missing host", addr)
	}
	n, err := strconv.Atoi(port)
	if err != nil || n <= 0 || n > 65535 {
		return fmt.Errorf("%q: invalid port", addr)
	}
	return nil
}
