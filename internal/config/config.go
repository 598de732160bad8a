package config

import (
	_ "embed"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/pelletier/go-toml/v2"
)

//go:embed sample_config.toml
var sampleConfig string

// Server contains listener, session and lifecycle settings.
type Server struct {
	AdminPort    int    `toml:"admin_port"`
	FilePort     int    `toml:"file_port"`
	FileHost     string `toml:"file_host"`
	Advertise    string `toml:"advertise"`
	StateDir     string `toml:"state_dir"`
	ReadTimeout  int    `toml:"read_timeout"`
	AdminTimeout int    `toml:"admin_timeout"`
	GracePeriod  int    `toml:"grace_period"`
}

// Pool contains worker pool sizing and monitor settings.
type Pool struct {
	Increment       int `toml:"increment"`
	Min             int `toml:"min"`
	Max             int `toml:"max"`
	MonitorInterval int `toml:"monitor_interval"`
	ShrinkAfter     int `toml:"shrink_after"`
}

// Locks contains resource lock table settings.
type Locks struct {
	Capacity       int `toml:"capacity"`
	AcquireTimeout int `toml:"acquire_timeout"`
}

// Peers contains the sibling daemon list and forwarding settings.
type Peers struct {
	Addresses   []string `toml:"addresses"`
	Capacity    int      `toml:"capacity"`
	DialTimeout int      `toml:"dial_timeout"`
}

// Files contains the served file tree and debugging knobs.
type Files struct {
	Root         string `toml:"root"`
	DelayEnabled bool   `toml:"delay_enabled"`
	DelaySeconds int    `toml:"delay_seconds"`
	Verbose      bool   `toml:"verbose"`
}

// Logging contains configuration for log output.
type Logging struct {
	Format     string `toml:"format"`
	Level      string `toml:"level"`
	File       string `toml:"file"`
	MaxSizeMB  int    `toml:"max_size_mb"`
	MaxBackups int    `toml:"max_backups"`
	MaxAgeDays int    `toml:"max_age_days"`
}

// Journal contains configuration for the file operation journal.
type Journal struct {
	Enabled       bool   `toml:"enabled"`
	Path          string `toml:"path"`
	RetentionDays int    `toml:"retention_days"`
	PruneSchedule string `toml:"prune_schedule"`
}

// Metrics contains configuration for the Prometheus endpoint.
type Metrics struct {
	Bind string `toml:"bind"`
}

// Config encapsulates all configuration values for shfd.
//
// Configuration sections by subsystem:
//   - Server: admin/file listeners, timeouts, state directory
//   - Pool: worker pool increment, floor, ceiling and monitor cadence
//   - Locks: lock table capacity and acquisition timeout
//   - Peers: sibling daemons used for forwarding
//   - Files: served directory and delay/verbose debugging
//   - Logging: log format, level and rotation
//   - Journal: sqlite operation journal and pruning
//   - Metrics: optional Prometheus endpoint
type Config struct {
	Server  Server  `toml:"server"`
	Pool    Pool    `toml:"pool"`
	Locks   Locks   `toml:"locks"`
	Peers   Peers   `toml:"peers"`
	Files   Files   `toml:"files"`
	Logging Logging `toml:"logging"`
	Journal Journal `toml:"journal"`
	Metrics Metrics `toml:"metrics"`
}

// DefaultConfigPath returns the absolute path to the default configuration file location.
func DefaultConfigPath() (string, error) {
	return expandPath(defaultConfigPath)
}

// Load locates, parses, and validates a configuration file. The returned config has all
// path fields expanded and normalized.
func Load(path string) (*Config, string, bool, error) {
	cfg := Default()

	resolvedPath, exists, err := resolveConfigPath(path)
	if err != nil {
		return nil, "", false, err
	}

	if exists {
		file, err := os.Open(resolvedPath)
		if err != nil {
			return nil, "", false, fmt.Errorf("open config: %w", err)
		}
		defer file.Close()

		decoder := toml.NewDecoder(file)
		decoder.DisallowUnknownFields()
		if err := decoder.Decode(&cfg); err != nil {
			return nil, "", false, fmt.Errorf("parse config: %w", err)
		}
	}

	if err := cfg.normalize(); err != nil {
		return nil, "", false, err
	}

	if err := cfg.Validate(); err != nil {
		return nil, "", false, err
	}

	return &cfg, resolvedPath, exists, nil
}

func resolveConfigPath(path string) (string, bool, error) {
	if path != "" {
		expanded, err := expandPath(path)
		if err != nil {
			return "", false, err
		}
		_, err = os.Stat(expanded)
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				return expanded, false, nil
			}
			return "", false, fmt.Errorf("stat config: %w", err)
		}
		return expanded, true, nil
	}

	defaultPath, err := expandPath(defaultConfigPath)
	if err != nil {
		return "", false, err
	}

	projectPath, err := filepath.Abs("shfd.toml")
	if err != nil {
		return "", false, err
	}

	if info, err := os.Stat(defaultPath); err == nil && !info.IsDir() {
		return defaultPath, true, nil
	}
	if info, err := os.Stat(projectPath); err == nil && !info.IsDir() {
		return projectPath, true, nil
	}

	return defaultPath, false, nil
}

// EnsureDirectories creates required directories for daemon operation.
func (c *Config) EnsureDirectories() error {
	for _, dir := range []string{c.Server.StateDir, c.Files.Root} {
		if strings.TrimSpace(dir) == "" {
			continue
		}
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create directory %q: %w", dir, err)
		}
	}
	return nil
}

// SessionTimeout bounds each blocking read on a file session.
func (c *Config) SessionTimeout() time.Duration {
	return seconds(c.Server.ReadTimeout)
}

// AdminSessionTimeout bounds each blocking read on the admin session.
func (c *Config) AdminSessionTimeout() time.Duration {
	return seconds(c.Server.AdminTimeout)
}

// Grace returns how long shutdown waits for busy workers.
func (c *Config) Grace() time.Duration {
	return seconds(c.Server.GracePeriod)
}

// LockTimeout returns the per-acquisition wait bound; zero waits indefinitely.
func (c *Config) LockTimeout() time.Duration {
	return seconds(c.Locks.AcquireTimeout)
}

// PoolFloor is the size the monitor never shrinks below. An unset pool.min
// falls back to one increment, capped at pool.max.
func (c *Config) PoolFloor() int {
	floor := c.Pool.Min
	if floor == 0 {
		floor = c.Pool.Increment
	}
	if floor > c.Pool.Max {
		floor = c.Pool.Max
	}
	return floor
}

// MonitorInterval returns the pool monitor tick.
func (c *Config) MonitorInterval() time.Duration {
	return seconds(c.Pool.MonitorInterval)
}

// PeerDialTimeout returns the forwarding connect timeout.
func (c *Config) PeerDialTimeout() time.Duration {
	return seconds(c.Peers.DialTimeout)
}

// FileDelay returns the artificial hold time applied to file operations, or zero when disabled.
func (c *Config) FileDelay() time.Duration {
	if !c.Files.DelayEnabled {
		return 0
	}
	return seconds(c.Files.DelaySeconds)
}

// JournalRetention returns how long journal entries are kept.
func (c *Config) JournalRetention() time.Duration {
	return time.Duration(c.Journal.RetentionDays) * 24 * time.Hour
}

// LockFilePath is the single-instance lock guarding the state directory.
func (c *Config) LockFilePath() string {
	return filepath.Join(c.Server.StateDir, "shfd.lock")
}

// PIDFilePath is where the running daemon records its process id.
func (c *Config) PIDFilePath() string {
	return filepath.Join(c.Server.StateDir, "shfd.pid")
}

func seconds(v int) time.Duration {
	if v <= 0 {
		return 0
	}
	return time.Duration(v) * time.Second
}

func expandPath(pathValue string) (string, error) {
	if pathValue == "" {
		return pathValue, nil
	}
	if strings.HasPrefix(pathValue, "~") {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", fmt.Errorf("resolve home directory: %w", err)
		}
		if pathValue == "~" {
			pathValue = home
		} else if len(pathValue) > 1 && (pathValue[1] == '/' || pathValue[1] == '\\') {
			pathValue = filepath.Join(home, pathValue[2:])
		}
	}
	cleaned := filepath.Clean(pathValue)
	absolute, err := filepath.Abs(cleaned)
	if err != nil {
		return "", fmt.Errorf("resolve absolute path for %q: %w", cleaned, err)
	}
	return absolute, nil
}

// ExpandPath exposes the repository path expansion rules for other packages.
func ExpandPath(pathValue string) (string, error) {
	return expandPath(pathValue)
}

// CreateSample writes a sample configuration file to the specified location.
func CreateSample(path string) error {
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create config directory: %w", err)
		}
	}

	if err := os.WriteFile(path, []byte(sampleConfig), 0o644); err != nil {
		return fmt.Errorf("write sample config: %w", err)
	}
	return nil
}
