package testsupport

import (
	"path/filepath"
	"testing"

	"shfd/internal/config"
)

// ConfigOption allows callers to customize the generated test configuration.
type ConfigOption func(*configBuilder)

type configBuilder struct {
	t       testing.TB
	baseDir string
	cfg     *config.Config
}

// NewConfig produces a config seeded with unique temp directories per test.
// Both listeners use ephemeral loopback ports, logging is quiet and the pool
// is small.
func NewConfig(t testing.TB, opts ...ConfigOption) *config.Config {
	t.Helper()

	base := t.TempDir()
	cfgVal := config.Default()
	cfgVal.Server.AdminPort = 0
	cfgVal.Server.FilePort = 0
	cfgVal.Server.FileHost = "127.0.0.1"
	cfgVal.Server.Advertise = "127.0.0.1:1"
	cfgVal.Server.StateDir = filepath.Join(base, "state")
	cfgVal.Server.GracePeriod = 2
	cfgVal.Files.Root = filepath.Join(base, "files")
	cfgVal.Journal.Path = filepath.Join(base, "state", "journal.db")
	cfgVal.Pool.Increment = 2
	cfgVal.Pool.Min = 0
	cfgVal.Pool.Max = 4
	cfgVal.Locks.Capacity = 64
	cfgVal.Locks.AcquireTimeout = 1
	cfgVal.Logging.Format = "json"
	cfgVal.Logging.Level = "error"

	builder := &configBuilder{
		t:       t,
		baseDir: base,
		cfg:     &cfgVal,
	}

	for _, opt := range opts {
		opt(builder)
	}

	if err := builder.cfg.Validate(); err != nil {
		t.Fatalf("test config invalid: %v", err)
	}
	return builder.cfg
}

// WithPeers sets the peer list on the test config.
func WithPeers(addrs ...string) ConfigOption {
	return func(b *configBuilder) {
		b.cfg.Peers.Addresses = append([]string(nil), addrs...)
	}
}

// WithPool overrides the pool increment and ceiling.
func WithPool(increment, max int) ConfigOption {
	return func(b *configBuilder) {
		b.cfg.Pool.Increment = increment
		b.cfg.Pool.Max = max
	}
}

// WithoutJournal disables the operation journal.
func WithoutJournal() ConfigOption {
	return func(b *configBuilder) {
		b.cfg.Journal.Enabled = false
	}
}

// BaseDir returns the root temp directory backing the generated config.
func BaseDir(cfg *config.Config) string {
	return filepath.Dir(cfg.Server.StateDir)
}
