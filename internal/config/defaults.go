package config

import (
	"net"
	"os"
	"strconv"
	"strings"
)

const (
	defaultConfigPath           = "~/.config/shfd/config.toml"
	defaultAdminPort            = 9001
	defaultFilePort             = 9002
	defaultStateDir             = "~/.local/share/shfd"
	defaultFilesRoot            = "~/.local/share/shfd/files"
	defaultReadTimeout          = 60
	defaultAdminTimeout         = 300
	defaultGracePeriod          = 10
	defaultPoolIncrement        = 128
	defaultPoolMax              = 256
	defaultMonitorInterval      = 1
	defaultShrinkAfter          = 5
	defaultLockCapacity         = 65535
	defaultLockAcquireTimeout   = 30
	defaultPeerCapacity         = 64
	defaultPeerDialTimeout      = 3
	defaultDelaySeconds         = 5
	defaultLogFormat            = "auto"
	defaultLogLevel             = "info"
	defaultLogMaxSizeMB         = 50
	defaultLogMaxBackups        = 5
	defaultLogMaxAgeDays        = 30
	defaultJournalRetention     = 14
	defaultJournalPruneSchedule = "@every 1h"
)

// Default returns a Config populated with repository defaults.
func Default() Config {
	return Config{
		Server: Server{
			AdminPort:    defaultAdminPort,
			FilePort:     defaultFilePort,
			StateDir:     defaultStateDir,
			ReadTimeout:  defaultReadTimeout,
			AdminTimeout: defaultAdminTimeout,
			GracePeriod:  defaultGracePeriod,
		},
		Pool: Pool{
			Increment:       defaultPoolIncrement,
			Max:             defaultPoolMax,
			MonitorInterval: defaultMonitorInterval,
			ShrinkAfter:     defaultShrinkAfter,
		},
		Locks: Locks{
			Capacity:       defaultLockCapacity,
			AcquireTimeout: defaultLockAcquireTimeout,
		},
		Peers: Peers{
			Capacity:    defaultPeerCapacity,
			DialTimeout: defaultPeerDialTimeout,
		},
		Files: Files{
			Root:         defaultFilesRoot,
			DelaySeconds: defaultDelaySeconds,
		},
		Logging: Logging{
			Format:     defaultLogFormat,
			Level:      defaultLogLevel,
			MaxSizeMB:  defaultLogMaxSizeMB,
			MaxBackups: defaultLogMaxBackups,
			MaxAgeDays: defaultLogMaxAgeDays,
		},
		Journal: Journal{
			Enabled:       true,
			RetentionDays: defaultJournalRetention,
			PruneSchedule: defaultJournalPruneSchedule,
		},
	}
}

// defaultAdvertise names this node the way peers are expected to list it.
func defaultAdvertise(port int) string {
	host, err := os.Hostname()
	if err != nil || strings.TrimSpace(host) == "" {
		host = "localhost"
	}
	return net.JoinHostPort(host, strconv.Itoa(port))
}
