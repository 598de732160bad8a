package config

import (
	"fmt"
	"path/filepath"
	"strings"
)

func (c *Config) normalize() error {
	if err := c.normalizeServer(); err != nil {
		return err
	}
	if err := c.normalizeFiles(); err != nil {
		return err
	}
	c.normalizePool()
	c.normalizePeers()
	if err := c.normalizeLogging(); err != nil {
		return err
	}
	return c.normalizeJournal()
}

func (c *Config) normalizeServer() error {
	var err error
	if strings.TrimSpace(c.Server.StateDir) == "" {
		c.Server.StateDir = defaultStateDir
	}
	if c.Server.StateDir, err = expandPath(c.Server.StateDir); err != nil {
		return fmt.Errorf("server.state_dir: %w", err)
	}
	c.Server.FileHost = strings.TrimSpace(c.Server.FileHost)
	c.Server.Advertise = strings.TrimSpace(c.Server.Advertise)
	if c.Server.Advertise == "" {
		c.Server.Advertise = defaultAdvertise(c.Server.FilePort)
	}
	return nil
}

func (c *Config) normalizeFiles() error {
	var err error
	if strings.TrimSpace(c.Files.Root) == "" {
		c.Files.Root = defaultFilesRoot
	}
	if c.Files.Root, err = expandPath(c.Files.Root); err != nil {
		return fmt.Errorf("files.root: %w", err)
	}
	return nil
}

func (c *Config) normalizePool() {
	if c.Pool.ShrinkAfter <= 0 {
		c.Pool.ShrinkAfter = defaultShrinkAfter
	}
}

func (c *Config) normalizePeers() {
	cleaned := make([]string, 0, len(c.Peers.Addresses))
	for _, addr := range c.Peers.Addresses {
		if trimmed := strings.TrimSpace(addr); trimmed != "" {
			cleaned = append(cleaned, trimmed)
		}
	}
	c.Peers.Addresses = cleaned
	if c.Peers.Capacity <= 0 {
		c.Peers.Capacity = defaultPeerCapacity
	}
}

func (c *Config) normalizeLogging() error {
	c.Logging.Format = strings.ToLower(strings.TrimSpace(c.Logging.Format))
	if c.Logging.Format == "" {
		c.Logging.Format = defaultLogFormat
	}
	c.Logging.Level = strings.ToLower(strings.TrimSpace(c.Logging.Level))
	if c.Logging.Level == "" {
		c.Logging.Level = defaultLogLevel
	}
	if strings.TrimSpace(c.Logging.File) != "" {
		var err error
		if c.Logging.File, err = expandPath(c.Logging.File); err != nil {
			return fmt.Errorf("logging.file: %w", err)
		}
	}
	return nil
}

func (c *Config) normalizeJournal() error {
	if strings.TrimSpace(c.Journal.Path) == "" {
		c.Journal.Path = filepath.Join(c.Server.StateDir, "journal.db")
	}
	var err error
	if c.Journal.Path, err = expandPath(c.Journal.Path); err != nil {
		return fmt.Errorf("journal.path: %w", err)
	}
	c.Journal.PruneSchedule = strings.TrimSpace(c.Journal.PruneSchedule)
	return nil
}
