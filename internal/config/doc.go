// Package config loads, normalizes, and validates shfd configuration data.
//
// It supplies repository defaults, expands user paths (including tilde
// shortcuts), reads TOML files, and merges command-line overrides. The Config
// type centralizes every knob the daemon and CLI need: listener ports, pool
// bounds, lock table capacity, the peer list, and logging/journal settings.
//
// Always obtain settings through this package so downstream code receives
// sanitized paths, canonical log formats, and clear validation errors.
package config
