package daemon

import (
	"errors"
	"os"
	"path/filepath"

	"github.com/fsnotify/fsnotify"

	"shfd/internal/config"
	"shfd/internal/logging"
	"shfd/internal/signals"
)

// reload re-reads the config file when there is one and applies the parts
// that can change at runtime: the peer list and the pool bounds. Listener,
// lock table and journal settings need a restart.
func (d *Daemon) reload(source string) {
	cfg := d.cfg
	if path := d.opts.ConfigPath; path != "" {
		loaded, _, _, err := config.Load(path)
		if err == nil {
			err = loaded.Apply(d.opts.Overrides)
		}
		if err != nil {
			logging.WarnWithContext(d.logger, "reload failed, keeping current configuration", "reload_failed",
				logging.String("source", source),
				logging.Error(err),
				logging.String(logging.FieldErrorHint, "fix the config file and reload again"),
				logging.String(logging.FieldImpact, "running configuration unchanged"),
			)
			return
		}
		cfg = loaded
	}

	reg, err := buildRegistry(cfg)
	if err != nil {
		logging.WarnWithContext(d.logger, "reload produced an invalid peer list", "reload_failed",
			logging.Error(err),
			logging.String(logging.FieldImpact, "running configuration unchanged"),
		)
		return
	}
	params, err := d.pool.Resize(cfg.Pool.Increment, cfg.Pool.Max)
	if err != nil {
		logging.WarnWithContext(d.logger, "reload produced invalid pool bounds", "reload_failed",
			logging.Error(err),
			logging.String(logging.FieldImpact, "peer list updated, pool bounds unchanged"),
		)
	}
	d.registry.Store(reg)
	d.logger.Info("configuration reloaded",
		logging.String("source", source),
		logging.Int("peers", reg.Len()),
		logging.String("pool", params.String()),
	)
}

// watchConfig submits a reload whenever the config file is written or
// replaced. The directory is watched so editors that rename over the file
// are still seen.
func (d *Daemon) watchConfig() error {
	path := d.opts.ConfigPath
	if path == "" {
		return nil
	}
	if _, err := os.Stat(path); err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil
		}
		return err
	}
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	if err := watcher.Add(filepath.Dir(path)); err != nil {
		_ = watcher.Close()
		return err
	}
	d.watcher = watcher

	go func() {
		target := filepath.Clean(path)
		for {
			select {
			case event, ok := <-watcher.Events:
				if !ok {
					return
				}
				if filepath.Clean(event.Name) != target || event.Op&(fsnotify.Write|fsnotify.Create) == 0 {
					continue
				}
				d.logger.Debug("config file changed", logging.String("op", event.Op.String()))
				d.coord.Submit(signals.Request{Action: signals.Reload, Source: "config"})
			case err, ok := <-watcher.Errors:
				if !ok {
					return
				}
				d.logger.Debug("config watcher error", logging.Error(err))
			}
		}
	}()
	return nil
}
