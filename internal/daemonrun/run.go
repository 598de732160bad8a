package daemonrun

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"runtime"

	"shfd/internal/config"
	"shfd/internal/daemon"
	"shfd/internal/logging"
)

// Options configures daemon process runtime behavior.
type Options struct {
	ConfigPath  string
	Overrides   config.Overrides
	Development bool
	// Writer receives console log output; defaults to stdout.
	Writer io.Writer
}

// Run builds the process logger and runs the daemon until it shuts down.
// Errors are *daemon.StageError values suitable for daemon.ExitCode.
func Run(ctx context.Context, cfg *config.Config, opts Options) error {
	if cfg == nil {
		return &daemon.StageError{Stage: daemon.StageInit, Err: fmt.Errorf("config is required")}
	}

	logger, err := logging.New(logging.Options{
		Level:       cfg.Logging.Level,
		Format:      cfg.Logging.Format,
		Writer:      opts.Writer,
		File:        cfg.Logging.File,
		MaxSizeMB:   cfg.Logging.MaxSizeMB,
		MaxBackups:  cfg.Logging.MaxBackups,
		MaxAgeDays:  cfg.Logging.MaxAgeDays,
		Development: opts.Development,
	})
	if err != nil {
		return &daemon.StageError{Stage: daemon.StageInit, Err: fmt.Errorf("init logger: %w", err)}
	}

	logConfigSnapshot(logger, cfg, opts.ConfigPath)

	d, err := daemon.New(cfg, daemon.Options{
		ConfigPath: opts.ConfigPath,
		Overrides:  opts.Overrides,
		Logger:     logger,
	})
	if err != nil {
		return &daemon.StageError{Stage: daemon.StageInit, Err: fmt.Errorf("create daemon: %w", err)}
	}

	if err := d.Run(ctx); err != nil {
		logging.ErrorWithContext(logger, "daemon exited with error", "daemon_failed",
			logging.Error(err),
			logging.Int("exit_code", daemon.ExitCode(err)),
			logging.String(logging.FieldErrorHint, "check ports, state_dir and files.root"),
		)
		return err
	}
	return nil
}

func logConfigSnapshot(logger *slog.Logger, cfg *config.Config, path string) {
	logger.Info("configuration snapshot",
		logging.String(logging.FieldEventType, "config_snapshot"),
		logging.String("config_path", path),
		logging.Int("admin_port", cfg.Server.AdminPort),
		logging.Int("file_port", cfg.Server.FilePort),
		logging.String("advertise", cfg.Server.Advertise),
		logging.String("files_root", cfg.Files.Root),
		logging.Int("peers", len(cfg.Peers.Addresses)),
		logging.Int("pool_increment", cfg.Pool.Increment),
		logging.Int("pool_max", cfg.Pool.Max),
		logging.Bool("journal", cfg.Journal.Enabled),
		logging.Bool("delay", cfg.Files.DelayEnabled),
		logging.Int("gomaxprocs", runtime.GOMAXPROCS(0)),
	)
}
