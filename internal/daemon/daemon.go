package daemon

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"os"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/gofrs/flock"
	"golang.org/x/sys/unix"

	"shfd/internal/config"
	"shfd/internal/journal"
	"shfd/internal/locktable"
	"shfd/internal/logging"
	"shfd/internal/metrics"
	"shfd/internal/netio"
	"shfd/internal/peers"
	"shfd/internal/pool"
	"shfd/internal/session"
	"shfd/internal/signals"
)

// Options carries what the daemon needs beyond the loaded config.
type Options struct {
	// ConfigPath is re-read on reload and watched for changes when the file exists.
	ConfigPath string
	// Overrides are re-applied on top of every reloaded config.
	Overrides config.Overrides
	Logger    *slog.Logger
}

// Daemon is one shfd instance. A Daemon runs once.
type Daemon struct {
	cfg    *config.Config
	opts   Options
	logger *slog.Logger

	lock     *flock.Flock
	locks    *locktable.Table
	registry atomic.Pointer[peers.Registry]
	pool     *pool.Pool
	monitor  *pool.Monitor
	coord    *signals.Coordinator
	metrics  *metrics.Metrics

	journal    *journal.Store
	pruner     *journal.Pruner
	metricsSrv *metrics.Server
	watcher    *fsnotify.Watcher

	files *session.FileServer
	admin *session.AdminServer

	adminLn net.Listener
	fileLn  net.Listener

	running  atomic.Bool
	stopping atomic.Bool
	ready    chan struct{}
	fatal    chan error
	wg       sync.WaitGroup
}

// New validates cfg and builds the in-memory components. Nothing is bound
// or locked until Run.
func New(cfg *config.Config, opts Options) (*Daemon, error) {
	if cfg == nil {
		return nil, errors.New("daemon requires a config")
	}
	d := &Daemon{
		cfg:     cfg,
		opts:    opts,
		logger:  logging.NewComponentLogger(opts.Logger, "daemon"),
		lock:    flock.New(cfg.LockFilePath()),
		locks:   locktable.New(cfg.Locks.Capacity),
		coord:   signals.NewCoordinator(opts.Logger),
		metrics: metrics.New(),
		ready:   make(chan struct{}),
		fatal:   make(chan error, 2),
	}

	reg, err := buildRegistry(cfg)
	if err != nil {
		return nil, err
	}
	d.registry.Store(reg)
	return d, nil
}

func buildRegistry(cfg *config.Config) (*peers.Registry, error) {
	list, err := peers.ParseList(cfg.Peers.Addresses)
	if err != nil {
		return nil, err
	}
	return peers.NewRegistry(cfg.Server.Advertise, list, cfg.Peers.Capacity)
}

// Ready is closed once both listeners accept connections.
func (d *Daemon) Ready() <-chan struct{} {
	return d.ready
}

// AdminAddr returns the bound admin address, or nil before Ready.
func (d *Daemon) AdminAddr() net.Addr {
	if d.adminLn == nil {
		return nil
	}
	return d.adminLn.Addr()
}

// FileAddr returns the bound file-channel address, or nil before Ready.
func (d *Daemon) FileAddr() net.Addr {
	if d.fileLn == nil {
		return nil
	}
	return d.fileLn.Addr()
}

// Registry returns the current peer registry snapshot.
func (d *Daemon) Registry() *peers.Registry {
	return d.registry.Load()
}

// Stats returns the worker pool parameters; zero before Run.
func (d *Daemon) Stats() pool.Params {
	if d.pool == nil {
		return pool.Params{}
	}
	return d.pool.Stats()
}

// Locks returns the resource lock table.
func (d *Daemon) Locks() *locktable.Table {
	return d.locks
}

// Run starts every component and blocks until a shutdown request, ctx
// cancellation or a fatal accept error. Shutdown is graceful in all cases.
func (d *Daemon) Run(ctx context.Context) error {
	if !d.running.CompareAndSwap(false, true) {
		return stageErr(StageInit, errors.New("daemon already running"))
	}

	if err := d.acquire(); err != nil {
		return stageErr(StageInit, err)
	}
	defer d.release()

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	if err := d.build(runCtx); err != nil {
		d.closeSupport()
		return err
	}
	defer d.closeSupport()

	if err := d.coord.Start(runCtx); err != nil {
		return stageErr(StageSignals, err)
	}
	defer d.coord.Stop()

	if err := d.listen(runCtx); err != nil {
		return err
	}

	if err := d.pool.Start(runCtx); err != nil {
		d.closeListeners()
		return stageErr(StageSpawn, err)
	}

	d.startSupport()
	d.wg.Add(3)
	go func() {
		defer d.wg.Done()
		d.monitor.Run(runCtx)
	}()
	go d.acceptFiles()
	go d.acceptAdmin(runCtx)
	close(d.ready)

	d.logger.Info("shfd started",
		logging.String("admin", d.adminLn.Addr().String()),
		logging.String("files", d.fileLn.Addr().String()),
		logging.String("advertise", d.cfg.Server.Advertise),
		logging.Int("peers", d.Registry().Len()),
		logging.String("pool", d.pool.Stats().String()),
	)

	runErr := d.loop(ctx)
	d.shutdown(cancel)
	return runErr
}

func (d *Daemon) loop(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			d.logger.Info("context cancelled, shutting down")
			return nil
		case err := <-d.fatal:
			logging.ErrorWithContext(d.logger, "accept loop failed", "accept_failed",
				logging.Error(err),
				logging.String(logging.FieldImpact, "daemon is shutting down"),
			)
			return stageErr(StageAccept, err)
		case req := <-d.coord.Requests():
			switch req.Action {
			case signals.Shutdown:
				d.logger.Info("shutdown requested", logging.String("source", req.Source))
				return nil
			case signals.Reload:
				d.reload(req.Source)
			}
		}
	}
}

// acquire takes the single-instance lock, records the PID and checks the served tree.
func (d *Daemon) acquire() error {
	if err := d.cfg.EnsureDirectories(); err != nil {
		return err
	}
	ok, err := d.lock.TryLock()
	if err != nil {
		return fmt.Errorf("acquire lock: %w", err)
	}
	if !ok {
		return fmt.Errorf("another shfd instance is using %s", d.cfg.Server.StateDir)
	}
	if err := unix.Access(d.cfg.Files.Root, unix.R_OK|unix.W_OK|unix.X_OK); err != nil {
		_ = d.lock.Unlock()
		return fmt.Errorf("files.root %s is not accessible: %w", d.cfg.Files.Root, err)
	}
	if err := os.WriteFile(d.cfg.PIDFilePath(), []byte(strconv.Itoa(os.Getpid())+"\n"), 0o644); err != nil {
		_ = d.lock.Unlock()
		return fmt.Errorf("write pid file: %w", err)
	}
	return nil
}

func (d *Daemon) release() {
	if err := os.Remove(d.cfg.PIDFilePath()); err != nil && !errors.Is(err, os.ErrNotExist) {
		d.logger.Debug("pid file removal failed", logging.Error(err))
	}
	if err := d.lock.Unlock(); err != nil {
		logging.WarnWithContext(d.logger, "failed to release daemon lock", "lock_release_failed",
			logging.Error(err),
			logging.String(logging.FieldImpact, "the next start may report another instance"),
		)
	}
}

// build creates the journal, pool, monitor and session handlers.
func (d *Daemon) build(ctx context.Context) error {
	var recorder journal.Recorder = journal.Nop{}
	var reader session.JournalReader
	if d.cfg.Journal.Enabled {
		store, err := journal.Open(d.cfg.Journal.Path)
		if err != nil {
			return stageErr(StageInit, err)
		}
		d.journal = store
		recorder, reader = store, store
		pruner, err := journal.NewPruner(store, d.cfg.Journal.PruneSchedule, d.cfg.JournalRetention(), d.opts.Logger)
		if err != nil {
			return stageErr(StageInit, err)
		}
		d.pruner = pruner
	}

	files, err := session.NewFileServer(session.FileOptions{
		Locks:       d.locks,
		Registry:    d.Registry,
		Forwarder:   peers.NewForwarder(d.cfg.Server.Advertise, d.cfg.PeerDialTimeout(), d.opts.Logger),
		Journal:     recorder,
		Observer:    d.metrics,
		Root:        d.cfg.Files.Root,
		ReadTimeout: d.cfg.SessionTimeout(),
		LockTimeout: d.cfg.LockTimeout(),
		Delay:       d.cfg.FileDelay(),
		Verbose:     d.cfg.Files.Verbose,
		Logger:      d.opts.Logger,
	})
	if err != nil {
		return stageErr(StageInit, err)
	}
	d.files = files

	p, err := pool.New(pool.Options{
		Increment: d.cfg.Pool.Increment,
		Min:       d.cfg.PoolFloor(),
		Max:       d.cfg.Pool.Max,
		Handler:   files.Serve,
		Logger:    d.opts.Logger,
		Observer:  d.metrics,
	})
	if err != nil {
		return stageErr(StageInit, err)
	}
	d.pool = p
	d.monitor = pool.NewMonitor(p, d.cfg.MonitorInterval(), d.cfg.Pool.ShrinkAfter, d.opts.Logger)
	d.metrics.Watch(p.Stats, d.locks.Len)

	admin, err := session.NewAdminServer(session.AdminOptions{
		Pool:        p,
		Locks:       d.locks,
		Registry:    d.Registry,
		Journal:     reader,
		Requests:    d.coord,
		ReadTimeout: d.cfg.AdminSessionTimeout(),
		Logger:      d.opts.Logger,
	})
	if err != nil {
		return stageErr(StageInit, err)
	}
	d.admin = admin
	return nil
}

func (d *Daemon) listen(ctx context.Context) error {
	adminLn, err := netio.Listen(ctx, "127.0.0.1", d.cfg.Server.AdminPort)
	if err != nil {
		return stageErr(StageListen, fmt.Errorf("admin listener: %w", err))
	}
	fileLn, err := netio.Listen(ctx, d.cfg.Server.FileHost, d.cfg.Server.FilePort)
	if err != nil {
		_ = adminLn.Close()
		return stageErr(StageListen, fmt.Errorf("file listener: %w", err))
	}
	d.adminLn, d.fileLn = adminLn, fileLn
	return nil
}

// startSupport starts the optional journal pruner, metrics endpoint and config watcher.
// Failures here are logged; the daemon keeps serving without them.
func (d *Daemon) startSupport() {
	if d.pruner != nil {
		d.pruner.Start()
	}
	if bind := d.cfg.Metrics.Bind; bind != "" {
		srv, err := d.metrics.Serve(bind, d.opts.Logger)
		if err != nil {
			logging.WarnWithContext(d.logger, "metrics endpoint unavailable", "metrics_listen_failed",
				logging.Error(err),
				logging.String(logging.FieldErrorHint, "check metrics.bind"),
				logging.String(logging.FieldImpact, "metrics are not exported"),
			)
		} else {
			d.metricsSrv = srv
		}
	}
	if err := d.watchConfig(); err != nil {
		logging.WarnWithContext(d.logger, "config watcher unavailable", "config_watch_failed",
			logging.Error(err),
			logging.String(logging.FieldImpact, "config edits need SIGHUP or the admin RELOAD command"),
		)
	}
}

func (d *Daemon) closeSupport() {
	if d.watcher != nil {
		_ = d.watcher.Close()
	}
	if d.metricsSrv != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		_ = d.metricsSrv.Close(ctx)
		cancel()
	}
	if d.pruner != nil {
		d.pruner.Stop()
	}
	if d.journal != nil {
		if err := d.journal.Close(); err != nil {
			d.logger.Debug("journal close failed", logging.Error(err))
		}
	}
}

func (d *Daemon) closeListeners() {
	d.stopping.Store(true)
	if d.adminLn != nil {
		_ = d.adminLn.Close()
	}
	if d.fileLn != nil {
		_ = d.fileLn.Close()
	}
}

// reapTimeout bounds the wait for cancelled sessions after the grace period.
const reapTimeout = 2 * time.Second

// shutdown stops accepting, gives busy workers the grace period, then
// cancels whatever is still running.
func (d *Daemon) shutdown(cancel context.CancelFunc) {
	d.closeListeners()

	grace := d.cfg.Grace()
	graceCtx, graceCancel := context.WithTimeout(context.Background(), grace)
	err := d.pool.Drain(graceCtx)
	graceCancel()
	if err != nil {
		logging.WarnWithContext(d.logger, "grace period expired with busy workers", "shutdown_grace_expired",
			logging.Duration("grace", grace),
			logging.String("pool", d.pool.Stats().String()),
			logging.String(logging.FieldImpact, "remaining sessions are closed"),
		)
	}
	cancel()
	if err != nil {
		// Cancelled sessions unwind their locks and journal writes before cleanup runs.
		reapCtx, reapCancel := context.WithTimeout(context.Background(), reapTimeout)
		if rerr := d.pool.Drain(reapCtx); rerr != nil {
			logging.WarnWithContext(d.logger, "workers still running after cancellation", "shutdown_reap_expired",
				logging.Duration("timeout", reapTimeout),
				logging.String("pool", d.pool.Stats().String()),
				logging.String(logging.FieldImpact, "journal and lock file are released with sessions still unwinding"),
			)
		}
		reapCancel()
	}
	d.wg.Wait()

	if n := d.locks.Len(); n > 0 {
		d.logger.Debug("locks outstanding at exit", logging.Int("count", n))
	}
	d.logger.Info("shfd stopped")
}
