package signals

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"os/signal"
	"sync"
	"sync/atomic"
	"syscall"

	"golang.org/x/sys/unix"

	"shfd/internal/logging"
)

// Action is what the daemon should do in response to a request.
type Action int

const (
	Ignore Action = iota
	Shutdown
	Reload
	Reap
)

func (a Action) String() string {
	switch a {
	case Shutdown:
		return "shutdown"
	case Reload:
		return "reload"
	case Reap:
		return "reap"
	default:
		return "ignore"
	}
}

// Request is a pending shutdown or reload. Signal is nil for requests that
// did not originate from the OS.
type Request struct {
	Action Action
	Signal os.Signal
	Source string
}

// ErrAlreadyStarted is returned by a second call to Start.
var ErrAlreadyStarted = errors.New("signal coordinator already started")

// Watched lists the signals the coordinator takes over.
var Watched = []os.Signal{
	syscall.SIGINT,
	syscall.SIGTERM,
	syscall.SIGALRM,
	syscall.SIGABRT,
	syscall.SIGPIPE,
	syscall.SIGCHLD,
	syscall.SIGHUP,
	syscall.SIGQUIT,
}

// Classify maps a signal to its action.
func Classify(sig os.Signal) Action {
	switch sig {
	case syscall.SIGINT, syscall.SIGTERM, syscall.SIGQUIT:
		return Shutdown
	case syscall.SIGHUP:
		return Reload
	case syscall.SIGCHLD:
		return Reap
	default:
		return Ignore
	}
}

// Coordinator is the single owner of signal delivery.
type Coordinator struct {
	logger   *slog.Logger
	signals  chan os.Signal
	requests chan Request
	started  atomic.Bool
	done     chan struct{}
	stopped  chan struct{}
	stopOnce sync.Once
	reap     func() int
}

// NewCoordinator creates an idle coordinator.
func NewCoordinator(logger *slog.Logger) *Coordinator {
	return &Coordinator{
		logger:   logging.NewComponentLogger(logger, "signals"),
		signals:  make(chan os.Signal, len(Watched)),
		requests: make(chan Request, 8),
		done:     make(chan struct{}),
		stopped:  make(chan struct{}),
		reap:     reapChildren,
	}
}

// Start installs signal handling and runs the coordinator until ctx is done or Stop is called.
func (c *Coordinator) Start(ctx context.Context) error {
	if !c.started.CompareAndSwap(false, true) {
		return ErrAlreadyStarted
	}
	signal.Notify(c.signals, Watched...)
	go c.loop(ctx)
	return nil
}

// Requests delivers shutdown and reload requests.
func (c *Coordinator) Requests() <-chan Request {
	return c.requests
}

// Submit injects a request from a non-signal source. It reports false once
// the coordinator is stopped.
func (c *Coordinator) Submit(req Request) bool {
	select {
	case <-c.done:
		return false
	default:
	}
	select {
	case c.requests <- req:
		return true
	case <-c.done:
		return false
	}
}

// Stop restores default signal handling and waits for the loop to exit.
func (c *Coordinator) Stop() {
	c.stopOnce.Do(func() {
		signal.Stop(c.signals)
		close(c.done)
		if c.started.Load() {
			<-c.stopped
		}
	})
}

func (c *Coordinator) loop(ctx context.Context) {
	defer close(c.stopped)
	for {
		select {
		case <-ctx.Done():
			return
		case <-c.done:
			return
		case sig := <-c.signals:
			c.handle(sig)
		}
	}
}

func (c *Coordinator) handle(sig os.Signal) {
	action := Classify(sig)
	switch action {
	case Reap:
		if n := c.reap(); n > 0 {
			c.logger.Debug("reaped child processes", logging.Int("count", n))
		}
	case Ignore:
		c.logger.Info("ignoring signal", logging.String(logging.FieldSignal, sig.String()))
	default:
		c.logger.Info("signal received",
			logging.String(logging.FieldSignal, sig.String()),
			logging.String("action", action.String()),
		)
		c.Submit(Request{Action: action, Signal: sig, Source: "signal"})
	}
}

func reapChildren() int {
	reaped := 0
	for {
		var status unix.WaitStatus
		pid, err := unix.Wait4(-1, &status, unix.WNOHANG, nil)
		if err != nil || pid <= 0 {
			return reaped
		}
		reaped++
	}
}
