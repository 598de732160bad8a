package pool

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"runtime/debug"
	"sync"
	"time"

	"shfd/internal/logging"
)

var (
	// ErrSaturated is returned by Submit when every worker is busy and the pool is at its ceiling.
	ErrSaturated = errors.New("worker pool saturated")
	// ErrClosed is returned by Submit once Drain has started.
	ErrClosed = errors.New("worker pool closed")
	// ErrInvalidParams is returned for non-positive increments or ceilings.
	ErrInvalidParams = errors.New("invalid pool parameters")
)

// Handler serves one connection to completion. The pool closes conn afterwards.
type Handler func(ctx context.Context, conn net.Conn)

// Observer receives pool events, typically for metrics.
type Observer interface {
	ObserveSubmit(accepted bool)
	ObserveResize(delta int)
}

type state int

const (
	stateIdle state = iota
	stateBusy
	stateTerminating
)

func (s state) String() string {
	switch s {
	case stateIdle:
		return "idle"
	case stateBusy:
		return "busy"
	default:
		return "terminating"
	}
}

type worker struct {
	id    int
	state state
	jobs  chan net.Conn
}

// Options configures a Pool.
type Options struct {
	Increment int
	// Min is the floor that Shrink and the monitor never go below.
	Min     int
	Max     int
	Handler Handler
	Logger  *slog.Logger
	// Spawn starts a worker loop. Defaults to a new goroutine; tests inject failures.
	Spawn    func(run func()) error
	Observer Observer
	// RejectLogInterval throttles saturation warnings.
	RejectLogInterval time.Duration
}

// Pool is a bounded, growable set of worker goroutines fed by Submit.
// Pool parameters are guarded by the pool's own mutex.
type Pool struct {
	mu        sync.Mutex
	increment int
	min       int
	// max is the effective ceiling. After Resize lowers the ceiling below the
	// busy workers, max tracks the live total until they finish and reaches ceiling.
	max       int
	ceiling   int
	active    int
	nextID    int
	workers   map[int]*worker
	idle      []*worker
	closed    bool

	ctx       context.Context
	handler   Handler
	logger    *slog.Logger
	spawn     func(run func()) error
	observer  Observer
	sampler   *logging.Sampler
	pressure  chan struct{}
	drained   chan struct{}
	drainOnce sync.Once
}

// New validates opts and returns an empty pool. Call Start to create the initial workers.
func New(opts Options) (*Pool, error) {
	if opts.Increment <= 0 || opts.Max <= 0 || opts.Min < 0 || opts.Min > opts.Max {
		return nil, fmt.Errorf("%w: increment=%d min=%d max=%d", ErrInvalidParams, opts.Increment, opts.Min, opts.Max)
	}
	if opts.Handler == nil {
		return nil, errors.New("pool handler is required")
	}
	spawn := opts.Spawn
	if spawn == nil {
		spawn = func(run func()) error {
			go run()
			return nil
		}
	}
	interval := opts.RejectLogInterval
	if interval <= 0 {
		interval = 5 * time.Second
	}
	return &Pool{
		increment: opts.Increment,
		min:       opts.Min,
		max:       opts.Max,
		ceiling:   opts.Max,
		workers:   make(map[int]*worker),
		ctx:       context.Background(),
		handler:   opts.Handler,
		logger:    logging.NewComponentLogger(opts.Logger, "pool"),
		spawn:     spawn,
		observer:  opts.Observer,
		sampler:   logging.NewSampler(interval),
		pressure:  make(chan struct{}, 1),
		drained:   make(chan struct{}),
	}, nil
}

// Start binds handlers to ctx and spawns the floor number of workers.
func (p *Pool) Start(ctx context.Context) error {
	p.mu.Lock()
	p.ctx = ctx
	want := p.min - len(p.workers)
	added := p.growLocked(want)
	p.mu.Unlock()
	p.observeResize(added)
	if added < want {
		return fmt.Errorf("spawn initial workers: started %d of %d", added, want)
	}
	p.logger.Debug("pool started", logging.Int("workers", added))
	return nil
}

// Submit hands conn to the longest-idle worker. When none is idle the pool
// grows by one increment if below its ceiling; otherwise it fails fast with
// ErrSaturated and the caller owns conn.
func (p *Pool) Submit(conn net.Conn) error {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return ErrClosed
	}
	w := p.takeIdle()
	grown := 0
	if w == nil && len(p.workers) < p.ceiling {
		grown = p.growLocked(p.increment)
		w = p.takeIdle()
	}
	if w == nil {
		stats := p.paramsLocked()
		p.mu.Unlock()
		p.observeResize(grown)
		p.rejected(stats)
		return ErrSaturated
	}
	p.setState(w, stateBusy)
	p.active++
	saturated := p.active == len(p.workers)
	p.mu.Unlock()

	w.jobs <- conn
	p.observeResize(grown)
	if p.observer != nil {
		p.observer.ObserveSubmit(true)
	}
	if saturated {
		p.notifyPressure()
	}
	return nil
}

func (p *Pool) rejected(stats Params) {
	if p.observer != nil {
		p.observer.ObserveSubmit(false)
	}
	p.notifyPressure()
	if ok, dropped := p.sampler.Allow(); ok {
		logging.WarnWithContext(p.logger, "pool saturated, rejecting connection", "pool_saturated",
			logging.Int("active", stats.Active),
			logging.Int("total", stats.Total),
			logging.Int("max", stats.Max),
			logging.Int64("suppressed", dropped),
			logging.String(logging.FieldErrorHint, "raise pool.max or run SET MAX on the admin channel"),
			logging.String(logging.FieldImpact, "client received EAGAIN"),
		)
	}
}

// Grow adds up to n idle workers without exceeding the ceiling and returns how many started.
func (p *Pool) Grow(n int) int {
	p.mu.Lock()
	added := 0
	if !p.closed {
		added = p.growLocked(n)
	}
	p.mu.Unlock()
	p.observeResize(added)
	return added
}

func (p *Pool) growLocked(n int) int {
	added := 0
	for added < n && len(p.workers) < p.ceiling {
		p.nextID++
		w := &worker{id: p.nextID, state: stateIdle, jobs: make(chan net.Conn, 1)}
		if err := p.spawn(func() { p.run(w) }); err != nil {
			logging.WarnWithContext(p.logger, "worker spawn failed", "worker_spawn_failed",
				logging.Error(err),
				logging.Int("total", len(p.workers)),
				logging.String(logging.FieldErrorHint, "check process limits"),
				logging.String(logging.FieldImpact, "pool keeps its current size"),
			)
			break
		}
		p.workers[w.id] = w
		p.idle = append(p.idle, w)
		added++
	}
	return added
}

// Shrink terminates up to n idle workers, never going below the floor and
// never touching a busy worker. It returns how many were removed.
func (p *Pool) Shrink(n int) int {
	p.mu.Lock()
	removed := 0
	for removed < n && len(p.workers) > p.min && len(p.idle) > 0 {
		p.terminateLocked(p.takeIdle())
		removed++
	}
	p.settleLocked()
	p.mu.Unlock()
	p.observeResize(-removed)
	return removed
}

// Resize replaces the growth step and ceiling. Idle workers above the new
// ceiling stop immediately. Busy ones stop when they finish, and until then
// the reported Max stays at the live total so Total never exceeds it.
func (p *Pool) Resize(increment, max int) (Params, error) {
	if increment <= 0 || max <= 0 {
		return p.Stats(), fmt.Errorf("%w: increment=%d max=%d", ErrInvalidParams, increment, max)
	}
	p.mu.Lock()
	p.increment = increment
	p.ceiling = max
	if p.min > max {
		p.min = max
	}
	removed := 0
	for len(p.workers) > p.ceiling && len(p.idle) > 0 {
		p.terminateLocked(p.takeIdle())
		removed++
	}
	p.settleLocked()
	stats := p.paramsLocked()
	p.mu.Unlock()
	p.observeResize(-removed)
	if stats.Max > max {
		p.logger.Info("pool ceiling lowers as busy workers finish",
			logging.Int("target_max", max),
			logging.String("params", stats.String()),
		)
	} else {
		p.logger.Info("pool resized", logging.String("params", stats.String()))
	}
	return stats, nil
}

// settleLocked moves the effective ceiling toward the requested one without
// dropping below the workers that still exist.
func (p *Pool) settleLocked() {
	p.max = max(p.ceiling, len(p.workers))
}

// setState records a worker transition.
func (p *Pool) setState(w *worker, next state) {
	if w.state != next {
		p.logger.Debug("worker state",
			logging.Int("worker", w.id),
			logging.String("from", w.state.String()),
			logging.String("to", next.String()),
		)
	}
	w.state = next
}

// Stats returns a consistent snapshot of the pool parameters.
func (p *Pool) Stats() Params {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.paramsLocked()
}

func (p *Pool) paramsLocked() Params {
	return Params{
		Increment: p.increment,
		Min:       p.min,
		Active:    p.active,
		Total:     len(p.workers),
		Max:       p.max,
	}
}

// Pressure delivers a notification whenever the pool saturates or rejects work.
func (p *Pool) Pressure() <-chan struct{} {
	return p.pressure
}

func (p *Pool) notifyPressure() {
	select {
	case p.pressure <- struct{}{}:
	default:
	}
}

// Drain stops accepting work, retires idle workers and waits for busy ones
// until ctx is done.
func (p *Pool) Drain(ctx context.Context) error {
	p.mu.Lock()
	p.closed = true
	for len(p.idle) > 0 {
		p.terminateLocked(p.takeIdle())
	}
	if p.active == 0 {
		p.closeDrained()
	}
	busy := p.active
	p.mu.Unlock()

	if busy > 0 {
		p.logger.Info("waiting for busy workers", logging.Int("active", busy))
	}
	select {
	case <-p.drained:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (p *Pool) closeDrained() {
	p.drainOnce.Do(func() { close(p.drained) })
}

func (p *Pool) takeIdle() *worker {
	if len(p.idle) == 0 {
		return nil
	}
	w := p.idle[0]
	p.idle[0] = nil
	p.idle = p.idle[1:]
	return w
}

func (p *Pool) terminateLocked(w *worker) {
	p.setState(w, stateTerminating)
	delete(p.workers, w.id)
	close(w.jobs)
}

func (p *Pool) run(w *worker) {
	for conn := range w.jobs {
		p.serve(w, conn)
		if !p.finish(w) {
			return
		}
	}
}

func (p *Pool) serve(w *worker, conn net.Conn) {
	defer conn.Close()
	defer func() {
		if r := recover(); r != nil {
			logging.ErrorWithContext(p.logger, "session handler panicked", "worker_panic",
				logging.Int("worker", w.id),
				logging.Any("panic", r),
				logging.String("stack", string(debug.Stack())),
			)
		}
	}()
	p.handler(p.ctx, conn)
}

// finish returns the worker to the idle list, or retires it when the pool is
// draining or above its ceiling. It reports whether the worker should keep running.
func (p *Pool) finish(w *worker) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.active--
	if p.closed || len(p.workers) > p.ceiling {
		p.terminateLocked(w)
		p.settleLocked()
		if p.closed && p.active == 0 {
			p.closeDrained()
		}
		return false
	}
	p.setState(w, stateIdle)
	p.idle = append(p.idle, w)
	return true
}

func (p *Pool) observeResize(delta int) {
	if p.observer != nil && delta != 0 {
		p.observer.ObserveResize(delta)
	}
}
