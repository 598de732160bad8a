package pool

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"shfd/internal/logging"
)

// Action is the outcome of one monitor cycle.
type Action string

const (
	ActionHold   Action = "hold"
	ActionGrow   Action = "grow"
	ActionShrink Action = "shrink"
)

// Monitor resizes a Pool from a single control loop.
type Monitor struct {
	pool        *Pool
	interval    time.Duration
	shrinkAfter int
	logger      *slog.Logger

	mu        sync.Mutex
	lowCycles int
}

// NewMonitor builds a monitor that evaluates every interval and shrinks after
// shrinkAfter consecutive low-utilization cycles.
func NewMonitor(p *Pool, interval time.Duration, shrinkAfter int, logger *slog.Logger) *Monitor {
	if interval <= 0 {
		interval = time.Second
	}
	if shrinkAfter <= 0 {
		shrinkAfter = 1
	}
	return &Monitor{
		pool:        p,
		interval:    interval,
		shrinkAfter: shrinkAfter,
		logger:      logging.NewComponentLogger(logger, "monitor"),
	}
}

// Run evaluates on every tick and on pool pressure until ctx is done.
func (m *Monitor) Run(ctx context.Context) {
	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.Evaluate()
		case <-m.pool.Pressure():
			m.Evaluate()
		}
	}
}

// Evaluate runs one resize cycle. Cycles are serialized.
func (m *Monitor) Evaluate() Action {
	m.mu.Lock()
	defer m.mu.Unlock()

	s := m.pool.Stats()
	switch {
	case s.Total < s.Min:
		m.lowCycles = 0
		added := m.pool.Grow(s.Min - s.Total)
		m.logResize(ActionGrow, added, s)
		return ActionGrow
	case s.Active == s.Total && s.Total < s.Max:
		m.lowCycles = 0
		added := m.pool.Grow(s.Increment)
		m.logResize(ActionGrow, added, s)
		return ActionGrow
	case s.Idle() > s.Increment && s.Total > s.Min:
		m.lowCycles++
		if m.lowCycles < m.shrinkAfter {
			return ActionHold
		}
		m.lowCycles = 0
		removed := m.pool.Shrink(s.Increment)
		m.logResize(ActionShrink, removed, s)
		return ActionShrink
	default:
		m.lowCycles = 0
		return ActionHold
	}
}

func (m *Monitor) logResize(action Action, n int, before Params) {
	if n == 0 {
		m.logger.Debug("resize had no effect", logging.String("action", string(action)), logging.String("params", before.String()))
		return
	}
	m.logger.Info("pool resized",
		logging.String("action", string(action)),
		logging.Int("workers", n),
		logging.Int("total_before", before.Total),
		logging.Int("active", before.Active),
	)
}
