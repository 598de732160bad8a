package journal

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/robfig/cron/v3"

	"shfd/internal/logging"
)

// Pruner removes old journal entries on a cron schedule.
type Pruner struct {
	store     *Store
	retention time.Duration
	logger    *slog.Logger
	cron      *cron.Cron
}

// NewPruner schedules pruning of entries older than retention. A zero
// retention keeps entries forever and the returned pruner does nothing.
func NewPruner(store *Store, schedule string, retention time.Duration, logger *slog.Logger) (*Pruner, error) {
	p := &Pruner{
		store:     store,
		retention: retention,
		logger:    logging.NewComponentLogger(logger, "journal"),
		cron:      cron.New(),
	}
	if retention <= 0 || schedule == "" {
		return p, nil
	}
	if _, err := p.cron.AddFunc(schedule, p.RunOnce); err != nil {
		return nil, fmt.Errorf("journal prune schedule %q: %w", schedule, err)
	}
	return p, nil
}

// Start begins the schedule.
func (p *Pruner) Start() {
	p.cron.Start()
}

// Stop halts the schedule and waits for a running prune to finish.
func (p *Pruner) Stop() {
	<-p.cron.Stop().Done()
}

// RunOnce prunes immediately.
func (p *Pruner) RunOnce() {
	if p.retention <= 0 {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	removed, err := p.store.Prune(ctx, time.Now().Add(-p.retention))
	if err != nil {
		logging.WarnWithContext(p.logger, "journal prune failed", "journal_prune_failed",
			logging.Error(err),
			logging.String(logging.FieldErrorHint, "check journal.path permissions and disk space"),
			logging.String(logging.FieldImpact, "journal keeps growing until the next successful prune"),
		)
		return
	}
	if removed > 0 {
		p.logger.Info("journal pruned", logging.Int64("removed", removed))
	}
}
